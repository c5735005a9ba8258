package common

import (
	"fmt"
	"sort"

	"github.com/grafana/xk6-compositor/resource"
)

// AnimationState is reported by content when its animations start or stop.
type AnimationState int

// Animation state changes.
const (
	AnimationsPresent AnimationState = iota
	AnimationCallbacksPresent
	NoAnimationsPresent
	NoAnimationCallbacksPresent
)

var animationStateToString = map[AnimationState]string{
	AnimationsPresent:           "animations-present",
	AnimationCallbacksPresent:   "animation-callbacks-present",
	NoAnimationsPresent:         "no-animations-present",
	NoAnimationCallbacksPresent: "no-animation-callbacks-present",
}

func (s AnimationState) String() string {
	if v, ok := animationStateToString[s]; ok {
		return v
	}
	return fmt.Sprintf("AnimationState(%d)", int(s))
}

// ParseAnimationState is the inverse of AnimationState.String.
func ParseAnimationState(v string) (AnimationState, error) {
	for s, name := range animationStateToString {
		if name == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown animation state %q", v)
}

// pipelineDetails is everything the compositor knows about one pipeline.
type pipelineDetails struct {
	id     PipelineID
	parent *PipelineID
	handle *PipelineHandle

	mostRecentEpoch Epoch
	hasDisplayList  bool

	animationsRunning         bool
	animationCallbacksRunning bool
	throttled                 bool
	// pressureThrottled marks throttling applied by memory pressure so
	// that it can be undone without touching content's own request.
	pressureThrottled bool

	firstPaint           PaintMetricState
	firstContentfulPaint PaintMetricState

	hitTestItems []HitTestItem
	scrollTree   *ScrollTree
	resources    resource.Ledger
}

func newPipelineDetails(id PipelineID) *pipelineDetails {
	return &pipelineDetails{id: id, scrollTree: &ScrollTree{}}
}

func (d *pipelineDetails) webView() WebViewID {
	if d.handle == nil {
		return ""
	}
	return d.handle.WebView
}

func (d *pipelineDetails) animating() bool {
	return !d.throttled && (d.animationsRunning || d.animationCallbacksRunning)
}

func (d *pipelineDetails) setAnimationState(s AnimationState) {
	switch s {
	case AnimationsPresent:
		d.animationsRunning = true
	case AnimationCallbacksPresent:
		d.animationCallbacksRunning = true
	case NoAnimationsPresent:
		d.animationsRunning = false
	case NoAnimationCallbacksPresent:
		d.animationCallbacksRunning = false
	}
}

// registry is the set of live pipelines and webviews.
type registry struct {
	pipelines map[PipelineID]*pipelineDetails
	webViews  map[WebViewID]PipelineID
}

func newRegistry() registry {
	return registry{
		pipelines: make(map[PipelineID]*pipelineDetails),
		webViews:  make(map[WebViewID]PipelineID),
	}
}

// sortedIDs returns pipeline ids in a stable order.
func (r *registry) sortedIDs() []PipelineID {
	ids := make([]PipelineID, 0, len(r.pipelines))
	for id := range r.pipelines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// depth counts parents up to the root, stopping on cycles.
func (r *registry) depth(id PipelineID) int {
	d := 0
	seen := map[PipelineID]bool{id: true}
	for {
		p, ok := r.pipelines[id]
		if !ok || p.parent == nil || seen[*p.parent] {
			return d
		}
		id = *p.parent
		seen[id] = true
		d++
	}
}

// descendants returns id's children, grandchildren and so on.
func (r *registry) descendants(id PipelineID) []PipelineID {
	var out []PipelineID
	queue := []PipelineID{id}
	seen := map[PipelineID]bool{id: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, cid := range r.sortedIDs() {
			c := r.pipelines[cid]
			if c.parent != nil && *c.parent == cur && !seen[cid] {
				seen[cid] = true
				out = append(out, cid)
				queue = append(queue, cid)
			}
		}
	}
	return out
}

func (r *registry) isRoot(id PipelineID) bool {
	for _, pid := range r.webViews {
		if pid == id {
			return true
		}
	}
	return false
}
