package compositor

import (
	"context"
	"sync"
	"time"

	"go.k6.io/k6/stats"

	"github.com/grafana/xk6-compositor/common"
	"github.com/grafana/xk6-compositor/k6ext"
	"github.com/grafana/xk6-compositor/memory"
)

// meteringConstellation turns compositor notifications into k6 samples and
// forwards them to the event constellation that CDP sessions listen on.
type meteringConstellation struct {
	ctx     context.Context
	metrics *k6ext.CustomMetrics
	events  *common.EventConstellation
	tags    map[string]string
	start   time.Time

	mu       sync.Mutex
	attached map[common.PipelineID]time.Time
	paints   []common.PaintMetricEvent
	ticks    int
}

var (
	_ common.Constellation         = (*meteringConstellation)(nil)
	_ common.MemoryPressureHandler = (*meteringConstellation)(nil)
)

func newMeteringConstellation(
	ctx context.Context, metrics *k6ext.CustomMetrics, events *common.EventConstellation, tags map[string]string,
) *meteringConstellation {
	return &meteringConstellation{
		ctx:      ctx,
		metrics:  metrics,
		events:   events,
		tags:     tags,
		start:    time.Now(),
		attached: make(map[common.PipelineID]time.Time),
	}
}

// noteAttach records when a pipeline started loading. Paint metrics are
// measured from there.
func (m *meteringConstellation) noteAttach(id common.PipelineID, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attached[id] = t
}

// PaintMetric pushes the time from attach to the paint.
func (m *meteringConstellation) PaintMetric(ev common.PaintMetricEvent) {
	m.mu.Lock()
	started, ok := m.attached[ev.Pipeline]
	if !ok {
		started = m.start
	}
	m.paints = append(m.paints, ev)
	m.mu.Unlock()

	metric := m.metrics.FirstPaint
	if ev.Kind == common.FirstContentfulPaint {
		metric = m.metrics.FirstContentfulPaint
	}
	tags := m.sampleTags()
	if ev.WebView != "" {
		tags["webview"] = string(ev.WebView)
	}
	value := float64(ev.Time.Sub(started)) / float64(time.Millisecond)
	k6ext.PushSample(m.ctx, k6ext.NewSample(metric, ev.Time, value, tags))

	if m.events != nil {
		m.events.PaintMetric(ev)
	}
}

func (m *meteringConstellation) AnimationTick(id common.PipelineID, typ common.AnimationTickType) {
	m.mu.Lock()
	m.ticks++
	m.mu.Unlock()

	if m.events != nil {
		m.events.AnimationTick(id, typ)
	}
}

func (m *meteringConstellation) ScrollStates(id common.PipelineID, states []common.ScrollState) {
	if m.events != nil {
		m.events.ScrollStates(id, states)
	}
}

func (m *meteringConstellation) HandleMemoryPressure(level memory.Level, factor float64) {
	if m.events != nil {
		m.events.HandleMemoryPressure(level, factor)
	}
}

// pushCounters pushes the growth of the frame and scroll counters since the
// previous call.
func (m *meteringConstellation) pushCounters(prev, cur common.Stats) {
	now := time.Now()
	tags := m.sampleTags()
	push := func(metric *stats.Metric, before, after uint64) {
		if after > before {
			k6ext.PushSample(m.ctx, k6ext.NewSample(metric, now, float64(after-before), tags))
		}
	}
	push(m.metrics.Frames, prev.Pacing.FramesPresent, cur.Pacing.FramesPresent)
	push(m.metrics.FramesDropped, prev.Pacing.FramesDropped, cur.Pacing.FramesDropped)
	push(m.metrics.ScrollBatches, prev.Scroll.BatchesEmitted, cur.Scroll.BatchesEmitted)
}

// paintEvents returns the paint metrics sent so far.
func (m *meteringConstellation) paintEvents() []common.PaintMetricEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]common.PaintMetricEvent(nil), m.paints...)
}

func (m *meteringConstellation) animationTicks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks
}

func (m *meteringConstellation) sampleTags() map[string]string {
	tags := make(map[string]string, len(m.tags)+1)
	for k, v := range m.tags {
		tags[k] = v
	}
	return tags
}
