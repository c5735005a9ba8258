package common

import (
	"github.com/grafana/xk6-compositor/scroll"
)

// ScrollNodeID indexes a node inside one pipeline's ScrollTree.
type ScrollNodeID int

// NoScrollNode marks a root node's parent and items that do not scroll.
const NoScrollNode ScrollNodeID = -1

// ExternalScrollID is the stable identifier content uses for a scroll node.
type ExternalScrollID uint64

// ScrollableInfo is present on nodes that can be scrolled.
type ScrollableInfo struct {
	ExternalID     ExternalScrollID
	ScrollableSize Size
	Offset         scroll.Vector
	// InputScrollable is false for nodes that only script may scroll.
	InputScrollable bool
}

// ScrollNode is one spatial node.
type ScrollNode struct {
	Parent ScrollNodeID
	Info   *ScrollableInfo
}

// ScrollState reports a node's offset to content.
type ScrollState struct {
	ExternalID ExternalScrollID
	Offset     scroll.Vector
}

// ScrollTree mirrors the spatial tree content built for a pipeline.
// Content owns the structure. The compositor updates offsets when it
// scrolls and content acknowledges them later.
type ScrollTree struct {
	nodes []ScrollNode
}

// AddNode appends a node and returns its id. A parent must be added
// before its children; any other parent makes the node a root.
func (t *ScrollTree) AddNode(parent ScrollNodeID, info *ScrollableInfo) ScrollNodeID {
	if parent < NoScrollNode || int(parent) >= len(t.nodes) {
		parent = NoScrollNode
	}
	t.nodes = append(t.nodes, ScrollNode{Parent: parent, Info: info})
	return ScrollNodeID(len(t.nodes) - 1)
}

// Len returns the number of nodes.
func (t *ScrollTree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.nodes)
}

func (t *ScrollTree) valid(id ScrollNodeID) bool {
	return t != nil && id >= 0 && int(id) < len(t.nodes)
}

// Node returns the node with id.
func (t *ScrollTree) Node(id ScrollNodeID) (ScrollNode, bool) {
	if !t.valid(id) {
		return ScrollNode{}, false
	}
	return t.nodes[id], true
}

// ScrollNodeOrAncestor scrolls id by delta, or the nearest ancestor that
// can still move in that direction. Offsets are clamped to
// [-scrollable size, 0]. ok is false when nothing moved.
func (t *ScrollTree) ScrollNodeOrAncestor(id ScrollNodeID, delta scroll.Vector) (ExternalScrollID, scroll.Vector, bool) {
	for steps := 0; t.valid(id) && steps < len(t.nodes); steps++ {
		n := &t.nodes[id]
		if ext, off, ok := scrollNode(n, delta); ok {
			return ext, off, true
		}
		id = n.Parent
	}
	return 0, scroll.Vector{}, false
}

func scrollNode(n *ScrollNode, delta scroll.Vector) (ExternalScrollID, scroll.Vector, bool) {
	info := n.Info
	if info == nil || !info.InputScrollable {
		return 0, scroll.Vector{}, false
	}
	before := info.Offset
	if w := info.ScrollableSize.Width; w > 0 {
		info.Offset.X = clamp(info.Offset.X+delta.X, -w, 0)
	}
	if h := info.ScrollableSize.Height; h > 0 {
		info.Offset.Y = clamp(info.Offset.Y+delta.Y, -h, 0)
	}
	if info.Offset == before {
		return 0, scroll.Vector{}, false
	}
	return info.ExternalID, info.Offset, true
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SetOffset applies an offset content reports for external id. It returns
// false when no node carries that id.
func (t *ScrollTree) SetOffset(ext ExternalScrollID, offset scroll.Vector) bool {
	if t == nil {
		return false
	}
	for i := range t.nodes {
		if info := t.nodes[i].Info; info != nil && info.ExternalID == ext {
			info.Offset = offset
			return true
		}
	}
	return false
}

// AccumulatedOffset sums the offsets of id and its ancestors.
func (t *ScrollTree) AccumulatedOffset(id ScrollNodeID) scroll.Vector {
	var sum scroll.Vector
	for steps := 0; t.valid(id) && steps < len(t.nodes); steps++ {
		if info := t.nodes[id].Info; info != nil {
			sum = sum.Add(info.Offset)
		}
		id = t.nodes[id].Parent
	}
	return sum
}

// States returns the offsets of every scrollable node.
func (t *ScrollTree) States() []ScrollState {
	if t == nil {
		return nil
	}
	var out []ScrollState
	for _, n := range t.nodes {
		if n.Info != nil {
			out = append(out, ScrollState{ExternalID: n.Info.ExternalID, Offset: n.Info.Offset})
		}
	}
	return out
}

// carryOffsets copies offsets from prev into nodes of t with the same
// external id, so compositor side scrolling survives a new display list
// that was built before content saw it.
func (t *ScrollTree) carryOffsets(prev *ScrollTree) {
	for _, st := range prev.States() {
		t.SetOffset(st.ExternalID, st.Offset)
	}
}
