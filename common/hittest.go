package common

// HitTestItem is one hit-testable area of a display list, in the layout
// space of its scroll node.
type HitTestItem struct {
	Rect       Rect
	ScrollNode ScrollNodeID
	// Node is the opaque content node address reported back on a hit.
	Node uint64
	// Cursor is the CSS cursor to show while hovering, if any.
	Cursor string
}

// HitTestResult is the topmost item under a point.
type HitTestResult struct {
	Pipeline   PipelineID
	Node       uint64
	ScrollNode ScrollNodeID
	Cursor     string
	// Point is the query point in the item's layout space.
	Point DevicePoint
}

// hitTest walks items back to front. Later items paint on top, so the last
// match wins.
func hitTest(pipeline PipelineID, items []HitTestItem, tree *ScrollTree, p DevicePoint) (HitTestResult, bool) {
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		local := p.Sub(tree.AccumulatedOffset(it.ScrollNode))
		if !it.Rect.Contains(local) {
			continue
		}
		return HitTestResult{
			Pipeline:   pipeline,
			Node:       it.Node,
			ScrollNode: it.ScrollNode,
			Cursor:     it.Cursor,
			Point:      local,
		}, true
	}
	return HitTestResult{}, false
}
