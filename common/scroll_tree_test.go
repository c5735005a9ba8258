package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/xk6-compositor/scroll"
)

func TestScrollNodeOrAncestor(t *testing.T) {
	t.Parallel()

	newTree := func() *ScrollTree {
		tree := &ScrollTree{}
		root := tree.AddNode(NoScrollNode, &ScrollableInfo{
			ExternalID: 1, ScrollableSize: Size{Width: 100, Height: 500}, InputScrollable: true,
		})
		list := tree.AddNode(root, &ScrollableInfo{
			ExternalID: 2, ScrollableSize: Size{Height: 50}, InputScrollable: true,
		})
		tree.AddNode(list, nil)
		tree.AddNode(root, &ScrollableInfo{ExternalID: 3, ScrollableSize: Size{Height: 50}})
		return tree
	}

	testCases := []struct {
		name    string
		node    ScrollNodeID
		deltas  []scroll.Vector
		wantExt ExternalScrollID
		wantOff scroll.Vector
		wantOK  bool
	}{
		{
			name:    "scrolls the node itself",
			node:    1,
			deltas:  []scroll.Vector{{Y: -20}},
			wantExt: 2,
			wantOff: scroll.Vector{Y: -20},
			wantOK:  true,
		},
		{
			name:    "clamps to the scrollable size",
			node:    1,
			deltas:  []scroll.Vector{{Y: -80}},
			wantExt: 2,
			wantOff: scroll.Vector{Y: -50},
			wantOK:  true,
		},
		{
			name:    "bubbles to the ancestor once exhausted",
			node:    1,
			deltas:  []scroll.Vector{{Y: -50}, {Y: -10}},
			wantExt: 1,
			wantOff: scroll.Vector{Y: -10},
			wantOK:  true,
		},
		{
			name:    "non scrollable node uses its parent",
			node:    2,
			deltas:  []scroll.Vector{{Y: -5}},
			wantExt: 2,
			wantOff: scroll.Vector{Y: -5},
			wantOK:  true,
		},
		{
			name:    "script only node is skipped",
			node:    3,
			deltas:  []scroll.Vector{{X: -5}},
			wantExt: 1,
			wantOff: scroll.Vector{X: -5},
			wantOK:  true,
		},
		{
			name:   "cannot scroll past the origin",
			node:   0,
			deltas: []scroll.Vector{{Y: 10}},
		},
		{
			name:   "unknown node",
			node:   42,
			deltas: []scroll.Vector{{Y: -10}},
		},
		{
			name:   "no scroll node",
			node:   NoScrollNode,
			deltas: []scroll.Vector{{Y: -10}},
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tree := newTree()
			var (
				ext ExternalScrollID
				off scroll.Vector
				ok  bool
			)
			for _, d := range tc.deltas {
				ext, off, ok = tree.ScrollNodeOrAncestor(tc.node, d)
			}
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantExt, ext)
				assert.Equal(t, tc.wantOff, off)
			}
		})
	}
}

func TestScrollTreeOffsets(t *testing.T) {
	t.Parallel()

	tree := &ScrollTree{}
	root := tree.AddNode(NoScrollNode, &ScrollableInfo{ExternalID: 1, ScrollableSize: Size{Height: 100}, InputScrollable: true})
	child := tree.AddNode(root, &ScrollableInfo{ExternalID: 2, ScrollableSize: Size{Height: 100}, InputScrollable: true})
	leaf := tree.AddNode(child, nil)

	require.True(t, tree.SetOffset(1, scroll.Vector{Y: -10}))
	require.True(t, tree.SetOffset(2, scroll.Vector{Y: -30}))
	assert.False(t, tree.SetOffset(9, scroll.Vector{Y: -1}))

	assert.Equal(t, scroll.Vector{Y: -40}, tree.AccumulatedOffset(leaf))
	assert.Equal(t, scroll.Vector{Y: -10}, tree.AccumulatedOffset(root))
	assert.Equal(t, scroll.Vector{}, tree.AccumulatedOffset(NoScrollNode))
	assert.Equal(t, []ScrollState{
		{ExternalID: 1, Offset: scroll.Vector{Y: -10}},
		{ExternalID: 2, Offset: scroll.Vector{Y: -30}},
	}, tree.States())

	next := &ScrollTree{}
	next.AddNode(NoScrollNode, &ScrollableInfo{ExternalID: 2, ScrollableSize: Size{Height: 100}})
	next.carryOffsets(tree)
	assert.Equal(t, []ScrollState{{ExternalID: 2, Offset: scroll.Vector{Y: -30}}}, next.States())

	var empty *ScrollTree
	assert.Zero(t, empty.Len())
	assert.Nil(t, empty.States())
	_, ok := empty.Node(0)
	assert.False(t, ok)
}

func TestHitTestTopmostItemWins(t *testing.T) {
	t.Parallel()

	tree := &ScrollTree{}
	tree.AddNode(NoScrollNode, &ScrollableInfo{ExternalID: 1, ScrollableSize: Size{Height: 1000}, InputScrollable: true})
	tree.SetOffset(1, scroll.Vector{Y: -100})

	items := []HitTestItem{
		{Rect: Rect{Size: Size{Width: 100, Height: 100}}, Node: 1, ScrollNode: NoScrollNode, Cursor: "default"},
		{Rect: Rect{Size: Size{Width: 50, Height: 50}}, Node: 2, ScrollNode: NoScrollNode, Cursor: "pointer"},
		{Rect: Rect{Origin: DevicePoint{Y: 200}, Size: Size{Width: 100, Height: 100}}, Node: 3, ScrollNode: 0},
	}

	testCases := []struct {
		name     string
		point    DevicePoint
		wantNode uint64
		wantOK   bool
	}{
		{name: "overlap picks the later item", point: DevicePoint{X: 10, Y: 10}, wantNode: 2, wantOK: true},
		{name: "bottom item", point: DevicePoint{X: 60, Y: 60}, wantNode: 1, wantOK: true},
		{name: "scrolled item", point: DevicePoint{X: 10, Y: 150}, wantNode: 3, wantOK: true},
		{name: "right edge is exclusive", point: DevicePoint{X: 100, Y: 10}, wantOK: false},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			res, ok := hitTest("P", items, tree, tc.point)
			assert.Equal(t, tc.wantOK, ok)
			if ok {
				assert.Equal(t, tc.wantNode, res.Node)
				assert.Equal(t, PipelineID("P"), res.Pipeline)
			}
		})
	}
}

func TestScrollTreeAddNodeRejectsLaterParents(t *testing.T) {
	t.Parallel()

	tree := &ScrollTree{}
	self := tree.AddNode(0, &ScrollableInfo{ExternalID: 1, ScrollableSize: Size{Height: 100}, InputScrollable: true})
	ahead := tree.AddNode(5, nil)
	below := tree.AddNode(-7, nil)

	for _, id := range []ScrollNodeID{self, ahead, below} {
		n, ok := tree.Node(id)
		require.True(t, ok)
		assert.Equal(t, NoScrollNode, n.Parent)
	}

	assert.Equal(t, scroll.Vector{}, tree.AccumulatedOffset(self))
	_, _, ok := tree.ScrollNodeOrAncestor(ahead, scroll.Vector{Y: -10})
	assert.False(t, ok, "a root without scrollable info does not move")
	ext, off, ok := tree.ScrollNodeOrAncestor(self, scroll.Vector{Y: -10})
	require.True(t, ok)
	assert.Equal(t, ExternalScrollID(1), ext)
	assert.Equal(t, scroll.Vector{Y: -10}, off)
}
