package merger

import (
	"testing"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/domsnapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strIndex(table *[]string, s string) int64 {
	for i, v := range *table {
		if v == s {
			return int64(i)
		}
	}
	*table = append(*table, s)
	return int64(len(*table) - 1)
}

// buildSnapshot assembles a minimal one-document CaptureSnapshotReturns
// with a single laid-out node at the given bounds/paint order/styles.
func buildSnapshot(strings_ *[]string, backendID cdp.BackendNodeID, bounds []float64, paintOrder int64, styleValues map[string]string) *domsnapshot.CaptureSnapshotReturns {
	row := make([]int64, len(computedStyleOrder))
	for i, name := range computedStyleOrder {
		v := styleValues[name]
		row[i] = strIndex(strings_, v)
	}
	return &domsnapshot.CaptureSnapshotReturns{
		Documents: []*domsnapshot.DocumentSnapshot{
			{
				Nodes: domsnapshot.NodeTreeSnapshot{
					BackendNodeID: []cdp.BackendNodeID{backendID},
				},
				Layout: domsnapshot.LayoutTreeSnapshot{
					NodeIndex:   []int64{0},
					Bounds:      [][]float64{bounds},
					Styles:      [][]int64{row},
					PaintOrders: []int64{paintOrder},
				},
			},
		},
		Strings: *strings_,
	}
}

func button(backendID cdp.BackendNodeID) *dom.Node {
	return &dom.Node{
		BackendNodeID: backendID,
		NodeID:        cdp.NodeID(backendID),
		NodeName:      "BUTTON",
		Attributes:    []string{"type", "button"},
	}
}

func TestMergeClassifiesAndRanksNativeButton(t *testing.T) {
	var strs []string
	snap := buildSnapshot(&strs, 1, []float64{10, 10, 100, 30}, 1, map[string]string{
		"cursor": "pointer", "visibility": "visible", "display": "block", "opacity": "1",
	})
	axNodes := []*accessibility.Node{
		{BackendDOMNodeID: 1, Role: &accessibility.AXValue{Value: "button"}, Name: &accessibility.AXValue{Value: "Submit"}},
	}

	got := Merge(button(1), snap, axNodes, DefaultOptions())

	require.Len(t, got, 1)
	n := got[0]
	assert.Equal(t, ActionClick, n.ActionType)
	assert.True(t, n.Visible)
	// visible(0.3) + interactive(0.3) + has role(0.2) + has name(0.1)
	assert.InDelta(t, 0.9, n.Confidence, 1e-9)
	assert.Equal(t, Rect{X: 10, Y: 10, Width: 100, Height: 30}, n.Bounds)
}

func TestMergeDropsNodeWithNoActionType(t *testing.T) {
	var strs []string
	snap := buildSnapshot(&strs, 1, []float64{0, 0, 50, 20}, 1, map[string]string{
		"visibility": "visible", "display": "block", "opacity": "1",
	})
	// A bare div with an onclick handler and no role/name/cursor is not
	// interactive, so it gets no action type and is dropped even though its
	// visibility alone scores 0.3, the default threshold.
	root := &dom.Node{
		BackendNodeID: 1,
		NodeID:        1,
		NodeName:      "DIV",
		Attributes:    []string{"onclick", "doThing()"},
	}

	got := Merge(root, snap, nil, DefaultOptions())
	assert.Empty(t, got)
}

func TestMergeRanksOccludedNodeBelowItsCoverer(t *testing.T) {
	var strs []string
	row := make([]int64, len(computedStyleOrder))
	for i, name := range computedStyleOrder {
		v := ""
		if name == "visibility" {
			v = "visible"
		}
		if name == "display" {
			v = "block"
		}
		if name == "opacity" {
			v = "1"
		}
		row[i] = strIndex(&strs, v)
	}

	snap := &domsnapshot.CaptureSnapshotReturns{
		Documents: []*domsnapshot.DocumentSnapshot{
			{
				Nodes: domsnapshot.NodeTreeSnapshot{
					BackendNodeID: []cdp.BackendNodeID{1, 2},
				},
				Layout: domsnapshot.LayoutTreeSnapshot{
					NodeIndex:   []int64{0, 1},
					Bounds:      [][]float64{{0, 0, 100, 100}, {0, 0, 100, 100}},
					Styles:      [][]int64{row, row},
					PaintOrders: []int64{1, 2},
				},
			},
		},
		Strings: strs,
	}

	root := &dom.Node{
		BackendNodeID: 1,
		NodeID:        1,
		NodeName:      "BUTTON",
		Children: []*dom.Node{
			{BackendNodeID: 2, NodeID: 2, NodeName: "BUTTON"},
		},
	}

	axNodes := []*accessibility.Node{
		{BackendDOMNodeID: 1, Role: &accessibility.AXValue{Value: "button"}, Name: &accessibility.AXValue{Value: "Under"}},
		{BackendDOMNodeID: 2, Role: &accessibility.AXValue{Value: "button"}, Name: &accessibility.AXValue{Value: "Over"}},
	}

	got := Merge(root, snap, axNodes, DefaultOptions())

	require.Len(t, got, 2)
	assert.Equal(t, "Over", got[0].Name, "the later-painted, non-occluded node ranks first")
	assert.False(t, got[0].Occluded)
	assert.Equal(t, "Under", got[1].Name)
	assert.True(t, got[1].Occluded)
	assert.Less(t, got[1].Confidence, got[0].Confidence)
}

// TestMergeBreaksPaintOrderTieOnZIndex exercises the Open Question #1
// decision directly: two same-paint-order nodes fully overlapping, the
// higher z-index one must be the coverer regardless of document order.
func TestMergeBreaksPaintOrderTieOnZIndex(t *testing.T) {
	var strs []string
	styleRow := func(zIndex string) []int64 {
		vals := map[string]string{"visibility": "visible", "display": "block", "opacity": "1", "z-index": zIndex}
		row := make([]int64, len(computedStyleOrder))
		for i, name := range computedStyleOrder {
			row[i] = strIndex(&strs, vals[name])
		}
		return row
	}

	snap := &domsnapshot.CaptureSnapshotReturns{
		Documents: []*domsnapshot.DocumentSnapshot{
			{
				Nodes: domsnapshot.NodeTreeSnapshot{
					BackendNodeID: []cdp.BackendNodeID{1, 2},
				},
				Layout: domsnapshot.LayoutTreeSnapshot{
					NodeIndex:   []int64{0, 1},
					Bounds:      [][]float64{{0, 0, 100, 100}, {0, 0, 100, 100}},
					Styles:      [][]int64{styleRow("1"), styleRow("5")},
					PaintOrders: []int64{1, 1}, // tied; z-index must break it
				},
			},
		},
		Strings: strs,
	}

	root := &dom.Node{
		BackendNodeID: 1,
		NodeID:        1,
		NodeName:      "BUTTON",
		Children: []*dom.Node{
			{BackendNodeID: 2, NodeID: 2, NodeName: "BUTTON"},
		},
	}
	axNodes := []*accessibility.Node{
		{BackendDOMNodeID: 1, Role: &accessibility.AXValue{Value: "button"}, Name: &accessibility.AXValue{Value: "Low"}},
		{BackendDOMNodeID: 2, Role: &accessibility.AXValue{Value: "button"}, Name: &accessibility.AXValue{Value: "High"}},
	}

	got := Merge(root, snap, axNodes, DefaultOptions())

	require.Len(t, got, 2)
	var low, high *EnhancedNode
	for _, n := range got {
		if n.Name == "Low" {
			low = n
		}
		if n.Name == "High" {
			high = n
		}
	}
	require.NotNil(t, low)
	require.NotNil(t, high)
	assert.Equal(t, int64(1), low.ZIndex)
	assert.Equal(t, int64(5), high.ZIndex)
	assert.True(t, low.Occluded, "the lower z-index node loses the paint-order tie")
	assert.False(t, high.Occluded)
}

func TestScoreClampsToUnitRange(t *testing.T) {
	n := &EnhancedNode{
		Role: "button", Name: "x", Tag: "button",
		Visible: true, Interactive: true,
		Bounds:    Rect{Width: 100, Height: 100},
		focusable: true,
	}
	assert.InDelta(t, 1.0, score(n, DefaultWeights), 1e-9)

	empty := &EnhancedNode{}
	assert.Equal(t, 0.0, score(empty, DefaultWeights))
}
