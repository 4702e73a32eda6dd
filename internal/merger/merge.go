package merger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/domsnapshot"
	"golang.org/x/exp/slices"
)

// computedStyleOrder must match the order collector.go's
// DOMSnapshot.captureSnapshot call requested computed styles in: each row
// of Layout.Styles lines up positionally with this slice.
var computedStyleOrder = []string{
	"cursor", "pointer-events", "visibility", "display", "opacity", "user-select", "z-index",
}

// textNodeType is the DOM NodeType constant for a #text node.
const textNodeType = 3

var definitelyInteractiveTags = map[string]bool{
	"a": true, "button": true, "input": true, "select": true,
	"textarea": true, "details": true, "summary": true,
}

var definitelyInteractiveRoles = map[string]bool{
	"button": true, "link": true, "textbox": true, "combobox": true,
	"checkbox": true, "menuitem": true, "tab": true, "switch": true,
}

var textInputTypes = map[string]bool{
	"": true, "text": true, "search": true, "email": true, "url": true,
	"tel": true, "password": true, "number": true,
}

var toggleInputTypes = map[string]bool{"checkbox": true, "radio": true}

// Options configures a Merge call, per SPEC_FULL.md's tunable-weights
// Open Question decision.
type Options struct {
	DevicePixelRatio float64
	MinConfidence    float64
	Weights          Weights
}

// DefaultOptions matches Config's documented defaults.
func DefaultOptions() Options {
	return Options{DevicePixelRatio: 1, MinConfidence: 0.3, Weights: DefaultWeights}
}

func (o Options) withDefaults() Options {
	if o.DevicePixelRatio == 0 {
		o.DevicePixelRatio = 1
	}
	if o.MinConfidence == 0 {
		o.MinConfidence = 0.3
	}
	if o.Weights == (Weights{}) {
		o.Weights = DefaultWeights
	}
	return o
}

// Merge combines one observation pass's DOM tree, DOMSnapshot capture, and
// accessibility tree into a ranked EnhancedNode list. Occluded nodes are
// penalized in confidence, not removed outright.
// Candidates below MinConfidence, or with no action classification, are
// dropped; survivors are sorted by descending confidence, then top-to-
// bottom / left-to-right reading order.
func Merge(root *dom.Node, snapshot *domsnapshot.CaptureSnapshotReturns, axNodes []*accessibility.Node, opts Options) []*EnhancedNode {
	opts = opts.withDefaults()

	domIndex := walkDOM(root)
	axIndex := indexAX(axNodes)

	nodes := buildFromSnapshot(snapshot, domIndex, axIndex, opts)
	computeInteractivity(nodes)
	markOccluded(nodes)
	classifyActions(nodes)
	computeConfidence(nodes, opts.Weights)

	nodes = dropUnscored(nodes, opts.MinConfidence)
	rank(nodes)
	return nodes
}

// walkDOM flattens the DOM tree into a backend-node-id-keyed map using an
// explicit stack rather than recursion — real pages nest deeply enough
// that a naive recursive walk risks the goroutine stack on pathological
// input.
func walkDOM(root *dom.Node) map[cdp.BackendNodeID]*domNode {
	idx := make(map[cdp.BackendNodeID]*domNode)
	if root == nil {
		return idx
	}

	type frame struct {
		node   *dom.Node
		parent cdp.BackendNodeID
	}
	stack := []frame{{root, 0}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := f.node
		if n == nil {
			continue
		}

		dn := &domNode{
			backendID: n.BackendNodeID,
			nodeID:    n.NodeID,
			frameID:   n.FrameID,
			tag:       strings.ToLower(n.NodeName),
			attrs:     attrsToMap(n.Attributes),
			parent:    f.parent,
		}
		if n.NodeType == textNodeType {
			dn.text = n.NodeValue
		}
		idx[n.BackendNodeID] = dn

		if p, ok := idx[f.parent]; ok {
			p.children = append(p.children, n.BackendNodeID)
		}
		for _, child := range n.Children {
			stack = append(stack, frame{child, n.BackendNodeID})
		}
		if n.ContentDocument != nil {
			stack = append(stack, frame{n.ContentDocument, n.BackendNodeID})
		}
	}
	return idx
}

func attrsToMap(attrs []string) map[string]string {
	m := make(map[string]string, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		m[attrs[i]] = attrs[i+1]
	}
	return m
}

func indexAX(nodes []*accessibility.Node) map[cdp.BackendNodeID]*accessibility.Node {
	idx := make(map[cdp.BackendNodeID]*accessibility.Node, len(nodes))
	for _, n := range nodes {
		if n.BackendDOMNodeID != 0 {
			idx[n.BackendDOMNodeID] = n
		}
	}
	return idx
}

// buildFromSnapshot walks DOMSnapshot's parallel arrays (one entry per
// laid-out node, positionally joined to Nodes.BackendNodeID by
// Layout.NodeIndex) and joins each one back to the DOM and AX indexes.
// Only the first document is used: this system observes one top-level
// page at a time, and nested frames arrive as their own sessions/observations.
func buildFromSnapshot(snap *domsnapshot.CaptureSnapshotReturns, domIndex map[cdp.BackendNodeID]*domNode, axIndex map[cdp.BackendNodeID]*accessibility.Node, opts Options) []*EnhancedNode {
	if snap == nil || len(snap.Documents) == 0 {
		return nil
	}
	doc := snap.Documents[0]
	strs := snap.Strings

	str := func(i int64) string {
		if i < 0 || int(i) >= len(strs) {
			return ""
		}
		return strs[i]
	}

	var nodes []*EnhancedNode
	for layoutIdx, nodeIdx := range doc.Layout.NodeIndex {
		if nodeIdx < 0 || int(nodeIdx) >= len(doc.Nodes.BackendNodeID) {
			continue
		}
		backendID := doc.Nodes.BackendNodeID[nodeIdx]
		dn, ok := domIndex[backendID]
		if !ok {
			continue
		}

		bounds := boundsAt(doc, layoutIdx, opts.DevicePixelRatio)
		var paintOrder int64
		if layoutIdx < len(doc.Layout.PaintOrders) {
			paintOrder = doc.Layout.PaintOrders[layoutIdx]
		}

		styles := make(map[string]string, len(computedStyleOrder))
		if layoutIdx < len(doc.Layout.Styles) {
			row := doc.Layout.Styles[layoutIdx]
			for i, name := range computedStyleOrder {
				if i < len(row) {
					styles[name] = str(row[i])
				}
			}
		}

		visible := bounds.Area() > 0 && styles["visibility"] != "hidden" && styles["display"] != "none" && styles["opacity"] != "0"

		n := &EnhancedNode{
			BackendNodeID:     backendID,
			NodeID:            dn.nodeID,
			FrameID:           dn.frameID,
			Tag:               dn.tag,
			Attributes:        dn.attrs,
			Bounds:            bounds,
			ClickPoint:        bounds.Center(),
			Visible:           visible,
			PaintOrder:        paintOrder,
			ZIndex:            parseZIndex(styles["z-index"]),
			ParentBackendID:   dn.parent,
			cursorPointer:     styles["cursor"] == "pointer",
			pointerEventsNone: styles["pointer-events"] == "none",
		}
		n.Text = collectText(dn, domIndex)

		if ax, ok := axIndex[backendID]; ok {
			n.Role = axValueString(ax.Role)
			n.Name = axValueString(ax.Name)
			n.focusable = axBoolProperty(ax, "focusable")
			n.axDisabled = axBoolProperty(ax, "disabled")
		}

		nodes = append(nodes, n)
	}
	return nodes
}

func boundsAt(doc *domsnapshot.DocumentSnapshot, layoutIdx int, dpr float64) Rect {
	if layoutIdx >= len(doc.Layout.Bounds) {
		return Rect{}
	}
	b := doc.Layout.Bounds[layoutIdx]
	if len(b) != 4 {
		return Rect{}
	}
	if dpr == 0 {
		dpr = 1
	}
	return Rect{
		X:      b[0] / dpr,
		Y:      b[1] / dpr,
		Width:  b[2] / dpr,
		Height: b[3] / dpr,
	}
}

// parseZIndex turns a CSS z-index computed value into an int64 for the
// occlusion tie-break. "auto" and unparseable values sit at the stack
// baseline, same as an element with no z-index set.
func parseZIndex(v string) int64 {
	if v == "" || v == "auto" {
		return 0
	}
	z, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return z
}

func axValueString(v *accessibility.AXValue) string {
	if v == nil || v.Value == nil {
		return ""
	}
	return fmt.Sprint(v.Value)
}

// axBoolProperty scans an AX node's property list for name (e.g.
// "focusable", "disabled") and returns its boolean value, false if absent
// or not boolean-typed.
func axBoolProperty(ax *accessibility.Node, name string) bool {
	if ax == nil {
		return false
	}
	for _, p := range ax.Properties {
		if p == nil || p.Value == nil || string(p.Name) != name {
			continue
		}
		if b, ok := p.Value.Value.(bool); ok {
			return b
		}
	}
	return false
}

// collectText joins a node's immediate #text children — the same
// shallow-text rule the serializer's "text=" field uses. It deliberately
// does not recurse into descendant elements, since a button's own label
// text shouldn't absorb a nested icon span's alt text.
func collectText(dn *domNode, idx map[cdp.BackendNodeID]*domNode) string {
	var sb strings.Builder
	for _, childID := range dn.children {
		child, ok := idx[childID]
		if !ok || child.text == "" {
			continue
		}
		if t := strings.TrimSpace(child.text); t != "" {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(t)
		}
	}
	return sb.String()
}

// computeInteractivity applies the definitely-interactive /
// also-interactive / definitely-not-interactive rules: a native
// interactive tag or ARIA widget role qualifies outright, as does an AX
// focusable node that isn't AX-disabled; a bare `cursor: pointer` is
// accepted evidence on its own since modern frameworks attach listeners
// without inline handlers. `pointer-events: none` overrides everything
// else.
func computeInteractivity(nodes []*EnhancedNode) {
	for _, n := range nodes {
		if n.pointerEventsNone {
			continue
		}
		switch {
		case definitelyInteractiveTags[n.Tag]:
			n.Interactive = true
		case definitelyInteractiveRoles[n.Role]:
			n.Interactive = true
		case n.focusable && !n.axDisabled:
			n.Interactive = true
		case n.cursorPointer:
			n.Interactive = true
		}
	}
}

// markOccluded flags nodes more than 90% covered by any later-painted
// node (not only siblings), using paint order as the primary signal and z-index only to
// break a paint-order tie (the repo's Open Question decision). A
// candidate obstacle with `pointer-events: none` never occludes, since it
// cannot intercept the click itself.
func markOccluded(nodes []*EnhancedNode) {
	grid := newSpatialGrid(nodes)
	for _, n := range nodes {
		if !n.Interactive {
			continue
		}
		area := n.Bounds.Area()
		if area == 0 {
			continue
		}
		for _, other := range grid.candidates(n) {
			if other.Bounds.Area() == 0 || other.pointerEventsNone {
				continue
			}
			paintedOver := other.PaintOrder > n.PaintOrder ||
				(other.PaintOrder == n.PaintOrder && other.ZIndex > n.ZIndex)
			if !paintedOver {
				continue
			}
			inter := n.Bounds.Intersect(other.Bounds)
			if inter.Area()/area > 0.9 {
				n.Occluded = true
				break
			}
		}
	}
}

func classifyActions(nodes []*EnhancedNode) {
	for _, n := range nodes {
		n.ActionType = classify(n)
	}
}

// classify assigns the action primitive a caller would use on n. Only
// nodes already found interactive get a non-empty classification;
// "click" is the catch-all for anything interactive that isn't a text
// input, select, or toggle control.
func classify(n *EnhancedNode) ActionType {
	if !n.Interactive {
		return ActionNone
	}

	switch {
	case n.Tag == "textarea":
		return ActionInput
	case n.Tag == "input" && textInputTypes[n.Attributes["type"]]:
		return ActionInput
	case n.Role == "textbox":
		return ActionInput
	case n.Tag == "select":
		return ActionSelect
	case n.Role == "listbox" || n.Role == "combobox":
		return ActionSelect
	case n.Tag == "input" && toggleInputTypes[n.Attributes["type"]]:
		return ActionToggle
	case n.Role == "checkbox" || n.Role == "switch" || n.Role == "radio":
		return ActionToggle
	default:
		return ActionClick
	}
}

func computeConfidence(nodes []*EnhancedNode, w Weights) {
	for _, n := range nodes {
		n.Confidence = score(n, w)
	}
}

// dropUnscored discards nodes with no action classification and nodes
// below minConfidence, compacting the slice in place.
func dropUnscored(nodes []*EnhancedNode, minConfidence float64) []*EnhancedNode {
	out := nodes[:0]
	for _, n := range nodes {
		if n.ActionType == ActionNone {
			continue
		}
		if n.Confidence < minConfidence {
			continue
		}
		out = append(out, n)
	}
	return out
}

// rank sorts by descending confidence, then top-to-bottom / left-to-right
// reading order, using a stable sort so equally-ranked nodes keep their
// DOM-walk relative order.
func rank(nodes []*EnhancedNode) {
	slices.SortStableFunc(nodes, func(a, b *EnhancedNode) int {
		if a.Confidence != b.Confidence {
			if a.Confidence > b.Confidence {
				return -1
			}
			return 1
		}
		if a.Bounds.Y != b.Bounds.Y {
			if a.Bounds.Y < b.Bounds.Y {
				return -1
			}
			return 1
		}
		if a.Bounds.X != b.Bounds.X {
			if a.Bounds.X < b.Bounds.X {
				return -1
			}
			return 1
		}
		return 0
	})
}
