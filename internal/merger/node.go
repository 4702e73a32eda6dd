// Package merger combines a DOM tree, a DOMSnapshot style/geometry
// capture, and an accessibility tree into a ranked list of EnhancedNodes —
// the actionable-element inventory a caller indexes into by position.
package merger

import "github.com/chromedp/cdproto/cdp"

// ActionType names the primitive an EnhancedNode supports, so a caller
// doesn't have to infer it from tag/role itself.
type ActionType string

const (
	ActionInput  ActionType = "input"
	ActionSelect ActionType = "select"
	ActionToggle ActionType = "toggle"
	ActionClick  ActionType = "click"
	ActionNone   ActionType = ""
)

// Rect is an axis-aligned box in CSS pixels, relative to the viewport.
type Rect struct {
	X, Y, Width, Height float64
}

// Point is a CSS-pixel coordinate.
type Point struct {
	X, Y float64
}

// Area returns the rect's area, 0 for a degenerate (zero-size) rect.
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Center is the click point actions dispatch at: the rect's midpoint,
// matching the same point the CDP client's box-model center uses.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Intersect returns the overlapping rect of r and o, with zero area if
// they don't overlap.
func (r Rect) Intersect(o Rect) Rect {
	x0, y0 := max(r.X, o.X), max(r.Y, o.Y)
	x1, y1 := min(r.X+r.Width, o.X+o.Width), min(r.Y+r.Height, o.Y+o.Height)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// EnhancedNode is one actionable element in the merged inventory (§3). It
// is the unit internal/serializer renders and the unit a caller's action
// (click/type/select/scroll) targets by its position in the ranked list.
type EnhancedNode struct {
	BackendNodeID cdp.BackendNodeID
	NodeID        cdp.NodeID
	FrameID       cdp.FrameID

	Tag        string
	Role       string
	Name       string // accessible name, from the AX tree
	Text       string // own visible text content, truncated by the serializer
	Attributes map[string]string

	Bounds     Rect
	ClickPoint Point

	Visible     bool
	Interactive bool
	Occluded    bool
	ActionType  ActionType
	Confidence  float64

	PaintOrder int64
	ZIndex     int64

	ParentBackendID cdp.BackendNodeID

	// Transient facts carried from the build step to interactivity
	// classification and occlusion; not part of the serialized inventory.
	cursorPointer     bool
	pointerEventsNone bool
	focusable         bool
	axDisabled        bool
}

// domNode is the merger's own lightweight walk of the DOM tree, built
// once per observation from the dom.Node tree by an explicit-stack walk
// (not recursion — see walkDOM in merge.go).
type domNode struct {
	backendID cdp.BackendNodeID
	nodeID    cdp.NodeID
	frameID   cdp.FrameID
	tag       string
	attrs     map[string]string
	text      string
	parent    cdp.BackendNodeID
	children  []cdp.BackendNodeID
}
