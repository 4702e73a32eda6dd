package merger

// Weights are the additive/subtractive terms the confidence score sums
// before clamping to [0, 1], following the formula exactly: visible and
// interactive are worth 0.3 each as base signals, AX role/name/focusable
// add supporting evidence, and tiny or occluded elements are penalized.
// Exposed as a tunable table on Options, not inlined magic numbers, so a
// future benchmarking pass can retune without touching merge control flow.
type Weights struct {
	Visible           float64
	Interactive       float64
	HasRole           float64
	HasAccessibleName float64
	Focusable         float64
	SmallDimension    float64
	Occluded          float64
}

// DefaultWeights matches the coefficients as specified.
var DefaultWeights = Weights{
	Visible:           0.3,
	Interactive:       0.3,
	HasRole:           0.2,
	HasAccessibleName: 0.1,
	Focusable:         0.1,
	SmallDimension:    -0.2,
	Occluded:          -0.3,
}

// minInteractiveDimension is the CSS-pixel threshold below which either
// bounds dimension counts as "too small to reliably interact with".
const minInteractiveDimension = 5.0

// score computes n's confidence from facts already settled by the merge
// pipeline (visibility, interactivity, AX role/name, occlusion) and
// clamps the sum to [0, 1].
func score(n *EnhancedNode, w Weights) float64 {
	var s float64

	if n.Visible {
		s += w.Visible
	}
	if n.Interactive {
		s += w.Interactive
	}
	if n.Role != "" {
		s += w.HasRole
	}
	if n.Name != "" {
		s += w.HasAccessibleName
	}
	if n.focusable {
		s += w.Focusable
	}
	if n.Bounds.Width < minInteractiveDimension || n.Bounds.Height < minInteractiveDimension {
		s += w.SmallDimension
	}
	if n.Occluded {
		s += w.Occluded
	}

	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
