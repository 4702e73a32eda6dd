package merger

// cellSize is the uniform grid bucket size, in CSS pixels. Most
// interactive elements (buttons, inputs, links) are smaller than this, so
// a handful of cells per element keeps occlusion queries close to O(N)
// instead of the O(N^2) an all-pairs comparison would cost on a
// page with a few thousand candidate nodes.
const cellSize = 64.0

type cellKey struct{ cx, cy int }

// spatialGrid buckets nodes by the grid cells their bounds touch, so an
// occlusion query only compares against nodes sharing at least one cell
// instead of scanning the whole page (§4.F's "spatial index for O(N log N)
// occlusion" design note).
type spatialGrid struct {
	cells map[cellKey][]*EnhancedNode
}

func newSpatialGrid(nodes []*EnhancedNode) *spatialGrid {
	g := &spatialGrid{cells: make(map[cellKey][]*EnhancedNode)}
	for _, n := range nodes {
		for _, k := range g.keysFor(n.Bounds) {
			g.cells[k] = append(g.cells[k], n)
		}
	}
	return g
}

func (g *spatialGrid) keysFor(r Rect) []cellKey {
	if r.Area() == 0 {
		return nil
	}
	x0 := int(r.X / cellSize)
	y0 := int(r.Y / cellSize)
	x1 := int((r.X + r.Width) / cellSize)
	y1 := int((r.Y + r.Height) / cellSize)

	var keys []cellKey
	for cx := x0; cx <= x1; cx++ {
		for cy := y0; cy <= y1; cy++ {
			keys = append(keys, cellKey{cx, cy})
		}
	}
	return keys
}

// candidates returns every node sharing a grid cell with n, deduplicated,
// excluding n itself.
func (g *spatialGrid) candidates(n *EnhancedNode) []*EnhancedNode {
	seen := make(map[cdpBackendKey]bool)
	var out []*EnhancedNode
	for _, k := range g.keysFor(n.Bounds) {
		for _, other := range g.cells[k] {
			if other == n {
				continue
			}
			key := cdpBackendKey(other.BackendNodeID)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, other)
		}
	}
	return out
}

type cdpBackendKey int64
