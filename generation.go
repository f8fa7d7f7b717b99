package elca

// Generation is one full row of cell states at a given time step. Cells
// hold 0 or 1. Index arithmetic is toroidal: the leftmost and rightmost
// cells are adjacent.
type Generation []uint8

// NewSeedGeneration returns the canonical initial condition: a row of the
// given width with a single live cell at the center. An odd width keeps
// the seed exactly centered.
func NewSeedGeneration(width int) Generation {
	g := make(Generation, width)
	if width > 0 {
		g[width/2] = 1
	}
	return g
}

// Clone returns an independent copy of the generation.
func (g Generation) Clone() Generation {
	out := make(Generation, len(g))
	copy(out, g)
	return out
}

// Equal reports whether two generations have identical width and cells.
func (g Generation) Equal(other Generation) bool {
	if len(g) != len(other) {
		return false
	}
	for i := range g {
		if g[i] != other[i] {
			return false
		}
	}
	return true
}

// Next writes the successor generation into dst using the given transition
// table. dst must have the same width as g and must not alias it. This is
// the scalar reference transition: the CPU backend steps with it, and the
// GPU backends are required to be bit-identical to it.
func (g Generation) Next(dst Generation, table RuleTable) {
	n := len(g)
	for i := 0; i < n; i++ {
		left := g[(i-1+n)%n]
		center := g[i]
		right := g[(i+1)%n]
		dst[i] = table[(left<<2)|(center<<1)|right]
	}
}
