package model

// UserFlag records why a crystal was rejected downstream, if at all. A zero
// value means "not rejected".
type UserFlag int

const (
	UserFlagOK UserFlag = iota
	UserFlagCellNotMatched
	UserFlagPeaksNotMatched
	UserFlagRefinementFailed
)

// Crystal is one candidate orientation accepted by the indexing driver for
// an image, plus everything prediction/integration attach to it. A single
// image may own zero or more crystals.
type Crystal struct {
	Cell *UnitCell

	ProfileRadius float64 // R, Angstrom^-1
	Mosaicity     float64 // radians
	OSF           float64 // overall scale factor
	BFactor       float64

	Reflections *ReflectionList

	IndexedBy string // backend name that produced this crystal
	UserFlag  UserFlag

	// Rotation applied during prediction refinement, small angles in radians
	// around lab x and y, kept for diagnostics.
	RotX, RotY float64
}

// NumSaturated counts reflections flagged saturated.
func (c *Crystal) NumSaturated() int {
	n := 0
	for _, r := range c.Reflections.Reflections {
		if r.Flag == IntegrationSaturated {
			n++
		}
	}
	return n
}
