package indexing

import (
	"math"

	"github.com/crystfel-go/indexamajig/model"
)

// defaultCombinationCoefs mirrors check-cell-combinations' search range.
var defaultCombinationCoefs = []int{-1, 0, 1, 2}

// MatchCell compares candidate against reference, optionally searching a
// unimodular transform of candidate that brings it within tol: axis
// permutations if allowAxes is set, and, if allowCombinations is also set,
// any integer linear combination of its axes. With both false, only the
// untransformed candidate is tested. It returns the best-matching
// transformed cell, the transform's figure of merit (lower is better, 0 is
// exact), and whether any transform satisfied the tolerances.
//
// The figure of merit is the sum of the three fractional length errors and
// the three absolute angle errors (radians); this matches the spec's single
// scalar tie-break across attempted transforms.
func MatchCell(candidate, reference *model.UnitCell, tol Tolerances, allowAxes, allowCombinations bool) (*model.UnitCell, float64, bool) {
	transforms := []model.Mat3{model.IdentityMat3()}
	if allowAxes || allowCombinations {
		transforms = model.AxisPermutations()
	}
	if allowCombinations {
		transforms = append(transforms, model.AxisCombinations(defaultCombinationCoefs)...)
	}

	var best *model.UnitCell
	bestFOM := math.Inf(1)
	found := false

	for _, t := range transforms {
		transformed, err := t.Apply(candidate)
		if err != nil {
			continue
		}
		fom, ok := withinTolerance(transformed, reference, tol)
		if !ok {
			continue
		}
		if fom < bestFOM {
			bestFOM = fom
			best = transformed
			found = true
		}
	}
	return best, bestFOM, found
}

func withinTolerance(c, ref *model.UnitCell, tol Tolerances) (float64, bool) {
	da := fracErr(c.A, ref.A)
	db := fracErr(c.B, ref.B)
	dc := fracErr(c.C, ref.C)
	if da > tol.FracA || db > tol.FracB || dc > tol.FracC {
		return 0, false
	}
	dAlpha := math.Abs(c.Alpha - ref.Alpha)
	dBeta := math.Abs(c.Beta - ref.Beta)
	dGamma := math.Abs(c.Gamma - ref.Gamma)
	if dAlpha > tol.AngleAlpha || dBeta > tol.AngleBeta || dGamma > tol.AngleGamma {
		return 0, false
	}
	return da + db + dc + dAlpha + dBeta + dGamma, true
}

func fracErr(v, ref float64) float64 {
	if ref == 0 {
		return math.Inf(1)
	}
	return math.Abs(v-ref) / ref
}
