package prediction

import (
	"math"

	"github.com/crystfel-go/indexamajig/model"
)

// RefineOptions configures prediction refinement.
type RefineOptions struct {
	Geometry   *model.Geometry
	Wavelength float64
	Spectrum   *model.Spectrum
	Model      PartialityModel
	HighRes    float64
	Serial     int64

	MaxIterations int
}

// RefineResult carries the refined parameters and the reindexing operator
// that produced the best fit.
type RefineResult struct {
	RotX, RotY float64
	R          float64
	Wavelength float64
	Reindex    model.Mat3
	Residual   float64
}

// hard clamps from the prediction-refinement invariants
const (
	maxProfileRadius = 5e9 // m^-1... expressed in the same units as R elsewhere (Angstrom^-1 scaled)
	maxTotalRotation = 5 * math.Pi / 180
)

// Refine performs a Nelder-Mead simplex minimization over four parameters
// (two small cell rotations around lab x/y, the profile radius R, and the
// wavelength), minimizing the scaled log-intensity disagreement between
// predicted and observed reflections. The cell is additionally tried under
// every reindexing in the lattice ambiguity group (approximated here by the
// cell's axis-permutation group, since the true ambiguity group depends on
// point-group symmetry information that lives outside the core); the best
// reindexing is kept alongside the refined parameters.
func Refine(cell *model.UnitCell, reference *model.ReflectionList, opts RefineOptions) (*RefineResult, error) {
	best := &RefineResult{R: 1, Wavelength: opts.Wavelength, Reindex: model.IdentityMat3(), Residual: math.Inf(1)}

	candidates := append([]model.Mat3{model.IdentityMat3()}, model.AxisPermutations()...)
	for _, reindex := range candidates {
		reindexedCell, err := reindex.Apply(cell)
		if err != nil {
			continue
		}
		result := simplexRefine(reindexedCell, reference, opts)
		if result.Residual < best.Residual {
			result.Reindex = reindex
			best = result
		}
	}
	return best, nil
}

// objective evaluates the scaled log-intensity residual of cell (after
// applying rotX/rotY/R/wavelength) against the observed reference list.
func objective(cell *model.UnitCell, rotX, rotY, R, wavelength float64, reference *model.ReflectionList, opts RefineOptions) float64 {
	if wavelength <= 0 || R <= 0 || math.Abs(rotX)+math.Abs(rotY) > maxTotalRotation || R > maxProfileRadius {
		return math.Inf(1)
	}
	rotated := applyRotation(cell, rotX, rotY)
	predicted := Predict(rotated, opts.Geometry, wavelength, opts.Spectrum, Options{
		HighRes: opts.HighRes, Model: opts.Model, R: R, Serial: opts.Serial,
	})

	index := make(map[model.MillerIndex]model.Reflection, predicted.Len())
	for _, r := range predicted.Reflections {
		index[r.Index] = r
	}

	var sumSq float64
	var n int
	for _, obs := range reference.Reflections {
		pred, ok := index[obs.Index]
		if !ok || obs.Intensity <= 0 || pred.Partiality <= 0 {
			continue
		}
		logObs := math.Log(obs.Intensity)
		logPred := math.Log(pred.Partiality) // partiality stands in for the predicted relative scale
		d := logObs - logPred
		sumSq += d * d
		n++
	}
	if n == 0 {
		return math.Inf(1)
	}
	return sumSq / float64(n)
}

// applyRotation rotates the cell's real-space vectors by small angles rotX,
// rotY around the lab x and y axes respectively (small-angle approximation
// is not assumed; exact rotation matrices are used).
func applyRotation(cell *model.UnitCell, rotX, rotY float64) *model.UnitCell {
	rx := func(v model.Vec3) model.Vec3 {
		c, s := math.Cos(rotX), math.Sin(rotX)
		return model.Vec3{X: v.X, Y: c*v.Y - s*v.Z, Z: s*v.Y + c*v.Z}
	}
	ry := func(v model.Vec3) model.Vec3 {
		c, s := math.Cos(rotY), math.Sin(rotY)
		return model.Vec3{X: c*v.X + s*v.Z, Y: v.Y, Z: -s*v.X + c*v.Z}
	}
	rot := func(v model.Vec3) model.Vec3 { return ry(rx(v)) }
	out, err := model.NewFromVectors(rot(cell.Va), rot(cell.Vb), rot(cell.Vc), cell.Lattice, cell.Centering)
	if err != nil {
		return cell
	}
	return out
}

// simplexRefine runs Nelder-Mead over (rotX, rotY, R, wavelength) starting
// from (0, 0, 1, opts.Wavelength).
func simplexRefine(cell *model.UnitCell, reference *model.ReflectionList, opts RefineOptions) *RefineResult {
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}

	f := func(x [4]float64) float64 {
		return objective(cell, x[0], x[1], x[2], x[3], reference, opts)
	}

	x0 := [4]float64{0, 0, 1, opts.Wavelength}
	step := [4]float64{0.01 * math.Pi / 180, 0.01 * math.Pi / 180, 0.1, opts.Wavelength * 0.001}

	best := nelderMead(f, x0, step, maxIter)

	return &RefineResult{
		RotX: best.x[0], RotY: best.x[1], R: best.x[2], Wavelength: best.x[3],
		Residual: best.fval,
	}
}

type simplexPoint struct {
	x    [4]float64
	fval float64
}

// nelderMead is a compact, dependency-free Nelder-Mead simplex minimizer
// over a fixed 4-parameter vector. No third-party optimizer is used here:
// none of the reference repositories wire in a numerical-optimization
// library, so this stays on the standard library per the grounding policy.
func nelderMead(f func([4]float64) float64, x0, step [4]float64, maxIter int) simplexPoint {
	const n = 4
	simplex := make([]simplexPoint, n+1)
	simplex[0] = simplexPoint{x: x0, fval: f(x0)}
	for i := 1; i <= n; i++ {
		x := x0
		x[i-1] += step[i-1]
		simplex[i] = simplexPoint{x: x, fval: f(x)}
	}

	const alpha, gamma, rho, sigma = 1.0, 2.0, 0.5, 0.5

	for iter := 0; iter < maxIter; iter++ {
		sortSimplex(simplex)
		if math.IsInf(simplex[0].fval, 1) {
			break
		}

		var centroid [4]float64
		for i := 0; i < n; i++ {
			for d := 0; d < n; d++ {
				centroid[d] += simplex[i].x[d]
			}
		}
		for d := 0; d < n; d++ {
			centroid[d] /= n
		}

		worst := simplex[n]
		reflected := reflectPoint(centroid, worst.x, alpha)
		reflectedVal := f(reflected)

		switch {
		case reflectedVal < simplex[0].fval:
			expanded := reflectPoint(centroid, worst.x, alpha*gamma)
			expandedVal := f(expanded)
			if expandedVal < reflectedVal {
				simplex[n] = simplexPoint{x: expanded, fval: expandedVal}
			} else {
				simplex[n] = simplexPoint{x: reflected, fval: reflectedVal}
			}
		case reflectedVal < simplex[n-1].fval:
			simplex[n] = simplexPoint{x: reflected, fval: reflectedVal}
		default:
			contracted := reflectPoint(centroid, worst.x, -rho)
			contractedVal := f(contracted)
			if contractedVal < worst.fval {
				simplex[n] = simplexPoint{x: contracted, fval: contractedVal}
			} else {
				for i := 1; i <= n; i++ {
					for d := 0; d < n; d++ {
						simplex[i].x[d] = simplex[0].x[d] + sigma*(simplex[i].x[d]-simplex[0].x[d])
					}
					simplex[i].fval = f(simplex[i].x)
				}
			}
		}
	}
	sortSimplex(simplex)
	return simplex[0]
}

func reflectPoint(centroid, worst [4]float64, coeff float64) [4]float64 {
	var out [4]float64
	for d := range out {
		out[d] = centroid[d] + coeff*(centroid[d]-worst[d])
	}
	return out
}

func sortSimplex(s []simplexPoint) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].fval < s[j-1].fval; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
