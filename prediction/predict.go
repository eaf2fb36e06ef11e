package prediction

import (
	"math"

	"github.com/crystfel-go/indexamajig/model"
)

// Options configures one prediction pass.
type Options struct {
	HighRes  float64 // resolution cutoff, Angstrom^-1; candidates beyond this are skipped
	Model    PartialityModel
	R        float64 // profile radius, Angstrom^-1 (also R0 for models that need it)
	Serial   int64
}

// Predict generates every Miller index within the resolution cutoff whose
// reciprocal-lattice vector lies close enough to the Ewald sphere to have
// non-negligible partiality, projects each onto the sphere, and solves the
// per-panel linear system for detector coordinates. Reflections that land
// outside every panel, that are forbidden by the cell's centering, or whose
// partiality underflows to zero are dropped.
func Predict(cell *model.UnitCell, geo *model.Geometry, wavelength float64, spectrum *model.Spectrum, opts Options) *model.ReflectionList {
	rl := &model.ReflectionList{}
	if wavelength <= 0 || opts.HighRes <= 0 {
		return rl
	}
	astar, bstar, cstar := cell.Reciprocal()
	meanK := 1 / wavelength
	if spectrum != nil {
		if mk := spectrum.MeanK(); mk > 0 {
			meanK = mk
		}
	}

	maxH := boundIndex(cell.A, opts.HighRes)
	maxK := boundIndex(cell.B, opts.HighRes)
	maxL := boundIndex(cell.C, opts.HighRes)

	model_ := opts.Model
	if model_ == nil {
		model_ = Unity{}
	}

	for h := -maxH; h <= maxH; h++ {
		for k := -maxK; k <= maxK; k++ {
			for l := -maxL; l <= maxL; l++ {
				if h == 0 && k == 0 && l == 0 {
					continue
				}
				hkl := model.MillerIndex{H: h, K: k, L: l}
				if Forbidden(cell.Centering, hkl) {
					continue
				}
				q := astar.Scale(float64(h)).Add(bstar.Scale(float64(k))).Add(cstar.Scale(float64(l)))
				qlen := math.Sqrt(q.Dot(q))
				if qlen == 0 || qlen/2 > opts.HighRes {
					continue
				}

				excit := excitationError(q, meanK)
				partiality, predK, lorentz := model_.Compute(excit, opts.R, spectrum, meanK, hkl, opts.Serial)
				if partiality <= 0 {
					continue
				}

				kIn := model.Vec3{Z: meanK}
				kOut := q.Add(kIn)
				fs, ss, panelName, ok := intersectPanel(geo, kOut)
				if !ok {
					continue
				}

				rl.Add(model.Reflection{
					Index:           hkl,
					FS:              fs,
					SS:              ss,
					Panel:           panelName,
					ExcitationError: excit,
					PredictedK:      predK,
					Lorentz:         lorentz,
					Partiality:      partiality,
				})
			}
		}
	}
	return rl
}

func boundIndex(axisLen, highRes float64) int {
	n := int(math.Ceil(axisLen * highRes))
	if n < 1 {
		n = 1
	}
	return n
}

// excitationError is the signed distance of reciprocal point q from the
// Ewald sphere of radius meanK centered at -k_in = (0,0,-meanK).
func excitationError(q model.Vec3, meanK float64) float64 {
	center := model.Vec3{Z: -meanK}
	d := q.Sub(center)
	return math.Sqrt(d.Dot(d)) - meanK
}

// intersectPanel solves, for each panel in turn, the 3x3 linear system
//
//	origin + fs*FS + ss*SS = t * dir        (t > 0)
//
// for (fs, ss, t), returning the first panel (in geometry order) whose
// solution falls within its pixel rectangle.
func intersectPanel(geo *model.Geometry, dir model.Vec3) (fs, ss float64, panelName string, ok bool) {
	for i := range geo.Panels {
		p := &geo.Panels[i]
		f, s, t, solved := solve3x3(p.FS, p.SS, dir.Scale(-1), p.Origin.Scale(-1))
		if !solved || t <= 0 {
			continue
		}
		if f >= -0.5 && f < float64(p.Width)+0.5 && s >= -0.5 && s < float64(p.Height)+0.5 {
			return f, s, p.Name, true
		}
	}
	return 0, 0, "", false
}

// solve3x3 solves [a b c][x y z]^T = d via Cramer's rule, where a,b,c are
// the columns of the matrix (here FS, SS, -dir) and d is -origin.
func solve3x3(a, b, c, d model.Vec3) (x, y, z float64, ok bool) {
	det := a.Dot(b.Cross(c))
	if math.Abs(det) < 1e-30 {
		return 0, 0, 0, false
	}
	x = d.Dot(b.Cross(c)) / det
	y = a.Dot(d.Cross(c)) / det
	z = a.Dot(b.Cross(d)) / det
	return x, y, z, true
}

// Forbidden reports whether hkl is a systematic absence for the given
// centering symbol.
func Forbidden(cen model.Centering, hkl model.MillerIndex) bool {
	h, k, l := hkl.H, hkl.K, hkl.L
	switch cen {
	case model.CenteringI:
		return mod2(h+k+l) != 0
	case model.CenteringF:
		return !(allSameParity(h, k, l))
	case model.CenteringC:
		return mod2(h+k) != 0
	case model.CenteringA:
		return mod2(k+l) != 0
	case model.CenteringB:
		return mod2(h+l) != 0
	case model.CenteringR:
		return mod3(-h+k+l) != 0
	default: // P, H
		return false
	}
}

func mod2(v int) int {
	m := v % 2
	if m < 0 {
		m += 2
	}
	return m
}

func mod3(v int) int {
	m := v % 3
	if m < 0 {
		m += 3
	}
	return m
}

func allSameParity(h, k, l int) bool {
	return mod2(h) == mod2(k) && mod2(k) == mod2(l)
}
