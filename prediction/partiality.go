// Package prediction turns a unit cell and orientation into the set of
// reflections that intersect the Ewald sphere (with partiality and Lorentz
// factor), and refines orientation, profile radius, and wavelength against
// an observed peak/reflection list.
package prediction

import (
	"hash/fnv"
	"math"

	"github.com/crystfel-go/indexamajig/model"
)

// PartialityModel computes a reflection's partiality, predicted k at
// half-integration, and Lorentz factor from its signed excitation error.
type PartialityModel interface {
	Name() string
	Compute(excitationError, R float64, spectrum *model.Spectrum, meanK float64, hkl model.MillerIndex, serial int64) (partiality, predictedK, lorentz float64)
}

// Unity is used when the spectrum is unknown: every reflection that makes
// it past the geometric cutoff is fully partial, with no Lorentz scaling.
type Unity struct{}

func (Unity) Name() string { return "unity" }

func (Unity) Compute(excitationError, R float64, spectrum *model.Spectrum, meanK float64, hkl model.MillerIndex, serial int64) (float64, float64, float64) {
	return 1, meanK, 1
}

// XSphere models reciprocal-lattice points as spheres of radius
// R = r0 + m*|q| and integrates the overlap with an Ewald sphere of finite
// spectral width numerically, over a small fixed number of spectrum
// samples.
type XSphere struct {
	R0, M float64 // profile radius model: R(q) = R0 + M*|q|
}

func (XSphere) Name() string { return "xsphere" }

const xsphereSamples = 7

func (x XSphere) Compute(excitationError, qlen float64, spectrum *model.Spectrum, meanK float64, hkl model.MillerIndex, serial int64) (float64, float64, float64) {
	R := x.R0 + x.M*qlen
	if R <= 0 {
		R = 1e-6
	}

	samples, weights := spectrumSamples(spectrum, meanK, xsphereSamples)

	var totalW, partW, predK float64
	for i, k := range samples {
		w := weights[i]
		totalW += w
		// Excitation error scales with the chosen sample k relative to the
		// mean; a first-order shift is: excit(k) = excit(meanK) + (k-meanK).
		excit := excitationError + (k - meanK)
		overlap := sphereOverlapFraction(excit, R)
		partW += w * overlap
		predK += w * overlap * k
	}
	if totalW == 0 {
		return 0, meanK, 1
	}
	partiality := partW / totalW
	predictedK := meanK
	if partW > 0 {
		predictedK = predK / partW
	}
	return clamp01(partiality), predictedK, lorentzFactor(qlen, meanK)
}

// sphereOverlapFraction returns the fraction of a sphere of radius R,
// centered at signed distance `excit` from the Ewald sphere surface, that
// lies within the Ewald sphere. This is the standard spherical-cap volume
// ratio used as a partiality proxy.
func sphereOverlapFraction(excit, R float64) float64 {
	if excit <= -R {
		return 1
	}
	if excit >= R {
		return 0
	}
	// Cap height h = R - excit (how far the near side of the ball penetrates
	// past the sphere surface); volume fraction of a ball covered by a cap
	// of height h is (3Rh^2 - h^3) / (4R^3).
	h := R - excit
	vol := (3*R*h*h - h*h*h) / (4 * R * R * R)
	return clamp01(vol)
}

// spectrumSamples draws a small fixed number of representative k values
// from the spectrum's Gaussian mixture (or a single delta at meanK if no
// spectrum is known), each with an associated weight.
func spectrumSamples(spectrum *model.Spectrum, meanK float64, n int) ([]float64, []float64) {
	if spectrum == nil || len(spectrum.K) == 0 {
		return []float64{meanK}, []float64{1}
	}
	// Sample n points evenly across +-2 sigma of the dominant component.
	dominant := 0
	for i := range spectrum.Weight {
		if spectrum.Weight[i] > spectrum.Weight[dominant] {
			dominant = i
		}
	}
	k0 := spectrum.K[dominant]
	sigma := spectrum.Sigma[dominant]
	if sigma <= 0 {
		sigma = 1e-4
	}
	ks := make([]float64, n)
	ws := make([]float64, n)
	for i := 0; i < n; i++ {
		t := -2 + 4*float64(i)/float64(n-1)
		k := k0 + t*sigma
		ks[i] = k
		ws[i] = math.Exp(-0.5 * t * t)
	}
	return ks, ws
}

// EwaldOffset is a Gaussian in signed excitation error, width set by R.
type EwaldOffset struct{}

func (EwaldOffset) Name() string { return "offset" }

func (EwaldOffset) Compute(excitationError, R float64, spectrum *model.Spectrum, meanK float64, hkl model.MillerIndex, serial int64) (float64, float64, float64) {
	sigma := R
	if sigma <= 0 {
		sigma = 1e-6
	}
	p := math.Exp(-(excitationError * excitationError) / (2 * sigma * sigma))
	return clamp01(p), meanK, lorentzFactor(0, meanK)
}

// Random produces a deterministic pseudo-random partiality seeded by the
// image serial and Miller indices, for use in tests that need stable but
// non-trivial partiality values.
type Random struct{}

func (Random) Name() string { return "random" }

func (Random) Compute(excitationError, R float64, spectrum *model.Spectrum, meanK float64, hkl model.MillerIndex, serial int64) (float64, float64, float64) {
	h := fnv.New64a()
	var buf [32]byte
	writeInt64(buf[0:8], serial)
	writeInt64(buf[8:16], int64(hkl.H))
	writeInt64(buf[16:24], int64(hkl.K))
	writeInt64(buf[24:32], int64(hkl.L))
	_, _ = h.Write(buf[:])
	v := float64(h.Sum64()%1_000_000) / 1_000_000
	return v, meanK, 1
}

func writeInt64(b []byte, v int64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// lorentzFactor is the Lorentz factor XSphere and EwaldOffset report
// (EwaldOffset passes qlen 0, which yields 1; Unity and Random report 1
// without calling it); qlen is |q|, meanK is 1/lambda. theta is derived from sin(theta) = qlen/(2k).
func lorentzFactor(qlen, meanK float64) float64 {
	if meanK <= 0 {
		return 1
	}
	sinTheta := qlen / (2 * meanK)
	if sinTheta <= 0 || sinTheta >= 1 {
		return 1
	}
	cosTheta := math.Sqrt(1 - sinTheta*sinTheta)
	denom := 2 * sinTheta * cosTheta
	if denom == 0 {
		return 1
	}
	return 1 / denom
}
