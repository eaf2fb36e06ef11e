package pipeline

import (
	"github.com/crystfel-go/indexamajig/model"
	"github.com/crystfel-go/indexamajig/peaksearch"
)

// MaskResolution returns a geometry identical to geo except that every
// pixel whose reciprocal-space radius exceeds highRes is additionally
// marked bad. The base geometry is immutable and shared read-only across
// workers, so this always produces a fresh copy rather than mutating geo;
// callers that disable the cutoff (highRes <= 0) get geo back unchanged to
// avoid the copy's cost.
func MaskResolution(geo *model.Geometry, wavelength, highRes float64) *model.Geometry {
	if highRes <= 0 || wavelength <= 0 {
		return geo
	}
	out := &model.Geometry{Digest: geo.Digest, Panels: make([]model.Panel, len(geo.Panels))}
	for i, p := range geo.Panels {
		cp := p
		cp.BadPixel = cloneOrNewMask(p.BadPixel, p.Width, p.Height)
		for ss := 0; ss < p.Height; ss++ {
			for fs := 0; fs < p.Width; fs++ {
				if cp.BadPixel[ss][fs] {
					continue
				}
				lab := p.ToLab(float64(fs), float64(ss))
				if peaksearch.Resolution(lab, wavelength) > highRes {
					cp.BadPixel[ss][fs] = true
				}
			}
		}
		out.Panels[i] = cp
	}
	return out
}

func cloneOrNewMask(existing [][]bool, w, h int) [][]bool {
	out := make([][]bool, h)
	for y := 0; y < h; y++ {
		out[y] = make([]bool, w)
		if y < len(existing) {
			copy(out[y], existing[y])
		}
	}
	return out
}
