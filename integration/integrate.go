// Package integration computes per-reflection intensities from the
// unfiltered pixel snapshot: a local planar background is fit in an
// annulus around the predicted position, the signal is summed over the
// inner disk, and an optional profile-fitting pass reports a fitted
// amplitude instead of the raw sum.
package integration

import (
	"math"

	"github.com/crystfel-go/indexamajig/model"
)

// Radii are the three concentric boundaries, in pixels, around a predicted
// reflection position: the signal disk (0..Inner), an unused gap
// (Inner..Mid), and the background annulus (Mid..Outer).
type Radii struct {
	Inner, Mid, Outer float64
}

// Options configures one integration pass.
type Options struct {
	Radii               Radii
	MinBackgroundPixels int
	Recentre            bool // centre-of-mass recentring, up to 1 px
	ProfileFit          bool
	UseSaturated        bool // true: include saturated reflections anyway
}

// Integrate fills in Intensity, ESD, and Flag on refl in place, reading
// pixel values from snapshot (the pre-filter image, per the pipeline's
// restore-before-integration policy) and using geo to map predicted
// detector coordinates to panel pixel data.
func Integrate(snapshot map[string]*model.PanelData, geo *model.Geometry, refl *model.Reflection, opts Options, shared *Profile) {
	panel := geo.PanelByName(refl.Panel)
	pd, ok := snapshot[refl.Panel]
	if panel == nil || !ok {
		refl.Flag = model.IntegrationNotIntegrable
		return
	}

	fs, ss := refl.FS, refl.SS
	if opts.Recentre {
		fs, ss = recentre(pd, panel, fs, ss, opts.Radii.Inner)
	}

	if !boxWithinPanel(panel, fs, ss, opts.Radii.Outer) {
		refl.Flag = model.IntegrationOutOfPanel
		return
	}

	signalPix, bgPix := classifyPixels(pd, panel, fs, ss, opts.Radii)
	if len(bgPix) < opts.MinBackgroundPixels {
		refl.Flag = model.IntegrationNotIntegrable
		return
	}

	plane, planeErr, ok := fitPlane(bgPix)
	if !ok {
		refl.Flag = model.IntegrationNotIntegrable
		return
	}

	saturated := false
	var signalSum, signalVar float64
	for _, px := range signalPix {
		if panel.IsSaturated(px.fs, px.ss) {
			saturated = true
		}
		bg := plane.valueAt(px.fs, px.ss)
		signalSum += px.value - bg
		signalVar += px.value
	}
	signalVar += planeErr * float64(len(signalPix))

	if saturated && !opts.UseSaturated {
		refl.Flag = model.IntegrationSaturated
		refl.Intensity = 0
		refl.ESD = 0
		return
	}

	if opts.ProfileFit && shared != nil && shared.Ready() {
		amplitude, amplitudeVar := shared.FitAmplitude(signalPix, plane)
		refl.Intensity = amplitude
		refl.ESD = math.Sqrt(math.Abs(amplitudeVar))
	} else {
		refl.Intensity = signalSum
		refl.ESD = math.Sqrt(math.Abs(signalVar))
	}
	refl.FS, refl.SS = fs, ss
	if saturated {
		refl.Flag = model.IntegrationSaturated
	} else {
		refl.Flag = model.IntegrationOK
	}
}

type pixel struct {
	fs, ss int
	value  float64
}

// classifyPixels buckets the pixels around (cfs,css) into the signal disk
// and the background annulus, skipping masked pixels.
func classifyPixels(pd *model.PanelData, panel *model.Panel, cfs, css float64, r Radii) (signal, bg []pixel) {
	outer := int(math.Ceil(r.Outer))
	cx, cy := int(math.Round(cfs)), int(math.Round(css))
	for dy := -outer; dy <= outer; dy++ {
		for dx := -outer; dx <= outer; dx++ {
			fs, ss := cx+dx, cy+dy
			if !panel.InBounds(fs, ss) || panel.IsBad(fs, ss) {
				continue
			}
			d := math.Hypot(float64(fs)-cfs, float64(ss)-css)
			px := pixel{fs: fs, ss: ss, value: pd.Data[ss][fs]}
			switch {
			case d <= r.Inner:
				signal = append(signal, px)
			case d > r.Mid && d <= r.Outer:
				bg = append(bg, px)
			}
		}
	}
	return signal, bg
}

func boxWithinPanel(panel *model.Panel, cfs, css, outer float64) bool {
	return cfs-outer >= 0 && cfs+outer < float64(panel.Width) &&
		css-outer >= 0 && css+outer < float64(panel.Height)
}

// recentre moves the integration centre by up to one pixel toward the
// intensity centroid of the current signal disk.
func recentre(pd *model.PanelData, panel *model.Panel, cfs, css, innerR float64) (float64, float64) {
	signal, _ := classifyPixels(pd, panel, cfs, css, Radii{Inner: innerR, Mid: innerR, Outer: innerR})
	var sumI, sumFS, sumSS float64
	for _, px := range signal {
		if px.value <= 0 {
			continue
		}
		sumI += px.value
		sumFS += px.value * float64(px.fs)
		sumSS += px.value * float64(px.ss)
	}
	if sumI == 0 {
		return cfs, css
	}
	cx, cy := sumFS/sumI, sumSS/sumI
	dx, dy := cx-cfs, cy-css
	dist := math.Hypot(dx, dy)
	if dist > 1 {
		dx, dy = dx/dist, dy/dist
	}
	return cfs + dx, css + dy
}
