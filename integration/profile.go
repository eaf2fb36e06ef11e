package integration

import "math"

// Profile is an empirical 2-D spot shape shared among the strong
// reflections of one crystal. It is accumulated from a first integration
// pass (raw sums) and then used in a second pass to fit a single amplitude
// per reflection instead of reporting the raw background-subtracted sum.
type Profile struct {
	samples map[[2]int][]float64 // relative (dfs,dss) -> accumulated background-subtracted values
	template map[[2]int]float64  // normalized shape once Build is called
}

// NewProfile returns an empty profile accumulator.
func NewProfile() *Profile {
	return &Profile{samples: make(map[[2]int][]float64)}
}

// Accumulate folds one reflection's background-subtracted signal pixels
// into the shared profile, keyed by offset from its own centre.
func (p *Profile) Accumulate(signal []pixel, plane planarBackground, cfs, css float64) {
	cx, cy := int(math.Round(cfs)), int(math.Round(css))
	for _, px := range signal {
		key := [2]int{px.fs - cx, px.ss - cy}
		v := px.value - plane.valueAt(px.fs, px.ss)
		p.samples[key] = append(p.samples[key], v)
	}
}

// Build normalizes the accumulated samples into a unit-amplitude template.
// Must be called once after all strong reflections have been accumulated
// and before FitAmplitude is used.
func (p *Profile) Build() {
	if len(p.samples) == 0 {
		return
	}
	p.template = make(map[[2]int]float64, len(p.samples))
	var peak float64
	for key, vals := range p.samples {
		mean := 0.0
		for _, v := range vals {
			mean += v
		}
		mean /= float64(len(vals))
		p.template[key] = mean
		if mean > peak {
			peak = mean
		}
	}
	if peak == 0 {
		peak = 1
	}
	for key, v := range p.template {
		p.template[key] = v / peak
	}
}

// Ready reports whether Build has produced a usable template.
func (p *Profile) Ready() bool { return p != nil && len(p.template) > 0 }

// FitAmplitude fits the shared template to one reflection's signal pixels
// by linear least squares over a single amplitude parameter, returning the
// fitted amplitude and its variance.
func (p *Profile) FitAmplitude(signal []pixel, plane planarBackground) (amplitude, variance float64) {
	cx, cy := centroidInt(signal)
	var num, den float64
	var n int
	for _, px := range signal {
		key := [2]int{px.fs - cx, px.ss - cy}
		t, ok := p.template[key]
		if !ok {
			continue
		}
		v := px.value - plane.valueAt(px.fs, px.ss)
		num += t * v
		den += t * t
		n++
	}
	if den == 0 {
		return 0, 0
	}
	amplitude = num / den
	if n > 1 {
		variance = 1 / den
	}
	return amplitude, variance
}

func centroidInt(signal []pixel) (int, int) {
	if len(signal) == 0 {
		return 0, 0
	}
	var sumFS, sumSS int
	for _, px := range signal {
		sumFS += px.fs
		sumSS += px.ss
	}
	return sumFS / len(signal), sumSS / len(signal)
}
