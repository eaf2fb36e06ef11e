// Package indexing (driver.go) orchestrates a list of backends against one
// image: it runs each in turn, validates whatever cell comes back against
// the reference cell and the observed peaks, retries with the weakest
// peaks pruned, and optionally keeps going to pull multiple lattices out
// of one image.
package indexing

import (
	"context"
	"math"
	"sort"

	"github.com/crystfel-go/indexamajig/model"
	"github.com/crystfel-go/indexamajig/prediction"
)

// Flags controls which validation and extraction steps the driver performs
// around each backend's raw output.
type Flags struct {
	CheckCellAxes         bool // search axis permutations against the reference cell
	CheckCellCombinations bool // also search integer axis combinations, not just permutations
	CheckPeaks            bool
	CheckPeaksFraction    float64 // minimum fraction of peaks that must match a prediction
	CheckPeaksRadius      float64 // pixels

	Retry           bool
	RetryRounds     int
	RetryDropFrac   float64 // fraction of weakest-SNR peaks dropped each retry round

	Multi            bool
	MultiMaxLattices int
	MultiRadius      float64 // pixels; peaks within this of a predicted spot are "accounted for"
}

// Driver runs a fixed, ordered list of backends against successive images.
// A single Driver is shared, read-only after construction, across every
// worker goroutine; the geometry for a call is passed in rather than held
// as a field so that per-image variants (e.g. a resolution-masked copy)
// never need to mutate shared state.
type Driver struct {
	Backends   []Backend
	Reference  *model.UnitCell // nil means accept whatever cell a backend proposes, unmatched
	Tolerances Tolerances
	Flags      Flags
	Predict    prediction.Options
}

// Index runs the full single-pass/retry/multi-lattice logic for one image
// and returns every crystal accepted, in acceptance order.
func (d *Driver) Index(ctx context.Context, img *model.Image, geo *model.Geometry) []*model.Crystal {
	peaks := img.Peaks.Clone()
	var crystals []*model.Crystal

	for {
		select {
		case <-ctx.Done():
			return crystals
		default:
		}

		crystal, remaining := d.singlePass(ctx, img, geo, peaks)
		if crystal == nil {
			return crystals
		}
		crystals = append(crystals, crystal)

		if !d.Flags.Multi {
			return crystals
		}
		if d.Flags.MultiMaxLattices > 0 && len(crystals) >= d.Flags.MultiMaxLattices {
			return crystals
		}
		peaks = d.removeAccounted(remaining, crystal, geo, img.Wavelength, img.Spectrum)
		if peaks.Len() < 3 {
			return crystals
		}
	}
}

// singlePass tries every backend against peaks, in order, applying the
// retry-with-pruned-peaks loop to each before moving to the next. It
// returns the accepted crystal plus the peak list as it stood when that
// crystal was accepted (for multi-lattice accounting).
func (d *Driver) singlePass(ctx context.Context, img *model.Image, geo *model.Geometry, peaks *model.PeakList) (*model.Crystal, *model.PeakList) {
	rounds := d.Flags.RetryRounds
	if !d.Flags.Retry || rounds < 1 {
		rounds = 1
	}

	for _, backend := range d.Backends {
		current := peaks
		for round := 0; round < rounds; round++ {
			attemptImg := &model.Image{
				Filename: img.Filename, Event: img.Event, Serial: img.Serial,
				Wavelength: img.Wavelength, Spectrum: img.Spectrum,
				Panels: img.Panels, Metadata: img.Metadata, Peaks: current,
			}
			crystal, ok := d.tryBackend(ctx, backend, attemptImg, geo)
			if ok {
				return crystal, current
			}
			if !d.Flags.Retry || current.Len() < 4 {
				break
			}
			current = dropWeakest(current, d.Flags.RetryDropFrac)
		}
	}
	return nil, peaks
}

func (d *Driver) tryBackend(ctx context.Context, backend Backend, img *model.Image, geo *model.Geometry) (*model.Crystal, bool) {
	h, err := backend.Prepare(ctx, d.Reference, d.Tolerances)
	if err != nil {
		return nil, false
	}
	defer backend.Cleanup(h)

	candidates, err := backend.Index(ctx, img, h)
	if err != nil || len(candidates) == 0 {
		return nil, false
	}

	for _, candidate := range candidates {
		cell := candidate
		if d.Reference != nil {
			matched, _, ok := MatchCell(candidate, d.Reference, d.Tolerances, d.Flags.CheckCellAxes, d.Flags.CheckCellCombinations)
			if !ok {
				continue
			}
			cell = matched
		}

		crystal := &model.Crystal{Cell: cell, IndexedBy: backend.Name()}

		if d.Flags.CheckPeaks {
			refl := prediction.Predict(cell, geo, img.Wavelength, img.Spectrum, d.Predict)
			if !d.peaksMatch(img.Peaks, refl) {
				continue
			}
			crystal.Reflections = refl
		}
		return crystal, true
	}
	return nil, false
}

// peaksMatch reports whether at least CheckPeaksFraction of the observed
// peaks lie within CheckPeaksRadius pixels of some predicted reflection on
// the same panel.
func (d *Driver) peaksMatch(peaks *model.PeakList, predicted *model.ReflectionList) bool {
	if peaks.Len() == 0 {
		return false
	}
	byPanel := make(map[string][]model.Reflection)
	for _, r := range predicted.Reflections {
		byPanel[r.Panel] = append(byPanel[r.Panel], r)
	}
	matched := 0
	for _, p := range peaks.Peaks {
		for _, r := range byPanel[p.Panel] {
			if math.Hypot(p.FS-r.FS, p.SS-r.SS) <= d.Flags.CheckPeaksRadius {
				matched++
				break
			}
		}
	}
	return float64(matched)/float64(peaks.Len()) >= d.Flags.CheckPeaksFraction
}

// removeAccounted drops peaks explained by crystal's reflections, so the
// next multi-lattice pass searches only the remainder. wavelength and
// spectrum come from the image the crystal was indexed against, since
// Predict needs a real wavelength to place reflections on the Ewald sphere.
func (d *Driver) removeAccounted(peaks *model.PeakList, crystal *model.Crystal, geo *model.Geometry, wavelength float64, spectrum *model.Spectrum) *model.PeakList {
	var refl *model.ReflectionList
	if crystal.Reflections != nil {
		refl = crystal.Reflections
	} else {
		refl = prediction.Predict(crystal.Cell, geo, wavelength, spectrum, d.Predict)
	}
	byPanel := make(map[string][]model.Reflection)
	for _, r := range refl.Reflections {
		byPanel[r.Panel] = append(byPanel[r.Panel], r)
	}
	remove := make(map[int]bool)
	for i, p := range peaks.Peaks {
		for _, r := range byPanel[p.Panel] {
			if math.Hypot(p.FS-r.FS, p.SS-r.SS) <= d.Flags.MultiRadius {
				remove[i] = true
				break
			}
		}
	}
	return peaks.Without(remove)
}

// dropWeakest removes the lowest-SNR fraction of peaks, used by the retry
// loop to see whether a noisy subset of peaks was confusing the backend.
func dropWeakest(peaks *model.PeakList, frac float64) *model.PeakList {
	if frac <= 0 {
		frac = 0.1
	}
	n := len(peaks.Peaks)
	drop := int(math.Ceil(float64(n) * frac))
	if drop < 1 {
		drop = 1
	}
	if drop >= n {
		drop = n - 1
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return peaks.Peaks[order[i]].SNR < peaks.Peaks[order[j]].SNR })
	remove := make(map[int]bool, drop)
	for _, idx := range order[:drop] {
		remove[idx] = true
	}
	return peaks.Without(remove)
}
