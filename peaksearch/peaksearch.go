// Package peaksearch implements the six Bragg-peak-finding methods a
// per-image pipeline can dispatch to, plus the common SNR revalidation step
// applied after any of them.
package peaksearch

import (
	"fmt"
	"math"

	"github.com/crystfel-go/indexamajig/model"
)

// Method names a peak search algorithm.
type Method int

const (
	Zaefferer Method = iota
	Peakfinder8
	Peakfinder9
	PreparedListHDF5
	PreparedListCXI
	Payload
)

func (m Method) String() string {
	switch m {
	case Zaefferer:
		return "zaefferer"
	case Peakfinder8:
		return "peakfinder8"
	case Peakfinder9:
		return "peakfinder9"
	case PreparedListHDF5:
		return "hdf5"
	case PreparedListCXI:
		return "cxi"
	case Payload:
		return "payload"
	default:
		return "unknown"
	}
}

// Config carries the parameters shared (or selectively used) across all
// six methods, plus the revalidation thresholds.
type Config struct {
	Method Method

	// Zaefferer
	GradientThreshold float64
	SNRThreshold      float64
	RejectSaturated   bool

	// Peakfinder8 / Peakfinder9 shared
	Threshold    float64 // sigma multiplier
	MinPixCount  int
	MaxPixCount  int
	MinRes, MaxRes float64 // resolution band, Angstrom^-1; 0 disables the bound

	// Peakfinder9 specific
	MinSNRBiggestPix  float64
	MinSNRPeakPix     float64
	MinSigma          float64
	MinPeakOverNeighbour float64

	// Revalidation (applied to all methods unless SkipRevalidate)
	SkipRevalidate   bool
	RevalidateSNRMin float64

	// HalfPixelShift models the source's pixel-center convention: when true,
	// integer pixel index i corresponds to lab position i+0.5.
	HalfPixelShift bool
}

// Search dispatches to the configured algorithm and applies revalidation
// unless suppressed. All methods return peaks in panel-relative pixel units
// using cfg.HalfPixelShift's convention.
func Search(img *model.Image, geo *model.Geometry, cfg Config) (*model.PeakList, error) {
	var (
		pl  *model.PeakList
		err error
	)
	switch cfg.Method {
	case Zaefferer:
		pl, err = searchZaefferer(img, geo, cfg)
	case Peakfinder8:
		pl, err = searchPeakfinder8(img, geo, cfg)
	case Peakfinder9:
		pl, err = searchPeakfinder9(img, geo, cfg)
	case PreparedListHDF5:
		pl, err = searchPreparedListHDF5(img)
	case PreparedListCXI:
		pl, err = searchPreparedListCXI(img)
	case Payload:
		pl, err = searchPayload(img)
	default:
		return nil, fmt.Errorf("peaksearch: unknown method %v", cfg.Method)
	}
	if err != nil {
		return nil, err
	}
	if !cfg.SkipRevalidate {
		pl = Revalidate(img, geo, pl, cfg)
	}
	return pl, nil
}

// Resolution computes 1/d (Angstrom^-1) for a lab-frame position given the
// image's wavelength, for use by any stage that needs to bound pixels by
// reciprocal-space radius (e.g. a resolution mask applied before peak
// search).
func Resolution(lab model.Vec3, wavelength float64) float64 {
	return panelResolution(lab, wavelength)
}

// panelResolution computes 1/d for a lab-frame position given the image's
// wavelength: |q| = 2k sin(theta/2), where theta is the scattering angle
// implied by the detector position and the beam direction (lab.Z).
func panelResolution(lab model.Vec3, wavelength float64) float64 {
	if wavelength <= 0 {
		return 0
	}
	k := 1 / wavelength
	r := math.Hypot(lab.X, lab.Y)
	theta := 0.5 * math.Atan2(r, lab.Z)
	return 2 * k * math.Sin(theta)
}
