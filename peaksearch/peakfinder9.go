package peaksearch

import (
	"math"

	"github.com/crystfel-go/indexamajig/model"
)

// searchPeakfinder9 implements a local-background model with four explicit
// tests against the candidate pixel: it must be the biggest pixel in its
// immediate neighbourhood, its SNR against local background must clear
// MinSNRPeakPix, at least one neighbour must also clear a lower threshold
// (MinPeakOverNeighbour), and the local background sigma must exceed
// MinSigma (rejecting perfectly flat, masked-adjacent regions).
func searchPeakfinder9(img *model.Image, geo *model.Geometry, cfg Config) (*model.PeakList, error) {
	pl := &model.PeakList{}
	const halfBox = 3

	for i := range geo.Panels {
		panel := &geo.Panels[i]
		pd, ok := img.Panels[panel.Name]
		if !ok {
			continue
		}
		for ss := halfBox; ss < panel.Height-halfBox; ss++ {
			for fs := halfBox; fs < panel.Width-halfBox; fs++ {
				if panel.IsBad(fs, ss) {
					continue
				}
				v := pd.Data[ss][fs]

				if !isBiggestInBox(pd, panel, fs, ss, halfBox) {
					continue
				}

				bg, sigma := localBackground(pd, panel, fs, ss, halfBox)
				if sigma < cfg.MinSigma {
					continue
				}
				snrPeak := (v - bg) / sigma
				if snrPeak < cfg.MinSNRPeakPix {
					continue
				}
				if !hasQualifyingNeighbour(pd, panel, fs, ss, bg, sigma, cfg.MinPeakOverNeighbour) {
					continue
				}

				peak := model.Peak{
					FS: pixelCoord(fs, cfg), SS: pixelCoord(ss, cfg),
					Panel: panel.Name, Intensity: v, Background: bg, HasBackground: true,
					SNR: snrPeak,
				}
				if img.Wavelength > 0 {
					peak.Resolution = panelResolution(panel.ToLab(peak.FS, peak.SS), img.Wavelength)
				}
				pl.Peaks = append(pl.Peaks, peak)
			}
		}
	}
	return pl, nil
}

func isBiggestInBox(pd *model.PanelData, panel *model.Panel, fs, ss, half int) bool {
	v := pd.Data[ss][fs]
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := fs+dx, ss+dy
			if !panel.InBounds(nx, ny) {
				continue
			}
			if pd.Data[ny][nx] > v {
				return false
			}
		}
	}
	return true
}

func localBackground(pd *model.PanelData, panel *model.Panel, fs, ss, half int) (mean, sigma float64) {
	var sum, sumSq float64
	var n int
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			if abs(dx) < 2 && abs(dy) < 2 {
				continue // exclude the peak core
			}
			nx, ny := fs+dx, ss+dy
			if !panel.InBounds(nx, ny) || panel.IsBad(nx, ny) {
				continue
			}
			v := pd.Data[ny][nx]
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	mean = sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

func hasQualifyingNeighbour(pd *model.PanelData, panel *model.Panel, fs, ss int, bg, sigma, minOver float64) bool {
	if sigma == 0 {
		return false
	}
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := fs+dx, ss+dy
			if !panel.InBounds(nx, ny) {
				continue
			}
			if (pd.Data[ny][nx]-bg)/sigma >= minOver {
				return true
			}
		}
	}
	return false
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
