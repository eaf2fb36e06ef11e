package peaksearch

import (
	"math"

	"github.com/crystfel-go/indexamajig/model"
)

// searchZaefferer implements the gradient-threshold walk: a pixel is a seed
// if its local squared gradient exceeds GradientThreshold; from each seed an
// iterative walk climbs to the local maximum, which becomes the reported
// peak position if its signal-to-noise exceeds SNRThreshold.
func searchZaefferer(img *model.Image, geo *model.Geometry, cfg Config) (*model.PeakList, error) {
	pl := &model.PeakList{}
	visited := make(map[string]map[[2]int]bool, len(img.Panels))

	for i := range geo.Panels {
		panel := &geo.Panels[i]
		pd, ok := img.Panels[panel.Name]
		if !ok {
			continue
		}
		seen := make(map[[2]int]bool)
		visited[panel.Name] = seen

		for ss := 1; ss < panel.Height-1; ss++ {
			for fs := 1; fs < panel.Width-1; fs++ {
				if panel.IsBad(fs, ss) || seen[[2]int{fs, ss}] {
					continue
				}
				if cfg.RejectSaturated && panel.IsSaturated(fs, ss) {
					continue
				}
				gx := pd.Data[ss][fs+1] - pd.Data[ss][fs-1]
				gy := pd.Data[ss+1][fs] - pd.Data[ss-1][fs]
				grad2 := gx*gx + gy*gy
				if grad2 <= cfg.GradientThreshold {
					continue
				}
				fx, fy := walkToMaximum(pd, panel, fs, ss)
				key := [2]int{fx, fy}
				if seen[key] {
					continue
				}
				seen[key] = true

				snr := localSNR(pd, panel, fx, fy, 3)
				if snr <= cfg.SNRThreshold {
					continue
				}

				peak := model.Peak{
					FS: pixelCoord(fx, cfg), SS: pixelCoord(fy, cfg),
					Panel:     panel.Name,
					Intensity: pd.Data[fy][fx],
					SNR:       snr,
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

// walkToMaximum follows the steepest local ascent from (fs,ss) to a local
// maximum within the panel, bounded to avoid pathological non-termination.
func walkToMaximum(pd *model.PanelData, panel *model.Panel, fs, ss int) (int, int) {
	for step := 0; step < 64; step++ {
		bestFS, bestSS := fs, ss
		best := pd.Data[ss][fs]
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := fs+dx, ss+dy
				if !panel.InBounds(nx, ny) {
					continue
				}
				if v := pd.Data[ny][nx]; v > best {
					best, bestFS, bestSS = v, nx, ny
				}
			}
		}
		if bestFS == fs && bestSS == ss {
			return fs, ss
		}
		fs, ss = bestFS, bestSS
	}
	return fs, ss
}

// localSNR estimates signal-to-noise at (fs,ss) against the
// (2*box+1)x(2*box+1) neighbourhood around it, excluding only the centre
// pixel itself. Where that neighbourhood is perfectly flat (zero sigma), a
// centre pixel above the mean scores +Inf and any other scores 0.
func localSNR(pd *model.PanelData, panel *model.Panel, fs, ss, box int) float64 {
	var sum, sumSq float64
	var n int
	for dy := -box; dy <= box; dy++ {
		for dx := -box; dx <= box; dx++ {
			if dx == 0 && dy == 0 {
				continue
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
		return 0
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	sigma := math.Sqrt(variance)
	if sigma == 0 {
		if pd.Data[ss][fs] > mean {
			return math.Inf(1)
		}
		return 0
	}
	return (pd.Data[ss][fs] - mean) / sigma
}

// pixelCoord converts an integer pixel index to the configured coordinate
// convention (pixel-center or corner-origin).
func pixelCoord(i int, cfg Config) float64 {
	if cfg.HalfPixelShift {
		return float64(i) + 0.5
	}
	return float64(i)
}
