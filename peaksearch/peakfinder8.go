package peaksearch

import (
	"math"
	"sort"

	"github.com/crystfel-go/indexamajig/model"
)

// searchPeakfinder8 implements the radial background model: pixels are
// grouped into annuli of equal resolution, each annulus gets a median and
// sigma, and pixels exceeding median + sigma*Threshold are clustered by
// 8-connectivity into candidate peaks, subject to a pixel-count window and
// an optional resolution band.
func searchPeakfinder8(img *model.Image, geo *model.Geometry, cfg Config) (*model.PeakList, error) {
	pl := &model.PeakList{}

	for i := range geo.Panels {
		panel := &geo.Panels[i]
		pd, ok := img.Panels[panel.Name]
		if !ok {
			continue
		}

		const nBins = 50
		binOf := radialBinGrid(panel, nBins)
		annuli := buildAnnuli(pd, panel, binOf, nBins)
		above := markAboveThreshold(pd, panel, binOf, annuli, cfg.Threshold)

		clusters := connectedComponents8(above, panel.Width, panel.Height)
		for _, cl := range clusters {
			if len(cl) < cfg.MinPixCount || (cfg.MaxPixCount > 0 && len(cl) > cfg.MaxPixCount) {
				continue
			}
			peak := clusterToPeak(cl, pd, panel, cfg)
			if img.Wavelength > 0 {
				peak.Resolution = panelResolution(panel.ToLab(peak.FS, peak.SS), img.Wavelength)
				if cfg.MinRes > 0 && peak.Resolution < cfg.MinRes {
					continue
				}
				if cfg.MaxRes > 0 && peak.Resolution > cfg.MaxRes {
					continue
				}
			}
			pl.Peaks = append(pl.Peaks, peak)
		}
	}
	return pl, nil
}

type annulusStat struct {
	median, sigma float64
}

// radialBinGrid assigns every pixel to one of nBins annuli by its lab-frame
// distance from the beam axis (hypot of lab x and y), scaled by the
// panel's largest such distance, giving a binning independent of
// wavelength.
func radialBinGrid(panel *model.Panel, nBins int) [][]int {
	grid := make([][]int, panel.Height)
	maxR := 0.0
	radius := make([][]float64, panel.Height)
	for ss := 0; ss < panel.Height; ss++ {
		radius[ss] = make([]float64, panel.Width)
		for fs := 0; fs < panel.Width; fs++ {
			lab := panel.ToLab(float64(fs), float64(ss))
			r := math.Hypot(lab.X, lab.Y)
			radius[ss][fs] = r
			if r > maxR {
				maxR = r
			}
		}
	}
	if maxR == 0 {
		maxR = 1
	}
	for ss := 0; ss < panel.Height; ss++ {
		grid[ss] = make([]int, panel.Width)
		for fs := 0; fs < panel.Width; fs++ {
			bin := int(radius[ss][fs] / maxR * float64(nBins))
			if bin >= nBins {
				bin = nBins - 1
			}
			grid[ss][fs] = bin
		}
	}
	return grid
}

// buildAnnuli computes the median+sigma of the pixels falling in each
// radial bin, giving a smoothly-varying local background model across the
// panel even when the average background falls off with scattering angle.
func buildAnnuli(pd *model.PanelData, panel *model.Panel, binOf [][]int, nBins int) []annulusStat {
	bins := make([][]float64, nBins)
	for ss := 0; ss < panel.Height; ss++ {
		for fs := 0; fs < panel.Width; fs++ {
			if panel.IsBad(fs, ss) {
				continue
			}
			bin := binOf[ss][fs]
			bins[bin] = append(bins[bin], pd.Data[ss][fs])
		}
	}
	stats := make([]annulusStat, nBins)
	for i, vals := range bins {
		stats[i] = medianSigma(vals)
	}
	return stats
}

func medianSigma(vals []float64) annulusStat {
	if len(vals) == 0 {
		return annulusStat{}
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	median := sorted[len(sorted)/2]
	var sumSq float64
	for _, v := range vals {
		d := v - median
		sumSq += d * d
	}
	sigma := math.Sqrt(sumSq / float64(len(vals)))
	return annulusStat{median: median, sigma: sigma}
}

func markAboveThreshold(pd *model.PanelData, panel *model.Panel, binOf [][]int, annuli []annulusStat, threshold float64) [][]bool {
	out := make([][]bool, panel.Height)
	for ss := 0; ss < panel.Height; ss++ {
		out[ss] = make([]bool, panel.Width)
		for fs := 0; fs < panel.Width; fs++ {
			if panel.IsBad(fs, ss) {
				continue
			}
			a := annuli[binOf[ss][fs]]
			out[ss][fs] = pd.Data[ss][fs] > a.median+a.sigma*threshold
		}
	}
	return out
}

type pixelCoord2 struct{ fs, ss int }

func connectedComponents8(mask [][]bool, w, h int) [][]pixelCoord2 {
	visited := make([][]bool, h)
	for i := range visited {
		visited[i] = make([]bool, w)
	}
	var clusters [][]pixelCoord2
	for ss := 0; ss < h; ss++ {
		for fs := 0; fs < w; fs++ {
			if !mask[ss][fs] || visited[ss][fs] {
				continue
			}
			var cluster []pixelCoord2
			stack := []pixelCoord2{{fs, ss}}
			visited[ss][fs] = true
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				cluster = append(cluster, p)
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := p.fs+dx, p.ss+dy
						if nx < 0 || nx >= w || ny < 0 || ny >= h {
							continue
						}
						if visited[ny][nx] || !mask[ny][nx] {
							continue
						}
						visited[ny][nx] = true
						stack = append(stack, pixelCoord2{nx, ny})
					}
				}
			}
			clusters = append(clusters, cluster)
		}
	}
	return clusters
}

// clusterToPeak reports the intensity-weighted centroid of a cluster as the
// peak position, and its summed intensity.
func clusterToPeak(cluster []pixelCoord2, pd *model.PanelData, panel *model.Panel, cfg Config) model.Peak {
	var sumI, sumFS, sumSS float64
	for _, p := range cluster {
		v := pd.Data[p.ss][p.fs]
		sumI += v
		sumFS += v * float64(p.fs)
		sumSS += v * float64(p.ss)
	}
	var cfs, css float64
	if sumI != 0 {
		cfs, css = sumFS/sumI, sumSS/sumI
	} else {
		cfs, css = float64(cluster[0].fs), float64(cluster[0].ss)
	}
	if cfg.HalfPixelShift {
		cfs += 0.5
		css += 0.5
	}
	return model.Peak{FS: cfs, SS: css, Panel: panel.Name, Intensity: sumI}
}
