package pipeline

import "github.com/crystfel-go/indexamajig/model"

// FilterConfig selects the optional filters. MedianHalfWidth, when nonzero,
// replaces every pixel with the median of the (2n+1)x(2n+1) box centred on
// it.
type FilterConfig struct {
	MedianHalfWidth int // 0 disables
	NoiseFilter     bool
}

// ApplyFilters runs the configured filters over every panel of img in
// place. Callers must take a snapshot first if the unfiltered data is
// still needed (integration reads from that snapshot, never from the
// filtered copy).
func ApplyFilters(img *model.Image, cfg FilterConfig) {
	if cfg.MedianHalfWidth <= 0 && !cfg.NoiseFilter {
		return
	}
	for _, pd := range img.Panels {
		if cfg.NoiseFilter {
			noiseFilter3x3(pd)
		}
		if cfg.MedianHalfWidth > 0 {
			medianFilter(pd, cfg.MedianHalfWidth)
		}
	}
}

// noiseFilter3x3 zeroes every non-overlapping 3x3 block that contains at
// least one negative pixel, a cheap way to suppress detector noise bursts
// without touching isolated positive spots.
func noiseFilter3x3(pd *model.PanelData) {
	h := len(pd.Data)
	if h == 0 {
		return
	}
	w := len(pd.Data[0])
	for by := 0; by < h; by += 3 {
		for bx := 0; bx < w; bx += 3 {
			negative := false
			for y := by; y < by+3 && y < h && !negative; y++ {
				for x := bx; x < bx+3 && x < w; x++ {
					if pd.Data[y][x] < 0 {
						negative = true
						break
					}
				}
			}
			if !negative {
				continue
			}
			for y := by; y < by+3 && y < h; y++ {
				for x := bx; x < bx+3 && x < w; x++ {
					pd.Data[y][x] = 0
				}
			}
		}
	}
}

// medianFilter replaces each pixel with the median of the (2n+1)x(2n+1) box
// centred on it, clamping the box to the panel edge.
func medianFilter(pd *model.PanelData, n int) {
	h := len(pd.Data)
	if h == 0 {
		return
	}
	w := len(pd.Data[0])
	out := make([][]float64, h)
	for y := range out {
		out[y] = make([]float64, w)
	}

	window := make([]float64, 0, (2*n+1)*(2*n+1))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			window = window[:0]
			for dy := -n; dy <= n; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -n; dx <= n; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					window = append(window, pd.Data[yy][xx])
				}
			}
			out[y][x] = median(window)
		}
	}
	pd.Data = out
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	insertionSort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// insertionSort is used instead of sort.Float64s because filter windows are
// small (typically 9-49 elements) and this avoids importing sort's
// interface overhead in the innermost per-pixel loop.
func insertionSort(vals []float64) {
	for i := 1; i < len(vals); i++ {
		v := vals[i]
		j := i - 1
		for j >= 0 && vals[j] > v {
			vals[j+1] = vals[j]
			j--
		}
		vals[j+1] = v
	}
}
