package peaksearch

import (
	"github.com/crystfel-go/indexamajig/model"
)

// Revalidate recomputes local SNR for every peak and drops those below
// cfg.RevalidateSNRMin. It is applied as a common post-step after any of
// the six search methods, including prepared lists, unless the caller sets
// SkipRevalidate.
func Revalidate(img *model.Image, geo *model.Geometry, pl *model.PeakList, cfg Config) *model.PeakList {
	out := &model.PeakList{}
	for _, p := range pl.Peaks {
		panel := geo.PanelByName(p.Panel)
		pd, ok := img.Panels[p.Panel]
		if panel == nil || !ok {
			continue
		}
		fs, ss := int(p.FS), int(p.SS)
		if cfg.HalfPixelShift {
			fs, ss = int(p.FS-0.5), int(p.SS-0.5)
		}
		if !panel.InBounds(fs, ss) {
			continue
		}
		snr := localSNR(pd, panel, fs, ss, 3)
		p.SNR = snr
		if snr < cfg.RevalidateSNRMin {
			continue
		}
		out.Peaks = append(out.Peaks, p)
	}
	return out
}
