package peaksearch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crystfel-go/indexamajig/model"
)

func flatPanel(w, h int, fill float64) (*model.Geometry, *model.Image) {
	rows := make([][]float64, h)
	for y := range rows {
		rows[y] = make([]float64, w)
		for x := range rows[y] {
			rows[y][x] = fill
		}
	}
	geo := &model.Geometry{Panels: []model.Panel{{
		Name: "p0", Width: w, Height: h,
		FS: model.Vec3{X: 1}, SS: model.Vec3{Y: 1}, Origin: model.Vec3{Z: 100},
	}}}
	img := &model.Image{
		Panels:     map[string]*model.PanelData{"p0": {Data: rows}},
		Wavelength: 1.0,
	}
	return geo, img
}

func TestPanel_BoundaryAcceptance(t *testing.T) {
	_, img := flatPanel(10, 10, 0)
	panel := &model.Panel{Width: 10, Height: 10}
	_ = img

	require.True(t, panel.InBounds(0, 0))
	require.True(t, panel.InBounds(9, 9))
	require.False(t, panel.InBounds(-1, -1))
	require.False(t, panel.InBounds(10, 10))
}

func TestRevalidate_DropsLowSNR(t *testing.T) {
	geo, img := flatPanel(20, 20, 10)
	// inject one hot pixel
	img.Panels["p0"].Data[10][10] = 1000

	pl := &model.PeakList{Peaks: []model.Peak{
		{FS: 10, SS: 10, Panel: "p0"},
		{FS: 5, SS: 5, Panel: "p0"}, // flat background, no real peak
	}}

	cfg := Config{RevalidateSNRMin: 5}
	out := Revalidate(img, geo, pl, cfg)

	require.Len(t, out.Peaks, 1)
	require.Equal(t, 10.0, out.Peaks[0].FS, "expected the hot pixel to survive")
}

func TestSearchPayload_RequiresAttachedPeaks(t *testing.T) {
	_, img := flatPanel(10, 10, 0)
	_, err := searchPayload(img)
	require.Error(t, err, "expected error when no peaks attached")

	img.Peaks = &model.PeakList{Peaks: []model.Peak{{FS: 1, SS: 1, Panel: "p0"}}}
	pl, err := searchPayload(img)
	require.NoError(t, err)
	require.Len(t, pl.Peaks, 1)
}

func TestSearchZaefferer_FindsInjectedSpot(t *testing.T) {
	geo, img := flatPanel(30, 30, 5)
	img.Panels["p0"].Data[15][15] = 500

	cfg := Config{Method: Zaefferer, GradientThreshold: 1, SNRThreshold: 2, SkipRevalidate: true}
	pl, err := Search(img, geo, cfg)
	require.NoError(t, err)

	found := false
	for _, p := range pl.Peaks {
		if int(p.FS) == 15 && int(p.SS) == 15 {
			found = true
		}
	}
	require.True(t, found, "expected to find injected spot at (15,15), got %+v", pl.Peaks)
}
