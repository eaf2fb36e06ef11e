package integration

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crystfel-go/indexamajig/model"
)

func flatSnapshot(w, h int, bg, spotVal float64, cx, cy int) (*model.Geometry, map[string]*model.PanelData) {
	rows := make([][]float64, h)
	for y := range rows {
		rows[y] = make([]float64, w)
		for x := range rows[y] {
			rows[y][x] = bg
		}
	}
	rows[cy][cx] = spotVal
	geo := &model.Geometry{Panels: []model.Panel{{Name: "p0", Width: w, Height: h, FS: model.Vec3{X: 1}, SS: model.Vec3{Y: 1}}}}
	return geo, map[string]*model.PanelData{"p0": {Data: rows}}
}

func TestIntegrate_RecoversInjectedIntensity(t *testing.T) {
	geo, snap := flatSnapshot(40, 40, 10, 500, 20, 20)
	refl := &model.Reflection{FS: 20, SS: 20, Panel: "p0"}
	opts := Options{Radii: Radii{Inner: 3, Mid: 5, Outer: 9}, MinBackgroundPixels: 5}

	Integrate(snap, geo, refl, opts, nil)

	require.Equal(t, model.IntegrationOK, refl.Flag)
	// injected signal 500-10 above background, rest of the box near zero after subtraction
	require.GreaterOrEqual(t, refl.Intensity, 400.0, "expected integrated intensity roughly matching injected signal")
}

func TestIntegrate_OutOfPanelRejected(t *testing.T) {
	geo, snap := flatSnapshot(10, 10, 10, 500, 1, 1)
	refl := &model.Reflection{FS: 1, SS: 1, Panel: "p0"}
	opts := Options{Radii: Radii{Inner: 1, Mid: 2, Outer: 5}, MinBackgroundPixels: 3}

	Integrate(snap, geo, refl, opts, nil)

	require.Equal(t, model.IntegrationOutOfPanel, refl.Flag)
}

func TestIntegrate_SaturatedExcludedByDefault(t *testing.T) {
	geo, snap := flatSnapshot(40, 40, 10, 5000, 20, 20)
	geo.Panels[0].Saturation = make([][]bool, 40)
	for i := range geo.Panels[0].Saturation {
		geo.Panels[0].Saturation[i] = make([]bool, 40)
	}
	geo.Panels[0].Saturation[20][20] = true

	refl := &model.Reflection{FS: 20, SS: 20, Panel: "p0"}
	opts := Options{Radii: Radii{Inner: 3, Mid: 5, Outer: 9}, MinBackgroundPixels: 5, UseSaturated: false}

	Integrate(snap, geo, refl, opts, nil)

	require.Equal(t, model.IntegrationSaturated, refl.Flag)
}

func TestFitPlane_RecoversGradient(t *testing.T) {
	var bg []pixel
	for ss := 0; ss < 10; ss++ {
		for fs := 0; fs < 10; fs++ {
			bg = append(bg, pixel{fs: fs, ss: ss, value: 5 + 0.5*float64(fs) + 0.2*float64(ss)})
		}
	}
	plane, _, ok := fitPlane(bg)
	require.True(t, ok, "fitPlane failed")
	require.InDelta(t, 5, plane.c0, 1e-6)
	require.InDelta(t, 0.5, plane.c1, 1e-6)
	require.InDelta(t, 0.2, plane.c2, 1e-6)
}
