package prediction

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crystfel-go/indexamajig/model"
)

func cubicGeometry() (*model.UnitCell, *model.Geometry) {
	cell, _ := model.NewFromParameters(50, 50, 50, math.Pi/2, math.Pi/2, math.Pi/2, model.LatticeCubic, model.CenteringP)
	geo := &model.Geometry{Panels: []model.Panel{{
		Name: "p0", Width: 2000, Height: 2000,
		FS: model.Vec3{X: 0.0001}, SS: model.Vec3{Y: 0.0001},
		Origin: model.Vec3{X: -0.1, Y: -0.1, Z: 0.1},
	}}}
	return cell, geo
}

func TestPredict_ReflectionsLandInsidePanel(t *testing.T) {
	cell, geo := cubicGeometry()
	rl := Predict(cell, geo, 1.0, nil, Options{HighRes: 0.2, Model: Unity{}, R: 0.01})
	require.NotZero(t, rl.Len(), "expected at least one predicted reflection")

	for _, r := range rl.Reflections {
		panel := geo.PanelByName(r.Panel)
		require.NotNilf(t, panel, "reflection %v references unknown panel %q", r.Index, r.Panel)
		require.GreaterOrEqualf(t, r.FS, -0.5, "reflection %v landed outside panel: fs=%v ss=%v", r.Index, r.FS, r.SS)
		require.Lessf(t, r.FS, float64(panel.Width)+0.5, "reflection %v landed outside panel: fs=%v ss=%v", r.Index, r.FS, r.SS)
		require.GreaterOrEqualf(t, r.SS, -0.5, "reflection %v landed outside panel: fs=%v ss=%v", r.Index, r.FS, r.SS)
		require.Lessf(t, r.SS, float64(panel.Height)+0.5, "reflection %v landed outside panel: fs=%v ss=%v", r.Index, r.FS, r.SS)
	}
}

func TestForbidden_ICentering(t *testing.T) {
	require.True(t, Forbidden(model.CenteringI, model.MillerIndex{H: 1, K: 0, L: 0}), "(1,0,0) should be forbidden under I centering")
	require.True(t, Forbidden(model.CenteringI, model.MillerIndex{H: 1, K: 1, L: 1}), "(1,1,1) should be forbidden under I centering (sum odd)")
	require.False(t, Forbidden(model.CenteringI, model.MillerIndex{H: 2, K: 0, L: 0}), "(2,0,0) should be allowed under I centering")
}

func TestUnity_AlwaysFull(t *testing.T) {
	p, _, l := (Unity{}).Compute(0, 1, nil, 1, model.MillerIndex{}, 0)
	require.Equal(t, 1.0, p)
	require.Equal(t, 1.0, l)
}

func TestRandom_Deterministic(t *testing.T) {
	hkl := model.MillerIndex{H: 3, K: -1, L: 2}
	p1, _, _ := (Random{}).Compute(0, 0, nil, 0, hkl, 42)
	p2, _, _ := (Random{}).Compute(0, 0, nil, 0, hkl, 42)
	require.Equal(t, p1, p2, "random model should be deterministic for the same serial+hkl")

	p3, _, _ := (Random{}).Compute(0, 0, nil, 0, hkl, 43)
	require.NotEqual(t, p1, p3, "random model should vary with serial")
}
