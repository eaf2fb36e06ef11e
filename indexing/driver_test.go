package indexing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crystfel-go/indexamajig/model"
	"github.com/crystfel-go/indexamajig/prediction"
)

func testGeometry() *model.Geometry {
	return &model.Geometry{Panels: []model.Panel{{
		Name: "p0", Width: 2000, Height: 2000,
		FS:     model.Vec3{X: 1},
		SS:     model.Vec3{Y: 1},
		Origin: model.Vec3{X: -1000, Y: -1000, Z: 100000},
	}}}
}

func testCell(t *testing.T) *model.UnitCell {
	t.Helper()
	cell, err := model.NewFromParameters(79.0, 79.0, 38.0, math.Pi/2, math.Pi/2, math.Pi/2, model.LatticeTetragonal, model.CenteringP)
	require.NoError(t, err)
	return cell
}

var looseTol = Tolerances{FracA: 0.05, FracB: 0.05, FracC: 0.05, AngleAlpha: 0.05, AngleBeta: 0.05, AngleGamma: 0.05}
var tightTol = Tolerances{FracA: 1e-6, FracB: 1e-6, FracC: 1e-6, AngleAlpha: 1e-6, AngleBeta: 1e-6, AngleGamma: 1e-6}

func TestMatchCell_IdentityIsBestFOM(t *testing.T) {
	cell := testCell(t)
	matched, fom, ok := MatchCell(cell, cell, tightTol, false, false)
	require.True(t, ok, "expected identity match to succeed")
	require.LessOrEqual(t, fom, 1e-9, "expected near-zero figure of merit")
	require.InDelta(t, cell.A, matched.A, 1e-9)
}

func TestMatchCell_RejectsOutOfTolerance(t *testing.T) {
	cell := testCell(t)
	other, err := model.NewFromParameters(100, 100, 100, math.Pi/2, math.Pi/2, math.Pi/2, model.LatticeCubic, model.CenteringP)
	require.NoError(t, err)

	_, _, ok := MatchCell(other, cell, tightTol, true, true)
	require.False(t, ok, "expected mismatched cell to be rejected")
}

func TestDropWeakest_RemovesLowestSNR(t *testing.T) {
	pl := &model.PeakList{Peaks: []model.Peak{
		{SNR: 1}, {SNR: 5}, {SNR: 3}, {SNR: 9}, {SNR: 2},
	}}
	out := dropWeakest(pl, 0.2)
	require.Equal(t, 4, out.Len())
	for _, p := range out.Peaks {
		require.NotEqual(t, 1.0, p.SNR, "weakest peak was not dropped")
	}
}

// onSphere returns the reciprocal point with the given fs/ss-plane (x,y)
// components whose z component puts it exactly on the Ewald sphere of
// radius meanK centered at (0,0,-meanK): solving
// qz^2 + 2*meanK*qz + qx^2 + qy^2 = 0 for the root nearest zero.
func onSphere(qx, qy, meanK float64) model.Vec3 {
	perp2 := qx*qx + qy*qy
	qz := -meanK + math.Sqrt(meanK*meanK-perp2)
	return model.Vec3{X: qx, Y: qy, Z: qz}
}

func TestVectorSearchBackend_FindsExactOnSphereTriple(t *testing.T) {
	const meanK = 0.6
	q1 := onSphere(0.10, 0.00, meanK)
	q2 := onSphere(0.00, 0.12, meanK)
	q3 := onSphere(0.05, 0.05, meanK)

	ref, err := cellFromReciprocal(q1, q2, q3, model.LatticeTriclinic, model.CenteringP)
	require.NoError(t, err)

	khat := model.Vec3{Z: 1}
	toPeak := func(q model.Vec3) model.Peak {
		kOut := q.Add(khat.Scale(meanK))
		fs := kOut.X / kOut.Z
		ss := kOut.Y / kOut.Z
		return model.Peak{FS: fs, SS: ss, Panel: "p0", Intensity: 100, SNR: 10}
	}

	geo := &model.Geometry{Panels: []model.Panel{{
		Name: "p0", Width: 1, Height: 1,
		FS: model.Vec3{X: 1}, SS: model.Vec3{Y: 1}, Origin: model.Vec3{Z: 1},
	}}}
	img := &model.Image{
		Wavelength: 1 / meanK,
		Peaks:      &model.PeakList{Peaks: []model.Peak{toPeak(q1), toPeak(q2), toPeak(q3)}},
	}

	backend := NewVectorSearchBackend(geo)
	h, err := backend.Prepare(context.Background(), ref, tightTol)
	require.NoError(t, err)
	cells, err := backend.Index(context.Background(), img, h)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	require.LessOrEqual(t, fracErr(cells[0].A, ref.A), 1e-6)
	require.LessOrEqual(t, fracErr(cells[0].C, ref.C), 1e-6)
}

type fakeBackend struct {
	name      string
	failFirst int
	cell      *model.UnitCell
	attempts  int
}

func (f *fakeBackend) Name() string     { return f.name }
func (f *fakeBackend) Prior() PriorInfo { return PriorInfo{} }

func (f *fakeBackend) Prepare(context.Context, *model.UnitCell, Tolerances) (Handle, error) {
	return nil, nil
}
func (f *fakeBackend) Cleanup(Handle) {}

func (f *fakeBackend) Index(context.Context, *model.Image, Handle) ([]*model.UnitCell, error) {
	f.attempts++
	if f.attempts <= f.failFirst {
		return nil, nil
	}
	return []*model.UnitCell{f.cell}, nil
}

func fakePeaks(n int) *model.PeakList {
	pl := &model.PeakList{}
	for i := 0; i < n; i++ {
		pl.Peaks = append(pl.Peaks, model.Peak{FS: float64(i), SS: float64(i), Panel: "p0", SNR: float64(i + 1)})
	}
	return pl
}

func TestDriver_RetryPrunesWeakPeaksThenSucceeds(t *testing.T) {
	cell := testCell(t)
	backend := &fakeBackend{name: "fake", failFirst: 1, cell: cell}
	d := &Driver{
		Backends:   []Backend{backend},
		Reference:  cell,
		Tolerances: looseTol,
		Flags:      Flags{Retry: true, RetryRounds: 3, RetryDropFrac: 0.3},
	}
	img := &model.Image{Peaks: fakePeaks(6)}

	crystals := d.Index(context.Background(), img, nil)
	require.Len(t, crystals, 1)
	require.Equal(t, 2, backend.attempts, "expected backend to be retried once (2 attempts total)")
}

func TestDriver_MultiLatticeExtractsUpToMax(t *testing.T) {
	cell := testCell(t)
	backend := &fakeBackend{name: "fake", cell: cell}
	d := &Driver{
		Backends:   []Backend{backend},
		Reference:  cell,
		Tolerances: looseTol,
		Flags:      Flags{Multi: true, MultiMaxLattices: 3, MultiRadius: 2},
	}
	img := &model.Image{Peaks: fakePeaks(5)}

	crystals := d.Index(context.Background(), img, nil)
	require.Len(t, crystals, 3, "expected crystals to be capped by MultiMaxLattices")
}

func TestDriver_MultiLatticeRemovesAccountedPeaksEvenWithoutCheckPeaks(t *testing.T) {
	// Regression test: removeAccounted must predict at the image's actual
	// wavelength, not a hardcoded 0, or peaks never shrink between passes
	// and an unbounded MultiMaxLattices never terminates.
	geo := testGeometry()
	cell := testCell(t)
	predOpts := prediction.Options{HighRes: 0.2, R: 0.02, Model: prediction.Unity{}}

	refl := prediction.Predict(cell, geo, 1.5, nil, predOpts)
	require.NotZero(t, refl.Len(), "setup: prediction produced no reflections")

	peaks := &model.PeakList{}
	for _, r := range refl.Reflections {
		peaks.Peaks = append(peaks.Peaks, model.Peak{FS: r.FS, SS: r.SS, Panel: r.Panel, Intensity: 50, SNR: 10})
	}
	startLen := peaks.Len()
	require.GreaterOrEqual(t, startLen, 3, "setup: need at least 3 peaks to exercise a multi-lattice pass")

	backend := &fakeBackend{name: "fake", cell: cell}
	d := &Driver{
		Backends:   []Backend{backend},
		Reference:  cell,
		Tolerances: looseTol,
		Predict:    predOpts,
		// CheckPeaks left false: crystal.Reflections stays nil, so
		// removeAccounted must predict its own reflection list.
		Flags: Flags{Multi: true, MultiMaxLattices: 0, MultiRadius: 0.5},
	}
	img := &model.Image{Wavelength: 1.5, Peaks: peaks}

	crystals := d.Index(context.Background(), img, geo)
	require.NotEmpty(t, crystals)
	require.Less(t, len(crystals), startLen, "unbounded multi-lattice search must terminate once accounted peaks are exhausted, not loop forever")
}

func TestDriver_CheckPeaksAcceptsConsistentPeaks(t *testing.T) {
	geo := testGeometry()
	cell := testCell(t)
	predOpts := prediction.Options{HighRes: 0.2, R: 0.02, Model: prediction.Unity{}}

	refl := prediction.Predict(cell, geo, 1.5, nil, predOpts)
	require.NotZero(t, refl.Len(), "setup: prediction produced no reflections")

	peaks := &model.PeakList{}
	for _, r := range refl.Reflections {
		peaks.Peaks = append(peaks.Peaks, model.Peak{FS: r.FS, SS: r.SS, Panel: r.Panel, Intensity: 50, SNR: 10})
	}

	backend := &fakeBackend{name: "fake", cell: cell}
	d := &Driver{
		Backends:   []Backend{backend},
		Reference:  cell,
		Tolerances: looseTol,
		Flags:      Flags{CheckPeaks: true, CheckPeaksFraction: 1.0, CheckPeaksRadius: 0.5},
		Predict:    predOpts,
	}
	img := &model.Image{Wavelength: 1.5, Peaks: peaks}

	crystals := d.Index(context.Background(), img, geo)
	require.Len(t, crystals, 1, "expected crystal accepted by check-peaks")
}

func TestDriver_CheckPeaksRejectsInconsistentPeaks(t *testing.T) {
	geo := testGeometry()
	cell := testCell(t)
	predOpts := prediction.Options{HighRes: 0.2, R: 0.02, Model: prediction.Unity{}}

	// Peaks placed at arbitrary fractional coordinates, vanishingly unlikely
	// to coincide with any predicted reflection's (fs,ss) to within 0.5 px.
	peaks := &model.PeakList{Peaks: []model.Peak{
		{FS: 7.318412, SS: 991.654321, Panel: "p0", Intensity: 50, SNR: 10},
		{FS: 1533.802217, SS: 42.113908, Panel: "p0", Intensity: 50, SNR: 10},
		{FS: 812.447731, SS: 1207.998123, Panel: "p0", Intensity: 50, SNR: 10},
	}}

	backend := &fakeBackend{name: "fake", cell: cell}
	d := &Driver{
		Backends:   []Backend{backend},
		Reference:  cell,
		Tolerances: looseTol,
		Flags:      Flags{CheckPeaks: true, CheckPeaksFraction: 1.0, CheckPeaksRadius: 0.5},
		Predict:    predOpts,
	}
	img := &model.Image{Wavelength: 1.5, Peaks: peaks}

	crystals := d.Index(context.Background(), img, geo)
	require.Empty(t, crystals)
}
