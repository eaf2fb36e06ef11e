package indexing

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/crystfel-go/indexamajig/model"
)

// VectorSearchBackend is a built-in indexer: it needs the full reference
// cell up front and looks for three peaks whose scattering vectors
// reproduce the reference reciprocal lengths and angles, within tolerance.
// It is a deliberately small search (not a general autoindexer), grounded
// in the idea that CrystFEL drives multiple such backends behind one
// interface and accepts whichever one succeeds first.
type VectorSearchBackend struct {
	Geo      *model.Geometry
	MaxPeaks int // strongest-N peaks considered; triples grow as N^3
}

// NewVectorSearchBackend returns a ready-to-use backend bound to geo.
func NewVectorSearchBackend(geo *model.Geometry) *VectorSearchBackend {
	return &VectorSearchBackend{Geo: geo, MaxPeaks: 16}
}

func (b *VectorSearchBackend) Name() string { return "vectorsearch" }

func (b *VectorSearchBackend) Prior() PriorInfo { return PriorInfo{FullCell: true} }

type vectorSearchHandle struct {
	ref *model.UnitCell
	tol Tolerances
}

func (b *VectorSearchBackend) Prepare(_ context.Context, cell *model.UnitCell, tol Tolerances) (Handle, error) {
	if cell == nil {
		return nil, fmt.Errorf("vectorsearch: requires a reference cell")
	}
	return &vectorSearchHandle{ref: cell, tol: tol}, nil
}

func (b *VectorSearchBackend) Cleanup(Handle) {}

func (b *VectorSearchBackend) Index(ctx context.Context, img *model.Image, h Handle) ([]*model.UnitCell, error) {
	vh, ok := h.(*vectorSearchHandle)
	if !ok || vh == nil {
		return nil, fmt.Errorf("vectorsearch: invalid handle")
	}
	if img.Peaks == nil || img.Peaks.Len() < 3 {
		return nil, nil
	}

	astar, bstar, cstar := vh.ref.Reciprocal()
	La, Lb, Lc := length(astar), length(bstar), length(cstar)
	alphaStar := angleBetweenVec(bstar, cstar)
	betaStar := angleBetweenVec(astar, cstar)
	gammaStar := angleBetweenVec(astar, bstar)

	qs := b.scatteringVectors(img)
	if len(qs) > b.MaxPeaks {
		qs = qs[:b.MaxPeaks]
	}

	angTol := math.Max(vh.tol.AngleAlpha, math.Max(vh.tol.AngleBeta, vh.tol.AngleGamma))

	for i := range qs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		for j := range qs {
			if j == i {
				continue
			}
			for k := range qs {
				if k == i || k == j {
					continue
				}
				qa, qb, qc := qs[i], qs[j], qs[k]
				if fracErr(length(qa), La) > vh.tol.FracA {
					continue
				}
				if fracErr(length(qb), Lb) > vh.tol.FracB {
					continue
				}
				if fracErr(length(qc), Lc) > vh.tol.FracC {
					continue
				}
				if math.Abs(angleBetweenVec(qb, qc)-alphaStar) > angTol {
					continue
				}
				if math.Abs(angleBetweenVec(qa, qc)-betaStar) > angTol {
					continue
				}
				if math.Abs(angleBetweenVec(qa, qb)-gammaStar) > angTol {
					continue
				}

				cell, err := cellFromReciprocal(qa, qb, qc, vh.ref.Lattice, vh.ref.Centering)
				if err != nil {
					continue
				}
				return []*model.UnitCell{cell}, nil
			}
		}
	}
	return nil, nil
}

// scatteringVectors computes q = (dhat - khat)/wavelength for each peak,
// assuming a beam travelling along +z and the sample at the lab origin,
// ordered strongest-intensity first so the truncated search favors the
// peaks most likely to be real spots.
func (b *VectorSearchBackend) scatteringVectors(img *model.Image) []model.Vec3 {
	type scored struct {
		q  model.Vec3
		in float64
	}
	khat := model.Vec3{X: 0, Y: 0, Z: 1}
	var out []scored
	for _, p := range img.Peaks.Peaks {
		panel := b.Geo.PanelByName(p.Panel)
		if panel == nil {
			continue
		}
		lab := panel.ToLab(p.FS, p.SS)
		n := length(lab)
		if n == 0 {
			continue
		}
		dhat := lab.Scale(1 / n)
		q := dhat.Sub(khat).Scale(1 / img.Wavelength)
		out = append(out, scored{q: q, in: p.Intensity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].in > out[j].in })
	qs := make([]model.Vec3, len(out))
	for i, s := range out {
		qs[i] = s.q
	}
	return qs
}

func cellFromReciprocal(astar, bstar, cstar model.Vec3, lat model.LatticeType, cen model.Centering) (*model.UnitCell, error) {
	volStar := astar.Dot(bstar.Cross(cstar))
	if volStar == 0 {
		return nil, fmt.Errorf("vectorsearch: degenerate reciprocal triple")
	}
	va := bstar.Cross(cstar).Scale(1 / volStar)
	vb := cstar.Cross(astar).Scale(1 / volStar)
	vc := astar.Cross(bstar).Scale(1 / volStar)
	return model.NewFromVectors(va, vb, vc, lat, cen)
}

func angleBetweenVec(u, v model.Vec3) float64 {
	denom := length(u) * length(v)
	if denom == 0 {
		return 0
	}
	c := u.Dot(v) / denom
	if c > 1 {
		c = 1
	}
	if c < -1 {
		c = -1
	}
	return math.Acos(c)
}

func length(v model.Vec3) float64 { return math.Sqrt(v.Dot(v)) }
