package model

import "fmt"

// Vec3 is a lab-frame or reciprocal-space 3-vector.
type Vec3 struct {
	X, Y, Z float64
}

func (a Vec3) Add(b Vec3) Vec3 { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(s float64) Vec3 { return Vec3{a.X * s, a.Y * s, a.Z * s} }
func (a Vec3) Dot(b Vec3) float64 { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{
		a.Y*b.Z - a.Z*b.Y,
		a.Z*b.X - a.X*b.Z,
		a.X*b.Y - a.Y*b.X,
	}
}

// Panel is a rigid detector panel: an affine map from (fs,ss) pixel indices
// to a 3-D lab-frame position, plus the per-pixel masks needed to interpret
// the raw array it owns.
type Panel struct {
	Name string

	Width, Height int // fs extent, ss extent, in pixels

	// Basis vectors: lab-frame displacement per unit step along fs/ss.
	FS, SS Vec3
	Origin Vec3 // lab-frame position of pixel (0,0)

	// ClenFrom / PhotonEnergyFrom name a per-image metadata field that
	// resolves the panel's camera length / photon energy when they vary
	// shot to shot. Empty means "use the fixed value below".
	ClenFrom         string
	PhotonEnergyFrom string
	Clen             float64 // fixed camera length, meters, along beam
	CoffsetM         float64 // additional fixed offset added to clen

	ADUPerPhoton float64
	MaxADU       float64 // saturation threshold

	// BadPixel[ss][fs] and Saturation[ss][fs] mirror the pixel array shape.
	BadPixel   [][]bool
	Saturation [][]bool
}

// InBounds reports whether (fs,ss) addresses a real pixel on this panel.
func (p *Panel) InBounds(fs, ss int) bool {
	return fs >= 0 && fs < p.Width && ss >= 0 && ss < p.Height
}

// ToLab maps a (fs,ss) pixel coordinate (may be fractional) to a lab-frame
// position, honoring the panel's affine basis.
func (p *Panel) ToLab(fs, ss float64) Vec3 {
	return p.Origin.Add(p.FS.Scale(fs)).Add(p.SS.Scale(ss))
}

// Validate enforces the panel invariants from the data model: nonzero basis
// vectors and a sane pixel extent. It does not check inter-panel overlap;
// that is a Geometry-level invariant.
func (p *Panel) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("panel %q: non-positive extent %dx%d", p.Name, p.Width, p.Height)
	}
	if p.FS == (Vec3{}) {
		return fmt.Errorf("panel %q: zero fs basis vector", p.Name)
	}
	if p.SS == (Vec3{}) {
		return fmt.Errorf("panel %q: zero ss basis vector", p.Name)
	}
	if len(p.BadPixel) != 0 && len(p.BadPixel) != p.Height {
		return fmt.Errorf("panel %q: bad-pixel mask has %d rows, want %d", p.Name, len(p.BadPixel), p.Height)
	}
	if len(p.Saturation) != 0 && len(p.Saturation) != p.Height {
		return fmt.Errorf("panel %q: saturation mask has %d rows, want %d", p.Name, len(p.Saturation), p.Height)
	}
	return nil
}

// IsBad reports whether (fs,ss) is masked bad. Out-of-range coordinates are
// treated as bad rather than panicking, since callers frequently probe a
// halo around an integration box.
func (p *Panel) IsBad(fs, ss int) bool {
	if !p.InBounds(fs, ss) {
		return true
	}
	if len(p.BadPixel) == 0 {
		return false
	}
	return p.BadPixel[ss][fs]
}

// IsSaturated reports whether (fs,ss) is at or above the saturation map.
func (p *Panel) IsSaturated(fs, ss int) bool {
	if !p.InBounds(fs, ss) {
		return false
	}
	if len(p.Saturation) == 0 {
		return false
	}
	return p.Saturation[ss][fs]
}

// Geometry is an ordered, immutable list of panels plus the metadata field
// names used to resolve per-image variable quantities. It is built once by
// an external geometry-file parser (out of scope here, see Non-goals) and
// shared read-only across all workers.
type Geometry struct {
	Panels []Panel
	Digest string // stable hash of the parsed geometry file, echoed in the stream header
}

// Validate checks the cross-panel invariants: basis vectors already checked
// per-panel; here we additionally reject duplicate panel names, which would
// make metadata copy-fields and stream output ambiguous.
func (g *Geometry) Validate() error {
	seen := make(map[string]bool, len(g.Panels))
	for i := range g.Panels {
		p := &g.Panels[i]
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return fmt.Errorf("geometry: duplicate panel name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// PanelByName returns the panel with the given name, or nil.
func (g *Geometry) PanelByName(name string) *Panel {
	for i := range g.Panels {
		if g.Panels[i].Name == name {
			return &g.Panels[i]
		}
	}
	return nil
}
