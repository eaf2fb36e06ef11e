package model

import (
	"fmt"
	"math"
)

// LatticeType enumerates the seven Bravais systems.
type LatticeType int

const (
	LatticeTriclinic LatticeType = iota
	LatticeMonoclinic
	LatticeOrthorhombic
	LatticeTetragonal
	LatticeRhombohedral
	LatticeHexagonal
	LatticeCubic
)

// Centering is the lattice-point pattern within the unit cell.
type Centering byte

const (
	CenteringP Centering = 'P'
	CenteringA Centering = 'A'
	CenteringB Centering = 'B'
	CenteringC Centering = 'C'
	CenteringI Centering = 'I'
	CenteringF Centering = 'F'
	CenteringR Centering = 'R'
	CenteringH Centering = 'H'
)

// UnitCell holds both the parameterized description (a,b,c,alpha,beta,gamma)
// and the equivalent real-space vectors; the two are kept in sync by the
// constructors below rather than recomputed on every access.
type UnitCell struct {
	A, B, C             float64 // Angstrom
	Alpha, Beta, Gamma  float64 // radians
	Va, Vb, Vc          Vec3    // real-space basis vectors, Angstrom

	Lattice   LatticeType
	Centering Centering
	UniqueAxis byte // 'a', 'b', 'c', or 0 if not applicable
}

// NewFromParameters builds a UnitCell from lengths and angles, deriving
// right-handed real-space vectors with a along x and b in the xy-plane.
func NewFromParameters(a, b, c, alpha, beta, gamma float64, lat LatticeType, cen Centering) (*UnitCell, error) {
	uc := &UnitCell{A: a, B: b, C: c, Alpha: alpha, Beta: beta, Gamma: gamma, Lattice: lat, Centering: cen}
	if err := uc.checkParametersSensible(); err != nil {
		return nil, err
	}
	uc.Va = Vec3{a, 0, 0}
	uc.Vb = Vec3{b * math.Cos(gamma), b * math.Sin(gamma), 0}

	cx := c * math.Cos(beta)
	cy := c * (math.Cos(alpha) - math.Cos(beta)*math.Cos(gamma)) / math.Sin(gamma)
	cz2 := c*c - cx*cx - cy*cy
	if cz2 < 0 {
		return nil, fmt.Errorf("unit cell: angles are not geometrically consistent")
	}
	uc.Vc = Vec3{cx, cy, math.Sqrt(cz2)}

	if err := uc.Validate(); err != nil {
		return nil, err
	}
	return uc, nil
}

// NewFromVectors builds a UnitCell from explicit real-space basis vectors,
// deriving the parameterized form.
func NewFromVectors(va, vb, vc Vec3, lat LatticeType, cen Centering) (*UnitCell, error) {
	uc := &UnitCell{Va: va, Vb: vb, Vc: vc, Lattice: lat, Centering: cen}
	uc.A = length(va)
	uc.B = length(vb)
	uc.C = length(vc)
	uc.Alpha = angleBetween(vb, vc)
	uc.Beta = angleBetween(va, vc)
	uc.Gamma = angleBetween(va, vb)
	if err := uc.Validate(); err != nil {
		return nil, err
	}
	return uc, nil
}

func length(v Vec3) float64 { return math.Sqrt(v.Dot(v)) }

func angleBetween(u, v Vec3) float64 {
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

func (uc *UnitCell) checkParametersSensible() error {
	if uc.A <= 0 || uc.B <= 0 || uc.C <= 0 {
		return fmt.Errorf("unit cell: lengths must be positive")
	}
	for _, ang := range []float64{uc.Alpha, uc.Beta, uc.Gamma} {
		if ang <= 0 || ang >= 2*math.Pi {
			return fmt.Errorf("unit cell: angle %v out of (0, 2pi)", ang)
		}
	}
	sum := uc.Alpha + uc.Beta + uc.Gamma
	if sum >= 2*math.Pi {
		return fmt.Errorf("unit cell: angle sum %v violates triangle inequality", sum)
	}
	if uc.Alpha+uc.Beta <= uc.Gamma || uc.Beta+uc.Gamma <= uc.Alpha || uc.Alpha+uc.Gamma <= uc.Beta {
		return fmt.Errorf("unit cell: angles violate spherical triangle inequality")
	}
	return nil
}

// IsRightHanded reports whether (Va,Vb,Vc) form a right-handed set, i.e.
// Va . (Vb x Vc) > 0.
func (uc *UnitCell) IsRightHanded() bool {
	return uc.Va.Dot(uc.Vb.Cross(uc.Vc)) > 0
}

// Validate enforces the cell invariants: right-handedness, physically
// sensible parameters, and a centering symbol consistent with the lattice
// type (rhombohedral cells use R or P, hexagonal uses P or H, all others use
// P/A/B/C/I/F).
func (uc *UnitCell) Validate() error {
	if err := uc.checkParametersSensible(); err != nil {
		return err
	}
	if !uc.IsRightHanded() {
		return fmt.Errorf("unit cell: basis vectors are left-handed")
	}
	switch uc.Lattice {
	case LatticeRhombohedral:
		if uc.Centering != CenteringR && uc.Centering != CenteringP {
			return fmt.Errorf("unit cell: rhombohedral lattice requires R or P centering, got %c", uc.Centering)
		}
	case LatticeHexagonal:
		if uc.Centering != CenteringP && uc.Centering != CenteringH {
			return fmt.Errorf("unit cell: hexagonal lattice requires P or H centering, got %c", uc.Centering)
		}
	default:
		switch uc.Centering {
		case CenteringP, CenteringA, CenteringB, CenteringC, CenteringI, CenteringF:
		default:
			return fmt.Errorf("unit cell: centering %c not valid for lattice %v", uc.Centering, uc.Lattice)
		}
	}
	return nil
}

// Reciprocal returns the reciprocal-lattice basis vectors (a*,b*,c*), each
// satisfying ai . aj* = delta_ij (no 2*pi factor; callers that need the
// crystallographic convention with 2*pi should scale explicitly).
func (uc *UnitCell) Reciprocal() (astar, bstar, cstar Vec3) {
	vol := uc.Va.Dot(uc.Vb.Cross(uc.Vc))
	astar = uc.Vb.Cross(uc.Vc).Scale(1 / vol)
	bstar = uc.Vc.Cross(uc.Va).Scale(1 / vol)
	cstar = uc.Va.Cross(uc.Vb).Scale(1 / vol)
	return
}

// Clone returns a deep copy (vectors are values, so a struct copy suffices).
func (uc *UnitCell) Clone() *UnitCell {
	c := *uc
	return &c
}
