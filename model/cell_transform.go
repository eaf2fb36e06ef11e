package model

import "fmt"

// Mat3 is a 3x3 matrix of integer coefficients, used to express axis
// permutations, integer linear combinations of cell axes, and reindexing
// operators. Row i gives the coefficients of new axis i in terms of the old
// (a,b,c).
type Mat3 [3][3]int

// IdentityMat3 is the identity transform.
func IdentityMat3() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Det returns the integer determinant.
func (m Mat3) Det() int {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// Apply returns the new cell obtained by expressing each new axis as the
// integer combination of old axes given by m's rows.
func (m Mat3) Apply(uc *UnitCell) (*UnitCell, error) {
	row := func(r [3]int) Vec3 {
		return uc.Va.Scale(float64(r[0])).Add(uc.Vb.Scale(float64(r[1]))).Add(uc.Vc.Scale(float64(r[2])))
	}
	va := row(m[0])
	vb := row(m[1])
	vc := row(m[2])
	return NewFromVectors(va, vb, vc, uc.Lattice, uc.Centering)
}

// Inverse returns the inverse transform, valid only when Det() is +-1 (the
// combinations this package generates are always unimodular by construction
// when accepted).
func (m Mat3) Inverse() (Mat3, error) {
	d := m.Det()
	if d != 1 && d != -1 {
		return Mat3{}, fmt.Errorf("cell transform: determinant %d is not unimodular", d)
	}
	cof := func(r0, r1, c0, c1 int) int {
		return m[r0][c0]*m[r1][c1] - m[r0][c1]*m[r1][c0]
	}
	adj := Mat3{
		{cof(1, 2, 1, 2), -cof(0, 2, 1, 2), cof(0, 1, 1, 2)},
		{-cof(1, 2, 0, 2), cof(0, 2, 0, 2), -cof(0, 1, 0, 2)},
		{cof(1, 2, 0, 1), -cof(0, 2, 0, 1), cof(0, 1, 0, 1)},
	}
	// adj above is the transpose of the cofactor matrix (i.e. adjugate);
	// dividing by det gives the inverse since det is +-1.
	var inv Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			inv[i][j] = adj[j][i] / d
		}
	}
	return inv, nil
}

// AxisPermutations yields all 6 permutations of (a,b,c) as plain
// permutation matrices (determinant +-1). No sign flip is applied: the
// three odd permutations (determinant -1) produce a left-handed basis,
// which Apply rejects, so only the identity and the two cyclic
// permutations yield a usable cell.
func AxisPermutations() []Mat3 {
	perms := [][3]int{{0, 1, 2}, {1, 2, 0}, {2, 0, 1}, {0, 2, 1}, {2, 1, 0}, {1, 0, 2}}
	out := make([]Mat3, 0, len(perms))
	for _, p := range perms {
		var m Mat3
		for i, axis := range p {
			m[i][axis] = 1
		}
		out = append(out, m)
	}
	return out
}

// AxisCombinations yields every unimodular 3x3 matrix with entries drawn
// from coefs (CrystFEL uses {-1,0,1,2}), used by check-cell-combinations to
// search integer linear combinations of the candidate axes for one that
// matches the reference cell. The search space is small enough (4^9 for
// CrystFEL's coefficients) to
// enumerate directly; callers should only do this once per candidate.
func AxisCombinations(coefs []int) []Mat3 {
	var out []Mat3
	var m Mat3
	var rec func(idx int)
	rec = func(idx int) {
		if idx == 9 {
			if d := m.Det(); d == 1 || d == -1 {
				cp := m
				out = append(out, cp)
			}
			return
		}
		r, c := idx/3, idx%3
		for _, v := range coefs {
			m[r][c] = v
			rec(idx + 1)
		}
	}
	rec(0)
	return out
}
