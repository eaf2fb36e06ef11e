package integration

// planarBackground is a 3-parameter model: value(fs,ss) = c0 + c1*fs + c2*ss.
type planarBackground struct {
	c0, c1, c2 float64
}

func (p planarBackground) valueAt(fs, ss int) float64 {
	return p.c0 + p.c1*float64(fs) + p.c2*float64(ss)
}

// fitPlane performs an ordinary least-squares fit of a planar background to
// the given background pixels, via the 3x3 normal equations. It returns the
// fitted plane, the residual variance (used to propagate background noise
// into the signal ESD), and whether the fit was well-posed.
func fitPlane(bg []pixel) (planarBackground, float64, bool) {
	if len(bg) < 3 {
		return planarBackground{}, 0, false
	}

	// Normal equations for [c0 c1 c2]^T minimizing sum (v - c0 - c1*fs - c2*ss)^2.
	var sumN, sumFS, sumSS, sumFS2, sumSS2, sumFSSS float64
	var sumV, sumVFS, sumVSS float64
	for _, px := range bg {
		fs, ss, v := float64(px.fs), float64(px.ss), px.value
		sumN++
		sumFS += fs
		sumSS += ss
		sumFS2 += fs * fs
		sumSS2 += ss * ss
		sumFSSS += fs * ss
		sumV += v
		sumVFS += v * fs
		sumVSS += v * ss
	}

	a := [3][3]float64{
		{sumN, sumFS, sumSS},
		{sumFS, sumFS2, sumFSSS},
		{sumSS, sumFSSS, sumSS2},
	}
	b := [3]float64{sumV, sumVFS, sumVSS}

	c, ok := solve3(a, b)
	if !ok {
		return planarBackground{}, 0, false
	}
	plane := planarBackground{c0: c[0], c1: c[1], c2: c[2]}

	var residSq float64
	for _, px := range bg {
		r := px.value - plane.valueAt(px.fs, px.ss)
		residSq += r * r
	}
	dof := float64(len(bg) - 3)
	if dof <= 0 {
		dof = 1
	}
	variance := residSq / dof
	return plane, variance, true
}

// solve3 solves a 3x3 linear system via Cramer's rule.
func solve3(a [3][3]float64, b [3]float64) ([3]float64, bool) {
	det := det3(a)
	if det == 0 {
		return [3]float64{}, false
	}
	var out [3]float64
	for col := 0; col < 3; col++ {
		m := a
		for row := 0; row < 3; row++ {
			m[row][col] = b[row]
		}
		out[col] = det3(m) / det
	}
	return out, true
}

func det3(m [3][3]float64) float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}
