package sqp

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// dampedBFGS applies Powell's damped BFGS update to the Lagrangian
// curvature approximation b, keeping it positive definite:
//
//	B <- B - (B s)(B s)^T / s^T B s + r r^T / s^T r
//
// with r = theta*y + (1-theta)*B s and theta chosen so s^T r stays at least
// a fifth of s^T B s. On numerical breakdown the approximation is reset to
// the identity, which degrades the next step to steepest descent but keeps
// the subproblem convex.
func dampedBFGS(b *mat.SymDense, s, y []float64) {
	n := len(s)
	if floats.Norm(s, 2) == 0 {
		return
	}

	bs := make([]float64, n)
	for i := 0; i < n; i++ {
		v := 0.0
		for j := 0; j < n; j++ {
			v += b.At(i, j) * s[j]
		}
		bs[i] = v
	}
	sBs := floats.Dot(s, bs)
	sy := floats.Dot(s, y)
	if sBs <= 0 || math.IsNaN(sBs) || math.IsInf(sBs, 0) {
		resetIdentity(b)
		return
	}

	r := y
	sr := sy
	if sy < 0.2*sBs {
		theta := 0.8 * sBs / (sBs - sy)
		r = make([]float64, n)
		for i := 0; i < n; i++ {
			r[i] = theta*y[i] + (1-theta)*bs[i]
		}
		sr = floats.Dot(s, r)
	}
	if sr <= 0 || math.IsNaN(sr) || math.IsInf(sr, 0) {
		resetIdentity(b)
		return
	}

	ok := true
	for i := 0; i < n && ok; i++ {
		for j := i; j < n; j++ {
			v := b.At(i, j) - bs[i]*bs[j]/sBs + r[i]*r[j]/sr
			if math.IsNaN(v) || math.IsInf(v, 0) {
				ok = false
				break
			}
			b.SetSym(i, j, v)
		}
	}
	if !ok {
		resetIdentity(b)
	}
}

func resetIdentity(b *mat.SymDense) {
	n, _ := b.Dims()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.0
			if i == j {
				v = 1
			}
			b.SetSym(i, j, v)
		}
	}
}
