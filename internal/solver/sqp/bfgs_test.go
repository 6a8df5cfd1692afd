package sqp

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func symFrom(vals ...float64) *mat.SymDense {
	n := int(math.Sqrt(float64(len(vals))))
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, vals[i*n+j])
		}
	}
	return s
}

func TestDampedBFGSClassicUpdate(t *testing.T) {
	// B = I, s = e_0, y = 2 e_0: the undamped update applies because
	// s^T y = 2 >= 0.2 s^T B s, and curvature along e_0 becomes 2.
	b := identity(2)
	dampedBFGS(b, []float64{1, 0}, []float64{2, 0})

	if got := b.At(0, 0); math.Abs(got-2) > 1e-12 {
		t.Errorf("B[0,0] = %g, want 2", got)
	}
	if got := b.At(1, 1); math.Abs(got-1) > 1e-12 {
		t.Errorf("B[1,1] = %g, want 1", got)
	}
	if got := b.At(0, 1); math.Abs(got) > 1e-12 {
		t.Errorf("B[0,1] = %g, want 0", got)
	}
}

func TestDampedBFGSPreservesPositiveDefiniteness(t *testing.T) {
	// Negative curvature pair: s^T y < 0 forces the damping path, which
	// must keep B positive definite.
	b := identity(2)
	dampedBFGS(b, []float64{1, 0}, []float64{-3, 0})

	var chol mat.Cholesky
	if !chol.Factorize(b) {
		t.Fatalf("damped update lost positive definiteness: %v", mat.Formatted(b))
	}
}

func TestDampedBFGSSecantOnDampedPath(t *testing.T) {
	// On the undamped path the update satisfies the secant equation B s = y.
	b := symFrom(
		2, 0.5,
		0.5, 3,
	)
	s := []float64{1, 1}
	y := []float64{3, 2}
	dampedBFGS(b, s, y)

	for i := 0; i < 2; i++ {
		got := b.At(i, 0)*s[0] + b.At(i, 1)*s[1]
		if math.Abs(got-y[i]) > 1e-10 {
			t.Errorf("(B s)[%d] = %g, want %g", i, got, y[i])
		}
	}
}

func TestDampedBFGSZeroStepIsNoop(t *testing.T) {
	b := symFrom(
		4, 1,
		1, 5,
	)
	want := mat.DenseCopyOf(b)
	dampedBFGS(b, []float64{0, 0}, []float64{1, 1})

	if !mat.EqualApprox(b, want, 0) {
		t.Errorf("zero step changed B: %v", mat.Formatted(b))
	}
}

func TestDampedBFGSResetsOnBreakdown(t *testing.T) {
	b := symFrom(
		4, 1,
		1, 5,
	)
	dampedBFGS(b, []float64{1, 0}, []float64{math.NaN(), 0})

	want := identity(2)
	if !mat.EqualApprox(b, want, 0) {
		t.Errorf("breakdown should reset to identity, got %v", mat.Formatted(b))
	}
}
