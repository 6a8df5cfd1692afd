// Package numdiff approximates first derivatives by central finite
// differences. It is the fallback used whenever an objective or constraint
// is registered without an analytic gradient or Jacobian.
package numdiff

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// relStep is the relative step for second-order central differences,
// cbrt(machine epsilon).
var relStep = math.Cbrt(math.Nextafter(1, 2) - 1)

// step returns the absolute step for component xi: relative to its
// magnitude, with a unit floor for near-zero components to avoid
// catastrophic cancellation.
func step(xi float64) float64 {
	return relStep * math.Max(1, math.Abs(xi))
}

// Gradient approximates the gradient of f at x with central differences,
// (f(x+h*e_i) - f(x-h*e_i)) / (2h) per dimension. It costs 2n evaluations
// of f, retains no state, and is deterministic for deterministic f.
func Gradient(f func(x []float64) (float64, error), x []float64) ([]float64, error) {
	n := len(x)
	grad := make([]float64, n)
	xs := append([]float64(nil), x...)
	for i := 0; i < n; i++ {
		h := step(xs[i])
		orig := xs[i]

		xs[i] = orig + h
		fp, err := f(xs)
		if err != nil {
			return nil, err
		}
		xs[i] = orig - h
		fm, err := f(xs)
		if err != nil {
			return nil, err
		}
		xs[i] = orig

		grad[i] = (fp - fm) / (2 * h)
	}
	return grad, nil
}

// Jacobian approximates the m-by-n Jacobian of f at x with central
// differences, at a cost of 2n evaluations of f.
func Jacobian(f func(x []float64) ([]float64, error), m int, x []float64) (*mat.Dense, error) {
	n := len(x)
	jac := mat.NewDense(m, n, nil)
	xs := append([]float64(nil), x...)
	for i := 0; i < n; i++ {
		h := step(xs[i])
		orig := xs[i]

		xs[i] = orig + h
		fp, err := f(xs)
		if err != nil {
			return nil, err
		}
		xs[i] = orig - h
		fm, err := f(xs)
		if err != nil {
			return nil, err
		}
		xs[i] = orig

		if len(fp) != m || len(fm) != m {
			return nil, fmt.Errorf("function returned %d values, expected %d", len(fp), m)
		}
		for j := 0; j < m; j++ {
			jac.Set(j, i, (fp[j]-fm[j])/(2*h))
		}
	}
	return jac, nil
}
