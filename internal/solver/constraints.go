package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Block describes one registered constraint as consumed by a solver
// strategy. Rows of a block share its functional form; Jac is nil when the
// strategy must fall back to finite differences.
type Block struct {
	Size   int
	Func   ConstraintFunc
	Jac    JacobianFunc
	Tol    []float64
	Linear bool
}

// Constraints is an ordered registry of equality and inequality constraints.
// Registration order is preserved and surfaces as constraint indices in
// solve diagnostics. All constraints are held in the standard forms
// c(x) = 0 and c(x) <= 0; matrix constraints evaluate as A*x - b.
type Constraints struct {
	n    int
	eq   []Block
	ineq []Block
}

func newConstraints(n int) *Constraints {
	return &Constraints{n: n}
}

// AddEquality registers a functional equality constraint c(x) = 0 with size
// rows. jac may be nil, in which case the Jacobian is approximated by finite
// differences during the solve. tol holds one tolerance per row, or a single
// value broadcast to all rows.
func (c *Constraints) AddEquality(size int, fn ConstraintFunc, jac JacobianFunc, tol ...float64) error {
	blk, err := c.makeFuncBlock(size, fn, jac, tol)
	if err != nil {
		return err
	}
	c.eq = append(c.eq, blk)
	return nil
}

// AddInequality registers a functional inequality constraint c(x) <= 0 with
// size rows. jac may be nil; tol follows the AddEquality convention.
func (c *Constraints) AddInequality(size int, fn ConstraintFunc, jac JacobianFunc, tol ...float64) error {
	blk, err := c.makeFuncBlock(size, fn, jac, tol)
	if err != nil {
		return err
	}
	c.ineq = append(c.ineq, blk)
	return nil
}

// AddEqualityMatrix registers the linear equality constraints A*x = b.
func (c *Constraints) AddEqualityMatrix(a *mat.Dense, b []float64, tol ...float64) error {
	blk, err := c.makeLinearBlock(a, b, tol)
	if err != nil {
		return err
	}
	c.eq = append(c.eq, blk)
	return nil
}

// AddInequalityMatrix registers the linear inequality constraints A*x <= b.
func (c *Constraints) AddInequalityMatrix(a *mat.Dense, b []float64, tol ...float64) error {
	blk, err := c.makeLinearBlock(a, b, tol)
	if err != nil {
		return err
	}
	c.ineq = append(c.ineq, blk)
	return nil
}

// RemoveAll drops every registered constraint.
func (c *Constraints) RemoveAll() {
	c.eq = nil
	c.ineq = nil
}

func (c *Constraints) makeFuncBlock(size int, fn ConstraintFunc, jac JacobianFunc, tol []float64) (Block, error) {
	if size < 1 {
		return Block{}, NewDimensionError("constraint must have at least one row, got %d", size)
	}
	if fn == nil {
		return Block{}, fmt.Errorf("constraint function is required")
	}
	t, err := broadcastTolerance(tol, size)
	if err != nil {
		return Block{}, err
	}
	return Block{Size: size, Func: fn, Jac: jac, Tol: t}, nil
}

func (c *Constraints) makeLinearBlock(a *mat.Dense, b []float64, tol []float64) (Block, error) {
	if a == nil {
		return Block{}, fmt.Errorf("constraint matrix is required")
	}
	rows, cols := a.Dims()
	if cols != c.n {
		return Block{}, NewDimensionError("constraint matrix has %d columns, problem has %d variables", cols, c.n)
	}
	if rows != len(b) {
		return Block{}, NewDimensionError("constraint matrix has %d rows, right-hand side has %d entries", rows, len(b))
	}
	t, err := broadcastTolerance(tol, rows)
	if err != nil {
		return Block{}, err
	}

	// Copy A and b so later caller mutation cannot change the constraint.
	ac := mat.DenseCopyOf(a)
	bc := append([]float64(nil), b...)

	fn := func(x []float64) ([]float64, error) {
		out := make([]float64, rows)
		v := mat.NewVecDense(rows, out)
		v.MulVec(ac, mat.NewVecDense(len(x), x))
		for i := range out {
			out[i] -= bc[i]
		}
		return out, nil
	}
	jac := func(x []float64) (*mat.Dense, error) {
		return mat.DenseCopyOf(ac), nil
	}
	return Block{Size: rows, Func: fn, Jac: jac, Tol: t, Linear: true}, nil
}

func broadcastTolerance(tol []float64, size int) ([]float64, error) {
	out := make([]float64, size)
	switch len(tol) {
	case 0:
		// Zero tolerance on every row.
	case 1:
		for i := range out {
			out[i] = tol[0]
		}
	case size:
		copy(out, tol)
	default:
		return nil, NewDimensionError("constraint has %d rows, got %d tolerances", size, len(tol))
	}
	for _, t := range out {
		if t < 0 || math.IsNaN(t) {
			return nil, fmt.Errorf("constraint tolerance must be non-negative, got %g", t)
		}
	}
	return out, nil
}

// Equalities returns the registered equality constraints in order.
func (c *Constraints) Equalities() []Block { return c.eq }

// Inequalities returns the registered inequality constraints in order.
func (c *Constraints) Inequalities() []Block { return c.ineq }

// EqualityRows returns the total number of equality constraint rows.
func (c *Constraints) EqualityRows() int { return countRows(c.eq) }

// InequalityRows returns the total number of inequality constraint rows.
func (c *Constraints) InequalityRows() int { return countRows(c.ineq) }

func countRows(blocks []Block) int {
	n := 0
	for _, b := range blocks {
		n += b.Size
	}
	return n
}

// EvaluateEqualities evaluates every equality row at x, in registration
// order, normalized so each row is satisfied at zero.
func (c *Constraints) EvaluateEqualities(x []float64) ([]float64, error) {
	return evalBlocks(c.eq, x)
}

// EvaluateInequalities evaluates every inequality row at x, in registration
// order, normalized so each row is satisfied when non-positive.
func (c *Constraints) EvaluateInequalities(x []float64) ([]float64, error) {
	return evalBlocks(c.ineq, x)
}

func evalBlocks(blocks []Block, x []float64) ([]float64, error) {
	out := make([]float64, 0, countRows(blocks))
	for i, blk := range blocks {
		vals, err := blk.Func(x)
		if err != nil {
			return nil, NewEvaluationError(err, "constraint %d evaluation failed", i)
		}
		if len(vals) != blk.Size {
			return nil, NewEvaluationError(nil, "constraint %d returned %d values, expected %d", i, len(vals), blk.Size)
		}
		for _, v := range vals {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, NewEvaluationError(nil, "constraint %d returned non-finite value %g", i, v)
			}
		}
		out = append(out, vals...)
	}
	return out, nil
}

// EqualityTolerances returns the per-row equality tolerances in order.
func (c *Constraints) EqualityTolerances() []float64 { return flattenTol(c.eq) }

// InequalityTolerances returns the per-row inequality tolerances in order.
func (c *Constraints) InequalityTolerances() []float64 { return flattenTol(c.ineq) }

func flattenTol(blocks []Block) []float64 {
	out := make([]float64, 0, countRows(blocks))
	for _, b := range blocks {
		out = append(out, b.Tol...)
	}
	return out
}
