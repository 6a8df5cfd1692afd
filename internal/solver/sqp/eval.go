package sqp

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/quantfold/sqpkit/internal/solver"
	"github.com/quantfold/sqpkit/internal/solver/numdiff"
)

// evaluator adapts a Problem to the minimized form consumed by the solver:
// maximization is folded into a sign flip, the attached penalty is added to
// every objective value, and missing derivatives fall back to finite
// differences. It also counts objective evaluations against the budget and
// records which derivatives were auto-generated.
type evaluator struct {
	p     *solver.Problem
	sign  float64
	evals int

	gradAuto  bool
	eqJacAuto []bool
	inJacAuto []bool
}

func newEvaluator(p *solver.Problem) *evaluator {
	sign := 1.0
	if p.Direction() == solver.Maximize {
		sign = -1.0
	}
	return &evaluator{
		p:         p,
		sign:      sign,
		eqJacAuto: make([]bool, len(p.Constraints().Equalities())),
		inJacAuto: make([]bool, len(p.Constraints().Inequalities())),
	}
}

// objective evaluates the minimized objective at x: the direction-normalized
// caller objective plus the attached penalty, if any. Every call counts one
// evaluation.
func (e *evaluator) objective(x []float64) (float64, error) {
	fn, _ := e.p.Objective()
	f, err := fn(x)
	e.evals++
	if err != nil {
		return 0, solver.NewEvaluationError(err, "objective evaluation failed")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, solver.NewEvaluationError(nil, "objective returned non-finite value %g", f)
	}
	f *= e.sign

	if pen := e.p.AttachedPenalty(); pen != nil {
		pv, err := pen.Evaluate(x)
		if err != nil {
			return 0, solver.NewEvaluationError(err, "penalty evaluation failed")
		}
		if math.IsNaN(pv) || math.IsInf(pv, 0) {
			return 0, solver.NewEvaluationError(nil, "penalty returned non-finite value %g", pv)
		}
		f += pv
	}
	return f, nil
}

// gradient evaluates the gradient of the minimized objective at x, using
// the caller-supplied gradient when present and central differences
// otherwise. A supplied gradient is still combined with a finite-difference
// gradient of the penalty, which only exposes values.
func (e *evaluator) gradient(x []float64) ([]float64, error) {
	_, grad := e.p.Objective()
	if grad == nil {
		e.gradAuto = true
		g, err := numdiff.Gradient(e.objective, x)
		if err != nil {
			return nil, asEvalErr(err, "objective gradient")
		}
		if !allFinite(g) {
			return nil, solver.NewEvaluationError(nil, "objective gradient is non-finite")
		}
		return g, nil
	}

	g, err := grad(x)
	if err != nil {
		return nil, solver.NewEvaluationError(err, "objective gradient evaluation failed")
	}
	if len(g) != e.p.N() {
		return nil, solver.NewEvaluationError(nil, "objective gradient has length %d, expected %d", len(g), e.p.N())
	}
	out := make([]float64, len(g))
	for i, v := range g {
		out[i] = e.sign * v
	}

	if pen := e.p.AttachedPenalty(); pen != nil {
		pg, err := numdiff.Gradient(pen.Evaluate, x)
		if err != nil {
			return nil, asEvalErr(err, "penalty gradient")
		}
		for i := range out {
			out[i] += pg[i]
		}
	}
	if !allFinite(out) {
		return nil, solver.NewEvaluationError(nil, "objective gradient is non-finite")
	}
	return out, nil
}

// jacobians stacks the equality and inequality constraint Jacobians at x
// into dense row blocks, falling back to finite differences per constraint.
func (e *evaluator) jacobians(x []float64) (ae, ai *mat.Dense, err error) {
	ae, err = e.stackJacobians(e.p.Constraints().Equalities(), e.eqJacAuto, x)
	if err != nil {
		return nil, nil, err
	}
	ai, err = e.stackJacobians(e.p.Constraints().Inequalities(), e.inJacAuto, x)
	if err != nil {
		return nil, nil, err
	}
	return ae, ai, nil
}

func (e *evaluator) stackJacobians(blocks []solver.Block, auto []bool, x []float64) (*mat.Dense, error) {
	n := e.p.N()
	rows := 0
	for _, b := range blocks {
		rows += b.Size
	}
	if rows == 0 {
		return nil, nil
	}

	out := mat.NewDense(rows, n, nil)
	row := 0
	for k, blk := range blocks {
		var jac *mat.Dense
		var err error
		if blk.Jac != nil {
			jac, err = blk.Jac(x)
			if err != nil {
				return nil, solver.NewEvaluationError(err, "constraint %d jacobian evaluation failed", k)
			}
			if jr, jc := jac.Dims(); jr != blk.Size || jc != n {
				return nil, solver.NewEvaluationError(nil, "constraint %d jacobian is %dx%d, expected %dx%d", k, jr, jc, blk.Size, n)
			}
		} else {
			auto[k] = true
			jac, err = numdiff.Jacobian(blk.Func, blk.Size, x)
			if err != nil {
				return nil, asEvalErr(err, "constraint jacobian")
			}
		}
		for i := 0; i < blk.Size; i++ {
			for j := 0; j < n; j++ {
				v := jac.At(i, j)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return nil, solver.NewEvaluationError(nil, "constraint %d jacobian is non-finite at (%d,%d)", k, i, j)
				}
				out.Set(row+i, j, v)
			}
		}
		row += blk.Size
	}
	return out, nil
}

func (e *evaluator) diagnostics() solver.Diagnostics {
	return solver.Diagnostics{
		ObjectiveGradAuto: e.gradAuto,
		EqualityJacAuto:   append([]bool(nil), e.eqJacAuto...),
		InequalityJacAuto: append([]bool(nil), e.inJacAuto...),
	}
}

// asEvalErr wraps an error as an evaluation error unless it already is a
// typed solver error.
func asEvalErr(err error, op string) error {
	if _, ok := solver.AsError(err); ok {
		return err
	}
	return solver.NewEvaluationError(err, "%s approximation failed", op)
}
