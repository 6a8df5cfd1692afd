// Package solver defines the problem model for constrained nonlinear
// optimization: decision-variable bounds, the objective specification, a
// constraint registry, and the structured result produced by a solve.
package solver

import (
	"gonum.org/v1/gonum/mat"
)

// ObjectiveFunc maps a decision vector to a scalar value.
type ObjectiveFunc func(x []float64) (float64, error)

// GradientFunc maps a decision vector to the objective gradient, one entry
// per decision variable.
type GradientFunc func(x []float64) ([]float64, error)

// ConstraintFunc maps a decision vector to one value per constraint row.
// Equality rows are satisfied at zero, inequality rows when non-positive.
type ConstraintFunc func(x []float64) ([]float64, error)

// JacobianFunc maps a decision vector to the k-by-n Jacobian of a
// vector-valued constraint function.
type JacobianFunc func(x []float64) (*mat.Dense, error)

// Direction selects whether the objective is maximized or minimized.
// Maximization is normalized internally to minimizing the negated objective,
// so solver strategies only ever minimize.
type Direction int

const (
	Minimize Direction = iota
	Maximize
)

// String returns a human-readable name for the direction.
func (d Direction) String() string {
	switch d {
	case Minimize:
		return "minimize"
	case Maximize:
		return "maximize"
	}
	return "unknown"
}

// Status is the terminal state of a solve.
type Status int

const (
	// StatusUnknown means the solve never reached a terminal state.
	StatusUnknown Status = iota
	// StatusConverged means a stopping tolerance was satisfied.
	StatusConverged
	// StatusStalled means the iteration stopped making progress before any
	// tolerance was met.
	StatusStalled
	// StatusMaxEvalReached means the evaluation budget was exhausted.
	StatusMaxEvalReached
	// StatusFailed means an evaluation error or subproblem failure aborted
	// the solve.
	StatusFailed
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusStalled:
		return "stalled"
	case StatusMaxEvalReached:
		return "max_eval_reached"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Algorithm identifies a step-computation strategy. The set is closed: only
// the sequential quadratic programming strategy is implemented.
type Algorithm int

const (
	// SLSQP is sequential least-squares quadratic programming: a local,
	// derivative-based method with equality and inequality constraint
	// support.
	SLSQP Algorithm = iota
)

// String returns the conventional name of the algorithm.
func (a Algorithm) String() string {
	if a == SLSQP {
		return "slsqp"
	}
	return "unknown"
}

// Penalty is an optional collaborator attached to a Problem. Its value is
// added to the minimized objective on every evaluation. Dim must report the
// number of decision variables the penalty was built for; it is checked
// against the problem size at attach time.
type Penalty interface {
	Dim() int
	Evaluate(x []float64) (float64, error)
}

// Strategy is implemented by step-computation algorithms that drive a
// Problem to a terminal state.
type Strategy interface {
	Solve(p *Problem, x0 []float64) (*Result, error)
}

// Diagnostics records solve-time facts that are not part of the solution
// itself.
type Diagnostics struct {
	// ObjectiveGradAuto is true when the objective gradient was produced by
	// finite differences rather than a caller-supplied function.
	ObjectiveGradAuto bool
	// EqualityJacAuto and InequalityJacAuto flag, per registered constraint
	// in registration order, whether its Jacobian was produced by finite
	// differences.
	EqualityJacAuto   []bool
	InequalityJacAuto []bool
}

// Result is the immutable outcome of one solve.
type Result struct {
	// X is the final decision vector. It always satisfies the bounds.
	X []float64
	// Value is the achieved objective value in the caller's direction.
	Value float64
	// Status is the terminal state of the solve.
	Status Status
	// Success is true only for a converged solve.
	Success bool
	// Tight flags, per inequality constraint row in registration order,
	// whether the row is within its tolerance of zero at X.
	Tight []bool
	// Evaluations counts objective function calls, including those spent on
	// finite-difference gradients.
	Evaluations int
	// Iterations counts major solver iterations.
	Iterations int
	// Err records the failure cause when Status is StatusFailed, or the
	// budget diagnostic when the evaluation budget ran out.
	Err error
	// Diagnostics carries auxiliary solve-time information.
	Diagnostics Diagnostics
}
