package solver

import (
	"fmt"
	"math"
)

// Tolerances holds the stopping criteria for a solve. Zero disables a
// criterion; every field must be non-negative.
type Tolerances struct {
	// XTolAbs stops the solve when the step norm falls below it.
	XTolAbs float64
	// XTolRel stops the solve when the step norm relative to the iterate
	// norm falls below it.
	XTolRel float64
	// FTolAbs stops the solve when the objective change falls below it.
	FTolAbs float64
	// FTolRel stops the solve when the relative objective change falls
	// below it.
	FTolRel float64
	// MaxEval caps the number of objective evaluations.
	MaxEval int
	// StopVal stops the solve once the objective crosses it in the
	// optimizing direction. NaN disables it.
	StopVal float64
}

// DefaultTolerances returns the stopping criteria applied to a new Problem.
func DefaultTolerances() Tolerances {
	return Tolerances{
		XTolAbs: 1e-6,
		FTolAbs: 1e-8,
		MaxEval: 100000,
		StopVal: math.NaN(),
	}
}

func (t Tolerances) validate() error {
	for _, v := range []struct {
		name string
		val  float64
	}{
		{"xtol_abs", t.XTolAbs},
		{"xtol_rel", t.XTolRel},
		{"ftol_abs", t.FTolAbs},
		{"ftol_rel", t.FTolRel},
	} {
		if v.val < 0 || math.IsNaN(v.val) {
			return fmt.Errorf("%s must be non-negative, got %g", v.name, v.val)
		}
	}
	if t.MaxEval < 0 {
		return fmt.Errorf("max_eval must be non-negative, got %d", t.MaxEval)
	}
	return nil
}

// Problem aggregates the variable count, objective, bounds, constraint
// registry, tolerances, and the optional penalty collaborator into one
// specification. A Problem is single-owner for the duration of a solve;
// independent Problems may be solved concurrently.
type Problem struct {
	n            int
	lower, upper []float64
	direction    Direction
	objective    ObjectiveFunc
	gradient     GradientFunc
	constraints  *Constraints
	penalty      Penalty
	tol          Tolerances
}

// NewProblem creates a Problem with n decision variables. Bounds default to
// (-inf, +inf) per dimension until set.
func NewProblem(n int) (*Problem, error) {
	if n < 1 {
		return nil, NewDimensionError("problem must have at least one variable, got %d", n)
	}
	lower := make([]float64, n)
	upper := make([]float64, n)
	for i := 0; i < n; i++ {
		lower[i] = math.Inf(-1)
		upper[i] = math.Inf(1)
	}
	return &Problem{
		n:           n,
		lower:       lower,
		upper:       upper,
		constraints: newConstraints(n),
		tol:         DefaultTolerances(),
	}, nil
}

// N returns the number of decision variables.
func (p *Problem) N() int { return p.n }

// SetObjective registers the objective function and its direction. grad may
// be nil, in which case the gradient is approximated by finite differences
// during the solve.
func (p *Problem) SetObjective(d Direction, fn ObjectiveFunc, grad GradientFunc) error {
	if fn == nil {
		return fmt.Errorf("objective function is required")
	}
	if d != Minimize && d != Maximize {
		return fmt.Errorf("unknown objective direction %d", int(d))
	}
	p.direction = d
	p.objective = fn
	p.gradient = grad
	return nil
}

// Direction returns the registered objective direction.
func (p *Problem) Direction() Direction { return p.direction }

// Objective returns the registered objective function and optional gradient.
func (p *Problem) Objective() (ObjectiveFunc, GradientFunc) {
	return p.objective, p.gradient
}

// SetBounds sets lower and upper bounds. Each slice is either length n or a
// single value broadcast to every variable. Bound consistency is checked at
// solve time, not here, since bounds may be set in any order.
func (p *Problem) SetBounds(lower, upper []float64) error {
	if err := p.SetLowerBounds(lower); err != nil {
		return err
	}
	return p.SetUpperBounds(upper)
}

// SetLowerBounds sets the lower bounds, broadcasting a single value.
func (p *Problem) SetLowerBounds(lower []float64) error {
	b, err := p.broadcastBound(lower)
	if err != nil {
		return err
	}
	p.lower = b
	return nil
}

// SetUpperBounds sets the upper bounds, broadcasting a single value.
func (p *Problem) SetUpperBounds(upper []float64) error {
	b, err := p.broadcastBound(upper)
	if err != nil {
		return err
	}
	p.upper = b
	return nil
}

func (p *Problem) broadcastBound(b []float64) ([]float64, error) {
	out := make([]float64, p.n)
	switch len(b) {
	case 1:
		for i := range out {
			out[i] = b[0]
		}
	case p.n:
		copy(out, b)
	default:
		return nil, NewDimensionError("bound vector has length %d, problem has %d variables", len(b), p.n)
	}
	return out, nil
}

// Bounds returns copies of the lower and upper bounds.
func (p *Problem) Bounds() (lower, upper []float64) {
	return append([]float64(nil), p.lower...), append([]float64(nil), p.upper...)
}

// Constraints returns the constraint registry.
func (p *Problem) Constraints() *Constraints { return p.constraints }

// SetPenalty attaches the penalty collaborator, or detaches it when pen is
// nil. The penalty dimensionality is validated eagerly: a mismatch fails
// here, before any solver work begins.
func (p *Problem) SetPenalty(pen Penalty) error {
	if pen == nil {
		p.penalty = nil
		return nil
	}
	if d := pen.Dim(); d != p.n {
		return NewDimensionError("penalty is sized for %d assets, problem has %d", d, p.n)
	}
	p.penalty = pen
	return nil
}

// AttachedPenalty returns the attached penalty collaborator, or nil.
func (p *Problem) AttachedPenalty() Penalty { return p.penalty }

// SetTolerances replaces the stopping criteria.
func (p *Problem) SetTolerances(t Tolerances) error {
	if err := t.validate(); err != nil {
		return err
	}
	p.tol = t
	return nil
}

// Tolerances returns the stopping criteria.
func (p *Problem) Tolerances() Tolerances { return p.tol }

// Validate checks the whole specification. Strategies call it at solve
// invocation, before any function evaluation.
func (p *Problem) Validate() error {
	if p.objective == nil {
		return fmt.Errorf("objective function is not set")
	}
	for i := 0; i < p.n; i++ {
		if math.IsNaN(p.lower[i]) || math.IsNaN(p.upper[i]) {
			return fmt.Errorf("bound %d is NaN", i)
		}
		if p.lower[i] > p.upper[i] {
			return NewDimensionError("lower bound %g exceeds upper bound %g at variable %d", p.lower[i], p.upper[i], i)
		}
	}
	if eq := p.constraints.EqualityRows(); eq > p.n {
		return NewDimensionError("%d equality rows exceed %d variables", eq, p.n)
	}
	return p.tol.validate()
}
