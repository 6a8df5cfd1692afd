package solver

import "math"

// Terminal captures the state of a finished solve as handed over by a
// strategy, in minimized form: Value is the internally minimized objective,
// before any direction correction.
type Terminal struct {
	X           []float64
	Value       float64
	Status      Status
	Evaluations int
	Iterations  int
	Err         error
	Diagnostics Diagnostics
}

// Report packages a terminal solver state into an immutable Result. The
// achieved objective value is restored to the caller's direction and every
// inequality row is tested for tightness: row i is tight when |c_i(x)| is
// within its tolerance of zero.
func (p *Problem) Report(t Terminal) *Result {
	value := t.Value
	if p.direction == Maximize {
		value = -value
	}

	res := &Result{
		X:           append([]float64(nil), t.X...),
		Value:       value,
		Status:      t.Status,
		Success:     t.Status == StatusConverged,
		Evaluations: t.Evaluations,
		Iterations:  t.Iterations,
		Err:         t.Err,
		Diagnostics: t.Diagnostics,
	}

	res.Tight = make([]bool, p.constraints.InequalityRows())
	vals, err := p.constraints.EvaluateInequalities(t.X)
	if err == nil {
		tols := p.constraints.InequalityTolerances()
		for i, v := range vals {
			res.Tight[i] = math.Abs(v) <= tols[i]
		}
	}
	return res
}
