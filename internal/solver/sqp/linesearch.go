package sqp

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// armijoEta is the sufficient-decrease fraction of the merit
	// directional derivative.
	armijoEta = 0.1
	// alphaShrink halves the step on each backtrack.
	alphaShrink = 0.5
	// alphaMin is the smallest step length tried before the search gives
	// up and accepts the best candidate seen.
	alphaMin = 1e-3
)

// lsResult is the outcome of one merit line search.
type lsResult struct {
	x, ce, ci []float64
	f         float64
	alpha     float64
	// improved is false when no step satisfied the sufficient-decrease
	// condition; the caller counts such iterations toward its stall
	// patience.
	improved bool
}

// merit is the L1 penalty function f(x) + sum rhoEq*|ce| + sum rhoIn*max(0, ci).
func (r *run) merit(f float64, ce, ci []float64) float64 {
	m := f
	for j, v := range ce {
		m += r.rhoEq[j] * math.Abs(v)
	}
	for j, v := range ci {
		m += r.rhoIn[j] * math.Max(0, v)
	}
	return m
}

// meritSlope is the directional derivative estimate of the merit function
// along d at the current iterate: g^T d minus the weighted violation, which
// the step is expected to remove.
func (r *run) meritSlope(d []float64) float64 {
	s := floats.Dot(r.g, d)
	for j, v := range r.ce {
		s -= r.rhoEq[j] * math.Abs(v)
	}
	for j, v := range r.ci {
		s -= r.rhoIn[j] * math.Max(0, v)
	}
	return s
}

// lineSearch backtracks along d from the current iterate until the L1 merit
// function satisfies an Armijo sufficient-decrease condition. Candidates are
// clamped into the bound box, so intermediate probes never evaluate outside
// it. If no step satisfies the condition the best candidate seen is
// accepted and flagged as non-improving.
func (r *run) lineSearch(d []float64) (*lsResult, error) {
	m0 := r.merit(r.f, r.ce, r.ci)
	slope := r.meritSlope(d)

	var best *lsResult
	for alpha := 1.0; ; alpha *= alphaShrink {
		x := make([]float64, r.n)
		floats.AddScaledTo(x, r.x, alpha, d)
		clampToBox(x, r.lower, r.upper)

		f, err := r.ev.objective(x)
		if err != nil {
			return nil, err
		}
		ce, err := r.p.Constraints().EvaluateEqualities(x)
		if err != nil {
			return nil, err
		}
		ci, err := r.p.Constraints().EvaluateInequalities(x)
		if err != nil {
			return nil, err
		}

		m := r.merit(f, ce, ci)
		cand := &lsResult{x: x, f: f, ce: ce, ci: ci, alpha: alpha}
		if m <= m0+armijoEta*alpha*slope {
			cand.improved = true
			return cand, nil
		}
		if best == nil || m < r.merit(best.f, best.ce, best.ci) {
			best = cand
		}
		if alpha*alphaShrink < alphaMin {
			return best, nil
		}
	}
}
