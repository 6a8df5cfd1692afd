// Package sqp implements sequential quadratic programming for bound,
// equality, and inequality constrained minimization. Each major iteration
// linearizes the constraints about the iterate, minimizes a quadratic model
// of the objective over the linearized feasible set, line-searches the
// resulting direction against an L1 merit function, and refreshes a damped
// BFGS approximation of the Lagrangian curvature.
package sqp

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/quantfold/sqpkit/internal/solver"
)

const (
	// defaultPatience is the number of consecutive non-improving line
	// searches tolerated before the solve is declared stalled.
	defaultPatience = 5
	// feasTol is the absolute feasibility slack granted on top of each
	// constraint row's own tolerance when gating convergence.
	feasTol = 1e-8
)

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogger attaches a structured logger for per-iteration tracing.
func WithLogger(l *zap.Logger) Option {
	return func(o *Optimizer) { o.logger = l }
}

// WithPatience overrides the stall patience threshold.
func WithPatience(n int) Option {
	return func(o *Optimizer) {
		if n > 0 {
			o.patience = n
		}
	}
}

// Optimizer is the SQP solver strategy. It holds no per-solve state, so one
// Optimizer may be shared across problems; each Solve call owns its own
// transient iterate state.
type Optimizer struct {
	logger   *zap.Logger
	patience int
}

var _ solver.Strategy = (*Optimizer)(nil)

// New creates an SQP optimizer.
func New(opts ...Option) *Optimizer {
	o := &Optimizer{
		logger:   zap.NewNop(),
		patience: defaultPatience,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Solve minimizes (or maximizes) the problem objective starting from x0.
// When x0 is nil, the midpoint of the bound box is used. Configuration
// errors are returned before any function evaluation; runtime evaluation
// errors terminate the solve with a failed Result.
func (o *Optimizer) Solve(p *solver.Problem, x0 []float64) (*solver.Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if x0 != nil && len(x0) != p.N() {
		return nil, solver.NewDimensionError("initial point has length %d, problem has %d variables", len(x0), p.N())
	}

	r := newRun(o, p, x0)
	term := r.iterate()
	res := p.Report(term)

	o.logger.Info("solve finished",
		zap.String("status", res.Status.String()),
		zap.Bool("success", res.Success),
		zap.Float64("value", res.Value),
		zap.Int("evaluations", res.Evaluations),
		zap.Int("iterations", res.Iterations),
	)
	return res, nil
}

// run is the transient state of one solve.
type run struct {
	opt *Optimizer
	p   *solver.Problem
	ev  *evaluator
	tol solver.Tolerances

	n            int
	lower, upper []float64
	meq, mineq   int

	x      []float64
	f      float64
	g      []float64
	ce, ci []float64
	ae, ai *mat.Dense

	hess         *mat.SymDense
	rhoEq, rhoIn []float64
	stopVal      float64 // minimized form, NaN when disabled
	pool         *matrixPool
}

func newRun(o *Optimizer, p *solver.Problem, x0 []float64) *run {
	lower, upper := p.Bounds()
	n := p.N()

	r := &run{
		opt:   o,
		p:     p,
		ev:    newEvaluator(p),
		tol:   p.Tolerances(),
		n:     n,
		lower: lower,
		upper: upper,
		meq:   p.Constraints().EqualityRows(),
		mineq: p.Constraints().InequalityRows(),
		x:     startPoint(x0, lower, upper),
		hess:  identity(n),
		pool:  newMatrixPool(),
	}
	r.rhoEq = make([]float64, r.meq)
	r.rhoIn = make([]float64, r.mineq)

	r.stopVal = r.tol.StopVal
	if p.Direction() == solver.Maximize && !math.IsNaN(r.stopVal) {
		r.stopVal = -r.stopVal
	}
	return r
}

// startPoint clamps a caller-supplied point into the bound box, or derives
// a default from the bounds: the box midpoint where both sides are finite,
// the finite side where only one is.
func startPoint(x0, lower, upper []float64) []float64 {
	n := len(lower)
	x := make([]float64, n)
	if x0 != nil {
		copy(x, x0)
		clampToBox(x, lower, upper)
		return x
	}
	for i := 0; i < n; i++ {
		l, u := lower[i], upper[i]
		switch {
		case !math.IsInf(l, -1) && !math.IsInf(u, 1):
			x[i] = (l + u) / 2
		case !math.IsInf(l, -1):
			x[i] = l
		case !math.IsInf(u, 1):
			x[i] = u
		}
	}
	return x
}

func clampToBox(x, lower, upper []float64) {
	for i := range x {
		x[i] = math.Min(math.Max(x[i], lower[i]), upper[i])
	}
}

func identity(n int) *mat.SymDense {
	b := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		b.SetSym(i, i, 1)
	}
	return b
}

// iterate drives the solve to a terminal state.
func (r *run) iterate() solver.Terminal {
	iter := 0
	stall := 0
	status := solver.StatusUnknown
	var failure error

	fail := func(err error) {
		status = solver.StatusFailed
		failure = err
	}

	if err := r.evalPoint(); err != nil {
		fail(err)
	}
	if status == solver.StatusUnknown {
		if err := r.evalDerivatives(); err != nil {
			fail(err)
		}
	}

	for status == solver.StatusUnknown {
		iter++

		// Termination priority: budget first, then the tolerance criteria
		// in order, then failures and stall detection.
		if r.tol.MaxEval > 0 && r.ev.evals >= r.tol.MaxEval {
			status = solver.StatusMaxEvalReached
			failure = solver.NewBudgetError("evaluation budget of %d exhausted", r.tol.MaxEval)
			break
		}
		if r.stopHit(r.f) && r.feasible(r.ce, r.ci) {
			status = solver.StatusConverged
			break
		}

		sol, err := r.solveQP()
		if err != nil {
			fail(err)
			break
		}
		if !allFinite(sol.d) {
			fail(solver.NewConvergenceError("quadratic subproblem produced a non-finite step"))
			break
		}

		updatePenaltyWeights(r.rhoEq, sol.lamEq)
		updatePenaltyWeights(r.rhoIn, sol.lamIneq)

		ls, err := r.lineSearch(sol.d)
		if err != nil {
			fail(err)
			break
		}

		// Derivatives at the accepted point double as the next iteration's
		// linearization.
		gOld, aeOld, aiOld := r.g, r.ae, r.ai
		xOld, fOld := r.x, r.f
		r.x, r.f, r.ce, r.ci = ls.x, ls.f, ls.ce, ls.ci
		if err := r.evalDerivatives(); err != nil {
			fail(err)
			break
		}

		s := make([]float64, r.n)
		floats.SubTo(s, r.x, xOld)
		y := lagrangianGradDiff(r.g, r.ae, r.ai, gOld, aeOld, aiOld, sol.lamEq, sol.lamIneq)
		dampedBFGS(r.hess, s, y)

		stepNorm := floats.Norm(s, 2)
		fDiff := math.Abs(r.f - fOld)
		feas := r.feasible(r.ce, r.ci)

		r.opt.logger.Debug("iteration",
			zap.Int("iter", iter),
			zap.Float64("f", r.f),
			zap.Float64("step", stepNorm),
			zap.Float64("alpha", ls.alpha),
			zap.Int("evals", r.ev.evals),
		)

		switch {
		case r.tol.MaxEval > 0 && r.ev.evals >= r.tol.MaxEval:
			status = solver.StatusMaxEvalReached
			failure = solver.NewBudgetError("evaluation budget of %d exhausted", r.tol.MaxEval)
		case feas && r.tol.XTolAbs > 0 && stepNorm < r.tol.XTolAbs:
			status = solver.StatusConverged
		case feas && r.tol.XTolRel > 0 && stepNorm < r.tol.XTolRel*floats.Norm(xOld, 2):
			status = solver.StatusConverged
		case feas && r.tol.FTolAbs > 0 && fDiff < r.tol.FTolAbs:
			status = solver.StatusConverged
		case feas && r.tol.FTolRel > 0 && fDiff < r.tol.FTolRel*math.Abs(fOld):
			status = solver.StatusConverged
		case feas && r.stopHit(r.f):
			status = solver.StatusConverged
		default:
			if ls.improved {
				stall = 0
			} else {
				stall++
				if stall >= r.opt.patience {
					status = solver.StatusStalled
				}
			}
		}
	}

	// The returned point is the last accepted iterate, reported even on
	// failure for diagnostic purposes.
	clampToBox(r.x, r.lower, r.upper)
	return solver.Terminal{
		X:           r.x,
		Value:       r.f,
		Status:      status,
		Evaluations: r.ev.evals,
		Iterations:  iter,
		Err:         failure,
		Diagnostics: r.ev.diagnostics(),
	}
}

// evalPoint refreshes the objective and constraint values at the iterate.
func (r *run) evalPoint() error {
	f, err := r.ev.objective(r.x)
	if err != nil {
		return err
	}
	ce, err := r.p.Constraints().EvaluateEqualities(r.x)
	if err != nil {
		return err
	}
	ci, err := r.p.Constraints().EvaluateInequalities(r.x)
	if err != nil {
		return err
	}
	r.f, r.ce, r.ci = f, ce, ci
	return nil
}

// evalDerivatives refreshes the gradient and constraint Jacobians at the
// iterate.
func (r *run) evalDerivatives() error {
	g, err := r.ev.gradient(r.x)
	if err != nil {
		return err
	}
	ae, ai, err := r.ev.jacobians(r.x)
	if err != nil {
		return err
	}
	r.g, r.ae, r.ai = g, ae, ai
	return nil
}

// stopHit reports whether the minimized objective crossed the stop value.
func (r *run) stopHit(f float64) bool {
	return !math.IsNaN(r.stopVal) && f <= r.stopVal
}

// feasible reports whether every constraint row is satisfied within its own
// tolerance plus the feasibility slack.
func (r *run) feasible(ce, ci []float64) bool {
	eqTol := r.p.Constraints().EqualityTolerances()
	for j, v := range ce {
		if math.Abs(v) > eqTol[j]+feasTol {
			return false
		}
	}
	inTol := r.p.Constraints().InequalityTolerances()
	for j, v := range ci {
		if v > inTol[j]+feasTol {
			return false
		}
	}
	return true
}

// updatePenaltyWeights grows the L1 merit weights toward the current
// multiplier magnitudes: rho <- max((rho+|lam|)/2, |lam|).
func updatePenaltyWeights(rho, lam []float64) {
	for j := range rho {
		l := math.Abs(lam[j])
		rho[j] = math.Max((rho[j]+l)/2, l)
	}
}

// lagrangianGradDiff computes y = grad L(x1, lam) - grad L(x0, lam) with
// grad L = g + Ae^T lamEq + Ai^T lamIneq.
func lagrangianGradDiff(g1 []float64, ae1, ai1 *mat.Dense, g0 []float64, ae0, ai0 *mat.Dense, lamEq, lamIneq []float64) []float64 {
	n := len(g1)
	y := make([]float64, n)
	floats.SubTo(y, g1, g0)
	addJacTDiff(y, ae1, ae0, lamEq)
	addJacTDiff(y, ai1, ai0, lamIneq)
	return y
}

func addJacTDiff(y []float64, a1, a0 *mat.Dense, lam []float64) {
	if a1 == nil || len(lam) == 0 {
		return
	}
	rows, n := a1.Dims()
	for j := 0; j < rows; j++ {
		if lam[j] == 0 {
			continue
		}
		for i := 0; i < n; i++ {
			y[i] += lam[j] * (a1.At(j, i) - a0.At(j, i))
		}
	}
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
