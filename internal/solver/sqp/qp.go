package sqp

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/quantfold/sqpkit/internal/solver"
)

const (
	// qpFeasTol is the slack used when classifying subproblem rows as
	// violated or multipliers as negative.
	qpFeasTol = 1e-9
	// qpStepTol is the relative norm below which a working-set step counts
	// as stationary.
	qpStepTol = 1e-12
)

// qpSolution is the step direction and multiplier estimates produced by one
// quadratic subproblem.
type qpSolution struct {
	d       []float64
	lamEq   []float64
	lamIneq []float64
}

// ineqRow is one inequality constraint a^T d <= b of the subproblem.
type ineqRow struct {
	a []float64
	b float64
}

// solveQP minimizes the local quadratic model
//
//	1/2 d^T B d + g^T d
//
// subject to the linearized constraints Ae*d = -ce, Ai*d <= -ci and the
// bound box translated to the step, l-x <= d <= u-x. Bounds enter the
// subproblem as plain inequality rows; their multipliers are discarded.
//
// The subproblem is solved with a primal active-set iteration: from a
// feasible step, each cycle computes the minimizer over the current working
// set, advances by a ratio-test step length that stops at the first blocking
// row, and activates that row. At a stationary point, one row with a
// negative multiplier (the lowest-indexed, to avoid cycling) is released.
// The iteration terminates when the stationary point has no negative
// multipliers. Each equality-constrained solve uses a QR factorization of
// the dense KKT system so dependent rows do not abort the solve.
func (r *run) solveQP() (*qpSolution, error) {
	n := r.n
	meq := r.meq

	rows := r.stepRows()
	d, err := r.feasibleStep(rows)
	if err != nil {
		return nil, err
	}

	working := make([]int, 0, len(rows))
	inSet := make([]bool, len(rows))
	lam := make([]float64, len(rows))
	lamEq := make([]float64, meq)
	p := make([]float64, n)

	maxIter := 50 + 10*(n+meq+len(rows))
	for it := 0; it < maxIter; it++ {
		k := meq + len(working)
		dim := n + k

		kkt := r.pool.getDense(dim, dim)
		rhs := r.pool.getVecDense(dim)
		sol := r.pool.getVecDense(dim)

		// [ B    C^T ] [ p ]   [ -(g + B d) ]
		// [ C    0   ] [ λ ] = [ 0          ]
		//
		// where C stacks the equality rows and the working-set rows; p is
		// the move from d to the minimizer over that affine set.
		for i := 0; i < n; i++ {
			v := r.g[i]
			for j := 0; j < n; j++ {
				kkt.Set(i, j, r.hess.At(i, j))
				v += r.hess.At(i, j) * d[j]
			}
			rhs.SetVec(i, -v)
		}
		for q := 0; q < meq; q++ {
			for j := 0; j < n; j++ {
				v := r.ae.At(q, j)
				kkt.Set(n+q, j, v)
				kkt.Set(j, n+q, v)
			}
		}
		for s, idx := range working {
			row := rows[idx]
			for j := 0; j < n; j++ {
				kkt.Set(n+meq+s, j, row.a[j])
				kkt.Set(j, n+meq+s, row.a[j])
			}
		}

		if err := solveDense(kkt, rhs, sol); err != nil {
			r.pool.put(kkt, rhs, sol)
			return nil, solver.NewConvergenceError("quadratic subproblem is singular: %v", err)
		}

		for i := 0; i < n; i++ {
			p[i] = sol.AtVec(i)
		}
		for q := 0; q < meq; q++ {
			lamEq[q] = sol.AtVec(n + q)
		}
		for j := range lam {
			lam[j] = 0
		}
		for s, idx := range working {
			lam[idx] = sol.AtVec(n + meq + s)
		}
		r.pool.put(kkt, rhs, sol)

		if !allFinite(p) {
			return nil, solver.NewConvergenceError("quadratic subproblem produced a non-finite step")
		}

		if floats.Norm(p, 2) <= qpStepTol*(1+floats.Norm(d, 2)) {
			// Stationary over the working set. Release the lowest-indexed
			// row with a negative multiplier, or stop.
			drop := -1
			for _, idx := range working {
				if lam[idx] < -qpFeasTol && (drop < 0 || idx < drop) {
					drop = idx
				}
			}
			if drop < 0 {
				lamIneq := make([]float64, r.mineq)
				copy(lamIneq, lam[:r.mineq])
				return &qpSolution{
					d:       append([]float64(nil), d...),
					lamEq:   append([]float64(nil), lamEq...),
					lamIneq: lamIneq,
				}, nil
			}
			for s, idx := range working {
				if idx == drop {
					working = append(working[:s], working[s+1:]...)
					break
				}
			}
			inSet[drop] = false
			lam[drop] = 0
			continue
		}

		// Ratio test: advance toward the minimizer until the first inactive
		// row blocks. Ascending index order keeps ties on the lowest index.
		alpha := 1.0
		block := -1
		for idx, row := range rows {
			if inSet[idx] {
				continue
			}
			den := floats.Dot(row.a, p)
			if den <= qpStepTol {
				continue
			}
			ratio := (row.b - floats.Dot(row.a, d)) / den
			if ratio < 0 {
				ratio = 0
			}
			if ratio < alpha {
				alpha, block = ratio, idx
			}
		}
		floats.AddScaled(d, alpha, p)
		if block >= 0 {
			working = append(working, block)
			inSet[block] = true
		}
	}

	return nil, solver.NewConvergenceError("quadratic subproblem did not settle on a working set")
}

// stepRows translates the linearized inequality constraints and the finite
// bounds into inequality rows on the step. Linearized rows come first, so
// multiplier extraction for the caller is positional.
func (r *run) stepRows() []ineqRow {
	n := r.n
	var rows []ineqRow
	for j := 0; j < r.mineq; j++ {
		a := make([]float64, n)
		mat.Row(a, j, r.ai)
		rows = append(rows, ineqRow{a: a, b: -r.ci[j]})
	}
	for i := 0; i < n; i++ {
		if !math.IsInf(r.upper[i], 1) {
			a := make([]float64, n)
			a[i] = 1
			rows = append(rows, ineqRow{a: a, b: r.upper[i] - r.x[i]})
		}
		if !math.IsInf(r.lower[i], -1) {
			a := make([]float64, n)
			a[i] = -1
			rows = append(rows, ineqRow{a: a, b: r.x[i] - r.lower[i]})
		}
	}
	return rows
}

// feasibleStep produces the active-set starting point. The base is the
// minimum-norm solution of the linearized equalities (zero at a feasible
// iterate); inequality rows the point violates are pulled in by repeated
// projection onto the violated rows held at equality. Rows that still
// violate after that are relaxed to hold with equality at the start, so an
// inconsistent linearization degrades to not increasing the violation
// rather than aborting the solve.
func (r *run) feasibleStep(rows []ineqRow) ([]float64, error) {
	n := r.n

	var c [][]float64
	var rhs []float64
	for q := 0; q < r.meq; q++ {
		a := make([]float64, n)
		mat.Row(a, q, r.ae)
		c = append(c, a)
		rhs = append(rhs, -r.ce[q])
	}

	d := make([]float64, n)
	residual := false
	for _, v := range r.ce {
		if math.Abs(v) > qpFeasTol {
			residual = true
			break
		}
	}
	if residual {
		nd, ok := r.minNormSolve(c, rhs)
		if !ok {
			return nil, solver.NewConvergenceError("linearized equality constraints are inconsistent")
		}
		d = nd
	}

	included := make([]bool, len(rows))
	for pass := 0; pass <= len(rows); pass++ {
		added := false
		for idx, row := range rows {
			if included[idx] {
				continue
			}
			if floats.Dot(row.a, d) > row.b+qpFeasTol {
				c = append(c, row.a)
				rhs = append(rhs, row.b)
				included[idx] = true
				added = true
			}
		}
		if !added {
			break
		}
		nd, ok := r.minNormSolve(c, rhs)
		if !ok {
			break
		}
		d = nd
	}

	for idx := range rows {
		if v := floats.Dot(rows[idx].a, d); v > rows[idx].b {
			rows[idx].b = v
		}
	}
	return d, nil
}

// minNormSolve finds the minimum-norm d with c*d = b, via the normal
// equations of the transpose when the system is wide and a least-squares QR
// solve when it is tall. Reports false on a singular or non-finite outcome.
func (r *run) minNormSolve(c [][]float64, b []float64) ([]float64, bool) {
	m := len(c)
	n := r.n
	d := make([]float64, n)
	if m == 0 {
		return d, true
	}

	if m <= n {
		// d = C^T (C C^T)^{-1} b
		gram := r.pool.getDense(m, m)
		rhs := r.pool.getVecDense(m)
		y := r.pool.getVecDense(m)
		for i := 0; i < m; i++ {
			for j := 0; j < m; j++ {
				gram.Set(i, j, floats.Dot(c[i], c[j]))
			}
			rhs.SetVec(i, b[i])
		}
		err := solveDense(gram, rhs, y)
		if err == nil {
			for k := 0; k < n; k++ {
				v := 0.0
				for i := 0; i < m; i++ {
					v += c[i][k] * y.AtVec(i)
				}
				d[k] = v
			}
		}
		r.pool.put(gram, rhs, y)
		if err != nil || !allFinite(d) {
			return nil, false
		}
		return d, true
	}

	cm := r.pool.getDense(m, n)
	rhs := r.pool.getVecDense(m)
	x := r.pool.getVecDense(n)
	for i := 0; i < m; i++ {
		cm.SetRow(i, c[i])
		rhs.SetVec(i, b[i])
	}
	var qr mat.QR
	qr.Factorize(cm)
	err := qr.SolveVecTo(x, false, rhs)
	if err != nil {
		if _, ok := err.(mat.Condition); !ok {
			r.pool.put(cm, rhs, x)
			return nil, false
		}
	}
	for k := 0; k < n; k++ {
		d[k] = x.AtVec(k)
	}
	r.pool.put(cm, rhs, x)
	if !allFinite(d) {
		return nil, false
	}
	return d, true
}

// solveDense solves the square system a*x = b by QR. Condition warnings
// from near-singular systems are tolerated; the caller screens the solution
// for finiteness.
func solveDense(a *mat.Dense, b, x *mat.VecDense) error {
	var qr mat.QR
	qr.Factorize(a)
	err := qr.SolveVecTo(x, false, b)
	if err != nil {
		if _, ok := err.(mat.Condition); ok {
			return nil
		}
		return err
	}
	return nil
}
