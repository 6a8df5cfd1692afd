// Package server exposes the solver over a narrow JSON API for problems
// expressible without callables: a quadratic objective with linear
// constraints and bounds.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"gonum.org/v1/gonum/mat"

	"github.com/quantfold/sqpkit/internal/config"
	"github.com/quantfold/sqpkit/internal/logging"
	"github.com/quantfold/sqpkit/internal/solver"
	"github.com/quantfold/sqpkit/internal/solver/sqp"
)

// Logger is the logging interface used by the server.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Server handles solve requests. Each request builds its own Problem, so
// concurrent requests share no mutable state.
type Server struct {
	cfg    *config.Config
	logger Logger
	sqp    *sqp.Optimizer
}

// NewServer creates a server instance with the given config and logger.
func NewServer(cfg *config.Config, logger Logger, opts ...sqp.Option) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		sqp:    sqp.New(opts...),
	}
}

// RegisterRoutes mounts the API on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/solve", s.handleSolve)
	})
}

// solveRequest is the wire form of a solvable problem. The objective is
// f(x) = 1/2 x^T Q x + c^T x; constraints are linear blocks A*x = b or
// A*x <= b. Bound vectors hold one value per variable, or a single value
// broadcast to all of them.
type solveRequest struct {
	N         int    `json:"n"`
	Direction string `json:"direction,omitempty"`
	Objective struct {
		Q [][]float64 `json:"q,omitempty"`
		C []float64   `json:"c,omitempty"`
	} `json:"objective"`
	Bounds *struct {
		Lower []float64 `json:"lower"`
		Upper []float64 `json:"upper"`
	} `json:"bounds,omitempty"`
	Equalities   []linearBlock `json:"equalities,omitempty"`
	Inequalities []linearBlock `json:"inequalities,omitempty"`
	X0           []float64     `json:"x0,omitempty"`
	Tolerances   *struct {
		XTolAbs *float64 `json:"xtol_abs,omitempty"`
		XTolRel *float64 `json:"xtol_rel,omitempty"`
		FTolAbs *float64 `json:"ftol_abs,omitempty"`
		FTolRel *float64 `json:"ftol_rel,omitempty"`
		MaxEval *int     `json:"max_eval,omitempty"`
	} `json:"tolerances,omitempty"`
}

type linearBlock struct {
	A   [][]float64 `json:"a"`
	B   []float64   `json:"b"`
	Tol float64     `json:"tol,omitempty"`
}

type solveResponse struct {
	X           []float64 `json:"x"`
	Value       float64   `json:"value"`
	Status      string    `json:"status"`
	Success     bool      `json:"success"`
	Tight       []bool    `json:"tight,omitempty"`
	Evaluations int       `json:"evaluations"`
	Iterations  int       `json:"iterations"`
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	var req solveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	p, err := s.buildProblem(&req)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	res, err := s.sqp.Solve(p, req.X0)
	if err != nil {
		// Validation failures surface here, before any iteration.
		solvesTotal.WithLabelValues("rejected").Inc()
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	solvesTotal.WithLabelValues(res.Status.String()).Inc()
	solveDuration.Observe(time.Since(start).Seconds())

	s.logger.Info("solve completed", map[string]interface{}{
		"status":      res.Status.String(),
		"evaluations": res.Evaluations,
		"iterations":  res.Iterations,
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(solveResponse{
		X:           res.X,
		Value:       res.Value,
		Status:      res.Status.String(),
		Success:     res.Success,
		Tight:       res.Tight,
		Evaluations: res.Evaluations,
		Iterations:  res.Iterations,
	})
}

// buildProblem translates the wire form into a Problem.
func (s *Server) buildProblem(req *solveRequest) (*solver.Problem, error) {
	p, err := solver.NewProblem(req.N)
	if err != nil {
		return nil, err
	}
	n := req.N

	dir := solver.Minimize
	switch req.Direction {
	case "", "minimize":
	case "maximize":
		dir = solver.Maximize
	default:
		return nil, fmt.Errorf("unknown direction %q", req.Direction)
	}

	q, err := denseFromRows(req.Objective.Q, n, n)
	if err != nil {
		return nil, err
	}
	c := req.Objective.C
	if c == nil {
		c = make([]float64, n)
	}
	if len(c) != n {
		return nil, solver.NewDimensionError("objective vector has length %d, problem has %d variables", len(c), n)
	}
	if q == nil && req.Objective.C == nil {
		return nil, fmt.Errorf("objective is required: provide q and/or c")
	}

	obj := func(x []float64) (float64, error) {
		v := 0.0
		xv := mat.NewVecDense(n, x)
		if q != nil {
			tmp := mat.NewVecDense(n, nil)
			tmp.MulVec(q, xv)
			v += 0.5 * mat.Dot(xv, tmp)
		}
		for i := range x {
			v += c[i] * x[i]
		}
		return v, nil
	}
	grad := func(x []float64) ([]float64, error) {
		g := make([]float64, n)
		copy(g, c)
		if q != nil {
			// Symmetrized gradient so an asymmetric Q still matches f.
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					g[i] += 0.5 * (q.At(i, j) + q.At(j, i)) * x[j]
				}
			}
		}
		return g, nil
	}
	if err := p.SetObjective(dir, obj, grad); err != nil {
		return nil, err
	}

	if req.Bounds != nil {
		if err := p.SetBounds(req.Bounds.Lower, req.Bounds.Upper); err != nil {
			return nil, err
		}
	}

	for _, blk := range req.Equalities {
		a, err := denseFromRows(blk.A, len(blk.B), n)
		if err != nil {
			return nil, err
		}
		if err := p.Constraints().AddEqualityMatrix(a, blk.B, blk.Tol); err != nil {
			return nil, err
		}
	}
	for _, blk := range req.Inequalities {
		a, err := denseFromRows(blk.A, len(blk.B), n)
		if err != nil {
			return nil, err
		}
		if err := p.Constraints().AddInequalityMatrix(a, blk.B, blk.Tol); err != nil {
			return nil, err
		}
	}

	tol := solver.Tolerances{
		XTolAbs: s.cfg.Solver.XTolAbs,
		FTolAbs: s.cfg.Solver.FTolAbs,
		MaxEval: s.cfg.Solver.MaxEval,
		StopVal: solver.DefaultTolerances().StopVal,
	}
	if t := req.Tolerances; t != nil {
		if t.XTolAbs != nil {
			tol.XTolAbs = *t.XTolAbs
		}
		if t.XTolRel != nil {
			tol.XTolRel = *t.XTolRel
		}
		if t.FTolAbs != nil {
			tol.FTolAbs = *t.FTolAbs
		}
		if t.FTolRel != nil {
			tol.FTolRel = *t.FTolRel
		}
		if t.MaxEval != nil {
			tol.MaxEval = *t.MaxEval
		}
	}
	if err := p.SetTolerances(tol); err != nil {
		return nil, err
	}
	return p, nil
}

// denseFromRows validates row-major JSON matrix input and converts it.
// A nil input returns nil.
func denseFromRows(rows [][]float64, wantRows, wantCols int) (*mat.Dense, error) {
	if rows == nil {
		return nil, nil
	}
	if wantRows < 1 {
		return nil, solver.NewDimensionError("matrix must have at least one row")
	}
	if len(rows) != wantRows {
		return nil, solver.NewDimensionError("matrix has %d rows, expected %d", len(rows), wantRows)
	}
	out := mat.NewDense(wantRows, wantCols, nil)
	for i, row := range rows {
		if len(row) != wantCols {
			return nil, solver.NewDimensionError("matrix row %d has %d columns, expected %d", i, len(row), wantCols)
		}
		out.SetRow(i, row)
	}
	return out, nil
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
