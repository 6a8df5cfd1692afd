package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/sqpkit/internal/config"
	"github.com/quantfold/sqpkit/internal/logging"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.Solver.MaxEval = 100000
	cfg.Solver.XTolAbs = 1e-6
	cfg.Solver.FTolAbs = 1e-8

	r := chi.NewRouter()
	srv := NewServer(cfg, logging.New(logging.ErrorLevel, io.Discard))
	srv.RegisterRoutes(r)

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func postSolve(t *testing.T, ts *httptest.Server, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/v1/solve", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHandleSolveUnconstrained(t *testing.T) {
	ts := testServer(t)

	// f(x) = 1/2 x^T I x - (1,1)^T x, minimized at (1,1).
	resp, body := postSolve(t, ts, `{
		"n": 2,
		"objective": {"q": [[1, 0], [0, 1]], "c": [-1, -1]}
	}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "converged", body["status"])
	assert.Equal(t, true, body["success"])

	x := body["x"].([]interface{})
	require.Len(t, x, 2)
	assert.InDelta(t, 1.0, x[0].(float64), 1e-4)
	assert.InDelta(t, 1.0, x[1].(float64), 1e-4)
	assert.InDelta(t, -1.0, body["value"].(float64), 1e-6)
}

func TestHandleSolveWithEqualityConstraint(t *testing.T) {
	ts := testServer(t)

	resp, body := postSolve(t, ts, `{
		"n": 2,
		"objective": {"q": [[2, 0], [0, 2]]},
		"equalities": [{"a": [[1, 1]], "b": [1], "tol": 1e-8}],
		"x0": [0, 0]
	}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	x := body["x"].([]interface{})
	assert.InDelta(t, 0.5, x[0].(float64), 1e-4)
	assert.InDelta(t, 0.5, x[1].(float64), 1e-4)
}

func TestHandleSolveMaximizeWithBounds(t *testing.T) {
	ts := testServer(t)

	// Maximize x0 + x1 over the unit box.
	resp, body := postSolve(t, ts, `{
		"n": 2,
		"direction": "maximize",
		"objective": {"c": [1, 1]},
		"bounds": {"lower": [0], "upper": [1]}
	}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.InDelta(t, 2.0, body["value"].(float64), 1e-6)
}

func TestHandleSolveTightFlags(t *testing.T) {
	ts := testServer(t)

	resp, body := postSolve(t, ts, `{
		"n": 2,
		"objective": {"q": [[2, 0], [0, 2]]},
		"inequalities": [{"a": [[-1, -1]], "b": [-1], "tol": 1e-5}],
		"x0": [2, 2]
	}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	tight := body["tight"].([]interface{})
	require.Len(t, tight, 1)
	assert.Equal(t, true, tight[0])
}

func TestHandleSolveRejectsBadInput(t *testing.T) {
	ts := testServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing objective", `{"n": 2}`},
		{"unknown direction", `{"n": 1, "direction": "sideways", "objective": {"c": [1]}}`},
		{"non-positive n", `{"n": 0, "objective": {"c": []}}`},
		{"ragged matrix", `{"n": 2, "objective": {"q": [[1, 0], [0]]}}`},
		{"objective length mismatch", `{"n": 2, "objective": {"c": [1]}}`},
		{"constraint rhs mismatch", `{"n": 2, "objective": {"c": [1, 1]}, "equalities": [{"a": [[1, 1], [1, 0]], "b": [1]}]}`},
		{"empty equality block", `{"n": 2, "objective": {"c": [1, 1]}, "equalities": [{"a": [], "b": []}]}`},
		{"empty inequality block", `{"n": 2, "objective": {"c": [1, 1]}, "inequalities": [{"a": [], "b": []}]}`},
		{"inverted bounds", `{"n": 1, "objective": {"c": [1]}, "bounds": {"lower": [2], "upper": [1]}}`},
		{"x0 length mismatch", `{"n": 2, "objective": {"c": [1, 1]}, "x0": [1]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postSolve(t, ts, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHandleSolveToleranceOverrides(t *testing.T) {
	ts := testServer(t)

	// A budget of 2 evaluations is exhausted by the starting point plus
	// the first line-search probe.
	resp, body := postSolve(t, ts, `{
		"n": 2,
		"objective": {"q": [[1, 0], [0, 1]], "c": [-1, -1]},
		"tolerances": {"max_eval": 2}
	}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "max_eval_reached", body["status"])
	assert.Equal(t, false, body["success"])
}
