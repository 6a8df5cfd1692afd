package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestReportRestoresMaximizeSign(t *testing.T) {
	p, err := NewProblem(2)
	require.NoError(t, err)
	require.NoError(t, p.SetObjective(Maximize, quadObjective, nil))

	res := p.Report(Terminal{
		X:      []float64{1, 1},
		Value:  -2, // minimized form of a maximized objective
		Status: StatusConverged,
	})
	assert.Equal(t, 2.0, res.Value)
	assert.True(t, res.Success)
}

func TestReportSuccessTracksStatus(t *testing.T) {
	p, err := NewProblem(1)
	require.NoError(t, err)
	require.NoError(t, p.SetObjective(Minimize, quadObjective, nil))

	for _, tc := range []struct {
		status  Status
		success bool
	}{
		{StatusConverged, true},
		{StatusStalled, false},
		{StatusMaxEvalReached, false},
		{StatusFailed, false},
	} {
		res := p.Report(Terminal{X: []float64{0}, Status: tc.status})
		assert.Equal(t, tc.success, res.Success, tc.status.String())
	}
}

func TestReportTightFlags(t *testing.T) {
	p, err := NewProblem(2)
	require.NoError(t, err)
	require.NoError(t, p.SetObjective(Minimize, quadObjective, nil))

	// Row 0: x0 + x1 <= 1, tight at the reported point.
	// Row 1: x0 <= 5, slack.
	a := mat.NewDense(2, 2, []float64{
		1, 1,
		1, 0,
	})
	require.NoError(t, p.Constraints().AddInequalityMatrix(a, []float64{1, 5}, 1e-6))

	res := p.Report(Terminal{X: []float64{0.5, 0.5}, Status: StatusConverged})
	require.Len(t, res.Tight, 2)
	assert.True(t, res.Tight[0])
	assert.False(t, res.Tight[1])
}

func TestReportTightFlagsStayFalseOnEvaluationError(t *testing.T) {
	p, err := NewProblem(1)
	require.NoError(t, err)
	require.NoError(t, p.SetObjective(Minimize, quadObjective, nil))
	require.NoError(t, p.Constraints().AddInequality(1, func(x []float64) ([]float64, error) {
		return nil, assert.AnError
	}, nil))

	res := p.Report(Terminal{X: []float64{0}, Status: StatusFailed, Err: assert.AnError})
	require.Len(t, res.Tight, 1)
	assert.False(t, res.Tight[0])
}

func TestReportCopiesX(t *testing.T) {
	p, err := NewProblem(2)
	require.NoError(t, err)
	require.NoError(t, p.SetObjective(Minimize, quadObjective, nil))

	x := []float64{1, 2}
	res := p.Report(Terminal{X: x, Status: StatusConverged})
	x[0] = 99
	assert.Equal(t, 1.0, res.X[0])
}
