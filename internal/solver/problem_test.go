package solver

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quadObjective(x []float64) (float64, error) {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum, nil
}

func TestNewProblemRejectsNonPositiveSize(t *testing.T) {
	_, err := NewProblem(0)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDimension))

	_, err = NewProblem(-3)
	require.Error(t, err)
}

func TestNewProblemDefaultBounds(t *testing.T) {
	p, err := NewProblem(3)
	require.NoError(t, err)

	lower, upper := p.Bounds()
	for i := 0; i < 3; i++ {
		assert.True(t, math.IsInf(lower[i], -1))
		assert.True(t, math.IsInf(upper[i], 1))
	}
}

func TestSetBoundsBroadcast(t *testing.T) {
	p, err := NewProblem(4)
	require.NoError(t, err)

	require.NoError(t, p.SetBounds([]float64{0}, []float64{1}))
	lower, upper := p.Bounds()
	assert.Equal(t, []float64{0, 0, 0, 0}, lower)
	assert.Equal(t, []float64{1, 1, 1, 1}, upper)
}

func TestSetBoundsLengthMismatch(t *testing.T) {
	p, err := NewProblem(4)
	require.NoError(t, err)

	err = p.SetLowerBounds([]float64{0, 1})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDimension))
}

func TestValidateRequiresObjective(t *testing.T) {
	p, err := NewProblem(2)
	require.NoError(t, err)
	assert.Error(t, p.Validate())

	require.NoError(t, p.SetObjective(Minimize, quadObjective, nil))
	assert.NoError(t, p.Validate())
}

func TestValidateRejectsInvertedBounds(t *testing.T) {
	p, err := NewProblem(2)
	require.NoError(t, err)
	require.NoError(t, p.SetObjective(Minimize, quadObjective, nil))
	require.NoError(t, p.SetBounds([]float64{2, 0}, []float64{1, 1}))

	err = p.Validate()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDimension))
}

func TestSetObjectiveValidation(t *testing.T) {
	p, err := NewProblem(2)
	require.NoError(t, err)

	assert.Error(t, p.SetObjective(Minimize, nil, nil))
	assert.Error(t, p.SetObjective(Direction(42), quadObjective, nil))
}

// fixedDimPenalty reports a fixed dimensionality and counts evaluations.
type fixedDimPenalty struct {
	dim   int
	calls int
}

func (p *fixedDimPenalty) Dim() int { return p.dim }

func (p *fixedDimPenalty) Evaluate(x []float64) (float64, error) {
	p.calls++
	return 0, nil
}

func TestSetPenaltyDimensionMismatch(t *testing.T) {
	p, err := NewProblem(7)
	require.NoError(t, err)

	pen := &fixedDimPenalty{dim: 9}
	err = p.SetPenalty(pen)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDimension))
	assert.Contains(t, err.Error(), "9")
	assert.Contains(t, err.Error(), "7")
	// The mismatch is rejected before any evaluation side effects.
	assert.Zero(t, pen.calls)
	assert.Nil(t, p.AttachedPenalty())
}

func TestSetPenaltyAttachDetach(t *testing.T) {
	p, err := NewProblem(3)
	require.NoError(t, err)

	pen := &fixedDimPenalty{dim: 3}
	require.NoError(t, p.SetPenalty(pen))
	assert.NotNil(t, p.AttachedPenalty())

	require.NoError(t, p.SetPenalty(nil))
	assert.Nil(t, p.AttachedPenalty())
}

func TestSetTolerancesValidation(t *testing.T) {
	p, err := NewProblem(2)
	require.NoError(t, err)

	tol := DefaultTolerances()
	tol.XTolAbs = -1
	assert.Error(t, p.SetTolerances(tol))

	tol = DefaultTolerances()
	tol.MaxEval = -5
	assert.Error(t, p.SetTolerances(tol))

	tol = DefaultTolerances()
	tol.XTolAbs = 0 // zero disables a criterion
	assert.NoError(t, p.SetTolerances(tol))
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "minimize", Minimize.String())
	assert.Equal(t, "maximize", Maximize.String())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "converged", StatusConverged.String())
	assert.Equal(t, "stalled", StatusStalled.String())
	assert.Equal(t, "max_eval_reached", StatusMaxEvalReached.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "unknown", StatusUnknown.String())
}
