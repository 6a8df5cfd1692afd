package solver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestAddMatrixConstraintDimensionChecks(t *testing.T) {
	c := newConstraints(3)

	// Column count must equal the variable count.
	err := c.AddEqualityMatrix(mat.NewDense(1, 2, []float64{1, 1}), []float64{1})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDimension))

	// Row count must equal the right-hand-side length.
	err = c.AddInequalityMatrix(mat.NewDense(2, 3, nil), []float64{1})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDimension))

	err = c.AddEqualityMatrix(nil, []float64{1})
	require.Error(t, err)
}

func TestMatrixConstraintEvaluatesAsResidual(t *testing.T) {
	c := newConstraints(2)
	a := mat.NewDense(1, 2, []float64{1, 1})
	require.NoError(t, c.AddInequalityMatrix(a, []float64{1}))

	// A*x - b at x = (2, 0) is 1.
	vals, err := c.EvaluateInequalities([]float64{2, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vals[0], 1e-12)

	// Later mutation of the caller's matrix must not leak in.
	a.Set(0, 0, 100)
	vals, err = c.EvaluateInequalities([]float64{2, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vals[0], 1e-12)
}

func TestConstraintOrderPreserved(t *testing.T) {
	c := newConstraints(1)
	require.NoError(t, c.AddInequality(1, func(x []float64) ([]float64, error) {
		return []float64{x[0] - 1}, nil
	}, nil))
	require.NoError(t, c.AddInequalityMatrix(mat.NewDense(1, 1, []float64{2}), []float64{0}))

	vals, err := c.EvaluateInequalities([]float64{3})
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.InDelta(t, 2.0, vals[0], 1e-12) // x - 1
	assert.InDelta(t, 6.0, vals[1], 1e-12) // 2x - 0
}

func TestToleranceBroadcast(t *testing.T) {
	c := newConstraints(2)
	fn := func(x []float64) ([]float64, error) {
		return []float64{x[0], x[1], x[0] + x[1]}, nil
	}

	require.NoError(t, c.AddEquality(3, fn, nil, 1e-6))
	assert.Equal(t, []float64{1e-6, 1e-6, 1e-6}, c.EqualityTolerances())

	err := c.AddEquality(3, fn, nil, 1e-6, 1e-7)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDimension))

	err = c.AddEquality(3, fn, nil, -1e-6)
	assert.Error(t, err)
}

func TestRemoveAll(t *testing.T) {
	c := newConstraints(1)
	require.NoError(t, c.AddEquality(1, func(x []float64) ([]float64, error) {
		return []float64{x[0]}, nil
	}, nil))
	require.NoError(t, c.AddInequalityMatrix(mat.NewDense(1, 1, []float64{1}), []float64{0}))
	require.Equal(t, 1, c.EqualityRows())
	require.Equal(t, 1, c.InequalityRows())

	c.RemoveAll()
	assert.Zero(t, c.EqualityRows())
	assert.Zero(t, c.InequalityRows())
}

func TestEvaluateRejectsBadConstraintOutput(t *testing.T) {
	c := newConstraints(1)

	require.NoError(t, c.AddEquality(2, func(x []float64) ([]float64, error) {
		return []float64{x[0]}, nil // one value, declared two
	}, nil))
	_, err := c.EvaluateEqualities([]float64{1})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindEvaluation))

	c.RemoveAll()
	boom := errors.New("boom")
	require.NoError(t, c.AddInequality(1, func(x []float64) ([]float64, error) {
		return nil, boom
	}, nil))
	_, err = c.EvaluateInequalities([]float64{1})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindEvaluation))
	assert.ErrorIs(t, err, boom)
}
