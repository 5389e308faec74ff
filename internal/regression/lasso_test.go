package regression_test

import (
	"context"
	"math/rand"
	"testing"

	"popscore-backend/internal/regression"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNames = []string{"x1", "x2", "x3"}

// syntheticTable generates rows with a known linear relationship
// y = 4 + 3*x1 - 2*x2 + 0*x3 plus small noise.
func syntheticTable(n int, noise float64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(7))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		row := []float64{rng.Float64() * 10, rng.Float64() * 5, rng.Float64()}
		x[i] = row
		y[i] = 4 + 3*row[0] - 2*row[1] + noise*rng.NormFloat64()
	}
	return x, y
}

func quickConfig() regression.LassoConfig {
	cfg := regression.DefaultLassoConfig()
	cfg.Lambdas = []float64{0.001, 0.01, 0.1}
	cfg.CVFolds = 3
	return cfg
}

func TestTrainRecoversLinearRelationship(t *testing.T) {
	x, y := syntheticTable(200, 0.01)

	model, err := regression.Train(context.Background(), x, y, testNames, quickConfig())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, model.Metrics.R2, 0.0)
	assert.LessOrEqual(t, model.Metrics.R2, 1.0)
	assert.Greater(t, model.Metrics.R2, 0.95)
	assert.GreaterOrEqual(t, model.Metrics.RMSE, 0.0)

	assert.InDelta(t, 3.0, model.Coefficients[0], 0.1)
	assert.InDelta(t, -2.0, model.Coefficients[1], 0.1)
	assert.InDelta(t, 4.0, model.Intercept, 0.5)
}

func TestTrainIsReproducible(t *testing.T) {
	x, y := syntheticTable(100, 0.5)

	first, err := regression.Train(context.Background(), x, y, testNames, quickConfig())
	require.NoError(t, err)
	second, err := regression.Train(context.Background(), x, y, testNames, quickConfig())
	require.NoError(t, err)

	assert.Equal(t, first.Lambda, second.Lambda)
	assert.Equal(t, first.Coefficients, second.Coefficients)
	assert.Equal(t, first.Metrics, second.Metrics)
}

func TestLargeLambdaDrivesCoefficientsToZero(t *testing.T) {
	x, y := syntheticTable(100, 0.1)

	cfg := quickConfig()
	cfg.Lambdas = []float64{1e6}

	model, err := regression.Train(context.Background(), x, y, testNames, cfg)
	require.NoError(t, err)

	for j, coef := range model.Coefficients {
		assert.Zero(t, coef, "coefficient %d should be shrunk to zero", j)
	}
}

func TestTrainEmptyTable(t *testing.T) {
	_, err := regression.Train(context.Background(), nil, nil, testNames, quickConfig())
	assert.ErrorIs(t, err, regression.ErrInsufficientData)
}

func TestTrainTooFewRowsForFolds(t *testing.T) {
	x, y := syntheticTable(3, 0.1)
	_, err := regression.Train(context.Background(), x, y, testNames, quickConfig())
	assert.ErrorIs(t, err, regression.ErrInsufficientData)
}

func TestTrainConstantColumn(t *testing.T) {
	x, y := syntheticTable(50, 0.1)
	for i := range x {
		x[i][2] = 1.0
	}

	_, err := regression.Train(context.Background(), x, y, testNames, quickConfig())
	assert.ErrorIs(t, err, regression.ErrInsufficientData)
}

func TestTrainHonorsCancellation(t *testing.T) {
	x, y := syntheticTable(100, 0.1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := regression.Train(ctx, x, y, testNames, quickConfig())
	assert.ErrorIs(t, err, context.Canceled)
}
