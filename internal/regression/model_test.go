package regression_test

import (
	"context"
	"testing"
	"time"

	"popscore-backend/internal/regression"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredict(t *testing.T) {
	model := &regression.Model{
		Version:      regression.ArtifactVersion,
		FeatureNames: []string{"a", "b"},
		Intercept:    1.5,
		Coefficients: []float64{2.0, -0.5},
	}

	pred, err := model.Predict([]float64{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 1.5+6-2, pred, 1e-12)
}

func TestPredictSchemaMismatch(t *testing.T) {
	model := &regression.Model{
		Version:      regression.ArtifactVersion,
		FeatureNames: []string{"a", "b"},
		Coefficients: []float64{2.0, -0.5},
	}

	_, err := model.Predict([]float64{1})
	assert.ErrorIs(t, err, regression.ErrSchemaMismatch)

	_, err = model.Predict([]float64{1, 2, 3})
	assert.ErrorIs(t, err, regression.ErrSchemaMismatch)
}

func TestArtifactRoundTrip(t *testing.T) {
	x, y := syntheticTable(100, 0.2)

	model, err := regression.Train(context.Background(), x, y, testNames, quickConfig())
	require.NoError(t, err)

	data, err := model.Marshal()
	require.NoError(t, err)

	loaded, err := regression.LoadModel(data)
	require.NoError(t, err)

	assert.Equal(t, model.FeatureNames, loaded.FeatureNames)
	assert.Equal(t, model.Lambda, loaded.Lambda)
	assert.Equal(t, model.Metrics, loaded.Metrics)
	assert.WithinDuration(t, model.TrainedAt, loaded.TrainedAt, time.Second)

	vec := []float64{2.5, 1.0, 0.5}
	want, err := model.Predict(vec)
	require.NoError(t, err)
	got, err := loaded.Predict(vec)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadModelRejectsBadArtifacts(t *testing.T) {
	_, err := regression.LoadModel([]byte("not json"))
	assert.Error(t, err)

	_, err = regression.LoadModel([]byte(`{"artifact_version": 99}`))
	assert.Error(t, err)

	_, err = regression.LoadModel([]byte(`{"artifact_version": 1, "feature_names": ["a"], "coefficients": [1, 2]}`))
	assert.Error(t, err)
}
