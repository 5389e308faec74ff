// Package regression fits and serves the regularized linear popularity model.
package regression

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInsufficientData is returned when the training table is empty, too
	// small for cross validation, or rank deficient.
	ErrInsufficientData = errors.New("insufficient data to train model")

	// ErrSchemaMismatch is returned when a feature vector's shape disagrees
	// with the schema the model was trained on.
	ErrSchemaMismatch = errors.New("feature vector does not match model schema")
)

// ArtifactVersion tags the serialized model format.
const ArtifactVersion = 1

// Metrics are the validation metrics reported alongside a trained model.
type Metrics struct {
	R2   float64 `json:"r2"`
	RMSE float64 `json:"rmse"`
}

// Model is an immutable fitted Lasso model. Coefficients are on the original
// feature scale; the standardizer parameters are kept for inspection. Safe
// for concurrent use once trained.
type Model struct {
	Version      int       `json:"artifact_version"`
	FeatureNames []string  `json:"feature_names"`
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
	Means        []float64 `json:"feature_means"`
	Stds         []float64 `json:"feature_stds"`
	Lambda       float64   `json:"lambda"`
	Metrics      Metrics   `json:"metrics"`
	TrainedAt    time.Time `json:"trained_at"`
}

// Predict returns the model's scalar prediction for one feature vector. The
// vector must have exactly one value per trained feature, in schema order.
func (m *Model) Predict(vec []float64) (float64, error) {
	if len(vec) != len(m.Coefficients) {
		return 0, fmt.Errorf("%w: got %d features, model expects %d", ErrSchemaMismatch, len(vec), len(m.Coefficients))
	}

	pred := m.Intercept
	for i, v := range vec {
		pred += m.Coefficients[i] * v
	}
	return pred, nil
}

// Marshal serializes the model into its versioned artifact form.
func (m *Model) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("error serializing model artifact: %w", err)
	}
	return data, nil
}

// LoadModel deserializes a model artifact produced by Marshal.
func LoadModel(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("error parsing model artifact: %w", err)
	}
	if m.Version != ArtifactVersion {
		return nil, fmt.Errorf("unsupported model artifact version %d", m.Version)
	}
	if len(m.Coefficients) != len(m.FeatureNames) {
		return nil, fmt.Errorf("corrupt model artifact: %d coefficients for %d features", len(m.Coefficients), len(m.FeatureNames))
	}
	return &m, nil
}
