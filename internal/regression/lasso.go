package regression

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// LassoConfig contains configuration for Lasso training.
type LassoConfig struct {
	// Lambdas is the regularization grid searched by cross validation.
	// If empty, a log-spaced default grid is used.
	Lambdas []float64

	// CVFolds is the number of cross-validation folds. Typical: 5.
	CVFolds int

	// HoldOut is the fraction of rows withheld from training and used to
	// compute the reported metrics. Typical: 0.2.
	HoldOut float64

	// MaxIter caps the coordinate descent sweeps per fit.
	MaxIter int

	// Tol stops coordinate descent once the largest coefficient update in a
	// sweep falls below it.
	Tol float64

	// Seed drives the row shuffle used for the hold-out split and fold
	// assignment, making runs reproducible.
	Seed int64
}

// DefaultLassoConfig returns the default training configuration.
func DefaultLassoConfig() LassoConfig {
	return LassoConfig{
		Lambdas: logSpace(1e-3, 1e2, 20),
		CVFolds: 5,
		HoldOut: 0.2,
		MaxIter: 1000,
		Tol:     1e-6,
		Seed:    42,
	}
}

func logSpace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	step := (math.Log10(hi) - math.Log10(lo)) / float64(n-1)
	for i := range out {
		out[i] = math.Pow(10, math.Log10(lo)+float64(i)*step)
	}
	return out
}

// Train fits a Lasso model over the feature matrix by cyclical coordinate
// descent on standardized features, selecting the regularization strength by
// k-fold cross-validated MSE minimization. The reported metrics come from a
// hold-out split that never sees training.
//
// The objective minimized is (1/2n)*||y - Xb||^2 + lambda*||b||_1.
// Reference: "Regularization Paths for Generalized Linear Models via
// Coordinate Descent" (Friedman, Hastie, Tibshirani, 2010).
func Train(ctx context.Context, features [][]float64, labels []float64, featureNames []string, cfg LassoConfig) (*Model, error) {
	if len(cfg.Lambdas) == 0 {
		cfg.Lambdas = logSpace(1e-3, 1e2, 20)
	}
	if cfg.CVFolds <= 1 {
		cfg.CVFolds = 5
	}
	if cfg.HoldOut <= 0 || cfg.HoldOut >= 1 {
		cfg.HoldOut = 0.2
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = 1000
	}
	if cfg.Tol <= 0 {
		cfg.Tol = 1e-6
	}

	n := len(features)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty feature table", ErrInsufficientData)
	}
	if len(labels) != n {
		return nil, fmt.Errorf("feature table has %d rows but %d labels", n, len(labels))
	}
	width := len(featureNames)
	for i, row := range features {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d features, schema expects %d", i, len(row), width)
		}
	}

	// Shuffled split: the tail fraction is held out for metrics.
	rng := rand.New(rand.NewSource(cfg.Seed))
	perm := rng.Perm(n)
	holdOut := int(math.Round(float64(n) * cfg.HoldOut))
	if n-holdOut < cfg.CVFolds {
		return nil, fmt.Errorf("%w: %d training rows for %d folds", ErrInsufficientData, n-holdOut, cfg.CVFolds)
	}

	trainIdx := perm[:n-holdOut]
	testIdx := perm[n-holdOut:]

	trainX, trainY := gather(features, labels, trainIdx)
	testX, testY := gather(features, labels, testIdx)

	scaler, err := fitScaler(trainX)
	if err != nil {
		return nil, err
	}
	stdX := scaler.transform(trainX)

	lambda, err := selectLambda(ctx, stdX, trainY, cfg)
	if err != nil {
		return nil, err
	}

	beta, intercept, err := fitLasso(ctx, stdX, trainY, lambda, cfg.MaxIter, cfg.Tol)
	if err != nil {
		return nil, err
	}

	model := &Model{
		Version:      ArtifactVersion,
		FeatureNames: featureNames,
		Coefficients: make([]float64, width),
		Means:        scaler.means,
		Stds:         scaler.stds,
		Lambda:       lambda,
		TrainedAt:    time.Now().UTC(),
	}

	// Undo the standardization so prediction works on raw feature values.
	model.Intercept = intercept
	for j := 0; j < width; j++ {
		model.Coefficients[j] = beta[j] / scaler.stds[j]
		model.Intercept -= model.Coefficients[j] * scaler.means[j]
	}

	model.Metrics = evaluate(model, testX, testY)

	slog.Info("trained lasso model", "rows", n, "features", width, "lambda", lambda, "r2", model.Metrics.R2, "rmse", model.Metrics.RMSE)

	return model, nil
}

type scaler struct {
	means []float64
	stds  []float64
}

func fitScaler(x [][]float64) (*scaler, error) {
	n := float64(len(x))
	width := len(x[0])

	s := &scaler{means: make([]float64, width), stds: make([]float64, width)}
	for j := 0; j < width; j++ {
		var sum float64
		for _, row := range x {
			sum += row[j]
		}
		s.means[j] = sum / n

		var sq float64
		for _, row := range x {
			d := row[j] - s.means[j]
			sq += d * d
		}
		s.stds[j] = math.Sqrt(sq / n)
		if s.stds[j] == 0 {
			return nil, fmt.Errorf("%w: feature column %d is constant", ErrInsufficientData, j)
		}
	}
	return s, nil
}

func (s *scaler) transform(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		std := make([]float64, len(row))
		for j, v := range row {
			std[j] = (v - s.means[j]) / s.stds[j]
		}
		out[i] = std
	}
	return out
}

// selectLambda picks the grid value minimizing mean cross-validated MSE.
// Fold assignment is round-robin over the (already shuffled) training rows.
func selectLambda(ctx context.Context, x [][]float64, y []float64, cfg LassoConfig) (float64, error) {
	if len(cfg.Lambdas) == 1 {
		return cfg.Lambdas[0], nil
	}

	n := len(x)
	best, bestMSE := cfg.Lambdas[0], math.Inf(1)

	for _, lambda := range cfg.Lambdas {
		var total float64
		for fold := 0; fold < cfg.CVFolds; fold++ {
			var fitX, valX [][]float64
			var fitY, valY []float64
			for i := 0; i < n; i++ {
				if i%cfg.CVFolds == fold {
					valX = append(valX, x[i])
					valY = append(valY, y[i])
				} else {
					fitX = append(fitX, x[i])
					fitY = append(fitY, y[i])
				}
			}

			beta, intercept, err := fitLasso(ctx, fitX, fitY, lambda, cfg.MaxIter, cfg.Tol)
			if err != nil {
				return 0, err
			}

			var sse float64
			for i, row := range valX {
				pred := intercept
				for j, v := range row {
					pred += beta[j] * v
				}
				d := pred - valY[i]
				sse += d * d
			}
			total += sse / float64(len(valX))
		}

		mse := total / float64(cfg.CVFolds)
		if mse < bestMSE {
			best, bestMSE = lambda, mse
		}
	}

	slog.Debug("selected regularization strength", "lambda", best, "cv_mse", bestMSE)
	return best, nil
}

// fitLasso runs cyclical coordinate descent on standardized columns. The
// intercept is the label mean since the columns are centered.
func fitLasso(ctx context.Context, x [][]float64, y []float64, lambda float64, maxIter int, tol float64) ([]float64, float64, error) {
	n := len(x)
	width := len(x[0])

	var meanY float64
	for _, v := range y {
		meanY += v
	}
	meanY /= float64(n)

	// Residuals start at the centered labels.
	resid := make([]float64, n)
	for i, v := range y {
		resid[i] = v - meanY
	}

	// Per-column mean square; columns may not be exactly unit scale when
	// fitting a CV fold of standardized data.
	colMS := make([]float64, width)
	for j := 0; j < width; j++ {
		var sq float64
		for _, row := range x {
			sq += row[j] * row[j]
		}
		colMS[j] = sq / float64(n)
		if colMS[j] == 0 {
			return nil, 0, fmt.Errorf("%w: feature column %d is constant", ErrInsufficientData, j)
		}
	}

	beta := make([]float64, width)
	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		var maxDelta float64
		for j := 0; j < width; j++ {
			// rho is the correlation of column j with the residual that
			// excludes column j's own contribution.
			var rho float64
			for i, row := range x {
				rho += row[j] * (resid[i] + row[j]*beta[j])
			}
			rho /= float64(n)

			updated := softThreshold(rho, lambda) / colMS[j]
			if delta := updated - beta[j]; delta != 0 {
				for i, row := range x {
					resid[i] -= row[j] * delta
				}
				if math.Abs(delta) > maxDelta {
					maxDelta = math.Abs(delta)
				}
				beta[j] = updated
			}
		}

		if maxDelta < tol {
			break
		}
	}

	return beta, meanY, nil
}

func softThreshold(v, threshold float64) float64 {
	switch {
	case v > threshold:
		return v - threshold
	case v < -threshold:
		return v + threshold
	default:
		return 0
	}
}

func evaluate(m *Model, x [][]float64, y []float64) Metrics {
	n := len(y)
	if n == 0 {
		return Metrics{}
	}

	var meanY float64
	for _, v := range y {
		meanY += v
	}
	meanY /= float64(n)

	var ssRes, ssTot float64
	for i, row := range x {
		pred, _ := m.Predict(row)
		d := y[i] - pred
		ssRes += d * d
		t := y[i] - meanY
		ssTot += t * t
	}

	metrics := Metrics{RMSE: math.Sqrt(ssRes / float64(n))}
	if ssTot > 0 {
		metrics.R2 = 1 - ssRes/ssTot
	}
	return metrics
}

func gather(x [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	outX := make([][]float64, len(idx))
	outY := make([]float64, len(idx))
	for i, k := range idx {
		outX[i] = x[k]
		outY[i] = y[k]
	}
	return outX, outY
}
