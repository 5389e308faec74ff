package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"popscore-backend/internal/database"
	"popscore-backend/internal/dataset"
	"popscore-backend/internal/feature"
	"popscore-backend/internal/messaging"
	"popscore-backend/internal/regression"

	"gorm.io/datatypes"
)

func (proc *TaskProcessor) processTrainTask(ctx context.Context, payload messaging.TrainTaskPayload) error {
	slog.Info("processing train task", "job_id", payload.JobId, "model_id", payload.ModelId)

	return proc.runJob(ctx, payload.JobId, func(ctx context.Context) error {
		var model database.TrainedModel
		if err := proc.db.WithContext(ctx).Preload("Dataset").First(&model, "id = ?", payload.ModelId).Error; err != nil {
			return fmt.Errorf("error loading model %s: %w", payload.ModelId, err)
		}

		if err := database.UpdateModelStatus(ctx, proc.db, model.Id, database.ModelTraining); err != nil {
			return err
		}

		if err := proc.trainModel(ctx, &model); err != nil {
			database.UpdateModelStatus(ctx, proc.db, model.Id, database.ModelFailed) //nolint:errcheck
			return err
		}

		return database.UpdateModelStatus(ctx, proc.db, model.Id, database.ModelTrained)
	})
}

func (proc *TaskProcessor) trainModel(ctx context.Context, model *database.TrainedModel) error {
	if model.Dataset == nil {
		return fmt.Errorf("model %s has no dataset", model.Id)
	}
	if model.Dataset.Status != database.DatasetReady {
		return fmt.Errorf("dataset %s is not ready (status %s)", model.Dataset.Id, model.Dataset.Status)
	}

	joined, err := readJSONL[dataset.JoinedTrack](ctx, proc.storage, proc.datasetBucket, model.Dataset.SnapshotKey)
	if err != nil {
		return err
	}

	builder := feature.NewBuilder(feature.SchemaV1())
	features, labels, err := builder.Matrix(joined)
	if err != nil {
		return fmt.Errorf("error building feature matrix: %w", err)
	}

	cfg := regression.DefaultLassoConfig()
	if len(model.TrainConfig) > 0 {
		if err := json.Unmarshal(model.TrainConfig, &cfg); err != nil {
			return fmt.Errorf("error parsing train config: %w", err)
		}
	}

	trained, err := regression.Train(ctx, features, labels, builder.Schema().Names, cfg)
	if err != nil {
		return fmt.Errorf("error training model: %w", err)
	}

	artifact, err := trained.Marshal()
	if err != nil {
		return fmt.Errorf("error serializing model artifact: %w", err)
	}

	key := ModelArtifactKey(model.Id)
	if err := proc.storage.PutObject(ctx, proc.modelBucket, key, bytes.NewReader(artifact)); err != nil {
		return fmt.Errorf("error storing model artifact: %w", err)
	}

	metrics, err := json.Marshal(trained.Metrics)
	if err != nil {
		return fmt.Errorf("error encoding metrics: %w", err)
	}
	names, err := json.Marshal(trained.FeatureNames)
	if err != nil {
		return fmt.Errorf("error encoding feature names: %w", err)
	}

	updates := map[string]any{
		"lambda":        trained.Lambda,
		"metrics":       datatypes.JSON(metrics),
		"feature_names": datatypes.JSON(names),
		"artifact_key":  key,
	}
	if err := proc.db.WithContext(ctx).Model(&database.TrainedModel{Id: model.Id}).Updates(updates).Error; err != nil {
		return fmt.Errorf("error saving training results: %w", err)
	}

	slog.Info("model trained", "model_id", model.Id, "lambda", trained.Lambda, "r2", trained.Metrics.R2, "rmse", trained.Metrics.RMSE, "rows", len(labels))

	return nil
}
