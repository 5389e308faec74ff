package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func UpdateModelStatus(ctx context.Context, txn *gorm.DB, modelId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == ModelTrained || status == ModelFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&TrainedModel{Id: modelId}).Updates(updates).Error; err != nil {
		slog.Error("error updating model status", "model_id", modelId, "status", status, "error", err)
		return err
	}
	return nil
}

func UpdateDatasetStatus(ctx context.Context, txn *gorm.DB, datasetId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == DatasetReady || status == DatasetFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&Dataset{Id: datasetId}).Updates(updates).Error; err != nil {
		slog.Error("error updating dataset status", "dataset_id", datasetId, "status", status, "error", err)
		return err
	}
	return nil
}

func UpdateJobStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&PipelineJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating job status", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

// SaveJobError marks the job FAILED and records the error message. Logging
// only on failure; the caller has already decided the run is over.
func SaveJobError(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, errorMessage string) {
	updates := map[string]any{
		"status":          JobFailed,
		"error":           errorMessage,
		"completion_time": time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Model(&PipelineJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error saving job error", "job_id", jobId, "error", err)
	}
}
