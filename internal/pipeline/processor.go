// Package pipeline runs the four data-pipeline stages (scrape, enrich, build,
// train) as queued tasks consumed from the messaging layer.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"popscore-backend/internal/database"
	"popscore-backend/internal/dataset"
	"popscore-backend/internal/messaging"
	"popscore-backend/internal/spotify"
	"popscore-backend/internal/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReviewSource is the review-site connector used by the scrape stage.
type ReviewSource interface {
	Genres() []string

	ReviewURLs(ctx context.Context, genre string, n int) ([]string, error)

	Review(ctx context.Context, url, genre string) (dataset.RawReviewRecord, error)
}

// MusicCatalog is the music-metadata connector used by the enrich stage.
type MusicCatalog interface {
	SearchAlbum(ctx context.Context, album, artist string) (*spotify.Album, error)

	AlbumTracks(ctx context.Context, albumID string) ([]spotify.AlbumTrack, error)

	AudioFeatures(ctx context.Context, trackIDs []string) ([]spotify.AudioFeatures, error)

	Tracks(ctx context.Context, trackIDs []string) ([]spotify.Track, error)

	Artists(ctx context.Context, artistIDs []string) ([]spotify.Artist, error)
}

type TaskProcessor struct {
	db        *gorm.DB
	storage   storage.Provider
	publisher messaging.Publisher
	receiver  messaging.Receiver

	reviews ReviewSource
	catalog MusicCatalog

	modelBucket   string
	datasetBucket string
}

func NewTaskProcessor(db *gorm.DB, store storage.Provider, publisher messaging.Publisher, receiver messaging.Receiver, reviews ReviewSource, catalog MusicCatalog, modelBucket, datasetBucket string) *TaskProcessor {
	return &TaskProcessor{
		db:            db,
		storage:       store,
		publisher:     publisher,
		receiver:      receiver,
		reviews:       reviews,
		catalog:       catalog,
		modelBucket:   modelBucket,
		datasetBucket: datasetBucket,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.receiver.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.publisher.Close()
	proc.receiver.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {

	case messaging.ScrapeQueue:
		var payload messaging.ScrapeTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling scrape task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processScrapeTask(ctx, payload)

	case messaging.EnrichQueue:
		var payload messaging.EnrichTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling enrich task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processEnrichTask(ctx, payload)

	case messaging.BuildQueue:
		var payload messaging.BuildDatasetPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling build dataset task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processBuildDatasetTask(ctx, payload)

	case messaging.TrainQueue:
		var payload messaging.TrainTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling train task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processTrainTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil { // reject unknown message type
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

// runJob wraps one pipeline stage with the job status transitions. A stage
// failure is final: the job is marked FAILED with its error and not retried.
func (proc *TaskProcessor) runJob(ctx context.Context, jobId uuid.UUID, run func(context.Context) error) error {
	if err := database.UpdateJobStatus(ctx, proc.db, jobId, database.JobRunning); err != nil {
		return err
	}

	if err := run(ctx); err != nil {
		database.SaveJobError(ctx, proc.db, jobId, err.Error())
		return err
	}

	return database.UpdateJobStatus(ctx, proc.db, jobId, database.JobCompleted)
}
