package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	ScrapeQueue     = "scrape_queue"
	EnrichQueue     = "enrich_queue"
	BuildQueue      = "build_queue"
	TrainQueue      = "train_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// ScrapeTaskPayload requests a review-site scrape. When SnapshotKey is set
// the raw records are replayed from that object instead of fetched live.
type ScrapeTaskPayload struct {
	JobId          uuid.UUID
	Genres         []string
	AlbumsPerGenre int
	SnapshotKey    string
}

// EnrichTaskPayload requests catalog lookups for reviewed albums that have no
// tracks yet. Limit of 0 means all.
type EnrichTaskPayload struct {
	JobId uuid.UUID
	Limit int
}

type BuildDatasetPayload struct {
	JobId     uuid.UUID
	DatasetId uuid.UUID
}

type TrainTaskPayload struct {
	JobId   uuid.UUID
	ModelId uuid.UUID
}

type Publisher interface {
	PublishScrapeTask(ctx context.Context, payload ScrapeTaskPayload) error

	PublishEnrichTask(ctx context.Context, payload EnrichTaskPayload) error

	PublishBuildDatasetTask(ctx context.Context, payload BuildDatasetPayload) error

	PublishTrainTask(ctx context.Context, payload TrainTaskPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
