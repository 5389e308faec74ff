package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ModelQueued   string = "QUEUED"
	ModelTraining string = "TRAINING"
	ModelTrained  string = "TRAINED"
	ModelFailed   string = "FAILED"
)

const (
	DatasetQueued   string = "QUEUED"
	DatasetBuilding string = "BUILDING"
	DatasetReady    string = "READY"
	DatasetFailed   string = "FAILED"
)

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

// Review is a cleaned album review. One row per (artist, album).
type Review struct {
	Artist string `gorm:"primaryKey;size:512"`
	Album  string `gorm:"primaryKey;size:512"`

	Genre       string
	Rating      float64
	PublishedAt time.Time
	URL         string

	CreationTime time.Time
}

// Track is a cleaned catalog track with its audio features, the popularity
// label, and the primary artist's follower count.
type Track struct {
	TrackId string `gorm:"primaryKey;size:64"`

	Artist string `gorm:"index"`
	Album  string `gorm:"index"`

	DurationMS    int
	Tempo         float64
	Key           int
	Mode          int
	TimeSignature int

	Danceability     float64
	Energy           float64
	Loudness         float64
	Speechiness      float64
	Acousticness     float64
	Instrumentalness float64
	Liveness         float64
	Valence          float64

	Popularity      int
	ArtistFollowers int

	CreationTime time.Time
}

// Dataset is one join run over the review and track tables. The joined rows
// live in the object store under SnapshotKey; the row keeps the counts.
type Dataset struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"not null"`

	Status     string `gorm:"size:20;not null"`
	JoinPolicy string `gorm:"size:20;not null"`

	ReviewCount  int `gorm:"default:0"`
	TrackCount   int `gorm:"default:0"`
	JoinedCount  int `gorm:"default:0"`
	DroppedLeft  int `gorm:"default:0"`
	DroppedRight int `gorm:"default:0"`

	SnapshotKey string

	CreationTime   time.Time
	CompletionTime sql.NullTime
}

type TrainedModel struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	DatasetId uuid.UUID `gorm:"type:uuid"`
	Dataset   *Dataset  `gorm:"foreignKey:DatasetId"`

	Name   string
	Status string `gorm:"size:20;not null"`

	Lambda       float64
	Metrics      datatypes.JSON // {"r2":…,"rmse":…}
	FeatureNames datatypes.JSON // ordered feature schema
	TrainConfig  datatypes.JSON // trainer overrides from the create request

	ArtifactKey string

	CreationTime   time.Time
	CompletionTime sql.NullTime
}

// PipelineJob tracks one queued pipeline task. Payload holds the task body so
// queued jobs can be republished after a restart.
type PipelineJob struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type string    `gorm:"size:20;not null"`

	Status  string `gorm:"size:20;not null"`
	Payload datatypes.JSON
	Error   string

	CreationTime   time.Time
	CompletionTime sql.NullTime
}
