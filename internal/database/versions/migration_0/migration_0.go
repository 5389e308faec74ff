// Package migration_0 holds a frozen copy of the initial schema so later
// schema edits cannot silently rewrite this migration.
package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Review struct {
	Artist string `gorm:"primaryKey;size:512"`
	Album  string `gorm:"primaryKey;size:512"`

	Genre       string
	Rating      float64
	PublishedAt time.Time
	URL         string

	CreationTime time.Time
}

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
	Metrics      datatypes.JSON
	FeatureNames datatypes.JSON
	TrainConfig  datatypes.JSON

	ArtifactKey string

	CreationTime   time.Time
	CompletionTime sql.NullTime
}

type PipelineJob struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type string    `gorm:"size:20;not null"`

	Status  string `gorm:"size:20;not null"`
	Payload datatypes.JSON
	Error   string

	CreationTime   time.Time
	CompletionTime sql.NullTime
}

func Migration(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Review{}, &Track{}, &Dataset{}, &TrainedModel{}, &PipelineJob{},
	)
	if err != nil {
		return fmt.Errorf("initial migration failed: %w", err)
	}
	return nil
}
