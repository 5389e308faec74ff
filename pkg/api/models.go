package api

import (
	"time"

	"github.com/google/uuid"
)

type Model struct {
	Id     uuid.UUID
	Name   string
	Status string

	DatasetId uuid.UUID

	Lambda       float64
	R2           float64
	RMSE         float64
	FeatureNames []string `json:"FeatureNames,omitempty"`

	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`
}

type Dataset struct {
	Id     uuid.UUID
	Name   string
	Status string

	JoinPolicy string

	ReviewCount  int
	TrackCount   int
	JoinedCount  int
	DroppedLeft  int
	DroppedRight int

	SnapshotKey string

	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`
}

type Job struct {
	Id     uuid.UUID
	Type   string
	Status string
	Error  string `json:"Error,omitempty"`

	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`
}

// TrackRecord is one joined row of the dataset browser: review metadata plus
// the per-track audio features and the popularity label.
type TrackRecord struct {
	TrackId string
	Album   string
	Artist  string
	Genre   string
	Rating  float64

	DurationMS       int
	Tempo            float64
	Key              int
	Mode             int
	TimeSignature    int
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
}

type AlbumFeatures struct {
	Album  string
	Artist string
	Genre  string
	Rating float64

	TrackCount           int
	DurationMinutes      float64
	MeanTempo            float64
	Majorness            float64
	MeanDanceability     float64
	MeanEnergy           float64
	MeanLoudness         float64
	MeanSpeechiness      float64
	MeanAcousticness     float64
	MeanInstrumentalness float64
	MeanLiveness         float64
	MeanValence          float64
}

type ScrapeRequest struct {
	Genres         []string
	AlbumsPerGenre int
}

type EnrichRequest struct {
	// Limit caps how many reviewed albums are looked up; 0 means all.
	Limit int
}

type JobResponse struct {
	JobId uuid.UUID
}

type CreateDatasetRequest struct {
	Name       string
	JoinPolicy string
}

type CreateDatasetResponse struct {
	DatasetId uuid.UUID
	JobId     uuid.UUID
}

type ListRecordsRequest struct {
	Query  string `schema:"query"`
	Offset int    `schema:"offset"`
	Limit  int    `schema:"limit"`
}

type ListRecordsResponse struct {
	Records []TrackRecord
	Total   int
}

type TrainRequest struct {
	DatasetId uuid.UUID
	Name      string

	// Optional overrides; zero values fall back to the trainer defaults.
	Lambdas []float64
	CVFolds int
	HoldOut float64
	Seed    int64
}

type TrainResponse struct {
	ModelId uuid.UUID
	JobId   uuid.UUID
}

type PredictRequest struct {
	// Features maps feature name to value, e.g. {"danceability": 0.5}.
	// Vector is the positional alternative; exactly one must be set.
	Features map[string]float64 `json:"Features,omitempty"`
	Vector   []float64          `json:"Vector,omitempty"`
}

type PredictResponse struct {
	Prediction float64
	// Popularity is Prediction clamped to the 0-100 display scale.
	Popularity int
}
