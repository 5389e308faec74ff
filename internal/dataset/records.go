package dataset

import (
	"errors"
	"time"
)

var (
	// ErrFetch is returned by the source connectors when a record cannot be
	// retrieved (network failure, auth failure, rate limit, not found).
	ErrFetch = errors.New("error fetching record from source")

	// ErrMalformedRecord is returned by the cleaner when a required field is
	// present but cannot be coerced into the cleaned schema.
	ErrMalformedRecord = errors.New("malformed record")
)

// RawReviewRecord is one album review as parsed off the review site. String
// fields are kept verbatim; the cleaner owns coercion and validation.
type RawReviewRecord struct {
	Artist      string
	Album       string
	Genre       string
	Rating      string
	PublishedAt string
	URL         string
}

// RawAudioFeatureRecord is the union of the per-track audio features and the
// popularity/followers pulls from the music catalog API.
type RawAudioFeatureRecord struct {
	TrackID string
	Album   string
	Artist  string

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
}

// Review is a cleaned review row. There is at most one Review per
// (artist, album) key.
type Review struct {
	Artist      string
	Album       string
	Genre       string
	Rating      float64
	PublishedAt time.Time
	URL         string
}

// Track is a cleaned audio-feature row, keyed by TrackID.
type Track struct {
	TrackID string
	Album   string
	Artist  string

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
}

// JoinedTrack is a track matched with its album's review.
type JoinedTrack struct {
	Track

	Genre  string
	Rating float64
}

// AlbumFeatures aggregates the tracks of one album to album-level metrics.
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
