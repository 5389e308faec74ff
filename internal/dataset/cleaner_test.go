package dataset_test

import (
	"testing"

	"popscore-backend/internal/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawTrack(id, artist, album string) dataset.RawAudioFeatureRecord {
	return dataset.RawAudioFeatureRecord{
		TrackID:         id,
		Artist:          artist,
		Album:           album,
		DurationMS:      180000,
		Tempo:           120,
		Mode:            1,
		TimeSignature:   4,
		Danceability:    0.5,
		Energy:          0.5,
		Loudness:        -7.2,
		Speechiness:     0.1,
		Acousticness:    0.2,
		Valence:         0.6,
		Popularity:      55,
		ArtistFollowers: 10000,
	}
}

func TestCleanReviewsDropsMissingFields(t *testing.T) {
	reviews, stats, err := dataset.CleanReviews([]dataset.RawReviewRecord{
		{Artist: "Run The Jewels", Album: "RTJ4", Genre: "Rap/Hip-Hop", Rating: "8.6"},
		{Artist: "", Album: "No Artist", Rating: "7.0"},
		{Artist: "No Rating", Album: "Silence", Rating: "  "},
	})
	require.NoError(t, err)

	assert.Len(t, reviews, 1)
	assert.Equal(t, 2, stats.Dropped)
	assert.Equal(t, "Run The Jewels", reviews[0].Artist)
	assert.Equal(t, 8.6, reviews[0].Rating)
}

func TestCleanReviewsMalformedRating(t *testing.T) {
	_, _, err := dataset.CleanReviews([]dataset.RawReviewRecord{
		{Artist: "A", Album: "B", Rating: "very good"},
	})
	assert.ErrorIs(t, err, dataset.ErrMalformedRecord)

	_, _, err = dataset.CleanReviews([]dataset.RawReviewRecord{
		{Artist: "A", Album: "B", Rating: "11.2"},
	})
	assert.ErrorIs(t, err, dataset.ErrMalformedRecord)

	_, _, err = dataset.CleanReviews([]dataset.RawReviewRecord{
		{Artist: "A", Album: "B", Rating: "7.0", PublishedAt: "yesterday"},
	})
	assert.ErrorIs(t, err, dataset.ErrMalformedRecord)
}

func TestCleanReviewsDedupesKeepingMostRecent(t *testing.T) {
	reviews, stats, err := dataset.CleanReviews([]dataset.RawReviewRecord{
		{Artist: "Moses Sumney", Album: "græ", Rating: "7.0", PublishedAt: "2020-05-15T00:00:00Z"},
		{Artist: "moses sumney", Album: "græ", Rating: "8.0", PublishedAt: "2020-06-01T00:00:00Z"},
		{Artist: "Moses Sumney", Album: "græ", Rating: "6.0", PublishedAt: "2020-01-01T00:00:00Z"},
	})
	require.NoError(t, err)

	require.Len(t, reviews, 1)
	assert.Equal(t, 2, stats.Deduped)
	assert.Equal(t, 8.0, reviews[0].Rating)
}

func TestCleanReviewsStripsEPSuffix(t *testing.T) {
	reviews, _, err := dataset.CleanReviews([]dataset.RawReviewRecord{
		{Artist: "Yaeji", Album: "EP2 EP", Rating: "8.0"},
	})
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "EP2", reviews[0].Album)
}

func TestCleanTracksNeverEmitsDuplicateKeys(t *testing.T) {
	recs := []dataset.RawAudioFeatureRecord{
		rawTrack("t1", "A", "X"),
		rawTrack("t2", "A", "X"),
		rawTrack("t1", "A", "X"),
	}
	recs[2].Popularity = 99

	tracks, stats, err := dataset.CleanTracks(recs)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Deduped)
	seen := make(map[string]bool)
	for _, tr := range tracks {
		assert.False(t, seen[tr.TrackID], "duplicate track id %s", tr.TrackID)
		seen[tr.TrackID] = true
	}
	// Last occurrence wins.
	assert.Equal(t, 99, tracks[0].Popularity)
}

func TestCleanTracksRejectsOutOfDomainValues(t *testing.T) {
	bad := rawTrack("t1", "A", "X")
	bad.Mode = 3
	_, _, err := dataset.CleanTracks([]dataset.RawAudioFeatureRecord{bad})
	assert.ErrorIs(t, err, dataset.ErrMalformedRecord)

	bad = rawTrack("t2", "A", "X")
	bad.Danceability = 1.5
	_, _, err = dataset.CleanTracks([]dataset.RawAudioFeatureRecord{bad})
	assert.ErrorIs(t, err, dataset.ErrMalformedRecord)

	bad = rawTrack("t3", "A", "X")
	bad.Tempo = 0
	_, _, err = dataset.CleanTracks([]dataset.RawAudioFeatureRecord{bad})
	assert.ErrorIs(t, err, dataset.ErrMalformedRecord)
}

func TestCleanTracksDropsMissingIdentity(t *testing.T) {
	tracks, stats, err := dataset.CleanTracks([]dataset.RawAudioFeatureRecord{
		rawTrack("", "A", "X"),
		rawTrack("t1", "", "X"),
		rawTrack("t2", "A", "X"),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Dropped)
	require.Len(t, tracks, 1)
	assert.Equal(t, "t2", tracks[0].TrackID)
}
