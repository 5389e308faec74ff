package feature_test

import (
	"math"
	"testing"

	"popscore-backend/internal/dataset"
	"popscore-backend/internal/feature"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrack() dataset.JoinedTrack {
	return dataset.JoinedTrack{
		Track: dataset.Track{
			TrackID:         "t1",
			Mode:            1,
			Danceability:    0.62,
			Energy:          0.81,
			Speechiness:     0.21,
			Valence:         0.44,
			ArtistFollowers: 250000,
			Popularity:      68,
		},
		Genre:  "Rap/Hip-Hop",
		Rating: 8.2,
	}
}

func TestVectorOrderMatchesSchema(t *testing.T) {
	b := feature.NewBuilder(feature.SchemaV1())

	vec, err := b.Vector(sampleTrack())
	require.NoError(t, err)

	require.Len(t, vec, 6)
	assert.Equal(t, 1.0, vec[0])
	assert.Equal(t, 0.62, vec[1])
	assert.Equal(t, 0.81, vec[2])
	assert.Equal(t, 0.21, vec[3])
	assert.Equal(t, 0.44, vec[4])
	assert.InDelta(t, math.Log(250000), vec[5], 1e-12)
}

func TestVectorIsDeterministic(t *testing.T) {
	b := feature.NewBuilder(feature.SchemaV1())
	track := sampleTrack()

	first, err := b.Vector(track)
	require.NoError(t, err)
	second, err := b.Vector(track)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestVectorRejectsZeroFollowers(t *testing.T) {
	b := feature.NewBuilder(feature.SchemaV1())
	track := sampleTrack()
	track.ArtistFollowers = 0

	_, err := b.Vector(track)
	assert.ErrorIs(t, err, dataset.ErrMalformedRecord)
}

func TestMatrixRowsFollowInputOrder(t *testing.T) {
	b := feature.NewBuilder(feature.SchemaV1())

	first := sampleTrack()
	second := sampleTrack()
	second.Popularity = 12
	second.Energy = 0.1

	rows, labels, err := b.Matrix([]dataset.JoinedTrack{first, second})
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, []float64{68, 12}, labels)
	assert.Equal(t, 0.81, rows[0][2])
	assert.Equal(t, 0.1, rows[1][2])
}

func TestFromMap(t *testing.T) {
	b := feature.NewBuilder(feature.SchemaV1())

	vec, err := b.FromMap(map[string]float64{
		"mode":          1,
		"danceability":  0.5,
		"energy":        0.6,
		"speechiness":   0.2,
		"valence":       0.4,
		"log_followers": 12.3,
	})
	require.NoError(t, err)
	assert.Equal(t, feature.Vector{1, 0.5, 0.6, 0.2, 0.4, 12.3}, vec)

	_, err = b.FromMap(map[string]float64{"mode": 1})
	assert.Error(t, err)

	_, err = b.FromMap(map[string]float64{
		"mode": 1, "danceability": 0.5, "energy": 0.6,
		"speechiness": 0.2, "valence": 0.4, "log_followers": 12.3,
		"tempo2": 1,
	})
	assert.Error(t, err)
}
