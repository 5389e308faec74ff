package dataset_test

import (
	"testing"

	"popscore-backend/internal/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinedTrack(artist, album, genre string, rating float64, popularity int) dataset.JoinedTrack {
	return dataset.JoinedTrack{
		Track:  dataset.Track{Artist: artist, Album: album, Popularity: popularity, Tempo: 120, Energy: 0.7},
		Genre:  genre,
		Rating: rating,
	}
}

func TestParseQuery(t *testing.T) {
	tests := []struct {
		query   string
		record  dataset.JoinedTrack
		matches bool
	}{
		{`genre = "Rap/Hip-Hop"`, joinedTrack("A", "X", "Rap/Hip-Hop", 8.0, 70), true},
		{`genre = "Rap/Hip-Hop"`, joinedTrack("A", "X", "Rock", 8.0, 70), false},
		{`rating > 7.5`, joinedTrack("A", "X", "Rock", 8.0, 70), true},
		{`rating > 7.5`, joinedTrack("A", "X", "Rock", 6.1, 70), false},
		{`popularity < 50`, joinedTrack("A", "X", "Rock", 8.0, 30), true},
		{`artist CONTAINS "Jewels"`, joinedTrack("Run The Jewels", "RTJ4", "Rap/Hip-Hop", 8.6, 70), true},
		{`NOT genre = "Rock"`, joinedTrack("A", "X", "Jazz", 8.0, 70), true},
		{`genre = "Rock" AND rating > 7`, joinedTrack("A", "X", "Rock", 8.0, 70), true},
		{`genre = "Rock" AND rating > 7`, joinedTrack("A", "X", "Rock", 6.0, 70), false},
		{`genre = "Jazz" OR (rating > 9 AND popularity > 60)`, joinedTrack("A", "X", "Rock", 9.5, 70), true},
		{`energy > 0.5 AND tempo < 200`, joinedTrack("A", "X", "Rock", 8.0, 70), true},
	}

	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			filter, err := dataset.ParseQuery(tc.query)
			require.NoError(t, err)
			assert.Equal(t, tc.matches, filter.Matches(tc.record))
		})
	}
}

func TestParseQueryErrors(t *testing.T) {
	for _, query := range []string{
		`mood = "happy"`,          // unknown field
		`rating CONTAINS "seven"`, // numeric field with string op
		`genre > 5`,               // string field with number
		`rating >`,                // incomplete
	} {
		_, err := dataset.ParseQuery(query)
		assert.Error(t, err, "query %q should not parse", query)
	}
}
