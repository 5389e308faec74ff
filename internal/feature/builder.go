// Package feature derives model-ready numeric vectors from joined records.
// The builder is a pure transform: the same record always yields the same
// vector, which is what keeps training and prediction on the same schema.
package feature

import (
	"fmt"
	"math"

	"popscore-backend/internal/dataset"
)

// Vector is an ordered numeric feature tuple. Its length and order must match
// the schema the model was trained with.
type Vector []float64

// Schema is the fixed, versioned feature ordering.
type Schema struct {
	Version int
	Names   []string
}

// SchemaV1 is the production feature set: the track's mode and the four
// unit-interval audio features, plus the natural log of the artist's
// follower count. The label is the track popularity.
func SchemaV1() Schema {
	return Schema{
		Version: 1,
		Names:   []string{"mode", "danceability", "energy", "speechiness", "valence", "log_followers"},
	}
}

type Builder struct {
	schema Schema
}

func NewBuilder(schema Schema) *Builder {
	return &Builder{schema: schema}
}

func (b *Builder) Schema() Schema {
	return b.schema
}

// Vector derives the feature vector of one joined record.
func (b *Builder) Vector(t dataset.JoinedTrack) (Vector, error) {
	vec := make(Vector, len(b.schema.Names))
	for i, name := range b.schema.Names {
		v, err := featureValue(t, name)
		if err != nil {
			return nil, err
		}
		vec[i] = v
	}
	return vec, nil
}

// Matrix derives one row per record, in input order, plus the popularity
// label column.
func (b *Builder) Matrix(tracks []dataset.JoinedTrack) ([][]float64, []float64, error) {
	rows := make([][]float64, 0, len(tracks))
	labels := make([]float64, 0, len(tracks))
	for _, t := range tracks {
		vec, err := b.Vector(t)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, vec)
		labels = append(labels, float64(t.Popularity))
	}
	return rows, labels, nil
}

// FromMap orders a named feature set into a vector. Every schema feature must
// be present; unknown names are rejected.
func (b *Builder) FromMap(features map[string]float64) (Vector, error) {
	for name := range features {
		if !b.hasFeature(name) {
			return nil, fmt.Errorf("unknown feature %q", name)
		}
	}

	vec := make(Vector, len(b.schema.Names))
	for i, name := range b.schema.Names {
		v, ok := features[name]
		if !ok {
			return nil, fmt.Errorf("missing feature %q", name)
		}
		vec[i] = v
	}
	return vec, nil
}

func (b *Builder) hasFeature(name string) bool {
	for _, n := range b.schema.Names {
		if n == name {
			return true
		}
	}
	return false
}

func featureValue(t dataset.JoinedTrack, name string) (float64, error) {
	switch name {
	case "mode":
		return float64(t.Mode), nil
	case "danceability":
		return t.Danceability, nil
	case "energy":
		return t.Energy, nil
	case "speechiness":
		return t.Speechiness, nil
	case "valence":
		return t.Valence, nil
	case "tempo":
		return t.Tempo, nil
	case "rating":
		return t.Rating, nil
	case "log_followers":
		if t.ArtistFollowers < 1 {
			return 0, fmt.Errorf("%w: track %s: log of follower count %d is undefined", dataset.ErrMalformedRecord, t.TrackID, t.ArtistFollowers)
		}
		return math.Log(float64(t.ArtistFollowers)), nil
	default:
		return 0, fmt.Errorf("unknown feature %q", name)
	}
}
