package dataset

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// CleanStats reports what the cleaner did with its input.
type CleanStats struct {
	Input   int
	Dropped int
	Deduped int
	Kept    int
}

// CleanReviews normalizes raw review records into Reviews. Rows missing a
// required field (artist, album or rating) are dropped. A rating or timestamp
// that is present but cannot be coerced fails the whole batch with
// ErrMalformedRecord. Duplicate (artist, album) keys keep the most recently
// published row.
func CleanReviews(records []RawReviewRecord) ([]Review, CleanStats, error) {
	stats := CleanStats{Input: len(records)}

	byKey := make(map[string]int)
	var out []Review

	for i, rec := range records {
		artist := strings.TrimSpace(rec.Artist)
		album := trimEPSuffix(strings.TrimSpace(rec.Album))
		rating := strings.TrimSpace(rec.Rating)

		if artist == "" || album == "" || rating == "" {
			stats.Dropped++
			continue
		}

		score, err := strconv.ParseFloat(rating, 64)
		if err != nil {
			return nil, stats, fmt.Errorf("%w: review %d (%s - %s): uncoercible rating %q", ErrMalformedRecord, i, artist, album, rec.Rating)
		}
		if score < 0 || score > 10 {
			return nil, stats, fmt.Errorf("%w: review %d (%s - %s): rating %v outside [0, 10]", ErrMalformedRecord, i, artist, album, score)
		}

		var published time.Time
		if ts := strings.TrimSpace(rec.PublishedAt); ts != "" {
			published, err = time.Parse(time.RFC3339, ts)
			if err != nil {
				return nil, stats, fmt.Errorf("%w: review %d (%s - %s): uncoercible publication date %q", ErrMalformedRecord, i, artist, album, rec.PublishedAt)
			}
		}

		review := Review{
			Artist:      artist,
			Album:       album,
			Genre:       strings.TrimSpace(rec.Genre),
			Rating:      score,
			PublishedAt: published,
			URL:         strings.TrimSpace(rec.URL),
		}

		key := KeyNormalized.Key(artist, album)
		if j, ok := byKey[key]; ok {
			stats.Deduped++
			// Keep the most recent row; later input wins ties.
			if !out[j].PublishedAt.After(review.PublishedAt) {
				out[j] = review
			}
			continue
		}

		byKey[key] = len(out)
		out = append(out, review)
	}

	stats.Kept = len(out)
	if stats.Dropped > 0 || stats.Deduped > 0 {
		slog.Info("cleaned review records", "input", stats.Input, "dropped", stats.Dropped, "deduped", stats.Deduped, "kept", stats.Kept)
	}
	return out, stats, nil
}

// CleanTracks validates raw audio-feature records into Tracks. Rows missing a
// required identity field are dropped; out-of-domain numeric values fail the
// batch with ErrMalformedRecord. Duplicate track ids keep the last occurrence.
func CleanTracks(records []RawAudioFeatureRecord) ([]Track, CleanStats, error) {
	stats := CleanStats{Input: len(records)}

	byID := make(map[string]int)
	var out []Track

	for i, rec := range records {
		id := strings.TrimSpace(rec.TrackID)
		artist := strings.TrimSpace(rec.Artist)
		album := trimEPSuffix(strings.TrimSpace(rec.Album))

		if id == "" || artist == "" || album == "" {
			stats.Dropped++
			continue
		}

		if err := validateTrack(rec); err != nil {
			return nil, stats, fmt.Errorf("%w: track %d (%s): %v", ErrMalformedRecord, i, id, err)
		}

		track := Track{
			TrackID:          id,
			Album:            album,
			Artist:           artist,
			DurationMS:       rec.DurationMS,
			Tempo:            rec.Tempo,
			Key:              rec.Key,
			Mode:             rec.Mode,
			TimeSignature:    rec.TimeSignature,
			Danceability:     rec.Danceability,
			Energy:           rec.Energy,
			Loudness:         rec.Loudness,
			Speechiness:      rec.Speechiness,
			Acousticness:     rec.Acousticness,
			Instrumentalness: rec.Instrumentalness,
			Liveness:         rec.Liveness,
			Valence:          rec.Valence,
			Popularity:       rec.Popularity,
			ArtistFollowers:  rec.ArtistFollowers,
		}

		if j, ok := byID[id]; ok {
			stats.Deduped++
			out[j] = track
			continue
		}

		byID[id] = len(out)
		out = append(out, track)
	}

	stats.Kept = len(out)
	if stats.Dropped > 0 || stats.Deduped > 0 {
		slog.Info("cleaned track records", "input", stats.Input, "dropped", stats.Dropped, "deduped", stats.Deduped, "kept", stats.Kept)
	}
	return out, stats, nil
}

func validateTrack(rec RawAudioFeatureRecord) error {
	if rec.DurationMS <= 0 {
		return fmt.Errorf("duration %d must be positive", rec.DurationMS)
	}
	if rec.Tempo <= 0 {
		return fmt.Errorf("tempo %v must be positive", rec.Tempo)
	}
	if rec.Mode != 0 && rec.Mode != 1 {
		return fmt.Errorf("mode %d must be 0 or 1", rec.Mode)
	}
	if rec.Popularity < 0 || rec.Popularity > 100 {
		return fmt.Errorf("popularity %d outside [0, 100]", rec.Popularity)
	}
	if rec.ArtistFollowers < 0 {
		return fmt.Errorf("artist followers %d must be non-negative", rec.ArtistFollowers)
	}

	unit := map[string]float64{
		"danceability":     rec.Danceability,
		"energy":           rec.Energy,
		"speechiness":      rec.Speechiness,
		"acousticness":     rec.Acousticness,
		"instrumentalness": rec.Instrumentalness,
		"liveness":         rec.Liveness,
		"valence":          rec.Valence,
	}
	for name, v := range unit {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s %v outside [0, 1]", name, v)
		}
	}
	return nil
}

// trimEPSuffix drops the " EP" tag some review titles carry; the catalog API
// indexes those albums without it.
func trimEPSuffix(album string) string {
	return strings.TrimSpace(strings.TrimSuffix(album, " EP"))
}
