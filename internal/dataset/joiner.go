package dataset

import (
	"fmt"
	"strings"
)

// JoinPolicy selects how the (artist, album) identity key is normalized
// before matching reviews against tracks.
type JoinPolicy string

const (
	// KeyExact matches artist and album verbatim.
	KeyExact JoinPolicy = "exact"

	// KeyNormalized case-folds, collapses whitespace and strips the " EP"
	// suffix before matching. This is the default.
	KeyNormalized JoinPolicy = "normalized"
)

func ParseJoinPolicy(s string) (JoinPolicy, error) {
	switch JoinPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case KeyExact:
		return KeyExact, nil
	case KeyNormalized, "":
		return KeyNormalized, nil
	default:
		return "", fmt.Errorf("unknown join policy %q", s)
	}
}

// Key builds the join key for an (artist, album) pair under this policy.
func (p JoinPolicy) Key(artist, album string) string {
	if p == KeyExact {
		return artist + "\x00" + album
	}
	return normalizeKeyPart(artist) + "\x00" + normalizeKeyPart(strings.TrimSuffix(strings.TrimSpace(album), " EP"))
}

func normalizeKeyPart(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// JoinStats reports what the joiner matched and dropped.
type JoinStats struct {
	Reviews          int
	Tracks           int
	Joined           int
	MatchedAlbums    int
	UnmatchedReviews int
	UnmatchedTracks  int
}

// Join inner-joins reviews with tracks on the album identity key. Unmatched
// rows on either side are dropped and counted. Output follows review input
// order; the tracks of one album stay in their input order.
func Join(reviews []Review, tracks []Track, policy JoinPolicy) ([]JoinedTrack, JoinStats) {
	stats := JoinStats{Reviews: len(reviews), Tracks: len(tracks)}

	byKey := make(map[string][]Track)
	for _, t := range tracks {
		key := policy.Key(t.Artist, t.Album)
		byKey[key] = append(byKey[key], t)
	}

	matched := make(map[string]bool)
	var out []JoinedTrack
	for _, r := range reviews {
		key := policy.Key(r.Artist, r.Album)
		albumTracks, ok := byKey[key]
		if !ok {
			stats.UnmatchedReviews++
			continue
		}
		matched[key] = true
		stats.MatchedAlbums++
		for _, t := range albumTracks {
			out = append(out, JoinedTrack{Track: t, Genre: r.Genre, Rating: r.Rating})
		}
	}

	for key, albumTracks := range byKey {
		if !matched[key] {
			stats.UnmatchedTracks += len(albumTracks)
		}
	}

	stats.Joined = len(out)
	return out, stats
}
