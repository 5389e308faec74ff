package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"popscore-backend/internal/database"
	"popscore-backend/internal/dataset"
	"popscore-backend/internal/messaging"
	"popscore-backend/internal/spotify"

	"gorm.io/gorm/clause"
)

func (proc *TaskProcessor) processEnrichTask(ctx context.Context, payload messaging.EnrichTaskPayload) error {
	slog.Info("processing enrich task", "job_id", payload.JobId, "limit", payload.Limit)

	return proc.runJob(ctx, payload.JobId, func(ctx context.Context) error {
		var reviews []database.Review
		if err := proc.db.WithContext(ctx).Order("artist, album").Find(&reviews).Error; err != nil {
			return fmt.Errorf("error loading reviews: %w", err)
		}

		enrichedAlbums, err := proc.enrichedAlbumKeys(ctx)
		if err != nil {
			return err
		}

		var raws []dataset.RawAudioFeatureRecord
		looked, skipped := 0, 0
		for _, rev := range reviews {
			if payload.Limit > 0 && looked >= payload.Limit {
				break
			}
			if _, ok := enrichedAlbums[dataset.KeyNormalized.Key(rev.Artist, rev.Album)]; ok {
				continue
			}

			recs, err := proc.lookupAlbum(ctx, rev)
			if errors.Is(err, spotify.ErrAlbumNotFound) {
				slog.Warn("album not found in catalog, skipping", "job_id", payload.JobId, "artist", rev.Artist, "album", rev.Album)
				skipped++
				continue
			}
			if err != nil {
				return fmt.Errorf("error enriching %q by %q: %w", rev.Album, rev.Artist, err)
			}

			raws = append(raws, recs...)
			looked++
		}

		slog.Info("catalog lookups finished", "job_id", payload.JobId, "albums", looked, "not_found", skipped, "raw_tracks", len(raws))

		tracks, stats, err := dataset.CleanTracks(raws)
		if err != nil {
			return fmt.Errorf("error cleaning tracks: %w", err)
		}
		slog.Info("cleaned catalog tracks", "job_id", payload.JobId, "input", stats.Input, "dropped", stats.Dropped, "deduped", stats.Deduped, "kept", stats.Kept)

		if len(tracks) == 0 {
			return nil
		}

		now := time.Now().UTC()
		rows := make([]database.Track, len(tracks))
		for i, t := range tracks {
			rows[i] = database.Track{
				TrackId:          t.TrackID,
				Artist:           t.Artist,
				Album:            t.Album,
				DurationMS:       t.DurationMS,
				Tempo:            t.Tempo,
				Key:              t.Key,
				Mode:             t.Mode,
				TimeSignature:    t.TimeSignature,
				Danceability:     t.Danceability,
				Energy:           t.Energy,
				Loudness:         t.Loudness,
				Speechiness:      t.Speechiness,
				Acousticness:     t.Acousticness,
				Instrumentalness: t.Instrumentalness,
				Liveness:         t.Liveness,
				Valence:          t.Valence,
				Popularity:       t.Popularity,
				ArtistFollowers:  t.ArtistFollowers,
				CreationTime:     now,
			}
		}

		if err := proc.db.WithContext(ctx).
			Clauses(clause.OnConflict{UpdateAll: true}).
			Create(&rows).Error; err != nil {
			return fmt.Errorf("error saving tracks: %w", err)
		}

		return nil
	})
}

// enrichedAlbumKeys returns the normalized album keys that already have
// catalog tracks, so re-running enrich only looks up new reviews.
func (proc *TaskProcessor) enrichedAlbumKeys(ctx context.Context) (map[string]struct{}, error) {
	var existing []database.Track
	if err := proc.db.WithContext(ctx).Select("artist", "album").Distinct().Find(&existing).Error; err != nil {
		return nil, fmt.Errorf("error loading enriched albums: %w", err)
	}

	keys := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		keys[dataset.KeyNormalized.Key(t.Artist, t.Album)] = struct{}{}
	}
	return keys, nil
}

// lookupAlbum pulls one reviewed album's tracks through the catalog API:
// search, track listing, audio features, then popularity and artist followers.
func (proc *TaskProcessor) lookupAlbum(ctx context.Context, rev database.Review) ([]dataset.RawAudioFeatureRecord, error) {
	album, err := proc.catalog.SearchAlbum(ctx, rev.Album, rev.Artist)
	if err != nil {
		return nil, err
	}

	albumTracks, err := proc.catalog.AlbumTracks(ctx, album.ID)
	if err != nil {
		return nil, err
	}
	if len(albumTracks) == 0 {
		return nil, nil
	}

	ids := make([]string, len(albumTracks))
	for i, t := range albumTracks {
		ids[i] = t.ID
	}

	features, err := proc.catalog.AudioFeatures(ctx, ids)
	if err != nil {
		return nil, err
	}

	tracks, err := proc.catalog.Tracks(ctx, ids)
	if err != nil {
		return nil, err
	}

	trackById := make(map[string]spotify.Track, len(tracks))
	artistIds := make([]string, 0, len(tracks))
	seenArtists := make(map[string]struct{})
	for _, t := range tracks {
		trackById[t.ID] = t
		if id := t.PrimaryArtistID(); id != "" {
			if _, ok := seenArtists[id]; !ok {
				seenArtists[id] = struct{}{}
				artistIds = append(artistIds, id)
			}
		}
	}

	artists, err := proc.catalog.Artists(ctx, artistIds)
	if err != nil {
		return nil, err
	}
	followers := make(map[string]int, len(artists))
	for _, a := range artists {
		followers[a.ID] = a.Followers.Total
	}

	raws := make([]dataset.RawAudioFeatureRecord, 0, len(features))
	for _, f := range features {
		track := trackById[f.ID]
		raws = append(raws, dataset.RawAudioFeatureRecord{
			TrackID:          f.ID,
			Album:            rev.Album,
			Artist:           rev.Artist,
			DurationMS:       f.DurationMS,
			Tempo:            f.Tempo,
			Key:              f.Key,
			Mode:             f.Mode,
			TimeSignature:    f.TimeSignature,
			Danceability:     f.Danceability,
			Energy:           f.Energy,
			Loudness:         f.Loudness,
			Speechiness:      f.Speechiness,
			Acousticness:     f.Acousticness,
			Instrumentalness: f.Instrumentalness,
			Liveness:         f.Liveness,
			Valence:          f.Valence,
			Popularity:       track.Popularity,
			ArtistFollowers:  followers[track.PrimaryArtistID()],
		})
	}

	return raws, nil
}
