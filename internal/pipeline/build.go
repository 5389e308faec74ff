package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"popscore-backend/internal/database"
	"popscore-backend/internal/dataset"
	"popscore-backend/internal/messaging"
)

func (proc *TaskProcessor) processBuildDatasetTask(ctx context.Context, payload messaging.BuildDatasetPayload) error {
	slog.Info("processing build dataset task", "job_id", payload.JobId, "dataset_id", payload.DatasetId)

	return proc.runJob(ctx, payload.JobId, func(ctx context.Context) error {
		var ds database.Dataset
		if err := proc.db.WithContext(ctx).First(&ds, "id = ?", payload.DatasetId).Error; err != nil {
			return fmt.Errorf("error loading dataset %s: %w", payload.DatasetId, err)
		}

		if err := database.UpdateDatasetStatus(ctx, proc.db, ds.Id, database.DatasetBuilding); err != nil {
			return err
		}

		joined, stats, err := proc.buildDataset(ctx, ds)
		if err != nil {
			database.UpdateDatasetStatus(ctx, proc.db, ds.Id, database.DatasetFailed) //nolint:errcheck
			return err
		}

		key := DatasetSnapshotKey(ds.Id)
		if err := writeJSONL(ctx, proc.storage, proc.datasetBucket, key, joined); err != nil {
			database.UpdateDatasetStatus(ctx, proc.db, ds.Id, database.DatasetFailed) //nolint:errcheck
			return err
		}

		updates := map[string]any{
			"review_count":  stats.Reviews,
			"track_count":   stats.Tracks,
			"joined_count":  stats.Joined,
			"dropped_left":  stats.UnmatchedReviews,
			"dropped_right": stats.UnmatchedTracks,
			"snapshot_key":  key,
		}
		if err := proc.db.WithContext(ctx).Model(&database.Dataset{Id: ds.Id}).Updates(updates).Error; err != nil {
			return fmt.Errorf("error saving dataset stats: %w", err)
		}

		slog.Info("dataset built", "dataset_id", ds.Id, "joined", stats.Joined, "unmatched_reviews", stats.UnmatchedReviews, "unmatched_tracks", stats.UnmatchedTracks)

		return database.UpdateDatasetStatus(ctx, proc.db, ds.Id, database.DatasetReady)
	})
}

// buildDataset joins the cleaned review and track tables under the dataset's
// join policy.
func (proc *TaskProcessor) buildDataset(ctx context.Context, ds database.Dataset) ([]dataset.JoinedTrack, dataset.JoinStats, error) {
	policy, err := dataset.ParseJoinPolicy(ds.JoinPolicy)
	if err != nil {
		return nil, dataset.JoinStats{}, err
	}

	var reviewRows []database.Review
	if err := proc.db.WithContext(ctx).Order("published_at, artist, album").Find(&reviewRows).Error; err != nil {
		return nil, dataset.JoinStats{}, fmt.Errorf("error loading reviews: %w", err)
	}

	var trackRows []database.Track
	if err := proc.db.WithContext(ctx).Order("artist, album, track_id").Find(&trackRows).Error; err != nil {
		return nil, dataset.JoinStats{}, fmt.Errorf("error loading tracks: %w", err)
	}

	reviews := make([]dataset.Review, len(reviewRows))
	for i, r := range reviewRows {
		reviews[i] = dataset.Review{
			Artist:      r.Artist,
			Album:       r.Album,
			Genre:       r.Genre,
			Rating:      r.Rating,
			PublishedAt: r.PublishedAt,
			URL:         r.URL,
		}
	}

	tracks := make([]dataset.Track, len(trackRows))
	for i, t := range trackRows {
		tracks[i] = dataset.Track{
			TrackID:          t.TrackId,
			Album:            t.Album,
			Artist:           t.Artist,
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
		}
	}

	joined, stats := dataset.Join(reviews, tracks, policy)
	return joined, stats, nil
}
