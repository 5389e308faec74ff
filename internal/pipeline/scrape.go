package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"popscore-backend/internal/database"
	"popscore-backend/internal/dataset"
	"popscore-backend/internal/messaging"

	"gorm.io/gorm/clause"
)

const defaultAlbumsPerGenre = 25

func (proc *TaskProcessor) processScrapeTask(ctx context.Context, payload messaging.ScrapeTaskPayload) error {
	slog.Info("processing scrape task", "job_id", payload.JobId, "genres", payload.Genres, "snapshot_key", payload.SnapshotKey)

	return proc.runJob(ctx, payload.JobId, func(ctx context.Context) error {
		var raws []dataset.RawReviewRecord
		var err error

		if payload.SnapshotKey != "" {
			raws, err = readJSONL[dataset.RawReviewRecord](ctx, proc.storage, proc.datasetBucket, payload.SnapshotKey)
			if err != nil {
				return fmt.Errorf("error replaying raw review snapshot: %w", err)
			}
		} else {
			raws, err = proc.scrapeReviews(ctx, payload)
			if err != nil {
				return err
			}

			// Keep the raw records around so the run can be replayed offline.
			key := RawReviewsKey(payload.JobId)
			if err := writeJSONL(ctx, proc.storage, proc.datasetBucket, key, raws); err != nil {
				slog.Error("error writing raw review snapshot", "job_id", payload.JobId, "key", key, "error", err)
			}
		}

		reviews, stats, err := dataset.CleanReviews(raws)
		if err != nil {
			return fmt.Errorf("error cleaning scraped reviews: %w", err)
		}
		slog.Info("cleaned scraped reviews", "job_id", payload.JobId, "input", stats.Input, "dropped", stats.Dropped, "deduped", stats.Deduped, "kept", stats.Kept)

		if len(reviews) == 0 {
			return nil
		}

		now := time.Now().UTC()
		rows := make([]database.Review, len(reviews))
		for i, r := range reviews {
			rows[i] = database.Review{
				Artist:       r.Artist,
				Album:        r.Album,
				Genre:        r.Genre,
				Rating:       r.Rating,
				PublishedAt:  r.PublishedAt,
				URL:          r.URL,
				CreationTime: now,
			}
		}

		if err := proc.db.WithContext(ctx).
			Clauses(clause.OnConflict{UpdateAll: true}).
			Create(&rows).Error; err != nil {
			return fmt.Errorf("error saving reviews: %w", err)
		}

		return nil
	})
}

func (proc *TaskProcessor) scrapeReviews(ctx context.Context, payload messaging.ScrapeTaskPayload) ([]dataset.RawReviewRecord, error) {
	genres := payload.Genres
	if len(genres) == 0 {
		genres = proc.reviews.Genres()
	}
	perGenre := payload.AlbumsPerGenre
	if perGenre <= 0 {
		perGenre = defaultAlbumsPerGenre
	}

	var raws []dataset.RawReviewRecord
	for _, genre := range genres {
		urls, err := proc.reviews.ReviewURLs(ctx, genre, perGenre)
		if err != nil {
			return nil, fmt.Errorf("error listing reviews for genre %q: %w", genre, err)
		}

		for _, url := range urls {
			rec, err := proc.reviews.Review(ctx, url, genre)
			if err != nil {
				return nil, fmt.Errorf("error scraping review %s: %w", url, err)
			}
			raws = append(raws, rec)
		}

		slog.Info("scraped genre listing", "job_id", payload.JobId, "genre", genre, "reviews", len(urls))
	}

	return raws, nil
}
