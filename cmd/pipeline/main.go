// Command pipeline runs the full scrape → enrich → build → train sequence as
// a single batch process, without a broker or API server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"popscore-backend/cmd"
	"popscore-backend/internal/config"
	"popscore-backend/internal/database"
	"popscore-backend/internal/messaging"
	"popscore-backend/internal/pipeline"
	"popscore-backend/internal/storage"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"gorm.io/gorm"
)

type runner struct {
	db        *gorm.DB
	store     storage.Provider
	queue     *messaging.InMemoryQueue
	processor *pipeline.TaskProcessor

	datasetBucket string
}

func (r *runner) createJob(ctx context.Context, jobId uuid.UUID, jobType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshalling %s job payload: %w", jobType, err)
	}

	job := database.PipelineJob{
		Id:           jobId,
		Type:         jobType,
		Status:       database.JobQueued,
		Payload:      body,
		CreationTime: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&job).Error; err != nil {
		return fmt.Errorf("error creating %s job: %w", jobType, err)
	}
	return nil
}

// runStage processes the single queued task synchronously and surfaces the
// job's stored error on failure.
func (r *runner) runStage(ctx context.Context, jobId uuid.UUID) error {
	task := <-r.queue.Tasks()
	r.processor.ProcessTask(task)

	var job database.PipelineJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", jobId).Error; err != nil {
		return fmt.Errorf("error reading job %s: %w", jobId, err)
	}
	if job.Status != database.JobCompleted {
		return fmt.Errorf("%s job %s failed: %s", job.Type, jobId, job.Error)
	}
	return nil
}

func (r *runner) scrape(ctx context.Context, genres []string, albumsPerGenre int, reviewsFile string) error {
	jobId := uuid.New()
	payload := messaging.ScrapeTaskPayload{
		JobId:          jobId,
		Genres:         genres,
		AlbumsPerGenre: albumsPerGenre,
	}

	// A local reviews file is uploaded and replayed instead of scraping live.
	if reviewsFile != "" {
		f, err := os.Open(reviewsFile)
		if err != nil {
			return fmt.Errorf("error opening reviews file: %w", err)
		}
		defer f.Close()

		key := pipeline.RawReviewsKey(jobId)
		if err := r.store.PutObject(ctx, r.datasetBucket, key, f); err != nil {
			return fmt.Errorf("error uploading reviews file: %w", err)
		}
		payload.SnapshotKey = key
	}

	if err := r.createJob(ctx, jobId, "scrape", payload); err != nil {
		return err
	}
	if err := r.queue.PublishScrapeTask(ctx, payload); err != nil {
		return err
	}
	return r.runStage(ctx, jobId)
}

func (r *runner) enrich(ctx context.Context, limit int) error {
	jobId := uuid.New()
	payload := messaging.EnrichTaskPayload{JobId: jobId, Limit: limit}

	if err := r.createJob(ctx, jobId, "enrich", payload); err != nil {
		return err
	}
	if err := r.queue.PublishEnrichTask(ctx, payload); err != nil {
		return err
	}
	return r.runStage(ctx, jobId)
}

func (r *runner) buildDataset(ctx context.Context, name, joinPolicy string) (uuid.UUID, error) {
	ds := database.Dataset{
		Id:           uuid.New(),
		Name:         name,
		Status:       database.DatasetQueued,
		JoinPolicy:   joinPolicy,
		CreationTime: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&ds).Error; err != nil {
		return uuid.Nil, fmt.Errorf("error creating dataset: %w", err)
	}

	jobId := uuid.New()
	payload := messaging.BuildDatasetPayload{JobId: jobId, DatasetId: ds.Id}

	if err := r.createJob(ctx, jobId, "build", payload); err != nil {
		return uuid.Nil, err
	}
	if err := r.queue.PublishBuildDatasetTask(ctx, payload); err != nil {
		return uuid.Nil, err
	}
	return ds.Id, r.runStage(ctx, jobId)
}

func (r *runner) train(ctx context.Context, datasetId uuid.UUID, name string) (uuid.UUID, error) {
	model := database.TrainedModel{
		Id:           uuid.New(),
		DatasetId:    datasetId,
		Name:         name,
		Status:       database.ModelQueued,
		CreationTime: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return uuid.Nil, fmt.Errorf("error creating model: %w", err)
	}

	jobId := uuid.New()
	payload := messaging.TrainTaskPayload{JobId: jobId, ModelId: model.Id}

	if err := r.createJob(ctx, jobId, "train", payload); err != nil {
		return uuid.Nil, err
	}
	if err := r.queue.PublishTrainTask(ctx, payload); err != nil {
		return uuid.Nil, err
	}
	return model.Id, r.runStage(ctx, jobId)
}

func main() {
	var (
		genres      string
		albums      int
		reviewsFile string
		limit       int
		name        string
		joinPolicy  string
		storageDir  string
	)
	flag.StringVar(&genres, "genres", "", "comma-separated genres to scrape (default: all)")
	flag.IntVar(&albums, "albums", 0, "albums per genre (default: scraper default)")
	flag.StringVar(&reviewsFile, "reviews", "", "path to a raw reviews JSONL file to replay instead of scraping")
	flag.IntVar(&limit, "limit", 0, "max albums to look up in the music catalog (0 = all)")
	flag.StringVar(&name, "name", "pipeline run", "name for the dataset and model")
	flag.StringVar(&joinPolicy, "join", "normalized", "join policy: exact or normalized")
	flag.StringVar(&storageDir, "storage", "./popscore/storage", "local artifact directory when S3 is not configured")

	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	var store storage.Provider
	if cfg.S3EndpointURL != "" {
		store, err = cmd.NewS3Storage(cfg)
	} else {
		store, err = storage.NewLocalProvider(storageDir)
	}
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}

	ctx := context.Background()

	if err := cmd.EnsureBuckets(ctx, store, cfg.ModelBucket, cfg.DatasetBucket); err != nil {
		log.Fatalf("Failed to create buckets: %v", err)
	}

	scraper, err := cmd.NewReviewScraper(cfg)
	if err != nil {
		log.Fatalf("Failed to create review scraper: %v", err)
	}

	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	run := runner{
		db:            db,
		store:         store,
		queue:         queue,
		processor:     pipeline.NewTaskProcessor(db, store, queue, queue, scraper, cmd.NewMusicCatalog(cfg), cfg.ModelBucket, cfg.DatasetBucket),
		datasetBucket: cfg.DatasetBucket,
	}

	var genreList []string
	if genres != "" {
		genreList = strings.Split(genres, ",")
		for i := range genreList {
			genreList[i] = strings.TrimSpace(genreList[i])
		}
	}

	bar := progressbar.NewOptions(4,
		progressbar.OptionSetDescription("scraping reviews"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	if err := run.scrape(ctx, genreList, albums, reviewsFile); err != nil {
		log.Fatalf("Scrape stage failed: %v", err)
	}
	bar.Describe("fetching audio features")
	bar.Add(1) //nolint:errcheck

	if err := run.enrich(ctx, limit); err != nil {
		log.Fatalf("Enrich stage failed: %v", err)
	}
	bar.Describe("building dataset")
	bar.Add(1) //nolint:errcheck

	datasetId, err := run.buildDataset(ctx, name, joinPolicy)
	if err != nil {
		log.Fatalf("Dataset build stage failed: %v", err)
	}
	bar.Describe("training model")
	bar.Add(1) //nolint:errcheck

	modelId, err := run.train(ctx, datasetId, name)
	if err != nil {
		log.Fatalf("Train stage failed: %v", err)
	}
	bar.Add(1) //nolint:errcheck

	var model database.TrainedModel
	if err := db.First(&model, "id = ?", modelId).Error; err != nil {
		log.Fatalf("Failed to read trained model: %v", err)
	}

	fmt.Printf("\ndataset: %s\nmodel:   %s\nlambda:  %g\nmetrics: %s\n", datasetId, modelId, model.Lambda, string(model.Metrics))
}
