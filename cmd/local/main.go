package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"popscore-backend/cmd"
	"popscore-backend/internal/api"
	"popscore-backend/internal/config"
	"popscore-backend/internal/database"
	"popscore-backend/internal/messaging"
	"popscore-backend/internal/pipeline"
	"popscore-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// LocalConfig holds the settings specific to the single-process mode. The
// connector credentials still come from the shared config.
type LocalConfig struct {
	Root string `env:"ROOT" envDefault:"./popscore"`
	Port int    `env:"PORT" envDefault:"3001"`
}

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "popscore.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

// createQueue republishes jobs that were still queued when the previous run
// exited, so restarts pick up where they left off.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	var jobs []database.PipelineJob
	if err := db.Where("status = ?", database.JobQueued).Order("creation_time").Find(&jobs).Error; err != nil {
		log.Fatalf("Failed to fetch queued jobs from database: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	ctx := context.Background()
	for _, job := range jobs {
		var err error
		switch job.Type {
		case "scrape":
			var payload messaging.ScrapeTaskPayload
			if err = json.Unmarshal(job.Payload, &payload); err == nil {
				err = queue.PublishScrapeTask(ctx, payload)
			}
		case "enrich":
			var payload messaging.EnrichTaskPayload
			if err = json.Unmarshal(job.Payload, &payload); err == nil {
				err = queue.PublishEnrichTask(ctx, payload)
			}
		case "build":
			var payload messaging.BuildDatasetPayload
			if err = json.Unmarshal(job.Payload, &payload); err == nil {
				err = queue.PublishBuildDatasetTask(ctx, payload)
			}
		case "train":
			var payload messaging.TrainTaskPayload
			if err = json.Unmarshal(job.Payload, &payload); err == nil {
				err = queue.PublishTrainTask(ctx, payload)
			}
		default:
			log.Printf("skipping queued job %s with unknown type %s", job.Id, job.Type)
			continue
		}
		if err != nil {
			log.Fatalf("Failed to requeue job %s: %v", job.Id, err)
		}
	}

	return queue
}

func createServer(db *gorm.DB, store storage.Provider, queue messaging.Publisher, cfg *config.Config, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	backend := api.NewBackendService(db, store, queue, cfg.ModelBucket, cfg.DatasetBucket)
	r.Route("/api/v1", backend.AddRoutes)
	backend.AddDemoRoutes(r)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	var localCfg LocalConfig
	if err := env.Parse(&localCfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(localCfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating root directory: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(localCfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting backend", "root", localCfg.Root, "port", localCfg.Port)

	db := createDatabase(localCfg.Root)

	store, err := storage.NewLocalProvider(filepath.Join(localCfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}

	if err := cmd.EnsureBuckets(context.Background(), store, cfg.ModelBucket, cfg.DatasetBucket); err != nil {
		log.Fatalf("Failed to create buckets: %v", err)
	}

	queue := createQueue(db)

	scraper, err := cmd.NewReviewScraper(cfg)
	if err != nil {
		log.Fatalf("Failed to create review scraper: %v", err)
	}

	processor := pipeline.NewTaskProcessor(db, store, queue, queue, scraper, cmd.NewMusicCatalog(cfg), cfg.ModelBucket, cfg.DatasetBucket)
	go processor.Start()

	server := createServer(db, store, queue, cfg, localCfg.Port)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("backend listening on port %d", localCfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", localCfg.Port, err)
	}

	log.Println("Server stopped.")
}
