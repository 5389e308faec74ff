package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"popscore-backend/cmd"
	"popscore-backend/internal/config"
	"popscore-backend/internal/database"
	"popscore-backend/internal/messaging"
	"popscore-backend/internal/pipeline"
)

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := cmd.NewS3Storage(cfg)
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}

	if err := cmd.EnsureBuckets(context.Background(), store, cfg.ModelBucket, cfg.DatasetBucket); err != nil {
		log.Fatalf("Failed to create buckets: %v", err)
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	scraper, err := cmd.NewReviewScraper(cfg)
	if err != nil {
		log.Fatalf("Failed to create review scraper: %v", err)
	}

	processor := pipeline.NewTaskProcessor(db, store, publisher, receiver, scraper, cmd.NewMusicCatalog(cfg), cfg.ModelBucket, cfg.DatasetBucket)

	go processor.Start()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, stopping task processor...")
	processor.Stop()

	log.Println("Worker process stopped.")
}
