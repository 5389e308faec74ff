package cmd

import (
	"context"
	"flag"
	"fmt"
	"log"

	"popscore-backend/internal/config"
	"popscore-backend/internal/pitchfork"
	"popscore-backend/internal/spotify"
	"popscore-backend/internal/storage"

	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// NewS3Storage builds the S3-compatible object store client shared by the api
// and worker processes.
func NewS3Storage(cfg *config.Config) (storage.Provider, error) {
	return storage.NewS3Provider(&storage.S3ProviderConfig{
		S3EndpointURL:     cfg.S3EndpointURL,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
		S3Region:          cfg.S3Region,
	})
}

func NewMusicCatalog(cfg *config.Config) *spotify.Client {
	return spotify.NewClient(spotify.Config{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		BaseURL:      cfg.SpotifyBaseURL,
		TokenURL:     cfg.SpotifyTokenURL,
	})
}

func NewReviewScraper(cfg *config.Config) (*pitchfork.Scraper, error) {
	return pitchfork.NewScraper(cfg.ReviewBaseURL)
}

// EnsureBuckets creates the artifact buckets if they do not exist yet.
func EnsureBuckets(ctx context.Context, store storage.Provider, buckets ...string) error {
	for _, bucket := range buckets {
		if err := store.CreateBucket(ctx, bucket); err != nil {
			return fmt.Errorf("error creating bucket %s: %w", bucket, err)
		}
	}
	return nil
}
