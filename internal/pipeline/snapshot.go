package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"popscore-backend/internal/dataset"
	"popscore-backend/internal/storage"

	"github.com/google/uuid"
)

func RawReviewsKey(jobId uuid.UUID) string {
	return fmt.Sprintf("raw_reviews/%s.jsonl", jobId)
}

func DatasetSnapshotKey(datasetId uuid.UUID) string {
	return fmt.Sprintf("datasets/%s/records.jsonl", datasetId)
}

func ModelArtifactKey(modelId uuid.UUID) string {
	return fmt.Sprintf("models/%s/model.json", modelId)
}

// ReadDatasetSnapshot loads the joined rows a finished dataset build wrote to
// the object store.
func ReadDatasetSnapshot(ctx context.Context, store storage.Provider, bucket, key string) ([]dataset.JoinedTrack, error) {
	return readJSONL[dataset.JoinedTrack](ctx, store, bucket, key)
}

// writeJSONL stores rows as one JSON document per line.
func writeJSONL[T any](ctx context.Context, store storage.Provider, bucket, key string, rows []T) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("error encoding snapshot row for %s/%s: %w", bucket, key, err)
		}
	}

	if err := store.PutObject(ctx, bucket, key, &buf); err != nil {
		return fmt.Errorf("error writing snapshot %s/%s: %w", bucket, key, err)
	}
	return nil
}

func readJSONL[T any](ctx context.Context, store storage.Provider, bucket, key string) ([]T, error) {
	data, err := store.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("error reading snapshot %s/%s: %w", bucket, key, err)
	}

	var rows []T
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var row T
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("error decoding snapshot row in %s/%s: %w", bucket, key, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning snapshot %s/%s: %w", bucket, key, err)
	}

	return rows, nil
}
