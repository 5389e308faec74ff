package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueueRoundTrip(t *testing.T) {
	queue := NewInMemoryQueue()
	defer queue.Close()
	ctx := context.Background()

	jobId := uuid.New()
	require.NoError(t, queue.PublishScrapeTask(ctx, ScrapeTaskPayload{
		JobId:          jobId,
		Genres:         []string{"Rock", "Jazz"},
		AlbumsPerGenre: 25,
	}))

	task := <-queue.Tasks()
	assert.Equal(t, ScrapeQueue, task.Type())

	var payload ScrapeTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, jobId, payload.JobId)
	assert.Equal(t, []string{"Rock", "Jazz"}, payload.Genres)
	assert.Equal(t, 25, payload.AlbumsPerGenre)
	assert.NoError(t, task.Ack())
}

func TestInMemoryQueueRoutesByQueue(t *testing.T) {
	queue := NewInMemoryQueue()
	defer queue.Close()
	ctx := context.Background()

	require.NoError(t, queue.PublishEnrichTask(ctx, EnrichTaskPayload{JobId: uuid.New(), Limit: 10}))
	require.NoError(t, queue.PublishBuildDatasetTask(ctx, BuildDatasetPayload{JobId: uuid.New(), DatasetId: uuid.New()}))
	require.NoError(t, queue.PublishTrainTask(ctx, TrainTaskPayload{JobId: uuid.New(), ModelId: uuid.New()}))

	assert.Equal(t, EnrichQueue, (<-queue.Tasks()).Type())
	assert.Equal(t, BuildQueue, (<-queue.Tasks()).Type())
	assert.Equal(t, TrainQueue, (<-queue.Tasks()).Type())
}

func TestInMemoryQueueCloseEndsTasks(t *testing.T) {
	queue := NewInMemoryQueue()
	tasks := queue.Tasks()
	queue.Close()

	_, ok := <-tasks
	assert.False(t, ok)
}
