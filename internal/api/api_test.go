package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	backend "popscore-backend/internal/api"
	"popscore-backend/internal/database"
	"popscore-backend/internal/dataset"
	"popscore-backend/internal/feature"
	"popscore-backend/internal/messaging"
	"popscore-backend/internal/pipeline"
	"popscore-backend/internal/regression"
	"popscore-backend/internal/storage"
	"popscore-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testModelBucket   = "models"
	testDatasetBucket = "datasets"
)

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

type testEnv struct {
	db      *gorm.DB
	storage storage.Provider
	queue   *messaging.InMemoryQueue
	router  chi.Router
}

func setupService(t *testing.T, create ...any) testEnv {
	db := createDB(t, create...)

	store, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateBucket(context.Background(), testModelBucket))
	require.NoError(t, store.CreateBucket(context.Background(), testDatasetBucket))

	queue := messaging.NewInMemoryQueue()
	t.Cleanup(queue.Close)

	service := backend.NewBackendService(db, store, queue, testModelBucket, testDatasetBucket)
	router := chi.NewRouter()
	service.AddRoutes(router)
	service.AddDemoRoutes(router)

	return testEnv{db: db, storage: store, queue: queue, router: router}
}

func (e testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e testEnv) postJSON(t *testing.T, path string, payload any) *httptest.ResponseRecorder {
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e testEnv) nextTask(t *testing.T) messaging.Task {
	select {
	case task := <-e.queue.Tasks():
		return task
	case <-time.After(time.Second):
		t.Fatal("no task published")
		return nil
	}
}

func parseResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func readyDataset(id uuid.UUID, name string) *database.Dataset {
	return &database.Dataset{
		Id:           id,
		Name:         name,
		Status:       database.DatasetReady,
		JoinPolicy:   string(dataset.KeyNormalized),
		SnapshotKey:  pipeline.DatasetSnapshotKey(id),
		CreationTime: time.Now().UTC(),
	}
}

func TestListAndGetModels(t *testing.T) {
	datasetId := uuid.New()
	id1, id2 := uuid.New(), uuid.New()
	metrics, err := json.Marshal(regression.Metrics{R2: 0.42, RMSE: 9.5})
	require.NoError(t, err)

	env := setupService(t,
		readyDataset(datasetId, "reviews"),
		&database.TrainedModel{Id: id1, DatasetId: datasetId, Name: "ModelA", Status: database.ModelTrained, Lambda: 0.1, Metrics: metrics, CreationTime: time.Now().UTC()},
		&database.TrainedModel{Id: id2, DatasetId: datasetId, Name: "ModelB", Status: database.ModelTraining, CreationTime: time.Now().UTC()},
	)

	rec := env.get(t, "/models")
	require.Equal(t, http.StatusOK, rec.Code)

	models := parseResponse[[]api.Model](t, rec)
	require.Len(t, models, 2)

	byId := map[uuid.UUID]api.Model{models[0].Id: models[0], models[1].Id: models[1]}
	assert.Equal(t, "ModelA", byId[id1].Name)
	assert.Equal(t, database.ModelTrained, byId[id1].Status)
	assert.InDelta(t, 0.42, byId[id1].R2, 1e-9)
	assert.InDelta(t, 9.5, byId[id1].RMSE, 1e-9)
	assert.Equal(t, database.ModelTraining, byId[id2].Status)

	rec = env.get(t, "/models/"+id1.String())
	require.Equal(t, http.StatusOK, rec.Code)
	model := parseResponse[api.Model](t, rec)
	assert.Equal(t, "ModelA", model.Name)
	assert.Equal(t, datasetId, model.DatasetId)

	rec = env.get(t, "/models/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartScrapePublishesTask(t *testing.T) {
	env := setupService(t)

	rec := env.postJSON(t, "/pipeline/scrape", api.ScrapeRequest{Genres: []string{"Rock"}, AlbumsPerGenre: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	response := parseResponse[api.JobResponse](t, rec)

	task := env.nextTask(t)
	assert.Equal(t, messaging.ScrapeQueue, task.Type())

	var payload messaging.ScrapeTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, response.JobId, payload.JobId)
	assert.Equal(t, []string{"Rock"}, payload.Genres)
	assert.Equal(t, 5, payload.AlbumsPerGenre)

	rec = env.get(t, "/jobs/"+response.JobId.String())
	require.Equal(t, http.StatusOK, rec.Code)
	job := parseResponse[api.Job](t, rec)
	assert.Equal(t, "scrape", job.Type)
	assert.Equal(t, database.JobQueued, job.Status)
}

func TestStartEnrichPublishesTask(t *testing.T) {
	env := setupService(t)

	rec := env.postJSON(t, "/pipeline/enrich", api.EnrichRequest{Limit: 10})
	require.Equal(t, http.StatusOK, rec.Code)
	response := parseResponse[api.JobResponse](t, rec)

	task := env.nextTask(t)
	assert.Equal(t, messaging.EnrichQueue, task.Type())

	var payload messaging.EnrichTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, response.JobId, payload.JobId)
	assert.Equal(t, 10, payload.Limit)
}

func TestCreateDataset(t *testing.T) {
	env := setupService(t)

	rec := env.postJSON(t, "/datasets", api.CreateDatasetRequest{Name: "spring crawl", JoinPolicy: "normalized"})
	require.Equal(t, http.StatusOK, rec.Code)
	response := parseResponse[api.CreateDatasetResponse](t, rec)

	task := env.nextTask(t)
	assert.Equal(t, messaging.BuildQueue, task.Type())

	var payload messaging.BuildDatasetPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, response.DatasetId, payload.DatasetId)
	assert.Equal(t, response.JobId, payload.JobId)

	rec = env.get(t, "/datasets/"+response.DatasetId.String())
	require.Equal(t, http.StatusOK, rec.Code)
	ds := parseResponse[api.Dataset](t, rec)
	assert.Equal(t, "spring crawl", ds.Name)
	assert.Equal(t, database.DatasetQueued, ds.Status)
	assert.Equal(t, "normalized", ds.JoinPolicy)
}

func TestCreateDatasetRejectsBadInput(t *testing.T) {
	env := setupService(t)

	rec := env.postJSON(t, "/datasets", api.CreateDatasetRequest{Name: "ok name", JoinPolicy: "fuzzy"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.postJSON(t, "/datasets", api.CreateDatasetRequest{Name: "bad/name", JoinPolicy: "exact"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateModelQueuesTraining(t *testing.T) {
	datasetId := uuid.New()
	env := setupService(t, readyDataset(datasetId, "reviews"))

	rec := env.postJSON(t, "/models", api.TrainRequest{DatasetId: datasetId, Name: "first model", CVFolds: 3})
	require.Equal(t, http.StatusOK, rec.Code)
	response := parseResponse[api.TrainResponse](t, rec)

	task := env.nextTask(t)
	assert.Equal(t, messaging.TrainQueue, task.Type())

	var payload messaging.TrainTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, response.ModelId, payload.ModelId)

	var model database.TrainedModel
	require.NoError(t, env.db.First(&model, "id = ?", response.ModelId).Error)
	assert.Equal(t, database.ModelQueued, model.Status)

	var cfg regression.LassoConfig
	require.NoError(t, json.Unmarshal(model.TrainConfig, &cfg))
	assert.Equal(t, 3, cfg.CVFolds)
}

func TestCreateModelUnknownDataset(t *testing.T) {
	env := setupService(t)

	rec := env.postJSON(t, "/models", api.TrainRequest{DatasetId: uuid.New(), Name: "orphan"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func joinedTrack(trackId, artist, album, genre string, rating float64, popularity int) dataset.JoinedTrack {
	return dataset.JoinedTrack{
		Track: dataset.Track{
			TrackID:         trackId,
			Artist:          artist,
			Album:           album,
			Danceability:    0.5,
			Energy:          0.5,
			Popularity:      popularity,
			ArtistFollowers: 1000,
		},
		Genre:  genre,
		Rating: rating,
	}
}

func writeSnapshot(t *testing.T, store storage.Provider, key string, rows []dataset.JoinedTrack) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		require.NoError(t, enc.Encode(row))
	}
	require.NoError(t, store.PutObject(context.Background(), testDatasetBucket, key, &buf))
}

func TestListDatasetRecords(t *testing.T) {
	datasetId := uuid.New()
	env := setupService(t, readyDataset(datasetId, "reviews"))

	writeSnapshot(t, env.storage, pipeline.DatasetSnapshotKey(datasetId), []dataset.JoinedTrack{
		joinedTrack("t1", "Caribou", "Suddenly", "Electronic", 8.2, 60),
		joinedTrack("t2", "Caribou", "Suddenly", "Electronic", 8.2, 45),
		joinedTrack("t3", "Moses Sumney", "Grae", "Rock", 8.0, 55),
	})

	rec := env.get(t, "/datasets/"+datasetId.String()+"/records")
	require.Equal(t, http.StatusOK, rec.Code)
	response := parseResponse[api.ListRecordsResponse](t, rec)
	assert.Equal(t, 3, response.Total)
	assert.Len(t, response.Records, 3)

	query := url.QueryEscape(`genre = "Electronic" AND popularity > 50`)
	rec = env.get(t, "/datasets/"+datasetId.String()+"/records?query="+query)
	require.Equal(t, http.StatusOK, rec.Code)
	response = parseResponse[api.ListRecordsResponse](t, rec)
	assert.Equal(t, 1, response.Total)
	require.Len(t, response.Records, 1)
	assert.Equal(t, "t1", response.Records[0].TrackId)

	rec = env.get(t, "/datasets/"+datasetId.String()+"/records?offset=1&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	response = parseResponse[api.ListRecordsResponse](t, rec)
	assert.Equal(t, 3, response.Total)
	require.Len(t, response.Records, 1)
	assert.Equal(t, "t2", response.Records[0].TrackId)
}

func TestListDatasetAlbums(t *testing.T) {
	datasetId := uuid.New()
	env := setupService(t, readyDataset(datasetId, "reviews"))

	writeSnapshot(t, env.storage, pipeline.DatasetSnapshotKey(datasetId), []dataset.JoinedTrack{
		joinedTrack("t1", "Caribou", "Suddenly", "Electronic", 8.2, 60),
		joinedTrack("t2", "Caribou", "Suddenly", "Electronic", 8.2, 45),
		joinedTrack("t3", "Moses Sumney", "Grae", "Rock", 8.0, 55),
	})

	rec := env.get(t, "/datasets/"+datasetId.String()+"/albums")
	require.Equal(t, http.StatusOK, rec.Code)

	albums := parseResponse[[]api.AlbumFeatures](t, rec)
	require.Len(t, albums, 2)
	assert.Equal(t, "Suddenly", albums[0].Album)
	assert.Equal(t, 2, albums[0].TrackCount)
	assert.InDelta(t, 0.5, albums[0].MeanDanceability, 1e-9)
	assert.Equal(t, "Grae", albums[1].Album)
	assert.Equal(t, 1, albums[1].TrackCount)
}

func TestListDatasetRecordsErrors(t *testing.T) {
	readyId, pendingId := uuid.New(), uuid.New()
	pending := &database.Dataset{
		Id:           pendingId,
		Name:         "still building",
		Status:       database.DatasetBuilding,
		JoinPolicy:   string(dataset.KeyNormalized),
		CreationTime: time.Now().UTC(),
	}
	env := setupService(t, readyDataset(readyId, "reviews"), pending)

	writeSnapshot(t, env.storage, pipeline.DatasetSnapshotKey(readyId), []dataset.JoinedTrack{
		joinedTrack("t1", "Caribou", "Suddenly", "Electronic", 8.2, 60),
	})

	rec := env.get(t, "/datasets/"+pendingId.String()+"/records")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.get(t, "/datasets/"+uuid.NewString()+"/records")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.get(t, "/datasets/"+readyId.String()+"/records?query="+url.QueryEscape("nonsense ~~ 3"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// storeModel writes a fixed artifact whose prediction is the intercept plus
// the sum of the feature values.
func storeModel(t *testing.T, store storage.Provider, modelId uuid.UUID, intercept float64) {
	names := feature.SchemaV1().Names
	coefficients := make([]float64, len(names))
	for i := range coefficients {
		coefficients[i] = 1
	}

	model := regression.Model{
		Version:      regression.ArtifactVersion,
		FeatureNames: names,
		Intercept:    intercept,
		Coefficients: coefficients,
		Lambda:       0.1,
		TrainedAt:    time.Now().UTC(),
	}
	data, err := model.Marshal()
	require.NoError(t, err)

	require.NoError(t, store.PutObject(context.Background(), testModelBucket, pipeline.ModelArtifactKey(modelId), bytes.NewReader(data)))
}

func trainedModel(modelId, datasetId uuid.UUID, name string) *database.TrainedModel {
	return &database.TrainedModel{
		Id:           modelId,
		DatasetId:    datasetId,
		Name:         name,
		Status:       database.ModelTrained,
		Lambda:       0.1,
		ArtifactKey:  pipeline.ModelArtifactKey(modelId),
		CreationTime: time.Now().UTC(),
	}
}

func predictFeatures() map[string]float64 {
	return map[string]float64{
		"mode":          1,
		"danceability":  0.5,
		"energy":        0.5,
		"speechiness":   0.1,
		"valence":       0.5,
		"log_followers": 8.0,
	}
}

func TestPredict(t *testing.T) {
	datasetId, modelId := uuid.New(), uuid.New()
	env := setupService(t, readyDataset(datasetId, "reviews"), trainedModel(modelId, datasetId, "predictor"))
	storeModel(t, env.storage, modelId, 50)

	rec := env.postJSON(t, "/models/"+modelId.String()+"/predict", api.PredictRequest{Features: predictFeatures()})
	require.Equal(t, http.StatusOK, rec.Code)
	response := parseResponse[api.PredictResponse](t, rec)
	assert.InDelta(t, 60.6, response.Prediction, 1e-9)
	assert.Equal(t, 61, response.Popularity)

	// The positional form must agree with the named form.
	rec = env.postJSON(t, "/models/"+modelId.String()+"/predict", api.PredictRequest{Vector: []float64{1, 0.5, 0.5, 0.1, 0.5, 8.0}})
	require.Equal(t, http.StatusOK, rec.Code)
	response = parseResponse[api.PredictResponse](t, rec)
	assert.InDelta(t, 60.6, response.Prediction, 1e-9)
}

func TestPredictClampsPopularity(t *testing.T) {
	datasetId, modelId := uuid.New(), uuid.New()
	env := setupService(t, readyDataset(datasetId, "reviews"), trainedModel(modelId, datasetId, "predictor"))
	storeModel(t, env.storage, modelId, 200)

	rec := env.postJSON(t, "/models/"+modelId.String()+"/predict", api.PredictRequest{Features: predictFeatures()})
	require.Equal(t, http.StatusOK, rec.Code)
	response := parseResponse[api.PredictResponse](t, rec)
	assert.Greater(t, response.Prediction, 100.0)
	assert.Equal(t, 100, response.Popularity)
}

func TestPredictErrors(t *testing.T) {
	datasetId, trainedId, pendingId := uuid.New(), uuid.New(), uuid.New()
	pending := &database.TrainedModel{
		Id:           pendingId,
		DatasetId:    datasetId,
		Name:         "pending",
		Status:       database.ModelTraining,
		CreationTime: time.Now().UTC(),
	}
	env := setupService(t, readyDataset(datasetId, "reviews"), trainedModel(trainedId, datasetId, "predictor"), pending)
	storeModel(t, env.storage, trainedId, 50)

	rec := env.postJSON(t, "/models/"+uuid.NewString()+"/predict", api.PredictRequest{Features: predictFeatures()})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.postJSON(t, "/models/"+pendingId.String()+"/predict", api.PredictRequest{Features: predictFeatures()})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.postJSON(t, "/models/"+trainedId.String()+"/predict", api.PredictRequest{Vector: []float64{1, 2}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.postJSON(t, "/models/"+trainedId.String()+"/predict", api.PredictRequest{Features: map[string]float64{"tempo": 120}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.postJSON(t, "/models/"+trainedId.String()+"/predict", api.PredictRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.postJSON(t, "/models/"+trainedId.String()+"/predict", api.PredictRequest{Features: predictFeatures(), Vector: []float64{1, 0.5, 0.5, 0.1, 0.5, 8.0}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func demoForm(modelId string) url.Values {
	form := url.Values{}
	form.Set("model_id", modelId)
	for name, value := range predictFeatures() {
		form.Set(name, strconv.FormatFloat(value, 'f', -1, 64))
	}
	return form
}

func (e testEnv) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestDemoPage(t *testing.T) {
	datasetId, modelId := uuid.New(), uuid.New()
	env := setupService(t, readyDataset(datasetId, "reviews"), trainedModel(modelId, datasetId, "predictor"))
	storeModel(t, env.storage, modelId, 50)

	rec := env.get(t, "/demo")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "predictor")
	assert.Contains(t, rec.Body.String(), `name="danceability"`)

	form := demoForm(modelId.String())
	rec = env.postForm(t, "/demo", form)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Predicted popularity: 61")

	form.Set("energy", "not a number")
	rec = env.postForm(t, "/demo", form)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "energy must be a number")
}

func TestHealth(t *testing.T) {
	env := setupService(t)

	rec := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}
