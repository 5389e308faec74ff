package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

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
	"gorm.io/gorm"
)

const (
	defaultRecordsPageSize = 100
	maxRecordsPageSize     = 1000
)

type BackendService struct {
	db        *gorm.DB
	storage   storage.Provider
	publisher messaging.Publisher

	modelBucket   string
	datasetBucket string

	builder *feature.Builder
	models  sync.Map // model id -> *regression.Model
}

func NewBackendService(db *gorm.DB, store storage.Provider, pub messaging.Publisher, modelBucket, datasetBucket string) *BackendService {
	return &BackendService{
		db:            db,
		storage:       store,
		publisher:     pub,
		modelBucket:   modelBucket,
		datasetBucket: datasetBucket,
		builder:       feature.NewBuilder(feature.SchemaV1()),
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/pipeline", func(r chi.Router) {
		r.Post("/scrape", RestHandler(s.StartScrape))
		r.Post("/enrich", RestHandler(s.StartEnrich))
	})
	r.Route("/datasets", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateDataset))
		r.Get("/", RestHandler(s.ListDatasets))
		r.Get("/{dataset_id}", RestHandler(s.GetDataset))
		r.Get("/{dataset_id}/records", RestHandler(s.ListDatasetRecords))
		r.Get("/{dataset_id}/albums", RestHandler(s.ListDatasetAlbums))
	})
	r.Route("/models", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateModel))
		r.Get("/", RestHandler(s.ListModels))
		r.Get("/{model_id}", RestHandler(s.GetModel))
		r.Post("/{model_id}/predict", RestHandler(s.Predict))
	})
	r.Get("/jobs/{job_id}", RestHandler(s.GetJob))
}

// createJob records a queued pipeline job along with its task payload so
// queued work survives a restart.
func (s *BackendService) createJob(ctx context.Context, jobId uuid.UUID, jobType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("error marshalling job payload", "job_type", jobType, "error", err)
		return CodedErrorf(http.StatusInternalServerError, "failed to create %s job", jobType)
	}

	job := database.PipelineJob{
		Id:           jobId,
		Type:         jobType,
		Status:       database.JobQueued,
		Payload:      body,
		CreationTime: time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		slog.Error("error creating pipeline job", "job_type", jobType, "error", err)
		return CodedErrorf(http.StatusInternalServerError, "failed to create %s job", jobType)
	}
	return nil
}

func (s *BackendService) StartScrape(r *http.Request) (any, error) {
	req, err := ParseRequest[api.ScrapeRequest](r)
	if err != nil {
		return nil, err
	}
	if req.AlbumsPerGenre < 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "AlbumsPerGenre must not be negative")
	}

	ctx := r.Context()
	jobId := uuid.New()
	payload := messaging.ScrapeTaskPayload{
		JobId:          jobId,
		Genres:         req.Genres,
		AlbumsPerGenre: req.AlbumsPerGenre,
	}

	if err := s.createJob(ctx, jobId, "scrape", payload); err != nil {
		return nil, err
	}

	if err := s.publisher.PublishScrapeTask(ctx, payload); err != nil {
		slog.Error("error publishing scrape task", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue scrape task")
	}

	slog.Info("submitted scrape job", "job_id", jobId, "genres", req.Genres)
	return api.JobResponse{JobId: jobId}, nil
}

func (s *BackendService) StartEnrich(r *http.Request) (any, error) {
	req, err := ParseRequest[api.EnrichRequest](r)
	if err != nil {
		return nil, err
	}
	if req.Limit < 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "Limit must not be negative")
	}

	ctx := r.Context()
	jobId := uuid.New()
	payload := messaging.EnrichTaskPayload{JobId: jobId, Limit: req.Limit}

	if err := s.createJob(ctx, jobId, "enrich", payload); err != nil {
		return nil, err
	}

	if err := s.publisher.PublishEnrichTask(ctx, payload); err != nil {
		slog.Error("error publishing enrich task", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue enrich task")
	}

	slog.Info("submitted enrich job", "job_id", jobId, "limit", req.Limit)
	return api.JobResponse{JobId: jobId}, nil
}

func (s *BackendService) CreateDataset(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateDatasetRequest](r)
	if err != nil {
		return nil, err
	}
	if err := validateName(req.Name); err != nil {
		return nil, err
	}

	policy, err := dataset.ParseJoinPolicy(req.JoinPolicy)
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid join policy: %v", err)
	}

	ctx := r.Context()

	ds := database.Dataset{
		Id:           uuid.New(),
		Name:         req.Name,
		Status:       database.DatasetQueued,
		JoinPolicy:   string(policy),
		CreationTime: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&ds).Error; err != nil {
		slog.Error("error creating dataset", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create dataset entry")
	}

	jobId := uuid.New()
	payload := messaging.BuildDatasetPayload{JobId: jobId, DatasetId: ds.Id}

	if err := s.createJob(ctx, jobId, "build", payload); err != nil {
		return nil, err
	}

	if err := s.publisher.PublishBuildDatasetTask(ctx, payload); err != nil {
		slog.Error("error publishing build dataset task", "dataset_id", ds.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue dataset build task")
	}

	slog.Info("submitted dataset build job", "dataset_id", ds.Id, "job_id", jobId)
	return api.CreateDatasetResponse{DatasetId: ds.Id, JobId: jobId}, nil
}

func (s *BackendService) ListDatasets(r *http.Request) (any, error) {
	var rows []database.Dataset
	if err := s.db.WithContext(r.Context()).Order("creation_time desc").Find(&rows).Error; err != nil {
		slog.Error("error listing datasets", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving datasets")
	}

	return convertDatasets(rows), nil
}

func (s *BackendService) GetDataset(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	ds, err := s.getDataset(r.Context(), datasetId)
	if err != nil {
		return nil, err
	}

	return convertDataset(*ds), nil
}

func (s *BackendService) ListDatasetRecords(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.ListRecordsRequest](r)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	ds, err := s.getDataset(ctx, datasetId)
	if err != nil {
		return nil, err
	}
	if ds.Status != database.DatasetReady {
		return nil, CodedErrorf(http.StatusConflict, "dataset is not ready: dataset has status %s", ds.Status)
	}

	var filter dataset.Filter
	if params.Query != "" {
		filter, err = dataset.ParseQuery(params.Query)
		if err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid query: %v", err)
		}
	}

	rows, err := pipeline.ReadDatasetSnapshot(ctx, s.storage, s.datasetBucket, ds.SnapshotKey)
	if err != nil {
		slog.Error("error reading dataset snapshot", "dataset_id", ds.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error reading dataset records")
	}

	var matched []dataset.JoinedTrack
	for _, row := range rows {
		if filter == nil || filter.Matches(row) {
			matched = append(matched, row)
		}
	}

	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultRecordsPageSize
	}
	if limit > maxRecordsPageSize {
		limit = maxRecordsPageSize
	}

	page := matched
	if offset >= len(page) {
		page = nil
	} else {
		page = page[offset:]
	}
	if len(page) > limit {
		page = page[:limit]
	}

	return api.ListRecordsResponse{Records: convertRecords(page), Total: len(matched)}, nil
}

// ListDatasetAlbums rolls the dataset's joined tracks up to album-level
// metrics, grouped with the same key policy the dataset was built with.
func (s *BackendService) ListDatasetAlbums(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	ds, err := s.getDataset(ctx, datasetId)
	if err != nil {
		return nil, err
	}
	if ds.Status != database.DatasetReady {
		return nil, CodedErrorf(http.StatusConflict, "dataset is not ready: dataset has status %s", ds.Status)
	}

	policy, err := dataset.ParseJoinPolicy(ds.JoinPolicy)
	if err != nil {
		slog.Error("dataset has invalid join policy", "dataset_id", ds.Id, "join_policy", ds.JoinPolicy, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error reading dataset records")
	}

	rows, err := pipeline.ReadDatasetSnapshot(ctx, s.storage, s.datasetBucket, ds.SnapshotKey)
	if err != nil {
		slog.Error("error reading dataset snapshot", "dataset_id", ds.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error reading dataset records")
	}

	return convertAlbums(dataset.AggregateAlbums(rows, policy)), nil
}

func (s *BackendService) getDataset(ctx context.Context, datasetId uuid.UUID) (*database.Dataset, error) {
	var ds database.Dataset
	if err := s.db.WithContext(ctx).First(&ds, "id = ?", datasetId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "dataset not found")
		}
		slog.Error("error getting dataset", "dataset_id", datasetId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving dataset record")
	}
	return &ds, nil
}

func (s *BackendService) CreateModel(r *http.Request) (any, error) {
	req, err := ParseRequest[api.TrainRequest](r)
	if err != nil {
		return nil, err
	}
	if err := validateName(req.Name); err != nil {
		return nil, err
	}

	ctx := r.Context()

	if _, err := s.getDataset(ctx, req.DatasetId); err != nil {
		return nil, err
	}

	cfg := regression.LassoConfig{
		Lambdas: req.Lambdas,
		CVFolds: req.CVFolds,
		HoldOut: req.HoldOut,
		Seed:    req.Seed,
	}
	cfgJson, err := json.Marshal(cfg)
	if err != nil {
		slog.Error("error marshalling train config", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create model entry")
	}

	model := database.TrainedModel{
		Id:           uuid.New(),
		DatasetId:    req.DatasetId,
		Name:         req.Name,
		Status:       database.ModelQueued,
		TrainConfig:  cfgJson,
		CreationTime: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		slog.Error("error creating model", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create model entry")
	}

	jobId := uuid.New()
	payload := messaging.TrainTaskPayload{JobId: jobId, ModelId: model.Id}

	if err := s.createJob(ctx, jobId, "train", payload); err != nil {
		return nil, err
	}

	if err := s.publisher.PublishTrainTask(ctx, payload); err != nil {
		slog.Error("error publishing train task", "model_id", model.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue training task")
	}

	slog.Info("submitted training job", "model_id", model.Id, "job_id", jobId, "dataset_id", req.DatasetId)
	return api.TrainResponse{ModelId: model.Id, JobId: jobId}, nil
}

func (s *BackendService) ListModels(r *http.Request) (any, error) {
	var rows []database.TrainedModel
	if err := s.db.WithContext(r.Context()).Order("creation_time desc").Find(&rows).Error; err != nil {
		slog.Error("error listing models", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving models")
	}

	return convertModels(rows), nil
}

func (s *BackendService) GetModel(r *http.Request) (any, error) {
	modelId, err := URLParamUUID(r, "model_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var model database.TrainedModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", modelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "model not found")
		}
		slog.Error("error getting model", "model_id", modelId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving model record")
	}

	return convertModel(model), nil
}

func (s *BackendService) Predict(r *http.Request) (any, error) {
	modelId, err := URLParamUUID(r, "model_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.PredictRequest](r)
	if err != nil {
		return nil, err
	}

	model, err := s.loadModel(r.Context(), modelId)
	if err != nil {
		return nil, err
	}

	var vec []float64
	switch {
	case len(req.Features) > 0 && len(req.Vector) > 0:
		return nil, CodedErrorf(http.StatusBadRequest, "provide either Features or Vector, not both")
	case len(req.Features) > 0:
		v, err := s.builder.FromMap(req.Features)
		if err != nil {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "invalid features: %v", err)
		}
		vec = v
	case len(req.Vector) > 0:
		vec = req.Vector
	default:
		return nil, CodedErrorf(http.StatusBadRequest, "missing features")
	}

	prediction, err := model.Predict(vec)
	if err != nil {
		if errors.Is(err, regression.ErrSchemaMismatch) {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "feature vector does not match model schema: %v", err)
		}
		slog.Error("error running prediction", "model_id", modelId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error running prediction")
	}

	return api.PredictResponse{
		Prediction: prediction,
		Popularity: clampPopularity(prediction),
	}, nil
}

// clampPopularity maps a raw regression output onto the 0-100 popularity
// scale used for display.
func clampPopularity(prediction float64) int {
	return int(math.Round(math.Min(100, math.Max(0, prediction))))
}

// loadModel returns the deserialized model artifact, caching it after the
// first load. Trained artifacts are immutable so the cache never invalidates.
func (s *BackendService) loadModel(ctx context.Context, modelId uuid.UUID) (*regression.Model, error) {
	if cached, ok := s.models.Load(modelId); ok {
		return cached.(*regression.Model), nil
	}

	var row database.TrainedModel
	if err := s.db.WithContext(ctx).First(&row, "id = ?", modelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "model not found")
		}
		slog.Error("error getting model", "model_id", modelId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving model record")
	}

	if row.Status != database.ModelTrained {
		return nil, CodedErrorf(http.StatusConflict, "model is not ready: model has status %s", row.Status)
	}
	if row.ArtifactKey == "" {
		return nil, CodedErrorf(http.StatusInternalServerError, "model artifact key is missing")
	}

	data, err := s.storage.GetObject(ctx, s.modelBucket, row.ArtifactKey)
	if err != nil {
		slog.Error("error fetching model artifact", "model_id", modelId, "key", row.ArtifactKey, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error loading model artifact")
	}

	model, err := regression.LoadModel(data)
	if err != nil {
		slog.Error("error deserializing model artifact", "model_id", modelId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error loading model artifact")
	}

	s.models.Store(modelId, model)
	return model, nil
}

func (s *BackendService) GetJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	var job database.PipelineJob
	if err := s.db.WithContext(r.Context()).First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "job not found")
		}
		slog.Error("error getting job", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving job record")
	}

	return convertJob(job), nil
}
