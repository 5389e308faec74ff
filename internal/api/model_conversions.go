package api

import (
	"encoding/json"
	"log/slog"

	"popscore-backend/internal/database"
	"popscore-backend/internal/dataset"
	"popscore-backend/internal/regression"
	"popscore-backend/pkg/api"

	"gorm.io/datatypes"
)

func unmarshalColumn[T any](col datatypes.JSON, what string) T {
	var out T
	if len(col) == 0 {
		return out
	}
	if err := json.Unmarshal(col, &out); err != nil {
		// A decode failure here means the column was corrupted after training;
		// the listing should still render the rest of the row.
		slog.Error("error decoding stored column", "column", what, "error", err)
	}
	return out
}

func convertModel(model database.TrainedModel) api.Model {
	metrics := unmarshalColumn[regression.Metrics](model.Metrics, "metrics")

	out := api.Model{
		Id:           model.Id,
		Name:         model.Name,
		Status:       model.Status,
		DatasetId:    model.DatasetId,
		Lambda:       model.Lambda,
		R2:           metrics.R2,
		RMSE:         metrics.RMSE,
		FeatureNames: unmarshalColumn[[]string](model.FeatureNames, "feature_names"),
		CreationTime: model.CreationTime,
	}
	if model.CompletionTime.Valid {
		out.CompletionTime = &model.CompletionTime.Time
	}
	return out
}

func convertModels(models []database.TrainedModel) []api.Model {
	converted := make([]api.Model, 0, len(models))
	for _, model := range models {
		converted = append(converted, convertModel(model))
	}
	return converted
}

func convertDataset(ds database.Dataset) api.Dataset {
	out := api.Dataset{
		Id:           ds.Id,
		Name:         ds.Name,
		Status:       ds.Status,
		JoinPolicy:   ds.JoinPolicy,
		ReviewCount:  ds.ReviewCount,
		TrackCount:   ds.TrackCount,
		JoinedCount:  ds.JoinedCount,
		DroppedLeft:  ds.DroppedLeft,
		DroppedRight: ds.DroppedRight,
		SnapshotKey:  ds.SnapshotKey,
		CreationTime: ds.CreationTime,
	}
	if ds.CompletionTime.Valid {
		out.CompletionTime = &ds.CompletionTime.Time
	}
	return out
}

func convertDatasets(datasets []database.Dataset) []api.Dataset {
	converted := make([]api.Dataset, 0, len(datasets))
	for _, ds := range datasets {
		converted = append(converted, convertDataset(ds))
	}
	return converted
}

func convertJob(job database.PipelineJob) api.Job {
	out := api.Job{
		Id:           job.Id,
		Type:         job.Type,
		Status:       job.Status,
		Error:        job.Error,
		CreationTime: job.CreationTime,
	}
	if job.CompletionTime.Valid {
		out.CompletionTime = &job.CompletionTime.Time
	}
	return out
}

func convertRecord(row dataset.JoinedTrack) api.TrackRecord {
	return api.TrackRecord{
		TrackId:          row.TrackID,
		Album:            row.Album,
		Artist:           row.Artist,
		Genre:            row.Genre,
		Rating:           row.Rating,
		DurationMS:       row.DurationMS,
		Tempo:            row.Tempo,
		Key:              row.Key,
		Mode:             row.Mode,
		TimeSignature:    row.TimeSignature,
		Danceability:     row.Danceability,
		Energy:           row.Energy,
		Loudness:         row.Loudness,
		Speechiness:      row.Speechiness,
		Acousticness:     row.Acousticness,
		Instrumentalness: row.Instrumentalness,
		Liveness:         row.Liveness,
		Valence:          row.Valence,
		Popularity:       row.Popularity,
		ArtistFollowers:  row.ArtistFollowers,
	}
}

func convertAlbum(a dataset.AlbumFeatures) api.AlbumFeatures {
	return api.AlbumFeatures{
		Album:                a.Album,
		Artist:               a.Artist,
		Genre:                a.Genre,
		Rating:               a.Rating,
		TrackCount:           a.TrackCount,
		DurationMinutes:      a.DurationMinutes,
		MeanTempo:            a.MeanTempo,
		Majorness:            a.Majorness,
		MeanDanceability:     a.MeanDanceability,
		MeanEnergy:           a.MeanEnergy,
		MeanLoudness:         a.MeanLoudness,
		MeanSpeechiness:      a.MeanSpeechiness,
		MeanAcousticness:     a.MeanAcousticness,
		MeanInstrumentalness: a.MeanInstrumentalness,
		MeanLiveness:         a.MeanLiveness,
		MeanValence:          a.MeanValence,
	}
}

func convertAlbums(albums []dataset.AlbumFeatures) []api.AlbumFeatures {
	converted := make([]api.AlbumFeatures, 0, len(albums))
	for _, a := range albums {
		converted = append(converted, convertAlbum(a))
	}
	return converted
}

func convertRecords(rows []dataset.JoinedTrack) []api.TrackRecord {
	converted := make([]api.TrackRecord, 0, len(rows))
	for _, row := range rows {
		converted = append(converted, convertRecord(row))
	}
	return converted
}
