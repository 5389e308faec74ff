package api

import (
	_ "embed"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"

	"popscore-backend/internal/database"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

//go:embed demo.html
var demoHTML string

var demoTemplate = template.Must(template.New("demo").Parse(demoHTML))

type demoInput struct {
	Name  string
	Label string
	Value string
}

type demoPage struct {
	Models []demoModel
	Inputs []demoInput

	ModelId string

	HasResult  bool
	Prediction float64
	Popularity int
	Error      string
}

type demoModel struct {
	Id   string
	Name string
}

var demoInputLabels = map[string]string{
	"mode":          "Mode (1 = major, 0 = minor)",
	"danceability":  "Danceability (0-1)",
	"energy":        "Energy (0-1)",
	"speechiness":   "Speechiness (0-1)",
	"valence":       "Valence (0-1)",
	"log_followers": "Log of artist followers",
}

// AddDemoRoutes mounts the server-rendered prediction form. It shares the
// model cache and feature schema with the predict endpoint.
func (s *BackendService) AddDemoRoutes(r chi.Router) {
	r.Get("/demo", s.renderDemo)
	r.Post("/demo", s.submitDemo)
}

func (s *BackendService) demoPage(r *http.Request) demoPage {
	page := demoPage{}

	var models []database.TrainedModel
	err := s.db.WithContext(r.Context()).
		Where("status = ?", database.ModelTrained).
		Order("creation_time desc").
		Find(&models).Error
	if err != nil {
		slog.Error("error listing models for demo page", "error", err)
		page.Error = "error listing trained models"
	}
	for _, m := range models {
		page.Models = append(page.Models, demoModel{Id: m.Id.String(), Name: m.Name})
	}

	for _, name := range s.builder.Schema().Names {
		page.Inputs = append(page.Inputs, demoInput{
			Name:  name,
			Label: demoInputLabels[name],
			Value: r.PostFormValue(name),
		})
	}
	page.ModelId = r.PostFormValue("model_id")

	return page
}

func (s *BackendService) renderDemo(w http.ResponseWriter, r *http.Request) {
	s.render(w, s.demoPage(r))
}

func (s *BackendService) submitDemo(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "error parsing form", http.StatusBadRequest)
		return
	}

	page := s.demoPage(r)

	prediction, popularity, err := s.demoPredict(r)
	if err != nil {
		// Failed predictions render inline so the form keeps its values.
		page.Error = err.Error()
	} else {
		page.HasResult = true
		page.Prediction = prediction
		page.Popularity = popularity
	}

	s.render(w, page)
}

func (s *BackendService) demoPredict(r *http.Request) (float64, int, error) {
	modelId, err := uuid.Parse(r.PostFormValue("model_id"))
	if err != nil {
		return 0, 0, CodedErrorf(http.StatusBadRequest, "select a trained model")
	}

	features := make(map[string]float64)
	for _, name := range s.builder.Schema().Names {
		raw := r.PostFormValue(name)
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, 0, CodedErrorf(http.StatusBadRequest, "%s must be a number, got %q", name, raw)
		}
		features[name] = v
	}

	model, err := s.loadModel(r.Context(), modelId)
	if err != nil {
		return 0, 0, err
	}

	vec, err := s.builder.FromMap(features)
	if err != nil {
		return 0, 0, CodedErrorf(http.StatusUnprocessableEntity, "invalid features: %v", err)
	}

	prediction, err := model.Predict(vec)
	if err != nil {
		return 0, 0, CodedErrorf(http.StatusInternalServerError, "error running prediction: %v", err)
	}

	return prediction, clampPopularity(prediction), nil
}

func (s *BackendService) render(w http.ResponseWriter, page demoPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := demoTemplate.Execute(w, page); err != nil {
		slog.Error("error rendering demo page", "error", err)
	}
}
