package main

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hpi-forecast/pkg/gbt"
	"github.com/hpi-forecast/pkg/indicators"
	"github.com/hpi-forecast/pkg/registry"
)

const target = "housing_price_index_value"

type fakeStore struct {
	latest    indicators.Row
	latestErr error
	history   []indicators.Row
}

func (f *fakeStore) LatestRow(ctx context.Context) (indicators.Row, error) {
	if f.latestErr != nil {
		return indicators.Row{}, f.latestErr
	}
	return f.latest, nil
}

func (f *fakeStore) LastNRows(ctx context.Context, n int) ([]indicators.Row, error) {
	if len(f.history) > n {
		return f.history[len(f.history)-n:], nil
	}
	return f.history, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	return nil
}

type fakeModels struct {
	artifacts map[int]*registry.Artifact
	loads     int
}

func (f *fakeModels) Load(horizon int) (*registry.Artifact, error) {
	f.loads++
	a, ok := f.artifacts[horizon]
	if !ok {
		return nil, registry.ErrModelNotFound
	}
	return a, nil
}

// constantArtifact trains a model on constant targets so that every
// prediction is exactly value.
func constantArtifact(t *testing.T, horizon int, value float64) *registry.Artifact {
	t.Helper()
	model := gbt.New(gbt.DefaultConfig())
	features := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}}
	targets := []float64{value, value, value, value, value, value}
	if err := model.Fit(features, targets); err != nil {
		t.Fatalf("fit: %v", err)
	}
	return &registry.Artifact{
		Horizon:      horizon,
		FeatureNames: []string{"monthly_cpi_value"},
		Model:        model,
		TrainedAt:    time.Now().UTC(),
	}
}

func newTestAPI(store IndicatorSource, models ModelSource) (*PredictionAPI, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	api := &PredictionAPI{store: store, models: models, targetColumn: target}
	r := gin.New()
	r.Use(corsMiddleware())
	r.GET("/api/v1/predict", api.handlePredict)
	r.GET("/healthz", api.handleHealthz)
	r.GET("/readyz", api.handleReadyz)
	return api, r
}

func doRequest(r *gin.Engine, method, url string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPredictInvalidHorizon(t *testing.T) {
	models := &fakeModels{artifacts: map[int]*registry.Artifact{}}
	_, r := newTestAPI(&fakeStore{}, models)

	for _, url := range []string{
		"/api/v1/predict?horizon=5",
		"/api/v1/predict?horizon=0",
		"/api/v1/predict?horizon=abc",
	} {
		w := doRequest(r, http.MethodGet, url)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", url, w.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["error"] == "" {
			t.Fatalf("%s: expected JSON error body, got %s", url, w.Body.String())
		}
	}
	if models.loads != 0 {
		t.Fatalf("invalid horizons must not attempt a model load, got %d loads", models.loads)
	}
}

func TestPredictModelNotFound(t *testing.T) {
	_, r := newTestAPI(&fakeStore{}, &fakeModels{artifacts: map[int]*registry.Artifact{}})

	w := doRequest(r, http.MethodGet, "/api/v1/predict?horizon=12")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestPredictSuccess(t *testing.T) {
	store := &fakeStore{
		latest: indicators.Row{
			RefDate: "2025-06-01",
			Values:  map[string]float64{target: 150.0, "monthly_cpi_value": 132.4},
		},
	}
	models := &fakeModels{artifacts: map[int]*registry.Artifact{
		1: constantArtifact(t, 1, 160.5),
	}}
	_, r := newTestAPI(store, models)

	w := doRequest(r, http.MethodGet, "/api/v1/predict")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		HorizonMonths    int     `json:"horizon_months"`
		CurrentHPI       float64 `json:"current_hpi"`
		PredictedHPI     float64 `json:"predicted_hpi"`
		PercentageChange float64 `json:"percentage_change"`
		RefDate          string  `json:"ref_date"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.HorizonMonths != 1 || body.RefDate != "2025-06-01" {
		t.Fatalf("unexpected response: %+v", body)
	}
	if math.Abs(body.PercentageChange-7.0) > 1e-9 {
		t.Fatalf("percentage_change = %v, want 7.0", body.PercentageChange)
	}
	// predicted = current * (1 + pct/100)
	reconstructed := body.CurrentHPI * (1 + body.PercentageChange/100)
	if math.Abs(reconstructed-body.PredictedHPI) > 1e-9 {
		t.Fatalf("percentage identity violated: %v vs %v", reconstructed, body.PredictedHPI)
	}
}

func TestPredictZeroCurrentValue(t *testing.T) {
	store := &fakeStore{
		latest: indicators.Row{
			RefDate: "2025-06-01",
			Values:  map[string]float64{target: 0.0, "monthly_cpi_value": 132.4},
		},
	}
	models := &fakeModels{artifacts: map[int]*registry.Artifact{
		1: constantArtifact(t, 1, 160.5),
	}}
	_, r := newTestAPI(store, models)

	w := doRequest(r, http.MethodGet, "/api/v1/predict?horizon=1")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on zero current value, got %d", w.Code)
	}
}

func TestPredictSchemaMismatch(t *testing.T) {
	store := &fakeStore{
		latest: indicators.Row{
			RefDate: "2025-06-01",
			Values:  map[string]float64{target: 150.0}, // cpi column missing
		},
	}
	models := &fakeModels{artifacts: map[int]*registry.Artifact{
		1: constantArtifact(t, 1, 160.5),
	}}
	_, r := newTestAPI(store, models)

	w := doRequest(r, http.MethodGet, "/api/v1/predict?horizon=1")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on schema mismatch, got %d", w.Code)
	}
}

func TestPredictEmptyTable(t *testing.T) {
	store := &fakeStore{latestErr: indicators.ErrEmptyTable}
	models := &fakeModels{artifacts: map[int]*registry.Artifact{
		1: constantArtifact(t, 1, 160.5),
	}}
	_, r := newTestAPI(store, models)

	w := doRequest(r, http.MethodGet, "/api/v1/predict?horizon=1")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on empty table, got %d", w.Code)
	}
}

func TestPredictIncludeHistorical(t *testing.T) {
	history := make([]indicators.Row, 5)
	for i := range history {
		history[i] = indicators.Row{
			RefDate: time.Date(2025, time.Month(i+1), 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02"),
			Values:  map[string]float64{target: 140 + float64(i), "monthly_cpi_value": 130},
		}
	}
	store := &fakeStore{
		latest:  history[4],
		history: history,
	}
	models := &fakeModels{artifacts: map[int]*registry.Artifact{
		1: constantArtifact(t, 1, 160.5),
	}}
	_, r := newTestAPI(store, models)

	w := doRequest(r, http.MethodGet, "/api/v1/predict?horizon=1&include_historical=true")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Historical []struct {
			Date string  `json:"date"`
			HPI  float64 `json:"hpi"`
		} `json:"historical"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Historical) != 5 {
		t.Fatalf("historical entries = %d, want 5", len(body.Historical))
	}
	for i := 1; i < len(body.Historical); i++ {
		if body.Historical[i].Date <= body.Historical[i-1].Date {
			t.Fatalf("historical series not oldest-first: %v", body.Historical)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	_, r := newTestAPI(&fakeStore{}, &fakeModels{artifacts: map[int]*registry.Artifact{}})
	r.OPTIONS("/api/v1/predict", func(c *gin.Context) {})

	w := doRequest(r, http.MethodOptions, "/api/v1/predict")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing permissive CORS header")
	}
}

func TestHealthz(t *testing.T) {
	_, r := newTestAPI(&fakeStore{}, &fakeModels{})
	w := doRequest(r, http.MethodGet, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestReadyzMissingModelsDir(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api := &PredictionAPI{
		store:        &fakeStore{},
		models:       &fakeModels{},
		modelsDir:    "/nonexistent/models",
		targetColumn: target,
	}
	r := gin.New()
	r.GET("/readyz", api.handleReadyz)

	w := doRequest(r, http.MethodGet, "/readyz")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when models dir is missing, got %d", w.Code)
	}
}

func TestReadyzWithoutStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api := &PredictionAPI{targetColumn: target}
	r := gin.New()
	r.GET("/readyz", api.handleReadyz)

	w := doRequest(r, http.MethodGet, "/readyz")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without store, got %d", w.Code)
	}
}
