package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/hpi-forecast/pkg/indicators"
	"github.com/hpi-forecast/pkg/logger"
	"github.com/hpi-forecast/pkg/metrics"
	"github.com/hpi-forecast/pkg/registry"
	"github.com/hpi-forecast/pkg/validator"
)

// historyMonths is how far back the optional historical series reaches.
const historyMonths = 12

// IndicatorSource is the slice of the indicator store the API needs.
type IndicatorSource interface {
	LatestRow(ctx context.Context) (indicators.Row, error)
	LastNRows(ctx context.Context, n int) ([]indicators.Row, error)
	Ping(ctx context.Context) error
}

// ModelSource is the slice of the model registry the API needs.
type ModelSource interface {
	Load(horizon int) (*registry.Artifact, error)
}

// PredictionAPI serves point forecasts for the housing-price index. It holds
// no per-request state; the registry cache is the only thing shared across
// requests.
type PredictionAPI struct {
	store        IndicatorSource
	models       ModelSource
	modelsDir    string
	targetColumn string
}

func (api *PredictionAPI) handlePredict(c *gin.Context) {
	horizon, err := strconv.Atoi(c.DefaultQuery("horizon", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "horizon must be an integer"})
		return
	}
	if err := validator.ValidateHorizon(horizon); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	includeHistorical, err := strconv.ParseBool(c.DefaultQuery("include_historical", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "include_historical must be a boolean"})
		return
	}

	horizonLabel := strconv.Itoa(horizon)

	artifact, err := api.models.Load(horizon)
	if err != nil {
		if errors.Is(err, registry.ErrModelNotFound) {
			metrics.PredictionsTotal.WithLabelValues(horizonLabel, "model_missing").Inc()
			c.JSON(http.StatusNotFound, gin.H{"error": "model for horizon " + horizonLabel + " not found"})
			return
		}
		logger.Error().Err(err).Int("horizon", horizon).Msg("failed to load model artifact")
		api.serverError(c, horizonLabel, "failed to load model")
		return
	}

	row, err := api.store.LatestRow(c.Request.Context())
	if err != nil {
		if errors.Is(err, indicators.ErrEmptyTable) {
			metrics.PredictionsTotal.WithLabelValues(horizonLabel, "no_data").Inc()
			c.JSON(http.StatusNotFound, gin.H{"error": "no indicator data available"})
			return
		}
		logger.Error().Err(err).Msg("failed to fetch latest indicator row")
		api.serverError(c, horizonLabel, "failed to fetch indicator data")
		return
	}

	vec, err := artifact.FeatureVector(row.Values)
	if err != nil {
		logger.Error().Err(err).Str("ref_date", row.RefDate).Msg("latest row does not match model feature schema")
		api.serverError(c, horizonLabel, err.Error())
		return
	}

	predicted, err := artifact.Model.Predict(vec)
	if err != nil {
		logger.Error().Err(err).Int("horizon", horizon).Msg("model scoring failed")
		api.serverError(c, horizonLabel, "model scoring failed")
		return
	}

	current, ok := row.Values[api.targetColumn]
	if !ok {
		api.serverError(c, horizonLabel, "latest row has no "+api.targetColumn+" value")
		return
	}
	if current == 0 {
		api.serverError(c, horizonLabel, "current index value is zero, percentage change is undefined")
		return
	}
	pctChange := (predicted - current) / current * 100

	resp := gin.H{
		"horizon_months":    horizon,
		"current_hpi":       current,
		"predicted_hpi":     predicted,
		"percentage_change": pctChange,
		"ref_date":          row.RefDate,
	}

	if includeHistorical {
		historical, err := api.fetchHistorical(c.Request.Context())
		if err != nil {
			logger.Error().Err(err).Msg("failed to fetch historical rows")
			api.serverError(c, horizonLabel, "failed to fetch historical data")
			return
		}
		resp["historical"] = historical
	}

	metrics.PredictionsTotal.WithLabelValues(horizonLabel, "ok").Inc()
	c.JSON(http.StatusOK, resp)
}

// fetchHistorical returns up to the last 12 months of index values, oldest
// first, for chart display. It plays no part in scoring.
func (api *PredictionAPI) fetchHistorical(ctx context.Context) ([]gin.H, error) {
	rows, err := api.store.LastNRows(ctx, historyMonths)
	if err != nil {
		return nil, err
	}
	historical := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		v, ok := r.Values[api.targetColumn]
		if !ok {
			continue
		}
		historical = append(historical, gin.H{"date": r.RefDate, "hpi": v})
	}
	return historical, nil
}

func (api *PredictionAPI) serverError(c *gin.Context, horizonLabel, msg string) {
	metrics.PredictionsTotal.WithLabelValues(horizonLabel, "error").Inc()
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func (api *PredictionAPI) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (api *PredictionAPI) handleReadyz(c *gin.Context) {
	if api.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "store_ready": false})
		return
	}
	if err := api.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "store_ready": false})
		return
	}
	if api.modelsDir != "" {
		if _, err := os.Stat(api.modelsDir); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "store_ready": true, "models_ready": false})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "store_ready": true})
}

// corsMiddleware allows all origins; the dashboard frontend is served from a
// different domain. Preflight requests are answered here with 200.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// rateLimitMiddleware provides rate limiting for API requests.
func rateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}
