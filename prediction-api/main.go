package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/hpi-forecast/pkg/indicators"
	"github.com/hpi-forecast/pkg/logger"
	"github.com/hpi-forecast/pkg/registry"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()
	logger.InitLogger("prediction-api")

	dsn := envOr("PG_DSN", "host=localhost user=postgres password=postgres dbname=housing sslmode=disable")
	table := envOr("HPI_TABLE", "housing_econ_wide")
	targetColumn := envOr("TARGET_COLUMN", "housing_price_index_value")
	modelsDir := envOr("MODELS_DIR", "./models")
	port := envOr("PREDICTION_API_PORT", "8080")

	store, err := indicators.Open(dsn, table)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to indicator store")
	}
	defer store.Close()

	api := &PredictionAPI{
		store:        store,
		models:       registry.New(modelsDir),
		modelsDir:    modelsDir,
		targetColumn: targetColumn,
	}

	r := gin.Default()
	r.Use(corsMiddleware())
	r.Use(rateLimitMiddleware(rate.NewLimiter(100, 200)))

	r.GET("/healthz", api.handleHealthz)
	r.GET("/readyz", api.handleReadyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/api/v1/predict", api.handlePredict)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		logger.Info().Str("port", port).Str("models_dir", modelsDir).Msg("prediction API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to run prediction API")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server forced to shutdown")
	} else {
		logger.Info().Msg("HTTP server stopped gracefully")
	}
}
