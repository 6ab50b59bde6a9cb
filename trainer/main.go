package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/hpi-forecast/pkg/dataset"
	"github.com/hpi-forecast/pkg/indicators"
	"github.com/hpi-forecast/pkg/logger"
	"github.com/hpi-forecast/pkg/registry"
	"github.com/hpi-forecast/pkg/validator"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()
	logger.InitLogger("trainer")

	dsn := envOr("PG_DSN", "host=localhost user=postgres password=postgres dbname=housing sslmode=disable")
	table := envOr("HPI_TABLE", "housing_econ_wide")
	targetColumn := envOr("TARGET_COLUMN", "housing_price_index_value")
	modelsDir := envOr("MODELS_DIR", "./models")
	outputsDir := envOr("OUTPUTS_DIR", "./outputs")

	store, err := indicators.Open(dsn, table)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to indicator store")
	}
	defer store.Close()

	ctx := context.Background()
	rows, err := store.AllRows(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to fetch indicator table")
	}
	if len(rows) == 0 {
		logger.Fatal().Str("table", table).Msg("indicator table is empty, nothing to train on")
	}
	if !hasTargetColumn(rows, targetColumn) {
		logger.Fatal().Str("target", targetColumn).Msg("target column not present in any row")
	}

	logger.Info().
		Int("rows", len(rows)).
		Str("from", rows[0].RefDate).
		Str("to", rows[len(rows)-1].RefDate).
		Str("target", targetColumn).
		Msg("fetched indicator table")

	warnOnCalendarGaps(rows)

	if err := os.MkdirAll(outputsDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create outputs directory")
	}
	reg := registry.New(modelsDir)

	var results []*horizonResult
	var combined []combinedRow
	for _, horizon := range validator.SupportedHorizons {
		ds := dataset.Build(rows, targetColumn, horizon)
		res, err := trainHorizon(ds)
		if err != nil {
			logger.Warn().Err(err).Int("horizon", horizon).Msg("skipping horizon")
			continue
		}

		if err := reg.Save(res.Artifact); err != nil {
			logger.Fatal().Err(err).Int("horizon", horizon).Msg("failed to save model artifact")
		}

		path, err := writeHorizonPredictions(outputsDir, horizon, res.Predictions)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to write prediction log")
		}

		logger.Info().
			Int("horizon", horizon).
			Int("examples", ds.Len()).
			Int("train", splitIndex(ds.Len())).
			Int("test", ds.Len()-splitIndex(ds.Len())).
			Float64("mae", res.Metrics.MAE).
			Float64("rmse", res.Metrics.RMSE).
			Float64("r2", res.Metrics.R2).
			Str("predictions", path).
			Msg("trained horizon model")

		results = append(results, res)
		for _, p := range res.Predictions {
			combined = append(combined, combinedRow{
				RefDate:   p.RefDate,
				Actual:    p.Actual,
				Predicted: p.Predicted,
				Horizon:   horizon,
			})
		}
	}

	if len(results) == 0 {
		logger.Fatal().Msg("no horizon produced a model")
	}

	if path, err := writeCombinedPredictions(outputsDir, combined); err != nil {
		logger.Fatal().Err(err).Msg("failed to write combined predictions")
	} else {
		logger.Info().Str("path", path).Msg("wrote combined predictions")
	}
	if path, err := writeMetricsSummary(outputsDir, results); err != nil {
		logger.Fatal().Err(err).Msg("failed to write metrics summary")
	} else {
		logger.Info().Str("path", path).Msg("wrote metrics summary")
	}

	logger.Info().Int("models", len(results)).Msg("training complete")
}

func hasTargetColumn(rows []indicators.Row, target string) bool {
	for _, r := range rows {
		if _, ok := r.Values[target]; ok {
			return true
		}
	}
	return false
}

// warnOnCalendarGaps reports month gaps in the table. Target alignment is
// positional, so a gap silently shifts every later pairing by one month;
// the warning makes that visible without changing behavior.
func warnOnCalendarGaps(rows []indicators.Row) {
	for i := 1; i < len(rows); i++ {
		prev, err := time.Parse("2006-01-02", rows[i-1].RefDate)
		if err != nil {
			continue
		}
		cur, err := time.Parse("2006-01-02", rows[i].RefDate)
		if err != nil {
			continue
		}
		next := prev.AddDate(0, 1, 0)
		if cur.Year() != next.Year() || cur.Month() != next.Month() {
			logger.Warn().
				Str("after", rows[i-1].RefDate).
				Str("next", rows[i].RefDate).
				Msg("gap in monthly series: horizon alignment will be off by the missing months")
		}
	}
}
