package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// combinedRow is one line of the all-horizons prediction log.
type combinedRow struct {
	RefDate   string
	Actual    float64
	Predicted float64
	Horizon   int
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeCSV(path string, header []string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(records); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// writeHorizonPredictions writes outputs/predictions_h<horizon>.csv.
func writeHorizonPredictions(dir string, horizon int, preds []testPrediction) (string, error) {
	records := make([][]string, len(preds))
	for i, p := range preds {
		records[i] = []string{p.RefDate, formatFloat(p.Actual), formatFloat(p.Predicted), strconv.Itoa(horizon)}
	}
	path := filepath.Join(dir, fmt.Sprintf("predictions_h%d.csv", horizon))
	header := []string{"ref_date", "actual_hpi", "predicted_hpi", "horizon_months"}
	return path, writeCSV(path, header, records)
}

// writeCombinedPredictions writes outputs/all_predictions.csv.
func writeCombinedPredictions(dir string, rows []combinedRow) (string, error) {
	records := make([][]string, len(rows))
	for i, r := range rows {
		records[i] = []string{r.RefDate, formatFloat(r.Actual), formatFloat(r.Predicted), strconv.Itoa(r.Horizon)}
	}
	path := filepath.Join(dir, "all_predictions.csv")
	header := []string{"ref_date", "actual_hpi", "predicted_hpi", "horizon_months"}
	return path, writeCSV(path, header, records)
}

// writeMetricsSummary writes outputs/model_metrics.csv.
func writeMetricsSummary(dir string, results []*horizonResult) (string, error) {
	records := make([][]string, len(results))
	for i, res := range results {
		m := res.Metrics
		records[i] = []string{strconv.Itoa(m.Horizon), formatFloat(m.MAE), formatFloat(m.RMSE), formatFloat(m.R2)}
	}
	path := filepath.Join(dir, "model_metrics.csv")
	header := []string{"horizon", "mae", "rmse", "r2"}
	return path, writeCSV(path, header, records)
}
