package evaluation

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Metrics is one horizon's held-out accuracy summary.
type Metrics struct {
	Horizon int     `json:"horizon"`
	MAE     float64 `json:"mae"`
	RMSE    float64 `json:"rmse"`
	R2      float64 `json:"r2"`
}

// Evaluate computes mean absolute error, root-mean-squared error and the
// coefficient of determination of predicted against actual.
func Evaluate(actual, predicted []float64) (mae, rmse, r2 float64, err error) {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return 0, 0, 0, errors.New("actual and predicted must be non-empty and equal length")
	}
	n := float64(len(actual))
	mae = floats.Distance(actual, predicted, 1) / n
	rmse = floats.Distance(actual, predicted, 2) / math.Sqrt(n)
	r2 = stat.RSquaredFrom(predicted, actual, nil)
	return mae, rmse, r2, nil
}
