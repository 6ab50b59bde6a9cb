package main

import (
	"fmt"
	"time"

	"github.com/hpi-forecast/pkg/dataset"
	"github.com/hpi-forecast/pkg/evaluation"
	"github.com/hpi-forecast/pkg/gbt"
	"github.com/hpi-forecast/pkg/registry"
)

// testPrediction is one held-out row of the per-horizon prediction log.
type testPrediction struct {
	RefDate   string
	Actual    float64
	Predicted float64
}

// horizonResult bundles everything one horizon's training run produces.
type horizonResult struct {
	Artifact    *registry.Artifact
	Metrics     evaluation.Metrics
	Predictions []testPrediction
}

// splitIndex places the train/test boundary at the first 80% of examples in
// time order, so the model is never evaluated on dates it trained past.
func splitIndex(n int) int {
	return int(0.8 * float64(n))
}

// trainHorizon fits and evaluates one horizon's model on an already-built
// dataset. The caller decides what a failure means; an empty dataset is a
// skip, not a fatal error.
func trainHorizon(ds *dataset.Dataset) (*horizonResult, error) {
	n := ds.Len()
	if n == 0 {
		return nil, fmt.Errorf("no examples for %d-month horizon", ds.Horizon)
	}

	split := splitIndex(n)
	if split < 1 || split >= n {
		return nil, fmt.Errorf("%d examples is too few to split for %d-month horizon", n, ds.Horizon)
	}

	model := gbt.New(gbt.DefaultConfig())
	if err := model.Fit(ds.X[:split], ds.Y[:split]); err != nil {
		return nil, fmt.Errorf("fit %d-month horizon: %w", ds.Horizon, err)
	}

	actual := ds.Y[split:]
	predicted := make([]float64, len(actual))
	predictions := make([]testPrediction, len(actual))
	for i := range actual {
		p, err := model.Predict(ds.X[split+i])
		if err != nil {
			return nil, fmt.Errorf("score test row %s: %w", ds.Dates[split+i], err)
		}
		predicted[i] = p
		predictions[i] = testPrediction{
			RefDate:   ds.Dates[split+i],
			Actual:    actual[i],
			Predicted: p,
		}
	}

	mae, rmse, r2, err := evaluation.Evaluate(actual, predicted)
	if err != nil {
		return nil, err
	}

	return &horizonResult{
		Artifact: &registry.Artifact{
			Horizon:      ds.Horizon,
			FeatureNames: ds.FeatureNames,
			Model:        model,
			TrainedAt:    time.Now().UTC(),
		},
		Metrics: evaluation.Metrics{
			Horizon: ds.Horizon,
			MAE:     mae,
			RMSE:    rmse,
			R2:      r2,
		},
		Predictions: predictions,
	}, nil
}
