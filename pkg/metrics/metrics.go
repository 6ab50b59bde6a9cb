package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hpi_predictions_total",
			Help: "Total number of index forecasts served",
		},
		[]string{"horizon", "status"},
	)

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "indicator_store_query_duration_seconds",
			Help: "Indicator table query duration",
		},
		[]string{"operation"},
	)

	ModelLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hpi_model_loads_total",
			Help: "Model artifact loads by outcome (cached, loaded, missing)",
		},
		[]string{"outcome"},
	)
)
