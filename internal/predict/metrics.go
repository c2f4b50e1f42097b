package predict

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the prediction engine.
type Metrics struct {
	PredictionsTotal   *prometheus.CounterVec
	PredictionDuration prometheus.Histogram
	ScorerFailures     *prometheus.CounterVec
}

// NewMetrics registers and returns prediction metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PredictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_predictions_total",
			Help: "Priority predictions by recommendation.",
		}, []string{"recommendation"}),
		PredictionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "recall_prediction_duration_seconds",
			Help:    "End-to-end duration of ensemble predictions.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms .. ~1s
		}),
		ScorerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_scorer_failures_total",
			Help: "Ensemble scorer failures substituted with a neutral score.",
		}, []string{"scorer"}),
	}

	reg.MustRegister(
		m.PredictionsTotal,
		m.PredictionDuration,
		m.ScorerFailures,
	)

	return m
}

func (m *Metrics) observePrediction(recommendation string, seconds float64) {
	if m == nil {
		return
	}
	m.PredictionsTotal.WithLabelValues(recommendation).Inc()
	m.PredictionDuration.Observe(seconds)
}

func (m *Metrics) incScorerFailure(scorer string) {
	if m == nil {
		return
	}
	m.ScorerFailures.WithLabelValues(scorer).Inc()
}
