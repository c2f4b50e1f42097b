package memory

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the tiered memory subsystem.
type Metrics struct {
	ThreatsIngested   *prometheus.CounterVec
	InteractionsTotal *prometheus.CounterVec
	TierEntries       *prometheus.GaugeVec
	PromotionsTotal   *prometheus.CounterVec
	EvictionsTotal    prometheus.Counter
	DecayUpdated      prometheus.Counter
	DecayProtected    prometheus.Counter
	DecayMeanDelta    prometheus.Gauge
	ExportsTotal      *prometheus.CounterVec
	SweepDuration     *prometheus.HistogramVec
}

// NewMetrics registers and returns memory metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ThreatsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_threats_ingested_total",
			Help: "Threats admitted to working memory by result.",
		}, []string{"result"}),
		InteractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_interactions_total",
			Help: "Analyst interactions recorded by action type.",
		}, []string{"action"}),
		TierEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "recall_tier_entries",
			Help: "Live entries per memory tier, sampled at sweep time.",
		}, []string{"tier"}),
		PromotionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_promotions_total",
			Help: "Tier promotions by transition and outcome.",
		}, []string{"transition", "outcome"}),
		EvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recall_evictions_total",
			Help: "Stale working-memory entries evicted without promotion.",
		}),
		DecayUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recall_decay_updated_total",
			Help: "Long-term entries whose confidence was decayed.",
		}),
		DecayProtected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recall_decay_protected_total",
			Help: "Long-term entries skipped by decay because they are protected.",
		}),
		DecayMeanDelta: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recall_decay_mean_delta",
			Help: "Mean confidence delta applied by the most recent decay sweep.",
		}),
		ExportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_exports_total",
			Help: "Graph export attempts by outcome.",
		}, []string{"outcome"}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recall_sweep_duration_seconds",
			Help:    "Duration of background sweeps by kind.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~40s
		}, []string{"sweep"}),
	}

	reg.MustRegister(
		m.ThreatsIngested,
		m.InteractionsTotal,
		m.TierEntries,
		m.PromotionsTotal,
		m.EvictionsTotal,
		m.DecayUpdated,
		m.DecayProtected,
		m.DecayMeanDelta,
		m.ExportsTotal,
		m.SweepDuration,
	)

	return m
}

// nil-safe increment helpers so the service and sweeps can run unmetered
// in tests.

func (m *Metrics) incIngested(result string) {
	if m == nil {
		return
	}
	m.ThreatsIngested.WithLabelValues(result).Inc()
}

func (m *Metrics) incInteraction(action string) {
	if m == nil {
		return
	}
	m.InteractionsTotal.WithLabelValues(action).Inc()
}

// IncPromotion records a promotion attempt outcome for a transition.
func (m *Metrics) IncPromotion(transition, outcome string) {
	if m == nil {
		return
	}
	m.PromotionsTotal.WithLabelValues(transition, outcome).Inc()
}

// IncEviction records a working-memory eviction.
func (m *Metrics) IncEviction() {
	if m == nil {
		return
	}
	m.EvictionsTotal.Inc()
}

// IncExport records a graph export attempt outcome.
func (m *Metrics) IncExport(outcome string) {
	if m == nil {
		return
	}
	m.ExportsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDecay records the result of a decay sweep.
func (m *Metrics) ObserveDecay(updated, protected int, meanDelta float64) {
	if m == nil {
		return
	}
	m.DecayUpdated.Add(float64(updated))
	m.DecayProtected.Add(float64(protected))
	m.DecayMeanDelta.Set(meanDelta)
}

// ObserveSweep records a sweep duration in seconds.
func (m *Metrics) ObserveSweep(sweep string, seconds float64) {
	if m == nil {
		return
	}
	m.SweepDuration.WithLabelValues(sweep).Observe(seconds)
}

// SetTierSize samples a tier's live entry count.
func (m *Metrics) SetTierSize(tier string, n int) {
	if m == nil {
		return
	}
	m.TierEntries.WithLabelValues(tier).Set(float64(n))
}
