package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TriagesTotal   *prometheus.CounterVec
	TriageDuration *prometheus.HistogramVec
	LLMCallsTotal  *prometheus.CounterVec
	LLMDuration    prometheus.Histogram
	RetrievalHits  prometheus.Histogram
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_triages_total",
			Help: "Total triage runs by classifier source and category.",
		}, []string{"source", "category"}),
		TriageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "steward_triage_duration_seconds",
			Help:    "Duration of triage runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}, []string{"source"}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_llm_calls_total",
			Help: "Total generative-model calls by outcome.",
		}, []string{"outcome"}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "steward_llm_call_duration_seconds",
			Help:    "Duration of individual generative-model calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}),
		RetrievalHits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "steward_retrieval_hits",
			Help:    "Similar incidents retained per triage after threshold filtering.",
			Buckets: prometheus.LinearBuckets(0, 1, 6), // 0 .. 5
		}),
	}

	reg.MustRegister(
		m.TriagesTotal,
		m.TriageDuration,
		m.LLMCallsTotal,
		m.LLMDuration,
		m.RetrievalHits,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnRetrieval: func(hits int) {
			m.RetrievalHits.Observe(float64(hits))
		},
		OnLLMCall: func(duration float64, failed bool) {
			outcome := "success"
			if failed {
				outcome = "error"
			}
			m.LLMCallsTotal.WithLabelValues(outcome).Inc()
			m.LLMDuration.Observe(duration)
		},
		OnComplete: func(source Source, category Category, duration float64) {
			m.TriagesTotal.WithLabelValues(string(source), string(category)).Inc()
			m.TriageDuration.WithLabelValues(string(source)).Observe(duration)
		},
	}
}
