package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/steward/internal/ticket"
)

// Metrics holds Prometheus metrics for the event dispatcher.
type Metrics struct {
	EventsTotal       *prometheus.CounterVec
	EventDuration     *prometheus.HistogramVec
	ProposalsTotal    *prometheus.CounterVec
	MemoryWritesTotal *prometheus.CounterVec
}

// NewMetrics registers and returns dispatcher metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_events_total",
			Help: "Total consumed events by topic and outcome.",
		}, []string{"topic", "outcome"}),
		EventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "steward_event_duration_seconds",
			Help:    "End-to-end processing duration per event in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}, []string{"topic"}),
		ProposalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_proposals_total",
			Help: "Total submitted triage proposals by store decision.",
		}, []string{"decision"}),
		MemoryWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_memory_writes_total",
			Help: "Total memory write attempts by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.EventsTotal,
		m.EventDuration,
		m.ProposalsTotal,
		m.MemoryWritesTotal,
	)

	return m
}

// Observe updates metrics from one outcome record.
func (m *Metrics) Observe(rec *Record) {
	m.EventsTotal.WithLabelValues(rec.Topic, string(rec.Outcome)).Inc()
	m.EventDuration.WithLabelValues(rec.Topic).Observe(rec.Duration)

	if rec.Outcome != OutcomeProcessed {
		return
	}

	switch rec.Topic {
	case string(ticket.TopicCreated):
		decision := "review"
		if rec.AutoExecuted {
			decision = "auto_executed"
		}
		m.ProposalsTotal.WithLabelValues(decision).Inc()
	case string(ticket.TopicResolved):
		m.MemoryWritesTotal.WithLabelValues(string(rec.MemoryOutcome)).Inc()
	}
}
