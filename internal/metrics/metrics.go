// Package metrics exposes PAGW's Prometheus instrumentation: outbox lag,
// per-stage processing duration, DLQ depth, and the outbox publisher's
// leader-lease state — the read-only SLA views named in spec.md §9,
// registered the way the teacher's health-monitoring suite exercises a
// *prometheus.Registry (test/integration/health_monitoring).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the gateway's metrics registry, kept distinct from the global
// default registry so tests can assert against a clean instance.
type Registry struct {
	registry *prometheus.Registry

	StageDuration      *prometheus.HistogramVec
	StageOutcomes      *prometheus.CounterVec
	OutboxLagSeconds   prometheus.Gauge
	OutboxPending      *prometheus.GaugeVec
	DeadLetterCount    *prometheus.CounterVec
	PublisherLeaseHeld prometheus.Gauge
	IdempotencyHits    prometheus.Counter
	IdempotencyMisses  prometheus.Counter
}

// NewRegistry builds a Registry and registers every collector against a
// fresh *prometheus.Registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		registry: reg,
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pagw",
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Time spent executing a pipeline stage handler.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "outcome"}),
		StageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagw",
			Subsystem: "stage",
			Name:      "outcomes_total",
			Help:      "Count of stage handler outcomes by kind.",
		}, []string{"stage", "outcome"}),
		OutboxLagSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pagw",
			Subsystem: "outbox",
			Name:      "lag_seconds",
			Help:      "Age of the oldest unpublished outbox record.",
		}),
		OutboxPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pagw",
			Subsystem: "outbox",
			Name:      "pending_records",
			Help:      "Number of outbox records awaiting publish, by destination.",
		}, []string{"destination"}),
		DeadLetterCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagw",
			Subsystem: "outbox",
			Name:      "dead_lettered_total",
			Help:      "Count of messages routed to the DLQ, by reason.",
		}, []string{"reason"}),
		PublisherLeaseHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pagw",
			Subsystem: "publisher",
			Name:      "leader_lease_held",
			Help:      "1 if this outbox publisher instance currently holds the drain lease, else 0.",
		}),
		IdempotencyHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagw",
			Subsystem: "idempotency",
			Name:      "hits_total",
			Help:      "Count of submissions short-circuited by an idempotency hit.",
		}),
		IdempotencyMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagw",
			Subsystem: "idempotency",
			Name:      "misses_total",
			Help:      "Count of submissions that found no idempotency record.",
		}),
	}

	reg.MustRegister(
		m.StageDuration,
		m.StageOutcomes,
		m.OutboxLagSeconds,
		m.OutboxPending,
		m.DeadLetterCount,
		m.PublisherLeaseHeld,
		m.IdempotencyHits,
		m.IdempotencyMisses,
	)

	return m
}

// Gatherer exposes the underlying *prometheus.Registry for the /metrics
// HTTP handler.
func (m *Registry) Gatherer() prometheus.Gatherer { return m.registry }
