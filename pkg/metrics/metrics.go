// Package metrics holds the Prometheus collectors exported by keepsake.
//
// A nil *Metrics is valid and records nothing, so components can take one
// optionally without guarding every call site.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "keepsake"

// Metrics groups every keepsake collector.
type Metrics struct {
	guardLocks     *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	cacheStores    *prometheus.CounterVec
	jobs           *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	resolverEvents *prometheus.CounterVec
	turns          *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		guardLocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "acquire_total",
			Help:      "Conversation lock acquisitions by result.",
		}, []string{"result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Response cache lookups by result and category.",
		}, []string{"result", "category"}),
		cacheStores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "stores_total",
			Help:      "Response cache stores by category.",
		}, []string{"category"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_total",
			Help:      "Persistence jobs by kind and outcome.",
		}, []string{"kind", "outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Persistence jobs waiting or retrying.",
		}),
		resolverEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Attachment resolutions by strategy that answered.",
		}, []string{"strategy"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "turns_total",
			Help:      "Turns by durability transition.",
		}, []string{"state"}),
	}

	for _, c := range []prometheus.Collector{
		m.guardLocks, m.cacheLookups, m.cacheStores, m.jobs,
		m.queueDepth, m.resolverEvents, m.turns,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) GuardGranted() {
	if m != nil {
		m.guardLocks.WithLabelValues("granted").Inc()
	}
}

func (m *Metrics) GuardBusy() {
	if m != nil {
		m.guardLocks.WithLabelValues("busy").Inc()
	}
}

func (m *Metrics) GuardExpired() {
	if m != nil {
		m.guardLocks.WithLabelValues("expired").Inc()
	}
}

func (m *Metrics) CacheHit(category string) {
	if m != nil {
		m.cacheLookups.WithLabelValues("hit", category).Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheLookups.WithLabelValues("miss", "").Inc()
	}
}

func (m *Metrics) CacheStored(category string) {
	if m != nil {
		m.cacheStores.WithLabelValues(category).Inc()
	}
}

// JobOutcome counts a finished attempt: "succeeded", "retried" or "failed".
func (m *Metrics) JobOutcome(kind, outcome string) {
	if m != nil {
		m.jobs.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) QueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

// Resolved counts which resolver strategy answered: "url", "content_id",
// "fetch" or "failed".
func (m *Metrics) Resolved(strategy string) {
	if m != nil {
		m.resolverEvents.WithLabelValues(strategy).Inc()
	}
}

// Turn counts durability transitions: "appended", "durable", "failed".
func (m *Metrics) Turn(state string) {
	if m != nil {
		m.turns.WithLabelValues(state).Inc()
	}
}
