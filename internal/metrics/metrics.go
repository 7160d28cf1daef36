// Package metrics holds the Prometheus instruments of the engine.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "helmforge"

type Metrics struct {
	// WorkItemsEnqueued counts durable work items by channel.
	WorkItemsEnqueued *prometheus.CounterVec

	// NotifyFailures counts broker wake-up signals that could not be sent.
	// The work item itself is already durable when this increments.
	NotifyFailures *prometheus.CounterVec

	// Dispatches counts chat messages routed to a workflow, by intent.
	Dispatches *prometheus.CounterVec

	RevisionsCreated  prometheus.Counter
	RevisionConflicts prometheus.Counter
	Rollbacks         prometheus.Counter

	// EventsPublished counts realtime events by outcome (delivered, dropped).
	EventsPublished *prometheus.CounterVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WorkItemsEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "work_items_enqueued_total",
			Help:      "Durable work items inserted, by channel.",
		}, []string{"channel"}),
		NotifyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "notify_failures_total",
			Help:      "Broker notifications that failed after the work item was stored, by channel.",
		}, []string{"channel"}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "dispatches_total",
			Help:      "Chat messages dispatched to a workflow, by intent.",
		}, []string{"intent"}),
		RevisionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revision",
			Name:      "created_total",
			Help:      "Revisions created from committed plans.",
		}),
		RevisionConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revision",
			Name:      "conflicts_total",
			Help:      "Revision creations that lost the race for a revision number.",
		}),
		Rollbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revision",
			Name:      "rollbacks_total",
			Help:      "Rollbacks that changed workspace state.",
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_published_total",
			Help:      "Realtime events persisted for replay, by delivery outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) WorkItemEnqueued(channel string) {
	if m == nil {
		return
	}
	m.WorkItemsEnqueued.WithLabelValues(channel).Inc()
}

func (m *Metrics) NotifyFailed(channel string) {
	if m == nil {
		return
	}
	m.NotifyFailures.WithLabelValues(channel).Inc()
}

func (m *Metrics) Dispatched(intent string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(intent).Inc()
}

func (m *Metrics) RevisionCreated() {
	if m == nil {
		return
	}
	m.RevisionsCreated.Inc()
}

func (m *Metrics) RevisionConflict() {
	if m == nil {
		return
	}
	m.RevisionConflicts.Inc()
}

func (m *Metrics) RolledBack() {
	if m == nil {
		return
	}
	m.Rollbacks.Inc()
}

func (m *Metrics) EventPublished(outcome string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(outcome).Inc()
}
