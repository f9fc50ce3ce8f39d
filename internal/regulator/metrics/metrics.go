// Package metrics provides observability for regulator decisions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks regulator decision counters and cascade durations.
type Metrics struct {
	Decisions              *prometheus.CounterVec
	ApprovedPersonRemovals prometheus.Counter
	NationTransfers        prometheus.Counter
	CascadeDuration        prometheus.Histogram
}

// New creates a Metrics instance with all regulator module metrics registered.
func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "packreg_regulator_decisions_total",
			Help: "Total number of regulator enrolment decisions, by outcome",
		}, []string{"outcome"}),
		ApprovedPersonRemovals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "packreg_approved_person_removals_total",
			Help: "Total number of approved person removals",
		}),
		NationTransfers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "packreg_nation_transfers_total",
			Help: "Total number of organisation nation transfers",
		}),
		CascadeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "packreg_rejection_cascade_duration_seconds",
			Help:    "Duration of the organisation rejection cascade",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

// DecisionRecorded records a regulator decision outcome.
func (m *Metrics) DecisionRecorded(outcome string) {
	m.Decisions.WithLabelValues(outcome).Inc()
}

// ApprovedPersonRemoved records an approved person removal.
func (m *Metrics) ApprovedPersonRemoved() {
	m.ApprovedPersonRemovals.Inc()
}

// NationTransferred records an organisation nation transfer.
func (m *Metrics) NationTransferred() {
	m.NationTransfers.Inc()
}

// ObserveCascade records the duration of a rejection cascade.
// Call with time.Now() at the start of the sweep.
func (m *Metrics) ObserveCascade(start time.Time) {
	m.CascadeDuration.Observe(time.Since(start).Seconds())
}
