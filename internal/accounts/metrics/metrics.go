// Package metrics provides observability for the accounts module: nomination
// throughput, acceptance outcomes, and workflow durations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the accounts module's workflow counters and durations.
type Metrics struct {
	NominationsCreated  prometheus.Counter
	NominationsAccepted *prometheus.CounterVec
	PersonRoleUpdates   prometheus.Counter
	InvitesCreated      prometheus.Counter
	InvitesAccepted     prometheus.Counter
	NominateDuration    prometheus.Histogram
}

// New creates a Metrics instance with all accounts module metrics registered.
func New() *Metrics {
	return &Metrics{
		NominationsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "packreg_nominations_created_total",
			Help: "Total number of delegated person nominations created",
		}),
		NominationsAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "packreg_nominations_accepted_total",
			Help: "Total number of nominations accepted, by role",
		}, []string{"role"}),
		PersonRoleUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "packreg_person_role_updates_total",
			Help: "Total number of person role edits applied",
		}),
		InvitesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "packreg_invites_created_total",
			Help: "Total number of user invitations issued",
		}),
		InvitesAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "packreg_invites_accepted_total",
			Help: "Total number of user invitations accepted",
		}),
		NominateDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "packreg_nominate_duration_seconds",
			Help:    "Duration of Nominate operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// NominationCreated records a successful nomination.
func (m *Metrics) NominationCreated() {
	m.NominationsCreated.Inc()
}

// NominationAccepted records a successful acceptance for the given role kind.
func (m *Metrics) NominationAccepted(role string) {
	m.NominationsAccepted.WithLabelValues(role).Inc()
}

// PersonRoleUpdated records a successful person-role edit.
func (m *Metrics) PersonRoleUpdated() {
	m.PersonRoleUpdates.Inc()
}

// InviteCreated records an issued invitation.
func (m *Metrics) InviteCreated() {
	m.InvitesCreated.Inc()
}

// InviteAccepted records an accepted invitation.
func (m *Metrics) InviteAccepted() {
	m.InvitesAccepted.Inc()
}

// ObserveNominate records the duration of a Nominate operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveNominate(start time.Time) {
	m.NominateDuration.Observe(time.Since(start).Seconds())
}
