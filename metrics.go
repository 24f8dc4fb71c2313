package linkauth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded by Metrics.Resolutions
const (
	OutcomeResolved = "resolved"
	OutcomeCreated  = "created"
	OutcomeLinked   = "linked"
	OutcomeConflict = "already_linked"
	OutcomeFailed   = "failed"
)

// Metrics holds provisioning counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Resolutions *prometheus.CounterVec
	RaceRetries *prometheus.CounterVec
	Backfills   *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg (if non-nil)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkauth",
			Name:      "resolutions_total",
			Help:      "Identity resolutions by provider and outcome.",
		}, []string{"provider", "outcome"}),
		RaceRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkauth",
			Name:      "race_retries_total",
			Help:      "Lookups retried after losing an identity insert race.",
		}, []string{"provider"}),
		Backfills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkauth",
			Name:      "email_backfills_total",
			Help:      "Placeholder emails replaced by a provider asserted email.",
		}, []string{"provider"}),
	}
	if reg != nil {
		reg.MustRegister(m.Resolutions, m.RaceRetries, m.Backfills)
	}
	return m
}

func (m *Metrics) observe(p Provider, outcome string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(string(p), outcome).Inc()
}

func (m *Metrics) raceRetry(p Provider) {
	if m == nil {
		return
	}
	m.RaceRetries.WithLabelValues(string(p)).Inc()
}

func (m *Metrics) backfill(p Provider) {
	if m == nil {
		return
	}
	m.Backfills.WithLabelValues(string(p)).Inc()
}
