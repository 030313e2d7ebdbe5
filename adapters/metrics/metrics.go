// Package metrics provides Prometheus metrics collection for FitGate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/artpar/fitgate/domain/authz"
)

// Collector holds all Prometheus metrics for FitGate.
type Collector struct {
	// Authorization metrics
	AuthorizeTotal    *prometheus.CounterVec
	AuthorizeDuration prometheus.Histogram
	Unavailable       prometheus.Counter
	OverageFlagged    *prometheus.CounterVec

	// Key lifecycle metrics
	KeysIssued  *prometheus.CounterVec
	KeysRevoked prometheus.Counter

	// Integrity metrics
	IntegrityAnomalies prometheus.Counter
}

// New creates a new metrics collector with all metrics registered on a
// dedicated registry (returned alongside for the /metrics handler).
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		AuthorizeTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fitgate",
				Name:      "authorize_total",
				Help:      "Authorization decisions by outcome",
			},
			[]string{"outcome", "tier"},
		),
		AuthorizeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "fitgate",
				Name:      "authorize_duration_seconds",
				Help:      "Authorization latency in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		Unavailable: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fitgate",
				Name:      "authorize_unavailable_total",
				Help:      "Authorization attempts that failed because storage was unavailable",
			},
		),
		OverageFlagged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fitgate",
				Name:      "overage_flagged_total",
				Help:      "Soft-mode reserves admitted past the tier limit",
			},
			[]string{"tier"},
		),
		KeysIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fitgate",
				Name:      "keys_issued_total",
				Help:      "API keys issued by tier",
			},
			[]string{"tier"},
		),
		KeysRevoked: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fitgate",
				Name:      "keys_revoked_total",
				Help:      "API keys revoked",
			},
		),
		IntegrityAnomalies: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fitgate",
				Name:      "integrity_anomalies_total",
				Help:      "Sealed secrets that failed authentication on records expected to decrypt cleanly",
			},
		),
	}
}

// ObserveDecision records one authorization decision.
func (c *Collector) ObserveDecision(d authz.Decision, seconds float64) {
	outcome := "deny_" + string(d.Reason)
	if d.Allowed {
		outcome = "allow"
	}
	c.AuthorizeTotal.WithLabelValues(outcome, string(d.Tier)).Inc()
	c.AuthorizeDuration.Observe(seconds)
	if d.Flagged {
		c.OverageFlagged.WithLabelValues(string(d.Tier)).Inc()
	}
}
