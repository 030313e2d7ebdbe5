package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/artpar/fitgate/adapters/metrics"
	"github.com/artpar/fitgate/domain/authz"
	"github.com/artpar/fitgate/domain/key"
)

func TestObserveDecision(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.New(reg)

	c.ObserveDecision(authz.Decision{Allowed: true, Tier: key.TierStarter, Remaining: 5}, 0.002)
	c.ObserveDecision(authz.Decision{Reason: authz.ReasonQuotaExceeded, Tier: key.TierTrial}, 0.001)
	c.ObserveDecision(authz.Decision{Allowed: true, Tier: key.TierEnterprise, Flagged: true}, 0.003)

	if got := testutil.ToFloat64(c.AuthorizeTotal.WithLabelValues("allow", "starter")); got != 1 {
		t.Errorf("allow/starter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.AuthorizeTotal.WithLabelValues("deny_quota_exceeded", "trial")); got != 1 {
		t.Errorf("deny_quota_exceeded/trial = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.OverageFlagged.WithLabelValues("enterprise")); got != 1 {
		t.Errorf("overage flagged/enterprise = %v, want 1", got)
	}
}

func TestNewRegistersWithoutPanic(t *testing.T) {
	// Registering twice on separate registries must not collide.
	metrics.New(prometheus.NewRegistry())
	metrics.New(prometheus.NewRegistry())
}
