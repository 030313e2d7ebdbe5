package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/fitgate/domain/key"
	"github.com/artpar/fitgate/domain/quota"
	"github.com/artpar/fitgate/domain/tier"
	"github.com/artpar/fitgate/ports"
)

// QuotaService governs per-key usage quotas over fixed accounting windows.
// The tier policy table is held behind an atomic pointer so a config reload
// swaps the whole snapshot without locking the request path.
type QuotaService struct {
	counters ports.CounterStore
	clock    ports.Clock
	logger   zerolog.Logger
	policies atomic.Pointer[tier.Policies]
}

// QuotaDeps contains dependencies for QuotaService.
type QuotaDeps struct {
	Counters ports.CounterStore
	Clock    ports.Clock
	Logger   zerolog.Logger
}

// NewQuotaService creates a quota service with the given policy table.
func NewQuotaService(deps QuotaDeps, policies tier.Policies) (*QuotaService, error) {
	if err := policies.Validate(); err != nil {
		return nil, fmt.Errorf("tier policies: %w", err)
	}
	s := &QuotaService{
		counters: deps.Counters,
		clock:    deps.Clock,
		logger:   deps.Logger,
	}
	s.policies.Store(&policies)
	return s, nil
}

// UpdatePolicies swaps in a new policy table. In-flight reserves keep the
// snapshot they started with; an invalid table is rejected and the current
// one stays in effect.
func (s *QuotaService) UpdatePolicies(policies tier.Policies) error {
	if err := policies.Validate(); err != nil {
		return fmt.Errorf("tier policies: %w", err)
	}
	s.policies.Store(&policies)
	s.logger.Info().Msg("tier policies updated")
	return nil
}

// Policies returns the current policy snapshot.
func (s *QuotaService) Policies() tier.Policies {
	return *s.policies.Load()
}

// Reserve consumes one unit of the key's quota for the current window.
// The admission check and the increment happen in one atomic storage
// operation, so concurrent reserves can never overshoot a hard limit.
func (s *QuotaService) Reserve(ctx context.Context, k key.Key) (quota.Reservation, error) {
	p := s.Policies().For(k.Tier)
	windowStart := quota.WindowStart(s.clock.Now(), p.Window)
	limit := key.EffectiveLimit(k, p.Limit)

	newCount, admitted, err := s.counters.IncrementIfUnder(ctx, k.ID, windowStart, quota.CounterLimit(p, limit))
	if err != nil {
		return quota.Reservation{}, fmt.Errorf("increment counter: %w", err)
	}

	r := quota.Evaluate(newCount, limit, admitted, p.Mode, windowStart)
	if r.Flagged {
		s.logger.Warn().
			Str("key_id", k.ID).
			Str("tier", string(k.Tier)).
			Int64("count", r.Count).
			Int64("limit", r.Limit).
			Msg("soft quota exceeded, admitting with overage flag")
	}
	return r, nil
}

// Finalize settles a reservation after the proxied call completed. Commit
// keeps the unit consumed and is a no-op here. Rollback returns the unit to
// windowStart, the window the reservation was charged to; if that window
// has since rolled over the decrement hits the stale counter and the fresh
// window is untouched, because it never charged for the call. A zero
// windowStart settles against the current window, for callers that did not
// keep the reservation.
func (s *QuotaService) Finalize(ctx context.Context, k key.Key, windowStart time.Time, outcome quota.Outcome) error {
	if !outcome.Valid() {
		return fmt.Errorf("unknown outcome %q", outcome)
	}
	if outcome == quota.Commit {
		return nil
	}

	if windowStart.IsZero() {
		p := s.Policies().For(k.Tier)
		windowStart = quota.WindowStart(s.clock.Now(), p.Window)
	}
	if err := s.counters.Decrement(ctx, k.ID, windowStart); err != nil {
		return fmt.Errorf("decrement counter: %w", err)
	}
	return nil
}
