// Package tier defines per-tier quota policies.
// Policies are loaded once at startup and treated as immutable snapshots;
// reloading swaps the whole table, never mutates it in place.
package tier

import (
	"fmt"
	"time"

	"github.com/artpar/fitgate/domain/key"
)

// Mode determines how an over-limit reserve is handled.
type Mode string

const (
	// ModeHard rejects requests once the window limit is reached.
	ModeHard Mode = "hard"
	// ModeSoft admits over-limit requests but flags them for follow-up
	// (overage billing, operator alerts). The counter still advances.
	ModeSoft Mode = "soft"
)

// Policy is the quota configuration for a single tier (value type).
type Policy struct {
	Limit  int64         // requests per window; < 0 = unlimited
	Window time.Duration // accounting window duration
	Mode   Mode
}

// Unlimited reports whether the policy imposes no request cap.
func (p Policy) Unlimited() bool {
	return p.Limit < 0
}

// Policies maps each tier to its policy. The table is shared read-only
// across requests.
type Policies map[key.Tier]Policy

// Defaults returns the built-in tier table. Enterprise is soft-enforced:
// over-quota calls are admitted and flagged rather than rejected.
func Defaults() Policies {
	return Policies{
		key.TierTrial:        {Limit: 50, Window: 24 * time.Hour, Mode: ModeHard},
		key.TierStarter:      {Limit: 1_000, Window: 24 * time.Hour, Mode: ModeHard},
		key.TierProfessional: {Limit: 25_000, Window: 24 * time.Hour, Mode: ModeHard},
		key.TierEnterprise:   {Limit: 500_000, Window: 24 * time.Hour, Mode: ModeSoft},
	}
}

// For returns the policy for tier t. Unknown tiers fall back to the trial
// policy, the most restrictive one.
func (ps Policies) For(t key.Tier) Policy {
	if p, ok := ps[t]; ok {
		return p
	}
	return ps[key.TierTrial]
}

// Validate checks the table covers every tier with a usable policy.
func (ps Policies) Validate() error {
	for _, t := range []key.Tier{key.TierTrial, key.TierStarter, key.TierProfessional, key.TierEnterprise} {
		p, ok := ps[t]
		if !ok {
			return fmt.Errorf("tier %q: no policy configured", t)
		}
		if p.Window <= 0 {
			return fmt.Errorf("tier %q: window must be positive, got %s", t, p.Window)
		}
		if p.Limit == 0 {
			return fmt.Errorf("tier %q: limit must be positive or negative (unlimited), got 0", t)
		}
		switch p.Mode {
		case ModeHard, ModeSoft:
		default:
			return fmt.Errorf("tier %q: mode must be %q or %q, got %q", t, ModeHard, ModeSoft, p.Mode)
		}
	}
	return nil
}
