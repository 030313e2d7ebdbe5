package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/fitgate/domain/authz"
	"github.com/artpar/fitgate/domain/key"
	"github.com/artpar/fitgate/domain/quota"
)

// Guard is the single authorization entry point for the MCP router:
// it verifies the presented key, then reserves quota, in that order.
// A denied verification never touches the usage counters.
type Guard struct {
	keys   *KeyService
	quota  *QuotaService
	logger zerolog.Logger
}

// NewGuard creates a guard over the key and quota services.
func NewGuard(keys *KeyService, quota *QuotaService, logger zerolog.Logger) *Guard {
	return &Guard{keys: keys, quota: quota, logger: logger}
}

// Authorize decides whether one tool invocation under the raw key may
// proceed. Denials come back as data in the Decision; a non-nil error means
// storage was unavailable and no decision exists, leaving fail-open versus
// fail-closed to the caller.
func (g *Guard) Authorize(ctx context.Context, rawKey string) (authz.Decision, error) {
	k, reason, err := g.keys.Verify(ctx, rawKey)
	if err != nil {
		return authz.Decision{}, fmt.Errorf("verify key: %w", err)
	}
	if reason != key.ReasonValid {
		if k.ID == "" {
			return authz.Deny(authz.ReasonFromValidation(reason)), nil
		}
		return authz.DenyKey(k, authz.ReasonFromValidation(reason)), nil
	}

	r, err := g.quota.Reserve(ctx, k)
	if err != nil {
		return authz.Decision{}, fmt.Errorf("reserve quota: %w", err)
	}
	if !r.Allowed {
		g.logger.Debug().
			Str("key_id", k.ID).
			Int64("count", r.Count).
			Int64("limit", r.Limit).
			Msg("quota exceeded")
		return authz.DenyKey(k, authz.ReasonQuotaExceeded), nil
	}

	return authz.Allow(k, r.Remaining, r.Flagged, r.WindowStart), nil
}

// Finalize settles a previously allowed invocation: commit keeps the
// reserved unit, rollback returns it to windowStart, the window the allow
// decision carried. The key is re-resolved by ID.
func (g *Guard) Finalize(ctx context.Context, keyID string, windowStart time.Time, outcome quota.Outcome) error {
	k, err := g.keys.Get(ctx, keyID)
	if err != nil {
		return fmt.Errorf("lookup key %s: %w", keyID, err)
	}
	return g.quota.Finalize(ctx, k, windowStart, outcome)
}
