package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/artpar/fitgate/app"
	"github.com/artpar/fitgate/domain/authz"
	"github.com/artpar/fitgate/domain/key"
	"github.com/artpar/fitgate/domain/quota"
	"github.com/artpar/fitgate/ports"
)

func TestAuthorizeAllow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	raw, issued := e.issue(t, app.IssueParams{OwnerID: "tenant-1", Tier: key.TierStarter})

	d, err := e.guard.Authorize(ctx, raw)
	if err != nil {
		t.Fatalf("Authorize() = %v", err)
	}
	if !d.Allowed {
		t.Fatalf("Authorize() denied: %q", d.Reason)
	}
	if d.KeyID != issued.ID || d.OwnerID != "tenant-1" || d.Tier != key.TierStarter {
		t.Errorf("decision identity = %+v", d)
	}
	if d.Remaining != 999 {
		t.Errorf("remaining = %d, want 999", d.Remaining)
	}
	if d.WindowStart.IsZero() {
		t.Error("allow decision missing the charged window")
	}
}

func TestAuthorizeInvalidKey(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	d, err := e.guard.Authorize(ctx, "fg_ffffffff"+strings.Repeat("0", key.SecretLen*2))
	if err != nil {
		t.Fatalf("Authorize() = %v", err)
	}
	if d.Allowed || d.Reason != authz.ReasonInvalidKey {
		t.Errorf("decision = %+v, want invalid_key denial", d)
	}
	if d.KeyID != "" {
		t.Errorf("invalid key leaked identity %q", d.KeyID)
	}
}

func TestAuthorizeRevokedKey(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	raw, issued := e.issue(t, app.IssueParams{OwnerID: "t", Tier: key.TierStarter})

	if err := e.keys.Revoke(ctx, issued.ID); err != nil {
		t.Fatalf("Revoke() = %v", err)
	}

	d, err := e.guard.Authorize(ctx, raw)
	if err != nil {
		t.Fatalf("Authorize() = %v", err)
	}
	if d.Allowed || d.Reason != authz.ReasonRevoked {
		t.Errorf("decision = %+v, want key_revoked denial", d)
	}
	if d.KeyID != issued.ID {
		t.Errorf("revoked denial should identify the key, got %q", d.KeyID)
	}
}

func TestAuthorizeExpiredKey(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	raw, _ := e.issue(t, app.IssueParams{OwnerID: "t", Tier: key.TierStarter, TTL: time.Hour})

	e.clock.Advance(2 * time.Hour)
	d, err := e.guard.Authorize(ctx, raw)
	if err != nil {
		t.Fatalf("Authorize() = %v", err)
	}
	if d.Allowed || d.Reason != authz.ReasonExpired {
		t.Errorf("decision = %+v, want key_expired denial", d)
	}
}

func TestAuthorizeQuotaExceeded(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	raw, issued := e.issue(t, app.IssueParams{OwnerID: "t", Tier: key.TierTrial, LimitOverride: 1})

	if d, _ := e.guard.Authorize(ctx, raw); !d.Allowed {
		t.Fatal("first call denied")
	}

	d, err := e.guard.Authorize(ctx, raw)
	if err != nil {
		t.Fatalf("Authorize() = %v", err)
	}
	if d.Allowed || d.Reason != authz.ReasonQuotaExceeded {
		t.Errorf("decision = %+v, want quota_exceeded denial", d)
	}
	if d.KeyID != issued.ID {
		t.Errorf("quota denial should identify the key, got %q", d.KeyID)
	}
}

// A denied verification must never consume quota: the counter is only
// touched after the key checks out.
func TestAuthorizeDeniedVerificationDoesNotConsumeQuota(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	raw, _ := e.issue(t, app.IssueParams{OwnerID: "t", Tier: key.TierTrial, LimitOverride: 1})

	// Hammer with key material that fails verification.
	prefix := raw[:len(key.Marker)+key.PrefixHex]
	wrongSecret := prefix + strings.Repeat("0", key.SecretLen*2)
	for i := 0; i < 10; i++ {
		if d, _ := e.guard.Authorize(ctx, wrongSecret); d.Allowed {
			t.Fatal("wrong secret was allowed")
		}
	}

	// The single quota slot is still available to the real key.
	d, err := e.guard.Authorize(ctx, raw)
	if err != nil {
		t.Fatalf("Authorize() = %v", err)
	}
	if !d.Allowed {
		t.Errorf("valid key denied; failed verifications consumed quota: %q", d.Reason)
	}
}

func TestAuthorizeSoftOverageFlagged(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	raw, _ := e.issue(t, app.IssueParams{OwnerID: "t", Tier: key.TierEnterprise, LimitOverride: 1})

	if d, _ := e.guard.Authorize(ctx, raw); !d.Allowed || d.Flagged {
		t.Fatal("first call should be allowed and unflagged")
	}

	d, err := e.guard.Authorize(ctx, raw)
	if err != nil {
		t.Fatalf("Authorize() = %v", err)
	}
	if !d.Allowed {
		t.Error("soft-tier overage was denied")
	}
	if !d.Flagged {
		t.Error("soft-tier overage was not flagged")
	}
}

func TestGuardFinalizeRollback(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	raw, issued := e.issue(t, app.IssueParams{OwnerID: "t", Tier: key.TierTrial, LimitOverride: 1})

	d, _ := e.guard.Authorize(ctx, raw)
	if !d.Allowed {
		t.Fatal("first call denied")
	}
	if err := e.guard.Finalize(ctx, issued.ID, d.WindowStart, quota.Rollback); err != nil {
		t.Fatalf("Finalize() = %v", err)
	}
	if d, _ := e.guard.Authorize(ctx, raw); !d.Allowed {
		t.Error("call after rollback denied; capacity was not restored")
	}
}

// The decision carries the charged window so a rollback issued after a
// rollover never refunds the new window.
func TestGuardLateRollbackSettlesChargedWindow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	raw, issued := e.issue(t, app.IssueParams{OwnerID: "t", Tier: key.TierTrial, LimitOverride: 1})

	old, _ := e.guard.Authorize(ctx, raw)
	if !old.Allowed {
		t.Fatal("first call denied")
	}

	e.clock.Advance(24 * time.Hour)
	if d, _ := e.guard.Authorize(ctx, raw); !d.Allowed {
		t.Fatal("call in new window denied")
	}

	if err := e.guard.Finalize(ctx, issued.ID, old.WindowStart, quota.Rollback); err != nil {
		t.Fatalf("Finalize() = %v", err)
	}
	d, err := e.guard.Authorize(ctx, raw)
	if err != nil {
		t.Fatalf("Authorize() = %v", err)
	}
	if d.Allowed {
		t.Error("late rollback refunded the new window; hard limit exceeded")
	}
}

func TestGuardFinalizeUnknownKey(t *testing.T) {
	e := newEnv(t)
	err := e.guard.Finalize(context.Background(), "no-such-key", time.Time{}, quota.Commit)
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Finalize(unknown) = %v, want ErrNotFound", err)
	}
}
