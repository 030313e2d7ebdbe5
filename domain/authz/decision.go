// Package authz defines the authorization decision returned to the MCP
// router. Decisions are transient values produced fresh per request;
// denials are normal outcomes, not errors. A storage failure is reported
// as an error alongside the zero Decision so the router can apply its own
// fail-open or fail-closed policy.
package authz

import (
	"time"

	"github.com/artpar/fitgate/domain/key"
)

// Reason explains a denial.
type Reason string

const (
	ReasonInvalidKey    Reason = "invalid_key"
	ReasonExpired       Reason = "key_expired"
	ReasonRevoked       Reason = "key_revoked"
	ReasonQuotaExceeded Reason = "quota_exceeded"
)

// Decision is the outcome of an authorization attempt (value type).
type Decision struct {
	Allowed   bool
	KeyID     string   // set whenever the key resolved, even on quota denial
	OwnerID   string
	Tier      key.Tier
	Remaining int64 // slots left in the window; 0 when denied or unlimited
	Flagged   bool  // soft-mode overage admitted past the limit
	Reason    Reason

	// WindowStart is the accounting window the reservation was charged to.
	// Callers hand it back on finalize so a rollback settles against the
	// window that was actually charged, not whatever window is current.
	WindowStart time.Time
}

// Allow builds an allow decision for a resolved key.
func Allow(k key.Key, remaining int64, flagged bool, windowStart time.Time) Decision {
	return Decision{
		Allowed:     true,
		KeyID:       k.ID,
		OwnerID:     k.OwnerID,
		Tier:        k.Tier,
		Remaining:   remaining,
		Flagged:     flagged,
		WindowStart: windowStart,
	}
}

// Deny builds a denial with the given reason.
func Deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// DenyKey builds a denial for a key that resolved but was refused, keeping
// the key identity for logging and usage records.
func DenyKey(k key.Key, reason Reason) Decision {
	return Decision{KeyID: k.ID, OwnerID: k.OwnerID, Tier: k.Tier, Reason: reason}
}

// ReasonFromValidation maps a key validation reason onto a denial reason.
func ReasonFromValidation(reason string) Reason {
	switch reason {
	case key.ReasonExpired:
		return ReasonExpired
	case key.ReasonRevoked:
		return ReasonRevoked
	default:
		return ReasonInvalidKey
	}
}
