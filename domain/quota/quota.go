// Package quota provides pure functions for windowed quota accounting.
// All functions are deterministic with no side effects; the atomic counter
// operations they describe live behind ports.CounterStore.
package quota

import (
	"time"

	"github.com/artpar/fitgate/domain/tier"
)

// Outcome finalizes a reservation after the downstream call completes.
type Outcome string

const (
	// Commit keeps the reserved unit consumed.
	Commit Outcome = "commit"
	// Rollback returns the reserved unit, used when the call failed for
	// reasons unrelated to quota.
	Rollback Outcome = "rollback"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == Commit || o == Rollback
}

// WindowStart derives the current accounting window from wall-clock time,
// truncated to the window boundary in UTC. Every caller that agrees on the
// policy window derives the same boundary.
// This is a PURE function.
func WindowStart(now time.Time, window time.Duration) time.Time {
	return now.UTC().Truncate(window)
}

// Reservation is the result of an increment-if-under attempt (value type).
type Reservation struct {
	Allowed     bool
	Count       int64 // counter value after the attempt
	Limit       int64 // effective limit; < 0 = unlimited
	Remaining   int64 // slots left in the window; 0 when denied or unlimited
	Flagged     bool  // soft-mode overage admitted past the limit
	WindowStart time.Time
}

// Evaluate interprets the storage layer's answer under the tier's
// enforcement mode. For hard mode the storage operation already refused
// over-limit increments; for soft and unlimited reserves the increment is
// unconditional and the overage is only flagged.
// This is a PURE function.
func Evaluate(newCount, limit int64, admitted bool, mode tier.Mode, windowStart time.Time) Reservation {
	r := Reservation{
		Count:       newCount,
		Limit:       limit,
		WindowStart: windowStart,
	}

	if limit < 0 {
		r.Allowed = true
		return r
	}

	switch mode {
	case tier.ModeSoft:
		r.Allowed = true
		r.Flagged = newCount > limit
		if !r.Flagged {
			r.Remaining = limit - newCount
		}
	default:
		r.Allowed = admitted
		if admitted {
			r.Remaining = limit - newCount
		}
	}
	return r
}

// CounterLimit maps a policy to the limit passed to the storage layer's
// conditional increment. Soft and unlimited policies increment
// unconditionally (negative limit); hard policies cap at the limit.
// This is a PURE function.
func CounterLimit(p tier.Policy, effectiveLimit int64) int64 {
	if p.Unlimited() || p.Mode == tier.ModeSoft {
		return -1
	}
	return effectiveLimit
}
