package clock_test

import (
	"testing"
	"time"

	"github.com/artpar/fitgate/adapters/clock"
)

func TestRealNowIsUTC(t *testing.T) {
	now := clock.Real{}.Now()
	if now.Location() != time.UTC {
		t.Errorf("Real.Now() location = %v, want UTC", now.Location())
	}
}

func TestFake(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	f := clock.NewFake(base)

	if !f.Now().Equal(base) {
		t.Errorf("Now() = %v, want %v", f.Now(), base)
	}

	f.Advance(90 * time.Minute)
	if !f.Now().Equal(base.Add(90 * time.Minute)) {
		t.Errorf("Now() after Advance = %v", f.Now())
	}

	f.Set(base)
	if !f.Now().Equal(base) {
		t.Errorf("Now() after Set = %v", f.Now())
	}
}
