package usage_test

import (
	"testing"
	"time"

	"github.com/artpar/fitgate/domain/usage"
)

func TestAggregate(t *testing.T) {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	events := []usage.Event{
		{KeyID: "k1", Tool: "get_activities", Status: 200, LatencyMs: 20},
		{KeyID: "k1", Tool: "get_activities", Status: 200, LatencyMs: 40},
		{KeyID: "k1", Tool: "get_athlete", Status: 500, LatencyMs: 120},
	}

	s := usage.Aggregate("k1", start, end, events)

	if s.RequestCount != 3 {
		t.Errorf("RequestCount = %d, want 3", s.RequestCount)
	}
	if s.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", s.ErrorCount)
	}
	if s.AvgLatencyMs != 60 {
		t.Errorf("AvgLatencyMs = %v, want 60", s.AvgLatencyMs)
	}
}

func TestAggregateEmpty(t *testing.T) {
	s := usage.Aggregate("k1", time.Time{}, time.Time{}, nil)
	if s.RequestCount != 0 || s.ErrorCount != 0 || s.AvgLatencyMs != 0 {
		t.Errorf("Aggregate(nil) = %+v, want zero counts", s)
	}
}
