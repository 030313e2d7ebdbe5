// Package usage provides value types for per-call usage records.
package usage

import "time"

// Event is one recorded tool invocation against a key.
type Event struct {
	ID        int64
	KeyID     string
	Tool      string
	Status    int // status code reported by the tool dispatcher
	LatencyMs int64
	At        time.Time
}

// Summary aggregates events over a period (value type).
type Summary struct {
	KeyID        string
	Start        time.Time
	End          time.Time
	RequestCount int64
	ErrorCount   int64
	AvgLatencyMs float64
}

// Aggregate folds events into a summary.
// This is a PURE function.
func Aggregate(keyID string, start, end time.Time, events []Event) Summary {
	s := Summary{KeyID: keyID, Start: start, End: end}
	var totalLatency int64
	for _, e := range events {
		s.RequestCount++
		if e.Status >= 400 {
			s.ErrorCount++
		}
		totalLatency += e.LatencyMs
	}
	if s.RequestCount > 0 {
		s.AvgLatencyMs = float64(totalLatency) / float64(s.RequestCount)
	}
	return s
}
