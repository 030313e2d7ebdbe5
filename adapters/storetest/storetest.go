// Package storetest is the behavioral contract suite shared by every
// storage engine. Each adapter's tests invoke these runners against its
// own store so all engines exhibit identical observable behavior,
// including the concurrency guarantees of the counter increment.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/artpar/fitgate/domain/key"
	"github.com/artpar/fitgate/domain/usage"
	"github.com/artpar/fitgate/ports"
)

var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func sampleKey(id, prefix string) key.Key {
	expires := baseTime.Add(30 * 24 * time.Hour)
	return key.Key{
		ID:      id,
		OwnerID: "tenant-1",
		Prefix:  prefix,
		Secret: key.Sealed{
			Ciphertext: []byte{0xde, 0xad, 0xbe, 0xef},
			Nonce:      bytes.Repeat([]byte{0x01}, 24),
		},
		Tier:      key.TierStarter,
		Status:    key.StatusActive,
		Label:     "ci pipeline",
		CreatedAt: baseTime,
		ExpiresAt: &expires,
	}
}

// RunKeyStore exercises the ports.KeyStore contract.
func RunKeyStore(t *testing.T, newStore func(t *testing.T) ports.KeyStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and fetch round trip", func(t *testing.T) {
		s := newStore(t)
		want := sampleKey("key-1", "fg_aaaa0001")

		if err := s.Create(ctx, want); err != nil {
			t.Fatalf("Create() = %v", err)
		}

		for name, fetch := range map[string]func() (key.Key, error){
			"GetByPrefix": func() (key.Key, error) { return s.GetByPrefix(ctx, want.Prefix) },
			"GetByID":     func() (key.Key, error) { return s.GetByID(ctx, want.ID) },
		} {
			got, err := fetch()
			if err != nil {
				t.Fatalf("%s() = %v", name, err)
			}
			assertKeyEqual(t, name, got, want)
		}
	})

	t.Run("missing records return ErrNotFound", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.GetByPrefix(ctx, "fg_00000000"); !errors.Is(err, ports.ErrNotFound) {
			t.Errorf("GetByPrefix(missing) = %v, want ErrNotFound", err)
		}
		if _, err := s.GetByID(ctx, "nope"); !errors.Is(err, ports.ErrNotFound) {
			t.Errorf("GetByID(missing) = %v, want ErrNotFound", err)
		}
		if err := s.SetStatus(ctx, "nope", key.StatusRevoked, baseTime); !errors.Is(err, ports.ErrNotFound) {
			t.Errorf("SetStatus(missing) = %v, want ErrNotFound", err)
		}
	})

	t.Run("duplicate prefix rejected", func(t *testing.T) {
		s := newStore(t)
		if err := s.Create(ctx, sampleKey("key-1", "fg_aaaa0001")); err != nil {
			t.Fatal(err)
		}
		err := s.Create(ctx, sampleKey("key-2", "fg_aaaa0001"))
		if !errors.Is(err, ports.ErrDuplicate) {
			t.Errorf("Create(duplicate prefix) = %v, want ErrDuplicate", err)
		}
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		s := newStore(t)
		if err := s.Create(ctx, sampleKey("key-1", "fg_aaaa0001")); err != nil {
			t.Fatal(err)
		}
		err := s.Create(ctx, sampleKey("key-1", "fg_aaaa0002"))
		if !errors.Is(err, ports.ErrDuplicate) {
			t.Errorf("Create(duplicate id) = %v, want ErrDuplicate", err)
		}
	})

	t.Run("revocation is persisted", func(t *testing.T) {
		s := newStore(t)
		if err := s.Create(ctx, sampleKey("key-1", "fg_aaaa0001")); err != nil {
			t.Fatal(err)
		}

		revokedAt := baseTime.Add(time.Hour)
		if err := s.SetStatus(ctx, "key-1", key.StatusRevoked, revokedAt); err != nil {
			t.Fatalf("SetStatus() = %v", err)
		}

		got, err := s.GetByID(ctx, "key-1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != key.StatusRevoked {
			t.Errorf("Status = %q, want revoked", got.Status)
		}
		if got.RevokedAt == nil || !got.RevokedAt.Equal(revokedAt) {
			t.Errorf("RevokedAt = %v, want %v", got.RevokedAt, revokedAt)
		}
	})

	t.Run("last used is persisted", func(t *testing.T) {
		s := newStore(t)
		if err := s.Create(ctx, sampleKey("key-1", "fg_aaaa0001")); err != nil {
			t.Fatal(err)
		}

		at := baseTime.Add(2 * time.Hour)
		if err := s.UpdateLastUsed(ctx, "key-1", at); err != nil {
			t.Fatalf("UpdateLastUsed() = %v", err)
		}

		got, err := s.GetByID(ctx, "key-1")
		if err != nil {
			t.Fatal(err)
		}
		if got.LastUsedAt == nil || !got.LastUsedAt.Equal(at) {
			t.Errorf("LastUsedAt = %v, want %v", got.LastUsedAt, at)
		}
	})

	t.Run("list by owner newest first", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 3; i++ {
			k := sampleKey(fmt.Sprintf("key-%d", i), fmt.Sprintf("fg_aaaa000%d", i))
			k.CreatedAt = baseTime.Add(time.Duration(i) * time.Hour)
			if err := s.Create(ctx, k); err != nil {
				t.Fatal(err)
			}
		}
		other := sampleKey("key-other", "fg_bbbb0000")
		other.OwnerID = "tenant-2"
		if err := s.Create(ctx, other); err != nil {
			t.Fatal(err)
		}

		keys, err := s.ListByOwner(ctx, "tenant-1")
		if err != nil {
			t.Fatalf("ListByOwner() = %v", err)
		}
		if len(keys) != 3 {
			t.Fatalf("ListByOwner() returned %d keys, want 3", len(keys))
		}
		for i := 1; i < len(keys); i++ {
			if keys[i].CreatedAt.After(keys[i-1].CreatedAt) {
				t.Errorf("keys not sorted newest first: %v before %v", keys[i-1].CreatedAt, keys[i].CreatedAt)
			}
		}

		all, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List() = %v", err)
		}
		if len(all) != 4 {
			t.Errorf("List() returned %d keys, want 4", len(all))
		}
	})
}

func assertKeyEqual(t *testing.T, op string, got, want key.Key) {
	t.Helper()
	if got.ID != want.ID || got.OwnerID != want.OwnerID || got.Prefix != want.Prefix {
		t.Errorf("%s identity mismatch: got %+v", op, got)
	}
	if !bytes.Equal(got.Secret.Ciphertext, want.Secret.Ciphertext) || !bytes.Equal(got.Secret.Nonce, want.Secret.Nonce) {
		t.Errorf("%s sealed secret mismatch", op)
	}
	if got.Tier != want.Tier || got.Status != want.Status || got.Label != want.Label {
		t.Errorf("%s attribute mismatch: got tier=%q status=%q label=%q", op, got.Tier, got.Status, got.Label)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("%s CreatedAt = %v, want %v", op, got.CreatedAt, want.CreatedAt)
	}
	if (got.ExpiresAt == nil) != (want.ExpiresAt == nil) {
		t.Errorf("%s ExpiresAt presence mismatch", op)
	} else if want.ExpiresAt != nil && !got.ExpiresAt.Equal(*want.ExpiresAt) {
		t.Errorf("%s ExpiresAt = %v, want %v", op, got.ExpiresAt, want.ExpiresAt)
	}
}

// RunCounterStore exercises the ports.CounterStore contract, including the
// atomic increment-if-under guarantee under concurrency.
func RunCounterStore(t *testing.T, newStore func(t *testing.T) ports.CounterStore) {
	t.Helper()
	ctx := context.Background()
	window := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	t.Run("increments up to limit then denies", func(t *testing.T) {
		s := newStore(t)
		const limit = 3

		for i := int64(1); i <= limit; i++ {
			count, admitted, err := s.IncrementIfUnder(ctx, "key-1", window, limit)
			if err != nil {
				t.Fatalf("IncrementIfUnder() = %v", err)
			}
			if !admitted || count != i {
				t.Fatalf("attempt %d: count=%d admitted=%v, want count=%d admitted=true", i, count, admitted, i)
			}
		}

		count, admitted, err := s.IncrementIfUnder(ctx, "key-1", window, limit)
		if err != nil {
			t.Fatal(err)
		}
		if admitted {
			t.Error("over-limit increment was admitted")
		}
		if count != limit {
			t.Errorf("denied attempt reported count=%d, want %d (no increment)", count, limit)
		}
	})

	t.Run("negative limit increments unconditionally", func(t *testing.T) {
		s := newStore(t)
		for i := int64(1); i <= 5; i++ {
			count, admitted, err := s.IncrementIfUnder(ctx, "key-1", window, -1)
			if err != nil {
				t.Fatal(err)
			}
			if !admitted || count != i {
				t.Fatalf("unlimited attempt %d: count=%d admitted=%v", i, count, admitted)
			}
		}
	})

	t.Run("get missing row returns zero", func(t *testing.T) {
		s := newStore(t)
		count, err := s.Get(ctx, "key-1", window)
		if err != nil {
			t.Fatalf("Get() = %v", err)
		}
		if count != 0 {
			t.Errorf("Get(missing) = %d, want 0", count)
		}
	})

	t.Run("decrement restores capacity", func(t *testing.T) {
		s := newStore(t)
		const limit = 2

		for i := 0; i < limit; i++ {
			if _, admitted, err := s.IncrementIfUnder(ctx, "key-1", window, limit); err != nil || !admitted {
				t.Fatalf("setup increment: admitted=%v err=%v", admitted, err)
			}
		}
		if _, admitted, _ := s.IncrementIfUnder(ctx, "key-1", window, limit); admitted {
			t.Fatal("expected limit to be reached")
		}

		if err := s.Decrement(ctx, "key-1", window); err != nil {
			t.Fatalf("Decrement() = %v", err)
		}

		count, admitted, err := s.IncrementIfUnder(ctx, "key-1", window, limit)
		if err != nil {
			t.Fatal(err)
		}
		if !admitted || count != limit {
			t.Errorf("post-rollback reserve: count=%d admitted=%v, want count=%d admitted=true", count, admitted, limit)
		}
	})

	t.Run("decrement on missing or empty window is a no-op", func(t *testing.T) {
		s := newStore(t)
		if err := s.Decrement(ctx, "key-1", window); err != nil {
			t.Fatalf("Decrement(missing) = %v", err)
		}
		count, err := s.Get(ctx, "key-1", window)
		if err != nil {
			t.Fatal(err)
		}
		if count != 0 {
			t.Errorf("count after no-op decrement = %d, want 0", count)
		}
	})

	t.Run("windows are isolated", func(t *testing.T) {
		s := newStore(t)
		const limit = 1
		next := window.Add(24 * time.Hour)

		if _, admitted, err := s.IncrementIfUnder(ctx, "key-1", window, limit); err != nil || !admitted {
			t.Fatalf("window W increment: admitted=%v err=%v", admitted, err)
		}
		if _, admitted, _ := s.IncrementIfUnder(ctx, "key-1", window, limit); admitted {
			t.Fatal("window W should be exhausted")
		}

		count, admitted, err := s.IncrementIfUnder(ctx, "key-1", next, limit)
		if err != nil {
			t.Fatal(err)
		}
		if !admitted || count != 1 {
			t.Errorf("window W+1 reserve: count=%d admitted=%v, want fresh counter", count, admitted)
		}

		wCount, err := s.Get(ctx, "key-1", window)
		if err != nil {
			t.Fatal(err)
		}
		if wCount != limit {
			t.Errorf("window W count disturbed: %d, want %d", wCount, limit)
		}
	})

	t.Run("keys are isolated", func(t *testing.T) {
		s := newStore(t)
		if _, admitted, err := s.IncrementIfUnder(ctx, "key-1", window, 1); err != nil || !admitted {
			t.Fatalf("key-1 increment: admitted=%v err=%v", admitted, err)
		}
		if _, admitted, err := s.IncrementIfUnder(ctx, "key-2", window, 1); err != nil || !admitted {
			t.Errorf("key-2 increment blocked by key-1: admitted=%v err=%v", admitted, err)
		}
	})

	t.Run("exactly N of N+K concurrent reserves succeed", func(t *testing.T) {
		s := newStore(t)
		const (
			n = 10
			k = 5
		)

		type attempt struct {
			count    int64
			admitted bool
		}
		var wg sync.WaitGroup
		results := make(chan attempt, n+k)
		for i := 0; i < n+k; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				count, admitted, err := s.IncrementIfUnder(ctx, "key-1", window, n)
				if err != nil {
					t.Errorf("concurrent IncrementIfUnder() = %v", err)
					results <- attempt{}
					return
				}
				results <- attempt{count: count, admitted: admitted}
			}()
		}
		wg.Wait()
		close(results)

		// Each admitted caller must see its own increment, so the admitted
		// counts are exactly 1..n with no duplicates.
		var allowed, denied int
		seen := make(map[int64]bool)
		for a := range results {
			if a.admitted {
				allowed++
				if a.count < 1 || a.count > n || seen[a.count] {
					t.Errorf("admitted count %d out of range or duplicated", a.count)
				}
				seen[a.count] = true
			} else {
				denied++
			}
		}
		if allowed != n || denied != k {
			t.Errorf("concurrent reserves: %d allowed, %d denied; want %d allowed, %d denied", allowed, denied, n, k)
		}

		count, err := s.Get(ctx, "key-1", window)
		if err != nil {
			t.Fatal(err)
		}
		if count != n {
			t.Errorf("final count = %d, want %d", count, n)
		}
	})
}

// RunUsageStore exercises the ports.UsageStore contract.
func RunUsageStore(t *testing.T, newStore func(t *testing.T) ports.UsageStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("record and recent", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 5; i++ {
			e := usage.Event{
				KeyID:     "key-1",
				Tool:      "get_activities",
				Status:    200,
				LatencyMs: int64(10 + i),
				At:        baseTime.Add(time.Duration(i) * time.Minute),
			}
			if err := s.Record(ctx, e); err != nil {
				t.Fatalf("Record() = %v", err)
			}
		}
		if err := s.Record(ctx, usage.Event{KeyID: "key-2", Tool: "get_athlete", Status: 200, At: baseTime}); err != nil {
			t.Fatal(err)
		}

		events, err := s.Recent(ctx, "key-1", 3)
		if err != nil {
			t.Fatalf("Recent() = %v", err)
		}
		if len(events) != 3 {
			t.Fatalf("Recent() returned %d events, want 3", len(events))
		}
		for i := 1; i < len(events); i++ {
			if events[i].At.After(events[i-1].At) {
				t.Error("Recent() not sorted newest first")
			}
		}
		for _, e := range events {
			if e.KeyID != "key-1" {
				t.Errorf("Recent() leaked event for %q", e.KeyID)
			}
		}
	})

	t.Run("summary over period", func(t *testing.T) {
		s := newStore(t)
		end := baseTime.Add(24 * time.Hour)
		inWindow := []usage.Event{
			{KeyID: "key-1", Tool: "get_activities", Status: 200, LatencyMs: 10, At: baseTime},
			{KeyID: "key-1", Tool: "get_activities", Status: 500, LatencyMs: 30, At: baseTime.Add(time.Minute)},
			// Recorded exactly at the period's end; both bounds are inclusive
			// so an event landing at the query instant still counts.
			{KeyID: "key-1", Tool: "get_athlete", Status: 200, LatencyMs: 20, At: end},
		}
		for _, e := range inWindow {
			if err := s.Record(ctx, e); err != nil {
				t.Fatal(err)
			}
		}
		// Outside the summarized period.
		if err := s.Record(ctx, usage.Event{KeyID: "key-1", Tool: "get_athlete", Status: 200, At: baseTime.Add(48 * time.Hour)}); err != nil {
			t.Fatal(err)
		}

		sum, err := s.Summary(ctx, "key-1", baseTime, end)
		if err != nil {
			t.Fatalf("Summary() = %v", err)
		}
		if sum.RequestCount != 3 {
			t.Errorf("RequestCount = %d, want 3", sum.RequestCount)
		}
		if sum.ErrorCount != 1 {
			t.Errorf("ErrorCount = %d, want 1", sum.ErrorCount)
		}
		if sum.AvgLatencyMs != 20 {
			t.Errorf("AvgLatencyMs = %v, want 20", sum.AvgLatencyMs)
		}
	})
}
