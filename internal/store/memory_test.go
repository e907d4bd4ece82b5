package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_IncrByAndExpiry(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	now := base
	s.SetClock(func() time.Time { return now })

	ctx := context.Background()
	expire := base.Add(time.Hour)

	if v, err := s.IncrBy(ctx, "k", 2, expire); err != nil || v != 2 {
		t.Fatalf("IncrBy = %d, %v", v, err)
	}
	if v, err := s.IncrBy(ctx, "k", 3, expire); err != nil || v != 5 {
		t.Fatalf("IncrBy = %d, %v", v, err)
	}

	got, err := s.GetCounters(ctx, []string{"k", "missing"})
	if err != nil {
		t.Fatalf("GetCounters: %v", err)
	}
	if got[0].Value != 5 || got[1].Value != 0 {
		t.Fatalf("GetCounters values: %+v", got)
	}

	// Cross the expiry boundary: the counter reads zero and a fresh
	// increment starts over.
	now = expire
	got, _ = s.GetCounters(ctx, []string{"k"})
	if got[0].Value != 0 {
		t.Fatalf("expected expired counter to read 0, got %d", got[0].Value)
	}
	if v, _ := s.IncrBy(ctx, "k", 1, expire.Add(time.Hour)); v != 1 {
		t.Fatalf("expected restart after expiry, got %d", v)
	}
}

func TestMemoryStore_SetMarker(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	now := base
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	fresh, err := s.SetMarker(ctx, "idem:t1:e1", time.Hour)
	if err != nil || !fresh {
		t.Fatalf("first SetMarker = %v, %v", fresh, err)
	}
	fresh, _ = s.SetMarker(ctx, "idem:t1:e1", time.Hour)
	if fresh {
		t.Fatal("second SetMarker within TTL must report existing")
	}

	// A different key is independent.
	if fresh, _ := s.SetMarker(ctx, "idem:t1:e2", time.Hour); !fresh {
		t.Fatal("distinct key should be fresh")
	}

	// After the TTL the marker can be set again.
	now = base.Add(time.Hour + time.Second)
	if fresh, _ := s.SetMarker(ctx, "idem:t1:e1", time.Hour); !fresh {
		t.Fatal("expired marker should be settable again")
	}
}

func TestMemoryStore_WindowPrunes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	window := time.Minute

	for i := 0; i < 5; i++ {
		if err := s.WindowAdd(ctx, "w", base.Add(time.Duration(i)*time.Second), window); err != nil {
			t.Fatalf("WindowAdd: %v", err)
		}
	}
	if n, _ := s.WindowCount(ctx, "w", base.Add(5*time.Second), window); n != 5 {
		t.Fatalf("count = %d, want 5", n)
	}

	// 61s after the first entry only the last four remain.
	if n, _ := s.WindowCount(ctx, "w", base.Add(61*time.Second), window); n != 4 {
		t.Fatalf("count after slide = %d, want 4", n)
	}
	// Far in the future everything is pruned.
	if n, _ := s.WindowCount(ctx, "w", base.Add(time.Hour), window); n != 0 {
		t.Fatalf("count after window = %d, want 0", n)
	}
}

func TestMemoryStore_Ping(t *testing.T) {
	if err := NewMemoryStore().Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
