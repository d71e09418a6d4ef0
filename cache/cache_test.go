package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache[string] {
	t.Helper()
	c := New[string](time.Hour)
	t.Cleanup(c.Destroy)
	return c
}

func TestCache_SetGetRoundTrip(t *testing.T) {
	c := newTestCache(t)
	c.Set("token-1", "valid")

	value, ok := c.Get("token-1")
	if !ok || value != "valid" {
		t.Fatalf("expected cached value, got %q ok=%v", value, ok)
	}
	if !c.Has("token-1") {
		t.Fatalf("expected Has to report the fresh entry")
	}
}

func TestCache_ExpiryEvictsOnRead(t *testing.T) {
	c := newTestCache(t)
	c.SetTTL("token-1", "valid", 50*time.Millisecond)

	if _, ok := c.Get("token-1"); !ok {
		t.Fatalf("value must be retrievable immediately after set")
	}

	time.Sleep(100 * time.Millisecond)

	if _, ok := c.Get("token-1"); ok {
		t.Fatalf("expected entry to expire after ttl")
	}
	if c.Len() != 0 {
		t.Fatalf("expected lazy eviction on read, still %d entries", c.Len())
	}
}

func TestCache_OverwriteKeepsSingleEntry(t *testing.T) {
	c := newTestCache(t)
	c.Set("key", "first")
	c.Set("key", "second")

	value, ok := c.Get("key")
	if !ok || value != "second" {
		t.Fatalf("expected second value to win, got %q", value)
	}
	if c.Len() != 1 {
		t.Fatalf("overwrite must not grow the cache, got %d entries", c.Len())
	}
}

func TestCache_DeleteReportsPresence(t *testing.T) {
	c := newTestCache(t)
	c.Set("key", "value")

	if !c.Delete("key") {
		t.Fatalf("expected delete to report a removed entry")
	}
	if c.Delete("key") {
		t.Fatalf("expected second delete to report absence")
	}
	if c.Has("key") {
		t.Fatalf("deleted entry must be gone")
	}
}

func TestCache_Clear(t *testing.T) {
	c := newTestCache(t)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after clear, got %d", c.Len())
	}
}

func TestCache_GetOrSetMemoizes(t *testing.T) {
	c := newTestCache(t)
	calls := 0
	producer := func(context.Context) (string, error) {
		calls++
		return "produced", nil
	}

	for i := 0; i < 2; i++ {
		value, err := c.GetOrSet(context.Background(), "key", producer)
		if err != nil {
			t.Fatalf("get or set: %v", err)
		}
		if value != "produced" {
			t.Fatalf("expected produced value, got %q", value)
		}
	}
	if calls != 1 {
		t.Fatalf("expected exactly one producer call, got %d", calls)
	}
}

func TestCache_GetOrSetDoesNotCacheFailures(t *testing.T) {
	c := newTestCache(t)
	boom := errors.New("upstream unavailable")
	calls := 0
	producer := func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", boom
		}
		return "recovered", nil
	}

	if _, err := c.GetOrSet(context.Background(), "key", producer); !errors.Is(err, boom) {
		t.Fatalf("expected producer error, got %v", err)
	}
	if c.Has("key") {
		t.Fatalf("failures must never be cached")
	}

	value, err := c.GetOrSet(context.Background(), "key", producer)
	if err != nil {
		t.Fatalf("expected retry to reach the producer: %v", err)
	}
	if value != "recovered" {
		t.Fatalf("expected recovered value, got %q", value)
	}
}

func TestCache_GetOrSetSingleFlight(t *testing.T) {
	c := newTestCache(t)
	var calls atomic.Int32
	release := make(chan struct{})
	producer := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			value, err := c.GetOrSet(context.Background(), "key", producer)
			if err != nil {
				t.Errorf("worker %d: %v", slot, err)
				return
			}
			results[slot] = value
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single in-flight producer call, got %d", got)
	}
	for slot, value := range results {
		if value != "shared" {
			t.Fatalf("worker %d got %q", slot, value)
		}
	}
}

func TestCache_SweepEvictsExpiredEntries(t *testing.T) {
	c := New[string](20 * time.Millisecond)
	defer c.Destroy()

	c.SetTTL("stale", "value", 10*time.Millisecond)
	time.Sleep(80 * time.Millisecond)

	// No read happened; the sweep alone must have reclaimed the entry.
	if c.Len() != 0 {
		t.Fatalf("expected sweep to evict expired entry, got %d entries", c.Len())
	}
}

func TestCache_DestroyIsIdempotent(t *testing.T) {
	c := New[string](time.Hour)
	c.Set("key", "value")
	c.Destroy()
	c.Destroy()

	if c.Has("key") {
		t.Fatalf("destroy must clear entries")
	}
	// Writes after destroy are dropped rather than resurrecting the store.
	c.Set("key", "value")
	if c.Has("key") {
		t.Fatalf("destroyed cache must not accept writes")
	}
}
