package cache

import (
	"context"
	"testing"
	"time"
)

func TestCache_SetGetDelete(t *testing.T) {
	c := New[string](0, 0)

	c.Set("a", "one")
	if got, ok := c.Get("a"); !ok || got != "one" {
		t.Errorf("Get = %q, %v; want one, true", got, ok)
	}

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("Key should be gone after Delete")
	}

	// Deleting an absent key is a no-op.
	c.Delete("missing")
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New[int](20*time.Millisecond, 0)

	c.Set("k", 1)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("Fresh entry should be present")
	}

	time.Sleep(40 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("Expired entry should not be returned")
	}

	if dropped := c.Sweep(); dropped != 1 {
		t.Errorf("Sweep dropped %d, want 1", dropped)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after sweep, want 0", c.Len())
	}
}

func TestCache_SizeBoundEvictsOldest(t *testing.T) {
	c := New[int](0, 3)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	c.Set("d", 4)

	if _, ok := c.Get("a"); ok {
		t.Error("Oldest entry should have been evicted")
	}
	vals := c.Values()
	if len(vals) != 3 || vals[0] != 2 || vals[2] != 4 {
		t.Errorf("Values = %v, want [2 3 4]", vals)
	}
}

func TestCache_BackgroundSweeper(t *testing.T) {
	c := New[int](10*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartSweeper(ctx, 10*time.Millisecond)

	c.Set("k", 1)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		_, present := c.entries["k"]
		c.mu.Unlock()
		if !present {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("Sweeper should have removed the expired entry")
}

func TestCache_ResetRefreshesOrder(t *testing.T) {
	c := New[int](0, 2)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10) // refreshes a's position
	c.Set("c", 3)  // should evict b, not a

	if _, ok := c.Get("a"); !ok {
		t.Error("Refreshed entry should survive eviction")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("Stale entry should have been evicted")
	}
}
