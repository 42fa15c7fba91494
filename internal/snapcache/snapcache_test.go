package snapcache

import (
	"testing"
	"time"

	"github.com/axbridge/axd/internal/model"
)

func TestCache_TTLExpiry(t *testing.T) {
	t.Parallel()
	now := time.Now()
	c := NewWithClock(func() time.Time { return now })
	c.SetTTL("ax", 100*time.Millisecond)

	snap := model.Snapshot{App: "TextEdit"}
	c.Put("TextEdit", snap, "ax")

	if _, ok := c.Get("TextEdit"); !ok {
		t.Fatal("expected hit at t=0")
	}

	now = now.Add(150 * time.Millisecond)
	if _, ok := c.Get("TextEdit"); ok {
		t.Fatal("expected miss after TTL elapsed")
	}
}

func TestCache_CaseInsensitiveKey(t *testing.T) {
	t.Parallel()
	c := New()
	c.Put("Safari", model.Snapshot{App: "Safari"}, "ax")
	if _, ok := c.Get("safari"); !ok {
		t.Fatal("expected case-insensitive hit")
	}
}

func TestCache_StatsHitRate(t *testing.T) {
	t.Parallel()
	c := New()
	c.Put("A", model.Snapshot{App: "A"}, "ax")
	c.Get("A")
	c.Get("B")

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("stats = %+v, want 1 hit 1 miss", stats)
	}
	if stats.HitRate() != 0.5 {
		t.Errorf("HitRate() = %v, want 0.5", stats.HitRate())
	}
}
