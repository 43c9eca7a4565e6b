package cache

import (
	"context"
	"testing"
	"time"
)

func newTestMemoryStore(now *time.Time) *memoryStore {
	return &memoryStore{
		entries: make(map[string]memoryEntry),
		now:     func() time.Time { return *now },
		stopCh:  make(chan struct{}),
	}
}

func TestMemoryStoreHonorsTTLBoundary(t *testing.T) {
	base := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	now := base
	store := newTestMemoryStore(&now)

	key := Key(TierWorkItems, "alpha", "sprint-12")
	if err := store.Set(context.Background(), key, []byte(`{"items":[]}`), 300*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	now = base.Add(299 * time.Second)
	if _, ok, err := store.Get(context.Background(), key); err != nil || !ok {
		t.Fatalf("expected hit at t0+299s, ok=%v err=%v", ok, err)
	}

	now = base.Add(301 * time.Second)
	if _, ok, err := store.Get(context.Background(), key); err != nil || ok {
		t.Fatalf("expected miss at t0+301s, ok=%v err=%v", ok, err)
	}
}

func TestMemoryStoreTargetedInvalidation(t *testing.T) {
	base := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	now := base
	store := newTestMemoryStore(&now)
	ctx := context.Background()

	seed := map[string][]byte{
		Key(TierWorkItems, "alpha", "all"):    []byte("a"),
		Key(TierWorkItems, "alpha", "sprint"): []byte("b"),
		Key(TierIterations, "alpha"):          []byte("c"),
		Key(TierTeams, "alpha"):               []byte("d"),
		Key(TierWorkItems, "beta", "all"):     []byte("e"),
	}
	for key, value := range seed {
		if err := store.Set(ctx, key, value, time.Hour); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	removed, err := store.Invalidate(ctx, BucketPattern(TierWorkItems, "alpha"))
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 keys removed, got %d", removed)
	}

	for _, key := range []string{
		Key(TierIterations, "alpha"),
		Key(TierTeams, "alpha"),
		Key(TierWorkItems, "beta", "all"),
	} {
		if _, ok, _ := store.Get(ctx, key); !ok {
			t.Fatalf("expected untouched key %s to remain", key)
		}
	}
	for _, key := range []string{
		Key(TierWorkItems, "alpha", "all"),
		Key(TierWorkItems, "alpha", "sprint"),
	} {
		if _, ok, _ := store.Get(ctx, key); ok {
			t.Fatalf("expected key %s to be invalidated", key)
		}
	}
}

func TestMemoryStoreExactKeyInvalidation(t *testing.T) {
	base := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	now := base
	store := newTestMemoryStore(&now)
	ctx := context.Background()

	key := Key(TierTeams, "alpha")
	if err := store.Set(ctx, key, []byte("x"), time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	removed, err := store.Invalidate(ctx, key)
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 key removed, got %d", removed)
	}
	if _, ok, _ := store.Get(ctx, key); ok {
		t.Fatal("expected exact-key invalidation to remove the entry")
	}
}

func TestMemoryStoreSweepDropsExpired(t *testing.T) {
	base := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	now := base
	store := newTestMemoryStore(&now)
	ctx := context.Background()

	if err := store.Set(ctx, Key(TierWorkItems, "alpha", "all"), []byte("a"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, Key(TierWorkItems, "alpha", "keep"), []byte("b"), time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}

	now = base.Add(2 * time.Minute)
	store.sweep()

	store.mu.Lock()
	remaining := len(store.entries)
	store.mu.Unlock()
	if remaining != 1 {
		t.Fatalf("expected sweep to keep 1 entry, got %d", remaining)
	}
}

func TestKeyAndPatternHelpers(t *testing.T) {
	if got := Key(TierWorkItems, "alpha", "sprint-1"); got != "workitems:alpha:sprint-1" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := BucketPattern(TierIterations, "alpha"); got != "iterations:alpha:*" {
		t.Fatalf("unexpected pattern %q", got)
	}
	if !matchesPattern("workitems:alpha:sprint-1", "workitems:alpha:*") {
		t.Fatal("expected wildcard match")
	}
	if matchesPattern("iterations:alpha", "workitems:alpha:*") {
		t.Fatal("expected non-matching tier to miss")
	}
	if !matchesPattern("teams:alpha", "teams:alpha") {
		t.Fatal("expected exact match")
	}
}

func TestDefaultTTLsPerTier(t *testing.T) {
	ttls := DefaultTTLs()
	cases := map[Tier]time.Duration{
		TierWorkItems:  5 * time.Minute,
		TierIterations: time.Hour,
		TierAreas:      time.Hour,
		TierTeams:      30 * time.Minute,
	}
	for tier, want := range cases {
		if got := ttls.For(tier); got != want {
			t.Fatalf("tier %s: expected %v, got %v", tier, want, got)
		}
	}
}
