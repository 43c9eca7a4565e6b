package webhook

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func TestMemoryDedupStoreMarkIfNew(t *testing.T) {
	store := NewMemoryDedupStore()
	defer store.Close()

	fresh, err := store.MarkIfNew(context.Background(), "sub:abc:1", time.Hour)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !fresh {
		t.Fatal("expected first claim to be fresh")
	}

	fresh, err = store.MarkIfNew(context.Background(), "sub:abc:1", time.Hour)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if fresh {
		t.Fatal("expected second claim to be a duplicate")
	}

	fresh, err = store.MarkIfNew(context.Background(), "sub:abc:2", time.Hour)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !fresh {
		t.Fatal("expected distinct key to be fresh")
	}
}

func TestMemoryDedupStoreExpiry(t *testing.T) {
	store := NewMemoryDedupStore().(*memoryDedupStore)
	defer store.Close()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	current := base
	store.now = func() time.Time { return current }

	if fresh, _ := store.MarkIfNew(context.Background(), "sub:abc:1", 10*time.Minute); !fresh {
		t.Fatal("expected fresh claim")
	}
	current = base.Add(9 * time.Minute)
	if fresh, _ := store.MarkIfNew(context.Background(), "sub:abc:1", 10*time.Minute); fresh {
		t.Fatal("expected duplicate inside ttl")
	}
	current = base.Add(11 * time.Minute)
	if fresh, _ := store.MarkIfNew(context.Background(), "sub:abc:1", 10*time.Minute); !fresh {
		t.Fatal("expected expired key to be claimable again")
	}
}

func TestRedisDedupStoreTreatsOutageAsNew(t *testing.T) {
	store := &redisDedupStore{
		client: redis.NewClient(&redis.Options{
			Addr:        "127.0.0.1:1",
			DialTimeout: 100 * time.Millisecond,
			MaxRetries:  -1,
		}),
		timeout: 100 * time.Millisecond,
	}
	defer store.Close()

	fresh, err := store.MarkIfNew(context.Background(), "sub:abc:1", time.Hour)
	if err != nil {
		t.Fatalf("outage must not surface as error, got %v", err)
	}
	if !fresh {
		t.Fatal("expected delivery to be treated as new during an outage")
	}
}

func TestNewRedisDedupStoreRequiresReachableServer(t *testing.T) {
	if _, err := NewRedisDedupStore("127.0.0.1:1", "", 0, nil); err == nil {
		t.Fatal("expected constructor to refuse an unreachable server")
	}
}

func TestMemoryDedupStoreSweep(t *testing.T) {
	store := NewMemoryDedupStore().(*memoryDedupStore)
	defer store.Close()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	current := base
	store.now = func() time.Time { return current }

	for _, key := range []string{"a", "b", "c"} {
		if _, err := store.MarkIfNew(context.Background(), key, time.Minute); err != nil {
			t.Fatalf("mark %s: %v", key, err)
		}
	}
	current = base.Add(2 * time.Minute)
	store.sweep()

	store.mu.Lock()
	remaining := len(store.seen)
	store.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected sweep to drop expired keys, got %d", remaining)
	}
}
