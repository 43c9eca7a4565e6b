package webhook

import (
	"context"
	"sync"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

const (
	dedupKeyPrefix     = "pulseboard:dedup:"
	dedupSweepInterval = time.Minute
)

// DedupStore records idempotency keys with atomic insert-if-absent semantics
// so concurrent duplicate deliveries cannot both claim an event.
type DedupStore interface {
	// MarkIfNew returns true when the key was unseen and is now claimed for ttl.
	MarkIfNew(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Close()
}

type redisDedupStore struct {
	client  *redis.Client
	logger  *slog.Logger
	timeout time.Duration
}

// NewRedisDedupStore constructs a Redis backed idempotency store. SET NX
// provides the atomic check-and-mark; a store failure degrades to treating
// the delivery as new, trading duplicate work for availability.
func NewRedisDedupStore(addr, password string, db int, logger *slog.Logger) (DedupStore, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisDedupStore{
		client:  client,
		logger:  logger,
		timeout: 250 * time.Millisecond,
	}, nil
}

func (s *redisDedupStore) MarkIfNew(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	claimed, err := s.client.SetNX(opCtx, dedupKeyPrefix+key, 1, ttl).Result()
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("dedup store error, treating delivery as new", "key", key, "error", err)
		}
		return true, nil
	}
	return claimed, nil
}

func (s *redisDedupStore) Close() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

// memoryDedupStore keeps idempotency keys in process memory. Single-instance
// only: replicas cannot see each other's claims.
type memoryDedupStore struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	now    func() time.Time
	stopCh chan struct{}
	once   sync.Once
}

// NewMemoryDedupStore constructs an in-process idempotency store.
func NewMemoryDedupStore() DedupStore {
	s := &memoryDedupStore{
		seen:   make(map[string]time.Time),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *memoryDedupStore) MarkIfNew(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.seen[key]; ok && now.Before(expiry) {
		return false, nil
	}
	s.seen[key] = now.Add(ttl)
	return true, nil
}

func (s *memoryDedupStore) sweepLoop() {
	ticker := time.NewTicker(dedupSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *memoryDedupStore) sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, expiry := range s.seen {
		if now.After(expiry) {
			delete(s.seen, key)
		}
	}
}

func (s *memoryDedupStore) Close() {
	s.once.Do(func() {
		close(s.stopCh)
	})
}
