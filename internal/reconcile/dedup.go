package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupStore remembers deposit transaction ids so redelivered notifications
// are ignored. It is injected rather than kept as reconciler-internal state
// so deduplication can survive a process restart.
type DedupStore interface {
	// MarkSeen records txID and reports whether it had been seen before.
	MarkSeen(ctx context.Context, txID string) (alreadySeen bool, err error)
}

// MemoryDedup is a bounded in-process dedup set: oldest entries are evicted
// first once capacity is reached. Suitable for tests and single-node runs.
type MemoryDedup struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	cap   int
}

func NewMemoryDedup(capacity int) *MemoryDedup {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryDedup{
		seen: make(map[string]struct{}, capacity),
		cap:  capacity,
	}
}

func (m *MemoryDedup) MarkSeen(_ context.Context, txID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[txID]; ok {
		return true, nil
	}
	if len(m.order) >= m.cap {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.seen, oldest)
	}
	m.seen[txID] = struct{}{}
	m.order = append(m.order, txID)
	return false, nil
}

// RedisDedup persists the seen set in Redis with a TTL, so deduplication
// does not depend on in-process memory surviving a restart.
type RedisDedup struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDedup(client *redis.Client, ttl time.Duration) *RedisDedup {
	return &RedisDedup{client: client, ttl: ttl}
}

func (r *RedisDedup) MarkSeen(ctx context.Context, txID string) (bool, error) {
	set, err := r.client.SetNX(ctx, "exchange:deposit:txid:"+txID, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !set, nil
}
