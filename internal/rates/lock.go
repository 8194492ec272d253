package rates

import (
	"time"

	"github.com/crystalmix/exchange-core/internal/domain"
)

// LockManager issues rate locks: snapshots of the current cached rate with
// an expiry stamp. It locks a rate *value*, not a pair — concurrent quote
// requests for the same pair each get an independent snapshot, so unrelated
// customers never contend. The manager keeps no state between calls; the
// only state that must survive lives in the order once created.
type LockManager struct {
	cache *Cache
	now   func() time.Time
}

func NewLockManager(cache *Cache) *LockManager {
	return &LockManager{cache: cache, now: time.Now}
}

// Acquire reads the current rate for pair and returns a lock expiring at
// now + window. Fails with ErrNoRateAvailable when the pair has no cached
// observation. Expiry is checked lazily at order confirmation; no
// background sweeping exists.
func (m *LockManager) Acquire(pair domain.Pair, window time.Duration) (domain.RateLock, error) {
	rate, err := m.cache.Get(pair)
	if err != nil {
		return domain.RateLock{}, err
	}
	now := m.now()
	return domain.RateLock{
		Pair:       pair,
		Rate:       rate.Value,
		AcquiredAt: now,
		ExpiresAt:  now.Add(window),
	}, nil
}
