// Package rates holds the last-write-wins rate cache and the rate lock
// manager. Settlement correctness never depends on cache recency: an order
// freezes its own snapshot at creation, so the cache needs no versioning or
// staleness detection beyond what the feed provides.
package rates

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/crystalmix/exchange-core/internal/domain"
)

// Cache holds the latest known rate per ordered currency pair. Single
// writer (the feed), many readers. Put always overwrites, never merges.
type Cache struct {
	mu     sync.RWMutex
	rates  map[domain.Pair]domain.Rate
	logger *zap.Logger

	// updated carries a coalesced change signal for the broadcast hub.
	// Buffered with capacity 1 so a burst of feed writes collapses into a
	// single pending rebroadcast.
	updated chan struct{}
}

func NewCache(logger *zap.Logger) *Cache {
	return &Cache{
		rates:   make(map[domain.Pair]domain.Rate),
		logger:  logger,
		updated: make(chan struct{}, 1),
	}
}

// Get returns the most recent observation for pair, or ErrNoRateAvailable.
func (c *Cache) Get(pair domain.Pair) (domain.Rate, error) {
	c.mu.RLock()
	rate, ok := c.rates[pair]
	c.mu.RUnlock()
	if !ok {
		return domain.Rate{}, domain.ErrNoRateAvailable
	}
	return rate, nil
}

// Put overwrites the cached observation for the rate's pair. Invalid rates
// are rejected so a bad feed tick can never poison a quote.
func (c *Cache) Put(rate domain.Rate) error {
	if err := rate.Validate(); err != nil {
		c.logger.Warn("rejecting invalid rate tick", zap.String("pair", rate.Pair.String()), zap.Error(err))
		return err
	}
	c.mu.Lock()
	c.rates[rate.Pair] = rate
	c.mu.Unlock()

	select {
	case c.updated <- struct{}{}:
	default: // a rebroadcast is already pending
	}
	return nil
}

// Snapshot returns a point-in-time copy of every cached rate, ordered by
// pair for deterministic output.
func (c *Cache) Snapshot() []domain.Rate {
	c.mu.RLock()
	out := make([]domain.Rate, 0, len(c.rates))
	for _, r := range c.rates {
		out = append(out, r)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Updated exposes the coalesced change signal consumed by the hub loop.
func (c *Cache) Updated() <-chan struct{} {
	return c.updated
}
