package rates

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/crystalmix/exchange-core/internal/domain"
)

func tick(pair domain.Pair, value string) domain.Rate {
	return domain.Rate{Pair: pair, Value: decimal.RequireFromString(value), ObservedAt: time.Now()}
}

func TestCache_GetUnknownPair(t *testing.T) {
	c := NewCache(zaptest.NewLogger(t))
	_, err := c.Get(domain.Pair{From: "btc", To: "card-mdl"})
	assert.ErrorIs(t, err, domain.ErrNoRateAvailable)
}

func TestCache_PutOverwrites(t *testing.T) {
	c := NewCache(zaptest.NewLogger(t))
	pair := domain.Pair{From: "usdt-trc20", To: "card-mdl"}

	require.NoError(t, c.Put(tick(pair, "19.50")))
	require.NoError(t, c.Put(tick(pair, "19.80")))

	got, err := c.Get(pair)
	require.NoError(t, err)
	assert.True(t, got.Value.Equal(decimal.RequireFromString("19.80")))
}

func TestCache_RejectsInvalidRate(t *testing.T) {
	c := NewCache(zaptest.NewLogger(t))
	pair := domain.Pair{From: "usdt-trc20", To: "card-mdl"}
	require.NoError(t, c.Put(tick(pair, "19.50")))

	assert.Error(t, c.Put(tick(pair, "0")))
	assert.Error(t, c.Put(tick(pair, "-3")))

	// The bad ticks must not have clobbered the good value.
	got, err := c.Get(pair)
	require.NoError(t, err)
	assert.True(t, got.Value.Equal(decimal.RequireFromString("19.50")))
}

func TestCache_SnapshotSortedAndDetached(t *testing.T) {
	c := NewCache(zaptest.NewLogger(t))
	require.NoError(t, c.Put(tick(domain.Pair{From: "eth", To: "card-mdl"}, "3100")))
	require.NoError(t, c.Put(tick(domain.Pair{From: "btc", To: "card-mdl"}, "64000")))
	require.NoError(t, c.Put(tick(domain.Pair{From: "btc", To: "usdt-trc20"}, "63900")))

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "btc", snap[0].From)
	assert.Equal(t, "card-mdl", snap[0].To)
	assert.Equal(t, "btc", snap[1].From)
	assert.Equal(t, "usdt-trc20", snap[1].To)
	assert.Equal(t, "eth", snap[2].From)

	// Mutating the cache after snapshotting must not change the copy.
	require.NoError(t, c.Put(tick(domain.Pair{From: "btc", To: "card-mdl"}, "65000")))
	assert.True(t, snap[0].Value.Equal(decimal.RequireFromString("64000")))
}

func TestCache_ConcurrentReadersSingleWriter(t *testing.T) {
	c := NewCache(zaptest.NewLogger(t))
	pair := domain.Pair{From: "usdt-trc20", To: "card-mdl"}
	require.NoError(t, c.Put(tick(pair, "19.50")))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = c.Put(tick(pair, "19.51"))
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := c.Get(pair)
				require.NoError(t, err)
				// Reader sees either the pre- or post-update value, never garbage.
				require.True(t, got.Value.IsPositive())
			}
		}()
	}
	wg.Wait()
}

func TestCache_UpdatedSignalCoalesces(t *testing.T) {
	c := NewCache(zaptest.NewLogger(t))
	pair := domain.Pair{From: "usdt-trc20", To: "card-mdl"}

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Put(tick(pair, "19.50")))
	}

	// A write burst collapses into exactly one pending signal.
	select {
	case <-c.Updated():
	default:
		t.Fatal("expected a pending update signal")
	}
	select {
	case <-c.Updated():
		t.Fatal("expected signal to be coalesced")
	default:
	}
}

func TestLockManager_Acquire(t *testing.T) {
	c := NewCache(zaptest.NewLogger(t))
	pair := domain.Pair{From: "usdt-trc20", To: "card-mdl"}
	require.NoError(t, c.Put(tick(pair, "19.50")))

	m := NewLockManager(c)
	frozen := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return frozen }

	lock, err := m.Acquire(pair, 600*time.Second)
	require.NoError(t, err)
	assert.True(t, lock.Rate.Equal(decimal.RequireFromString("19.50")))
	assert.Equal(t, frozen, lock.AcquiredAt)
	assert.Equal(t, frozen.Add(600*time.Second), lock.ExpiresAt)

	_, err = m.Acquire(domain.Pair{From: "doge", To: "card-mdl"}, time.Minute)
	assert.ErrorIs(t, err, domain.ErrNoRateAvailable)
}

func TestLockManager_IndependentSnapshotsPerRequest(t *testing.T) {
	c := NewCache(zaptest.NewLogger(t))
	pair := domain.Pair{From: "usdt-trc20", To: "card-mdl"}
	m := NewLockManager(c)

	require.NoError(t, c.Put(tick(pair, "19.50")))
	first, err := m.Acquire(pair, time.Minute)
	require.NoError(t, err)

	require.NoError(t, c.Put(tick(pair, "19.80")))
	second, err := m.Acquire(pair, time.Minute)
	require.NoError(t, err)

	// Earlier lock keeps its snapshot; later lock sees the fresh tick.
	assert.True(t, first.Rate.Equal(decimal.RequireFromString("19.50")))
	assert.True(t, second.Rate.Equal(decimal.RequireFromString("19.80")))
}
