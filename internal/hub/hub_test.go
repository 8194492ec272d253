package hub

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/crystalmix/exchange-core/internal/domain"
	"github.com/crystalmix/exchange-core/internal/rates"
	"github.com/crystalmix/exchange-core/pkg"
)

func snapshot(value string) []domain.Rate {
	return []domain.Rate{{
		Pair:       domain.Pair{From: "usdt-trc20", To: "card-mdl"},
		Value:      decimal.RequireFromString(value),
		ObservedAt: time.Now(),
	}}
}

func newHub(t *testing.T) *Hub {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return New(logger, rates.NewCache(logger))
}

func TestBroadcast_ZeroSubscribersIsSafe(t *testing.T) {
	h := newHub(t)
	assert.NotPanics(t, func() { h.Broadcast(snapshot("19.50")) })
}

func TestBroadcast_EachSubscriberGetsExactlyOneMessage(t *testing.T) {
	h := newHub(t)
	subs := []*Subscriber{h.Subscribe(), h.Subscribe(), h.Subscribe()}

	h.Broadcast(snapshot("19.50"))

	for i, sub := range subs {
		select {
		case env := <-sub.C():
			assert.Equal(t, pkg.MsgTypeRatesUpdate, env.Type)
			rates, ok := env.Data.([]domain.Rate)
			require.True(t, ok)
			require.Len(t, rates, 1)
			assert.True(t, rates[0].Value.Equal(decimal.RequireFromString("19.50")))
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
		// Exactly one: nothing further is queued.
		select {
		case env := <-sub.C():
			t.Fatalf("subscriber %d received an extra message: %+v", i, env)
		default:
		}
	}
}

func TestUnsubscribe_StopsDeliveryAndClosesChannel(t *testing.T) {
	h := newHub(t)
	sub := h.Subscribe()
	h.Unsubscribe(sub)

	h.Broadcast(snapshot("19.50"))

	_, ok := <-sub.C()
	assert.False(t, ok, "channel must be closed after unsubscribe")

	assert.NotPanics(t, func() { h.Unsubscribe(sub) })
}

func TestBroadcast_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := newHub(t)
	slow := h.Subscribe() // never drained
	healthy := h.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+10; i++ {
			h.Broadcast(snapshot("19.50"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}

	// The healthy subscriber got a full buffer before drops set in.
	received := 0
	for {
		select {
		case <-healthy.C():
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, subscriberBuffer, received)
	_ = slow
}

func TestSubscribe_GetsCurrentSnapshotImmediately(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cache := rates.NewCache(logger)
	require.NoError(t, cache.Put(domain.Rate{
		Pair:       domain.Pair{From: "usdt-trc20", To: "card-mdl"},
		Value:      decimal.RequireFromString("19.50"),
		ObservedAt: time.Now(),
	}))
	h := New(logger, cache)

	sub := h.Subscribe()
	select {
	case env := <-sub.C():
		assert.Equal(t, pkg.MsgTypeRatesUpdate, env.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an initial snapshot on subscribe")
	}
}
