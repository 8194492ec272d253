package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/crystalmix/exchange-core/pkg"
)

func TestTransition_AllowedPath(t *testing.T) {
	now := time.Now()
	o := &Order{ID: "ord-1", Status: pkg.OrderStatusAwaitingDeposit, UpdatedAt: now}

	steps := []pkg.OrderStatus{
		pkg.OrderStatusConfirmed,
		pkg.OrderStatusProcessing,
		pkg.OrderStatusCompleted,
	}
	for _, next := range steps {
		stamp := time.Now()
		assert.NoError(t, o.Transition(next, stamp))
		assert.Equal(t, next, o.Status)
		assert.Equal(t, stamp, o.UpdatedAt)
	}
}

func TestTransition_RefundFromAnyNonTerminal(t *testing.T) {
	for _, from := range []pkg.OrderStatus{
		pkg.OrderStatusAwaitingDeposit,
		pkg.OrderStatusConfirmed,
		pkg.OrderStatusProcessing,
	} {
		o := &Order{ID: "ord-1", Status: from}
		assert.NoError(t, o.Transition(pkg.OrderStatusRefunded, time.Now()), "refund from %s", from)
	}
}

func TestTransition_RejectedEdges(t *testing.T) {
	cases := []struct {
		from pkg.OrderStatus
		to   pkg.OrderStatus
	}{
		{pkg.OrderStatusAwaitingDeposit, pkg.OrderStatusProcessing},
		{pkg.OrderStatusAwaitingDeposit, pkg.OrderStatusCompleted},
		{pkg.OrderStatusConfirmed, pkg.OrderStatusAwaitingDeposit}, // no going backward
		{pkg.OrderStatusCompleted, pkg.OrderStatusRefunded},        // terminal
		{pkg.OrderStatusFailed, pkg.OrderStatusConfirmed},          // terminal
		{pkg.OrderStatusRefunded, pkg.OrderStatusFailed},           // terminal
	}
	for _, tc := range cases {
		o := &Order{ID: "ord-1", Status: tc.from}
		err := o.Transition(tc.to, time.Now())
		assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", tc.from, tc.to)

		var te *TransitionError
		assert.True(t, errors.As(err, &te))
		assert.Equal(t, tc.from, te.From)
		assert.Equal(t, tc.to, te.To)
		// State must be untouched after a rejected transition.
		assert.Equal(t, tc.from, o.Status)
	}
}

func TestRateLock_ExpiryBoundary(t *testing.T) {
	acquired := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	window := 600 * time.Second
	lock := RateLock{
		Pair:       Pair{From: "usdt-trc20", To: "card-mdl"},
		Rate:       decimal.RequireFromString("19.50"),
		AcquiredAt: acquired,
		ExpiresAt:  acquired.Add(window),
	}

	assert.False(t, lock.Expired(acquired))
	assert.False(t, lock.Expired(acquired.Add(window-time.Nanosecond)))
	// Exactly T+W counts as expired.
	assert.True(t, lock.Expired(acquired.Add(window)))
	assert.True(t, lock.Expired(acquired.Add(window+time.Second)))
}

func TestRate_Validate(t *testing.T) {
	good := Rate{Pair: Pair{From: "btc", To: "usdt-trc20"}, Value: decimal.NewFromInt(64000)}
	assert.NoError(t, good.Validate())

	zero := Rate{Pair: Pair{From: "btc", To: "usdt-trc20"}}
	assert.Error(t, zero.Validate())

	negative := Rate{Pair: Pair{From: "btc", To: "usdt-trc20"}, Value: decimal.NewFromInt(-1)}
	assert.Error(t, negative.Validate())

	noPair := Rate{Value: decimal.NewFromInt(1)}
	assert.Error(t, noPair.Validate())
}
