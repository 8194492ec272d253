package wsclient

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeConn struct {
	msgs      chan []byte
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs:   make(chan []byte, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-f.msgs:
		return websocket.TextMessage, m, nil
	case err := <-f.errs:
		return 0, nil, err
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c := New(zaptest.NewLogger(t), cfg)
	c.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return c
}

func TestBackoff_StrictlyIncreasingUntilCapThenSuspended(t *testing.T) {
	c := newTestClient(t, Config{BaseDelay: 100 * time.Millisecond, MaxAttempts: 4})

	var (
		mu     sync.Mutex
		delays []time.Duration
		dials  int
	)
	c.dial = func(context.Context) (conn, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return nil, errors.New("connection refused")
	}
	c.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}

	c.Connect(context.Background())
	require.Eventually(t, func() bool { return c.State() == StateSuspended }, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 4, dials, "one dial per attempt up to the cap")
	require.Len(t, delays, 3, "no sleep after the final failed attempt")
	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1], "delays must strictly increase")
	}
	assert.Equal(t, 100*time.Millisecond, delays[0])
	assert.Equal(t, 200*time.Millisecond, delays[1])
	assert.Equal(t, 400*time.Millisecond, delays[2])
	mu.Unlock()

	// Suspended is persistent: a new Connect is refused.
	c.Connect(context.Background())
	assert.Equal(t, StateSuspended, c.State())
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 4, dials)
	mu.Unlock()
}

func TestCleanServerClose_NoRetry(t *testing.T) {
	c := newTestClient(t, Config{BaseDelay: time.Millisecond, MaxAttempts: 3})

	var (
		mu    sync.Mutex
		dials int
	)
	fc := newFakeConn()
	c.dial = func(context.Context) (conn, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return fc, nil
	}

	c.Connect(context.Background())
	require.Eventually(t, func() bool { return c.State() == StateConnected }, time.Second, 5*time.Millisecond)

	fc.errs <- &websocket.CloseError{Code: websocket.CloseNormalClosure}
	require.Eventually(t, func() bool { return c.State() == StateDisconnected }, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, dials, "clean close must not trigger a reconnect")
}

func TestUncleanClose_Reconnects(t *testing.T) {
	c := newTestClient(t, Config{BaseDelay: time.Millisecond, MaxAttempts: 5})

	var (
		mu    sync.Mutex
		conns []*fakeConn
	)
	c.dial = func(context.Context) (conn, error) {
		mu.Lock()
		defer mu.Unlock()
		fc := newFakeConn()
		conns = append(conns, fc)
		return fc, nil
	}
	c.sleep = func(context.Context, time.Duration) error { return nil }

	c.Connect(context.Background())
	require.Eventually(t, func() bool { return c.State() == StateConnected }, time.Second, 5*time.Millisecond)

	mu.Lock()
	first := conns[0]
	mu.Unlock()
	first.errs <- errors.New("broken pipe")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(conns) >= 2 && c.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	c.Close()
}

func TestConnect_ReentrantCallsAreNoOps(t *testing.T) {
	c := newTestClient(t, Config{BaseDelay: time.Millisecond, MaxAttempts: 3})

	var (
		mu    sync.Mutex
		dials int
	)
	fc := newFakeConn()
	c.dial = func(context.Context) (conn, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return fc, nil
	}

	ctx := context.Background()
	c.Connect(ctx)
	c.Connect(ctx)
	c.Connect(ctx)
	require.Eventually(t, func() bool { return c.State() == StateConnected }, time.Second, 5*time.Millisecond)
	c.Connect(ctx)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, dials, "only one connect loop may run")
	c.Close()
}

func TestHandleMessage_DeliveryAndFaultTolerance(t *testing.T) {
	c := newTestClient(t, Config{BaseDelay: time.Millisecond, MaxAttempts: 3})

	fc := newFakeConn()
	c.dial = func(context.Context) (conn, error) { return fc, nil }

	c.Connect(context.Background())
	require.Eventually(t, func() bool { return c.State() == StateConnected }, time.Second, 5*time.Millisecond)

	// Malformed body and unknown type are discarded without killing the session.
	fc.msgs <- []byte(`{not json`)
	fc.msgs <- []byte(`{"type":"promo_banner","data":{"x":1}}`)
	fc.msgs <- []byte(`{"type":"rates_update","data":[{"fromCurrency":"usdt-trc20","toCurrency":"card-mdl","rate":"19.50","timestamp":"2026-05-01T12:00:00Z"}]}`)

	select {
	case snap := <-c.Updates():
		require.Len(t, snap, 1)
		assert.Equal(t, "usdt-trc20", snap[0].From)
		assert.Equal(t, "card-mdl", snap[0].To)
		assert.Equal(t, "19.5", snap[0].Value.String())
	case <-time.After(time.Second):
		t.Fatal("expected a decoded snapshot")
	}
	assert.Equal(t, StateConnected, c.State())
	c.Close()
}

func TestClose_IsCleanAndIdempotentWithConnect(t *testing.T) {
	c := newTestClient(t, Config{BaseDelay: time.Millisecond, MaxAttempts: 3})

	var (
		mu    sync.Mutex
		dials int
	)
	c.dial = func(context.Context) (conn, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return newFakeConn(), nil
	}

	c.Connect(context.Background())
	require.Eventually(t, func() bool { return c.State() == StateConnected }, time.Second, 5*time.Millisecond)
	c.Close()
	assert.Equal(t, StateDisconnected, c.State())

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	n := dials
	mu.Unlock()
	assert.Equal(t, 1, n, "intentional close must not reconnect")

	// The client can be connected again after a clean close.
	c.Connect(context.Background())
	require.Eventually(t, func() bool { return c.State() == StateConnected }, time.Second, 5*time.Millisecond)
	c.Close()
}
