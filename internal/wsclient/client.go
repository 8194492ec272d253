// Package wsclient implements the subscriber side of the broadcast hub's
// realtime channel: a websocket client with the reconnection contract the
// hub's at-most-once delivery demands. A single goroutine owns the
// connection state machine and the retry counter, so cancellation and
// duplicate-connect prevention are structural rather than flag-checked.
package wsclient

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/crystalmix/exchange-core/internal/domain"
	"github.com/crystalmix/exchange-core/pkg"
)

// State is the client's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateSuspended is the persistent-disconnect state entered after the
	// retry cap is exhausted. The client never retries out of it on its own.
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Config carries the reconnection policy.
type Config struct {
	URL string
	// BaseDelay seeds the exponential backoff: delay = BaseDelay * 2^attempt.
	BaseDelay time.Duration
	// MaxAttempts caps consecutive failed reconnects before suspending.
	MaxAttempts int
	// UpdateBuffer bounds the delivery channel; stale snapshots are dropped
	// in favor of newer ones when the consumer lags.
	UpdateBuffer int
}

// envelope mirrors the hub's wire frame with the payload left raw until
// the type is known.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client maintains one subscription to the hub, redialing with exponential
// backoff after unclean disconnects. A clean Close never triggers a retry.
type Client struct {
	logger *zap.Logger
	cfg    Config

	// dial is swappable in tests.
	dial func(ctx context.Context) (conn, error)
	// sleep is swappable in tests to observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) error

	state   atomic.Int32
	updates chan []domain.Rate

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// conn is the subset of *websocket.Conn the client uses.
type conn interface {
	ReadMessage() (int, []byte, error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

func New(logger *zap.Logger, cfg Config) *Client {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 6
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 4
	}
	c := &Client{
		logger:  logger,
		cfg:     cfg,
		updates: make(chan []domain.Rate, cfg.UpdateBuffer),
	}
	c.dial = func(ctx context.Context) (conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		wsConn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
		if err != nil {
			return nil, err
		}
		return wsConn, nil
	}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
	return c
}

// Connect starts the connection loop. Reentrant calls while a connect is
// pending or a session is live are no-ops.
func (c *Client) Connect(ctx context.Context) {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(runCtx)
	}()
}

// Close performs a clean, intentional shutdown: the session ends and no
// retry follows.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	c.state.Store(int32(StateDisconnected))
}

// Updates delivers decoded rate snapshots. Each element is a full snapshot
// superseding all earlier ones.
func (c *Client) Updates() <-chan []domain.Rate {
	return c.updates
}

// State reports the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// run owns the retry counter. It dials, pumps one session, and on unclean
// termination backs off and redials until the attempt cap.
func (c *Client) run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			c.state.Store(int32(StateDisconnected))
			return
		}

		wsConn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.state.Store(int32(StateDisconnected))
				return
			}
			delay := c.cfg.BaseDelay << attempt
			attempt++
			if attempt >= c.cfg.MaxAttempts {
				c.logger.Error("giving up after repeated connect failures",
					zap.Int("attempts", attempt), zap.Error(err))
				c.state.Store(int32(StateSuspended))
				return
			}
			c.logger.Warn("connect failed, backing off",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
			if err := c.sleep(ctx, delay); err != nil {
				c.state.Store(int32(StateDisconnected))
				return
			}
			continue
		}

		attempt = 0 // reset on successful connect
		c.state.Store(int32(StateConnected))
		c.logger.Info("subscribed to rate channel")

		clean := c.session(ctx, wsConn)
		if clean {
			c.state.Store(int32(StateDisconnected))
			return
		}
		c.state.Store(int32(StateConnecting))
	}
}

// session reads envelopes until the connection ends. Returns true for a
// clean, intentional termination that must not trigger a retry.
func (c *Client) session(ctx context.Context, wsConn conn) bool {
	defer func() { _ = wsConn.Close() }()

	readErr := make(chan error, 1)
	go func() {
		for {
			_, msg, err := wsConn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			c.handleMessage(msg)
		}
	}()

	select {
	case <-ctx.Done():
		// Intentional close from our side.
		_ = wsConn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return true
	case err := <-readErr:
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.logger.Info("server closed the channel cleanly")
			return true
		}
		c.logger.Warn("connection lost", zap.Error(err))
		return false
	}
}

// handleMessage decodes one envelope. Malformed bodies are logged and
// discarded; they never terminate the connection. Unknown types are
// ignored per the channel contract.
func (c *Client) handleMessage(msg []byte) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		c.logger.Warn("discarding malformed message", zap.Error(err))
		return
	}
	switch env.Type {
	case pkg.MsgTypeRatesUpdate:
		var snapshot []domain.Rate
		if err := json.Unmarshal(env.Data, &snapshot); err != nil {
			c.logger.Warn("discarding malformed rates payload", zap.Error(err))
			return
		}
		select {
		case c.updates <- snapshot:
		default:
			// Consumer is lagging; drop the oldest queued snapshot, the
			// newest one supersedes it anyway.
			select {
			case <-c.updates:
			default:
			}
			select {
			case c.updates <- snapshot:
			default:
			}
		}
	default:
		// ignore
	}
}
