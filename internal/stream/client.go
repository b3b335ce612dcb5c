// Package stream maintains the single subscription to the aggregate ticker
// feed and fans decoded updates out to registered listeners.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tickerboard/tickerboard-backend/internal/market"
	"github.com/tickerboard/tickerboard-backend/internal/metrics"
	"go.uber.org/zap"
)

const (
	DefaultURL         = "wss://stream.binance.com:9443/ws"
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 30 * time.Second
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "connecting":
		*s = StateConnecting
	case "subscribed":
		*s = StateSubscribed
	case "disconnected":
		*s = StateDisconnected
	default:
		return fmt.Errorf("unknown stream state %q", text)
	}
	return nil
}

// Listener receives every decoded batch of updates, in frame order.
type Listener func(updates []market.TickerUpdate)

// ListenerID identifies a registration for Unregister.
type ListenerID uint64

type Config struct {
	URL string
	// Reconnect redials with exponential backoff after an unexpected close.
	Reconnect   bool
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

type Stats struct {
	State          State `json:"state"`
	Listeners      int   `json:"listeners"`
	Messages       int64 `json:"messages"`
	Updates        int64 `json:"updates"`
	DecodeFailures int64 `json:"decodeFailures"`
	ListenerPanics int64 `json:"listenerPanics"`
	Reconnects     int64 `json:"reconnects"`
}

type registration struct {
	id ListenerID
	fn Listener
}

// Client owns one stream connection. Construct one per process and inject it
// where needed.
type Client struct {
	dialer  Dialer
	cfg     Config
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	mu        sync.Mutex
	state     State
	conn      Conn
	cancel    context.CancelFunc
	listeners []registration
	nextID    ListenerID

	closed         atomic.Bool
	redialing      atomic.Bool
	messages       atomic.Int64
	updates        atomic.Int64
	decodeFailures atomic.Int64
	listenerPanics atomic.Int64
	reconnects     atomic.Int64
}

func NewClient(dialer Dialer, cfg Config, logger *zap.SugaredLogger, m *metrics.Metrics) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		dialer:  dialer,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Register adds a listener and returns its handle.
func (c *Client) Register(l Listener) ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.listeners = append(c.listeners, registration{id: c.nextID, fn: l})
	return c.nextID
}

// Unregister removes a listener. Unknown handles are ignored.
func (c *Client) Unregister(id ListenerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.listeners {
		if r.id == id {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return
		}
	}
}

// Connect dials, sends the subscribe request and starts the read loop. It
// returns once the client is subscribed. Calling it while connected or while
// a redial is in progress is a no-op. ctx bounds the dial only; the
// connection lives until Close. With Reconnect set, a failed dial is
// returned and then retried in the background.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateDisconnected || c.redialing.Load() {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.logger.Infow("Connecting to ticker stream", "url", c.cfg.URL)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		if c.cfg.Reconnect {
			c.connectInBackground()
		}
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		cancel()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.cancel = cancel
	c.state = StateSubscribed
	c.mu.Unlock()

	c.logger.Infow("Subscribed to ticker stream", "stream", AllTickersStream)
	go c.run(runCtx, conn)
	return nil
}

// connectInBackground redials with backoff until subscribed, then runs the
// read loop. Close cancels it.
func (c *Client) connectInBackground() {
	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancel = cancel
	c.redialing.Store(true)
	c.mu.Unlock()

	c.logger.Warnw("Ticker stream unavailable, retrying in background")
	go func() {
		conn, err := c.redial(runCtx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
				c.logger.Errorw("Ticker stream connect abandoned", "error", err)
			}
			return
		}
		c.run(runCtx, conn)
	}()
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	conn, err := c.dialer.Dial(ctx, c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrStream, c.cfg.URL, err)
	}
	if err := conn.WriteJSON(subscribeAllTickers()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: subscribe: %v", ErrStream, err)
	}
	return conn, nil
}

func (c *Client) run(ctx context.Context, conn Conn) {
	for {
		err := c.readLoop(conn)
		if c.closed.Load() || ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.state = StateDisconnected
		c.mu.Unlock()
		conn.Close()

		c.logger.Warnw("Ticker stream disconnected", "error", err, "reconnect", c.cfg.Reconnect)
		if !c.cfg.Reconnect {
			return
		}

		conn, err = c.redial(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
				c.logger.Errorw("Ticker stream reconnect abandoned", "error", err)
			}
			return
		}
	}
}

func (c *Client) readLoop(conn Conn) error {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: read: %v", ErrStream, err)
		}
		c.handle(raw)
	}
}

func (c *Client) redial(ctx context.Context) (Conn, error) {
	c.redialing.Store(true)
	defer c.redialing.Store(false)

	backoff := retry.WithCappedDuration(c.cfg.MaxBackoff, retry.NewExponential(c.cfg.BaseBackoff))

	var conn Conn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if c.closed.Load() {
			return ErrClosed
		}
		c.reconnects.Add(1)
		c.metrics.RecordReconnect(ctx)
		c.setState(StateConnecting)

		cn, err := c.dial(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			c.logger.Warnw("Ticker stream redial failed", "error", err)
			return retry.RetryableError(err)
		}
		conn = cn
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		conn.Close()
		return nil, ErrClosed
	}
	c.conn = conn
	c.state = StateSubscribed
	c.logger.Infow("Resubscribed to ticker stream", "attempts", c.reconnects.Load())
	return conn, nil
}

func (c *Client) handle(raw []byte) {
	if c.closed.Load() {
		return
	}
	ctx := context.Background()

	updates, err := Decode(raw)
	if err != nil {
		c.decodeFailures.Add(1)
		c.metrics.RecordDecodeFailure(ctx)
		c.logger.Warnw("Dropping undecodable stream frame", "error", err, "bytes", len(raw))
		return
	}
	if len(updates) == 0 {
		return
	}
	c.messages.Add(1)
	c.updates.Add(int64(len(updates)))
	c.metrics.RecordStreamMessage(ctx, len(updates))

	c.mu.Lock()
	listeners := make([]registration, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, r := range listeners {
		if c.closed.Load() {
			return
		}
		c.invoke(r, updates)
	}
}

func (c *Client) invoke(r registration, updates []market.TickerUpdate) {
	defer func() {
		if p := recover(); p != nil {
			c.listenerPanics.Add(1)
			c.logger.Errorw("Stream listener panicked", "listener", r.id, "panic", p)
		}
	}()
	r.fn(updates)
}

// Close closes the connection and stops delivery. It is safe to call more
// than once and from inside a listener.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn, cancel := c.conn, c.cancel
	c.conn = nil
	c.cancel = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.logger.Infow("Ticker stream closed")
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Unsubscribe is Close under the name the dashboard uses on teardown.
func (c *Client) Unsubscribe() error {
	return c.Close()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		s = StateDisconnected
	}
	c.state = s
}

func (c *Client) Stats() Stats {
	c.mu.Lock()
	state, listeners := c.state, len(c.listeners)
	c.mu.Unlock()

	return Stats{
		State:          state,
		Listeners:      listeners,
		Messages:       c.messages.Load(),
		Updates:        c.updates.Load(),
		DecodeFailures: c.decodeFailures.Load(),
		ListenerPanics: c.listenerPanics.Load(),
		Reconnects:     c.reconnects.Load(),
	}
}
