package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tankview/internal/model"
)

const (
	DefaultRetryDelay  = 1000 * time.Millisecond
	DefaultDialTimeout = 5 * time.Second
)

var ErrAlreadyStarted = errors.New("stream already started")

type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

func realAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// Conn is a telemetry stream that reconnects on its own. It owns at most one
// live transport and at most one pending reconnect timer.
type Conn struct {
	mu sync.Mutex

	logger      *slog.Logger
	url         string
	retryDelay  time.Duration
	dialTimeout time.Duration
	dialer      Dialer
	after       afterFunc

	ctx       context.Context
	state     model.ConnectionState
	transport Transport
	retry     timer
	retrySeq  uint64
	gen       uint64
	stopped   bool

	subs subscribers
}

type Option func(*Conn)

func WithRetryDelay(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

func WithDialer(d Dialer) Option {
	return func(c *Conn) {
		if d != nil {
			c.dialer = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewConn(url string, opts ...Option) *Conn {
	c := &Conn{
		logger:      slog.Default(),
		url:         url,
		retryDelay:  DefaultRetryDelay,
		dialTimeout: DefaultDialTimeout,
		after:       realAfterFunc,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = WebSocketDialer{Logger: c.logger}
	}
	return c
}

func (c *Conn) URL() string { return c.url }

func (c *Conn) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn for events of kind. Handlers run on the stream's
// goroutine in registration order and must not block for long.
func (c *Conn) Subscribe(kind EventKind, fn Handler) (unsubscribe func()) {
	return c.subs.add(kind, fn)
}

// Start makes the first connection attempt. Cancelling ctx has the same
// effect as Disconnect.
func (c *Conn) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.ctx != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.ctx = ctx
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.Disconnect()
	}()
	go c.connect()
	return nil
}

// Disconnect closes the live transport and stops reconnecting.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.cancelRetryLocked()
	c.gen++
	t := c.transport
	c.transport = nil
	c.state = model.StateDisconnected
	c.mu.Unlock()

	if t == nil {
		return
	}
	if err := t.Close(); err != nil {
		c.logger.Debug("stream close returned error", "url", c.url, "error", err)
	}
	c.logger.Info("telemetry stream disconnected", "url", c.url)
	c.subs.emit(Event{Kind: EventClosed, URL: c.url, At: time.Now()})
}

func (c *Conn) connect() {
	c.mu.Lock()
	if c.stopped || c.ctx.Err() != nil || c.transport != nil || c.state == model.StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = model.StateConnecting
	c.gen++
	gen := c.gen
	ctx := c.ctx
	c.mu.Unlock()

	c.logger.Info("connecting to telemetry stream", "url", c.url)
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	t, err := c.dialer.Dial(dialCtx, c.url)
	cancel()
	if err != nil {
		c.dropped(gen, fmt.Errorf("connect %s: %w", c.url, err))
		return
	}

	c.mu.Lock()
	if c.stopped || gen != c.gen {
		c.mu.Unlock()
		_ = t.Close()
		return
	}
	c.transport = t
	c.state = model.StateConnected
	c.cancelRetryLocked()
	c.mu.Unlock()

	c.logger.Info("telemetry stream connected", "url", c.url)
	c.subs.emit(Event{Kind: EventOpened, URL: c.url, At: time.Now()})
	go c.readLoop(ctx, gen, t)
}

func (c *Conn) readLoop(ctx context.Context, gen uint64, t Transport) {
	for {
		data, err := t.Read(ctx)
		if err != nil {
			c.dropped(gen, err)
			return
		}
		rec, err := DecodeRecord(data)
		if err != nil {
			c.logger.Warn("dropping telemetry frame", "url", c.url, "error", err, "bytes", len(data))
			continue
		}
		c.subs.emit(Event{Kind: EventMessage, URL: c.url, At: time.Now(), Record: rec})
	}
}

// dropped handles a failed dial or a broken connection of generation gen.
// Stale generations are ignored so that one failure is reported once.
func (c *Conn) dropped(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	t := c.transport
	c.transport = nil
	c.state = model.StateDisconnected
	if !c.stopped {
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	c.logger.Warn("telemetry stream lost", "url", c.url, "error", cause, "retry_in", c.retryDelay)
	c.subs.emit(Event{Kind: EventClosed, URL: c.url, At: time.Now(), Err: cause})
}

// scheduleReconnectLocked arms the reconnect timer unless one is pending.
func (c *Conn) scheduleReconnectLocked() {
	if c.retry != nil {
		return
	}
	c.retrySeq++
	seq := c.retrySeq
	c.retry = c.after(c.retryDelay, func() {
		c.mu.Lock()
		if c.retrySeq != seq || c.retry == nil {
			c.mu.Unlock()
			return
		}
		c.retry = nil
		c.mu.Unlock()
		c.connect()
	})
}

func (c *Conn) cancelRetryLocked() {
	if c.retry == nil {
		return
	}
	c.retry.Stop()
	c.retry = nil
	c.retrySeq++
}
