package sdk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/nicktill/tinytrack/pkg/event"
	"github.com/nicktill/tinytrack/pkg/sdk/buffer"
	"github.com/nicktill/tinytrack/pkg/sdk/sanitize"
	"github.com/nicktill/tinytrack/pkg/sdk/transport"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultEndpoint   = "http://localhost:8080"
	DefaultFlushEvery = 2 * time.Second
	DefaultTimeout    = 5 * time.Second

	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second
)

// Config holds configuration for the tracking client.
type Config struct {
	Endpoint     string        // collector base URL; events go to <Endpoint>/events
	APIKey       string        // optional bearer token
	AppID        string        // copied into metadata.__tracking.appId when set
	SessionID    string        // generated when empty
	FlushEvery   time.Duration // periodic flush interval
	MaxQueueSize int           // pending events kept before the oldest is dropped
	Timeout      time.Duration // per delivery call
	Disabled     bool          // kill switch: Track and Flush do nothing

	// DropRejected drops an event the collector refuses with a 4xx other
	// than 408/429 instead of retrying it under backoff.
	DropRejected bool

	Logger    *zap.Logger
	Clock     quartz.Clock
	Transport transport.Transport // defaults to HTTP against Endpoint
}

// Client buffers UI interaction events and delivers them one at a time.
//
// All methods are safe on a nil *Client and do nothing, so code holding a
// handle from FromContext never has to check for one.
type Client struct {
	cfg       Config
	log       *zap.Logger
	clock     quartz.Clock
	transport transport.Transport
	queue     *buffer.Queue

	flushing atomic.Bool

	mu          sync.Mutex
	failures    int
	nextFlushAt time.Time

	loopMu sync.Mutex
	cancel context.CancelFunc
	loop   quartz.Waiter
}

// New creates a client. It does not start the flush loop; call Start.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = DefaultFlushEvery
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = buffer.DefaultCapacity
	}
	if cfg.SessionID == "" {
		cfg.SessionID = NewSessionID()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if cfg.Transport == nil {
		trans, err := transport.NewHTTP(cfg.Endpoint, cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
		cfg.Transport = trans
	}

	return &Client{
		cfg:       cfg,
		log:       cfg.Logger.Named("tinytrack").With(zap.String("session", cfg.SessionID)),
		clock:     cfg.Clock,
		transport: cfg.Transport,
		queue:     buffer.New(cfg.MaxQueueSize),
	}, nil
}

// Track records one interaction. It never blocks on delivery and never fails:
// events that cannot be sanitized or would be rejected are dropped and logged.
func (c *Client) Track(in event.Input) {
	if c == nil || c.cfg.Disabled {
		return
	}

	metadata, err := sanitize.Sanitize(in.Metadata, event.Context{
		SessionID: c.cfg.SessionID,
		AppID:     c.cfg.AppID,
	})
	if err != nil {
		c.log.Warn("dropping event with unserializable metadata",
			zap.String("component", in.Component), zap.Error(err))
		return
	}

	in.Metadata = metadata
	if err := event.Validate(in); err != nil {
		c.log.Warn("dropping invalid event",
			zap.String("component", in.Component), zap.Error(err))
		return
	}

	evicted := c.queue.Push(event.Tracked{
		Component: in.Component,
		Variant:   in.Variant,
		Action:    in.Action,
		Timestamp: event.FormatTimestamp(c.clock.Now()),
		Metadata:  metadata,
	})
	if evicted > 0 {
		c.log.Warn("queue full, dropped oldest event",
			zap.Int("max_queue_size", c.cfg.MaxQueueSize),
			zap.Uint64("dropped_total", c.queue.Dropped()))
	}
}

// Flush attempts to deliver pending events now. It returns once the attempt
// is over, whatever the outcome. Cancelling ctx stops the drain between events;
// a call already on the wire completes under its own timeout.
func (c *Client) Flush(ctx context.Context) {
	if c == nil {
		return
	}
	_ = c.flush(ctx)
}

// Start begins the periodic flush loop. Calling it again while running is a no-op.
func (c *Client) Start(ctx context.Context) {
	if c == nil || c.cfg.Disabled {
		return
	}

	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.loop = c.clock.TickerFunc(loopCtx, c.cfg.FlushEvery, func() error {
		out := c.flush(loopCtx)
		if out.reason == stopFailed {
			c.log.Debug("flush stopped on delivery failure",
				zap.Int("sent", out.sent), zap.Error(out.err))
		}
		return nil
	}, "flushLoop")
}

// Stop halts the flush loop and waits for it to exit. Pending events stay queued.
func (c *Client) Stop() {
	if c == nil {
		return
	}

	c.loopMu.Lock()
	cancel, loop := c.cancel, c.loop
	c.cancel, c.loop = nil, nil
	c.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if err := loop.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Debug("flush loop exited", zap.Error(err))
	}
}

// SessionID returns the session identifier stamped on every event.
func (c *Client) SessionID() string {
	if c == nil {
		return ""
	}
	return c.cfg.SessionID
}

// Status is a point-in-time view of the client's delivery state.
type Status struct {
	Enabled     bool
	SessionID   string
	Pending     int
	Dropped     uint64
	Failures    int
	NextFlushAt time.Time // zero when no cooldown is active
	Flushing    bool
}

// Status reports the current delivery state.
func (c *Client) Status() Status {
	if c == nil {
		return Status{}
	}

	c.mu.Lock()
	failures, next := c.failures, c.nextFlushAt
	c.mu.Unlock()

	return Status{
		Enabled:     !c.cfg.Disabled,
		SessionID:   c.cfg.SessionID,
		Pending:     c.queue.Len(),
		Dropped:     c.queue.Dropped(),
		Failures:    failures,
		NextFlushAt: next,
		Flushing:    c.flushing.Load(),
	}
}
