// Package poller fetches dashboard statistics from the collector on a fixed interval.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/nicktill/tinytrack/pkg/event"
)

// DefaultInterval matches the dashboard refresh rate.
const DefaultInterval = 2 * time.Second

// ErrBusy is returned by Poll while another poll is running.
var ErrBusy = errors.New("poll already in progress")

// Config configures a Poller.
type Config struct {
	Endpoint    string // collector base URL
	Interval    time.Duration
	Timeout     time.Duration // per request, defaults to Interval
	RecentLimit int           // sent as ?recent= when positive
	OnUpdate    func(*event.Snapshot, error)

	HTTPClient *http.Client
	Logger     *zap.Logger
	Clock      quartz.Clock
}

// Poller reads GET /stats. At most one request is outstanding at a time.
type Poller struct {
	cfg     Config
	url     string
	client  *http.Client
	log     *zap.Logger
	clock   quartz.Clock
	polling atomic.Bool

	mu      sync.RWMutex
	last    *event.Snapshot
	lastAt  time.Time
	lastErr error

	loopMu sync.Mutex
	cancel context.CancelFunc
	loop   quartz.Waiter
}

// New creates a poller for the collector at cfg.Endpoint.
func New(cfg Config) (*Poller, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid endpoint %q", cfg.Endpoint)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}

	statsURL := strings.TrimRight(cfg.Endpoint, "/") + "/stats"
	if cfg.RecentLimit > 0 {
		statsURL += "?recent=" + strconv.Itoa(cfg.RecentLimit)
	}

	return &Poller{
		cfg:    cfg,
		url:    statsURL,
		client: cfg.HTTPClient,
		log:    cfg.Logger.Named("poller"),
		clock:  cfg.Clock,
	}, nil
}

// Poll fetches one snapshot. It returns ErrBusy without a request if a poll is running.
func (p *Poller) Poll(ctx context.Context) (*event.Snapshot, error) {
	if !p.polling.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer p.polling.Store(false)

	snap, err := p.fetch(ctx)

	p.mu.Lock()
	p.lastErr = err
	if err == nil {
		p.last = snap
		p.lastAt = p.clock.Now()
	}
	p.mu.Unlock()

	if p.cfg.OnUpdate != nil {
		p.cfg.OnUpdate(snap, err)
	}
	return snap, err
}

func (p *Poller) fetch(ctx context.Context) (*event.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stats request failed with status %d", resp.StatusCode)
	}

	snap := event.NewSnapshot()
	if err := json.NewDecoder(resp.Body).Decode(snap); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	return snap, nil
}

// Start polls once, then every Interval until Stop or ctx is done.
func (p *Poller) Start(ctx context.Context) {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()
	if p.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	tick := func() error {
		if _, err := p.Poll(loopCtx); err != nil && !errors.Is(err, ErrBusy) {
			p.log.Debug("poll failed", zap.Error(err))
		}
		return nil
	}
	_ = tick()
	p.loop = p.clock.TickerFunc(loopCtx, p.cfg.Interval, tick, "pollLoop")
}

// Stop halts the loop and waits for it to exit.
func (p *Poller) Stop() {
	p.loopMu.Lock()
	cancel, loop := p.cancel, p.loop
	p.cancel, p.loop = nil, nil
	p.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	_ = loop.Wait()
}

// Last returns the most recent successful snapshot and when it arrived.
func (p *Poller) Last() (*event.Snapshot, time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.lastAt
}

// Err returns the error from the most recent poll, if any.
func (p *Poller) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}
