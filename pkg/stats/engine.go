// Package stats computes the dashboard snapshot: total events, counts per
// component, variant and action, and the newest events, all from one read.
//
// The server puts a short-lived cache in front of the store
// (TINYTRACK_STATS_CACHE_TTL, 1s by default). Dashboards polling within the
// TTL share one snapshot and see new events once it expires. A TTL of 0
// disables the cache.
package stats

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tinytrack/pkg/cache"
	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/event"
	"github.com/nicktill/tinytrack/pkg/storage"
)

// Sources passed to Recorder.
const (
	SourceStore = "store"
	SourceCache = "cache"
)

// Recorder observes how long each Compute took and where the snapshot came from.
type Recorder interface {
	ObserveStats(d time.Duration, source string)
}

// Engine answers stats requests from a storage backend, optionally through a cache.
type Engine struct {
	store    storage.Storage
	cache    cache.SnapshotCache
	log      *zap.Logger
	recorder Recorder
}

// NewEngine creates an engine reading from store.
func NewEngine(store storage.Storage, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store: store,
		cache: cache.Nop{},
		log:   log.Named("stats"),
	}
}

// SetCache puts c in front of the store.
func (e *Engine) SetCache(c cache.SnapshotCache) { e.cache = c }

// SetRecorder reports timings to r.
func (e *Engine) SetRecorder(r Recorder) { e.recorder = r }

// ClampRecentLimit maps non-positive limits to the default and caps the rest.
func ClampRecentLimit(n int) int {
	switch {
	case n <= 0:
		return config.DefaultRecentLimit
	case n > config.MaxRecentLimit:
		return config.MaxRecentLimit
	default:
		return n
	}
}

// Compute returns the snapshot for recentLimit (see ClampRecentLimit).
// Cache failures are logged and the store is read instead.
func (e *Engine) Compute(ctx context.Context, recentLimit int) (*event.Snapshot, error) {
	start := time.Now()
	n := ClampRecentLimit(recentLimit)

	snap, ok, err := e.cache.Get(ctx, n)
	if err != nil {
		e.log.Debug("stats cache get failed", zap.Error(err))
	}
	if ok {
		e.observe(start, SourceCache)
		return snap, nil
	}

	snap, err = e.store.Snapshot(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("compute snapshot: %w", err)
	}
	if err := e.cache.Set(ctx, n, snap); err != nil {
		e.log.Debug("stats cache set failed", zap.Error(err))
	}
	e.observe(start, SourceStore)
	return snap, nil
}

func (e *Engine) observe(start time.Time, source string) {
	if e.recorder != nil {
		e.recorder.ObserveStats(time.Since(start), source)
	}
}
