// Package cache holds short-lived copies of stats snapshots so a room full
// of dashboards polling every two seconds costs one log scan per TTL.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/nicktill/tinytrack/pkg/event"
)

// SnapshotCache stores snapshots keyed by recent limit. A cached snapshot is
// a whole snapshot from one read, never assembled from parts.
type SnapshotCache interface {
	Get(ctx context.Context, recentLimit int) (*event.Snapshot, bool, error)
	Set(ctx context.Context, recentLimit int, snap *event.Snapshot) error
}

// Nop never hits.
type Nop struct{}

func (Nop) Get(context.Context, int) (*event.Snapshot, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, int, *event.Snapshot) error         { return nil }

type entry struct {
	snap    *event.Snapshot
	expires time.Time
}

// Local is an in-process TTL cache for single-instance deployments.
type Local struct {
	ttl   time.Duration
	clock quartz.Clock

	mu      sync.Mutex
	entries map[int]entry
}

// NewLocal creates a Local cache. A nil clock means the real clock.
func NewLocal(ttl time.Duration, clock quartz.Clock) *Local {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Local{ttl: ttl, clock: clock, entries: make(map[int]entry)}
}

func (l *Local) Get(_ context.Context, recentLimit int) (*event.Snapshot, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[recentLimit]
	if !ok {
		return nil, false, nil
	}
	if !l.clock.Now().Before(e.expires) {
		delete(l.entries, recentLimit)
		return nil, false, nil
	}
	return e.snap, true, nil
}

func (l *Local) Set(_ context.Context, recentLimit int, snap *event.Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[recentLimit] = entry{snap: snap, expires: l.clock.Now().Add(l.ttl)}
	return nil
}
