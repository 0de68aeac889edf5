package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/nicktill/tinytrack/pkg/event"
	"github.com/nicktill/tinytrack/pkg/storage"
)

// Storage keeps events in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	mu     sync.RWMutex
	events []event.Persisted // ascending by timestamp; ties keep write order
	totals *event.Snapshot   // running facet counts
	closed bool
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		events: make([]event.Persisted, 0, 1024),
		totals: event.NewSnapshot(),
	}
}

// Write stores events in memory
func (s *Storage) Write(ctx context.Context, events []event.Persisted) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	for _, ev := range events {
		// Timestamps are almost always the newest, so the search lands at the end.
		i := sort.Search(len(s.events), func(i int) bool {
			return s.events[i].Timestamp.After(ev.Timestamp)
		})
		s.events = append(s.events, event.Persisted{})
		copy(s.events[i+1:], s.events[i:])
		s.events[i] = ev

		s.totals.Count(ev.Component, ev.Variant, ev.Action)
	}
	return nil
}

// Query returns events newest first
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]event.Persisted, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	var results []event.Persisted
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if !req.Matches(ev.Timestamp) {
			continue
		}
		results = append(results, ev)
		if req.Limit > 0 && len(results) >= req.Limit {
			break
		}
	}
	return results, nil
}

// Snapshot copies the running totals and the newest events under one read lock.
func (s *Storage) Snapshot(ctx context.Context, recentLimit int) (*event.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recentLimit = storage.NormalizeRecentLimit(recentLimit)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	snap := event.NewSnapshot()
	snap.TotalEvents = s.totals.TotalEvents
	copyCounts(snap.TotalsByComponent, s.totals.TotalsByComponent)
	copyCounts(snap.TotalsByVariant, s.totals.TotalsByVariant)
	copyCounts(snap.TotalsByAction, s.totals.TotalsByAction)

	for i := len(s.events) - 1; i >= 0 && len(snap.RecentEvents) < recentLimit; i-- {
		snap.RecentEvents = append(snap.RecentEvents, s.events[i].Project())
	}
	return snap, nil
}

func copyCounts(dst, src map[string]int64) {
	for k, v := range src {
		dst[k] = v
	}
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	stats := &storage.Stats{
		TotalEvents: uint64(len(s.events)),
		// Rough size estimate (each event ~200 bytes)
		SizeBytes: uint64(len(s.events)) * 200,
	}
	if len(s.events) > 0 {
		stats.OldestEvent = s.events[0].Timestamp
		stats.NewestEvent = s.events[len(s.events)-1].Timestamp
	}
	return stats, nil
}

// Close releases the events. Further calls return storage.ErrClosed.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.events = nil
	return nil
}
