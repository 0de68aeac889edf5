package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/tinytrack/pkg/event"
)

// DefaultRecentLimit is used when Snapshot is called with a non-positive limit.
const DefaultRecentLimit = 20

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("storage is closed")

// Storage is the append-only event log.
// Implementations: memory (testing), badger (default), sqlite, postgres.
type Storage interface {
	// Write persists events. Either all of them are stored or none are.
	Write(ctx context.Context, events []event.Persisted) error

	// Query returns stored events, newest first.
	Query(ctx context.Context, req QueryRequest) ([]event.Persisted, error)

	// Snapshot computes totals, the three facets and the recentLimit newest
	// events from one consistent read of the log.
	Snapshot(ctx context.Context, recentLimit int) (*event.Snapshot, error)

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// QueryRequest narrows a Query.
type QueryRequest struct {
	// Time range, inclusive. Zero values leave that side open.
	Start time.Time
	End   time.Time

	// Limit number of results (0 = no limit)
	Limit int
}

// Matches reports whether ts falls inside the request's time range.
func (r QueryRequest) Matches(ts time.Time) bool {
	if !r.Start.IsZero() && ts.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && ts.After(r.End) {
		return false
	}
	return true
}

// Stats provides storage health and usage info
type Stats struct {
	TotalEvents uint64
	SizeBytes   uint64
	OldestEvent time.Time
	NewestEvent time.Time
}

// NormalizeRecentLimit applies the default for non-positive limits.
func NormalizeRecentLimit(n int) int {
	if n <= 0 {
		return DefaultRecentLimit
	}
	return n
}
