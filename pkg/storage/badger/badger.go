package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/tinytrack/pkg/event"
	"github.com/nicktill/tinytrack/pkg/storage"
)

const keyLen = 16

// Storage implements storage.Storage using BadgerDB (LSM tree).
//
// Keys are [timestamp ns (8 bytes BE)][xxhash(id) (8 bytes)], so iteration order
// is time order and a reverse iterator yields the newest events first.
type Storage struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = 48 MB laptop default)
	MaxMemoryMB int64
}

// record is the stored value. The timestamp lives in the key.
type record struct {
	ID        string          `json:"id"`
	Component string          `json:"c"`
	Variant   string          `json:"v"`
	Action    string          `json:"a"`
	Metadata  json.RawMessage `json:"m,omitempty"`
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Badger defaults to ~320 MB of memtables alone. A third of the budget goes
	// to the memtable, the rest is split between block and index caches.
	memTableSize := int64(16 << 20)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB << 20 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// withContext runs fn on its own goroutine so a stuck transaction cannot
// outlive the caller's deadline.
func withContext(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

// Write stores events in one transaction. If ctx expires while the commit is
// in flight the call returns an error but the commit may still land.
func (s *Storage) Write(ctx context.Context, events []event.Persisted) error {
	entries := make([]*badger.Entry, 0, len(events))
	for _, ev := range events {
		value, err := encode(ev)
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		entries = append(entries, badger.NewEntry(makeKey(ev.Timestamp, ev.ID), value))
	}

	return withContext(ctx, "write", func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			for _, e := range entries {
				if err := txn.SetEntry(e); err != nil {
					return fmt.Errorf("failed to write event: %w", err)
				}
			}
			return nil
		})
	})
}

// Query returns events newest first.
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]event.Persisted, error) {
	var results []event.Persisted

	err := withContext(ctx, "query", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			it := newReverseIterator(txn, true)
			defer it.Close()

			if req.End.IsZero() {
				it.Rewind()
			} else {
				// last key at or before End
				seek := makeKey(req.End, "")
				binary.BigEndian.PutUint64(seek[8:], math.MaxUint64)
				it.Seek(seek)
			}

			for ; it.Valid(); it.Next() {
				if len(results)%1000 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}

				item := it.Item()
				ts := parseKey(item.Key())
				if !req.Start.IsZero() && ts.Before(req.Start) {
					break
				}

				var ev event.Persisted
				if err := item.Value(func(val []byte) error {
					var err error
					ev, err = decode(val, ts)
					return err
				}); err != nil {
					return err
				}

				results = append(results, ev)
				if req.Limit > 0 && len(results) >= req.Limit {
					break
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Snapshot walks the log once inside a single read transaction.
func (s *Storage) Snapshot(ctx context.Context, recentLimit int) (*event.Snapshot, error) {
	recentLimit = storage.NormalizeRecentLimit(recentLimit)
	snap := event.NewSnapshot()

	err := withContext(ctx, "snapshot", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			it := newReverseIterator(txn, true)
			defer it.Close()

			var n int
			for it.Rewind(); it.Valid(); it.Next() {
				n++
				if n%1000 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}

				item := it.Item()
				err := item.Value(func(val []byte) error {
					var r record
					if err := json.Unmarshal(val, &r); err != nil {
						return fmt.Errorf("failed to decode event: %w", err)
					}
					snap.Count(r.Component, r.Variant, r.Action)

					if len(snap.RecentEvents) < recentLimit {
						ev, err := r.persisted(parseKey(item.Key()))
						if err != nil {
							return err
						}
						snap.RecentEvents = append(snap.RecentEvents, ev.Project())
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}

	err := withContext(ctx, "stats", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				ts := parseKey(it.Item().Key())
				if stats.TotalEvents == 0 {
					stats.OldestEvent = ts
				}
				stats.NewestEvent = ts
				stats.TotalEvents++

				if stats.TotalEvents%1000 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

// RunGC runs BadgerDB's value log garbage collection.
// Returns badger.ErrNoRewrite when there was nothing to reclaim.
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

func newReverseIterator(txn *badger.Txn, values bool) *badger.Iterator {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = values
	opts.PrefetchSize = 100
	return txn.NewIterator(opts)
}

func makeKey(ts time.Time, id string) []byte {
	key := make([]byte, keyLen)
	binary.BigEndian.PutUint64(key[0:8], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint64(key[8:16], xxhash.Sum64String(id))
	return key
}

func parseKey(key []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[0:8]))).UTC()
}

func encode(ev event.Persisted) ([]byte, error) {
	r := record{
		ID:        ev.ID,
		Component: ev.Component,
		Variant:   ev.Variant,
		Action:    ev.Action,
	}
	if ev.Metadata != nil {
		md, err := json.Marshal(ev.Metadata)
		if err != nil {
			return nil, err
		}
		r.Metadata = md
	}
	return json.Marshal(r)
}

func decode(val []byte, ts time.Time) (event.Persisted, error) {
	var r record
	if err := json.Unmarshal(val, &r); err != nil {
		return event.Persisted{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return r.persisted(ts)
}

func (r record) persisted(ts time.Time) (event.Persisted, error) {
	ev := event.Persisted{
		ID:        r.ID,
		Component: r.Component,
		Variant:   r.Variant,
		Action:    r.Action,
		Timestamp: ts,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &ev.Metadata); err != nil {
			return event.Persisted{}, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return ev, nil
}
