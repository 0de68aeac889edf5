// Package sqlite stores the event log in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/nicktill/tinytrack/pkg/event"
	"github.com/nicktill/tinytrack/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS tracking_events (
	id        TEXT PRIMARY KEY,
	component TEXT NOT NULL,
	variant   TEXT NOT NULL,
	action    TEXT NOT NULL,
	ts        INTEGER NOT NULL,
	metadata  TEXT
);
CREATE INDEX IF NOT EXISTS tracking_events_ts ON tracking_events (ts DESC);
`

// snapshotQuery produces every projection from one statement, which SQLite
// runs against a single read snapshot. Rows are tagged by kind; n is the
// count for facet rows and the rowid (tie-break) for recent rows.
const snapshotQuery = `
SELECT 'total', '', COUNT(*), NULL, NULL, NULL, NULL FROM tracking_events
UNION ALL
SELECT 'component', component, COUNT(*), NULL, NULL, NULL, NULL FROM tracking_events GROUP BY component
UNION ALL
SELECT 'variant', variant, COUNT(*), NULL, NULL, NULL, NULL FROM tracking_events GROUP BY variant
UNION ALL
SELECT 'action', action, COUNT(*), NULL, NULL, NULL, NULL FROM tracking_events GROUP BY action
UNION ALL
SELECT * FROM (
	SELECT 'recent', component, rowid, variant, action, ts, metadata
	FROM tracking_events
	ORDER BY ts DESC, rowid DESC
	LIMIT ?
)`

// Storage implements storage.Storage on SQLite.
type Storage struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time is all SQLite allows anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Write inserts events in one transaction.
func (s *Storage) Write(ctx context.Context, events []event.Persisted) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tracking_events (id, component, variant, action, ts, metadata) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		md, err := encodeMetadata(ev.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, ev.ID, ev.Component, ev.Variant, ev.Action, ev.Timestamp.UnixNano(), md); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write: %w", err)
	}
	return nil
}

// Query returns events newest first.
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]event.Persisted, error) {
	var (
		where []string
		args  []any
	)
	if !req.Start.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, req.Start.UnixNano())
	}
	if !req.End.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, req.End.UnixNano())
	}

	q := `SELECT id, component, variant, action, ts, metadata FROM tracking_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC, rowid DESC LIMIT ?"
	limit := -1
	if req.Limit > 0 {
		limit = req.Limit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var results []event.Persisted
	for rows.Next() {
		var (
			ev event.Persisted
			ts int64
			md sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Component, &ev.Variant, &ev.Action, &ts, &md); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Timestamp = fromNanos(ts)
		if ev.Metadata, err = decodeMetadata(md); err != nil {
			return nil, err
		}
		results = append(results, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return results, nil
}

// Snapshot runs the facet statement.
func (s *Storage) Snapshot(ctx context.Context, recentLimit int) (*event.Snapshot, error) {
	recentLimit = storage.NormalizeRecentLimit(recentLimit)

	rows, err := s.db.QueryContext(ctx, snapshotQuery, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("snapshot query: %w", err)
	}
	defer rows.Close()

	type recentRow struct {
		rowid int64
		ts    int64
		ev    event.Recent
	}
	var recent []recentRow

	snap := event.NewSnapshot()
	for rows.Next() {
		var (
			kind, key       string
			n               int64
			variant, action sql.NullString
			ts              sql.NullInt64
			md              sql.NullString
		)
		if err := rows.Scan(&kind, &key, &n, &variant, &action, &ts, &md); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}

		switch kind {
		case "total":
			snap.TotalEvents = n
		case "component":
			snap.TotalsByComponent[key] = n
		case "variant":
			snap.TotalsByVariant[key] = n
		case "action":
			snap.TotalsByAction[key] = n
		case "recent":
			metadata, err := decodeMetadata(md)
			if err != nil {
				return nil, err
			}
			recent = append(recent, recentRow{
				rowid: n,
				ts:    ts.Int64,
				ev: event.Recent{
					Component: key,
					Variant:   variant.String,
					Action:    action.String,
					Timestamp: fromNanos(ts.Int64),
					Metadata:  metadata,
				},
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot: %w", err)
	}

	// UNION ALL does not promise branch order.
	sort.Slice(recent, func(i, j int) bool {
		if recent[i].ts != recent[j].ts {
			return recent[i].ts > recent[j].ts
		}
		return recent[i].rowid > recent[j].rowid
	})
	for _, r := range recent {
		snap.RecentEvents = append(snap.RecentEvents, r.ev)
	}
	return snap, nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	var count, oldest, newest, pages, pageSize int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MIN(ts), 0), COALESCE(MAX(ts), 0) FROM tracking_events`,
	).Scan(&count, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("stats query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("page size: %w", err)
	}

	stats := &storage.Stats{
		TotalEvents: uint64(count),
		SizeBytes:   uint64(pages * pageSize),
	}
	if count > 0 {
		stats.OldestEvent = fromNanos(oldest)
		stats.NewestEvent = fromNanos(newest)
	}
	return stats, nil
}

// Close closes the SQLite handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func encodeMetadata(md map[string]any) (any, error) {
	if md == nil {
		return nil, nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(md sql.NullString) (map[string]any, error) {
	if !md.Valid || md.String == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(md.String), &out); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return out, nil
}
