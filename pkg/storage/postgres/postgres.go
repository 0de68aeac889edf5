// Package postgres stores the event log in PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nicktill/tinytrack/pkg/event"
	"github.com/nicktill/tinytrack/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS tracking_events (
	seq       BIGSERIAL,
	id        TEXT PRIMARY KEY,
	component TEXT NOT NULL,
	variant   TEXT NOT NULL,
	action    TEXT NOT NULL,
	ts        TIMESTAMPTZ NOT NULL,
	metadata  JSONB
);
CREATE INDEX IF NOT EXISTS tracking_events_ts ON tracking_events (ts DESC, seq DESC);
`

// A single statement reads from one MVCC snapshot, so the facets and the
// recent list always agree. Timestamps travel as epoch microseconds.
const snapshotQuery = `
SELECT
	(SELECT count(*) FROM tracking_events),
	(SELECT coalesce(jsonb_object_agg(component, n), '{}'::jsonb)
		FROM (SELECT component, count(*) AS n FROM tracking_events GROUP BY component) c),
	(SELECT coalesce(jsonb_object_agg(variant, n), '{}'::jsonb)
		FROM (SELECT variant, count(*) AS n FROM tracking_events GROUP BY variant) v),
	(SELECT coalesce(jsonb_object_agg(action, n), '{}'::jsonb)
		FROM (SELECT action, count(*) AS n FROM tracking_events GROUP BY action) a),
	(SELECT coalesce(jsonb_agg(jsonb_build_object(
			'component', component,
			'variant', variant,
			'action', action,
			'ts', (extract(epoch FROM ts) * 1000000)::bigint,
			'metadata', metadata
		) ORDER BY ts DESC, seq DESC), '[]'::jsonb)
		FROM (SELECT * FROM tracking_events ORDER BY ts DESC, seq DESC LIMIT $1) r)
`

// Config holds pool settings.
type Config struct {
	URL string

	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
	MaxConnLifetime time.Duration
	ConnectTimeout  time.Duration
}

// Storage implements storage.Storage on PostgreSQL.
type Storage struct {
	pool *pgxpool.Pool
}

// New connects, pings and creates the schema.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres URL is required")
	}

	config, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		config.MinConns = cfg.MinConns
	}
	if cfg.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.MaxConnLifetime > 0 {
		config.MaxConnLifetime = cfg.MaxConnLifetime
	}
	config.HealthCheckPeriod = time.Minute
	if cfg.ConnectTimeout > 0 {
		config.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Storage{pool: pool}, nil
}

// Write inserts events in one transaction.
func (s *Storage) Write(ctx context.Context, events []event.Persisted) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, ev := range events {
			var md any
			if ev.Metadata != nil {
				md = ev.Metadata
			}
			batch.Queue(
				`INSERT INTO tracking_events (id, component, variant, action, ts, metadata) VALUES ($1, $2, $3, $4, $5, $6)`,
				ev.ID, ev.Component, ev.Variant, ev.Action, ev.Timestamp, md,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert events: %w", err)
		}
		return nil
	})
}

// Query returns events newest first.
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]event.Persisted, error) {
	var start, end *time.Time
	if !req.Start.IsZero() {
		start = &req.Start
	}
	if !req.End.IsZero() {
		end = &req.End
	}
	var limit *int64
	if req.Limit > 0 {
		n := int64(req.Limit)
		limit = &n
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, component, variant, action, ts, metadata
		FROM tracking_events
		WHERE ($1::timestamptz IS NULL OR ts >= $1)
		  AND ($2::timestamptz IS NULL OR ts <= $2)
		ORDER BY ts DESC, seq DESC
		LIMIT $3`, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var results []event.Persisted
	for rows.Next() {
		var (
			ev event.Persisted
			md []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Component, &ev.Variant, &ev.Action, &ev.Timestamp, &md); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Timestamp = ev.Timestamp.UTC()
		if len(md) > 0 {
			if err := json.Unmarshal(md, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		results = append(results, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return results, nil
}

type recentRow struct {
	Component string         `json:"component"`
	Variant   string         `json:"variant"`
	Action    string         `json:"action"`
	TS        int64          `json:"ts"`
	Metadata  map[string]any `json:"metadata"`
}

// Snapshot runs the single aggregate statement.
func (s *Storage) Snapshot(ctx context.Context, recentLimit int) (*event.Snapshot, error) {
	recentLimit = storage.NormalizeRecentLimit(recentLimit)

	var (
		total                       int64
		byComp, byVar, byAct, recent []byte
	)
	err := s.pool.QueryRow(ctx, snapshotQuery, recentLimit).Scan(&total, &byComp, &byVar, &byAct, &recent)
	if err != nil {
		return nil, fmt.Errorf("failed to compute snapshot: %w", err)
	}

	snap := event.NewSnapshot()
	snap.TotalEvents = total
	for _, facet := range []struct {
		raw []byte
		dst *map[string]int64
	}{
		{byComp, &snap.TotalsByComponent},
		{byVar, &snap.TotalsByVariant},
		{byAct, &snap.TotalsByAction},
	} {
		if err := json.Unmarshal(facet.raw, facet.dst); err != nil {
			return nil, fmt.Errorf("failed to decode facet: %w", err)
		}
	}

	var rows []recentRow
	if err := json.Unmarshal(recent, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode recent events: %w", err)
	}
	for _, r := range rows {
		snap.RecentEvents = append(snap.RecentEvents, event.Recent{
			Component: r.Component,
			Variant:   r.Variant,
			Action:    r.Action,
			Timestamp: time.UnixMicro(r.TS).UTC(),
			Metadata:  r.Metadata,
		})
	}
	return snap, nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	var (
		count          int64
		oldest, newest *time.Time
		size           int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT count(*), min(ts), max(ts), pg_total_relation_size('tracking_events')
		FROM tracking_events`).Scan(&count, &oldest, &newest, &size)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	stats := &storage.Stats{
		TotalEvents: uint64(count),
		SizeBytes:   uint64(size),
	}
	if oldest != nil {
		stats.OldestEvent = oldest.UTC()
	}
	if newest != nil {
		stats.NewestEvent = newest.UTC()
	}
	return stats, nil
}

// Truncate removes every event. Used by tests to start from a clean table.
func (s *Storage) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE tracking_events`)
	return err
}

// Close releases the pool.
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}
