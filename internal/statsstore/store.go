// Package statsstore persists stats windows in SQLite so counters survive
// restarts. Only aggregate numbers are stored.
package statsstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"imgshift/internal/imageformat"
	"imgshift/internal/stats"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Store reads and writes stats snapshots.
type Store struct {
	db   *sql.DB
	path string
}

// Open connects to the database at path, creating it and its schema if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure state dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to reset stats)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Save replaces the stored snapshot with windows in one transaction.
func (s *Store) Save(ctx context.Context, windows []stats.Window) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, w := range windows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stats_windows (kind, period_key, images_count, bytes_in, bytes_out, total_latency_ns, latency_count, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT (kind, period_key) DO UPDATE SET
                images_count = excluded.images_count,
                bytes_in = excluded.bytes_in,
                bytes_out = excluded.bytes_out,
                total_latency_ns = excluded.total_latency_ns,
                latency_count = excluded.latency_count,
                updated_at = excluded.updated_at`,
			w.Kind, w.PeriodKey, w.ImagesCount, w.BytesIn, w.BytesOut, int64(w.TotalLatency), w.LatencyCount, now,
		); err != nil {
			return fmt.Errorf("upsert window %s/%s: %w", w.Kind, w.PeriodKey, err)
		}
		for format, count := range w.Histogram {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO stats_histogram (kind, period_key, format, count) VALUES (?, ?, ?, ?)
                 ON CONFLICT (kind, period_key, format) DO UPDATE SET count = excluded.count`,
				w.Kind, w.PeriodKey, string(format), count,
			); err != nil {
				return fmt.Errorf("upsert histogram %s/%s/%s: %w", w.Kind, w.PeriodKey, format, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Load returns every stored window.
func (s *Store) Load(ctx context.Context) ([]stats.Window, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, period_key, images_count, bytes_in, bytes_out, total_latency_ns, latency_count
         FROM stats_windows ORDER BY kind, period_key`)
	if err != nil {
		return nil, fmt.Errorf("query windows: %w", err)
	}
	defer rows.Close()

	type key struct{ kind, period string }
	index := make(map[key]int)
	var windows []stats.Window
	for rows.Next() {
		var w stats.Window
		var latency int64
		if err := rows.Scan(&w.Kind, &w.PeriodKey, &w.ImagesCount, &w.BytesIn, &w.BytesOut, &latency, &w.LatencyCount); err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		w.TotalLatency = time.Duration(latency)
		w.Histogram = make(map[imageformat.Format]int64)
		index[key{w.Kind, w.PeriodKey}] = len(windows)
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate windows: %w", err)
	}

	hrows, err := s.db.QueryContext(ctx, `SELECT kind, period_key, format, count FROM stats_histogram`)
	if err != nil {
		return nil, fmt.Errorf("query histogram: %w", err)
	}
	defer hrows.Close()
	for hrows.Next() {
		var kind, period, format string
		var count int64
		if err := hrows.Scan(&kind, &period, &format, &count); err != nil {
			return nil, fmt.Errorf("scan histogram: %w", err)
		}
		if i, ok := index[key{kind, period}]; ok {
			windows[i].Histogram[imageformat.Format(format)] = count
		}
	}
	if err := hrows.Err(); err != nil {
		return nil, fmt.Errorf("iterate histogram: %w", err)
	}
	return windows, nil
}
