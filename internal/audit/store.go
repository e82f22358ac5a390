// Package audit provides PostgreSQL-backed history of cleanup runs.
// The key-value store keeps only a short rolling window of run reports;
// this table is the durable record for operational review. The store is
// optional — a nil *Store drops writes silently.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store persists cleanup run history in PostgreSQL.
type Store struct {
	db *sql.DB
}

// CleanupRun is one recorded cleanup invocation.
type CleanupRun struct {
	ID              int64
	StartedAt       time.Time
	Duration        time.Duration
	DeletedCount    int
	ScannedCount    int
	RateLimitsSwept int
	DryRun          bool
	Trigger         string // "cron", "manual", "sweeper"
}

// Open connects to PostgreSQL, verifies the connection, and applies
// pending schema migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// RecordRun inserts one cleanup run row. A nil store is a no-op.
func (s *Store) RecordRun(ctx context.Context, run CleanupRun) error {
	if s == nil {
		return nil
	}

	const query = `
		INSERT INTO cleanup_runs (started_at, duration_ms, deleted_count, scanned_count, rate_limits_swept, dry_run, trigger_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		run.StartedAt,
		run.Duration.Milliseconds(),
		run.DeletedCount,
		run.ScannedCount,
		run.RateLimitsSwept,
		run.DryRun,
		run.Trigger,
	)
	if err != nil {
		return fmt.Errorf("audit: insert run: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]CleanupRun, error) {
	if s == nil {
		return nil, nil
	}

	const query = `
		SELECT id, started_at, duration_ms, deleted_count, scanned_count, rate_limits_swept, dry_run, trigger_source
		FROM cleanup_runs
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query runs: %w", err)
	}
	defer rows.Close()

	var runs []CleanupRun
	for rows.Next() {
		var run CleanupRun
		var durationMs int64
		if err := rows.Scan(&run.ID, &run.StartedAt, &durationMs, &run.DeletedCount,
			&run.ScannedCount, &run.RateLimitsSwept, &run.DryRun, &run.Trigger); err != nil {
			return nil, fmt.Errorf("audit: scan run: %w", err)
		}
		run.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the database handle. Safe on a nil store.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
