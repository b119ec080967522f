// Package sqlite stores run records and bucket aggregates in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"provider-presence/internal/presence/domain/run"
	"provider-presence/internal/presence/domain/timeline"

	_ "modernc.org/sqlite"
)

// Dates and timestamps are stored as text so SQLite's own date functions
// and plain string ordering both work on them.
const (
	dateLayout      = time.DateOnly
	timestampLayout = "2006-01-02 15:04:05.000000000"
)

// Repository is a SQLite implementation of run.Repository.
type Repository struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database file and its schema.
func Open(ctx context.Context, path string) (*Repository, error) {
	if path == "" {
		return nil, errors.New("sqlite repo: empty path")
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("sqlite repo: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite repo: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite repo: connect: %w", err)
	}

	repo := &Repository{db: db, path: path}
	if err := repo.configure(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := repo.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Path returns the database file path.
func (r *Repository) Path() string {
	return r.path
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) configure(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := r.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("sqlite repo: %s: %w", pragma, err)
		}
	}
	return nil
}

func (r *Repository) createSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS presence_runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			row_count INTEGER NOT NULL,
			total_seconds_online REAL NOT NULL,
			online_buckets INTEGER NOT NULL,
			dropped_events INTEGER NOT NULL,
			preprocess TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS presence_runs_finished_idx ON presence_runs (finished_at)`,
		`CREATE TABLE IF NOT EXISTS provider_online_seconds (
			provider_id TEXT NOT NULL,
			date TEXT NOT NULL,
			hour_start INTEGER NOT NULL,
			hour_end INTEGER NOT NULL,
			seconds_online REAL NOT NULL,
			run_id TEXT NOT NULL,
			PRIMARY KEY (provider_id, date, hour_start)
		)`,
	}
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite repo: create schema: %w", err)
		}
	}
	return nil
}

// SaveRun stores the run record and upserts its rows in one transaction.
func (r *Repository) SaveRun(ctx context.Context, record run.Record, rows []timeline.BucketAggregate) error {
	if err := record.Validate(); err != nil {
		return err
	}
	preprocess, err := json.Marshal(record.Preprocess)
	if err != nil {
		return fmt.Errorf("sqlite repo: encode stats: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT OR IGNORE INTO presence_runs (
	id, started_at, finished_at, row_count, total_seconds_online, online_buckets, dropped_events, preprocess
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.StartedAt.UTC().Format(timestampLayout),
		record.FinishedAt.UTC().Format(timestampLayout),
		record.Summary.Rows,
		record.Summary.TotalSecondsOnline,
		record.Summary.OnlineBuckets,
		record.DroppedEvents,
		string(preprocess),
	)
	if err != nil {
		return fmt.Errorf("sqlite repo: insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO provider_online_seconds (
	provider_id, date, hour_start, hour_end, seconds_online, run_id
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (provider_id, date, hour_start)
DO UPDATE SET
	hour_end = excluded.hour_end,
	seconds_online = excluded.seconds_online,
	run_id = excluded.run_id`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		date := row.Date.Format(dateLayout)
		if _, err := stmt.ExecContext(ctx, row.ProviderID, date, row.HourStart, row.HourEnd, row.SecondsOnline, record.ID); err != nil {
			return fmt.Errorf("sqlite repo: upsert %s %s hour %d: %w", row.ProviderID, date, row.HourStart, err)
		}
	}
	return tx.Commit()
}

// ListAggregates lists stored rows inside the query range.
func (r *Repository) ListAggregates(ctx context.Context, query run.Query) ([]timeline.BucketAggregate, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT provider_id, date, hour_start, hour_end, seconds_online
FROM provider_online_seconds
WHERE date >= ? AND date < ? AND (? = '' OR provider_id = ?)
ORDER BY provider_id ASC, date ASC, hour_start ASC`,
		query.From.Format(dateLayout), query.To.Format(dateLayout), query.ProviderID, query.ProviderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []timeline.BucketAggregate
	for rows.Next() {
		var (
			row  timeline.BucketAggregate
			date string
		)
		if err := rows.Scan(&row.ProviderID, &date, &row.HourStart, &row.HourEnd, &row.SecondsOnline); err != nil {
			return nil, err
		}
		row.Date, err = time.ParseInLocation(dateLayout, date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("sqlite repo: parse date %q: %w", date, err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// LatestRun returns the run with the newest finish time.
func (r *Repository) LatestRun(ctx context.Context) (*run.Record, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, started_at, finished_at, row_count, total_seconds_online, online_buckets, dropped_events, preprocess
FROM presence_runs
ORDER BY finished_at DESC
LIMIT 1`)

	var (
		record                run.Record
		startedAt, finishedAt string
		preprocess            string
	)
	err := row.Scan(
		&record.ID,
		&startedAt,
		&finishedAt,
		&record.Summary.Rows,
		&record.Summary.TotalSecondsOnline,
		&record.Summary.OnlineBuckets,
		&record.DroppedEvents,
		&preprocess,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, run.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if record.StartedAt, err = time.ParseInLocation(timestampLayout, startedAt, time.UTC); err != nil {
		return nil, fmt.Errorf("sqlite repo: parse started_at: %w", err)
	}
	if record.FinishedAt, err = time.ParseInLocation(timestampLayout, finishedAt, time.UTC); err != nil {
		return nil, fmt.Errorf("sqlite repo: parse finished_at: %w", err)
	}
	if err := json.Unmarshal([]byte(preprocess), &record.Preprocess); err != nil {
		return nil, fmt.Errorf("sqlite repo: decode stats: %w", err)
	}
	return &record, nil
}
