package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"provider-presence/internal/presence/domain/run"
	"provider-presence/internal/presence/domain/timeline"
)

const (
	defaultAggregateTable = "provider_online_seconds"
	defaultRunTable       = "presence_runs"
)

// Repository is a Postgres implementation of run.Repository.
type Repository struct {
	db             *sql.DB
	aggregateTable string
	runTable       string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*Repository)

// WithAggregateTable overrides the bucket aggregate table name.
func WithAggregateTable(table string) RepositoryOption {
	return func(r *Repository) {
		if table != "" {
			r.aggregateTable = table
		}
	}
}

// WithRunTable overrides the run table name.
func WithRunTable(table string) RepositoryOption {
	return func(r *Repository) {
		if table != "" {
			r.runTable = table
		}
	}
}

// NewRepository constructs a repository using the default table names.
func NewRepository(db *sql.DB, opts ...RepositoryOption) *Repository {
	repo := &Repository{
		db:             db,
		aggregateTable: defaultAggregateTable,
		runTable:       defaultRunTable,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// SaveRun stores the run record and upserts its rows in one transaction.
func (r *Repository) SaveRun(ctx context.Context, record run.Record, rows []timeline.BucketAggregate) error {
	if r == nil || r.db == nil {
		return errors.New("presence repo: nil db")
	}
	if err := record.Validate(); err != nil {
		return err
	}
	preprocess, err := json.Marshal(record.Preprocess)
	if err != nil {
		return fmt.Errorf("presence repo: encode stats: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	id, started_at, finished_at, row_count, total_seconds_online, online_buckets, dropped_events, preprocess
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (id) DO NOTHING`, r.runTable),
		record.ID,
		record.StartedAt.UTC(),
		record.FinishedAt.UTC(),
		record.Summary.Rows,
		record.Summary.TotalSecondsOnline,
		record.Summary.OnlineBuckets,
		record.DroppedEvents,
		preprocess,
	)
	if err != nil {
		return fmt.Errorf("presence repo: insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	provider_id, date, hour_start, hour_end, seconds_online, run_id, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, NOW()
)
ON CONFLICT (provider_id, date, hour_start)
DO UPDATE SET
	hour_end = EXCLUDED.hour_end,
	seconds_online = EXCLUDED.seconds_online,
	run_id = EXCLUDED.run_id,
	updated_at = NOW()`, r.aggregateTable))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.ProviderID, row.Date, row.HourStart, row.HourEnd, row.SecondsOnline, record.ID); err != nil {
			return fmt.Errorf("presence repo: upsert %s %s hour %d: %w", row.ProviderID, row.Date.Format(time.DateOnly), row.HourStart, err)
		}
	}
	return tx.Commit()
}

// ListAggregates lists stored rows inside the query range.
func (r *Repository) ListAggregates(ctx context.Context, query run.Query) ([]timeline.BucketAggregate, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("presence repo: nil db")
	}
	if err := query.Validate(); err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(`
SELECT provider_id, date, hour_start, hour_end, seconds_online
FROM %s
WHERE date >= $1
	AND date < $2
	AND ($3 = '' OR provider_id = $3)
ORDER BY provider_id ASC, date ASC, hour_start ASC`, r.aggregateTable)

	rows, err := r.db.QueryContext(ctx, stmt, query.From, query.To, query.ProviderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []timeline.BucketAggregate
	for rows.Next() {
		var row timeline.BucketAggregate
		if err := rows.Scan(&row.ProviderID, &row.Date, &row.HourStart, &row.HourEnd, &row.SecondsOnline); err != nil {
			return nil, err
		}
		row.Date = timeline.DayOf(row.Date)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// LatestRun returns the run with the newest finish time.
func (r *Repository) LatestRun(ctx context.Context) (*run.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("presence repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT id, started_at, finished_at, row_count, total_seconds_online, online_buckets, dropped_events, preprocess
FROM %s
ORDER BY finished_at DESC
LIMIT 1`, r.runTable))

	var (
		record     run.Record
		preprocess []byte
	)
	err := row.Scan(
		&record.ID,
		&record.StartedAt,
		&record.FinishedAt,
		&record.Summary.Rows,
		&record.Summary.TotalSecondsOnline,
		&record.Summary.OnlineBuckets,
		&record.DroppedEvents,
		&preprocess,
	)
	if err == sql.ErrNoRows {
		return nil, run.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(preprocess) > 0 {
		if err := json.Unmarshal(preprocess, &record.Preprocess); err != nil {
			return nil, fmt.Errorf("presence repo: decode stats: %w", err)
		}
	}
	return &record, nil
}
