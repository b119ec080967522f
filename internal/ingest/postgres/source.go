package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"provider-presence/internal/ingest"
)

const defaultEventTable = "provider_status_events"

// EventSource reads raw provider events from Postgres.
type EventSource struct {
	db    *sql.DB
	table string
}

// SourceOption configures the event source.
type SourceOption func(*EventSource)

// WithTable overrides the default table name.
func WithTable(table string) SourceOption {
	return func(s *EventSource) {
		if table != "" {
			s.table = table
		}
	}
}

// NewEventSource constructs a source with the default table name.
func NewEventSource(db *sql.DB, opts ...SourceOption) *EventSource {
	source := &EventSource{db: db, table: defaultEventTable}
	for _, opt := range opts {
		opt(source)
	}
	return source
}

// LoadRecords returns raw records with event_time in [from, to). Zero bounds
// leave that side of the range open.
func (s *EventSource) LoadRecords(ctx context.Context, from, to time.Time) ([]ingest.RawRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("event source: nil db")
	}

	query := fmt.Sprintf(`
SELECT provider_id, event_time, detail, source
FROM %s
WHERE ($1::timestamp IS NULL OR event_time >= $1)
	AND ($2::timestamp IS NULL OR event_time < $2)
ORDER BY provider_id ASC, event_time ASC`, s.table)

	rows, err := s.db.QueryContext(ctx, query, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ingest.RawRecord
	for rows.Next() {
		var rec ingest.RawRecord
		var detail, source sql.NullString
		if err := rows.Scan(&rec.ProviderID, &rec.EventTime, &detail, &source); err != nil {
			return nil, err
		}
		rec.Detail = detail.String
		rec.Source = source.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
