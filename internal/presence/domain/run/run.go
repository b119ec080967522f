package run

import (
	"context"
	"errors"
	"time"

	"provider-presence/internal/ingest"
	"provider-presence/internal/presence/domain/timeline"
)

var (
	// ErrNotFound is returned when no run has been stored.
	ErrNotFound = errors.New("run: not found")
	// ErrEmptyID is returned when a run has no id.
	ErrEmptyID = errors.New("run: empty id")
	// ErrInvalidQuery is returned for an aggregate query without a usable range.
	ErrInvalidQuery = errors.New("run: invalid query")
)

// Record describes one completed engine run.
type Record struct {
	ID            string           `json:"id"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	Summary       timeline.Summary `json:"summary"`
	Preprocess    ingest.Stats     `json:"preprocess"`
	DroppedEvents int              `json:"dropped_events"`
}

// Validate checks the fields every store relies on.
func (r Record) Validate() error {
	if r.ID == "" {
		return ErrEmptyID
	}
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return errors.New("run: missing timestamps")
	}
	return nil
}

// Query selects stored bucket aggregates. Dates are matched in [From, To);
// an empty ProviderID selects every provider.
type Query struct {
	ProviderID string
	From       time.Time
	To         time.Time
}

// Validate checks the date range.
func (q Query) Validate() error {
	if q.From.IsZero() || q.To.IsZero() || !q.To.After(q.From) {
		return ErrInvalidQuery
	}
	return nil
}

// Matches reports whether a row falls inside the query.
func (q Query) Matches(row timeline.BucketAggregate) bool {
	if q.ProviderID != "" && row.ProviderID != q.ProviderID {
		return false
	}
	return !row.Date.Before(q.From) && row.Date.Before(q.To)
}

// Repository stores run records and their bucket aggregates. Saving a run
// upserts rows on (provider_id, date, hour_start), so rerunning over the same
// input leaves the stored table unchanged.
type Repository interface {
	SaveRun(ctx context.Context, record Record, rows []timeline.BucketAggregate) error
	ListAggregates(ctx context.Context, query Query) ([]timeline.BucketAggregate, error)
	LatestRun(ctx context.Context) (*Record, error)
}
