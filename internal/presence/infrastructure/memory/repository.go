package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"provider-presence/internal/presence/domain/run"
	"provider-presence/internal/presence/domain/timeline"
)

type aggregateKey struct {
	providerID string
	date       string
	hour       int
}

// Repository is an in-memory run repository for tests and single-shot runs.
type Repository struct {
	mu     sync.RWMutex
	rows   map[aggregateKey]timeline.BucketAggregate
	latest *run.Record
}

// NewRepository constructs a repository.
func NewRepository() *Repository {
	return &Repository{rows: make(map[aggregateKey]timeline.BucketAggregate)}
}

// SaveRun upserts the rows and records the run as the latest one.
func (r *Repository) SaveRun(ctx context.Context, record run.Record, rows []timeline.BucketAggregate) error {
	_ = ctx
	if err := record.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		r.rows[keyOf(row)] = row
	}
	rec := record
	r.latest = &rec
	return nil
}

// ListAggregates returns matching rows ordered by provider, date and hour.
func (r *Repository) ListAggregates(ctx context.Context, query run.Query) ([]timeline.BucketAggregate, error) {
	_ = ctx
	if err := query.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	out := make([]timeline.BucketAggregate, 0, len(r.rows))
	for _, row := range r.rows {
		if query.Matches(row) {
			out = append(out, row)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ProviderID != b.ProviderID {
			return a.ProviderID < b.ProviderID
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.HourStart < b.HourStart
	})
	return out, nil
}

// LatestRun returns the most recently saved run.
func (r *Repository) LatestRun(ctx context.Context) (*run.Record, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.latest == nil {
		return nil, run.ErrNotFound
	}
	rec := *r.latest
	return &rec, nil
}

func keyOf(row timeline.BucketAggregate) aggregateKey {
	return aggregateKey{providerID: row.ProviderID, date: row.Date.Format(time.DateOnly), hour: row.HourStart}
}
