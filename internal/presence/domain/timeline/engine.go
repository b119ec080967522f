package timeline

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	Dates []time.Time
	// Hours defaults to 0-23.
	Hours []int
	// OperationalFromHour drops earlier hours from the report. Resolution still
	// runs over every configured hour.
	OperationalFromHour int
	// Workers bounds how many providers are processed concurrently.
	Workers int
}

// Engine turns filtered events into per-bucket online seconds.
type Engine struct {
	dates    []time.Time
	hours    []int
	fromHour int
	workers  int
}

// NewEngine validates cfg and builds an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	hours := cfg.Hours
	if len(hours) == 0 {
		hours = AllHours()
	}
	dates, err := normalizeDates(cfg.Dates)
	if err != nil {
		return nil, err
	}
	hrs, err := normalizeHours(hours)
	if err != nil {
		return nil, err
	}
	if cfg.OperationalFromHour < 0 || cfg.OperationalFromHour > 23 {
		return nil, ErrInvalidHour
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{dates: dates, hours: hrs, fromHour: cfg.OperationalFromHour, workers: workers}, nil
}

// Dates returns the configured dates in order.
func (e *Engine) Dates() []time.Time { return append([]time.Time(nil), e.dates...) }

// ReportedHours returns the hours that appear in reports.
func (e *Engine) ReportedHours() []int {
	var out []int
	for _, h := range e.hours {
		if h >= e.fromHour {
			out = append(out, h)
		}
	}
	return out
}

// Run builds the grid, resolves every provider and aggregates its buckets.
// Providers are independent and run concurrently; rows within a provider are
// processed strictly in order. Any error aborts the whole run.
func (e *Engine) Run(ctx context.Context, events []Event) (*Report, error) {
	grid, err := BuildGrid(events, e.dates, e.hours)
	if err != nil {
		return nil, err
	}

	results := make([][]BucketResult, len(grid.Providers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range grid.Providers {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := ProcessProvider(grid.ProviderRows(i))
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var flat []BucketResult
	for _, provider := range results {
		for _, r := range provider {
			if r.Key.Hour >= e.fromHour {
				flat = append(flat, r)
			}
		}
	}
	report := Assemble(flat)
	report.DroppedEvents = grid.Unmatched
	return &report, nil
}

// ProcessProvider resolves one provider's ordered rows and aggregates each of
// its buckets.
func ProcessProvider(rows []Row) ([]BucketResult, error) {
	labeled, err := ResolveProvider(rows)
	if err != nil {
		return nil, err
	}
	return Aggregate(GroupBuckets(labeled))
}
