package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"provider-presence/internal/ingest"
	"provider-presence/internal/observability/metrics"
	"provider-presence/internal/presence/application/eventbus"
	"provider-presence/internal/presence/application/events"
	"provider-presence/internal/presence/domain/run"
	"provider-presence/internal/presence/domain/timeline"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("presence: run in progress")

// Result is the outcome of a successful run.
type Result struct {
	Record run.Record
	Report *timeline.Report
}

// RunService executes the pipeline: load, preprocess, resolve and aggregate,
// store, export and publish. A failed run stores and exports nothing. Artifact
// files are renamed into place after the store commit; a rename failure is
// logged and the run still succeeds.
type RunService struct {
	source    RecordSource
	pre       *ingest.Preprocessor
	engineCfg timeline.EngineConfig
	repo      run.Repository
	persister Persister
	bus       eventbus.EventBus
	now       func() time.Time
	newID     func() string
	logger    *log.Logger

	mu sync.Mutex
}

// Option configures a RunService.
type Option func(*RunService)

// WithPersister sets the artifact persister.
func WithPersister(p Persister) Option {
	return func(s *RunService) { s.persister = p }
}

// WithEventBus sets the bus run events are published on.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(s *RunService) { s.bus = bus }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *RunService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *RunService) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *RunService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRunService constructs a RunService. Engine settings are validated up
// front when dates are configured.
func NewRunService(source RecordSource, pre *ingest.Preprocessor, engineCfg timeline.EngineConfig, repo run.Repository, opts ...Option) (*RunService, error) {
	if source == nil {
		return nil, errors.New("presence: nil record source")
	}
	if pre == nil {
		return nil, errors.New("presence: nil preprocessor")
	}
	if repo == nil {
		return nil, errors.New("presence: nil repository")
	}
	if len(engineCfg.Dates) > 0 {
		if _, err := timeline.NewEngine(engineCfg); err != nil {
			return nil, err
		}
	}
	s := &RunService{
		source:    source,
		pre:       pre,
		engineCfg: engineCfg,
		repo:      repo,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run executes one pipeline run. Concurrent calls fail with ErrRunInProgress.
func (s *RunService) Run(ctx context.Context) (*Result, error) {
	if !s.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.mu.Unlock()

	runID := s.newID()
	started := s.now().UTC()
	result, err := s.execute(ctx, runID, started)
	if err != nil {
		metrics.ObserveRun(metrics.ResultError, s.now().Sub(started))
		s.fail(ctx, runID, err)
		return nil, err
	}
	metrics.ObserveRun(metrics.ResultSuccess, result.Record.FinishedAt.Sub(started))
	metrics.AddReport(result.Record.Summary.Rows, result.Record.Summary.TotalSecondsOnline, result.Record.DroppedEvents)

	s.logger.Printf("presence: run completed run_id=%s rows=%d total_seconds_online=%.0f online_buckets=%d dropped_events=%d",
		runID, result.Record.Summary.Rows, result.Record.Summary.TotalSecondsOnline, result.Record.Summary.OnlineBuckets, result.Record.DroppedEvents)

	if s.bus != nil {
		evt := events.RunCompleted{
			RunID:         runID,
			StartedAt:     result.Record.StartedAt,
			FinishedAt:    result.Record.FinishedAt,
			Summary:       result.Record.Summary,
			DroppedEvents: result.Record.DroppedEvents,
		}
		if err := s.bus.Publish(ctx, evt); err != nil {
			s.logger.Printf("presence: publish run completed run_id=%s err=%v", runID, err)
		}
	}
	return result, nil
}

func (s *RunService) execute(ctx context.Context, runID string, started time.Time) (*Result, error) {
	records, err := s.source.LoadRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("presence: load records: %w", err)
	}

	evts, stats := s.pre.Process(records)
	metrics.AddPreprocessRows("kept", len(evts))
	metrics.AddPreprocessRows("error", stats.ErrorRows)
	metrics.AddPreprocessRows("late", stats.LateRows)
	metrics.AddPreprocessRows("duplicate", stats.Duplicates)

	report, err := s.compute(ctx, evts)
	if err != nil {
		return nil, err
	}

	record := run.Record{
		ID:            runID,
		StartedAt:     started,
		FinishedAt:    s.now().UTC(),
		Summary:       report.Summary,
		Preprocess:    stats,
		DroppedEvents: report.DroppedEvents,
	}

	var staged Staged
	if s.persister != nil {
		staged, err = s.persister.Stage(ctx, evts, record, report)
		if err != nil {
			return nil, err
		}
	}
	if err := s.repo.SaveRun(ctx, record, report.Rows); err != nil {
		if staged != nil {
			staged.Discard()
		}
		return nil, fmt.Errorf("presence: save run: %w", err)
	}
	// The repository is the record of truth once SaveRun returns, so a failed
	// rename does not fail the run.
	if staged != nil {
		if err := staged.Commit(); err != nil {
			s.logger.Printf("presence: commit artifacts run_id=%s err=%v", runID, err)
		}
	}
	return &Result{Record: record, Report: report}, nil
}

func (s *RunService) compute(ctx context.Context, evts []timeline.Event) (*timeline.Report, error) {
	cfg := s.engineCfg
	if len(cfg.Dates) == 0 {
		cfg.Dates = eventDates(evts)
		if len(cfg.Dates) == 0 {
			return &timeline.Report{}, nil
		}
	}
	engine, err := timeline.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, evts)
}

// eventDates spans the first through the last event date.
func eventDates(evts []timeline.Event) []time.Time {
	if len(evts) == 0 {
		return nil
	}
	first, last := evts[0].Date, evts[0].Date
	for _, ev := range evts[1:] {
		if ev.Date.Before(first) {
			first = ev.Date
		}
		if ev.Date.After(last) {
			last = ev.Date
		}
	}
	return timeline.DateRange(first, last)
}

func (s *RunService) fail(ctx context.Context, runID string, err error) {
	rule := violatedRule(err)
	if rule != "" {
		metrics.IncContractViolation(rule)
	}
	s.logger.Printf("presence: run failed run_id=%s rule=%s err=%v", runID, rule, err)

	if s.bus == nil {
		return
	}
	evt := events.RunFailed{
		RunID:      runID,
		Rule:       rule,
		Error:      err.Error(),
		OccurredAt: s.now().UTC(),
	}
	if pubErr := s.bus.Publish(ctx, evt); pubErr != nil {
		s.logger.Printf("presence: publish run failed run_id=%s err=%v", runID, pubErr)
	}
}

func violatedRule(err error) string {
	var contract *timeline.ContractError
	if errors.As(err, &contract) {
		return contract.Rule
	}
	var invariant *timeline.InvariantError
	if errors.As(err, &invariant) {
		return invariant.Rule
	}
	return ""
}
