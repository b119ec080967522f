package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"provider-presence/internal/ingest"
	"provider-presence/internal/presence/application/eventbus"
	"provider-presence/internal/presence/application/events"
	"provider-presence/internal/presence/domain/run"
	"provider-presence/internal/presence/domain/timeline"
	"provider-presence/internal/presence/infrastructure/memory"
	"provider-presence/internal/report/export"
)

var testDay = time.Date(2017, time.September, 1, 0, 0, 0, 0, time.UTC)

type staticSource struct {
	records []ingest.RawRecord
	err     error
}

func (s staticSource) LoadRecords(ctx context.Context) ([]ingest.RawRecord, error) {
	return s.records, s.err
}

type failingRepo struct {
	*memory.Repository
}

func (failingRepo) SaveRun(ctx context.Context, record run.Record, rows []timeline.BucketAggregate) error {
	return errors.New("disk full")
}

func raw(provider string, at time.Time, detail, source string) ingest.RawRecord {
	return ingest.RawRecord{ProviderID: provider, EventTime: at, Detail: detail, Source: source}
}

func sampleRecords() []ingest.RawRecord {
	return []ingest.RawRecord{
		raw("p1", testDay.Add(10*time.Hour+15*time.Minute), "True", ""),
		raw("p1", testDay.Add(12*time.Hour+30*time.Minute), "False", ""),
		raw("p2", testDay.Add(9*time.Hour), "", ingest.SourceActionOnJob),
		raw("p2", testDay.Add(20*time.Hour), "True", ""),
		raw("p3", testDay.Add(11*time.Hour), "noise", ""),
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func fixedClock() func() time.Time {
	now := time.Date(2017, time.September, 2, 6, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func newService(t *testing.T, source RecordSource, repo run.Repository, cfg timeline.EngineConfig, opts ...Option) *RunService {
	t.Helper()
	pre, err := ingest.NewPreprocessor(ingest.DefaultCutoffHour, quietLogger())
	if err != nil {
		t.Fatalf("preprocessor: %v", err)
	}
	opts = append([]Option{
		WithClock(fixedClock()),
		WithIDGenerator(func() string { return "run-1" }),
		WithLogger(quietLogger()),
	}, opts...)
	svc, err := NewRunService(source, pre, cfg, repo, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestRunService_Run(t *testing.T) {
	dir := t.TempDir()
	repo := memory.NewRepository()
	bus := eventbus.NewInMemoryBus()
	var completed []events.RunCompleted
	eventbus.On(bus, func(ctx context.Context, e events.RunCompleted) error {
		completed = append(completed, e)
		return nil
	})

	persister := NewFilePersister(
		filepath.Join(dir, "processed.csv"),
		filepath.Join(dir, "out", "online_seconds.csv"),
		[]export.Format{export.FormatCSV, export.FormatXLSX},
	)
	svc := newService(t, staticSource{records: sampleRecords()}, repo,
		timeline.EngineConfig{Dates: []time.Time{testDay}, Workers: 2},
		WithPersister(persister), WithEventBus(bus))

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := timeline.Summary{Rows: 48, TotalSecondsOnline: 62100, OnlineBuckets: 18}
	if result.Record.Summary != want {
		t.Fatalf("expected summary %+v, got %+v", want, result.Record.Summary)
	}
	if result.Record.Preprocess.ErrorRows != 1 || result.Record.Preprocess.LateRows != 1 {
		t.Fatalf("unexpected preprocess stats %+v", result.Record.Preprocess)
	}

	rows, err := repo.ListAggregates(context.Background(), run.Query{ProviderID: "p1", From: testDay, To: testDay.AddDate(0, 0, 1)})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	seconds := map[int]float64{}
	for _, row := range rows {
		seconds[row.HourStart] = row.SecondsOnline
	}
	if seconds[10] != 2700 || seconds[11] != 3600 || seconds[12] != 1800 || seconds[13] != 0 {
		t.Fatalf("unexpected p1 seconds %v", seconds)
	}

	latest, err := repo.LatestRun(context.Background())
	if err != nil || latest.ID != "run-1" {
		t.Fatalf("expected stored run-1, got %+v (%v)", latest, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "out", "online_seconds.csv"))
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 49 {
		t.Fatalf("expected header plus 48 rows, got %d lines", len(lines))
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "online_seconds.xlsx")); err != nil {
		t.Fatalf("expected xlsx export: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "processed.csv"))
	if err != nil {
		t.Fatalf("open processed: %v", err)
	}
	defer f.Close()
	processed, err := ingest.ReadProcessedCSV(f)
	if err != nil {
		t.Fatalf("read processed: %v", err)
	}
	if len(processed) != 3 {
		t.Fatalf("expected 3 processed events, got %d", len(processed))
	}

	if len(completed) != 1 || completed[0].RunID != "run-1" || completed[0].Summary != want {
		t.Fatalf("unexpected completed events %+v", completed)
	}
}

func TestRunService_FailureStoresNothing(t *testing.T) {
	dir := t.TempDir()
	results := filepath.Join(dir, "online_seconds.csv")
	bus := eventbus.NewInMemoryBus()
	var failed []events.RunFailed
	eventbus.On(bus, func(ctx context.Context, e events.RunFailed) error {
		failed = append(failed, e)
		return nil
	})

	repo := failingRepo{memory.NewRepository()}
	svc := newService(t, staticSource{records: sampleRecords()}, repo,
		timeline.EngineConfig{Dates: []time.Time{testDay}},
		WithPersister(NewFilePersister("", results, []export.Format{export.FormatCSV})), WithEventBus(bus))

	if _, err := svc.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected save error, got %v", err)
	}
	if _, err := os.Stat(results); !os.IsNotExist(err) {
		t.Fatalf("expected no results file, stat err=%v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected temp files removed, found %d entries", len(entries))
	}
	if len(failed) != 1 || failed[0].RunID != "run-1" {
		t.Fatalf("unexpected failed events %+v", failed)
	}

	svc = newService(t, staticSource{err: io.ErrUnexpectedEOF}, memory.NewRepository(), timeline.EngineConfig{Dates: []time.Time{testDay}})
	if _, err := svc.Run(context.Background()); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestRunService_DerivesDatesFromEvents(t *testing.T) {
	records := []ingest.RawRecord{
		raw("p1", testDay.Add(8*time.Hour), "True", ""),
		raw("p1", testDay.AddDate(0, 0, 2).Add(8*time.Hour), "False", ""),
	}
	svc := newService(t, staticSource{records: records}, memory.NewRepository(), timeline.EngineConfig{})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Record.Summary.Rows != 72 {
		t.Fatalf("expected 3 dates x 24 hours, got %d rows", result.Record.Summary.Rows)
	}
	// online from 08:00 to midnight on the first day only
	if result.Record.Summary.TotalSecondsOnline != 16*3600 {
		t.Fatalf("expected 57600 seconds, got %v", result.Record.Summary.TotalSecondsOnline)
	}

	empty := newService(t, staticSource{}, memory.NewRepository(), timeline.EngineConfig{})
	result, err = empty.Run(context.Background())
	if err != nil {
		t.Fatalf("empty run: %v", err)
	}
	if result.Record.Summary.Rows != 0 {
		t.Fatalf("expected no rows, got %d", result.Record.Summary.Rows)
	}
}

type blockingSource struct {
	entered chan struct{}
	release chan struct{}
}

func (s blockingSource) LoadRecords(ctx context.Context) ([]ingest.RawRecord, error) {
	close(s.entered)
	<-s.release
	return nil, nil
}

func TestRunService_RejectsConcurrentRuns(t *testing.T) {
	src := blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
	svc := newService(t, src, memory.NewRepository(), timeline.EngineConfig{Dates: []time.Time{testDay}})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Run(context.Background())
		done <- err
	}()
	<-src.entered

	if _, err := svc.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	close(src.release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestNewRunService_Validation(t *testing.T) {
	pre, _ := ingest.NewPreprocessor(ingest.DefaultCutoffHour, quietLogger())
	repo := memory.NewRepository()
	if _, err := NewRunService(nil, pre, timeline.EngineConfig{}, repo); err == nil {
		t.Fatalf("expected nil source error")
	}
	if _, err := NewRunService(staticSource{}, pre, timeline.EngineConfig{}, nil); err == nil {
		t.Fatalf("expected nil repository error")
	}
	cfg := timeline.EngineConfig{Dates: []time.Time{testDay}, Hours: []int{24}}
	if _, err := NewRunService(staticSource{}, pre, cfg, repo); !errors.Is(err, timeline.ErrInvalidHour) {
		t.Fatalf("expected ErrInvalidHour, got %v", err)
	}
}

func TestViolatedRule(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &timeline.ContractError{ProviderID: "p1", Rule: timeline.RuleRawStatus})
	if got := violatedRule(err); got != timeline.RuleRawStatus {
		t.Fatalf("expected %s, got %q", timeline.RuleRawStatus, got)
	}
	if got := violatedRule(&timeline.InvariantError{Rule: timeline.RuleSecondsRange}); got != timeline.RuleSecondsRange {
		t.Fatalf("expected %s, got %q", timeline.RuleSecondsRange, got)
	}
	if got := violatedRule(errors.New("plain")); got != "" {
		t.Fatalf("expected no rule, got %q", got)
	}
}

type brokenCommit struct{ discarded bool }

func (b *brokenCommit) Commit() error { return errors.New("rename: read-only file system") }
func (b *brokenCommit) Discard()      { b.discarded = true }

type brokenPersister struct{ staged *brokenCommit }

func (p brokenPersister) Stage(ctx context.Context, evts []timeline.Event, record run.Record, report *timeline.Report) (Staged, error) {
	return p.staged, nil
}

func TestRunService_ArtifactCommitFailureKeepsStoredRun(t *testing.T) {
	repo := memory.NewRepository()
	bus := eventbus.NewInMemoryBus()
	var completed, failed int
	eventbus.On(bus, func(ctx context.Context, e events.RunCompleted) error { completed++; return nil })
	eventbus.On(bus, func(ctx context.Context, e events.RunFailed) error { failed++; return nil })

	staged := &brokenCommit{}
	svc := newService(t, staticSource{records: sampleRecords()}, repo,
		timeline.EngineConfig{Dates: []time.Time{testDay}},
		WithPersister(brokenPersister{staged: staged}), WithEventBus(bus))

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("expected run to succeed after store commit, got %v", err)
	}
	latest, err := repo.LatestRun(context.Background())
	if err != nil || latest.ID != result.Record.ID {
		t.Fatalf("expected stored run, got %+v (%v)", latest, err)
	}
	if completed != 1 || failed != 0 || staged.discarded {
		t.Fatalf("unexpected outcome completed=%d failed=%d discarded=%v", completed, failed, staged.discarded)
	}
}
