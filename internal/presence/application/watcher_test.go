package application

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw.csv")
	if err := os.WriteFile(path, []byte("provider_id,event_time\n"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	runner := &countingRunner{}
	w, err := NewWatcher(runner, path, 100*time.Millisecond, quietLogger())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	// let the watcher register the directory
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "other.csv"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write other: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("provider_id,event_time\n"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for runner.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(300 * time.Millisecond)
	if got := runner.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one debounced run, got %d", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watcher stopped with error: %v", err)
	}
}

func TestNewWatcher_Validation(t *testing.T) {
	if _, err := NewWatcher(nil, "raw.csv", 0, nil); err == nil {
		t.Fatalf("expected nil runner error")
	}
	if _, err := NewWatcher(&countingRunner{}, "", 0, nil); err == nil {
		t.Fatalf("expected empty path error")
	}
}

type gatedRunner struct {
	started chan struct{}
	release chan struct{}
}

func (r *gatedRunner) Run(ctx context.Context) (*Result, error) {
	close(r.started)
	<-r.release
	return &Result{}, nil
}

func TestWatcher_StartWaitsForRunningRun(t *testing.T) {
	dir := t.TempDir()
	runner := &gatedRunner{started: make(chan struct{}), release: make(chan struct{})}
	w, err := NewWatcher(runner, filepath.Join(dir, "raw.csv"), 10*time.Millisecond, quietLogger())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	w.schedule(ctx)
	select {
	case <-runner.started:
	case <-time.After(3 * time.Second):
		t.Fatalf("debounced run never started")
	}

	cancel()
	select {
	case <-done:
		t.Fatalf("Start returned while a run was still in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(runner.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watcher stopped with error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Start did not return after the run finished")
	}
}

func TestWatcher_DrainCancelsPendingRun(t *testing.T) {
	runner := &countingRunner{}
	w, err := NewWatcher(runner, "raw.csv", time.Hour, quietLogger())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	w.schedule(context.Background())
	w.schedule(context.Background())
	w.drain()
	if got := runner.calls.Load(); got != 0 {
		t.Fatalf("expected pending run cancelled, got %d runs", got)
	}
}
