package application

import (
	"context"
	"errors"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"provider-presence/internal/observability/metrics"
)

// Watcher reruns the pipeline when the raw input file changes. Bursts of
// writes within the debounce interval trigger a single run.
type Watcher struct {
	runner   Runner
	path     string
	debounce time.Duration
	logger   *log.Logger

	mu       sync.Mutex
	timer    *time.Timer
	inflight sync.WaitGroup
}

// NewWatcher constructs a Watcher for path.
func NewWatcher(runner Runner, path string, debounce time.Duration, logger *log.Logger) (*Watcher, error) {
	if runner == nil {
		return nil, errors.New("watcher: nil runner")
	}
	if path == "" {
		return nil, errors.New("watcher: empty path")
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{runner: runner, path: path, debounce: debounce, logger: logger}, nil
}

// Start watches the file's directory until ctx is done. The directory is
// watched so that editors replacing the file by rename are still seen. Start
// returns only after a run it triggered has finished.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	defer w.drain()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.logger.Printf("presence: watching %s", w.path)

	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule(ctx)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("presence: watcher error: %v", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil && w.timer.Stop() {
		w.inflight.Done()
	}
	w.inflight.Add(1)
	w.timer = time.AfterFunc(w.debounce, func() {
		defer w.inflight.Done()
		if ctx.Err() != nil {
			return
		}
		metrics.IncRunTrigger("watch")
		if _, err := w.runner.Run(ctx); err != nil {
			w.logger.Printf("presence: watch run error: %v", err)
		}
	})
}

// drain cancels a pending run and waits for one already running.
func (w *Watcher) drain() {
	w.mu.Lock()
	if w.timer != nil && w.timer.Stop() {
		w.inflight.Done()
	}
	w.timer = nil
	w.mu.Unlock()
	w.inflight.Wait()
}
