package application

import (
	"context"
	"errors"
	"log"
	"time"

	"provider-presence/internal/observability/metrics"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context) (*Result, error)
}

// Scheduler triggers a run once a day at a fixed UTC time.
type Scheduler struct {
	runner  Runner
	dailyAt string
	logger  *log.Logger
	lastDay time.Time
}

// NewScheduler constructs a Scheduler; dailyAt is "15:04".
func NewScheduler(runner Runner, dailyAt string, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{runner: runner, dailyAt: dailyAt, logger: logger}
}

// Start blocks, checking the clock every minute until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.runner == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now.UTC())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) bool {
	if !s.shouldRun(now) {
		return false
	}
	s.lastDay = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	metrics.IncRunTrigger("schedule")
	if _, err := s.runner.Run(ctx); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			s.logger.Printf("presence: scheduled run skipped: %v", err)
		} else {
			s.logger.Printf("presence: scheduled run error: %v", err)
		}
	}
	return true
}

func (s *Scheduler) shouldRun(now time.Time) bool {
	hour, minute, err := parseDailyAt(s.dailyAt)
	if err != nil {
		return false
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if day.Equal(s.lastDay) {
		return false
	}
	return now.Hour() == hour && now.Minute() == minute
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
