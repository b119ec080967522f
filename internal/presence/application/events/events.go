package events

import (
	"time"

	"provider-presence/internal/presence/domain/timeline"
)

// RunCompleted is published after a run's rows are stored and exported.
type RunCompleted struct {
	RunID         string           `json:"run_id"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	Summary       timeline.Summary `json:"summary"`
	DroppedEvents int              `json:"dropped_events"`
}

// RunFailed is published when a run aborts. Rule is set for contract and
// invariant violations.
type RunFailed struct {
	RunID      string    `json:"run_id"`
	Rule       string    `json:"rule,omitempty"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}
