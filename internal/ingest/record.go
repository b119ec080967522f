package ingest

import (
	"strings"
	"time"

	"provider-presence/internal/presence/domain/timeline"
)

// SourceActionOnJob marks records emitted when a provider acts on a job. Such
// records always mean the provider is online.
const SourceActionOnJob = "Action on Job"

// RawRecord is one unprocessed provider event.
type RawRecord struct {
	ProviderID string
	EventTime  time.Time
	Detail     string
	Source     string
}

// DeriveStatus resolves the status label of a raw record from its detail and
// source fields. ok is false for records that carry no usable status.
func DeriveStatus(r RawRecord) (status timeline.Status, ok bool) {
	if strings.Contains(r.Detail, "True") || r.Source == SourceActionOnJob {
		return timeline.StatusOnline, true
	}
	if strings.Contains(r.Detail, "False") {
		return timeline.StatusOffline, true
	}
	return timeline.StatusAbsent, false
}
