package ingest

import (
	"errors"
	"log"
	"sort"

	"provider-presence/internal/presence/domain/timeline"
)

// DefaultCutoffHour drops events at or after 19:00.
const DefaultCutoffHour = 19

// ErrInvalidCutoffHour is returned for a cutoff outside 1-24.
var ErrInvalidCutoffHour = errors.New("ingest: invalid cutoff hour")

// Stats describes what preprocessing removed.
type Stats struct {
	InitialRows                int `json:"initial_rows"`
	InitialProviders           int `json:"initial_providers"`
	ErrorRows                  int `json:"error_rows"`
	ProvidersAfterErrorRemoval int `json:"providers_after_error_removal"`
	LateRows                   int `json:"late_rows"`
	ProvidersAfterCutoff       int `json:"providers_after_cutoff"`
	Duplicates                 int `json:"duplicates"`
	Online                     int `json:"online"`
	Offline                    int `json:"offline"`
}

// ProvidersRemovedByErrors is the number of providers that only had error rows.
func (s Stats) ProvidersRemovedByErrors() int {
	return s.InitialProviders - s.ProvidersAfterErrorRemoval
}

// Preprocessor turns raw records into the filtered, sorted and deduplicated
// event table consumed by the timeline engine.
type Preprocessor struct {
	cutoffHour int
	logger     *log.Logger
}

// NewPreprocessor builds a Preprocessor. Events whose hour is at or after
// cutoffHour are dropped; 24 keeps every event.
func NewPreprocessor(cutoffHour int, logger *log.Logger) (*Preprocessor, error) {
	if cutoffHour < 1 || cutoffHour > 24 {
		return nil, ErrInvalidCutoffHour
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Preprocessor{cutoffHour: cutoffHour, logger: logger}, nil
}

type statusRecord struct {
	RawRecord
	status timeline.Status
}

// Process derives statuses, drops error rows and late events, sorts by
// provider, time and status, and keeps the last record per provider and
// instant so that online wins ties.
func (p *Preprocessor) Process(records []RawRecord) ([]timeline.Event, Stats) {
	stats := Stats{InitialRows: len(records), InitialProviders: countProviders(records, nil)}

	valid := make([]statusRecord, 0, len(records))
	for _, r := range records {
		if r.ProviderID == "" || r.EventTime.IsZero() {
			stats.ErrorRows++
			continue
		}
		status, ok := DeriveStatus(r)
		if !ok {
			stats.ErrorRows++
			continue
		}
		valid = append(valid, statusRecord{RawRecord: r, status: status})
	}
	stats.ProvidersAfterErrorRemoval = countProviders(nil, valid)
	p.logger.Printf("ingest: providers removed by error rows=%d left=%d",
		stats.ProvidersRemovedByErrors(), stats.ProvidersAfterErrorRemoval)

	kept := valid[:0]
	for _, r := range valid {
		if r.EventTime.Hour() >= p.cutoffHour {
			stats.LateRows++
			continue
		}
		kept = append(kept, r)
	}
	stats.ProvidersAfterCutoff = countProviders(nil, kept)
	p.logger.Printf("ingest: providers left after cutoff hour %d=%d", p.cutoffHour, stats.ProvidersAfterCutoff)

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.ProviderID != b.ProviderID {
			return a.ProviderID < b.ProviderID
		}
		if !a.EventTime.Equal(b.EventTime) {
			return a.EventTime.Before(b.EventTime)
		}
		return a.status < b.status
	})

	events := make([]timeline.Event, 0, len(kept))
	for i, r := range kept {
		if i+1 < len(kept) && kept[i+1].ProviderID == r.ProviderID && kept[i+1].EventTime.Equal(r.EventTime) {
			stats.Duplicates++
			continue
		}
		events = append(events, timeline.Event{
			ProviderID: r.ProviderID,
			At:         r.EventTime,
			Date:       timeline.DayOf(r.EventTime),
			Hour:       r.EventTime.Hour(),
			Status:     r.status,
		})
		if r.status == timeline.StatusOnline {
			stats.Online++
		} else {
			stats.Offline++
		}
	}
	p.logger.Printf("ingest: status counts online=%d offline=%d duplicates=%d", stats.Online, stats.Offline, stats.Duplicates)
	return events, stats
}

func countProviders(raw []RawRecord, derived []statusRecord) int {
	set := make(map[string]struct{})
	for _, r := range raw {
		set[r.ProviderID] = struct{}{}
	}
	for _, r := range derived {
		set[r.ProviderID] = struct{}{}
	}
	return len(set)
}
