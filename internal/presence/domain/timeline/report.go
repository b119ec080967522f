package timeline

import "time"

// Output column names, in canonical order.
const (
	ColumnProviderID    = "provider_id"
	ColumnDate          = "date"
	ColumnHourStart     = "Hour Start Time"
	ColumnHourEnd       = "Hour End Time"
	ColumnSecondsOnline = "Seconds Online"
)

// Columns is the canonical output column order.
var Columns = []string{ColumnProviderID, ColumnDate, ColumnHourStart, ColumnHourEnd, ColumnSecondsOnline}

// BucketAggregate is one output row.
type BucketAggregate struct {
	ProviderID    string    `json:"provider_id"`
	Date          time.Time `json:"date"`
	HourStart     int       `json:"hour_start"`
	HourEnd       int       `json:"hour_end"`
	SecondsOnline float64   `json:"seconds_online"`
}

// Summary holds the run counters.
type Summary struct {
	Rows               int     `json:"rows"`
	TotalSecondsOnline float64 `json:"total_seconds_online"`
	OnlineBuckets      int     `json:"online_buckets"`
}

// Report is the engine's terminal output.
type Report struct {
	Rows    []BucketAggregate
	Summary Summary
	// DroppedEvents counts input events outside the configured dates/hours.
	DroppedEvents int
}

// Assemble projects bucket results into output rows and computes the summary.
func Assemble(results []BucketResult) Report {
	rows := make([]BucketAggregate, 0, len(results))
	for _, r := range results {
		rows = append(rows, BucketAggregate{
			ProviderID:    r.Key.ProviderID,
			Date:          r.Key.Date,
			HourStart:     r.Key.Hour,
			HourEnd:       r.Key.Hour + 1,
			SecondsOnline: r.Seconds,
		})
	}
	return Report{Rows: rows, Summary: Summarize(rows)}
}

// Summarize computes the three run counters.
func Summarize(rows []BucketAggregate) Summary {
	s := Summary{Rows: len(rows)}
	for _, row := range rows {
		s.TotalSecondsOnline += row.SecondsOnline
		if row.SecondsOnline > 0 {
			s.OnlineBuckets++
		}
	}
	return s
}

// HourlyProfile sums online seconds per hour of day across all rows.
func HourlyProfile(rows []BucketAggregate) [24]float64 {
	var profile [24]float64
	for _, row := range rows {
		if row.HourStart >= 0 && row.HourStart < 24 {
			profile[row.HourStart] += row.SecondsOnline
		}
	}
	return profile
}
