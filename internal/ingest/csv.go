package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"provider-presence/internal/presence/domain/timeline"
)

const (
	columnProviderID = "provider_id"
	columnEventTime  = "event_time"
	columnDetail     = "detail"
	columnSource     = "source"
	columnDate       = "date"
	columnHour       = "hour"
	columnStatus     = "status"

	eventTimeLayout = "2006-01-02 15:04:05"
	dateLayout      = "2006-01-02"
)

// ErrMissingColumn is returned when a required CSV column is absent.
var ErrMissingColumn = errors.New("ingest: missing column")

var eventTimeLayouts = []string{
	eventTimeLayout,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
}

// ParseEventTime accepts the timestamp layouts found in provider exports.
// All timestamps share one clock: an offset, when present, is dropped and the
// wall-clock reading is kept as UTC.
func ParseEventTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range eventTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("ingest: unrecognised event_time %q", value)
}

// ReadRawCSV reads raw provider records. Columns are matched by header name;
// detail and source are optional and unknown columns are ignored.
func ReadRawCSV(r io.Reader) ([]RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("ingest: read header: %w", err)
	}
	idx := indexColumns(header)
	if err := requireColumns(idx, columnProviderID, columnEventTime); err != nil {
		return nil, err
	}

	var records []RawRecord
	line := 1
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("ingest: line %d: %w", line, err)
		}
		rec := RawRecord{
			ProviderID: field(fields, idx, columnProviderID),
			Detail:     field(fields, idx, columnDetail),
			Source:     field(fields, idx, columnSource),
		}
		if value := field(fields, idx, columnEventTime); value != "" {
			ts, err := ParseEventTime(value)
			if err != nil {
				return nil, fmt.Errorf("ingest: line %d: %w", line, err)
			}
			rec.EventTime = ts
		}
		records = append(records, rec)
	}
	return records, nil
}

// WriteProcessedCSV writes the preprocessed event table.
func WriteProcessedCSV(w io.Writer, events []timeline.Event) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{columnProviderID, columnEventTime, columnDate, columnHour, columnStatus}); err != nil {
		return err
	}
	for _, ev := range events {
		if err := writer.Write([]string{
			ev.ProviderID,
			ev.At.Format(eventTimeLayout),
			ev.Date.Format(dateLayout),
			strconv.Itoa(ev.Hour),
			string(ev.Status),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadProcessedCSV reads an event table written by WriteProcessedCSV.
func ReadProcessedCSV(r io.Reader) ([]timeline.Event, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("ingest: read header: %w", err)
	}
	idx := indexColumns(header)
	if err := requireColumns(idx, columnProviderID, columnEventTime, columnDate, columnHour, columnStatus); err != nil {
		return nil, err
	}

	var events []timeline.Event
	line := 1
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("ingest: line %d: %w", line, err)
		}
		at, err := ParseEventTime(field(fields, idx, columnEventTime))
		if err != nil {
			return nil, fmt.Errorf("ingest: line %d: %w", line, err)
		}
		date, err := time.ParseInLocation(dateLayout, field(fields, idx, columnDate), time.UTC)
		if err != nil {
			return nil, fmt.Errorf("ingest: line %d: invalid date: %w", line, err)
		}
		hour, err := strconv.Atoi(field(fields, idx, columnHour))
		if err != nil {
			return nil, fmt.Errorf("ingest: line %d: invalid hour: %w", line, err)
		}
		status, err := timeline.ParseStatus(field(fields, idx, columnStatus))
		if err != nil {
			return nil, fmt.Errorf("ingest: line %d: %w", line, err)
		}
		events = append(events, timeline.Event{
			ProviderID: field(fields, idx, columnProviderID),
			At:         at,
			Date:       date,
			Hour:       hour,
			Status:     status,
		})
	}
	return events, nil
}

func indexColumns(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	return idx
}

func requireColumns(idx map[string]int, names ...string) error {
	for _, name := range names {
		if _, ok := idx[name]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}
	return nil
}

func field(fields []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}
