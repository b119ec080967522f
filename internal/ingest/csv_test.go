package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"provider-presence/internal/presence/domain/timeline"
)

func TestReadRawCSV(t *testing.T) {
	input := "id,provider_id,event_time,detail,source\n" +
		"1,p-1,2017-09-01 10:15:00,\"{'online': True}\",App\n" +
		"2,p-2,2017-09-01T11:00:30Z,,Action on Job\n" +
		"3,p-3,,False,App\n"

	records, err := ReadRawCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read raw csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].ProviderID != "p-1" || !records[0].EventTime.Equal(time.Date(2017, 9, 1, 10, 15, 0, 0, time.UTC)) {
		t.Fatalf("unexpected first record %+v", records[0])
	}
	if records[1].Source != SourceActionOnJob || records[1].EventTime.Second() != 30 {
		t.Fatalf("unexpected second record %+v", records[1])
	}
	if !records[2].EventTime.IsZero() {
		t.Fatalf("expected missing event time to stay zero")
	}
}

func TestReadRawCSV_MissingColumn(t *testing.T) {
	_, err := ReadRawCSV(strings.NewReader("provider_id,detail\np-1,True\n"))
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
}

func TestReadRawCSV_BadTimestamp(t *testing.T) {
	_, err := ReadRawCSV(strings.NewReader("provider_id,event_time\np-1,yesterday\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line-numbered error, got %v", err)
	}
}

func TestProcessedCSV_RoundTripPreservesEvents(t *testing.T) {
	at := time.Date(2017, 9, 1, 18, 59, 59, 0, time.UTC)
	events := []timeline.Event{
		{ProviderID: "p-1", At: at, Date: timeline.DayOf(at), Hour: 18, Status: timeline.StatusOffline},
	}
	var buf bytes.Buffer
	if err := WriteProcessedCSV(&buf, events); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "provider_id,event_time,date,hour,status\n") {
		t.Fatalf("unexpected header: %q", buf.String())
	}
	got, err := ReadProcessedCSV(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0] != events[0] {
		t.Fatalf("expected %+v, got %+v", events, got)
	}
}

func TestReadProcessedCSV_UnknownStatus(t *testing.T) {
	input := "provider_id,event_time,date,hour,status\np-1,2017-09-01 10:00:00,2017-09-01,10,busy\n"
	_, err := ReadProcessedCSV(strings.NewReader(input))
	if !errors.Is(err, timeline.ErrContractViolation) {
		t.Fatalf("expected contract violation, got %v", err)
	}
}

func TestReadRawCSV_OffsetTimestampsShareOneClock(t *testing.T) {
	input := "provider_id,event_time,detail,source\n" +
		"p-1,2017-09-01T10:15:00+05:30,is_online: True,\n"
	records, err := ReadRawCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read raw csv: %v", err)
	}
	want := time.Date(2017, 9, 1, 10, 15, 0, 0, time.UTC)
	if !records[0].EventTime.Equal(want) || records[0].EventTime.Location() != time.UTC {
		t.Fatalf("expected wall clock kept as UTC, got %s", records[0].EventTime)
	}

	pre, err := NewPreprocessor(DefaultCutoffHour, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new preprocessor: %v", err)
	}
	events, _ := pre.Process(records)
	engine, err := timeline.NewEngine(timeline.EngineConfig{Dates: []time.Time{time.Date(2017, 9, 1, 0, 0, 0, 0, time.UTC)}})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	report, err := engine.Run(context.Background(), events)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, row := range report.Rows {
		if row.HourStart == 10 && row.SecondsOnline != 2700 {
			t.Fatalf("expected 2700 seconds in hour 10, got %v", row.SecondsOnline)
		}
	}
}
