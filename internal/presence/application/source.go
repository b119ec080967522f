package application

import (
	"context"
	"fmt"
	"os"
	"time"

	"provider-presence/internal/ingest"
)

// RecordSource yields the raw status records for one run.
type RecordSource interface {
	LoadRecords(ctx context.Context) ([]ingest.RawRecord, error)
}

// CSVFileSource reads raw records from a CSV file on every run.
type CSVFileSource struct {
	path string
}

// NewCSVFileSource constructs a CSVFileSource.
func NewCSVFileSource(path string) *CSVFileSource {
	return &CSVFileSource{path: path}
}

// Path returns the watched input path.
func (s *CSVFileSource) Path() string {
	return s.path
}

// LoadRecords opens and parses the file.
func (s *CSVFileSource) LoadRecords(ctx context.Context) ([]ingest.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := ingest.ReadRawCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return records, nil
}

// WindowLoader loads raw records within [from, to]; zero bounds are open.
type WindowLoader interface {
	LoadRecords(ctx context.Context, from, to time.Time) ([]ingest.RawRecord, error)
}

// WindowSource binds a WindowLoader to a fixed time window.
type WindowSource struct {
	loader WindowLoader
	from   time.Time
	to     time.Time
}

// NewWindowSource constructs a WindowSource.
func NewWindowSource(loader WindowLoader, from, to time.Time) *WindowSource {
	return &WindowSource{loader: loader, from: from, to: to}
}

// LoadRecords delegates to the loader.
func (s *WindowSource) LoadRecords(ctx context.Context) ([]ingest.RawRecord, error) {
	return s.loader.LoadRecords(ctx, s.from, s.to)
}
