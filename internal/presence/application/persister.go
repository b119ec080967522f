package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"provider-presence/internal/ingest"
	"provider-presence/internal/observability/metrics"
	"provider-presence/internal/presence/domain/run"
	"provider-presence/internal/presence/domain/timeline"
	"provider-presence/internal/report/export"
)

// Persister renders run artifacts. Stage writes nothing visible; the caller
// commits the staged artifacts once the run has been stored.
type Persister interface {
	Stage(ctx context.Context, events []timeline.Event, record run.Record, report *timeline.Report) (Staged, error)
}

// Staged is a set of rendered artifacts awaiting commit.
type Staged interface {
	Commit() error
	Discard()
}

// FilePersister writes the processed events and the results documents.
type FilePersister struct {
	processedPath string
	resultsPath   string
	formats       []export.Format
}

// NewFilePersister constructs a FilePersister. An empty path skips that file.
func NewFilePersister(processedPath, resultsPath string, formats []export.Format) *FilePersister {
	return &FilePersister{processedPath: processedPath, resultsPath: resultsPath, formats: formats}
}

// ResultsPath returns the path for a results document of the given format.
func (p *FilePersister) ResultsPath(format export.Format) string {
	if p.resultsPath == "" {
		return ""
	}
	if format == export.FormatCSV {
		return p.resultsPath
	}
	return strings.TrimSuffix(p.resultsPath, filepath.Ext(p.resultsPath)) + "." + string(format)
}

// Stage renders every document into a temp file beside its target.
func (p *FilePersister) Stage(ctx context.Context, events []timeline.Event, record run.Record, report *timeline.Report) (Staged, error) {
	if report == nil {
		return nil, errors.New("persister: nil report")
	}
	staged := &stagedFiles{}

	if p.processedPath != "" {
		var buf bytes.Buffer
		if err := ingest.WriteProcessedCSV(&buf, events); err != nil {
			return nil, fmt.Errorf("persister: processed csv: %w", err)
		}
		if err := staged.add(p.processedPath, buf.Bytes()); err != nil {
			staged.Discard()
			return nil, err
		}
	}

	if p.resultsPath != "" {
		for _, format := range p.formats {
			if err := ctx.Err(); err != nil {
				staged.Discard()
				return nil, err
			}
			start := time.Now()
			data, err := render(format, record, report.Rows)
			if err != nil {
				metrics.ObserveExport(string(format), metrics.ResultError, time.Since(start))
				staged.Discard()
				return nil, fmt.Errorf("persister: %s: %w", format, err)
			}
			metrics.ObserveExport(string(format), metrics.ResultSuccess, time.Since(start))
			if err := staged.add(p.ResultsPath(format), data); err != nil {
				staged.Discard()
				return nil, err
			}
		}
	}
	return staged, nil
}

func render(format export.Format, record run.Record, rows []timeline.BucketAggregate) ([]byte, error) {
	switch format {
	case export.FormatCSV:
		var buf bytes.Buffer
		if err := export.WriteCSV(&buf, rows); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case export.FormatXLSX:
		return export.BuildXLSX(record, rows)
	case export.FormatPDF:
		return export.BuildPDF(record, rows)
	default:
		return nil, export.ErrUnknownFormat
	}
}

type stagedFile struct {
	tmp    string
	target string
}

type stagedFiles struct {
	files []stagedFile
}

func (s *stagedFiles) add(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("persister: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("persister: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("persister: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("persister: close temp file: %w", err)
	}
	s.files = append(s.files, stagedFile{tmp: tmp.Name(), target: target})
	return nil
}

// Commit renames every temp file onto its target.
func (s *stagedFiles) Commit() error {
	for i, f := range s.files {
		if err := os.Rename(f.tmp, f.target); err != nil {
			for _, rest := range s.files[i:] {
				_ = os.Remove(rest.tmp)
			}
			return fmt.Errorf("persister: rename %s: %w", f.target, err)
		}
	}
	s.files = nil
	return nil
}

// Discard removes any uncommitted temp files.
func (s *stagedFiles) Discard() {
	for _, f := range s.files {
		_ = os.Remove(f.tmp)
	}
	s.files = nil
}
