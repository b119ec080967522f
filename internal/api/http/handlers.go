package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"provider-presence/internal/audit"
	"provider-presence/internal/observability/metrics"
	"provider-presence/internal/presence/application"
	"provider-presence/internal/presence/domain/run"
	"provider-presence/internal/presence/domain/timeline"
	"provider-presence/internal/report/export"
)

const dateLayout = "2006-01-02"

// Runner triggers a pipeline run.
type Runner interface {
	Run(ctx context.Context) (*application.Result, error)
}

// OnlineSecondsHandler serves stored bucket aggregates.
type OnlineSecondsHandler struct {
	repo run.Repository
}

// NewOnlineSecondsHandler constructs an OnlineSecondsHandler.
func NewOnlineSecondsHandler(repo run.Repository) *OnlineSecondsHandler {
	return &OnlineSecondsHandler{repo: repo}
}

// ServeHTTP handles GET /api/v1/online-seconds.
func (h *OnlineSecondsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.repo == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	query, err := parseQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := h.repo.ListAggregates(r.Context(), query)
	if err != nil {
		http.Error(w, "query online seconds error", http.StatusInternalServerError)
		return
	}

	out := make([]aggregateRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAggregateRow(row))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rows":    out,
		"summary": timeline.Summarize(rows),
	})
}

// ExportHandler serves stored aggregates as a CSV, XLSX or PDF document; the
// format is taken from the path extension.
type ExportHandler struct {
	repo run.Repository
}

// NewExportHandler constructs an ExportHandler.
func NewExportHandler(repo run.Repository) *ExportHandler {
	return &ExportHandler{repo: repo}
}

// ServeHTTP handles GET /api/v1/exports/online-seconds.{csv,xlsx,pdf}.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.repo == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	format, err := export.ParseFormat(strings.TrimPrefix(path.Ext(r.URL.Path), "."))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	query, err := parseQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	data, err := h.render(r.Context(), format, query)
	if err != nil {
		metrics.ObserveExport(string(format), metrics.ResultError, time.Since(start))
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport(string(format), metrics.ResultSuccess, time.Since(start))

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="online-seconds.`+string(format)+`"`)
	_, _ = w.Write(data)
}

func (h *ExportHandler) render(ctx context.Context, format export.Format, query run.Query) ([]byte, error) {
	rows, err := h.repo.ListAggregates(ctx, query)
	if err != nil {
		return nil, err
	}
	if format == export.FormatCSV {
		var buf bytes.Buffer
		if err := export.WriteCSV(&buf, rows); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	record := run.Record{Summary: timeline.Summarize(rows)}
	if latest, err := h.repo.LatestRun(ctx); err == nil {
		record.ID = latest.ID
		record.StartedAt = latest.StartedAt
		record.FinishedAt = latest.FinishedAt
	} else if !errors.Is(err, run.ErrNotFound) {
		return nil, err
	}
	if format == export.FormatXLSX {
		return export.BuildXLSX(record, rows)
	}
	return export.BuildPDF(record, rows)
}

// RunsHandler triggers runs and reports the latest one. Triggers are written
// to the audit log when one is set.
type RunsHandler struct {
	runner  Runner
	repo    run.Repository
	auditor audit.Logger
	logger  *log.Logger
}

// NewRunsHandler constructs a RunsHandler.
func NewRunsHandler(runner Runner, repo run.Repository, auditor audit.Logger, logger *log.Logger) *RunsHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &RunsHandler{runner: runner, repo: repo, auditor: auditor, logger: logger}
}

// ServeHTTP handles POST /api/v1/runs and GET /api/v1/runs/latest.
func (h *RunsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.runner == nil || h.repo == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	switch {
	case r.URL.Path == "/api/v1/runs" && r.Method == http.MethodPost:
		h.trigger(w, r)
	case r.URL.Path == "/api/v1/runs/latest" && r.Method == http.MethodGet:
		h.latest(w, r)
	case r.URL.Path == "/api/v1/runs" || r.URL.Path == "/api/v1/runs/latest":
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		http.NotFound(w, r)
	}
}

func (h *RunsHandler) trigger(w http.ResponseWriter, r *http.Request) {
	metrics.IncRunTrigger("http")
	result, err := h.runner.Run(r.Context())
	h.audit(r, result, err)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, result.Record)
	case errors.Is(err, application.ErrRunInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, timeline.ErrContractViolation), errors.Is(err, timeline.ErrInvariantViolation):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Printf("api: run error: %v", err)
		http.Error(w, "run error", http.StatusInternalServerError)
	}
}

func (h *RunsHandler) audit(r *http.Request, result *application.Result, runErr error) {
	if h.auditor == nil {
		return
	}
	resourceID := ""
	metadata := map[string]any{"result": metrics.ResultSuccess}
	if result != nil {
		resourceID = result.Record.ID
		metadata["rows"] = result.Record.Summary.Rows
	}
	if runErr != nil {
		metadata["result"] = metrics.ResultError
		metadata["error"] = runErr.Error()
	}
	entry := audit.FromRequest(r, audit.ActionRunTrigger, "presence_run", resourceID, metadata)
	if err := h.auditor.Log(r.Context(), entry); err != nil {
		h.logger.Printf("api: audit log error: %v", err)
	}
}

func (h *RunsHandler) latest(w http.ResponseWriter, r *http.Request) {
	record, err := h.repo.LatestRun(r.Context())
	if errors.Is(err, run.ErrNotFound) {
		http.Error(w, "no runs yet", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "query run error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type aggregateRow struct {
	ProviderID    string  `json:"provider_id"`
	Date          string  `json:"date"`
	HourStart     int     `json:"hour_start"`
	HourEnd       int     `json:"hour_end"`
	SecondsOnline float64 `json:"seconds_online"`
}

func toAggregateRow(row timeline.BucketAggregate) aggregateRow {
	return aggregateRow{
		ProviderID:    row.ProviderID,
		Date:          row.Date.Format(dateLayout),
		HourStart:     row.HourStart,
		HourEnd:       row.HourEnd,
		SecondsOnline: row.SecondsOnline,
	}
}

// parseQuery reads provider_id and the [from, to) date range.
func parseQuery(r *http.Request) (run.Query, error) {
	from, err := parseDateQuery(r, "from")
	if err != nil {
		return run.Query{}, err
	}
	to, err := parseDateQuery(r, "to")
	if err != nil {
		return run.Query{}, err
	}
	if !to.After(from) {
		return run.Query{}, errors.New("to must be after from")
	}
	return run.Query{ProviderID: r.URL.Query().Get("provider_id"), From: from, To: to}, nil
}

func parseDateQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, errors.New(key + " must be YYYY-MM-DD")
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
