package apihttp

import (
	"log"
	"net/http"

	"provider-presence/internal/audit"
	"provider-presence/internal/presence/domain/run"
)

// Register mounts the presence API on mux. auditor may be nil.
func Register(mux *http.ServeMux, repo run.Repository, runner Runner, auditor audit.Logger, logger *log.Logger) {
	exports := NewExportHandler(repo)
	runs := NewRunsHandler(runner, repo, auditor, logger)

	mux.Handle("/api/v1/online-seconds", NewOnlineSecondsHandler(repo))
	mux.Handle("/api/v1/exports/online-seconds.csv", exports)
	mux.Handle("/api/v1/exports/online-seconds.xlsx", exports)
	mux.Handle("/api/v1/exports/online-seconds.pdf", exports)
	mux.Handle("/api/v1/runs", runs)
	mux.Handle("/api/v1/runs/latest", runs)
}
