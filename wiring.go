package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"

	"provider-presence/internal/eventing"
	eventingpg "provider-presence/internal/eventing/infrastructure/postgres"
	"provider-presence/internal/ingest"
	ingestpg "provider-presence/internal/ingest/postgres"
	"provider-presence/internal/presence/application"
	"provider-presence/internal/presence/application/eventbus"
	"provider-presence/internal/presence/domain/run"
	"provider-presence/internal/presence/infrastructure/memory"
	presencepg "provider-presence/internal/presence/infrastructure/postgres"
	"provider-presence/internal/presence/infrastructure/sqlite"
)

// overrides holds command line values that win over file and env config.
type overrides struct {
	datesFrom  *string
	datesTo    *string
	cutoffHour *int
	fromHour   *int
	workers    *int
	store      *string
	formats    *[]string
}

func registerOverrides(fs *pflag.FlagSet) *overrides {
	return &overrides{
		datesFrom:  fs.String("dates-from", "", "first reported date (YYYY-MM-DD)"),
		datesTo:    fs.String("dates-to", "", "last reported date (YYYY-MM-DD)"),
		cutoffHour: fs.Int("cutoff-hour", 0, "drop events at or after this hour"),
		fromHour:   fs.Int("operational-from-hour", -1, "drop report hours before this hour"),
		workers:    fs.Int("workers", 0, "providers resolved concurrently"),
		store:      fs.String("store", "", "memory, sqlite or postgres"),
		formats:    fs.StringSlice("formats", nil, "results formats: csv, xlsx, pdf"),
	}
}

func loadConfig(path string, o *overrides) (application.Config, error) {
	if path != "" {
		if err := os.Setenv("PRESENCE_CONFIG", path); err != nil {
			return application.Config{}, err
		}
	}
	cfg, err := application.LoadConfig()
	if err != nil {
		return cfg, err
	}
	if o == nil {
		return cfg, nil
	}
	if *o.datesFrom != "" || *o.datesTo != "" {
		cfg.Dates = application.DatesConfig{From: *o.datesFrom, To: *o.datesTo}
	}
	if *o.cutoffHour != 0 {
		cfg.CutoffHour = *o.cutoffHour
	}
	if *o.fromHour >= 0 {
		cfg.OperationalFromHour = *o.fromHour
	}
	if *o.workers != 0 {
		cfg.Workers = *o.workers
	}
	if *o.store != "" {
		cfg.Store.Kind = *o.store
	}
	if len(*o.formats) > 0 {
		cfg.Output.Formats = *o.formats
	}
	return cfg, cfg.Validate()
}

// runtime bundles the wired pipeline for one process.
type runtime struct {
	DB      *sql.DB
	Repo    run.Repository
	Bus     *eventbus.InMemoryBus
	Service *application.RunService
	closers []func() error
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i]()
	}
}

func buildRuntime(ctx context.Context, cfg application.Config, logger *log.Logger) (*runtime, error) {
	rt := &runtime{Bus: eventbus.NewInMemoryBus()}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	needsDB := cfg.Store.Kind == application.StorePostgres || cfg.Input.Kind == application.InputPostgres
	if needsDB {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		rt.closers = append(rt.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("db ping: %w", err)
		}
		rt.DB = db
		eventing.ForwardRunEvents(rt.Bus, eventingpg.NewOutboxStore(db), logger)
	}

	switch cfg.Store.Kind {
	case application.StoreMemory:
		rt.Repo = memory.NewRepository()
	case application.StoreSQLite:
		repo, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, repo.Close)
		rt.Repo = repo
	case application.StorePostgres:
		rt.Repo = presencepg.NewRepository(rt.DB)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store.Kind)
	}

	var source application.RecordSource
	switch cfg.Input.Kind {
	case application.InputCSV:
		source = application.NewCSVFileSource(cfg.Input.Path)
	case application.InputPostgres:
		from, to, err := cfg.InputWindow()
		if err != nil {
			return nil, err
		}
		source = application.NewWindowSource(ingestpg.NewEventSource(rt.DB), from, to)
	default:
		return nil, fmt.Errorf("unknown input kind %q", cfg.Input.Kind)
	}

	pre, err := ingest.NewPreprocessor(cfg.CutoffHour, logger)
	if err != nil {
		return nil, err
	}
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	formats, err := cfg.ExportFormats()
	if err != nil {
		return nil, err
	}
	persister := application.NewFilePersister(cfg.Output.ProcessedPath, cfg.Output.ResultsPath, formats)

	service, err := application.NewRunService(source, pre, engineCfg, rt.Repo,
		application.WithPersister(persister),
		application.WithEventBus(rt.Bus),
		application.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	rt.Service = service
	ok = true
	return rt, nil
}
