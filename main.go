package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	apihttp "provider-presence/internal/api/http"
	"provider-presence/internal/audit"
	"provider-presence/internal/auth"
	"provider-presence/internal/observability/metrics"
	"provider-presence/internal/presence/application"
	"provider-presence/internal/presence/application/eventbus"
	"provider-presence/internal/presence/application/events"
	"provider-presence/internal/report/export"
)

const usage = `usage:
  presence run [flags] [RAW PROCESSED RESULTS]
  presence serve [flags]
  presence token --subject NAME [--role viewer|admin] [--ttl 24h]
`

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(ctx, os.Args[2:], logger)
	case "serve":
		err = serveCommand(ctx, os.Args[2:], logger)
	case "token":
		err = tokenCommand(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Fatalf("presence %s: %v", os.Args[1], err)
	}
}

// runCommand executes a single pipeline run. Positional arguments are the raw
// input, processed output and results output paths.
func runCommand(ctx context.Context, args []string, logger *log.Logger) error {
	fs := pflag.NewFlagSet("run", pflag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file (overrides PRESENCE_CONFIG)")
	profile := fs.Bool("profile", true, "print the hourly online profile")
	overrides := registerOverrides(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, overrides)
	if err != nil {
		return err
	}
	switch rest := fs.Args(); len(rest) {
	case 0:
	case 3:
		cfg.Input.Kind = application.InputCSV
		cfg.Input.Path = rest[0]
		cfg.Output.ProcessedPath = rest[1]
		cfg.Output.ResultsPath = rest[2]
	default:
		return fmt.Errorf("expected RAW PROCESSED RESULTS, got %d arguments", len(rest))
	}

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	eventbus.On(rt.Bus, func(ctx context.Context, e events.RunCompleted) error {
		fmt.Print(export.RenderSummary(e.Summary, e.DroppedEvents))
		return nil
	})

	metrics.IncRunTrigger("cli")
	result, err := rt.Service.Run(ctx)
	if err != nil {
		return err
	}
	if *profile {
		fmt.Println(export.RenderProfile(result.Report.Rows, 72, 10))
	}
	return nil
}

func serveCommand(ctx context.Context, args []string, logger *log.Logger) error {
	fs := pflag.NewFlagSet("serve", pflag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file (overrides PRESENCE_CONFIG)")
	overrides := registerOverrides(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, overrides)
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET (jwt_secret) is required to serve")
	}

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	metrics.Init(rt.DB, logger)

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	authMiddleware.Logger = logger

	var auditor audit.Logger = audit.NewLogWriter(logger)
	if rt.DB != nil {
		auditor = audit.NewRepository(rt.DB)
	}

	mux := http.NewServeMux()
	apihttp.Register(mux, rt.Repo, rt.Service, auditor, logger)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.Schedule.DailyAt != "" {
		scheduler := application.NewScheduler(rt.Service, cfg.Schedule.DailyAt, logger)
		g.Go(func() error {
			scheduler.Start(gctx)
			return nil
		})
	}
	if cfg.Watch && cfg.Input.Kind == application.InputCSV {
		watcher, err := application.NewWatcher(rt.Service, cfg.Input.Path, cfg.WatchDebounce, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return watcher.Start(gctx) })
	}
	return g.Wait()
}

func tokenCommand(args []string) error {
	fs := pflag.NewFlagSet("token", pflag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file (overrides PRESENCE_CONFIG)")
	subject := fs.String("subject", "", "token subject")
	role := fs.String("role", string(auth.RoleViewer), "viewer or admin")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, nil)
	if err != nil {
		return err
	}
	token, err := auth.IssueToken([]byte(cfg.JWTSecret), *subject, auth.Role(*role), *ttl, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
