// Package main wires together the sitewarden audit service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/api"
	"github.com/sitewarden/sitewarden/internal/archive/gcs"
	archivememory "github.com/sitewarden/sitewarden/internal/archive/memory"
	"github.com/sitewarden/sitewarden/internal/audit"
	"github.com/sitewarden/sitewarden/internal/browser"
	"github.com/sitewarden/sitewarden/internal/clock/system"
	"github.com/sitewarden/sitewarden/internal/config"
	"github.com/sitewarden/sitewarden/internal/health"
	"github.com/sitewarden/sitewarden/internal/logging"
	"github.com/sitewarden/sitewarden/internal/notify"
	notifymemory "github.com/sitewarden/sitewarden/internal/notify/memory"
	notifypubsub "github.com/sitewarden/sitewarden/internal/notify/pubsub"
	"github.com/sitewarden/sitewarden/internal/orchestrator"
	"github.com/sitewarden/sitewarden/internal/probe"
	"github.com/sitewarden/sitewarden/internal/ratelimit"
	"github.com/sitewarden/sitewarden/internal/report"
	reportmemory "github.com/sitewarden/sitewarden/internal/report/memory"
	reportpostgres "github.com/sitewarden/sitewarden/internal/report/postgres"
	"github.com/sitewarden/sitewarden/internal/suggest"
	"github.com/sitewarden/sitewarden/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sitewarden: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	telemetry.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := system.Clock{}

	pool := browser.NewPool(browser.PoolConfig{
		MaxSessions:   cfg.Pool.MaxSessions,
		MaxSessionAge: time.Duration(cfg.Pool.MaxSessionAgeSec) * time.Second,
		SweepInterval: time.Duration(cfg.Pool.SweepIntervalSec) * time.Second,
		ChromePath:    cfg.Pool.ChromePath,
		UserAgent:     cfg.Pool.UserAgent,
		DebugBasePort: cfg.Pool.RemoteDebuggingBase,
	}, clock, logger.Named("pool"))
	defer pool.Close()
	go pool.Run(ctx)

	navigator := browser.NewNavigator(browser.NavConfig{
		NetworkIdleTimeout: time.Duration(cfg.Navigation.NetworkIdleTimeoutSec) * time.Second,
		DOMReadyTimeout:    time.Duration(cfg.Navigation.DOMReadyTimeoutSec) * time.Second,
		LoadEventTimeout:   time.Duration(cfg.Navigation.LoadEventTimeoutSec) * time.Second,
		SettleDelay:        time.Duration(cfg.Navigation.SettleDelayMs) * time.Millisecond,
	}, logger.Named("navigator"))

	inspector := health.New(nil)

	axeSource, err := audit.LoadAxeSource(cfg.Audits.AxeSourcePath)
	if err != nil {
		return fmt.Errorf("load axe source: %w", err)
	}
	axe := audit.NewAxeAuditor(axeSource, logger.Named("axe"))
	auditors := []audit.Auditor{
		axe,
		audit.NewDynamicAuditor(axe, time.Duration(cfg.Audits.ActionSettleMs)*time.Millisecond, logger.Named("dynamic")),
		audit.NewContrastAuditor(logger.Named("contrast")),
	}
	lighthouse := audit.NewLighthouseRunner(
		cfg.Audits.LighthousePath,
		time.Duration(cfg.Audits.LighthouseTimeout)*time.Second,
		logger.Named("lighthouse"),
	)
	pipeline := audit.NewPipeline(auditors, lighthouse, logger.Named("pipeline"))

	limiter := ratelimit.New(ratelimit.Config{
		Window:        time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute,
		MaxRequests:   cfg.RateLimit.MaxRequests,
		SweepInterval: time.Duration(cfg.RateLimit.SweepIntervalMin) * time.Minute,
	}, clock, logger.Named("ratelimit"))
	go limiter.Run(ctx)

	reports, err := buildReportStore(ctx, cfg, clock, logger)
	if err != nil {
		return fmt.Errorf("init report store: %w", err)
	}

	orchCfg := orchestrator.Config{ArchivePrefix: cfg.Archive.Prefix}

	var publisher notify.Publisher
	if cfg.Notify.TopicName != "" {
		publisher, err = notifypubsub.New(ctx, cfg.Notify.ProjectID, cfg.Notify.TopicName)
		if err != nil {
			return fmt.Errorf("init pubsub publisher: %w", err)
		}
	} else {
		publisher = notifymemory.NewPublisher()
	}
	defer func() { _ = publisher.Close() }()
	orchCfg.Publisher = publisher

	if cfg.Archive.GCSBucket != "" {
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		defer func() { _ = client.Close() }()
		blobs, err := gcs.New(client, gcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		orchCfg.Archive = blobs
	} else {
		orchCfg.Archive = archivememory.NewBlobStore()
	}

	scanner := orchestrator.New(pool, navigator, inspector, pipeline, clock, logger.Named("scan"), orchCfg)

	prober, err := probe.New(probe.Config{
		UserAgent:      cfg.Pool.UserAgent,
		RequestTimeout: time.Duration(cfg.Probe.RequestTimeoutSeconds) * time.Second,
	}, inspector, logger.Named("probe"))
	if err != nil {
		return fmt.Errorf("init prober: %w", err)
	}

	suggester := suggest.New(suggest.Config{
		Endpoint:       cfg.Suggest.Endpoint,
		APIKey:         cfg.Suggest.APIKey,
		Model:          cfg.Suggest.Model,
		RequestsPerSec: cfg.Suggest.RequestsPerSec,
		TimeoutSeconds: cfg.Suggest.TimeoutSeconds,
	}, logger)

	server := api.NewServer(scanner, prober, reports, limiter, suggester, pool, api.Config{
		RequestTimeout:  cfg.RequestTimeout(),
		MaxPoolSessions: cfg.Pool.MaxSessions,
	}, logger.Named("http"))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// buildReportStore selects the Postgres store when a DSN is configured,
// otherwise the in-memory store. Background sweeps run until ctx finishes.
func buildReportStore(ctx context.Context, cfg config.Config, clock system.Clock, logger *zap.Logger) (report.Store, error) {
	maxAge := time.Duration(cfg.Reports.MaxAgeHours) * time.Hour
	sweepInterval := time.Duration(cfg.Reports.SweepIntervalMin) * time.Minute

	if cfg.Reports.PostgresDSN != "" {
		store, err := reportpostgres.New(ctx, reportpostgres.Config{
			DSN:    cfg.Reports.PostgresDSN,
			Table:  cfg.Reports.PostgresTable,
			MaxAge: maxAge,
		}, clock)
		if err != nil {
			return nil, err
		}
		go func() {
			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					store.Close()
					return
				case <-ticker.C:
					if n, err := store.Sweep(ctx); err != nil {
						logger.Warn("report sweep failed", zap.Error(err))
					} else if n > 0 {
						logger.Debug("reports swept", zap.Int64("removed", n))
					}
				}
			}
		}()
		return store, nil
	}

	store := reportmemory.New(reportmemory.Config{
		MaxAge:        maxAge,
		MaxEntries:    cfg.Reports.MaxEntries,
		SweepInterval: sweepInterval,
	}, clock, logger.Named("reports"))
	go store.Run(ctx)
	return store, nil
}
