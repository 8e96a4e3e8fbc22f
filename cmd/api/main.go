package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docutag/linkmeta"
	"github.com/docutag/linkmeta/api"
	"github.com/docutag/linkmeta/config"
	"github.com/docutag/linkmeta/db"
	"github.com/docutag/linkmeta/images"
	"github.com/docutag/linkmeta/metrics"
	"github.com/docutag/linkmeta/pipeline"
	"github.com/docutag/linkmeta/scheduler"
	"github.com/docutag/linkmeta/storage"
	"github.com/docutag/linkmeta/tracing"
)

func main() {
	if err := run(); err != nil {
		slog.Error("linkmeta exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("linkmeta service initializing", "version", "1.0.0")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("error shutting down tracer", "error", err)
			}
		}()
	}

	if cfg.AllowPrivateNetworks {
		logger.Warn("private network access enabled, SSRF protection is off")
	}
	engine := linkmeta.New(cfg.Engine())

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	persister := images.NewPersister(engine.Client(), store, cfg.Images)

	var records pipeline.RecordStore
	if cfg.DatabaseEnabled() {
		database, err := db.Open(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()
		records = database
		logger.Info("using PostgreSQL database", "host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Name)

		if n, err := database.CountImages(ctx); err == nil {
			logger.Info("stored images", "count", n)
		}
		go reportDBStats(ctx, database)
	} else {
		records = pipeline.NewMemoryStore()
		logger.Warn("DB_HOST not set, records are kept in memory")
	}

	proc := pipeline.New(records, engine, persister, engine.LinkChecker(), cfg.Scraper.LinkCheck.SweepDelay, cfg.Pipeline)

	deps := api.Deps{
		Engine:    engine,
		Records:   records,
		Processor: proc,
		Images:    store,
	}

	if cfg.Sweep.Enabled {
		sweeper, err := scheduler.New("link-sweep", cfg.Sweep.Schedule, nil, func(ctx context.Context) error {
			_, err := proc.RunLinkSweep(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to create link sweep scheduler: %w", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
		deps.Sweep = sweeper
		logger.Info("link sweep scheduled", "schedule", cfg.Sweep.Schedule, "next", sweeper.Next())
	}

	server := api.NewServer(api.Config{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		CORSEnabled: cfg.Server.CORSEnabled,
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
		TrustProxy:  cfg.Server.TrustProxy,
	}, deps)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("linkmeta service starting",
			"port", cfg.Server.Port,
			"storage_backend", cfg.Storage.Backend,
			"database_enabled", cfg.DatabaseEnabled(),
			"sweep_enabled", cfg.Sweep.Enabled,
		)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageS3:
		store, err := storage.NewS3Store(ctx, cfg.Storage.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 storage: %w", err)
		}
		slog.Info("using S3 image storage", "bucket", cfg.Storage.S3.Bucket, "endpoint", cfg.Storage.S3.Endpoint)
		return store, nil
	default:
		store, err := storage.NewFileStore(storage.Config{BasePath: cfg.Storage.Path})
		if err != nil {
			return nil, fmt.Errorf("failed to create file storage: %w", err)
		}
		slog.Info("using filesystem image storage", "path", cfg.Storage.Path)
		return store, nil
	}
}

func reportDBStats(ctx context.Context, database *db.DB) {
	dbMetrics := metrics.NewDatabaseMetrics("linkmeta")
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dbMetrics.UpdateDBStats(database.DB())
		}
	}
}
