package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"kanban/api/internal/app"
	"kanban/api/internal/config"
	"kanban/api/internal/lease"
	"kanban/api/internal/mailer"
	"kanban/api/internal/store"
	"kanban/api/internal/telemetry"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.WithError(err).Error("kanban-api failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Load()

	root := &cobra.Command{
		Use:           "kanban-api",
		Short:         "Team kanban board API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
	root.PersistentFlags().StringVar(&cfg.StoreDriver, "store", cfg.StoreDriver, "storage backend: postgres or memory")
	root.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "postgres connection string")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the deadline scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
	serveCmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()
			applied, err := store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir)
			if err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			log.WithField("applied", applied).Info("migrations complete")
			return nil
		},
	}

	scanCmd := &cobra.Command{
		Use:   "scan-deadlines",
		Short: "Run one deadline scan across all teams and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			shutdownTracing, err := initTracing(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer shutdownTracing()
			service, cleanup, err := buildService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			scanLease, closeLease, err := buildLease(cfg)
			if err != nil {
				return err
			}
			defer closeLease()
			n, err := app.NewScheduler(service, scanLease, cfg.DeadlineScanInterval, cfg.DeadlineLeaseTTL).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			log.WithField("recomputed", n).Info("deadline scan complete")
			return nil
		},
	}

	root.AddCommand(serveCmd, migrateCmd, scanCmd)
	return root
}

func configureLogging(cfg config.Config) {
	if strings.EqualFold(cfg.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

// buildService wires the configured store into an app.Service. The returned
// cleanup closes whatever the store opened.
func buildService(ctx context.Context, cfg config.Config) (*app.Service, func(), error) {
	opts := app.Options{
		Location: cfg.Location(),
		Mailer: mailer.NewService(mailer.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
	}

	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store; data is lost on restart")
		service := app.NewService(store.NewMemoryStore(), opts)
		if _, err := service.SeedDemo(ctx); err != nil {
			return nil, nil, fmt.Errorf("seed demo data: %w", err)
		}
		return service, func() {}, nil
	case "postgres", "":
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrations failed: %w", err)
		}
		if applied > 0 {
			log.WithField("applied", applied).Info("migrations applied")
		}
		return app.NewService(store.NewPostgresStore(db), opts), closeDB(db), nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// initTracing installs the exporter named by OTEL_TRACES_EXPORTER. The
// returned func flushes buffered spans.
func initTracing(ctx context.Context, cfg config.Config) (func(), error) {
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "kanban-api",
		ServiceVersion: "1.0.0",
		Exporter:       cfg.TracesExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		OTLPInsecure:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing setup failed: %w", err)
	}
	if cfg.TracesExporter != "none" {
		log.WithField("exporter", cfg.TracesExporter).Info("tracing enabled")
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			log.WithError(err).Warn("flush traces")
		}
	}, nil
}

func closeDB(db *sql.DB) func() {
	return func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("close database")
		}
	}
}

func buildLease(cfg config.Config) (lease.Lease, func(), error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Info("no REDIS_URL; deadline scans are not coordinated across replicas")
		return lease.Noop{}, func() {}, nil
	}
	redisLease, err := lease.NewRedisLease(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	log.Info("using Redis for deadline scan leases")
	return redisLease, func() { _ = redisLease.Close() }, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := initTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	service, cleanup, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	scanLease, closeLease, err := buildLease(cfg)
	if err != nil {
		return err
	}
	defer closeLease()

	scheduler := app.NewScheduler(service, scanLease, cfg.DeadlineScanInterval, cfg.DeadlineLeaseTTL)
	go scheduler.Run(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Addr).Info("kanban API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	log.Info("kanban API stopped")
	return nil
}
