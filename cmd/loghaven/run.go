package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loghaven/loghaven/pkg/cli"
	"github.com/loghaven/loghaven/pkg/config"
	"github.com/loghaven/loghaven/pkg/retention"
	"github.com/loghaven/loghaven/pkg/retention/storage"
	"github.com/loghaven/loghaven/pkg/server"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	watchConfig   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the LogHaven server",
	Long: `Start the LogHaven server with the specified configuration.

The server exposes the retention API, serves metrics, and runs scheduled
cleanup passes according to the configured cron schedule.

Examples:
  # Start with default config
  loghaven run

  # Start with custom config
  loghaven run --config /etc/loghaven/config.yaml

  # Override listen address
  loghaven run --listen 0.0.0.0:8080`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.watchConfig, "watch-config", true, "reload the config file on change")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger := newLogger(&cfg.Telemetry.Logging)
	slog.SetDefault(logger)
	logger.Info("starting loghaven",
		"version", Version,
		"addr", cfg.Server.ListenAddress,
		"db", cfg.Storage.Path,
	)

	store, err := storage.NewSQLiteStore(&storage.SQLiteConfig{
		Driver:          cfg.Storage.Driver,
		Path:            cfg.Storage.Path,
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		WALMode:         cfg.Storage.WALMode,
		BusyTimeout:     cfg.Storage.BusyTimeout,
		DeleteBatchSize: cfg.Retention.DeleteBatchSize,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer store.Close()

	var registry *prometheus.Registry
	var metrics *retention.Metrics
	if cfg.Telemetry.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		metrics = retention.NewMetrics(registry)
	}

	resolver := retention.NewResolver(store, logger)
	executor := retention.NewExecutor(store, logger)
	coordinator := retention.NewCoordinator(store, resolver, executor, metrics,
		&retention.CoordinatorConfig{StaleAfter: cfg.Retention.StaleAfter}, logger)
	previewer := retention.NewPreviewer(store, resolver, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := retention.NewScheduler(coordinator, cfg.Retention.Schedule, logger)
	if err := scheduler.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	defer scheduler.Stop()

	if runFlags.watchConfig {
		watcher := config.NewWatcher(&config.WatcherConfig{Path: cfgFile}, logger)
		go func() {
			err := watcher.Watch(ctx, func(next *config.Config) {
				if err := scheduler.Reschedule(ctx, next.Retention.Schedule); err != nil {
					logger.Error("failed to apply new cleanup schedule", "error", err)
				}
			})
			if err != nil {
				logger.Error("config watcher exited", "error", err)
			}
		}()
	}

	srv := server.NewServer(&cfg.Server, coordinator, previewer, registry, logger)
	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	return nil
}

// newLogger builds the process logger from telemetry configuration.
func newLogger(cfg *config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
