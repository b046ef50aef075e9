package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/loghaven/loghaven/pkg/cli"
	"github.com/loghaven/loghaven/pkg/config"
	"github.com/loghaven/loghaven/pkg/retention"
	"github.com/loghaven/loghaven/pkg/retention/storage"
)

var cleanupFlags struct {
	appID  string
	output string
	limit  int
	offset int
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run, preview, and inspect retention cleanup",
}

var cleanupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Trigger a cleanup run",
	Long: `Trigger a synchronous cleanup run and print the finished run record.

The run is scoped to one app with --app, otherwise it covers every app. The
command fails with a conflict error if another run is already active.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine) error {
			run, err := eng.coordinator.Run(ctx, retention.TriggerManual, optionalFlag(cleanupFlags.appID))
			if err != nil {
				return cli.NewCommandError("cleanup run", err)
			}
			return formatter().FormatTo(os.Stdout, runList{run})
		})
	},
}

var cleanupPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Preview what a cleanup run would delete",
	Long:  `Count the log records a cleanup run would delete, without deleting anything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine) error {
			preview, err := eng.previewer.Preview(ctx, optionalFlag(cleanupFlags.appID))
			if err != nil {
				return cli.NewCommandError("cleanup preview", err)
			}
			return formatter().FormatTo(os.Stdout, previewTable{preview})
		})
	},
}

var cleanupHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List past cleanup runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, eng *engine) error {
			runs, err := eng.coordinator.Runs(ctx, cleanupFlags.limit, cleanupFlags.offset)
			if err != nil {
				return cli.NewCommandError("cleanup history", err)
			}
			return formatter().FormatTo(os.Stdout, runList(runs))
		})
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.AddCommand(cleanupRunCmd, cleanupPreviewCmd, cleanupHistoryCmd)

	cleanupCmd.PersistentFlags().StringVar(&cleanupFlags.appID, "app", "", "scope to a single app id")
	cleanupCmd.PersistentFlags().StringVarP(&cleanupFlags.output, "output", "o", "text", "output format (text, json)")
	cleanupHistoryCmd.Flags().IntVar(&cleanupFlags.limit, "limit", 20, "maximum runs to list")
	cleanupHistoryCmd.Flags().IntVar(&cleanupFlags.offset, "offset", 0, "runs to skip")
}

// engine bundles the pieces the cleanup subcommands need.
type engine struct {
	coordinator *retention.Coordinator
	previewer   *retention.Previewer
}

// withEngine loads configuration, opens storage, and hands a ready engine to
// fn, closing everything afterwards.
func withEngine(fn func(context.Context, *engine) error) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

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
		return err
	}
	defer store.Close()

	resolver := retention.NewResolver(store, logger)
	executor := retention.NewExecutor(store, logger)
	coordinator := retention.NewCoordinator(store, resolver, executor, nil,
		&retention.CoordinatorConfig{StaleAfter: cfg.Retention.StaleAfter}, logger)
	previewer := retention.NewPreviewer(store, resolver, logger)

	return fn(context.Background(), &engine{coordinator: coordinator, previewer: previewer})
}

func formatter() cli.Formatter {
	return cli.NewFormatter(cli.OutputFormat(cleanupFlags.output))
}

func optionalFlag(val string) *string {
	if val == "" {
		return nil
	}
	return &val
}

// runList renders cleanup runs as a table in text mode.
type runList []*retention.CleanupRun

func (l runList) Headers() []string {
	return []string{"ID", "TRIGGER", "STATUS", "STARTED", "DURATION", "DELETED", "DIAGNOSTICS"}
}

func (l runList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, run := range l {
		duration := "-"
		if run.CompletedAt != nil {
			duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		rows = append(rows, []string{
			run.ID,
			string(run.Trigger),
			string(run.Status),
			run.StartedAt.Format(time.RFC3339),
			duration,
			strconv.FormatInt(run.LogsDeleted, 10),
			strconv.Itoa(len(run.Diagnostics)),
		})
	}
	return rows
}

// previewTable renders a preview breakdown as a table in text mode.
type previewTable struct {
	*retention.PreviewResult
}

func (p previewTable) Headers() []string {
	return []string{"APP", "TIER", "SOURCE", "WOULD DELETE"}
}

func (p previewTable) Rows() [][]string {
	rows := make([][]string, 0, len(p.Pairs)+1)
	for _, pair := range p.Pairs {
		rows = append(rows, []string{
			pair.AppName,
			string(pair.Tier),
			string(pair.Source),
			strconv.FormatInt(pair.Count, 10),
		})
	}
	rows = append(rows, []string{"TOTAL", "", "", strconv.FormatInt(p.Total, 10)})
	return rows
}
