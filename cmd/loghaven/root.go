package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "loghaven",
	Short: "LogHaven - self-hosted log collection and retention",
	Long: `LogHaven is a self-hosted log collection and viewing server.

This binary hosts the retention cleanup engine:
  - Cascading retention policies: per-app, per-environment, global default
  - Time-based and count-based retention rules per priority tier
  - Dry-run preview of deletions
  - Scheduled and manual cleanup runs with a persisted audit trail`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
