// Package cmd implements the commonbase command line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/your-commonbase/commonbase/internal/log"
)

var (
	flagVerbose bool
	flagJSONLog bool
)

var rootCmd = &cobra.Command{
	Use:   "commonbase",
	Short: "Commonbase - a personal knowledge base with semantic search",
	Long: `Commonbase stores text and image entries in Postgres, embeds them for
semantic search and keeps a link graph between related entries.

Run "commonbase serve" to start the HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLog, "json-log", false, "log in JSON format")
}

// newLogger builds the process logger from the global flags.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: flagJSONLog})
}
