// Package commands implements the operator CLI.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/timmy/confingest/internal/app"
	"github.com/timmy/confingest/internal/config"
	"github.com/timmy/confingest/internal/logger"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version string) error {
	return newRootCommand(version).ExecuteContext(ctx)
}

func newRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Submit and run configuration bundle ingestion jobs",
		Long: `ingest uploads Splunk-style configuration bundles to the blob store,
creates ingestion jobs for them and runs or inspects those jobs.

A job moves PENDING -> STORED -> PARSING -> NORMALIZED -> COMPLETE, or to
FAILED with a permanent, transient, timeout or exhausted error class.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logger.GetDefault().Logger.SetLevel(logrus.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newSubmitCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newStatusCommand())

	return rootCmd
}

// openApp loads configuration and wires the dependencies.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

// printResult writes v as indented JSON when --json is set, otherwise
// calls text.
func printResult(w io.Writer, v interface{}, text func(io.Writer)) error {
	if !jsonOutput {
		text(w)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
