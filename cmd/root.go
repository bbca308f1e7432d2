// Package cmd defines and implements the CLI commands for the
// linkcrawler executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webgraph/linkcrawler/internal/config"
	"github.com/webgraph/linkcrawler/internal/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linkcrawler",
		Short: "A concurrent web crawler that persists a link graph to Postgres",
		Long: `linkcrawler walks the web from a set of seed URLs, recording every
discovered URL and every page-to-page link in Postgres. Fetch outcomes
survive restarts: unfinished URLs are picked back up on the next run.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newStatsCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initRuntime loads configuration and builds the logger shared by all
// subcommands.
func initRuntime() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}
