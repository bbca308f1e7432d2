package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/webgraph/linkcrawler/internal/storage/postgres"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Prints aggregate crawl totals from the database",
		RunE:  runStatsCommand,
	}
}

func runStatsCommand(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := initRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	counts, err := postgres.NewURLStore(pool).Counts(ctx)
	if err != nil {
		return err
	}

	unknown := counts.Total - counts.Succeeded - counts.Failed
	cmd.Printf("urls discovered:  %d\n", counts.Total)
	cmd.Printf("  succeeded:      %d\n", counts.Succeeded)
	cmd.Printf("  failed:         %d\n", counts.Failed)
	cmd.Printf("  pending:        %d\n", unknown)
	cmd.Printf("transport errors: %d\n", counts.TransportErrors)
	cmd.Printf("link edges:       %d\n", counts.Edges)
	return nil
}
