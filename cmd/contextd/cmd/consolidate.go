package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newConsolidateCmd(dataDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run a consolidation pass and print its statistics",
		Long: `consolidate manually triggers the tier-migration, clustering,
compression, and forgetting pass outside of the MCP server's
consolidate_memories tool, and prints the resulting statistics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConsolidate(cmd.Context(), cmd, *dataDir)
		},
	}
	return cmd
}

func runConsolidate(ctx context.Context, cmd *cobra.Command, dataDir string) error {
	d, err := buildDeps(ctx, dataDir)
	if err != nil {
		return fmt.Errorf("wire dependencies: %w", err)
	}
	defer d.Close()

	stats, err := d.consolidation.Run(ctx)
	if err != nil {
		return fmt.Errorf("consolidation run: %w", err)
	}

	cmd.Printf("migrated=%d clusters_formed=%d representatives=%d compressed=%d forgotten=%d orphans_removed=%d duration=%s\n",
		stats.Migrated, stats.ClustersFormed, stats.Representatives, stats.Compressed, stats.Forgotten, stats.OrphansRemoved, stats.Duration)
	return nil
}
