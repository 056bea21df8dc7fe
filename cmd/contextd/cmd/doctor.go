package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newDoctorCmd(dataDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the data directory, indexes, and embedder are healthy",
		Long: `doctor opens the configured data directory's vector store, lexical
index, and memory registry, and reports whether the embedder's dimensions
match the persisted vector store. Dimension-mismatch and index-integrity
checks happen as a side effect of opening each store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), cmd, *dataDir)
		},
	}
	return cmd
}

func runDoctor(ctx context.Context, cmd *cobra.Command, dataDir string) error {
	d, err := buildDeps(ctx, dataDir)
	if err != nil {
		cmd.Printf("FAIL: %s\n", err)
		return err
	}
	defer d.Close()

	cmd.Printf("OK: data_dir=%s\n", d.cfg.DataDir)
	cmd.Printf("OK: embedder model=%s dimensions=%d\n", d.embedder.ModelName(), d.embedder.Dimensions())
	cmd.Printf("OK: vector store entries=%d\n", d.vector.Count())
	cmd.Printf("OK: lexical index stats=%+v\n", d.lexical.Stats())

	if needsStartup, err := d.consolidation.ShouldRunOnStartup(ctx); err != nil {
		return fmt.Errorf("check consolidation schedule: %w", err)
	} else if needsStartup {
		cmd.Printf("NOTE: consolidation is due; run 'contextd consolidate'\n")
	}

	return nil
}
