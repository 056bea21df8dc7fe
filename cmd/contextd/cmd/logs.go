package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localbrain/contextd/internal/logging"
)

func newLogsCmd() *cobra.Command {
	var source string
	var follow bool
	var lines int
	var level string
	var noColor bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Tail contextd's debug logs",
		Long: `logs reads the server's --debug log file (and, if present, the
external reasoner subprocess's log) and prints the most recent entries,
optionally filtering by level and following new lines as they're written.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd.Context(), cmd, source, level, lines, follow, noColor)
		},
	}

	cmd.Flags().StringVar(&source, "source", "go", "log source to read: go, reasoner, or all")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep reading new log lines as they arrive")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of recent lines to show")
	cmd.Flags().StringVar(&level, "level", "", "minimum level to show: debug, info, warn, error")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI color output")

	return cmd
}

func runLogs(ctx context.Context, cmd *cobra.Command, source, level string, lines int, follow, noColor bool) error {
	paths, err := logging.FindLogFileBySource(logging.ParseLogSource(source), "")
	if err != nil {
		return err
	}

	viewer := logging.NewViewer(logging.ViewerConfig{Level: level, NoColor: noColor, ShowSource: len(paths) > 1}, cmd.OutOrStdout())

	entries, err := viewer.TailMultiple(paths, lines)
	if err != nil {
		return fmt.Errorf("tail logs: %w", err)
	}
	viewer.Print(entries)

	if !follow {
		return nil
	}

	ch := make(chan logging.LogEntry, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- viewer.FollowMultiple(ctx, paths, ch)
	}()

	for {
		select {
		case entry, ok := <-ch:
			if !ok {
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), viewer.FormatEntry(entry))
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return nil
		}
	}
}
