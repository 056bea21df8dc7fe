package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/localbrain/contextd/internal/logging"
	"github.com/localbrain/contextd/internal/mcp"
)

func newServeCmd(dataDir *string, debug *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over stdio",
		Long: `serve starts contextd's MCP server, exposing ingest_conversation,
search_memory, get_memory, list_recent_memories, consolidate_memories, and
the session-tracking tools to an MCP client over stdio.

The stdio transport reserves stdout for the JSON-RPC stream, so --debug
routes logs to ~/.context-orchestrator/logs/server.log instead of stderr.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *dataDir, *debug)
		},
	}
	return cmd
}

func runServe(ctx context.Context, dataDir string, debug bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if debug {
		cleanup, err := logging.SetupMCPMode()
		if err != nil {
			return fmt.Errorf("set up debug logging: %w", err)
		}
		defer cleanup()
	}

	d, err := buildDeps(ctx, dataDir)
	if err != nil {
		return fmt.Errorf("wire dependencies: %w", err)
	}
	defer d.Close()

	warmup := mcp.WarmupConfig{
		Threshold:       d.cfg.Project.PrefetchThreshold,
		PrefetchQueries: d.cfg.Project.PrefetchQueries,
	}
	server, err := mcp.NewServer(d.ingestSvc, d.engine, d.consolidation, d.sessions, warmup)
	if err != nil {
		return fmt.Errorf("create mcp server: %w", err)
	}
	defer func() { _ = server.Close() }()

	return server.Serve(ctx, d.cfg.Server.Transport)
}
