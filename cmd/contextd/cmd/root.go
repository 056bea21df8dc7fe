// Package cmd provides the CLI commands for contextd.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/localbrain/contextd/pkg/version"
)

// NewRootCmd creates the root command for the contextd CLI.
func NewRootCmd() *cobra.Command {
	var dataDir string
	var debug bool

	cmd := &cobra.Command{
		Use:   "contextd",
		Short: "Local-first external memory MCP server",
		Long: `contextd is a personal external-brain MCP server: it ingests
conversation turns, indexes them for hybrid vector+lexical retrieval, and
periodically consolidates working memory into long-term storage.

Run 'contextd serve' to start the MCP server over stdio.`,
		Version: version.Version,
	}

	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the default data directory (~/.context-orchestrator)")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "write verbose structured logs to disk instead of stderr")

	cmd.AddCommand(newServeCmd(&dataDir, &debug))
	cmd.AddCommand(newConsolidateCmd(&dataDir))
	cmd.AddCommand(newDoctorCmd(&dataDir))
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newConfigCmd(&dataDir))
	cmd.AddCommand(newWatchCmd(&dataDir))

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
