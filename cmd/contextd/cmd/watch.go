package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/localbrain/contextd/internal/ingest"
	"github.com/localbrain/contextd/internal/watcher"
)

func newWatchCmd(dataDir *string) *cobra.Command {
	var source string
	var pollOnly bool

	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Watch a vault or project directory and ingest changed notes",
		Long: `watch starts a filesystem watcher over the given directory and
ingests every created or modified markdown file as a conversation turn,
keeping the vector and lexical indexes in sync with notes edited outside of
an MCP client. Renames and deletes are logged but not yet reconciled against
the indexes; a .gitignore or contextd.yaml change triggers a log message so
an operator knows a fuller reconciliation may be needed.

Use --source to tag ingested memories as coming from an Obsidian vault
(the default) or a plain editor.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd, *dataDir, args[0], source, pollOnly)
		},
	}

	cmd.Flags().StringVar(&source, "source", "obsidian", "ingestion source to tag memories with: obsidian or editor")
	cmd.Flags().BoolVar(&pollOnly, "poll", false, "use a 2s polling interval for the polling fallback; fsnotify is still used whenever it is available")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, dataDir, root, sourceFlag string, pollOnly bool) error {
	var src ingest.Source
	switch sourceFlag {
	case "obsidian":
		src = ingest.SourceObsidian
	case "editor":
		src = ingest.SourceEditor
	default:
		return fmt.Errorf("unknown --source %q (use: obsidian, editor)", sourceFlag)
	}

	d, err := buildDeps(ctx, dataDir)
	if err != nil {
		return fmt.Errorf("wire dependencies: %w", err)
	}
	defer d.Close()

	opts := watcher.DefaultOptions()
	if pollOnly {
		opts.PollInterval = 2 * time.Second
	}

	w, err := watcher.NewHybridWatcher(opts)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	cmd.Printf("watching %s (%s, source=%s)\n", absRoot, w.WatcherType(), src)

	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx, absRoot) }()
	defer func() { _ = w.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil && err != context.Canceled {
				return fmt.Errorf("watcher stopped: %w", err)
			}
			return nil
		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			for _, ev := range batch {
				handleWatchEvent(ctx, cmd, d, absRoot, src, ev)
			}
		case watchErr, ok := <-w.Errors():
			if !ok {
				continue
			}
			slog.Warn("watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func handleWatchEvent(ctx context.Context, cmd *cobra.Command, d *deps, root string, src ingest.Source, ev watcher.FileEvent) {
	switch ev.Operation {
	case watcher.OpGitignoreChange:
		slog.Info("gitignore changed, index reconciliation recommended", slog.String("path", ev.Path))
		return
	case watcher.OpConfigChange:
		slog.Info("vault config changed, restart to pick up new settings", slog.String("path", ev.Path))
		return
	case watcher.OpDelete, watcher.OpRename:
		slog.Info("file removed or renamed, index left untouched", slog.String("op", ev.Operation.String()), slog.String("path", ev.Path))
		return
	}

	if ev.IsDir || !strings.EqualFold(filepath.Ext(ev.Path), ".md") {
		return
	}

	absPath := filepath.Join(root, ev.Path)
	content, err := os.ReadFile(absPath)
	if err != nil {
		slog.Warn("read changed file", slog.String("path", absPath), slog.String("error", err.Error()))
		return
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return
	}

	conv := ingest.Conversation{
		UserText:  string(content),
		Timestamp: ev.Timestamp,
		Source:    src,
		Metadata:  map[string]string{"watch_path": ev.Path},
	}

	id, err := d.ingestSvc.Ingest(ctx, conv)
	if err != nil {
		slog.Warn("ingest changed file", slog.String("path", ev.Path), slog.String("error", err.Error()))
		return
	}
	cmd.Printf("ingested %s -> %s\n", ev.Path, id)
}
