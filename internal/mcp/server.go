package mcp

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/localbrain/contextd/internal/consolidation"
	coreerrors "github.com/localbrain/contextd/internal/errors"
	"github.com/localbrain/contextd/internal/ingest"
	"github.com/localbrain/contextd/internal/search"
	"github.com/localbrain/contextd/internal/session"
	"github.com/localbrain/contextd/pkg/version"
)

// warmupTimeout bounds the detached goroutine maybeWarmProjectPool spawns,
// so a slow embedder or router never leaves one running indefinitely.
const warmupTimeout = 2 * time.Minute

// WarmupConfig carries the project pool warm-up trigger settings (internal
// /config's ProjectConfig), passed through unchanged from the resolved
// configuration.
type WarmupConfig struct {
	// Threshold is the project_hint confidence that triggers warm-up.
	Threshold float64
	// PrefetchQueries are run through the search engine to prime the
	// cross-encoder cache once Threshold is crossed.
	PrefetchQueries []string
}

// Server is the MCP server for contextd. It bridges MCP clients with the
// ingestion pipeline, hybrid search engine, consolidation job, and session
// tracker.
type Server struct {
	mcp *mcp.Server

	ingest        *ingest.Service
	engine        *search.Engine
	consolidation *consolidation.Service
	sessions      *session.Manager
	warmup        WarmupConfig

	logger *slog.Logger
}

// NewServer creates a new MCP server wired to the core services. warmup's
// zero value disables pool warm-up (a zero Threshold can never be crossed
// by a confidence in [0,1]).
func NewServer(ingestSvc *ingest.Service, engine *search.Engine, consolidationSvc *consolidation.Service, sessions *session.Manager, warmup WarmupConfig) (*Server, error) {
	if ingestSvc == nil {
		return nil, errors.New("ingest service is required")
	}
	if engine == nil {
		return nil, errors.New("search engine is required")
	}
	if consolidationSvc == nil {
		return nil, errors.New("consolidation service is required")
	}
	if sessions == nil {
		return nil, errors.New("session manager is required")
	}

	s := &Server{
		ingest:        ingestSvc,
		engine:        engine,
		consolidation: consolidationSvc,
		sessions:      sessions,
		warmup:        warmup,
		logger:        slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "contextd",
			Version: version.Version,
		},
		nil, // ServerOptions - capabilities are inferred from registered tools
	)

	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "contextd", version.Version
}

// registerTools registers the nine MCP tools the server exposes.
func (s *Server) registerTools() {
	s.logger.Debug("registering MCP tools")

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest_conversation",
		Description: "Store a conversation turn in long-term memory. Classifies, summarises, chunks, embeds, and indexes it for later retrieval.",
	}, s.mcpIngestConversationHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_memory",
		Description: "Retrieve the most relevant stored memories for a query, combining vector and lexical search with reranking.",
	}, s.mcpSearchMemoryHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_memory",
		Description: "Fetch a single memory by id, including its full content and metadata.",
	}, s.mcpGetMemoryHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_recent_memories",
		Description: "List the most recently ingested memories, optionally filtered by metadata.",
	}, s.mcpListRecentMemoriesHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "consolidate_memories",
		Description: "Run the tier-migration, clustering, compression, and forgetting pass synchronously and return its statistics.",
	}, s.mcpConsolidateMemoriesHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "start_session",
		Description: "Begin tracking a new command-event session for project-hint derivation.",
	}, s.mcpStartSessionHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "add_command",
		Description: "Append a command event to a session and return its updated project hint.",
	}, s.mcpAddCommandHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "end_session",
		Description: "Close a session. The caller is responsible for turning its event log into an ingestible conversation.",
	}, s.mcpEndSessionHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_reranker_metrics",
		Description: "Report the cross-encoder cache's hit/miss counters and scoring volume.",
	}, s.mcpRerankerMetricsHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", 9))
}

func (s *Server) mcpIngestConversationHandler(ctx context.Context, _ *mcp.CallToolRequest, input IngestConversationInput) (
	*mcp.CallToolResult,
	IngestConversationOutput,
	error,
) {
	if input.User == "" && input.Assistant == "" {
		return nil, IngestConversationOutput{}, NewInvalidParamsError("at least one of user or assistant text is required")
	}

	conv := ingest.Conversation{
		UserText:      input.User,
		AssistantText: input.Assistant,
		Source:        ingest.Source(input.Source),
		Refs:          input.Refs,
		ProjectID:     input.ProjectID,
		Language:      input.Language,
		Metadata:      input.Metadata,
	}
	if input.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, input.Timestamp)
		if err != nil {
			return nil, IngestConversationOutput{}, NewInvalidParamsError("timestamp must be RFC3339/ISO-8601")
		}
		conv.Timestamp = ts
	}

	id, err := s.ingest.Ingest(ctx, conv)
	if err != nil {
		return nil, IngestConversationOutput{}, MapError(err)
	}
	return nil, IngestConversationOutput{MemoryID: id}, nil
}

func (s *Server) mcpSearchMemoryHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchMemoryInput) (
	*mcp.CallToolResult,
	SearchMemoryOutput,
	error,
) {
	if input.Query == "" {
		return nil, SearchMemoryOutput{}, NewInvalidParamsError("query parameter is required")
	}

	q := search.Query{
		Text:      input.Query,
		ProjectID: input.ProjectID,
		TopK:      input.TopK,
	}
	if len(input.Filters) > 0 {
		q.Filter = input.Filters
	}

	results, err := s.engine.Search(ctx, q)
	if err != nil {
		return nil, SearchMemoryOutput{}, MapError(err)
	}

	output := SearchMemoryOutput{Results: make([]SearchResultOutput, 0, len(results))}
	for _, r := range results {
		if !input.IncludeSessionSummaries && r.Memory.Content == "" {
			continue
		}
		output.Results = append(output.Results, ToSearchResultOutput(r))
	}
	return nil, output, nil
}

func (s *Server) mcpGetMemoryHandler(ctx context.Context, _ *mcp.CallToolRequest, input GetMemoryInput) (
	*mcp.CallToolResult,
	GetMemoryOutput,
	error,
) {
	if input.MemoryID == "" {
		return nil, GetMemoryOutput{}, NewInvalidParamsError("memory_id parameter is required")
	}

	mem, err := s.engine.Registry.Get(ctx, input.MemoryID)
	if err != nil {
		return nil, GetMemoryOutput{}, MapError(err)
	}
	if mem == nil {
		return nil, GetMemoryOutput{}, MapError(coreerrors.NotFound("memory not found", nil).WithDetail("memory_id", input.MemoryID))
	}

	if err := s.engine.Registry.UpdateAccess(ctx, mem.ID, time.Now()); err != nil {
		s.logger.Warn("failed to record memory access", slog.String("memory_id", mem.ID), slog.String("error", err.Error()))
	}

	return nil, GetMemoryOutput{Memory: ToMemoryOutput(mem)}, nil
}

func (s *Server) mcpListRecentMemoriesHandler(ctx context.Context, _ *mcp.CallToolRequest, input ListRecentMemoriesInput) (
	*mcp.CallToolResult,
	ListRecentMemoriesOutput,
	error,
) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	memories, err := s.engine.Registry.ListRecent(ctx, limit, input.Filters)
	if err != nil {
		return nil, ListRecentMemoriesOutput{}, MapError(err)
	}

	output := ListRecentMemoriesOutput{Memories: make([]MemoryOutput, 0, len(memories))}
	for _, m := range memories {
		output.Memories = append(output.Memories, ToMemoryOutput(m))
	}
	return nil, output, nil
}

func (s *Server) mcpConsolidateMemoriesHandler(ctx context.Context, _ *mcp.CallToolRequest, _ ConsolidateMemoriesInput) (
	*mcp.CallToolResult,
	ConsolidateMemoriesOutput,
	error,
) {
	stats, err := s.consolidation.Run(ctx)
	if err != nil {
		return nil, ConsolidateMemoriesOutput{}, MapError(coreerrors.ConsolidationFailed("consolidation pass failed", err))
	}

	return nil, ConsolidateMemoriesOutput{
		Migrated:        stats.Migrated,
		ClustersFormed:  stats.ClustersFormed,
		Representatives: stats.Representatives,
		Compressed:      stats.Compressed,
		Forgotten:       stats.Forgotten,
		OrphansRemoved:  stats.OrphansRemoved,
		DurationMillis:  stats.Duration.Milliseconds(),
	}, nil
}

func (s *Server) mcpStartSessionHandler(ctx context.Context, _ *mcp.CallToolRequest, _ StartSessionInput) (
	*mcp.CallToolResult,
	StartSessionOutput,
	error,
) {
	sess, err := s.sessions.StartSession(ctx)
	if err != nil {
		return nil, StartSessionOutput{}, MapError(coreerrors.Internal("failed to start session", err))
	}
	return nil, StartSessionOutput{SessionID: sess.ID}, nil
}

func (s *Server) mcpAddCommandHandler(ctx context.Context, _ *mcp.CallToolRequest, input AddCommandInput) (
	*mcp.CallToolResult,
	AddCommandOutput,
	error,
) {
	if input.SessionID == "" {
		return nil, AddCommandOutput{}, NewInvalidParamsError("session_id parameter is required")
	}
	if input.Command == "" {
		return nil, AddCommandOutput{}, NewInvalidParamsError("command parameter is required")
	}

	sess, err := s.sessions.AddCommand(ctx, input.SessionID, session.CommandEvent{
		Command: input.Command,
		Cwd:     input.Cwd,
	})
	if err != nil {
		return nil, AddCommandOutput{}, MapError(coreerrors.New(coreerrors.ErrCodeSessionNotFound, "session not found", err).WithDetail("session_id", input.SessionID))
	}

	s.maybeWarmProjectPool(sess)

	return nil, AddCommandOutput{ProjectHint: ToProjectHintOutput(sess.Hint)}, nil
}

// maybeWarmProjectPool kicks off best-effort project pool warm-up once a
// session's project hint crosses the configured threshold. It never blocks
// the add_command response: the actual prefetch runs in a detached
// goroutine with its own context, since the triggering request's context is
// canceled as soon as this handler returns.
func (s *Server) maybeWarmProjectPool(sess *session.Session) {
	if s.warmup.Threshold <= 0 || sess.Hint == nil {
		return
	}
	if sess.Hint.WarmedUp || sess.Hint.Confidence < s.warmup.Threshold {
		return
	}

	projectID := sess.Hint.ProjectID
	if err := s.sessions.MarkWarmedUp(sess.ID); err != nil {
		s.logger.Warn("failed to mark session warmed up", slog.String("session_id", sess.ID), slog.String("error", err.Error()))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), warmupTimeout)
		defer cancel()
		if err := s.engine.WarmProjectPool(ctx, projectID, s.warmup.PrefetchQueries); err != nil {
			s.logger.Warn("project pool warm-up failed", slog.String("project_id", projectID), slog.String("error", err.Error()))
		}
	}()
}

func (s *Server) mcpEndSessionHandler(ctx context.Context, _ *mcp.CallToolRequest, input EndSessionInput) (
	*mcp.CallToolResult,
	EndSessionOutput,
	error,
) {
	if input.SessionID == "" {
		return nil, EndSessionOutput{}, NewInvalidParamsError("session_id parameter is required")
	}

	sess, err := s.sessions.EndSession(ctx, input.SessionID)
	if err != nil {
		return nil, EndSessionOutput{}, MapError(coreerrors.New(coreerrors.ErrCodeSessionNotFound, "session not found", err).WithDetail("session_id", input.SessionID))
	}

	ended := time.Time{}
	if sess.EndedAt != nil {
		ended = *sess.EndedAt
	}
	return nil, EndSessionOutput{SessionID: sess.ID, EventCount: len(sess.Events), EndedAt: ended}, nil
}

func (s *Server) mcpRerankerMetricsHandler(_ context.Context, _ *mcp.CallToolRequest, _ RerankerMetricsInput) (
	*mcp.CallToolResult,
	RerankerMetricsOutput,
	error,
) {
	// No cross-encoder configured: every counter is zero, matching the
	// documented boundary behaviour "cross-encoder disabled → search still
	// returns ordered results".
	crossEncoder := s.engine.CrossEncoder()
	if crossEncoder == nil {
		return nil, RerankerMetricsOutput{}, nil
	}

	m := crossEncoder.Cache().Metrics()
	return nil, RerankerMetricsOutput{
		L1Hits: m.L1Hits, L1Misses: m.L1Misses,
		L2Hits: m.L2Hits, L2Misses: m.L2Misses,
		L3Hits: m.L3Hits, L3Misses: m.L3Misses,
		PairsScored:         m.PairsScored,
		QueueRejections:     m.QueueRejections,
		AvgLatencyMillis:    m.AvgLatency().Milliseconds(),
		MaxLatencyMillis:    m.MaxLatency.Milliseconds(),
		ParallelQueueLength: crossEncoder.InFlight(),
	}, nil
}

// Serve starts the server over stdio, the only transport currently supported.
func (s *Server) Serve(ctx context.Context, transport string) error {
	switch transport {
	case "", "stdio":
		s.logger.Info("starting MCP server", slog.String("transport", "stdio"))
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped gracefully")
		return nil
	default:
		return errors.New("unknown transport: " + transport + " (supported: stdio)")
	}
}

// Close releases server resources. The MCP server has no explicit close; it
// stops when its context is canceled.
func (s *Server) Close() error {
	return nil
}
