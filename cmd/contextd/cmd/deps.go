package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/localbrain/contextd/internal/chunk"
	"github.com/localbrain/contextd/internal/classify"
	"github.com/localbrain/contextd/internal/config"
	"github.com/localbrain/contextd/internal/consolidation"
	"github.com/localbrain/contextd/internal/embed"
	"github.com/localbrain/contextd/internal/ingest"
	"github.com/localbrain/contextd/internal/logging"
	"github.com/localbrain/contextd/internal/reasoner"
	"github.com/localbrain/contextd/internal/search"
	"github.com/localbrain/contextd/internal/session"
	"github.com/localbrain/contextd/internal/store"
	"github.com/localbrain/contextd/internal/summarize"
)

// deps bundles every collaborator the serve/consolidate/doctor commands
// bootstrap from configuration: the embedding provider, the dual stores,
// the ingestion pipeline, the search engine, the consolidation service,
// and the session manager.
type deps struct {
	cfg *config.Config

	embedder   embed.Embedder
	vector     *store.HNSWStore
	vectorPath string
	lexical    *store.BleveBM25Index
	registry   *store.SQLiteRegistry

	engine        *search.Engine
	ingestSvc     *ingest.Service
	consolidation *consolidation.Service
	sessions      *session.Manager

	reasonerLog *logging.RotatingWriter
}

// Close persists the vector store (the only collaborator without its own
// durable backing — Bleve and SQLite write through on every call) and
// releases every other resource.
func (d *deps) Close() {
	if d.vector != nil && d.vectorPath != "" {
		if err := d.vector.Save(d.vectorPath); err != nil {
			fmt.Fprintf(os.Stderr, "contextd: save vector store: %v\n", err)
		}
	}
	if d.registry != nil {
		_ = d.registry.Close()
	}
	if d.lexical != nil {
		_ = d.lexical.Close()
	}
	if d.vector != nil {
		_ = d.vector.Close()
	}
	if d.embedder != nil {
		_ = d.embedder.Close()
	}
	if d.reasonerLog != nil {
		_ = d.reasonerLog.Close()
	}
}

// buildDeps loads configuration and wires the full dependency graph: the
// embedding provider, the dual V/L stores and the SQLite registry, the
// classify/summarize/chunk pipeline, the hybrid search engine (with an
// optional cross-encoder pass), the consolidation service, and the session
// manager.
func buildDeps(ctx context.Context, dataDirOverride string) (*deps, error) {
	cfg, err := config.Load(dataDirOverride)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	if cfg.Embedder.OllamaHost != "" {
		_ = os.Setenv("CONTEXTD_OLLAMA_HOST", cfg.Embedder.OllamaHost)
	}
	embedder, err := embed.NewEmbedder(ctx, embed.ProviderOllama, cfg.Embedder.Model)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	vectorPath := filepath.Join(cfg.DataDir, "vectors.hnsw")
	vectorCfg := store.DefaultVectorStoreConfig(embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorCfg)
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			return nil, fmt.Errorf("load vector store: %w", loadErr)
		}
	}

	lexicalPath := filepath.Join(cfg.DataDir, "lexical.bleve")
	lexical, err := store.NewBleveBM25Index(lexicalPath, store.DefaultBM25Config())
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}

	registryPath := filepath.Join(cfg.DataDir, "memories.db")
	registry, err := store.NewSQLiteRegistry(registryPath)
	if err != nil {
		return nil, fmt.Errorf("open memory registry: %w", err)
	}

	var extReasoner *reasoner.ExternalReasoner
	var reasonerLog *logging.RotatingWriter
	if cfg.Reasoner.External.Command != "" {
		extReasoner = reasoner.NewExternalReasoner(cfg.Reasoner.External.Command)
		if w, logErr := logging.NewRotatingWriter(logging.ReasonerLogPath(), 10, 5); logErr == nil {
			reasonerLog = w
			extReasoner.SetStderrSink(w)
		}
	}
	localReasoner := reasoner.NewLocalReasoner("", cfg.Reasoner.Local.Model)
	router := reasoner.NewRouter(localReasoner, extReasoner)

	classifier := classify.NewHybridClassifier(router)

	pools := search.NewPoolManagerWithConfig(registry, search.PoolManagerConfig{
		LoadCap: cfg.Project.PoolSizeCap,
		TTL:     time.Duration(cfg.Project.PoolTTLSeconds) * time.Second,
	})

	var opts []search.EngineOption
	if cfg.Reranker.CrossEncoderEnabled {
		ceReranker := search.NewCrossEncoderReranker(router)
		if cfg.Reranker.CrossEncoderMaxParallel > 0 {
			ceReranker.MaxParallel = cfg.Reranker.CrossEncoderMaxParallel
		}
		opts = append(opts, search.WithCrossEncoder(ceReranker))
	}

	engine := search.NewEngine(vector, lexical, registry, embedder, pools, opts...)
	if cfg.Search.TopK > 0 {
		engine.Config.DefaultTopK = cfg.Search.TopK
	}

	summariserSvc := summarize.NewSummariser(router)
	if len(cfg.Language.SupportedLocal) > 0 {
		summariserSvc.SupportedLocal = cfg.Language.SupportedLocal
	}
	if cfg.Language.FallbackStrategy != "" {
		summariserSvc.FallbackStrategy = cfg.Language.FallbackStrategy
	}
	chunker := chunk.NewMarkdownChunker()

	ingestSvc := ingest.New(classifier, summariserSvc, chunker, embedder, vector, lexical, registry)
	if len(cfg.Language.SupportedLocal) > 0 {
		ingestSvc.SupportedLocal = cfg.Language.SupportedLocal
		ingestSvc.DefaultLanguage = cfg.Language.SupportedLocal[0]
	}

	consolidationSvc := consolidation.New(registry, vector, lexical, embedder)

	sessions, err := session.NewManager(session.ManagerConfig{
		StoragePath: filepath.Join(cfg.DataDir, "session_log_dir"),
	})
	if err != nil {
		return nil, fmt.Errorf("create session manager: %w", err)
	}

	return &deps{
		cfg:           cfg,
		embedder:      embedder,
		vector:        vector,
		vectorPath:    vectorPath,
		lexical:       lexical,
		registry:      registry,
		engine:        engine,
		ingestSvc:     ingestSvc,
		consolidation: consolidationSvc,
		sessions:      sessions,
		reasonerLog:   reasonerLog,
	}, nil
}
