package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/localbrain/contextd/internal/embed"
	"github.com/localbrain/contextd/internal/store"
)

// DefaultWarmupSeedScore is the relevance score WarmProjectPool assigns a
// pool member it has not yet had a real cross-encoder score for. It
// matches DefaultSemanticHitThreshold: a future query's embedding has to be
// at least that similar to the member's own content embedding to reuse it,
// so seeding at the threshold itself is the least committal score that
// still makes the entry reachable.
const DefaultWarmupSeedScore = DefaultSemanticHitThreshold

// Defaults for the hybrid engine.
const (
	DefaultTopK = 10
	DefaultMaxTopK = 50
	DefaultOverFetchMultiplier = 4
	DefaultPoolMinScore = 0.2
)

// EngineConfig bundles the engine's tunable parameters.
type EngineConfig struct {
	DefaultTopK int
	MaxTopK int
	OverFetchMultiplier int
	Weights Weights
	RerankWeights RerankWeights
	PoolMinScore float64
	UseCrossEncoder bool
}

// DefaultEngineConfig returns the default tunables.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultTopK: DefaultTopK,
		MaxTopK: DefaultMaxTopK,
		OverFetchMultiplier: DefaultOverFetchMultiplier,
		Weights: DefaultWeights(),
		RerankWeights: DefaultRerankWeights(),
		PoolMinScore: DefaultPoolMinScore,
	}
}

// Engine implements the end-to-end hybrid retrieval algorithm: parallel
// vector+lexical search, RRF fusion, project-pool filtering with full-corpus
// fallback, rule-based rerank, and an optional cross-encoder pass.
type Engine struct {
	Vector store.VectorStore
	Lexical store.BM25Index
	Registry store.MemoryRegistry
	Embedder embed.Embedder
	Pools *PoolManager

	fusion *RRFFusion
	reranker *RuleBasedReranker
	crossEncoder *CrossEncoderReranker

	Config EngineConfig
}

// CrossEncoder returns the engine's optional cross-encoder reranker, or nil if one
// was never attached via WithCrossEncoder.
func (e *Engine) CrossEncoder() *CrossEncoderReranker {
	return e.crossEncoder
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

// WithCrossEncoder attaches an optional cross-encoder reranking pass.
func WithCrossEncoder(r *CrossEncoderReranker) EngineOption {
	return func(e *Engine) {
		e.crossEncoder = r
		e.Config.UseCrossEncoder = r != nil
	}
}

// NewEngine builds a hybrid engine from its storage collaborators.
func NewEngine(vector store.VectorStore, lexical store.BM25Index, registry store.MemoryRegistry, embedder embed.Embedder, pools *PoolManager, opts...EngineOption) *Engine {
	cfg := DefaultEngineConfig()
	e := &Engine{
		Vector: vector,
		Lexical: lexical,
		Registry: registry,
		Embedder: embedder,
		Pools: pools,
		fusion: NewRRFFusion(),
		reranker: NewRuleBasedReranker(cfg.RerankWeights),
		Config: cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query is one search request.
type Query struct {
	Text string
	ProjectID string
	TopK int
	Filter store.MemoryFilter
}

// Result is one ranked memory returned to a caller (MCP's search_memory
// tool or any other consumer of the engine).
type Result struct {
	Memory *store.Memory
	Score float64
	BM25Score float64
	VecScore float64
	InBothLists bool
	MatchedTerms []string
}

// Search runs the full retrieval pipeline and returns up to TopK ranked results.
func (e *Engine) Search(ctx context.Context, q Query) ([]*Result, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, nil
	}

	topK := q.TopK
	if topK <= 0 {
		topK = e.Config.DefaultTopK
	}
	if topK > e.Config.MaxTopK {
		topK = e.Config.MaxTopK
	}
	overFetch := e.Config.OverFetchMultiplier
	if overFetch <= 0 {
		overFetch = DefaultOverFetchMultiplier
	}
	fetchK := topK * overFetch

	bm25Results, vecResults, queryEmbedding, err := e.parallelSearch(ctx, text, fetchK, q.Filter)
	if err != nil {
		return nil, err
	}

	fused := e.fusion.Fuse(bm25Results, vecResults, e.Config.Weights)
	candidates, memories, fusedByID := e.buildCandidates(ctx, fused, q.Filter)
	if len(candidates) == 0 {
		return nil, nil
	}

	ranked := e.rankAndDedup(candidates)

	if q.ProjectID != "" && e.Pools != nil {
		ranked = e.applyPoolFilter(ctx, q.ProjectID, candidates, ranked, topK)
	}

	if e.crossEncoder != nil {
		ranked = e.crossEncoder.Rerank(ctx, text, q.ProjectID, queryEmbedding, ranked, crossEncoderCandidates(memories))
	}

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	return e.toResults(ranked, memories, fusedByID), nil
}

// WarmProjectPool primes retrieval for a project a session's project_hint
// has just committed to: it loads the project's memory pool, runs
// prefetchQueries through the normal Search path (populating the
// cross-encoder cache's L1/L2 layers exactly as a live query would), and
// seeds L3 directly with each pool member's own content embedding so a
// later query whose embedding lands close enough to a member's content can
// skip the external scoring call entirely. Best-effort throughout: a
// failure on one query or one member is logged and skipped rather than
// aborting the rest of the warm-up. Callers (the MCP server, on a
// project_hint confidence crossing) should run this in a goroutine — it
// must never block a live search_memory call.
func (e *Engine) WarmProjectPool(ctx context.Context, projectID string, prefetchQueries []string) error {
	if e.Pools == nil {
		return nil
	}
	pool, err := e.Pools.Get(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project pool for warm-up: %w", err)
	}

	for _, q := range prefetchQueries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, err := e.Search(ctx, Query{Text: q, ProjectID: projectID}); err != nil {
			slog.Warn("warm-up prefetch query failed", slog.String("project_id", projectID), slog.String("error", err.Error()))
		}
	}

	if e.crossEncoder == nil {
		return nil
	}
	cache := e.crossEncoder.Cache()
	for memberID := range pool.MemberIDs {
		mem, err := e.Registry.Get(ctx, memberID)
		if err != nil || mem == nil {
			continue
		}
		text := mem.Summary
		if text == "" {
			text = mem.Content
		}
		embedding, err := e.Embedder.Embed(ctx, text)
		if err != nil {
			slog.Warn("warm-up embedding failed", slog.String("project_id", projectID), slog.String("memory_id", memberID), slog.String("error", err.Error()))
			continue
		}
		pool.Embeddings[memberID] = embedding
		cache.WarmSemantic(memberID, embedding, DefaultWarmupSeedScore)
	}
	return nil
}

// parallelSearch runs lexical and vector search concurrently using an
// errgroup, tolerating a single-source failure (graceful degradation) but
// failing if both sources error.
func (e *Engine) parallelSearch(ctx context.Context, query string, limit int, filter store.MemoryFilter) (
	bm25Results []*store.BM25Result,
	vecResults []*store.VectorResult,
	queryEmbedding []float32,
	err error,
) {
	g, gctx := errgroup.WithContext(ctx)

	var bm25Err, vecErr error

	g.Go(func() error {
		var searchErr error
		bm25Results, searchErr = e.Lexical.Search(gctx, query, limit)
		if searchErr != nil {
			bm25Err = searchErr
		}
		return nil
	})

	g.Go(func() error {
		embedding, embedErr := e.Embedder.Embed(gctx, query)
		if embedErr != nil {
			vecErr = embedErr
			return nil
		}
		queryEmbedding = embedding

		var searchErr error
		vecResults, searchErr = e.Vector.Search(gctx, embedding, limit, filter)
		if searchErr != nil {
			vecErr = searchErr
		}
		return nil
	})

	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, nil, waitErr
	}

	if bm25Err != nil && vecErr != nil {
		return nil, nil, nil, errors.Join(bm25Err, vecErr)
	}
	if bm25Err != nil {
		slog.Warn("lexical search failed, continuing with vector-only results", slog.String("error", bm25Err.Error()))
	}
	if vecErr != nil {
		slog.Warn("vector search failed, continuing with lexical-only results", slog.String("error", vecErr.Error()))
	}

	return bm25Results, vecResults, queryEmbedding, nil
}

// buildCandidates resolves each fused result to its owning memory (loading
// and memoizing registry lookups) and converts it into a RankCandidate.
// Fused ids referencing memories that no longer exist in the registry
// (orphans the consolidation sweep hasn't caught yet) are dropped silently.
func (e *Engine) buildCandidates(ctx context.Context, fused []*FusedResult, filter store.MemoryFilter) ([]RankCandidate, map[string]*store.Memory, map[string]*FusedResult) {
	memories := make(map[string]*store.Memory, len(fused))
	fusedByID := make(map[string]*FusedResult, len(fused))
	candidates := make([]RankCandidate, 0, len(fused))

	maxBM25 := maxBM25Score(fused)

	for _, f := range fused {
		fusedByID[f.ChunkID] = f
		memID := memoryIDFromCandidateID(f.ChunkID)

		mem, ok := memories[memID]
		if !ok {
			fetched, err := e.Registry.Get(ctx, memID)
			if err != nil || fetched == nil {
				continue
			}
			mem = fetched
			memories[memID] = mem
		}

		candidates = append(candidates, RankCandidate{
			ID: f.ChunkID,
			MemoryID: memID,
			Strength: mem.Strength,
			Tier: mem.Tier,
			Timestamp: mem.Timestamp,
			RefsCount: len(mem.Refs),
			NormalizedLexicalScore: normalizeBM25Score(f.BM25Score, maxBM25),
			VectorSimilarity: float64(f.VecScore),
			MetadataBonus: metadataBonus(mem, filter),
		})
	}

	return candidates, memories, fusedByID
}

// maxBM25Score returns the largest raw BM25 score across a fused result
// batch, the reference the lexical term is min-max normalized against.
func maxBM25Score(fused []*FusedResult) float64 {
	var max float64
	for _, f := range fused {
		if f.BM25Score > max {
			max = f.BM25Score
		}
	}
	return max
}

// normalizeBM25Score scales a raw BM25 score into the engine's weighted-sum
// formula, which expects every term independently in [0,1]. Using RRFScore
// here instead would double-count the vector/semantic signal, since RRFScore
// already blends BM25 rank and vector rank contributions while
// VectorSimilarity feeds the vector term from the same fusion pass.
func normalizeBM25Score(score, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return score / max
}

// metadataBonus rewards a candidate whose memory metadata matches every key
// in the requester's filter bag.
func metadataBonus(mem *store.Memory, filter store.MemoryFilter) float64 {
	if len(filter) == 0 {
		return 0
	}
	for k, v := range filter {
		if mem.Metadata[k] != v {
			return 0
		}
	}
	return MaxMetadataBonus
}

func (e *Engine) rankAndDedup(candidates []RankCandidate) []RankedResult {
	return DeduplicateByMemory(e.reranker.Rerank(candidates))
}

// applyPoolFilter restricts to the project pool, and only
// keep the filtered ranking if it clears the sufficiency bar; otherwise fall
// back to the already-computed full-corpus ranking.
func (e *Engine) applyPoolFilter(ctx context.Context, projectID string, candidates []RankCandidate, fullRanking []RankedResult, topK int) []RankedResult {
	pool, err := e.Pools.Get(ctx, projectID)
	if err != nil {
		slog.Warn("project pool load failed, falling back to full corpus", slog.String("project_id", projectID), slog.String("error", err.Error()))
		return fullRanking
	}

	pooled := FilterToPool(pool, candidates)
	if len(pooled) == 0 {
		return fullRanking
	}

	pooledRanking := e.rankAndDedup(pooled)
	if SufficiencyCheck(pooledRanking, e.Config.PoolMinScore, topK) {
		return pooledRanking
	}
	return fullRanking
}

func crossEncoderCandidates(memories map[string]*store.Memory) map[string]CrossEncoderCandidate {
	out := make(map[string]CrossEncoderCandidate, len(memories))
	for id, mem := range memories {
		out[id] = CrossEncoderCandidate{ID: id, ProjectID: mem.ProjectID, Content: mem.Content}
		out[id+store.MetadataEntrySuffix] = CrossEncoderCandidate{ID: id, ProjectID: mem.ProjectID, Content: mem.Summary}
	}
	return out
}

// toResults maps ranked candidates back to their memories. Access-count and
// last-accessed bookkeeping (UpdateAccess) is the caller's responsibility,
// not the engine's — a search that never surfaces a result to the user
// (e.g. get_reranker_metrics probing) shouldn't mutate access stats.
func (e *Engine) toResults(ranked []RankedResult, memories map[string]*store.Memory, fusedByID map[string]*FusedResult) []*Result {
	results := make([]*Result, 0, len(ranked))
	for _, r := range ranked {
		mem, ok := memories[r.MemoryID]
		if !ok {
			continue
		}
		f := fusedByID[r.ID]
		result := &Result{Memory: mem, Score: r.Score}
		if f != nil {
			result.BM25Score = f.BM25Score
			result.VecScore = f.VecScore
			result.InBothLists = f.InBothLists
			result.MatchedTerms = f.MatchedTerms
		}
		results = append(results, result)
	}
	return results
}

// memoryIDFromCandidateID strips the storage-layer suffix/convention from a
// V or L record id to recover the owning memory id.
func memoryIDFromCandidateID(id string) string {
	if strings.HasSuffix(id, store.MetadataEntrySuffix) {
		return strings.TrimSuffix(id, store.MetadataEntrySuffix)
	}
	if idx := strings.LastIndex(id, "#"); idx >= 0 {
		return id[:idx]
	}
	return id
}
