package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/localbrain/contextd/internal/reasoner"
	"github.com/localbrain/contextd/internal/store"
)

// Defaults for the three-level cross-encoder cache.
const (
	DefaultCrossEncoderCacheSize = 256
	DefaultCrossEncoderCacheTTL = 8 * time.Hour
	DefaultSemanticHitThreshold = 0.85
	DefaultCrossEncoderMaxParallel = 3
	DefaultCrossEncoderQueueLimit = 32
	DefaultCrossEncoderTopK = 3
)

// CrossEncoderCandidate carries the fields a cross-encoder prompt needs:
// enough content to judge relevance, plus the embedding used by L3.
type CrossEncoderCandidate struct {
	ID string
	ProjectID string
	Content string
	Embedding []float32
}

// CrossEncoderMetrics tracks the counters the get_reranker_metrics MCP tool
// reports.
type CrossEncoderMetrics struct {
	L1Hits, L1Misses int64
	L2Hits, L2Misses int64
	L3Hits, L3Misses int64
	PairsScored int64
	ExternalCalls int64 // router.Route invocations that reached recordLatency, success or not
	TotalLatency time.Duration
	MaxLatency time.Duration
	QueueRejections int64
}

func (m *CrossEncoderMetrics) snapshot() CrossEncoderMetrics {
	return CrossEncoderMetrics{
		L1Hits: atomic.LoadInt64(&m.L1Hits), L1Misses: atomic.LoadInt64(&m.L1Misses),
		L2Hits: atomic.LoadInt64(&m.L2Hits), L2Misses: atomic.LoadInt64(&m.L2Misses),
		L3Hits: atomic.LoadInt64(&m.L3Hits), L3Misses: atomic.LoadInt64(&m.L3Misses),
		PairsScored: atomic.LoadInt64(&m.PairsScored),
		ExternalCalls: atomic.LoadInt64(&m.ExternalCalls),
		TotalLatency: time.Duration(atomic.LoadInt64((*int64)(&m.TotalLatency))),
		MaxLatency: time.Duration(atomic.LoadInt64((*int64)(&m.MaxLatency))),
		QueueRejections: atomic.LoadInt64(&m.QueueRejections),
	}
}

// AvgLatency returns the mean external-call latency across every router call
// recordLatency observed (success or failure), or zero if none have run yet.
func (m CrossEncoderMetrics) AvgLatency() time.Duration {
	if m.ExternalCalls == 0 {
		return 0
	}
	return m.TotalLatency / time.Duration(m.ExternalCalls)
}

type l3Record struct {
	embedding []float32
	score float64
}

// CrossEncoderCache implements the L1 (exact) / L2 (keyword) / L3 (semantic)
// lookup chain. All three layers are LRU+TTL bounded.
type CrossEncoderCache struct {
	l1 *lru.LRU[string, float64]
	l2 *lru.LRU[string, float64]
	l3 *lru.LRU[string, l3Record]
	semanticThreshold float64
	metrics CrossEncoderMetrics
}

// NewCrossEncoderCache builds a cache with the default capacity,
// TTL, and semantic-hit threshold.
func NewCrossEncoderCache() *CrossEncoderCache {
	return &CrossEncoderCache{
		l1: lru.NewLRU[string, float64](DefaultCrossEncoderCacheSize, nil, DefaultCrossEncoderCacheTTL),
		l2: lru.NewLRU[string, float64](DefaultCrossEncoderCacheSize, nil, DefaultCrossEncoderCacheTTL),
		l3: lru.NewLRU[string, l3Record](DefaultCrossEncoderCacheSize, nil, DefaultCrossEncoderCacheTTL),
		semanticThreshold: DefaultSemanticHitThreshold,
	}
}

func l1Key(query, projectID, candidateID string) string {
	return query + "\x00" + projectID + "\x00" + candidateID
}

// keywordSignature deterministically extracts up to the top-3 keywords from
// a query: lower-case, strip stop words, keep the most frequent tokens,
// breaking frequency ties alphabetically for determinism.
func keywordSignature(query string) string {
	counts := map[string]int{}
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		tok = strings.Trim(tok, ".,!?;:\"'()[]{}")
		if len(tok) < store.DefaultBM25Config().MinTokenLength {
			continue
		}
		if isStopWord(tok) {
			continue
		}
		counts[tok]++
	}
	keywords := make([]string, 0, len(counts))
	for k := range counts {
		keywords = append(keywords, k)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})
	if len(keywords) > 3 {
		keywords = keywords[:3]
	}
	sort.Strings(keywords)
	return strings.Join(keywords, "+")
}

func isStopWord(tok string) bool {
	for _, sw := range store.DefaultStopWords {
		if tok == sw {
			return true
		}
	}
	return false
}

func l2Key(query, projectID, candidateID string) string {
	return keywordSignature(query) + "\x00" + projectID + "\x00" + candidateID
}

func cosineSim(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// lookup checks L1, then L2, then L3 in order and returns the first hit.
func (c *CrossEncoderCache) lookup(query, projectID, candidateID string, queryEmbedding []float32) (float64, bool) {
	if score, ok := c.l1.Get(l1Key(query, projectID, candidateID)); ok {
		atomic.AddInt64(&c.metrics.L1Hits, 1)
		return score, true
	}
	atomic.AddInt64(&c.metrics.L1Misses, 1)

	if score, ok := c.l2.Get(l2Key(query, projectID, candidateID)); ok {
		atomic.AddInt64(&c.metrics.L2Hits, 1)
		return score, true
	}
	atomic.AddInt64(&c.metrics.L2Misses, 1)

	if rec, ok := c.l3.Get(candidateID); ok && len(queryEmbedding) > 0 {
		if cosineSim(rec.embedding, queryEmbedding) >= c.semanticThreshold {
			atomic.AddInt64(&c.metrics.L3Hits, 1)
			return rec.score, true
		}
	}
	atomic.AddInt64(&c.metrics.L3Misses, 1)

	return 0, false
}

// store writes a freshly-computed score to all three layers.
func (c *CrossEncoderCache) store(query, projectID, candidateID string, queryEmbedding []float32, score float64) {
	c.l1.Add(l1Key(query, projectID, candidateID), score)
	c.l2.Add(l2Key(query, projectID, candidateID), score)
	if len(queryEmbedding) > 0 {
		c.l3.Add(candidateID, l3Record{embedding: append([]float32(nil), queryEmbedding...), score: score})
	}
}

// WarmSemantic seeds L3 with a candidate's own embedding, driven by the
// project pool's warm-up workflow. It does not touch L1/L2.
func (c *CrossEncoderCache) WarmSemantic(candidateID string, embedding []float32, score float64) {
	if len(embedding) == 0 {
		return
	}
	c.l3.Add(candidateID, l3Record{embedding: append([]float32(nil), embedding...), score: score})
}

// Metrics returns a point-in-time snapshot of cache counters.
func (c *CrossEncoderCache) Metrics() CrossEncoderMetrics {
	return c.metrics.snapshot()
}

// CrossEncoderReranker scores (query, candidate) pairs via the model router,
// backed by the three-level cache, with bounded parallelism and a
// back-pressure fallback to the rule-based order.
type CrossEncoderReranker struct {
	router *reasoner.Router
	cache *CrossEncoderCache
	MaxParallel int
	QueueLimit int
	Weight float64

	inFlight int64 // live count of goroutines currently awaiting router.Route
}

// NewCrossEncoderReranker builds a reranker around a model router and a
// fresh cache, using the default parallelism and blend weight.
func NewCrossEncoderReranker(router *reasoner.Router) *CrossEncoderReranker {
	return &CrossEncoderReranker{
		router: router,
		cache: NewCrossEncoderCache(),
		MaxParallel: DefaultCrossEncoderMaxParallel,
		QueueLimit: DefaultCrossEncoderQueueLimit,
		Weight: 0.3,
	}
}

// Cache exposes the underlying cache for metrics reporting and pool warm-up.
func (r *CrossEncoderReranker) Cache() *CrossEncoderCache { return r.cache }

// InFlight reports how many router.Route calls this reranker has in flight
// right now, bounded by MaxParallel. Reported by get_reranker_metrics as the
// parallel queue length.
func (r *CrossEncoderReranker) InFlight() int64 { return atomic.LoadInt64(&r.inFlight) }

// scorePrompt is the prompt template sent to R-local/R-ext for a single pair.
func scorePrompt(query, content string) string {
	return fmt.Sprintf(
		"Rate how relevant this passage is to the query on a scale from 0.0 to 1.0. "+
			"Respond with only the number.\n\nQuery: %s\n\nPassage: %s", query, content)
}

func parseScore(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty score response")
	}
	score, err := strconv.ParseFloat(strings.Trim(fields[0], "., "), 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable cross-encoder score %q: %w", raw, err)
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

// Rerank scores each candidate against the query, blending the cross-encoder
// score with its existing combined score at r.Weight. At most MaxParallel
// scoring calls run at once; an uncached candidate that finds every slot
// taken is not queued or retried: it keeps its existing score and counts as
// a queue rejection. QueueLimit is not consulted.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query, projectID string, queryEmbedding []float32, ranked []RankedResult, candidates map[string]CrossEncoderCandidate) []RankedResult {
	if len(ranked) == 0 {
		return ranked
	}

	sem := make(chan struct{}, r.MaxParallel)
	var wg sync.WaitGroup
	out := make([]RankedResult, len(ranked))
	copy(out, ranked)

	for i := range out {
		cand, ok := candidates[out[i].ID]
		if !ok {
			continue
		}
		if score, hit := r.cache.lookup(query, projectID, cand.ID, queryEmbedding); hit {
			out[i].Score = out[i].Score*(1-r.Weight) + score*r.Weight
			continue
		}

		select {
		case sem <- struct{}{}:
		default:
			atomic.AddInt64(&r.cache.metrics.QueueRejections, 1)
			continue // back-pressure: keep rule-based score for this candidate
		}

		wg.Add(1)
		atomic.AddInt64(&r.inFlight, 1)
		go func(i int, cand CrossEncoderCandidate) {
			defer wg.Done()
			defer func() { <-sem }()
			defer atomic.AddInt64(&r.inFlight, -1)

			start := time.Now()
			raw, err := r.router.Route(ctx, reasoner.TaskCrossEncoderScore, scorePrompt(query, cand.Content), reasoner.CompleteOptions{MaxTokens: 8})
			elapsed := time.Since(start)
			r.recordLatency(elapsed)
			if err != nil {
				return
			}
			score, err := parseScore(raw)
			if err != nil {
				return
			}
			atomic.AddInt64(&r.cache.metrics.PairsScored, 1)
			r.cache.store(query, projectID, cand.ID, queryEmbedding, score)
			out[i].Score = out[i].Score*(1-r.Weight) + score*r.Weight
		}(i, cand)
	}
	wg.Wait()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].MemoryID < out[j].MemoryID
	})
	return out
}

// recordLatency accumulates an external-call latency sample using only
// atomic operations, so it is safe to call from the concurrent goroutines
// Rerank spawns without a dedicated mutex.
func (r *CrossEncoderReranker) recordLatency(d time.Duration) {
	atomic.AddInt64(&r.cache.metrics.ExternalCalls, 1)
	atomic.AddInt64((*int64)(&r.cache.metrics.TotalLatency), int64(d))
	for {
		cur := atomic.LoadInt64((*int64)(&r.cache.metrics.MaxLatency))
		if int64(d) <= cur {
			return
		}
		if atomic.CompareAndSwapInt64((*int64)(&r.cache.metrics.MaxLatency), cur, int64(d)) {
			return
		}
	}
}
