package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localbrain/contextd/internal/reasoner"
)

type stubScorer struct {
	response string
}

func (s *stubScorer) Complete(_ context.Context, _ string, _ reasoner.CompleteOptions) (string, error) {
	return s.response, nil
}
func (s *stubScorer) Name() string { return "stub" }

func TestKeywordSignature_StripsStopWordsAndLowercases(t *testing.T) {
	sig := keywordSignature("What is the Deployment Process for the API?")
	assert.NotContains(t, sig, "the")
	assert.NotContains(t, sig, "What")
	assert.Contains(t, sig, "deployment")
}

func TestKeywordSignature_Deterministic(t *testing.T) {
	a := keywordSignature("database migration rollback plan")
	b := keywordSignature("database migration rollback plan")
	assert.Equal(t, a, b)
}

func TestCosineSim_IdenticalVectors_IsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, cosineSim(v, v), 1e-9)
}

func TestCosineSim_MismatchedLengths_IsZero(t *testing.T) {
	assert.Equal(t, 0.0, cosineSim([]float32{1, 2}, []float32{1, 2, 3}))
}

func TestCrossEncoderCache_L1ExactHit(t *testing.T) {
	c := NewCrossEncoderCache()
	c.store("how do I deploy", "proj-1", "mem-1#0", nil, 0.77)

	score, ok := c.lookup("how do I deploy", "proj-1", "mem-1#0", nil)

	require.True(t, ok)
	assert.Equal(t, 0.77, score)
	assert.Equal(t, int64(1), c.metrics.L1Hits)
}

func TestCrossEncoderCache_L2KeywordHit_DifferentPhrasing(t *testing.T) {
	c := NewCrossEncoderCache()
	c.store("what is the deployment process", "proj-1", "mem-1#0", nil, 0.6)

	// Different exact phrasing but same extracted keywords should hit L2, not L1.
	score, ok := c.lookup("What is the deployment process?", "proj-1", "mem-1#0", nil)

	require.True(t, ok)
	assert.Equal(t, 0.6, score)
}

func TestCrossEncoderCache_L3SemanticHit_AboveThreshold(t *testing.T) {
	c := NewCrossEncoderCache()
	embedding := []float32{1, 0, 0}
	c.store("original query", "proj-1", "mem-1#0", embedding, 0.8)

	score, ok := c.lookup("totally different phrasing", "proj-1", "mem-1#0", embedding)

	require.True(t, ok)
	assert.Equal(t, 0.8, score)
}

func TestCrossEncoderCache_Miss_WhenNothingStored(t *testing.T) {
	c := NewCrossEncoderCache()
	_, ok := c.lookup("new query", "proj-1", "mem-unseen", nil)
	assert.False(t, ok)
}

func TestParseScore_PlainNumber(t *testing.T) {
	score, err := parseScore("0.82")
	require.NoError(t, err)
	assert.Equal(t, 0.82, score)
}

func TestParseScore_ClampsToUnitRange(t *testing.T) {
	score, err := parseScore("1.5")
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestParseScore_Unparseable_Errors(t *testing.T) {
	_, err := parseScore("definitely relevant")
	require.Error(t, err)
}

func TestCrossEncoderReranker_BlendsScoreAndCachesResult(t *testing.T) {
	local := &stubScorer{response: "0.9"}
	router := reasoner.NewRouter(local, reasoner.NewExternalReasoner(""))
	reranker := NewCrossEncoderReranker(router)
	reranker.Weight = 0.5

	ranked := []RankedResult{
		{RankCandidate: RankCandidate{ID: "mem-1#0", MemoryID: "mem-1"}, Score: 0.3},
	}
	candidates := map[string]CrossEncoderCandidate{
		"mem-1#0": {ID: "mem-1#0", ProjectID: "proj-1", Content: "deployment runbook"},
	}

	out := reranker.Rerank(context.Background(), "how to deploy", "proj-1", nil, ranked, candidates)

	require.Len(t, out, 1)
	assert.InDelta(t, 0.6, out[0].Score, 1e-9) // 0.3*0.5 + 0.9*0.5
	assert.Equal(t, int64(1), reranker.cache.metrics.PairsScored)

	// Second call for the same pair should hit L1 and not invoke the scorer
	// again (verified indirectly: pairs-scored count stays at 1).
	out2 := reranker.Rerank(context.Background(), "how to deploy", "proj-1", nil, ranked, candidates)
	require.Len(t, out2, 1)
	assert.Equal(t, int64(1), reranker.cache.metrics.PairsScored)
}

func TestCrossEncoderReranker_Rerank_RecordsLatencyAndInFlightSettlesToZero(t *testing.T) {
	local := &stubScorer{response: "0.7"}
	router := reasoner.NewRouter(local, reasoner.NewExternalReasoner(""))
	reranker := NewCrossEncoderReranker(router)

	ranked := []RankedResult{
		{RankCandidate: RankCandidate{ID: "mem-1#0", MemoryID: "mem-1"}, Score: 0.3},
	}
	candidates := map[string]CrossEncoderCandidate{
		"mem-1#0": {ID: "mem-1#0", ProjectID: "proj-1", Content: "deployment runbook"},
	}

	reranker.Rerank(context.Background(), "how to deploy", "proj-1", nil, ranked, candidates)

	m := reranker.Cache().Metrics()
	assert.Equal(t, int64(1), m.ExternalCalls)
	assert.Greater(t, m.AvgLatency().Nanoseconds(), int64(-1))
	assert.Equal(t, int64(0), reranker.InFlight(), "in-flight count must settle back to zero once Rerank returns")
}

func TestCrossEncoderMetrics_AvgLatency_ZeroBeforeAnyCalls(t *testing.T) {
	var m CrossEncoderMetrics
	assert.Equal(t, time.Duration(0), m.AvgLatency())
}
