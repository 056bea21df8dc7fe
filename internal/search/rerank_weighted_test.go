package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/localbrain/contextd/internal/store"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRuleBasedReranker_HigherVectorSimilarity_RanksFirst(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	r := NewRuleBasedReranker(DefaultRerankWeights())
	r.Now = fixedClock(now)

	candidates := []RankCandidate{
		{ID: "a", MemoryID: "mem-a", Tier: store.TierShortTerm, Timestamp: now, VectorSimilarity: 0.9, NormalizedLexicalScore: 0.1},
		{ID: "b", MemoryID: "mem-b", Tier: store.TierShortTerm, Timestamp: now, VectorSimilarity: 0.2, NormalizedLexicalScore: 0.1},
	}

	ranked := r.Rerank(candidates)

	assert.Equal(t, "mem-a", ranked[0].MemoryID)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
}

func TestRuleBasedReranker_RefsCap_SaturatesAtCap(t *testing.T) {
	now := time.Now()
	r := NewRuleBasedReranker(RerankWeights{Refs: 1.0})
	r.Now = fixedClock(now)

	atCap := RankCandidate{MemoryID: "m1", Timestamp: now, RefsCount: DefaultRefsCap}
	overCap := RankCandidate{MemoryID: "m2", Timestamp: now, RefsCount: DefaultRefsCap * 10}

	assert.Equal(t, r.Score(atCap), r.Score(overCap))
}

func TestRuleBasedReranker_MetadataBonus_IsCapped(t *testing.T) {
	now := time.Now()
	r := NewRuleBasedReranker(RerankWeights{Metadata: 1.0})
	r.Now = fixedClock(now)

	c := RankCandidate{MemoryID: "m1", Timestamp: now, MetadataBonus: 5.0}
	assert.Equal(t, MaxMetadataBonus, r.Score(c))
}

func TestRecency_LongTermDecaysSlowerThanWorking(t *testing.T) {
	age := 72 * time.Hour
	working := recency(age, store.TierWorking)
	longTerm := recency(age, store.TierLongTerm)
	assert.Less(t, working, longTerm)
}

func TestRecency_ZeroAge_IsOne(t *testing.T) {
	assert.InDelta(t, 1.0, recency(0, store.TierShortTerm), 1e-9)
}

func TestDeduplicateByMemory_KeepsBestScoringRepresentative(t *testing.T) {
	results := []RankedResult{
		{RankCandidate: RankCandidate{ID: "mem-1#0", MemoryID: "mem-1"}, Score: 0.4},
		{RankCandidate: RankCandidate{ID: "mem-1#1", MemoryID: "mem-1"}, Score: 0.9},
		{RankCandidate: RankCandidate{ID: "mem-2-metadata", MemoryID: "mem-2"}, Score: 0.5},
	}

	deduped := DeduplicateByMemory(results)

	assert.Len(t, deduped, 2)
	assert.Equal(t, "mem-1#1", deduped[0].ID)
	assert.Equal(t, "mem-2-metadata", deduped[1].ID)
}

func TestDeduplicateByMemory_TiesBreakOnMemoryID(t *testing.T) {
	results := []RankedResult{
		{RankCandidate: RankCandidate{ID: "x", MemoryID: "mem-b"}, Score: 0.5},
		{RankCandidate: RankCandidate{ID: "y", MemoryID: "mem-a"}, Score: 0.5},
	}

	deduped := DeduplicateByMemory(results)

	assert.Equal(t, "mem-a", deduped[0].MemoryID)
}
