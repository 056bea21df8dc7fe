package search

import (
	"math"
	"sort"
	"time"

	"github.com/localbrain/contextd/internal/store"
)

// RerankWeights are the w_* coefficients used by the scoring function. They are
// read from configuration; these are the built-in defaults.
type RerankWeights struct {
	Strength float64
	Recency float64
	Refs float64
	Lexical float64
	Vector float64
	Metadata float64
}

// DefaultRerankWeights returns the default weighting, tuned so
// lexical and vector similarity dominate while strength/recency/refs act as
// tie-breaking nudges.
func DefaultRerankWeights() RerankWeights {
	return RerankWeights{
		Strength: 0.15,
		Recency: 0.15,
		Refs: 0.10,
		Lexical: 0.25,
		Vector: 0.30,
		Metadata: 0.05,
	}
}

// DefaultRefsCap bounds the refs_count contribution so a handful of
// references saturate the term instead of rewarding unbounded ref lists.
const DefaultRefsCap = 10

// MaxMetadataBonus caps the metadata-alignment contribution so it can only
// nudge ranking, never dominate it.
const MaxMetadataBonus = 0.2

// tierHalfLifeHours sets the recency decay half-life per tier so long-term
// memories decay more slowly than working/short-term ones.
var tierHalfLifeHours = map[store.Tier]float64{
	store.TierWorking: 24,
	store.TierShortTerm: 24 * 14,
	store.TierLongTerm: 24 * 90,
}

// recency returns a monotonically decreasing score in [0,1] for the given
// age, using an exponential half-life keyed by tier.
func recency(age time.Duration, tier store.Tier) float64 {
	halfLife, ok := tierHalfLifeHours[tier]
	if !ok || halfLife <= 0 {
		halfLife = 24 * 14
	}
	ageHours := age.Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Exp(-math.Ln2 * ageHours / halfLife)
}

// RankCandidate is the scoring input for one fused candidate — a chunk or a
// memory's metadata entry, scored uniformly.
type RankCandidate struct {
	ID string
	MemoryID string
	Strength float64
	Tier store.Tier
	Timestamp time.Time
	RefsCount int
	NormalizedLexicalScore float64
	VectorSimilarity float64
	MetadataBonus float64
}

// RankedResult is a candidate plus its computed combined score.
type RankedResult struct {
	RankCandidate
	Score float64
}

// RuleBasedReranker implements the weighted-sum scoring function.
type RuleBasedReranker struct {
	Weights RerankWeights
	RefsCap int
	// Now lets tests inject a fixed clock; defaults to time.Now.
	Now func() time.Time
}

// NewRuleBasedReranker builds a reranker with the given weights and the
// default refs cap.
func NewRuleBasedReranker(weights RerankWeights) *RuleBasedReranker {
	return &RuleBasedReranker{Weights: weights, RefsCap: DefaultRefsCap, Now: time.Now}
}

// Score computes the combined score for a single candidate.
func (r *RuleBasedReranker) Score(c RankCandidate) float64 {
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	age := now.Sub(c.Timestamp)

	refsCap := r.RefsCap
	if refsCap <= 0 {
		refsCap = DefaultRefsCap
	}
	refsTerm := math.Min(float64(c.RefsCount), float64(refsCap)) / float64(refsCap)

	metadataBonus := c.MetadataBonus
	if metadataBonus > MaxMetadataBonus {
		metadataBonus = MaxMetadataBonus
	}
	if metadataBonus < 0 {
		metadataBonus = 0
	}

	w := r.Weights
	return w.Strength*c.Strength +
		w.Recency*recency(age, c.Tier) +
		w.Refs*refsTerm +
		w.Lexical*c.NormalizedLexicalScore +
		w.Vector*c.VectorSimilarity +
		w.Metadata*metadataBonus
}

// Rerank scores every candidate and returns them ordered by descending
// score, breaking ties on memory id for deterministic ordering.
func (r *RuleBasedReranker) Rerank(candidates []RankCandidate) []RankedResult {
	results := make([]RankedResult, len(candidates))
	for i, c := range candidates {
		results[i] = RankedResult{RankCandidate: c, Score: r.Score(c)}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].MemoryID < results[j].MemoryID
	})
	return results
}

// DeduplicateByMemory keeps, for each memory id, only the best-scoring
// representative across its chunks and its metadata entry.
// Input order is not assumed to be sorted; output is sorted by score desc.
func DeduplicateByMemory(results []RankedResult) []RankedResult {
	best := make(map[string]RankedResult, len(results))
	for _, r := range results {
		existing, ok := best[r.MemoryID]
		if !ok || r.Score > existing.Score {
			best[r.MemoryID] = r
		}
	}
	deduped := make([]RankedResult, 0, len(best))
	for _, r := range best {
		deduped = append(deduped, r)
	}
	sort.Slice(deduped, func(i, j int) bool {
		if deduped[i].Score != deduped[j].Score {
			return deduped[i].Score > deduped[j].Score
		}
		return deduped[i].MemoryID < deduped[j].MemoryID
	})
	return deduped
}
