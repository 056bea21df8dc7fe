package search

// Weights configures the relative importance of BM25 vs vector candidates
// during RRF fusion.
type Weights struct {
	// BM25 is the weight for keyword search (0-1, default: 0.35).
	BM25 float64
	// Semantic is the weight for vector search (0-1, default: 0.65).
	Semantic float64
}

// DefaultWeights returns the default fusion weights for mixed queries.
func DefaultWeights() Weights {
	return Weights{BM25: 0.35, Semantic: 0.65}
}
