// Package consolidation runs the nightly lifecycle job: working-memory
// promotion, short-term clustering with a chosen representative per cluster,
// compression of the remaining members, age/importance based forgetting,
// and an orphan sweep across V and L.
package consolidation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/localbrain/contextd/internal/embed"
	"github.com/localbrain/contextd/internal/store"
)

// Config holds the tunables for a consolidation pass, all with sensible defaults.
type Config struct {
	WorkingRetentionHours float64
	ClusterSimilarityThreshold float64
	MinClusterSize int
	AgeThresholdDays float64
	ImportanceThreshold float64

	// ExemptAccessCount: memories accessed at least this many times are
	// exempt from forgetting regardless of age/importance.
	ExemptAccessCount int
	// ExemptRecentAccess: memories accessed within this window are exempt.
	ExemptRecentAccess time.Duration
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		WorkingRetentionHours: 8,
		ClusterSimilarityThreshold: 0.9,
		MinClusterSize: 2,
		AgeThresholdDays: 30,
		ImportanceThreshold: 0.3,
		ExemptAccessCount: 10,
		ExemptRecentAccess: 7 * 24 * time.Hour,
	}
}

// RepresentativeWeights scores cluster members to choose the one that best
// stands in for the group: more detail, more recent, more important wins.
type RepresentativeWeights struct {
	Detail float64
	Recency float64
	Importance float64
}

// DefaultRepresentativeWeights favours importance slightly over detail and
// recency, matching the rule-based reranker's house style.
func DefaultRepresentativeWeights() RepresentativeWeights {
	return RepresentativeWeights{Detail: 0.3, Recency: 0.3, Importance: 0.4}
}

// Stats reports the outcome of a single consolidation pass.
type Stats struct {
	Migrated int
	ClustersFormed int
	Representatives int
	Compressed int
	Forgotten int
	OrphansRemoved int
	Duration time.Duration
}

const stateLastConsolidation = "last_consolidation"

// Service orchestrates a consolidation pass against the shared V/L/registry
// collaborators. Run acquires an in-process exclusive lock for its duration
// so ingestion and deletion never observe half-migrated state.
type Service struct {
	Registry store.MemoryRegistry
	Vector store.VectorStore
	Lexical store.BM25Index
	Embedder embed.Embedder
	Config Config
	RepWeights RepresentativeWeights

	// Now is overridable for deterministic tests.
	Now func() time.Time

	mu sync.Mutex
}

// New builds a consolidation service with default tunables.
func New(registry store.MemoryRegistry, vector store.VectorStore, lexical store.BM25Index, embedder embed.Embedder) *Service {
	return &Service{
		Registry: registry,
		Vector: vector,
		Lexical: lexical,
		Embedder: embedder,
		Config: DefaultConfig(),
		RepWeights: DefaultRepresentativeWeights(),
		Now: time.Now,
	}
}

// ShouldRunOnStartup reports whether the last recorded consolidation is
// older than 24h (or never ran).
func (s *Service) ShouldRunOnStartup(ctx context.Context) (bool, error) {
	raw, err := s.Registry.GetState(ctx, stateLastConsolidation)
	if err != nil {
		return false, err
	}
	if raw == "" {
		return true, nil
	}
	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return true, nil
	}
	return s.Now().Sub(last) > 24*time.Hour, nil
}

// Run executes the full pass: migrate, cluster, compress, forget,
// orphan-sweep, persist. Steps run in that fixed order under the service's
// lock; each step is individually idempotent so a failed pass can simply be
// re-run.
func (s *Service) Run(ctx context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.Now()
	stats := &Stats{}

	migrated, err := s.migrateWorking(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate working memory: %w", err)
	}
	stats.Migrated = migrated

	clusters, err := s.clusterShortTerm(ctx)
	if err != nil {
		return nil, fmt.Errorf("cluster short-term memory: %w", err)
	}
	stats.ClustersFormed = len(clusters)

	for _, cluster := range clusters {
		rep := s.chooseRepresentative(cluster)
		stats.Representatives++
		for _, m := range cluster {
			if m.ID == rep.ID {
				continue
			}
			if err := s.compressMember(ctx, rep, m); err != nil {
				return nil, fmt.Errorf("compress memory %s: %w", m.ID, err)
			}
			stats.Compressed++
		}
	}

	forgotten, err := s.forget(ctx)
	if err != nil {
		return nil, fmt.Errorf("forget: %w", err)
	}
	stats.Forgotten = forgotten

	orphans, err := s.orphanSweep(ctx)
	if err != nil {
		return nil, fmt.Errorf("orphan sweep: %w", err)
	}
	stats.OrphansRemoved = orphans

	stats.Duration = s.Now().Sub(start)
	if err := s.Registry.SetState(ctx, stateLastConsolidation, s.Now().Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("persist last_consolidation: %w", err)
	}
	return stats, nil
}

// migrateWorking promotes Working memories older than the retention window
// to ShortTerm.
func (s *Service) migrateWorking(ctx context.Context) (int, error) {
	working, err := s.Registry.ListByTier(ctx, store.TierWorking)
	if err != nil {
		return 0, err
	}
	now := s.Now()
	retention := time.Duration(s.Config.WorkingRetentionHours * float64(time.Hour))

	migrated := 0
	for _, m := range working {
		if now.Sub(m.Timestamp) <= retention {
			continue
		}
		tier := store.TierShortTerm
		if err := s.Registry.UpdateFields(ctx, m.ID, store.MemoryPatch{Tier: &tier}); err != nil {
			return migrated, err
		}
		migrated++
	}
	return migrated, nil
}

// clusterShortTerm groups ShortTerm memories by cosine similarity on their
// summary embeddings. Summaries are re-embedded fresh rather
// than read back from V, since the store's vector interface does not expose
// raw vectors by id — only nearest-neighbour search and metadata.
func (s *Service) clusterShortTerm(ctx context.Context) ([][]*store.Memory, error) {
	members, err := s.Registry.ListByTier(ctx, store.TierShortTerm)
	if err != nil {
		return nil, err
	}
	if len(members) < s.Config.MinClusterSize {
		return nil, nil
	}

	summaries := make([]string, len(members))
	for i, m := range members {
		summaries[i] = m.Summary
	}
	vectors, err := s.Embedder.EmbedBatch(ctx, summaries)
	if err != nil {
		return nil, err
	}

	groups := groupBySimilarity(vectors, s.Config.ClusterSimilarityThreshold)

	var clusters [][]*store.Memory
	for _, idxs := range groups {
		if len(idxs) < s.Config.MinClusterSize {
			continue
		}
		cluster := make([]*store.Memory, len(idxs))
		for i, idx := range idxs {
			cluster[i] = members[idx]
		}
		clusters = append(clusters, cluster)
	}
	return clusters, nil
}

// groupBySimilarity performs single-link agglomeration: any two items whose
// cosine similarity meets the threshold join the same group. This matches
// the "pairwise cosine similarity... form clusters by threshold" wording
// without requiring a target cluster count up front.
func groupBySimilarity(vectors [][]float32, threshold float64) [][]int {
	n := len(vectors)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if cosineSimilarity(vectors[i], vectors[j]) >= threshold {
				union(i, j)
			}
		}
	}

	groupsByRoot := map[int][]int{}
	for i := 0; i < n; i++ {
		root := find(i)
		groupsByRoot[root] = append(groupsByRoot[root], i)
	}

	var groups [][]int
	for _, g := range groupsByRoot {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// chooseRepresentative scores each cluster member on detail, recency, and
// importance, breaking ties by newer timestamp then
// lexicographically smaller memory id for a fully deterministic outcome.
func (s *Service) chooseRepresentative(cluster []*store.Memory) *store.Memory {
	now := s.Now()
	best := cluster[0]
	bestScore := s.representativeScore(best, now)

	for _, m := range cluster[1:] {
		score := s.representativeScore(m, now)
		switch {
		case score > bestScore:
			best, bestScore = m, score
		case score == bestScore:
			if m.Timestamp.After(best.Timestamp) {
				best = m
			} else if m.Timestamp.Equal(best.Timestamp) && m.ID < best.ID {
				best = m
			}
		}
	}
	return best
}

func (s *Service) representativeScore(m *store.Memory, now time.Time) float64 {
	w := s.RepWeights
	detail := math.Min(float64(len(m.Content))/2000.0, 1.0)
	ageHours := now.Sub(m.Timestamp).Hours()
	recency := 1.0 / (1.0 + ageHours/24.0)
	return w.Detail*detail + w.Recency*recency + w.Importance*m.Importance
}

// compressMember replaces a non-representative cluster member's content
// with a pointer to its representative, deletes its L chunks, and leaves
// its V metadata entry intact so it still surfaces via the cluster search.
func (s *Service) compressMember(ctx context.Context, rep, member *store.Memory) error {
	chunkIDs, err := s.chunkIDsForMemory(ctx, member.ID)
	if err != nil {
		return err
	}
	if len(chunkIDs) > 0 {
		if err := s.Lexical.Delete(ctx, chunkIDs); err != nil {
			return err
		}
	}

	compressedContent := fmt.Sprintf("[compressed: see %s] %s", rep.ID, member.Summary)
	compressed := true
	if err := s.Registry.UpdateFields(ctx, member.ID, store.MemoryPatch{
		Content: &compressedContent,
		Compressed: &compressed,
	}); err != nil {
		return err
	}
	return nil
}

// forget deletes memories whose age exceeds the threshold and whose
// importance is below it, exempting frequently or recently accessed
// memories.
func (s *Service) forget(ctx context.Context) (int, error) {
	all, err := s.Registry.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	now := s.Now()
	ageThreshold := time.Duration(s.Config.AgeThresholdDays * 24 * float64(time.Hour))

	forgotten := 0
	for _, m := range all {
		if now.Sub(m.Timestamp) <= ageThreshold {
			continue
		}
		if m.Importance >= s.Config.ImportanceThreshold {
			continue
		}
		if m.AccessCount >= s.Config.ExemptAccessCount {
			continue
		}
		if now.Sub(m.LastAccessed) <= s.Config.ExemptRecentAccess {
			continue
		}
		if err := s.cascadeDelete(ctx, m.ID); err != nil {
			return forgotten, err
		}
		forgotten++
	}
	return forgotten, nil
}

// cascadeDelete removes a memory's chunks from L, its metadata entry and
// chunk vectors from V, and its registry record.
func (s *Service) cascadeDelete(ctx context.Context, memoryID string) error {
	chunkIDs, err := s.chunkIDsForMemory(ctx, memoryID)
	if err != nil {
		return err
	}
	if len(chunkIDs) > 0 {
		if err := s.Lexical.Delete(ctx, chunkIDs); err != nil {
			return err
		}
	}

	vectorIDs := append(chunkIDs, memoryID+store.MetadataEntrySuffix)
	if err := s.Vector.Delete(ctx, vectorIDs); err != nil {
		return err
	}
	return s.Registry.Delete(ctx, memoryID)
}

// chunkIDsForMemory finds L's chunk ids belonging to a memory via the
// "{memory_id}#{index}" id convention.
func (s *Service) chunkIDsForMemory(ctx context.Context, memoryID string) ([]string, error) {
	allIDs, err := s.Lexical.AllIDs()
	if err != nil {
		return nil, err
	}
	prefix := memoryID + "#"
	var ids []string
	for _, id := range allIDs {
		if len(id) > len(prefix) && id[:len(prefix)] == prefix {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// orphanSweep removes L chunks whose memory has no V metadata entry, and V
// metadata entries with zero surviving chunks unless the memory is
// deliberately compressed.
func (s *Service) orphanSweep(ctx context.Context) (int, error) {
	removed := 0

	lexIDs, err := s.Lexical.AllIDs()
	if err != nil {
		return 0, err
	}
	var orphanChunks []string
	for _, id := range lexIDs {
		memID := memoryIDFromChunkID(id)
		if memID == "" {
			continue
		}
		if !s.Vector.Contains(memID + store.MetadataEntrySuffix) {
			orphanChunks = append(orphanChunks, id)
		}
	}
	if len(orphanChunks) > 0 {
		if err := s.Lexical.Delete(ctx, orphanChunks); err != nil {
			return removed, err
		}
		removed += len(orphanChunks)
	}

	chunkCount := map[string]int{}
	remainingLexIDs, err := s.Lexical.AllIDs()
	if err != nil {
		return removed, err
	}
	for _, id := range remainingLexIDs {
		if memID := memoryIDFromChunkID(id); memID != "" {
			chunkCount[memID]++
		}
	}

	var danglingMetadata []string
	for _, vid := range s.Vector.AllIDs() {
		memID := memoryIDFromMetadataID(vid)
		if memID == "" {
			continue
		}
		if chunkCount[memID] > 0 {
			continue
		}
		mem, err := s.Registry.Get(ctx, memID)
		if err != nil {
			return removed, err
		}
		if mem != nil && mem.Compressed {
			continue
		}
		danglingMetadata = append(danglingMetadata, vid)
	}
	if len(danglingMetadata) > 0 {
		if err := s.Vector.Delete(ctx, danglingMetadata); err != nil {
			return removed, err
		}
		removed += len(danglingMetadata)
	}

	return removed, nil
}

func memoryIDFromChunkID(chunkID string) string {
	for i := len(chunkID) - 1; i >= 0; i-- {
		if chunkID[i] == '#' {
			return chunkID[:i]
		}
	}
	return ""
}

func memoryIDFromMetadataID(vectorID string) string {
	suffix := store.MetadataEntrySuffix
	if len(vectorID) <= len(suffix) {
		return ""
	}
	if vectorID[len(vectorID)-len(suffix):] != suffix {
		return ""
	}
	return vectorID[:len(vectorID)-len(suffix)]
}
