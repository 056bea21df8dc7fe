package search

import (
	"context"
	"sync"
	"time"

	"github.com/localbrain/contextd/internal/store"
)

// Defaults for the project memory pool.
const (
	DefaultPoolTTL = 8 * time.Hour
	DefaultPoolLoadCap = 100
	DefaultPoolCandidateCap = 30
	DefaultMaxPools = 16
	DefaultProjectPrefetchThreshold = 0.7
)

// ProjectPool holds the member memory ids (normalised to their base form,
// never the -metadata suffix) and optionally their precomputed embeddings
// for one project.
type ProjectPool struct {
	ProjectID string
	MemberIDs map[string]struct{}
	Embeddings map[string][]float32
	LoadedAt time.Time
}

// Contains reports whether memoryID is a member of this pool.
func (p *ProjectPool) Contains(memoryID string) bool {
	_, ok := p.MemberIDs[memoryID]
	return ok
}

// PoolLoader loads the member memories for a project, most-recent first,
// capped at the given count. Implemented by the memory registry.
type PoolLoader interface {
	ListByProject(ctx context.Context, projectID string, limit int) ([]*store.Memory, error)
}

// PoolManager loads and caches per-project pools, LRU-bounded by project
// count and expired on a TTL.
type PoolManager struct {
	mu sync.Mutex
	pools map[string]*ProjectPool
	lruOrder []string // least-recently-used first

	loader PoolLoader
	maxPools int
	ttl time.Duration
	loadCap int
}

// NewPoolManager builds a pool manager backed by loader, using the
// documented default TTL, load cap, and LRU bound.
func NewPoolManager(loader PoolLoader) *PoolManager {
	return NewPoolManagerWithConfig(loader, PoolManagerConfig{})
}

// PoolManagerConfig carries the operator-configurable knobs for a
// PoolManager (internal/config's ProjectConfig), each defaulted when left
// at its zero value.
type PoolManagerConfig struct {
	LoadCap int
	TTL time.Duration
	MaxPools int
}

// NewPoolManagerWithConfig builds a pool manager backed by loader, applying
// cfg's per-project load cap and TTL over the documented defaults.
func NewPoolManagerWithConfig(loader PoolLoader, cfg PoolManagerConfig) *PoolManager {
	loadCap := cfg.LoadCap
	if loadCap <= 0 {
		loadCap = DefaultPoolLoadCap
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultPoolTTL
	}
	maxPools := cfg.MaxPools
	if maxPools <= 0 {
		maxPools = DefaultMaxPools
	}
	return &PoolManager{
		pools: make(map[string]*ProjectPool),
		loader: loader,
		maxPools: maxPools,
		ttl: ttl,
		loadCap: loadCap,
	}
}

// Get returns the cached pool for projectID if fresh, else loads it.
func (m *PoolManager) Get(ctx context.Context, projectID string) (*ProjectPool, error) {
	m.mu.Lock()
	if pool, ok := m.pools[projectID]; ok && time.Since(pool.LoadedAt) < m.ttl {
		m.touchLocked(projectID)
		m.mu.Unlock()
		return pool, nil
	}
	m.mu.Unlock()

	return m.load(ctx, projectID)
}

// Invalidate drops a cached pool, e.g. after ingestion adds a memory to the
// project so the next Get reloads fresh membership.
func (m *PoolManager) Invalidate(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pools, projectID)
	m.removeFromOrderLocked(projectID)
}

func (m *PoolManager) load(ctx context.Context, projectID string) (*ProjectPool, error) {
	members, err := m.loader.ListByProject(ctx, projectID, m.loadCap)
	if err != nil {
		return nil, err
	}

	pool := &ProjectPool{
		ProjectID: projectID,
		MemberIDs: make(map[string]struct{}, len(members)),
		Embeddings: make(map[string][]float32),
		LoadedAt: time.Now(),
	}
	for _, mem := range members {
		pool.MemberIDs[mem.ID] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictIfNeededLocked(projectID)
	m.pools[projectID] = pool
	m.touchLocked(projectID)
	return pool, nil
}

func (m *PoolManager) touchLocked(projectID string) {
	m.removeFromOrderLocked(projectID)
	m.lruOrder = append(m.lruOrder, projectID)
}

func (m *PoolManager) removeFromOrderLocked(projectID string) {
	for i, id := range m.lruOrder {
		if id == projectID {
			m.lruOrder = append(m.lruOrder[:i], m.lruOrder[i+1:]...)
			return
		}
	}
}

func (m *PoolManager) evictIfNeededLocked(incoming string) {
	if _, exists := m.pools[incoming]; exists {
		return
	}
	for len(m.pools) >= m.maxPools && len(m.lruOrder) > 0 {
		oldest := m.lruOrder[0]
		m.lruOrder = m.lruOrder[1:]
		delete(m.pools, oldest)
	}
}

// FilterToPool restricts a set of ranked candidates to those whose
// MemoryID is a pool member, capped at DefaultPoolCandidateCap.
func FilterToPool(pool *ProjectPool, candidates []RankCandidate) []RankCandidate {
	filtered := make([]RankCandidate, 0, len(candidates))
	for _, c := range candidates {
		if pool.Contains(c.MemoryID) {
			filtered = append(filtered, c)
			if len(filtered) >= DefaultPoolCandidateCap {
				break
			}
		}
	}
	return filtered
}

// SufficiencyCheck reports whether results passing minScore meet or exceed
// topK. When false, callers should run the full-corpus
// fallback pass.
func SufficiencyCheck(results []RankedResult, minScore float64, topK int) bool {
	count := 0
	for _, r := range results {
		if r.Score >= minScore {
			count++
		}
	}
	return count >= topK
}
