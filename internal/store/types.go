// Package store provides the vector store (V), lexical index (L), and
// memory registry persistence layer for the ingestion and retrieval core.
package store

import (
	"context"
	"fmt"
	"time"
)

// Schema is the domain class assigned to a memory at ingestion time.
type Schema string

const (
	SchemaIncident Schema = "Incident"
	SchemaSnippet Schema = "Snippet"
	SchemaDecision Schema = "Decision"
	SchemaProcess Schema = "Process"
)

// Tier is the lifecycle stage of a memory.
type Tier string

const (
	TierWorking Tier = "Working"
	TierShortTerm Tier = "ShortTerm"
	TierLongTerm Tier = "LongTerm"
)

// MetadataIsMemoryEntryKey is the metadata key distinguishing a memory-level
// metadata-entry vector record (true) from a chunk record (false).
const MetadataIsMemoryEntryKey = "is_memory_entry"

// MetadataEntrySuffix is the internal storage convention appended to a
// memory id to form its V record id. Never exposed past the storage
// boundary; callers normalise to the base id.
const MetadataEntrySuffix = "-metadata"

// Memory is the durable record for one ingested conversation.
type Memory struct {
	ID string
	Schema Schema
	Tier Tier
	Content string
	Summary string
	Refs []string
	Timestamp time.Time
	LastAccessed time.Time
	AccessCount int
	Importance float64
	Strength float64
	ProjectID string
	Language string
	Compressed bool
	Metadata map[string]string
}

// Chunk is a retrieval unit derived from a Memory.
type Chunk struct {
	ID string // convention "{memory_id}#{index}"
	MemoryID string
	ChunkIndex int
	Content string
	Embedding []float32
	Metadata map[string]string
}

// MemoryFilter is a flat metadata equality bag: a record matches only when
// every key/value pair matches (AND across keys). There is no $and array
// form; values are plain strings.
type MemoryFilter map[string]string

// MemoryRegistry persists Memory records and backs get_memory,
// list_recent_memories, and the project/consolidation scans. It is the
// system-of-record for memory-level fields that V and L do not themselves
// track faithfully (access_count, importance, strength, compression state).
type MemoryRegistry interface {
	Save(ctx context.Context, m *Memory) error
	Get(ctx context.Context, id string) (*Memory, error)
	Delete(ctx context.Context, id string) error
	ListRecent(ctx context.Context, limit int, filter MemoryFilter) ([]*Memory, error)
	ListByProject(ctx context.Context, projectID string, limit int) ([]*Memory, error)
	ListAll(ctx context.Context) ([]*Memory, error)
	ListByTier(ctx context.Context, tier Tier) ([]*Memory, error)
	UpdateAccess(ctx context.Context, id string, accessedAt time.Time) error
	UpdateFields(ctx context.Context, id string, patch MemoryPatch) error

	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// MemoryPatch carries a sparse set of mutable Memory field updates, used by
// consolidation (tier/strength/importance/content) and update_metadata.
type MemoryPatch struct {
	Tier *Tier
	Strength *float64
	Importance *float64
	Content *string
	Compressed *bool
	Summary *string
}

// Document represents a unit of text to be indexed in L.
type Document struct {
	ID string
	Content string
}

// BM25Result represents a single lexical search result.
type BM25Result struct {
	DocID string
	Score float64
	MatchedTerms []string
}

// IndexStats provides statistics about the BM25 index.
type IndexStats struct {
	DocumentCount int
	TermCount int
	AvgDocLength float64
}

// BM25Index is the lexical index (L): persistent, tokenised, restorable.
type BM25Index interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)
	Delete(ctx context.Context, docIDs []string) error
	AllIDs() ([]string, error)
	Stats() *IndexStats
	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Config configures the BM25 index.
type BM25Config struct {
	K1 float64
	B float64
	StopWords []string
	MinTokenLength int
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1: 1.2,
		B: 0.75,
		StopWords: DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords contains common English stop words filtered from
// conversational text during lexical indexing.
var DefaultStopWords = []string{
	"the", "a", "an", "and", "or", "but", "is", "are", "was", "were",
	"be", "been", "being", "to", "of", "in", "on", "for", "with", "as",
	"this", "that", "it", "at", "by", "from",
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID string
	Distance float32
	Score float32
	Metadata map[string]string
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	Dimensions int
	Quantization string
	Metric string
	M int
	EfConstruction int
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Quantization: "f16",
		Metric: "cos",
		M: 16,
		EfConstruction: 128,
		EfSearch: 64,
	}
}

// VectorStore is the vector store (V): an approximate-nearest-neighbor
// index over dense embeddings with filterable, open-ended metadata.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32, metadata []map[string]string) error
	Search(ctx context.Context, query []float32, k int, filter MemoryFilter) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int
	Metadata(id string) (map[string]string, bool)
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates the embedder and a persisted vector store
// disagree on dimensionality, e.g. after an embedding model change.
type ErrDimensionMismatch struct {
	Expected int
	Got int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
