package mcp

import (
	"time"

	"github.com/localbrain/contextd/internal/search"
	"github.com/localbrain/contextd/internal/session"
	"github.com/localbrain/contextd/internal/store"
)

// IngestConversationInput defines the input schema for the ingest_conversation tool.
type IngestConversationInput struct {
	User      string            `json:"user" jsonschema:"the user turn of the conversation"`
	Assistant string            `json:"assistant" jsonschema:"the assistant turn of the conversation"`
	Source    string            `json:"source,omitempty" jsonschema:"origin of the conversation: cli, obsidian, or editor"`
	Refs      []string          `json:"refs,omitempty" jsonschema:"external references such as PR or issue URLs"`
	Timestamp string            `json:"timestamp,omitempty" jsonschema:"ISO-8601 timestamp, defaults to now"`
	ProjectID string            `json:"project_id,omitempty" jsonschema:"project this conversation belongs to"`
	Language  string            `json:"language,omitempty" jsonschema:"explicit language hint (e.g. en, fr, ja); falls back to environment override, content heuristic, then the configured default"`
	Metadata  map[string]string `json:"metadata,omitempty" jsonschema:"free-form metadata stored alongside the memory"`
}

// IngestConversationOutput defines the output schema for the ingest_conversation tool.
type IngestConversationOutput struct {
	MemoryID string `json:"memory_id" jsonschema:"id of the newly stored memory"`
}

// SearchMemoryInput defines the input schema for the search_memory tool.
type SearchMemoryInput struct {
	Query                   string            `json:"query" jsonschema:"the search query"`
	TopK                    int               `json:"top_k,omitempty" jsonschema:"maximum number of results, default 10"`
	Filters                 map[string]string `json:"filters,omitempty" jsonschema:"metadata equality filters"`
	ProjectID               string            `json:"project_id,omitempty" jsonschema:"restrict to a project's memory pool, falling back to the full corpus when the pool is insufficient"`
	IncludeSessionSummaries bool              `json:"include_session_summaries,omitempty" jsonschema:"include memory-level summary entries alongside chunk matches"`
}

// SearchMemoryOutput defines the output schema for the search_memory tool.
type SearchMemoryOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"ranked memory results"`
}

// SearchResultOutput is one ranked memory returned by search_memory.
type SearchResultOutput struct {
	MemoryID     string   `json:"memory_id"`
	Content      string   `json:"content"`
	Summary      string   `json:"summary"`
	Schema       string   `json:"schema"`
	Tier         string   `json:"tier"`
	Score        float64  `json:"score"`
	BM25Score    float64  `json:"bm25_score,omitempty"`
	VecScore     float64  `json:"vector_score,omitempty"`
	InBothLists  bool     `json:"in_both_lists,omitempty"`
	MatchedTerms []string `json:"matched_terms,omitempty"`
	Refs         []string `json:"refs,omitempty"`
	ProjectID    string   `json:"project_id,omitempty"`
}

// ToSearchResultOutput converts an engine result to the MCP wire format.
func ToSearchResultOutput(r *search.Result) SearchResultOutput {
	return SearchResultOutput{
		MemoryID:     r.Memory.ID,
		Content:      r.Memory.Content,
		Summary:      r.Memory.Summary,
		Schema:       string(r.Memory.Schema),
		Tier:         string(r.Memory.Tier),
		Score:        r.Score,
		BM25Score:    r.BM25Score,
		VecScore:     r.VecScore,
		InBothLists:  r.InBothLists,
		MatchedTerms: r.MatchedTerms,
		Refs:         r.Memory.Refs,
		ProjectID:    r.Memory.ProjectID,
	}
}

// GetMemoryInput defines the input schema for the get_memory tool.
type GetMemoryInput struct {
	MemoryID string `json:"memory_id" jsonschema:"id of the memory to fetch"`
}

// GetMemoryOutput defines the output schema for the get_memory tool.
type GetMemoryOutput struct {
	Memory MemoryOutput `json:"memory"`
}

// MemoryOutput is the full wire representation of a stored memory.
type MemoryOutput struct {
	ID           string            `json:"id"`
	Schema       string            `json:"schema"`
	Tier         string            `json:"tier"`
	Content      string            `json:"content"`
	Summary      string            `json:"summary"`
	Refs         []string          `json:"refs,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	LastAccessed time.Time         `json:"last_accessed"`
	AccessCount  int               `json:"access_count"`
	Importance   float64           `json:"importance"`
	Strength     float64           `json:"strength"`
	ProjectID    string            `json:"project_id,omitempty"`
	Language     string            `json:"language,omitempty"`
	Compressed   bool              `json:"compressed"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ToMemoryOutput converts a store.Memory to the MCP wire format.
func ToMemoryOutput(m *store.Memory) MemoryOutput {
	return MemoryOutput{
		ID:           m.ID,
		Schema:       string(m.Schema),
		Tier:         string(m.Tier),
		Content:      m.Content,
		Summary:      m.Summary,
		Refs:         m.Refs,
		Timestamp:    m.Timestamp,
		LastAccessed: m.LastAccessed,
		AccessCount:  m.AccessCount,
		Importance:   m.Importance,
		Strength:     m.Strength,
		ProjectID:    m.ProjectID,
		Language:     m.Language,
		Compressed:   m.Compressed,
		Metadata:     m.Metadata,
	}
}

// ListRecentMemoriesInput defines the input schema for the list_recent_memories tool.
type ListRecentMemoriesInput struct {
	Limit   int               `json:"limit,omitempty" jsonschema:"maximum number of memories, default 20"`
	Filters map[string]string `json:"filters,omitempty" jsonschema:"metadata equality filters"`
}

// ListRecentMemoriesOutput defines the output schema for the list_recent_memories tool.
type ListRecentMemoriesOutput struct {
	Memories []MemoryOutput `json:"memories" jsonschema:"memories ordered by descending timestamp"`
}

// ConsolidateMemoriesInput defines the input schema for the consolidate_memories tool (no parameters).
type ConsolidateMemoriesInput struct{}

// ConsolidateMemoriesOutput defines the output schema for the consolidate_memories tool.
type ConsolidateMemoriesOutput struct {
	Migrated        int   `json:"migrated"`
	ClustersFormed  int   `json:"clusters_formed"`
	Representatives int   `json:"representatives"`
	Compressed      int   `json:"compressed"`
	Forgotten       int   `json:"forgotten"`
	OrphansRemoved  int   `json:"orphans_removed"`
	DurationMillis  int64 `json:"duration_millis"`
}

// StartSessionInput defines the input schema for the start_session tool (no parameters).
type StartSessionInput struct{}

// StartSessionOutput defines the output schema for the start_session tool.
type StartSessionOutput struct {
	SessionID string `json:"session_id"`
}

// AddCommandInput defines the input schema for the add_command tool.
type AddCommandInput struct {
	SessionID string `json:"session_id" jsonschema:"session to append the command to"`
	Command   string `json:"command" jsonschema:"the shell command that was run"`
	Cwd       string `json:"cwd,omitempty" jsonschema:"working directory the command ran in"`
}

// AddCommandOutput defines the output schema for the add_command tool.
type AddCommandOutput struct {
	ProjectHint *ProjectHintOutput `json:"project_hint,omitempty"`
}

// ProjectHintOutput is the wire representation of a session's derived project hint.
type ProjectHintOutput struct {
	ProjectID  string  `json:"project_id"`
	Confidence float64 `json:"confidence"`
}

// ToProjectHintOutput converts a session.ProjectHint to the MCP wire format.
func ToProjectHintOutput(h *session.ProjectHint) *ProjectHintOutput {
	if h == nil {
		return nil
	}
	return &ProjectHintOutput{ProjectID: h.ProjectID, Confidence: h.Confidence}
}

// EndSessionInput defines the input schema for the end_session tool.
type EndSessionInput struct {
	SessionID string `json:"session_id" jsonschema:"session to close"`
}

// EndSessionOutput defines the output schema for the end_session tool.
type EndSessionOutput struct {
	SessionID  string    `json:"session_id"`
	EventCount int       `json:"event_count"`
	EndedAt    time.Time `json:"ended_at"`
}

// RerankerMetricsInput defines the input schema for the get_reranker_metrics tool (no parameters).
type RerankerMetricsInput struct{}

// RerankerMetricsOutput defines the output schema for the get_reranker_metrics tool.
type RerankerMetricsOutput struct {
	L1Hits          int64 `json:"l1_hits"`
	L1Misses        int64 `json:"l1_misses"`
	L2Hits          int64 `json:"l2_hits"`
	L2Misses        int64 `json:"l2_misses"`
	L3Hits          int64 `json:"l3_hits"`
	L3Misses        int64 `json:"l3_misses"`
	PairsScored     int64 `json:"pairs_scored"`
	QueueRejections int64 `json:"queue_rejections"`

	// AvgLatencyMillis/MaxLatencyMillis cover every router call recordLatency
	// observed, success or failure, not just the ones that produced a usable
	// score (PairsScored).
	AvgLatencyMillis int64 `json:"avg_latency_millis"`
	MaxLatencyMillis int64 `json:"max_latency_millis"`

	// ParallelQueueLength is the reranker's current in-flight external-call
	// count, bounded by its configured max parallelism.
	ParallelQueueLength int64 `json:"parallel_queue_length"`
}
