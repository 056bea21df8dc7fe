// Package ingest orchestrates the classify → summarise → chunk → embed →
// index pipeline.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/localbrain/contextd/internal/chunk"
	"github.com/localbrain/contextd/internal/classify"
	"github.com/localbrain/contextd/internal/embed"
	coreerrors "github.com/localbrain/contextd/internal/errors"
	"github.com/localbrain/contextd/internal/language"
	"github.com/localbrain/contextd/internal/store"
	"github.com/localbrain/contextd/internal/summarize"
)

// Source identifies where a conversation originated.
type Source string

const (
	SourceCLI Source = "cli"
	SourceObsidian Source = "obsidian"
	SourceEditor Source = "editor"
)

// Conversation is the normalised ingestion input.
type Conversation struct {
	UserText string
	AssistantText string
	Timestamp time.Time
	Source Source
	Refs []string
	Language string
	ProjectID string
	Metadata map[string]string
}

// Service orchestrates the ingestion pipeline end to end.
type Service struct {
	Classifier classify.Classifier
	Summariser *summarize.Summariser
	Chunker chunk.Chunker
	Embedder embed.Embedder
	Vector store.VectorStore
	Lexical store.BM25Index
	Registry store.MemoryRegistry
	MaxTokens int

	// SupportedLocal and DefaultLanguage drive the language override chain's
	// final "default" tier; they mirror config.LanguageConfig.
	SupportedLocal []string
	DefaultLanguage string
}

// New builds an ingestion service from its component collaborators.
func New(classifier classify.Classifier, summariser *summarize.Summariser, chunker chunk.Chunker, embedder embed.Embedder, vector store.VectorStore, lexical store.BM25Index, registry store.MemoryRegistry) *Service {
	return &Service{
		Classifier: classifier,
		Summariser: summariser,
		Chunker: chunker,
		Embedder: embedder,
		Vector: vector,
		Lexical: lexical,
		Registry: registry,
		MaxTokens: chunk.DefaultMaxChunkTokens,
		SupportedLocal: []string{"en"},
		DefaultLanguage: "en",
	}
}

// Ingest runs the full pipeline and returns the generated memory id.
func (s *Service) Ingest(ctx context.Context, conv Conversation) (string, error) {
	content := normalizeContent(conv)
	id := generateMemoryID(content, conv.Timestamp)

	schema, err := s.Classifier.Classify(ctx, content)
	if err != nil {
		// classifier failure falls back to Process, not fatal.
		schema = store.SchemaProcess
	}

	lang := language.Detect(conv.Language, conv.Metadata, content, s.SupportedLocal, s.DefaultLanguage)

	summary, err := s.Summariser.Summarize(ctx, content, lang)
	if err != nil {
		return "", coreerrors.IngestFailed("summary", "failed to produce structured summary", err)
	}

	chunks, err := s.chunkContent(ctx, id, content)
	if err != nil {
		return "", coreerrors.IngestFailed("summary", "failed to chunk content", err)
	}

	texts := make([]string, 0, len(chunks)+1)
	for _, c := range chunks {
		texts = append(texts, c.Content)
	}
	texts = append(texts, summary)

	embeddings, err := s.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return "", coreerrors.IngestFailed("embedding", "failed to embed chunks and summary", err)
	}
	if len(embeddings) != len(texts) {
		return "", coreerrors.IngestFailed("embedding", "embedder returned mismatched batch size", nil)
	}

	now := conv.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	mem := &store.Memory{
		ID: id,
		Schema: schema,
		Tier: store.TierWorking,
		Content: content,
		Summary: summary,
		Refs: conv.Refs,
		Timestamp: now,
		LastAccessed: now,
		Importance: 0.5,
		Strength: 0.5,
		ProjectID: conv.ProjectID,
		Language: lang,
		Metadata: conv.Metadata,
	}

	if err := s.writeAtomic(ctx, mem, chunks, embeddings); err != nil {
		return "", err
	}

	return id, nil
}

// writeAtomic performs the storage mapping: write V first, then L;
// on L failure, compensate by deleting the just-written V ids.
func (s *Service) writeAtomic(ctx context.Context, mem *store.Memory, chunks []*store.Chunk, embeddings [][]float32) error {
	chunkEmbeddings := embeddings[:len(chunks)]
	summaryEmbedding := embeddings[len(chunks)]

	vectorIDs := make([]string, 0, len(chunks)+1)
	vectorVecs := make([][]float32, 0, len(chunks)+1)
	vectorMeta := make([]map[string]string, 0, len(chunks)+1)

	metadataID := mem.ID + store.MetadataEntrySuffix
	vectorIDs = append(vectorIDs, metadataID)
	vectorVecs = append(vectorVecs, summaryEmbedding)
	vectorMeta = append(vectorMeta, memoryMetadata(mem, true))

	for i, c := range chunks {
		vectorIDs = append(vectorIDs, c.ID)
		vectorVecs = append(vectorVecs, chunkEmbeddings[i])
		vectorMeta = append(vectorMeta, memoryMetadata(mem, false))
	}

	if err := s.Vector.Add(ctx, vectorIDs, vectorVecs, vectorMeta); err != nil {
		return coreerrors.IngestFailed("storage", "failed to write vector records", err)
	}

	docs := make([]*store.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, &store.Document{ID: c.ID, Content: c.Content})
	}
	if err := s.Lexical.Index(ctx, docs); err != nil {
		// Compensate: remove the just-written V ids so a crash/failure here
		// does not leave a permanent half-written memory outside the
		// orphan sweep's reach.
		_ = s.Vector.Delete(ctx, vectorIDs)
		return coreerrors.IngestFailed("storage", "failed to write lexical records", err)
	}

	if err := s.Registry.Save(ctx, mem); err != nil {
		_ = s.Vector.Delete(ctx, vectorIDs)
		chunkIDs := make([]string, 0, len(chunks))
		for _, c := range chunks {
			chunkIDs = append(chunkIDs, c.ID)
		}
		_ = s.Lexical.Delete(ctx, chunkIDs)
		return coreerrors.IngestFailed("storage", "failed to save memory registry entry", err)
	}

	return nil
}

func memoryMetadata(mem *store.Memory, isMemoryEntry bool) map[string]string {
	return map[string]string{
		store.MetadataIsMemoryEntryKey: strconv.FormatBool(isMemoryEntry),
		"memory_id": mem.ID,
		"schema": string(mem.Schema),
		"tier": string(mem.Tier),
		"project_id": mem.ProjectID,
	}
}

// chunkContent implements the "conversation turn preferentially a single
// chunk" rule: if the whole content fits under the token ceiling, emit it
// as one chunk; otherwise fall through to the structural markdown chunker.
func (s *Service) chunkContent(ctx context.Context, memoryID, content string) ([]*store.Chunk, error) {
	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = chunk.DefaultMaxChunkTokens
	}

	if estimateTokens(content) <= maxTokens {
		return []*store.Chunk{{
			ID: fmt.Sprintf("%s#0", memoryID),
			MemoryID: memoryID,
			ChunkIndex: 0,
			Content: content,
		}}, nil
	}

	input := &chunk.FileInput{Path: memoryID, Content: []byte(content), Language: "markdown"}
	rawChunks, err := s.Chunker.Chunk(ctx, input)
	if err != nil {
		return nil, err
	}

	out := make([]*store.Chunk, len(rawChunks))
	for i, c := range rawChunks {
		out[i] = &store.Chunk{
			ID: fmt.Sprintf("%s#%d", memoryID, i),
			MemoryID: memoryID,
			ChunkIndex: i,
			Content: c.Content,
			Metadata: c.Metadata,
		}
	}
	return out, nil
}

func estimateTokens(s string) int {
	return len(s) / chunk.TokensPerChar
}

func normalizeContent(conv Conversation) string {
	var b strings.Builder
	if conv.UserText != "" {
		b.WriteString("User: ")
		b.WriteString(conv.UserText)
		b.WriteString("\n\n")
	}
	if conv.AssistantText != "" {
		b.WriteString("Assistant: ")
		b.WriteString(conv.AssistantText)
	}
	return strings.TrimSpace(b.String())
}

func generateMemoryID(content string, ts time.Time) string {
	sum := sha256.Sum256([]byte(content + ts.String()))
	return hex.EncodeToString(sum[:])[:16]
}
