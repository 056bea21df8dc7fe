// Package classify assigns a Schema (Incident, Snippet, Decision, Process)
// to a conversation, combining an R-local classification call with a
// deterministic pattern-based fallback.
package classify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/localbrain/contextd/internal/reasoner"
	"github.com/localbrain/contextd/internal/store"
)

// DefaultCacheSize bounds the classification LRU cache.
const DefaultCacheSize = 2000

// DefaultTimeout bounds a single R-local classification call.
const DefaultTimeout = 5 * time.Second

// Classifier assigns a Schema to conversation content.
type Classifier interface {
	Classify(ctx context.Context, content string) (store.Schema, error)
}

// HybridClassifier tries R-local first, falling back to pattern matching on
// any router error or unrecognised label. Results are cached by content hash.
type HybridClassifier struct {
	router *reasoner.Router
	pattern *PatternClassifier
	cache *lru.Cache[string, store.Schema]
	timeout time.Duration
}

var _ Classifier = (*HybridClassifier)(nil)

// NewHybridClassifier builds a classifier around the given router, with the
// default cache size and timeout.
func NewHybridClassifier(router *reasoner.Router) *HybridClassifier {
	cache, _ := lru.New[string, store.Schema](DefaultCacheSize)
	return &HybridClassifier{
		router: router,
		pattern: NewPatternClassifier(),
		cache: cache,
		timeout: DefaultTimeout,
	}
}

func contentKey(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

const classifyPrompt = `Classify the following conversation into exactly one label: Incident, Snippet, Decision, or Process.
Respond with only the single label word.

Conversation:
%s`

// Classify returns the schema for content, consulting the cache, then
// R-local, then the deterministic pattern fallback.
func (c *HybridClassifier) Classify(ctx context.Context, content string) (store.Schema, error) {
	key := contentKey(content)
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	schema := c.classifyViaRouter(ctx, content)
	if schema == "" {
		schema = c.pattern.Classify(content)
	}
	c.cache.Add(key, schema)
	return schema, nil
}

func (c *HybridClassifier) classifyViaRouter(ctx context.Context, content string) store.Schema {
	if c.router == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	excerpt := content
	if len(excerpt) > 4000 {
		excerpt = excerpt[:4000]
	}
	raw, err := c.router.Route(ctx, reasoner.TaskClassification, fmt.Sprintf(classifyPrompt, excerpt), reasoner.CompleteOptions{MaxTokens: 8})
	if err != nil {
		return ""
	}
	return parseSchemaLabel(raw)
}

func parseSchemaLabel(raw string) store.Schema {
	label := strings.TrimSpace(raw)
	label = strings.Trim(label, ".\"'")
	switch strings.ToLower(label) {
	case "incident":
		return store.SchemaIncident
	case "snippet":
		return store.SchemaSnippet
	case "decision":
		return store.SchemaDecision
	case "process":
		return store.SchemaProcess
	default:
		return ""
	}
}

// PatternClassifier classifies conversations using keyword/regex heuristics.
// It never errors and is the fallback when R-local is unavailable.
type PatternClassifier struct{}

// NewPatternClassifier builds a pattern-based classifier.
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{}
}

var (
	incidentPattern = regexp.MustCompile(`(?i)\b(error|exception|crash|outage|fail(ed|ure)?|bug|stack trace|panic|incident|down|broken)\b`)
	snippetPattern = regexp.MustCompile("(?s)```|`[^`\n]+`")
	decisionPattern = regexp.MustCompile(`(?i)\b(decided|decision|we chose|going with|trade-?off|rationale|instead of|rather than)\b`)
	processPattern = regexp.MustCompile(`(?i)\b(step \d|first,|then,|finally,|checklist|runbook|how to|procedure)\b`)
)

// Classify applies the heuristics in priority order: Incident > Snippet >
// Decision > Process, defaulting to Process for anything unmatched (most
// conversational content describes doing something).
func (p *PatternClassifier) Classify(content string) store.Schema {
	switch {
	case incidentPattern.MatchString(content):
		return store.SchemaIncident
	case snippetPattern.MatchString(content):
		return store.SchemaSnippet
	case decisionPattern.MatchString(content):
		return store.SchemaDecision
	case processPattern.MatchString(content):
		return store.SchemaProcess
	default:
		return store.SchemaProcess
	}
}
