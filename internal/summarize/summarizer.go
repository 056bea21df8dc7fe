// Package summarize produces a structured-summary contract: a fixed-grammar
// block that downstream rerank features,
// project-hint extraction, and the structured-summary search path all
// depend on.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/localbrain/contextd/internal/reasoner"
)

// DefaultTimeout bounds a single summarisation call.
const DefaultTimeout = 20 * time.Second

// MaxKeyActions caps the deterministic fallback's extracted action count.
const MaxKeyActions = 3

const summaryPrompt = `Summarize the following conversation using exactly this format (no other text):

Topic: <short topic line>
DocType: <one of: incident, decision, checklist, guide, snippet, process>
Project: <project name, or "Unknown">
KeyActions:
- <imperative action line>
- <imperative action line>

Conversation:
%s`

// Summariser produces a validated structured summary for a memory's content.
type Summariser struct {
	router *reasoner.Router
	timeout time.Duration

	// SupportedLocal and FallbackStrategy mirror config.LanguageConfig:
	// when the resolved language isn't in SupportedLocal and
	// FallbackStrategy is "external", summarisation is routed through the
	// heavy (R-ext-eligible) task even for short content.
	SupportedLocal []string
	FallbackStrategy string
}

// NewSummariser builds a summariser around the given router.
func NewSummariser(router *reasoner.Router) *Summariser {
	return &Summariser{router: router, timeout: DefaultTimeout, SupportedLocal: []string{"en"}, FallbackStrategy: "local"}
}

// Summarize returns a validated structured summary for content in the given
// language (an ISO-639-1-ish tag; empty means English). On a first
// validation failure it retries once with a stricter prompt; on a second
// failure it falls back to a deterministic summary built from the content
// itself, which always validates.
func (s *Summariser) Summarize(ctx context.Context, content, language string) (string, error) {
	candidate, err := s.generate(ctx, content, language, false)
	if err == nil {
		if v := Validate(candidate); v == nil {
			return candidate, nil
		}
	}

	candidate, err = s.generate(ctx, content, language, true)
	if err == nil {
		if v := Validate(candidate); v == nil {
			return candidate, nil
		}
	}

	return fallbackSummary(content), nil
}

func (s *Summariser) generate(ctx context.Context, content, lang string, strict bool) (string, error) {
	if s.router == nil {
		return "", errNoRouter
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	task := reasoner.TaskShortSummary
	if len(content) > 4000 {
		task = reasoner.TaskLongSummary
	}
	if lang != "" && !s.isSupportedLocal(lang) && strings.EqualFold(s.FallbackStrategy, "external") {
		task = reasoner.TaskLongSummary
	}

	prompt := buildPrompt(content, lang, strict)
	return s.router.Route(ctx, task, prompt, reasoner.CompleteOptions{MaxTokens: 300})
}

func (s *Summariser) isSupportedLocal(lang string) bool {
	for _, l := range s.SupportedLocal {
		if strings.EqualFold(l, lang) {
			return true
		}
	}
	return false
}

func buildPrompt(content, lang string, strict bool) string {
	p := fmt.Sprintf(summaryPrompt, content)
	if lang != "" && !strings.EqualFold(lang, "en") {
		p += fmt.Sprintf("\n\nWrite the summary in %s, matching the language of the conversation.", lang)
	}
	if strict {
		p += "\n\nIMPORTANT: Output MUST match the format exactly. Each KeyActions line MUST start with \"- \". Do not use numbered lists or paragraphs."
	}
	return p
}

type noRouterError struct{}

func (noRouterError) Error() string { return "summarize: no router configured" }

var errNoRouter = noRouterError{}

// ValidationError describes why a candidate summary failed validation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid structured summary: " + e.Reason }

// Validate checks a candidate summary against the expected grammar: fixed line
// order, non-empty Topic, a DocType line (its value is not checked), a
// Project line, and at least one "- " prefixed KeyActions line.
func Validate(summary string) error {
	lines := splitNonEmptyLines(summary)
	if len(lines) < 4 {
		return &ValidationError{Reason: "too few lines"}
	}

	if !strings.HasPrefix(lines[0], "Topic:") || strings.TrimSpace(strings.TrimPrefix(lines[0], "Topic:")) == "" {
		return &ValidationError{Reason: "missing or empty Topic line"}
	}
	if !strings.HasPrefix(lines[1], "DocType:") {
		return &ValidationError{Reason: "missing DocType line"}
	}
	if !strings.HasPrefix(lines[2], "Project:") {
		return &ValidationError{Reason: "missing Project line"}
	}
	if strings.TrimSpace(lines[3]) != "KeyActions:" {
		return &ValidationError{Reason: "missing KeyActions: header"}
	}

	actionLines := lines[4:]
	if len(actionLines) == 0 {
		return &ValidationError{Reason: "empty KeyActions"}
	}
	for _, l := range actionLines {
		if !strings.HasPrefix(l, "- ") {
			return &ValidationError{Reason: "KeyActions item missing \"- \" prefix: " + l}
		}
	}
	return nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

// fallbackSummary deterministically builds a valid structured summary from
// content alone: first sentence as Topic, up to MaxKeyActions extracted
// imperative-looking lines as KeyActions, or a placeholder if none found.
func fallbackSummary(content string) string {
	topic := firstSentence(content)
	if topic == "" {
		topic = "Untitled conversation"
	}

	actions := extractImperativeClauses(content, MaxKeyActions)
	var b strings.Builder
	b.WriteString("Topic: ")
	b.WriteString(topic)
	b.WriteString("\nDocType: process\nProject: Unknown\nKeyActions:\n")
	if len(actions) == 0 {
		b.WriteString("- (no actions recorded)\n")
	} else {
		for _, a := range actions {
			b.WriteString("- ")
			b.WriteString(a)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func firstSentence(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	for i, r := range content {
		if r == '.' || r == '\n' {
			s := strings.TrimSpace(content[:i])
			if len(s) > 200 {
				s = s[:200]
			}
			return s
		}
	}
	if len(content) > 200 {
		return content[:200]
	}
	return content
}

var imperativeStarters = []string{
	"run ", "add ", "fix ", "update ", "remove ", "check ", "review ",
	"deploy ", "install ", "configure ", "restart ", "verify ", "investigate ",
}

// extractImperativeClauses scans lines for ones that look like action
// items: after stripping any bullet or number prefix, a line is kept only
// if it starts with a common imperative verb.
func extractImperativeClauses(content string, limit int) []string {
	var actions []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• ")
		line = trimLeadingNumber(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		for _, starter := range imperativeStarters {
			if strings.HasPrefix(lower, starter) {
				if len(line) > 150 {
					line = line[:150]
				}
				actions = append(actions, line)
				break
			}
		}
		if len(actions) >= limit {
			break
		}
	}
	return actions
}

func trimLeadingNumber(line string) string {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return strings.TrimSpace(line[i+1:])
	}
	return line
}
