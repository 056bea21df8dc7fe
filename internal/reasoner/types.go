// Package reasoner provides local and external text-generation backends
// (classification, summarisation, cross-encoder scoring) and a router that
// picks between them per task.
package reasoner

import "context"

// CompleteOptions tunes a single completion call.
type CompleteOptions struct {
	// MaxTokens bounds the length of the response. Zero uses the backend default.
	MaxTokens int
	// Temperature controls sampling randomness. Zero uses the backend default.
	Temperature float64
	// System is an optional system prompt.
	System string
}

// TaskKind identifies the kind of work being routed.
type TaskKind int

const (
	TaskEmbedding TaskKind = iota
	TaskClassification
	TaskShortSummary
	TaskCrossEncoderScore
	TaskLongSummary
	TaskConsolidationReasoning
	TaskInvestigation
)

// String returns a human-readable task name, used in log fields.
func (k TaskKind) String() string {
	switch k {
	case TaskEmbedding:
		return "embedding"
	case TaskClassification:
		return "classification"
	case TaskShortSummary:
		return "short_summary"
	case TaskCrossEncoderScore:
		return "cross_encoder_score"
	case TaskLongSummary:
		return "long_summary"
	case TaskConsolidationReasoning:
		return "consolidation_reasoning"
	case TaskInvestigation:
		return "investigation"
	default:
		return "unknown"
	}
}

// IsLightweight reports whether a task is always served by R-local,
// regardless of R-ext availability.
func (k TaskKind) IsLightweight() bool {
	switch k {
	case TaskEmbedding, TaskClassification, TaskShortSummary, TaskCrossEncoderScore:
		return true
	default:
		return false
	}
}

// Completer is anything that can produce a text completion for a prompt.
// Both the local and external reasoners satisfy this.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error)
	Name() string
}
