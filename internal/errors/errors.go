package errors

import (
	"fmt"
)

// CoreError is the structured error type for contextd. It carries enough
// context for logging, MCP error-code mapping, and user-facing suggestions
// without leaking stack traces to the client.
type CoreError struct {
	// Code is the unique error code (e.g., "ERR_301_CLASSIFY_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is one of the seven error kinds.
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion surfaced to the caller.
	Suggestion string
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code, enabling
// errors.Is() to work with CoreError.
func (e *CoreError) Is(target error) bool {
	if t, ok := target.(*CoreError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error and returns it for chaining.
func (e *CoreError) WithDetail(key, value string) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets an actionable suggestion and returns the error for chaining.
func (e *CoreError) WithSuggestion(suggestion string) *CoreError {
	e.Suggestion = suggestion
	return e
}

// New creates a new CoreError with the given code and message. Category,
// severity, and retryable flag are derived from the code's numeric prefix.
func New(code string, message string, cause error) *CoreError {
	return &CoreError{
		Code: code,
		Message: message,
		Category: categoryFromCode(code),
		Severity: severityFromCode(code),
		Cause: cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a CoreError from an existing error. The error's message
// becomes the CoreError message.
func Wrap(code string, err error) *CoreError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidRequest creates an InvalidRequest-category error. Never retried.
func InvalidRequest(message string, cause error) *CoreError {
	return New(ErrCodeMalformedRequest, message, cause)
}

// NotFound creates a NotFound-category error for an unknown memory or session id.
func NotFound(message string, cause error) *CoreError {
	return New(ErrCodeMemoryNotFound, message, cause)
}

// IngestFailed creates an IngestFailed-category error for the given ingestion
// stage: classification, summary, embedding, or storage.
func IngestFailed(cause string, message string, err error) *CoreError {
	code := ErrCodeStorageFailed
	switch cause {
	case "classification":
		code = ErrCodeClassifyFailed
	case "summary":
		code = ErrCodeSummaryFailed
	case "embedding":
		code = ErrCodeEmbedFailed
	case "storage":
		code = ErrCodeStorageFailed
	}
	return New(code, message, err).WithDetail("cause", cause)
}

// SearchFailed creates a SearchFailed-category error for the given search
// stage: embedding, vector, lexical, or rerank.
func SearchFailed(cause string, message string, err error) *CoreError {
	code := ErrCodeRerankFailed
	switch cause {
	case "embedding":
		code = ErrCodeSearchEmbedFailed
	case "vector":
		code = ErrCodeVectorSearchFailed
	case "lexical":
		code = ErrCodeLexicalSearchFailed
	case "rerank":
		code = ErrCodeRerankFailed
	}
	return New(code, message, err).WithDetail("cause", cause)
}

// TimeoutError creates a Timeout-category error for a deadline exceeded.
func TimeoutError(message string, cause error) *CoreError {
	return New(ErrCodeDeadlineExceeded, message, cause)
}

// RouterFallback creates a non-fatal RouterFallback-category error, logged
// but never surfaced to the caller.
func RouterFallback(message string, cause error) *CoreError {
	return New(ErrCodeRouterDegraded, message, cause)
}

// ConsolidationFailed creates a ConsolidationError-category error, surfaced
// to the triggering caller while leaving a recoverable state.
func ConsolidationFailed(message string, cause error) *CoreError {
	return New(ErrCodeConsolidationFailed, message, cause)
}

// Internal creates an internal error for unexpected failures.
func Internal(message string, cause error) *CoreError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CoreError); ok {
		return ce.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CoreError); ok {
		return ce.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a CoreError. Returns empty string if not a CoreError.
func GetCode(err error) string {
	if ce, ok := err.(*CoreError); ok {
		return ce.Code
	}
	return ""
}

// GetCategory extracts the category from a CoreError. Returns empty string if not a CoreError.
func GetCategory(err error) Category {
	if ce, ok := err.(*CoreError); ok {
		return ce.Category
	}
	return ""
}
