// Package mcp implements the Model Context Protocol server for contextd.
package mcp

import (
	"context"
	"errors"
	"fmt"

	coreerrors "github.com/localbrain/contextd/internal/errors"
)

// Standard JSON-RPC error codes, plus a handful of contextd-specific ones in
// the reserved server-error range.
const (
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603

	ErrCodeMemoryNotFound = -32001
	ErrCodeSessionNotFound = -32002
	ErrCodeTimeout = -32003
	ErrCodeIngestFailed = -32004
	ErrCodeSearchFailed = -32005
	ErrCodeConsolidationErr = -32006
)

// Sentinel errors for internal use: package-level sentinels that MapError
// recognizes by errors.Is.
var (
	ErrToolNotFound = errors.New("tool not found")
	ErrInvalidParams = errors.New("invalid parameters")
	ErrResourceNotFound = errors.New("resource not found")
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code int `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors, mapping CoreError
// categories to the closest JSON-RPC-ish code and folding in the error's
// suggestion, if any, so the client sees actionable text.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var ce *coreerrors.CoreError
	if errors.As(err, &ce) {
		return mapCoreError(ce)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "request timed out"}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "request was canceled"}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "tool not found"}
	case errors.Is(err, ErrInvalidParams):
		return &MCPError{Code: ErrCodeInvalidParams, Message: "invalid parameters"}
	case errors.Is(err, ErrResourceNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "resource not found"}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "internal server error"}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown methods/tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("tool '%s' not found", name)}
}

// mapCoreError converts a CoreError to an MCPError by category.
func mapCoreError(ce *coreerrors.CoreError) *MCPError {
	message := ce.Message
	if ce.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ce.Message, ce.Suggestion)
	}

	switch ce.Category {
	case coreerrors.CategoryInvalidRequest:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case coreerrors.CategoryNotFound:
		code := ErrCodeMemoryNotFound
		if ce.Code == coreerrors.ErrCodeSessionNotFound {
			code = ErrCodeSessionNotFound
		}
		return &MCPError{Code: code, Message: message}
	case coreerrors.CategoryIngestFailed:
		return &MCPError{Code: ErrCodeIngestFailed, Message: message}
	case coreerrors.CategorySearchFailed:
		return &MCPError{Code: ErrCodeSearchFailed, Message: message}
	case coreerrors.CategoryTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	case coreerrors.CategoryConsolidationErr:
		return &MCPError{Code: ErrCodeConsolidationErr, Message: message}
	case coreerrors.CategoryRouterFallback:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	default: // CategoryInternal and unknown
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
