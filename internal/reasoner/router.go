package reasoner

import (
	"context"
	"log/slog"

	coreerrors "github.com/localbrain/contextd/internal/errors"
)

// Router selects R-local vs R-ext per task. Lightweight
// tasks always go to R-local. Heavy tasks prefer R-ext when it is enabled and
// its circuit breaker is closed, falling back to R-local on any failure.
type Router struct {
	local Completer
	external *ExternalReasoner
	breaker *coreerrors.CircuitBreaker
}

// NewRouter builds a router over the given local/external reasoners.
// The circuit breaker opens after 3 consecutive R-ext failures and probes
// again after the breaker's default 30s reset timeout, favouring graceful degradation over retry storms.
func NewRouter(local Completer, external *ExternalReasoner) *Router {
	return &Router{
		local: local,
		external: external,
		breaker: coreerrors.NewCircuitBreaker("reasoner.external",
			coreerrors.WithMaxFailures(3)),
	}
}

// Route executes prompt against the reasoner selected for task, applying
// the lightweight/heavyweight heuristic and falling back to R-local on any
// R-ext failure. It never returns a RouterFallback error to the caller: a
// failed R-ext call degrades silently to R-local and is only logged.
func (r *Router) Route(ctx context.Context, task TaskKind, prompt string, opts CompleteOptions) (string, error) {
	if task.IsLightweight() || r.external == nil || !r.external.Enabled() {
		return r.local.Complete(ctx, prompt, opts)
	}

	if !r.breaker.Allow() {
		return r.local.Complete(ctx, prompt, opts)
	}

	result, err := r.external.Complete(ctx, prompt, opts)
	if err != nil {
		r.breaker.RecordFailure()
		// The user-facing request should not fail because of router
		// preference: degrade to R-local and log.
		slog.Warn("router_external_failed",
			slog.String("task", task.String()),
			slog.String("error", err.Error()))
		return r.local.Complete(ctx, prompt, opts)
	}
	r.breaker.RecordSuccess()
	return result, nil
}

// PreferredBackend reports which backend Route would currently use for a
// task, without invoking it. Useful for diagnostics (doctor command).
func (r *Router) PreferredBackend(task TaskKind) string {
	if task.IsLightweight() || r.external == nil || !r.external.Enabled() {
		return r.local.Name()
	}
	if r.breaker.State() == coreerrors.StateOpen {
		return r.local.Name() + " (external circuit open)"
	}
	return r.external.Name()
}
