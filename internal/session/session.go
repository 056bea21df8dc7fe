// Package session tracks the transient, per-connection work sessions
// a session accumulates command events
// as a user works, derives a project_hint from them, and closes into a
// summary that the ingestion pipeline can turn into a memory.
package session

import (
	"time"

	"github.com/localbrain/contextd/pkg/version"
)

// CommandEvent is one entry in a session's append-only event log.
type CommandEvent struct {
	Command string `json:"command"`
	Cwd string `json:"cwd,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProjectHint is the session manager's best guess at which project the
// current work belongs to, with a confidence in [0,1].
// Crossing DefaultPrefetchThreshold triggers pool warm-up.
type ProjectHint struct {
	ProjectID string `json:"project_id"`
	Confidence float64 `json:"confidence"`

	// WarmedUp marks that pool warm-up has already fired for this hint, so
	// a session that keeps issuing commands from the same directory after
	// crossing the threshold doesn't re-trigger it on every call. A
	// directory change produces a fresh ProjectHint (see deriveHint) and
	// so resets this to false naturally.
	WarmedUp bool `json:"warmed_up,omitempty"`
}

// Session is a transient work session: a started_at/updated_at pair, an
// event log, and a derived project hint.
type Session struct {
	ID string `json:"id"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	EndedAt *time.Time `json:"ended_at,omitempty"`
	Hint *ProjectHint `json:"project_hint,omitempty"`
	Events []CommandEvent `json:"events"`

	// Version is the contextd release that created this session.
	Version string `json:"version"`

	// SessionDir is the directory where the session's log lives. Computed,
	// not persisted.
	SessionDir string `json:"-"`
}

// NewSession creates a fresh, empty session.
func NewSession(id, sessionDir string) *Session {
	now := time.Now()
	return &Session{
		ID: id,
		StartedAt: now,
		UpdatedAt: now,
		Events: []CommandEvent{},
		Version: version.Version,
		SessionDir: sessionDir,
	}
}

// AddCommand appends a command event and bumps UpdatedAt.
func (s *Session) AddCommand(event CommandEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s.Events = append(s.Events, event)
	s.UpdatedAt = event.Timestamp
}

// Close marks the session ended.
func (s *Session) Close() {
	now := time.Now()
	s.EndedAt = &now
	s.UpdatedAt = now
}

// Active reports whether the session has not yet been closed.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// IsStale returns true if the session hasn't been updated within maxAge.
func (s *Session) IsStale(maxAge time.Duration) bool {
	return time.Since(s.UpdatedAt) > maxAge
}

// SessionInfo summarises a session for listing.
type SessionInfo struct {
	ID string
	StartedAt time.Time
	UpdatedAt time.Time
	Active bool
	EventCount int
	ProjectHint *ProjectHint
}

// ToInfo converts a Session to its listing summary.
func (s *Session) ToInfo() *SessionInfo {
	return &SessionInfo{
		ID: s.ID,
		StartedAt: s.StartedAt,
		UpdatedAt: s.UpdatedAt,
		Active: s.Active(),
		EventCount: len(s.Events),
		ProjectHint: s.Hint,
	}
}
