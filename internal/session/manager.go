package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultMaxSessions bounds how many concurrent session logs are kept on
// disk before StartSession refuses new ones.
const DefaultMaxSessions = 64

// DefaultPrefetchThreshold mirrors search.DefaultProjectPrefetchThreshold,
// duplicated here rather than importing internal/search, which would
// create a dependency cycle back into this package's eventual consumer
// (the MCP server).
const DefaultPrefetchThreshold = 0.7

// hintConfidenceStep is how much confidence grows per consecutive command
// observed from the same working directory.
const hintConfidenceStep = 0.15

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// StoragePath is the directory where session logs are stored.
	StoragePath string

	// MaxSessions caps concurrently tracked sessions. Defaults to
	// DefaultMaxSessions.
	MaxSessions int
}

// Manager handles session lifecycle operations: start, command tracking,
// close, and disk persistence under StoragePath.
type Manager struct {
	storagePath string
	maxSessions int
}

// NewManager creates a new session manager, creating the storage directory
// if it doesn't exist.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.StoragePath == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := os.MkdirAll(cfg.StoragePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session storage: %w", err)
	}

	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}

	return &Manager{storagePath: cfg.StoragePath, maxSessions: maxSessions}, nil
}

// StartSession creates and persists a new, empty session.
func (m *Manager) StartSession(_ context.Context) (*Session, error) {
	count, err := m.sessionCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	if count >= m.maxSessions {
		return nil, fmt.Errorf("maximum %d sessions reached; end or prune old sessions first", m.maxSessions)
	}

	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	sess := NewSession(id, m.SessionDir(id))
	if err := SaveSession(sess); err != nil {
		return nil, fmt.Errorf("failed to save new session: %w", err)
	}
	return sess, nil
}

// AddCommand appends a command event to sessionID's log, recomputes its
// project_hint, and persists the result. The returned session's Hint field
// is what callers check against DefaultPrefetchThreshold to decide whether
// to trigger pool warm-up.
func (m *Manager) AddCommand(_ context.Context, sessionID string, event CommandEvent) (*Session, error) {
	sess, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}

	sess.AddCommand(event)
	sess.Hint = deriveHint(sess.Hint, event.Cwd)

	if err := SaveSession(sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return sess, nil
}

// EndSession closes a session and persists its final state. The caller
// (the MCP collaborator layer) is responsible for turning the
// closed session's event log into a conversation for ingestion.
func (m *Manager) EndSession(_ context.Context, sessionID string) (*Session, error) {
	sess, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	sess.Close()
	if err := SaveSession(sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return sess, nil
}

// Get retrieves a session by id without modifying it.
func (m *Manager) Get(id string) (*Session, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, fmt.Errorf("invalid session id: %w", err)
	}
	if !m.Exists(id) {
		return nil, fmt.Errorf("session '%s' not found", id)
	}
	return LoadSession(m.SessionDir(id))
}

// List returns all saved sessions, most useful for a `contextd doctor`
// sweep or a future list_sessions tool.
func (m *Manager) List() ([]*SessionInfo, error) {
	entries, err := os.ReadDir(m.storagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []*SessionInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var sessions []*SessionInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sess, err := LoadSession(filepath.Join(m.storagePath, entry.Name()))
		if err != nil {
			continue // skip invalid sessions
		}
		sessions = append(sessions, sess.ToInfo())
	}
	return sessions, nil
}

// Delete removes a session and its log.
func (m *Manager) Delete(id string) error {
	if !m.Exists(id) {
		return fmt.Errorf("session '%s' not found", id)
	}
	if err := os.RemoveAll(m.SessionDir(id)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Prune removes closed sessions whose log hasn't been updated within
// olderThan. Returns the count of deleted sessions.
func (m *Manager) Prune(olderThan time.Duration) (int, error) {
	sessions, err := m.List()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, info := range sessions {
		if info.Active {
			continue
		}
		if time.Since(info.UpdatedAt) > olderThan {
			if err := m.Delete(info.ID); err != nil {
				continue
			}
			deleted++
		}
	}
	return deleted, nil
}

// Exists checks if a session exists by id.
func (m *Manager) Exists(id string) bool {
	_, err := os.Stat(filepath.Join(m.SessionDir(id), sessionFileName))
	return err == nil
}

// sessionCount returns the number of existing sessions.
func (m *Manager) sessionCount() (int, error) {
	entries, err := os.ReadDir(m.storagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			if _, err := os.Stat(filepath.Join(m.storagePath, entry.Name(), sessionFileName)); err == nil {
				count++
			}
		}
	}
	return count, nil
}

// SessionDir returns the directory path for a session id.
func (m *Manager) SessionDir(id string) string {
	return filepath.Join(m.storagePath, id)
}

// generateSessionID produces a random 16-hex-character id.
func generateSessionID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// deriveHint updates a project hint from the working directory of the
// latest command: repeated commands from the same directory raise
// confidence, a directory change resets it (project_hint, confidence
// in [0,1]).
func deriveHint(prev *ProjectHint, cwd string) *ProjectHint {
	if cwd == "" {
		return prev
	}
	projectID := filepath.Base(filepath.Clean(cwd))

	if prev != nil && prev.ProjectID == projectID {
		return &ProjectHint{ProjectID: projectID, Confidence: math.Min(1.0, prev.Confidence+hintConfidenceStep), WarmedUp: prev.WarmedUp}
	}
	return &ProjectHint{ProjectID: projectID, Confidence: hintConfidenceStep * 2}
}

// MarkWarmedUp records that pool warm-up has fired for sessionID's current
// project hint, so AddCommand's caller doesn't trigger it again on
// subsequent commands from the same directory. A no-op if the session has
// no hint (nothing to mark) or has since moved to a different directory
// (the hint object that triggered warm-up is already gone).
func (m *Manager) MarkWarmedUp(sessionID string) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.Hint == nil {
		return nil
	}
	sess.Hint.WarmedUp = true
	if err := SaveSession(sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
