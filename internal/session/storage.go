package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const (
	// sessionFileName is the metadata file name within each session directory.
	sessionFileName = "session.json"

	// maxSessionIDLength bounds session ids generated by StartSession and
	// rejects path-traversal-shaped ids passed in from outside.
	maxSessionIDLength = 64
)

// validSessionIDPattern matches alphanumeric, hyphen, and underscore.
var validSessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateSessionID validates a session id.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if len(id) > maxSessionIDLength {
		return fmt.Errorf("session id too long (max %d chars)", maxSessionIDLength)
	}
	if !validSessionIDPattern.MatchString(id) {
		return fmt.Errorf("session id can only contain letters, numbers, hyphens, and underscores")
	}
	return nil
}

// SaveSession persists a session to disk using an atomic write (temp file +
// rename), the same pattern the HNSW vector store uses for its own
// persistence.
func SaveSession(sess *Session) error {
	if err := os.MkdirAll(sess.SessionDir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	sessionPath := filepath.Join(sess.SessionDir, sessionFileName)
	tmpPath := sessionPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmpPath, sessionPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save session file: %w", err)
	}

	return nil
}

// LoadSession loads a session from disk.
func LoadSession(sessionDir string) (*Session, error) {
	sessionPath := filepath.Join(sessionDir, sessionFileName)

	data, err := os.ReadFile(sessionPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("session.json not found in %s", sessionDir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session.json: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session.json: %w", err)
	}
	sess.SessionDir = sessionDir

	return &sess, nil
}
