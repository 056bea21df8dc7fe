package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localbrain/contextd/pkg/version"
)

func TestNewSession_CreatesWithDefaults(t *testing.T) {
	before := time.Now()
	sess := NewSession("abc123", "/sessions/abc123")
	after := time.Now()

	require.NotNil(t, sess)
	assert.Equal(t, "abc123", sess.ID)
	assert.Equal(t, "/sessions/abc123", sess.SessionDir)
	assert.Equal(t, version.Version, sess.Version)
	assert.True(t, !sess.StartedAt.Before(before) && !sess.StartedAt.After(after))
	assert.Equal(t, sess.StartedAt, sess.UpdatedAt)
	assert.Empty(t, sess.Events)
	assert.True(t, sess.Active())
	assert.Nil(t, sess.EndedAt)
}

func TestSession_AddCommand_AppendsAndBumpsUpdatedAt(t *testing.T) {
	sess := NewSession("s1", "/sessions/s1")
	oldUpdated := sess.UpdatedAt

	time.Sleep(time.Millisecond)
	sess.AddCommand(CommandEvent{Command: "go test ./...", Cwd: "/repo"})

	require.Len(t, sess.Events, 1)
	assert.Equal(t, "go test ./...", sess.Events[0].Command)
	assert.True(t, sess.UpdatedAt.After(oldUpdated))
}

func TestSession_Close_MarksInactive(t *testing.T) {
	sess := NewSession("s1", "/sessions/s1")
	assert.True(t, sess.Active())

	sess.Close()

	assert.False(t, sess.Active())
	require.NotNil(t, sess.EndedAt)
}

func TestSession_IsStale(t *testing.T) {
	tests := []struct {
		name      string
		updatedAt time.Time
		maxAge    time.Duration
		want      bool
	}{
		{"recent session is not stale", time.Now().Add(-1 * time.Hour), 24 * time.Hour, false},
		{"old session is stale", time.Now().Add(-48 * time.Hour), 24 * time.Hour, true},
		{"session at boundary is stale", time.Now().Add(-25 * time.Hour), 24 * time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := NewSession("s1", "/sessions/s1")
			sess.UpdatedAt = tt.updatedAt

			assert.Equal(t, tt.want, sess.IsStale(tt.maxAge))
		})
	}
}

func TestSession_ToInfo(t *testing.T) {
	sess := NewSession("work-api", "/sessions/work-api")
	sess.AddCommand(CommandEvent{Command: "npm test", Cwd: "/work/api"})
	sess.Hint = &ProjectHint{ProjectID: "api", Confidence: 0.45}

	info := sess.ToInfo()

	assert.Equal(t, "work-api", info.ID)
	assert.Equal(t, 1, info.EventCount)
	assert.True(t, info.Active)
	require.NotNil(t, info.ProjectHint)
	assert.Equal(t, "api", info.ProjectHint.ProjectID)
}
