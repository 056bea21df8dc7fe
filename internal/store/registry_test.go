package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *SQLiteRegistry {
	t.Helper()
	r, err := NewSQLiteRegistry("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func sampleMemory(id string) *Memory {
	now := time.Unix(1700000000, 0).UTC()
	return &Memory{
		ID:           id,
		Schema:       SchemaDecision,
		Tier:         TierWorking,
		Content:      "we decided to use SQLite for the registry",
		Summary:      "chose SQLite",
		Refs:         []string{"related-1"},
		Timestamp:    now,
		LastAccessed: now,
		AccessCount:  0,
		Importance:   0.5,
		Strength:     1.0,
		ProjectID:    "proj-a",
		Language:     "en",
		Metadata:     map[string]string{"source": "test"},
	}
}

func TestSQLiteRegistry_SaveAndGet(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	m := sampleMemory("mem-1")
	require.NoError(t, r.Save(ctx, m))

	got, err := r.Get(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, m.Schema, got.Schema)
	assert.Equal(t, m.Tier, got.Tier)
	assert.Equal(t, []string{"related-1"}, got.Refs)
	assert.Equal(t, "test", got.Metadata["source"])
}

func TestSQLiteRegistry_SaveUpserts(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	m := sampleMemory("mem-1")
	require.NoError(t, r.Save(ctx, m))

	m.Content = "updated content"
	require.NoError(t, r.Save(ctx, m))

	got, err := r.Get(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, "updated content", got.Content)
}

func TestSQLiteRegistry_GetNotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get(context.Background(), "missing")
	assert.Error(t, err)
}

func TestSQLiteRegistry_Delete(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Save(ctx, sampleMemory("mem-1")))
	require.NoError(t, r.Delete(ctx, "mem-1"))

	_, err := r.Get(ctx, "mem-1")
	assert.Error(t, err)
}

func TestSQLiteRegistry_ListRecentWithFilter(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	a := sampleMemory("mem-a")
	a.ProjectID = "proj-a"
	b := sampleMemory("mem-b")
	b.ProjectID = "proj-b"
	require.NoError(t, r.Save(ctx, a))
	require.NoError(t, r.Save(ctx, b))

	results, err := r.ListRecent(ctx, 10, MemoryFilter{"project_id": "proj-a"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mem-a", results[0].ID)
}

func TestSQLiteRegistry_ListByProject(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	a := sampleMemory("mem-a")
	a.ProjectID = "proj-a"
	b := sampleMemory("mem-b")
	b.ProjectID = "proj-a"
	c := sampleMemory("mem-c")
	c.ProjectID = "proj-b"
	require.NoError(t, r.Save(ctx, a))
	require.NoError(t, r.Save(ctx, b))
	require.NoError(t, r.Save(ctx, c))

	results, err := r.ListByProject(ctx, "proj-a", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSQLiteRegistry_ListByTier(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	a := sampleMemory("mem-a")
	a.Tier = TierWorking
	b := sampleMemory("mem-b")
	b.Tier = TierLongTerm
	require.NoError(t, r.Save(ctx, a))
	require.NoError(t, r.Save(ctx, b))

	results, err := r.ListByTier(ctx, TierLongTerm)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mem-b", results[0].ID)
}

func TestSQLiteRegistry_UpdateAccess(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Save(ctx, sampleMemory("mem-1")))

	accessedAt := time.Unix(1800000000, 0).UTC()
	require.NoError(t, r.UpdateAccess(ctx, "mem-1", accessedAt))

	got, err := r.Get(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
	assert.True(t, got.LastAccessed.Equal(accessedAt))
}

func TestSQLiteRegistry_UpdateFields(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Save(ctx, sampleMemory("mem-1")))

	newTier := TierShortTerm
	newStrength := 0.8
	require.NoError(t, r.UpdateFields(ctx, "mem-1", MemoryPatch{
		Tier:     &newTier,
		Strength: &newStrength,
	}))

	got, err := r.Get(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, TierShortTerm, got.Tier)
	assert.Equal(t, 0.8, got.Strength)
}

func TestSQLiteRegistry_UpdateFieldsNoop(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Save(ctx, sampleMemory("mem-1")))
	require.NoError(t, r.UpdateFields(ctx, "mem-1", MemoryPatch{}))
}

func TestSQLiteRegistry_State(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	v, err := r.GetState(ctx, "last_consolidation")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	require.NoError(t, r.SetState(ctx, "last_consolidation", "2026-07-30T00:00:00Z"))

	v, err = r.GetState(ctx, "last_consolidation")
	require.NoError(t, err)
	assert.Equal(t, "2026-07-30T00:00:00Z", v)

	require.NoError(t, r.SetState(ctx, "last_consolidation", "2026-07-31T00:00:00Z"))
	v, err = r.GetState(ctx, "last_consolidation")
	require.NoError(t, err)
	assert.Equal(t, "2026-07-31T00:00:00Z", v)
}

func TestSQLiteRegistry_ListAll(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Save(ctx, sampleMemory("mem-1")))
	require.NoError(t, r.Save(ctx, sampleMemory("mem-2")))

	all, err := r.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteRegistry_CloseIdempotent(t *testing.T) {
	r, err := NewSQLiteRegistry("")
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	err = r.Save(context.Background(), sampleMemory("mem-1"))
	assert.Error(t, err)
}
