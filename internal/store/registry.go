package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// memorySchemaSQL creates the registry's tables. refs and metadata are
// stored as JSON text since SQLite has no native array/map column type.
const memorySchemaSQL = `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	schema TEXT NOT NULL,
	tier TEXT NOT NULL,
	content TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	refs TEXT NOT NULL DEFAULT '[]',
	timestamp INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0,
	importance REAL NOT NULL DEFAULT 0,
	strength REAL NOT NULL DEFAULT 1,
	project_id TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	compressed INTEGER NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_memories_project_id ON memories(project_id);
CREATE INDEX IF NOT EXISTS idx_memories_tier ON memories(tier);
CREATE INDEX IF NOT EXISTS idx_memories_timestamp ON memories(timestamp);

CREATE TABLE IF NOT EXISTS registry_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteRegistry implements MemoryRegistry on modernc.org/sqlite, a pure-Go
// SQLite driver that avoids a cgo toolchain requirement.
type SQLiteRegistry struct {
	mu sync.RWMutex
	db *sql.DB
	closed bool
}

// NewSQLiteRegistry opens (or creates) the memory registry database at path.
// An empty path opens an in-memory database, used by tests.
func NewSQLiteRegistry(path string) (*SQLiteRegistry, error) {
	dsn := path
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create registry directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite registry: %w", err)
	}

	// SQLite allows only one writer at a time; a single connection avoids
	// "database is locked" errors under concurrent access from this process.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(memorySchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create registry schema: %w", err)
	}

	return &SQLiteRegistry{db: db}, nil
}

type memoryRow struct {
	refs string
	metadata string
	ts int64
	accessed int64
}

func marshalRefs(refs []string) (string, error) {
	if refs == nil {
		refs = []string{}
	}
	b, err := json.Marshal(refs)
	return string(b), err
}

func marshalMetadata(md map[string]string) (string, error) {
	if md == nil {
		md = map[string]string{}
	}
	b, err := json.Marshal(md)
	return string(b), err
}

// Save inserts or replaces a Memory record.
func (r *SQLiteRegistry) Save(ctx context.Context, m *Memory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("registry is closed")
	}

	refsJSON, err := marshalRefs(m.Refs)
	if err != nil {
		return fmt.Errorf("marshal refs: %w", err)
	}
	metaJSON, err := marshalMetadata(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO memories (id, schema, tier, content, summary, refs, timestamp,
			last_accessed, access_count, importance, strength, project_id, language,
			compressed, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema=excluded.schema, tier=excluded.tier, content=excluded.content,
			summary=excluded.summary, refs=excluded.refs, timestamp=excluded.timestamp,
			last_accessed=excluded.last_accessed, access_count=excluded.access_count,
			importance=excluded.importance, strength=excluded.strength,
			project_id=excluded.project_id, language=excluded.language,
			compressed=excluded.compressed, metadata=excluded.metadata`,
		m.ID, string(m.Schema), string(m.Tier), m.Content, m.Summary, refsJSON,
		m.Timestamp.UnixNano(), m.LastAccessed.UnixNano(), m.AccessCount,
		m.Importance, m.Strength, m.ProjectID, m.Language, boolToInt(m.Compressed), metaJSON,
	)
	if err != nil {
		return fmt.Errorf("save memory %s: %w", m.ID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanMemory(scan func(dest...any) error) (*Memory, error) {
	var m Memory
	var schema, tier string
	var refsJSON, metaJSON string
	var ts, accessed int64
	var compressed int

	if err := scan(&m.ID, &schema, &tier, &m.Content, &m.Summary, &refsJSON, &ts,
		&accessed, &m.AccessCount, &m.Importance, &m.Strength, &m.ProjectID,
		&m.Language, &compressed, &metaJSON); err != nil {
		return nil, err
	}

	m.Schema = Schema(schema)
	m.Tier = Tier(tier)
	m.Timestamp = time.Unix(0, ts)
	m.LastAccessed = time.Unix(0, accessed)
	m.Compressed = compressed != 0

	if err := json.Unmarshal([]byte(refsJSON), &m.Refs); err != nil {
		return nil, fmt.Errorf("unmarshal refs: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &m.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	return &m, nil
}

const memorySelectColumns = `id, schema, tier, content, summary, refs, timestamp,
	last_accessed, access_count, importance, strength, project_id, language,
	compressed, metadata`

// Get fetches a Memory by ID.
func (r *SQLiteRegistry) Get(ctx context.Context, id string) (*Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("registry is closed")
	}

	row := r.db.QueryRowContext(ctx, "SELECT "+memorySelectColumns+" FROM memories WHERE id = ?", id)
	m, err := scanMemory(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("memory not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	return m, nil
}

// Delete removes a Memory by ID.
func (r *SQLiteRegistry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("registry is closed")
	}

	_, err := r.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	return nil
}

// ListRecent returns up to limit memories ordered by timestamp descending,
// optionally restricted by an equality filter over top-level memory fields
// recognised as filter keys: project_id, schema, tier, language.
func (r *SQLiteRegistry) ListRecent(ctx context.Context, limit int, filter MemoryFilter) ([]*Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("registry is closed")
	}

	query := "SELECT " + memorySelectColumns + " FROM memories"
	args := []any{}

	clauses, clauseArgs := filterClauses(filter)
	if len(clauses) > 0 {
		query += " WHERE " + joinAnd(clauses)
		args = append(args, clauseArgs...)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	return r.queryMemories(ctx, query, args...)
}

func filterClauses(filter MemoryFilter) ([]string, []any) {
	recognized := map[string]bool{"project_id": true, "schema": true, "tier": true, "language": true}
	clauses := make([]string, 0, len(filter))
	args := make([]any, 0, len(filter))
	for k, v := range filter {
		if !recognized[k] {
			continue
		}
		clauses = append(clauses, k+" = ?")
		args = append(args, v)
	}
	return clauses, args
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}

// ListByProject returns up to limit memories for a given project ID.
func (r *SQLiteRegistry) ListByProject(ctx context.Context, projectID string, limit int) ([]*Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("registry is closed")
	}

	return r.queryMemories(ctx,
		"SELECT "+memorySelectColumns+" FROM memories WHERE project_id = ? ORDER BY timestamp DESC LIMIT ?",
		projectID, limit)
}

// ListAll returns every memory in the registry, used by consolidation scans.
func (r *SQLiteRegistry) ListAll(ctx context.Context) ([]*Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("registry is closed")
	}

	return r.queryMemories(ctx, "SELECT "+memorySelectColumns+" FROM memories")
}

// ListByTier returns every memory at a given lifecycle tier.
func (r *SQLiteRegistry) ListByTier(ctx context.Context, tier Tier) ([]*Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("registry is closed")
	}

	return r.queryMemories(ctx,
		"SELECT "+memorySelectColumns+" FROM memories WHERE tier = ? ORDER BY timestamp ASC", string(tier))
}

func (r *SQLiteRegistry) queryMemories(ctx context.Context, query string, args...any) ([]*Memory, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateAccess bumps access_count and last_accessed, used on every retrieval
// hit to feed the strength-decay and recency signals.
func (r *SQLiteRegistry) UpdateAccess(ctx context.Context, id string, accessedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("registry is closed")
	}

	_, err := r.db.ExecContext(ctx,
		"UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?",
		accessedAt.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update access for %s: %w", id, err)
	}
	return nil
}

// UpdateFields applies a sparse patch, used by consolidation's tier
// migration, strength decay, and content compression.
func (r *SQLiteRegistry) UpdateFields(ctx context.Context, id string, patch MemoryPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("registry is closed")
	}

	sets := []string{}
	args := []any{}

	if patch.Tier != nil {
		sets = append(sets, "tier = ?")
		args = append(args, string(*patch.Tier))
	}
	if patch.Strength != nil {
		sets = append(sets, "strength = ?")
		args = append(args, *patch.Strength)
	}
	if patch.Importance != nil {
		sets = append(sets, "importance = ?")
		args = append(args, *patch.Importance)
	}
	if patch.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *patch.Content)
	}
	if patch.Compressed != nil {
		sets = append(sets, "compressed = ?")
		args = append(args, boolToInt(*patch.Compressed))
	}
	if patch.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *patch.Summary)
	}

	if len(sets) == 0 {
		return nil
	}

	setClause := sets[0]
	for _, s := range sets[1:] {
		setClause += ", " + s
	}
	query := "UPDATE memories SET " + setClause + " WHERE id = ?"
	args = append(args, id)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update fields for %s: %w", id, err)
	}
	return nil
}

// GetState reads a single opaque key from the registry's key/value state
// table, used for consolidation bookkeeping like last_consolidation.
func (r *SQLiteRegistry) GetState(ctx context.Context, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return "", fmt.Errorf("registry is closed")
	}

	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM registry_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

// SetState persists a single opaque key/value pair.
func (r *SQLiteRegistry) SetState(ctx context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("registry is closed")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO registry_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying database connection.
func (r *SQLiteRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.db.Close()
}

var _ MemoryRegistry = (*SQLiteRegistry)(nil)
