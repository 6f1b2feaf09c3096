// Package sqlite provides the embedded SQLite implementation of the vector
// store.
//
// SQLite is a lightweight, file-based database suitable for local development
// and small-scale applications. Vectors are stored as JSON strings in TEXT
// fields and similarity search uses in-process cosine similarity over a
// filtered scan. The backend runs the dense channel only and compiles the
// equality subset of the filter algebra; range and pattern operators are
// rejected rather than silently dropped.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ob-labs/powermem-go/pkg/filter"
	"github.com/ob-labs/powermem-go/pkg/memerr"
	"github.com/ob-labs/powermem-go/pkg/memid"
	"github.com/ob-labs/powermem-go/pkg/storage"
	"github.com/ob-labs/powermem-go/pkg/telemetry"
)

const (
	defaultSearchLimit = 10
	defaultListLimit   = 100
)

// Client implements storage.VectorStore using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// collection is the name of the table storing memories.
	collection string

	// dims is the dimension of embedding vectors.
	dims int

	// compiler translates filter expressions into the equality-only
	// SQLite dialect.
	compiler *filter.SQLCompiler

	// vectorWeight is the dense channel's fusion weight.
	vectorWeight float64
}

// Config contains configuration for creating a SQLite vector store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CollectionName is the name of the table to use.
	CollectionName string

	// EmbeddingModelDims is the dimension of embedding vectors.
	EmbeddingModelDims int

	// VectorWeight is the dense channel fusion weight (default 1.0).
	VectorWeight float64
}

// NewClient creates a new SQLite vector store client and verifies the
// connection. The bound collection is created by CreateCol.
//
// Parameters:
//   - cfg: Configuration containing database path, table name, and embedding dimensions
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error if the database cannot be opened
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.DBPath == "" {
		return nil, memerr.Newf("sqlite.new", "db_path is required: %w", memerr.ErrInvalidConfig)
	}
	if cfg.CollectionName == "" {
		return nil, memerr.Newf("sqlite.new", "collection_name is required: %w", memerr.ErrInvalidConfig)
	}

	// Create parent directory if it doesn't exist.
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, memerr.Newf("sqlite.new", "failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, memerr.New("sqlite.new", err)
	}
	if err := db.Ping(); err != nil {
		return nil, memerr.Newf("sqlite.new", "%w: %v", memerr.ErrStoreUnavailable, err)
	}

	weight := cfg.VectorWeight
	if weight == 0 {
		weight = storage.DefaultVectorWeight
	}

	return &Client{
		db:           db,
		collection:   cfg.CollectionName,
		dims:         cfg.EmbeddingModelDims,
		compiler:     filter.NewSQLCompiler(filter.SQLiteDialect()),
		vectorWeight: weight,
	}, nil
}

// CreateCol creates the bound table and its indexes if they do not exist.
func (c *Client) CreateCol(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			user_id TEXT,
			agent_id TEXT,
			run_id TEXT,
			actor_id TEXT,
			hash TEXT,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			sparse TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`, c.collection)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return c.fail("create_col", err)
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_scope ON %s(user_id, agent_id, run_id)", c.collection, c.collection),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_hash ON %s(hash)", c.collection, c.collection),
	}
	for _, idx := range indexes {
		if _, err := c.db.ExecContext(ctx, idx); err != nil {
			return c.fail("create_col", err)
		}
	}
	return nil
}

// Insert inserts a batch of memories in a single transaction.
func (c *Client) Insert(ctx context.Context, memories []*storage.Memory) error {
	if len(memories) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return c.fail("insert", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, user_id, agent_id, run_id, actor_id, hash, content, embedding, sparse, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collection)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return c.fail("insert", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, m := range memories {
		if err := validateRecord(m, c.dims); err != nil {
			return err
		}
		row, err := encodeRecord(m, now)
		if err != nil {
			return memerr.New("sqlite.insert", err)
		}
		if _, err := stmt.ExecContext(ctx,
			m.ID, m.UserID, m.AgentID, m.RunID, m.ActorID,
			row.hash, m.Content, row.embedding, row.sparse, row.metadata,
			row.createdAt, row.updatedAt,
		); err != nil {
			return c.fail("insert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return c.fail("insert", err)
	}
	return nil
}

// Search performs dense retrieval with in-process cosine similarity.
//
// The candidate set is narrowed by the compiled filter, scored in memory,
// and the top 4×limit candidates enter rank fusion so scores stay on the
// same scale as multi-channel backends. query.Limit defaults to 10.
func (c *Client) Search(ctx context.Context, query *storage.SearchQuery) ([]*storage.Memory, error) {
	if query == nil || len(query.Dense) == 0 {
		return nil, memerr.Newf("sqlite.search", "dense query vector is required: %w", memerr.ErrInvalidInput)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	whereClause, args, err := c.whereFor("search", query.Filter)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, agent_id, run_id, actor_id, hash, content, embedding, sparse, metadata, created_at, updated_at
		FROM %s
		%s
	`, c.collection, whereClause), args...)
	if err != nil {
		return nil, c.fail("search", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []*storage.Memory
	for rows.Next() {
		m, err := scanRecord(rows)
		if err != nil {
			return nil, memerr.New("sqlite.search", err)
		}
		m.Score = cosineSimilarity(query.Dense, m.Embedding)
		candidates = append(candidates, m)
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail("search", err)
	}

	// Dense channel ranking: similarity, then recency, then id.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if !candidates[i].UpdatedAt.Equal(candidates[j].UpdatedAt) {
			return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
		}
		return candidates[i].ID > candidates[j].ID
	})
	if depth := 4 * limit; len(candidates) > depth {
		candidates = candidates[:depth]
	}

	byID := make(map[int64]*storage.Memory, len(candidates))
	ids := make([]int64, len(candidates))
	for i, m := range candidates {
		byID[m.ID] = m
		ids[i] = m.ID
	}

	fused := storage.FuseRRF([]storage.RankedChannel{
		{Name: storage.ChannelDense, Weight: c.vectorWeight, IDs: ids},
	}, storage.RRFConstant)

	results := make([]*storage.Memory, 0, limit)
	for _, hit := range fused {
		if len(results) >= limit {
			break
		}
		m := byID[hit.ID]
		storage.ApplyFusionInfo(m, hit)
		results = append(results, m)
	}
	return results, nil
}

// Get retrieves a memory by ID.
func (c *Client) Get(ctx context.Context, id int64) (*storage.Memory, error) {
	row := c.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, agent_id, run_id, actor_id, hash, content, embedding, sparse, metadata, created_at, updated_at
		FROM %s
		WHERE id = ?
	`, c.collection), id)

	m, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memerr.New("sqlite.get", memerr.ErrNotFound)
	}
	if err != nil {
		return nil, c.fail("get", err)
	}
	return m, nil
}

// Update applies a partial update inside a transaction and returns the
// updated record. Content changes recompute the stored fingerprint.
func (c *Client) Update(ctx context.Context, id int64, update *storage.MemoryUpdate) (*storage.Memory, error) {
	if update == nil {
		return nil, memerr.Newf("sqlite.update", "empty update: %w", memerr.ErrInvalidInput)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, c.fail("update", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanRecord(tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, agent_id, run_id, actor_id, hash, content, embedding, sparse, metadata, created_at, updated_at
		FROM %s
		WHERE id = ?
	`, c.collection), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memerr.New("sqlite.update", memerr.ErrNotFound)
	}
	if err != nil {
		return nil, c.fail("update", err)
	}

	applyUpdate(current, update)
	current.UpdatedAt = time.Now().UTC()

	row, err := encodeRecord(current, current.UpdatedAt)
	if err != nil {
		return nil, memerr.New("sqlite.update", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET hash = ?, content = ?, embedding = ?, sparse = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`, c.collection), row.hash, current.Content, row.embedding, row.sparse, row.metadata, row.updatedAt, id); err != nil {
		return nil, c.fail("update", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, c.fail("update", err)
	}
	current.Hash = row.hash
	return current, nil
}

// Delete deletes a memory by ID.
func (c *Client) Delete(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.collection), id)
	if err != nil {
		return c.fail("delete", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return c.fail("delete", err)
	}
	if affected == 0 {
		return memerr.New("sqlite.delete", memerr.ErrNotFound)
	}
	return nil
}

// List retrieves memories matching the filter, newest first.
func (c *Client) List(ctx context.Context, opts *storage.ListOptions) ([]*storage.Memory, error) {
	if opts == nil {
		opts = &storage.ListOptions{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	whereClause, args, err := c.whereFor("list", opts.Filter)
	if err != nil {
		return nil, err
	}
	args = append(args, limit, opts.Offset)

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, agent_id, run_id, actor_id, hash, content, embedding, sparse, metadata, created_at, updated_at
		FROM %s
		%s
		ORDER BY updated_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, c.collection, whereClause), args...)
	if err != nil {
		return nil, c.fail("list", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*storage.Memory
	for rows.Next() {
		m, err := scanRecord(rows)
		if err != nil {
			return nil, memerr.New("sqlite.list", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail("list", err)
	}
	return memories, nil
}

// Count returns the number of memories matching the filter.
func (c *Client) Count(ctx context.Context, f filter.Expr) (int64, error) {
	whereClause, args, err := c.whereFor("count", f)
	if err != nil {
		return 0, err
	}

	var count int64
	row := c.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s %s", c.collection, whereClause), args...)
	if err := row.Scan(&count); err != nil {
		return 0, c.fail("count", err)
	}
	return count, nil
}

// DeleteAll deletes every memory matching the filter. A nil filter is
// rejected to avoid accidental truncation; use Reset for that.
func (c *Client) DeleteAll(ctx context.Context, f filter.Expr) error {
	if f == nil {
		return memerr.Newf("sqlite.delete_all", "refusing unfiltered delete, use Reset: %w", memerr.ErrInvalidInput)
	}
	whereClause, args, err := c.whereFor("delete_all", f)
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s %s", c.collection, whereClause), args...); err != nil {
		return c.fail("delete_all", err)
	}
	return nil
}

// DeleteCol drops the bound table.
func (c *Client) DeleteCol(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", c.collection)); err != nil {
		return c.fail("delete_col", err)
	}
	return nil
}

// ColInfo describes the bound collection.
func (c *Client) ColInfo(ctx context.Context) (*storage.CollectionInfo, error) {
	count, err := c.Count(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &storage.CollectionInfo{
		Name:    c.collection,
		Backend: "sqlite",
		Dims:    c.dims,
		Metric:  storage.MetricCosine,
		Count:   count,
	}, nil
}

// Reset drops and recreates the bound collection.
func (c *Client) Reset(ctx context.Context) error {
	if err := c.DeleteCol(ctx); err != nil {
		return err
	}
	return c.CreateCol(ctx)
}

// CreateIndex is a no-op: SQLite has no vector indexes, similarity search
// scans the filtered candidate set.
func (c *Client) CreateIndex(ctx context.Context, config *storage.VectorIndexConfig) error {
	return nil
}

// Capabilities reports the embedded tier: dense channel only, equality
// filters only.
func (c *Client) Capabilities() storage.Capabilities {
	return storage.Capabilities{
		Name:        "sqlite",
		FTS:         false,
		Sparse:      false,
		FullFilters: false,
	}
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// whereFor compiles a filter into a WHERE clause, mapping unsupported
// operators to the backend's capability error.
func (c *Client) whereFor(op string, f filter.Expr) (string, []interface{}, error) {
	if f == nil {
		return "", nil, nil
	}
	clause, args, err := c.compiler.Compile(f, 1)
	if err != nil {
		return "", nil, memerr.New("sqlite."+op, err)
	}
	if clause == "" {
		return "", nil, nil
	}
	return "WHERE " + clause, args, nil
}

func (c *Client) fail(op string, err error) error {
	telemetry.Default().RecordStoreError("sqlite", op)
	return memerr.Newf("sqlite."+op, "%w: %v", memerr.ErrStorageOperation, err)
}

func validateRecord(m *storage.Memory, dims int) error {
	if m == nil || m.ID == 0 {
		return memerr.Newf("sqlite.insert", "record id must be pre-allocated: %w", memerr.ErrInvalidInput)
	}
	if m.Content == "" {
		return memerr.Newf("sqlite.insert", "record content is empty: %w", memerr.ErrInvalidInput)
	}
	if dims > 0 && len(m.Embedding) != dims {
		return memerr.Newf("sqlite.insert", "embedding has %d dims, store expects %d: %w",
			len(m.Embedding), dims, memerr.ErrInvalidInput)
	}
	return nil
}

// applyUpdate folds a partial update into the current record.
func applyUpdate(m *storage.Memory, update *storage.MemoryUpdate) {
	if update.Content != nil {
		m.Content = *update.Content
		m.Hash = memid.Fingerprint(m.Content)
	}
	if update.Embedding != nil {
		m.Embedding = update.Embedding
	}
	if update.Sparse != nil {
		m.Sparse = update.Sparse
	}
	if update.Metadata != nil {
		m.Metadata = update.Metadata
	}
}
