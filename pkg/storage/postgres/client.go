// Package postgres provides the PostgreSQL + pgvector implementation of the
// vector store.
//
// Dense retrieval runs through pgvector's cosine distance operator, the
// lexical channel through tsvector full-text search with a GIN expression
// index. The backend compiles the complete filter algebra against JSONB
// metadata. Sparse embeddings are stored for round-trips but not scored.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ob-labs/powermem-go/pkg/filter"
	"github.com/ob-labs/powermem-go/pkg/memerr"
	"github.com/ob-labs/powermem-go/pkg/memid"
	"github.com/ob-labs/powermem-go/pkg/storage"
	"github.com/ob-labs/powermem-go/pkg/telemetry"
)

const (
	defaultSearchLimit = 10
	defaultListLimit   = 100

	// ftsConfig is the text search configuration. "simple" skips language
	// stemming so memories in any language tokenize predictably.
	ftsConfig = "simple"
)

// Client is a PostgreSQL + pgvector vector store client.
type Client struct {
	db         *sql.DB
	collection string
	dims       int
	compiler   *filter.SQLCompiler

	vectorWeight float64
	ftsWeight    float64
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
	SSLMode            string

	// VectorWeight and FTSWeight are the fusion weights for the dense and
	// lexical channels (defaults 1.0 and 0.6).
	VectorWeight float64
	FTSWeight    float64
}

// NewClient creates a new PostgreSQL client and verifies the connection.
// The bound collection is created by CreateCol.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.CollectionName == "" {
		return nil, memerr.Newf("postgres.new", "collection_name is required: %w", memerr.ErrInvalidConfig)
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, memerr.New("postgres.new", err)
	}
	if err := db.Ping(); err != nil {
		return nil, memerr.Newf("postgres.new", "%w: %v", memerr.ErrStoreUnavailable, err)
	}

	vectorWeight := cfg.VectorWeight
	if vectorWeight == 0 {
		vectorWeight = storage.DefaultVectorWeight
	}
	ftsWeight := cfg.FTSWeight
	if ftsWeight == 0 {
		ftsWeight = storage.DefaultFTSWeight
	}

	return &Client{
		db:           db,
		collection:   cfg.CollectionName,
		dims:         cfg.EmbeddingModelDims,
		compiler:     filter.NewSQLCompiler(filter.PostgresDialect()),
		vectorWeight: vectorWeight,
		ftsWeight:    ftsWeight,
	}, nil
}

// CreateCol enables the pgvector extension and creates the bound table and
// its indexes if they do not exist.
func (c *Client) CreateCol(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return c.fail("create_col", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			user_id VARCHAR(255),
			agent_id VARCHAR(255),
			run_id VARCHAR(255),
			actor_id VARCHAR(255),
			hash VARCHAR(32),
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			sparse JSONB,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`, c.collection, c.dims)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return c.fail("create_col", err)
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_scope ON %s(user_id, agent_id, run_id)", c.collection, c.collection),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_hash ON %s(hash)", c.collection, c.collection),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_fts ON %s USING GIN (to_tsvector('%s', content))",
			c.collection, c.collection, ftsConfig),
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
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
			return memerr.New("postgres.insert", err)
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

// Search performs hybrid retrieval over the dense and lexical channels and
// fuses them by weighted reciprocal rank. query.Limit defaults to 10.
func (c *Client) Search(ctx context.Context, query *storage.SearchQuery) ([]*storage.Memory, error) {
	if query == nil || len(query.Dense) == 0 {
		return nil, memerr.Newf("postgres.search", "dense query vector is required: %w", memerr.ErrInvalidInput)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	depth := 4 * limit

	denseIDs, err := c.denseChannel(ctx, query.Dense, query.Filter, depth)
	if err != nil {
		return nil, err
	}

	channels := []storage.RankedChannel{
		{Name: storage.ChannelDense, Weight: c.vectorWeight, IDs: denseIDs},
	}
	if query.Text != "" {
		ftsIDs, err := c.ftsChannel(ctx, query.Text, query.Filter, depth)
		if err != nil {
			return nil, err
		}
		channels = append(channels, storage.RankedChannel{
			Name: storage.ChannelFTS, Weight: c.ftsWeight, IDs: ftsIDs,
		})
	}

	fused := storage.FuseRRF(channels, storage.RRFConstant)
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return c.materialize(ctx, "search", fused)
}

// denseChannel returns candidate ids ordered by cosine distance.
func (c *Client) denseChannel(ctx context.Context, dense []float64, f filter.Expr, depth int) ([]int64, error) {
	whereClause, args, err := c.whereFor("search", f, 2)
	if err != nil {
		return nil, err
	}

	limitArg := len(args) + 2
	sqlQuery := fmt.Sprintf(`
		SELECT id FROM %s
		%s
		ORDER BY embedding <=> $1, updated_at DESC, id DESC
		LIMIT $%d
	`, c.collection, whereClause, limitArg)

	allArgs := append([]interface{}{toVector(dense)}, args...)
	allArgs = append(allArgs, depth)

	return c.idQuery(ctx, "search", sqlQuery, allArgs)
}

// ftsChannel returns candidate ids ordered by full-text rank.
func (c *Client) ftsChannel(ctx context.Context, text string, f filter.Expr, depth int) ([]int64, error) {
	whereClause, args, err := c.whereFor("search", f, 2)
	if err != nil {
		return nil, err
	}
	cond := fmt.Sprintf("to_tsvector('%s', content) @@ plainto_tsquery('%s', $1)", ftsConfig, ftsConfig)
	if whereClause == "" {
		whereClause = "WHERE " + cond
	} else {
		whereClause += " AND " + cond
	}

	limitArg := len(args) + 2
	sqlQuery := fmt.Sprintf(`
		SELECT id FROM %s
		%s
		ORDER BY ts_rank(to_tsvector('%s', content), plainto_tsquery('%s', $1)) DESC, updated_at DESC, id DESC
		LIMIT $%d
	`, c.collection, whereClause, ftsConfig, ftsConfig, limitArg)

	allArgs := append([]interface{}{text}, args...)
	allArgs = append(allArgs, depth)

	return c.idQuery(ctx, "search", sqlQuery, allArgs)
}

func (c *Client) idQuery(ctx context.Context, op, query string, args []interface{}) ([]int64, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, c.fail(op, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, c.fail(op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail(op, err)
	}
	return ids, nil
}

// materialize loads full records for fused hits, preserving fusion order.
func (c *Client) materialize(ctx context.Context, op string, fused []storage.FusedHit) ([]*storage.Memory, error) {
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(fused))
	for i, hit := range fused {
		ids[i] = hit.ID
	}

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, agent_id, run_id, actor_id, hash, content, embedding, sparse, metadata, created_at, updated_at
		FROM %s
		WHERE id = ANY($1)
	`, c.collection), pq.Array(ids))
	if err != nil {
		return nil, c.fail(op, err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[int64]*storage.Memory, len(fused))
	for rows.Next() {
		m, err := scanRecord(rows)
		if err != nil {
			return nil, memerr.New("postgres."+op, err)
		}
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail(op, err)
	}

	results := make([]*storage.Memory, 0, len(fused))
	for _, hit := range fused {
		m, ok := byID[hit.ID]
		if !ok {
			// Deleted between ranking and load.
			continue
		}
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
		WHERE id = $1
	`, c.collection), id)

	m, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memerr.New("postgres.get", memerr.ErrNotFound)
	}
	if err != nil {
		return nil, c.fail("get", err)
	}
	return m, nil
}

// Update applies a partial update and returns the updated record. Content
// changes recompute the stored fingerprint.
func (c *Client) Update(ctx context.Context, id int64, update *storage.MemoryUpdate) (*storage.Memory, error) {
	if update == nil {
		return nil, memerr.Newf("postgres.update", "empty update: %w", memerr.ErrInvalidInput)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, c.fail("update", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanRecord(tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, agent_id, run_id, actor_id, hash, content, embedding, sparse, metadata, created_at, updated_at
		FROM %s
		WHERE id = $1
		FOR UPDATE
	`, c.collection), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memerr.New("postgres.update", memerr.ErrNotFound)
	}
	if err != nil {
		return nil, c.fail("update", err)
	}

	if update.Content != nil {
		current.Content = *update.Content
		current.Hash = memid.Fingerprint(current.Content)
	}
	if update.Embedding != nil {
		current.Embedding = update.Embedding
	}
	if update.Sparse != nil {
		current.Sparse = update.Sparse
	}
	if update.Metadata != nil {
		current.Metadata = update.Metadata
	}
	current.UpdatedAt = time.Now().UTC()

	row, err := encodeRecord(current, current.UpdatedAt)
	if err != nil {
		return nil, memerr.New("postgres.update", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET hash = $1, content = $2, embedding = $3, sparse = $4, metadata = $5, updated_at = $6
		WHERE id = $7
	`, c.collection), row.hash, current.Content, row.embedding, row.sparse, row.metadata, row.updatedAt, id); err != nil {
		return nil, c.fail("update", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, c.fail("update", err)
	}
	return current, nil
}

// Delete deletes a memory by ID.
func (c *Client) Delete(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", c.collection), id)
	if err != nil {
		return c.fail("delete", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return c.fail("delete", err)
	}
	if affected == 0 {
		return memerr.New("postgres.delete", memerr.ErrNotFound)
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

	whereClause, args, err := c.whereFor("list", opts.Filter, 1)
	if err != nil {
		return nil, err
	}
	limitArg := len(args) + 1
	args = append(args, limit, opts.Offset)

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, agent_id, run_id, actor_id, hash, content, embedding, sparse, metadata, created_at, updated_at
		FROM %s
		%s
		ORDER BY updated_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, c.collection, whereClause, limitArg, limitArg+1), args...)
	if err != nil {
		return nil, c.fail("list", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*storage.Memory
	for rows.Next() {
		m, err := scanRecord(rows)
		if err != nil {
			return nil, memerr.New("postgres.list", err)
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
	whereClause, args, err := c.whereFor("count", f, 1)
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
		return memerr.Newf("postgres.delete_all", "refusing unfiltered delete, use Reset: %w", memerr.ErrInvalidInput)
	}
	whereClause, args, err := c.whereFor("delete_all", f, 1)
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
		Backend: "postgres",
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

// CreateIndex creates a pgvector index (HNSW or IVFFlat).
func (c *Client) CreateIndex(ctx context.Context, config *storage.VectorIndexConfig) error {
	if config == nil {
		return memerr.Newf("postgres.create_index", "index config is required: %w", memerr.ErrInvalidInput)
	}
	field := config.VectorField
	if field == "" {
		field = "embedding"
	}

	var query string
	switch config.IndexType {
	case storage.IndexTypeHNSW:
		params := config.HNSWParams
		if params == nil {
			params = &storage.HNSWParams{M: 16, EfConstruction: 64}
		}
		query = fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (%s %s) WITH (m = %d, ef_construction = %d)",
			config.IndexName, c.collection, field, opClass(config.MetricType),
			params.M, params.EfConstruction,
		)
	case storage.IndexTypeIVFFlat:
		params := config.IVFParams
		if params == nil {
			params = &storage.IVFParams{Nlist: 100}
		}
		query = fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (%s %s) WITH (lists = %d)",
			config.IndexName, c.collection, field, opClass(config.MetricType),
			params.Nlist,
		)
	default:
		return memerr.Newf("postgres.create_index", "unsupported index type %q: %w",
			config.IndexType, memerr.ErrInvalidInput)
	}

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return c.fail("create_index", err)
	}
	return nil
}

// Capabilities reports the dense+lexical tier with full filter support.
func (c *Client) Capabilities() storage.Capabilities {
	return storage.Capabilities{
		Name:        "postgres",
		FTS:         true,
		Sparse:      false,
		FullFilters: true,
	}
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *Client) whereFor(op string, f filter.Expr, startArg int) (string, []interface{}, error) {
	if f == nil {
		return "", nil, nil
	}
	clause, args, err := c.compiler.Compile(f, startArg)
	if err != nil {
		return "", nil, memerr.New("postgres."+op, err)
	}
	if clause == "" {
		return "", nil, nil
	}
	return "WHERE " + clause, args, nil
}

func (c *Client) fail(op string, err error) error {
	telemetry.Default().RecordStoreError("postgres", op)
	return memerr.Newf("postgres."+op, "%w: %v", memerr.ErrStorageOperation, err)
}

func validateRecord(m *storage.Memory, dims int) error {
	if m == nil || m.ID == 0 {
		return memerr.Newf("postgres.insert", "record id must be pre-allocated: %w", memerr.ErrInvalidInput)
	}
	if m.Content == "" {
		return memerr.Newf("postgres.insert", "record content is empty: %w", memerr.ErrInvalidInput)
	}
	if dims > 0 && len(m.Embedding) != dims {
		return memerr.Newf("postgres.insert", "embedding has %d dims, store expects %d: %w",
			len(m.Embedding), dims, memerr.ErrInvalidInput)
	}
	return nil
}
