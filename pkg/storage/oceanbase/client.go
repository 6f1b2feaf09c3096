// Package oceanbase provides the OceanBase implementation of the vector
// store. It is the full-capability tier: dense retrieval through the native
// VECTOR type, lexical retrieval through a FULLTEXT index, and a sparse
// channel scored client-side over a bounded recency scan.
package oceanbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/ob-labs/powermem-go/pkg/filter"
	"github.com/ob-labs/powermem-go/pkg/memerr"
	"github.com/ob-labs/powermem-go/pkg/memid"
	"github.com/ob-labs/powermem-go/pkg/storage"
	"github.com/ob-labs/powermem-go/pkg/telemetry"
)

const (
	defaultSearchLimit = 10
	defaultListLimit   = 100

	// defaultSparseScanLimit bounds the recency scan backing the sparse
	// channel. Sparse scoring runs in-process, so the scan must not grow
	// with the collection.
	defaultSparseScanLimit = 1000
)

// Client is an OceanBase vector store client.
type Client struct {
	db         *sql.DB
	collection string
	dims       int
	compiler   *filter.SQLCompiler

	vectorWeight    float64
	ftsWeight       float64
	sparseWeight    float64
	sparseScanLimit int
}

// Config contains OceanBase configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int

	// VectorWeight, FTSWeight and SparseWeight are the fusion weights of
	// the three retrieval channels (defaults 1.0, 0.6 and 0.4).
	VectorWeight float64
	FTSWeight    float64
	SparseWeight float64

	// SparseScanLimit caps how many recent records the sparse channel
	// scores per query (default 1000).
	SparseScanLimit int
}

// NewClient creates a new OceanBase client and verifies the connection.
// The bound collection is created by CreateCol.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.CollectionName == "" {
		return nil, memerr.Newf("oceanbase.new", "collection_name is required: %w", memerr.ErrInvalidConfig)
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, memerr.New("oceanbase.new", err)
	}
	if err := db.Ping(); err != nil {
		return nil, memerr.Newf("oceanbase.new", "%w: %v", memerr.ErrStoreUnavailable, err)
	}

	vectorWeight := cfg.VectorWeight
	if vectorWeight == 0 {
		vectorWeight = storage.DefaultVectorWeight
	}
	ftsWeight := cfg.FTSWeight
	if ftsWeight == 0 {
		ftsWeight = storage.DefaultFTSWeight
	}
	sparseWeight := cfg.SparseWeight
	if sparseWeight == 0 {
		sparseWeight = storage.DefaultSparseWeight
	}
	sparseScanLimit := cfg.SparseScanLimit
	if sparseScanLimit <= 0 {
		sparseScanLimit = defaultSparseScanLimit
	}

	return &Client{
		db:              db,
		collection:      cfg.CollectionName,
		dims:            cfg.EmbeddingModelDims,
		compiler:        filter.NewSQLCompiler(filter.MySQLDialect()),
		vectorWeight:    vectorWeight,
		ftsWeight:       ftsWeight,
		sparseWeight:    sparseWeight,
		sparseScanLimit: sparseScanLimit,
	}, nil
}

// CreateCol creates the bound table if it does not exist. Timestamps are
// stored as RFC3339 strings, which sort chronologically for UTC values.
func (c *Client) CreateCol(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			user_id VARCHAR(128),
			agent_id VARCHAR(128),
			run_id VARCHAR(128),
			actor_id VARCHAR(128),
			hash VARCHAR(32),
			content LONGTEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			sparse JSON,
			metadata JSON,
			created_at VARCHAR(128) NOT NULL,
			updated_at VARCHAR(128) NOT NULL,
			INDEX idx_scope (user_id, agent_id, run_id),
			INDEX idx_hash (hash),
			FULLTEXT INDEX idx_fts (content)
		)
	`, c.collection, c.dims)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return c.fail("create_col", err)
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
			return memerr.New("oceanbase.insert", err)
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

// Search performs hybrid retrieval over the dense, lexical and sparse
// channels and fuses them by weighted reciprocal rank. query.Limit defaults
// to 10.
func (c *Client) Search(ctx context.Context, query *storage.SearchQuery) ([]*storage.Memory, error) {
	if query == nil || len(query.Dense) == 0 {
		return nil, memerr.Newf("oceanbase.search", "dense query vector is required: %w", memerr.ErrInvalidInput)
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
	if len(query.Sparse) > 0 {
		sparseIDs, err := c.sparseChannel(ctx, query.Sparse, query.Filter, depth)
		if err != nil {
			return nil, err
		}
		channels = append(channels, storage.RankedChannel{
			Name: storage.ChannelSparse, Weight: c.sparseWeight, IDs: sparseIDs,
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
	whereClause, args, err := c.whereFor("search", f)
	if err != nil {
		return nil, err
	}

	sqlQuery := fmt.Sprintf(`
		SELECT id, cosine_distance(embedding, ?) AS distance
		FROM %s
		%s
		ORDER BY distance ASC, updated_at DESC, id DESC
		LIMIT ?
	`, c.collection, whereClause)

	allArgs := append([]interface{}{vectorToString(dense)}, args...)
	allArgs = append(allArgs, depth)

	rows, err := c.db.QueryContext(ctx, sqlQuery, allArgs...)
	if err != nil {
		return nil, c.fail("search", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var (
			id       int64
			distance float64
		)
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, c.fail("search", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail("search", err)
	}
	return ids, nil
}

// ftsChannel returns candidate ids ordered by full-text relevance.
func (c *Client) ftsChannel(ctx context.Context, text string, f filter.Expr, depth int) ([]int64, error) {
	whereClause, args, err := c.whereFor("search", f)
	if err != nil {
		return nil, err
	}
	cond := "MATCH(content) AGAINST (? IN NATURAL LANGUAGE MODE)"
	if whereClause == "" {
		whereClause = "WHERE " + cond
	} else {
		whereClause += " AND " + cond
	}

	sqlQuery := fmt.Sprintf(`
		SELECT id, MATCH(content) AGAINST (? IN NATURAL LANGUAGE MODE) AS relevance
		FROM %s
		%s
		ORDER BY relevance DESC, updated_at DESC, id DESC
		LIMIT ?
	`, c.collection, whereClause)

	allArgs := append([]interface{}{text}, args...)
	allArgs = append(allArgs, text, depth)

	rows, err := c.db.QueryContext(ctx, sqlQuery, allArgs...)
	if err != nil {
		return nil, c.fail("search", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var (
			id        int64
			relevance float64
		)
		if err := rows.Scan(&id, &relevance); err != nil {
			return nil, c.fail("search", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail("search", err)
	}
	return ids, nil
}

// sparseChannel scores sparse embeddings in-process over a bounded scan of
// the most recent matching records, newest first so recent memories stay
// inside the scan window as the collection grows.
func (c *Client) sparseChannel(ctx context.Context, query map[int32]float64, f filter.Expr, depth int) ([]int64, error) {
	whereClause, args, err := c.whereFor("search", f)
	if err != nil {
		return nil, err
	}
	if whereClause == "" {
		whereClause = "WHERE sparse IS NOT NULL"
	} else {
		whereClause += " AND sparse IS NOT NULL"
	}

	sqlQuery := fmt.Sprintf(`
		SELECT id, sparse
		FROM %s
		%s
		ORDER BY updated_at DESC, id DESC
		LIMIT ?
	`, c.collection, whereClause)
	args = append(args, c.sparseScanLimit)

	rows, err := c.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, c.fail("search", err)
	}
	defer func() { _ = rows.Close() }()

	type scored struct {
		id    int64
		score float64
	}
	var hits []scored
	for rows.Next() {
		var (
			id         int64
			sparseJSON []byte
		)
		if err := rows.Scan(&id, &sparseJSON); err != nil {
			return nil, c.fail("search", err)
		}
		sparse, err := decodeSparse(sparseJSON)
		if err != nil {
			return nil, memerr.New("oceanbase.search", err)
		}
		if score := sparseDot(query, sparse); score > 0 {
			hits = append(hits, scored{id: id, score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, c.fail("search", err)
	}

	// Rows arrive newest first; the stable sort keeps that as the
	// tie-break between equal scores.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > depth {
		hits = hits[:depth]
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids, nil
}

// materialize loads full records for fused hits, preserving fusion order.
func (c *Client) materialize(ctx context.Context, op string, fused []storage.FusedHit) ([]*storage.Memory, error) {
	if len(fused) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(fused))
	args := make([]interface{}, len(fused))
	for i, hit := range fused {
		placeholders[i] = "?"
		args[i] = hit.ID
	}

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, agent_id, run_id, actor_id, hash, content, embedding, sparse, metadata, created_at, updated_at
		FROM %s
		WHERE id IN (%s)
	`, c.collection, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return nil, c.fail(op, err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[int64]*storage.Memory, len(fused))
	for rows.Next() {
		m, err := scanRecord(rows)
		if err != nil {
			return nil, memerr.New("oceanbase."+op, err)
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
		WHERE id = ?
	`, c.collection), id)

	m, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memerr.New("oceanbase.get", memerr.ErrNotFound)
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
		return nil, memerr.Newf("oceanbase.update", "empty update: %w", memerr.ErrInvalidInput)
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
		FOR UPDATE
	`, c.collection), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memerr.New("oceanbase.update", memerr.ErrNotFound)
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
		return nil, memerr.New("oceanbase.update", err)
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
		return memerr.New("oceanbase.delete", memerr.ErrNotFound)
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
			return nil, memerr.New("oceanbase.list", err)
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
		return memerr.Newf("oceanbase.delete_all", "refusing unfiltered delete, use Reset: %w", memerr.ErrInvalidInput)
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
		Backend: "oceanbase",
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

// CreateIndex creates a vector index (HNSW or IVF_FLAT).
func (c *Client) CreateIndex(ctx context.Context, config *storage.VectorIndexConfig) error {
	if config == nil {
		return memerr.Newf("oceanbase.create_index", "index config is required: %w", memerr.ErrInvalidInput)
	}
	field := config.VectorField
	if field == "" {
		field = "embedding"
	}
	metric := config.MetricType
	if metric == "" {
		metric = storage.MetricCosine
	}

	var query string
	switch config.IndexType {
	case storage.IndexTypeHNSW:
		params := config.HNSWParams
		if params == nil {
			params = &storage.HNSWParams{M: 16, EfConstruction: 200}
		}
		query = fmt.Sprintf(`
			CREATE VECTOR INDEX %s ON %s (%s) WITH (
				index_type = HNSW,
				M = %d,
				efConstruction = %d,
				metric_type = %s
			)`,
			config.IndexName, c.collection, field,
			params.M, params.EfConstruction, metric,
		)
	case storage.IndexTypeIVFFlat:
		params := config.IVFParams
		if params == nil {
			params = &storage.IVFParams{Nlist: 100}
		}
		query = fmt.Sprintf(`
			CREATE VECTOR INDEX %s ON %s (%s) WITH (
				index_type = IVF_FLAT,
				nlist = %d,
				metric_type = %s
			)`,
			config.IndexName, c.collection, field,
			params.Nlist, metric,
		)
	default:
		return memerr.Newf("oceanbase.create_index", "unsupported index type %q: %w",
			config.IndexType, memerr.ErrInvalidInput)
	}

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return c.fail("create_index", err)
	}
	return nil
}

// Capabilities reports the full tier.
func (c *Client) Capabilities() storage.Capabilities {
	return storage.Capabilities{
		Name:        "oceanbase",
		FTS:         true,
		Sparse:      true,
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

func (c *Client) whereFor(op string, f filter.Expr) (string, []interface{}, error) {
	if f == nil {
		return "", nil, nil
	}
	clause, args, err := c.compiler.Compile(f, 1)
	if err != nil {
		return "", nil, memerr.New("oceanbase."+op, err)
	}
	if clause == "" {
		return "", nil, nil
	}
	return "WHERE " + clause, args, nil
}

func (c *Client) fail(op string, err error) error {
	telemetry.Default().RecordStoreError("oceanbase", op)
	return memerr.Newf("oceanbase."+op, "%w: %v", memerr.ErrStorageOperation, err)
}

func validateRecord(m *storage.Memory, dims int) error {
	if m == nil || m.ID == 0 {
		return memerr.Newf("oceanbase.insert", "record id must be pre-allocated: %w", memerr.ErrInvalidInput)
	}
	if m.Content == "" {
		return memerr.Newf("oceanbase.insert", "record content is empty: %w", memerr.ErrInvalidInput)
	}
	if dims > 0 && len(m.Embedding) != dims {
		return memerr.Newf("oceanbase.insert", "embedding has %d dims, store expects %d: %w",
			len(m.Embedding), dims, memerr.ErrInvalidInput)
	}
	return nil
}
