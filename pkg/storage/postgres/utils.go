package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/ob-labs/powermem-go/pkg/memid"
	"github.com/ob-labs/powermem-go/pkg/storage"
)

// toVector converts a float64 embedding to the pgvector wire type.
func toVector(embedding []float64) pgvector.Vector {
	values := make([]float32, len(embedding))
	for i, v := range embedding {
		values[i] = float32(v)
	}
	return pgvector.NewVector(values)
}

// fromVector converts a pgvector value back to the float64 record form.
func fromVector(v pgvector.Vector) []float64 {
	values := v.Slice()
	embedding := make([]float64, len(values))
	for i, f := range values {
		embedding[i] = float64(f)
	}
	return embedding
}

// opClass maps a metric to the pgvector operator class used by index DDL.
func opClass(metric storage.MetricType) string {
	switch metric {
	case storage.MetricL2:
		return "vector_l2_ops"
	case storage.MetricIP:
		return "vector_ip_ops"
	default:
		return "vector_cosine_ops"
	}
}

// encodedRecord holds the column values derived from a memory record.
type encodedRecord struct {
	hash      string
	embedding pgvector.Vector
	sparse    interface{}
	metadata  interface{}
	createdAt time.Time
	updatedAt time.Time
}

// encodeRecord prepares a memory for binding. An empty Hash is derived from
// the content fingerprint; zero timestamps are filled with now. The record is
// mutated so callers observe the stored values.
func encodeRecord(m *storage.Memory, now time.Time) (*encodedRecord, error) {
	if m.Hash == "" {
		m.Hash = memid.Fingerprint(m.Content)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}

	row := &encodedRecord{
		hash:      m.Hash,
		embedding: toVector(m.Embedding),
		createdAt: m.CreatedAt.UTC(),
		updatedAt: m.UpdatedAt.UTC(),
	}

	if m.Sparse != nil {
		data, err := json.Marshal(m.Sparse)
		if err != nil {
			return nil, fmt.Errorf("marshal sparse embedding: %w", err)
		}
		row.sparse = string(data)
	}
	if m.Metadata != nil {
		data, err := json.Marshal(m.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		row.metadata = string(data)
	}
	return row, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord reads one full record row.
func scanRecord(row rowScanner) (*storage.Memory, error) {
	var (
		m                               storage.Memory
		userID, agentID, runID, actorID sql.NullString
		hash                            sql.NullString
		embedding                       pgvector.Vector
		sparseJSON, metadataJSON        []byte
		createdAt, updatedAt            time.Time
	)

	err := row.Scan(
		&m.ID, &userID, &agentID, &runID, &actorID, &hash,
		&m.Content, &embedding, &sparseJSON, &metadataJSON,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.UserID = userID.String
	m.AgentID = agentID.String
	m.RunID = runID.String
	m.ActorID = actorID.String
	m.Hash = hash.String
	m.Embedding = fromVector(embedding)
	m.CreatedAt = createdAt.UTC()
	m.UpdatedAt = updatedAt.UTC()

	if len(sparseJSON) > 0 {
		if err := json.Unmarshal(sparseJSON, &m.Sparse); err != nil {
			return nil, fmt.Errorf("unmarshal sparse embedding: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &m, nil
}
