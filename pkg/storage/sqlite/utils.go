package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/ob-labs/powermem-go/pkg/memid"
	"github.com/ob-labs/powermem-go/pkg/storage"
)

// encodedRecord holds the column values of one record ready for binding.
type encodedRecord struct {
	hash      string
	embedding string
	sparse    interface{}
	metadata  interface{}
	createdAt time.Time
	updatedAt time.Time
}

// encodeRecord serializes the variable-width fields of a record. Zero
// timestamps are filled with now; an empty hash is derived from content.
// The record itself is updated so callers see the stored values.
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

	embeddingJSON, err := json.Marshal(m.Embedding)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding: %w", err)
	}

	row := &encodedRecord{
		hash:      m.Hash,
		embedding: string(embeddingJSON),
		createdAt: m.CreatedAt,
		updatedAt: m.UpdatedAt,
	}
	if m.Sparse != nil {
		sparseJSON, err := json.Marshal(m.Sparse)
		if err != nil {
			return nil, fmt.Errorf("marshal sparse embedding: %w", err)
		}
		row.sparse = string(sparseJSON)
	}
	if m.Metadata != nil {
		metadataJSON, err := json.Marshal(m.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		row.metadata = string(metadataJSON)
	}
	return row, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord reads one record from a query over the full column list.
func scanRecord(scanner rowScanner) (*storage.Memory, error) {
	var (
		m            storage.Memory
		userID       sql.NullString
		agentID      sql.NullString
		runID        sql.NullString
		actorID      sql.NullString
		hash         sql.NullString
		embeddingStr string
		sparseStr    sql.NullString
		metadataStr  sql.NullString
	)

	err := scanner.Scan(
		&m.ID, &userID, &agentID, &runID, &actorID, &hash,
		&m.Content, &embeddingStr, &sparseStr, &metadataStr,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.UserID = userID.String
	m.AgentID = agentID.String
	m.RunID = runID.String
	m.ActorID = actorID.String
	m.Hash = hash.String

	if err := json.Unmarshal([]byte(embeddingStr), &m.Embedding); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}
	if sparseStr.Valid && sparseStr.String != "" {
		if err := json.Unmarshal([]byte(sparseStr.String), &m.Sparse); err != nil {
			return nil, fmt.Errorf("parse sparse embedding: %w", err)
		}
	}
	if metadataStr.Valid && metadataStr.String != "" {
		if err := json.Unmarshal([]byte(metadataStr.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}

	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

// cosineSimilarity calculates the cosine similarity between two vectors.
// Mismatched or zero-norm vectors score zero.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
