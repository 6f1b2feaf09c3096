package oceanbase

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ob-labs/powermem-go/pkg/memid"
	"github.com/ob-labs/powermem-go/pkg/storage"
)

// vectorToString converts a float64 slice to an OceanBase VECTOR literal.
// Example: [0.1, 0.2, 0.3] -> "[0.1,0.2,0.3]"
func vectorToString(vector []float64) string {
	if len(vector) == 0 {
		return "[]"
	}

	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}

	return "[" + strings.Join(parts, ",") + "]"
}

// stringToVector converts a VECTOR literal back to a float64 slice.
// Example: "[0.1,0.2,0.3]" -> [0.1, 0.2, 0.3]
func stringToVector(s string) ([]float64, error) {
	s = strings.Trim(s, "[]")
	if s == "" {
		return []float64{}, nil
	}

	parts := strings.Split(s, ",")
	result := make([]float64, len(parts))
	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %d: %w", i, err)
		}
		result[i] = val
	}
	return result, nil
}

// decodeSparse parses the sparse JSON column into token weights.
func decodeSparse(data []byte) (map[int32]float64, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var sparse map[int32]float64
	if err := json.Unmarshal(data, &sparse); err != nil {
		return nil, fmt.Errorf("unmarshal sparse embedding: %w", err)
	}
	return sparse, nil
}

// sparseDot computes the dot product of two sparse embeddings.
func sparseDot(a, b map[int32]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var sum float64
	for token, weight := range a {
		if other, ok := b[token]; ok {
			sum += weight * other
		}
	}
	return sum
}

// encodedRecord holds the column values derived from a memory record.
type encodedRecord struct {
	hash      string
	embedding string
	sparse    interface{}
	metadata  interface{}
	createdAt string
	updatedAt string
}

// encodeRecord prepares a memory for binding. An empty Hash is derived from
// the content fingerprint; zero timestamps are filled with now. Timestamps
// are stored as second-precision RFC3339 strings and the record is mutated
// so callers observe the stored values.
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
	m.CreatedAt = m.CreatedAt.UTC().Truncate(time.Second)
	m.UpdatedAt = m.UpdatedAt.UTC().Truncate(time.Second)

	row := &encodedRecord{
		hash:      m.Hash,
		embedding: vectorToString(m.Embedding),
		createdAt: m.CreatedAt.Format(time.RFC3339),
		updatedAt: m.UpdatedAt.Format(time.RFC3339),
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
		embeddingStr                    string
		sparseJSON, metadataJSON        []byte
		createdAt, updatedAt            string
	)

	err := row.Scan(
		&m.ID, &userID, &agentID, &runID, &actorID, &hash,
		&m.Content, &embeddingStr, &sparseJSON, &metadataJSON,
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

	embedding, err := stringToVector(embeddingStr)
	if err != nil {
		return nil, err
	}
	m.Embedding = embedding

	m.Sparse, err = decodeSparse(sparseJSON)
	if err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		m.CreatedAt = t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		m.UpdatedAt = t.UTC()
	}
	return &m, nil
}
