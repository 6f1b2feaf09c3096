// Package memid allocates memory record identifiers and content
// fingerprints.
//
// Identifiers are snowflakes: 41 bits of milliseconds, 10 bits of worker
// id, 12 bits of per-millisecond sequence. They sort by creation time and
// are safe to allocate concurrently from up to 1024 workers.
//
// Fingerprints are stable 16-character hex digests of normalized content,
// used for exact-duplicate detection across ingests.
package memid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"golang.org/x/text/unicode/norm"
)

// Generator allocates unique record identifiers.
type Generator struct {
	node *snowflake.Node
}

// NewGenerator creates an ID generator for the given worker. workerID must
// be in [0, 1023].
func NewGenerator(workerID int64) (*Generator, error) {
	node, err := snowflake.NewNode(workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &Generator{node: node}, nil
}

// Next returns the next identifier. Safe for concurrent use.
func (g *Generator) Next() int64 {
	return g.node.Generate().Int64()
}

// WorkerID extracts the worker bits from an identifier.
func WorkerID(id int64) int64 {
	return (id >> 12) & 0x3FF
}

// Fingerprint returns the content fingerprint used for exact-duplicate
// detection: the first 16 hex characters of sha256 over the content after
// Unicode NFC normalization, lowercasing, and whitespace collapsing.
//
// Two contents differing only in case, surrounding whitespace, or Unicode
// composition form produce the same fingerprint.
func Fingerprint(content string) string {
	normalized := norm.NFC.String(content)
	normalized = strings.ToLower(normalized)
	normalized = strings.Join(strings.Fields(normalized), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:8])
}
