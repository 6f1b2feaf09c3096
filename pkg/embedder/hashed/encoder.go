// Package hashed provides a self-contained sparse embedder based on
// feature hashing.
//
// Tokens are lowercased, hashed into a fixed id space with FNV-1a, and
// weighted by L2-normalized term frequency. The encoding needs no model or
// network access, which makes it the default sparse channel for embedded
// deployments and tests. Backends treat the ids as opaque, so collisions
// only blur weights, they never break retrieval.
package hashed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultBuckets = 1 << 20

// stopwords are dropped before hashing; they carry no retrieval signal and
// would otherwise dominate the weight mass of every sparse vector.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true,
	"he": true, "in": true, "is": true, "it": true, "its": true, "of": true,
	"on": true, "or": true, "that": true, "the": true, "to": true,
	"was": true, "were": true, "will": true, "with": true,
}

// Encoder implements embedder.SparseProvider with feature hashing.
type Encoder struct {
	buckets uint32
}

// Config configures the encoder.
type Config struct {
	// Buckets is the token id space size (default 2^20).
	Buckets int
}

// NewEncoder creates a hashing sparse encoder.
func NewEncoder(cfg *Config) *Encoder {
	buckets := defaultBuckets
	if cfg != nil && cfg.Buckets > 0 {
		buckets = cfg.Buckets
	}
	return &Encoder{buckets: uint32(buckets)}
}

// EmbedSparse converts text into an L2-normalized token-weight map.
func (e *Encoder) EmbedSparse(_ context.Context, text string) (map[int32]float64, error) {
	counts := make(map[int32]float64)
	for _, token := range tokenize(text) {
		counts[e.tokenID(token)]++
	}
	if len(counts) == 0 {
		return map[int32]float64{}, nil
	}

	var norm float64
	for _, c := range counts {
		norm += c * c
	}
	norm = math.Sqrt(norm)
	for id, c := range counts {
		counts[id] = c / norm
	}
	return counts, nil
}

// Close is a no-op; the encoder holds no resources.
func (e *Encoder) Close() error {
	return nil
}

func (e *Encoder) tokenID(token string) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return int32(h.Sum32() % e.buckets)
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
