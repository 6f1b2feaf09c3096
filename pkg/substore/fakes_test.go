package substore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ob-labs/powermem-go/pkg/embedder"
	"github.com/ob-labs/powermem-go/pkg/filter"
	"github.com/ob-labs/powermem-go/pkg/memerr"
	"github.com/ob-labs/powermem-go/pkg/storage"
)

// memStore is an in-memory VectorStore with deterministic List ordering and
// injectable faults, sufficient for routing and migration tests.
type memStore struct {
	name string

	mu      sync.Mutex
	recs    map[int64]*storage.Memory
	created bool

	failGet    error
	failInsert error
	failList   error
	failDelete error
}

func newMemStore(name string) *memStore {
	return &memStore{name: name, recs: make(map[int64]*storage.Memory)}
}

func (s *memStore) put(m *storage.Memory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[m.ID] = m.Clone()
}

func (s *memStore) has(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.recs[id]
	return ok
}

func (s *memStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

func (s *memStore) ids() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.recs))
	for id := range s.recs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *memStore) CreateCol(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = true
	return nil
}

func (s *memStore) Insert(ctx context.Context, memories []*storage.Memory) error {
	if s.failInsert != nil {
		return s.failInsert
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range memories {
		s.recs[m.ID] = m.Clone()
	}
	return nil
}

func (s *memStore) Search(ctx context.Context, query *storage.SearchQuery) ([]*storage.Memory, error) {
	matches, err := s.List(ctx, &storage.ListOptions{Filter: query.Filter, Limit: query.Limit})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *memStore) Get(ctx context.Context, id int64) (*storage.Memory, error) {
	if s.failGet != nil {
		return nil, s.failGet
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.recs[id]
	if !ok {
		return nil, memerr.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *memStore) Update(ctx context.Context, id int64, update *storage.MemoryUpdate) (*storage.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.recs[id]
	if !ok {
		return nil, memerr.ErrNotFound
	}
	if update.Content != nil {
		m.Content = *update.Content
	}
	if update.Embedding != nil {
		m.Embedding = update.Embedding
	}
	if update.Metadata != nil {
		m.Metadata = update.Metadata
	}
	m.UpdatedAt = time.Now().UTC()
	return m.Clone(), nil
}

func (s *memStore) Delete(ctx context.Context, id int64) error {
	if s.failDelete != nil {
		return s.failDelete
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[id]; !ok {
		return memerr.ErrNotFound
	}
	delete(s.recs, id)
	return nil
}

func (s *memStore) List(ctx context.Context, opts *storage.ListOptions) ([]*storage.Memory, error) {
	if s.failList != nil {
		return nil, s.failList
	}
	if opts == nil {
		opts = &storage.ListOptions{}
	}

	s.mu.Lock()
	var matches []*storage.Memory
	for _, m := range s.recs {
		if opts.Filter == nil || filter.Match(opts.Filter, m.Doc()) {
			matches = append(matches, m.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].UpdatedAt.Equal(matches[j].UpdatedAt) {
			return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
		}
		return matches[i].ID > matches[j].ID
	})

	if opts.Offset >= len(matches) {
		return nil, nil
	}
	matches = matches[opts.Offset:]
	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return matches, nil
}

func (s *memStore) Count(ctx context.Context, f filter.Expr) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.recs {
		if f == nil || filter.Match(f, m.Doc()) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) DeleteAll(ctx context.Context, f filter.Expr) error {
	if f == nil {
		return memerr.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.recs {
		if filter.Match(f, m.Doc()) {
			delete(s.recs, id)
		}
	}
	return nil
}

func (s *memStore) DeleteCol(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = make(map[int64]*storage.Memory)
	s.created = false
	return nil
}

func (s *memStore) ColInfo(ctx context.Context) (*storage.CollectionInfo, error) {
	return &storage.CollectionInfo{Name: s.name, Backend: "fake"}, nil
}

func (s *memStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = make(map[int64]*storage.Memory)
	return nil
}

func (s *memStore) CreateIndex(ctx context.Context, config *storage.VectorIndexConfig) error {
	return nil
}

func (s *memStore) Capabilities() storage.Capabilities {
	return storage.Capabilities{Name: "fake"}
}

func (s *memStore) Close() error { return nil }

// stubEmbedder returns fixed-width unit vectors and counts calls.
type stubEmbedder struct {
	dims  int
	err   error
	calls int
}

func (e *stubEmbedder) Embed(ctx context.Context, text string, action embedder.Action) ([]float64, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	v := make([]float64, e.dims)
	if e.dims > 0 {
		v[0] = 1
	}
	return v, nil
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string, action embedder.Action) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for _, t := range texts {
		v, err := e.Embed(ctx, t, action)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *stubEmbedder) Dimensions() int { return e.dims }

func (e *stubEmbedder) Close() error { return nil }

var errStoreDown = errors.New("store down")

// rec builds a test record with a deterministic embedding and timestamps
// spaced so newest-first List ordering follows descending ID.
func rec(id int64, memType, content string) *storage.Memory {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ts := base.Add(time.Duration(id) * time.Second)
	return &storage.Memory{
		ID:        id,
		UserID:    "alice",
		Content:   content,
		Embedding: []float64{1, 0, 0, 0},
		Metadata:  map[string]interface{}{"type": memType},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}
