package substore

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ob-labs/powermem-go/pkg/filter"
	"github.com/ob-labs/powermem-go/pkg/memerr"
	"github.com/ob-labs/powermem-go/pkg/storage"
)

// Router directs reads and writes between the main store and configured
// sub-stores based on routing filters and lifecycle state.
//
// Lifecycle state is cached in memory and mirrored to the StatusStore on
// every transition, so a restarted process resumes with the same routing
// decisions.
type Router struct {
	main   storage.VectorStore
	subs   []*SubStore
	status *StatusStore

	mu    sync.RWMutex
	state map[string]Status

	// migrations holds one lock per sub-store so concurrent Migrate
	// calls for the same target are rejected instead of interleaved.
	migrations map[string]*sync.Mutex
}

// NewRouter validates the sub-store configuration and loads persisted
// lifecycle state. status may be nil, in which case state lives in memory
// only and every sub-store starts DORMANT.
func NewRouter(main storage.VectorStore, subs []*SubStore, status *StatusStore) (*Router, error) {
	if main == nil {
		return nil, memerr.Newf("substore.new_router", "main store is required: %w", memerr.ErrInvalidConfig)
	}

	ordered := make([]*SubStore, len(subs))
	copy(ordered, subs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	seen := make(map[string]bool, len(ordered))
	for _, sub := range ordered {
		switch {
		case sub == nil:
			return nil, memerr.Newf("substore.new_router", "nil sub-store entry: %w", memerr.ErrInvalidConfig)
		case sub.Name == "" || sub.Name == MainStoreName:
			return nil, memerr.Newf("substore.new_router", "sub-store name %q is reserved or empty: %w", sub.Name, memerr.ErrInvalidConfig)
		case seen[sub.Name]:
			return nil, memerr.Newf("substore.new_router", "duplicate sub-store name %q: %w", sub.Name, memerr.ErrInvalidConfig)
		case sub.Store == nil:
			return nil, memerr.Newf("substore.new_router", "sub-store %q has no store: %w", sub.Name, memerr.ErrInvalidConfig)
		case sub.RoutingFilter == nil:
			return nil, memerr.Newf("substore.new_router", "sub-store %q has no routing filter: %w", sub.Name, memerr.ErrInvalidConfig)
		}
		seen[sub.Name] = true
	}

	r := &Router{
		main:       main,
		subs:       ordered,
		status:     status,
		state:      make(map[string]Status, len(ordered)),
		migrations: make(map[string]*sync.Mutex, len(ordered)),
	}
	for _, sub := range ordered {
		st := StatusDormant
		if status != nil {
			loaded, err := status.Status(context.Background(), sub.Name)
			if err != nil {
				return nil, err
			}
			st = loaded
		}
		r.state[sub.Name] = st
		r.migrations[sub.Name] = &sync.Mutex{}
		if st != StatusDormant {
			log.Debug().Str("sub_store", sub.Name).Str("status", string(st)).
				Msg("restored sub-store status")
		}
	}
	return r, nil
}

// Main returns the primary store.
func (r *Router) Main() storage.VectorStore {
	return r.main
}

// SubStores returns the configured sub-stores in routing order.
func (r *Router) SubStores() []*SubStore {
	out := make([]*SubStore, len(r.subs))
	copy(out, r.subs)
	return out
}

// RouteWrite resolves the destination for a new record: the lowest-index
// MIGRATING or ACTIVE sub-store whose routing filter matches the record's
// filter document, else the main store.
func (r *Router) RouteWrite(m *storage.Memory) Target {
	if m == nil {
		return Target{Name: MainStoreName, Store: r.main}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	doc := m.Doc()
	for _, sub := range r.subs {
		if !r.state[sub.Name].routable() {
			continue
		}
		if filter.Match(sub.RoutingFilter, doc) {
			return Target{Name: sub.Name, Store: sub.Store}
		}
	}
	return Target{Name: MainStoreName, Store: r.main}
}

// RouteRead resolves the stores a query must consult. When the query filter
// provably narrows the routing filter of an ACTIVE sub-store, only that
// sub-store is returned. Otherwise the main store plus every MIGRATING and
// ACTIVE sub-store is fanned out, main first.
func (r *Router) RouteRead(f filter.Expr) []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sub := range r.subs {
		if r.state[sub.Name] != StatusActive {
			continue
		}
		if filter.Specializes(f, sub.RoutingFilter) {
			return []Target{{Name: sub.Name, Store: sub.Store}}
		}
	}

	targets := []Target{{Name: MainStoreName, Store: r.main}}
	for _, sub := range r.subs {
		if r.state[sub.Name].routable() {
			targets = append(targets, Target{Name: sub.Name, Store: sub.Store})
		}
	}
	return targets
}

// StoreFor returns the store registered under name. The main store is
// always addressable; sub-stores only once MIGRATING or ACTIVE.
func (r *Router) StoreFor(name string) (storage.VectorStore, error) {
	if name == MainStoreName {
		return r.main, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sub := range r.subs {
		if sub.Name != name {
			continue
		}
		if !r.state[sub.Name].routable() {
			return nil, memerr.Newf("substore.store_for", "sub-store %q is %s: %w",
				name, r.state[sub.Name], memerr.ErrSubStoreNotActive)
		}
		return sub.Store, nil
	}
	return nil, memerr.Newf("substore.store_for", "unknown sub-store %q: %w", name, memerr.ErrNotFound)
}

// Status returns the current lifecycle state of name. The main store is
// always ACTIVE.
func (r *Router) Status(name string) (Status, error) {
	if name == MainStoreName {
		return StatusActive, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.state[name]
	if !ok {
		return "", memerr.Newf("substore.status", "unknown sub-store %q: %w", name, memerr.ErrNotFound)
	}
	return st, nil
}

// Activate transitions name to ACTIVE, persisting the change. Migrate calls
// this on completion; it is also exposed for operators re-activating a
// sub-store whose data is already in place.
func (r *Router) Activate(ctx context.Context, name string) error {
	sub := r.lookup(name)
	if sub == nil {
		return memerr.Newf("substore.activate", "unknown sub-store %q: %w", name, memerr.ErrNotFound)
	}
	if err := r.setStatus(ctx, name, StatusActive); err != nil {
		return err
	}
	log.Info().Str("sub_store", name).Msg("sub-store activated")
	return nil
}

func (r *Router) lookup(name string) *SubStore {
	for _, sub := range r.subs {
		if sub.Name == name {
			return sub
		}
	}
	return nil
}

// setStatus persists st (when a StatusStore is configured) and then updates
// the routing cache. Persist-first ordering keeps restarts conservative: a
// crash between the two leaves the durable state ahead of the cache, never
// behind it.
func (r *Router) setStatus(ctx context.Context, name string, st Status) error {
	if r.status != nil {
		if err := r.status.SetStatus(ctx, name, st); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.state[name] = st
	r.mu.Unlock()
	return nil
}

// cacheStatus updates the in-memory state without persisting. Migrate uses
// it after Begin has already written the durable row.
func (r *Router) cacheStatus(name string, st Status) {
	r.mu.Lock()
	r.state[name] = st
	r.mu.Unlock()
}
