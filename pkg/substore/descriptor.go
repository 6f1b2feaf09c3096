// Package substore implements partitioned sub-store routing and migration.
//
// A sub-store is a secondary vector store bound to a routing filter. Records
// whose filter document matches the routing filter are written to the
// sub-store instead of the main store, and reads whose filter provably
// narrows the routing filter are served from the sub-store alone. Sub-stores
// start DORMANT and receive traffic only after an explicit migration
// activates them; migration state survives restarts through a small SQLite
// status table.
package substore

import (
	"github.com/ob-labs/powermem-go/pkg/embedder"
	"github.com/ob-labs/powermem-go/pkg/filter"
	"github.com/ob-labs/powermem-go/pkg/storage"
)

// Status is the lifecycle state of a sub-store.
type Status string

const (
	// StatusDormant means the sub-store is configured but receives no
	// traffic. This is the initial state.
	StatusDormant Status = "DORMANT"

	// StatusMigrating means a migration is copying matching records from
	// the main store. The sub-store accepts new writes and participates
	// in fan-out reads so freshly routed records stay visible.
	StatusMigrating Status = "MIGRATING"

	// StatusActive means migration completed and the sub-store serves
	// both reads and writes for its routing filter.
	StatusActive Status = "ACTIVE"

	// StatusFailed means the last migration aborted. The sub-store
	// receives no traffic until a new migration succeeds.
	StatusFailed Status = "FAILED"
)

// routable reports whether a sub-store in this state takes part in write
// routing and read fan-out.
func (s Status) routable() bool {
	return s == StatusMigrating || s == StatusActive
}

// MainStoreName is the reserved name of the primary store in routing
// decisions and status reporting.
const MainStoreName = "main"

// SubStore describes one configured sub-store.
type SubStore struct {
	// Index is the configuration position. Lower indexes win when
	// several routing filters match the same record.
	Index int

	// Name identifies the sub-store in status persistence and telemetry.
	// Must be unique and must not be "main".
	Name string

	// RoutingFilter selects the records that belong to this sub-store.
	RoutingFilter filter.Expr

	// Dims is the embedding dimension of the sub-store's collection.
	// When it differs from the source embedding, migration re-embeds
	// with Embedder. Zero means "same as main".
	Dims int

	// Store is the backing vector store.
	Store storage.VectorStore

	// Embedder produces embeddings in the sub-store's dimension. Only
	// required when Dims differs from the main store's.
	Embedder embedder.Provider
}

// Target is a resolved routing destination.
type Target struct {
	// Name is the sub-store name, or MainStoreName for the main store.
	Name string

	// Store is the vector store to address.
	Store storage.VectorStore
}
