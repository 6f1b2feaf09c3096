package substore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ob-labs/powermem-go/pkg/embedder"
	"github.com/ob-labs/powermem-go/pkg/memerr"
	"github.com/ob-labs/powermem-go/pkg/storage"
	"github.com/ob-labs/powermem-go/pkg/telemetry"
)

const defaultMigrationBatch = 100

// MigrateOptions control a migration run.
type MigrateOptions struct {
	// BatchSize is the number of records copied per page (default 100).
	BatchSize int

	// DeleteSource removes migrated records from the main store, turning
	// the copy into a move.
	DeleteSource bool
}

// MigrationResult summarizes a completed migration run.
type MigrationResult struct {
	// JobID identifies this run in the status table and logs.
	JobID string

	// Total is the number of main-store records matching the routing
	// filter when the run started.
	Total int64

	// Migrated is the number of records copied into the sub-store.
	Migrated int64

	// Skipped is the number of records already present in the sub-store,
	// typically left behind by an earlier interrupted run.
	Skipped int64

	// Deleted is the number of records removed from the main store.
	Deleted int64
}

// Migrate copies every main-store record matching the sub-store's routing
// filter into the sub-store, then activates it.
//
// The run is resumable: records already present in the target are skipped,
// so re-running after a crash or failure completes the remainder. Progress
// is persisted per page. On any fatal error, including context
// cancellation, the sub-store is marked FAILED and receives no traffic
// until a later run succeeds. Only one migration per sub-store may run at a
// time; concurrent calls fail with ErrMigrationInProgress.
func (r *Router) Migrate(ctx context.Context, name string, opts *MigrateOptions) (*MigrationResult, error) {
	sub := r.lookup(name)
	if sub == nil {
		return nil, memerr.Newf("substore.migrate", "unknown sub-store %q: %w", name, memerr.ErrNotFound)
	}

	mu := r.migrations[name]
	if !mu.TryLock() {
		return nil, memerr.Newf("substore.migrate", "sub-store %q: %w", name, memerr.ErrMigrationInProgress)
	}
	defer mu.Unlock()

	if opts == nil {
		opts = &MigrateOptions{}
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultMigrationBatch
	}

	total, err := r.main.Count(ctx, sub.RoutingFilter)
	if err != nil {
		return nil, memerr.Newf("substore.migrate", "count source records: %w", err)
	}

	res := &MigrationResult{JobID: uuid.NewString(), Total: total}
	if r.status != nil {
		if err := r.status.Begin(ctx, name, res.JobID, total); err != nil {
			return nil, err
		}
	}
	r.cacheStatus(name, StatusMigrating)

	log.Info().Str("sub_store", name).Str("job_id", res.JobID).
		Int64("total", total).Bool("delete_source", opts.DeleteSource).
		Msg("migration started")

	if err := sub.Store.CreateCol(ctx); err != nil {
		return nil, r.failMigration(name, res.JobID,
			memerr.Newf("substore.migrate", "create target collection: %w", err))
	}

	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, r.failMigration(name, res.JobID, memerr.New("substore.migrate", err))
		}

		page, err := r.main.List(ctx, &storage.ListOptions{
			Filter: sub.RoutingFilter,
			Limit:  batch,
			Offset: offset,
		})
		if err != nil {
			return nil, r.failMigration(name, res.JobID,
				memerr.Newf("substore.migrate", "list source page: %w", err))
		}
		if len(page) == 0 {
			break
		}

		moved, skipped, err := r.migratePage(ctx, sub, page)
		if err != nil {
			return nil, r.failMigration(name, res.JobID, err)
		}
		res.Migrated += int64(moved)
		res.Skipped += int64(skipped)
		telemetry.Default().RecordMigratedRecords(name, moved)

		if opts.DeleteSource {
			for _, m := range page {
				if err := r.main.Delete(ctx, m.ID); err != nil {
					if errors.Is(err, memerr.ErrNotFound) {
						continue
					}
					return nil, r.failMigration(name, res.JobID,
						memerr.Newf("substore.migrate", "delete source record %d: %w", m.ID, err))
				}
				res.Deleted++
			}
			// Deleting shifts the remaining records down, so the next
			// page starts at the same offset.
		} else {
			offset += len(page)
		}

		if r.status != nil {
			if err := r.status.Progress(ctx, name, res.Migrated); err != nil {
				log.Warn().Err(err).Str("sub_store", name).Msg("failed to persist migration progress")
			}
		}
	}

	if err := r.Activate(ctx, name); err != nil {
		return nil, r.failMigration(name, res.JobID, err)
	}

	log.Info().Str("sub_store", name).Str("job_id", res.JobID).
		Int64("migrated", res.Migrated).Int64("skipped", res.Skipped).
		Int64("deleted", res.Deleted).Msg("migration completed")
	return res, nil
}

// migratePage inserts the records from one source page that are not already
// present in the target, re-embedding when the target dimension differs.
func (r *Router) migratePage(ctx context.Context, sub *SubStore, page []*storage.Memory) (moved, skipped int, err error) {
	toInsert := make([]*storage.Memory, 0, len(page))
	for _, m := range page {
		if _, err := sub.Store.Get(ctx, m.ID); err == nil {
			skipped++
			continue
		} else if !errors.Is(err, memerr.ErrNotFound) {
			return 0, 0, memerr.Newf("substore.migrate", "probe target record %d: %w", m.ID, err)
		}

		rec := m.Clone()
		if sub.Dims > 0 && len(rec.Embedding) != sub.Dims {
			if sub.Embedder == nil {
				return 0, 0, memerr.Newf("substore.migrate",
					"record %d needs re-embedding to %d dims but sub-store %q has no embedder: %w",
					rec.ID, sub.Dims, sub.Name, memerr.ErrInvalidConfig)
			}
			emb, err := sub.Embedder.Embed(ctx, rec.Content, embedder.ActionAdd)
			if err != nil {
				return 0, 0, memerr.Newf("substore.migrate", "re-embed record %d: %w: %v",
					rec.ID, memerr.ErrEmbedderUnavailable, err)
			}
			rec.Embedding = emb
		}
		toInsert = append(toInsert, rec)
	}

	if len(toInsert) > 0 {
		if err := sub.Store.Insert(ctx, toInsert); err != nil {
			return 0, 0, memerr.Newf("substore.migrate", "insert target page: %w", err)
		}
	}
	return len(toInsert), skipped, nil
}

// failMigration marks the sub-store FAILED and returns cause. The status
// write runs on a fresh context so a cancelled migration context cannot
// suppress the durable failure record.
func (r *Router) failMigration(name, jobID string, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if r.status != nil {
		if err := r.status.SetStatus(ctx, name, StatusFailed); err != nil {
			log.Warn().Err(err).Str("sub_store", name).Msg("failed to persist FAILED status")
		}
	}
	r.cacheStatus(name, StatusFailed)

	log.Error().Err(cause).Str("sub_store", name).Str("job_id", jobID).Msg("migration failed")
	return cause
}
