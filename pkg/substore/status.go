package substore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ob-labs/powermem-go/pkg/memerr"
)

// StatusRecord is one persisted row of migration state.
type StatusRecord struct {
	// Name is the sub-store name.
	Name string

	// Status is the persisted lifecycle state.
	Status Status

	// JobID identifies the migration run that produced this row.
	JobID string

	// TotalCount is the number of records the migration planned to move.
	TotalCount int64

	// MigratedCount is the number of records moved so far.
	MigratedCount int64

	// StartedAt is when the migration began. Zero when no migration ran.
	StartedAt time.Time

	// UpdatedAt is the last time this row changed.
	UpdatedAt time.Time
}

// StatusStore persists sub-store lifecycle state in SQLite so that routing
// decisions and half-finished migrations survive restarts.
type StatusStore struct {
	db *sql.DB
}

// NewStatusStore opens (creating if needed) the status database at path and
// ensures the status table exists. Use ":memory:" for tests.
func NewStatusStore(path string) (*StatusStore, error) {
	if path == "" {
		return nil, memerr.Newf("substore.status_open", "path is required: %w", memerr.ErrInvalidConfig)
	}

	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !inMemory {
		dbDir := filepath.Dir(path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return nil, memerr.Newf("substore.status_open", "failed to create directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, memerr.New("substore.status_open", err)
	}
	if inMemory {
		// An in-memory database exists per connection; a second pooled
		// connection would see an empty schema.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, memerr.Newf("substore.status_open", "%w: %v", memerr.ErrStoreUnavailable, err)
	}

	s := &StatusStore{db: db}
	if err := s.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *StatusStore) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS substore_status (
			name TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			job_id TEXT NOT NULL DEFAULT '',
			total_count INTEGER NOT NULL DEFAULT 0,
			migrated_count INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME,
			updated_at DATETIME NOT NULL
		)
	`
	if _, err := s.db.Exec(query); err != nil {
		return memerr.Newf("substore.status_open", "%w: %v", memerr.ErrStorageOperation, err)
	}
	return nil
}

// Status returns the persisted state for name. Sub-stores without a row are
// DORMANT.
func (s *StatusStore) Status(ctx context.Context, name string) (Status, error) {
	var st string
	err := s.db.QueryRowContext(ctx,
		"SELECT status FROM substore_status WHERE name = ?", name).Scan(&st)
	if errors.Is(err, sql.ErrNoRows) {
		return StatusDormant, nil
	}
	if err != nil {
		return "", memerr.Newf("substore.status_get", "%w: %v", memerr.ErrStorageOperation, err)
	}
	return Status(st), nil
}

// Get returns the full status row for name, or ErrNotFound when no
// migration has ever touched it.
func (s *StatusStore) Get(ctx context.Context, name string) (*StatusRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, status, job_id, total_count, migrated_count, started_at, updated_at
		FROM substore_status WHERE name = ?`, name)
	rec, err := scanStatusRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memerr.Newf("substore.status_get", "sub-store %q: %w", name, memerr.ErrNotFound)
	}
	if err != nil {
		return nil, memerr.Newf("substore.status_get", "%w: %v", memerr.ErrStorageOperation, err)
	}
	return rec, nil
}

// Begin records the start of a migration run, resetting progress counters.
func (s *StatusStore) Begin(ctx context.Context, name, jobID string, total int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO substore_status (name, status, job_id, total_count, migrated_count, started_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			status = excluded.status,
			job_id = excluded.job_id,
			total_count = excluded.total_count,
			migrated_count = 0,
			started_at = excluded.started_at,
			updated_at = excluded.updated_at`,
		name, string(StatusMigrating), jobID, total, now, now)
	if err != nil {
		return memerr.Newf("substore.status_begin", "%w: %v", memerr.ErrStorageOperation, err)
	}
	return nil
}

// Progress updates the migrated-record counter for the running migration.
func (s *StatusStore) Progress(ctx context.Context, name string, migrated int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE substore_status SET migrated_count = ?, updated_at = ? WHERE name = ?`,
		migrated, time.Now().UTC(), name)
	if err != nil {
		return memerr.Newf("substore.status_progress", "%w: %v", memerr.ErrStorageOperation, err)
	}
	return nil
}

// SetStatus transitions name to st, inserting the row if Begin never ran.
func (s *StatusStore) SetStatus(ctx context.Context, name string, st Status) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO substore_status (name, status, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at`,
		name, string(st), now)
	if err != nil {
		return memerr.Newf("substore.status_set", "%w: %v", memerr.ErrStorageOperation, err)
	}
	return nil
}

// All returns every persisted status row ordered by name.
func (s *StatusStore) All(ctx context.Context) ([]*StatusRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, status, job_id, total_count, migrated_count, started_at, updated_at
		FROM substore_status ORDER BY name`)
	if err != nil {
		return nil, memerr.Newf("substore.status_all", "%w: %v", memerr.ErrStorageOperation, err)
	}
	defer rows.Close()

	var out []*StatusRecord
	for rows.Next() {
		rec, err := scanStatusRecord(rows)
		if err != nil {
			return nil, memerr.Newf("substore.status_all", "%w: %v", memerr.ErrStorageOperation, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, memerr.Newf("substore.status_all", "%w: %v", memerr.ErrStorageOperation, err)
	}
	return out, nil
}

// Close releases the underlying database handle.
func (s *StatusStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStatusRecord(row rowScanner) (*StatusRecord, error) {
	var (
		rec     StatusRecord
		status  string
		started sql.NullTime
	)
	if err := row.Scan(&rec.Name, &status, &rec.JobID, &rec.TotalCount,
		&rec.MigratedCount, &started, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	if started.Valid {
		rec.StartedAt = started.Time
	}
	return &rec, nil
}
