// Package store persists the bronze and silver layers. Two backends implement
// the same interface: embedded SQLite for single-machine use and Postgres for
// shared deployments.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trafficsync/internal/bronze"
	"github.com/sells-group/trafficsync/internal/silver"
)

// ErrNoSnapshots is returned when the bronze table holds no snapshots yet.
var ErrNoSnapshots = eris.New("store: bronze table has no snapshots")

// LoadJob is the audit trail of one bulk load or merge.
type LoadJob struct {
	ID         string    `json:"id" yaml:"id"`
	Layer      string    `json:"layer" yaml:"layer"`
	Table      string    `json:"table" yaml:"table"`
	SnapshotID string    `json:"snapshot_id" yaml:"snapshot_id"`
	Rows       int64     `json:"rows" yaml:"rows"`
	LoadedAt   time.Time `json:"loaded_at" yaml:"loaded_at"`
}

// Store is the durable sink for bronze snapshots and the silver table.
type Store interface {
	// LoadBronze appends records to the bronze table atomically, all-or-nothing.
	// The records must already have passed the strict bronze schema gate.
	LoadBronze(ctx context.Context, recs []bronze.Record) (int64, error)

	// BronzeBySnapshot returns every bronze row tagged with the snapshot.
	BronzeBySnapshot(ctx context.Context, snapshotID string) ([]bronze.Record, error)

	// LatestSnapshotID resolves the most recently captured snapshot, or
	// ErrNoSnapshots.
	LatestSnapshotID(ctx context.Context) (string, error)

	// UpsertSilver applies deduped candidates in one atomic operation with
	// last-write-wins semantics (see silver.Table).
	UpsertSilver(ctx context.Context, cands []silver.Candidate, loadedAt time.Time) (silver.MergeStats, error)

	// GetSilver returns the current silver row for an incident, or nil.
	GetSilver(ctx context.Context, incidentID string) (*silver.Record, error)

	// ListLoadJobs returns the most recent load/merge audit entries.
	ListLoadJobs(ctx context.Context, limit int) ([]LoadJob, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates a Store for the configured driver.
func Open(ctx context.Context, driver, databaseURL string) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(databaseURL)
	case "postgres":
		return NewPostgres(ctx, databaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q (valid: sqlite, postgres)", driver)
	}
}
