package silver

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trafficsync/internal/bronze"
)

// Table is the durable-table capability the merge engine writes through.
// UpsertSilver must apply all candidates atomically with last-write-wins
// semantics: accept a candidate only when the existing row has no source
// update time, or the candidate's is strictly newer, or it is equal and the
// candidate's snapshot is newer.
type Table interface {
	BronzeBySnapshot(ctx context.Context, snapshotID string) ([]bronze.Record, error)
	UpsertSilver(ctx context.Context, cands []Candidate, loadedAt time.Time) (MergeStats, error)
}

// Merger reconciles one bronze snapshot into the silver table. Re-running a
// merge for the same snapshot is a no-op: the upsert predicate is a strict
// improvement test, not a blind overwrite.
type Merger struct {
	table Table
	now   func() time.Time
}

// NewMerger creates a merge engine over the given table.
func NewMerger(table Table) *Merger {
	return &Merger{table: table, now: time.Now}
}

// Merge collapses all bronze rows of the snapshot to one candidate per
// incident id and upserts them in a single atomic operation.
func (m *Merger) Merge(ctx context.Context, snapshotID string) (*MergeStats, error) {
	log := zap.L().With(
		zap.String("component", "silver.merger"),
		zap.String("snapshot_id", snapshotID),
	)

	rows, err := m.table.BronzeBySnapshot(ctx, snapshotID)
	if err != nil {
		return nil, eris.Wrapf(err, "silver: read bronze snapshot %s", snapshotID)
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("silver: no bronze rows for snapshot %s", snapshotID)
	}

	cands := Dedup(rows)

	stats, err := m.table.UpsertSilver(ctx, cands, m.now().UTC())
	if err != nil {
		return nil, eris.Wrapf(err, "silver: merge snapshot %s", snapshotID)
	}
	stats.Candidates = len(cands)

	log.Info("merge complete",
		zap.Int("bronze_rows", len(rows)),
		zap.Int("candidates", stats.Candidates),
		zap.Int64("applied", stats.Applied),
		zap.Int64("skipped", stats.Skipped),
	)
	return &stats, nil
}
