package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/trafficsync/internal/bronze"
	"github.com/sells-group/trafficsync/internal/db"
	"github.com/sells-group/trafficsync/internal/silver"
)

// PostgresStore implements Store over a pgx connection pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects to the given database URL.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS bronze_incidents (
	snapshot_id        TEXT NOT NULL,
	snapshot_ts        TIMESTAMPTZ NOT NULL,
	run_type           TEXT NOT NULL,
	query_name         TEXT NOT NULL,
	incident_id        TEXT NOT NULL,
	incident_info      TEXT NOT NULL,
	description        TEXT,
	start_ts           TIMESTAMPTZ,
	modified_ts        TIMESTAMPTZ,
	quadrant           TEXT,
	longitude          DOUBLE PRECISION NOT NULL,
	latitude           DOUBLE PRECISION NOT NULL,
	"count"            BIGINT NOT NULL,
	source_row_id      TEXT,
	source_version     TEXT,
	source_created_at  TIMESTAMPTZ,
	source_updated_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS silver_incidents (
	incident_id        TEXT PRIMARY KEY,
	incident_info      TEXT NOT NULL,
	description        TEXT,
	start_ts           TIMESTAMPTZ,
	modified_ts        TIMESTAMPTZ,
	quadrant           TEXT,
	longitude          DOUBLE PRECISION NOT NULL,
	latitude           DOUBLE PRECISION NOT NULL,
	"count"            BIGINT NOT NULL,
	source_row_id      TEXT,
	source_version     TEXT,
	source_created_at  TIMESTAMPTZ,
	source_updated_at  TIMESTAMPTZ,
	last_snapshot_id   TEXT NOT NULL,
	last_snapshot_ts   TIMESTAMPTZ NOT NULL,
	last_run_type      TEXT NOT NULL,
	last_query_name    TEXT NOT NULL,
	loaded_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS load_jobs (
	id          UUID PRIMARY KEY,
	layer       TEXT NOT NULL,
	table_name  TEXT NOT NULL,
	snapshot_id TEXT,
	rows_loaded BIGINT NOT NULL,
	loaded_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bronze_snapshot ON bronze_incidents(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_bronze_snapshot_ts ON bronze_incidents(snapshot_ts);
CREATE INDEX IF NOT EXISTS idx_load_jobs_loaded_at ON load_jobs(loaded_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

var bronzeColumns = []string{
	"snapshot_id", "snapshot_ts", "run_type", "query_name",
	"incident_id", "incident_info", "description",
	"start_ts", "modified_ts", "quadrant",
	"longitude", "latitude", "count",
	"source_row_id", "source_version", "source_created_at", "source_updated_at",
}

var silverColumns = []string{
	"incident_id", "incident_info", "description",
	"start_ts", "modified_ts", "quadrant",
	"longitude", "latitude", "count",
	"source_row_id", "source_version", "source_created_at", "source_updated_at",
	"last_snapshot_id", "last_snapshot_ts", "last_run_type", "last_query_name", "loaded_at",
}

// silverGuard is the compare-and-swap predicate on the DO UPDATE branch:
// accept a candidate only when it strictly improves on the current row.
const silverGuard = `silver_incidents.source_updated_at IS NULL
	OR EXCLUDED.source_updated_at > silver_incidents.source_updated_at
	OR (EXCLUDED.source_updated_at = silver_incidents.source_updated_at
		AND EXCLUDED.last_snapshot_ts > silver_incidents.last_snapshot_ts)`

func (s *PostgresStore) LoadBronze(ctx context.Context, recs []bronze.Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, []any{
			rec.SnapshotID, rec.SnapshotTS.UTC(), rec.RunType, rec.QueryName,
			rec.IncidentID, rec.IncidentInfo, rec.Description,
			utcOrNil(rec.StartTS), utcOrNil(rec.ModifiedTS), rec.Quadrant,
			rec.Longitude, rec.Latitude, rec.Count,
			rec.SourceRowID, rec.SourceVersion, utcOrNil(rec.SourceCreatedAt), utcOrNil(rec.SourceUpdatedAt),
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin bronze load")
	}
	defer tx.Rollback(ctx)

	// pgx.Tx satisfies db.Pool, so the COPY rides inside this transaction.
	n, err := db.CopyFrom(ctx, tx, "bronze_incidents", bronzeColumns, rows)
	if err != nil {
		return 0, err
	}

	if err := s.insertLoadJob(ctx, tx, "bronze", "bronze_incidents", recs[0].SnapshotID, n); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit bronze load")
	}
	return n, nil
}

func (s *PostgresStore) BronzeBySnapshot(ctx context.Context, snapshotID string) ([]bronze.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT snapshot_id, snapshot_ts, run_type, query_name,
			incident_id, incident_info, description,
			start_ts, modified_ts, quadrant,
			longitude, latitude, "count",
			source_row_id, source_version, source_created_at, source_updated_at
		 FROM bronze_incidents WHERE snapshot_id = $1`,
		snapshotID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query bronze snapshot %s", snapshotID)
	}
	defer rows.Close()

	var recs []bronze.Record
	for rows.Next() {
		var rec bronze.Record
		if err := rows.Scan(
			&rec.SnapshotID, &rec.SnapshotTS, &rec.RunType, &rec.QueryName,
			&rec.IncidentID, &rec.IncidentInfo, &rec.Description,
			&rec.StartTS, &rec.ModifiedTS, &rec.Quadrant,
			&rec.Longitude, &rec.Latitude, &rec.Count,
			&rec.SourceRowID, &rec.SourceVersion, &rec.SourceCreatedAt, &rec.SourceUpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan bronze row")
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *PostgresStore) LatestSnapshotID(ctx context.Context) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot_id FROM bronze_incidents
		 ORDER BY snapshot_ts DESC, snapshot_id DESC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoSnapshots
	}
	if err != nil {
		return "", eris.Wrap(err, "postgres: latest snapshot id")
	}
	return id, nil
}

func (s *PostgresStore) UpsertSilver(ctx context.Context, cands []silver.Candidate, loadedAt time.Time) (silver.MergeStats, error) {
	var stats silver.MergeStats
	if len(cands) == 0 {
		return stats, nil
	}

	loaded := loadedAt.UTC()
	rows := make([][]any, 0, len(cands))
	for _, c := range cands {
		rows = append(rows, []any{
			c.IncidentID, c.IncidentInfo, c.Description,
			utcOrNil(c.StartTS), utcOrNil(c.ModifiedTS), c.Quadrant,
			c.Longitude, c.Latitude, c.Count,
			c.SourceRowID, c.SourceVersion, utcOrNil(c.SourceCreatedAt), utcOrNil(c.SourceUpdatedAt),
			c.LastSnapshotID, c.LastSnapshotTS.UTC(), c.LastRunType, c.LastQueryName, loaded,
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return stats, eris.Wrap(err, "postgres: begin silver merge")
	}
	defer tx.Rollback(ctx)

	applied, err := db.BulkUpsertTx(ctx, tx, db.UpsertConfig{
		Table:        "silver_incidents",
		Columns:      silverColumns,
		ConflictKeys: []string{"incident_id"},
		UpdateWhere:  silverGuard,
	}, rows)
	if err != nil {
		return stats, eris.Wrap(err, "postgres: silver merge")
	}

	// Audit row commits or rolls back with the merge itself.
	if err := s.insertLoadJob(ctx, tx, "silver", "silver_incidents", cands[0].LastSnapshotID, applied); err != nil {
		return stats, err
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, eris.Wrap(err, "postgres: commit silver merge")
	}
	stats.Applied = applied
	stats.Skipped = int64(len(cands)) - applied
	return stats, nil
}

func (s *PostgresStore) GetSilver(ctx context.Context, incidentID string) (*silver.Record, error) {
	var rec silver.Record
	err := s.pool.QueryRow(ctx,
		`SELECT incident_id, incident_info, description,
			start_ts, modified_ts, quadrant,
			longitude, latitude, "count",
			source_row_id, source_version, source_created_at, source_updated_at,
			last_snapshot_id, last_snapshot_ts, last_run_type, last_query_name, loaded_at
		 FROM silver_incidents WHERE incident_id = $1`,
		incidentID,
	).Scan(
		&rec.IncidentID, &rec.IncidentInfo, &rec.Description,
		&rec.StartTS, &rec.ModifiedTS, &rec.Quadrant,
		&rec.Longitude, &rec.Latitude, &rec.Count,
		&rec.SourceRowID, &rec.SourceVersion, &rec.SourceCreatedAt, &rec.SourceUpdatedAt,
		&rec.LastSnapshotID, &rec.LastSnapshotTS, &rec.LastRunType, &rec.LastQueryName, &rec.LoadedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get silver %s", incidentID)
	}
	return &rec, nil
}

func (s *PostgresStore) ListLoadJobs(ctx context.Context, limit int) ([]LoadJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, layer, table_name, COALESCE(snapshot_id, ''), rows_loaded, loaded_at
		 FROM load_jobs ORDER BY loaded_at DESC, id DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list load jobs")
	}
	defer rows.Close()

	var jobs []LoadJob
	for rows.Next() {
		var j LoadJob
		if err := rows.Scan(&j.ID, &j.Layer, &j.Table, &j.SnapshotID, &j.Rows, &j.LoadedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan load job")
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// execer covers both db.Pool and pgx.Tx so job rows can ride an open
// transaction when one exists.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *PostgresStore) insertLoadJob(ctx context.Context, ex execer, layer, table, snapshotID string, rows int64) error {
	_, err := ex.Exec(ctx,
		`INSERT INTO load_jobs (id, layer, table_name, snapshot_id, rows_loaded, loaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), layer, table, snapshotID, rows, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record %s load job", layer)
}

func utcOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
