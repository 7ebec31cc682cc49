package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/trafficsync/internal/bronze"
	"github.com/sells-group/trafficsync/internal/silver"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Timestamps are stored as fixed-width UTC strings so lexicographic order is
// chronological order; the merge guard relies on that.
const sqliteTSLayout = "2006-01-02T15:04:05.000Z"

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS bronze_incidents (
	snapshot_id        TEXT NOT NULL,
	snapshot_ts        TEXT NOT NULL,
	run_type           TEXT NOT NULL,
	query_name         TEXT NOT NULL,
	incident_id        TEXT NOT NULL,
	incident_info      TEXT NOT NULL,
	description        TEXT,
	start_ts           TEXT,
	modified_ts        TEXT,
	quadrant           TEXT,
	longitude          REAL NOT NULL,
	latitude           REAL NOT NULL,
	count              INTEGER NOT NULL,
	source_row_id      TEXT,
	source_version     TEXT,
	source_created_at  TEXT,
	source_updated_at  TEXT
);

CREATE TABLE IF NOT EXISTS silver_incidents (
	incident_id        TEXT PRIMARY KEY,
	incident_info      TEXT NOT NULL,
	description        TEXT,
	start_ts           TEXT,
	modified_ts        TEXT,
	quadrant           TEXT,
	longitude          REAL NOT NULL,
	latitude           REAL NOT NULL,
	count              INTEGER NOT NULL,
	source_row_id      TEXT,
	source_version     TEXT,
	source_created_at  TEXT,
	source_updated_at  TEXT,
	last_snapshot_id   TEXT NOT NULL,
	last_snapshot_ts   TEXT NOT NULL,
	last_run_type      TEXT NOT NULL,
	last_query_name    TEXT NOT NULL,
	loaded_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS load_jobs (
	id          TEXT PRIMARY KEY,
	layer       TEXT NOT NULL,
	table_name  TEXT NOT NULL,
	snapshot_id TEXT,
	rows_loaded INTEGER NOT NULL,
	loaded_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bronze_snapshot ON bronze_incidents(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_bronze_snapshot_ts ON bronze_incidents(snapshot_ts);
CREATE INDEX IF NOT EXISTS idx_load_jobs_loaded_at ON load_jobs(loaded_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadBronze(ctx context.Context, recs []bronze.Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin bronze load")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO bronze_incidents (
			snapshot_id, snapshot_ts, run_type, query_name,
			incident_id, incident_info, description,
			start_ts, modified_ts, quadrant,
			longitude, latitude, count,
			source_row_id, source_version, source_created_at, source_updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare bronze insert")
	}
	defer stmt.Close()

	for i, rec := range recs {
		_, err := stmt.ExecContext(ctx,
			rec.SnapshotID, fmtTS(rec.SnapshotTS), rec.RunType, rec.QueryName,
			rec.IncidentID, rec.IncidentInfo, rec.Description,
			fmtTSPtr(rec.StartTS), fmtTSPtr(rec.ModifiedTS), rec.Quadrant,
			rec.Longitude, rec.Latitude, rec.Count,
			rec.SourceRowID, rec.SourceVersion, fmtTSPtr(rec.SourceCreatedAt), fmtTSPtr(rec.SourceUpdatedAt),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: bronze row %d", i+1)
		}
	}

	if err := insertLoadJobTx(ctx, tx, "bronze", "bronze_incidents", recs[0].SnapshotID, int64(len(recs))); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit bronze load")
	}
	return int64(len(recs)), nil
}

func (s *SQLiteStore) BronzeBySnapshot(ctx context.Context, snapshotID string) ([]bronze.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot_id, snapshot_ts, run_type, query_name,
			incident_id, incident_info, description,
			start_ts, modified_ts, quadrant,
			longitude, latitude, count,
			source_row_id, source_version, source_created_at, source_updated_at
		 FROM bronze_incidents WHERE snapshot_id = ?`,
		snapshotID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query bronze snapshot %s", snapshotID)
	}
	defer rows.Close()

	var recs []bronze.Record
	for rows.Next() {
		var rec bronze.Record
		var snapTS string
		var startTS, modifiedTS, createdAt, updatedAt sql.NullString
		if err := rows.Scan(
			&rec.SnapshotID, &snapTS, &rec.RunType, &rec.QueryName,
			&rec.IncidentID, &rec.IncidentInfo, &rec.Description,
			&startTS, &modifiedTS, &rec.Quadrant,
			&rec.Longitude, &rec.Latitude, &rec.Count,
			&rec.SourceRowID, &rec.SourceVersion, &createdAt, &updatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan bronze row")
		}

		ts, err := parseTS(snapTS)
		if err != nil {
			return nil, err
		}
		rec.SnapshotTS = ts
		if rec.StartTS, err = parseTSPtr(startTS); err != nil {
			return nil, err
		}
		if rec.ModifiedTS, err = parseTSPtr(modifiedTS); err != nil {
			return nil, err
		}
		if rec.SourceCreatedAt, err = parseTSPtr(createdAt); err != nil {
			return nil, err
		}
		if rec.SourceUpdatedAt, err = parseTSPtr(updatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) LatestSnapshotID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot_id FROM bronze_incidents
		 ORDER BY snapshot_ts DESC, snapshot_id DESC LIMIT 1`,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNoSnapshots
	}
	if err != nil {
		return "", eris.Wrap(err, "sqlite: latest snapshot id")
	}
	return id, nil
}

// upsertSilverSQL accepts a candidate only when it strictly improves on the
// existing row; stale or out-of-order snapshots fall through unchanged.
const upsertSilverSQL = `
INSERT INTO silver_incidents (
	incident_id, incident_info, description,
	start_ts, modified_ts, quadrant,
	longitude, latitude, count,
	source_row_id, source_version, source_created_at, source_updated_at,
	last_snapshot_id, last_snapshot_ts, last_run_type, last_query_name, loaded_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(incident_id) DO UPDATE SET
	incident_info     = excluded.incident_info,
	description       = excluded.description,
	start_ts          = excluded.start_ts,
	modified_ts       = excluded.modified_ts,
	quadrant          = excluded.quadrant,
	longitude         = excluded.longitude,
	latitude          = excluded.latitude,
	count             = excluded.count,
	source_row_id     = excluded.source_row_id,
	source_version    = excluded.source_version,
	source_created_at = excluded.source_created_at,
	source_updated_at = excluded.source_updated_at,
	last_snapshot_id  = excluded.last_snapshot_id,
	last_snapshot_ts  = excluded.last_snapshot_ts,
	last_run_type     = excluded.last_run_type,
	last_query_name   = excluded.last_query_name,
	loaded_at         = excluded.loaded_at
WHERE silver_incidents.source_updated_at IS NULL
   OR excluded.source_updated_at > silver_incidents.source_updated_at
   OR (excluded.source_updated_at = silver_incidents.source_updated_at
       AND excluded.last_snapshot_ts > silver_incidents.last_snapshot_ts)`

func (s *SQLiteStore) UpsertSilver(ctx context.Context, cands []silver.Candidate, loadedAt time.Time) (silver.MergeStats, error) {
	var stats silver.MergeStats
	if len(cands) == 0 {
		return stats, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, eris.Wrap(err, "sqlite: begin silver merge")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSilverSQL)
	if err != nil {
		return stats, eris.Wrap(err, "sqlite: prepare silver upsert")
	}
	defer stmt.Close()

	loaded := fmtTS(loadedAt)
	for _, c := range cands {
		res, err := stmt.ExecContext(ctx,
			c.IncidentID, c.IncidentInfo, c.Description,
			fmtTSPtr(c.StartTS), fmtTSPtr(c.ModifiedTS), c.Quadrant,
			c.Longitude, c.Latitude, c.Count,
			c.SourceRowID, c.SourceVersion, fmtTSPtr(c.SourceCreatedAt), fmtTSPtr(c.SourceUpdatedAt),
			c.LastSnapshotID, fmtTS(c.LastSnapshotTS), c.LastRunType, c.LastQueryName, loaded,
		)
		if err != nil {
			return stats, eris.Wrapf(err, "sqlite: upsert silver %s", c.IncidentID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return stats, eris.Wrap(err, "sqlite: silver rows affected")
		}
		stats.Applied += n
		stats.Skipped += 1 - n
	}

	if err := insertLoadJobTx(ctx, tx, "silver", "silver_incidents", cands[0].LastSnapshotID, stats.Applied); err != nil {
		return stats, err
	}

	if err := tx.Commit(); err != nil {
		return silver.MergeStats{}, eris.Wrap(err, "sqlite: commit silver merge")
	}
	return stats, nil
}

func (s *SQLiteStore) GetSilver(ctx context.Context, incidentID string) (*silver.Record, error) {
	var rec silver.Record
	var startTS, modifiedTS, createdAt, updatedAt sql.NullString
	var snapTS, loadedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT incident_id, incident_info, description,
			start_ts, modified_ts, quadrant,
			longitude, latitude, count,
			source_row_id, source_version, source_created_at, source_updated_at,
			last_snapshot_id, last_snapshot_ts, last_run_type, last_query_name, loaded_at
		 FROM silver_incidents WHERE incident_id = ?`,
		incidentID,
	).Scan(
		&rec.IncidentID, &rec.IncidentInfo, &rec.Description,
		&startTS, &modifiedTS, &rec.Quadrant,
		&rec.Longitude, &rec.Latitude, &rec.Count,
		&rec.SourceRowID, &rec.SourceVersion, &createdAt, &updatedAt,
		&rec.LastSnapshotID, &snapTS, &rec.LastRunType, &rec.LastQueryName, &loadedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get silver %s", incidentID)
	}

	if rec.StartTS, err = parseTSPtr(startTS); err != nil {
		return nil, err
	}
	if rec.ModifiedTS, err = parseTSPtr(modifiedTS); err != nil {
		return nil, err
	}
	if rec.SourceCreatedAt, err = parseTSPtr(createdAt); err != nil {
		return nil, err
	}
	if rec.SourceUpdatedAt, err = parseTSPtr(updatedAt); err != nil {
		return nil, err
	}
	if rec.LastSnapshotTS, err = parseTS(snapTS); err != nil {
		return nil, err
	}
	if rec.LoadedAt, err = parseTS(loadedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) ListLoadJobs(ctx context.Context, limit int) ([]LoadJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, layer, table_name, COALESCE(snapshot_id, ''), rows_loaded, loaded_at
		 FROM load_jobs ORDER BY loaded_at DESC, id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list load jobs")
	}
	defer rows.Close()

	var jobs []LoadJob
	for rows.Next() {
		var j LoadJob
		var loadedAt string
		if err := rows.Scan(&j.ID, &j.Layer, &j.Table, &j.SnapshotID, &j.Rows, &loadedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan load job")
		}
		if j.LoadedAt, err = parseTS(loadedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func insertLoadJobTx(ctx context.Context, tx *sql.Tx, layer, table, snapshotID string, rows int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO load_jobs (id, layer, table_name, snapshot_id, rows_loaded, loaded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), layer, table, snapshotID, rows, fmtTS(time.Now().UTC()),
	)
	return eris.Wrapf(err, "sqlite: record %s load job", layer)
}

func fmtTS(t time.Time) string {
	return t.UTC().Format(sqliteTSLayout)
}

func fmtTSPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTS(*t)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTSLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse timestamp %q", s)
	}
	return t, nil
}

func parseTSPtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTS(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
