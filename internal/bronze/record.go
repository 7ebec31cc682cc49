// Package bronze defines the canonical bronze-layer record: a validated
// incident flattened together with its run metadata, serialized as
// newline-delimited JSON and loaded verbatim into the append-only bronze table.
package bronze

import (
	"time"

	"github.com/sells-group/trafficsync/internal/incident"
)

// RunMeta identifies one pipeline invocation. Immutable, created once per run
// before any fetching begins, shared by every row of the snapshot.
type RunMeta struct {
	SnapshotID string
	SnapshotTS time.Time
	RunType    string
	QueryName  string
}

// Record is the bronze wire contract. Field order and JSON keys are the
// long-term storage schema; optional timestamps serialize as explicit nulls,
// never omitted keys. All timestamps are UTC so they marshal with a literal
// 'Z' suffix.
type Record struct {
	SnapshotID string    `json:"snapshot_id"`
	SnapshotTS time.Time `json:"snapshot_ts"`
	RunType    string    `json:"run_type"`
	QueryName  string    `json:"query_name"`

	IncidentID   string  `json:"incident_id"`
	IncidentInfo string  `json:"incident_info"`
	Description  *string `json:"description"`

	StartTS    *time.Time `json:"start_ts"`
	ModifiedTS *time.Time `json:"modified_ts"`
	Quadrant   *string    `json:"quadrant"`

	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Count     int64   `json:"count"`

	SourceRowID     *string    `json:"source_row_id"`
	SourceVersion   *string    `json:"source_version"`
	SourceCreatedAt *time.Time `json:"source_created_at"`
	SourceUpdatedAt *time.Time `json:"source_updated_at"`
}

// FromIncident flattens run metadata and a validated incident into a bronze
// record. Pure function; all inputs are already validated.
func FromIncident(meta RunMeta, inc *incident.Incident) Record {
	start := inc.StartDT.UTC()
	return Record{
		SnapshotID: meta.SnapshotID,
		SnapshotTS: meta.SnapshotTS.UTC(),
		RunType:    meta.RunType,
		QueryName:  meta.QueryName,

		IncidentID:   inc.ID,
		IncidentInfo: inc.Info,
		Description:  inc.Description,

		StartTS:    &start,
		ModifiedTS: utcPtr(inc.ModifiedDT),
		Quadrant:   inc.Quadrant,

		Longitude: inc.Longitude,
		Latitude:  inc.Latitude,
		Count:     inc.Count,

		SourceRowID:     inc.SourceRowID,
		SourceVersion:   inc.SourceVersion,
		SourceCreatedAt: utcPtr(inc.SourceCreatedAt),
		SourceUpdatedAt: utcPtr(inc.SourceUpdatedAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
