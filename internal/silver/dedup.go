// Package silver collapses bronze snapshots into the deduplicated,
// current-state-per-incident silver table.
package silver

import (
	"sort"
	"time"

	"github.com/sells-group/trafficsync/internal/bronze"
)

// Candidate is one deduped row proposed for the silver table: the business
// fields of the winning bronze row plus provenance of the snapshot that
// observed it.
type Candidate struct {
	IncidentID   string
	IncidentInfo string
	Description  *string
	StartTS      *time.Time
	ModifiedTS   *time.Time
	Quadrant     *string
	Longitude    float64
	Latitude     float64
	Count        int64

	SourceRowID     *string
	SourceVersion   *string
	SourceCreatedAt *time.Time
	SourceUpdatedAt *time.Time

	LastSnapshotID string
	LastSnapshotTS time.Time
	LastRunType    string
	LastQueryName  string
}

// Record is one row of the silver table.
type Record struct {
	Candidate
	LoadedAt time.Time
}

// MergeStats summarizes one merge run.
type MergeStats struct {
	Candidates int   `json:"candidates" yaml:"candidates"`
	Applied    int64 `json:"applied" yaml:"applied"`
	Skipped    int64 `json:"skipped" yaml:"skipped"`
}

// CandidateFrom maps a bronze record to a silver candidate.
func CandidateFrom(rec bronze.Record) Candidate {
	return Candidate{
		IncidentID:   rec.IncidentID,
		IncidentInfo: rec.IncidentInfo,
		Description:  rec.Description,
		StartTS:      rec.StartTS,
		ModifiedTS:   rec.ModifiedTS,
		Quadrant:     rec.Quadrant,
		Longitude:    rec.Longitude,
		Latitude:     rec.Latitude,
		Count:        rec.Count,

		SourceRowID:     rec.SourceRowID,
		SourceVersion:   rec.SourceVersion,
		SourceCreatedAt: rec.SourceCreatedAt,
		SourceUpdatedAt: rec.SourceUpdatedAt,

		LastSnapshotID: rec.SnapshotID,
		LastSnapshotTS: rec.SnapshotTS,
		LastRunType:    rec.RunType,
		LastQueryName:  rec.QueryName,
	}
}

// Dedup collapses bronze rows sharing an incident id to one candidate each,
// keeping the row ranked first by (sourceUpdatedAt DESC, snapshotTS DESC,
// sourceVersion DESC); absent values rank last. Output is ordered by incident
// id so merges are deterministic.
func Dedup(rows []bronze.Record) []Candidate {
	best := make(map[string]bronze.Record, len(rows))
	for _, rec := range rows {
		cur, ok := best[rec.IncidentID]
		if !ok || outranks(rec, cur) {
			best[rec.IncidentID] = rec
		}
	}

	cands := make([]Candidate, 0, len(best))
	for _, rec := range best {
		cands = append(cands, CandidateFrom(rec))
	}
	sort.Slice(cands, func(i, j int) bool {
		return cands[i].IncidentID < cands[j].IncidentID
	})
	return cands
}

// outranks reports whether a strictly beats b in the dedup ordering.
// On a full tie the earlier arrival is kept.
func outranks(a, b bronze.Record) bool {
	if c := compareTimePtr(a.SourceUpdatedAt, b.SourceUpdatedAt); c != 0 {
		return c > 0
	}
	if !a.SnapshotTS.Equal(b.SnapshotTS) {
		return a.SnapshotTS.After(b.SnapshotTS)
	}
	if c := compareStringPtr(a.SourceVersion, b.SourceVersion); c != 0 {
		return c > 0
	}
	return false
}

// compareTimePtr orders present values over nil, later over earlier.
func compareTimePtr(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case a.After(*b):
		return 1
	case b.After(*a):
		return -1
	default:
		return 0
	}
}

func compareStringPtr(a, b *string) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case *a > *b:
		return 1
	case *a < *b:
		return -1
	default:
		return 0
	}
}
