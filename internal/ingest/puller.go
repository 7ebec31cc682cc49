package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trafficsync/internal/bronze"
	"github.com/sells-group/trafficsync/internal/fetcher"
	"github.com/sells-group/trafficsync/internal/incident"
)

// InvalidRowPolicy decides what a row-level validation failure does to the run.
type InvalidRowPolicy string

const (
	// SkipInvalid drops the offending row, counts it, and continues.
	SkipInvalid InvalidRowPolicy = "skip"
	// FailInvalid aborts the run on the first invalid row.
	FailInvalid InvalidRowPolicy = "fail"
)

// ParseInvalidRowPolicy validates a policy string from configuration.
func ParseInvalidRowPolicy(s string) (InvalidRowPolicy, error) {
	switch InvalidRowPolicy(s) {
	case SkipInvalid, FailInvalid:
		return InvalidRowPolicy(s), nil
	default:
		return "", eris.Errorf("ingest: unknown invalid-row policy %q (valid: skip, fail)", s)
	}
}

// PullResult summarizes one run of the page loop.
type PullResult struct {
	Pages             int        `json:"pages" yaml:"pages"`
	Rows              int64      `json:"rows" yaml:"rows"`
	Skipped           int64      `json:"skipped" yaml:"skipped"`
	DistinctIncidents int        `json:"distinct_incidents" yaml:"distinct_incidents"`
	MaxSourceUpdated  *time.Time `json:"max_source_updated_at" yaml:"max_source_updated_at"`
}

// Puller drives a bounded sequence of page fetches, validating and mapping
// each row and streaming bronze records to the writer. Strictly sequential:
// one page at a time, in page order.
type Puller struct {
	fetcher fetcher.PageFetcher
	policy  InvalidRowPolicy
}

// NewPuller creates a page-loop engine over the given fetch capability.
func NewPuller(f fetcher.PageFetcher, policy InvalidRowPolicy) *Puller {
	if policy == "" {
		policy = SkipInvalid
	}
	return &Puller{fetcher: f, policy: policy}
}

// Run fetches pages 1..maxPages of the query, stopping early on the first
// empty page. Each valid row is written to the sink exactly once, in arrival
// order. A transport error aborts the run immediately; rows already written
// stay written. The returned result carries the maximum source update time
// across all written rows, or nil if no row carried one.
func (p *Puller) Run(ctx context.Context, q Query, meta bronze.RunMeta, w *bronze.Writer, pageSize, maxPages int) (*PullResult, error) {
	if pageSize < 1 {
		return nil, eris.Errorf("ingest: page size must be >= 1, got %d", pageSize)
	}
	if maxPages < 1 {
		return nil, eris.Errorf("ingest: max pages must be >= 1, got %d", maxPages)
	}

	log := zap.L().With(
		zap.String("component", "ingest.puller"),
		zap.String("snapshot_id", meta.SnapshotID),
		zap.String("query_name", q.Name),
	)

	res := &PullResult{}
	distinct := make(map[string]struct{})

	for page := 1; page <= maxPages; page++ {
		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), "ingest: pull cancelled")
		default:
		}

		rows, err := p.fetcher.FetchPage(ctx, q.SOQL, page, pageSize)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: fetch page %d", page)
		}
		res.Pages++

		if len(rows) == 0 {
			break
		}

		for _, raw := range rows {
			inc, err := incident.Validate(raw)
			if err != nil {
				if p.policy == FailInvalid {
					return nil, eris.Wrapf(err, "ingest: page %d", page)
				}
				res.Skipped++
				log.Warn("skipping invalid row", zap.Int("page", page), zap.Error(err))
				continue
			}

			rec := bronze.FromIncident(meta, inc)
			if err := w.Write(rec); err != nil {
				return nil, eris.Wrapf(err, "ingest: write row on page %d", page)
			}

			res.Rows++
			distinct[rec.IncidentID] = struct{}{}

			// Ties and absent values never regress the running maximum.
			if rec.SourceUpdatedAt != nil {
				u := rec.SourceUpdatedAt.UTC()
				if res.MaxSourceUpdated == nil || u.After(*res.MaxSourceUpdated) {
					res.MaxSourceUpdated = &u
				}
			}
		}
	}

	res.DistinctIncidents = len(distinct)

	log.Info("pull complete",
		zap.Int("pages", res.Pages),
		zap.Int64("rows", res.Rows),
		zap.Int64("skipped", res.Skipped),
		zap.Int("distinct_incidents", res.DistinctIncidents),
	)
	return res, nil
}
