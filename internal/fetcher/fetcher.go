// Package fetcher provides the "fetch page N of query Q" capability against
// the Socrata SODA3 query endpoint.
package fetcher

import (
	"context"
	"fmt"

	"github.com/sells-group/trafficsync/internal/incident"
)

// PageFetcher fetches one page of raw rows for a query. Pages are 1-indexed.
type PageFetcher interface {
	FetchPage(ctx context.Context, soql string, page, pageSize int) ([]incident.RawRecord, error)
}

// TransportError is a non-success response from the upstream API. It aborts
// the run; the scheduler is responsible for re-invocation, never this package.
type TransportError struct {
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetcher: upstream returned %d: %s", e.Status, e.Body)
}
