package ingest

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// Query is a query specification, opaque to the page loop: either "changed
// since cursor X" or "event time within [start, end)".
type Query struct {
	SOQL string
	Name string
}

// baseSelect lists the business and system columns of the bronze contract.
const baseSelect = "SELECT incident_info, description, start_dt, modified_dt, quadrant, " +
	"longitude, latitude, count, id, point, :id, :version, :created_at, :updated_at "

// IncrementalQuery selects rows whose source update time is strictly after
// the cursor, ordered so repeated runs page deterministically.
func IncrementalQuery(since time.Time) Query {
	return Query{
		Name: "incremental",
		SOQL: baseSelect +
			fmt.Sprintf("WHERE :updated_at > '%s' ", isoZ(since)) +
			"ORDER BY :updated_at ASC, :id ASC",
	}
}

// BackfillQuery selects rows by event time within one calendar month.
func BackfillQuery(month string) (Query, error) {
	start, end, err := MonthBounds(month)
	if err != nil {
		return Query{}, err
	}
	return Query{
		Name: "backfill",
		SOQL: baseSelect +
			fmt.Sprintf("WHERE start_dt >= '%s' AND start_dt < '%s' ", isoFloating(start), isoFloating(end)) +
			"ORDER BY start_dt ASC, :id ASC",
	}, nil
}

// MonthBounds returns the UTC [start, end) window for a "YYYY-MM" month.
func MonthBounds(month string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Wrapf(err, "ingest: parse month %q", month)
	}
	start = start.UTC()
	return start, start.AddDate(0, 1, 0), nil
}

// isoZ formats a UTC instant with a literal Z suffix, preserving sub-second
// precision so a millisecond watermark never truncates into a cursor that
// refetches its own boundary rows.
func isoZ(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// isoFloating formats a floating timestamp (no offset, millisecond precision)
// as required for Socrata event-time columns.
func isoFloating(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000")
}
