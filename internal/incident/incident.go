// Package incident validates and normalizes raw traffic-incident rows from
// the Socrata SODA3 API into typed records. Everything downstream of this
// package handles typed data only.
package incident

import (
	"fmt"
	"strings"
	"time"
)

// RawRecord is one untyped row as delivered by the upstream API. It may carry
// extra unknown fields (computed region columns and the like); those are
// ignored, never rejected.
type RawRecord map[string]any

// GeoPoint is the optional point geometry attached to a row.
type GeoPoint struct {
	Type      string
	Longitude float64
	Latitude  float64
}

// Incident is a fully validated, normalized traffic-incident row.
// An Incident either passed every validation rule or was never constructed.
type Incident struct {
	// Business fields
	ID          string
	Info        string
	Description *string
	StartDT     time.Time
	ModifiedDT  *time.Time
	Quadrant    *string
	Longitude   float64
	Latitude    float64
	Count       int64
	Point       *GeoPoint

	// System fields (Socrata)
	SourceRowID     *string
	SourceVersion   *string
	SourceCreatedAt *time.Time
	SourceUpdatedAt *time.Time
}

// FieldError names one offending field and why it failed.
type FieldError struct {
	Field  string
	Reason string
}

// ValidationError reports every field that failed validation for one row.
// Row-level: a ValidationError never affects sibling rows in the same page.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	return "invalid row: " + strings.Join(parts, "; ")
}

func (e *ValidationError) addf(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

// FieldNames returns the offending field names, in rule order.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	return names
}
