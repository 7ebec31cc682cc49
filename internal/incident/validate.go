package incident

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// coordTolerance is the maximum absolute difference allowed between the point
// geometry and the longitude/latitude columns.
const coordTolerance = 1e-8

// Validate checks and normalizes one raw row. It returns either a fully valid
// Incident or a *ValidationError naming every offending field. It is a pure
// function: the input map is never mutated.
func Validate(raw RawRecord) (*Incident, error) {
	verr := &ValidationError{}
	inc := &Incident{}

	// Business key: trimmed only, internal whitespace is part of the key.
	if s, _ := asString(raw["id"]); strings.TrimSpace(s) != "" {
		inc.ID = strings.TrimSpace(s)
	} else {
		verr.addf("id", "missing or empty")
	}

	// Title: collapse internal whitespace, trim ends.
	if info := collapseString(raw["incident_info"]); info != "" {
		inc.Info = info
	} else {
		verr.addf("incident_info", "empty after whitespace collapse")
	}

	if s, ok := asString(raw["description"]); ok {
		inc.Description = &s
	}

	// Zone: trim + uppercase, empty becomes absent.
	if q := strings.ToUpper(strings.TrimSpace(orEmpty(raw["quadrant"]))); q != "" {
		inc.Quadrant = &q
	}

	// Coordinates: required, numeric, in range.
	lonOK, latOK := false, false
	if lon, err := asFloat(raw["longitude"]); err != nil {
		verr.addf("longitude", "%v", err)
	} else if lon < -180 || lon > 180 {
		verr.addf("longitude", "out of range: %v", lon)
	} else {
		inc.Longitude = lon
		lonOK = true
	}
	if lat, err := asFloat(raw["latitude"]); err != nil {
		verr.addf("latitude", "%v", err)
	} else if lat < -90 || lat > 90 {
		verr.addf("latitude", "out of range: %v", lat)
	} else {
		inc.Latitude = lat
		latOK = true
	}

	// Count: absent defaults to 1, numeric-like strings are truncated.
	if n, err := asCount(raw["count"]); err != nil {
		verr.addf("count", "%v", err)
	} else {
		inc.Count = n
	}

	// Timestamps: mandatory start_dt, everything else optional.
	if t, err := parseTimestamp(raw["start_dt"]); err != nil {
		verr.addf("start_dt", "%v", err)
	} else if t == nil {
		verr.addf("start_dt", "missing")
	} else {
		inc.StartDT = *t
	}
	inc.ModifiedDT = optTimestamp(raw["modified_dt"], "modified_dt", verr)
	inc.SourceCreatedAt = optTimestamp(raw[":created_at"], ":created_at", verr)
	inc.SourceUpdatedAt = optTimestamp(raw[":updated_at"], ":updated_at", verr)

	if s, ok := asString(raw[":id"]); ok && s != "" {
		inc.SourceRowID = &s
	}
	if s, ok := asString(raw[":version"]); ok && s != "" {
		inc.SourceVersion = &s
	}

	// Geo-point cross-check against the coordinate columns.
	if pt, err := parsePoint(raw["point"]); err != nil {
		verr.addf("point", "%v", err)
	} else if pt != nil {
		inc.Point = pt
		if lonOK && latOK {
			if math.Abs(pt.Longitude-inc.Longitude) > coordTolerance ||
				math.Abs(pt.Latitude-inc.Latitude) > coordTolerance {
				verr.addf("point", "coordinates (%v, %v) do not match longitude/latitude (%v, %v)",
					pt.Longitude, pt.Latitude, inc.Longitude, inc.Latitude)
			}
		}
	}

	if len(verr.Fields) > 0 {
		return nil, verr
	}
	return inc, nil
}

// asString converts a scalar value to a string. Numbers are formatted the way
// the upstream API would render them; nil reports absent.
func asString(v any) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", false
	case string:
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case json.Number:
		return s.String(), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case bool:
		return strconv.FormatBool(s), true
	default:
		return "", false
	}
}

func orEmpty(v any) string {
	s, _ := asString(v)
	return s
}

// collapseString stringifies a value and collapses internal whitespace runs
// to single spaces, trimming the ends.
func collapseString(v any) string {
	s, _ := asString(v)
	return strings.Join(strings.Fields(s), " ")
}

// asFloat parses a numeric value. Non-finite results (NaN, ±Inf — which
// strconv.ParseFloat accepts) are rejected here so they can never reach the
// range checks, where every comparison against NaN is false.
func asFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0, eris.Errorf("missing coordinate")
	case float64:
		f = n
	case int:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, eris.Errorf("not numeric: %q", n.String())
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, eris.Errorf("not numeric: %q", n)
		}
		f = parsed
	default:
		return 0, eris.Errorf("not numeric: %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, eris.Errorf("not finite: %v", f)
	}
	return f, nil
}

// asCount parses the count column: absent or null means 1, numeric-like
// strings are parsed as floats and truncated toward zero.
func asCount(v any) (int64, error) {
	if v == nil {
		return 1, nil
	}
	f, err := asFloat(v)
	if err != nil {
		return 0, err
	}
	n := int64(f)
	if n < 0 {
		return 0, eris.Errorf("negative count: %d", n)
	}
	return n, nil
}

// Socrata timestamps arrive either as floating timestamps with no offset
// ('2026-01-24T20:32:02.000', treated as UTC) or with an explicit offset or
// 'Z' suffix. Both normalize to UTC instants.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(v any) (*time.Time, error) {
	s, ok := asString(v)
	if !ok {
		return nil, nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u, nil
		}
	}
	return nil, eris.Errorf("unparseable timestamp: %q", s)
}

func optTimestamp(v any, field string, verr *ValidationError) *time.Time {
	t, err := parseTimestamp(v)
	if err != nil {
		verr.addf(field, "%v", err)
		return nil
	}
	return t
}

// parsePoint decodes an optional point geometry. The geometry type must
// denote "point" (case-insensitive) and carry exactly one in-range
// (longitude, latitude) pair.
func parsePoint(v any) (*GeoPoint, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, eris.Errorf("not an object: %T", v)
	}

	ptype, _ := asString(m["type"])
	if !strings.EqualFold(strings.TrimSpace(ptype), "point") {
		return nil, eris.Errorf("expected point geometry, got %q", ptype)
	}

	coords, ok := m["coordinates"].([]any)
	if !ok || len(coords) != 2 {
		return nil, eris.Errorf("coordinates must be a [lon, lat] pair")
	}
	lon, err := asFloat(coords[0])
	if err != nil {
		return nil, eris.Errorf("longitude: %v", err)
	}
	lat, err := asFloat(coords[1])
	if err != nil {
		return nil, eris.Errorf("latitude: %v", err)
	}
	if lon < -180 || lon > 180 {
		return nil, eris.Errorf("invalid longitude: %v", lon)
	}
	if lat < -90 || lat > 90 {
		return nil, eris.Errorf("invalid latitude: %v", lat)
	}

	return &GeoPoint{Type: "Point", Longitude: lon, Latitude: lat}, nil
}
