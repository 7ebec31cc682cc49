package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trafficsync/internal/bronze"
	"github.com/sells-group/trafficsync/internal/incident"
)

// fakeFetcher serves scripted pages and records every request.
type fakeFetcher struct {
	pages   [][]incident.RawRecord
	endless bool // serve one-row pages forever
	err     error
	calls   []int
}

func (f *fakeFetcher) FetchPage(ctx context.Context, soql string, page, pageSize int) ([]incident.RawRecord, error) {
	f.calls = append(f.calls, page)
	if f.err != nil {
		return nil, f.err
	}
	if f.endless {
		return []incident.RawRecord{rawRow(fmt.Sprintf("inc-%d", page), "2026-01-24T10:00:00Z")}, nil
	}
	if page > len(f.pages) {
		return nil, nil
	}
	return f.pages[page-1], nil
}

func rawRow(id, updatedAt string) incident.RawRecord {
	r := incident.RawRecord{
		"id":            id,
		"incident_info": "Incident " + id,
		"start_dt":      "2026-01-24T08:00:00",
		"longitude":     -114.0719,
		"latitude":      51.0447,
	}
	if updatedAt != "" {
		r[":updated_at"] = updatedAt
	}
	return r
}

func testMeta() bronze.RunMeta {
	return bronze.RunMeta{
		SnapshotID: "20260124203000_daily_incremental_x1y2z3",
		SnapshotTS: time.Date(2026, 1, 24, 20, 30, 0, 0, time.UTC),
		RunType:    "daily",
		QueryName:  "incremental",
	}
}

func TestPuller_TwoPagesThenEmpty(t *testing.T) {
	f := &fakeFetcher{pages: [][]incident.RawRecord{
		{rawRow("a", "2026-01-24T10:00:01Z"), rawRow("b", "2026-01-24T10:00:04Z")},
		{rawRow("c", "2026-01-24T10:00:03Z"), rawRow("d", "2026-01-24T10:00:02Z")},
	}}

	var buf bytes.Buffer
	w := bronze.NewWriter(&buf)

	res, err := NewPuller(f, SkipInvalid).Run(context.Background(), Query{Name: "incremental"}, testMeta(), w, 2, 10)
	require.NoError(t, err)

	// Two full pages plus the terminating empty page.
	assert.Equal(t, []int{1, 2, 3}, f.calls)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, int64(4), res.Rows)
	assert.Equal(t, 4, res.DistinctIncidents)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], `"incident_id":"a"`)

	require.NotNil(t, res.MaxSourceUpdated)
	assert.Equal(t, time.Date(2026, 1, 24, 10, 0, 4, 0, time.UTC), *res.MaxSourceUpdated)
}

func TestPuller_MaxPagesBoundsEndlessSupply(t *testing.T) {
	f := &fakeFetcher{endless: true}

	var buf bytes.Buffer
	res, err := NewPuller(f, SkipInvalid).Run(context.Background(), Query{Name: "incremental"}, testMeta(), bronze.NewWriter(&buf), 1, 2)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, f.calls)
	assert.Equal(t, int64(2), res.Rows)
	assert.Len(t, strings.Split(strings.TrimRight(buf.String(), "\n"), "\n"), 2)
}

func TestPuller_EmptyFirstPage(t *testing.T) {
	f := &fakeFetcher{}

	var buf bytes.Buffer
	res, err := NewPuller(f, SkipInvalid).Run(context.Background(), Query{Name: "incremental"}, testMeta(), bronze.NewWriter(&buf), 10, 10)
	require.NoError(t, err)

	assert.Equal(t, []int{1}, f.calls)
	assert.Equal(t, int64(0), res.Rows)
	assert.Nil(t, res.MaxSourceUpdated)
	assert.Zero(t, buf.Len())
}

func TestPuller_SkipPolicyCountsInvalidRows(t *testing.T) {
	bad := rawRow("bad", "")
	bad["longitude"] = 999.0
	f := &fakeFetcher{pages: [][]incident.RawRecord{
		{rawRow("a", "2026-01-24T10:00:00Z"), bad, rawRow("b", "2026-01-24T10:00:01Z")},
	}}

	var buf bytes.Buffer
	res, err := NewPuller(f, SkipInvalid).Run(context.Background(), Query{Name: "incremental"}, testMeta(), bronze.NewWriter(&buf), 3, 10)
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Rows)
	assert.Equal(t, int64(1), res.Skipped)
	assert.NotContains(t, buf.String(), `"incident_id":"bad"`)
}

func TestPuller_SkipPolicyRejectsNaNCoordinate(t *testing.T) {
	// A NaN coordinate must fail validation and be skipped like any other bad
	// row; it must never reach the NDJSON encoder, which cannot represent it.
	bad := rawRow("bad", "")
	bad["longitude"] = "NaN"
	f := &fakeFetcher{pages: [][]incident.RawRecord{
		{rawRow("a", "2026-01-24T10:00:00Z"), bad, rawRow("b", "2026-01-24T10:00:01Z")},
	}}

	var buf bytes.Buffer
	res, err := NewPuller(f, SkipInvalid).Run(context.Background(), Query{Name: "incremental"}, testMeta(), bronze.NewWriter(&buf), 3, 10)
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Rows)
	assert.Equal(t, int64(1), res.Skipped)
	assert.Contains(t, buf.String(), `"incident_id":"a"`)
	assert.Contains(t, buf.String(), `"incident_id":"b"`)
	assert.NotContains(t, buf.String(), `"incident_id":"bad"`)
}

func TestPuller_FailPolicyAbortsRun(t *testing.T) {
	bad := rawRow("bad", "")
	bad["latitude"] = "nope"
	f := &fakeFetcher{pages: [][]incident.RawRecord{
		{rawRow("a", "2026-01-24T10:00:00Z"), bad},
	}}

	var buf bytes.Buffer
	_, err := NewPuller(f, FailInvalid).Run(context.Background(), Query{Name: "incremental"}, testMeta(), bronze.NewWriter(&buf), 2, 10)
	require.Error(t, err)

	var verr *incident.ValidationError
	assert.ErrorAs(t, err, &verr)
	// The valid row fetched before the failure stays written.
	assert.Contains(t, buf.String(), `"incident_id":"a"`)
}

func TestPuller_TransportErrorAborts(t *testing.T) {
	f := &fakeFetcher{err: fmt.Errorf("boom")}

	var buf bytes.Buffer
	_, err := NewPuller(f, SkipInvalid).Run(context.Background(), Query{Name: "incremental"}, testMeta(), bronze.NewWriter(&buf), 2, 10)
	require.Error(t, err)
	assert.Equal(t, []int{1}, f.calls)
}

func TestPuller_WatermarkIgnoresAbsentValues(t *testing.T) {
	f := &fakeFetcher{pages: [][]incident.RawRecord{
		{rawRow("a", ""), rawRow("b", "2026-01-24T10:00:00Z"), rawRow("c", "")},
	}}

	var buf bytes.Buffer
	res, err := NewPuller(f, SkipInvalid).Run(context.Background(), Query{Name: "incremental"}, testMeta(), bronze.NewWriter(&buf), 3, 10)
	require.NoError(t, err)

	require.NotNil(t, res.MaxSourceUpdated)
	assert.Equal(t, time.Date(2026, 1, 24, 10, 0, 0, 0, time.UTC), *res.MaxSourceUpdated)
}

func TestPuller_InvalidBounds(t *testing.T) {
	var buf bytes.Buffer
	p := NewPuller(&fakeFetcher{}, SkipInvalid)

	_, err := p.Run(context.Background(), Query{}, testMeta(), bronze.NewWriter(&buf), 0, 10)
	require.Error(t, err)
	_, err = p.Run(context.Background(), Query{}, testMeta(), bronze.NewWriter(&buf), 10, 0)
	require.Error(t, err)
}

func TestParseInvalidRowPolicy(t *testing.T) {
	p, err := ParseInvalidRowPolicy("skip")
	require.NoError(t, err)
	assert.Equal(t, SkipInvalid, p)

	p, err = ParseInvalidRowPolicy("fail")
	require.NoError(t, err)
	assert.Equal(t, FailInvalid, p)

	_, err = ParseInvalidRowPolicy("maybe")
	require.Error(t, err)
}
