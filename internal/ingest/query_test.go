package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrementalQuery(t *testing.T) {
	since := time.Date(2026, 1, 24, 21, 11, 5, 0, time.UTC)
	q := IncrementalQuery(since)

	assert.Equal(t, "incremental", q.Name)
	assert.Contains(t, q.SOQL, "WHERE :updated_at > '2026-01-24T21:11:05Z'")
	assert.Contains(t, q.SOQL, "ORDER BY :updated_at ASC, :id ASC")
	assert.Contains(t, q.SOQL, "SELECT incident_info, description, start_dt")
}

func TestIncrementalQuery_KeepsSubsecondPrecision(t *testing.T) {
	// A millisecond watermark must not truncate to whole seconds, or the
	// boundary rows inside the truncated second get refetched every run.
	since := time.Date(2026, 1, 24, 21, 11, 5, 833_000_000, time.UTC)
	q := IncrementalQuery(since)
	assert.Contains(t, q.SOQL, "WHERE :updated_at > '2026-01-24T21:11:05.833Z'")
}

func TestIncrementalQuery_NormalizesOffset(t *testing.T) {
	loc := time.FixedZone("MST", -7*3600)
	q := IncrementalQuery(time.Date(2026, 1, 24, 14, 11, 5, 0, loc))
	assert.Contains(t, q.SOQL, "'2026-01-24T21:11:05Z'")
}

func TestBackfillQuery(t *testing.T) {
	q, err := BackfillQuery("2025-12")
	require.NoError(t, err)

	assert.Equal(t, "backfill", q.Name)
	// Floating timestamps: no offset suffix, millisecond precision.
	assert.Contains(t, q.SOQL, "WHERE start_dt >= '2025-12-01T00:00:00.000' AND start_dt < '2026-01-01T00:00:00.000'")
	assert.Contains(t, q.SOQL, "ORDER BY start_dt ASC, :id ASC")
	assert.NotContains(t, q.SOQL, "Z'")
}

func TestBackfillQuery_BadMonth(t *testing.T) {
	_, err := BackfillQuery("December 2025")
	require.Error(t, err)
}

func TestMonthBounds(t *testing.T) {
	tests := []struct {
		month string
		start time.Time
		end   time.Time
	}{
		{"2025-06", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"2025-12", time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2026-01", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.month, func(t *testing.T) {
			start, end, err := MonthBounds(tt.month)
			require.NoError(t, err)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}
}
