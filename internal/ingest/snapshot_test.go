package ingest

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshotID_Pattern(t *testing.T) {
	now := time.Date(2026, 1, 24, 20, 30, 15, 0, time.UTC)
	id, err := NewSnapshotID(now, "weekly", "backfill")
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^\d{14}_weekly_backfill_[a-z0-9]{6}$`)
	assert.Regexp(t, pattern, id)
	assert.True(t, strings.HasPrefix(id, "20260124203015_"))
}

func TestNewSnapshotID_SortableByCreationOrder(t *testing.T) {
	earlier, err := NewSnapshotID(time.Date(2026, 1, 24, 10, 0, 0, 0, time.UTC), "daily", "incremental")
	require.NoError(t, err)
	later, err := NewSnapshotID(time.Date(2026, 1, 24, 10, 0, 1, 0, time.UTC), "daily", "incremental")
	require.NoError(t, err)
	assert.Less(t, earlier, later)
}

func TestNewSnapshotID_UniqueWithinSecond(t *testing.T) {
	now := time.Date(2026, 1, 24, 10, 0, 0, 0, time.UTC)
	seen := make(map[string]struct{})
	for range 100 {
		id, err := NewSnapshotID(now, "daily", "incremental")
		require.NoError(t, err)
		_, dup := seen[id]
		assert.False(t, dup, "duplicate snapshot id %s", id)
		seen[id] = struct{}{}
	}
}

func TestNewSnapshotID_TimestampIsUTC(t *testing.T) {
	loc := time.FixedZone("MST", -7*3600)
	id, err := NewSnapshotID(time.Date(2026, 1, 24, 13, 0, 0, 0, loc), "daily", "incremental")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "20260124200000_"))
}
