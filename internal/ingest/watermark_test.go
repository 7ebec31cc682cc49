package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermark_MissingFileIsNotAnError(t *testing.T) {
	w := NewWatermarkStore(filepath.Join(t.TempDir(), "state", "watermark.json"))
	got, err := w.Read()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWatermark_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "watermark.json")
	w := NewWatermarkStore(path)

	ts := time.Date(2026, 1, 24, 21, 11, 5, 0, time.UTC)
	require.NoError(t, w.Write(ts))

	got, err := w.Read()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, ts.Equal(*got))
	assert.Equal(t, time.UTC, got.Location())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last_source_updated_at": "2026-01-24T21:11:05Z"`)
}

func TestWatermark_AcceptsNumericOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"last_source_updated_at": "2026-01-24T14:11:05-07:00"}`), 0o644))

	got, err := NewWatermarkStore(path).Read()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2026, 1, 24, 21, 11, 5, 0, time.UTC), *got)
}

func TestWatermark_EmptyValueMeansNone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"last_source_updated_at": ""}`), 0o644))

	got, err := NewWatermarkStore(path).Read()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWatermark_GarbageFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := NewWatermarkStore(path).Read()
	require.Error(t, err)
}

func TestWatermark_OverwriteAdvancesCursor(t *testing.T) {
	w := NewWatermarkStore(filepath.Join(t.TempDir(), "watermark.json"))

	require.NoError(t, w.Write(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, w.Write(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))

	got, err := w.Read()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), *got)
}
