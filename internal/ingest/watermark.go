package ingest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// watermarkState is the persisted cursor file.
type watermarkState struct {
	LastSourceUpdatedAt string `json:"last_source_updated_at"`
}

// WatermarkStore persists the incremental cursor: the maximum source update
// time observed by the most recent successful run that wrote at least one row.
// A missing file is the valid "no prior watermark" state, not an error.
type WatermarkStore struct {
	path string
}

// NewWatermarkStore creates a watermark store at the given file path.
func NewWatermarkStore(path string) *WatermarkStore {
	return &WatermarkStore{path: path}
}

// Read returns the persisted cursor in UTC, or nil if none exists.
// Both 'Z' and numeric-offset forms are accepted.
func (w *WatermarkStore) Read() (*time.Time, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "watermark: read %s", w.path)
	}

	var state watermarkState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, eris.Wrapf(err, "watermark: parse %s", w.path)
	}
	if strings.TrimSpace(state.LastSourceUpdatedAt) == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339Nano, state.LastSourceUpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "watermark: parse timestamp %q", state.LastSourceUpdatedAt)
	}
	u := t.UTC()
	return &u, nil
}

// Write overwrites the cursor. Called only after a run that produced at least
// one row; empty runs leave the prior watermark untouched.
func (w *WatermarkStore) Write(t time.Time) error {
	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "watermark: create dir %s", dir)
		}
	}

	data, err := json.MarshalIndent(watermarkState{
		LastSourceUpdatedAt: t.UTC().Format(time.RFC3339Nano),
	}, "", "  ")
	if err != nil {
		return eris.Wrap(err, "watermark: marshal")
	}
	data = append(data, '\n')

	if err := os.WriteFile(w.path, data, 0o644); err != nil {
		return eris.Wrapf(err, "watermark: write %s", w.path)
	}
	return nil
}
