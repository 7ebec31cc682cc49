// Package ingest drives incremental and backfill pulls: snapshot identity,
// query construction, watermark state, and the page loop that streams
// validated rows to the bronze output.
package ingest

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/rotisserie/eris"
)

// snapshotAlphabet is a fixed low-ambiguity alphabet for the random suffix.
// 36^6 combinations make collisions within one second negligible.
const snapshotAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewSnapshotID produces the run identity:
// {UTC timestamp, 14 digits}_{runType}_{queryName}_{6 random chars}.
// Lexicographically sortable by creation order at second granularity.
// Called exactly once per run, before any fetching begins.
func NewSnapshotID(now time.Time, runType, queryName string) (string, error) {
	ts := now.UTC().Format("20060102150405")

	suffix := make([]byte, 6)
	max := big.NewInt(int64(len(snapshotAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", eris.Wrap(err, "ingest: snapshot id randomness")
		}
		suffix[i] = snapshotAlphabet[n.Int64()]
	}

	return ts + "_" + runType + "_" + queryName + "_" + string(suffix), nil
}
