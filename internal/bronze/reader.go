package bronze

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// maxLineBytes bounds a single NDJSON line. Bronze rows are small; anything
// near this size is corrupt input.
const maxLineBytes = 1 << 20

// ReadAll parses a bronze NDJSON stream with zero tolerance: unknown keys,
// malformed lines, or rows missing required fields reject the whole stream.
// This is the gate in front of the append-only bronze table.
func ReadAll(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var recs []Record
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			return nil, eris.Errorf("bronze: line %d: empty line in stream", line)
		}

		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, eris.Wrapf(err, "bronze: line %d: decode", line)
		}
		if err := validateRecord(&rec); err != nil {
			return nil, eris.Wrapf(err, "bronze: line %d", line)
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "bronze: read stream")
	}
	return recs, nil
}

func validateRecord(rec *Record) error {
	switch {
	case rec.SnapshotID == "":
		return eris.New("missing snapshot_id")
	case rec.SnapshotTS.IsZero():
		return eris.New("missing snapshot_ts")
	case rec.RunType == "":
		return eris.New("missing run_type")
	case rec.QueryName == "":
		return eris.New("missing query_name")
	case rec.IncidentID == "":
		return eris.New("missing incident_id")
	}
	return nil
}
