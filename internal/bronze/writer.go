package bronze

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// Writer streams bronze records as newline-delimited JSON: UTF-8, one record
// per line, no trailing content.
type Writer struct {
	enc  *json.Encoder
	rows int64
}

// NewWriter wraps w in a bronze NDJSON writer.
func NewWriter(w io.Writer) *Writer {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Writer{enc: enc}
}

// Write appends one record to the stream. Each record is written exactly once,
// in arrival order.
func (w *Writer) Write(rec Record) error {
	if err := w.enc.Encode(rec); err != nil {
		return eris.Wrap(err, "bronze: encode record")
	}
	w.rows++
	return nil
}

// Rows returns the number of records written so far.
func (w *Writer) Rows() int64 {
	return w.rows
}
