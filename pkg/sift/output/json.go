package output

import (
	"bytes"
	"encoding/json"

	"github.com/jamesainslie/sift/pkg/sift/types"
)

// JSONFormatter writes the summary as one indented JSON document.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(buildDocument(r))
}

// ProgressJSON renders a progress event as a single line of JSON.
func ProgressJSON(w *bytes.Buffer, ev types.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	w.Write(data)
	w.WriteByte('\n')
	return nil
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
}

var _ Formatter = (*JSONFormatter)(nil)
