package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/jamesainslie/sift/pkg/sift/types"
)

// PlainFormatter writes an aligned, uncolored table for scripts and pipes.
// With Result.Files set it lists one line per file instead.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)

	if r.Files {
		if _, err := fmt.Fprint(tw, "CATEGORY\tSIZE\tPATH\n"); err != nil {
			return err
		}
		for _, res := range r.Categories() {
			for _, rec := range res.Records {
				if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\n", res.Category, types.FormatSize(rec.Size), rec.Path); err != nil {
					return err
				}
			}
		}
		return tw.Flush()
	}

	if _, err := fmt.Fprint(tw, "CATEGORY\tFILES\tSIZE\n"); err != nil {
		return err
	}
	for _, res := range r.Categories() {
		if _, err := fmt.Fprintf(tw, "%s\t%d\t%s\n", res.Category, res.Count, types.FormatSize(res.TotalSize)); err != nil {
			return err
		}
	}
	if r.Summary != nil {
		if _, err := fmt.Fprintf(tw, "total\t%d\t%s\n", r.Summary.TotalFiles, types.FormatSize(r.Summary.TotalSize)); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

var _ Formatter = (*PlainFormatter)(nil)
