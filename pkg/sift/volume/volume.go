// Package volume reports capacity figures for the filesystem holding a path.
package volume

import "errors"

// ErrUnsupported is returned on platforms without filesystem statistics.
var ErrUnsupported = errors.New("volume statistics not supported on this platform")

// Stats describes one filesystem.
type Stats struct {
	Path string `json:"path" yaml:"path"`

	// Total is the filesystem size in bytes.
	Total uint64 `json:"total" yaml:"total"`

	// Free is the number of free bytes, including those reserved for root.
	Free uint64 `json:"free" yaml:"free"`

	// Available is the number of bytes an unprivileged user may still write.
	Available uint64 `json:"available" yaml:"available"`
}

// Used returns Total minus Free.
func (s Stats) Used() uint64 {
	if s.Free > s.Total {
		return 0
	}
	return s.Total - s.Free
}

// UsedPercent returns the used share of the filesystem in the range 0-100.
func (s Stats) UsedPercent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Used()) / float64(s.Total) * 100
}
