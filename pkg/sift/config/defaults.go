// Package config provides configuration management for sift.
package config

import "time"

// Default configuration values.
const (
	// DefaultBatchSize is the number of records per batch.
	DefaultBatchSize = 300

	// DefaultLargeThreshold is the size a file must exceed to count as large.
	DefaultLargeThreshold = "50MiB"

	// DefaultDuplicateFloor is the size a file must exceed to be a duplicate candidate.
	DefaultDuplicateFloor = "10KiB"

	// DefaultPacing is the pause between categories of a progress scan.
	DefaultPacing = 100 * time.Millisecond

	// DefaultMaxDepth bounds directory recursion.
	DefaultMaxDepth = 64

	// DefaultDownloadsDir is the downloads folder exposed by the index.
	DefaultDownloadsDir = "~/Downloads"

	// DefaultIndexRoot is the tree indexed when none is given.
	DefaultIndexRoot = "~"
)
