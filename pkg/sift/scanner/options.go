// Package scanner runs the category scans in a fixed order, accumulates a
// summary, and reports weighted progress. A scan runs on a worker goroutine
// and is cancelled cooperatively through Cancel or the context.
package scanner

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/jamesainslie/sift/pkg/sift/batch"
	"github.com/jamesainslie/sift/pkg/sift/logging"
	"github.com/jamesainslie/sift/pkg/sift/match"
	"github.com/jamesainslie/sift/pkg/sift/metadata"
	"github.com/jamesainslie/sift/pkg/sift/types"
	"github.com/jamesainslie/sift/pkg/sift/walker"
)

// DefaultPacing is the pause between categories of a progress scan.
const DefaultPacing = 100 * time.Millisecond

// ErrNoSource is returned by Validate when Options.Source is nil.
var ErrNoSource = errors.New("scanner: metadata source is required")

// Options configures a Scanner.
type Options struct {
	// Source answers the metadata queries. Required.
	Source metadata.Source

	// Lister enumerates directories for the cache category.
	// Nil means the host filesystem.
	Lister walker.Lister

	// Match tunes thresholds and cache roots.
	Match match.Options

	// Categories restricts the scan to a subset, kept in scan order.
	// Empty means every category.
	Categories []types.Category

	// BatchSize is the number of records per batch.
	BatchSize int

	// MaxDepth bounds directory recursion.
	MaxDepth int

	// Pacing is the pause between categories of a progress scan.
	// Zero disables it.
	Pacing time.Duration

	// Verify confirms duplicate candidates by content digest.
	Verify bool

	// VerifyWorkers bounds parallel digests. Zero means one per CPU.
	VerifyWorkers int

	// Fs is read when verifying duplicates. Nil means the host filesystem.
	Fs afero.Fs

	// Logger receives scan logs. Nil means logging.Get("scanner").
	Logger *logging.Logger
}

// DefaultOptions returns options with the default thresholds and pacing.
// Source must still be set.
func DefaultOptions() Options {
	return Options{
		Match:     match.DefaultOptions(),
		BatchSize: batch.DefaultCapacity,
		MaxDepth:  walker.DefaultMaxDepth,
		Pacing:    DefaultPacing,
	}
}

// Validate applies defaults and reports options that cannot be used.
func (o *Options) Validate() error {
	if o.Source == nil {
		return ErrNoSource
	}
	if o.Lister == nil {
		o.Lister = walker.NewOSLister()
	}
	if o.BatchSize < 1 {
		o.BatchSize = batch.DefaultCapacity
	}
	if o.MaxDepth < 1 {
		o.MaxDepth = walker.DefaultMaxDepth
	}
	if o.Pacing < 0 {
		o.Pacing = 0
	}
	if o.Logger == nil {
		o.Logger = logging.Get("scanner")
	}

	if len(o.Categories) == 0 {
		o.Categories = types.AllCategories()
		return nil
	}
	want := make(map[types.Category]bool, len(o.Categories))
	for _, c := range o.Categories {
		if !c.Valid() {
			return fmt.Errorf("%w: %d", types.ErrUnknownCategory, int(c))
		}
		want[c] = true
	}
	ordered := make([]types.Category, 0, len(want))
	for _, c := range types.AllCategories() {
		if want[c] {
			ordered = append(ordered, c)
		}
	}
	o.Categories = ordered
	return nil
}
