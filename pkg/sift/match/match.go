// Package match maps each scan category to the plan that selects its
// candidate files: a metadata query, a directory walk, or a duplicate
// grouping pass.
package match

import (
	"fmt"

	"github.com/adrg/xdg"

	"github.com/jamesainslie/sift/pkg/sift/metadata"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// Defaults for Options.
const (
	DefaultLargeThreshold = 50 * types.MiB
	DefaultDuplicateFloor = 10 * types.KiB
)

// File name patterns, in SQL LIKE syntax.
var (
	JunkPatterns = []string{
		"%.tmp", "%.temp", "%.log", "%.old", "%.bak", "%.part", "%.crdownload",
	}
	DocumentPatterns = []string{
		"%.pdf", "%.doc", "%.docx", "%.xls", "%.xlsx", "%.ppt", "%.pptx", "%.txt", "%.rtf",
	}
	TemporaryPatterns = []string{
		"%~%", "%.tmp%", "%.temp%", "%thumb%", "%.bak%", "%.old%", "%cache%",
	}
)

// DownloadsPathPattern selects downloads by path when the metadata source
// has no downloads collection.
const DownloadsPathPattern = "%/Download/%"

// Kind is how a plan is executed.
type Kind int

// Plan kinds.
const (
	// Query runs a metadata query and batches its rows.
	Query Kind = iota
	// Walk traverses directories.
	Walk
	// Duplicates runs a metadata query and groups the rows by name and size.
	Duplicates
)

func (k Kind) String() string {
	switch k {
	case Query:
		return "query"
	case Walk:
		return "walk"
	case Duplicates:
		return "duplicates"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Plan describes how to find a category's candidate files.
type Plan struct {
	Category   types.Category
	Kind       Kind
	Collection metadata.Collection
	Projection []metadata.Column
	Selection  metadata.Selection

	// Fallback is tried when the source reports the collection unsupported.
	Fallback *Plan

	// Roots are the directories traversed by a Walk plan.
	Roots []string
}

// Options tune the matcher.
type Options struct {
	// LargeThreshold is the size a file must exceed to be large.
	LargeThreshold int64

	// DuplicateFloor is the size a file must exceed to be a duplicate candidate.
	DuplicateFloor int64

	// CacheDirs are walked for the cache category.
	// Empty means the user's XDG cache directory.
	CacheDirs []string
}

// DefaultOptions returns the default matcher options.
func DefaultOptions() Options {
	return Options{
		LargeThreshold: DefaultLargeThreshold,
		DuplicateFloor: DefaultDuplicateFloor,
	}
}

// Matcher builds plans.
type Matcher struct {
	opts Options
}

// New returns a matcher. Non-positive thresholds take their defaults.
func New(opts Options) *Matcher {
	if opts.LargeThreshold <= 0 {
		opts.LargeThreshold = DefaultLargeThreshold
	}
	if opts.DuplicateFloor <= 0 {
		opts.DuplicateFloor = DefaultDuplicateFloor
	}
	if len(opts.CacheDirs) == 0 {
		opts.CacheDirs = []string{xdg.CacheHome}
	}
	return &Matcher{opts: opts}
}

// Options returns the effective options.
func (m *Matcher) Options() Options {
	return m.opts
}

// Plan returns the plan for a category.
func (m *Matcher) Plan(c types.Category) (Plan, error) {
	switch c {
	case types.Junk:
		return queryPlan(c, metadata.Files, metadata.AnyLike(metadata.DisplayName, JunkPatterns...)), nil
	case types.Cache:
		return Plan{
			Category: c,
			Kind:     Walk,
			Roots:    append([]string(nil), m.opts.CacheDirs...),
		}, nil
	case types.Images:
		return queryPlan(c, metadata.Images, metadata.SizeAbove(0)), nil
	case types.Videos:
		return queryPlan(c, metadata.Videos, metadata.SizeAbove(0)), nil
	case types.Audio:
		return queryPlan(c, metadata.Audio, metadata.SizeAbove(0)), nil
	case types.Documents:
		return queryPlan(c, metadata.Files, metadata.AnyLike(metadata.DisplayName, DocumentPatterns...)), nil
	case types.Downloads:
		p := queryPlan(c, metadata.Downloads, metadata.Selection{})
		fallback := queryPlan(c, metadata.Files, metadata.AnyLike(metadata.Data, DownloadsPathPattern))
		p.Fallback = &fallback
		return p, nil
	case types.Large:
		return queryPlan(c, metadata.Files, metadata.SizeAbove(m.opts.LargeThreshold)), nil
	case types.Duplicates:
		p := queryPlan(c, metadata.Files, metadata.SizeAbove(m.opts.DuplicateFloor))
		p.Kind = Duplicates
		return p, nil
	case types.Temporary:
		return queryPlan(c, metadata.Files, metadata.AnyLike(metadata.DisplayName, TemporaryPatterns...)), nil
	default:
		return Plan{}, fmt.Errorf("%w: %d", types.ErrUnknownCategory, int(c))
	}
}

func queryPlan(c types.Category, coll metadata.Collection, sel metadata.Selection) Plan {
	return Plan{
		Category:   c,
		Kind:       Query,
		Collection: coll,
		Projection: metadata.AllColumns,
		Selection:  sel,
	}
}
