// Package output renders scan summaries in the formats the CLI offers
// (pretty, plain, json, yaml).
//
// Formatters register themselves by name and are looked up at runtime:
//
//	f, err := output.Get("json")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := f.Format(&buf, &output.Result{Summary: summary}); err != nil {
//	    return err
//	}
package output

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/sift/pkg/sift/logging"
	"github.com/jamesainslie/sift/pkg/sift/types"
	"github.com/jamesainslie/sift/pkg/sift/volume"
)

var logger = logging.Get("output")

// Result is what formatters render.
type Result struct {
	// Summary is the scan outcome. Only categories present in it are shown.
	Summary *types.ScanSummary

	// Source names where the metadata came from, e.g. the index path.
	Source string

	// Volume, when set, describes the filesystem that was scanned.
	Volume *volume.Stats

	// Files lists individual records in text formats. Structured formats
	// always carry them.
	Files bool
}

// Categories returns the summary's results in scan order.
func (r *Result) Categories() []*types.CategoryResult {
	if r.Summary == nil {
		return nil
	}
	var out []*types.CategoryResult
	for _, c := range types.AllCategories() {
		if res, ok := r.Summary.Categories[c]; ok {
			out = append(out, res)
		}
	}
	return out
}

// Formatter renders a Result.
type Formatter interface {
	Format(w *bytes.Buffer, r *Result) error
}

// FormatterFactory creates a Formatter.
type FormatterFactory func() Formatter

// Registry maps names to formatter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]FormatterFactory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns the registered names, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the built-in formatters.
var DefaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns the names in the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}

// Write renders r with the named formatter and copies it to w.
func Write(w io.Writer, name string, r *Result) error {
	f, err := Get(name)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := f.Format(&buf, r); err != nil {
		return fmt.Errorf("format %s: %w", name, err)
	}
	logger.Debug("rendered", "format", name, "bytes", buf.Len())
	_, err = buf.WriteTo(w)
	return err
}

// document is the shape shared by the structured formats.
type document struct {
	ID         string                 `json:"id" yaml:"id"`
	Source     string                 `json:"source,omitempty" yaml:"source,omitempty"`
	StartedAt  time.Time              `json:"startedAt" yaml:"started_at"`
	Elapsed    string                 `json:"elapsed" yaml:"elapsed"`
	Cancelled  bool                   `json:"cancelled" yaml:"cancelled"`
	TotalFiles int                    `json:"totalFiles" yaml:"total_files"`
	TotalSize  int64                  `json:"totalSize" yaml:"total_size"`
	Categories map[string]categoryDoc `json:"categories" yaml:"categories"`
	Warnings   []string               `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Volume     *volume.Stats          `json:"volume,omitempty" yaml:"volume,omitempty"`
}

type categoryDoc struct {
	Count     int                `json:"count" yaml:"count"`
	TotalSize int64              `json:"totalSize" yaml:"total_size"`
	Files     []types.FileRecord `json:"files" yaml:"files"`
}

func buildDocument(r *Result) document {
	doc := document{
		Source:     r.Source,
		Categories: make(map[string]categoryDoc),
		Volume:     r.Volume,
	}
	s := r.Summary
	if s == nil {
		return doc
	}

	doc.ID = s.ID
	doc.StartedAt = s.StartedAt
	doc.Elapsed = s.Elapsed.String()
	doc.Cancelled = s.Cancelled
	doc.TotalFiles = s.TotalFiles
	doc.TotalSize = s.TotalSize
	doc.Warnings = s.Warnings
	for _, res := range r.Categories() {
		files := res.Records
		if files == nil {
			files = []types.FileRecord{}
		}
		doc.Categories[res.Category.String()] = categoryDoc{
			Count:     res.Count,
			TotalSize: res.TotalSize,
			Files:     files,
		}
	}
	return doc
}
