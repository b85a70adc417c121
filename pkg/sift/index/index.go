// Package index maintains sift's own file metadata index in Badger and
// answers metadata queries from it, standing in for a platform media store.
//
//	store, err := index.Open(cfg.Index.Path)
//	...
//	idx := index.New(store, index.Options{DownloadsDir: cfg.DownloadsDir})
//	res, err := idx.Build(ctx, root)
//	...
//	s, err := scanner.New(scanner.Options{Source: idx})
package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/h2non/filetype"

	"github.com/jamesainslie/sift/pkg/sift/logging"
	"github.com/jamesainslie/sift/pkg/sift/metadata"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// flushSize is the number of records written per transaction during Build.
const flushSize = 1000

// sniffLen is the header length filetype needs to match every kind it knows.
const sniffLen = 262

// Options configures an Index.
type Options struct {
	// DownloadsDir backs the Downloads collection. Empty leaves the
	// collection unsupported.
	DownloadsDir string
}

// Index is a metadata.Source backed by a Store.
type Index struct {
	store *Store
	opts  Options
	log   *logging.Logger
}

// New returns an index over store.
func New(store *Store, opts Options) *Index {
	if opts.DownloadsDir != "" {
		if abs, err := filepath.Abs(opts.DownloadsDir); err == nil {
			opts.DownloadsDir = abs
		}
	}
	return &Index{store: store, opts: opts, log: logging.Get("index")}
}

// Store returns the underlying store.
func (idx *Index) Store() *Store {
	return idx.store
}

// BuildResult summarizes a Build.
type BuildResult struct {
	Root     string
	Files    int64
	Bytes    int64
	Removed  int
	Skipped  int64
	Duration time.Duration
}

type buildState struct {
	mu      sync.Mutex
	pending []*Record
	seen    map[string]struct{}
	files   atomic.Int64
	bytes   atomic.Int64
	skipped atomic.Int64
}

// Build walks root, upserts a record for every regular file, and removes
// records below root whose files no longer exist. Symbolic links are not
// followed. Unreadable entries are skipped.
func (idx *Index) Build(ctx context.Context, root string) (*BuildResult, error) {
	start := time.Now()
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, err
	}

	st := &buildState{seen: make(map[string]struct{})}
	conf := fastwalk.Config{Follow: false}

	err = fastwalk.Walk(&conf, abs, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			st.skipped.Add(1)
			return nil //nolint:nilerr // keep walking past unreadable entries
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			st.skipped.Add(1)
			return nil //nolint:nilerr // vanished between readdir and stat
		}

		rec := &Record{
			Name:     d.Name(),
			Path:     path,
			Size:     info.Size(),
			ModTime:  info.ModTime().Unix(),
			MimeType: DetectMime(path),
		}
		st.files.Add(1)
		st.bytes.Add(info.Size())
		return idx.queue(st, rec)
	})
	if err != nil {
		return nil, err
	}

	if err := idx.flush(st); err != nil {
		return nil, err
	}

	removed, err := idx.prune(abs, st.seen)
	if err != nil {
		return nil, err
	}

	res := &BuildResult{
		Root:     abs,
		Files:    st.files.Load(),
		Bytes:    st.bytes.Load(),
		Removed:  removed,
		Skipped:  st.skipped.Load(),
		Duration: time.Since(start),
	}
	idx.log.Info("index built", "root", abs, "files", res.Files, "removed", res.Removed,
		"skipped", res.Skipped, "elapsed", res.Duration)
	return res, nil
}

func (idx *Index) queue(st *buildState, rec *Record) error {
	st.mu.Lock()
	st.seen[rec.Path] = struct{}{}
	st.pending = append(st.pending, rec)
	if len(st.pending) < flushSize {
		st.mu.Unlock()
		return nil
	}
	batch := st.pending
	st.pending = nil
	st.mu.Unlock()
	return idx.store.PutBatch(batch)
}

func (idx *Index) flush(st *buildState) error {
	st.mu.Lock()
	batch := st.pending
	st.pending = nil
	st.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	return idx.store.PutBatch(batch)
}

func (idx *Index) prune(root string, seen map[string]struct{}) (int, error) {
	paths, err := idx.store.PathsUnder(root)
	if err != nil {
		return 0, err
	}
	var stale []string
	for _, p := range paths {
		if _, ok := seen[p]; !ok {
			stale = append(stale, p)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	return len(stale), idx.store.DeletePaths(stale)
}

// Upsert indexes a single file. Directories and symbolic links are ignored.
func (idx *Index) Upsert(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return idx.store.Put(&Record{
		Name:     filepath.Base(path),
		Path:     path,
		Size:     info.Size(),
		ModTime:  info.ModTime().Unix(),
		MimeType: DetectMime(path),
	})
}

// Remove drops path and, if it was a directory, everything below it.
func (idx *Index) Remove(path string) (int, error) {
	return idx.store.DeleteTree(path)
}

// DetectMime sniffs the file's header and falls back to its extension.
func DetectMime(path string) string {
	if f, err := os.Open(path); err == nil {
		head := make([]byte, sniffLen)
		n, rerr := io.ReadFull(f, head)
		_ = f.Close()
		if rerr == nil || errors.Is(rerr, io.ErrUnexpectedEOF) {
			if kind, err := filetype.Match(head[:n]); err == nil && kind != filetype.Unknown {
				return kind.MIME.Value
			}
		}
	}

	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		if media, _, err := mime.ParseMediaType(t); err == nil {
			return media
		}
	}
	return types.DefaultMimeType
}

// Query implements metadata.Source. Images, Videos and Audio are the files
// whose content type has that major type; Downloads are the files below
// Options.DownloadsDir; Files is every file. The rows are read from the
// store as the cursor advances, so memory use does not grow with the index.
func (idx *Index) Query(ctx context.Context, c metadata.Collection, projection []metadata.Column, sel metadata.Selection) (metadata.Rows, error) {
	in, err := idx.collection(c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c, err)
	}
	match, err := sel.Compile()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &queryRows{
		ctx:        ctx,
		cur:        idx.store.Cursor(),
		in:         in,
		match:      match,
		projection: projection,
	}, nil
}

// queryRows filters a store cursor into metadata rows.
type queryRows struct {
	ctx        context.Context
	cur        *Cursor
	in         func(*Record) bool
	match      metadata.Predicate
	projection []metadata.Column
	row        metadata.Row
	err        error
}

func (r *queryRows) Next() bool {
	if r.err != nil {
		return false
	}
	for r.cur.Next() {
		if err := r.ctx.Err(); err != nil {
			r.err = err
			return false
		}
		rec := r.cur.Record()
		if !r.in(rec) {
			continue
		}
		v := metadata.FileRow(rec.ID, rec.Name, rec.Size, rec.Path, rec.ModTime, rec.MimeType)
		if r.match(v) {
			r.row = v.Project(r.projection)
			return true
		}
	}
	r.err = r.cur.Err()
	return false
}

func (r *queryRows) Row() metadata.Row {
	return r.row
}

func (r *queryRows) Err() error {
	return r.err
}

func (r *queryRows) Close() error {
	return r.cur.Close()
}

func (idx *Index) collection(c metadata.Collection) (func(*Record) bool, error) {
	switch c {
	case metadata.Files:
		return func(*Record) bool { return true }, nil
	case metadata.Images:
		return majorType("image"), nil
	case metadata.Videos:
		return majorType("video"), nil
	case metadata.Audio:
		return majorType("audio"), nil
	case metadata.Downloads:
		if idx.opts.DownloadsDir == "" {
			return nil, metadata.ErrUnsupportedCollection
		}
		dir := idx.opts.DownloadsDir + sep
		return func(r *Record) bool { return strings.HasPrefix(r.Path, dir) }, nil
	default:
		return nil, metadata.ErrUnsupportedCollection
	}
}

func majorType(major string) func(*Record) bool {
	prefix := major + "/"
	return func(r *Record) bool { return strings.HasPrefix(r.MimeType, prefix) }
}

var _ metadata.Source = (*Index)(nil)
