// Package walker recursively enumerates directories that are not covered by
// a metadata index (application cache directories, for example) and emits
// the same batched records as the batch package.
package walker

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/afero"

	"github.com/jamesainslie/sift/pkg/sift/batch"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// DefaultMaxDepth bounds recursion below the root.
const DefaultMaxDepth = 64

// Entry describes one directory entry.
type Entry struct {
	Name      string
	IsDir     bool
	IsSymlink bool
	Size      int64
	// LastModified is in milliseconds since the epoch.
	LastModified int64
	AbsPath      string
}

// Lister lists the entries of a directory.
type Lister interface {
	List(path string) ([]Entry, error)
}

// FSLister lists directories of an afero filesystem.
type FSLister struct {
	Fs afero.Fs
}

// NewOSLister returns a lister over the host filesystem.
func NewOSLister() *FSLister {
	return &FSLister{Fs: afero.NewOsFs()}
}

// List implements Lister. Entries are returned sorted by name.
func (l *FSLister) List(path string) ([]Entry, error) {
	infos, err := afero.ReadDir(l.Fs, path)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, Entry{
			Name:         info.Name(),
			IsDir:        info.IsDir(),
			IsSymlink:    info.Mode()&os.ModeSymlink != 0,
			Size:         info.Size(),
			LastModified: info.ModTime().UnixMilli(),
			AbsPath:      filepath.Join(path, info.Name()),
		})
	}
	return entries, nil
}

// Walker traverses directory trees depth-first.
type Walker struct {
	// Lister enumerates directories. Nil means the host filesystem.
	Lister Lister

	// Capacity is the number of records per batch. Values < 1 mean batch.DefaultCapacity.
	Capacity int

	// Flag is checked at the start of every directory and before every entry.
	Flag *batch.Flag

	// MaxDepth bounds recursion below the root. Values < 1 mean DefaultMaxDepth.
	MaxDepth int

	// Yield is called after every full batch. Nil means runtime.Gosched.
	Yield func()

	// OnError is told about directories below the root that could not be
	// listed or were skipped. Traversal continues.
	OnError func(path string, err error)
}

// ErrTooDeep is reported through OnError for directories beyond MaxDepth.
var ErrTooDeep = errors.New("maximum directory depth exceeded")

// Walk enumerates root and emits records tagged with cat to sink. Each
// directory flushes its own batches after its subdirectories have been
// walked; there is no merging of batches across levels. Symbolic links are
// never followed.
//
// A root that does not exist yields no records and no error. A root that
// exists but cannot be listed is returned as an error. On cancellation the
// walk stops, flushing the records already gathered at each open level.
func (w *Walker) Walk(ctx context.Context, root string, cat types.Category, sink batch.Sink) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	lister := w.Lister
	if lister == nil {
		lister = NewOSLister()
	}

	if batch.Stopped(ctx, w.Flag) {
		return nil
	}
	entries, err := lister.List(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	w.walkEntries(ctx, lister, entries, 0, cat, sink)
	return nil
}

// walkDir lists dir and walks its entries.
func (w *Walker) walkDir(ctx context.Context, lister Lister, dir string, depth int, cat types.Category, sink batch.Sink) {
	if batch.Stopped(ctx, w.Flag) {
		return
	}

	entries, err := lister.List(dir)
	if err != nil {
		w.report(dir, err)
		return
	}
	w.walkEntries(ctx, lister, entries, depth, cat, sink)
}

func (w *Walker) walkEntries(ctx context.Context, lister Lister, entries []Entry, depth int, cat types.Category, sink batch.Sink) {
	capacity := w.Capacity
	if capacity < 1 {
		capacity = batch.DefaultCapacity
	}
	maxDepth := w.MaxDepth
	if maxDepth < 1 {
		maxDepth = DefaultMaxDepth
	}
	yield := w.Yield
	if yield == nil {
		yield = runtime.Gosched
	}

	cur := batch.Batch{Category: cat}
	for _, e := range entries {
		if batch.Stopped(ctx, w.Flag) {
			break
		}
		if e.IsSymlink {
			continue
		}

		if e.IsDir {
			if depth+1 > maxDepth {
				w.report(e.AbsPath, ErrTooDeep)
				continue
			}
			w.walkDir(ctx, lister, e.AbsPath, depth+1, cat, sink)
			continue
		}

		if e.Size <= 0 || e.AbsPath == "" {
			continue
		}

		cur.Records = append(cur.Records, types.FileRecord{
			Name:       e.Name,
			Size:       e.Size,
			Path:       e.AbsPath,
			ModifiedAt: e.LastModified,
			MimeType:   MimeType(e.Name),
			Category:   cat,
		})
		cur.Count++
		cur.Size += e.Size

		if cur.Count >= capacity {
			sink(cur)
			cur = batch.Batch{Category: cat}
			yield()
		}
	}

	if cur.Count > 0 {
		sink(cur)
	}
}

func (w *Walker) report(path string, err error) {
	if w.OnError != nil {
		w.OnError(path, err)
	}
}

// Collect walks root and accumulates every batch into a single result.
func (w *Walker) Collect(ctx context.Context, root string, cat types.Category, into *types.CategoryResult) error {
	return w.Walk(ctx, root, cat, func(b batch.Batch) {
		into.Merge(b.Records)
	})
}

// MimeType infers a content type from a file name's extension.
func MimeType(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "mp4":
		return "video/mp4"
	case "mp3":
		return "audio/mp3"
	case "pdf":
		return "application/pdf"
	case "doc", "docx":
		return "application/msword"
	case "xls", "xlsx":
		return "application/vnd.ms-excel"
	case "txt":
		return "text/plain"
	default:
		return types.DefaultMimeType
	}
}
