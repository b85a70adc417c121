package scanner

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/sift/pkg/sift/match"
	"github.com/jamesainslie/sift/pkg/sift/metadata"
	"github.com/jamesainslie/sift/pkg/sift/types"
	"github.com/jamesainslie/sift/pkg/sift/walker"
)

func fixtureSource() *metadata.MemorySource {
	src := metadata.NewMemorySource()
	src.Add(metadata.Files,
		metadata.FileRow(1, "a.tmp", 10, "/data/a.tmp", 1700000000, "text/plain"),
		metadata.FileRow(2, "report.pdf", 100, "/docs/report.pdf", 1700000000, "application/pdf"),
		metadata.FileRow(3, "big.bin", 60*types.MiB, "/data/big.bin", 1700000000, ""),
		metadata.FileRow(4, "x.dat", 20*types.KiB, "/a/x.dat", 1700000000, ""),
		metadata.FileRow(5, "x.dat", 20*types.KiB, "/b/x.dat", 1700000000, ""),
		metadata.FileRow(6, "z.zip", 5, "/storage/Download/z.zip", 1700000000, "application/zip"),
		metadata.FileRow(7, "empty.log", 0, "/data/empty.log", 1700000000, "text/plain"),
	)
	src.Add(metadata.Images, metadata.FileRow(8, "p.jpg", 30, "/pics/p.jpg", 1700000000, "image/jpeg"))
	src.Add(metadata.Videos, metadata.FileRow(9, "v.mp4", 40, "/vids/v.mp4", 1700000000, "video/mp4"))
	src.Add(metadata.Audio, metadata.FileRow(10, "s.mp3", 50, "/music/s.mp3", 1700000000, "audio/mp3"))
	return src
}

func fixtureFs(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/cache/sub", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/cache/c1", make([]byte, 7), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/cache/sub/c2", make([]byte, 8), 0o644))
	return fsys
}

func newTestScanner(t *testing.T, src metadata.Source, mutate ...func(*Options)) *Scanner {
	t.Helper()
	opts := DefaultOptions()
	opts.Source = src
	opts.Lister = &walker.FSLister{Fs: fixtureFs(t)}
	opts.Match.CacheDirs = []string{"/cache"}
	opts.Pacing = 0
	for _, m := range mutate {
		m(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func counts(s *types.ScanSummary) map[types.Category]int {
	out := make(map[types.Category]int)
	for c, r := range s.Categories {
		out[c] = r.Count
	}
	return out
}

func TestScanClassifiesEveryCategory(t *testing.T) {
	s := newTestScanner(t, fixtureSource())

	summary, err := s.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[types.Category]int{
		types.Junk:       1,
		types.Cache:      2,
		types.Images:     1,
		types.Videos:     1,
		types.Audio:      1,
		types.Documents:  1,
		types.Downloads:  1,
		types.Large:      1,
		types.Duplicates: 2,
		types.Temporary:  1,
	}, counts(summary))

	assert.Equal(t, 12, summary.TotalFiles)
	assert.Equal(t, int64(15), summary.Get(types.Cache).TotalSize)
	assert.Equal(t, "/storage/Download/z.zip", summary.Get(types.Downloads).Records[0].Path,
		"downloads falls back to the path filter")
	assert.False(t, summary.Cancelled)
	assert.NotEmpty(t, summary.ID)

	var total int64
	for c, r := range summary.Categories {
		assert.Equal(t, len(r.Records), r.Count, c.String())
		var sum int64
		for _, rec := range r.Records {
			assert.Positive(t, rec.Size, rec.Path)
			assert.NotEmpty(t, rec.Path)
			assert.Equal(t, c, rec.Category)
			sum += rec.Size
		}
		assert.Equal(t, sum, r.TotalSize, c.String())
		total += r.TotalSize
	}
	assert.Equal(t, total, summary.TotalSize)

	junk := summary.Get(types.Junk).Records[0]
	assert.Equal(t, int64(1700000000000), junk.ModifiedAt)
}

func TestScanIsIdempotent(t *testing.T) {
	s := newTestScanner(t, fixtureSource())

	first, err := s.Scan(context.Background())
	require.NoError(t, err)
	second, err := s.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, counts(first), counts(second))
	assert.Equal(t, first.TotalSize, second.TotalSize)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestScanWithProgressEvents(t *testing.T) {
	s := newTestScanner(t, fixtureSource())

	var events []types.ProgressEvent
	summary, err := s.ScanWithProgress(context.Background(), func(ev types.ProgressEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)

	cats := types.AllCategories()
	require.Len(t, events, 2*len(cats)+1)

	last := -1.0
	for i, ev := range events {
		assert.GreaterOrEqual(t, ev.Progress, last, "progress is monotonic")
		last = ev.Progress

		if i == len(events)-1 {
			break
		}
		cat := cats[i/2]
		assert.Equal(t, cat.String(), ev.Category)
		if i%2 == 0 {
			assert.Equal(t, types.StatusScanning, ev.Status)
			assert.Nil(t, ev.CategoryFiles)
		} else {
			assert.Equal(t, types.StatusComplete, ev.Status)
			require.NotNil(t, ev.CategoryFiles)
			require.NotNil(t, ev.CategorySize)
			assert.Equal(t, summary.Get(cat).Count, *ev.CategoryFiles)
			assert.Equal(t, summary.Get(cat).TotalSize, *ev.CategorySize)
		}
	}

	final := events[len(events)-1]
	assert.Equal(t, types.AllCategoriesLabel, final.Category)
	assert.Equal(t, 100.0, final.Progress)
	assert.Equal(t, types.StatusComplete, final.Status)
	assert.Equal(t, summary.TotalFiles, final.FilesScanned)
	assert.Equal(t, summary.TotalSize, final.TotalSize)

	// After junk (15) and cache (15).
	assert.Equal(t, 30.0, events[3].Progress)
}

func TestCancelBeforeScan(t *testing.T) {
	s := newTestScanner(t, fixtureSource())
	s.Cancel()
	s.Cancel()

	var events []types.ProgressEvent
	summary, err := s.ScanWithProgress(context.Background(), func(ev types.ProgressEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, len(events), 1)
	if len(events) == 1 {
		assert.Equal(t, types.Junk.String(), events[0].Category)
		assert.Equal(t, types.StatusScanning, events[0].Status)
	}
	assert.True(t, summary.Cancelled)
	assert.Zero(t, summary.TotalFiles)
	assert.Empty(t, summary.Categories)

	// The flag is re-armed once the cancelled scan returns.
	summary, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Cancelled)
	assert.Equal(t, 12, summary.TotalFiles)
}

type hookSource struct {
	metadata.Source
	onQuery func(metadata.Collection)
}

func (h *hookSource) Query(ctx context.Context, c metadata.Collection, p []metadata.Column, sel metadata.Selection) (metadata.Rows, error) {
	h.onQuery(c)
	return h.Source.Query(ctx, c, p, sel)
}

func TestCancelDuringProgress(t *testing.T) {
	src := &hookSource{Source: fixtureSource()}
	s := newTestScanner(t, src)
	src.onQuery = func(c metadata.Collection) {
		if c == metadata.Images {
			s.Cancel()
		}
	}

	var events []types.ProgressEvent
	summary, err := s.ScanWithProgress(context.Background(), func(ev types.ProgressEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)

	assert.True(t, summary.Cancelled)
	// junk and cache report both events; images starts and is cut off.
	require.Len(t, events, 5)
	last := events[4]
	assert.Equal(t, types.Images.String(), last.Category)
	assert.Equal(t, types.StatusScanning, last.Status)
	assert.Equal(t, 30.0, last.Progress)
	for _, ev := range events {
		assert.NotEqual(t, types.Videos.String(), ev.Category)
		if ev.Category == types.Images.String() {
			assert.Equal(t, types.StatusScanning, ev.Status)
		}
	}

	assert.Len(t, summary.Categories, 2)
	_, ok := summary.Categories[types.Images]
	assert.False(t, ok, "interrupted category is discarded")
	assert.Equal(t, 3, summary.TotalFiles)
}

func TestCancelDuringScanStopsAfterCategory(t *testing.T) {
	src := &hookSource{Source: fixtureSource()}
	s := newTestScanner(t, src)
	var queried []metadata.Collection
	src.onQuery = func(c metadata.Collection) {
		queried = append(queried, c)
		if c == metadata.Images {
			s.Cancel()
		}
	}

	summary, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.NotContains(t, queried, metadata.Videos)
	assert.NotContains(t, summary.Categories, types.Images)
}

func TestLateCancelLatches(t *testing.T) {
	s := newTestScanner(t, fixtureSource())

	// The final event is delivered after the last checkpoint.
	summary, err := s.ScanWithProgress(context.Background(), func(ev types.ProgressEvent) {
		if ev.Category == types.AllCategoriesLabel {
			s.Cancel()
		}
	})
	require.NoError(t, err)
	assert.False(t, summary.Cancelled)

	summary, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Cancelled, "cancel after the last checkpoint carries to the next scan")
	assert.Empty(t, summary.Categories)

	summary, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Cancelled)
}

func TestCancelIdle(t *testing.T) {
	s := newTestScanner(t, fixtureSource())
	assert.NotPanics(t, s.Cancel)
	assert.False(t, s.Running())
}

func TestContextCancel(t *testing.T) {
	s := newTestScanner(t, fixtureSource())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Zero(t, summary.TotalFiles)
}

func TestScanSourceFailure(t *testing.T) {
	src := fixtureSource()
	boom := errors.New("permission revoked")
	src.Fail(metadata.Images, boom)
	s := newTestScanner(t, src)

	var events []types.ProgressEvent
	summary, err := s.ScanWithProgress(context.Background(), func(ev types.ProgressEvent) {
		events = append(events, ev)
	})
	assert.Nil(t, summary)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var se *ScanError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, SourceUnavailable, se.Kind)
	assert.Equal(t, types.Images, se.Category)
	assert.Contains(t, se.Error(), "images")
	require.NotNil(t, se.Partial)
	assert.Equal(t, 3, se.Partial.TotalFiles, "junk and cache completed before the failure")

	// junk and cache (2 events each), then the images scanning event.
	require.Len(t, events, 5)
	assert.Equal(t, types.Images.String(), events[4].Category)

	_, err = s.Scan(context.Background())
	assert.ErrorAs(t, err, &se)
	assert.False(t, s.Running())
}

func TestDownloadsCollection(t *testing.T) {
	src := fixtureSource()
	src.Add(metadata.Downloads, metadata.FileRow(20, "setup.dmg", 900, "/home/u/Downloads/setup.dmg", 0, ""))
	s := newTestScanner(t, src, func(o *Options) { o.Categories = []types.Category{types.Downloads} })

	summary, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Get(types.Downloads).Count)
	assert.Equal(t, "setup.dmg", summary.Get(types.Downloads).Records[0].Name)

	for _, q := range src.Queries() {
		assert.NotEqual(t, "_data LIKE ?", q.Selection.String(), "fallback not used")
	}
}

type listerFunc func(string) ([]walker.Entry, error)

func (f listerFunc) List(path string) ([]walker.Entry, error) { return f(path) }

func TestCacheRootErrors(t *testing.T) {
	only := func(o *Options) { o.Categories = []types.Category{types.Cache} }

	s := newTestScanner(t, fixtureSource(), only, func(o *Options) {
		o.Lister = listerFunc(func(string) ([]walker.Entry, error) { return nil, fs.ErrNotExist })
	})
	summary, err := s.Scan(context.Background())
	require.NoError(t, err, "a missing cache directory is empty, not an error")
	assert.Zero(t, summary.Get(types.Cache).Count)
	assert.Contains(t, summary.Categories, types.Cache)

	s = newTestScanner(t, fixtureSource(), only, func(o *Options) {
		o.Lister = listerFunc(func(string) ([]walker.Entry, error) { return nil, fs.ErrPermission })
	})
	_, err = s.Scan(context.Background())
	var se *ScanError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, SourceUnavailable, se.Kind)
	assert.Equal(t, types.Cache, se.Category)
}

func TestCacheWarnings(t *testing.T) {
	s := newTestScanner(t, fixtureSource(),
		func(o *Options) { o.Categories = []types.Category{types.Cache} },
		func(o *Options) {
			o.Lister = listerFunc(func(path string) ([]walker.Entry, error) {
				if path == "/cache" {
					return []walker.Entry{
						{Name: "locked", IsDir: true, AbsPath: "/cache/locked"},
						{Name: "ok", Size: 3, AbsPath: "/cache/ok"},
					}, nil
				}
				return nil, fs.ErrPermission
			})
		})

	summary, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Get(types.Cache).Count)
	require.Len(t, summary.Warnings, 1)
	assert.Contains(t, summary.Warnings[0], "/cache/locked")
}

func TestCategorySubsetOrder(t *testing.T) {
	s := newTestScanner(t, fixtureSource(), func(o *Options) {
		o.Categories = []types.Category{types.Large, types.Junk, types.Large}
	})

	var names []string
	_, err := s.ScanWithProgress(context.Background(), func(ev types.ProgressEvent) {
		names = append(names, ev.Category)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"junk", "junk", "large", "large", "all"}, names)
}

func TestVerifyDuplicates(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/a/x.dat", make([]byte, 20*types.KiB), 0o644))
	other := make([]byte, 20*types.KiB)
	other[0] = 1
	require.NoError(t, afero.WriteFile(fsys, "/b/x.dat", other, 0o644))

	s := newTestScanner(t, fixtureSource(), func(o *Options) {
		o.Categories = []types.Category{types.Duplicates}
		o.Verify = true
		o.Fs = fsys
	})
	summary, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Get(types.Duplicates).Count, "contents differ")
	assert.Empty(t, summary.Warnings, "single-member groups are never read")
}

type blockingSource struct {
	metadata.Source
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingSource) Query(ctx context.Context, c metadata.Collection, p []metadata.Column, sel metadata.Selection) (metadata.Rows, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.Source.Query(ctx, c, p, sel)
}

func TestConcurrentScanRejected(t *testing.T) {
	src := &blockingSource{
		Source:  fixtureSource(),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newTestScanner(t, src)

	done := make(chan error, 1)
	go func() {
		_, err := s.Scan(context.Background())
		done <- err
	}()

	<-src.started
	assert.True(t, s.Running())
	_, err := s.Scan(context.Background())
	assert.ErrorIs(t, err, ErrScanInProgress)
	_, err = s.ScanWithProgress(context.Background(), nil)
	assert.ErrorIs(t, err, ErrScanInProgress)

	close(src.release)
	require.NoError(t, <-done)
	assert.False(t, s.Running())
}

func TestNewRequiresSource(t *testing.T) {
	_, err := New(DefaultOptions())
	assert.ErrorIs(t, err, ErrNoSource)

	opts := DefaultOptions()
	opts.Source = metadata.NewMemorySource()
	opts.Categories = []types.Category{types.Category(42)}
	_, err = New(opts)
	assert.ErrorIs(t, err, types.ErrUnknownCategory)
}

func TestFormatSize(t *testing.T) {
	tests := map[int64]string{
		0:          "0 B",
		-1:         "0 B",
		1536:       "1.5 KB",
		1572864:    "1.5 MB",
		1073741824: "1.0 GB",
	}
	s := newTestScanner(t, metadata.NewMemorySource())
	for in, want := range tests {
		assert.Equal(t, want, FormatSize(in))
		assert.Equal(t, want, s.FormatSize(in))
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 300, opts.BatchSize)
	assert.Equal(t, DefaultPacing, opts.Pacing)
	assert.Equal(t, match.DefaultLargeThreshold, opts.Match.LargeThreshold)
}
