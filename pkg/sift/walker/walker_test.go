package walker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/sift/pkg/sift/batch"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

func writeFile(t *testing.T, fsys afero.Fs, path string, size int) {
	t.Helper()
	require.NoError(t, fsys.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fsys, path, make([]byte, size), 0o644))
}

func TestWalkPerLevelBatches(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/cache/a.txt", 10)
	writeFile(t, fsys, "/cache/sub/b.png", 20)
	writeFile(t, fsys, "/cache/sub/empty.bin", 0)

	w := &Walker{Lister: &FSLister{Fs: fsys}}

	var got [][]string
	err := w.Walk(context.Background(), "/cache", types.Cache, func(b batch.Batch) {
		var names []string
		for _, r := range b.Records {
			names = append(names, r.Name)
			assert.Equal(t, types.Cache, r.Category)
			assert.Nil(t, r.ID)
		}
		got = append(got, names)
	})

	require.NoError(t, err)
	assert.Equal(t, [][]string{{"b.png"}, {"a.txt"}}, got, "subdirectory flushes before its parent")
}

func TestWalkRecordFields(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/cache/photo.JPG", 42)
	mod := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, fsys.Chtimes("/cache/photo.JPG", mod, mod))

	result := types.NewCategoryResult(types.Cache)
	w := &Walker{Lister: &FSLister{Fs: fsys}}
	require.NoError(t, w.Collect(context.Background(), "/cache", types.Cache, result))

	require.Equal(t, 1, result.Count)
	rec := result.Records[0]
	assert.Equal(t, "photo.JPG", rec.Name)
	assert.Equal(t, "/cache/photo.JPG", rec.Path)
	assert.Equal(t, int64(42), rec.Size)
	assert.Equal(t, mod.UnixMilli(), rec.ModifiedAt)
	assert.Equal(t, "image/jpeg", rec.MimeType)
}

func TestWalkCapacity(t *testing.T) {
	fsys := afero.NewMemMapFs()
	for i := 0; i < 7; i++ {
		writeFile(t, fsys, fmt.Sprintf("/c/f%d", i), 1)
	}

	var sizes []int
	yields := 0
	w := &Walker{Lister: &FSLister{Fs: fsys}, Capacity: 3, Yield: func() { yields++ }}
	require.NoError(t, w.Walk(context.Background(), "/c", types.Cache, func(b batch.Batch) {
		sizes = append(sizes, b.Count)
	}))

	assert.Equal(t, []int{3, 3, 1}, sizes)
	assert.Equal(t, 2, yields)
}

func TestWalkMissingRoot(t *testing.T) {
	w := &Walker{Lister: &FSLister{Fs: afero.NewMemMapFs()}}
	called := false
	err := w.Walk(context.Background(), "/nope", types.Cache, func(batch.Batch) { called = true })
	require.NoError(t, err)
	assert.False(t, called)
}

type fakeLister struct {
	dirs map[string][]Entry
	errs map[string]error
}

func (f *fakeLister) List(path string) ([]Entry, error) {
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	entries, ok := f.dirs[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return entries, nil
}

func TestWalkUnreadableRoot(t *testing.T) {
	w := &Walker{Lister: &fakeLister{errs: map[string]error{"/root": fs.ErrPermission}}}
	err := w.Walk(context.Background(), "/root", types.Cache, func(batch.Batch) {})
	assert.ErrorIs(t, err, fs.ErrPermission)
}

func TestWalkUnreadableSubdirectory(t *testing.T) {
	lister := &fakeLister{
		dirs: map[string][]Entry{
			"/r": {
				{Name: "locked", IsDir: true, AbsPath: "/r/locked"},
				{Name: "ok.txt", Size: 5, AbsPath: "/r/ok.txt"},
			},
		},
		errs: map[string]error{"/r/locked": fs.ErrPermission},
	}

	var reported []string
	w := &Walker{Lister: lister, OnError: func(path string, err error) {
		reported = append(reported, path)
		assert.True(t, errors.Is(err, fs.ErrPermission))
	}}

	result := types.NewCategoryResult(types.Cache)
	require.NoError(t, w.Collect(context.Background(), "/r", types.Cache, result))
	assert.Equal(t, 1, result.Count)
	assert.Equal(t, []string{"/r/locked"}, reported)
}

func TestWalkSkipsSymlinks(t *testing.T) {
	lister := &fakeLister{
		dirs: map[string][]Entry{
			"/r": {
				{Name: "loop", IsDir: true, IsSymlink: true, AbsPath: "/r/loop"},
				{Name: "link.txt", IsSymlink: true, Size: 9, AbsPath: "/r/link.txt"},
				{Name: "real.txt", Size: 3, AbsPath: "/r/real.txt"},
			},
			// Following the link would recurse forever.
			"/r/loop": {{Name: "loop", IsDir: true, AbsPath: "/r/loop"}},
		},
	}

	result := types.NewCategoryResult(types.Cache)
	w := &Walker{Lister: lister}
	require.NoError(t, w.Collect(context.Background(), "/r", types.Cache, result))
	require.Equal(t, 1, result.Count)
	assert.Equal(t, "real.txt", result.Records[0].Name)
}

func TestWalkMaxDepth(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/r/top.txt", 1)
	writeFile(t, fsys, "/r/d1/one.txt", 1)
	writeFile(t, fsys, "/r/d1/d2/two.txt", 1)

	var skipped []string
	w := &Walker{
		Lister:   &FSLister{Fs: fsys},
		MaxDepth: 1,
		OnError: func(path string, err error) {
			assert.ErrorIs(t, err, ErrTooDeep)
			skipped = append(skipped, path)
		},
	}

	result := types.NewCategoryResult(types.Cache)
	require.NoError(t, w.Collect(context.Background(), "/r", types.Cache, result))
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, []string{"/r/d1/d2"}, skipped)
}

func TestWalkCancel(t *testing.T) {
	fsys := afero.NewMemMapFs()
	for i := 0; i < 10; i++ {
		writeFile(t, fsys, fmt.Sprintf("/c/f%02d", i), 1)
	}

	flag := batch.NewFlag()
	calls := 0
	w := &Walker{Lister: &FSLister{Fs: fsys}, Capacity: 2, Flag: flag, Yield: func() {}}
	require.NoError(t, w.Walk(context.Background(), "/c", types.Cache, func(batch.Batch) {
		calls++
		flag.Cancel()
	}))
	assert.Equal(t, 1, calls)

	flag.Cancel()
	calls = 0
	require.NoError(t, w.Walk(context.Background(), "/c", types.Cache, func(batch.Batch) { calls++ }))
	assert.Zero(t, calls, "a cancelled flag stops before the first entry")
}

type recordingLister struct {
	Lister
	listed []string
}

func (r *recordingLister) List(path string) ([]Entry, error) {
	r.listed = append(r.listed, path)
	return r.Lister.List(path)
}

func TestWalkCancelledListsNothing(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/c/a.txt", 1)

	flag := batch.NewFlag()
	flag.Cancel()
	lister := &recordingLister{Lister: &FSLister{Fs: fsys}}
	w := &Walker{Lister: lister, Flag: flag}

	require.NoError(t, w.Walk(context.Background(), "/c", types.Cache, func(batch.Batch) {
		t.Error("no batch expected")
	}))
	assert.Empty(t, lister.listed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Flag = nil
	require.NoError(t, w.Walk(ctx, "/c", types.Cache, func(batch.Batch) {}))
	assert.Empty(t, lister.listed)
}

func TestMimeType(t *testing.T) {
	tests := map[string]string{
		"a.jpg":       "image/jpeg",
		"a.JPEG":      "image/jpeg",
		"a.png":       "image/png",
		"a.gif":       "image/gif",
		"a.mp4":       "video/mp4",
		"a.mp3":       "audio/mp3",
		"a.pdf":       "application/pdf",
		"a.doc":       "application/msword",
		"a.docx":      "application/msword",
		"a.xls":       "application/vnd.ms-excel",
		"a.xlsx":      "application/vnd.ms-excel",
		"a.txt":       "text/plain",
		"a.webp":      types.DefaultMimeType,
		"noextension": types.DefaultMimeType,
	}
	for name, want := range tests {
		assert.Equal(t, want, MimeType(name), name)
	}
}
