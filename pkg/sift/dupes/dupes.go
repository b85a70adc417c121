// Package dupes finds duplicate candidates: files sharing both name and size.
//
// Grouping by name and size is a cheap heuristic with false positives. When
// Verify is set, each candidate group is split again by a content digest
// (xxhash over the size and the first and last 64 KiB of the file) before it
// is emitted. The result shape is the same either way.
package dupes

import (
	"context"
	"encoding/binary"
	"io"
	"runtime"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/sift/pkg/sift/batch"
	"github.com/jamesainslie/sift/pkg/sift/metadata"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// DefaultFloor is the size a file must exceed to be considered.
const DefaultFloor = 10 * types.KiB

// ChunkSize is how much of each end of a file is digested during verification.
const ChunkSize = 64 * types.KiB

// Detector groups records by name and size.
type Detector struct {
	// Floor is the size a record must exceed. Values <= 0 mean DefaultFloor.
	Floor int64

	// Processor converts and batches the candidate rows.
	Processor batch.Processor

	// Verify splits candidate groups by content digest.
	Verify bool

	// Fs is read during verification. Nil means the host filesystem.
	Fs afero.Fs

	// Concurrency bounds parallel digests. Values < 1 mean GOMAXPROCS.
	Concurrency int

	// OnError is told about files that could not be digested. They are
	// left out of the result.
	OnError func(path string, err error)
}

// Key returns the grouping key of a record.
func Key(r types.FileRecord) string {
	return r.Name + ":" + strconv.FormatInt(r.Size, 10)
}

// Detect consumes the candidate rows and returns every member of every
// group with two or more members. Groups appear in the order their first
// member was seen and members keep their encounter order.
func (d *Detector) Detect(ctx context.Context, rows metadata.Rows) (*types.CategoryResult, error) {
	floor := d.Floor
	if floor <= 0 {
		floor = DefaultFloor
	}

	var order []string
	groups := make(map[string][]types.FileRecord)

	err := d.Processor.Process(ctx, rows, types.Duplicates, func(b batch.Batch) {
		for _, r := range b.Records {
			if r.Size <= floor {
				continue
			}
			key := Key(r)
			if _, seen := groups[key]; !seen {
				order = append(order, key)
			}
			groups[key] = append(groups[key], r)
		}
	})
	if err != nil {
		return nil, err
	}

	var candidates [][]types.FileRecord
	for _, key := range order {
		if g := groups[key]; len(g) >= 2 {
			candidates = append(candidates, g)
		}
	}

	if d.Verify && len(candidates) > 0 {
		candidates = d.verify(ctx, candidates)
	}

	result := types.NewCategoryResult(types.Duplicates)
	for _, g := range candidates {
		result.Merge(g)
	}
	return result, nil
}

// verify splits each group by digest and keeps the sub-groups that still
// have two or more members. Files not digested before a cancel are left out.
func (d *Detector) verify(ctx context.Context, groups [][]types.FileRecord) [][]types.FileRecord {
	type slot struct {
		sum uint64
		ok  bool
	}
	slots := make([][]slot, len(groups))

	limit := d.Concurrency
	if limit < 1 {
		limit = runtime.GOMAXPROCS(0)
	}
	fsys := d.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	flag := d.Processor.Flag
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for gi, group := range groups {
		slots[gi] = make([]slot, len(group))
		for ri, r := range group {
			if batch.Stopped(gctx, flag) {
				break
			}
			g.Go(func() error {
				if batch.Stopped(gctx, flag) {
					return nil
				}
				sum, err := Digest(fsys, r.Path, r.Size)
				if err != nil {
					if d.OnError != nil {
						d.OnError(r.Path, err)
					}
					return nil
				}
				slots[gi][ri] = slot{sum: sum, ok: true}
				return nil
			})
		}
	}
	_ = g.Wait()

	var out [][]types.FileRecord
	for gi, group := range groups {
		var order []uint64
		split := make(map[uint64][]types.FileRecord)
		for ri, r := range group {
			s := slots[gi][ri]
			if !s.ok {
				continue
			}
			if _, seen := split[s.sum]; !seen {
				order = append(order, s.sum)
			}
			split[s.sum] = append(split[s.sum], r)
		}
		for _, sum := range order {
			if sub := split[sum]; len(sub) >= 2 {
				out = append(out, sub)
			}
		}
	}
	return out
}

// Digest hashes size and the first and last ChunkSize bytes of the file at
// path. Files no larger than two chunks are hashed whole.
func Digest(fsys afero.Fs, path string, size int64) (uint64, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(size))
	_, _ = h.Write(buf[:])

	if size <= 2*ChunkSize {
		if _, err := io.Copy(h, f); err != nil {
			return 0, err
		}
		return h.Sum64(), nil
	}

	if _, err := io.CopyN(h, f, ChunkSize); err != nil {
		return 0, err
	}
	if _, err := f.Seek(-ChunkSize, io.SeekEnd); err != nil {
		return 0, err
	}
	if _, err := io.CopyN(h, f, ChunkSize); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}
