// Package batch converts metadata rows into file records and delivers them
// in bounded batches, yielding the processor between batches and honouring
// cooperative cancellation at every row.
package batch

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/jamesainslie/sift/pkg/sift/metadata"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// DefaultCapacity is the number of records per batch.
const DefaultCapacity = 300

// Flag is the cooperative cancellation flag shared between a scan and the
// caller that may cancel it. The zero value is inactive; use NewFlag for an
// active flag.
type Flag struct {
	active atomic.Bool
}

// NewFlag returns an active flag.
func NewFlag() *Flag {
	f := &Flag{}
	f.active.Store(true)
	return f
}

// Active reports whether work may continue.
func (f *Flag) Active() bool {
	return f.active.Load()
}

// Activate re-arms the flag.
func (f *Flag) Activate() {
	f.active.Store(true)
}

// Cancel clears the flag. It is idempotent.
func (f *Flag) Cancel() {
	f.active.Store(false)
}

// Stopped reports whether work should stop, either because the flag was
// cancelled or the context is done.
func Stopped(ctx context.Context, f *Flag) bool {
	if f != nil && !f.Active() {
		return true
	}
	return ctx.Err() != nil
}

// Batch is a finished group of records.
type Batch struct {
	Category types.Category
	Records  []types.FileRecord
	Count    int
	Size     int64
}

// Sink receives each flushed batch, in enumeration order.
type Sink func(Batch)

// Processor groups metadata rows into batches.
type Processor struct {
	// Capacity is the number of records per batch. Values < 1 mean DefaultCapacity.
	Capacity int

	// Flag is checked before every row. Nil means never cancelled by flag.
	Flag *Flag

	// Yield is called after every full batch so other goroutines get a turn.
	// Nil means runtime.Gosched.
	Yield func()
}

// Process consumes rows, converts each to a record tagged with cat, and hands
// full batches to sink. A trailing partial batch is flushed when the rows are
// exhausted. If the flag is cancelled or ctx is done, Process stops before
// the next row and returns nil without flushing the pending batch; batches
// already delivered remain valid. The only error returned is one reported by
// rows.Err other than a context error.
func (p *Processor) Process(ctx context.Context, rows metadata.Rows, cat types.Category, sink Sink) error {
	capacity := p.Capacity
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	yield := p.Yield
	if yield == nil {
		yield = runtime.Gosched
	}

	cur := newBatch(cat, capacity)
	for {
		if Stopped(ctx, p.Flag) {
			return nil
		}
		if !rows.Next() {
			break
		}

		rec, ok := Convert(rows.Row(), cat)
		if !ok {
			continue
		}

		cur.Records = append(cur.Records, rec)
		cur.Count++
		cur.Size += rec.Size

		if cur.Count >= capacity {
			sink(cur)
			cur = newBatch(cat, capacity)
			yield()
		}
	}

	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	if cur.Count > 0 {
		sink(cur)
	}
	return nil
}

func newBatch(cat types.Category, capacity int) Batch {
	return Batch{Category: cat, Records: make([]types.FileRecord, 0, capacity)}
}

// Convert turns a metadata row into a record. Absent columns degrade to
// defaults: no id, empty name or path, zero size, the default MIME type and
// a zero timestamp. It reports false for rows that must be dropped (size <= 0
// or empty path).
func Convert(row metadata.Row, cat types.Category) (types.FileRecord, bool) {
	rec := types.FileRecord{Category: cat, MimeType: types.DefaultMimeType}

	if id, ok := row.Int(metadata.ID); ok {
		rec.ID = &id
	}
	rec.Name, _ = row.String(metadata.DisplayName)
	rec.Path, _ = row.String(metadata.Data)
	rec.Size, _ = row.Int(metadata.Size)
	if sec, ok := row.Int(metadata.DateModified); ok {
		rec.ModifiedAt = sec * 1000
	}
	if mime, ok := row.String(metadata.MimeType); ok && mime != "" {
		rec.MimeType = mime
	}

	if rec.Size <= 0 || rec.Path == "" {
		return rec, false
	}
	return rec, true
}

// Collect runs p over rows and accumulates every batch into a single result.
func (p *Processor) Collect(ctx context.Context, rows metadata.Rows, cat types.Category) (*types.CategoryResult, error) {
	result := types.NewCategoryResult(cat)
	err := p.Process(ctx, rows, cat, func(b Batch) {
		result.Merge(b.Records)
	})
	return result, err
}
