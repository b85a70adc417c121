package metadata

import (
	"context"
	"fmt"
	"sync"
)

// Values is a Row backed by a map. Integer columns hold int64, string
// columns hold string; a column missing from the map is absent.
type Values map[Column]any

// FileRow builds a complete row. modifiedSec is in seconds since the epoch.
func FileRow(id int64, name string, size int64, path string, modifiedSec int64, mime string) Values {
	return Values{
		ID:           id,
		DisplayName:  name,
		Size:         size,
		Data:         path,
		DateModified: modifiedSec,
		MimeType:     mime,
	}
}

// Int implements Row.
func (v Values) Int(col Column) (int64, bool) {
	switch n := v[col].(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// String implements Row.
func (v Values) String(col Column) (string, bool) {
	s, ok := v[col].(string)
	return s, ok
}

// Project returns a copy of v restricted to the given columns.
func (v Values) Project(cols []Column) Values {
	out := make(Values, len(cols))
	for _, c := range cols {
		if val, ok := v[c]; ok {
			out[c] = val
		}
	}
	return out
}

// SliceRows iterates over a fixed slice of rows.
type SliceRows struct {
	rows []Row
	pos  int
	ctx  context.Context
	err  error
}

// NewSliceRows returns a cursor over rows. Iteration stops with the
// context's error if ctx is cancelled.
func NewSliceRows(ctx context.Context, rows []Row) *SliceRows {
	return &SliceRows{rows: rows, pos: -1, ctx: ctx}
}

// Next implements Rows.
func (r *SliceRows) Next() bool {
	if r.err != nil {
		return false
	}
	if err := r.ctx.Err(); err != nil {
		r.err = err
		return false
	}
	r.pos++
	return r.pos < len(r.rows)
}

// Row implements Rows.
func (r *SliceRows) Row() Row {
	return r.rows[r.pos]
}

// Err implements Rows.
func (r *SliceRows) Err() error {
	return r.err
}

// Close implements Rows.
func (r *SliceRows) Close() error {
	return nil
}

// MemorySource is an in-memory Source. It is safe for concurrent use.
type MemorySource struct {
	mu          sync.RWMutex
	collections map[Collection][]Values
	failures    map[Collection]error
	queries     []Query
}

// Query records a query issued against a MemorySource.
type Query struct {
	Collection Collection
	Selection  Selection
}

// NewMemorySource returns an empty source. Collections become supported
// once rows are added to them (or Support is called).
func NewMemorySource() *MemorySource {
	return &MemorySource{
		collections: make(map[Collection][]Values),
		failures:    make(map[Collection]error),
	}
}

// Support registers a collection without adding rows.
func (m *MemorySource) Support(c Collection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[c]; !ok {
		m.collections[c] = nil
	}
}

// Add appends rows to a collection.
func (m *MemorySource) Add(c Collection, rows ...Values) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[c] = append(m.collections[c], rows...)
}

// Fail makes every query against c return err.
func (m *MemorySource) Fail(c Collection, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[c] = err
}

// Queries returns the queries issued so far, in order.
func (m *MemorySource) Queries() []Query {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Query(nil), m.queries...)
}

// Query implements Source.
func (m *MemorySource) Query(ctx context.Context, c Collection, projection []Column, sel Selection) (Rows, error) {
	m.mu.Lock()
	m.queries = append(m.queries, Query{Collection: c, Selection: sel})
	failure := m.failures[c]
	data, supported := m.collections[c]
	m.mu.Unlock()

	if failure != nil {
		return nil, failure
	}
	if !supported {
		return nil, fmt.Errorf("%s: %w", c, ErrUnsupportedCollection)
	}

	match, err := sel.Compile()
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(data))
	for _, v := range data {
		if match(v) {
			rows = append(rows, v.Project(projection))
		}
	}
	return NewSliceRows(ctx, rows), nil
}

var _ Source = (*MemorySource)(nil)
