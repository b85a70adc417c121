// Package metadata defines the query interface sift consumes from a file
// metadata index (a platform media store, or sift's own on-disk index) and
// an in-memory implementation of it.
//
// A query names a collection, the columns to project, and an OR-joined
// selection; the source answers with a cursor of rows:
//
//	rows, err := src.Query(ctx, metadata.Files, metadata.AllColumns, sel)
//	if err != nil {
//	    return err
//	}
//	defer rows.Close()
//	for rows.Next() {
//	    size, ok := rows.Row().Int(metadata.Size)
//	    ...
//	}
//	return rows.Err()
package metadata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupportedCollection is returned by a Source that does not expose the
// requested collection.
var ErrUnsupportedCollection = errors.New("collection not supported")

// Collection identifies a content collection within a metadata source.
type Collection int

// Collections known to sift.
const (
	Files Collection = iota
	Images
	Videos
	Audio
	Downloads
)

// String returns the collection name.
func (c Collection) String() string {
	switch c {
	case Files:
		return "files"
	case Images:
		return "images"
	case Videos:
		return "videos"
	case Audio:
		return "audio"
	case Downloads:
		return "downloads"
	default:
		return "collection(" + strconv.Itoa(int(c)) + ")"
	}
}

// Column identifies a metadata field.
type Column int

// Columns exposed by a metadata row.
const (
	ID Column = iota
	DisplayName
	Size
	Data
	DateModified
	MimeType
)

// AllColumns is the projection used by every sift query.
var AllColumns = []Column{ID, DisplayName, Size, Data, DateModified, MimeType}

// String returns the column's name as it appears in selection expressions.
func (c Column) String() string {
	switch c {
	case ID:
		return "_id"
	case DisplayName:
		return "_display_name"
	case Size:
		return "_size"
	case Data:
		return "_data"
	case DateModified:
		return "date_modified"
	case MimeType:
		return "mime_type"
	default:
		return "column(" + strconv.Itoa(int(c)) + ")"
	}
}

// Op is a selection operator.
type Op int

// Selection operators.
const (
	// Like matches a string column against a SQL LIKE pattern.
	Like Op = iota
	// GreaterThan matches an integer column strictly greater than the argument.
	GreaterThan
)

// String returns the operator as written in a selection expression.
func (o Op) String() string {
	switch o {
	case Like:
		return "LIKE"
	case GreaterThan:
		return ">"
	default:
		return "?op"
	}
}

// Clause is a single predicate of a selection.
type Clause struct {
	Column Column
	Op     Op
	Arg    string
}

// Selection is a filter made of OR-joined clauses.
// The zero value selects every row.
type Selection struct {
	Clauses []Clause
}

// AnyLike returns a selection matching rows whose column is LIKE any of the patterns.
func AnyLike(col Column, patterns ...string) Selection {
	sel := Selection{Clauses: make([]Clause, 0, len(patterns))}
	for _, p := range patterns {
		sel.Clauses = append(sel.Clauses, Clause{Column: col, Op: Like, Arg: p})
	}
	return sel
}

// SizeAbove returns a selection matching rows larger than n bytes.
func SizeAbove(n int64) Selection {
	return Selection{Clauses: []Clause{{Column: Size, Op: GreaterThan, Arg: strconv.FormatInt(n, 10)}}}
}

// IsEmpty reports whether the selection has no clauses.
func (s Selection) IsEmpty() bool {
	return len(s.Clauses) == 0
}

// String renders the selection as a parameterized expression,
// e.g. "_display_name LIKE ? OR _display_name LIKE ?".
func (s Selection) String() string {
	parts := make([]string, len(s.Clauses))
	for i, c := range s.Clauses {
		parts[i] = c.Column.String() + " " + c.Op.String() + " ?"
	}
	return strings.Join(parts, " OR ")
}

// Args returns the arguments bound to the expression returned by String.
func (s Selection) Args() []string {
	args := make([]string, len(s.Clauses))
	for i, c := range s.Clauses {
		args[i] = c.Arg
	}
	return args
}

// Predicate reports whether a row satisfies a selection.
type Predicate func(Row) bool

// Compile turns the selection into a predicate that can be evaluated in memory.
func (s Selection) Compile() (Predicate, error) {
	if s.IsEmpty() {
		return func(Row) bool { return true }, nil
	}

	preds := make([]Predicate, 0, len(s.Clauses))
	for _, c := range s.Clauses {
		p, err := compileClause(c)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}

	return func(r Row) bool {
		for _, p := range preds {
			if p(r) {
				return true
			}
		}
		return false
	}, nil
}

func compileClause(c Clause) (Predicate, error) {
	switch c.Op {
	case Like:
		m, err := CompileLike(c.Arg)
		if err != nil {
			return nil, err
		}
		return func(r Row) bool {
			v, ok := r.String(c.Column)
			return ok && m.Match(v)
		}, nil
	case GreaterThan:
		limit, err := strconv.ParseInt(c.Arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("clause %s %s %q: %w", c.Column, c.Op, c.Arg, err)
		}
		return func(r Row) bool {
			v, ok := r.Int(c.Column)
			return ok && v > limit
		}, nil
	default:
		return nil, fmt.Errorf("unsupported operator %d", int(c.Op))
	}
}

// Row is one metadata row. Each accessor reports false when the column is
// absent from the row.
type Row interface {
	Int(col Column) (int64, bool)
	String(col Column) (string, bool)
}

// Rows is a forward-only cursor over query results.
type Rows interface {
	// Next advances to the next row. It returns false when the rows are
	// exhausted or an error occurred.
	Next() bool

	// Row returns the current row.
	Row() Row

	// Err returns the error, if any, encountered during iteration.
	Err() error

	// Close releases the cursor.
	Close() error
}

// Source answers metadata queries.
type Source interface {
	// Query returns the rows of collection that satisfy sel, restricted to the
	// projected columns. It returns ErrUnsupportedCollection when the source
	// has no such collection.
	Query(ctx context.Context, c Collection, projection []Column, sel Selection) (Rows, error)
}
