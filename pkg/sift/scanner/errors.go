package scanner

import (
	"errors"
	"fmt"

	"github.com/jamesainslie/sift/pkg/sift/types"
)

// ErrScanInProgress is returned when a scan is started on a Scanner that is
// already running one.
var ErrScanInProgress = errors.New("scan already in progress")

// ErrorKind classifies a scan failure.
type ErrorKind int

// Error kinds.
const (
	// SourceUnavailable means the metadata source or a directory could not be read.
	SourceUnavailable ErrorKind = iota
	// MalformedRow means a row lacked expected fields. Rows are normally
	// repaired with defaults, so this kind is not expected in practice.
	MalformedRow
	// Internal means the scanner itself is misconfigured.
	Internal
)

func (k ErrorKind) String() string {
	switch k {
	case SourceUnavailable:
		return "source unavailable"
	case MalformedRow:
		return "malformed row"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ScanError is the single error a failed scan reports.
type ScanError struct {
	Kind     ErrorKind
	Category types.Category
	Message  string

	// Partial holds the categories completed before the failure.
	Partial *types.ScanSummary

	Err error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %s: %s", e.Category, e.Kind, e.Message)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

func newScanError(kind ErrorKind, cat types.Category, err error) *ScanError {
	return &ScanError{Kind: kind, Category: cat, Message: err.Error(), Err: err}
}
