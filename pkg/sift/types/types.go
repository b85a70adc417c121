// Package types provides the core data types for the sift storage scanner:
// classified file records, per-category results, scan summaries and progress
// events, along with helpers for parsing and formatting byte sizes.
package types

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// DefaultMimeType is used when a file's content type is unknown.
const DefaultMimeType = "application/octet-stream"

// FileRecord is one classified file.
type FileRecord struct {
	// ID is the stable identifier assigned by the metadata source.
	// It is nil for files found by direct directory traversal.
	ID *int64 `json:"id,omitempty" yaml:"id,omitempty"`

	// Name is the display name of the file.
	Name string `json:"name" yaml:"name"`

	// Size is the file size in bytes.
	Size int64 `json:"size" yaml:"size"`

	// Path is the absolute file-system path.
	Path string `json:"path" yaml:"path"`

	// ModifiedAt is the modification time in milliseconds since the epoch.
	ModifiedAt int64 `json:"date" yaml:"date"`

	// MimeType is a best-effort content type.
	MimeType string `json:"mimeType" yaml:"mime_type"`

	// Category is the tag assigned when the record was created.
	Category Category `json:"category" yaml:"category"`
}

// ModifiedTime returns ModifiedAt as a time.Time.
func (r FileRecord) ModifiedTime() time.Time {
	return time.UnixMilli(r.ModifiedAt)
}

// HumanSize returns the record size formatted with FormatSize.
func (r FileRecord) HumanSize() string {
	return FormatSize(r.Size)
}

// CategoryResult holds the records found for one category.
// Count always equals len(Records) and TotalSize the sum of their sizes,
// provided records are only added through Add and Merge.
type CategoryResult struct {
	Category  Category     `json:"category" yaml:"category"`
	Records   []FileRecord `json:"files" yaml:"files"`
	Count     int          `json:"count" yaml:"count"`
	TotalSize int64        `json:"totalSize" yaml:"total_size"`
}

// NewCategoryResult returns an empty result for the category.
func NewCategoryResult(c Category) *CategoryResult {
	return &CategoryResult{Category: c, Records: []FileRecord{}}
}

// Add appends a record and updates the aggregates.
func (r *CategoryResult) Add(rec FileRecord) {
	r.Records = append(r.Records, rec)
	r.Count++
	r.TotalSize += rec.Size
}

// Merge appends records in order.
func (r *CategoryResult) Merge(records []FileRecord) {
	for _, rec := range records {
		r.Add(rec)
	}
}

// ScanSummary is the value returned by a scan: one result per category plus totals.
type ScanSummary struct {
	// ID identifies the scan run in logs.
	ID string `json:"id" yaml:"id"`

	// Categories maps each scanned category to its result.
	Categories map[Category]*CategoryResult `json:"categories" yaml:"categories"`

	// TotalFiles is the number of records across all categories.
	TotalFiles int `json:"totalFiles" yaml:"total_files"`

	// TotalSize is the byte total across all categories.
	TotalSize int64 `json:"totalSize" yaml:"total_size"`

	// StartedAt is when the scan began.
	StartedAt time.Time `json:"startedAt" yaml:"started_at"`

	// Elapsed is how long the scan ran.
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`

	// Cancelled is set when the scan stopped early because of a cancel request.
	Cancelled bool `json:"cancelled" yaml:"cancelled"`

	// Warnings lists non-fatal problems (unreadable directories and the like).
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// NewScanSummary returns an empty summary.
func NewScanSummary(id string, started time.Time) *ScanSummary {
	return &ScanSummary{
		ID:         id,
		Categories: make(map[Category]*CategoryResult),
		StartedAt:  started,
	}
}

// Add records a category result and updates the totals. A result for a
// category already present replaces it.
func (s *ScanSummary) Add(r *CategoryResult) {
	if prev, ok := s.Categories[r.Category]; ok {
		s.TotalFiles -= prev.Count
		s.TotalSize -= prev.TotalSize
	}
	s.Categories[r.Category] = r
	s.TotalFiles += r.Count
	s.TotalSize += r.TotalSize
}

// Get returns the result for a category, or an empty result if it was not scanned.
func (s *ScanSummary) Get(c Category) *CategoryResult {
	if r, ok := s.Categories[c]; ok {
		return r
	}
	return NewCategoryResult(c)
}

// Status is the state reported by a progress event.
type Status string

// Progress statuses.
const (
	StatusScanning Status = "scanning"
	StatusComplete Status = "complete"
)

// AllCategoriesLabel is the category label used by the terminal progress event.
const AllCategoriesLabel = "all"

// ProgressEvent describes cumulative scan progress.
type ProgressEvent struct {
	// Category is the category name, or AllCategoriesLabel for the final event.
	Category string `json:"category" yaml:"category"`

	// Progress is the cumulative completion percentage (0-100).
	Progress float64 `json:"progress" yaml:"progress"`

	// FilesScanned is the running total of classified files.
	FilesScanned int `json:"filesScanned" yaml:"files_scanned"`

	// TotalSize is the running byte total.
	TotalSize int64 `json:"totalSize" yaml:"total_size"`

	// Status is scanning or complete.
	Status Status `json:"status" yaml:"status"`

	// CategoryFiles is the category's own count; set on complete events only.
	CategoryFiles *int `json:"filesInCategory,omitempty" yaml:"files_in_category,omitempty"`

	// CategorySize is the category's own byte total; set on complete events only.
	CategorySize *int64 `json:"sizeInCategory,omitempty" yaml:"size_in_category,omitempty"`
}

// sizePattern matches size strings like "100M", "2G", "500K", "1.5GB", etc.
var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGT]?(?:i?B)?)\s*$`)

// ErrInvalidSize indicates that the size string could not be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// ErrNegativeSize indicates that a negative size value was provided.
var ErrNegativeSize = errors.New("size cannot be negative")

// ParseSize parses a human-readable size string and returns the size in bytes.
// Suffixes K, M, G and T (optionally followed by B or iB) are binary units;
// "50MB", "50M" and "50MiB" all mean 50*1024*1024.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeSize
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	unit := strings.ToUpper(matches[2])
	unit = strings.TrimSuffix(unit, "IB")
	unit = strings.TrimSuffix(unit, "B")

	var multiplier int64
	switch unit {
	case "":
		multiplier = 1
	case "K":
		multiplier = KiB
	case "M":
		multiplier = MiB
	case "G":
		multiplier = GiB
	case "T":
		multiplier = TiB
	default:
		return 0, fmt.Errorf("%w: unknown suffix %q", ErrInvalidSize, unit)
	}

	return int64(value * float64(multiplier)), nil
}

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count with binary units and one fractional digit:
// the value is divided by 1024 until it drops below 1024 or TB is reached.
//
// Examples:
//   - FormatSize(0) returns "0 B"
//   - FormatSize(1536) returns "1.5 KB"
//   - FormatSize(1073741824) returns "1.0 GB"
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	value := float64(bytes)
	unit := 0
	for value >= 1024 && unit < len(sizeUnits)-1 {
		value /= 1024
		unit++
	}
	return fmt.Sprintf("%.1f %s", value, sizeUnits[unit])
}
