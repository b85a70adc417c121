package types

import (
	"errors"
	"fmt"
	"strings"
)

// Category is one of the fixed classification tags applied to scanned files.
type Category int

// Categories in scan order.
const (
	Junk Category = iota
	Cache
	Images
	Videos
	Audio
	Documents
	Downloads
	Large
	Duplicates
	Temporary

	numCategories int = iota
)

// ErrUnknownCategory indicates that a category name could not be parsed.
var ErrUnknownCategory = errors.New("unknown category")

// AllCategories returns every category in the fixed order a full scan visits them.
func AllCategories() []Category {
	cats := make([]Category, 0, numCategories)
	for c := Junk; int(c) < numCategories; c++ {
		cats = append(cats, c)
	}
	return cats
}

// String returns the category's wire name (e.g. "junk", "large").
func (c Category) String() string {
	switch c {
	case Junk:
		return "junk"
	case Cache:
		return "cache"
	case Images:
		return "images"
	case Videos:
		return "videos"
	case Audio:
		return "audio"
	case Documents:
		return "documents"
	case Downloads:
		return "downloads"
	case Large:
		return "large"
	case Duplicates:
		return "duplicates"
	case Temporary:
		return "temporary"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Weight returns the share of overall scan progress, in percent, that the
// category contributes once it completes. Weights across all categories sum to 100.
func (c Category) Weight() float64 {
	switch c {
	case Junk, Cache:
		return 15
	case Images, Videos, Audio, Documents, Large, Duplicates:
		return 10
	case Downloads, Temporary:
		return 5
	default:
		return 0
	}
}

// Valid reports whether c is one of the defined categories.
func (c Category) Valid() bool {
	return c >= Junk && int(c) < numCategories
}

// ParseCategory parses a category name (case-insensitive).
func ParseCategory(s string) (Category, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, c := range AllCategories() {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// MarshalText implements encoding.TextMarshaler so categories serialize by name,
// including as map keys.
func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
