package metadata

import (
	"strings"

	"github.com/gobwas/glob"
)

// LikeMatcher matches strings against a SQL LIKE pattern.
type LikeMatcher struct {
	g glob.Glob
}

// CompileLike compiles a LIKE pattern: '%' matches any run of characters,
// '_' matches exactly one, and everything else is literal. Matching is
// case-insensitive for ASCII, as in SQLite.
func CompileLike(pattern string) (*LikeMatcher, error) {
	var b strings.Builder
	for _, r := range strings.ToLower(pattern) {
		switch r {
		case '%':
			b.WriteByte('*')
		case '_':
			b.WriteByte('?')
		default:
			b.WriteString(glob.QuoteMeta(string(r)))
		}
	}

	g, err := glob.Compile(b.String())
	if err != nil {
		return nil, err
	}
	return &LikeMatcher{g: g}, nil
}

// Match reports whether s matches the pattern.
func (m *LikeMatcher) Match(s string) bool {
	return m.g.Match(strings.ToLower(s))
}
