// Package match selects job directories by name using include and exclude
// search terms.
//
// A term is either a plain substring ("lattice") or, when it contains glob
// metacharacters, a doublestar pattern matched against the whole name
// ("lattice-*-v[23]").
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates search terms against directory names.
//
// A Matcher is configured with include and exclude terms:
//   - Include terms: name must match at least one (none means all names)
//   - Exclude terms: name must not match any
//
// The Matcher is immutable and safe for concurrent use after creation.
type Matcher struct {
	includes      []term
	excludes      []term
	includeHidden bool
	foldCase      bool
}

// term holds a compiled search term.
type term struct {
	raw  string
	glob bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are terms a name must match (at least one).
	// Optional: if empty, every name is included.
	Includes []string

	// Excludes are terms a name must not match (any).
	// Optional: if empty, no excludes are applied.
	Excludes []string

	// IncludeHidden controls whether names starting with '.' are matched.
	// Default: false (hidden directories are skipped).
	IncludeHidden bool

	// IgnoreCase makes term matching case-insensitive.
	IgnoreCase bool
}

// Errors returned by Matcher operations.
var (
	// ErrEmptyTerm is returned when a term is blank.
	ErrEmptyTerm = errors.New("search term is empty")

	// ErrInvalidPattern is returned when a glob term cannot be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")
)

// PatternError wraps term-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New creates a new Matcher from the given configuration.
//
// Returns an error if any term is blank or is an invalid glob.
func New(cfg Config) (*Matcher, error) {
	includes, err := compile(cfg.Includes, cfg.IgnoreCase)
	if err != nil {
		return nil, err
	}
	excludes, err := compile(cfg.Excludes, cfg.IgnoreCase)
	if err != nil {
		return nil, err
	}

	return &Matcher{
		includes:      includes,
		excludes:      excludes,
		includeHidden: cfg.IncludeHidden,
		foldCase:      cfg.IgnoreCase,
	}, nil
}

// MatchAll returns a Matcher that accepts every non-hidden name.
func MatchAll() *Matcher {
	return &Matcher{}
}

func compile(raw []string, foldCase bool) ([]term, error) {
	terms := make([]term, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			return nil, &PatternError{Pattern: r, Err: ErrEmptyTerm}
		}
		t := term{raw: r, glob: IsGlob(r)}
		if foldCase {
			t.raw = strings.ToLower(r)
		}
		if t.glob && !doublestar.ValidatePattern(t.raw) {
			return nil, &PatternError{Pattern: r, Err: ErrInvalidPattern}
		}
		terms = append(terms, t)
	}
	return terms, nil
}

// Match returns true if the directory name passes the terms.
//
// A name matches if:
//  1. It is not hidden (unless IncludeHidden is true)
//  2. It matches at least one include term, or there are none
//  3. It does not match any exclude term
func (m *Matcher) Match(name string) bool {
	if !m.includeHidden && IsHidden(name) {
		return false
	}
	if m.foldCase {
		name = strings.ToLower(name)
	}

	if len(m.includes) > 0 {
		matched := false
		for _, inc := range m.includes {
			if inc.match(name) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, exc := range m.excludes {
		if exc.match(name) {
			return false
		}
	}
	return true
}

// IncludeTerms returns the include terms as configured.
func (m *Matcher) IncludeTerms() []string {
	return raws(m.includes)
}

// ExcludeTerms returns the exclude terms as configured.
func (m *Matcher) ExcludeTerms() []string {
	return raws(m.excludes)
}

func raws(terms []term) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.raw
	}
	return out
}

func (t term) match(name string) bool {
	if !t.glob {
		return strings.Contains(name, t.raw)
	}
	matched, err := doublestar.Match(t.raw, name)
	if err != nil {
		// Pattern was validated at construction time.
		return false
	}
	return matched
}

// IsGlob reports whether a term contains glob metacharacters.
func IsGlob(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// IsHidden reports whether a directory name is hidden.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
