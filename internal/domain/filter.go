package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// patternTimeout bounds a single backtracking match against one post.
const patternTimeout = 2 * time.Second

// Pattern is a case-insensitive text matcher: either a literal substring or
// a regular expression with full search semantics, including lookarounds.
type Pattern struct {
	source  string
	literal string
	re      *regexp2.Regexp
}

// LiteralPattern matches s as a case-insensitive substring.
func LiteralPattern(s string) *Pattern {
	return &Pattern{source: s, literal: strings.ToLower(s)}
}

// CompilePattern compiles expr as a case-insensitive regular expression.
// Independent lookaheads such as (?=.*\bA\b)(?=.*\bB\b) are supported.
func CompilePattern(expr string) (*Pattern, error) {
	re, err := regexp2.Compile(expr, regexp2.IgnoreCase)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, expr, err)
	}
	re.MatchTimeout = patternTimeout
	return &Pattern{source: expr, re: re}, nil
}

// String returns the pattern as written.
func (p *Pattern) String() string {
	if p == nil {
		return ""
	}
	return p.source
}

// IsRegexp reports whether the pattern is a regular expression.
func (p *Pattern) IsRegexp() bool {
	return p != nil && p.re != nil
}

// Match reports whether text matches. A nil pattern matches everything. A
// regular expression that exceeds its match timeout does not match.
func (p *Pattern) Match(text string) bool {
	if p == nil {
		return true
	}
	if p.re == nil {
		return strings.Contains(strings.ToLower(text), p.literal)
	}
	ok, err := p.re.MatchString(text)
	return err == nil && ok
}

// FilterSpec is the immutable acceptance configuration of a run. The zero
// value accepts every row.
type FilterSpec struct {
	pattern     *Pattern
	types       map[ActionType]struct{}
	requireLink bool
}

// NewFilterSpec builds a FilterSpec. A nil pattern, an empty type list and
// requireLink=false each impose no constraint.
func NewFilterSpec(pattern *Pattern, types []ActionType, requireLink bool) FilterSpec {
	spec := FilterSpec{pattern: pattern, requireLink: requireLink}
	if len(types) > 0 {
		spec.types = make(map[ActionType]struct{}, len(types))
		for _, t := range types {
			spec.types[t] = struct{}{}
		}
	}
	return spec
}

// Pattern returns the configured pattern, or nil.
func (s FilterSpec) Pattern() *Pattern { return s.pattern }

// RequireLink reports whether rows must carry an embedded URL.
func (s FilterSpec) RequireLink() bool { return s.requireLink }

// Types returns the allowed action types in taxonomy order, or nil for any.
func (s FilterSpec) Types() []ActionType {
	if s.types == nil {
		return nil
	}
	out := make([]ActionType, 0, len(s.types))
	for _, t := range ActionTypes {
		if _, ok := s.types[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Accept reports whether row passes every constraint in spec. Checks run
// cheapest first: action type, then link presence, then the pattern. The row
// is never modified.
func Accept(row *CanonicalRow, spec FilterSpec) bool {
	if spec.types != nil {
		if _, ok := spec.types[row.ActionType]; !ok {
			return false
		}
	}
	if spec.requireLink && len(row.EmbeddedURLs) == 0 {
		return false
	}
	if spec.pattern != nil && !spec.pattern.Match(str(row.Text)) {
		return false
	}
	return true
}
