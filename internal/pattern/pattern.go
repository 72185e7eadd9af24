// Package pattern compiles and matches component custom-id patterns.
//
// A pattern is a sequence of segments separated by Delimiter. Each segment is
// either a literal, matched exactly and case-sensitively, or a capture that
// matches any non-empty segment and binds it to a name. Captures are written
// either as :name or as [name]; both forms are equivalent.
//
//	vote_:choice      matches vote_yes      with choice=yes
//	vote_[choice]     matches vote_yes      with choice=yes
//	page_:n_of_:total matches page_2_of_9   with n=2, total=9
//
// Segment counts must be equal for a match; there is no variadic capture.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Delimiter separates segments in both patterns and custom-ids.
const Delimiter = "_"

var captureName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

// Segment is one compiled position of a pattern.
type Segment struct {
	// Literal is the exact text for literal segments.
	Literal string
	// Capture is the bound name for capture segments; empty for literals.
	Capture string
}

// IsCapture reports whether the segment binds a value.
func (s Segment) IsCapture() bool {
	return s.Capture != ""
}

// Pattern is a compiled custom-id pattern. It is immutable and safe for
// concurrent use.
type Pattern struct {
	source   string
	segments []Segment
	captures int
}

// SyntaxError describes a malformed pattern. It always names the pattern.
type SyntaxError struct {
	Pattern string
	Segment int
	Reason  string
}

func (e *SyntaxError) Error() string {
	if e.Segment < 0 {
		return fmt.Sprintf("invalid pattern %q: %s", e.Pattern, e.Reason)
	}
	return fmt.Sprintf("invalid pattern %q: segment %d: %s", e.Pattern, e.Segment+1, e.Reason)
}

// Compile parses a pattern string.
func Compile(source string) (*Pattern, error) {
	if source == "" {
		return nil, &SyntaxError{Pattern: source, Segment: -1, Reason: "pattern is empty"}
	}

	parts := strings.Split(source, Delimiter)
	p := &Pattern{
		source:   source,
		segments: make([]Segment, 0, len(parts)),
	}
	seen := make(map[string]bool, len(parts))

	for i, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return nil, &SyntaxError{Pattern: source, Segment: i, Reason: err.Error()}
		}
		if seg.IsCapture() {
			if seen[seg.Capture] {
				return nil, &SyntaxError{Pattern: source, Segment: i, Reason: fmt.Sprintf("duplicate capture name %q", seg.Capture)}
			}
			seen[seg.Capture] = true
			p.captures++
		}
		p.segments = append(p.segments, seg)
	}

	return p, nil
}

// MustCompile is Compile but panics on error. Intended for tests and
// package-level patterns.
func MustCompile(source string) *Pattern {
	p, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return p
}

func parseSegment(part string) (Segment, error) {
	if part == "" {
		return Segment{}, fmt.Errorf("empty segment")
	}

	var name string
	switch {
	case strings.HasPrefix(part, ":"):
		name = part[1:]
	case strings.HasPrefix(part, "[") && strings.HasSuffix(part, "]"):
		name = part[1 : len(part)-1]
	default:
		if strings.ContainsAny(part, ":[]") {
			return Segment{}, fmt.Errorf("literal %q contains a reserved character", part)
		}
		return Segment{Literal: part}, nil
	}

	if !captureName.MatchString(name) {
		return Segment{}, fmt.Errorf("capture name %q must be a letter followed by letters or digits", name)
	}
	return Segment{Capture: name}, nil
}

// String returns the source text of the pattern.
func (p *Pattern) String() string {
	return p.source
}

// Segments returns a copy of the compiled segments.
func (p *Pattern) Segments() []Segment {
	out := make([]Segment, len(p.segments))
	copy(out, p.segments)
	return out
}

// Captures returns the number of capture segments.
func (p *Pattern) Captures() int {
	return p.captures
}

// IsLiteral reports whether the pattern has no captures.
func (p *Pattern) IsLiteral() bool {
	return p.captures == 0
}

// Names returns capture names in positional order.
func (p *Pattern) Names() []string {
	names := make([]string, 0, p.captures)
	for _, s := range p.segments {
		if s.IsCapture() {
			names = append(names, s.Capture)
		}
	}
	return names
}

// Match matches a custom-id against the pattern and returns the bound
// captures. Literal patterns return an empty, non-nil map on success.
func (p *Pattern) Match(customID string) (map[string]string, bool) {
	parts := strings.Split(customID, Delimiter)
	return p.MatchSegments(parts)
}

// MatchSegments is Match for a custom-id that has already been split on
// Delimiter, which lets a caller split once and try many patterns.
func (p *Pattern) MatchSegments(parts []string) (map[string]string, bool) {
	if len(parts) != len(p.segments) {
		return nil, false
	}

	for i, seg := range p.segments {
		if seg.IsCapture() {
			if parts[i] == "" {
				return nil, false
			}
			continue
		}
		if parts[i] != seg.Literal {
			return nil, false
		}
	}

	params := make(map[string]string, p.captures)
	for i, seg := range p.segments {
		if seg.IsCapture() {
			params[seg.Capture] = parts[i]
		}
	}
	return params, true
}

// Expand renders the pattern with params substituted, producing a custom-id
// that the pattern matches. Missing or empty params, or values containing the
// delimiter, are errors.
func (p *Pattern) Expand(params map[string]string) (string, error) {
	parts := make([]string, len(p.segments))
	for i, seg := range p.segments {
		if !seg.IsCapture() {
			parts[i] = seg.Literal
			continue
		}
		v, ok := params[seg.Capture]
		if !ok || v == "" {
			return "", fmt.Errorf("pattern %q: missing value for %q", p.source, seg.Capture)
		}
		if strings.Contains(v, Delimiter) {
			return "", fmt.Errorf("pattern %q: value for %q contains %q", p.source, seg.Capture, Delimiter)
		}
		parts[i] = v
	}
	return strings.Join(parts, Delimiter), nil
}
