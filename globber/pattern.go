// Copyright 2024 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package globber

import (
	"fmt"
	"path"
	"strings"
)

// SegmentKind classifies one pattern segment.
type SegmentKind int

const (
	// Literal matches exactly its text.
	Literal SegmentKind = iota
	// Wildcard matches one path segment; its text contains * or a
	// character class.
	Wildcard
	// Recursive is the ** segment, matching zero or more path segments.
	Recursive
)

// Segment is one slash-separated element of a compiled pattern.
type Segment struct {
	Text string
	Kind SegmentKind
}

// Pattern is a compiled, validated glob pattern.
type Pattern struct {
	text     string
	segments []Segment
}

func (p *Pattern) String() string { return p.text }

// Segments returns the pattern's segments in order.
func (p *Pattern) Segments() []Segment { return p.segments }

// Compile parses and validates a glob pattern. Segments are separated by
// slashes; a segment is a literal name, a wildcard using * and [...]
// character classes, or the recursive wildcard ** standing alone.
// Compile performs no filesystem access, and every malformed pattern is
// rejected here rather than at evaluation time.
func Compile(pattern string) (*Pattern, error) {
	if pattern == "" {
		return nil, &InvalidPatternError{pattern, "pattern cannot be empty"}
	}
	if strings.HasPrefix(pattern, "/") {
		return nil, &InvalidPatternError{pattern, "pattern cannot be absolute"}
	}
	parts := strings.Split(pattern, "/")
	segments := make([]Segment, 0, len(parts))
	for _, part := range parts {
		kind, reason := classifySegment(part)
		if reason != "" {
			return nil, &InvalidPatternError{pattern, reason}
		}
		segments = append(segments, Segment{Text: part, Kind: kind})
	}
	return &Pattern{text: pattern, segments: segments}, nil
}

func classifySegment(seg string) (SegmentKind, string) {
	switch seg {
	case "":
		return 0, "empty segment not permitted"
	case ".", "..":
		return 0, fmt.Sprintf("segment '%s' not permitted", seg)
	case "**":
		return Recursive, ""
	}
	if strings.Contains(seg, "**") {
		return 0, "recursive wildcard must be its own segment"
	}
	for _, c := range seg {
		switch c {
		case '?':
			return 0, "wildcard ? forbidden"
		case '(', ')', '{', '}':
			return 0, fmt.Sprintf("illegal character '%c'", c)
		}
	}
	if _, err := path.Match(seg, ""); err != nil {
		return 0, "syntax error in character class"
	}
	if strings.ContainsAny(seg, "*[") {
		return Wildcard, ""
	}
	return Literal, ""
}

// Matches reports whether a single path segment matches a single-segment
// pattern, using the same dialect as evaluation. Neither argument may
// contain a separator.
func Matches(pattern, name string) bool {
	return matchSegment(pattern, name)
}

// matchSegment matches one directory entry name against one pattern
// segment. Bare * and ** match everything, including hidden names; any
// other pattern matches a hidden name only if it starts with '.' itself.
func matchSegment(pattern, name string) bool {
	if pattern == "" || name == "" {
		return false
	}
	if pattern == "**" || pattern == "*" {
		return true
	}
	if name[0] == '.' && pattern[0] != '.' {
		return false
	}
	// A single leading or trailing * is a plain suffix or prefix test.
	if strings.Count(pattern, "*") == 1 && !strings.ContainsAny(pattern, `[\`) {
		if pattern[0] == '*' {
			return strings.HasSuffix(name, pattern[1:])
		}
		if pattern[len(pattern)-1] == '*' {
			return strings.HasPrefix(name, pattern[:len(pattern)-1])
		}
	}
	matched, err := path.Match(pattern, name)
	return err == nil && matched
}
