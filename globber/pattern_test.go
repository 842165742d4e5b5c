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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCompileSegments(t *testing.T) {
	testCases := []struct {
		pattern  string
		segments []Segment
	}{
		{"BUILD", []Segment{{"BUILD", Literal}}},
		{"a.b", []Segment{{"a.b", Literal}}},
		{"foo/bar", []Segment{{"foo", Literal}, {"bar", Literal}}},
		{"*", []Segment{{"*", Wildcard}}},
		{"f*o*o", []Segment{{"f*o*o", Wildcard}}},
		{"[ab]c", []Segment{{"[ab]c", Wildcard}}},
		{"**", []Segment{{"**", Recursive}}},
		{"foo/**/ba*", []Segment{{"foo", Literal}, {"**", Recursive}, {"ba*", Wildcard}}},
		{"**/**", []Segment{{"**", Recursive}, {"**", Recursive}}},
	}
	for _, testCase := range testCases {
		pat, err := Compile(testCase.pattern)
		if err != nil {
			t.Errorf("Compile(%q) failed: %v", testCase.pattern, err)
			continue
		}
		if pat.String() != testCase.pattern {
			t.Errorf("Compile(%q).String() = %q", testCase.pattern, pat.String())
		}
		if diff := cmp.Diff(testCase.segments, pat.Segments()); diff != "" {
			t.Errorf("Compile(%q) segments mismatch (-want +got):\n%s", testCase.pattern, diff)
		}
	}
}

func TestCompileErrors(t *testing.T) {
	testCases := []struct {
		pattern string
		reason  string
	}{
		{"", "pattern cannot be empty"},
		{"/foo", "pattern cannot be absolute"},
		{".", "segment '.' not permitted"},
		{"./foo", "segment '.' not permitted"},
		{"foo/./bar", "segment '.' not permitted"},
		{"../foo/bar", "segment '..' not permitted"},
		{"foo/", "empty segment not permitted"},
		{"foo//bar", "empty segment not permitted"},
		{"?", "wildcard ? forbidden"},
		{"fo?", "wildcard ? forbidden"},
		{"(illegal) pattern", "illegal character '('"},
		{"}illegal pattern", "illegal character '}'"},
		{"{a,b}", "illegal character '{'"},
		{"[illegal pattern", "syntax error in character class"},
		{"foo/[", "syntax error in character class"},
		{"foo**bar", "recursive wildcard must be its own segment"},
	}
	for _, testCase := range testCases {
		_, err := Compile(testCase.pattern)
		if err == nil {
			t.Errorf("Compile(%q) unexpectedly succeeded", testCase.pattern)
			continue
		}
		var perr *InvalidPatternError
		if !errors.As(err, &perr) {
			t.Errorf("Compile(%q) returned %T, want *InvalidPatternError", testCase.pattern, err)
			continue
		}
		if perr.Pattern != testCase.pattern || perr.Reason != testCase.reason {
			t.Errorf("Compile(%q) failed with %q, want reason %q", testCase.pattern, err, testCase.reason)
		}
	}
}

func TestCompileRejectsEmbeddedRecursion(t *testing.T) {
	for _, prefix := range []string{"", "*/", "**/", "ba/"} {
		suffix := ("/" + prefix)[:len(prefix)]
		for _, segment := range []string{"**fo", "fo**", "**fo**", "fo**fo", "fo**fo**fo"} {
			for _, pattern := range []string{prefix + segment, segment + suffix} {
				_, err := Compile(pattern)
				if err == nil {
					t.Errorf("Compile(%q) unexpectedly succeeded", pattern)
					continue
				}
				var perr *InvalidPatternError
				if !errors.As(err, &perr) || perr.Reason != "recursive wildcard must be its own segment" {
					t.Errorf("Compile(%q) failed with %v, want the embedded ** rejection", pattern, err)
				}
			}
		}
	}
}

func TestInvalidPatternErrorMessage(t *testing.T) {
	_, err := Compile("?")
	if err == nil {
		t.Fatal("Compile(\"?\") unexpectedly succeeded")
	}
	want := "invalid glob pattern '?': wildcard ? forbidden"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestMatches(t *testing.T) {
	testCases := []struct {
		pattern string
		name    string
		match   bool
	}{
		{"foo", "foo", true},
		{"foo", "food", false},

		// A single leading or trailing star takes the fast paths.
		{"foo*", "foo", true},
		{"foo*", "food", true},
		{"foo*", "fo", false},
		{"*oo", "foo", true},
		{"*oo", "fool", false},

		{"f*o", "foo", true},
		{"f*o", "fol", false},
		{"f*o*o", "foo", true},
		{"*a*b", "CaCb", true},

		// Dots are literal, not regular expression metacharacters.
		{"*a.b*", "a.b", true},
		{"*a.b*", "aab", false},

		{"[ab]c", "ac", true},
		{"[ab]c", "bc", true},
		{"[ab]c", "cc", false},

		// Bare stars match hidden names; any other pattern must name the
		// leading dot itself.
		{"*", ".hidden", true},
		{"**", ".hidden", true},
		{"*.hidden", ".hidden", false},
		{"*.hidden", "..also.hidden", false},
		{"*.hidden", "not.hidden", true},
		{".*", ".hidden", true},

		{"", "foo", false},
		{"foo", "", false},
	}
	for _, testCase := range testCases {
		if got := Matches(testCase.pattern, testCase.name); got != testCase.match {
			t.Errorf("Matches(%q, %q) = %t, want %t", testCase.pattern, testCase.name, got, testCase.match)
		}
	}
}
