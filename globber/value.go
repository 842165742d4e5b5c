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
	"sort"
	"strings"
)

// Result is the outcome of one glob evaluation: the set of matching paths
// relative to the package directory. A bare ** matches the package
// directory itself as the empty string. Results are immutable; equality is
// by match set alone, independent of the pattern that produced it.
type Result struct {
	matches []string
}

// ResultOf builds a Result from the given matches, deduplicating and
// sorting them.
func ResultOf(matches ...string) *Result {
	set := make(map[string]bool, len(matches))
	for _, m := range matches {
		set[m] = true
	}
	return resultFromSet(set)
}

func resultFromSet(set map[string]bool) *Result {
	matches := make([]string, 0, len(set))
	for m := range set {
		matches = append(matches, m)
	}
	sort.Strings(matches)
	return &Result{matches: matches}
}

// Matches returns the matched paths in sorted order. Callers must not
// modify the returned slice.
func (r *Result) Matches() []string { return r.matches }

func (r *Result) Len() int { return len(r.matches) }

func (r *Result) Empty() bool { return len(r.matches) == 0 }

// Contains reports whether path is one of the matches.
func (r *Result) Contains(path string) bool {
	i := sort.SearchStrings(r.matches, path)
	return i < len(r.matches) && r.matches[i] == path
}

// Equal reports whether two results matched the same set of paths.
func (r *Result) Equal(other *Result) bool {
	if r == nil || other == nil {
		return r == other
	}
	if len(r.matches) != len(other.matches) {
		return false
	}
	for i, m := range r.matches {
		if other.matches[i] != m {
			return false
		}
	}
	return true
}

func (r *Result) String() string {
	return "[" + strings.Join(r.matches, ", ") + "]"
}
