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

	"github.com/tomorrowkey/bazel/graph"
)

const (
	globFuncName       = "glob"
	fileStateFuncName  = "file-state"
	dirListingFuncName = "directory-listing"
	pkgLookupFuncName  = "package-lookup"
)

// Key identifies one glob evaluation: a pattern applied beneath a package,
// optionally restricted to a subdirectory of it. Keys are plain comparable
// values; equal inputs produce equal keys.
type Key struct {
	// Package is the path of the package directory the glob is rooted at.
	Package string
	// Subdir restricts the evaluation to the named subdirectory of the
	// package. It is empty for a whole-package glob; recursive evaluation
	// uses non-empty subdirs internally, and all matches it produces are
	// prefixed with it.
	Subdir string
	// Pattern is the glob pattern, relative to Subdir.
	Pattern string
	// ExcludeDirs omits directories from the matches.
	ExcludeDirs bool
}

func (Key) FuncName() string { return globFuncName }

func (k Key) String() string {
	return fmt.Sprintf("glob:%s[%s]/%s excludeDirs=%t", k.Package, k.Subdir, k.Pattern, k.ExcludeDirs)
}

// NewKey builds the key for evaluating pattern beneath pkg, compiling the
// pattern eagerly: a malformed pattern fails here, before any evaluation
// or filesystem access.
func NewKey(pkg, pattern string, excludeDirs bool, subdir string) (Key, error) {
	if _, err := Compile(pattern); err != nil {
		return Key{}, err
	}
	return Key{Package: pkg, Subdir: subdir, Pattern: pattern, ExcludeDirs: excludeDirs}, nil
}

type fileStateKey struct {
	path string
}

func (fileStateKey) FuncName() string { return fileStateFuncName }

func (k fileStateKey) String() string { return "file-state:" + k.path }

type dirListingKey struct {
	path string
}

func (dirListingKey) FuncName() string { return dirListingFuncName }

func (k dirListingKey) String() string { return "directory-listing:" + k.path }

type pkgLookupKey struct {
	path string
}

func (pkgLookupKey) FuncName() string { return pkgLookupFuncName }

func (k pkgLookupKey) String() string { return "package-lookup:" + k.path }

// FileStateKey returns the graph key for the stat of path. Invalidate it
// when the path's existence, type, or symlink target may have changed.
func FileStateKey(path string) graph.Key { return fileStateKey{path} }

// DirListingKey returns the graph key for the listing of the directory at
// path. Invalidate it when entries may have been added or removed.
func DirListingKey(path string) graph.Key { return dirListingKey{path} }

// PackageLookupKey returns the graph key recording whether the directory
// at path is a package. Invalidate it when the package's build file may
// have appeared or disappeared.
func PackageLookupKey(path string) graph.Key { return pkgLookupKey{path} }
