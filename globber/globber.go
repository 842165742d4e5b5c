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

// Package globber evaluates glob patterns beneath build packages.
//
// Evaluation is structured as nodes in a memoizing dependency graph: glob
// nodes split off one pattern segment at a time and delegate the rest to
// child glob nodes, consulting file-state, directory-listing and
// package-lookup nodes along the way. Repeating a glob with an unchanged
// filesystem touches no files at all, and invalidating the nodes for a
// changed path recomputes only the evaluations that observed it.
//
// Globs never cross package boundaries: a subdirectory containing a build
// file is invisible to globs of enclosing packages, both as a match and as
// a directory to descend into.
package globber

import (
	"context"
	"path"

	"github.com/tomorrowkey/bazel/fs"
	"github.com/tomorrowkey/bazel/graph"
)

// DefaultBuildFileName marks package boundaries unless Config overrides it.
const DefaultBuildFileName = "BUILD"

// Config configures a Globber.
type Config struct {
	// FS is the filesystem to evaluate against. Defaults to fs.OsFs.
	FS fs.FileSystem
	// BuildFileName is the file whose presence makes a directory a
	// package. Defaults to DefaultBuildFileName.
	BuildFileName string
	// AlwaysUseDirListing resolves literal pattern segments through
	// directory listings instead of individual stats, trading broader
	// invalidation for fewer stat dependencies.
	AlwaysUseDirListing bool
}

// Globber evaluates globs and caches every intermediate result in its
// graph. It is safe for concurrent use.
type Globber struct {
	fs                  fs.FileSystem
	buildFile           string
	alwaysUseDirListing bool
	graph               *graph.Graph
}

// New returns a Globber for the given configuration.
func New(config Config) *Globber {
	g := &Globber{
		fs:                  config.FS,
		buildFile:           config.BuildFileName,
		alwaysUseDirListing: config.AlwaysUseDirListing,
	}
	if g.fs == nil {
		g.fs = fs.OsFs
	}
	if g.buildFile == "" {
		g.buildFile = DefaultBuildFileName
	}
	g.graph = graph.New(map[string]graph.Func{
		globFuncName:       g.globFunc,
		fileStateFuncName:  g.fileStateFunc,
		dirListingFuncName: g.dirListingFunc,
		pkgLookupFuncName:  g.pkgLookupFunc,
	})
	return g
}

// Graph exposes the underlying evaluation graph, for invalidation and
// for introspection in tests.
func (g *Globber) Graph() *graph.Graph { return g.graph }

// Glob returns the paths under pkg matching pattern, relative to pkg.
// The package must exist; globbing beneath an unknown package panics.
func (g *Globber) Glob(ctx context.Context, pkg, pattern string, excludeDirs bool) (*Result, error) {
	key, err := NewKey(pkg, pattern, excludeDirs, "")
	if err != nil {
		return nil, err
	}
	return g.Evaluate(ctx, key)
}

// Evaluate returns the matches for a previously constructed key.
func (g *Globber) Evaluate(ctx context.Context, key Key) (*Result, error) {
	v, err := g.graph.Evaluate(ctx, key)
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// IsPackage reports whether the named directory is a package, evaluating
// and caching the package lookup node for it. Callers that receive
// untrusted package names check here before calling Glob.
func (g *Globber) IsPackage(ctx context.Context, p string) (bool, error) {
	v, err := g.graph.Evaluate(ctx, pkgLookupKey{p})
	if err != nil {
		return false, err
	}
	return v.(*pkgLookup).isPackage, nil
}

// InvalidatePath dirties every node that could have observed the named
// path: its own state and listing, its parent's listing, and the
// package lookups on either side of it. Anything below a deleted
// directory is dirtied transitively through the parent-chain edges.
func (g *Globber) InvalidatePath(p string) {
	parent := path.Dir(p)
	keys := []graph.Key{
		fileStateKey{p},
		dirListingKey{p},
		pkgLookupKey{p},
		dirListingKey{parent},
	}
	if path.Base(p) == g.buildFile {
		keys = append(keys, pkgLookupKey{parent})
	}
	g.graph.Invalidate(keys...)
}
