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

// Package glob evaluates batches of glob calls for one package on a
// shared incremental engine and connects the results to a build system:
// a merged file list rewritten only when its contents change, a ninja
// depfile naming every filesystem path the evaluation consulted, and a
// cross-run cache manifest that skips evaluation entirely while nothing
// consulted has changed.
package glob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/blueprint/deptools"
	"github.com/google/blueprint/pathtools"

	"github.com/tomorrowkey/bazel/fs"
	"github.com/tomorrowkey/bazel/globber"
	"github.com/tomorrowkey/bazel/logger"
)

// ArgumentVersion is the version of the bzglob command line argument
// format. It must be incremented whenever the format changes, so that
// command lines written into build files by an older version regenerate
// their outputs instead of failing to parse.
const ArgumentVersion = 1

// IsGlob reports whether the pattern contains any glob metacharacters.
func IsGlob(pattern string) bool {
	return strings.IndexAny(pattern, "*?[") >= 0
}

// Args is a single glob call: one include pattern, the exclude patterns
// subtracted from its matches, and whether directories are dropped from
// the results.
type Args struct {
	Pattern     string
	Excludes    []string
	ExcludeDirs bool
}

// Result is the outcome of one glob call. Matches are relative to the
// package directory and sorted.
type Result struct {
	Args
	Matches []string
}

// Results is the outcome of a batch run.
type Results struct {
	Globs []Result

	// Deps is every filesystem path the evaluation consulted, sorted.
	// A change to any of them can change the matches, so depfiles name
	// them all.
	Deps []string
}

// FileList renders the merged matches of every glob in the batch, one
// per line, sorted and deduplicated.
func (r *Results) FileList() []byte {
	set := make(map[string]bool)
	for _, g := range r.Globs {
		for _, m := range g.Matches {
			set[m] = true
		}
	}
	list := make([]string, 0, len(set))
	for m := range set {
		list = append(list, m)
	}
	sort.Strings(list)
	buf := &bytes.Buffer{}
	for _, m := range list {
		fmt.Fprintln(buf, m)
	}
	return buf.Bytes()
}

// Params configures a Batch.
type Params struct {
	// FS is the filesystem to glob. Defaults to fs.OsFs.
	FS fs.FileSystem
	// BuildFileName is the file whose presence makes a directory a
	// package. Defaults to globber.DefaultBuildFileName.
	BuildFileName string
	// AlwaysUseDirListing is passed through to the engine.
	AlwaysUseDirListing bool
	// Log receives cache diagnostics. Defaults to a discarding logger.
	Log logger.Logger
}

// Batch evaluates glob calls beneath one package. All calls share a
// single engine, so overlapping patterns reuse each other's directory
// listings and file states, and every path the engine consults is
// recorded for depfile writing. A Batch is safe for concurrent use.
type Batch struct {
	pkg string
	fs  fs.FileSystem
	log logger.Logger

	globber *globber.Globber
	rec     *recordingFs

	buildFile  string
	dirListing bool
}

// NewBatch returns a Batch globbing beneath the named package directory.
func NewBatch(pkg string, params Params) *Batch {
	if params.FS == nil {
		params.FS = fs.OsFs
	}
	if params.BuildFileName == "" {
		params.BuildFileName = globber.DefaultBuildFileName
	}
	if params.Log == nil {
		params.Log = logger.New(io.Discard)
	}
	rec := newRecordingFs(params.FS)
	return &Batch{
		pkg: pkg,
		fs:  params.FS,
		log: params.Log,
		globber: globber.New(globber.Config{
			FS:                  rec,
			BuildFileName:       params.BuildFileName,
			AlwaysUseDirListing: params.AlwaysUseDirListing,
		}),
		rec:        rec,
		buildFile:  params.BuildFileName,
		dirListing: params.AlwaysUseDirListing,
	}
}

// Globber exposes the underlying engine, for invalidation by callers
// that watch the filesystem between runs.
func (b *Batch) Globber() *globber.Globber { return b.globber }

// Run evaluates args in order. Exclude patterns are evaluated as globs
// themselves and their matches subtracted, so excludes obey the same
// dialect and package boundaries as includes.
func (b *Batch) Run(ctx context.Context, args []Args) (*Results, error) {
	ok, err := b.globber.IsPackage(ctx, b.pkg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%q isn't an existing package", b.pkg)
	}

	res := &Results{}
	for _, arg := range args {
		matches, err := b.globber.Glob(ctx, b.pkg, arg.Pattern, arg.ExcludeDirs)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", arg.Pattern, err)
		}
		set := make(map[string]bool, matches.Len())
		for _, m := range matches.Matches() {
			set[m] = true
		}
		for _, exclude := range arg.Excludes {
			excluded, err := b.globber.Glob(ctx, b.pkg, exclude, arg.ExcludeDirs)
			if err != nil {
				return nil, fmt.Errorf("glob exclude %q: %w", exclude, err)
			}
			for _, m := range excluded.Matches() {
				delete(set, m)
			}
		}
		kept := make([]string, 0, len(set))
		for m := range set {
			kept = append(kept, m)
		}
		sort.Strings(kept)
		res.Globs = append(res.Globs, Result{Args: arg, Matches: kept})
	}
	res.Deps = b.rec.consulted()
	return res, nil
}

// WriteFileList writes the merged file list to path, leaving the file
// untouched when its contents already match so that restat-aware build
// systems see no change.
func WriteFileList(path string, res *Results) error {
	return pathtools.WriteFileIfChanged(path, res.FileList(), 0666)
}

// WriteDepFile writes a ninja depfile to path declaring every consulted
// filesystem path as a dependency of target.
func WriteDepFile(path, target string, res *Results) error {
	return deptools.WriteDepFile(path, target, res.Deps)
}

// recordingFs wraps a FileSystem and records every path handed to it.
// The engine consults exactly the paths whose changes could change its
// results, so the recorded set is the batch's dependency list.
type recordingFs struct {
	inner fs.FileSystem

	mu    sync.Mutex
	paths map[string]bool
}

var _ fs.FileSystem = (*recordingFs)(nil)

func newRecordingFs(inner fs.FileSystem) *recordingFs {
	return &recordingFs{inner: inner, paths: make(map[string]bool)}
}

func (r *recordingFs) record(name string) {
	r.mu.Lock()
	r.paths[name] = true
	r.mu.Unlock()
}

// consulted returns the recorded paths, sorted.
func (r *recordingFs) consulted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.paths))
	for p := range r.paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (r *recordingFs) Open(name string) (io.ReadCloser, error) {
	r.record(name)
	return r.inner.Open(name)
}

func (r *recordingFs) Lstat(name string) (os.FileInfo, error) {
	r.record(name)
	return r.inner.Lstat(name)
}

func (r *recordingFs) Stat(name string) (os.FileInfo, error) {
	r.record(name)
	return r.inner.Stat(name)
}

func (r *recordingFs) ReadDir(name string) ([]os.DirEntry, error) {
	r.record(name)
	return r.inner.ReadDir(name)
}

func (r *recordingFs) Readlink(name string) (string, error) {
	r.record(name)
	return r.inner.Readlink(name)
}
