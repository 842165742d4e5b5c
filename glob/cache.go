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

package glob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
)

// manifestVersion is the version of the cache manifest format. Bump it
// when the format changes; manifests with any other version are
// discarded and regenerated.
const manifestVersion = 1

const (
	lockRetries    = 50
	lockRetryDelay = 10 * time.Millisecond
)

// ErrCacheLocked is returned when another process holds the cache lock
// for longer than RunCached is willing to wait.
var ErrCacheLocked = errors.New("glob cache locked by another process")

// CacheParams configures the cross-run cache of a Batch.
type CacheParams struct {
	// Path is the manifest location. Path + ".lock" serves as an
	// advisory lock serializing concurrent regenerations.
	Path string
}

// manifest is the persisted form of a batch run: the glob calls with
// their matches, and a fingerprint of every path the evaluation
// consulted. While the calls and every fingerprint are unchanged, the
// recorded matches are still valid and evaluation can be skipped.
type manifest struct {
	Version    int         `json:"version"`
	BuildID    string      `json:"build_id"`
	Package    string      `json:"package"`
	BuildFile  string      `json:"build_file"`
	DirListing bool        `json:"dir_listing,omitempty"`
	Globs      []globEntry `json:"globs"`
	Deps       []depEntry  `json:"deps"`
}

type globEntry struct {
	Pattern     string   `json:"pattern"`
	Excludes    []string `json:"excludes,omitempty"`
	ExcludeDirs bool     `json:"exclude_dirs,omitempty"`
	Matches     []string `json:"matches,omitempty"`
}

// depEntry records how a consulted path looked when the manifest was
// written. Nonexistent paths are consulted too, the engine probes for
// build files that may not exist, so absence is part of the
// fingerprint.
type depEntry struct {
	Path    string `json:"path"`
	Missing bool   `json:"missing,omitempty"`
	ModTime int64  `json:"mod_time,omitempty"`
	Size    int64  `json:"size,omitempty"`
	Mode    uint32 `json:"mode,omitempty"`
}

// RunCached is Run with a cross-run cache in front. When the manifest
// at cache.Path records the same glob calls and none of the paths the
// producing run consulted have changed, the recorded matches are
// returned without evaluating anything. Otherwise the batch runs and
// the manifest is rewritten.
func (b *Batch) RunCached(ctx context.Context, args []Args, cache CacheParams) (*Results, error) {
	unlock, err := lockCache(cache.Path)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if m, err := readManifest(cache.Path); err != nil {
		if !os.IsNotExist(err) {
			b.log.Verbosef("glob cache %s: %s", cache.Path, err)
		}
	} else if reason := b.staleReason(m, args); reason != "" {
		b.log.Verbosef("glob cache %s: %s", cache.Path, reason)
	} else {
		b.log.Verbosef("glob cache %s: reusing %d globs", cache.Path, len(m.Globs))
		return m.results(), nil
	}

	res, err := b.Run(ctx, args)
	if err != nil {
		return nil, err
	}
	if err := b.writeManifest(cache.Path, res); err != nil {
		return nil, fmt.Errorf("writing glob cache %q: %w", cache.Path, err)
	}
	return res, nil
}

// lockCache takes the advisory lock guarding the manifest. Concurrent
// regenerations of the same output would race each other's reads and
// writes, so they queue here instead.
func lockCache(path string) (func(), error) {
	lock := flock.New(path + ".lock")
	for i := 0; i < lockRetries; i++ {
		locked, err := lock.TryLock()
		if err != nil {
			return nil, err
		}
		if locked {
			return func() { lock.Unlock() }, nil
		}
		time.Sleep(lockRetryDelay)
	}
	return nil, fmt.Errorf("%w: %s", ErrCacheLocked, path)
}

// staleReason explains why the manifest cannot be reused, or returns ""
// when it can.
func (b *Batch) staleReason(m *manifest, args []Args) string {
	if m.Package != b.pkg {
		return fmt.Sprintf("built for package %q, not %q", m.Package, b.pkg)
	}
	if m.BuildFile != b.buildFile {
		return fmt.Sprintf("built with build file name %q, not %q", m.BuildFile, b.buildFile)
	}
	if m.DirListing != b.dirListing {
		return "built in the other directory listing mode"
	}
	if len(m.Globs) != len(args) {
		return "glob arguments changed"
	}
	for i, g := range m.Globs {
		if g.Pattern != args[i].Pattern || g.ExcludeDirs != args[i].ExcludeDirs ||
			!equalStrings(g.Excludes, args[i].Excludes) {
			return "glob arguments changed"
		}
	}
	for _, e := range m.Deps {
		if b.depChanged(e) {
			return fmt.Sprintf("%q changed", e.Path)
		}
	}
	return ""
}

func (b *Batch) depChanged(e depEntry) bool {
	info, err := b.fs.Lstat(e.Path)
	if err != nil {
		return !e.Missing
	}
	if e.Missing {
		return true
	}
	return info.ModTime().UnixNano() != e.ModTime ||
		info.Size() != e.Size ||
		uint32(info.Mode()) != e.Mode
}

func (b *Batch) fingerprint(p string) depEntry {
	info, err := b.fs.Lstat(p)
	if err != nil {
		return depEntry{Path: p, Missing: true}
	}
	return depEntry{
		Path:    p,
		ModTime: info.ModTime().UnixNano(),
		Size:    info.Size(),
		Mode:    uint32(info.Mode()),
	}
}

// results reconstructs a batch outcome from recorded state.
func (m *manifest) results() *Results {
	res := &Results{Deps: make([]string, 0, len(m.Deps))}
	for _, g := range m.Globs {
		res.Globs = append(res.Globs, Result{
			Args:    Args{Pattern: g.Pattern, Excludes: g.Excludes, ExcludeDirs: g.ExcludeDirs},
			Matches: g.Matches,
		})
	}
	for _, e := range m.Deps {
		res.Deps = append(res.Deps, e.Path)
	}
	return res
}

func (b *Batch) writeManifest(path string, res *Results) error {
	m := &manifest{
		Version:    manifestVersion,
		BuildID:    b.globber.Graph().BuildID().String(),
		Package:    b.pkg,
		BuildFile:  b.buildFile,
		DirListing: b.dirListing,
	}
	for _, g := range res.Globs {
		m.Globs = append(m.Globs, globEntry{
			Pattern:     g.Pattern,
			Excludes:    g.Excludes,
			ExcludeDirs: g.ExcludeDirs,
			Matches:     g.Matches,
		})
	}
	for _, p := range res.Deps {
		m.Deps = append(m.Deps, b.fingerprint(p))
	}

	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return err
	}
	buf := &bytes.Buffer{}
	zw := gzip.NewWriter(buf)
	if _, err := zw.Write(data); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return renameio.WriteFile(path, buf.Bytes(), 0666)
}

func readManifest(path string) (*manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer zr.Close()
	var m manifest
	if err := json.NewDecoder(zr).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("manifest version %d, want %d", m.Version, manifestVersion)
	}
	return &m, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
