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
	"context"
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/tomorrowkey/bazel/graph"
)

// fileState describes one path: whether it exists, whether it is a
// symlink, and its resolved type. For a symlink, isDir and isFile describe
// the target; a dangling symlink exists with neither set.
type fileState struct {
	exists    bool
	isSymlink bool
	isDir     bool
	isFile    bool
}

func kindOf(info os.FileInfo) string {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return "symlink"
	case info.IsDir():
		return "directory"
	default:
		return "regular file"
	}
}

type direntType int

const (
	direntFile direntType = iota
	direntDir
	direntSymlink
)

type dirent struct {
	name string
	typ  direntType
}

// dirListing holds one directory's entries, sorted by name.
type dirListing struct {
	dirents []dirent
}

func (l *dirListing) find(name string) (dirent, bool) {
	i := sort.Search(len(l.dirents), func(i int) bool { return l.dirents[i].name >= name })
	if i < len(l.dirents) && l.dirents[i].name == name {
		return l.dirents[i], true
	}
	return dirent{}, false
}

type pkgLookup struct {
	isPackage bool
}

// childType is a directory entry's type after symlink resolution.
type childType int

const (
	// childNone is a nonexistent path or a dangling symlink. It never
	// matches anything.
	childNone childType = iota
	childFile
	childDir
)

// fileStateFunc derives the state of one path. It depends on the parent
// directory's state so that paths inside deleted trees are noticed, and it
// faults if the parent chain and its own stat contradict each other.
func (g *Globber) fileStateFunc(ctx context.Context, key graph.Key, env graph.Env) (graph.Value, error) {
	p := key.(fileStateKey).path
	parentOK := true
	if parent := path.Dir(p); parent != "." && parent != p {
		ps, err := g.statChild(env, parent)
		if err != nil {
			return nil, err
		}
		parentOK = ps.exists && ps.isDir
	}
	info, lerr := g.fs.Lstat(p)
	if lerr != nil && !os.IsNotExist(lerr) {
		return nil, fmt.Errorf("stat %s: %w", p, lerr)
	}
	if !parentOK {
		if lerr == nil {
			return nil, &InconsistentFilesystemError{Detail: fmt.Sprintf(
				"some filesystem operations implied %q was a %s but others made us think it was a nonexistent path",
				p, kindOf(info))}
		}
		return &fileState{}, nil
	}
	if lerr != nil {
		return &fileState{}, nil
	}
	st := &fileState{exists: true}
	switch mode := info.Mode(); {
	case mode&os.ModeSymlink != 0:
		st.isSymlink = true
		tinfo, terr := g.fs.Stat(p)
		if terr == nil {
			st.isDir = tinfo.IsDir()
			st.isFile = !tinfo.IsDir()
		} else if !os.IsNotExist(terr) {
			return nil, fmt.Errorf("stat %s: %w", p, terr)
		}
	case mode.IsDir():
		st.isDir = true
	default:
		st.isFile = true
	}
	return st, nil
}

// dirListingFunc derives the sorted entries of one directory. It depends
// on the directory's own file state; a directory that was expected to
// exist but cannot be listed is an inconsistency, not an empty listing.
func (g *Globber) dirListingFunc(ctx context.Context, key graph.Key, env graph.Env) (graph.Value, error) {
	p := key.(dirListingKey).path
	st, err := g.statChild(env, p)
	if err != nil {
		return nil, err
	}
	if !st.exists || !st.isDir {
		return nil, &InconsistentFilesystemError{Detail: fmt.Sprintf("%q is no longer an existing directory", p)}
	}
	entries, err := g.fs.ReadDir(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &InconsistentFilesystemError{Detail: fmt.Sprintf("%q is no longer an existing directory", p)}
		}
		return nil, fmt.Errorf("reading directory %s: %w", p, err)
	}
	listing := &dirListing{dirents: make([]dirent, 0, len(entries))}
	for _, e := range entries {
		t := direntFile
		switch {
		case e.Type()&os.ModeSymlink != 0:
			t = direntSymlink
		case e.IsDir():
			t = direntDir
		}
		listing.dirents = append(listing.dirents, dirent{name: e.Name(), typ: t})
	}
	return listing, nil
}

// pkgLookupFunc records whether the directory at the key's path is a
// package, that is, whether it contains a build file.
func (g *Globber) pkgLookupFunc(ctx context.Context, key graph.Key, env graph.Env) (graph.Value, error) {
	p := key.(pkgLookupKey).path
	st, err := g.statChild(env, path.Join(p, g.buildFile))
	if err != nil {
		return nil, err
	}
	return &pkgLookup{isPackage: st.exists && st.isFile}, nil
}

// globFunc derives the matches for one glob key by consuming the first
// pattern segment and delegating the rest to child glob nodes. Matching
// never descends into a directory that is itself a package.
func (g *Globber) globFunc(ctx context.Context, gkey graph.Key, env graph.Env) (graph.Value, error) {
	key := gkey.(Key)
	if key.Subdir == "" {
		pkg, err := g.lookupPackage(env, key.Package)
		if err != nil {
			return nil, err
		}
		if !pkg.isPackage {
			panic(fmt.Sprintf("%s isn't an existing package, so globbing beneath it is a caller bug", key.Package))
		}
	}
	pat, err := Compile(key.Pattern)
	if err != nil {
		panic(fmt.Sprintf("glob key holds an invalid pattern: %v", err))
	}
	head := pat.segments[0]
	tail := ""
	if len(pat.segments) > 1 {
		tail = key.Pattern[len(head.Text)+1:]
	}
	dir := path.Join(key.Package, key.Subdir)
	set := make(map[string]bool)

	switch head.Kind {
	case Literal:
		if g.alwaysUseDirListing {
			listing, err := g.listDirectory(env, dir)
			if err != nil {
				return nil, err
			}
			if ent, ok := listing.find(head.Text); ok {
				if err := g.matchDirent(env, key, ent, tail, set); err != nil {
					return nil, err
				}
			}
		} else {
			// A literal segment needs only an existence probe, not a
			// listing of the whole directory.
			st, err := g.statChild(env, path.Join(dir, head.Text))
			if err != nil {
				return nil, err
			}
			if err := g.matchChild(env, key, head.Text, stateChildType(st), tail, set); err != nil {
				return nil, err
			}
		}

	case Wildcard:
		listing, err := g.listDirectory(env, dir)
		if err != nil {
			return nil, err
		}
		for _, ent := range listing.dirents {
			if !matchSegment(head.Text, ent.name) {
				continue
			}
			if err := g.matchDirent(env, key, ent, tail, set); err != nil {
				return nil, err
			}
		}

	case Recursive:
		// Zero-segment expansion: the current directory itself, either as
		// a terminal match or as the root for the remaining pattern.
		if tail == "" {
			if !key.ExcludeDirs {
				set[key.Subdir] = true
			}
		} else {
			if err := g.mergeSubGlob(env, key, key.Subdir, tail, set); err != nil {
				return nil, err
			}
		}
		// One-or-more expansion: files here are terminal ** matches, and
		// every non-package subdirectory continues the same pattern.
		listing, err := g.listDirectory(env, dir)
		if err != nil {
			return nil, err
		}
		for _, ent := range listing.dirents {
			ct, err := g.direntChildType(env, dir, ent)
			if err != nil {
				return nil, err
			}
			switch ct {
			case childFile:
				if tail == "" {
					set[path.Join(key.Subdir, ent.name)] = true
				}
			case childDir:
				child := path.Join(dir, ent.name)
				boundary, err := g.isPackage(env, child)
				if err != nil {
					return nil, err
				}
				if boundary {
					continue
				}
				if err := g.mergeSubGlob(env, key, path.Join(key.Subdir, ent.name), key.Pattern, set); err != nil {
					return nil, err
				}
			}
		}
	}
	return resultFromSet(set), nil
}

// matchDirent resolves a listing entry and feeds it to matchChild.
func (g *Globber) matchDirent(env graph.Env, key Key, ent dirent, tail string, set map[string]bool) error {
	ct, err := g.direntChildType(env, path.Join(key.Package, key.Subdir), ent)
	if err != nil {
		return err
	}
	return g.matchChild(env, key, ent.name, ct, tail, set)
}

// matchChild records a match for one child of the key's directory, or
// recurses into it when pattern segments remain. Directories that are
// packages neither match nor admit recursion.
func (g *Globber) matchChild(env graph.Env, key Key, name string, ct childType, tail string, set map[string]bool) error {
	rel := path.Join(key.Subdir, name)
	switch ct {
	case childFile:
		if tail == "" {
			set[rel] = true
		}
	case childDir:
		if tail == "" && key.ExcludeDirs {
			return nil
		}
		boundary, err := g.isPackage(env, path.Join(key.Package, rel))
		if err != nil {
			return err
		}
		if boundary {
			return nil
		}
		if tail == "" {
			set[rel] = true
			return nil
		}
		return g.mergeSubGlob(env, key, rel, tail, set)
	}
	return nil
}

// direntChildType resolves the type of a listed entry. Symlinks resolve
// through their file state, which cross-checks the listing's claim
// against the stat.
func (g *Globber) direntChildType(env graph.Env, dir string, ent dirent) (childType, error) {
	switch ent.typ {
	case direntDir:
		return childDir, nil
	case direntFile:
		return childFile, nil
	}
	child := path.Join(dir, ent.name)
	st, err := g.statChild(env, child)
	if err != nil {
		return childNone, err
	}
	if !st.isSymlink {
		return childNone, &InconsistentFilesystemError{Detail: fmt.Sprintf(
			"readdir and stat disagree about whether %q is a symlink", child)}
	}
	return stateChildType(st), nil
}

func stateChildType(st *fileState) childType {
	switch {
	case !st.exists:
		return childNone
	case st.isDir:
		return childDir
	case st.isFile:
		return childFile
	default:
		// A dangling symlink.
		return childNone
	}
}

func (g *Globber) mergeSubGlob(env graph.Env, key Key, subdir, pattern string, set map[string]bool) error {
	v, err := env.Get(Key{Package: key.Package, Subdir: subdir, Pattern: pattern, ExcludeDirs: key.ExcludeDirs})
	if err != nil {
		return err
	}
	for _, m := range v.(*Result).Matches() {
		set[m] = true
	}
	return nil
}

func (g *Globber) statChild(env graph.Env, p string) (*fileState, error) {
	v, err := env.Get(fileStateKey{p})
	if err != nil {
		return nil, err
	}
	return v.(*fileState), nil
}

func (g *Globber) listDirectory(env graph.Env, p string) (*dirListing, error) {
	v, err := env.Get(dirListingKey{p})
	if err != nil {
		return nil, err
	}
	return v.(*dirListing), nil
}

func (g *Globber) lookupPackage(env graph.Env, p string) (*pkgLookup, error) {
	v, err := env.Get(pkgLookupKey{p})
	if err != nil {
		return nil, err
	}
	return v.(*pkgLookup), nil
}

func (g *Globber) isPackage(env graph.Env, p string) (bool, error) {
	pkg, err := g.lookupPackage(env, p)
	if err != nil {
		return false, err
	}
	return pkg.isPackage, nil
}
