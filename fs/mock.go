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

package fs

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

var _ FileSystem = (*MockFs)(nil)

var (
	errNotDir       = errors.New("not a directory")
	errNotEmpty     = errors.New("directory not empty")
	errTooManyLinks = errors.New("too many levels of symbolic links")
)

// maxLinkHops bounds symlink resolution, like the kernel's ELOOP limit.
const maxLinkHops = 40

// Clock provides the timestamps a MockFs stamps onto its entries. Each
// mutation advances it by one second so modification times are distinct.
type Clock struct {
	time time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{time: t}
}

func (c *Clock) Tick() time.Time {
	c.time = c.time.Add(time.Second)
	return c.time
}

func (c *Clock) Time() time.Time {
	return c.time
}

// MockFs is an in-memory FileSystem for tests. It supports directories,
// regular files and symlinks, allows injecting per-path errors, and records
// the stat and readdir calls made against it.
type MockFs struct {
	mu sync.Mutex

	files    map[string][]byte
	dirs     map[string]bool
	symlinks map[string]string
	modTimes map[string]time.Time

	readErrs    map[string]error
	statErrs    map[string]error
	direntTypes map[string]os.FileMode

	statCalls    []string
	readDirCalls []string

	Clock *Clock
}

// NewMockFs returns a MockFs containing the given files and every directory
// needed to hold them.
func NewMockFs(files map[string][]byte) *MockFs {
	m := &MockFs{
		files:       make(map[string][]byte),
		dirs:        map[string]bool{".": true},
		symlinks:    make(map[string]string),
		modTimes:    make(map[string]time.Time),
		readErrs:    make(map[string]error),
		statErrs:    make(map[string]error),
		direntTypes: make(map[string]os.FileMode),
		Clock:       NewClock(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	m.modTimes["."] = m.Clock.Time()
	for f, b := range files {
		if err := m.MkDirs(path.Dir(f)); err != nil {
			panic(err)
		}
		if err := m.WriteFile(f, b, 0644); err != nil {
			panic(err)
		}
	}
	return m
}

func clean(name string) string {
	name = path.Clean(strings.TrimPrefix(name, "/"))
	if name == "" {
		return "."
	}
	return name
}

// resolve follows symlinks in every component of name except, unless
// followLast is set, the final one. The returned path contains no symlink
// components (no final one either, when followLast).
func (m *MockFs) resolve(name string, followLast bool, hops *int) (string, error) {
	name = clean(name)
	if name == "." {
		return ".", nil
	}
	components := strings.Split(name, "/")
	cur := "."
	for i, c := range components {
		cur = path.Join(cur, c)
		last := i == len(components)-1
		if target, isLink := m.symlinks[cur]; isLink && (followLast || !last) {
			*hops++
			if *hops > maxLinkHops {
				return "", &os.PathError{Op: "stat", Path: name, Err: errTooManyLinks}
			}
			resolved, err := m.resolve(m.linkTarget(cur, target), true, hops)
			if err != nil {
				return "", err
			}
			cur = resolved
		}
		if !last && !m.dirs[cur] {
			if _, isFile := m.files[cur]; isFile {
				return "", &os.PathError{Op: "stat", Path: name, Err: errNotDir}
			}
			return "", &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
		}
	}
	return cur, nil
}

// linkTarget interprets a symlink target: rooted if it begins with a
// separator, otherwise relative to the link's directory.
func (m *MockFs) linkTarget(link, target string) string {
	if strings.HasPrefix(target, "/") {
		return clean(target)
	}
	return path.Join(path.Dir(link), target)
}

func (m *MockFs) info(resolved, name string) (os.FileInfo, error) {
	if target, ok := m.symlinks[resolved]; ok {
		return &mockFileInfo{
			name:    path.Base(name),
			size:    int64(len(target)),
			mode:    os.ModeSymlink | 0777,
			modTime: m.modTimes[resolved],
		}, nil
	}
	if m.dirs[resolved] {
		return &mockFileInfo{
			name:    path.Base(name),
			mode:    os.ModeDir | 0755,
			modTime: m.modTimes[resolved],
		}, nil
	}
	if data, ok := m.files[resolved]; ok {
		return &mockFileInfo{
			name:    path.Base(name),
			size:    int64(len(data)),
			mode:    0644,
			modTime: m.modTimes[resolved],
		}, nil
	}
	return nil, &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
}

func (m *MockFs) Lstat(name string) (os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statCalls = append(m.statCalls, clean(name))
	if err, ok := m.statErrs[clean(name)]; ok {
		return nil, err
	}
	hops := 0
	resolved, err := m.resolve(name, false, &hops)
	if err != nil {
		return nil, err
	}
	return m.info(resolved, name)
}

func (m *MockFs) Stat(name string) (os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statCalls = append(m.statCalls, clean(name))
	if err, ok := m.statErrs[clean(name)]; ok {
		return nil, err
	}
	hops := 0
	resolved, err := m.resolve(name, true, &hops)
	if err != nil {
		return nil, err
	}
	return m.info(resolved, name)
}

func (m *MockFs) ReadDir(name string) ([]os.DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readDirCalls = append(m.readDirCalls, clean(name))
	hops := 0
	resolved, err := m.resolve(name, true, &hops)
	if err != nil {
		return nil, err
	}
	if !m.dirs[resolved] {
		if _, isFile := m.files[resolved]; isFile {
			return nil, &os.PathError{Op: "readdir", Path: name, Err: errNotDir}
		}
		return nil, &os.PathError{Op: "readdir", Path: name, Err: os.ErrNotExist}
	}
	var entries []os.DirEntry
	for _, child := range m.childrenLocked(resolved) {
		info, err := m.info(child, child)
		if err != nil {
			return nil, err
		}
		typ := info.Mode().Type()
		if override, ok := m.direntTypes[child]; ok {
			typ = override.Type()
		}
		entries = append(entries, &mockDirEntry{name: path.Base(child), typ: typ, info: info})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

func (m *MockFs) childrenLocked(dir string) []string {
	var children []string
	add := func(p string) {
		if p != "." && path.Dir(p) == dir {
			children = append(children, p)
		}
	}
	for f := range m.files {
		add(f)
	}
	for d := range m.dirs {
		add(d)
	}
	for s := range m.symlinks {
		add(s)
	}
	return children
}

func (m *MockFs) Open(name string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.readErrs[clean(name)]; ok {
		return nil, err
	}
	hops := 0
	resolved, err := m.resolve(name, true, &hops)
	if err != nil {
		return nil, err
	}
	if data, ok := m.files[resolved]; ok {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	if m.dirs[resolved] {
		return nil, &os.PathError{Op: "open", Path: name, Err: errors.New("is a directory")}
	}
	return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
}

func (m *MockFs) Readlink(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hops := 0
	resolved, err := m.resolve(name, false, &hops)
	if err != nil {
		return "", err
	}
	if target, ok := m.symlinks[resolved]; ok {
		return target, nil
	}
	return "", &os.PathError{Op: "readlink", Path: name, Err: os.ErrInvalid}
}

// MkDirs creates the named directory and any missing parents.
func (m *MockFs) MkDirs(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir = clean(dir)
	if dir == "." {
		return nil
	}
	components := strings.Split(dir, "/")
	cur := "."
	for _, c := range components {
		cur = path.Join(cur, c)
		if m.dirs[cur] {
			continue
		}
		if _, isFile := m.files[cur]; isFile {
			return &os.PathError{Op: "mkdir", Path: cur, Err: errNotDir}
		}
		m.dirs[cur] = true
		m.modTimes[cur] = m.Clock.Tick()
		m.touchLocked(path.Dir(cur))
	}
	return nil
}

// WriteFile writes data to the named file. The parent directory must
// already exist.
func (m *MockFs) WriteFile(name string, data []byte, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = clean(name)
	parent := path.Dir(name)
	if !m.dirs[parent] {
		return &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}
	if m.dirs[name] {
		return &os.PathError{Op: "open", Path: name, Err: errors.New("is a directory")}
	}
	_, existed := m.files[name]
	m.files[name] = data
	m.modTimes[name] = m.Clock.Tick()
	if !existed {
		m.touchLocked(parent)
	}
	return nil
}

// Symlink creates newname as a symlink to oldname. The target is not
// required to exist.
func (m *MockFs) Symlink(oldname, newname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	newname = clean(newname)
	parent := path.Dir(newname)
	if !m.dirs[parent] {
		return &os.PathError{Op: "symlink", Path: newname, Err: os.ErrNotExist}
	}
	if m.existsLocked(newname) {
		return &os.PathError{Op: "symlink", Path: newname, Err: os.ErrExist}
	}
	m.symlinks[newname] = oldname
	m.modTimes[newname] = m.Clock.Tick()
	m.touchLocked(parent)
	return nil
}

// Remove removes the named file, symlink, or empty directory.
func (m *MockFs) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = clean(name)
	if m.dirs[name] {
		if len(m.childrenLocked(name)) > 0 {
			return &os.PathError{Op: "remove", Path: name, Err: errNotEmpty}
		}
		delete(m.dirs, name)
	} else if _, ok := m.files[name]; ok {
		delete(m.files, name)
	} else if _, ok := m.symlinks[name]; ok {
		delete(m.symlinks, name)
	} else {
		return &os.PathError{Op: "remove", Path: name, Err: os.ErrNotExist}
	}
	delete(m.modTimes, name)
	m.touchLocked(path.Dir(name))
	return nil
}

// RemoveAll removes the named path and everything below it.
func (m *MockFs) RemoveAll(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = clean(name)
	if name == "." {
		return errors.New("cannot remove the root")
	}
	if !m.existsLocked(name) {
		return nil
	}
	for _, p := range m.subtreeLocked(name) {
		delete(m.files, p)
		delete(m.dirs, p)
		delete(m.symlinks, p)
		delete(m.modTimes, p)
	}
	m.touchLocked(path.Dir(name))
	return nil
}

// Rename moves oldname to newname, carrying any subtree with it. Moved
// entries keep their modification times; both parent directories are
// touched.
func (m *MockFs) Rename(oldname, newname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	oldname = clean(oldname)
	newname = clean(newname)
	if !m.existsLocked(oldname) {
		return &os.PathError{Op: "rename", Path: oldname, Err: os.ErrNotExist}
	}
	if !m.dirs[path.Dir(newname)] {
		return &os.PathError{Op: "rename", Path: newname, Err: os.ErrNotExist}
	}
	for _, p := range m.subtreeLocked(oldname) {
		moved := newname + strings.TrimPrefix(p, oldname)
		if data, ok := m.files[p]; ok {
			m.files[moved] = data
			delete(m.files, p)
		}
		if m.dirs[p] {
			m.dirs[moved] = true
			delete(m.dirs, p)
		}
		if target, ok := m.symlinks[p]; ok {
			m.symlinks[moved] = target
			delete(m.symlinks, p)
		}
		m.modTimes[moved] = m.modTimes[p]
		delete(m.modTimes, p)
	}
	m.touchLocked(path.Dir(oldname))
	m.touchLocked(path.Dir(newname))
	return nil
}

// subtreeLocked returns name and every path below it, deepest first.
func (m *MockFs) subtreeLocked(name string) []string {
	var paths []string
	collect := func(p string) {
		if p == name || strings.HasPrefix(p, name+"/") {
			paths = append(paths, p)
		}
	}
	for f := range m.files {
		collect(f)
	}
	for d := range m.dirs {
		collect(d)
	}
	for s := range m.symlinks {
		collect(s)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	return paths
}

func (m *MockFs) existsLocked(name string) bool {
	if _, ok := m.files[name]; ok {
		return true
	}
	if _, ok := m.symlinks[name]; ok {
		return true
	}
	return m.dirs[name]
}

func (m *MockFs) touchLocked(dir string) {
	if m.dirs[dir] {
		m.modTimes[dir] = m.Clock.Tick()
	}
}

// SetReadErr causes Open of the named path to fail with readErr until
// cleared with a nil error.
func (m *MockFs) SetReadErr(name string, readErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = clean(name)
	if !m.existsLocked(name) {
		return &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}
	if readErr == nil {
		delete(m.readErrs, name)
	} else {
		m.readErrs[name] = readErr
	}
	return nil
}

// SetStatErr causes Lstat and Stat of the named path to fail with statErr
// until cleared with a nil error.
func (m *MockFs) SetStatErr(name string, statErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = clean(name)
	if statErr == nil {
		delete(m.statErrs, name)
		return nil
	}
	m.statErrs[name] = statErr
	return nil
}

// StubDirentType makes directory listings report the named path with the
// given type, regardless of what it actually is. Stat calls are unaffected.
func (m *MockFs) StubDirentType(name string, typ os.FileMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.direntTypes[clean(name)] = typ
}

// StatCalls returns the paths passed to Lstat and Stat since the last
// ClearMetrics, in call order.
func (m *MockFs) StatCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statCalls...)
}

// ReadDirCalls returns the paths passed to ReadDir since the last
// ClearMetrics, in call order.
func (m *MockFs) ReadDirCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.readDirCalls...)
}

func (m *MockFs) ClearMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statCalls = nil
	m.readDirCalls = nil
}

type mockFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (i *mockFileInfo) Name() string       { return i.name }
func (i *mockFileInfo) Size() int64        { return i.size }
func (i *mockFileInfo) Mode() os.FileMode  { return i.mode }
func (i *mockFileInfo) ModTime() time.Time { return i.modTime }
func (i *mockFileInfo) IsDir() bool        { return i.mode.IsDir() }
func (i *mockFileInfo) Sys() interface{}   { return nil }

type mockDirEntry struct {
	name string
	typ  os.FileMode
	info os.FileInfo
}

func (e *mockDirEntry) Name() string               { return e.name }
func (e *mockDirEntry) IsDir() bool                { return e.typ.IsDir() }
func (e *mockDirEntry) Type() os.FileMode          { return e.typ }
func (e *mockDirEntry) Info() (os.FileInfo, error) { return e.info, nil }
