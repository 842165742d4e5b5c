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

// Package fs provides the read-only filesystem view that glob evaluation
// runs against, implemented by the local disk and by an in-memory mock.
package fs

import (
	"io"
	"os"
)

// OsFs implements FileSystem using the local disk.
var OsFs FileSystem = osFs{}

// FileSystem is the set of filesystem operations glob evaluation performs.
// Paths are slash-separated and interpreted relative to the process working
// directory for OsFs, or relative to the root for a MockFs.
type FileSystem interface {
	// Open opens the named file for reading.
	Open(name string) (io.ReadCloser, error)

	// Lstat describes the named path without following a final symlink.
	Lstat(name string) (os.FileInfo, error)

	// Stat describes the named path, following symlinks.
	Stat(name string) (os.FileInfo, error)

	// ReadDir returns the entries of the named directory, sorted by name.
	ReadDir(name string) ([]os.DirEntry, error)

	// Readlink returns the target of the named symlink.
	Readlink(name string) (string, error)
}

type osFs struct{}

func (osFs) Open(name string) (io.ReadCloser, error) { return os.Open(name) }

func (osFs) Lstat(name string) (os.FileInfo, error) { return os.Lstat(name) }

func (osFs) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }

func (osFs) ReadDir(name string) ([]os.DirEntry, error) { return os.ReadDir(name) }

func (osFs) Readlink(name string) (string, error) { return os.Readlink(name) }
