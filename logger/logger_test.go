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

package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPrintReachesTerminal(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(buf)

	log.Println("hello world")
	log.Printf("count %d", 42)

	for _, want := range []string{"hello world", "count 42"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("terminal output %q missing %q", buf.String(), want)
		}
	}
}

func TestVerboseSuppressedByDefault(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(buf)

	log.Verboseln("quiet")
	if strings.Contains(buf.String(), "quiet") {
		t.Errorf("verbose message reached the terminal without SetVerbose: %q", buf.String())
	}

	log.SetVerbose(true)
	log.Verbosef("loud %d", 1)
	if !strings.Contains(buf.String(), "loud 1") {
		t.Errorf("verbose message missing after SetVerbose: %q", buf.String())
	}
}

func TestFileLogReceivesEverything(t *testing.T) {
	buf := &bytes.Buffer{}
	path := filepath.Join(t.TempDir(), "tool.log")
	log := New(buf)
	log.SetOutput(path)

	log.Println("to both")
	log.Verboseln("file only")
	log.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"to both", "file only"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log file %q missing %q", data, want)
		}
	}
	if strings.Contains(buf.String(), "file only") {
		t.Errorf("verbose message reached the terminal: %q", buf.String())
	}
}

func TestFileLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tool.log")

	log := New(&bytes.Buffer{})
	log.SetOutput(path)
	log.Println("first run")
	log.Close()

	log = New(&bytes.Buffer{})
	log.SetOutput(path)
	log.Println("second run")
	log.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"first run", "second run"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log file %q missing %q", data, want)
		}
	}
}

func TestPanicCarriesMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(buf)

	defer func() {
		r := recover()
		if r != "boom 7" {
			t.Errorf("recovered %v, want %q", r, "boom 7")
		}
		if !strings.Contains(buf.String(), "boom 7") {
			t.Errorf("terminal output %q missing the panic message", buf.String())
		}
	}()
	log.Panicf("boom %d", 7)
}
