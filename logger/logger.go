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

// Package logger implements logging for command line tools in the
// standard log package's style. Output splits between the terminal and
// an optional log file: Print always reaches both, while Verbose
// reaches the file unconditionally but the terminal only when verbose
// output is enabled.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

type Logger interface {
	// Print prints to the terminal and the log file.
	Print(v ...interface{})
	Printf(format string, v ...interface{})
	Println(v ...interface{})

	// Verbose prints to the log file, and to the terminal only when
	// verbose output is enabled.
	Verbose(v ...interface{})
	Verbosef(format string, v ...interface{})
	Verboseln(v ...interface{})

	// Fatal is equivalent to Print followed by os.Exit(1).
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	Fatalln(v ...interface{})

	// Panic is equivalent to Print followed by a panic with the same
	// message.
	Panic(v ...interface{})
	Panicf(format string, v ...interface{})
	Panicln(v ...interface{})

	// Output writes the string to the terminal and the log file,
	// reporting the source position calldepth frames up the stack.
	Output(calldepth int, str string) error
}

type stdLogger struct {
	stderr  *log.Logger
	verbose bool

	mutex      sync.Mutex
	file       *os.File
	fileLogger *log.Logger
}

var _ Logger = (*stdLogger)(nil)

// New returns a Logger writing to out, commonly os.Stderr. Verbose
// messages are suppressed until SetVerbose(true), and nothing goes to a
// file until SetOutput names one.
func New(out io.Writer) *stdLogger {
	return &stdLogger{
		stderr:     log.New(out, "", log.Ldate|log.Lmicroseconds),
		fileLogger: log.New(io.Discard, "", log.Ldate|log.Lmicroseconds|log.Llongfile),
	}
}

// SetVerbose controls whether Verbose output reaches the terminal.
func (s *stdLogger) SetVerbose(v bool) *stdLogger {
	s.verbose = v
	return s
}

// SetOutput appends the file log to path, creating the file if needed.
// Opening the file is fatal; a tool asked to keep a log must not run
// without one.
func (s *stdLogger) SetOutput(path string) *stdLogger {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		s.Fatal(err.Error())
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.file != nil {
		s.file.Close()
	}
	s.file = f
	s.fileLogger.SetOutput(f)
	return s
}

// Close closes the log file if SetOutput opened one.
func (s *stdLogger) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.file != nil {
		s.file.Close()
		s.fileLogger.SetOutput(io.Discard)
		s.file = nil
	}
}

// Output writes to the terminal and the log file.
func (s *stdLogger) Output(calldepth int, str string) error {
	s.fileLogger.Output(calldepth+1, str)
	return s.stderr.Output(calldepth+1, str)
}

// verboseOutput writes to the log file, and to the terminal when
// verbose output is enabled.
func (s *stdLogger) verboseOutput(calldepth int, str string) error {
	s.fileLogger.Output(calldepth+1, str)
	if s.verbose {
		return s.stderr.Output(calldepth+1, str)
	}
	return nil
}

func (s *stdLogger) Print(v ...interface{}) {
	s.Output(2, fmt.Sprint(v...))
}

func (s *stdLogger) Printf(format string, v ...interface{}) {
	s.Output(2, fmt.Sprintf(format, v...))
}

func (s *stdLogger) Println(v ...interface{}) {
	s.Output(2, fmt.Sprintln(v...))
}

func (s *stdLogger) Verbose(v ...interface{}) {
	s.verboseOutput(2, fmt.Sprint(v...))
}

func (s *stdLogger) Verbosef(format string, v ...interface{}) {
	s.verboseOutput(2, fmt.Sprintf(format, v...))
}

func (s *stdLogger) Verboseln(v ...interface{}) {
	s.verboseOutput(2, fmt.Sprintln(v...))
}

func (s *stdLogger) Fatal(v ...interface{}) {
	s.Output(2, fmt.Sprint(v...))
	os.Exit(1)
}

func (s *stdLogger) Fatalf(format string, v ...interface{}) {
	s.Output(2, fmt.Sprintf(format, v...))
	os.Exit(1)
}

func (s *stdLogger) Fatalln(v ...interface{}) {
	s.Output(2, fmt.Sprintln(v...))
	os.Exit(1)
}

func (s *stdLogger) Panic(v ...interface{}) {
	msg := fmt.Sprint(v...)
	s.Output(2, msg)
	panic(msg)
}

func (s *stdLogger) Panicf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	s.Output(2, msg)
	panic(msg)
}

func (s *stdLogger) Panicln(v ...interface{}) {
	msg := fmt.Sprintln(v...)
	s.Output(2, msg)
	panic(msg)
}
