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

// bzglob is the command line tool that checks if the list of files
// matching a package's globs has changed, and only updates the output
// file list if it has changed. It is used to optimize out build file
// regenerations when non-matching files are added. It also writes a
// depfile naming every path the evaluation consulted, so the build
// system reruns it exactly when one of them changes.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tomorrowkey/bazel/glob"
	"github.com/tomorrowkey/bazel/logger"
)

var (
	// flagSet is a flag.FlagSet with flag.ContinueOnError so that we can
	// handle the versionMismatchError error from versionArg.
	flagSet = flag.NewFlagSet("bzglob", flag.ContinueOnError)

	out       = flagSet.String("o", "", "file to write list of files that match globs")
	pkgDir    = flagSet.String("C", ".", "package directory the patterns are relative to")
	cacheFile = flagSet.String("cache", "", "manifest file for reusing results across runs")
	logFile   = flagSet.String("log", "", "file to append the tool log to")
	verbose   = flagSet.Bool("verbose", false, "print cache diagnostics to stderr")

	versionMatch versionArg
	globs        []glob.Args
)

func init() {
	flagSet.Var(&versionMatch, "v", "version number the command line was generated for")
	flagSet.Var((*patternsArgs)(&globs), "p", "pattern to include in results")
	flagSet.Var((*excludeArgs)(&globs), "e", "pattern to exclude from results from the most recent pattern")
}

// bzglob is executed through rules written into build files to determine
// whether the primary builder needs to rerun. That means when the
// arguments accepted by bzglob change it will be called with the old
// arguments, then the primary builder will rerun and write the new
// arguments. To avoid maintaining backwards compatibility with old
// arguments across that transition, a version argument is used to detect
// it: on a mismatch bzglob stops parsing arguments, touches the output
// file and exits immediately. glob.ArgumentVersion must be incremented
// manually whenever the argument format changes.
//
// If the version argument is not passed then a version mismatch is
// assumed.

// versionArg checks the argument against glob.ArgumentVersion, returning
// a versionMismatchError if it does not match.
type versionArg bool

var versionMismatchError = errors.New("version mismatch")

func (v *versionArg) String() string { return "" }

func (v *versionArg) Set(s string) error {
	vers, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("error parsing version argument: %w", err)
	}

	// Force the -o argument to come before the -v argument so that the
	// output file can be updated on error.
	if *out == "" {
		return fmt.Errorf("-o argument must be passed before -v")
	}

	if vers != glob.ArgumentVersion {
		return versionMismatchError
	}

	*v = true

	return nil
}

// patternsArgs implements flag.Value to handle -p arguments by starting
// a new glob call. File lists feed build rules, so directories are
// omitted from the matches.
type patternsArgs []glob.Args

func (p *patternsArgs) String() string { return `""` }

func (p *patternsArgs) Set(s string) error {
	globs = append(globs, glob.Args{
		Pattern:     s,
		ExcludeDirs: true,
	})
	return nil
}

// excludeArgs implements flag.Value to handle -e arguments by adding to
// the most recent glob call.
type excludeArgs []glob.Args

func (e *excludeArgs) String() string { return `""` }

func (e *excludeArgs) Set(s string) error {
	if len(*e) == 0 {
		return fmt.Errorf("-p argument is required before the first -e argument")
	}

	last := &(*e)[len(*e)-1]
	last.Excludes = append(last.Excludes, s)
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: bzglob -o out -v version [-C package] [-cache file] -p glob [-e excludes ...] [-p glob ...]")
	flagSet.PrintDefaults()
	os.Exit(2)
}

func main() {
	// Save the command line flag error output to a buffer, the flag
	// package unconditionally writes an error message to the output on
	// error, and we want to hide it for the version mismatch case.
	flagErrorBuffer := &bytes.Buffer{}
	flagSet.SetOutput(flagErrorBuffer)

	err := flagSet.Parse(os.Args[1:])

	if !versionMatch {
		// A version mismatch occurs when the arguments written into a
		// build file don't match the format expected by this binary,
		// during the first incremental build after bzglob changed.
		// Abort argument parsing and update the output file with
		// something that will always cause the primary builder to
		// rerun.
		writeErrorOutput(*out, versionMismatchError)
		os.Exit(0)
	}

	if err != nil {
		os.Stderr.Write(flagErrorBuffer.Bytes())
		fmt.Fprintln(os.Stderr, "error:", err.Error())
		usage()
	}

	if *out == "" {
		fmt.Fprintln(os.Stderr, "error: -o is required")
		usage()
	}

	if flagSet.NArg() > 0 {
		usage()
	}

	log := logger.New(os.Stderr)
	log.SetVerbose(*verbose)
	if *logFile != "" {
		log.SetOutput(*logFile)
		defer log.Close()
	}

	batch := glob.NewBatch(*pkgDir, glob.Params{Log: log})

	ctx := context.Background()
	var res *glob.Results
	if *cacheFile != "" {
		res, err = batch.RunCached(ctx, globs, glob.CacheParams{Path: *cacheFile})
	} else {
		res, err = batch.Run(ctx, globs)
	}
	if err != nil {
		// The globs already ran in the primary builder without error,
		// so an error here means the tree changed in a way the builder
		// has to see. Update the output file with something that will
		// always cause it to rerun.
		writeErrorOutput(*out, err)
		os.Exit(0)
	}

	if err := glob.WriteFileList(*out, res); err != nil {
		log.Fatalf("failed to write file list to %q: %s", *out, err)
	}
	if err := glob.WriteDepFile(*out+".d", *out, res); err != nil {
		log.Fatalf("failed to write dep file to %q: %s", *out, err)
	}
}

// writeErrorOutput writes an error to the output file with a timestamp
// to ensure that it is considered dirty by the build system.
func writeErrorOutput(path string, globErr error) {
	s := fmt.Sprintf("%s: error: %s\n", time.Now().Format(time.StampNano), globErr.Error())
	err := os.WriteFile(path, []byte(s), 0666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
		os.Exit(1)
	}
}
