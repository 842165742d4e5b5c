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

import "fmt"

// InvalidPatternError reports a glob pattern rejected at compile time.
type InvalidPatternError struct {
	Pattern string
	Reason  string
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid glob pattern '%s': %s", e.Pattern, e.Reason)
}

// InconsistentFilesystemError reports that filesystem operations performed
// during one evaluation contradicted each other, usually because the
// filesystem changed underneath it. The evaluation fails rather than
// guessing which answer was right, and the failure is not cached.
type InconsistentFilesystemError struct {
	Detail string
}

func (e *InconsistentFilesystemError) Error() string {
	return "inconsistent filesystem operations: " + e.Detail
}
