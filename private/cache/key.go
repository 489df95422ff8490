// Copyright 2025 Dynatrace LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache implements the in-memory beacon cache: per-session
// append-only record logs with a two-stage (active/sending) buffer model
// and time- and size-based eviction.
package cache

import (
	"fmt"
)

// Key identifies one buffered data stream: a session number together with
// the sequence number the session got from splitting.
type Key struct {
	SessionNumber   int32
	SessionSequence int32
}

func (k Key) String() string {
	return fmt.Sprintf("[sn=%d seq=%d]", k.SessionNumber, k.SessionSequence)
}
