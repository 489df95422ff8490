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

package protocol

import (
	"strings"
)

// Truncation bounds of the wire protocol.
const (
	// MaxNameLength bounds action, value and event names.
	MaxNameLength = 250
	// MaxReasonLength bounds error and crash reasons.
	MaxReasonLength = 1000
	// MaxStackTraceLength bounds crash and exception stack traces.
	MaxStackTraceLength = 128 * 1000
)

const upperhex = "0123456789ABCDEF"

// percentEncode encodes a value as percent-encoded UTF-8. On top of the
// characters RFC 3986 reserves, the underscore is encoded because the wire
// format uses it as a structural character in tags.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-' || c == '.' || c == '~':
		// The unreserved set minus underscore, which the tag format
		// reserves as separator.
		return true
	}
	return false
}

// truncateName trims surrounding whitespace and truncates to the maximum
// name length.
func truncateName(name string) string {
	return truncate(strings.TrimSpace(name), MaxNameLength)
}

// truncate cuts s after at most max bytes. The cut may split a rune; the
// collector tolerates a trailing replacement character.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// truncateStackTrace cuts a stack trace at the maximum length, preferring
// the last line break at or before the limit. The line break itself is the
// first excluded character, so a truncated trace never ends in a newline.
func truncateStackTrace(s string) string {
	if len(s) <= MaxStackTraceLength {
		return s
	}
	cut := s[:MaxStackTraceLength]
	if i := strings.LastIndexByte(cut, '\n'); i >= 0 {
		return cut[:i]
	}
	return cut
}
