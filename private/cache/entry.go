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

package cache

import (
	"strings"
	"sync"
)

// record is one serialized beacon record with the capture timestamp.
type record struct {
	timestampMs int64
	data        string
	// markedForSending is set while the record is part of a chunk in
	// flight.
	markedForSending bool
}

// sizeBytes is the record's contribution to the cache size.
func (r record) sizeBytes() int64 {
	return int64(len(r.data))
}

// entry is the per-key cache entry. Action and event records are kept
// separately so that eviction can prefer action data. Each entry has an
// active buffer that reports append into, and a sending buffer that the
// sender drains; eviction never touches the sending buffer.
type entry struct {
	mtx sync.Mutex

	eventData  []record
	actionData []record

	eventDataBeingSent  []record
	actionDataBeingSent []record
}

// addAction appends an action record to the active buffer.
func (e *entry) addAction(timestampMs int64, data string) int64 {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.actionData = append(e.actionData, record{timestampMs: timestampMs, data: data})
	return int64(len(data))
}

// addEvent appends an event record to the active buffer.
func (e *entry) addEvent(timestampMs int64, data string) int64 {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.eventData = append(e.eventData, record{timestampMs: timestampMs, data: data})
	return int64(len(data))
}

// needsDataCopyBeforeSending reports whether the sending buffer is empty
// and a prepare step has to move the active buffer first.
func (e *entry) needsDataCopyBeforeSending() bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return len(e.eventDataBeingSent) == 0 && len(e.actionDataBeingSent) == 0
}

// copyDataForSending atomically moves the active buffer into the sending
// buffer. Already staged data stays in front.
func (e *entry) copyDataForSending() {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.eventDataBeingSent = append(e.eventDataBeingSent, e.eventData...)
	e.actionDataBeingSent = append(e.actionDataBeingSent, e.actionData...)
	e.eventData = nil
	e.actionData = nil
}

// hasDataToSend reports whether the sending buffer holds records.
func (e *entry) hasDataToSend() bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return len(e.eventDataBeingSent) > 0 || len(e.actionDataBeingSent) > 0
}

// nextChunk builds the next chunk from the sending buffer: the prefix,
// followed by delimiter-joined records, not exceeding maxSizeBytes. The
// chosen records are marked for sending; they stay in the buffer until
// removeDataMarkedForSending commits the drop or resetDataMarkedForSending
// rolls them back. Event data is chunked before action data so that
// session records precede their actions on the wire.
func (e *entry) nextChunk(chunkPrefix string, maxSizeBytes int, delimiter string) string {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if len(e.eventDataBeingSent) == 0 && len(e.actionDataBeingSent) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(chunkPrefix)
	added := 0
	appendRecords := func(records []record) []record {
		for i := range records {
			if records[i].markedForSending {
				continue
			}
			need := len(delimiter) + len(records[i].data)
			if b.Len()+need > maxSizeBytes {
				// A single record larger than the bound is sent oversized,
				// otherwise the drain would never make progress.
				if added > 0 {
					return records
				}
			}
			records[i].markedForSending = true
			added++
			b.WriteString(delimiter)
			b.WriteString(records[i].data)
		}
		return records
	}
	e.eventDataBeingSent = appendRecords(e.eventDataBeingSent)
	e.actionDataBeingSent = appendRecords(e.actionDataBeingSent)
	return b.String()
}

// removeDataMarkedForSending drops the records of the chunk in flight and
// returns the number of bytes removed.
func (e *entry) removeDataMarkedForSending() int64 {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	var removed int64
	remove := func(records []record) []record {
		kept := records[:0]
		for _, r := range records {
			if r.markedForSending {
				removed += r.sizeBytes()
				continue
			}
			kept = append(kept, r)
		}
		return kept
	}
	e.eventDataBeingSent = remove(e.eventDataBeingSent)
	e.actionDataBeingSent = remove(e.actionDataBeingSent)
	return removed
}

// resetDataMarkedForSending clears the in-flight marks and moves the whole
// sending buffer back in front of the active buffer, so a retry sees the
// records in their original order.
func (e *entry) resetDataMarkedForSending() {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	for i := range e.eventDataBeingSent {
		e.eventDataBeingSent[i].markedForSending = false
	}
	for i := range e.actionDataBeingSent {
		e.actionDataBeingSent[i].markedForSending = false
	}
	e.eventData = append(e.eventDataBeingSent, e.eventData...)
	e.actionData = append(e.actionDataBeingSent, e.actionData...)
	e.eventDataBeingSent = nil
	e.actionDataBeingSent = nil
}

// totalBytes is the size of all records in this entry, both buffers.
func (e *entry) totalBytes() int64 {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	var size int64
	for _, r := range e.eventData {
		size += r.sizeBytes()
	}
	for _, r := range e.actionData {
		size += r.sizeBytes()
	}
	for _, r := range e.eventDataBeingSent {
		size += r.sizeBytes()
	}
	for _, r := range e.actionDataBeingSent {
		size += r.sizeBytes()
	}
	return size
}

// removeRecordsOlderThan evicts active records with a timestamp strictly
// below minTimestampMs. It returns the number of records and bytes evicted.
// The sending buffer is never touched.
func (e *entry) removeRecordsOlderThan(minTimestampMs int64) (int, int64) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	var count int
	var bytes int64
	evict := func(records []record) []record {
		kept := records[:0]
		for _, r := range records {
			if r.timestampMs < minTimestampMs {
				count++
				bytes += r.sizeBytes()
				continue
			}
			kept = append(kept, r)
		}
		return kept
	}
	e.eventData = evict(e.eventData)
	e.actionData = evict(e.actionData)
	return count, bytes
}

// removeOldestRecords evicts up to count of the oldest active records,
// action data first, then event data. It returns the number of records and
// bytes evicted. The sending buffer is never touched.
func (e *entry) removeOldestRecords(count int) (int, int64) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	var removed int
	var bytes int64
	evict := func(records []record) []record {
		for len(records) > 0 && removed < count {
			bytes += records[0].sizeBytes()
			records = records[1:]
			removed++
		}
		return records
	}
	e.actionData = evict(e.actionData)
	e.eventData = evict(e.eventData)
	return removed, bytes
}

// isEmpty reports whether the entry holds no records in either buffer.
func (e *entry) isEmpty() bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return len(e.eventData) == 0 && len(e.actionData) == 0 &&
		len(e.eventDataBeingSent) == 0 && len(e.actionDataBeingSent) == 0
}
