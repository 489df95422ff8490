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
	"sync"
	"sync/atomic"

	"github.com/dynatrace-oss/openkit-go/pkg/log"
	"github.com/dynatrace-oss/openkit-go/pkg/metrics"
)

// Metrics instruments the cache. Any field may be nil.
type Metrics struct {
	// SizeBytes tracks the total cache size.
	SizeBytes metrics.Gauge
	// EvictedRecords counts records dropped by eviction, labeled by
	// strategy.
	EvictedRecords metrics.Counter
}

// Cache is the beacon cache shared by all beacons of one OpenKit instance.
// Entries are keyed per session stream; records are owned by the cache and
// referenced by Key only.
type Cache struct {
	logger  log.Logger
	metrics Metrics

	// mtx guards the key set. Individual entries carry their own lock.
	mtx     sync.RWMutex
	entries map[Key]*entry

	// size is the total UTF-8 byte size of all cached records.
	size atomic.Int64
}

// New creates an empty beacon cache.
func New(logger log.Logger, m Metrics) *Cache {
	return &Cache{
		logger:  logger,
		metrics: m,
		entries: make(map[Key]*entry),
	}
}

// getOrCreate returns the entry for the key, creating it on first use.
func (c *Cache) getOrCreate(key Key) *entry {
	c.mtx.RLock()
	e := c.entries[key]
	c.mtx.RUnlock()
	if e != nil {
		return e
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if e = c.entries[key]; e == nil {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

// get returns the entry for the key, or nil.
func (c *Cache) get(key Key) *entry {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.entries[key]
}

func (c *Cache) addSize(delta int64) {
	metrics.GaugeSet(c.metrics.SizeBytes, float64(c.size.Add(delta)))
}

// AddActionData appends a serialized action record under the given key.
func (c *Cache) AddActionData(key Key, timestampMs int64, data string) {
	c.addSize(c.getOrCreate(key).addAction(timestampMs, data))
}

// AddEventData appends a serialized event record under the given key.
func (c *Cache) AddEventData(key Key, timestampMs int64, data string) {
	c.addSize(c.getOrCreate(key).addEvent(timestampMs, data))
}

// PrepareDataForSending atomically moves the key's active buffer into its
// sending buffer when the sending buffer is empty. If the sending buffer
// still holds records, nothing is moved: those records go out first and
// the active buffer waits for a later send cycle. Records appended
// afterwards belong to the next send cycle.
func (c *Cache) PrepareDataForSending(key Key) {
	e := c.get(key)
	if e == nil {
		return
	}
	if e.needsDataCopyBeforeSending() {
		e.copyDataForSending()
	}
}

// HasDataForSending reports whether the key's sending buffer holds records.
func (c *Cache) HasDataForSending(key Key) bool {
	e := c.get(key)
	return e != nil && e.hasDataToSend()
}

// GetNextBeaconChunk returns the next chunk of the key's sending buffer:
// chunkPrefix followed by delimiter-joined records, at most maxSizeBytes.
// The records of the chunk stay buffered and marked in flight until
// RemoveChunkedData or ResetChunkedData decides their fate, so a record
// appears in at most one chunk in flight.
func (c *Cache) GetNextBeaconChunk(key Key, chunkPrefix string, maxSizeBytes int,
	delimiter string) string {

	e := c.get(key)
	if e == nil {
		return ""
	}
	return e.nextChunk(chunkPrefix, maxSizeBytes, delimiter)
}

// RemoveChunkedData commits the drop of the chunk in flight.
func (c *Cache) RemoveChunkedData(key Key) {
	e := c.get(key)
	if e == nil {
		return
	}
	c.addSize(-e.removeDataMarkedForSending())
}

// ResetChunkedData restores the chunk in flight for a retry.
func (c *Cache) ResetChunkedData(key Key) {
	e := c.get(key)
	if e == nil {
		return
	}
	e.resetDataMarkedForSending()
}

// DeleteCacheEntry removes the key and all its records.
func (c *Cache) DeleteCacheEntry(key Key) {
	c.mtx.Lock()
	e := c.entries[key]
	delete(c.entries, key)
	c.mtx.Unlock()
	if e != nil {
		c.addSize(-e.totalBytes())
		log.SafeDebug(c.logger, "Deleted beacon cache entry", "key", key.String())
	}
}

// IsEmpty reports whether the key holds no records.
func (c *Cache) IsEmpty(key Key) bool {
	e := c.get(key)
	return e == nil || e.isEmpty()
}

// NumBytesInCache returns the total UTF-8 byte size of all cached records.
func (c *Cache) NumBytesInCache() int64 {
	return c.size.Load()
}

// Keys returns a snapshot of all keys currently in the cache.
func (c *Cache) Keys() []Key {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	keys := make([]Key, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// EvictRecordsByAge evicts the key's active records older than
// minTimestampMs and returns the number of evicted records. The sending
// buffer is never evicted.
func (c *Cache) EvictRecordsByAge(key Key, minTimestampMs int64) int {
	e := c.get(key)
	if e == nil {
		return 0
	}
	count, bytes := e.removeRecordsOlderThan(minTimestampMs)
	if count > 0 {
		c.addSize(-bytes)
		c.countEvicted("age", count)
	}
	return count
}

// EvictRecordsByNumber evicts up to numRecords of the key's oldest active
// records, action data first, and returns the number of evicted records.
// The sending buffer is never evicted.
func (c *Cache) EvictRecordsByNumber(key Key, numRecords int) int {
	e := c.get(key)
	if e == nil {
		return 0
	}
	count, bytes := e.removeOldestRecords(numRecords)
	if count > 0 {
		c.addSize(-bytes)
		c.countEvicted("space", count)
	}
	return count
}

func (c *Cache) countEvicted(strategy string, count int) {
	if c.metrics.EvictedRecords != nil {
		c.metrics.EvictedRecords.With("strategy", strategy).Add(float64(count))
	}
}
