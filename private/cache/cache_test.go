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
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynatrace-oss/openkit-go/pkg/log/testlog"
	"github.com/dynatrace-oss/openkit-go/pkg/metrics"
)

var testKey = Key{SessionNumber: 1, SessionSequence: 0}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	return New(testlog.NewLogger(t), Metrics{})
}

func TestCacheAddAndSize(t *testing.T) {
	c := newTestCache(t)
	assert.True(t, c.IsEmpty(testKey))
	assert.Zero(t, c.NumBytesInCache())

	c.AddEventData(testKey, 1000, "et=18")
	c.AddActionData(testKey, 1000, "et=1&na=x")
	assert.False(t, c.IsEmpty(testKey))
	assert.Equal(t, int64(len("et=18")+len("et=1&na=x")), c.NumBytesInCache())
	assert.Equal(t, []Key{testKey}, c.Keys())
}

func TestCacheSizeMetric(t *testing.T) {
	g := metrics.NewTestGauge()
	c := New(testlog.NewLogger(t), Metrics{SizeBytes: g})
	c.AddEventData(testKey, 1000, "12345")
	assert.Equal(t, float64(5), metrics.GaugeValue(g))
	c.DeleteCacheEntry(testKey)
	assert.Zero(t, metrics.GaugeValue(g))
}

func TestCacheChunking(t *testing.T) {
	t.Run("no data without prepare", func(t *testing.T) {
		c := newTestCache(t)
		c.AddEventData(testKey, 1000, "one")
		assert.False(t, c.HasDataForSending(testKey))
		assert.Empty(t, c.GetNextBeaconChunk(testKey, "prefix", 100, "&"))
	})

	t.Run("prepare moves active buffer", func(t *testing.T) {
		c := newTestCache(t)
		c.AddEventData(testKey, 1000, "one")
		c.PrepareDataForSending(testKey)
		assert.True(t, c.HasDataForSending(testKey))

		chunk := c.GetNextBeaconChunk(testKey, "prefix", 100, "&")
		assert.Equal(t, "prefix&one", chunk)
	})

	t.Run("event data precedes action data", func(t *testing.T) {
		c := newTestCache(t)
		c.AddActionData(testKey, 1000, "action")
		c.AddEventData(testKey, 1000, "event")
		c.PrepareDataForSending(testKey)
		chunk := c.GetNextBeaconChunk(testKey, "p", 100, "&")
		assert.Equal(t, "p&event&action", chunk)
	})

	t.Run("respects size bound", func(t *testing.T) {
		c := newTestCache(t)
		for i := 0; i < 10; i++ {
			c.AddEventData(testKey, 1000, fmt.Sprintf("record-%02d", i))
		}
		c.PrepareDataForSending(testKey)
		var chunks []string
		for c.HasDataForSending(testKey) {
			chunk := c.GetNextBeaconChunk(testKey, "p", 30, "&")
			require.NotEmpty(t, chunk)
			assert.LessOrEqual(t, len(chunk), 30)
			chunks = append(chunks, chunk)
			c.RemoveChunkedData(testKey)
		}
		assert.Greater(t, len(chunks), 1)
		// Order is preserved across chunks.
		all := strings.Join(chunks, "")
		assert.Less(t, strings.Index(all, "record-00"), strings.Index(all, "record-09"))
	})

	t.Run("oversized record still drains", func(t *testing.T) {
		c := newTestCache(t)
		c.AddEventData(testKey, 1000, strings.Repeat("x", 100))
		c.PrepareDataForSending(testKey)
		chunk := c.GetNextBeaconChunk(testKey, "p", 10, "&")
		assert.NotEmpty(t, chunk)
		c.RemoveChunkedData(testKey)
		assert.True(t, c.IsEmpty(testKey))
	})

	t.Run("reset restores records for retry", func(t *testing.T) {
		c := newTestCache(t)
		c.AddEventData(testKey, 1000, "one")
		c.AddEventData(testKey, 1000, "two")
		c.PrepareDataForSending(testKey)
		first := c.GetNextBeaconChunk(testKey, "p", 100, "&")
		assert.Equal(t, "p&one&two", first)

		c.ResetChunkedData(testKey)
		assert.Equal(t, int64(6), c.NumBytesInCache())
		c.PrepareDataForSending(testKey)
		retry := c.GetNextBeaconChunk(testKey, "p", 100, "&")
		assert.Equal(t, first, retry)
	})

	t.Run("remove commits the drop", func(t *testing.T) {
		c := newTestCache(t)
		c.AddEventData(testKey, 1000, "one")
		c.PrepareDataForSending(testKey)
		c.GetNextBeaconChunk(testKey, "p", 100, "&")
		c.RemoveChunkedData(testKey)
		assert.True(t, c.IsEmpty(testKey))
		assert.Zero(t, c.NumBytesInCache())
	})

	t.Run("records added during sending belong to next cycle", func(t *testing.T) {
		c := newTestCache(t)
		c.AddEventData(testKey, 1000, "old")
		c.PrepareDataForSending(testKey)
		c.AddEventData(testKey, 1001, "new")
		chunk := c.GetNextBeaconChunk(testKey, "p", 100, "&")
		assert.Equal(t, "p&old", chunk)
		c.RemoveChunkedData(testKey)
		assert.False(t, c.HasDataForSending(testKey))
		assert.False(t, c.IsEmpty(testKey))
	})
}

func TestCacheEvictRecordsByAge(t *testing.T) {
	c := newTestCache(t)
	c.AddEventData(testKey, 1000, "old-event")
	c.AddActionData(testKey, 1500, "old-action")
	c.AddEventData(testKey, 3000, "new-event")

	evicted := c.EvictRecordsByAge(testKey, 2000)
	assert.Equal(t, 2, evicted)
	assert.Equal(t, int64(len("new-event")), c.NumBytesInCache())
}

func TestCacheEvictRecordsByNumber(t *testing.T) {
	c := newTestCache(t)
	c.AddActionData(testKey, 1000, "a1")
	c.AddActionData(testKey, 1001, "a2")
	c.AddEventData(testKey, 1002, "e1")

	// Action data is evicted first.
	evicted := c.EvictRecordsByNumber(testKey, 2)
	assert.Equal(t, 2, evicted)
	c.PrepareDataForSending(testKey)
	chunk := c.GetNextBeaconChunk(testKey, "p", 100, "&")
	assert.Equal(t, "p&e1", chunk)
}

func TestCacheEvictionSparesSendingBuffer(t *testing.T) {
	c := newTestCache(t)
	c.AddEventData(testKey, 1000, "in-flight")
	c.PrepareDataForSending(testKey)
	c.AddEventData(testKey, 1000, "active")

	assert.Zero(t, c.EvictRecordsByAge(testKey, 999))
	assert.Equal(t, 1, c.EvictRecordsByAge(testKey, 2000))
	assert.Equal(t, 0, c.EvictRecordsByNumber(testKey, 10))
	chunk := c.GetNextBeaconChunk(testKey, "p", 100, "&")
	assert.Equal(t, "p&in-flight", chunk)
}

func TestCacheEvictedMetric(t *testing.T) {
	evicted := metrics.NewTestCounter()
	c := New(testlog.NewLogger(t), Metrics{EvictedRecords: evicted})
	c.AddEventData(testKey, 1000, "one")
	c.AddEventData(testKey, 1001, "two")
	c.EvictRecordsByNumber(testKey, 1)
	c.EvictRecordsByAge(testKey, 5000)
	assert.Equal(t, float64(2), metrics.CounterValue(evicted))
}

func TestCacheDeleteEntry(t *testing.T) {
	c := newTestCache(t)
	other := Key{SessionNumber: 2}
	c.AddEventData(testKey, 1000, "one")
	c.AddEventData(other, 1000, "two")
	c.DeleteCacheEntry(testKey)
	assert.True(t, c.IsEmpty(testKey))
	assert.False(t, c.IsEmpty(other))
	assert.Equal(t, int64(3), c.NumBytesInCache())
	// Deleting a missing key is harmless.
	c.DeleteCacheEntry(testKey)
}

func TestCacheConcurrentAppend(t *testing.T) {
	c := newTestCache(t)
	var wg sync.WaitGroup
	const writers, perWriter = 8, 100
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			key := Key{SessionNumber: int32(w % 2)}
			for i := 0; i < perWriter; i++ {
				c.AddEventData(key, int64(i), "xxxxxxxxxx")
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, int64(writers*perWriter*10), c.NumBytesInCache())
}
