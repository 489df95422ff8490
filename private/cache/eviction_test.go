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
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dynatrace-oss/openkit-go/pkg/log/testlog"
	"github.com/dynatrace-oss/openkit-go/private/periodic"
)

func newTestEvictor(t *testing.T, c *Cache, cfg EvictionConfig, nowMs func() int64) *Evictor {
	t.Helper()
	e, err := NewEvictor(c, cfg, nowMs, testlog.NewLogger(t))
	require.NoError(t, err)
	return e
}

func TestEvictionConfigValidate(t *testing.T) {
	cfg := EvictionConfig{LowerMemoryBoundary: 100, UpperMemoryBoundary: 50}
	_, err := NewEvictor(newTestCache(t), cfg, func() int64 { return 0 }, testlog.NewLogger(t))
	assert.Error(t, err)
}

func TestTimeEviction(t *testing.T) {
	c := newTestCache(t)
	nowMs := int64(10_000_000)
	e := newTestEvictor(t, c, EvictionConfig{MaxRecordAge: time.Minute},
		func() int64 { return nowMs })

	c.AddEventData(testKey, nowMs-61_000, "expired")
	c.AddEventData(testKey, nowMs-1000, "fresh")
	e.Run(context.Background())

	c.PrepareDataForSending(testKey)
	chunk := c.GetNextBeaconChunk(testKey, "p", 1000, "&")
	assert.Equal(t, "p&fresh", chunk)
}

func TestSpaceEviction(t *testing.T) {
	c := newTestCache(t)
	e := newTestEvictor(t, c, EvictionConfig{
		MaxRecordAge:        time.Hour,
		UpperMemoryBoundary: 100,
		LowerMemoryBoundary: 50,
	}, func() int64 { return 0 })

	otherKey := Key{SessionNumber: 2}
	for i := 0; i < 10; i++ {
		c.AddEventData(testKey, int64(i), strings.Repeat("a", 10))
		c.AddEventData(otherKey, int64(i), strings.Repeat("b", 10))
	}
	require.Equal(t, int64(200), c.NumBytesInCache())

	e.Run(context.Background())
	assert.LessOrEqual(t, c.NumBytesInCache(), int64(50))
	assert.Greater(t, c.NumBytesInCache(), int64(0))
}

func TestSpaceEvictionBelowUpperBoundIsNoop(t *testing.T) {
	c := newTestCache(t)
	e := newTestEvictor(t, c, EvictionConfig{
		MaxRecordAge:        time.Hour,
		UpperMemoryBoundary: 1000,
		LowerMemoryBoundary: 500,
	}, func() int64 { return 0 })

	c.AddEventData(testKey, 0, strings.Repeat("a", 100))
	e.Run(context.Background())
	assert.Equal(t, int64(100), c.NumBytesInCache())
}

func TestSpaceEvictionSparesSendingBuffer(t *testing.T) {
	c := newTestCache(t)
	e := newTestEvictor(t, c, EvictionConfig{
		MaxRecordAge:        time.Hour,
		UpperMemoryBoundary: 10,
		LowerMemoryBoundary: 5,
	}, func() int64 { return 0 })

	c.AddEventData(testKey, 0, strings.Repeat("a", 100))
	c.PrepareDataForSending(testKey)
	e.Run(context.Background())
	// Everything is in flight; nothing may be evicted even though the
	// cache is above its boundary.
	assert.Equal(t, int64(100), c.NumBytesInCache())
	assert.True(t, c.HasDataForSending(testKey))
}

func TestEvictorStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := newTestCache(t)
	nowMs := int64(10_000_000)
	e := newTestEvictor(t, c, EvictionConfig{MaxRecordAge: time.Minute},
		func() int64 { return nowMs })

	c.AddEventData(testKey, nowMs-120_000, "expired")
	ticker := periodic.NewTicker(time.Millisecond)
	e.Start(ticker)

	assert.Eventually(t, func() bool {
		return c.IsEmpty(testKey)
	}, time.Second, 5*time.Millisecond)
	e.Stop()
}
