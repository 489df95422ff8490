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
	"time"

	"github.com/dynatrace-oss/openkit-go/pkg/log"
	"github.com/dynatrace-oss/openkit-go/pkg/private/serrors"
	"github.com/dynatrace-oss/openkit-go/private/periodic"
)

// Eviction configuration defaults.
const (
	// DefaultMaxRecordAge is the age at which cached records expire.
	DefaultMaxRecordAge = 105 * time.Minute
	// DefaultUpperMemoryBoundary is the cache size at which space-based
	// eviction starts.
	DefaultUpperMemoryBoundary = 100 * 1024 * 1024
	// DefaultLowerMemoryBoundary is the cache size at which space-based
	// eviction stops.
	DefaultLowerMemoryBoundary = 80 * 1024 * 1024
	// DefaultRecordCheckInterval is the cadence of the eviction watchdog.
	DefaultRecordCheckInterval = 2 * time.Second
)

// EvictionConfig configures the eviction engine.
type EvictionConfig struct {
	// MaxRecordAge is the age limit of cached records. Zero selects
	// DefaultMaxRecordAge; a negative value disables time-based eviction.
	MaxRecordAge time.Duration
	// UpperMemoryBoundary starts space-based eviction when the total cache
	// size exceeds it. Zero selects DefaultUpperMemoryBoundary; a negative
	// value disables space-based eviction.
	UpperMemoryBoundary int64
	// LowerMemoryBoundary is the size space-based eviction shrinks the
	// cache down to.
	LowerMemoryBoundary int64
	// RecordCheckInterval is the watchdog cadence.
	RecordCheckInterval time.Duration
}

// InitDefaults populates unset fields with default values.
func (c *EvictionConfig) InitDefaults() {
	if c.MaxRecordAge == 0 {
		c.MaxRecordAge = DefaultMaxRecordAge
	}
	if c.UpperMemoryBoundary == 0 {
		c.UpperMemoryBoundary = DefaultUpperMemoryBoundary
	}
	if c.LowerMemoryBoundary == 0 {
		c.LowerMemoryBoundary = DefaultLowerMemoryBoundary
	}
	if c.RecordCheckInterval == 0 {
		c.RecordCheckInterval = DefaultRecordCheckInterval
	}
}

// Validate checks the configured boundaries.
func (c *EvictionConfig) Validate() error {
	if c.LowerMemoryBoundary > c.UpperMemoryBoundary {
		return serrors.New("lower memory boundary above upper",
			"lower", c.LowerMemoryBoundary, "upper", c.UpperMemoryBoundary)
	}
	return nil
}

// Evictor periodically prunes the cache: records beyond the age limit are
// dropped on every interval, and whenever the total size exceeds the upper
// memory boundary the oldest records of every entry are dropped until the
// size falls below the lower boundary.
type Evictor struct {
	cache  *Cache
	cfg    EvictionConfig
	nowMs  func() int64
	logger log.Logger
	runner *periodic.Runner
}

// NewEvictor creates an eviction engine for the given cache. The nowMs
// function supplies the current time in milliseconds since the epoch.
func NewEvictor(cache *Cache, cfg EvictionConfig, nowMs func() int64,
	logger log.Logger) (*Evictor, error) {

	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Evictor{
		cache:  cache,
		cfg:    cfg,
		nowMs:  nowMs,
		logger: logger,
	}, nil
}

// Start launches the eviction watchdog with the given ticker. Passing nil
// uses a wall-clock ticker at the configured interval.
func (e *Evictor) Start(ticker periodic.Ticker) {
	if ticker == nil {
		ticker = periodic.NewTicker(e.cfg.RecordCheckInterval)
	}
	e.runner = periodic.Start(e, ticker, e.cfg.RecordCheckInterval, e.logger)
}

// Stop terminates the eviction watchdog. It blocks until a running
// eviction pass is done.
func (e *Evictor) Stop() {
	if e.runner != nil {
		e.runner.Stop()
	}
}

// Name implements periodic.Task.
func (e *Evictor) Name() string {
	return "beacon cache eviction"
}

// Run executes one eviction pass.
func (e *Evictor) Run(ctx context.Context) {
	e.runTimeEviction(ctx)
	e.runSpaceEviction(ctx)
}

func (e *Evictor) runTimeEviction(ctx context.Context) {
	if e.cfg.MaxRecordAge <= 0 {
		return
	}
	minTimestampMs := e.nowMs() - e.cfg.MaxRecordAge.Milliseconds()
	var evicted int
	for _, key := range e.cache.Keys() {
		if ctx.Err() != nil {
			return
		}
		evicted += e.cache.EvictRecordsByAge(key, minTimestampMs)
	}
	if evicted > 0 {
		log.SafeDebug(e.logger, "Evicted expired beacon records", "count", evicted)
	}
}

func (e *Evictor) runSpaceEviction(ctx context.Context) {
	if e.cfg.UpperMemoryBoundary <= 0 {
		return
	}
	if e.cache.NumBytesInCache() <= e.cfg.UpperMemoryBoundary {
		return
	}
	var evicted int
	for e.cache.NumBytesInCache() > e.cfg.LowerMemoryBoundary {
		if ctx.Err() != nil {
			break
		}
		removed := 0
		for _, key := range e.cache.Keys() {
			if e.cache.NumBytesInCache() <= e.cfg.LowerMemoryBoundary {
				break
			}
			removed += e.cache.EvictRecordsByNumber(key, 1)
		}
		if removed == 0 {
			// Only in-flight data is left; nothing more may be evicted.
			break
		}
		evicted += removed
	}
	if evicted > 0 {
		log.SafeDebug(e.logger, "Evicted beacon records to reclaim memory",
			"count", evicted, "cacheSize", e.cache.NumBytesInCache())
	}
}
