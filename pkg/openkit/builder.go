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

package openkit

import (
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dynatrace-oss/openkit-go/pkg/log"
	"github.com/dynatrace-oss/openkit-go/pkg/metrics"
	"github.com/dynatrace-oss/openkit-go/private/cache"
	"github.com/dynatrace-oss/openkit-go/private/config"
	"github.com/dynatrace-oss/openkit-go/private/protocol"
	"github.com/dynatrace-oss/openkit-go/private/provider"
	"github.com/dynatrace-oss/openkit-go/private/sender"
)

// Builder assembles one OpenKit instance.
type Builder struct {
	cfg      config.OpenKit
	privacy  config.Privacy
	eviction cache.EvictionConfig
	logger   log.Logger
	registry prometheus.Registerer

	httpTimeout time.Duration

	// Test seams; production builds leave them nil.
	clientProvider protocol.ClientProvider
	timing         provider.Timing
	threadID       provider.ThreadID
	random         provider.Random
	sessionIDs     provider.SessionID
}

// NewBuilder starts a builder for the given collector endpoint, monitored
// application and device.
func NewBuilder(endpointURL, applicationID string, deviceID int64) *Builder {
	b := &Builder{
		cfg: config.OpenKit{
			EndpointURL:   endpointURL,
			ApplicationID: applicationID,
			DeviceID:      deviceID,
		},
	}
	b.privacy.InitDefaults()
	return b
}

// NewBuilderFromFile starts a builder with defaults loaded from the TOML
// file at path. Explicit builder calls override file values.
func NewBuilderFromFile(path string) (*Builder, error) {
	f, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	b := NewBuilder(f.EndpointURL, f.ApplicationID, f.DeviceID)
	b.cfg.ApplicationVersion = f.ApplicationVersion
	b.cfg.OperatingSystem = f.OperatingSystem
	b.cfg.Manufacturer = f.Manufacturer
	b.cfg.ModelID = f.ModelID
	if f.DataCollectionLevel != "" {
		dcl, err := config.ParseDataCollectionLevel(f.DataCollectionLevel)
		if err != nil {
			return nil, err
		}
		b.privacy.DataCollectionLevel = dcl
	}
	if f.CrashReportingLevel != "" {
		crl, err := config.ParseCrashReportingLevel(f.CrashReportingLevel)
		if err != nil {
			return nil, err
		}
		b.privacy.CrashReportingLevel = crl
	}
	b.eviction.MaxRecordAge = f.CacheMaxRecordAge.Duration
	b.eviction.LowerMemoryBoundary = f.CacheLowerBoundBytes
	b.eviction.UpperMemoryBoundary = f.CacheUpperBoundBytes
	return b, nil
}

// WithApplicationVersion sets the application version reported in beacons.
func (b *Builder) WithApplicationVersion(version string) *Builder {
	b.cfg.ApplicationVersion = version
	return b
}

// WithOperatingSystem sets the operating system reported in beacons.
func (b *Builder) WithOperatingSystem(os string) *Builder {
	b.cfg.OperatingSystem = os
	return b
}

// WithManufacturer sets the device manufacturer reported in beacons.
func (b *Builder) WithManufacturer(manufacturer string) *Builder {
	b.cfg.Manufacturer = manufacturer
	return b
}

// WithModelID sets the device model reported in beacons.
func (b *Builder) WithModelID(modelID string) *Builder {
	b.cfg.ModelID = modelID
	return b
}

// WithDataCollectionLevel sets the privacy data collection level.
func (b *Builder) WithDataCollectionLevel(level DataCollectionLevel) *Builder {
	b.privacy = config.NewPrivacy(level, b.privacy.CrashReportingLevel)
	return b
}

// WithCrashReportingLevel sets the privacy crash reporting level.
func (b *Builder) WithCrashReportingLevel(level CrashReportingLevel) *Builder {
	b.privacy = config.NewPrivacy(b.privacy.DataCollectionLevel, level)
	return b
}

// WithBeaconCacheMaxAge bounds the age of cached beacon records.
func (b *Builder) WithBeaconCacheMaxAge(maxAge time.Duration) *Builder {
	b.eviction.MaxRecordAge = maxAge
	return b
}

// WithBeaconCacheBounds sets the memory boundaries of the beacon cache:
// eviction starts above upper and stops at lower.
func (b *Builder) WithBeaconCacheBounds(lower, upper int64) *Builder {
	b.eviction.LowerMemoryBoundary = lower
	b.eviction.UpperMemoryBoundary = upper
	return b
}

// WithShutdownTimeout bounds how long Shutdown waits for the terminal
// drain.
func (b *Builder) WithShutdownTimeout(timeout time.Duration) *Builder {
	b.cfg.ShutdownTimeout = timeout
	return b
}

// WithHTTPTimeout bounds a single HTTP exchange with the collector.
func (b *Builder) WithHTTPTimeout(timeout time.Duration) *Builder {
	b.httpTimeout = timeout
	return b
}

// WithLogger attaches the application's logger. Without one the agent is
// silent.
func (b *Builder) WithLogger(logger log.Logger) *Builder {
	b.logger = logger
	return b
}

// WithPrometheusRegistry registers the agent's self-instrumentation with
// the given registerer. Without one, instrumentation is off.
func (b *Builder) WithPrometheusRegistry(reg prometheus.Registerer) *Builder {
	b.registry = reg
	return b
}

// Build assembles the OpenKit instance and starts its background workers.
func (b *Builder) Build() (OpenKit, error) {
	cfg := b.cfg
	cfg.InstanceID = uuid.NewString()
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = log.Discard()
	}

	cacheMetrics, senderMetrics := b.buildMetrics()
	beaconCache := cache.New(logger.New("component", "beacon_cache"), cacheMetrics)
	evictor, err := cache.NewEvictor(beaconCache, b.eviction, timingOrDefault(b.timing).CurrentTimestampMs,
		logger.New("component", "evictor"))
	if err != nil {
		return nil, err
	}

	snd := sender.New(logger.New("component", "sender"), sender.Config{
		OpenKit: cfg,
		HTTP: config.HTTPClient{
			BaseURL:       cfg.EndpointURL,
			ApplicationID: cfg.ApplicationID,
			Timeout:       b.httpTimeout,
		},
		ClientProvider: b.clientProvider,
		Timing:         timingOrDefault(b.timing),
		Metrics:        senderMetrics,
	})

	o := &openKitImpl{
		logger:     logger,
		cfg:        cfg,
		privacy:    b.privacy,
		cache:      beaconCache,
		evictor:    evictor,
		sender:     snd,
		sessionIDs: b.sessionIDs,
		timing:     timingOrDefault(b.timing),
		threadID:   b.threadID,
		random:     b.random,
	}
	if o.sessionIDs == nil {
		o.sessionIDs = provider.NewSessionID(0)
	}
	if o.threadID == nil {
		o.threadID = provider.DefaultThreadID()
	}
	if o.random == nil {
		o.random = provider.DefaultRandom()
	}

	evictor.Start(nil)
	snd.Start()
	log.SafeInfo(logger, "OpenKit instantiated",
		"applicationID", cfg.ApplicationID, "deviceID", cfg.DeviceID,
		"instanceID", cfg.InstanceID)
	return o, nil
}

func timingOrDefault(t provider.Timing) provider.Timing {
	if t == nil {
		return provider.DefaultTiming()
	}
	return t
}

// buildMetrics constructs and registers the prometheus instruments when a
// registry was supplied.
func (b *Builder) buildMetrics() (cache.Metrics, sender.Metrics) {
	if b.registry == nil {
		return cache.Metrics{}, sender.Metrics{}
	}
	sizeBytes := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "openkit_beacon_cache_size_bytes",
		Help: "Total UTF-8 byte size of all cached beacon records.",
	}, []string{})
	evicted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openkit_beacon_cache_evicted_records_total",
		Help: "Beacon records dropped by cache eviction.",
	}, []string{"strategy"})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openkit_protocol_requests_total",
		Help: "Protocol requests towards the collector.",
	}, []string{"kind", "result"})
	forced := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openkit_forced_session_closes_total",
		Help: "Sessions the watchdog had to force-end.",
	}, []string{})
	b.registry.MustRegister(sizeBytes, evicted, requests, forced)
	return cache.Metrics{
			SizeBytes:      metrics.NewPromGauge(sizeBytes),
			EvictedRecords: metrics.NewPromCounter(evicted),
		}, sender.Metrics{
			Requests:            metrics.NewPromCounter(requests),
			ForcedSessionCloses: metrics.NewPromCounter(forced),
		}
}
