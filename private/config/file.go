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

package config

import (
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dynatrace-oss/openkit-go/pkg/private/serrors"
)

// File is the on-disk representation of builder defaults, in TOML. All
// fields are optional; unset fields keep the builder's programmatic values.
type File struct {
	// EndpointURL of the collector.
	EndpointURL string `toml:"endpoint_url,omitempty"`
	// ApplicationID of the monitored application.
	ApplicationID string `toml:"application_id,omitempty"`
	// DeviceID of this device.
	DeviceID int64 `toml:"device_id,omitempty"`
	// ApplicationVersion reported in beacons.
	ApplicationVersion string `toml:"application_version,omitempty"`
	// OperatingSystem reported in beacons.
	OperatingSystem string `toml:"operating_system,omitempty"`
	// Manufacturer reported in beacons.
	Manufacturer string `toml:"manufacturer,omitempty"`
	// ModelID reported in beacons.
	ModelID string `toml:"model_id,omitempty"`
	// DataCollectionLevel: "off", "performance" or "user-behavior".
	DataCollectionLevel string `toml:"data_collection_level,omitempty"`
	// CrashReportingLevel: "off", "opt-out" or "opt-in".
	CrashReportingLevel string `toml:"crash_reporting_level,omitempty"`
	// CacheMaxRecordAge bounds the age of cached beacon records.
	CacheMaxRecordAge duration `toml:"cache_max_record_age,omitempty"`
	// CacheLowerBoundBytes is the cache size eviction stops at.
	CacheLowerBoundBytes int64 `toml:"cache_lower_bound_bytes,omitempty"`
	// CacheUpperBoundBytes is the cache size eviction starts at.
	CacheUpperBoundBytes int64 `toml:"cache_upper_bound_bytes,omitempty"`
}

// duration is a TOML-friendly wrapper around time.Duration accepting Go
// duration strings.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadFile reads builder defaults from the TOML file at path.
func LoadFile(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, serrors.Wrap("reading config file", err, "path", path)
	}
	var f File
	if err := toml.Unmarshal(raw, &f); err != nil {
		return File{}, serrors.Wrap("parsing config file", err, "path", path)
	}
	return f, nil
}

// ParseDataCollectionLevel parses the file representation of a data
// collection level.
func ParseDataCollectionLevel(s string) (DataCollectionLevel, error) {
	switch s {
	case "off":
		return DataCollectionOff, nil
	case "performance":
		return DataCollectionPerformance, nil
	case "user-behavior":
		return DataCollectionUserBehavior, nil
	default:
		return DataCollectionOff, serrors.New("unknown data collection level", "level", s)
	}
}

// ParseCrashReportingLevel parses the file representation of a crash
// reporting level.
func ParseCrashReportingLevel(s string) (CrashReportingLevel, error) {
	switch s {
	case "off":
		return CrashReportingOff, nil
	case "opt-out":
		return CrashReportingOptOut, nil
	case "opt-in":
		return CrashReportingOptIn, nil
	default:
		return CrashReportingOff, serrors.New("unknown crash reporting level", "level", s)
	}
}
