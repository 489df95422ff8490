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

// Package config holds the configuration model of the beacon engine: the
// immutable per-instance OpenKit configuration, the privacy configuration,
// the server-controlled capture configuration, and the HTTP endpoint
// configuration.
package config

import (
	"net/url"
	"time"

	"github.com/dynatrace-oss/openkit-go/pkg/private/serrors"
)

// Agent constants reported in every beacon.
const (
	// ProtocolVersion is the beacon protocol version.
	ProtocolVersion = 3
	// AgentVersion is the version reported as agent version.
	AgentVersion = "3.3.0"
	// PlatformTypeOpenKit is the platform type of OpenKit agents.
	PlatformTypeOpenKit = 1
	// AgentTechnologyType identifies this agent implementation.
	AgentTechnologyType = "okgo"
	// ErrorTechnologyType identifies custom errors reported through the
	// agent's API.
	ErrorTechnologyType = "c"
	// DefaultServerID is the server id used before the first server
	// response assigns one.
	DefaultServerID = 1
)

// OpenKit is the immutable configuration of one OpenKit instance. It is
// fixed at Build time and shared by all sessions.
type OpenKit struct {
	// EndpointURL is the beacon endpoint, http or https.
	EndpointURL string
	// ApplicationID identifies the monitored application.
	ApplicationID string
	// DeviceID identifies the device; transmitted only when privacy
	// settings permit.
	DeviceID int64
	// ApplicationVersion is reported under the vn key. Optional.
	ApplicationVersion string
	// OperatingSystem is reported under the os key. Optional.
	OperatingSystem string
	// Manufacturer is reported under the mf key. Optional.
	Manufacturer string
	// ModelID is reported under the md key. Optional.
	ModelID string
	// InstanceID identifies this agent instance in event payloads.
	InstanceID string
	// ShutdownTimeout bounds how long Shutdown waits for the background
	// workers to drain.
	ShutdownTimeout time.Duration
}

// InitDefaults populates unset fields with default values.
func (c *OpenKit) InitDefaults() {
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Validate checks that the configuration is usable.
func (c *OpenKit) Validate() error {
	if c.ApplicationID == "" {
		return serrors.New("application id must not be empty")
	}
	u, err := url.Parse(c.EndpointURL)
	if err != nil {
		return serrors.Wrap("invalid endpoint URL", err, "url", c.EndpointURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return serrors.New("endpoint URL scheme must be http or https",
			"url", c.EndpointURL, "scheme", u.Scheme)
	}
	return nil
}
