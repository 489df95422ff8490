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
	"time"
)

// HTTPClient is the configuration of the HTTP protocol adapter. A new value
// is derived whenever the server assigns a different server id.
type HTTPClient struct {
	// BaseURL is the beacon endpoint.
	BaseURL string
	// ServerID is the id of the server to talk to.
	ServerID int
	// ApplicationID of the monitored application.
	ApplicationID string
	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration
}

// InitDefaults populates unset fields with default values.
func (c *HTTPClient) InitDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ServerID == 0 {
		c.ServerID = DefaultServerID
	}
}

// WithServerID returns a copy of the configuration addressing the given
// server id.
func (c HTTPClient) WithServerID(id int) HTTPClient {
	c.ServerID = id
	return c
}
