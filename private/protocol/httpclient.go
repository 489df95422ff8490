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
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dynatrace-oss/openkit-go/pkg/log"
	"github.com/dynatrace-oss/openkit-go/pkg/metrics"
	"github.com/dynatrace-oss/openkit-go/private/config"
)

// Client is the protocol adapter towards the collector. Implementations
// never return a nil response; transport failures surface as a response
// with Err set.
type Client interface {
	// SendStatusRequest asks the collector for the current server
	// configuration.
	SendStatusRequest(ctx context.Context) *StatusResponse
	// SendNewSessionRequest announces a new session and fetches the
	// configuration to apply to it.
	SendNewSessionRequest(ctx context.Context) *StatusResponse
	// SendBeaconRequest posts one beacon chunk.
	SendBeaconRequest(ctx context.Context, clientIP string, data []byte) *StatusResponse
	// Close releases connection resources.
	Close()
}

// ClientProvider constructs a Client for one send cycle. The sender
// acquires a client per attempt and closes it on every exit path.
type ClientProvider func(cfg config.HTTPClient, logger log.Logger) Client

// ClientMetrics instruments the HTTP adapter. Any field may be nil.
type ClientMetrics struct {
	// Requests counts protocol requests, labeled by kind and result.
	Requests metrics.Counter
}

// httpClient is the net/http backed protocol adapter.
type httpClient struct {
	cfg     config.HTTPClient
	logger  log.Logger
	metrics ClientMetrics
	client  *http.Client

	monitorURL    string
	newSessionURL string
}

// NewHTTPClient creates a protocol adapter for the given endpoint
// configuration.
func NewHTTPClient(cfg config.HTTPClient, logger log.Logger) Client {
	return NewInstrumentedHTTPClient(cfg, logger, ClientMetrics{})
}

// NewInstrumentedHTTPClient creates a protocol adapter with metrics
// attached.
func NewInstrumentedHTTPClient(cfg config.HTTPClient, logger log.Logger,
	m ClientMetrics) Client {

	cfg.InitDefaults()
	return &httpClient{
		cfg:           cfg,
		logger:        logger,
		metrics:       m,
		client:        &http.Client{Timeout: cfg.Timeout},
		monitorURL:    buildMonitorURL(cfg, false),
		newSessionURL: buildMonitorURL(cfg, true),
	}
}

// buildMonitorURL assembles the query for monitor-type requests:
// type, server id, application id, agent version, platform and technology
// type.
func buildMonitorURL(cfg config.HTTPClient, newSession bool) string {
	var b strings.Builder
	b.WriteString(cfg.BaseURL)
	b.WriteString("?type=m")
	b.WriteString("&srvid=")
	b.WriteString(strconv.Itoa(cfg.ServerID))
	b.WriteString("&app=")
	b.WriteString(percentEncode(cfg.ApplicationID))
	b.WriteString("&va=")
	b.WriteString(percentEncode(config.AgentVersion))
	b.WriteString("&pt=")
	b.WriteString(strconv.Itoa(config.PlatformTypeOpenKit))
	b.WriteString("&tt=")
	b.WriteString(config.AgentTechnologyType)
	if newSession {
		b.WriteString("&ns=1")
	}
	return b.String()
}

func (c *httpClient) SendStatusRequest(ctx context.Context) *StatusResponse {
	return c.exchange(ctx, "status", http.MethodGet, c.monitorURL, "", nil)
}

func (c *httpClient) SendNewSessionRequest(ctx context.Context) *StatusResponse {
	return c.exchange(ctx, "new_session", http.MethodGet, c.newSessionURL, "", nil)
}

func (c *httpClient) SendBeaconRequest(ctx context.Context, clientIP string,
	data []byte) *StatusResponse {

	return c.exchange(ctx, "beacon", http.MethodPost, c.monitorURL, clientIP, data)
}

func (c *httpClient) Close() {
	c.client.CloseIdleConnections()
}

func (c *httpClient) exchange(ctx context.Context, kind, method, url, clientIP string,
	body []byte) *StatusResponse {

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return c.fail(kind, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}
	if clientIP != "" {
		req.Header.Set("X-Client-IP", clientIP)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return c.fail(kind, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return c.fail(kind, err)
	}
	result := &StatusResponse{Code: resp.StatusCode}
	if result.IsTooManyRequests() {
		result.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		srv, mask, err := ParseStatusBody(raw)
		if err != nil {
			log.SafeWarn(c.logger, "Unparsable status response", "kind", kind, "err", err)
			result.Err = err
		} else {
			result.Server = srv
			result.Mask = mask
		}
	}
	c.count(kind, result)
	return result
}

func (c *httpClient) fail(kind string, err error) *StatusResponse {
	log.SafeWarn(c.logger, "HTTP request failed", "kind", kind, "err", err)
	resp := &StatusResponse{Err: err}
	c.count(kind, resp)
	return resp
}

func (c *httpClient) count(kind string, resp *StatusResponse) {
	if c.metrics.Requests == nil {
		return
	}
	result := "ok"
	if resp.IsErroneous() {
		result = "error"
	}
	c.metrics.Requests.With("kind", kind, "result", result).Add(1)
}
