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
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dynatrace-oss/openkit-go/pkg/private/serrors"
	"github.com/dynatrace-oss/openkit-go/private/config"
)

// Status response keys, as sent by the collector.
const (
	keyCapture            = "cp"
	keyCaptureErrors      = "er"
	keyCaptureCrashes     = "cr"
	keyBeaconSize         = "bl"
	keyServerID           = "id"
	keyTrafficControl     = "tc"
	keySendInterval       = "sr"
	keyMultiplicity       = "mp"
	keySplitByEvents      = "ss"
	keyMaxSessionDuration = "md"
	keySessionTimeout     = "st"
	keyVisitStoreVersion  = "vs"
)

// DefaultRetryAfter applies when a too-many-requests response carries no
// usable Retry-After header.
const DefaultRetryAfter = 10 * time.Minute

// StatusResponse is the parsed outcome of one request towards the
// collector.
type StatusResponse struct {
	// Code is the HTTP status code; 0 if no response was received.
	Code int
	// Server carries the configuration values of the response body.
	Server config.Server
	// Mask records which Server fields the body carried explicitly.
	Mask config.ServerFieldMask
	// RetryAfter is the backoff requested by a too-many-requests response.
	RetryAfter time.Duration
	// Err is the transport or parse error, if any.
	Err error
}

// IsErroneous reports whether the exchange failed: transport error, parse
// failure, or a status code outside [200,400).
func (r *StatusResponse) IsErroneous() bool {
	if r == nil {
		return true
	}
	return r.Err != nil || r.Code < http.StatusOK || r.Code >= http.StatusBadRequest
}

// IsTooManyRequests reports whether the collector asked for backoff.
func (r *StatusResponse) IsTooManyRequests() bool {
	return r != nil && r.Code == http.StatusTooManyRequests
}

// ParseStatusBody parses a status response body. The body consists of
// key=value pairs separated by line breaks or ampersands. Unknown keys are
// ignored so that protocol extensions do not break older agents.
func ParseStatusBody(body []byte) (config.Server, config.ServerFieldMask, error) {
	var srv config.Server
	var mask config.ServerFieldMask
	fields := strings.FieldsFunc(string(body), func(r rune) bool {
		return r == '\n' || r == '\r' || r == '&'
	})
	for _, field := range fields {
		k, v, found := strings.Cut(field, "=")
		if !found {
			return srv, mask, serrors.New("malformed status response entry", "entry", field)
		}
		if k == "type" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return srv, mask, serrors.Wrap("malformed status response value", err, "key", k)
		}
		switch k {
		case keyCapture:
			srv.Capture = n == 1
			mask.Capture = true
		case keyCaptureErrors:
			srv.CaptureErrors = n != 0
			mask.CaptureErrors = true
		case keyCaptureCrashes:
			srv.CaptureCrashes = n != 0
			mask.CaptureCrashes = true
		case keyBeaconSize:
			srv.BeaconSizeBytes = n
			mask.BeaconSizeBytes = true
		case keyServerID:
			srv.ServerID = n
			mask.ServerID = true
		case keyTrafficControl:
			srv.TrafficControlPercentage = n
			mask.TrafficControlPercentage = true
		case keySendInterval:
			srv.SendInterval = time.Duration(n) * time.Second
			mask.SendInterval = true
		case keyMultiplicity:
			srv.Multiplicity = n
			mask.Multiplicity = true
		case keySplitByEvents:
			srv.MaxEventsPerSession = n
			mask.MaxEventsPerSession = true
		case keyMaxSessionDuration:
			// Transmitted in minutes.
			srv.MaxSessionDuration = time.Duration(n) * time.Minute
			mask.MaxSessionDuration = true
		case keySessionTimeout:
			// Transmitted in seconds.
			srv.SessionTimeout = time.Duration(n) * time.Second
			mask.SessionTimeout = true
		case keyVisitStoreVersion:
			srv.VisitStoreVersion = n
			mask.VisitStoreVersion = true
		}
	}
	return srv, mask, nil
}

// parseRetryAfter interprets the Retry-After header of a too-many-requests
// response. Only the delay-seconds form is supported; anything else yields
// the default backoff.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return DefaultRetryAfter
	}
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs < 0 {
		return DefaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}
