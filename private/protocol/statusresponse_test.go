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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynatrace-oss/openkit-go/private/config"
)

func TestParseStatusBody(t *testing.T) {
	t.Run("full response", func(t *testing.T) {
		body := "type=m&cp=1&er=1&cr=0&bl=32768&id=7&tc=50&sr=120&mp=2&ss=100&md=360&st=600&vs=2"
		srv, mask, err := ParseStatusBody([]byte(body))
		require.NoError(t, err)

		want := config.Server{
			Capture:                  true,
			CaptureErrors:            true,
			CaptureCrashes:           false,
			BeaconSizeBytes:          32768,
			ServerID:                 7,
			TrafficControlPercentage: 50,
			SendInterval:             120 * time.Second,
			Multiplicity:             2,
			MaxEventsPerSession:      100,
			MaxSessionDuration:       360 * time.Minute,
			SessionTimeout:           600 * time.Second,
			VisitStoreVersion:        2,
		}
		assert.Empty(t, cmp.Diff(want, srv))
		assert.Equal(t, config.ServerFieldMask{
			Capture: true, CaptureErrors: true, CaptureCrashes: true,
			BeaconSizeBytes: true, ServerID: true, TrafficControlPercentage: true,
			SendInterval: true, Multiplicity: true, MaxEventsPerSession: true,
			MaxSessionDuration: true, SessionTimeout: true, VisitStoreVersion: true,
		}, mask)
	})

	t.Run("line separated", func(t *testing.T) {
		body := "type=m\ncp=0\nid=3\n"
		srv, mask, err := ParseStatusBody([]byte(body))
		require.NoError(t, err)
		assert.False(t, srv.Capture)
		assert.Equal(t, 3, srv.ServerID)
		assert.True(t, mask.Capture)
		assert.True(t, mask.ServerID)
		assert.False(t, mask.Multiplicity)
	})

	t.Run("unknown keys ignored", func(t *testing.T) {
		_, mask, err := ParseStatusBody([]byte("cp=1&xx=42"))
		require.NoError(t, err)
		assert.True(t, mask.Capture)
	})

	t.Run("malformed entry", func(t *testing.T) {
		_, _, err := ParseStatusBody([]byte("cp=1&garbage"))
		assert.Error(t, err)
	})

	t.Run("malformed value", func(t *testing.T) {
		_, _, err := ParseStatusBody([]byte("cp=yes"))
		assert.Error(t, err)
	})
}

func TestStatusResponseErroneous(t *testing.T) {
	tests := []struct {
		name      string
		resp      *StatusResponse
		erroneous bool
	}{
		{name: "nil response", resp: nil, erroneous: true},
		{name: "ok", resp: &StatusResponse{Code: 200}, erroneous: false},
		{name: "redirect is ok", resp: &StatusResponse{Code: 301}, erroneous: false},
		{name: "bad request", resp: &StatusResponse{Code: 400}, erroneous: true},
		{name: "too many requests", resp: &StatusResponse{Code: 429}, erroneous: true},
		{name: "server error", resp: &StatusResponse{Code: 500}, erroneous: true},
		{name: "parse error", resp: &StatusResponse{Code: 200, Err: assert.AnError}, erroneous: true},
		{name: "no response received", resp: &StatusResponse{}, erroneous: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.erroneous, test.resp.IsErroneous())
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 30*time.Second, parseRetryAfter("30"))
	assert.Equal(t, DefaultRetryAfter, parseRetryAfter(""))
	assert.Equal(t, DefaultRetryAfter, parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
	assert.Equal(t, DefaultRetryAfter, parseRetryAfter("-5"))
}
