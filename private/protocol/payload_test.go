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
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basePayloadInput() EventPayloadInput {
	return EventPayloadInput{
		Name:          "page.load",
		ApplicationID: "APP-1",
		InstanceID:    "instance-1",
		SessionID:     "17",
		TimestampNs:   1234567890,
		OSName:        "linux",
		Manufacturer:  "acme",
		ModelID:       "unit-1",
		AppVersion:    "1.2.3",
	}
}

func unmarshalPayload(t *testing.T, payload string) map[string]any {
	t.Helper()
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &got))
	return got
}

func TestBuildEventPayload(t *testing.T) {
	t.Run("forced attributes", func(t *testing.T) {
		payload, err := BuildEventPayload(basePayloadInput())
		require.NoError(t, err)
		got := unmarshalPayload(t, payload)

		assert.Equal(t, "page.load", got["event.name"])
		assert.Equal(t, EventKindRUM, got["event.kind"])
		assert.Equal(t, "APP-1", got["dt.rum.application.id"])
		assert.Equal(t, "instance-1", got["dt.rum.instance.id"])
		assert.Equal(t, "17", got["dt.rum.sid"])
		assert.Equal(t, "1.2", got["dt.rum.schema_version"])
		assert.Equal(t, "1.2.3", got["app.version"])
		assert.Equal(t, float64(1234567890), got["timestamp"])
		assert.Equal(t, "linux", got["os.name"])
		assert.Equal(t, "acme", got["device.manufacturer"])
		assert.Equal(t, "unit-1", got["device.model.identifier"])
	})

	t.Run("reserved dt attributes are cleaned and reinstated", func(t *testing.T) {
		in := basePayloadInput()
		in.Attributes = map[string]any{
			"dt.rum.sid":    "spoofed",
			"dt":            "spoofed",
			"dt.custom":     "spoofed",
			"business.name": "kept",
		}
		payload, err := BuildEventPayload(in)
		require.NoError(t, err)
		got := unmarshalPayload(t, payload)
		assert.Equal(t, "17", got["dt.rum.sid"])
		assert.Equal(t, "kept", got["business.name"])
		assert.NotContains(t, got, "dt")
		assert.NotContains(t, got, "dt.custom")
	})

	t.Run("caller overrides overridable defaults", func(t *testing.T) {
		in := basePayloadInput()
		in.Attributes = map[string]any{
			"timestamp":  int64(42),
			"event.kind": "CUSTOM",
			"os.name":    "plan9",
		}
		payload, err := BuildEventPayload(in)
		require.NoError(t, err)
		got := unmarshalPayload(t, payload)
		assert.Equal(t, float64(42), got["timestamp"])
		assert.Equal(t, "CUSTOM", got["event.kind"])
		assert.Equal(t, "plan9", got["os.name"])
		// event.name is forced and cannot be overridden.
		in.Attributes["event.name"] = "spoofed"
		payload, err = BuildEventPayload(in)
		require.NoError(t, err)
		assert.Equal(t, "page.load", unmarshalPayload(t, payload)["event.name"])
	})

	t.Run("non-finite values flagged", func(t *testing.T) {
		in := basePayloadInput()
		in.Attributes = map[string]any{
			"nan": math.NaN(),
			"nested": map[string]any{
				"inf": math.Inf(1),
			},
			"list": []any{math.Inf(-1)},
		}
		payload, err := BuildEventPayload(in)
		require.NoError(t, err)
		got := unmarshalPayload(t, payload)
		assert.Equal(t, true, got["dt.rum.has_nfn_values"])
		assert.Equal(t, "NaN", got["nan"])
		assert.Equal(t, "Infinity", got["nested"].(map[string]any)["inf"])
		assert.Equal(t, "-Infinity", got["list"].([]any)[0])
	})

	t.Run("finite values not flagged", func(t *testing.T) {
		in := basePayloadInput()
		in.Attributes = map[string]any{"v": 1.5}
		payload, err := BuildEventPayload(in)
		require.NoError(t, err)
		assert.NotContains(t, unmarshalPayload(t, payload), "dt.rum.has_nfn_values")
	})

	t.Run("payload too large", func(t *testing.T) {
		in := basePayloadInput()
		in.Attributes = map[string]any{"k": strings.Repeat("x", 17000)}
		_, err := BuildEventPayload(in)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrPayloadTooLarge))
	})

	t.Run("biz event", func(t *testing.T) {
		in := basePayloadInput()
		in.Name = ""
		in.Type = "purchase"
		in.Attributes = map[string]any{"amount": 9.99}
		payload, err := BuildEventPayload(in)
		require.NoError(t, err)
		got := unmarshalPayload(t, payload)
		assert.Equal(t, "purchase", got["event.type"])
		assert.Equal(t, EventKindBiz, got["event.kind"])
		assert.NotContains(t, got, "event.name")
		size, ok := got["dt.rum.custom_attributes_size"].(float64)
		require.True(t, ok)
		assert.Greater(t, size, float64(0))
	})

	t.Run("unserializable attributes", func(t *testing.T) {
		in := basePayloadInput()
		in.Attributes = map[string]any{"ch": make(chan int)}
		_, err := BuildEventPayload(in)
		assert.Error(t, err)
	})
}
