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

	"github.com/dynatrace-oss/openkit-go/pkg/private/serrors"
)

// MaxEventPayloadBytes bounds the JSON payload of one event.
const MaxEventPayloadBytes = 16 * 1024

// Event kinds reported under the event.kind attribute.
const (
	EventKindRUM = "RUM_EVENT"
	EventKindBiz = "BIZ_EVENT"
)

// ErrPayloadTooLarge is returned when an event payload exceeds
// MaxEventPayloadBytes.
var ErrPayloadTooLarge = errors.New("event payload exceeds size limit")

// EventPayloadInput carries everything that goes into one event payload.
type EventPayloadInput struct {
	// Name is the event name (send-event API).
	Name string
	// Type is the business event type (send-biz-event API). Exactly one
	// of Name and Type is set.
	Type string
	// Attributes are the caller-provided attributes.
	Attributes map[string]any

	ApplicationID string
	InstanceID    string
	SessionID     string
	TimestampNs   int64

	OSName       string
	Manufacturer string
	ModelID      string
	AppVersion   string
}

// BuildEventPayload assembles the JSON payload of one event. Caller
// attributes are cleaned of reserved dt.* keys, then merged with the
// forced attributes; overridable defaults (timestamp, schema version,
// device metadata, event.kind) yield to caller values of the same name.
// If any leaf numeric value is non-finite it is replaced by its string
// representation and dt.rum.has_nfn_values is set.
func BuildEventPayload(in EventPayloadInput) (string, error) {
	attrs := make(map[string]any, len(in.Attributes)+16)
	for k, v := range in.Attributes {
		if isReservedAttribute(k) {
			continue
		}
		attrs[k] = v
	}

	hasNonFinite := false
	for k, v := range attrs {
		attrs[k] = sanitizeValue(v, &hasNonFinite)
	}

	// Overridable defaults: only set when the caller did not.
	setDefault := func(k string, v any) {
		if _, ok := attrs[k]; !ok {
			attrs[k] = v
		}
	}
	setDefault("timestamp", in.TimestampNs)
	if in.AppVersion != "" {
		setDefault("app.version", in.AppVersion)
	}
	if in.OSName != "" {
		setDefault("os.name", in.OSName)
	}
	if in.Manufacturer != "" {
		setDefault("device.manufacturer", in.Manufacturer)
	}
	if in.ModelID != "" {
		setDefault("device.model.identifier", in.ModelID)
	}

	// Forced attributes, reinstated after cleaning.
	if in.Type != "" {
		attrs["event.type"] = in.Type
		attrs["event.kind"] = EventKindBiz
		attrs["dt.rum.custom_attributes_size"] = customAttributesSize(in.Attributes)
	} else {
		attrs["event.name"] = in.Name
		setDefault("event.kind", EventKindRUM)
	}
	attrs["dt.rum.application.id"] = in.ApplicationID
	attrs["dt.rum.instance.id"] = in.InstanceID
	attrs["dt.rum.sid"] = in.SessionID
	attrs["dt.rum.schema_version"] = "1.2"
	if hasNonFinite {
		attrs["dt.rum.has_nfn_values"] = true
	}

	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", serrors.Wrap("unserializable event attributes", err)
	}
	if len(raw) > MaxEventPayloadBytes {
		return "", serrors.Join(ErrPayloadTooLarge, nil,
			"size", len(raw), "limit", MaxEventPayloadBytes)
	}
	return string(raw), nil
}

// isReservedAttribute reports whether the key is reserved for the agent.
func isReservedAttribute(k string) bool {
	return k == "dt" || strings.HasPrefix(k, "dt.")
}

// customAttributesSize is the serialized size of the caller attributes
// before cleaning, reported for business events.
func customAttributesSize(attrs map[string]any) int {
	finite := false
	cleaned := make(map[string]any, len(attrs))
	for k, v := range attrs {
		cleaned[k] = sanitizeValue(v, &finite)
	}
	raw, err := json.Marshal(cleaned)
	if err != nil {
		return 0
	}
	return len(raw)
}

// sanitizeValue replaces non-finite numbers with their string
// representation, recursing into maps and slices. encoding/json rejects
// NaN and infinities outright, which would lose the whole event.
func sanitizeValue(v any, hasNonFinite *bool) any {
	switch x := v.(type) {
	case float64:
		return sanitizeFloat(x, hasNonFinite)
	case float32:
		return sanitizeFloat(float64(x), hasNonFinite)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = sanitizeValue(e, hasNonFinite)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = sanitizeValue(e, hasNonFinite)
		}
		return out
	default:
		return v
	}
}

func sanitizeFloat(f float64, hasNonFinite *bool) any {
	switch {
	case math.IsNaN(f):
		*hasNonFinite = true
		return "NaN"
	case math.IsInf(f, 1):
		*hasNonFinite = true
		return "Infinity"
	case math.IsInf(f, -1):
		*hasNonFinite = true
		return "-Infinity"
	default:
		return f
	}
}
