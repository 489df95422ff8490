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

// Package protocol implements the beacon wire protocol: record
// serialization, the per-session Beacon, status-response parsing and the
// HTTP adapter towards the collector.
package protocol

import (
	"strconv"
)

// EventType is the protocol-defined record type, transmitted under the et
// key.
type EventType int32

// The record types of the beacon protocol.
const (
	EventTypeAction       EventType = 1
	EventTypeValueString  EventType = 4
	EventTypeValueInt     EventType = 10
	EventTypeValueDouble  EventType = 11
	EventTypeNamedEvent   EventType = 12
	EventTypeSessionStart EventType = 18
	EventTypeSessionEnd   EventType = 19
	EventTypeWebRequest   EventType = 30
	EventTypeError        EventType = 40
	EventTypeException    EventType = 42
	EventTypeCrash        EventType = 50
	EventTypeIdentifyUser EventType = 60
	EventTypeEvent        EventType = 98
)

func (e EventType) String() string {
	switch e {
	case EventTypeAction:
		return "ACTION"
	case EventTypeValueString:
		return "VALUE_STRING"
	case EventTypeValueInt:
		return "VALUE_INT"
	case EventTypeValueDouble:
		return "VALUE_DOUBLE"
	case EventTypeNamedEvent:
		return "NAMED_EVENT"
	case EventTypeSessionStart:
		return "SESSION_START"
	case EventTypeSessionEnd:
		return "SESSION_END"
	case EventTypeWebRequest:
		return "WEB_REQUEST"
	case EventTypeError:
		return "ERROR"
	case EventTypeException:
		return "EXCEPTION"
	case EventTypeCrash:
		return "CRASH"
	case EventTypeIdentifyUser:
		return "IDENTIFY_USER"
	case EventTypeEvent:
		return "EVENT"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(e)) + ")"
	}
}
