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

// Server configuration defaults, used until the first server response.
const (
	DefaultCapture            = true
	DefaultCaptureErrors      = true
	DefaultCaptureCrashes     = true
	DefaultSendInterval       = 2 * time.Second
	DefaultBeaconSizeBytes    = 30 * 1024
	DefaultMultiplicity       = 1
	DefaultMaxSessionDuration = 6 * time.Hour
	DefaultSessionTimeout     = 10 * time.Minute
	DefaultVisitStoreVersion  = 1
	DefaultTrafficControl     = 100
)

// Server is the server-controlled capture configuration. Values arrive in
// status responses and replace the previous snapshot atomically
// (copy-on-write); a Server value is immutable once published.
type Server struct {
	// Capture globally toggles data capturing.
	Capture bool
	// CaptureErrors toggles capturing of error records.
	CaptureErrors bool
	// CaptureCrashes toggles capturing of crash records.
	CaptureCrashes bool
	// SendInterval is the cadence of the beacon sender.
	SendInterval time.Duration
	// ServerID is the id of the server to communicate with.
	ServerID int
	// BeaconSizeBytes bounds the size of one beacon POST.
	BeaconSizeBytes int
	// Multiplicity is the sampling weight reported back under the mp key.
	// Multiplicity zero disables capturing entirely.
	Multiplicity int
	// MaxSessionDuration is the wall-clock bound after which a session is
	// split.
	MaxSessionDuration time.Duration
	// MaxEventsPerSession splits a session after the given number of
	// top-level events, when positive.
	MaxEventsPerSession int
	// SessionTimeout is the idle bound after which a session is split.
	SessionTimeout time.Duration
	// VisitStoreVersion controls session-split tagging; session sequence
	// numbers are transmitted when it is greater than 1.
	VisitStoreVersion int
	// TrafficControlPercentage samples out whole sessions: a session emits
	// data iff its traffic-control value is below this percentage.
	TrafficControlPercentage int
}

// DefaultServer returns the configuration in effect before any server
// response.
func DefaultServer() Server {
	return Server{
		Capture:                  DefaultCapture,
		CaptureErrors:            DefaultCaptureErrors,
		CaptureCrashes:           DefaultCaptureCrashes,
		SendInterval:             DefaultSendInterval,
		ServerID:                 DefaultServerID,
		BeaconSizeBytes:          DefaultBeaconSizeBytes,
		Multiplicity:             DefaultMultiplicity,
		MaxSessionDuration:       DefaultMaxSessionDuration,
		SessionTimeout:           DefaultSessionTimeout,
		VisitStoreVersion:        DefaultVisitStoreVersion,
		TrafficControlPercentage: DefaultTrafficControl,
	}
}

// SendingDataAllowed reports whether regular records may be captured and
// sent under this configuration.
func (s Server) SendingDataAllowed() bool {
	return s.Capture && s.Multiplicity > 0
}

// SendingErrorsAllowed reports whether error records may be captured and
// sent under this configuration.
func (s Server) SendingErrorsAllowed() bool {
	return s.SendingDataAllowed() && s.CaptureErrors
}

// SendingCrashesAllowed reports whether crash records may be captured and
// sent under this configuration.
func (s Server) SendingCrashesAllowed() bool {
	return s.SendingDataAllowed() && s.CaptureCrashes
}

// SessionSplitByTimeEnabled reports whether idle or duration based session
// splitting is configured.
func (s Server) SessionSplitByTimeEnabled() bool {
	return s.SessionTimeout > 0 || s.MaxSessionDuration > 0
}

// SessionSplitByEventsEnabled reports whether event-count based session
// splitting is configured.
func (s Server) SessionSplitByEventsEnabled() bool {
	return s.MaxEventsPerSession > 0
}

// Merge returns a copy of s with every field that other carries explicitly
// overridden. The set of explicit fields is tracked by the mask produced
// while parsing a status response.
func (s Server) Merge(other Server, mask ServerFieldMask) Server {
	merged := s
	if mask.Capture {
		merged.Capture = other.Capture
	}
	if mask.CaptureErrors {
		merged.CaptureErrors = other.CaptureErrors
	}
	if mask.CaptureCrashes {
		merged.CaptureCrashes = other.CaptureCrashes
	}
	if mask.SendInterval {
		merged.SendInterval = other.SendInterval
	}
	if mask.ServerID {
		merged.ServerID = other.ServerID
	}
	if mask.BeaconSizeBytes {
		merged.BeaconSizeBytes = other.BeaconSizeBytes
	}
	if mask.Multiplicity {
		merged.Multiplicity = other.Multiplicity
	}
	if mask.MaxSessionDuration {
		merged.MaxSessionDuration = other.MaxSessionDuration
	}
	if mask.MaxEventsPerSession {
		merged.MaxEventsPerSession = other.MaxEventsPerSession
	}
	if mask.SessionTimeout {
		merged.SessionTimeout = other.SessionTimeout
	}
	if mask.VisitStoreVersion {
		merged.VisitStoreVersion = other.VisitStoreVersion
	}
	if mask.TrafficControlPercentage {
		merged.TrafficControlPercentage = other.TrafficControlPercentage
	}
	return merged
}

// ServerFieldMask records which fields of a Server value were explicitly
// present in a status response.
type ServerFieldMask struct {
	Capture                  bool
	CaptureErrors            bool
	CaptureCrashes           bool
	SendInterval             bool
	ServerID                 bool
	BeaconSizeBytes          bool
	Multiplicity             bool
	MaxSessionDuration       bool
	MaxEventsPerSession      bool
	SessionTimeout           bool
	VisitStoreVersion        bool
	TrafficControlPercentage bool
}
