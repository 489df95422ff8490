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

// DataCollectionLevel controls which observation kinds the user consented
// to. The numeric values are transmitted under the dl key.
type DataCollectionLevel int32

const (
	// DataCollectionOff disables all data collection.
	DataCollectionOff DataCollectionLevel = 0
	// DataCollectionPerformance permits performance-related data only.
	DataCollectionPerformance DataCollectionLevel = 1
	// DataCollectionUserBehavior permits all data including user identity.
	DataCollectionUserBehavior DataCollectionLevel = 2
)

// CrashReportingLevel controls whether crashes are reported. The numeric
// values are transmitted under the cl key.
type CrashReportingLevel int32

const (
	// CrashReportingOff disables crash reporting.
	CrashReportingOff CrashReportingLevel = 0
	// CrashReportingOptOut disables crash reporting by user choice.
	CrashReportingOptOut CrashReportingLevel = 1
	// CrashReportingOptIn enables crash reporting.
	CrashReportingOptIn CrashReportingLevel = 2
)

// Privacy is the privacy configuration of one OpenKit instance. The zero
// value denies everything; use InitDefaults for the agent defaults.
//
// Privacy gates are evaluated at report time. Records buffered before a
// privacy change are never retroactively redacted.
type Privacy struct {
	DataCollectionLevel DataCollectionLevel
	CrashReportingLevel CrashReportingLevel
	defaulted           bool
}

// InitDefaults sets the agent default of full collection, matching an
// explicit opt-in deployment.
func (p *Privacy) InitDefaults() {
	if !p.defaulted {
		p.DataCollectionLevel = DataCollectionUserBehavior
		p.CrashReportingLevel = CrashReportingOptIn
		p.defaulted = true
	}
}

// NewPrivacy returns a privacy configuration with the given levels.
func NewPrivacy(dcl DataCollectionLevel, crl CrashReportingLevel) Privacy {
	return Privacy{DataCollectionLevel: dcl, CrashReportingLevel: crl, defaulted: true}
}

// SessionReportingAllowed reports whether session start/end records may be
// sent.
func (p Privacy) SessionReportingAllowed() bool {
	return p.DataCollectionLevel >= DataCollectionPerformance
}

// SessionNumberReportingAllowed reports whether the real session number may
// be sent. If not, sessions are numbered 1.
func (p Privacy) SessionNumberReportingAllowed() bool {
	return p.DataCollectionLevel == DataCollectionUserBehavior
}

// DeviceIDSendingAllowed reports whether the configured device id may be
// sent. If not, a per-session random device id is used.
func (p Privacy) DeviceIDSendingAllowed() bool {
	return p.DataCollectionLevel == DataCollectionUserBehavior
}

// ActionReportingAllowed reports whether action records may be sent.
func (p Privacy) ActionReportingAllowed() bool {
	return p.DataCollectionLevel >= DataCollectionPerformance
}

// ValueReportingAllowed reports whether reported values may be sent.
func (p Privacy) ValueReportingAllowed() bool {
	return p.DataCollectionLevel == DataCollectionUserBehavior
}

// EventReportingAllowed reports whether named events may be sent.
func (p Privacy) EventReportingAllowed() bool {
	return p.DataCollectionLevel == DataCollectionUserBehavior
}

// ErrorReportingAllowed reports whether error records may be sent.
func (p Privacy) ErrorReportingAllowed() bool {
	return p.DataCollectionLevel >= DataCollectionPerformance
}

// CrashReportingAllowed reports whether crash records may be sent.
func (p Privacy) CrashReportingAllowed() bool {
	return p.CrashReportingLevel == CrashReportingOptIn
}

// UserIdentificationAllowed reports whether identify-user records may be
// sent.
func (p Privacy) UserIdentificationAllowed() bool {
	return p.DataCollectionLevel == DataCollectionUserBehavior
}

// WebRequestTracingAllowed reports whether web request records and tags may
// be produced.
func (p Privacy) WebRequestTracingAllowed() bool {
	return p.DataCollectionLevel >= DataCollectionPerformance
}
