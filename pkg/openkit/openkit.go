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

// Package openkit is the public surface of the OpenKit monitoring agent.
// An application builds one OpenKit instance, opens sessions on it, and
// records actions, values, events, errors, crashes and traced web requests
// on the resulting object tree. The agent buffers everything in an
// in-memory beacon cache and transmits it to the collector from a
// background worker.
//
// All methods absorb failures: invalid input yields inert null objects and
// a log entry, never an error into the application. The only user-visible
// failures are the error returns of SendEvent and SendBizEvent.
package openkit

import (
	"context"

	"github.com/dynatrace-oss/openkit-go/private/config"
)

// DataCollectionLevel controls which observation kinds the user consented
// to.
type DataCollectionLevel = config.DataCollectionLevel

// The data collection levels.
const (
	DataCollectionOff          = config.DataCollectionOff
	DataCollectionPerformance  = config.DataCollectionPerformance
	DataCollectionUserBehavior = config.DataCollectionUserBehavior
)

// CrashReportingLevel controls whether crashes are reported.
type CrashReportingLevel = config.CrashReportingLevel

// The crash reporting levels.
const (
	CrashReportingOff    = config.CrashReportingOff
	CrashReportingOptOut = config.CrashReportingOptOut
	CrashReportingOptIn  = config.CrashReportingOptIn
)

// OpenKit is one instance of the monitoring agent.
type OpenKit interface {
	// CreateSession opens a new session.
	CreateSession() Session
	// CreateSessionWithClientIP opens a new session carrying the given
	// client IP address.
	CreateSessionWithClientIP(clientIP string) Session
	// WaitForInitCompletion blocks until the agent completed its initial
	// handshake with the collector, the agent shut down, or the context
	// expired. It returns whether the agent is initialized.
	WaitForInitCompletion(ctx context.Context) bool
	// IsInitialized reports whether the initial handshake completed.
	IsInitialized() bool
	// Shutdown ends all open sessions, drains buffered data on a best
	// effort basis, and stops the background workers.
	Shutdown()
}

// Session is a user session: the root of one observation tree.
type Session interface {
	// EnterAction starts a top-level action.
	EnterAction(name string) RootAction
	// IdentifyUser tags the session with a user identifier. An empty tag
	// re-anonymizes the session.
	IdentifyUser(tag string)
	// ReportCrash reports an application crash.
	ReportCrash(name, reason, stacktrace string)
	// TraceWebRequest traces an outbound web request on session level.
	// Only http and https URLs are accepted.
	TraceWebRequest(url string) WebRequestTracer
	// SendEvent sends a custom event with the given attributes. Fails if
	// the resulting payload exceeds the protocol limit.
	SendEvent(name string, attributes map[string]any) error
	// SendBizEvent sends a business event with the given attributes.
	// Fails if the resulting payload exceeds the protocol limit.
	SendBizEvent(eventType string, attributes map[string]any) error
	// End finishes the session.
	End()
}

// Action is a user-visible unit of work.
type Action interface {
	// ReportEvent reports a named event on this action.
	ReportEvent(name string) Action
	// ReportIntValue reports an integer value on this action.
	ReportIntValue(name string, value int32) Action
	// ReportInt64Value reports a 64-bit integer value on this action.
	ReportInt64Value(name string, value int64) Action
	// ReportDoubleValue reports a floating point value on this action.
	ReportDoubleValue(name string, value float64) Action
	// ReportStringValue reports a string value on this action.
	ReportStringValue(name string, value string) Action
	// ReportError reports an error code on this action.
	ReportError(name string, code int32) Action
	// ReportException reports an error with cause details on this action.
	ReportException(name, causeName, causeDescription, causeStackTrace string) Action
	// TraceWebRequest traces an outbound web request below this action.
	// Only http and https URLs are accepted.
	TraceWebRequest(url string) WebRequestTracer
	// LeaveAction commits and closes this action. Returns the parent
	// action, or nil for a top-level action.
	LeaveAction() Action
	// CancelAction discards this action and all its pending data. Returns
	// the parent action, or nil for a top-level action.
	CancelAction() Action
}

// RootAction is a top-level action that can contain child actions.
type RootAction interface {
	Action
	// EnterAction starts a child action.
	EnterAction(name string) Action
}

// WebRequestTracer correlates an outbound web request with this session
// via a tag header.
type WebRequestTracer interface {
	// Tag returns the value for the correlation header. Empty when web
	// request tracing is not permitted.
	Tag() string
	// Start marks the begin of the web request.
	Start() WebRequestTracer
	// SetBytesSent records the number of bytes sent.
	SetBytesSent(bytes int64) WebRequestTracer
	// SetBytesReceived records the number of bytes received.
	SetBytesReceived(bytes int64) WebRequestTracer
	// SetResponseCode records the HTTP response code.
	SetResponseCode(code int32) WebRequestTracer
	// Stop marks the end of the web request and commits the record.
	Stop()
}

// WebRequestTagHeader is the HTTP header the tag is transported in.
const WebRequestTagHeader = "X-dynaTrace"
