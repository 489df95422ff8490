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

package openkit

// Null objects are the inert sentinels handed out when input is invalid or
// the owning object is already closed. Every operation on them is a no-op
// returning another null object, so call chains on them stay safe.

type nullSession struct{}

// NullSession is the inert Session sentinel.
var NullSession Session = nullSession{}

func (nullSession) EnterAction(string) RootAction             { return NullRootAction }
func (nullSession) IdentifyUser(string)                       {}
func (nullSession) ReportCrash(string, string, string)        {}
func (nullSession) TraceWebRequest(string) WebRequestTracer   { return NullWebRequestTracer }
func (nullSession) SendEvent(string, map[string]any) error    { return nil }
func (nullSession) SendBizEvent(string, map[string]any) error { return nil }
func (nullSession) End()                                      {}

type nullRootAction struct{ nullAction }

// NullRootAction is the inert RootAction sentinel.
var NullRootAction RootAction = nullRootAction{}

func (nullRootAction) EnterAction(string) Action { return NullAction }

type nullAction struct{}

// NullAction is the inert Action sentinel.
var NullAction Action = nullAction{}

func (nullAction) ReportEvent(string) Action                { return NullAction }
func (nullAction) ReportIntValue(string, int32) Action      { return NullAction }
func (nullAction) ReportInt64Value(string, int64) Action    { return NullAction }
func (nullAction) ReportDoubleValue(string, float64) Action { return NullAction }
func (nullAction) ReportStringValue(string, string) Action  { return NullAction }
func (nullAction) ReportError(string, int32) Action         { return NullAction }
func (nullAction) ReportException(string, string, string, string) Action {
	return NullAction
}
func (nullAction) TraceWebRequest(string) WebRequestTracer { return NullWebRequestTracer }
func (nullAction) LeaveAction() Action                     { return nil }
func (nullAction) CancelAction() Action                    { return nil }

type nullWebRequestTracer struct{}

// NullWebRequestTracer is the inert WebRequestTracer sentinel.
var NullWebRequestTracer WebRequestTracer = nullWebRequestTracer{}

func (nullWebRequestTracer) Tag() string                         { return "" }
func (nullWebRequestTracer) Start() WebRequestTracer             { return NullWebRequestTracer }
func (nullWebRequestTracer) SetBytesSent(int64) WebRequestTracer { return NullWebRequestTracer }
func (nullWebRequestTracer) SetBytesReceived(int64) WebRequestTracer {
	return NullWebRequestTracer
}
func (nullWebRequestTracer) SetResponseCode(int32) WebRequestTracer { return NullWebRequestTracer }
func (nullWebRequestTracer) Stop()                                  {}
