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

import (
	"strings"
	"sync"

	"github.com/dynatrace-oss/openkit-go/pkg/log"
	"github.com/dynatrace-oss/openkit-go/private/protocol"
)

// actionParent is the upward view an action has of its owner.
type actionParent interface {
	childListener
	// ActionID is the owner's action id, or 0 if the owner is the
	// session.
	ActionID() int32
}

// baseAction carries the shared state and transitions of root and child
// actions.
//
// The lifecycle is OPEN, then either LEFT (committed) or CANCELED
// (discarded). The transition is idempotent: a second leave or cancel
// returns the cached parent and performs no work.
type baseAction struct {
	openKitComposite
	logger log.Logger
	beacon *protocol.Beacon
	parent actionParent
	// self is the concrete object registered with the parent.
	self openKitObject
	// parentAction is what Leave/Cancel return; nil for root actions.
	parentAction Action

	id          int32
	name        string
	startTimeMs int64
	startSeqNo  int32

	// stateMtx guards the transition state below.
	stateMtx  sync.Mutex
	left      bool
	endTimeMs int64
	endSeqNo  int32
}

func newBaseAction(logger log.Logger, beacon *protocol.Beacon, parent actionParent,
	name string) baseAction {

	return baseAction{
		logger:      logger,
		beacon:      beacon,
		parent:      parent,
		id:          beacon.NextID(),
		name:        name,
		startTimeMs: beacon.CurrentTimestampMs(),
		startSeqNo:  beacon.NextSequenceNumber(),
	}
}

// ActionID implements actionParent for child objects of this action.
func (a *baseAction) ActionID() int32 {
	return a.id
}

func (a *baseAction) onChildClosed(child openKitObject) {
	a.removeChild(child)
}

func (a *baseAction) isLeft() bool {
	a.stateMtx.Lock()
	defer a.stateMtx.Unlock()
	return a.left
}

// doLeave performs the closing transition once. It reports whether this
// call performed the transition; repeated calls are no-ops.
func (a *baseAction) doLeave(discard bool) bool {
	a.stateMtx.Lock()
	if a.left {
		a.stateMtx.Unlock()
		return false
	}
	a.left = true
	a.stateMtx.Unlock()

	// Children are closed outside the lock; on the discard path the
	// cancelable ones drop their data instead of committing it.
	for _, child := range a.copyChildren() {
		closeChild(child, discard)
	}

	endTimeMs := a.beacon.CurrentTimestampMs()
	endSeqNo := a.beacon.NextSequenceNumber()
	a.stateMtx.Lock()
	a.endTimeMs = endTimeMs
	a.endSeqNo = endSeqNo
	a.stateMtx.Unlock()

	if discard {
		a.beacon.DiscardActionData(a.id)
	} else {
		a.beacon.CommitActionData(a.id)
		a.beacon.AddAction(protocol.ActionData{
			ID:              a.id,
			ParentID:        a.parent.ActionID(),
			Name:            a.name,
			StartSequenceNo: a.startSeqNo,
			EndSequenceNo:   endSeqNo,
			StartTimeMs:     a.startTimeMs,
			EndTimeMs:       endTimeMs,
		})
	}
	a.parent.onChildClosed(a.self)
	return true
}

func (a *baseAction) reportEvent(name string) {
	if strings.TrimSpace(name) == "" {
		log.SafeWarn(a.logger, "ReportEvent: event name must not be empty", "action", a.name)
		return
	}
	if a.isLeft() {
		return
	}
	a.beacon.ReportEvent(a.id, name)
}

func (a *baseAction) reportIntValue(name string, value int32) {
	if a.validValueName(name) && !a.isLeft() {
		a.beacon.ReportIntValue(a.id, name, value)
	}
}

func (a *baseAction) reportInt64Value(name string, value int64) {
	if a.validValueName(name) && !a.isLeft() {
		a.beacon.ReportInt64Value(a.id, name, value)
	}
}

func (a *baseAction) reportDoubleValue(name string, value float64) {
	if a.validValueName(name) && !a.isLeft() {
		a.beacon.ReportDoubleValue(a.id, name, value)
	}
}

func (a *baseAction) reportStringValue(name string, value string) {
	if a.validValueName(name) && !a.isLeft() {
		a.beacon.ReportStringValue(a.id, name, value)
	}
}

func (a *baseAction) validValueName(name string) bool {
	if strings.TrimSpace(name) == "" {
		log.SafeWarn(a.logger, "ReportValue: value name must not be empty", "action", a.name)
		return false
	}
	return true
}

func (a *baseAction) reportError(name string, code int32) {
	if strings.TrimSpace(name) == "" {
		log.SafeWarn(a.logger, "ReportError: error name must not be empty", "action", a.name)
		return
	}
	if a.isLeft() {
		return
	}
	a.beacon.ReportError(a.id, name, code)
}

func (a *baseAction) reportException(name, causeName, causeDescription, causeStackTrace string) {
	if strings.TrimSpace(name) == "" {
		log.SafeWarn(a.logger, "ReportException: error name must not be empty", "action", a.name)
		return
	}
	if a.isLeft() {
		return
	}
	a.beacon.ReportException(a.id, name, causeName, causeDescription, causeStackTrace)
}

func (a *baseAction) traceWebRequest(url string) WebRequestTracer {
	cleaned, ok := cleanTraceURL(url)
	if !ok {
		log.SafeWarn(a.logger, "TraceWebRequest: invalid url", "url", url)
		return NullWebRequestTracer
	}
	if a.isLeft() {
		return NullWebRequestTracer
	}
	tracer := newWebRequestTracer(a.logger, a.beacon, a, cleaned)
	a.storeChild(tracer)
	return tracer
}

// rootAction is a top-level action below a session.
type rootAction struct {
	baseAction
}

var _ RootAction = (*rootAction)(nil)

func newRootAction(logger log.Logger, beacon *protocol.Beacon, parent actionParent,
	name string) *rootAction {

	a := &rootAction{baseAction: newBaseAction(logger, beacon, parent, name)}
	a.self = a
	return a
}

// EnterAction starts a child action below this root action.
func (a *rootAction) EnterAction(name string) Action {
	if strings.TrimSpace(name) == "" {
		log.SafeWarn(a.logger, "EnterAction: action name must not be empty")
		return NullAction
	}
	if a.isLeft() {
		return NullAction
	}
	child := newLeafAction(a.logger, a.beacon, a, name)
	a.storeChild(child)
	return child
}

func (a *rootAction) ReportEvent(name string) Action {
	a.reportEvent(name)
	return a
}

func (a *rootAction) ReportIntValue(name string, value int32) Action {
	a.reportIntValue(name, value)
	return a
}

func (a *rootAction) ReportInt64Value(name string, value int64) Action {
	a.reportInt64Value(name, value)
	return a
}

func (a *rootAction) ReportDoubleValue(name string, value float64) Action {
	a.reportDoubleValue(name, value)
	return a
}

func (a *rootAction) ReportStringValue(name string, value string) Action {
	a.reportStringValue(name, value)
	return a
}

func (a *rootAction) ReportError(name string, code int32) Action {
	a.reportError(name, code)
	return a
}

func (a *rootAction) ReportException(name, causeName, causeDescription,
	causeStackTrace string) Action {

	a.reportException(name, causeName, causeDescription, causeStackTrace)
	return a
}

func (a *rootAction) TraceWebRequest(url string) WebRequestTracer {
	return a.traceWebRequest(url)
}

// LeaveAction commits this action. Root actions have no parent action, so
// nil is returned.
func (a *rootAction) LeaveAction() Action {
	a.doLeave(false)
	return nil
}

// CancelAction discards this action and everything below it.
func (a *rootAction) CancelAction() Action {
	a.doLeave(true)
	return nil
}

func (a *rootAction) close() {
	a.doLeave(false)
}

func (a *rootAction) cancel() {
	a.doLeave(true)
}

// leafAction is a child action below a root action.
type leafAction struct {
	baseAction
}

var _ Action = (*leafAction)(nil)

func newLeafAction(logger log.Logger, beacon *protocol.Beacon, parent *rootAction,
	name string) *leafAction {

	a := &leafAction{baseAction: newBaseAction(logger, beacon, parent, name)}
	a.self = a
	a.parentAction = parent
	return a
}

func (a *leafAction) ReportEvent(name string) Action {
	a.reportEvent(name)
	return a
}

func (a *leafAction) ReportIntValue(name string, value int32) Action {
	a.reportIntValue(name, value)
	return a
}

func (a *leafAction) ReportInt64Value(name string, value int64) Action {
	a.reportInt64Value(name, value)
	return a
}

func (a *leafAction) ReportDoubleValue(name string, value float64) Action {
	a.reportDoubleValue(name, value)
	return a
}

func (a *leafAction) ReportStringValue(name string, value string) Action {
	a.reportStringValue(name, value)
	return a
}

func (a *leafAction) ReportError(name string, code int32) Action {
	a.reportError(name, code)
	return a
}

func (a *leafAction) ReportException(name, causeName, causeDescription,
	causeStackTrace string) Action {

	a.reportException(name, causeName, causeDescription, causeStackTrace)
	return a
}

func (a *leafAction) TraceWebRequest(url string) WebRequestTracer {
	return a.traceWebRequest(url)
}

// LeaveAction commits this action and returns the parent action.
func (a *leafAction) LeaveAction() Action {
	a.doLeave(false)
	return a.parentAction
}

// CancelAction discards this action and returns the parent action.
func (a *leafAction) CancelAction() Action {
	a.doLeave(true)
	return a.parentAction
}

func (a *leafAction) close() {
	a.doLeave(false)
}

func (a *leafAction) cancel() {
	a.doLeave(true)
}
