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
	"context"
	"strings"
	"sync"

	"github.com/dynatrace-oss/openkit-go/pkg/log"
	"github.com/dynatrace-oss/openkit-go/private/config"
	"github.com/dynatrace-oss/openkit-go/private/protocol"
	"github.com/dynatrace-oss/openkit-go/private/sender"
)

// sessionImpl is one underlying session stream: a beacon plus the subtree
// of root actions and session-level tracers. The user-facing Session is
// the proxy, which replaces its sessionImpl on every split.
//
// States: once a server configuration is applied the session is
// configured; End moves it through finishing to finished, after which the
// sender drains the remaining data and drops the stream.
type sessionImpl struct {
	openKitComposite
	logger log.Logger
	beacon *protocol.Beacon
	parent childListener

	stateMtx       sync.Mutex
	configured     bool
	finishing      bool
	finished       bool
	triedForEnding bool
}

var _ sender.Session = (*sessionImpl)(nil)

func newSessionImpl(logger log.Logger, beacon *protocol.Beacon,
	parent childListener) *sessionImpl {

	s := &sessionImpl{
		logger: logger,
		beacon: beacon,
		parent: parent,
	}
	beacon.StartSession()
	return s
}

// ActionID implements actionParent for session-level children.
func (s *sessionImpl) ActionID() int32 {
	return 0
}

func (s *sessionImpl) onChildClosed(child openKitObject) {
	s.removeChild(child)
	s.stateMtx.Lock()
	retry := s.triedForEnding && !s.finishing && !s.finished
	s.stateMtx.Unlock()
	if retry && s.childCount() == 0 {
		s.end(false)
	}
}

func (s *sessionImpl) isFinishingOrFinished() bool {
	s.stateMtx.Lock()
	defer s.stateMtx.Unlock()
	return s.finishing || s.finished
}

func (s *sessionImpl) enterAction(name string) RootAction {
	if s.isFinishingOrFinished() {
		return NullRootAction
	}
	action := newRootAction(s.logger, s.beacon, s, name)
	s.storeChild(action)
	return action
}

func (s *sessionImpl) identifyUser(tag string) {
	if s.isFinishingOrFinished() {
		return
	}
	s.beacon.IdentifyUser(tag)
}

func (s *sessionImpl) reportCrash(name, reason, stacktrace string) {
	if strings.TrimSpace(name) == "" {
		log.SafeWarn(s.logger, "ReportCrash: crash name must not be empty")
		return
	}
	if s.isFinishingOrFinished() {
		return
	}
	s.beacon.ReportCrash(name, reason, stacktrace)
}

func (s *sessionImpl) traceWebRequest(cleanedURL string) WebRequestTracer {
	if s.isFinishingOrFinished() {
		return NullWebRequestTracer
	}
	tracer := newWebRequestTracer(s.logger, s.beacon, s, cleanedURL)
	s.storeChild(tracer)
	return tracer
}

func (s *sessionImpl) sendEvent(name string, attributes map[string]any) error {
	if s.isFinishingOrFinished() {
		return nil
	}
	return s.beacon.SendEvent(name, attributes)
}

func (s *sessionImpl) sendBizEvent(eventType string, attributes map[string]any) error {
	if s.isFinishingOrFinished() {
		return nil
	}
	return s.beacon.SendBizEvent(eventType, attributes)
}

// end closes the session once. Splits pass sendEndEvent=false: the
// successor continues the visit and the backend derives the end time from
// the last record.
func (s *sessionImpl) end(sendEndEvent bool) {
	s.stateMtx.Lock()
	if s.finishing || s.finished {
		s.stateMtx.Unlock()
		return
	}
	s.finishing = true
	s.stateMtx.Unlock()

	for _, child := range s.copyChildren() {
		child.close()
	}
	if sendEndEvent {
		s.beacon.EndSession()
	}

	s.stateMtx.Lock()
	s.finished = true
	s.stateMtx.Unlock()
	s.parent.onChildClosed(s)
}

// close is the parent-initiated end.
func (s *sessionImpl) close() {
	s.end(true)
}

// End force-closes the session, descendants included.
func (s *sessionImpl) End() {
	s.end(true)
}

// TryEnd ends the session if no descendants are open. Otherwise the
// session remembers the attempt and ends itself as soon as the last child
// closes; the watchdog forces the end after the grace period.
func (s *sessionImpl) TryEnd() bool {
	s.stateMtx.Lock()
	if s.finishing || s.finished {
		s.stateMtx.Unlock()
		return true
	}
	s.stateMtx.Unlock()
	if s.childCount() == 0 {
		s.end(false)
		return true
	}
	s.stateMtx.Lock()
	s.triedForEnding = true
	s.stateMtx.Unlock()
	return false
}

// IsConfigured implements sender.Session.
func (s *sessionImpl) IsConfigured() bool {
	s.stateMtx.Lock()
	defer s.stateMtx.Unlock()
	return s.configured
}

// OnServerConfigurationUpdate implements sender.Session.
func (s *sessionImpl) OnServerConfigurationUpdate(srv config.Server) {
	s.stateMtx.Lock()
	s.configured = true
	s.stateMtx.Unlock()
	s.beacon.UpdateServerConfiguration(srv)
}

// Send implements sender.Session.
func (s *sessionImpl) Send(ctx context.Context, client protocol.Client) *protocol.StatusResponse {
	return s.beacon.Send(ctx, client)
}

// DataSendingAllowed implements sender.Session.
func (s *sessionImpl) DataSendingAllowed() bool {
	return s.beacon.DataSendingAllowed()
}

// IsFinished implements sender.Session.
func (s *sessionImpl) IsFinished() bool {
	s.stateMtx.Lock()
	defer s.stateMtx.Unlock()
	return s.finished
}

// IsDataSendingFinished implements sender.Session.
func (s *sessionImpl) IsDataSendingFinished() bool {
	return s.IsFinished() && s.beacon.IsEmpty()
}

// ClearCapturedData implements sender.Session.
func (s *sessionImpl) ClearCapturedData() {
	s.beacon.ClearData()
}
