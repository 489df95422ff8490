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
	"time"

	"github.com/dynatrace-oss/openkit-go/pkg/log"
	"github.com/dynatrace-oss/openkit-go/private/provider"
	"github.com/dynatrace-oss/openkit-go/private/sender"
)

// fixedRandom pins the random values of one visit. Split successors share
// the predecessor's anonymized device id and traffic-control value, so the
// visit stays one coherent unit on the backend.
type fixedRandom struct {
	positive   int64
	percentage int32
}

var _ provider.Random = fixedRandom{}

func (r fixedRandom) NextPositiveInt64() int64 {
	return r.positive
}

func (r fixedRandom) NextPercentageValue() int32 {
	return r.percentage
}

// sessionProxy is the Session handed to the application. It owns the
// current underlying sessionImpl and transparently replaces it when the
// session is split by idle timeout, maximum duration or event count. The
// last non-empty user tag is replayed on every successor.
type sessionProxy struct {
	logger log.Logger
	parent *openKitImpl
	snd    *sender.Sender

	clientIP      string
	sessionNumber int32
	random        fixedRandom

	mtx               sync.Mutex
	current           *sessionImpl
	sequence          int32
	lastUserTag       string
	topLevelEvents    int
	lastInteractionMs int64
	finished          bool
}

var (
	_ Session               = (*sessionProxy)(nil)
	_ sender.SplitCandidate = (*sessionProxy)(nil)
)

func newSessionProxy(o *openKitImpl, clientIP string) *sessionProxy {
	p := &sessionProxy{
		logger:        o.logger,
		parent:        o,
		snd:           o.sender,
		clientIP:      clientIP,
		sessionNumber: o.sessionIDs.NextSessionID(),
		random: fixedRandom{
			positive:   o.random.NextPositiveInt64(),
			percentage: o.random.NextPercentageValue(),
		},
	}
	p.current = o.newSessionStream(p, clientIP, p.sessionNumber, 0, p.random)
	p.lastInteractionMs = o.timing.CurrentTimestampMs()
	o.sender.AddSplitCandidate(p)
	return p
}

// EnterAction starts a top-level action on the current underlying session.
func (p *sessionProxy) EnterAction(name string) RootAction {
	if strings.TrimSpace(name) == "" {
		log.SafeWarn(p.logger, "EnterAction: action name must not be empty")
		return NullRootAction
	}
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.finished {
		return NullRootAction
	}
	p.recordTopLevelEventLocked()
	return p.current.enterAction(name)
}

// IdentifyUser tags the session. The tag survives splits; an empty tag
// re-anonymizes the visit from here on.
func (p *sessionProxy) IdentifyUser(tag string) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.finished {
		return
	}
	p.recordInteractionLocked()
	p.current.identifyUser(tag)
	p.lastUserTag = tag
}

// ReportCrash reports an application crash.
func (p *sessionProxy) ReportCrash(name, reason, stacktrace string) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.finished {
		return
	}
	p.recordInteractionLocked()
	p.current.reportCrash(name, reason, stacktrace)
}

// TraceWebRequest traces a web request on session level.
func (p *sessionProxy) TraceWebRequest(url string) WebRequestTracer {
	cleaned, ok := cleanTraceURL(url)
	if !ok {
		log.SafeWarn(p.logger, "TraceWebRequest: invalid url", "url", url)
		return NullWebRequestTracer
	}
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.finished {
		return NullWebRequestTracer
	}
	p.recordInteractionLocked()
	return p.current.traceWebRequest(cleaned)
}

// SendEvent sends a custom event.
func (p *sessionProxy) SendEvent(name string, attributes map[string]any) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.finished {
		return nil
	}
	p.recordTopLevelEventLocked()
	return p.current.sendEvent(name, attributes)
}

// SendBizEvent sends a business event.
func (p *sessionProxy) SendBizEvent(eventType string, attributes map[string]any) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.finished {
		return nil
	}
	p.recordTopLevelEventLocked()
	return p.current.sendBizEvent(eventType, attributes)
}

// End finishes the session.
func (p *sessionProxy) End() {
	p.mtx.Lock()
	if p.finished {
		p.mtx.Unlock()
		return
	}
	p.finished = true
	current := p.current
	p.mtx.Unlock()

	p.snd.RemoveSplitCandidate(p)
	current.end(true)
	p.parent.onChildClosed(p)
}

// close is the parent-initiated end, used at shutdown.
func (p *sessionProxy) close() {
	p.End()
}

// onChildClosed receives the notification when an underlying session
// finishes. The proxy keeps no stale reference; a finished current session
// simply stays in place until the proxy itself ends or splits.
func (p *sessionProxy) onChildClosed(openKitObject) {}

// recordInteractionLocked refreshes the idle-timeout clock.
func (p *sessionProxy) recordInteractionLocked() {
	p.lastInteractionMs = p.parent.timing.CurrentTimestampMs()
}

// recordTopLevelEventLocked refreshes the idle-timeout clock, counts the
// event towards the event-count split and splits when the configured
// maximum is reached.
func (p *sessionProxy) recordTopLevelEventLocked() {
	p.recordInteractionLocked()
	p.topLevelEvents++
	srv := p.current.beacon.ServerConfiguration()
	if !p.current.IsConfigured() || !srv.SessionSplitByEventsEnabled() {
		return
	}
	if p.topLevelEvents >= srv.MaxEventsPerSession {
		log.SafeDebug(p.logger, "Splitting session by event count",
			"events", p.topLevelEvents)
		p.splitLocked()
	}
}

// SplitIfNeeded implements sender.SplitCandidate: it performs idle-timeout
// and maximum-duration splits and returns the next split deadline.
func (p *sessionProxy) SplitIfNeeded(now time.Time) time.Time {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.finished || !p.current.IsConfigured() {
		return time.Time{}
	}
	srv := p.current.beacon.ServerConfiguration()
	if !srv.SessionSplitByTimeEnabled() {
		return time.Time{}
	}
	nowMs := now.UnixMilli()
	idleAtMs, durationAtMs := int64(0), int64(0)
	if srv.SessionTimeout > 0 {
		idleAtMs = p.lastInteractionMs + srv.SessionTimeout.Milliseconds()
	}
	if srv.MaxSessionDuration > 0 {
		durationAtMs = p.current.beacon.SessionStartTimeMs() + srv.MaxSessionDuration.Milliseconds()
	}
	due := func(deadline int64) bool {
		return deadline > 0 && nowMs >= deadline
	}
	if due(idleAtMs) || due(durationAtMs) {
		log.SafeDebug(p.logger, "Splitting session by time",
			"idle", due(idleAtMs), "duration", due(durationAtMs))
		p.splitLocked()
		// Deadlines of the successor are computed on the next pass.
		return now.Add(srv.SendInterval)
	}
	next := idleAtMs
	if next == 0 || (durationAtMs > 0 && durationAtMs < next) {
		next = durationAtMs
	}
	return time.UnixMilli(next)
}

// splitLocked ends the current underlying session without a session-end
// record and starts the successor with the next sequence number, sharing
// the visit identity and the last user tag.
func (p *sessionProxy) splitLocked() {
	old := p.current
	p.sequence++
	p.topLevelEvents = 0
	p.current = p.parent.newSessionStream(p, p.clientIP, p.sessionNumber, p.sequence, p.random)
	p.current.OnServerConfigurationUpdate(old.beacon.ServerConfiguration())
	if p.lastUserTag != "" {
		p.current.identifyUser(p.lastUserTag)
	}
	p.snd.CloseOrEnqueueForClosing(old)
}
