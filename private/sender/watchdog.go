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

package sender

import (
	"sync"
	"time"

	"github.com/dynatrace-oss/openkit-go/pkg/log"
	"github.com/dynatrace-oss/openkit-go/pkg/metrics"
)

// DefaultCloseGracePeriod is how long a session that could not end
// gracefully is given before the watchdog forces the end.
const DefaultCloseGracePeriod = time.Second

// SplitCandidate is the watchdog-side view of a session proxy that may
// have to be split by idle timeout or maximum duration.
type SplitCandidate interface {
	// SplitIfNeeded performs any split that is due at the given time and
	// returns the next split deadline, or the zero time when no split is
	// pending.
	SplitIfNeeded(now time.Time) time.Time
}

// pendingClose is a session whose graceful end is being retried.
type pendingClose struct {
	session  Session
	deadline time.Time
}

// watchdog tracks the sessions that need lifecycle supervision: graceful
// closes with a grace period, and proxies with split deadlines. It is
// driven by the sender loop.
type watchdog struct {
	logger log.Logger

	mtx        sync.Mutex
	closes     []pendingClose
	candidates []SplitCandidate

	forcedCloses metrics.Counter
}

// closeOrEnqueue tries to end the session gracefully. If descendants are
// still open the session is enqueued and retried until the grace period
// expires, at which point the end is forced.
func (w *watchdog) closeOrEnqueue(s Session, now time.Time, grace time.Duration) {
	if s.TryEnd() {
		return
	}
	w.mtx.Lock()
	defer w.mtx.Unlock()
	for _, p := range w.closes {
		if p.session == s {
			return
		}
	}
	w.closes = append(w.closes, pendingClose{session: s, deadline: now.Add(grace)})
}

// addSplitCandidate registers a session proxy for split supervision.
func (w *watchdog) addSplitCandidate(c SplitCandidate) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	w.candidates = append(w.candidates, c)
}

// removeSplitCandidate unregisters a proxy, typically because it was
// closed.
func (w *watchdog) removeSplitCandidate(c SplitCandidate) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	for i, existing := range w.candidates {
		if existing == c {
			w.candidates = append(w.candidates[:i], w.candidates[i+1:]...)
			return
		}
	}
}

// execute performs one supervision pass and returns the earliest deadline
// at which it wants to run again, or the zero time if nothing is pending.
func (w *watchdog) execute(now time.Time) time.Time {
	var next time.Time
	earliest := func(t time.Time) {
		if t.IsZero() {
			return
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}

	w.mtx.Lock()
	closes := append([]pendingClose(nil), w.closes...)
	candidates := append([]SplitCandidate(nil), w.candidates...)
	w.mtx.Unlock()

	var remaining []pendingClose
	for _, p := range closes {
		if p.session.TryEnd() {
			continue
		}
		if !now.Before(p.deadline) {
			log.SafeDebug(w.logger, "Forcing session end after grace period")
			p.session.End()
			metrics.CounterInc(w.forcedCloses)
			continue
		}
		remaining = append(remaining, p)
		earliest(p.deadline)
	}
	w.mtx.Lock()
	// Keep entries that were enqueued concurrently during the pass.
	for _, p := range w.closes {
		if !containsClose(closes, p.session) {
			remaining = append(remaining, p)
			earliest(p.deadline)
		}
	}
	w.closes = remaining
	w.mtx.Unlock()

	for _, c := range candidates {
		earliest(c.SplitIfNeeded(now))
	}
	return next
}

func containsClose(list []pendingClose, s Session) bool {
	for _, p := range list {
		if p.session == s {
			return true
		}
	}
	return false
}
