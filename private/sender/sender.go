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

// Package sender runs the background control loop of the agent: it
// performs the initial handshake with the collector, drains session
// beacons on the configured send cadence, distributes server configuration
// updates, and supervises session lifecycles (graceful closes and
// time-based splits).
package sender

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dynatrace-oss/openkit-go/pkg/log"
	"github.com/dynatrace-oss/openkit-go/pkg/metrics"
	"github.com/dynatrace-oss/openkit-go/private/config"
	"github.com/dynatrace-oss/openkit-go/private/protocol"
	"github.com/dynatrace-oss/openkit-go/private/provider"
	"github.com/dynatrace-oss/openkit-go/private/worker"
)

// maxNewSessionRequests bounds how often the sender asks the collector to
// configure one session before falling back to the last known
// configuration.
const maxNewSessionRequests = 4

// initRetryDelays is the backoff schedule of the initial handshake. The
// last entry repeats.
var initRetryDelays = []time.Duration{
	time.Second,
	5 * time.Second,
	15 * time.Second,
	time.Minute,
	2 * time.Minute,
}

// Session is the sender-side view of one session stream.
type Session interface {
	// IsConfigured reports whether a server configuration was applied.
	IsConfigured() bool
	// OnServerConfigurationUpdate applies a server configuration and
	// marks the session configured.
	OnServerConfigurationUpdate(srv config.Server)
	// Send drains the session's cached beacon data through the client and
	// returns the last response, or nil if there was nothing to send.
	Send(ctx context.Context, client protocol.Client) *protocol.StatusResponse
	// DataSendingAllowed reports whether the session may send at all.
	DataSendingAllowed() bool
	// IsFinished reports whether the session ended and all descendants
	// are closed.
	IsFinished() bool
	// IsDataSendingFinished reports whether the session is finished and
	// its cache entry is drained.
	IsDataSendingFinished() bool
	// ClearCapturedData drops the session's buffered records.
	ClearCapturedData()
	// TryEnd ends the session if all descendants are closed already.
	TryEnd() bool
	// End force-closes the session and its descendants.
	End()
}

// Metrics instruments the sender. Any field may be nil.
type Metrics struct {
	// Requests counts protocol requests, labeled by kind and result.
	Requests metrics.Counter
	// ForcedSessionCloses counts sessions the watchdog had to force-end.
	ForcedSessionCloses metrics.Counter
}

// Config configures the Sender.
type Config struct {
	OpenKit config.OpenKit
	HTTP    config.HTTPClient
	// ClientProvider constructs the HTTP client of one cycle.
	ClientProvider protocol.ClientProvider
	Timing         provider.Timing
	// CloseGracePeriod is how long an ended session with open descendants
	// is retried before its end is forced.
	CloseGracePeriod time.Duration
	Metrics          Metrics
}

// InitDefaults populates unset fields with default values.
func (c *Config) InitDefaults() {
	c.HTTP.InitDefaults()
	if c.ClientProvider == nil {
		clientMetrics := protocol.ClientMetrics{Requests: c.Metrics.Requests}
		c.ClientProvider = func(cfg config.HTTPClient, logger log.Logger) protocol.Client {
			return protocol.NewInstrumentedHTTPClient(cfg, logger, clientMetrics)
		}
	}
	if c.Timing == nil {
		c.Timing = provider.DefaultTiming()
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
}

// Sender is the background worker of one OpenKit instance.
type Sender struct {
	base   worker.Base
	logger log.Logger
	cfg    Config

	// server is the last server configuration seen, copy-on-write.
	server atomic.Pointer[config.Server]
	// httpCfg tracks the endpoint configuration; only the loop goroutine
	// mutates it (server id reassignment).
	httpCfg config.HTTPClient

	initialized atomic.Bool
	initDone    chan struct{}
	wake        chan struct{}

	mtx                sync.Mutex
	sessions           []Session
	newSessionAttempts map[Session]int

	watchdog watchdog

	// loop-local state.
	initAttempt  int
	nextSendAt   time.Time
	backoffUntil time.Time

	drainOnce sync.Once
}

// New creates a Sender. Call Start to launch the background loop.
func New(logger log.Logger, cfg Config) *Sender {
	cfg.InitDefaults()
	s := &Sender{
		logger:             logger,
		cfg:                cfg,
		httpCfg:            cfg.HTTP,
		initDone:           make(chan struct{}),
		wake:               make(chan struct{}, 1),
		newSessionAttempts: make(map[Session]int),
		watchdog: watchdog{
			logger:       logger,
			forcedCloses: cfg.Metrics.ForcedSessionCloses,
		},
	}
	srv := config.DefaultServer()
	s.server.Store(&srv)
	return s
}

// Start launches the background loop.
func (s *Sender) Start() {
	go func() {
		if err := s.base.RunWrapper(context.Background(), nil, s.run); err != nil {
			log.SafeError(s.logger, "Beacon sender terminated", "err", err)
		}
	}()
}

// Shutdown stops the loop and performs a terminal drain attempt bounded by
// the context deadline.
func (s *Sender) Shutdown(ctx context.Context) error {
	defer func() {
		// Unblock init waiters even if init never completed.
		select {
		case <-s.initDone:
		default:
			close(s.initDone)
		}
	}()
	if err := s.base.CloseWrapper(ctx, nil); err != nil {
		// The loop did not exit in time; draining now would race it.
		return err
	}
	var err error
	s.drainOnce.Do(func() {
		err = s.finalDrain(ctx)
	})
	return err
}

// IsInitialized reports whether the initial handshake succeeded.
func (s *Sender) IsInitialized() bool {
	return s.initialized.Load()
}

// WaitForInit blocks until the initial handshake completed, the sender
// shut down, or the context expired. It returns the initialization state.
func (s *Sender) WaitForInit(ctx context.Context) bool {
	select {
	case <-s.initDone:
	case <-ctx.Done():
	}
	return s.initialized.Load()
}

// LastServerConfiguration returns the most recent server configuration
// snapshot. New sessions start from it.
func (s *Sender) LastServerConfiguration() config.Server {
	return *s.server.Load()
}

// AddSession registers a session stream with the sender loop.
func (s *Sender) AddSession(sess Session) {
	s.mtx.Lock()
	s.sessions = append(s.sessions, sess)
	s.mtx.Unlock()
	s.TriggerWake()
}

// AddSplitCandidate registers a session proxy for split supervision.
func (s *Sender) AddSplitCandidate(c SplitCandidate) {
	s.watchdog.addSplitCandidate(c)
}

// RemoveSplitCandidate unregisters a session proxy.
func (s *Sender) RemoveSplitCandidate(c SplitCandidate) {
	s.watchdog.removeSplitCandidate(c)
}

// CloseOrEnqueueForClosing ends the session gracefully, or hands it to the
// watchdog which retries until the grace period expires.
func (s *Sender) CloseOrEnqueueForClosing(sess Session) {
	s.watchdog.closeOrEnqueue(sess, s.cfg.Timing.Now(), s.cfg.CloseGracePeriod)
	s.TriggerWake()
}

// TriggerWake makes the loop run a cycle promptly.
func (s *Sender) TriggerWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Sender) run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}
	for {
		now := s.cfg.Timing.Now()
		next := s.cycle(ctx, now)
		sleep := next.Sub(s.cfg.Timing.Now())
		if sleep < time.Millisecond {
			sleep = time.Millisecond
		}
		timer.Reset(sleep)
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
		}
	}
}

// cycle performs one pass of the control loop and returns the time the
// next pass is due: the earliest of the send interval, the next watchdog
// deadline and a pending backoff.
func (s *Sender) cycle(ctx context.Context, now time.Time) time.Time {
	interval := s.server.Load().SendInterval
	next := now.Add(interval)
	earliest := func(t time.Time) {
		if !t.IsZero() && t.Before(next) {
			next = t
		}
	}

	earliest(s.watchdog.execute(now))

	if now.Before(s.backoffUntil) {
		earliest(s.backoffUntil)
		return next
	}

	client := s.cfg.ClientProvider(s.httpCfg, s.logger)
	defer client.Close()

	if !s.initialized.Load() {
		if !s.performInit(ctx, client, now) {
			earliest(now.Add(initDelay(s.initAttempt)))
			return next
		}
	}

	if !s.server.Load().SendingDataAllowed() {
		s.clearAllSessions()
		if !now.Before(s.nextSendAt) {
			// Periodically re-check whether capture was re-enabled.
			s.applyResponse(client.SendStatusRequest(ctx), now)
			s.nextSendAt = now.Add(s.server.Load().SendInterval)
		}
		earliest(s.nextSendAt)
		return next
	}

	s.configureNewSessions(ctx, client, now)

	if !now.Before(s.nextSendAt) {
		s.sendFinishedSessions(ctx, client, now)
		s.sendOpenSessions(ctx, client, now)
		s.nextSendAt = now.Add(s.server.Load().SendInterval)
	}
	earliest(s.nextSendAt)
	return next
}

// performInit sends the initial status request. Returns true once the
// agent is initialized.
func (s *Sender) performInit(ctx context.Context, client protocol.Client, now time.Time) bool {
	resp := client.SendStatusRequest(ctx)
	if resp.IsTooManyRequests() {
		s.backoffUntil = now.Add(resp.RetryAfter)
		return false
	}
	if resp.IsErroneous() {
		s.initAttempt++
		return false
	}
	s.applyResponse(resp, now)
	s.initialized.Store(true)
	close(s.initDone)
	log.SafeInfo(s.logger, "OpenKit initialized",
		"serverID", s.server.Load().ServerID)
	return true
}

func initDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(initRetryDelays) {
		attempt = len(initRetryDelays)
	}
	return initRetryDelays[attempt-1]
}

// configureNewSessions requests a server configuration for sessions that
// do not have one yet. After too many failed attempts a session falls back
// to the last known configuration.
func (s *Sender) configureNewSessions(ctx context.Context, client protocol.Client,
	now time.Time) {

	for _, sess := range s.snapshotSessions() {
		if sess.IsConfigured() {
			continue
		}
		resp := client.SendNewSessionRequest(ctx)
		if resp.IsTooManyRequests() {
			s.backoffUntil = now.Add(resp.RetryAfter)
			return
		}
		if resp.IsErroneous() {
			s.mtx.Lock()
			s.newSessionAttempts[sess]++
			exhausted := s.newSessionAttempts[sess] >= maxNewSessionRequests
			s.mtx.Unlock()
			if exhausted {
				sess.OnServerConfigurationUpdate(s.LastServerConfiguration())
			}
			continue
		}
		s.applyResponse(resp, now)
		sess.OnServerConfigurationUpdate(s.LastServerConfiguration())
		s.mtx.Lock()
		delete(s.newSessionAttempts, sess)
		s.mtx.Unlock()
	}
}

// sendFinishedSessions drains finished sessions and removes the fully
// drained ones from the registry.
func (s *Sender) sendFinishedSessions(ctx context.Context, client protocol.Client,
	now time.Time) {

	for _, sess := range s.snapshotSessions() {
		if !sess.IsFinished() {
			continue
		}
		if sess.DataSendingAllowed() {
			resp := sess.Send(ctx, client)
			s.applyResponse(resp, now)
			if resp != nil && resp.IsErroneous() {
				// Keep the session registered; retried next cycle.
				continue
			}
		} else {
			sess.ClearCapturedData()
		}
		if sess.IsDataSendingFinished() {
			sess.ClearCapturedData()
			s.removeSession(sess)
		}
	}
}

// sendOpenSessions drains the configured, still running sessions.
func (s *Sender) sendOpenSessions(ctx context.Context, client protocol.Client,
	now time.Time) {

	for _, sess := range s.snapshotSessions() {
		if sess.IsFinished() || !sess.IsConfigured() {
			continue
		}
		if !sess.DataSendingAllowed() {
			sess.ClearCapturedData()
			continue
		}
		s.applyResponse(sess.Send(ctx, client), now)
	}
}

// applyResponse merges the configuration carried by a successful response
// into the current snapshot and reacts to capture and server id changes.
func (s *Sender) applyResponse(resp *protocol.StatusResponse, now time.Time) {
	if resp == nil || resp.IsErroneous() {
		if resp != nil && resp.IsTooManyRequests() {
			s.backoffUntil = now.Add(resp.RetryAfter)
		}
		return
	}
	if resp.Mask == (config.ServerFieldMask{}) {
		return
	}
	current := s.server.Load()
	merged := current.Merge(resp.Server, resp.Mask)
	s.server.Store(&merged)
	if merged.ServerID != s.httpCfg.ServerID {
		s.httpCfg = s.httpCfg.WithServerID(merged.ServerID)
	}
	if !merged.SendingDataAllowed() {
		log.SafeInfo(s.logger, "Capture disabled by server, clearing buffered data")
		s.clearAllSessions()
	}
	for _, sess := range s.snapshotSessions() {
		if sess.IsConfigured() {
			sess.OnServerConfigurationUpdate(merged)
		}
	}
}

func (s *Sender) clearAllSessions() {
	for _, sess := range s.snapshotSessions() {
		sess.ClearCapturedData()
	}
}

func (s *Sender) snapshotSessions() []Session {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]Session(nil), s.sessions...)
}

func (s *Sender) removeSession(sess Session) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for i, existing := range s.sessions {
		if existing == sess {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			break
		}
	}
	delete(s.newSessionAttempts, sess)
}

// finalDrain ends every remaining session and attempts to flush all
// buffered data once, bounded by the shutdown context.
func (s *Sender) finalDrain(ctx context.Context) error {
	client := s.cfg.ClientProvider(s.httpCfg, s.logger)
	defer client.Close()
	for _, sess := range s.snapshotSessions() {
		sess.End()
	}
	for _, sess := range s.snapshotSessions() {
		if ctx.Err() != nil {
			return nil
		}
		if sess.DataSendingAllowed() {
			sess.Send(ctx, client)
		}
		sess.ClearCapturedData()
		s.removeSession(sess)
	}
	return nil
}
