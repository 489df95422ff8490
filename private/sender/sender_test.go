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

package sender_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dynatrace-oss/openkit-go/pkg/log"
	"github.com/dynatrace-oss/openkit-go/pkg/log/testlog"
	"github.com/dynatrace-oss/openkit-go/private/config"
	"github.com/dynatrace-oss/openkit-go/private/protocol"
	"github.com/dynatrace-oss/openkit-go/private/sender"
)

// fakeClient answers protocol requests from canned responses.
type fakeClient struct {
	mtx            sync.Mutex
	statusResponse *protocol.StatusResponse
	statusCalls    int
	newSession     int
}

func okResponse(srv config.Server, mask config.ServerFieldMask) *protocol.StatusResponse {
	return &protocol.StatusResponse{Code: 200, Server: srv, Mask: mask}
}

func (c *fakeClient) SendStatusRequest(context.Context) *protocol.StatusResponse {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.statusCalls++
	return c.statusResponse
}

func (c *fakeClient) SendNewSessionRequest(context.Context) *protocol.StatusResponse {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.newSession++
	return c.statusResponse
}

func (c *fakeClient) SendBeaconRequest(context.Context, string, []byte) *protocol.StatusResponse {
	return &protocol.StatusResponse{Code: 200}
}

func (c *fakeClient) Close() {}

func (c *fakeClient) setStatusResponse(r *protocol.StatusResponse) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.statusResponse = r
}

// fakeSession is a controllable sender.Session.
type fakeSession struct {
	mtx        sync.Mutex
	configured bool
	finished   bool
	hasData    bool
	canEnd     bool

	sends   atomic.Int32
	clears  atomic.Int32
	ends    atomic.Int32
	tryEnds atomic.Int32
}

func (s *fakeSession) IsConfigured() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.configured
}

func (s *fakeSession) OnServerConfigurationUpdate(config.Server) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.configured = true
}

func (s *fakeSession) Send(context.Context, protocol.Client) *protocol.StatusResponse {
	s.sends.Add(1)
	s.mtx.Lock()
	s.hasData = false
	s.mtx.Unlock()
	return &protocol.StatusResponse{Code: 200}
}

func (s *fakeSession) DataSendingAllowed() bool { return true }

func (s *fakeSession) IsFinished() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.finished
}

func (s *fakeSession) IsDataSendingFinished() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.finished && !s.hasData
}

func (s *fakeSession) ClearCapturedData() {
	s.clears.Add(1)
	s.mtx.Lock()
	s.hasData = false
	s.mtx.Unlock()
}

func (s *fakeSession) TryEnd() bool {
	s.tryEnds.Add(1)
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.canEnd {
		s.finished = true
	}
	return s.finished
}

func (s *fakeSession) End() {
	s.ends.Add(1)
	s.mtx.Lock()
	s.finished = true
	s.mtx.Unlock()
}

func newTestSender(t *testing.T, client *fakeClient, grace time.Duration) *sender.Sender {
	t.Helper()
	return sender.New(testlog.NewLogger(t), sender.Config{
		OpenKit: config.OpenKit{
			EndpointURL:   "https://collector.example.com/mbeacon",
			ApplicationID: "APP-1",
		},
		HTTP: config.HTTPClient{
			BaseURL:       "https://collector.example.com/mbeacon",
			ApplicationID: "APP-1",
		},
		ClientProvider: func(config.HTTPClient, log.Logger) protocol.Client {
			return client
		},
		CloseGracePeriod: grace,
	})
}

func shutdown(t *testing.T, s *sender.Sender) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestSenderInit(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &fakeClient{}
	srv := config.DefaultServer()
	srv.ServerID = 9
	client.setStatusResponse(okResponse(srv, config.ServerFieldMask{ServerID: true}))

	s := newTestSender(t, client, time.Second)
	assert.False(t, s.IsInitialized())
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.True(t, s.WaitForInit(ctx))
	assert.True(t, s.IsInitialized())
	assert.Equal(t, 9, s.LastServerConfiguration().ServerID)
	shutdown(t, s)
}

func TestSenderInitRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &fakeClient{}
	client.setStatusResponse(&protocol.StatusResponse{Code: 500})

	s := newTestSender(t, client, time.Second)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.False(t, s.WaitForInit(ctx))

	// Once the collector answers, a triggered cycle completes init.
	client.setStatusResponse(okResponse(config.DefaultServer(), config.ServerFieldMask{Capture: true}))
	s.TriggerWake()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	assert.True(t, s.WaitForInit(ctx2))
	shutdown(t, s)
}

func TestSenderConfiguresNewSessions(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &fakeClient{}
	client.setStatusResponse(okResponse(config.DefaultServer(), config.ServerFieldMask{Capture: true}))

	s := newTestSender(t, client, time.Second)
	s.Start()

	sess := &fakeSession{}
	s.AddSession(sess)
	assert.Eventually(t, sess.IsConfigured, 2*time.Second, 5*time.Millisecond)
	shutdown(t, s)
}

func TestSenderDrainsFinishedSessions(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &fakeClient{}
	client.setStatusResponse(okResponse(config.DefaultServer(), config.ServerFieldMask{Capture: true}))

	s := newTestSender(t, client, time.Second)
	s.Start()

	sess := &fakeSession{finished: true, hasData: true, configured: true}
	s.AddSession(sess)
	// The drain happens on the next send-interval tick.
	assert.Eventually(t, func() bool {
		return sess.sends.Load() > 0 && sess.clears.Load() > 0
	}, 5*time.Second, 5*time.Millisecond)
	shutdown(t, s)
}

func TestSenderCaptureOffClearsSessions(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &fakeClient{}
	srv := config.DefaultServer()
	srv.Capture = false
	client.setStatusResponse(okResponse(srv, config.ServerFieldMask{Capture: true}))

	s := newTestSender(t, client, time.Second)
	s.Start()

	sess := &fakeSession{configured: true, hasData: true}
	s.AddSession(sess)
	assert.Eventually(t, func() bool { return sess.clears.Load() > 0 },
		2*time.Second, 5*time.Millisecond)
	assert.Zero(t, sess.sends.Load())
	shutdown(t, s)
}

func TestSenderWatchdogClosesGracefully(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &fakeClient{}
	client.setStatusResponse(okResponse(config.DefaultServer(), config.ServerFieldMask{Capture: true}))

	s := newTestSender(t, client, time.Hour)
	s.Start()

	// The session can end gracefully on the second attempt.
	sess := &fakeSession{configured: true}
	s.CloseOrEnqueueForClosing(sess)
	assert.GreaterOrEqual(t, sess.tryEnds.Load(), int32(1))

	sess.mtx.Lock()
	sess.canEnd = true
	sess.mtx.Unlock()
	s.TriggerWake()
	assert.Eventually(t, sess.IsFinished, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, sess.ends.Load())
	shutdown(t, s)
}

func TestSenderWatchdogForcesCloseAfterGrace(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &fakeClient{}
	client.setStatusResponse(okResponse(config.DefaultServer(), config.ServerFieldMask{Capture: true}))

	s := newTestSender(t, client, time.Millisecond)
	s.Start()

	sess := &fakeSession{configured: true}
	s.CloseOrEnqueueForClosing(sess)
	assert.Eventually(t, func() bool { return sess.ends.Load() > 0 },
		2*time.Second, 5*time.Millisecond)
	shutdown(t, s)
}

func TestSenderShutdownDrains(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &fakeClient{}
	client.setStatusResponse(okResponse(config.DefaultServer(), config.ServerFieldMask{Capture: true}))

	s := newTestSender(t, client, time.Second)
	s.Start()

	sess := &fakeSession{configured: true, hasData: true}
	s.AddSession(sess)
	shutdown(t, s)

	assert.Greater(t, sess.ends.Load(), int32(0))
	assert.Greater(t, sess.sends.Load(), int32(0))
}

func TestSenderShutdownWithoutStart(t *testing.T) {
	client := &fakeClient{}
	s := newTestSender(t, client, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
	// Waiters are released on shutdown.
	assert.False(t, s.WaitForInit(context.Background()))
}

func TestSenderTooManyRequestsBackoff(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &fakeClient{}
	client.setStatusResponse(&protocol.StatusResponse{Code: 429, RetryAfter: time.Hour})

	s := newTestSender(t, client, time.Second)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.False(t, s.WaitForInit(ctx))

	// Even explicit wakes do not bypass the requested backoff.
	before := func() int {
		client.mtx.Lock()
		defer client.mtx.Unlock()
		return client.statusCalls
	}()
	s.TriggerWake()
	s.TriggerWake()
	time.Sleep(50 * time.Millisecond)
	after := func() int {
		client.mtx.Lock()
		defer client.mtx.Unlock()
		return client.statusCalls
	}()
	assert.Equal(t, before, after)
	shutdown(t, s)
}
