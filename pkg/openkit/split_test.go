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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynatrace-oss/openkit-go/pkg/log"
	"github.com/dynatrace-oss/openkit-go/pkg/log/testlog"
	"github.com/dynatrace-oss/openkit-go/private/config"
	"github.com/dynatrace-oss/openkit-go/private/protocol"
)

// configureCurrent applies a server configuration synchronously to the
// proxy's current underlying session, bypassing the async sender path.
func configureCurrent(t *testing.T, s Session, srv config.Server) *sessionProxy {
	t.Helper()
	proxy, ok := s.(*sessionProxy)
	require.True(t, ok)
	proxy.mtx.Lock()
	current := proxy.current
	proxy.mtx.Unlock()
	current.OnServerConfigurationUpdate(srv)
	return proxy
}

func (p *sessionProxy) sequenceForTest() int32 {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.sequence
}

func TestSplitByEventCount(t *testing.T) {
	kit, client := newTestOpenKit(t, nil)
	session := kit.CreateSession()

	srv := config.DefaultServer()
	srv.MaxEventsPerSession = 2
	srv.VisitStoreVersion = 2
	proxy := configureCurrent(t, session, srv)

	session.IdentifyUser("alice")
	session.EnterAction("one").LeaveAction()
	assert.Equal(t, int32(0), proxy.sequenceForTest())
	session.EnterAction("two").LeaveAction()
	assert.Equal(t, int32(1), proxy.sequenceForTest())

	session.End()
	kit.Shutdown()

	payload := client.payload()
	// The successor carries the next session sequence on the wire.
	assert.Contains(t, payload, "ss=0")
	assert.Contains(t, payload, "ss=1")
	// The user tag is replayed on the successor.
	assert.Equal(t, 2, strings.Count(payload, "et=60&na=alice"))
	// Both streams share the session number.
	assert.Equal(t, 0, strings.Count(payload, "sn=2"))
}

func TestSplitByIdleTimeout(t *testing.T) {
	kit, client := newTestOpenKit(t, nil)
	session := kit.CreateSession()

	srv := config.DefaultServer()
	srv.SessionTimeout = 30 * time.Minute
	srv.MaxSessionDuration = 0
	srv.VisitStoreVersion = 2
	proxy := configureCurrent(t, session, srv)

	session.IdentifyUser("alice")

	t.Run("not yet due", func(t *testing.T) {
		next := proxy.SplitIfNeeded(time.Now())
		require.False(t, next.IsZero())
		assert.WithinDuration(t, time.Now().Add(srv.SessionTimeout), next, time.Minute)
		assert.Equal(t, int32(0), proxy.sequenceForTest())
	})

	t.Run("idle deadline passed", func(t *testing.T) {
		proxy.mtx.Lock()
		proxy.lastInteractionMs -= (31 * time.Minute).Milliseconds()
		proxy.mtx.Unlock()

		next := proxy.SplitIfNeeded(time.Now())
		assert.False(t, next.IsZero())
		assert.Equal(t, int32(1), proxy.sequenceForTest())
	})

	session.End()
	kit.Shutdown()

	payload := client.payload()
	assert.Equal(t, 2, strings.Count(payload, "et=60&na=alice"))
	assert.Contains(t, payload, "ss=1")
	// The predecessor ends without a session-end record; only the final
	// user-facing End emits one.
	assert.Equal(t, 1, strings.Count(payload, "et=19"))
}

func TestSplitByMaxDuration(t *testing.T) {
	kit, _ := newTestOpenKit(t, nil)
	session := kit.CreateSession()

	srv := config.DefaultServer()
	srv.SessionTimeout = 0
	srv.MaxSessionDuration = time.Hour
	proxy := configureCurrent(t, session, srv)

	// Fake a session that started beyond the maximum duration.
	next := proxy.SplitIfNeeded(time.Now().Add(2 * time.Hour))
	assert.False(t, next.IsZero())
	assert.Equal(t, int32(1), proxy.sequenceForTest())

	session.End()
	kit.Shutdown()
}

func TestSplitRequiresConfiguredSession(t *testing.T) {
	// A collector that keeps failing leaves sessions unconfigured.
	client := newFakeClient()
	client.status = &protocol.StatusResponse{Code: 500}
	b := NewBuilder("https://collector.example.com/mbeacon", "APP-1", 42).
		WithLogger(testlog.NewLogger(t))
	b.clientProvider = func(config.HTTPClient, log.Logger) protocol.Client {
		return client
	}
	kit, err := b.Build()
	require.NoError(t, err)
	defer kit.Shutdown()

	session := kit.CreateSession()
	proxy, ok := session.(*sessionProxy)
	require.True(t, ok)

	// An unconfigured session is never split, regardless of deadlines.
	next := proxy.SplitIfNeeded(time.Now().Add(24 * time.Hour))
	assert.True(t, next.IsZero())
	assert.Equal(t, int32(0), proxy.sequenceForTest())
	session.End()
}

func TestSplitFinishedProxyIsNoop(t *testing.T) {
	kit, _ := newTestOpenKit(t, nil)
	session := kit.CreateSession()
	proxy := configureCurrent(t, session, config.DefaultServer())
	session.End()

	next := proxy.SplitIfNeeded(time.Now().Add(24 * time.Hour))
	assert.True(t, next.IsZero())
	kit.Shutdown()
}
