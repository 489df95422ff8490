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
	"net"
	"sync"
	"sync/atomic"

	"github.com/dynatrace-oss/openkit-go/pkg/log"
	"github.com/dynatrace-oss/openkit-go/private/cache"
	"github.com/dynatrace-oss/openkit-go/private/config"
	"github.com/dynatrace-oss/openkit-go/private/protocol"
	"github.com/dynatrace-oss/openkit-go/private/provider"
	"github.com/dynatrace-oss/openkit-go/private/sender"
)

// openKitImpl is the root of the object tree: it owns the session proxies,
// the shared beacon cache with its evictor, and the background sender.
type openKitImpl struct {
	openKitComposite
	logger  log.Logger
	cfg     config.OpenKit
	privacy config.Privacy

	cache   *cache.Cache
	evictor *cache.Evictor
	sender  *sender.Sender

	sessionIDs provider.SessionID
	timing     provider.Timing
	threadID   provider.ThreadID
	random     provider.Random

	shutdownOnce sync.Once
	isShutdown   atomic.Bool
}

var _ OpenKit = (*openKitImpl)(nil)

// CreateSession opens a new session.
func (o *openKitImpl) CreateSession() Session {
	return o.CreateSessionWithClientIP("")
}

// CreateSessionWithClientIP opens a new session carrying the given client
// IP. An unparsable IP is dropped and the collector derives it from the
// connection.
func (o *openKitImpl) CreateSessionWithClientIP(clientIP string) Session {
	if o.isShutdown.Load() {
		return NullSession
	}
	if clientIP != "" && net.ParseIP(clientIP) == nil {
		log.SafeWarn(o.logger, "CreateSession: ignoring invalid client IP", "ip", clientIP)
		clientIP = ""
	}
	proxy := newSessionProxy(o, clientIP)
	o.storeChild(proxy)
	return proxy
}

// WaitForInitCompletion implements OpenKit.
func (o *openKitImpl) WaitForInitCompletion(ctx context.Context) bool {
	return o.sender.WaitForInit(ctx)
}

// IsInitialized implements OpenKit.
func (o *openKitImpl) IsInitialized() bool {
	return o.sender.IsInitialized()
}

// Shutdown ends all open sessions, gives the sender a bounded terminal
// drain, and stops the background workers. Further API calls degrade to
// null objects.
func (o *openKitImpl) Shutdown() {
	o.shutdownOnce.Do(func() {
		o.isShutdown.Store(true)
		for _, child := range o.copyChildren() {
			child.close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ShutdownTimeout)
		defer cancel()
		if err := o.sender.Shutdown(ctx); err != nil {
			log.SafeWarn(o.logger, "Sender shutdown incomplete", "err", err)
		}
		o.evictor.Stop()
		log.SafeInfo(o.logger, "OpenKit shutdown complete")
	})
}

func (o *openKitImpl) onChildClosed(child openKitObject) {
	o.removeChild(child)
}

// newSessionStream builds the beacon and session of one stream and
// registers it with the sender. New streams start from the most recent
// server configuration, so gating applies before the first response for
// them arrives.
func (o *openKitImpl) newSessionStream(proxy *sessionProxy, clientIP string,
	sessionNumber, sequence int32, random provider.Random) *sessionImpl {

	beacon := protocol.NewBeacon(o.logger, o.cache, protocol.BeaconConfig{
		OpenKit:         o.cfg,
		Privacy:         o.privacy,
		Server:          o.sender.LastServerConfiguration(),
		ClientIP:        clientIP,
		SessionNumber:   sessionNumber,
		SessionSequence: sequence,
		Timing:          o.timing,
		ThreadID:        o.threadID,
		Random:          random,
	})
	impl := newSessionImpl(o.logger, beacon, proxy)
	o.sender.AddSession(impl)
	return impl
}
