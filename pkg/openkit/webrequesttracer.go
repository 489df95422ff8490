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
	"net/url"
	"strings"
	"sync"

	"github.com/dynatrace-oss/openkit-go/pkg/log"
	"github.com/dynatrace-oss/openkit-go/private/protocol"
)

// cleanTraceURL validates a web request URL and strips query and fragment
// for the wire. Only http and https URLs with a host are accepted.
func cleanTraceURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	return u.Scheme + "://" + u.Host + u.EscapedPath(), true
}

// webRequestTracer traces one outbound web request. The correlation tag is
// fixed at creation; Start pins the begin time and Stop commits the
// record.
type webRequestTracer struct {
	logger log.Logger
	beacon *protocol.Beacon
	parent actionParent

	url            string
	parentActionID int32
	tag            string
	startSeqNo     int32

	mtx           sync.Mutex
	startTimeMs   int64
	stopped       bool
	bytesSent     int64
	bytesReceived int64
	responseCode  int32
}

var _ WebRequestTracer = (*webRequestTracer)(nil)

func newWebRequestTracer(logger log.Logger, beacon *protocol.Beacon, parent actionParent,
	cleanedURL string) *webRequestTracer {

	parentID := parent.ActionID()
	startSeqNo := beacon.NextSequenceNumber()
	return &webRequestTracer{
		logger:         logger,
		beacon:         beacon,
		parent:         parent,
		url:            cleanedURL,
		parentActionID: parentID,
		tag:            beacon.CreateTag(parentID, startSeqNo),
		startSeqNo:     startSeqNo,
		startTimeMs:    beacon.CurrentTimestampMs(),
		bytesSent:      -1,
		bytesReceived:  -1,
	}
}

func (t *webRequestTracer) Tag() string {
	return t.tag
}

// Start pins the begin of the web request to now. Without an explicit
// Start the creation time is used.
func (t *webRequestTracer) Start() WebRequestTracer {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if !t.stopped {
		t.startTimeMs = t.beacon.CurrentTimestampMs()
	}
	return t
}

func (t *webRequestTracer) SetBytesSent(bytes int64) WebRequestTracer {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if !t.stopped {
		t.bytesSent = bytes
	}
	return t
}

func (t *webRequestTracer) SetBytesReceived(bytes int64) WebRequestTracer {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if !t.stopped {
		t.bytesReceived = bytes
	}
	return t
}

func (t *webRequestTracer) SetResponseCode(code int32) WebRequestTracer {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if !t.stopped {
		t.responseCode = code
	}
	return t
}

// Stop commits the web request record. A second Stop is a no-op.
func (t *webRequestTracer) Stop() {
	t.finish(false)
}

// close is the parent-initiated commit.
func (t *webRequestTracer) close() {
	t.finish(false)
}

// cancel discards the trace without producing a record.
func (t *webRequestTracer) cancel() {
	t.finish(true)
}

func (t *webRequestTracer) finish(discard bool) {
	t.mtx.Lock()
	if t.stopped {
		t.mtx.Unlock()
		return
	}
	t.stopped = true
	startTimeMs := t.startTimeMs
	bytesSent := t.bytesSent
	bytesReceived := t.bytesReceived
	responseCode := t.responseCode
	t.mtx.Unlock()

	if !discard {
		t.beacon.AddWebRequest(t.parentActionID, protocol.WebRequestData{
			URL:             t.url,
			StartSequenceNo: t.startSeqNo,
			EndSequenceNo:   t.beacon.NextSequenceNumber(),
			StartTimeMs:     startTimeMs,
			EndTimeMs:       t.beacon.CurrentTimestampMs(),
			BytesSent:       bytesSent,
			BytesReceived:   bytesReceived,
			ResponseCode:    responseCode,
		})
	}
	t.parent.onChildClosed(t)
}
