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

package protocol

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dynatrace-oss/openkit-go/pkg/log"
	"github.com/dynatrace-oss/openkit-go/pkg/private/serrors"
	"github.com/dynatrace-oss/openkit-go/private/cache"
	"github.com/dynatrace-oss/openkit-go/private/config"
	"github.com/dynatrace-oss/openkit-go/private/provider"
)

// Wire format keys written by the Beacon.
const (
	keyProtocolVersion  = "vv"
	keyAgentVersion     = "va"
	keyApplicationID    = "ap"
	keyAppVersion       = "vn"
	keyPlatformType     = "pt"
	keyAgentTechnology  = "tt"
	keyVisitorID        = "vi"
	keySessionNumber    = "sn"
	keySessionSequence  = "ss"
	keyClientIP         = "ip"
	keyDeviceOS         = "os"
	keyManufacturer     = "mf"
	keyModelID          = "md"
	keyDataCollection   = "dl"
	keyCrashReporting   = "cl"
	keyVisitStore       = "vs"
	keyTransmissionTime = "tx"
	keySessionStartTime = "tv"
	keyMultiplicityMut  = "mp"

	keyEventType       = "et"
	keyName            = "na"
	keyThreadID        = "it"
	keyActionID        = "ca"
	keyParentActionID  = "pa"
	keyStartSequence   = "s0"
	keyEndSequence     = "s1"
	keyTimeZero        = "t0"
	keyTimeOne         = "t1"
	keyValue           = "vl"
	keyErrorValue      = "ev"
	keyReason          = "rs"
	keyStacktrace      = "st"
	keyErrorTechnology = "tt"
	keyResponseCode    = "rc"
	keyBytesSent       = "bs"
	keyBytesReceived   = "br"
	keyEventPayload    = "pl"
)

const (
	// beaconDataDelimiter joins records within one chunk.
	beaconDataDelimiter = "&"
	// chunkReserveBytes is subtracted from the configured beacon size to
	// leave room for transport framing.
	chunkReserveBytes = 1024
	// tagPrefix starts every web request tag.
	tagPrefix = "MT"
)

// ErrInvalidArgument marks argument validation failures. They are logged
// and absorbed, never propagated into the application.
var ErrInvalidArgument = errors.New("invalid argument")

// BeaconConfig carries the per-session inputs of a Beacon.
type BeaconConfig struct {
	OpenKit  config.OpenKit
	Privacy  config.Privacy
	Server   config.Server
	ClientIP string

	SessionNumber   int32
	SessionSequence int32

	Timing   provider.Timing
	ThreadID provider.ThreadID
	Random   provider.Random
}

// ActionData is the serialized view of a finished action.
type ActionData struct {
	ID              int32
	ParentID        int32
	Name            string
	StartSequenceNo int32
	EndSequenceNo   int32
	StartTimeMs     int64
	EndTimeMs       int64
}

// WebRequestData is the serialized view of a finished web request trace.
type WebRequestData struct {
	URL             string
	StartSequenceNo int32
	EndSequenceNo   int32
	StartTimeMs     int64
	EndTimeMs       int64
	BytesSent       int64
	BytesReceived   int64
	ResponseCode    int32
}

// Beacon serializes the observations of one session stream into wire
// records, applies the privacy and capture gates, owns the id and sequence
// counters, and appends to the beacon cache. One Beacon exists per
// (session number, session sequence).
type Beacon struct {
	logger   log.Logger
	cache    *cache.Cache
	key      cache.Key
	cfg      config.OpenKit
	privacy  config.Privacy
	clientIP string

	timing   provider.Timing
	threadID provider.ThreadID

	// server is the copy-on-write server configuration snapshot.
	server atomic.Pointer[config.Server]

	deviceID            int64
	sessionNumber       int32
	sessionStartTimeMs  int64
	trafficControlValue int32

	id    atomic.Int32
	seqNo atomic.Int32

	// pendingMtx guards the per-action staging area. Records reported on
	// an open action are held back until the action commits, so that a
	// canceled action leaves no trace in the cache.
	pendingMtx sync.Mutex
	pending    map[int32][]pendingRecord

	immutablePrefix string
}

// pendingRecord is a serialized record staged until its action commits.
type pendingRecord struct {
	timestampMs int64
	data        string
}

// NewBeacon creates the Beacon of one session stream. The device id and
// session number are anonymized here when privacy demands it; the
// traffic-control value is drawn once and fixed for the life of the
// session.
func NewBeacon(logger log.Logger, c *cache.Cache, bc BeaconConfig) *Beacon {
	deviceID := bc.OpenKit.DeviceID
	if !bc.Privacy.DeviceIDSendingAllowed() {
		deviceID = bc.Random.NextPositiveInt64()
	}
	sessionNumber := bc.SessionNumber
	if !bc.Privacy.SessionNumberReportingAllowed() {
		sessionNumber = 1
	}
	b := &Beacon{
		logger:   logger,
		cache:    c,
		key:      cache.Key{SessionNumber: bc.SessionNumber, SessionSequence: bc.SessionSequence},
		cfg:      bc.OpenKit,
		privacy:  bc.Privacy,
		clientIP: bc.ClientIP,
		timing:   bc.Timing,
		threadID: bc.ThreadID,

		deviceID:            deviceID,
		sessionNumber:       sessionNumber,
		sessionStartTimeMs:  bc.Timing.CurrentTimestampMs(),
		trafficControlValue: bc.Random.NextPercentageValue(),
		pending:             make(map[int32][]pendingRecord),
	}
	srv := bc.Server
	b.server.Store(&srv)
	b.immutablePrefix = b.buildImmutablePrefix()
	return b
}

// Key returns the cache key of this beacon's data stream.
func (b *Beacon) Key() cache.Key {
	return b.key
}

// SessionNumber returns the effective session number.
func (b *Beacon) SessionNumber() int32 {
	return b.sessionNumber
}

// SessionSequence returns the session sequence number.
func (b *Beacon) SessionSequence() int32 {
	return b.key.SessionSequence
}

// DeviceID returns the effective device id of this session.
func (b *Beacon) DeviceID() int64 {
	return b.deviceID
}

// SessionStartTimeMs returns the session start timestamp.
func (b *Beacon) SessionStartTimeMs() int64 {
	return b.sessionStartTimeMs
}

// NextID returns the next action id. Ids are positive and strictly
// increasing within one session.
func (b *Beacon) NextID() int32 {
	return b.id.Add(1)
}

// NextSequenceNumber returns the next sequence number.
func (b *Beacon) NextSequenceNumber() int32 {
	return b.seqNo.Add(1)
}

// CurrentTimestampMs returns the current time in milliseconds.
func (b *Beacon) CurrentTimestampMs() int64 {
	return b.timing.CurrentTimestampMs()
}

// UpdateServerConfiguration atomically replaces the server configuration
// snapshot consulted by subsequent writes.
func (b *Beacon) UpdateServerConfiguration(srv config.Server) {
	b.server.Store(&srv)
	if !srv.SendingDataAllowed() {
		b.ClearData()
	}
}

// ServerConfiguration returns the current server configuration snapshot.
func (b *Beacon) ServerConfiguration() config.Server {
	return *b.server.Load()
}

// trafficAllowed applies the traffic-control sampling decision of this
// session.
func (b *Beacon) trafficAllowed() bool {
	return int(b.trafficControlValue) < b.server.Load().TrafficControlPercentage
}

// DataSendingAllowed reports whether this session may capture and send
// regular records.
func (b *Beacon) DataSendingAllowed() bool {
	return b.server.Load().SendingDataAllowed() && b.trafficAllowed()
}

func (b *Beacon) errorSendingAllowed() bool {
	return b.server.Load().SendingErrorsAllowed() && b.trafficAllowed()
}

func (b *Beacon) crashSendingAllowed() bool {
	return b.server.Load().SendingCrashesAllowed() && b.trafficAllowed()
}

// StartSession appends the session-start record.
func (b *Beacon) StartSession() {
	if !b.privacy.SessionReportingAllowed() {
		return
	}
	var sb strings.Builder
	b.addBasicEventData(&sb, EventTypeSessionStart, "")
	b.addKeyValueInt32(&sb, keyParentActionID, 0)
	b.addKeyValueInt32(&sb, keyStartSequence, b.NextSequenceNumber())
	b.addKeyValueInt64(&sb, keyTimeZero, 0)
	if !b.DataSendingAllowed() {
		return
	}
	b.addEventRecord(0, sb.String())
}

// EndSession appends the session-end record.
func (b *Beacon) EndSession() {
	if !b.privacy.SessionReportingAllowed() {
		return
	}
	var sb strings.Builder
	b.addBasicEventData(&sb, EventTypeSessionEnd, "")
	b.addKeyValueInt32(&sb, keyParentActionID, 0)
	b.addKeyValueInt32(&sb, keyStartSequence, b.NextSequenceNumber())
	b.addKeyValueInt64(&sb, keyTimeZero, b.timeSinceSessionStart(b.CurrentTimestampMs()))
	if !b.DataSendingAllowed() {
		return
	}
	b.addEventRecord(0, sb.String())
}

// AddAction appends the record of a finished, committed action.
func (b *Beacon) AddAction(a ActionData) {
	if strings.TrimSpace(a.Name) == "" {
		log.SafeWarn(b.logger, "AddAction: action name must not be empty")
		return
	}
	if !b.privacy.ActionReportingAllowed() {
		return
	}
	var sb strings.Builder
	b.addBasicEventData(&sb, EventTypeAction, a.Name)
	b.addKeyValueInt32(&sb, keyActionID, a.ID)
	b.addKeyValueInt32(&sb, keyParentActionID, a.ParentID)
	b.addKeyValueInt32(&sb, keyStartSequence, a.StartSequenceNo)
	b.addKeyValueInt64(&sb, keyTimeZero, b.timeSinceSessionStart(a.StartTimeMs))
	b.addKeyValueInt32(&sb, keyEndSequence, a.EndSequenceNo)
	b.addKeyValueInt64(&sb, keyTimeOne, a.EndTimeMs-a.StartTimeMs)
	if !b.DataSendingAllowed() {
		return
	}
	b.cache.AddActionData(b.key, a.StartTimeMs, sb.String())
}

// ReportIntValue appends an integer value record on the given action.
func (b *Beacon) ReportIntValue(actionID int32, name string, value int32) {
	b.reportValue(actionID, EventTypeValueInt, name, strconv.FormatInt(int64(value), 10))
}

// ReportInt64Value appends a 64-bit integer value record on the given
// action.
func (b *Beacon) ReportInt64Value(actionID int32, name string, value int64) {
	b.reportValue(actionID, EventTypeValueInt, name, strconv.FormatInt(value, 10))
}

// ReportDoubleValue appends a floating point value record on the given
// action.
func (b *Beacon) ReportDoubleValue(actionID int32, name string, value float64) {
	b.reportValue(actionID, EventTypeValueDouble, name, strconv.FormatFloat(value, 'g', -1, 64))
}

// ReportStringValue appends a string value record on the given action.
func (b *Beacon) ReportStringValue(actionID int32, name string, value string) {
	b.reportValue(actionID, EventTypeValueString, name,
		percentEncode(truncate(value, MaxNameLength)))
}

func (b *Beacon) reportValue(actionID int32, et EventType, name, value string) {
	if strings.TrimSpace(name) == "" {
		log.SafeWarn(b.logger, "ReportValue: value name must not be empty")
		return
	}
	if !b.privacy.ValueReportingAllowed() {
		return
	}
	var sb strings.Builder
	b.addEventData(&sb, et, name, actionID)
	b.addKeyValueString(&sb, keyValue, value)
	if !b.DataSendingAllowed() {
		return
	}
	b.addEventRecord(actionID, sb.String())
}

// ReportEvent appends a named event record on the given action.
func (b *Beacon) ReportEvent(actionID int32, name string) {
	if strings.TrimSpace(name) == "" {
		log.SafeWarn(b.logger, "ReportEvent: event name must not be empty")
		return
	}
	if !b.privacy.EventReportingAllowed() {
		return
	}
	var sb strings.Builder
	b.addEventData(&sb, EventTypeNamedEvent, name, actionID)
	if !b.DataSendingAllowed() {
		return
	}
	b.addEventRecord(actionID, sb.String())
}

// ReportError appends an error-code record on the given action.
func (b *Beacon) ReportError(actionID int32, name string, code int32) {
	if strings.TrimSpace(name) == "" {
		log.SafeWarn(b.logger, "ReportError: error name must not be empty")
		return
	}
	if !b.privacy.ErrorReportingAllowed() {
		return
	}
	var sb strings.Builder
	b.addEventData(&sb, EventTypeError, name, actionID)
	b.addKeyValueInt32(&sb, keyErrorValue, code)
	b.addKeyValueString(&sb, keyErrorTechnology, config.ErrorTechnologyType)
	if !b.errorSendingAllowed() {
		return
	}
	b.addEventRecord(actionID, sb.String())
}

// ReportException appends an exception record with cause details on the
// given action.
func (b *Beacon) ReportException(actionID int32, name, causeName, causeDescription,
	causeStackTrace string) {

	if strings.TrimSpace(name) == "" {
		log.SafeWarn(b.logger, "ReportException: error name must not be empty")
		return
	}
	if !b.privacy.ErrorReportingAllowed() {
		return
	}
	var sb strings.Builder
	b.addEventData(&sb, EventTypeException, name, actionID)
	if causeName != "" {
		b.addKeyValueString(&sb, keyErrorValue, percentEncode(truncate(causeName, MaxNameLength)))
	}
	if causeDescription != "" {
		b.addKeyValueString(&sb, keyReason, percentEncode(truncate(causeDescription, MaxReasonLength)))
	}
	if causeStackTrace != "" {
		b.addKeyValueString(&sb, keyStacktrace, percentEncode(truncateStackTrace(causeStackTrace)))
	}
	b.addKeyValueString(&sb, keyErrorTechnology, config.ErrorTechnologyType)
	if !b.errorSendingAllowed() {
		return
	}
	b.addEventRecord(actionID, sb.String())
}

// ReportCrash appends a crash record on session level.
func (b *Beacon) ReportCrash(name, reason, stacktrace string) {
	if strings.TrimSpace(name) == "" {
		log.SafeWarn(b.logger, "ReportCrash: crash name must not be empty")
		return
	}
	if !b.privacy.CrashReportingAllowed() {
		return
	}
	var sb strings.Builder
	b.addEventData(&sb, EventTypeCrash, name, 0)
	if reason != "" {
		b.addKeyValueString(&sb, keyReason, percentEncode(truncate(reason, MaxReasonLength)))
	}
	if stacktrace != "" {
		b.addKeyValueString(&sb, keyStacktrace, percentEncode(truncateStackTrace(stacktrace)))
	}
	b.addKeyValueString(&sb, keyErrorTechnology, config.ErrorTechnologyType)
	if !b.crashSendingAllowed() {
		return
	}
	b.addEventRecord(0, sb.String())
}

// IdentifyUser appends an identify-user record. An empty tag
// re-anonymizes the session.
func (b *Beacon) IdentifyUser(tag string) {
	if !b.privacy.UserIdentificationAllowed() {
		return
	}
	var sb strings.Builder
	if tag == "" {
		b.addBasicEventData(&sb, EventTypeIdentifyUser, "")
		b.addKeyValueInt32(&sb, keyParentActionID, 0)
		b.addKeyValueInt32(&sb, keyStartSequence, b.NextSequenceNumber())
		b.addKeyValueInt64(&sb, keyTimeZero, b.timeSinceSessionStart(b.CurrentTimestampMs()))
	} else {
		b.addEventData(&sb, EventTypeIdentifyUser, tag, 0)
	}
	if !b.DataSendingAllowed() {
		return
	}
	b.addEventRecord(0, sb.String())
}

// AddWebRequest appends the record of a finished web request trace.
func (b *Beacon) AddWebRequest(parentActionID int32, w WebRequestData) {
	if w.URL == "" {
		log.SafeWarn(b.logger, "AddWebRequest: url must not be empty")
		return
	}
	if !b.privacy.WebRequestTracingAllowed() {
		return
	}
	var sb strings.Builder
	b.addKeyValueInt32(&sb, keyEventType, int32(EventTypeWebRequest))
	b.addKeyValueString(&sb, keyName, percentEncode(truncate(w.URL, MaxNameLength)))
	b.addKeyValueInt32(&sb, keyThreadID, b.threadID.ThreadID())
	b.addKeyValueInt32(&sb, keyParentActionID, parentActionID)
	b.addKeyValueInt32(&sb, keyStartSequence, w.StartSequenceNo)
	b.addKeyValueInt64(&sb, keyTimeZero, b.timeSinceSessionStart(w.StartTimeMs))
	b.addKeyValueInt32(&sb, keyEndSequence, w.EndSequenceNo)
	b.addKeyValueInt64(&sb, keyTimeOne, w.EndTimeMs-w.StartTimeMs)
	if w.BytesSent >= 0 {
		b.addKeyValueInt64(&sb, keyBytesSent, w.BytesSent)
	}
	if w.BytesReceived >= 0 {
		b.addKeyValueInt64(&sb, keyBytesReceived, w.BytesReceived)
	}
	if w.ResponseCode > 0 {
		b.addKeyValueInt32(&sb, keyResponseCode, w.ResponseCode)
	}
	if !b.DataSendingAllowed() {
		return
	}
	b.addEventRecord(parentActionID, sb.String())
}

// SendEvent appends an event envelope record with the given JSON payload
// built by BuildEventPayload.
func (b *Beacon) SendEvent(name string, attributes map[string]any) error {
	if strings.TrimSpace(name) == "" {
		log.SafeWarn(b.logger, "SendEvent: event name must not be empty")
		return serrors.Join(ErrInvalidArgument, nil, "reason", "empty event name")
	}
	if !b.privacy.EventReportingAllowed() {
		return nil
	}
	return b.sendEventPayload(EventPayloadInput{Name: name, Attributes: attributes})
}

// SendBizEvent appends a business event envelope record. Business events
// are exempt from the event privacy gate; only a full opt-out suppresses
// them.
func (b *Beacon) SendBizEvent(eventType string, attributes map[string]any) error {
	if strings.TrimSpace(eventType) == "" {
		log.SafeWarn(b.logger, "SendBizEvent: event type must not be empty")
		return serrors.Join(ErrInvalidArgument, nil, "reason", "empty event type")
	}
	if b.privacy.DataCollectionLevel == config.DataCollectionOff {
		return nil
	}
	return b.sendEventPayload(EventPayloadInput{Type: eventType, Attributes: attributes})
}

func (b *Beacon) sendEventPayload(in EventPayloadInput) error {
	in.ApplicationID = b.cfg.ApplicationID
	in.InstanceID = b.cfg.InstanceID
	in.SessionID = strconv.FormatInt(int64(b.sessionNumber), 10)
	in.TimestampNs = b.timing.CurrentTimestampNs()
	in.OSName = b.cfg.OperatingSystem
	in.Manufacturer = b.cfg.Manufacturer
	in.ModelID = b.cfg.ModelID
	in.AppVersion = b.cfg.ApplicationVersion

	payload, err := BuildEventPayload(in)
	if err != nil {
		return err
	}
	var sb strings.Builder
	b.addKeyValueInt32(&sb, keyEventType, int32(EventTypeEvent))
	b.addKeyValueString(&sb, keyEventPayload, percentEncode(payload))
	if !b.DataSendingAllowed() {
		return nil
	}
	b.addEventRecord(0, sb.String())
	return nil
}

// CreateTag builds the tag correlating a web request to this session and
// the given parent action. Returns the empty string when web request
// tracing is not permitted.
func (b *Beacon) CreateTag(parentActionID, sequenceNo int32) string {
	if !b.privacy.WebRequestTracingAllowed() {
		return ""
	}
	srv := b.server.Load()
	var sb strings.Builder
	sb.WriteString(tagPrefix)
	sb.WriteString("_")
	sb.WriteString(strconv.Itoa(config.ProtocolVersion))
	sb.WriteString("_")
	sb.WriteString(strconv.Itoa(srv.ServerID))
	sb.WriteString("_")
	sb.WriteString(strconv.FormatInt(b.deviceID, 10))
	sb.WriteString("_")
	sb.WriteString(strconv.FormatInt(int64(b.sessionNumber), 10))
	if srv.VisitStoreVersion > 1 {
		sb.WriteString("-")
		sb.WriteString(strconv.FormatInt(int64(b.key.SessionSequence), 10))
	}
	sb.WriteString("_")
	sb.WriteString(percentEncode(b.cfg.ApplicationID))
	sb.WriteString("_")
	sb.WriteString(strconv.FormatInt(int64(parentActionID), 10))
	sb.WriteString("_")
	sb.WriteString(strconv.FormatInt(int64(b.threadID.ThreadID()), 10))
	sb.WriteString("_")
	sb.WriteString(strconv.FormatInt(int64(sequenceNo), 10))
	return sb.String()
}

// Send drains this beacon's cached data in size-bounded chunks through the
// given client. On an erroneous response the chunk in flight is restored
// for a later retry and the loop aborts. Returns the last response, or nil
// if there was nothing to send.
func (b *Beacon) Send(ctx context.Context, client Client) *StatusResponse {
	b.cache.PrepareDataForSending(b.key)
	var last *StatusResponse
	for b.cache.HasDataForSending(b.key) {
		if ctx.Err() != nil {
			b.cache.ResetChunkedData(b.key)
			return last
		}
		maxSize := b.server.Load().BeaconSizeBytes - chunkReserveBytes
		if maxSize < 1 {
			maxSize = 1
		}
		chunk := b.cache.GetNextBeaconChunk(b.key, b.buildPrefix(), maxSize, beaconDataDelimiter)
		if chunk == "" {
			break
		}
		resp := client.SendBeaconRequest(ctx, b.clientIP, []byte(chunk))
		if resp.IsErroneous() {
			b.cache.ResetChunkedData(b.key)
			return resp
		}
		b.cache.RemoveChunkedData(b.key)
		last = resp
	}
	return last
}

// ClearData drops all cached and staged data of this beacon.
func (b *Beacon) ClearData() {
	b.pendingMtx.Lock()
	b.pending = make(map[int32][]pendingRecord)
	b.pendingMtx.Unlock()
	b.cache.DeleteCacheEntry(b.key)
}

// IsEmpty reports whether no data is cached for this beacon.
func (b *Beacon) IsEmpty() bool {
	return b.cache.IsEmpty(b.key)
}

// buildImmutablePrefix assembles the beacon fields that are fixed for the
// life of the session.
func (b *Beacon) buildImmutablePrefix() string {
	var sb strings.Builder
	sb.WriteString(keyProtocolVersion)
	sb.WriteString("=")
	sb.WriteString(strconv.Itoa(config.ProtocolVersion))
	b.addKeyValueString(&sb, keyAgentVersion, config.AgentVersion)
	b.addKeyValueString(&sb, keyApplicationID, percentEncode(b.cfg.ApplicationID))
	if b.cfg.ApplicationVersion != "" {
		b.addKeyValueString(&sb, keyAppVersion, percentEncode(b.cfg.ApplicationVersion))
	}
	b.addKeyValueInt32(&sb, keyPlatformType, config.PlatformTypeOpenKit)
	b.addKeyValueString(&sb, keyAgentTechnology, config.AgentTechnologyType)
	b.addKeyValueInt64(&sb, keyVisitorID, b.deviceID)
	b.addKeyValueInt32(&sb, keySessionNumber, b.sessionNumber)
	if b.clientIP != "" {
		b.addKeyValueString(&sb, keyClientIP, percentEncode(b.clientIP))
	}
	if b.cfg.OperatingSystem != "" {
		b.addKeyValueString(&sb, keyDeviceOS, percentEncode(b.cfg.OperatingSystem))
	}
	if b.cfg.Manufacturer != "" {
		b.addKeyValueString(&sb, keyManufacturer, percentEncode(b.cfg.Manufacturer))
	}
	if b.cfg.ModelID != "" {
		b.addKeyValueString(&sb, keyModelID, percentEncode(b.cfg.ModelID))
	}
	b.addKeyValueInt32(&sb, keyDataCollection, int32(b.privacy.DataCollectionLevel))
	b.addKeyValueInt32(&sb, keyCrashReporting, int32(b.privacy.CrashReportingLevel))
	return sb.String()
}

// buildPrefix assembles the full chunk prefix: the immutable part plus the
// per-send mutable part.
func (b *Beacon) buildPrefix() string {
	srv := b.server.Load()
	var sb strings.Builder
	sb.WriteString(b.immutablePrefix)
	b.addKeyValueInt32(&sb, keyVisitStore, int32(srv.VisitStoreVersion))
	if srv.VisitStoreVersion > 1 {
		b.addKeyValueInt32(&sb, keySessionSequence, b.key.SessionSequence)
	}
	b.addKeyValueInt64(&sb, keyTransmissionTime, b.CurrentTimestampMs())
	b.addKeyValueInt64(&sb, keySessionStartTime, b.sessionStartTimeMs)
	b.addKeyValueInt32(&sb, keyMultiplicityMut, int32(srv.Multiplicity))
	return sb.String()
}

// addBasicEventData writes the fields common to all records: event type,
// optional name, thread id.
func (b *Beacon) addBasicEventData(sb *strings.Builder, et EventType, name string) {
	b.addKeyValueInt32(sb, keyEventType, int32(et))
	if name != "" {
		b.addKeyValueString(sb, keyName, percentEncode(truncateName(name)))
	}
	b.addKeyValueInt32(sb, keyThreadID, b.threadID.ThreadID())
}

// addEventData writes the common fields plus parent id and an atomically
// drawn start sequence/timestamp pair.
func (b *Beacon) addEventData(sb *strings.Builder, et EventType, name string, parentID int32) {
	b.addBasicEventData(sb, et, name)
	b.addKeyValueInt32(sb, keyParentActionID, parentID)
	b.addKeyValueInt32(sb, keyStartSequence, b.NextSequenceNumber())
	b.addKeyValueInt64(sb, keyTimeZero, b.timeSinceSessionStart(b.CurrentTimestampMs()))
}

// addEventRecord appends an event record. Records scoped to an open
// action are staged until CommitActionData or DiscardActionData decides
// their fate; session-level records go straight to the cache.
func (b *Beacon) addEventRecord(actionID int32, data string) {
	timestampMs := b.CurrentTimestampMs()
	if actionID > 0 {
		b.pendingMtx.Lock()
		b.pending[actionID] = append(b.pending[actionID],
			pendingRecord{timestampMs: timestampMs, data: data})
		b.pendingMtx.Unlock()
		return
	}
	b.cache.AddEventData(b.key, timestampMs, data)
}

// CommitActionData flushes the staged records of a committed action into
// the cache, in report order.
func (b *Beacon) CommitActionData(actionID int32) {
	b.pendingMtx.Lock()
	records := b.pending[actionID]
	delete(b.pending, actionID)
	b.pendingMtx.Unlock()
	for _, r := range records {
		b.cache.AddEventData(b.key, r.timestampMs, r.data)
	}
}

// DiscardActionData drops the staged records of a canceled action.
func (b *Beacon) DiscardActionData(actionID int32) {
	b.pendingMtx.Lock()
	delete(b.pending, actionID)
	b.pendingMtx.Unlock()
}

func (b *Beacon) timeSinceSessionStart(timestampMs int64) int64 {
	return timestampMs - b.sessionStartTimeMs
}

func (b *Beacon) addKeyValueString(sb *strings.Builder, key, value string) {
	appendKey(sb, key)
	sb.WriteString(value)
}

func (b *Beacon) addKeyValueInt32(sb *strings.Builder, key string, value int32) {
	appendKey(sb, key)
	sb.WriteString(strconv.FormatInt(int64(value), 10))
}

func (b *Beacon) addKeyValueInt64(sb *strings.Builder, key string, value int64) {
	appendKey(sb, key)
	sb.WriteString(strconv.FormatInt(value, 10))
}

func appendKey(sb *strings.Builder, key string) {
	if sb.Len() > 0 {
		sb.WriteString(beaconDataDelimiter)
	}
	sb.WriteString(key)
	sb.WriteString("=")
}
