// Package tracker maintains per-device liveness and last-known state,
// derived purely from messages the broker session delivers. It owns
// the online/offline edge detection that the safety supervisor and
// command dispatcher both depend on for admission.
package tracker

import (
	"encoding/json"
	"time"

	"github.com/roomctl/roomcore/internal/fault"
	"github.com/roomctl/roomcore/internal/safety"
)

// Presence is a device's last reported presence, independent of the
// liveness window computation.
type Presence string

const (
	PresenceUnknown Presence = "UNKNOWN"
	PresenceOnline  Presence = "ONLINE"
	PresenceOffline Presence = "OFFLINE"
)

// DefaultTelemetryRingSize is the number of raw telemetry payloads
// retained per device for operator diagnosis when no override is
// configured.
const DefaultTelemetryRingSize = 20

// Entry is one device's tracked liveness and state.
type Entry struct {
	DeviceID string

	LastHeartbeat time.Time
	LastAck       time.Time
	LastPresence  time.Time
	LastState     time.Time

	LastStateSnapshot json.RawMessage
	LastSafety        safety.State

	Presence Presence
	Offline  bool

	telemetry *ring
}

// Telemetry returns the retained raw telemetry payloads, oldest first.
func (e *Entry) Telemetry() []json.RawMessage {
	if e == nil || e.telemetry == nil {
		return nil
	}
	return e.telemetry.snapshot()
}

// Publisher is the retained device-status publish sink, implemented by
// the broker session adapter the coordinator wires in.
type Publisher interface {
	PublishDeviceStatus(deviceID string, entry Entry)
}

// Tracker holds every known device's Entry, created lazily on first
// message and retained for the process lifetime.
type Tracker struct {
	roomID            string
	offlineWindow     time.Duration
	telemetryRingSize int

	sink      fault.Sink
	publisher Publisher

	entries map[string]*Entry
}

// New creates a Tracker. telemetryRingSize <= 0 uses DefaultTelemetryRingSize.
func New(roomID string, offlineWindow time.Duration, telemetryRingSize int, sink fault.Sink, publisher Publisher) *Tracker {
	if telemetryRingSize <= 0 {
		telemetryRingSize = DefaultTelemetryRingSize
	}
	return &Tracker{
		roomID:            roomID,
		offlineWindow:     offlineWindow,
		telemetryRingSize: telemetryRingSize,
		sink:              sink,
		publisher:         publisher,
		entries:           make(map[string]*Entry),
	}
}

func (t *Tracker) entry(deviceID string) *Entry {
	e, ok := t.entries[deviceID]
	if !ok {
		e = &Entry{DeviceID: deviceID, Presence: PresenceUnknown, telemetry: newRing(t.telemetryRingSize)}
		t.entries[deviceID] = e
	}
	return e
}

// Lookup returns the entry for deviceID, or nil if no message has
// arrived from it yet.
func (t *Tracker) Lookup(deviceID string) *Entry {
	return t.entries[deviceID]
}

// IsOffline reports whether deviceID is currently considered offline.
// An unknown device is treated as offline — it cannot be admitted.
func (t *Tracker) IsOffline(deviceID string) bool {
	e := t.entries[deviceID]
	if e == nil {
		return true
	}
	return e.Offline
}

// OnHeartbeat records a heartbeat arrival.
func (t *Tracker) OnHeartbeat(deviceID string, observedAt time.Time) {
	t.entry(deviceID).LastHeartbeat = observedAt
}

// OnAck records an ack arrival and, when the ack carries a reported
// safety state, updates it and checks for a latch transition.
func (t *Tracker) OnAck(deviceID string, observedAt time.Time, reported *safety.State, sup *safety.Supervisor) {
	e := t.entry(deviceID)
	e.LastAck = observedAt
	if reported != nil {
		e.LastSafety = *reported
		if sup != nil {
			sup.MaybeLatch(deviceID, *reported, observedAt)
		}
	}
}

// OnPresence records an explicit presence report and re-evaluates
// liveness immediately so an explicit OFFLINE report takes effect
// without waiting for the next sweep.
func (t *Tracker) OnPresence(deviceID string, online bool, observedAt time.Time) {
	e := t.entry(deviceID)
	e.LastPresence = observedAt
	if online {
		e.Presence = PresenceOnline
	} else {
		e.Presence = PresenceOffline
	}
	t.recompute(e, observedAt)
}

// OnState records a retained state snapshot update.
func (t *Tracker) OnState(deviceID string, raw json.RawMessage, observedAt time.Time) {
	e := t.entry(deviceID)
	e.LastState = observedAt
	e.LastStateSnapshot = raw
}

// OnTelemetry appends a raw telemetry payload to the device's ring
// buffer without affecting liveness or state.
func (t *Tracker) OnTelemetry(deviceID string, raw json.RawMessage) {
	t.entry(deviceID).telemetry.push(raw)
}

// Sweep recomputes liveness for every tracked device. Called every
// 500 ms by the coordinator tick loop.
func (t *Tracker) Sweep(now time.Time) {
	for _, e := range t.entries {
		t.recompute(e, now)
	}
}

func (t *Tracker) recompute(e *Entry, now time.Time) {
	wasOffline := e.Offline

	offline := e.Presence == PresenceOffline
	if !offline && !e.LastHeartbeat.IsZero() && now.Sub(e.LastHeartbeat) > t.offlineWindow {
		offline = true
	}
	e.Offline = offline

	if offline == wasOffline {
		return
	}

	if t.publisher != nil {
		t.publisher.PublishDeviceStatus(e.DeviceID, *e)
	}
	if t.sink == nil {
		return
	}
	if offline {
		t.sink.Raise(fault.Fault{
			Kind: fault.KindDeviceOffline, Severity: fault.SeverityWarn,
			RoomID: t.roomID, DeviceID: e.DeviceID,
			Message: "device transitioned offline", ObservedAt: now,
		})
	} else {
		t.sink.Raise(fault.Fault{
			Kind: fault.KindDeviceOnline, Severity: fault.SeverityInfo,
			RoomID: t.roomID, DeviceID: e.DeviceID,
			Message: "device transitioned online", ObservedAt: now,
		})
	}
}

// DeviceCount returns the number of tracked devices. OfflineCount
// supports the status publisher's rollup without it needing to walk the
// Tracker's internal map itself.
func (t *Tracker) DeviceCount() int { return len(t.entries) }

func (t *Tracker) OfflineCount() int {
	n := 0
	for _, e := range t.entries {
		if e.Offline {
			n++
		}
	}
	return n
}
