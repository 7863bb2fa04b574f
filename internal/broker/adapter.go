package broker

import (
	"encoding/json"
	"time"

	"github.com/roomctl/roomcore/internal/tracker"
)

// CommandPublisher adapts a Session to dispatch.Publisher for a single
// room, so the dispatcher depends only on the narrow interface it
// needs rather than the whole Session.
type CommandPublisher struct {
	Session *Session
	RoomID  string
}

func (p CommandPublisher) Publish(topic string, payload []byte) error {
	return p.Session.Publish(topic, AtLeastOnce, false, payload)
}

// deviceStatusDoc is the retained per-device status document published
// on every liveness or safety transition.
type deviceStatusDoc struct {
	DeviceID      string          `json:"device_id"`
	Offline       bool            `json:"offline"`
	Presence      string          `json:"presence"`
	LastHeartbeat time.Time       `json:"last_heartbeat,omitempty"`
	LastAck       time.Time       `json:"last_ack,omitempty"`
	SafetyKind    string          `json:"safety_kind"`
	SafetyLatched bool            `json:"safety_latched"`
	LastState     json.RawMessage `json:"last_state,omitempty"`
}

// StatusPublisher adapts a Session to tracker.Publisher, publishing a
// retained device status document whenever liveness or presence
// transitions.
type StatusPublisher struct {
	Session *Session
	RoomID  string
}

func (p StatusPublisher) PublishDeviceStatus(deviceID string, entry tracker.Entry) {
	doc := deviceStatusDoc{
		DeviceID:      deviceID,
		Offline:       entry.Offline,
		Presence:      string(entry.Presence),
		LastHeartbeat: entry.LastHeartbeat,
		LastAck:       entry.LastAck,
		SafetyKind:    string(entry.LastSafety.Kind),
		SafetyLatched: entry.LastSafety.Latched,
		LastState:     entry.LastStateSnapshot,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return
	}
	_ = p.Session.PublishDeviceStatus(p.RoomID, deviceID, payload)
}

// CorePublisher adapts a Session to status.CorePublisher for a single
// room.
type CorePublisher struct {
	Session *Session
	RoomID  string
}

func (p CorePublisher) PublishCoreStatus(payload []byte) error {
	return p.Session.PublishCoreStatus(p.RoomID, payload)
}

func (p CorePublisher) PublishCoreHeartbeat(payload []byte) error {
	return p.Session.PublishCoreHeartbeat(p.RoomID, payload)
}

func (p CorePublisher) PublishCoreFault(payload []byte) error {
	return p.Session.PublishCoreFault(p.RoomID, payload)
}

func (p CorePublisher) PublishDeviceFault(deviceID string, payload []byte) error {
	return p.Session.PublishDeviceFault(p.RoomID, deviceID, payload)
}
