package coordinator

import (
	"encoding/json"
	"strings"

	"github.com/roomctl/roomcore/internal/dispatch"
	"github.com/roomctl/roomcore/internal/envelope"
	"github.com/roomctl/roomcore/internal/safety"
)

// inboundKind classifies a message arriving on Session.Events() by
// topic shape, so the coordinator's routing switch doesn't re-parse
// topic strings inline.
type inboundKind int

const (
	inboundUnknown inboundKind = iota
	inboundHeartbeat
	inboundAck
	inboundPresence
	inboundState
	inboundTelemetry
	inboundDispatchRequest
	inboundControlRequest
)

// classify parses topic as room/{roomID}/device/{id}/{suffix} or
// room/{roomID}/core/{suffix} and returns the matching kind and device
// id (empty for core topics). Any other shape, or a room id that
// doesn't match ours, is inboundUnknown and silently dropped.
func classify(roomID, topic string) (inboundKind, string) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[0] != "room" || parts[1] != roomID {
		return inboundUnknown, ""
	}
	switch parts[2] {
	case "device":
		if len(parts) != 5 {
			return inboundUnknown, ""
		}
		deviceID := parts[3]
		switch parts[4] {
		case "heartbeat":
			return inboundHeartbeat, deviceID
		case "ack":
			return inboundAck, deviceID
		case "presence":
			return inboundPresence, deviceID
		case "state":
			return inboundState, deviceID
		case "telemetry":
			return inboundTelemetry, deviceID
		}
	case "core":
		if len(parts) != 4 {
			return inboundUnknown, ""
		}
		switch parts[3] {
		case "dispatch":
			return inboundDispatchRequest, ""
		case "control":
			return inboundControlRequest, ""
		}
	}
	return inboundUnknown, ""
}

// presenceDoc, ackDoc mirror the inbound device-reported JSON shapes.
// Each decoder unmarshals the payload and then rejects it when the
// schema field is missing or differs from envelope.Schema; the caller
// logs the drop.
type presenceDoc struct {
	Schema string `json:"schema"`
	Online bool   `json:"online"`
}

type ackDoc struct {
	Schema         string        `json:"schema"`
	CommandID      string        `json:"command_id"`
	CorrelationID  string        `json:"correlation_id"`
	Kind           string        `json:"kind"`
	RejectReason   string        `json:"reject_reason,omitempty"`
	ReportedSafety *safety.State `json:"reported_safety,omitempty"`
}

func decodeAck(deviceID string, raw []byte) (dispatch.Ack, bool) {
	var doc ackDoc
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Schema != envelope.Schema {
		return dispatch.Ack{}, false
	}
	return dispatch.Ack{
		DeviceID: deviceID, CommandID: doc.CommandID, CorrelationID: doc.CorrelationID,
		Kind: dispatch.AckKind(doc.Kind), RejectReason: doc.RejectReason, ReportedSafety: doc.ReportedSafety,
	}, true
}

func decodePresence(raw []byte) (presenceDoc, bool) {
	var doc presenceDoc
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Schema != envelope.Schema {
		return presenceDoc{}, false
	}
	return doc, true
}

// coreDispatchRequestDoc is the wire shape of an ad-hoc or operator-
// originated dispatch request published to room/{r}/core/dispatch.
type coreDispatchRequestDoc struct {
	Schema               string          `json:"schema"`
	RoomID               string          `json:"room_id"`
	DeviceID             string          `json:"device_id"`
	Action               string          `json:"action"`
	Parameters           json.RawMessage `json:"parameters"`
	SafetyClass          string          `json:"safety_class"`
	CorrelationID        string          `json:"correlation_id"`
}

func decodeDispatchRequest(raw []byte) (dispatch.Request, bool) {
	var doc coreDispatchRequestDoc
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Schema != envelope.Schema {
		return dispatch.Request{}, false
	}
	return dispatch.Request{
		Schema: doc.Schema, RoomID: doc.RoomID, DeviceID: doc.DeviceID,
		Action: envelope.Action(doc.Action), Parameters: doc.Parameters,
		RequestedSafetyClass: envelope.SafetyClass(doc.SafetyClass), CorrelationID: doc.CorrelationID,
	}, true
}

// coreControlRequestDoc is the wire shape of room/{r}/core/control.
type coreControlRequestDoc struct {
	Schema     string          `json:"schema"`
	RoomID     string          `json:"room_id"`
	Op         string          `json:"op"`
	Token      string          `json:"token"`
	Parameters json.RawMessage `json:"parameters"`
}

func decodeControlRequest(raw []byte) (coreControlRequestDoc, bool) {
	var doc coreControlRequestDoc
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Schema != envelope.Schema {
		return coreControlRequestDoc{}, false
	}
	return doc, true
}

// hasValidSchema checks the one field every message payload is
// required to carry, for the kinds (heartbeat, state, telemetry) whose
// remaining content passes through unparsed.
func hasValidSchema(raw []byte) bool {
	var doc struct {
		Schema string `json:"schema"`
	}
	return json.Unmarshal(raw, &doc) == nil && doc.Schema == envelope.Schema
}
