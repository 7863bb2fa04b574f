package logger

import "log/slog"

// Standard field keys for structured logging. Use these consistently
// across dispatch, tracker, safety, graph, and control-plane log lines
// so operators can filter/aggregate on them.
const (
	// ========================================================================
	// Room & Device Identity
	// ========================================================================
	KeyRoomID   = "room_id"
	KeyDeviceID = "device_id"

	// ========================================================================
	// Command Envelope
	// ========================================================================
	KeyCommandID     = "command_id"
	KeyCorrelationID = "correlation_id"
	KeySequence      = "sequence"
	KeyAction        = "action"
	KeySafetyClass   = "safety_class"

	// ========================================================================
	// Safety & Liveness
	// ========================================================================
	KeySafetyKind  = "safety_kind"
	KeyPauseReason = "pause_reason"
	KeyOffline     = "offline"

	// ========================================================================
	// Fault Events
	// ========================================================================
	KeyFaultKind     = "fault_kind"
	KeyFaultSeverity = "fault_severity"

	// ========================================================================
	// Graph Runner
	// ========================================================================
	KeyNodeID      = "node_id"
	KeyGraphVer    = "graph_version"
	KeyActiveNodes = "active_nodes"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyTopic      = "topic"
	KeyRetries    = "retries_left"
)

// RoomID returns a slog.Attr for the room identifier
func RoomID(id string) slog.Attr { return slog.String(KeyRoomID, id) }

// DeviceID returns a slog.Attr for the device identifier
func DeviceID(id string) slog.Attr { return slog.String(KeyDeviceID, id) }

// CommandID returns a slog.Attr for the command identifier
func CommandID(id string) slog.Attr { return slog.String(KeyCommandID, id) }

// CorrelationID returns a slog.Attr for the correlation identifier
func CorrelationID(id string) slog.Attr { return slog.String(KeyCorrelationID, id) }

// Sequence returns a slog.Attr for the per-device sequence number
func Sequence(seq uint64) slog.Attr { return slog.Uint64(KeySequence, seq) }

// Action returns a slog.Attr for the command action kind
func Action(action string) slog.Attr { return slog.String(KeyAction, action) }

// SafetyClass returns a slog.Attr for a command's safety class
func SafetyClass(class string) slog.Attr { return slog.String(KeySafetyClass, class) }

// SafetyKind returns a slog.Attr for a reported safety state kind
func SafetyKind(kind string) slog.Attr { return slog.String(KeySafetyKind, kind) }

// PauseReason returns a slog.Attr for the dispatch pause reason
func PauseReason(reason string) slog.Attr { return slog.String(KeyPauseReason, reason) }

// Offline returns a slog.Attr for a device's offline flag
func Offline(offline bool) slog.Attr { return slog.Bool(KeyOffline, offline) }

// FaultKind returns a slog.Attr for a fault's machine-readable kind
func FaultKind(kind string) slog.Attr { return slog.String(KeyFaultKind, kind) }

// FaultSeverity returns a slog.Attr for a fault's severity
func FaultSeverity(sev string) slog.Attr { return slog.String(KeyFaultSeverity, sev) }

// NodeID returns a slog.Attr for a graph node identifier
func NodeID(id string) slog.Attr { return slog.String(KeyNodeID, id) }

// GraphVersion returns a slog.Attr for the loaded graph's version
func GraphVersion(v int64) slog.Attr { return slog.Int64(KeyGraphVer, v) }

// ActiveNodes returns a slog.Attr for the number of active graph nodes
func ActiveNodes(n int) slog.Attr { return slog.Int(KeyActiveNodes, n) }

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error, or a zero Attr if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Topic returns a slog.Attr for a broker topic
func Topic(t string) slog.Attr { return slog.String(KeyTopic, t) }

// RetriesLeft returns a slog.Attr for remaining dispatch retries
func RetriesLeft(n int) slog.Attr { return slog.Int(KeyRetries, n) }
