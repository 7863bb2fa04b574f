// Package status owns the coordinator's outward-facing telemetry: the
// retained core-status document, the core heartbeat beacon, and fault
// fan-out to the broker, the structured log, and the event store. It
// is the single fault.Sink every other component raises through.
package status

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/roomctl/roomcore/internal/eventstore"
	"github.com/roomctl/roomcore/internal/fault"
	"github.com/roomctl/roomcore/internal/logger"
	"github.com/roomctl/roomcore/internal/metrics"
	"github.com/roomctl/roomcore/internal/registry"
	"github.com/roomctl/roomcore/internal/safety"
	"github.com/roomctl/roomcore/internal/tracker"
)

// StatusInterval and HeartbeatInterval are the two publish cadences
// the coordinator ticks the publisher at.
const (
	StatusInterval    = 1 * time.Second
	HeartbeatInterval = 5 * time.Second
)

// CorePublisher is the broker-backed sink for room-level documents,
// implemented by the broker session adapter.
type CorePublisher interface {
	PublishCoreStatus(payload []byte) error
	PublishCoreHeartbeat(payload []byte) error
	PublishCoreFault(payload []byte) error
	PublishDeviceFault(deviceID string, payload []byte) error
}

// GraphState is the subset of *graph.Runner the publisher reports on.
type GraphState interface {
	Running() bool
	ActiveCount() int
	Version() int64
}

// coreStatusDoc is the retained room-level status payload.
type coreStatusDoc struct {
	Schema          string             `json:"schema"`
	RoomID          string             `json:"room_id"`
	UptimeSeconds   float64            `json:"uptime_seconds"`
	TickIntervalMs  int64              `json:"tick_interval_ms"`
	DryRun          bool               `json:"dry_run"`
	DispatchEnabled bool               `json:"dispatch_enabled"`
	PauseReason     safety.PauseReason `json:"pause_reason"`
	BrokerDownSince *time.Time         `json:"broker_down_since,omitempty"`
	LatchedSince    *time.Time         `json:"latched_since,omitempty"`
	RoomSafety      safety.State       `json:"room_safety"`
	DeviceCount     int                `json:"device_count"`
	OfflineCount    int                `json:"offline_count"`
	GraphRunning    bool               `json:"graph_running"`
	GraphActive     int                `json:"graph_active_nodes"`
	GraphVersion    int64              `json:"graph_version"`
	ObservedAt      time.Time          `json:"observed_at"`
}

type coreHeartbeatDoc struct {
	Schema     string    `json:"schema"`
	RoomID     string    `json:"room_id"`
	ObservedAt time.Time `json:"observed_at"`
}

type faultDoc struct {
	Kind       fault.Kind     `json:"kind"`
	Severity   fault.Severity `json:"severity"`
	RoomID     string         `json:"room_id"`
	DeviceID   string         `json:"device_id,omitempty"`
	Message    string         `json:"message"`
	Blockers   []string       `json:"blockers,omitempty"`
	ObservedAt time.Time      `json:"observed_at"`
}

// Publisher recomputes and publishes room status on a fixed cadence
// and fans every raised fault out to the broker, the log, and the
// event store. It is safe to construct with a nil Writer and/or a nil
// metrics.Registry (event persistence and/or metrics disabled).
type Publisher struct {
	roomID string
	schema string
	tickMs int64
	start  time.Time

	reg   *registry.Registry
	trk   *tracker.Tracker
	sup   *safety.Supervisor
	gr    GraphState
	core  CorePublisher
	wr    *eventstore.Writer
	mr    *metrics.Registry

	dryRun          bool
	dispatchEnabled bool

	lastStatus    time.Time
	lastHeartbeat time.Time

	snapshotMu sync.Mutex
	snapshot   json.RawMessage
}

// New builds a Publisher. tickMs is reported in the status document as
// the coordinator's configured tick interval. reg/trk/sup/gr may be
// nil at construction time and supplied later via SetSources — every
// other component that needs this Publisher as their fault.Sink must
// exist before the registry/tracker/supervisor/runner they in turn
// feed the rollup, so the coordinator wires sources in after building
// everything else.
func New(roomID, schema string, tickMs int64, reg *registry.Registry, trk *tracker.Tracker, sup *safety.Supervisor, gr GraphState, core CorePublisher, wr *eventstore.Writer, mr *metrics.Registry) *Publisher {
	return &Publisher{
		roomID: roomID, schema: schema, tickMs: tickMs,
		reg: reg, trk: trk, sup: sup, gr: gr, core: core, wr: wr, mr: mr,
		dispatchEnabled: true,
	}
}

// SetSources wires the rollup inputs in once they exist. Safe to call
// exactly once, before the first Tick.
func (p *Publisher) SetSources(reg *registry.Registry, trk *tracker.Tracker, sup *safety.Supervisor, gr GraphState) {
	p.reg, p.trk, p.sup, p.gr = reg, trk, sup, gr
}

func (p *Publisher) SetDryRun(v bool)          { p.dryRun = v }
func (p *Publisher) SetDispatchEnabled(v bool) { p.dispatchEnabled = v }

// Start stamps the publisher's uptime origin. Call once before the
// first Tick.
func (p *Publisher) Start(now time.Time) { p.start = now }

// Tick publishes the status document and/or heartbeat if their
// respective intervals have elapsed since the last publish.
func (p *Publisher) Tick(now time.Time) {
	if p.lastStatus.IsZero() || now.Sub(p.lastStatus) >= StatusInterval {
		p.publishStatus(now)
		p.lastStatus = now
	}
	if p.lastHeartbeat.IsZero() || now.Sub(p.lastHeartbeat) >= HeartbeatInterval {
		p.publishHeartbeat(now)
		p.lastHeartbeat = now
	}
}

func (p *Publisher) publishStatus(now time.Time) {
	deviceCount := p.reg.Len()
	offlineCount := p.trk.OfflineCount()

	var kinds []safety.Kind
	for _, id := range p.reg.DeviceIDs() {
		if e := p.trk.Lookup(id); e != nil {
			kinds = append(kinds, e.LastSafety.Kind)
		}
	}
	roomSafety := safety.RoomSafety(kinds, p.sup.IsLatched())

	doc := coreStatusDoc{
		Schema: p.schema, RoomID: p.roomID,
		UptimeSeconds:   now.Sub(p.start).Seconds(),
		TickIntervalMs:  p.tickMs,
		DryRun:          p.dryRun,
		DispatchEnabled: p.dispatchEnabled,
		PauseReason:     p.sup.PauseReason(),
		RoomSafety:      roomSafety,
		DeviceCount:     deviceCount,
		OfflineCount:    offlineCount,
		ObservedAt:      now,
	}
	if p.gr != nil {
		doc.GraphRunning = p.gr.Running()
		doc.GraphActive = p.gr.ActiveCount()
		doc.GraphVersion = p.gr.Version()
	}
	if down := p.sup.BrokerDownSince(); !down.IsZero() {
		doc.BrokerDownSince = &down
	}
	if latched := p.sup.LatchedSince(); !latched.IsZero() {
		doc.LatchedSince = &latched
	}

	if p.mr != nil {
		p.mr.SetDeviceCounts(deviceCount, offlineCount)
		p.mr.SetPauseReason(string(doc.PauseReason))
		if p.gr != nil {
			p.mr.SetGraphState(doc.GraphActive, doc.GraphVersion)
		}
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		logger.Error("status: marshal core status failed", "error", err)
		return
	}

	p.snapshotMu.Lock()
	p.snapshot = payload
	p.snapshotMu.Unlock()

	if p.core != nil {
		if err := p.core.PublishCoreStatus(payload); err != nil {
			logger.Warn("status: publish core status failed", "error", err)
		}
	}
	p.enqueue(eventstore.Record{RoomID: p.roomID, Topic: "core/status", Kind: "CORE_STATUS", ObservedAt: now, PayloadJSON: payload})
}

func (p *Publisher) publishHeartbeat(now time.Time) {
	payload, err := json.Marshal(coreHeartbeatDoc{Schema: p.schema, RoomID: p.roomID, ObservedAt: now})
	if err != nil {
		return
	}
	if p.core != nil {
		if err := p.core.PublishCoreHeartbeat(payload); err != nil {
			logger.Warn("status: publish core heartbeat failed", "error", err)
		}
	}
}

// Raise implements fault.Sink: every component in the coordinator
// raises through this one sink, so logging, broker publish, and event
// persistence only need to be wired once.
func (p *Publisher) Raise(f fault.Fault) {
	logArgs := []any{"kind", f.Kind, "room_id", f.RoomID}
	if f.DeviceID != "" {
		logArgs = append(logArgs, "device_id", f.DeviceID)
	}
	if len(f.Blockers) > 0 {
		logArgs = append(logArgs, "blockers", f.Blockers)
	}
	switch f.Severity {
	case fault.SeverityCritical, fault.SeverityWarn:
		logger.Warn(f.Message, logArgs...)
	default:
		logger.Info(f.Message, logArgs...)
	}

	payload, err := json.Marshal(faultDoc{
		Kind: f.Kind, Severity: f.Severity, RoomID: f.RoomID, DeviceID: f.DeviceID,
		Message: f.Message, Blockers: f.Blockers, ObservedAt: f.ObservedAt,
	})
	if err != nil {
		logger.Error("status: marshal fault failed", "error", err)
		return
	}

	if p.core != nil {
		if f.DeviceID != "" {
			if err := p.core.PublishDeviceFault(f.DeviceID, payload); err != nil {
				logger.Warn("status: publish device fault failed", "error", err)
			}
		} else {
			if err := p.core.PublishCoreFault(payload); err != nil {
				logger.Warn("status: publish core fault failed", "error", err)
			}
		}
	}

	p.enqueue(eventstore.Record{RoomID: f.RoomID, DeviceID: f.DeviceID, Topic: "fault", Kind: string(f.Kind), ObservedAt: f.ObservedAt, PayloadJSON: payload})
}

// Snapshot returns the most recently published status document, for
// callers (the façade) that need a synchronous read without waiting
// for the next tick. Returns a minimal placeholder before the first
// publish.
func (p *Publisher) Snapshot(now time.Time) json.RawMessage {
	p.snapshotMu.Lock()
	defer p.snapshotMu.Unlock()
	if p.snapshot == nil {
		return json.RawMessage(`{"schema":"` + p.schema + `","room_id":"` + p.roomID + `"}`)
	}
	return p.snapshot
}

func (p *Publisher) enqueue(rec eventstore.Record) {
	if p.wr == nil {
		return
	}
	p.wr.Enqueue(rec)
}
