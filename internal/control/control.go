// Package control implements the operator control plane: pause/resume
// dispatch, safety-latch reset, and graph start/stop/reload. Every
// operation is gated by an optional shared-secret token. An operation
// that runs raises a fault event recording what happened; a refusal
// raises one where a fault kind exists for it (unauthorized, reset
// denied, graph start or reload denied or failed), and the remaining
// refusals (schema or room mismatch, no latch active, unknown op) are
// returned as errors only.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roomctl/roomcore/internal/envelope"
	"github.com/roomctl/roomcore/internal/fault"
	"github.com/roomctl/roomcore/internal/graph"
	"github.com/roomctl/roomcore/internal/registry"
	"github.com/roomctl/roomcore/internal/safety"
	"github.com/roomctl/roomcore/internal/tracker"
)

// Op is a control-plane operation kind.
type Op string

const (
	OpPauseDispatch     Op = "PAUSE_DISPATCH"
	OpResumeDispatch    Op = "RESUME_DISPATCH"
	OpResetSafetyLatch  Op = "RESET_SAFETY_LATCH"
	OpStartGraph        Op = "START_GRAPH"
	OpStopGraph         Op = "STOP_GRAPH"
	OpReloadGraph       Op = "RELOAD_GRAPH"
)

// Request is a parsed CoreControlRequest message. Schema and RoomID
// are optional on the Go-level Request (tests and in-process callers
// may omit them); the wire decoder always populates them from the
// JSON message before calling Handle.
type Request struct {
	Schema      string
	RoomID      string
	Op          Op
	Parameters  json.RawMessage
	RequestedAt time.Time
	Token       string
}

// Plane is the control plane. GraphStore is consulted only by
// RELOAD_GRAPH.
type Plane struct {
	roomID string
	token  string

	sup        *safety.Supervisor
	reg        *registry.Registry
	trk        *tracker.Tracker
	runner     *graph.Runner
	graphStore graph.Store

	sink fault.Sink
}

// New builds a Plane. token == "" disables the shared-secret check.
func New(roomID, token string, sup *safety.Supervisor, reg *registry.Registry, trk *tracker.Tracker, runner *graph.Runner, graphStore graph.Store, sink fault.Sink) *Plane {
	return &Plane{roomID: roomID, token: token, sup: sup, reg: reg, trk: trk, runner: runner, graphStore: graphStore, sink: sink}
}

func (p *Plane) raise(kind fault.Kind, sev fault.Severity, msg string, blockers []string, now time.Time) {
	if p.sink == nil {
		return
	}
	p.sink.Raise(fault.Fault{Kind: kind, Severity: sev, RoomID: p.roomID, Message: msg, Blockers: blockers, ObservedAt: now})
}

// Handle dispatches req to the matching operation. An error return
// means the operation was refused; a fault has already been raised
// for every refusal that the specification names a kind for.
func (p *Plane) Handle(req Request, now time.Time) error {
	if req.Schema != "" && req.Schema != envelope.Schema {
		return fmt.Errorf("control: schema mismatch: got %q want %q", req.Schema, envelope.Schema)
	}
	if req.RoomID != "" && req.RoomID != p.roomID {
		return fmt.Errorf("control: room id mismatch: got %q want %q", req.RoomID, p.roomID)
	}
	if p.token != "" && req.Token != p.token {
		p.raise(fault.KindControlUnauthorized, fault.SeverityWarn, "control request missing or mismatched token", nil, now)
		return fmt.Errorf("control: unauthorized")
	}

	switch req.Op {
	case OpPauseDispatch:
		return p.pause(now)
	case OpResumeDispatch:
		return p.resume(now)
	case OpResetSafetyLatch:
		return p.resetSafetyLatch(now)
	case OpStartGraph:
		return p.startGraph(now)
	case OpStopGraph:
		return p.stopGraph(now)
	case OpReloadGraph:
		return p.reloadGraph(now)
	default:
		return fmt.Errorf("control: unknown op %q", req.Op)
	}
}

func (p *Plane) pause(now time.Time) error {
	p.sup.SetManualPause(true)
	p.raise(fault.KindDispatchPaused, fault.SeverityInfo, "dispatch manually paused", nil, now)
	return nil
}

func (p *Plane) resume(now time.Time) error {
	p.sup.SetManualPause(false)
	p.sup.SetBrokerDown(false, now)
	p.raise(fault.KindDispatchResumed, fault.SeverityInfo, "dispatch resumed", nil, now)
	return nil
}

// resetSafetyLatch refuses unless every known device is online,
// reports SAFE, and is not itself latched. Two-actor confirmation is
// the façade's responsibility; this op trusts it already happened.
func (p *Plane) resetSafetyLatch(now time.Time) error {
	if !p.sup.IsLatched() {
		return fmt.Errorf("control: no safety latch active")
	}

	var blockers []string
	for _, id := range p.reg.DeviceIDs() {
		e := p.trk.Lookup(id)
		if e == nil || e.Offline || e.LastSafety.Kind != safety.KindSafe || e.LastSafety.Latched {
			blockers = append(blockers, id)
		}
	}
	if len(blockers) > 0 {
		p.raise(fault.KindSafetyResetDenied, fault.SeverityWarn, "safety reset denied: blocking devices", blockers, now)
		return fmt.Errorf("control: safety reset denied, %d blocking device(s)", len(blockers))
	}

	p.sup.ClearLatch()
	p.raise(fault.KindSafetyLatchReset, fault.SeverityInfo, "safety latch reset", nil, now)
	return nil
}

func (p *Plane) startGraph(now time.Time) error {
	if err := p.runner.Start(now); err != nil {
		p.raise(fault.KindGraphStartDenied, fault.SeverityWarn, err.Error(), nil, now)
		return err
	}
	p.raise(fault.KindGraphStarted, fault.SeverityInfo, "graph started", nil, now)
	return nil
}

func (p *Plane) stopGraph(now time.Time) error {
	p.runner.Stop()
	p.raise(fault.KindGraphStopped, fault.SeverityInfo, "graph stopped", nil, now)
	return nil
}

func (p *Plane) reloadGraph(now time.Time) error {
	if err := p.runner.Reload(p.graphStore); err != nil {
		kind := fault.KindGraphReloadFailed
		if errors.Is(err, graph.ErrReloadDenied) {
			kind = fault.KindGraphReloadDenied
		}
		p.raise(kind, fault.SeverityWarn, err.Error(), nil, now)
		return err
	}
	p.raise(fault.KindGraphReloaded, fault.SeverityInfo, "graph reloaded", nil, now)
	return nil
}
