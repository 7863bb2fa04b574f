package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	jsonpointer "github.com/go-openapi/jsonpointer"

	"github.com/roomctl/roomcore/internal/dispatch"
	"github.com/roomctl/roomcore/internal/envelope"
	"github.com/roomctl/roomcore/internal/fault"
	"github.com/roomctl/roomcore/internal/metrics"
	"github.com/roomctl/roomcore/internal/safety"
	"github.com/roomctl/roomcore/internal/tracker"
)

// TransitionBudget caps node transitions processed in a single Tick so
// a large or cyclic graph cannot stall the coordinator loop.
const TransitionBudget = 128

// Sentinel refusal reasons, distinguished so the control plane can
// raise the matching fault kind (START/RELOAD denied vs a genuine
// load failure).
var (
	ErrNoGraphLoaded = errors.New("graph: no graph loaded")
	ErrAlreadyRunning = errors.New("graph: already running")
	ErrDispatchPaused = errors.New("graph: dispatch paused")
	ErrReloadDenied   = errors.New("graph: reload denied: running or dispatch not paused")
)

// Dispatcher is the subset of *dispatch.Dispatcher the runner needs.
type Dispatcher interface {
	Dispatch(req dispatch.Request, now time.Time) dispatch.Outcome
	IsPending(commandID string) bool
}

// Store loads the current graph document from external storage, used
// by Reload.
type Store interface {
	LoadGraph() (*Document, error)
}

// PauseChecker reports the coordinator's current dispatch pause
// reason, mirroring safety.Supervisor.PauseReason without coupling
// the runner to the concrete type beyond this one method.
type PauseChecker interface {
	PauseReason() safety.PauseReason
}

// Runner executes the loaded graph's active node set one tick at a
// time. A nil or empty active set means the graph is not running.
type Runner struct {
	roomID string
	schema string

	doc     *Document
	nodes   map[string]*Node
	version int64

	active []ActiveNode

	dispatcher Dispatcher
	trk        *tracker.Tracker
	pause      PauseChecker
	sink       fault.Sink
	metrics    *metrics.Registry

	dispatchEnabled bool
	dryRun          bool
}

// New builds a Runner with no graph loaded.
func New(roomID, schema string, dispatcher Dispatcher, trk *tracker.Tracker, pause PauseChecker, sink fault.Sink, mr *metrics.Registry) *Runner {
	return &Runner{
		roomID: roomID, schema: schema,
		dispatcher: dispatcher, trk: trk, pause: pause, sink: sink, metrics: mr,
		dispatchEnabled: true,
	}
}

func (r *Runner) SetDispatchEnabled(v bool) { r.dispatchEnabled = v }
func (r *Runner) SetDryRun(v bool)          { r.dryRun = v }

func (r *Runner) Loaded() bool    { return r.doc != nil }
func (r *Runner) Running() bool   { return len(r.active) > 0 }
func (r *Runner) Version() int64  { return r.version }
func (r *Runner) ActiveCount() int { return len(r.active) }

func (r *Runner) raise(kind fault.Kind, sev fault.Severity, deviceID, msg string, now time.Time) {
	if r.metrics != nil {
		r.metrics.IncDispatchFault(string(kind))
	}
	if r.sink == nil {
		return
	}
	r.sink.Raise(fault.Fault{Kind: kind, Severity: sev, RoomID: r.roomID, DeviceID: deviceID, Message: msg, ObservedAt: now})
}

// Load validates and installs doc as the current graph, without
// starting it. Schema and room id must match the coordinator's.
func (r *Runner) Load(doc *Document) error {
	if doc.Schema != r.schema {
		return fmt.Errorf("graph: schema mismatch: got %q want %q", doc.Schema, r.schema)
	}
	if doc.RoomID != r.roomID {
		return fmt.Errorf("graph: room id mismatch: got %q want %q", doc.RoomID, r.roomID)
	}
	r.doc = doc
	r.nodes = doc.byID()
	r.version = doc.Version
	return nil
}

// Start initializes the active set from the graph's start nodes. Only
// valid when a graph is loaded, not already running, and dispatch is
// not paused.
func (r *Runner) Start(now time.Time) error {
	if r.doc == nil {
		return ErrNoGraphLoaded
	}
	if r.Running() {
		return ErrAlreadyRunning
	}
	if r.pause != nil && r.pause.PauseReason() != safety.PauseNone {
		return ErrDispatchPaused
	}
	active := make([]ActiveNode, 0, len(r.doc.Start))
	for _, id := range r.doc.Start {
		active = append(active, ActiveNode{NodeID: id, EnteredAt: now})
	}
	r.active = active
	return nil
}

// Stop clears the active set unconditionally.
func (r *Runner) Stop() {
	r.active = nil
}

// Reload is refused while the graph is running or dispatch is not
// paused; on success it replaces the loaded graph and version.
func (r *Runner) Reload(store Store) error {
	if r.Running() {
		return ErrReloadDenied
	}
	if r.pause != nil && r.pause.PauseReason() == safety.PauseNone {
		return ErrReloadDenied
	}
	doc, err := store.LoadGraph()
	if err != nil {
		return fmt.Errorf("graph: load failed: %w", err)
	}
	if err := r.Load(doc); err != nil {
		return fmt.Errorf("graph: load failed: %w", err)
	}
	return nil
}

// Tick advances the active node set by up to TransitionBudget
// transitions. A no-op if the graph is not running, dispatch is
// disabled/dry-run, or dispatch is paused.
func (r *Runner) Tick(now time.Time) {
	if !r.Running() {
		return
	}
	if !r.dispatchEnabled || r.dryRun {
		return
	}
	if r.pause != nil && r.pause.PauseReason() != safety.PauseNone {
		return
	}

	queue := r.active
	r.active = nil
	var carried []ActiveNode
	budget := TransitionBudget

	for len(queue) > 0 && budget > 0 {
		an := queue[0]
		queue = queue[1:]
		budget--

		res := r.step(an, now)
		if res.abort {
			r.active = nil
			return
		}
		if res.stillWaiting != nil {
			carried = append(carried, *res.stillWaiting)
			continue
		}
		for _, id := range res.nextIDs {
			queue = append(queue, ActiveNode{NodeID: id, EnteredAt: now})
		}
	}

	carried = append(carried, queue...)
	r.active = carried

	if r.metrics != nil {
		r.metrics.SetGraphState(len(r.active), r.version)
	}
}

type stepResult struct {
	stillWaiting *ActiveNode
	nextIDs      []string
	abort        bool
}

func (r *Runner) step(an ActiveNode, now time.Time) stepResult {
	node, ok := r.nodes[an.NodeID]
	if !ok {
		return stepResult{}
	}

	switch node.Kind {
	case NodeNoop:
		return stepResult{nextIDs: node.NextIDs()}

	case NodeDelay:
		if now.Sub(an.EnteredAt) >= time.Duration(node.DelayMs)*time.Millisecond {
			return stepResult{nextIDs: node.NextIDs()}
		}
		return stepResult{stillWaiting: &an}

	case NodeWaitStateEquals:
		if node.TimeoutMs > 0 && now.Sub(an.EnteredAt) >= time.Duration(node.TimeoutMs)*time.Millisecond {
			r.raise(fault.KindGraphTimeout, fault.SeverityWarn, node.DeviceID, "wait_state_equals timed out on node "+node.ID, now)
			return stepResult{abort: true}
		}
		if r.stateMatches(node) {
			return stepResult{nextIDs: node.NextIDs()}
		}
		return stepResult{stillWaiting: &an}

	case NodeDispatch:
		if an.AwaitingCmd == "" {
			out := r.dispatcher.Dispatch(dispatch.Request{
				Schema: r.schema, RoomID: r.roomID,
				DeviceID: node.DeviceID, Action: node.Action, Parameters: node.Parameters,
				RequestedSafetyClass: node.SafetyClass, CorrelationID: envelope.NewCorrelationID(),
			}, now)
			if !out.Admitted {
				r.raise(fault.KindGraphDispatchFailed, fault.SeverityWarn, node.DeviceID, "dispatch node "+node.ID+" was not admitted", now)
				return stepResult{abort: true}
			}
			an.AwaitingCmd = out.CommandID
			an.DeferredNext = node.NextIDs()
			return stepResult{stillWaiting: &an}
		}
		if r.dispatcher.IsPending(an.AwaitingCmd) {
			return stepResult{stillWaiting: &an}
		}
		// Terminal either way: the graph advances on completion or
		// failure alike, per the node's declared next.
		return stepResult{nextIDs: an.DeferredNext}
	}

	return stepResult{}
}

func (r *Runner) stateMatches(node *Node) bool {
	entry := r.trk.Lookup(node.DeviceID)
	if entry == nil || len(entry.LastStateSnapshot) == 0 {
		return false
	}

	var doc any
	if err := json.Unmarshal(entry.LastStateSnapshot, &doc); err != nil {
		return false
	}

	ptr, err := jsonpointer.New(node.Pointer)
	if err != nil {
		return false
	}
	got, _, err := ptr.Get(doc)
	if err != nil {
		return false
	}

	var want any
	if err := json.Unmarshal(node.ExpectedValue, &want); err != nil {
		return false
	}

	return reflect.DeepEqual(got, want)
}
