// Package dispatch implements the command dispatcher: admission,
// signing, publish, retry, ack/completion tracking, and control-plane
// idempotency by correlation id. It is the single place physical
// commands leave the coordinator.
package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roomctl/roomcore/internal/envelope"
	"github.com/roomctl/roomcore/internal/fault"
	"github.com/roomctl/roomcore/internal/metrics"
	"github.com/roomctl/roomcore/internal/registry"
	"github.com/roomctl/roomcore/internal/safety"
	"github.com/roomctl/roomcore/internal/tracker"
)

// RecentCompletedTTL bounds how long a completed correlation id is
// remembered to deduplicate a retried operator request.
const RecentCompletedTTL = 10 * time.Minute

// Publisher publishes a signed command to the broker. QoS and
// retained-ness are fixed by the dispatcher (at-least-once, not
// retained) per the command topic's contract.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// AckKind is the terminal (or progress) state an ack reports.
type AckKind string

const (
	AckAccepted  AckKind = "ACCEPTED"
	AckCompleted AckKind = "COMPLETED"
	AckRejected  AckKind = "REJECTED"
)

// Ack is a parsed device acknowledgement.
type Ack struct {
	DeviceID      string
	CommandID     string
	CorrelationID string
	Kind          AckKind
	RejectReason  string
	ReportedSafety *safety.State
}

// Dispatcher is the command dispatcher described in §4.6. All methods
// run on the single coordinator goroutine; no internal locking.
type Dispatcher struct {
	roomID string
	schema string

	registry *registry.Registry
	tracker  *tracker.Tracker
	sup      *safety.Supervisor
	sink     fault.Sink
	pub      Publisher
	metrics  *metrics.Registry

	dryRun          bool
	dispatchEnabled bool
	criticalArmed   bool

	defaultRetries          int
	defaultAckTimeout       time.Duration
	defaultCompleteTimeout  time.Duration

	seq  *sequencer
	corr *correlationTracker

	pending map[string]*Pending
}

// Config is the dispatcher's tunable defaults, overridable per request.
type Config struct {
	Schema                 string
	RoomID                 string
	DryRun                 bool
	DispatchEnabled        bool
	CriticalArmed          bool
	DefaultRetries         int
	DefaultAckTimeout      time.Duration
	DefaultCompleteTimeout time.Duration
}

// New builds a Dispatcher.
func New(cfg Config, reg *registry.Registry, trk *tracker.Tracker, sup *safety.Supervisor, sink fault.Sink, pub Publisher, mr *metrics.Registry) *Dispatcher {
	return &Dispatcher{
		roomID: cfg.RoomID, schema: cfg.Schema,
		registry: reg, tracker: trk, sup: sup, sink: sink, pub: pub, metrics: mr,
		dryRun: cfg.DryRun, dispatchEnabled: cfg.DispatchEnabled, criticalArmed: cfg.CriticalArmed,
		defaultRetries: cfg.DefaultRetries, defaultAckTimeout: cfg.DefaultAckTimeout, defaultCompleteTimeout: cfg.DefaultCompleteTimeout,
		seq:     newSequencer(),
		corr:    newCorrelationTracker(RecentCompletedTTL),
		pending: make(map[string]*Pending),
	}
}

func (d *Dispatcher) SetDryRun(v bool)          { d.dryRun = v }
func (d *Dispatcher) SetDispatchEnabled(v bool) { d.dispatchEnabled = v }
func (d *Dispatcher) SetCriticalArmed(v bool)   { d.criticalArmed = v }

// PendingCount reports the number of in-flight commands. Used by the
// property test asserting the pending set is empty after a broker
// disconnect.
func (d *Dispatcher) PendingCount() int { return len(d.pending) }

// IsPending reports whether commandID still has an in-flight entry.
// The Graph Runner polls this to learn when a DISPATCH node's awaited
// command has reached any terminal state — the graph does not
// distinguish success from failure beyond "done".
func (d *Dispatcher) IsPending(commandID string) bool {
	_, ok := d.pending[commandID]
	return ok
}

func (d *Dispatcher) raise(kind fault.Kind, sev fault.Severity, deviceID, msg string, now time.Time) {
	if d.metrics != nil {
		d.metrics.IncDispatchFault(string(kind))
	}
	if d.sink == nil {
		return
	}
	d.sink.Raise(fault.Fault{Kind: kind, Severity: sev, RoomID: d.roomID, DeviceID: deviceID, Message: msg, ObservedAt: now})
}

// admit runs the seven admission checks in order, returning the
// device's registry entry on success.
func (d *Dispatcher) admit(req Request, now time.Time) (*registry.Entry, envelope.SafetyClass, bool) {
	if req.Schema != "" && req.Schema != d.schema {
		d.raise(fault.KindDispatchRequestInvalid, fault.SeverityWarn, req.DeviceID, "schema mismatch", now)
		return nil, "", false
	}
	if req.RoomID != "" && req.RoomID != d.roomID {
		d.raise(fault.KindDispatchRequestInvalid, fault.SeverityWarn, req.DeviceID, "room id mismatch", now)
		return nil, "", false
	}

	if d.sup != nil && d.sup.PauseReason() != safety.PauseNone {
		d.raise(fault.KindDispatchBlockedPaused, fault.SeverityInfo, req.DeviceID, "dispatch paused", now)
		return nil, "", false
	}

	if !d.dispatchEnabled {
		d.raise(fault.KindDispatchBlockedDisabled, fault.SeverityInfo, req.DeviceID, "dispatch disabled", now)
		return nil, "", false
	}
	if d.dryRun {
		d.raise(fault.KindDispatchBlockedDryRun, fault.SeverityInfo, req.DeviceID, "dry run", now)
		return nil, "", false
	}

	entry := d.registry.Lookup(req.DeviceID)
	if entry == nil || !entry.Enabled {
		d.raise(fault.KindDispatchBlockedDeviceDisabled, fault.SeverityWarn, req.DeviceID, "device unknown or disabled", now)
		return nil, "", false
	}

	requested := registry.SafetyClass(req.RequestedSafetyClass)
	effective := registry.EffectiveSafetyClass(requested, entry)
	if effective == registry.SafetyCritical {
		if !d.criticalArmed {
			d.raise(fault.KindDispatchBlockedCriticalNotArmed, fault.SeverityWarn, req.DeviceID, "critical dispatch not armed", now)
			return nil, "", false
		}
		last := d.tracker.Lookup(req.DeviceID)
		if last == nil || last.LastSafety.Kind != safety.KindSafe || last.LastSafety.Latched {
			d.raise(fault.KindDispatchBlockedDeviceNotSafe, fault.SeverityWarn, req.DeviceID, "device not safe for critical dispatch", now)
			return nil, "", false
		}
	}

	if d.tracker.IsOffline(req.DeviceID) {
		d.raise(fault.KindDispatchBlockedDeviceOffline, fault.SeverityWarn, req.DeviceID, "device offline", now)
		return nil, "", false
	}

	if len(entry.HMACKey) == 0 {
		d.raise(fault.KindDispatchBlockedMissingDeviceKey, fault.SeverityWarn, req.DeviceID, "no hmac key for device", now)
		return nil, "", false
	}

	return entry, envelope.SafetyClass(effective), true
}

// Dispatch runs admission, idempotency, sign, and publish for req.
func (d *Dispatcher) Dispatch(req Request, now time.Time) Outcome {
	d.corr.sweep(now)

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = envelope.NewCorrelationID()
	}

	if d.corr.isRecentlyCompleted(correlationID) {
		return Outcome{Admitted: false}
	}
	if cmdID, ok := d.corr.inflightCommandID(correlationID); ok {
		if _, stillPending := d.pending[cmdID]; stillPending {
			return Outcome{Admitted: false}
		}
		d.corr.clearInflight(correlationID)
	}

	entry, effective, ok := d.admit(req, now)
	if !ok {
		return Outcome{Admitted: false}
	}

	commandID := envelope.NewCommandID()
	seq := d.seq.allocate(req.DeviceID)

	env := &envelope.Envelope{
		Schema: d.schema, RoomID: d.roomID, DeviceID: req.DeviceID,
		CommandID: commandID, CorrelationID: correlationID, Sequence: seq,
		IssuedAtMs: now.UnixMilli(), Action: req.Action, Parameters: req.Parameters,
		SafetyClass: effective,
	}
	if _, err := envelope.Sign(env, entry.HMACKey, req.DeviceID); err != nil {
		d.raise(fault.KindDispatchRequestInvalid, fault.SeverityWarn, req.DeviceID, "envelope encode error: "+err.Error(), now)
		return Outcome{Admitted: false}
	}

	retries := d.defaultRetries
	if req.RetriesOverride != nil {
		retries = *req.RetriesOverride
	}
	ackTimeout := d.defaultAckTimeout
	if req.AckTimeoutOverride != nil {
		ackTimeout = *req.AckTimeoutOverride
	}
	completeTimeout := d.defaultCompleteTimeout
	if req.CompleteTimeoutOverride != nil {
		completeTimeout = *req.CompleteTimeoutOverride
	}

	p := &Pending{
		Envelope: env, FirstPublishedAt: now, LastUpdatedAt: now, PublishedAt: now,
		RetriesLeft: retries, AckTimeout: ackTimeout, CompleteTimeout: completeTimeout,
		CorrelationID: correlationID,
	}
	d.pending[commandID] = p
	d.corr.markInflight(correlationID, commandID)

	d.publish(env, now)

	return Outcome{CommandID: commandID, Admitted: true}
}

func (d *Dispatcher) publish(env *envelope.Envelope, now time.Time) {
	payload, err := json.Marshal(env)
	if err != nil {
		d.raise(fault.KindDispatchRequestInvalid, fault.SeverityWarn, env.DeviceID, "marshal error: "+err.Error(), now)
		return
	}
	topic := fmt.Sprintf("room/%s/device/%s/cmd", d.roomID, env.DeviceID)
	if d.pub != nil {
		if err := d.pub.Publish(topic, payload); err != nil {
			d.raise(fault.KindDispatchRequestInvalid, fault.SeverityWarn, env.DeviceID, "publish error: "+err.Error(), now)
			return
		}
	}
	if d.metrics != nil {
		d.metrics.IncDispatchPublish()
	}
}

// OnAck applies a device acknowledgement to the matching pending
// command. An ack for a command id this dispatcher has no record of
// (e.g. after restart) re-binds the correlation mapping so later
// control-plane duplicates are dropped instead of re-dispatched.
func (d *Dispatcher) OnAck(ack Ack, now time.Time) {
	if ack.DeviceID != "" {
		d.tracker.OnAck(ack.DeviceID, now, ack.ReportedSafety, d.sup)
	}

	p, ok := d.pending[ack.CommandID]
	if !ok {
		if ack.CorrelationID != "" {
			d.corr.markInflight(ack.CorrelationID, ack.CommandID)
		}
		return
	}

	p.LastUpdatedAt = now
	switch ack.Kind {
	case AckAccepted:
		p.Accepted = true
		p.AcceptedAt = now
	case AckCompleted:
		p.Completed = true
	case AckRejected:
		p.Rejected = true
		p.RejectReason = ack.RejectReason
	}
}

// Tick evaluates every pending command's timeout state. Called once
// per coordinator tick.
func (d *Dispatcher) Tick(now time.Time) {
	for commandID, p := range d.pending {
		switch {
		case p.Rejected:
			d.raise(fault.KindCommandRejected, fault.SeverityWarn, p.Envelope.DeviceID, p.RejectReason, now)
			d.corr.markCompleted(p.CorrelationID, now)
			delete(d.pending, commandID)

		case p.Completed:
			d.corr.markCompleted(p.CorrelationID, now)
			delete(d.pending, commandID)

		case p.Accepted && now.Sub(p.AcceptedAt) > p.CompleteTimeout:
			// No retry after ACCEPTED: the device has taken
			// responsibility: a duplicate would be a second
			// physical action.
			d.raise(fault.KindCommandCompleteTimeout, fault.SeverityWarn, p.Envelope.DeviceID, "accepted command never completed", now)
			d.corr.markCompleted(p.CorrelationID, now)
			delete(d.pending, commandID)

		case !p.Accepted && now.Sub(p.PublishedAt) > p.AckTimeout:
			if p.RetriesLeft > 0 {
				p.RetriesLeft--
				p.PublishedAt = now
				p.LastUpdatedAt = now
				d.publish(p.Envelope, now)
			} else {
				d.raise(fault.KindCommandAckTimeout, fault.SeverityWarn, p.Envelope.DeviceID, "no ack within timeout, retries exhausted", now)
				d.corr.markCompleted(p.CorrelationID, now)
				delete(d.pending, commandID)
			}
		}
	}
}

// OnBrokerDisconnected clears all in-flight state. Latent replays on
// reconnect are forbidden; operators resume dispatch manually.
func (d *Dispatcher) OnBrokerDisconnected(now time.Time) {
	d.pending = make(map[string]*Pending)
	d.corr.reset()
	if d.sup != nil {
		d.sup.SetBrokerDown(true, now)
	}
	d.raise(fault.KindBrokerOutage, fault.SeverityWarn, "", "broker disconnected, pending commands abandoned", now)
}

// OnBrokerConnected clears the broker-outage pause reason.
func (d *Dispatcher) OnBrokerConnected(now time.Time) {
	if d.sup != nil {
		d.sup.SetBrokerDown(false, now)
	}
}
