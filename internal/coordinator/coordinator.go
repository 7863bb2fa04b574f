// Package coordinator owns the single cooperative event loop tying
// every other component together: a tick drives periodic sweeps and
// publishes, broker events are routed to the tracker/dispatcher/graph/
// control plane, and everything funds into one fault.Sink. No
// component outside this package runs its own goroutine against
// shared state; the only other goroutines are the broker's internal
// network loop and the event-store writer, both isolated behind
// channels.
package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/roomctl/roomcore/internal/broker"
	"github.com/roomctl/roomcore/internal/control"
	"github.com/roomctl/roomcore/internal/dispatch"
	"github.com/roomctl/roomcore/internal/envelope"
	"github.com/roomctl/roomcore/internal/eventstore"
	"github.com/roomctl/roomcore/internal/fault"
	"github.com/roomctl/roomcore/internal/graph"
	"github.com/roomctl/roomcore/internal/logger"
	"github.com/roomctl/roomcore/internal/metrics"
	"github.com/roomctl/roomcore/internal/registry"
	"github.com/roomctl/roomcore/internal/safety"
	"github.com/roomctl/roomcore/internal/status"
	"github.com/roomctl/roomcore/internal/tracker"
)

// DefaultTickInterval is used when Config.TickInterval is left zero.
const DefaultTickInterval = 250 * time.Millisecond

// Config is everything needed to assemble a Coordinator. Dispatcher,
// Graph, and Control fields are filled in by New; callers supply the
// room-level settings and already-open collaborators.
type Config struct {
	RoomID string

	// TickInterval is the cooperative loop cadence: tracker liveness
	// sweep, dispatcher ack/complete timeout check, and graph
	// transition processing all happen at multiples of this rate.
	// Zero means DefaultTickInterval.
	TickInterval time.Duration

	OfflineWindow          time.Duration
	TelemetryRingSize      int
	DryRun                 bool
	DispatchEnabled        bool
	CriticalArmed          bool
	DefaultRetries         int
	DefaultAckTimeout      time.Duration
	DefaultCompleteTimeout time.Duration
	ControlToken           string

	Session *broker.Session
	Store   eventstore.Store // nil disables durable persistence
	Metrics *metrics.Registry
}

// Coordinator wires the Broker Session, Device Registry, Device
// Tracker, Safety Supervisor, Command Dispatcher, Graph Runner,
// Control Plane, and Status Publisher into one event loop.
type Coordinator struct {
	cfg Config

	registry *registry.Registry
	tracker  *tracker.Tracker
	sup      *safety.Supervisor
	disp     *dispatch.Dispatcher
	runner   *graph.Runner
	plane    *control.Plane
	statusPub *status.Publisher
	writer   *eventstore.Writer
	tick     time.Duration
}

// New assembles every collaborator. seed pre-populates the registry
// before the (optional) store's devices overlay it.
func New(cfg Config, seed registry.Seed) (*Coordinator, error) {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}

	var writer *eventstore.Writer
	if cfg.Store != nil {
		writer = eventstore.NewWriter(cfg.Store, eventstore.DefaultQueueCapacity, cfg.Metrics)
	}

	statusPub := status.New(cfg.RoomID, envelope.Schema, tick.Milliseconds(), nil, nil, nil, nil,
		broker.CorePublisher{Session: cfg.Session, RoomID: cfg.RoomID}, writer, cfg.Metrics)

	var storeForRegistry registry.Store
	if cfg.Store != nil {
		storeForRegistry = cfg.Store
	}
	reg, err := registry.Load(storeForRegistry, seed)
	if err != nil {
		return nil, err
	}

	trk := tracker.New(cfg.RoomID, cfg.OfflineWindow, cfg.TelemetryRingSize, statusPub,
		broker.StatusPublisher{Session: cfg.Session, RoomID: cfg.RoomID})

	sup := safety.NewSupervisor(cfg.RoomID, statusPub)

	disp := dispatch.New(dispatch.Config{
		Schema: envelope.Schema, RoomID: cfg.RoomID,
		DryRun: cfg.DryRun, DispatchEnabled: cfg.DispatchEnabled, CriticalArmed: cfg.CriticalArmed,
		DefaultRetries: cfg.DefaultRetries, DefaultAckTimeout: cfg.DefaultAckTimeout, DefaultCompleteTimeout: cfg.DefaultCompleteTimeout,
	}, reg, trk, sup, statusPub, broker.CommandPublisher{Session: cfg.Session, RoomID: cfg.RoomID}, cfg.Metrics)

	runner := graph.New(cfg.RoomID, envelope.Schema, disp, trk, sup, statusPub, cfg.Metrics)

	var graphStore graph.Store
	if cfg.Store != nil {
		graphStore = cfg.Store
	}
	plane := control.New(cfg.RoomID, cfg.ControlToken, sup, reg, trk, runner, graphStore, statusPub)

	// statusPub was constructed before its rollup sources existed,
	// since it is itself the fault.Sink those sources are built with.
	// Wire them in now that the cycle is closed.
	statusPub.SetSources(reg, trk, sup, runner)
	statusPub.SetDryRun(cfg.DryRun)
	statusPub.SetDispatchEnabled(cfg.DispatchEnabled)

	return &Coordinator{
		cfg: cfg, registry: reg, tracker: trk, sup: sup, disp: disp, runner: runner,
		plane: plane, statusPub: statusPub, writer: writer, tick: tick,
	}, nil
}

// CurrentStatus implements facade.StatusSource by returning the most
// recently published core-status document. Safe to call concurrently
// with Run's event loop.
func (c *Coordinator) CurrentStatus() json.RawMessage {
	return c.statusPub.Snapshot(time.Now())
}

// Runner exposes the Graph Runner for callers that need to Load an
// initial graph document before Run starts (e.g. cmd/roomcore).
func (c *Coordinator) Runner() *graph.Runner { return c.runner }

// Run drives the event loop until ctx is cancelled. Blocking.
func (c *Coordinator) Run(ctx context.Context) error {
	c.statusPub.Start(time.Now())

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	// Tracker liveness sweep runs every 500ms/tick ticks (rounded down),
	// which is about every 500ms; with a tick longer than 500ms it runs
	// once per tick.
	sweepEvery := int((500 * time.Millisecond) / c.tick)
	if sweepEvery < 1 {
		sweepEvery = 1
	}
	tickCount := 0

	for {
		select {
		case <-ctx.Done():
			if c.writer != nil {
				c.writer.Stop()
			}
			return ctx.Err()

		case now := <-ticker.C:
			tickCount++
			if tickCount%sweepEvery == 0 {
				c.tracker.Sweep(now)
			}
			c.disp.Tick(now)
			c.runner.Tick(now)
			c.statusPub.Tick(now)
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.SetBrokerConnected(c.cfg.Session.Connected())
			}

		case ev, ok := <-c.cfg.Session.Events():
			if !ok {
				continue
			}
			c.handleEvent(ev, time.Now())
		}
	}
}

func (c *Coordinator) handleEvent(ev broker.Event, now time.Time) {
	switch ev.Kind {
	case broker.EventConnected:
		c.disp.OnBrokerConnected(now)
		logger.Info("broker connected", "room_id", c.cfg.RoomID)
	case broker.EventDisconnected:
		c.disp.OnBrokerDisconnected(now)
		logger.Warn("broker disconnected", "room_id", c.cfg.RoomID, "reason", ev.Reason)
	case broker.EventMessage:
		c.handleMessage(ev.Topic, ev.Payload, now)
	}
}

func (c *Coordinator) handleMessage(topic string, payload []byte, now time.Time) {
	kind, deviceID := classify(c.cfg.RoomID, topic)
	switch kind {
	case inboundHeartbeat:
		if !hasValidSchema(payload) {
			logDrop(topic)
			return
		}
		c.tracker.OnHeartbeat(deviceID, now)

	case inboundAck:
		ack, ok := decodeAck(deviceID, payload)
		if !ok {
			logDrop(topic)
			return
		}
		c.tracker.OnAck(deviceID, now, ack.ReportedSafety, c.sup)
		c.disp.OnAck(ack, now)

	case inboundPresence:
		doc, ok := decodePresence(payload)
		if !ok {
			logDrop(topic)
			return
		}
		c.tracker.OnPresence(deviceID, doc.Online, now)

	case inboundState:
		if !hasValidSchema(payload) {
			logDrop(topic)
			return
		}
		c.tracker.OnState(deviceID, payload, now)

	case inboundTelemetry:
		if !hasValidSchema(payload) {
			logDrop(topic)
			return
		}
		c.tracker.OnTelemetry(deviceID, payload)

	case inboundDispatchRequest:
		req, ok := decodeDispatchRequest(payload)
		if !ok {
			logDrop(topic)
			return
		}
		c.disp.Dispatch(req, now)

	case inboundControlRequest:
		doc, ok := decodeControlRequest(payload)
		if !ok {
			logDrop(topic)
			return
		}
		err := c.plane.Handle(control.Request{
			Schema: doc.Schema, RoomID: doc.RoomID, Op: control.Op(doc.Op),
			Parameters: doc.Parameters, RequestedAt: now, Token: doc.Token,
		}, now)
		if err != nil {
			logger.Warn("control request refused", "error", err, "op", doc.Op)
		}
	}
}

// logDrop records an inbound payload that failed to decode or carried
// a missing or mismatched schema.
func logDrop(topic string) {
	logger.Debug("dropping inbound message: undecodable or schema mismatch", "topic", topic)
}

var _ fault.Sink = (*status.Publisher)(nil)
