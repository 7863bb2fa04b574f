// Package broker wraps the MQTT client connection the coordinator uses
// to talk to devices: command publishes, heartbeat/state/telemetry
// subscriptions, and connect/disconnect lifecycle events delivered to
// the coordinator's event loop over a channel rather than callbacks
// racing against the tick loop.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// QoS mirrors the two MQTT quality-of-service levels this coordinator
// uses. Heartbeats are AtMostOnce (a missed one is indistinguishable
// from a slow one, and the liveness window already tolerates loss), as
// is high-rate telemetry; everything else — commands, acks, presence,
// state, status, faults, control — is AtLeastOnce.
type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
)

// Event is one lifecycle or inbound-message notification, delivered in
// arrival order on Session.Events(). The coordinator's select loop is
// the only reader.
type Event struct {
	Kind     EventKind
	Topic    string
	Payload  []byte
	Reason   error
}

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMessage
)

// Config configures a broker Session.
type Config struct {
	Brokers        []string
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

// Session owns the underlying paho client and fans its callbacks into
// a single buffered channel the coordinator selects on.
type Session struct {
	cfg    Config
	client mqtt.Client
	events chan Event

	mu          sync.Mutex
	subscribed  map[string]QoS
}

// New builds a Session. Connect must be called before any publish or
// subscribe.
func New(cfg Config) *Session {
	s := &Session{cfg: cfg, events: make(chan Event, 256), subscribed: make(map[string]QoS)}

	opts := mqtt.NewClientOptions()
	for _, b := range cfg.Brokers {
		opts.AddBroker(b)
	}
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		s.emit(Event{Kind: EventConnected})
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.emit(Event{Kind: EventDisconnected, Reason: err})
	})

	s.client = mqtt.NewClient(opts)
	return s
}

func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	default:
		// Event channel full: the coordinator tick loop has fallen
		// behind. Drop rather than block the paho callback goroutine.
	}
}

// Events returns the channel the coordinator selects on for connect,
// disconnect, and inbound message notifications.
func (s *Session) Events() <-chan Event { return s.events }

// Connect blocks until the initial connection attempt completes or ctx
// is done.
func (s *Session) Connect(ctx context.Context) error {
	token := s.client.Connect()
	deadline := s.cfg.ConnectTimeout
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	done := make(chan struct{})
	go func() { token.Wait(); close(done) }()

	select {
	case <-done:
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(deadline):
		return fmt.Errorf("broker: connect timed out after %s", deadline)
	}
}

// Publish sends payload to topic at qos. retained marks it for the
// broker to hold as the topic's last-known value (used for device and
// core status topics, never for commands).
func (s *Session) Publish(topic string, qos QoS, retained bool, payload []byte) error {
	token := s.client.Publish(topic, byte(qos), retained, payload)
	token.Wait()
	return token.Error()
}

// Subscribe registers topic at qos. Inbound messages surface as
// EventMessage on Events().
func (s *Session) Subscribe(topic string, qos QoS) error {
	token := s.client.Subscribe(topic, byte(qos), func(_ mqtt.Client, m mqtt.Message) {
		s.emit(Event{Kind: EventMessage, Topic: m.Topic(), Payload: m.Payload()})
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	s.mu.Lock()
	s.subscribed[topic] = qos
	s.mu.Unlock()
	return nil
}

// Connected reports the paho client's current connection state.
func (s *Session) Connected() bool {
	return s.client.IsConnectionOpen()
}

// Close disconnects, waiting up to quiesce for in-flight work to
// drain.
func (s *Session) Close(quiesce time.Duration) {
	s.client.Disconnect(uint(quiesce.Milliseconds()))
}
