package dispatch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomctl/roomcore/internal/envelope"
	"github.com/roomctl/roomcore/internal/fault"
	"github.com/roomctl/roomcore/internal/registry"
	"github.com/roomctl/roomcore/internal/safety"
	"github.com/roomctl/roomcore/internal/tracker"
)

type fakePublisher struct {
	published [][]byte
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	p.published = append(p.published, payload)
	return nil
}

func newTestDispatcher(t *testing.T, cfg Config, trk *tracker.Tracker, sup *safety.Supervisor, pub *fakePublisher, raised *[]fault.Fault) *Dispatcher {
	t.Helper()
	reg, err := registry.Load(nil, registry.Seed{
		SafetyClassByDevice: map[string]registry.SafetyClass{
			"door-1": registry.SafetyNonCritical,
			"door-2": registry.SafetyCritical,
		},
		HMACKeyHexByDevice: map[string]string{
			"door-1": "deadbeef",
			"door-2": "cafebabe",
		},
	})
	require.NoError(t, err)
	for _, id := range reg.DeviceIDs() {
		reg.Lookup(id).Enabled = true
	}

	sink := fault.SinkFunc(func(f fault.Fault) {
		if raised != nil {
			*raised = append(*raised, f)
		}
	})

	if cfg.Schema == "" {
		cfg.Schema = envelope.Schema
	}
	if cfg.RoomID == "" {
		cfg.RoomID = "room-1"
	}
	if !cfg.DispatchEnabled {
		cfg.DispatchEnabled = true
	}
	if cfg.DefaultAckTimeout == 0 {
		cfg.DefaultAckTimeout = time.Second
	}
	if cfg.DefaultCompleteTimeout == 0 {
		cfg.DefaultCompleteTimeout = 5 * time.Second
	}

	return New(cfg, reg, trk, sup, sink, pub, nil)
}

func baseRequest(deviceID string) Request {
	return Request{
		DeviceID:             deviceID,
		Action:               envelope.ActionOpen,
		Parameters:           json.RawMessage(`{}`),
		RequestedSafetyClass: envelope.SafetyNonCritical,
	}
}

func TestDispatchHappyPathPublishesAndAcceptsThenCompletes(t *testing.T) {
	now := time.Now()
	trk := tracker.New("room-1", time.Minute, 0, nil, nil)
	trk.OnHeartbeat("door-1", now)
	sup := safety.NewSupervisor("room-1", nil)
	pub := &fakePublisher{}

	d := newTestDispatcher(t, Config{}, trk, sup, pub, nil)

	out := d.Dispatch(baseRequest("door-1"), now)
	require.True(t, out.Admitted)
	require.Len(t, pub.published, 1)
	assert.Equal(t, 1, d.PendingCount())

	d.OnAck(Ack{DeviceID: "door-1", CommandID: out.CommandID, Kind: AckAccepted}, now.Add(10*time.Millisecond))
	d.Tick(now.Add(20 * time.Millisecond))
	assert.Equal(t, 1, d.PendingCount(), "still pending: accepted but not yet completed")

	d.OnAck(Ack{DeviceID: "door-1", CommandID: out.CommandID, Kind: AckCompleted}, now.Add(30*time.Millisecond))
	d.Tick(now.Add(40 * time.Millisecond))
	assert.Equal(t, 0, d.PendingCount())
}

func TestAckTimeoutRetriesThenExhausts(t *testing.T) {
	now := time.Now()
	trk := tracker.New("room-1", time.Minute, 0, nil, nil)
	trk.OnHeartbeat("door-1", now)
	sup := safety.NewSupervisor("room-1", nil)
	pub := &fakePublisher{}
	var raised []fault.Fault

	d := newTestDispatcher(t, Config{DefaultRetries: 1, DefaultAckTimeout: 100 * time.Millisecond}, trk, sup, pub, &raised)

	out := d.Dispatch(baseRequest("door-1"), now)
	require.True(t, out.Admitted)
	require.Len(t, pub.published, 1)

	d.Tick(now.Add(200 * time.Millisecond)) // ack timeout: 1 retry left
	assert.Equal(t, 1, d.PendingCount())
	assert.Len(t, pub.published, 2, "retry republishes")

	d.Tick(now.Add(400 * time.Millisecond)) // second ack timeout: retries exhausted
	assert.Equal(t, 0, d.PendingCount())
	require.NotEmpty(t, raised)
	assert.Equal(t, fault.KindCommandAckTimeout, raised[len(raised)-1].Kind)
}

func TestDuplicateCorrelationIDWhileInflightIsDroppedSilently(t *testing.T) {
	now := time.Now()
	trk := tracker.New("room-1", time.Minute, 0, nil, nil)
	trk.OnHeartbeat("door-1", now)
	sup := safety.NewSupervisor("room-1", nil)
	pub := &fakePublisher{}

	d := newTestDispatcher(t, Config{}, trk, sup, pub, nil)

	req := baseRequest("door-1")
	req.CorrelationID = "corr-dup"

	out1 := d.Dispatch(req, now)
	require.True(t, out1.Admitted)

	out2 := d.Dispatch(req, now.Add(time.Millisecond))
	assert.False(t, out2.Admitted)
	assert.Len(t, pub.published, 1, "no second publish for the duplicate")
}

func TestDuplicateCorrelationIDAfterCompletionIsDroppedWithinTTL(t *testing.T) {
	now := time.Now()
	trk := tracker.New("room-1", time.Minute, 0, nil, nil)
	trk.OnHeartbeat("door-1", now)
	sup := safety.NewSupervisor("room-1", nil)
	pub := &fakePublisher{}

	d := newTestDispatcher(t, Config{}, trk, sup, pub, nil)

	req := baseRequest("door-1")
	req.CorrelationID = "corr-done"

	out := d.Dispatch(req, now)
	require.True(t, out.Admitted)
	d.OnAck(Ack{DeviceID: "door-1", CommandID: out.CommandID, Kind: AckCompleted}, now.Add(time.Millisecond))
	d.Tick(now.Add(2 * time.Millisecond))
	require.Equal(t, 0, d.PendingCount())

	out2 := d.Dispatch(req, now.Add(3*time.Millisecond))
	assert.False(t, out2.Admitted)
	assert.Len(t, pub.published, 1)
}

func TestBrokerDisconnectClearsPendingAndAllowsRedispatch(t *testing.T) {
	now := time.Now()
	trk := tracker.New("room-1", time.Minute, 0, nil, nil)
	trk.OnHeartbeat("door-1", now)
	sup := safety.NewSupervisor("room-1", nil)
	pub := &fakePublisher{}

	d := newTestDispatcher(t, Config{}, trk, sup, pub, nil)

	req := baseRequest("door-1")
	req.CorrelationID = "corr-outage"
	out := d.Dispatch(req, now)
	require.True(t, out.Admitted)
	assert.Equal(t, 1, d.PendingCount())

	d.OnBrokerDisconnected(now.Add(time.Second))
	assert.Equal(t, 0, d.PendingCount())
	assert.Equal(t, safety.PauseBrokerDown, sup.PauseReason())

	// Dispatch is blocked while broker is down.
	out2 := d.Dispatch(req, now.Add(2*time.Second))
	assert.False(t, out2.Admitted)

	d.OnBrokerConnected(now.Add(3 * time.Second))
	out3 := d.Dispatch(req, now.Add(4*time.Second))
	assert.True(t, out3.Admitted, "fresh dispatch allowed once reconnected; outage cleared the dedup state")
}

func TestCriticalDispatchRefusedWithoutArming(t *testing.T) {
	now := time.Now()
	trk := tracker.New("room-1", time.Minute, 0, nil, nil)
	trk.OnHeartbeat("door-2", now)
	trk.OnAck("door-2", now, &safety.State{Kind: safety.KindSafe}, safety.NewSupervisor("room-1", nil))
	sup := safety.NewSupervisor("room-1", nil)
	pub := &fakePublisher{}
	var raised []fault.Fault

	d := newTestDispatcher(t, Config{CriticalArmed: false}, trk, sup, pub, &raised)

	req := baseRequest("door-2")
	req.RequestedSafetyClass = envelope.SafetyCritical

	out := d.Dispatch(req, now)
	assert.False(t, out.Admitted)
	require.NotEmpty(t, raised)
	assert.Equal(t, fault.KindDispatchBlockedCriticalNotArmed, raised[len(raised)-1].Kind)
}

func TestCriticalDispatchAllowedWhenArmedAndDeviceSafe(t *testing.T) {
	now := time.Now()
	trk := tracker.New("room-1", time.Minute, 0, nil, nil)
	trk.OnHeartbeat("door-2", now)
	sup := safety.NewSupervisor("room-1", nil)
	trk.OnAck("door-2", now, &safety.State{Kind: safety.KindSafe}, sup)
	pub := &fakePublisher{}

	d := newTestDispatcher(t, Config{CriticalArmed: true}, trk, sup, pub, nil)

	req := baseRequest("door-2")
	req.RequestedSafetyClass = envelope.SafetyCritical

	out := d.Dispatch(req, now)
	assert.True(t, out.Admitted)
}

func TestDispatchBlockedWhilePaused(t *testing.T) {
	now := time.Now()
	trk := tracker.New("room-1", time.Minute, 0, nil, nil)
	trk.OnHeartbeat("door-1", now)
	sup := safety.NewSupervisor("room-1", nil)
	sup.SetManualPause(true)
	pub := &fakePublisher{}

	d := newTestDispatcher(t, Config{}, trk, sup, pub, nil)
	out := d.Dispatch(baseRequest("door-1"), now)
	assert.False(t, out.Admitted)
	assert.Empty(t, pub.published)
}

func TestDispatchBlockedWhenDeviceOffline(t *testing.T) {
	now := time.Now()
	trk := tracker.New("room-1", time.Minute, 0, nil, nil) // no heartbeat recorded
	sup := safety.NewSupervisor("room-1", nil)
	pub := &fakePublisher{}
	var raised []fault.Fault

	d := newTestDispatcher(t, Config{}, trk, sup, pub, &raised)
	out := d.Dispatch(baseRequest("door-1"), now)
	assert.False(t, out.Admitted)
	require.NotEmpty(t, raised)
	assert.Equal(t, fault.KindDispatchBlockedDeviceOffline, raised[len(raised)-1].Kind)
}

func TestDryRunBlocksPublishAndRaisesFault(t *testing.T) {
	now := time.Now()
	trk := tracker.New("room-1", time.Minute, 0, nil, nil)
	trk.OnHeartbeat("door-1", now)
	sup := safety.NewSupervisor("room-1", nil)
	pub := &fakePublisher{}
	var raised []fault.Fault

	d := newTestDispatcher(t, Config{DryRun: true}, trk, sup, pub, &raised)
	out := d.Dispatch(baseRequest("door-1"), now)
	assert.False(t, out.Admitted)
	assert.Empty(t, pub.published)
	require.NotEmpty(t, raised)
	assert.Equal(t, fault.KindDispatchBlockedDryRun, raised[len(raised)-1].Kind)
}

func TestRejectedAckRemovesPendingAndRaisesFault(t *testing.T) {
	now := time.Now()
	trk := tracker.New("room-1", time.Minute, 0, nil, nil)
	trk.OnHeartbeat("door-1", now)
	sup := safety.NewSupervisor("room-1", nil)
	pub := &fakePublisher{}
	var raised []fault.Fault

	d := newTestDispatcher(t, Config{}, trk, sup, pub, &raised)
	out := d.Dispatch(baseRequest("door-1"), now)
	require.True(t, out.Admitted)

	d.OnAck(Ack{DeviceID: "door-1", CommandID: out.CommandID, Kind: AckRejected, RejectReason: "jammed"}, now.Add(time.Millisecond))
	d.Tick(now.Add(2 * time.Millisecond))

	assert.Equal(t, 0, d.PendingCount())
	require.NotEmpty(t, raised)
	last := raised[len(raised)-1]
	assert.Equal(t, fault.KindCommandRejected, last.Kind)
	assert.Equal(t, "jammed", last.Message)
}

func TestSequenceNumbersAreMonotonicPerDevice(t *testing.T) {
	now := time.Now()
	trk := tracker.New("room-1", time.Minute, 0, nil, nil)
	trk.OnHeartbeat("door-1", now)
	sup := safety.NewSupervisor("room-1", nil)
	pub := &fakePublisher{}

	d := newTestDispatcher(t, Config{}, trk, sup, pub, nil)

	d.Dispatch(baseRequest("door-1"), now)
	d.Dispatch(baseRequest("door-1"), now.Add(time.Millisecond))

	require.Len(t, pub.published, 2)
	var first, second envelope.Envelope
	require.NoError(t, json.Unmarshal(pub.published[0], &first))
	require.NoError(t, json.Unmarshal(pub.published[1], &second))
	assert.Equal(t, first.Sequence+1, second.Sequence)
}

func TestSequenceWrapsFromMaxUint64(t *testing.T) {
	s := newSequencer()
	s.next["door-1"] = ^uint64(0)
	first := s.allocate("door-1")
	second := s.allocate("door-1")
	assert.Equal(t, ^uint64(0), first)
	assert.Equal(t, uint64(0), second)
}
