package status

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomctl/roomcore/internal/fault"
	"github.com/roomctl/roomcore/internal/registry"
	"github.com/roomctl/roomcore/internal/safety"
	"github.com/roomctl/roomcore/internal/tracker"
)

type fakeCorePublisher struct {
	statusPayloads    [][]byte
	heartbeatPayloads [][]byte
	faultPayloads     [][]byte
	deviceFaults      map[string][][]byte
}

func (f *fakeCorePublisher) PublishCoreStatus(payload []byte) error {
	f.statusPayloads = append(f.statusPayloads, payload)
	return nil
}
func (f *fakeCorePublisher) PublishCoreHeartbeat(payload []byte) error {
	f.heartbeatPayloads = append(f.heartbeatPayloads, payload)
	return nil
}
func (f *fakeCorePublisher) PublishCoreFault(payload []byte) error {
	f.faultPayloads = append(f.faultPayloads, payload)
	return nil
}
func (f *fakeCorePublisher) PublishDeviceFault(deviceID string, payload []byte) error {
	if f.deviceFaults == nil {
		f.deviceFaults = make(map[string][][]byte)
	}
	f.deviceFaults[deviceID] = append(f.deviceFaults[deviceID], payload)
	return nil
}

type fakeGraphState struct {
	running bool
	active  int
	version int64
}

func (g fakeGraphState) Running() bool   { return g.running }
func (g fakeGraphState) ActiveCount() int { return g.active }
func (g fakeGraphState) Version() int64  { return g.version }

func TestPublisherTicksStatusAndHeartbeatOnSeparateCadences(t *testing.T) {
	reg, err := registry.Load(nil, registry.Seed{SafetyClassByDevice: map[string]registry.SafetyClass{"door-1": registry.SafetyNonCritical}})
	require.NoError(t, err)
	trk := tracker.New("room-1", time.Minute, 0, nil, nil)
	sup := safety.NewSupervisor("room-1", nil)
	core := &fakeCorePublisher{}

	p := New("room-1", "roomcore.v1", 250, reg, trk, sup, fakeGraphState{running: true, active: 2, version: 7}, core, nil, nil)
	now := time.Now()
	p.Start(now)

	p.Tick(now)
	assert.Len(t, core.statusPayloads, 1)
	assert.Len(t, core.heartbeatPayloads, 1)

	p.Tick(now.Add(1 * time.Second))
	assert.Len(t, core.statusPayloads, 2, "status republishes every 1s")
	assert.Len(t, core.heartbeatPayloads, 1, "heartbeat not due yet")

	p.Tick(now.Add(6 * time.Second))
	assert.Len(t, core.heartbeatPayloads, 2, "heartbeat republishes every 5s")

	var doc coreStatusDoc
	require.NoError(t, json.Unmarshal(core.statusPayloads[0], &doc))
	assert.Equal(t, "room-1", doc.RoomID)
	assert.Equal(t, 1, doc.DeviceCount)
	assert.True(t, doc.GraphRunning)
	assert.Equal(t, 2, doc.GraphActive)
}

func TestRaiseFansOutToCoreOrDeviceFaultTopic(t *testing.T) {
	reg, _ := registry.Load(nil, registry.Seed{})
	trk := tracker.New("room-1", time.Minute, 0, nil, nil)
	sup := safety.NewSupervisor("room-1", nil)
	core := &fakeCorePublisher{}
	p := New("room-1", "roomcore.v1", 250, reg, trk, sup, nil, core, nil, nil)

	now := time.Now()
	p.Raise(fault.Fault{Kind: fault.KindBrokerOutage, Severity: fault.SeverityCritical, RoomID: "room-1", Message: "broker down", ObservedAt: now})
	assert.Len(t, core.faultPayloads, 1)

	p.Raise(fault.Fault{Kind: fault.KindDeviceOffline, Severity: fault.SeverityWarn, RoomID: "room-1", DeviceID: "door-1", Message: "offline", ObservedAt: now})
	assert.Len(t, core.deviceFaults["door-1"], 1)
	assert.Len(t, core.faultPayloads, 1, "still just the one room-scoped fault")
}
