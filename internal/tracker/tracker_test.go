package tracker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomctl/roomcore/internal/fault"
)

type fakePublisher struct {
	published []string
}

func (p *fakePublisher) PublishDeviceStatus(deviceID string, entry Entry) {
	p.published = append(p.published, deviceID)
}

func TestUnknownDeviceIsOffline(t *testing.T) {
	tr := New("room-1", time.Second, 0, nil, nil)
	assert.True(t, tr.IsOffline("door-1"))
}

func TestHeartbeatKeepsDeviceOnlineWithinWindow(t *testing.T) {
	tr := New("room-1", time.Second, 0, nil, nil)
	now := time.Now()
	tr.OnHeartbeat("door-1", now)
	tr.Sweep(now.Add(100 * time.Millisecond))

	assert.False(t, tr.IsOffline("door-1"))
}

func TestSweepMarksOfflineAfterWindowExpires(t *testing.T) {
	var raised []fault.Fault
	pub := &fakePublisher{}
	tr := New("room-1", time.Second, 0, fault.SinkFunc(func(f fault.Fault) { raised = append(raised, f) }), pub)

	now := time.Now()
	tr.OnHeartbeat("door-1", now)
	tr.Sweep(now.Add(2 * time.Second))

	assert.True(t, tr.IsOffline("door-1"))
	require.Len(t, raised, 1)
	assert.Equal(t, fault.KindDeviceOffline, raised[0].Kind)
	assert.Equal(t, fault.SeverityWarn, raised[0].Severity)
	assert.Equal(t, []string{"door-1"}, pub.published)
}

func TestTransitionOfflineToOnlinePublishesInfoFault(t *testing.T) {
	var raised []fault.Fault
	tr := New("room-1", time.Second, 0, fault.SinkFunc(func(f fault.Fault) { raised = append(raised, f) }), nil)

	now := time.Now()
	tr.OnHeartbeat("door-1", now)
	tr.Sweep(now.Add(2 * time.Second)) // goes offline
	require.True(t, tr.IsOffline("door-1"))

	tr.OnHeartbeat("door-1", now.Add(3*time.Second))
	tr.Sweep(now.Add(3 * time.Second))

	assert.False(t, tr.IsOffline("door-1"))
	require.Len(t, raised, 2)
	assert.Equal(t, fault.KindDeviceOnline, raised[1].Kind)
	assert.Equal(t, fault.SeverityInfo, raised[1].Severity)
}

func TestExplicitPresenceOfflineTakesEffectImmediately(t *testing.T) {
	tr := New("room-1", time.Minute, 0, nil, nil)
	now := time.Now()
	tr.OnHeartbeat("door-1", now)
	tr.OnPresence("door-1", false, now)

	assert.True(t, tr.IsOffline("door-1"))
}

func TestTelemetryRingRetainsMostRecentN(t *testing.T) {
	tr := New("room-1", time.Minute, 2, nil, nil)
	tr.OnTelemetry("door-1", json.RawMessage(`1`))
	tr.OnTelemetry("door-1", json.RawMessage(`2`))
	tr.OnTelemetry("door-1", json.RawMessage(`3`))

	entry := tr.Lookup("door-1")
	require.NotNil(t, entry)
	telemetry := entry.Telemetry()
	require.Len(t, telemetry, 2)
	assert.JSONEq(t, "2", string(telemetry[0]))
	assert.JSONEq(t, "3", string(telemetry[1]))
}

func TestOnStateRecordsSnapshot(t *testing.T) {
	tr := New("room-1", time.Minute, 0, nil, nil)
	now := time.Now()
	tr.OnState("door-1", json.RawMessage(`{"position":"OPEN"}`), now)

	entry := tr.Lookup("door-1")
	require.NotNil(t, entry)
	assert.JSONEq(t, `{"position":"OPEN"}`, string(entry.LastStateSnapshot))
}

func TestDeviceAndOfflineCounts(t *testing.T) {
	tr := New("room-1", time.Second, 0, nil, nil)
	now := time.Now()
	tr.OnHeartbeat("door-1", now)
	tr.OnHeartbeat("door-2", now)
	tr.Sweep(now.Add(2 * time.Second))
	tr.OnHeartbeat("door-1", now.Add(2*time.Second))
	tr.Sweep(now.Add(2 * time.Second))

	assert.Equal(t, 2, tr.DeviceCount())
	assert.Equal(t, 1, tr.OfflineCount())
}
