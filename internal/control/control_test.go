package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomctl/roomcore/internal/dispatch"
	"github.com/roomctl/roomcore/internal/envelope"
	"github.com/roomctl/roomcore/internal/fault"
	"github.com/roomctl/roomcore/internal/graph"
	"github.com/roomctl/roomcore/internal/registry"
	"github.com/roomctl/roomcore/internal/safety"
	"github.com/roomctl/roomcore/internal/tracker"
)

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(req dispatch.Request, now time.Time) dispatch.Outcome {
	return dispatch.Outcome{}
}
func (noopDispatcher) IsPending(string) bool { return false }

func newTestPlane(t *testing.T, token string, raised *[]fault.Fault) (*Plane, *safety.Supervisor, *tracker.Tracker, *registry.Registry, *graph.Runner) {
	t.Helper()
	sink := fault.SinkFunc(func(f fault.Fault) {
		if raised != nil {
			*raised = append(*raised, f)
		}
	})
	sup := safety.NewSupervisor("room-1", sink)
	reg, err := registry.Load(nil, registry.Seed{SafetyClassByDevice: map[string]registry.SafetyClass{"door-1": registry.SafetyNonCritical}})
	require.NoError(t, err)
	trk := tracker.New("room-1", time.Minute, 0, sink, nil)
	runner := graph.New("room-1", envelope.Schema, noopDispatcher{}, trk, sup, sink, nil)

	return New("room-1", token, sup, reg, trk, runner, nil, sink), sup, trk, reg, runner
}

func TestUnauthorizedWithWrongToken(t *testing.T) {
	var raised []fault.Fault
	p, _, _, _, _ := newTestPlane(t, "secret", &raised)
	err := p.Handle(Request{Op: OpPauseDispatch, Token: "wrong"}, time.Now())
	assert.Error(t, err)
	require.NotEmpty(t, raised)
	assert.Equal(t, fault.KindControlUnauthorized, raised[len(raised)-1].Kind)
}

func TestPauseThenResumeTogglesManualPause(t *testing.T) {
	p, sup, _, _, _ := newTestPlane(t, "", nil)
	now := time.Now()
	require.NoError(t, p.Handle(Request{Op: OpPauseDispatch}, now))
	assert.Equal(t, safety.PauseManual, sup.PauseReason())

	require.NoError(t, p.Handle(Request{Op: OpResumeDispatch}, now))
	assert.Equal(t, safety.PauseNone, sup.PauseReason())
}

func TestResetSafetyLatchRefusedWhenNotLatched(t *testing.T) {
	p, _, _, _, _ := newTestPlane(t, "", nil)
	err := p.Handle(Request{Op: OpResetSafetyLatch}, time.Now())
	assert.Error(t, err)
}

func TestResetSafetyLatchDeniedWithBlockingDevice(t *testing.T) {
	var raised []fault.Fault
	p, sup, trk, _, _ := newTestPlane(t, "", &raised)
	now := time.Now()
	sup.MaybeLatch("door-1", safety.State{Kind: safety.KindFault}, now)
	require.True(t, sup.IsLatched())
	trk.OnHeartbeat("door-1", now) // online, but never reported SAFE

	err := p.Handle(Request{Op: OpResetSafetyLatch}, now.Add(time.Millisecond))
	assert.Error(t, err)
	assert.True(t, sup.IsLatched())
	last := raised[len(raised)-1]
	assert.Equal(t, fault.KindSafetyResetDenied, last.Kind)
	assert.Contains(t, last.Blockers, "door-1")
}

func TestResetSafetyLatchSucceedsWhenAllDevicesSafe(t *testing.T) {
	var raised []fault.Fault
	p, sup, trk, _, _ := newTestPlane(t, "", &raised)
	now := time.Now()
	sup.MaybeLatch("door-1", safety.State{Kind: safety.KindFault}, now)
	trk.OnHeartbeat("door-1", now)
	trk.OnAck("door-1", now.Add(time.Millisecond), &safety.State{Kind: safety.KindSafe}, safety.NewSupervisor("room-1", nil))

	err := p.Handle(Request{Op: OpResetSafetyLatch}, now.Add(2*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, sup.IsLatched())
	last := raised[len(raised)-1]
	assert.Equal(t, fault.KindSafetyLatchReset, last.Kind)
}

func TestStartGraphDeniedWithoutLoadedGraph(t *testing.T) {
	var raised []fault.Fault
	p, _, _, _, _ := newTestPlane(t, "", &raised)
	err := p.Handle(Request{Op: OpStartGraph}, time.Now())
	assert.Error(t, err)
	last := raised[len(raised)-1]
	assert.Equal(t, fault.KindGraphStartDenied, last.Kind)
}

func TestStartStopGraphSucceeds(t *testing.T) {
	var raised []fault.Fault
	p, _, _, _, runner := newTestPlane(t, "", &raised)
	require.NoError(t, runner.Load(&graph.Document{
		Schema: envelope.Schema, RoomID: "room-1", Start: []string{"a"},
		Nodes: []graph.Node{{ID: "a", Kind: graph.NodeNoop}},
	}))

	now := time.Now()
	require.NoError(t, p.Handle(Request{Op: OpStartGraph}, now))
	assert.True(t, runner.Running())

	require.NoError(t, p.Handle(Request{Op: OpStopGraph}, now))
	assert.False(t, runner.Running())
}
