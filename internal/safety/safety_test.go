package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomctl/roomcore/internal/fault"
)

func TestRoomSafetyPicksWorstKind(t *testing.T) {
	rollup := RoomSafety([]Kind{KindSafe, KindBlocked, KindMaintenance}, false)
	assert.Equal(t, KindBlocked, rollup.Kind)
	assert.False(t, rollup.Latched)
}

func TestRoomSafetyMonotoneUnderWorseningInput(t *testing.T) {
	kinds := []Kind{KindSafe}
	prevSeverity := -1
	worsen := []Kind{KindMaintenance, KindBlocked, KindFault, KindEStop}

	for _, k := range worsen {
		kinds = append(kinds, k)
		rollup := RoomSafety(kinds, false)
		cur := severity[rollup.Kind]
		assert.GreaterOrEqual(t, cur, prevSeverity, "rollup must never get less severe as inputs worsen")
		prevSeverity = cur
	}
	assert.Equal(t, KindEStop, RoomSafety(kinds, false).Kind)
}

func TestRoomSafetyLatchedPromotesToFaultExceptEStop(t *testing.T) {
	rollup := RoomSafety([]Kind{KindBlocked}, true)
	assert.Equal(t, KindFault, rollup.Kind)
	assert.True(t, rollup.Latched)

	rollup = RoomSafety([]Kind{KindEStop}, true)
	assert.Equal(t, KindEStop, rollup.Kind)
}

func TestMaybeLatchTransitionsOnFaultReport(t *testing.T) {
	var raised []fault.Fault
	sup := NewSupervisor("room-1", fault.SinkFunc(func(f fault.Fault) { raised = append(raised, f) }))

	now := time.Now()
	changed := sup.MaybeLatch("door-1", State{Kind: KindFault}, now)

	assert.True(t, changed)
	assert.True(t, sup.IsLatched())
	assert.Equal(t, now, sup.LatchedSince())
	require.Len(t, raised, 1)
	assert.Equal(t, fault.KindSafetyLatched, raised[0].Kind)
	assert.Equal(t, fault.SeverityCritical, raised[0].Severity)
}

func TestMaybeLatchIgnoresSafeReports(t *testing.T) {
	sup := NewSupervisor("room-1", nil)
	changed := sup.MaybeLatch("door-1", State{Kind: KindSafe}, time.Now())

	assert.False(t, changed)
	assert.False(t, sup.IsLatched())
}

func TestLatchNeverAutoClearsOnLaterSafeReport(t *testing.T) {
	sup := NewSupervisor("room-1", nil)
	sup.MaybeLatch("door-1", State{Kind: KindFault}, time.Now())
	require.True(t, sup.IsLatched())

	// A later SAFE report must not clear the latch automatically.
	changed := sup.MaybeLatch("door-1", State{Kind: KindSafe}, time.Now())
	assert.False(t, changed)
	assert.True(t, sup.IsLatched())

	sup.ClearLatch()
	assert.False(t, sup.IsLatched())
}

func TestPauseReasonPriority(t *testing.T) {
	sup := NewSupervisor("room-1", nil)
	assert.Equal(t, PauseNone, sup.PauseReason())

	sup.SetManualPause(true)
	assert.Equal(t, PauseManual, sup.PauseReason())

	sup.MaybeLatch("door-1", State{Kind: KindEStop}, time.Now())
	assert.Equal(t, PauseSafetyLatched, sup.PauseReason())

	sup.SetBrokerDown(true, time.Now())
	assert.Equal(t, PauseBrokerDown, sup.PauseReason())

	sup.SetBrokerDown(false, time.Now())
	assert.Equal(t, PauseSafetyLatched, sup.PauseReason())
}
