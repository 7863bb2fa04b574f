package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicBuildersMatchRoomScopedLayout(t *testing.T) {
	assert.Equal(t, "room/r1/device/door1/cmd", CommandTopic("r1", "door1"))
	assert.Equal(t, "room/r1/core/heartbeat", CoreHeartbeatTopic("r1"))
	assert.Equal(t, "room/r1/core/status", CoreStatusTopic("r1"))
	assert.Equal(t, "room/r1/core/fault", CoreFaultTopic("r1"))
	assert.Equal(t, "room/r1/core/device/door1/status", DeviceStatusTopic("r1", "door1"))
	assert.Equal(t, "room/r1/core/device/door1/fault", DeviceFaultTopic("r1", "door1"))
	assert.Equal(t, "room/r1/core/dispatch", DispatchRequestTopic("r1"))
	assert.Equal(t, "room/r1/core/control", ControlRequestTopic("r1"))
}

func TestDeviceWildcardFiltersUseAtMostOnceForHighRateTopics(t *testing.T) {
	filters := deviceWildcardFilters("r1")
	assert.Equal(t, AtMostOnce, filters["room/r1/device/+/heartbeat"])
	assert.Equal(t, AtMostOnce, filters["room/r1/device/+/telemetry"])
	assert.Equal(t, AtLeastOnce, filters["room/r1/device/+/ack"])
	assert.Equal(t, AtLeastOnce, filters["room/r1/device/+/presence"])
	assert.Equal(t, AtLeastOnce, filters["room/r1/device/+/state"])
}

func TestCoreFiltersAreAtLeastOnce(t *testing.T) {
	filters := coreFilters("r1")
	assert.Equal(t, AtLeastOnce, filters[DispatchRequestTopic("r1")])
	assert.Equal(t, AtLeastOnce, filters[ControlRequestTopic("r1")])
}
