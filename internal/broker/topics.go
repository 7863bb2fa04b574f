package broker

import "fmt"

// Topic builders. All topics are room-scoped; nothing here crosses
// room boundaries.

func CommandTopic(roomID, deviceID string) string {
	return fmt.Sprintf("room/%s/device/%s/cmd", roomID, deviceID)
}

func CoreHeartbeatTopic(roomID string) string { return fmt.Sprintf("room/%s/core/heartbeat", roomID) }

func CoreStatusTopic(roomID string) string { return fmt.Sprintf("room/%s/core/status", roomID) }

func CoreFaultTopic(roomID string) string { return fmt.Sprintf("room/%s/core/fault", roomID) }

func DeviceStatusTopic(roomID, deviceID string) string {
	return fmt.Sprintf("room/%s/core/device/%s/status", roomID, deviceID)
}

func DeviceFaultTopic(roomID, deviceID string) string {
	return fmt.Sprintf("room/%s/core/device/%s/fault", roomID, deviceID)
}

func DispatchRequestTopic(roomID string) string { return fmt.Sprintf("room/%s/core/dispatch", roomID) }

func ControlRequestTopic(roomID string) string { return fmt.Sprintf("room/%s/core/control", roomID) }

// deviceWildcardFilters are the subscription filters the coordinator
// registers for every device in the room, all under one `+` wildcard
// rather than one subscription per device.
func deviceWildcardFilters(roomID string) map[string]QoS {
	base := fmt.Sprintf("room/%s/device/+", roomID)
	return map[string]QoS{
		base + "/heartbeat": AtMostOnce,
		base + "/ack":       AtLeastOnce,
		base + "/presence":  AtLeastOnce,
		base + "/state":     AtLeastOnce,
		base + "/telemetry": AtMostOnce,
	}
}

// coreFilters are the room-core control-plane subscriptions.
func coreFilters(roomID string) map[string]QoS {
	return map[string]QoS{
		DispatchRequestTopic(roomID): AtLeastOnce,
		ControlRequestTopic(roomID): AtLeastOnce,
	}
}

// SubscribeRoom registers every inbound filter this coordinator needs
// for roomID.
func (s *Session) SubscribeRoom(roomID string) error {
	for topic, qos := range deviceWildcardFilters(roomID) {
		if err := s.Subscribe(topic, qos); err != nil {
			return err
		}
	}
	for topic, qos := range coreFilters(roomID) {
		if err := s.Subscribe(topic, qos); err != nil {
			return err
		}
	}
	return nil
}

// PublishCommand publishes a signed command envelope, at-least-once
// and not retained.
func (s *Session) PublishCommand(roomID, deviceID string, payload []byte) error {
	return s.Publish(CommandTopic(roomID, deviceID), AtLeastOnce, false, payload)
}

// PublishCoreStatus publishes the retained room-level status document.
func (s *Session) PublishCoreStatus(roomID string, payload []byte) error {
	return s.Publish(CoreStatusTopic(roomID), AtLeastOnce, true, payload)
}

// PublishCoreHeartbeat publishes the coordinator's own liveness beacon.
func (s *Session) PublishCoreHeartbeat(roomID string, payload []byte) error {
	return s.Publish(CoreHeartbeatTopic(roomID), AtMostOnce, false, payload)
}

// PublishCoreFault publishes a room-scoped fault, retained so a late
// subscriber sees the most recent one.
func (s *Session) PublishCoreFault(roomID string, payload []byte) error {
	return s.Publish(CoreFaultTopic(roomID), AtLeastOnce, true, payload)
}

// PublishDeviceStatus publishes a retained per-device status document.
func (s *Session) PublishDeviceStatus(roomID, deviceID string, payload []byte) error {
	return s.Publish(DeviceStatusTopic(roomID, deviceID), AtLeastOnce, true, payload)
}

// PublishDeviceFault publishes a retained per-device fault document.
func (s *Session) PublishDeviceFault(roomID, deviceID string, payload []byte) error {
	return s.Publish(DeviceFaultTopic(roomID, deviceID), AtLeastOnce, true, payload)
}
