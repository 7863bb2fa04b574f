package config

import "time"

// defaultConfig returns the built-in defaults applied before file and
// environment overrides.
func defaultConfig() *Config {
	return &Config{
		TickMs:          1,
		DeviceOfflineMs: 5000,
		DryRun:          false,
		DispatchEnabled: true,
		CriticalArmed:   false,

		DispatchDefaultRetries:    3,
		DispatchAckTimeoutMs:      3000,
		DispatchCompleteTimeoutMs: 15000,

		DeviceHMACKeys:        map[string]string{},
		DeviceSafetyClassSeed: map[string]string{},

		GraphAutostart: false,

		Broker: BrokerConfig{
			Address:        "tcp://localhost:1883",
			ClientID:       "roomcore",
			KeepAlive:      30 * time.Second,
			ConnectTimeout: 10 * time.Second,
		},
		EventStore: EventStoreConfig{
			Enabled:        false,
			BadgerPath:     "./data/roomcore-events",
			WriteQueueSize: 256,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
		},
		Facade: FacadeConfig{
			Enabled: false,
			Address: ":8080",
		},
	}
}
