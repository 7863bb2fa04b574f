// Package config loads the coordinator's layered configuration:
// environment variables override the config file, which overrides the
// built-in defaults. The only command-line flag involved is --config,
// which names the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the coordinator's full runtime configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (ROOMCORE_*) (highest priority)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// No configuration field is bound to a command-line flag.
type Config struct {
	RoomID string `mapstructure:"room_id" validate:"required" yaml:"room_id"`

	TickMs          int  `mapstructure:"tick_ms" validate:"required,gte=1" yaml:"tick_ms"`
	DeviceOfflineMs int  `mapstructure:"device_offline_ms" validate:"gte=0" yaml:"device_offline_ms"`
	DryRun          bool `mapstructure:"dry_run" yaml:"dry_run"`
	DispatchEnabled bool `mapstructure:"dispatch_enabled" yaml:"dispatch_enabled"`
	CriticalArmed   bool `mapstructure:"critical_dispatch_armed" yaml:"critical_dispatch_armed"`

	DispatchDefaultRetries   int `mapstructure:"dispatch_default_retries" validate:"gte=0" yaml:"dispatch_default_retries"`
	DispatchAckTimeoutMs     int `mapstructure:"dispatch_ack_timeout_ms" validate:"gte=1" yaml:"dispatch_ack_timeout_ms"`
	DispatchCompleteTimeoutMs int `mapstructure:"dispatch_complete_timeout_ms" validate:"gte=1" yaml:"dispatch_complete_timeout_ms"`

	// DeviceHMACKeys maps device id to a hex-encoded HMAC key. Seeds the
	// registry only where the event store does not already have a key.
	DeviceHMACKeys map[string]string `mapstructure:"device_hmac_keys" yaml:"device_hmac_keys"`

	// DeviceSafetyClassSeed maps device id to its seeded safety class
	// (NON_CRITICAL or CRITICAL), merged under whatever the event store
	// already has.
	DeviceSafetyClassSeed map[string]string `mapstructure:"device_safety_class_seed" yaml:"device_safety_class_seed"`

	GraphPath      string `mapstructure:"graph_path" yaml:"graph_path"`
	GraphAutostart bool   `mapstructure:"graph_autostart" yaml:"graph_autostart"`

	// CoreControlToken is an optional shared secret control-plane requests
	// must present. Empty disables the check.
	CoreControlToken string `mapstructure:"core_control_token" yaml:"core_control_token"`

	Broker      BrokerConfig      `mapstructure:"broker" yaml:"broker"`
	EventStore  EventStoreConfig  `mapstructure:"event_store" yaml:"event_store"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Facade      FacadeConfig      `mapstructure:"facade" yaml:"facade"`
}

// BrokerConfig configures the pub/sub broker session.
type BrokerConfig struct {
	Address  string `mapstructure:"address" validate:"required" yaml:"address"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`

	KeepAlive     time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// EventStoreConfig configures the append-only event/device/graph store.
//
// event_store_enabled=false disables it entirely (faults are logged
// only). event_store_enabled=true with a DSN selects Postgres; true
// without a DSN falls back to an embedded, single-binary KV store.
type EventStoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
	// BadgerPath is the on-disk directory for the embedded fallback,
	// used when Enabled is true and DSN is empty.
	BadgerPath string `mapstructure:"badger_path" yaml:"badger_path"`
	// WriteQueueSize is decoded and validated, but the coordinator does
	// not read it: the background writer's channel always holds
	// eventstore.DefaultQueueCapacity records. A full queue drops the
	// event with a warning rather than blocking the coordinator loop.
	WriteQueueSize int `mapstructure:"write_queue_size" validate:"gte=1" yaml:"write_queue_size"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}

// FacadeConfig controls the read-only/dual-confirmation HTTP façade.
type FacadeConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Address   string `mapstructure:"address" yaml:"address"`
	JWTSecret string `mapstructure:"jwt_secret" validate:"required_if=Enabled true,omitempty,min=32" yaml:"jwt_secret"`
}

// Load starts from the defaults, overlays the config file and then the
// environment, and validates the result. Environment variables reach
// only keys that the config file also sets; when no config file is
// found, the defaults are validated and returned without consulting
// the environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if !found {
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
		return cfg, nil
	}

	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and fails fast with an actionable error
// if the explicitly named config file does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
	}
	return Load(configPath)
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("ROOMCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	v.AddConfigPath(".")
	v.AddConfigPath(defaultConfigDir())
	v.SetConfigName("roomcore")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "roomcore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "roomcore")
}
