package config

import "github.com/spf13/viper"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.wattscope"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "wattscope.toml"

// DefaultWebPort is the default port for the analytics HTTP server.
const DefaultWebPort = 8080

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultMQTTHost is the default broker host.
const DefaultMQTTHost = "localhost"

// DefaultMQTTPort is the default broker port.
const DefaultMQTTPort = 1883

// DefaultMQTTTopic is the default subscription topic. Tasmota devices
// publish sensor telemetry on tele/<device>/SENSOR.
const DefaultMQTTTopic = "tele/+/SENSOR"

// StoreModeAll stores every accepted message.
const StoreModeAll = "all"

// StoreModeDownsample60s stores at most one raw row per device per minute.
const StoreModeDownsample60s = "downsample_60s"

// DefaultStoreMode is the default raw-reading storage policy.
const DefaultStoreMode = StoreModeAll

// DefaultMessageLogSize is the default message log ring buffer capacity.
const DefaultMessageLogSize = 200

// DefaultAggregateIntervalMinutes is the default scheduler tick interval.
const DefaultAggregateIntervalMinutes = 10

// DefaultRawRetentionDays is the default raw-reading retention window.
const DefaultRawRetentionDays = 30

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
// Set generously to accommodate large CSV exports.
const DefaultWriteTimeout = 60

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// ValidLogLevels are the accepted values for server.log_level.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error"}

// ValidStoreModes are the accepted values for ingest.store_mode.
var ValidStoreModes = []string{StoreModeAll, StoreModeDownsample60s}

// DefaultFieldMap returns the built-in field mapping for Tasmota LK13BE
// payloads. Callers receive a fresh copy and may mutate it.
func DefaultFieldMap() map[string]string {
	return map[string]string{
		"total_in":  "LK13BE.total",
		"total_out": "LK13BE.total_out",
		"power_w":   "LK13BE.current",
		"voltage":   "LK13BE.voltage_l1",
	}
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			DataDir:      DefaultDataDir,
			WebPort:      DefaultWebPort,
			LogLevel:     DefaultLogLevel,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
		},
		MQTT: MQTTConfig{
			Host:  DefaultMQTTHost,
			Port:  DefaultMQTTPort,
			Topic: DefaultMQTTTopic,
		},
		Ingest: IngestConfig{
			StoreMode:      DefaultStoreMode,
			FieldMap:       DefaultFieldMap(),
			AllowedDevices: []string{},
			MessageLogSize: DefaultMessageLogSize,
		},
		Aggregate: AggregateConfig{
			IntervalMinutes: DefaultAggregateIntervalMinutes,
		},
		Retention: RetentionConfig{
			RawRetentionDays: DefaultRawRetentionDays,
		},
	}
}

// setViperDefaults registers every config key with viper so that the
// environment overlay works even without a config file.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("server.data_dir", DefaultDataDir)
	v.SetDefault("server.web_port", DefaultWebPort)
	v.SetDefault("server.log_level", DefaultLogLevel)
	v.SetDefault("server.read_timeout", DefaultReadTimeout)
	v.SetDefault("server.write_timeout", DefaultWriteTimeout)
	v.SetDefault("server.idle_timeout", DefaultIdleTimeout)

	v.SetDefault("mqtt.host", DefaultMQTTHost)
	v.SetDefault("mqtt.port", DefaultMQTTPort)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password_ref", "")
	v.SetDefault("mqtt.tls_enabled", false)
	v.SetDefault("mqtt.tls_ca_file", "")
	v.SetDefault("mqtt.topic", DefaultMQTTTopic)
	v.SetDefault("mqtt.client_id", "")

	v.SetDefault("ingest.store_mode", DefaultStoreMode)
	v.SetDefault("ingest.field_map", DefaultFieldMap())
	v.SetDefault("ingest.allowed_devices", []string{})
	v.SetDefault("ingest.message_log_size", DefaultMessageLogSize)

	v.SetDefault("aggregate.interval_minutes", DefaultAggregateIntervalMinutes)

	v.SetDefault("retention.raw_retention_days", DefaultRawRetentionDays)
}
