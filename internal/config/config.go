package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for wattscope.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    toml:"server"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"      toml:"mqtt"`
	Ingest    IngestConfig    `mapstructure:"ingest"    toml:"ingest"`
	Aggregate AggregateConfig `mapstructure:"aggregate" toml:"aggregate"`
	Retention RetentionConfig `mapstructure:"retention" toml:"retention"`
}

// ServerConfig holds the process-level settings.
type ServerConfig struct {
	DataDir      string `mapstructure:"data_dir"      toml:"data_dir"`
	WebPort      int    `mapstructure:"web_port"      toml:"web_port"`
	LogLevel     string `mapstructure:"log_level"     toml:"log_level"`
	ReadTimeout  int    `mapstructure:"read_timeout"  toml:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout" toml:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"  toml:"idle_timeout"`
}

// MQTTConfig describes the broker connection the subscriber uses.
type MQTTConfig struct {
	Host        string `mapstructure:"host"         toml:"host"`
	Port        int    `mapstructure:"port"         toml:"port"`
	Username    string `mapstructure:"username"     toml:"username"`
	PasswordRef string `mapstructure:"password_ref" toml:"password_ref"`
	TLSEnabled  bool   `mapstructure:"tls_enabled"  toml:"tls_enabled"`
	TLSCAFile   string `mapstructure:"tls_ca_file"  toml:"tls_ca_file"`
	Topic       string `mapstructure:"topic"        toml:"topic"`
	ClientID    string `mapstructure:"client_id"    toml:"client_id"`
}

// BrokerURL returns the broker address in the scheme://host:port form
// the MQTT client expects.
func (m MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if m.TLSEnabled {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.Host, m.Port)
}

// IngestConfig controls message validation and storage policy.
type IngestConfig struct {
	// StoreMode is "all" (store every accepted message) or
	// "downsample_60s" (at most one raw row per device per minute).
	StoreMode string `mapstructure:"store_mode" toml:"store_mode"`
	// FieldMap maps logical field names (total_in, total_out, power_w,
	// voltage) to dotted paths into the sensor JSON payload. An empty
	// map falls back to the built-in Tasmota LK13BE layout.
	FieldMap map[string]string `mapstructure:"field_map" toml:"field_map"`
	// AllowedDevices lists accepted device ids. Empty means accept all.
	AllowedDevices []string `mapstructure:"allowed_devices" toml:"allowed_devices"`
	// MessageLogSize caps the in-memory message log ring buffer.
	MessageLogSize int `mapstructure:"message_log_size" toml:"message_log_size"`
}

// EffectiveFieldMap returns the configured field map, or the built-in
// LK13BE defaults when none is configured.
func (i IngestConfig) EffectiveFieldMap() map[string]string {
	if len(i.FieldMap) == 0 {
		return DefaultFieldMap()
	}
	return i.FieldMap
}

// AllowSet returns the allowlist as a set for O(1) membership checks.
func (i IngestConfig) AllowSet() map[string]struct{} {
	set := make(map[string]struct{}, len(i.AllowedDevices))
	for _, d := range i.AllowedDevices {
		d = strings.TrimSpace(d)
		if d != "" {
			set[d] = struct{}{}
		}
	}
	return set
}

// AggregateConfig controls the rollup scheduler.
type AggregateConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes" toml:"interval_minutes"`
}

// Interval returns the scheduler tick interval as a time.Duration.
func (a AggregateConfig) Interval() time.Duration {
	if a.IntervalMinutes <= 0 {
		return time.Duration(DefaultAggregateIntervalMinutes) * time.Minute
	}
	return time.Duration(a.IntervalMinutes) * time.Minute
}

// RetentionConfig controls the raw-data retention window.
type RetentionConfig struct {
	RawRetentionDays int `mapstructure:"raw_retention_days" toml:"raw_retention_days"`
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (WATTSCOPE_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.wattscope/wattscope.toml
//  4. ./wattscope.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Set all defaults from the default config so viper knows every key.
	setViperDefaults(v)

	// Environment variable overlay: WATTSCOPE_MQTT_HOST etc.
	v.SetEnvPrefix("WATTSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Determine which file(s) to read.
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".wattscope"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("wattscope")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Store the resolved config file path.
	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Expand ~ in data_dir.
	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// ConfigFilePath returns the path of the config file used by the last
// successful Load, or "" if none was used.
func ConfigFilePath() string {
	if p, ok := loadedConfigFile.Load().(string); ok {
		return p
	}
	return ""
}

// InitConfig writes the default configuration file to
// ~/.wattscope/wattscope.toml. If the file already exists it is not
// overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".wattscope")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// SaveConfig writes cfg to ~/.wattscope/wattscope.toml, overwriting any
// existing file. It returns the path written.
func SaveConfig(cfg *Config) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".wattscope")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	data, err := toml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing config: %w", err)
	}
	return path, nil
}

// expandHome expands a leading ~ in path to the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
}
