package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail. Validation failures
// are fatal at startup; a running process never sees an invalid config
// because failed hot-reloads keep the previous one.
func validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.WebPort < 1 || cfg.Server.WebPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.web_port must be between 1 and 65535, got %d", cfg.Server.WebPort))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}

	// MQTT validation
	if cfg.MQTT.Host == "" {
		errs = append(errs, "mqtt.host must not be empty")
	}
	if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
		errs = append(errs, fmt.Sprintf("mqtt.port must be between 1 and 65535, got %d", cfg.MQTT.Port))
	}
	if cfg.MQTT.Topic == "" {
		errs = append(errs, "mqtt.topic must not be empty")
	}

	// Ingest validation
	if !isValidEnum(cfg.Ingest.StoreMode, ValidStoreModes) {
		errs = append(errs, fmt.Sprintf("ingest.store_mode must be one of %v, got %q", ValidStoreModes, cfg.Ingest.StoreMode))
	}
	if cfg.Ingest.MessageLogSize < 1 {
		errs = append(errs, fmt.Sprintf("ingest.message_log_size must be positive, got %d", cfg.Ingest.MessageLogSize))
	}
	fm := cfg.Ingest.EffectiveFieldMap()
	if path, ok := fm["total_in"]; !ok || strings.TrimSpace(path) == "" {
		errs = append(errs, "ingest.field_map must map total_in to a non-empty path")
	}
	for name, path := range fm {
		if strings.TrimSpace(path) == "" {
			errs = append(errs, fmt.Sprintf("ingest.field_map.%s must not be empty", name))
		}
	}

	// Aggregation validation
	if cfg.Aggregate.IntervalMinutes < 1 {
		errs = append(errs, fmt.Sprintf("aggregate.interval_minutes must be positive, got %d", cfg.Aggregate.IntervalMinutes))
	}

	// Retention validation
	if cfg.Retention.RawRetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("retention.raw_retention_days must be positive, got %d", cfg.Retention.RawRetentionDays))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum reports whether value is one of the allowed options.
func isValidEnum(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
