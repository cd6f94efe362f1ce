package config

import (
	"strings"
	"testing"
)

func TestValidate_DefaultsPass(t *testing.T) {
	if err := validate(DefaultConfig()); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidate_BadStoreMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ingest.StoreMode = "downsample_5m"

	err := validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "store_mode") {
		t.Fatalf("expected store_mode error, got %v", err)
	}
}

func TestValidate_BadRetention(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retention.RawRetentionDays = 0

	err := validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "raw_retention_days") {
		t.Fatalf("expected retention error, got %v", err)
	}
}

func TestValidate_BadInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Aggregate.IntervalMinutes = -5

	err := validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "interval_minutes") {
		t.Fatalf("expected interval error, got %v", err)
	}
}

func TestValidate_FieldMapMissingTotalIn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ingest.FieldMap = map[string]string{"power_w": "SML.Power_curr"}

	err := validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "total_in") {
		t.Fatalf("expected total_in error, got %v", err)
	}
}

func TestValidate_FieldMapEmptyPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ingest.FieldMap = map[string]string{
		"total_in": "LK13BE.total",
		"power_w":  "  ",
	}

	err := validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "power_w") {
		t.Fatalf("expected power_w error, got %v", err)
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.LogLevel = "verbose"

	err := validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "log_level") {
		t.Fatalf("expected log_level error, got %v", err)
	}
}

func TestValidate_BadPorts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.WebPort = 0
	cfg.MQTT.Port = 70000

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected port errors")
	}
	if !strings.Contains(err.Error(), "web_port") || !strings.Contains(err.Error(), "mqtt.port") {
		t.Errorf("expected both port errors, got %v", err)
	}
}
