package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/wattscope/wattscope/internal/config"
)

var testReceivedAt = time.Date(2024, 1, 15, 10, 5, 0, 0, time.UTC)

func testNormalizer() *Normalizer {
	return NewNormalizer(config.DefaultFieldMap())
}

func TestNormalize_FullPayload(t *testing.T) {
	payload := []byte(`{
		"Time": "2024-01-15T10:00:00",
		"LK13BE": {"total": 1234.567, "total_out": 12.3, "current": 450.5, "voltage_l1": 231.2}
	}`)

	r, err := testNormalizer().Normalize("tele/meter-1/SENSOR", payload, testReceivedAt)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if r.DeviceID != "meter-1" {
		t.Errorf("DeviceID: got %q, want %q", r.DeviceID, "meter-1")
	}
	if r.ObservedAt != "2024-01-15T10:00:00Z" {
		t.Errorf("ObservedAt: got %q, want %q", r.ObservedAt, "2024-01-15T10:00:00Z")
	}
	if r.TotalIn != 1234.567 {
		t.Errorf("TotalIn: got %v, want 1234.567", r.TotalIn)
	}
	if !r.TotalOut.Valid || r.TotalOut.Float64 != 12.3 {
		t.Errorf("TotalOut: got %+v, want 12.3", r.TotalOut)
	}
	if !r.PowerW.Valid || r.PowerW.Float64 != 450.5 {
		t.Errorf("PowerW: got %+v, want 450.5", r.PowerW)
	}
	if !r.Voltage.Valid || r.Voltage.Float64 != 231.2 {
		t.Errorf("Voltage: got %+v, want 231.2", r.Voltage)
	}
	if r.ReceivedAt != "2024-01-15T10:05:00Z" {
		t.Errorf("ReceivedAt: got %q, want %q", r.ReceivedAt, "2024-01-15T10:05:00Z")
	}
}

func TestNormalize_MissingTimestampUsesReceiveTime(t *testing.T) {
	payload := []byte(`{"LK13BE": {"total": 100.0}}`)

	r, err := testNormalizer().Normalize("tele/meter-1/SENSOR", payload, testReceivedAt)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.ObservedAt != "2024-01-15T10:05:00Z" {
		t.Errorf("ObservedAt: got %q, want receive time", r.ObservedAt)
	}
}

func TestNormalize_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		want    error
	}{
		{"garbage payload", "tele/meter-1/SENSOR", `not json`, ErrUnparseablePayload},
		{"json array", "tele/meter-1/SENSOR", `[1,2,3]`, ErrUnparseablePayload},
		{"missing total_in", "tele/meter-1/SENSOR", `{"LK13BE": {"voltage_l1": 230}}`, ErrMissingTotalIn},
		{"total_in wrong type", "tele/meter-1/SENSOR", `{"LK13BE": {"total": true}}`, ErrMissingTotalIn},
		{"negative total_in", "tele/meter-1/SENSOR", `{"LK13BE": {"total": -5.0}}`, ErrNegativeTotalIn},
		{"unparseable timestamp", "tele/meter-1/SENSOR", `{"Time": "not-a-time", "LK13BE": {"total": 100.0}}`, ErrInvalidTimestamp},
		{"timestamp wrong type", "tele/meter-1/SENSOR", `{"Time": 12345, "LK13BE": {"total": 100.0}}`, ErrInvalidTimestamp},
		{"ancient timestamp", "tele/meter-1/SENSOR", `{"Time": "1999-12-31T23:59:59", "LK13BE": {"total": 100.0}}`, ErrInvalidTimestamp},
		{"far-future timestamp", "tele/meter-1/SENSOR", `{"Time": "2024-01-20T10:00:00", "LK13BE": {"total": 100.0}}`, ErrInvalidTimestamp},
		{"empty device id", "//", `{"LK13BE": {"total": 100.0}}`, ErrEmptyDeviceID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testNormalizer().Normalize(tt.topic, []byte(tt.payload), testReceivedAt)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNormalize_RFC3339Timestamp(t *testing.T) {
	payload := []byte(`{"Time": "2024-01-15T10:00:00Z", "LK13BE": {"total": 100.0}}`)

	r, err := testNormalizer().Normalize("tele/meter-1/SENSOR", payload, testReceivedAt)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.ObservedAt != "2024-01-15T10:00:00Z" {
		t.Errorf("ObservedAt: got %q", r.ObservedAt)
	}
}

func TestNormalize_CustomFieldMap(t *testing.T) {
	n := NewNormalizer(map[string]string{"total_in": "meter.energy_kwh"})
	payload := []byte(`{"meter": {"energy_kwh": 42.5}}`)

	r, err := n.Normalize("tele/meter-1/SENSOR", payload, testReceivedAt)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.TotalIn != 42.5 {
		t.Errorf("TotalIn: got %v, want 42.5", r.TotalIn)
	}
	if r.PowerW.Valid {
		t.Error("PowerW should be null when unmapped")
	}
}

func TestDeviceFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"tele/meter-1/SENSOR", "meter-1"},
		{"tele/kitchen/plug/SENSOR", "kitchen"},
		{"meter-1", "meter-1"},
		{"tele/meter-1", "tele/meter-1"},
		{"tele/\x00me\x1fter/SENSOR", "meter"},
		{"//", ""},
	}
	for _, tt := range tests {
		if got := DeviceFromTopic(tt.topic); got != tt.want {
			t.Errorf("DeviceFromTopic(%q): got %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestDeviceFromTopic_LengthCap(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "x"
	}
	got := DeviceFromTopic("tele/" + long + "/SENSOR")
	if len(got) != maxDeviceIDLen {
		t.Errorf("device id length: got %d, want %d", len(got), maxDeviceIDLen)
	}
}

func TestSanitize(t *testing.T) {
	if got := Sanitize("ab\ncd\x7fef", 10); got != "abcdef" {
		t.Errorf("Sanitize: got %q, want %q", got, "abcdef")
	}
	if got := Sanitize("abcdef", 3); got != "abc" {
		t.Errorf("Sanitize truncation: got %q, want %q", got, "abc")
	}
}
