// Package ingest turns raw broker messages into stored meter readings.
//
// The pipeline is a sequence of hard gates: allowlist, normalization,
// downsample policy, storage. Every message leaves a trace in the
// bounded message log regardless of outcome.
package ingest

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/wattscope/wattscope/internal/fieldpath"
	"github.com/wattscope/wattscope/internal/store"
)

// Length caps applied before anything else touches the strings.
const (
	maxTopicLen     = 256
	maxDeviceIDLen  = 64
	maxTimestampLen = 32
	maxSummaryLen   = 256
)

// Rejection reasons. Each is independent and never fatal to the pipeline.
var (
	ErrUnparseablePayload = errors.New("unparseable payload")
	ErrMissingTotalIn     = errors.New("missing total_in")
	ErrNegativeTotalIn    = errors.New("negative total_in")
	ErrInvalidTimestamp   = errors.New("invalid timestamp")
	ErrEmptyDeviceID      = errors.New("empty device id")
)

// Meters report local time without a zone suffix; Tasmota firmware uses
// this layout. RFC3339 is accepted as well.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// A reading observed more than this far ahead of the server clock has a
// broken sensor clock and is rejected rather than stored in the future.
const maxClockSkew = 48 * time.Hour

// Normalizer validates raw messages against a field map and produces
// typed readings. It holds no mutable state and is safe for concurrent
// use.
type Normalizer struct {
	fieldMap map[string]string
}

// NewNormalizer builds a Normalizer over a logical-field → dotted-path
// map. The map must contain a path for "total_in".
func NewNormalizer(fieldMap map[string]string) *Normalizer {
	return &Normalizer{fieldMap: fieldMap}
}

// Normalize turns one message into a Reading, or returns one of the
// rejection sentinels.
func (n *Normalizer) Normalize(topic string, payload []byte, receivedAt time.Time) (*store.Reading, error) {
	device := DeviceFromTopic(topic)
	if device == "" {
		return nil, ErrEmptyDeviceID
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var root map[string]interface{}
	if err := dec.Decode(&root); err != nil {
		return nil, ErrUnparseablePayload
	}

	totalIn, ok := fieldpath.Resolve(root, n.fieldMap["total_in"])
	if !ok {
		return nil, ErrMissingTotalIn
	}
	if totalIn < 0 {
		return nil, ErrNegativeTotalIn
	}

	observedAt, err := n.observedAt(root, receivedAt)
	if err != nil {
		return nil, err
	}

	r := &store.Reading{
		DeviceID:   device,
		ObservedAt: observedAt.UTC().Format(time.RFC3339),
		TotalIn:    totalIn,
		ReceivedAt: receivedAt.UTC().Format(time.RFC3339),
	}
	r.TotalOut = n.optionalField(root, "total_out")
	r.PowerW = n.optionalField(root, "power_w")
	r.Voltage = n.optionalField(root, "voltage")
	return r, nil
}

// observedAt extracts the sensor timestamp from the payload's top-level
// "Time" key. A missing timestamp falls back to the receive time; a
// present but unparseable or out-of-range one rejects the reading.
func (n *Normalizer) observedAt(root map[string]interface{}, receivedAt time.Time) (time.Time, error) {
	raw, present := root["Time"]
	if !present {
		return receivedAt, nil
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, ErrInvalidTimestamp
	}
	s = Sanitize(s, maxTimestampLen)

	var ts time.Time
	var err error
	for _, layout := range timestampLayouts {
		if ts, err = time.ParseInLocation(layout, s, time.UTC); err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, ErrInvalidTimestamp
	}
	if ts.Year() < 2000 || ts.After(receivedAt.Add(maxClockSkew)) {
		return time.Time{}, ErrInvalidTimestamp
	}
	return ts, nil
}

func (n *Normalizer) optionalField(root map[string]interface{}, name string) sql.NullFloat64 {
	path, ok := n.fieldMap[name]
	if !ok {
		return sql.NullFloat64{}
	}
	v, ok := fieldpath.Resolve(root, path)
	if !ok {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// DeviceFromTopic derives the device id from a broker topic. Topics of
// the form "tele/<device>/SENSOR" yield the middle segment; anything
// shorter is used whole. The result is length-capped and stripped of
// control characters; it may be empty.
func DeviceFromTopic(topic string) string {
	topic = Sanitize(topic, maxTopicLen)
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 {
		return Sanitize(parts[1], maxDeviceIDLen)
	}
	return Sanitize(topic, maxDeviceIDLen)
}

// Sanitize strips control characters and truncates to max bytes.
func Sanitize(s string, max int) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > max {
		out = out[:max]
	}
	return out
}
