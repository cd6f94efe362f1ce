package ingest

import (
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/wattscope/wattscope/internal/config"
	"github.com/wattscope/wattscope/internal/store"
)

// Outcome classifies what happened to one inbound message.
type Outcome int

const (
	OutcomeStored Outcome = iota
	OutcomeRejected
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeRejected:
		return "rejected"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Result is the verdict for one message.
type Result struct {
	Outcome Outcome
	Reason  string
}

// DirtyMarker receives the hour bucket of every stored reading so late
// arrivals trigger re-aggregation of already-processed hours.
type DirtyMarker interface {
	Mark(deviceID, hour string)
}

// recentMinutes bounds the in-memory fast path for the downsample
// dedupe check; the database remains the authority.
const recentMinutes = 512

// Pipeline applies the allowlist, the Normalizer, and the downsample
// policy, then writes accepted readings to storage. Exactly one raw row
// is appended per accepted reading.
type Pipeline struct {
	store  *store.Store
	norm   *Normalizer
	msglog *MessageLog
	dirty  DirtyMarker

	mu        sync.RWMutex
	allowed   map[string]struct{}
	storeMode string

	// device|minute keys already stored, to skip the DB lookup for the
	// common repeated-sample case.
	recent *lru.Cache[string, struct{}]

	onStored func(*store.Reading)
}

// NewPipeline wires a pipeline over the given store. allowed may be
// nil or empty to accept every device. dirty may be nil.
func NewPipeline(st *store.Store, norm *Normalizer, msglog *MessageLog, storeMode string, allowed map[string]struct{}, dirty DirtyMarker) (*Pipeline, error) {
	recent, err := lru.New[string, struct{}](recentMinutes)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		store:     st,
		norm:      norm,
		msglog:    msglog,
		dirty:     dirty,
		allowed:   allowed,
		storeMode: storeMode,
		recent:    recent,
	}, nil
}

// OnStored registers a callback invoked after every stored reading.
// Must be set before ingestion starts.
func (p *Pipeline) OnStored(fn func(*store.Reading)) {
	p.onStored = fn
}

// Log returns the pipeline's message log.
func (p *Pipeline) Log() *MessageLog {
	return p.msglog
}

// SetAllowedDevices swaps the allowlist. Called from the config
// watcher on hot reload.
func (p *Pipeline) SetAllowedDevices(allowed map[string]struct{}) {
	p.mu.Lock()
	p.allowed = allowed
	p.mu.Unlock()
}

// SetStoreMode swaps the downsample policy.
func (p *Pipeline) SetStoreMode(mode string) {
	p.mu.Lock()
	p.storeMode = mode
	p.mu.Unlock()
}

// Ingest runs one message through the gates. Storage failures are
// returned to the caller; everything else is absorbed into the Result.
func (p *Pipeline) Ingest(topic string, payload []byte, receivedAt time.Time) (Result, error) {
	topic = Sanitize(topic, maxTopicLen)
	device := DeviceFromTopic(topic)

	// Allowlist gate, before any parsing. Unlisted devices are dropped
	// without logging payload content.
	if device != "" && !p.deviceAllowed(device) {
		p.msglog.Append(LogEntry{
			Topic:    topic,
			DeviceID: device,
			Outcome:  OutcomeDropped.String(),
			Reason:   "device not allowlisted",
		})
		return Result{Outcome: OutcomeDropped, Reason: "device not allowlisted"}, nil
	}

	reading, err := p.norm.Normalize(topic, payload, receivedAt)
	if err != nil {
		reason := err.Error()
		p.msglog.Append(LogEntry{
			Topic:    topic,
			DeviceID: device,
			Outcome:  OutcomeRejected.String(),
			Reason:   reason,
			Summary:  Sanitize(string(payload), maxSummaryLen),
		})
		log.Debug().Str("topic", topic).Str("reason", reason).Msg("reading rejected")
		return Result{Outcome: OutcomeRejected, Reason: reason}, nil
	}

	if p.currentStoreMode() == config.StoreModeDownsample60s {
		dup, err := p.minuteOccupied(reading)
		if err != nil {
			return Result{}, err
		}
		if dup {
			p.msglog.Append(LogEntry{
				Topic:    topic,
				DeviceID: reading.DeviceID,
				Outcome:  OutcomeDropped.String(),
				Reason:   "duplicate interval",
			})
			return Result{Outcome: OutcomeDropped, Reason: "duplicate interval"}, nil
		}
	}

	if err := p.store.InsertReading(reading); err != nil {
		return Result{}, err
	}
	p.recent.Add(minuteKey(reading), struct{}{})

	p.msglog.Append(LogEntry{
		Topic:    topic,
		DeviceID: reading.DeviceID,
		Outcome:  OutcomeStored.String(),
		Summary:  Sanitize(string(payload), maxSummaryLen),
	})

	if p.dirty != nil && len(reading.ObservedAt) >= 13 {
		p.dirty.Mark(reading.DeviceID, reading.ObservedAt[:13])
	}
	if p.onStored != nil {
		p.onStored(reading)
	}
	return Result{Outcome: OutcomeStored}, nil
}

func (p *Pipeline) deviceAllowed(device string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.allowed) == 0 {
		return true
	}
	_, ok := p.allowed[device]
	return ok
}

func (p *Pipeline) currentStoreMode() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.storeMode
}

// minuteOccupied reports whether a row already exists for the reading's
// 60-second bucket. The LRU answers repeats cheaply; the database call
// covers restarts and evictions.
func (p *Pipeline) minuteOccupied(r *store.Reading) (bool, error) {
	key := minuteKey(r)
	if _, ok := p.recent.Get(key); ok {
		return true, nil
	}
	if len(r.ObservedAt) < 16 {
		return false, errors.New("ingest: malformed observed_at")
	}
	return p.store.HasReadingInMinute(r.DeviceID, r.ObservedAt[:16])
}

func minuteKey(r *store.Reading) string {
	if len(r.ObservedAt) < 16 {
		return r.DeviceID + "|"
	}
	return r.DeviceID + "|" + r.ObservedAt[:16]
}
