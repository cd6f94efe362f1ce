package aggregate

import "sync"

// Bucket identifies one device-hour needing (re-)aggregation.
type Bucket struct {
	DeviceID string
	Hour     string // "2006-01-02T15", UTC
}

// Tracker collects hour buckets touched by newly stored readings so
// late or out-of-order arrivals re-trigger aggregation of hours that
// were already processed. Safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	dirty map[Bucket]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{dirty: make(map[Bucket]struct{})}
}

// Mark flags one device-hour as dirty. Duplicate marks collapse.
func (t *Tracker) Mark(deviceID, hour string) {
	t.mu.Lock()
	t.dirty[Bucket{DeviceID: deviceID, Hour: hour}] = struct{}{}
	t.mu.Unlock()
}

// Drain returns all dirty buckets and resets the tracker. A bucket that
// fails to aggregate should be re-Marked so the next pass retries it.
func (t *Tracker) Drain() []Bucket {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.dirty) == 0 {
		return nil
	}
	out := make([]Bucket, 0, len(t.dirty))
	for b := range t.dirty {
		out = append(out, b)
	}
	t.dirty = make(map[Bucket]struct{})
	return out
}

// Len reports the number of pending buckets.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dirty)
}
