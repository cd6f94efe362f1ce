package ingest

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogEntry records the fate of one inbound message. Entries for policy
// drops carry no payload content.
type LogEntry struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Topic    string    `json:"topic"`
	DeviceID string    `json:"device_id"`
	Outcome  string    `json:"outcome"` // "stored", "rejected", "dropped"
	Reason   string    `json:"reason,omitempty"`
	Summary  string    `json:"summary,omitempty"`
}

// MessageLog is a fixed-capacity ring buffer of recent message
// outcomes. Once full, each append overwrites the oldest entry. Safe
// for concurrent use.
type MessageLog struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
}

// NewMessageLog creates a log holding at most capacity entries.
func NewMessageLog(capacity int) *MessageLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &MessageLog{entries: make([]LogEntry, capacity)}
}

// Append records one entry, assigning its id and time.
func (l *MessageLog) Append(e LogEntry) {
	e.ID = uuid.NewString()
	e.Time = time.Now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = e
	l.next++
	if l.next == len(l.entries) {
		l.next = 0
		l.full = true
	}
}

// Snapshot returns a copy of the log, most recent first.
func (l *MessageLog) Snapshot() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.next
	if l.full {
		n = len(l.entries)
	}
	out := make([]LogEntry, 0, n)
	for i := 0; i < n; i++ {
		idx := l.next - 1 - i
		if idx < 0 {
			idx += len(l.entries)
		}
		out = append(out, l.entries[idx])
	}
	return out
}

// Len reports how many entries the log currently holds.
func (l *MessageLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.entries)
	}
	return l.next
}
