package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Guliveer/twitchify-go/internal/constants"
)

// Entry is one recorded notification.
type Entry struct {
	Type      string          `json:"type"`
	MessageID string          `json:"message_id"`
	Timestamp time.Time       `json:"timestamp"`
	Event     json.RawMessage `json:"event,omitempty"`
}

// EventLog keeps the most recent notifications in a fixed-size ring.
type EventLog struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// NewEventLog creates an EventLog holding up to size entries. A size of
// zero or less uses constants.DefaultEventHistory.
func NewEventLog(size int) *EventLog {
	if size <= 0 {
		size = constants.DefaultEventHistory
	}
	return &EventLog{entries: make([]Entry, size)}
}

// Record appends e, overwriting the oldest entry when the log is full.
func (l *EventLog) Record(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// Recent returns up to limit entries of the given type, newest first. An
// empty typ matches everything and a limit of zero returns all matches.
func (l *EventLog) Recent(typ string, limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.next
	if l.full {
		count = len(l.entries)
	}

	out := make([]Entry, 0, count)
	for i := 1; i <= count; i++ {
		e := l.entries[(l.next-i+len(l.entries))%len(l.entries)]
		if typ != "" && e.Type != typ {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
