package call

import (
	"sync"
	"time"

	"github.com/echo-project/echo-signal/internal/core"
	"github.com/echo-project/echo-signal/internal/domain"
)

const DefaultLogCapacity = 500

// Entry is an immutable snapshot of one call attempt, taken at creation
// and completed at termination.
type Entry struct {
	CallID    domain.CallID      `json:"callId"`
	Kind      domain.CallKind    `json:"kind"`
	Mesh      bool               `json:"mesh,omitempty"`
	Room      domain.RoomName    `json:"room,omitempty"`
	Initiator core.SessionID     `json:"initiator"`
	Target    core.SessionID     `json:"target,omitempty"`
	Outcome   domain.CallOutcome `json:"outcome,omitempty"`
	StartedAt time.Time          `json:"startedAt"`
	EndedAt   *time.Time         `json:"endedAt,omitempty"`
}

// Log is the bounded call history: a fixed-capacity ring, oldest entries
// evicted first. Recent returns most-recent-first.
type Log struct {
	mu    sync.RWMutex
	buf   []*Entry
	head  int
	count int
}

func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Log{buf: make([]*Entry, capacity)}
}

// Record appends a new entry, evicting the oldest if the ring is full.
func (l *Log) Record(e Entry) {
	l.mu.Lock()
	idx := (l.head + l.count) % len(l.buf)
	l.buf[idx] = &e
	if l.count == len(l.buf) {
		l.head = (l.head + 1) % len(l.buf)
	} else {
		l.count++
	}
	l.mu.Unlock()
}

// Finalize stamps the newest live entry for callID with its outcome and
// end time. A second finalize for the same call is a no-op, as is
// finalizing an entry the ring has already evicted.
func (l *Log) Finalize(callID domain.CallID, outcome domain.CallOutcome, endedAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := l.count - 1; i >= 0; i-- {
		e := l.buf[(l.head+i)%len(l.buf)]
		if e.CallID != callID {
			continue
		}
		if e.EndedAt != nil {
			return
		}
		e.Outcome = outcome
		e.EndedAt = &endedAt
		return
	}
}

// Recent returns up to n entries, most recent first.
func (l *Log) Recent(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > l.count {
		n = l.count
	}
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		e := l.buf[(l.head+l.count-1-i)%len(l.buf)]
		out = append(out, *e)
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}
