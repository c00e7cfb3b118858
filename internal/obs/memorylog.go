package obs

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEntry is one captured log line served by the admin runtime-log endpoint.
type LogEntry struct {
	Time    time.Time     `json:"time"`
	Level   string        `json:"level"`
	Message string        `json:"message"`
	Fields  logrus.Fields `json:"fields,omitempty"`
}

// RingHook is a logrus hook that keeps the most recent entries in a
// circular buffer.
type RingHook struct {
	entries  []LogEntry
	writeIdx int
	count    int
	mu       sync.RWMutex
}

// NewRingHook creates a ring hook holding up to max entries.
func NewRingHook(max int) *RingHook {
	if max <= 0 {
		max = 512
	}
	return &RingHook{entries: make([]LogEntry, max)}
}

// Levels implements logrus.Hook.
func (h *RingHook) Levels() []logrus.Level { return logrus.AllLevels }

// Fire implements logrus.Hook.
func (h *RingHook) Fire(entry *logrus.Entry) error {
	fields := make(logrus.Fields, len(entry.Data))
	for k, v := range entry.Data {
		fields[k] = v
	}

	h.mu.Lock()
	h.entries[h.writeIdx] = LogEntry{
		Time:    entry.Time,
		Level:   entry.Level.String(),
		Message: entry.Message,
		Fields:  fields,
	}
	h.writeIdx = (h.writeIdx + 1) % len(h.entries)
	if h.count < len(h.entries) {
		h.count++
	}
	h.mu.Unlock()
	return nil
}

// Entries returns the captured entries in chronological order.
func (h *RingHook) Entries() []LogEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]LogEntry, 0, h.count)
	start := 0
	if h.count == len(h.entries) {
		start = h.writeIdx
	}
	for i := 0; i < h.count; i++ {
		out = append(out, h.entries[(start+i)%len(h.entries)])
	}
	return out
}
