package core

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// LogEntry is one captured log line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
	Raw       string    `json:"raw"`
}

// LogRingBuffer keeps the most recent log lines for the API. It is used as an
// extra zerolog output and understands zerolog's JSON line format.
type LogRingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	maxSize int
	pos     int
	full    bool
}

// NewLogRingBuffer creates a ring buffer that holds up to maxSize entries.
func NewLogRingBuffer(maxSize int) *LogRingBuffer {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &LogRingBuffer{
		entries: make([]LogEntry, maxSize),
		maxSize: maxSize,
	}
}

// Write implements io.Writer.
func (b *LogRingBuffer) Write(p []byte) (int, error) {
	b.add(parseLogLine(p))
	return len(p), nil
}

func (b *LogRingBuffer) add(entry LogEntry) {
	b.mu.Lock()
	b.entries[b.pos] = entry
	b.pos = (b.pos + 1) % b.maxSize
	if b.pos == 0 {
		b.full = true
	}
	b.mu.Unlock()
}

func parseLogLine(p []byte) LogEntry {
	raw := strings.TrimRight(string(p), "\n")
	entry := LogEntry{Timestamp: time.Now().UTC(), Raw: raw, Message: raw}

	var fields struct {
		Level     string `json:"level"`
		Component string `json:"component"`
		Message   string `json:"message"`
		Time      string `json:"time"`
	}
	if err := json.Unmarshal(p, &fields); err != nil {
		return entry
	}
	entry.Level = fields.Level
	entry.Component = fields.Component
	entry.Message = fields.Message
	if ts, err := time.Parse(time.RFC3339, fields.Time); err == nil {
		entry.Timestamp = ts.UTC()
	}
	return entry
}

// GetEntries returns the most recent n entries in chronological order,
// optionally limited to one component.
func (b *LogRingBuffer) GetEntries(n int, component string) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := b.pos
	if b.full {
		total = b.maxSize
	}
	if n <= 0 {
		return []LogEntry{}
	}

	// Walk backwards from the newest entry.
	out := make([]LogEntry, 0, min(n, total))
	for i := 0; i < total && len(out) < n; i++ {
		idx := (b.pos - 1 - i + b.maxSize) % b.maxSize
		if component != "" && b.entries[idx].Component != component {
			continue
		}
		out = append(out, b.entries[idx])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
