package observability

import (
	"sync"
	"time"
)

// DefaultRunLogSize bounds a RunLog created with a non-positive size.
const DefaultRunLogSize = 1000

// RunLog keeps the most recent analysis entries in memory.
type RunLog struct {
	mu      sync.RWMutex
	entries []RunLogEntry
	max     int
}

// NewRunLog creates a run log holding up to size entries.
func NewRunLog(size int) *RunLog {
	if size <= 0 {
		size = DefaultRunLogSize
	}
	return &RunLog{
		entries: make([]RunLogEntry, 0, min(size, 128)),
		max:     size,
	}
}

// Add appends an entry. When the log is full the oldest tenth is dropped.
func (l *RunLog) Add(entry RunLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	l.entries = append(l.entries, entry)

	if len(l.entries) > l.max {
		drop := max(l.max/10, len(l.entries)-l.max)
		l.entries = append(l.entries[:0:0], l.entries[drop:]...)
	}
}

// Run returns the entries of one run in insertion order.
func (l *RunLog) Run(runID string) []RunLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []RunLogEntry
	for _, e := range l.entries {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

// InRange returns entries with from <= Timestamp <= to, optionally limited to
// one experiment.
func (l *RunLog) InRange(experiment string, from, to time.Time) []RunLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []RunLogEntry
	for _, e := range l.entries {
		if experiment != "" && e.Experiment != experiment {
			continue
		}
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of retained entries.
func (l *RunLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
