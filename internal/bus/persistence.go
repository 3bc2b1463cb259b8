package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rankeval/rankeval/internal/pkg/errors"
)

// LoggedEvent is one line of the event journal.
type LoggedEvent struct {
	Event    Event     `json:"event"`
	Topic    string    `json:"topic"`
	LoggedAt time.Time `json:"logged_at"`
}

// EventJournal appends published events to a JSON lines file so a run's
// history can be inspected or replayed onto another bus.
type EventJournal struct {
	path string

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// OpenEventJournal opens (or creates) the journal at path for appending.
func OpenEventJournal(path string) (*EventJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.StorageError("create event journal directory", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.StorageError("open event journal", err)
	}

	return &EventJournal{
		path:    path,
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Append writes one event and syncs the file.
func (j *EventJournal) Append(topic string, event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return errors.New(errors.CodeUnavailable, "event journal is closed")
	}

	if err := j.encoder.Encode(LoggedEvent{Event: event, Topic: topic, LoggedAt: time.Now()}); err != nil {
		return errors.StorageError("encode event", err)
	}
	if err := j.file.Sync(); err != nil {
		return errors.StorageError("sync event journal", err)
	}
	return nil
}

// Events reads the journal and returns the events of runID (all runs when
// empty), oldest first. Malformed lines are skipped.
func (j *EventJournal) Events(runID string) ([]LoggedEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []LoggedEvent{}, nil
		}
		return nil, errors.StorageError("open event journal", err)
	}
	defer file.Close()

	events := make([]LoggedEvent, 0)
	scanner := bufio.NewScanner(file)

	const maxLine = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	for scanner.Scan() {
		var le LoggedEvent
		if err := json.Unmarshal(scanner.Bytes(), &le); err != nil {
			continue
		}
		if runID != "" && le.Event.RunID != runID {
			continue
		}
		events = append(events, le)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.StorageError("scan event journal", err)
	}
	return events, nil
}

// Replay publishes the journaled events of runID onto b in order.
func (j *EventJournal) Replay(ctx context.Context, b Bus, runID string) error {
	events, err := j.Events(runID)
	if err != nil {
		return err
	}

	for _, le := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.Publish(ctx, le.Topic, le.Event); err != nil {
			return fmt.Errorf("replay event %s: %w", le.Event.ID, err)
		}
	}
	return nil
}

// Close closes the journal file.
func (j *EventJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	j.encoder = nil
	if err != nil {
		return errors.StorageError("close event journal", err)
	}
	return nil
}
