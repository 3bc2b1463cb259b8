// Package bus publishes analysis lifecycle events.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type (e.g., "analysis.completed").
	Type string `json:"type"`

	// Source is the component that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created, in unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// RunID links the events of one experiment run.
	RunID string `json:"run_id,omitempty"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// NewEvent creates an event with a fresh id and the current time.
func NewEvent(eventType, source, runID string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
		RunID:     runID,
		Payload:   payload,
	}
}

// Topics for analysis lifecycle events.
const (
	TopicAnalysisCompleted = "analysis.completed"
	TopicAnalysisFailed    = "analysis.failed"
	TopicRunCompleted      = "run.completed"
)

// AnalysisPayload describes one finished analysis.
type AnalysisPayload struct {
	Analysis   string   `json:"analysis"`
	Key        string   `json:"key,omitempty"`
	Dims       []string `json:"dims,omitempty"`
	Shape      []int    `json:"shape,omitempty"`
	Computed   int      `json:"computed"`
	DurationMs int64    `json:"duration_ms"`
	Error      string   `json:"error,omitempty"`
}

// RunPayload summarises an experiment run.
type RunPayload struct {
	Experiment string `json:"experiment"`
	Analyses   int    `json:"analyses"`
	Failed     int    `json:"failed"`
	DurationMs int64  `json:"duration_ms"`
}
