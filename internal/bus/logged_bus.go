package bus

import (
	"context"

	"github.com/rankeval/rankeval/internal/pkg/logger"
)

// JournaledBus wraps another Bus and appends every published event to an
// EventJournal before delegating. Journal failures are logged, never
// returned.
type JournaledBus struct {
	inner   Bus
	journal *EventJournal
	log     *logger.Logger
}

// NewJournaledBus creates a bus that journals events published on inner.
func NewJournaledBus(inner Bus, journal *EventJournal, log *logger.Logger) *JournaledBus {
	if log == nil {
		log = logger.Discard()
	}
	return &JournaledBus{
		inner:   inner,
		journal: journal,
		log:     log,
	}
}

// Publish journals the event and then delegates to the inner bus.
func (b *JournaledBus) Publish(ctx context.Context, topic string, event Event) error {
	if err := b.journal.Append(topic, event); err != nil {
		b.log.WithError(err).Warn("Failed to journal event", "topic", topic, "event_id", event.ID)
	}
	return b.inner.Publish(ctx, topic, event)
}

// Subscribe delegates to the inner bus.
func (b *JournaledBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.inner.Subscribe(ctx, topic, handler)
}

// Close closes the journal and the inner bus.
func (b *JournaledBus) Close() error {
	if err := b.journal.Close(); err != nil {
		b.log.WithError(err).Warn("Failed to close event journal")
	}
	return b.inner.Close()
}
