package bus

import (
	"fmt"
	"strings"

	"github.com/rankeval/rankeval/internal/config"
	"github.com/rankeval/rankeval/internal/pkg/errors"
	"github.com/rankeval/rankeval/internal/pkg/logger"
)

// NewBus creates a Bus from configuration. When an event log path is
// configured the bus journals every published event.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	var b Bus

	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		b = NewMemoryBus(log)

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}

		group := cfg.KafkaGroup
		if group == "" {
			group = "rankeval"
		}

		kb, err := NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: group,
			ClientID:      "rankeval",
			TopicPrefix:   cfg.TopicPrefix,
			Logger:        log,
		})
		if err != nil {
			return nil, err
		}
		b = kb

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}

	if cfg.EventLog == "" {
		return b, nil
	}

	journal, err := OpenEventJournal(cfg.EventLog)
	if err != nil {
		b.Close()
		return nil, err
	}
	return NewJournaledBus(b, journal, log), nil
}
