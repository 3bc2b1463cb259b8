package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/rankeval/rankeval/internal/pkg/logger"
)

func TestKafkaConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     KafkaConfig
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: KafkaConfig{
				Brokers:       []string{"localhost:9092"},
				ConsumerGroup: "test-group",
			},
			wantErr: false,
		},
		{
			name: "empty brokers",
			cfg: KafkaConfig{
				Brokers:       []string{},
				ConsumerGroup: "test-group",
			},
			wantErr: true,
		},
		{
			name: "empty consumer group",
			cfg: KafkaConfig{
				Brokers:       []string{"localhost:9092"},
				ConsumerGroup: "",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (cfg.ClientID != "rankeval" || cfg.Version != "2.8.0" || cfg.Logger == nil) {
				t.Errorf("defaults not applied: %+v", cfg)
			}
		})
	}
}

func TestSaramaConfig_InvalidVersion(t *testing.T) {
	_, err := saramaConfig(KafkaConfig{Version: "invalid"})
	if err == nil {
		t.Error("saramaConfig() error = nil, want error for invalid version")
	}
}

func TestParseKafkaBrokers(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "single broker",
			input: "localhost:9092",
			want:  []string{"localhost:9092"},
		},
		{
			name:  "multiple brokers",
			input: "broker1:9092,broker2:9092,broker3:9092",
			want:  []string{"broker1:9092", "broker2:9092", "broker3:9092"},
		},
		{
			name:  "with whitespace and empty entries",
			input: "broker1:9092 , ,broker2:9092 ",
			want:  []string{"broker1:9092", "broker2:9092"},
		},
		{
			name:  "empty string",
			input: "  ",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseKafkaBrokers(tt.input)
			if len(got) != len(tt.want) {
				t.Errorf("ParseKafkaBrokers() = %v, want %v", got, tt.want)
				return
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ParseKafkaBrokers()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestEncodeMessage(t *testing.T) {
	event := NewEvent("analysis.completed", "test", "run-1", AnalysisPayload{Analysis: "model_performance"})

	msg, err := encodeMessage("rankeval.analysis.completed", event)
	if err != nil {
		t.Fatalf("encodeMessage() error = %v", err)
	}
	if msg.Topic != "rankeval.analysis.completed" {
		t.Errorf("Topic = %s", msg.Topic)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != "run_id" || string(msg.Headers[0].Value) != "run-1" {
		t.Errorf("Headers = %v, want run_id=run-1", msg.Headers)
	}

	data, _ := msg.Value.Encode()
	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != event.ID || decoded.RunID != "run-1" {
		t.Errorf("decoded = %+v", decoded)
	}
}

// newMockKafkaBus returns a bus whose producer is a sarama mock.
func newMockKafkaBus(t *testing.T) (*KafkaBus, *mocks.SyncProducer) {
	t.Helper()
	producer := mocks.NewSyncProducer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaBus{
		config:       KafkaConfig{TopicPrefix: "rankeval."},
		producer:     producer,
		log:          logger.Discard(),
		handlers:     make(map[string][]Handler),
		consumerCtx:  ctx,
		stopConsumer: cancel,
	}, producer
}

func TestKafkaBus_Publish(t *testing.T) {
	bus, producer := newMockKafkaBus(t)

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "rankeval.analysis.failed" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	event := NewEvent(TopicAnalysisFailed, "test", "", nil)
	if err := bus.Publish(context.Background(), TopicAnalysisFailed, event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := bus.Publish(context.Background(), TopicAnalysisFailed, event); err == nil {
		t.Error("Publish() error = nil, want broker failure")
	}

	if err := producer.Close(); err != nil {
		t.Errorf("producer.Close() error = %v", err)
	}
}

func TestKafkaBus_Interface(t *testing.T) {
	var _ Bus = (*KafkaBus)(nil) // Compile-time interface check
}

func TestKafkaBus_ClosedBusRejectsCalls(t *testing.T) {
	bus, _ := newMockKafkaBus(t)
	bus.closed = true

	if err := bus.Publish(context.Background(), "test", Event{ID: "test"}); err == nil {
		t.Error("Publish() after Close() should return error")
	}

	err := bus.Subscribe(context.Background(), "test", func(ctx context.Context, event Event) error {
		return nil
	})
	if err == nil {
		t.Error("Subscribe() after Close() should return error")
	}

	// Close on a closed bus is a no-op
	if err := bus.Close(); err != nil {
		t.Errorf("Close() on closed bus returned error: %v", err)
	}
}
