package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"pumpguard/internal/storage"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes alerts as JSON keyed by pair address.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewKafkaNotifier creates a writer for topic on the given brokers.
func NewKafkaNotifier(brokers []string, topic string, batchTimeout time.Duration, logger zerolog.Logger) *KafkaNotifier {
	if batchTimeout <= 0 {
		batchTimeout = 100 * time.Millisecond
	}
	return newKafkaNotifier(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireOne,
	}, topic, logger)
}

func newKafkaNotifier(w messageWriter, topic string, logger zerolog.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer: w,
		topic:  topic,
		logger: logger.With().Str("component", "alert_kafka").Logger(),
	}
}

// Name implements Notifier.
func (k *KafkaNotifier) Name() string { return "kafka" }

// Notify writes one alert message.
func (k *KafkaNotifier) Notify(ctx context.Context, alert storage.Alert) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.writer == nil {
		return fmt.Errorf("kafka notifier closed")
	}

	key := alert.PairAddress
	if key == "" {
		key = alert.PairName
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "alert_type", Value: []byte(alert.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("write alert to kafka topic %s: %w", k.topic, err)
	}

	k.logger.Debug().Str("pair", alert.PairName).Str("alert_type", string(alert.Type)).Msg("alert published to kafka")
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaNotifier) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.writer != nil {
		err := k.writer.Close()
		k.writer = nil
		return err
	}
	return nil
}

var _ Notifier = (*KafkaNotifier)(nil)
