package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/tide-data-service/internal/domain"
)

// messageWriter is the subset of *kafkago.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer produces cycle events to a Kafka topic.
// It implements coordinator.EventSink.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the cycle events topic. Events are
// keyed by harbor so a harbor's cycles stay ordered within a partition.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes and writes one cycle event.
func (w *Writer) Publish(ctx context.Context, event domain.CycleEvent) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish cycle event %s: %w", event.ID, err)
	}
	w.logger.Debug("cycle event published", "cycle_id", event.ID, "harbor", event.Harbor, "outcome", event.Outcome)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a CycleEvent into a Kafka message.
func serializeToMessage(event domain.CycleEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize cycle event: %w", err)
	}
	headers := []kafkago.Header{
		{Key: "outcome", Value: []byte(event.Outcome)},
		{Key: "cycle_at", Value: []byte(event.At.Format(time.RFC3339))},
	}
	if len(event.FailedDomains) > 0 {
		failed := make([]string, len(event.FailedDomains))
		for i, k := range event.FailedDomains {
			failed[i] = string(k)
		}
		headers = append(headers, kafkago.Header{Key: "failed_domains", Value: []byte(strings.Join(failed, ","))})
	}
	return kafkago.Message{
		Key:     []byte(event.Harbor),
		Value:   data,
		Time:    event.At,
		Headers: headers,
	}, nil
}
