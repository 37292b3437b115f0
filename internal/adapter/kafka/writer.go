package kafka

import (
	"context"
	"log/slog"
	"sort"

	"github.com/couchcryptid/community-scoring-service/internal/config"
	"github.com/couchcryptid/community-scoring-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces score events to a Kafka topic.
// It implements pipeline.BatchLoader and ingest.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured score topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaScoreTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch publishes multiple serialized score events in a single
// WriteMessages call.
func (w *Writer) LoadBatch(ctx context.Context, events []domain.OutputEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msgs[i] = toMessage(events[i])
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

// Publish serializes and writes one score event.
func (w *Writer) Publish(ctx context.Context, event domain.ScoreEvent) error {
	out, err := domain.SerializeScoreEvent(event)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, toMessage(out)); err != nil {
		return err
	}
	w.logger.Debug("score event published", "community_id", event.CommunityID)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// toMessage converts an output event into a Kafka message with headers in key order.
func toMessage(event domain.OutputEvent) kafkago.Message {
	keys := make([]string, 0, len(event.Headers))
	for k := range event.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	headers := make([]kafkago.Header, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(event.Headers[k])})
	}
	return kafkago.Message{
		Key:     event.Key,
		Value:   event.Value,
		Headers: headers,
	}
}
