package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/config"
	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer publishes alert lifecycle events to the alert topic.
// It implements alert.Publisher. Writes are asynchronous so a slow broker
// never holds a partition's crisis evaluation; delivery failures are logged
// and counted by the completion callback.
type Writer struct {
	writer  *kafkago.Writer
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewWriter creates a producer for the configured alert topic.
func NewWriter(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	w := &Writer{logger: logger, metrics: metrics}
	w.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaAlertTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion:   w.completed,
	}
	return w
}

// PublishAlert enqueues one alert event. Events of a partition share a
// message key, so consumers see them in order.
func (w *Writer) PublishAlert(ctx context.Context, ev domain.AlertEvent) error {
	msg, err := serializeToMessage(ev)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

// Close flushes pending events and closes the producer.
func (w *Writer) Close() error {
	return w.writer.Close()
}

func (w *Writer) completed(msgs []kafkago.Message, err error) {
	if err == nil {
		return
	}
	w.metrics.AlertPublishErrors.Add(float64(len(msgs)))
	w.logger.Error("alert events not delivered", "error", err, "count", len(msgs))
}

// serializeToMessage marshals an alert event into a Kafka message keyed by partition.
func serializeToMessage(ev domain.AlertEvent) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(ev.Alert.Partition),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_kind", Value: []byte(ev.Kind)},
			{Key: "occurred_at", Value: []byte(ev.OccurredAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
