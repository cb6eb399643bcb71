package invalidation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher emits dataset events.
type Publisher struct {
	writer messageWriter
	source string
	now    func() time.Time
	logger *slog.Logger
}

// NewPublisher creates a publisher writing to cfg.Topic. source names the emitting system.
func NewPublisher(cfg *Config, source string, logger *slog.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	return newPublisher(writer, source, logger), nil
}

func newPublisher(writer messageWriter, source string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		writer: writer,
		source: source,
		now:    time.Now,
		logger: logger.With(slog.String("component", "invalidation_publisher")),
	}
}

// DatasetChanged publishes a change of datasetID and returns the sent event.
func (p *Publisher) DatasetChanged(ctx context.Context, datasetID int64) (Event, error) {
	event := NewDatasetChanged(datasetID, p.source, p.now())

	value, err := json.Marshal(event)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   event.Key(),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return Event{}, fmt.Errorf("failed to publish dataset event: %w", err)
	}

	p.logger.Info("dataset event published",
		slog.String("event_id", event.ID.String()),
		slog.Int64("dataset_id", datasetID),
	)

	return event, nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
