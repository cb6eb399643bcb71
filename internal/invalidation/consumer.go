package invalidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/labscreen/screenresults/internal/apperrors"
	"github.com/labscreen/screenresults/internal/storage"
)

// ErrInvalidationFailed is returned by Run when an event could not be applied.
var ErrInvalidationFailed = errors.New("invalidation: event not applied")

type (
	// Invalidator reacts to a changed dataset.
	Invalidator interface {
		InvalidateDataset(ctx context.Context, datasetID int64) (storage.EvictionResult, error)
	}

	messageReader interface {
		FetchMessage(ctx context.Context) (kafka.Message, error)
		CommitMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	// Consumer reads dataset events from Kafka and invalidates the cache for each.
	Consumer struct {
		reader      messageReader
		invalidator Invalidator
		cfg         *Config
		logger      *slog.Logger
	}
)

// NewConsumer creates a consumer group reader on cfg.Topic.
func NewConsumer(cfg *Config, invalidator Invalidator, logger *slog.Logger) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.Group,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  time.Second,
	})

	return newConsumer(reader, invalidator, cfg, logger), nil
}

func newConsumer(reader messageReader, invalidator Invalidator, cfg *Config, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		reader:      reader,
		invalidator: invalidator,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "invalidation_consumer")),
	}
}

// Run consumes until ctx is cancelled. Each message is committed once handled; malformed
// messages are logged and skipped. An event that cannot be applied after MaxAttempts stops
// the consumer with ErrInvalidationFailed, leaving it uncommitted.
func (c *Consumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("failed to close kafka reader", slog.Any("error", err))
		}
	}()

	c.logger.Info("invalidation consumer started",
		slog.Any("brokers", c.cfg.Brokers),
		slog.String("topic", c.cfg.Topic),
		slog.String("group", c.cfg.Group),
	)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("invalidation consumer stopping")

				return nil
			}

			return fmt.Errorf("kafka fetch: %w", err)
		}

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			// Commits are per partition offsets: committing anything fetched after msg would
			// acknowledge msg too. Stop here so the group redelivers from msg.
			c.logger.Error("dataset invalidation failed, stopping consumer",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Any("error", err),
			)

			return fmt.Errorf("%w at partition %d offset %d: %w", ErrInvalidationFailed, msg.Partition, msg.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("kafka commit: %w", err)
		}
	}
}

// Close releases the reader of a consumer that will not be Run.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	event, err := DecodeEvent(msg.Value)
	if err != nil {
		c.logger.Warn("skipping malformed invalidation event",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.Any("error", err),
		)

		return nil
	}

	attempts := max(c.cfg.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		res, err := c.invalidator.InvalidateDataset(ctx, event.DatasetID)
		if err == nil {
			c.logger.Info("dataset event applied",
				slog.String("event_id", event.ID.String()),
				slog.Int64("dataset_id", event.DatasetID),
				slog.Int64("evicted_queries", res.Queries),
			)

			return nil
		}

		if !apperrors.IsRetryable(err) || attempt >= attempts {
			return fmt.Errorf("event %s: %w", event.ID, err)
		}

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt) * c.cfg.RetryBackoff):
		}
	}
}
