package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/book-request-service/internal/config"
	"github.com/helixir/book-request-service/internal/observability"
)

// BatchHandler processes one batch of messages. A non-nil error means the
// batch must be redelivered.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batch []Message) error
}

// messageReader is the subset of *kafka.Reader used by the Consumer.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads batches from the request topic and hands them to a BatchHandler.
type Consumer struct {
	newReader func() messageReader
	reader    messageReader
	handler   BatchHandler
	metrics   *observability.Metrics
	logger    zerolog.Logger

	batchSize    int
	batchTimeout time.Duration
	retryInitial time.Duration
	retryMax     time.Duration
}

// NewConsumer creates a consumer group member for cfg.Topic.
func NewConsumer(cfg config.KafkaConfig, handler BatchHandler, metrics *observability.Metrics, logger zerolog.Logger) *Consumer {
	newReader := func() messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  cfg.MaxWait,
			// Offsets are committed explicitly after each successful batch.
			CommitInterval: 0,
		})
	}
	return newConsumer(cfg, newReader, handler, metrics, logger)
}

func newConsumer(cfg config.KafkaConfig, newReader func() messageReader, handler BatchHandler, metrics *observability.Metrics, logger zerolog.Logger) *Consumer {
	return &Consumer{
		newReader:    newReader,
		handler:      handler,
		metrics:      metrics,
		logger:       logger.With().Str("component", "consumer").Str("topic", cfg.Topic).Logger(),
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		retryInitial: cfg.RetryInitialInterval,
		retryMax:     cfg.RetryMaxInterval,
	}
}

// Run consumes batches until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().
		Int("batch_size", c.batchSize).
		Dur("batch_timeout", c.batchTimeout).
		Msg("starting consumer")

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = c.retryInitial
	schedule.MaxInterval = c.retryMax

	c.reader = c.newReader()
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to close reader")
		}
	}()

	for {
		if ctx.Err() != nil {
			c.logger.Info().Msg("consumer stopped via context cancellation")
			return ctx.Err()
		}

		err := c.consumeBatch(ctx)
		if err == nil {
			schedule.Reset()
			continue
		}
		if ctx.Err() != nil {
			c.logger.Info().Msg("consumer stopped via context cancellation")
			return ctx.Err()
		}

		sleep := schedule.NextBackOff()
		if sleep == backoff.Stop {
			sleep = c.retryMax
		}
		c.logger.Error().Err(err).Dur("retry_in", sleep).Msg("batch not committed, rejoining group for redelivery")

		c.resetReader()
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("consumer stopped via context cancellation")
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// consumeBatch fetches, handles and commits one batch. An empty fetch window
// is not an error.
func (c *Consumer) consumeBatch(ctx context.Context) error {
	batch, err := c.fetchBatch(ctx)
	if err != nil {
		return fmt.Errorf("fetch batch: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	messages := make([]Message, len(batch))
	for i, km := range batch {
		messages[i] = fromKafka(km)
	}

	last := batch[len(batch)-1]
	logger := c.logger.With().
		Int("size", len(batch)).
		Int("partition", last.Partition).
		Int64("last_offset", last.Offset).
		Logger()

	if err := c.handler.HandleBatch(ctx, messages); err != nil {
		if c.metrics != nil {
			c.metrics.RecordBatchFailed(len(batch))
		}
		return fmt.Errorf("handle batch: %w", err)
	}

	if err := c.reader.CommitMessages(ctx, batch...); err != nil {
		if c.metrics != nil {
			c.metrics.RecordBatchFailed(len(batch))
		}
		return fmt.Errorf("commit batch: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordBatchProcessed(len(batch))
	}
	logger.Debug().Msg("batch committed")
	return nil
}

// fetchBatch collects up to batchSize messages, returning early when the
// batch window elapses.
func (c *Consumer) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	windowCtx, cancel := context.WithTimeout(ctx, c.batchTimeout)
	defer cancel()

	batch := make([]kafka.Message, 0, c.batchSize)
	for len(batch) < c.batchSize {
		msg, err := c.reader.FetchMessage(windowCtx)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, err
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

// resetReader replaces the reader so the group resumes from the last committed offset.
func (c *Consumer) resetReader() {
	if err := c.reader.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to close reader")
	}
	c.reader = c.newReader()
}
