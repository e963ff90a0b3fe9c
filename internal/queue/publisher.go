package queue

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/book-request-service/internal/config"
	"github.com/helixir/book-request-service/internal/domain"
	"github.com/helixir/book-request-service/internal/observability"
)

// messageWriter is the subset of *kafka.Writer used by the Publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher enqueues validated book requests.
type Publisher struct {
	writer messageWriter
	topic  string
	newID  func() string
	logger zerolog.Logger
}

// NewPublisher creates a publisher writing to cfg.Topic. Messages are
// partitioned by request_id.
func NewPublisher(cfg config.KafkaConfig, logger zerolog.Logger) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.WriteTimeout,
	}
	return newPublisher(writer, cfg.Topic, logger)
}

func newPublisher(writer messageWriter, topic string, logger zerolog.Logger) *Publisher {
	return &Publisher{
		writer: writer,
		topic:  topic,
		newID:  uuid.NewString,
		logger: logger.With().Str("component", "publisher").Logger(),
	}
}

// Enqueue serializes req and writes it to the topic. It returns the message ID
// assigned to the queued message.
func (p *Publisher) Enqueue(ctx context.Context, req *domain.BookRequest) (string, error) {
	if req == nil {
		return "", domain.NewValidationError("request", "request cannot be nil")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %w", domain.ErrEnqueue, err)
	}

	messageID := p.newID()
	msg := kafka.Message{
		Key:   []byte(req.RequestID),
		Value: body,
		Headers: []kafka.Header{
			{Key: HeaderMessageID, Value: []byte(messageID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logger := observability.FromContext(ctx, p.logger)
		if observability.RequestIDFromContext(ctx) == "" {
			logger = observability.WithRequestContext(logger, req.RequestID)
		}
		logger.Error().Err(err).
			Str("topic", p.topic).
			Msg("failed to enqueue book request")
		return "", fmt.Errorf("%w: %w", domain.ErrEnqueue, err)
	}

	p.logger.Debug().
		Str("request_id", req.RequestID).
		Str("message_id", messageID).
		Msg("book request enqueued")

	return messageID, nil
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() error {
	p.logger.Info().Msg("closing publisher")
	return p.writer.Close()
}
