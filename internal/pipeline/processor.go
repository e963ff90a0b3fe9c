// Package pipeline turns queued book request messages into stored book items.
//
// Each message runs decode, enrichment, key derivation and upsert in order.
// Messages in a batch are independent and run in parallel; a batch fails if
// any message is malformed or cannot be persisted, so that the transport
// redelivers it. Catalog trouble never fails a message.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/helixir/book-request-service/internal/domain"
	"github.com/helixir/book-request-service/internal/normalize"
	"github.com/helixir/book-request-service/internal/observability"
	"github.com/helixir/book-request-service/internal/queue"
	"github.com/helixir/book-request-service/internal/repository"
)

// Failure reasons used as metric labels.
const (
	ReasonMalformed   = "malformed"
	ReasonPersistence = "persistence"
	ReasonEnrichment  = "enrichment"
)

var errNotObject = errors.New("message body is not a JSON object")

// Enricher resolves a queued request into an enriched record.
type Enricher interface {
	Resolve(ctx context.Context, req *domain.QueuedBook) (*domain.EnrichedRecord, error)
}

// Compile-time check that Processor satisfies the consumer's handler interface.
var _ queue.BatchHandler = (*Processor)(nil)

// Processor handles queued book request messages.
type Processor struct {
	enricher Enricher
	store    repository.BookRepository
	workers  int
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewProcessor creates a Processor. workers bounds the messages handled in
// parallel within one batch. The metrics parameter may be nil.
func NewProcessor(enricher Enricher, store repository.BookRepository, workers int, metrics *observability.Metrics, logger zerolog.Logger) *Processor {
	if workers < 1 {
		workers = 1
	}
	return &Processor{
		enricher: enricher,
		store:    store,
		workers:  workers,
		metrics:  metrics,
		logger:   logger.With().Str("component", "processor").Logger(),
	}
}

// HandleBatch processes every message of the batch and returns the joined
// errors of the messages that failed. Messages that succeed stay persisted
// even when the batch fails; the upsert makes their redelivery harmless.
func (p *Processor) HandleBatch(ctx context.Context, batch []queue.Message) error {
	workers := pool.New().WithMaxGoroutines(p.workers).WithErrors()
	for _, msg := range batch {
		workers.Go(func() error {
			return p.HandleMessage(ctx, msg)
		})
	}

	if err := workers.Wait(); err != nil {
		p.logger.Error().Err(err).Int("size", len(batch)).Msg("batch failed")
		return err
	}
	return nil
}

// HandleMessage processes one message. It returns a *domain.MalformedMessageError
// for undecodable bodies and a *domain.PersistenceError when the store write fails.
func (p *Processor) HandleMessage(ctx context.Context, msg queue.Message) error {
	start := time.Now()
	messageID := msg.ID()
	logger := observability.WithMessageContext(p.logger, messageID, msg.Topic, msg.Partition, msg.Offset)
	ctx = observability.WithMessageID(ctx, messageID)

	book, err := Decode(msg)
	if err != nil {
		p.fail(ReasonMalformed, start)
		logger.Error().Err(err).Msg("dropping batch on malformed message")
		return err
	}
	ctx = observability.WithRequestID(ctx, book.RequestID)
	logger = observability.WithBookContext(observability.WithRequestContext(logger, book.RequestID), book.Title, book.ISBN)

	record, err := p.enricher.Resolve(ctx, book)
	if err != nil {
		p.fail(ReasonEnrichment, start)
		return fmt.Errorf("resolve %s: %w", messageID, err)
	}

	item := domain.NewPersistedItem(record)
	p.noteOverwrite(ctx, item)
	if err := p.store.Upsert(ctx, item); err != nil {
		p.fail(ReasonPersistence, start)
		if p.metrics != nil {
			p.metrics.RecordPersistFailed(p.store.Backend())
		}
		logger.Error().Err(err).Str("pk", item.PK).Msg("failed to persist book")

		var persistErr *domain.PersistenceError
		if errors.As(err, &persistErr) {
			return err
		}
		return domain.NewPersistenceError(p.store.Backend(), item.PK, err)
	}

	if p.metrics != nil {
		p.metrics.RecordPersisted(p.store.Backend())
		p.metrics.RecordMessageProcessed(record.Outcome.String(), time.Since(start).Seconds())
	}
	logger.Info().
		Str("pk", item.PK).
		Str("enrichment", record.Outcome.String()).
		Dur("duration", time.Since(start)).
		Msg("book persisted")
	return nil
}

// noteOverwrite logs when the upsert is about to replace a stored item, which
// happens on redelivery and when two requests share an identifier. A changed
// enrichment outcome is logged as a warning. Lookup failures never block the write.
func (p *Processor) noteOverwrite(ctx context.Context, item *domain.PersistedItem) {
	logger := observability.FromContext(ctx, p.logger)

	existing, err := p.store.Get(ctx, item.PK)
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Warn().Err(err).Str("pk", item.PK).Msg("could not check for a stored book")
		return
	}

	event := logger.Info()
	if existing.Enrichment != item.Enrichment {
		event = logger.Warn()
	}
	event.
		Str("pk", item.PK).
		Str("previous_enrichment", existing.Enrichment.String()).
		Str("enrichment", item.Enrichment.String()).
		Msg("overwriting stored book")
}

func (p *Processor) fail(reason string, start time.Time) {
	if p.metrics != nil {
		p.metrics.RecordMessageFailed(reason, time.Since(start).Seconds())
	}
}

// Decode parses a message body into the resolver's view of the request. The
// book fields are read from the "book" object when present, otherwise from
// the top level.
func Decode(msg queue.Message) (*domain.QueuedBook, error) {
	var body map[string]any
	if err := json.Unmarshal(msg.Value, &body); err != nil {
		return nil, domain.NewMalformedMessageError(msg.ID(), err)
	}
	if body == nil {
		return nil, domain.NewMalformedMessageError(msg.ID(), errNotObject)
	}

	fields := body
	if nested, ok := body["book"].(map[string]any); ok {
		fields = nested
	}

	title, _ := normalize.String(fields["title"])
	author, _ := normalize.String(fields["author"])
	isbn, _ := normalize.String(fields["isbn"])

	return &domain.QueuedBook{
		RequestID: requestID(msg, body, fields),
		Title:     title,
		Author:    author,
		ISBN:      isbn,
		Payload:   body,
	}, nil
}

// requestID prefers the body's request_id, then the book's, then the message
// key, then the message position.
func requestID(msg queue.Message, body, fields map[string]any) string {
	if id, ok := normalize.String(body["request_id"]); ok {
		return id
	}
	if id, ok := normalize.String(fields["request_id"]); ok {
		return id
	}
	if len(msg.Key) > 0 {
		return string(msg.Key)
	}
	return msg.Position()
}
