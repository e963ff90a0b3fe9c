// Package enrichment resolves a queued book request against the catalog
// through a fixed fallback chain and builds the canonical enriched record.
//
// The chain is identifier lookup, then free-text search, then no enrichment.
// Each catalog call yields a catalog.Result; every transport error is collapsed
// to absence at this boundary, so catalog trouble only ever degrades the
// outcome and never fails the message.
package enrichment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/book-request-service/internal/catalog"
	"github.com/helixir/book-request-service/internal/domain"
	"github.com/helixir/book-request-service/internal/normalize"
	"github.com/helixir/book-request-service/internal/observability"
	"github.com/helixir/book-request-service/internal/reconcile"
)

// ErrNilRequest is returned when Resolve is called without a request.
var ErrNilRequest = errors.New("enrichment: nil request")

// Resolver runs the enrichment fallback chain. It holds no per-message state
// and is safe for concurrent use.
type Resolver struct {
	catalog catalog.Catalog
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewResolver creates a Resolver backed by the given catalog.
// The metrics parameter may be nil (metrics recording will be skipped).
func NewResolver(cat catalog.Catalog, logger zerolog.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		catalog: cat,
		logger:  logger.With().Str("component", "enrichment").Logger(),
		metrics: metrics,
	}
}

// Resolve enriches one queued request. The only error is ErrNilRequest;
// catalog failures are logged and fall through to the next step.
func (r *Resolver) Resolve(ctx context.Context, req *domain.QueuedBook) (*domain.EnrichedRecord, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	logger := observability.FromContext(ctx, r.logger)
	if observability.RequestIDFromContext(ctx) == "" {
		logger = observability.WithRequestContext(logger, req.RequestID)
	}
	title := strings.TrimSpace(req.Title)
	author := strings.TrimSpace(req.Author)

	if isbn, ok := normalize.ISBN(req.ISBN); ok {
		if record, found := r.lookup(ctx, logger, isbn).Value(); found {
			return fromIdentifierRecord(req, isbn, record), nil
		}
	}

	if query := catalog.TextQuery(title, author); query != "" {
		if doc, found := r.search(ctx, logger, query).Value(); found {
			return fromSearchDocument(req, doc), nil
		}
	}

	logger.Debug().Msg("no catalog match, storing request unenriched")
	return unenriched(req), nil
}

func (r *Resolver) lookup(ctx context.Context, logger zerolog.Logger, isbn string) catalog.Result[*catalog.IdentifierRecord] {
	start := time.Now()
	res := r.catalog.LookupByISBN(ctx, isbn)
	r.observe(logger, catalog.EndpointBooks, res.Status, res.Err, start)
	return res
}

func (r *Resolver) search(ctx context.Context, logger zerolog.Logger, query string) catalog.Result[*catalog.SearchDocument] {
	start := time.Now()
	res := r.catalog.SearchByText(ctx, query, 0)
	r.observe(logger, catalog.EndpointSearch, res.Status, res.Err, start)
	return res
}

func (r *Resolver) observe(logger zerolog.Logger, endpoint string, status catalog.Status, err error, start time.Time) {
	elapsed := time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordCatalogRequest(endpoint, status.String(), elapsed.Seconds())
	}

	if status == catalog.StatusTransportError {
		logger.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Dur("duration", elapsed).
			Msg("catalog request failed, treating as no match")
		return
	}

	logger.Debug().
		Str("endpoint", endpoint).
		Str("status", status.String()).
		Dur("duration", elapsed).
		Msg("catalog request completed")
}

func fromIdentifierRecord(req *domain.QueuedBook, isbn string, record *catalog.IdentifierRecord) *domain.EnrichedRecord {
	authors := reconcile.Authors(record.Authors)
	if len(authors) == 0 {
		authors = requestAuthors(req)
	}

	return &domain.EnrichedRecord{
		RequestID:      req.RequestID,
		Title:          resolveTitle(record.Title, req.Title),
		Authors:        authors,
		PublishYear:    reconcile.Year(record.PublishDate),
		ISBN:           isbn,
		Outcome:        domain.OutcomeEnrichedByID,
		CatalogPayload: record.Raw,
		SourcePayload:  req.Payload,
	}
}

func fromSearchDocument(req *domain.QueuedBook, doc *catalog.SearchDocument) *domain.EnrichedRecord {
	authors := reconcile.Authors(doc.AuthorName)
	if len(authors) == 0 {
		authors = reconcile.Authors(doc.Authors)
	}
	if len(authors) == 0 {
		authors = requestAuthors(req)
	}

	return &domain.EnrichedRecord{
		RequestID:      req.RequestID,
		Title:          resolveTitle(doc.Title, req.Title),
		Authors:        authors,
		PublishYear:    reconcile.Year(doc.FirstPublishYear, doc.PublishDate),
		ISBN:           reconcile.Identifier(doc.ISBN),
		Outcome:        domain.OutcomeEnrichedBySearch,
		CatalogPayload: doc.Raw,
		SourcePayload:  req.Payload,
	}
}

// unenriched carries the request fields through. The request identifier
// stays in the source payload but is not treated as confirmed, so the record
// is keyed by title and request ID.
func unenriched(req *domain.QueuedBook) *domain.EnrichedRecord {
	return &domain.EnrichedRecord{
		RequestID:     req.RequestID,
		Title:         resolveTitle("", req.Title),
		Authors:       requestAuthors(req),
		Outcome:       domain.OutcomeUnenriched,
		SourcePayload: req.Payload,
	}
}

func resolveTitle(catalogTitle, requestTitle string) string {
	if t := strings.TrimSpace(catalogTitle); t != "" {
		return t
	}
	if t := strings.TrimSpace(requestTitle); t != "" {
		return t
	}
	return domain.UnknownTitle
}

func requestAuthors(req *domain.QueuedBook) []string {
	if a := strings.TrimSpace(req.Author); a != "" {
		return []string{a}
	}
	return []string{}
}
