// Package domain defines the core types shared by the book request ingestion API,
// the enrichment worker and the book store.
package domain

import (
	"time"
)

// UnknownTitle is persisted when neither the catalog nor the request supplies a title.
const UnknownTitle = "unknown"

// BookDetails is the normalized book sub-object of a request.
type BookDetails struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	ISBN   string `json:"isbn,omitempty"`
}

// BookRequest is a validated acquisition request. It is created once by the
// request validator, serialized into the queue message body and never mutated.
type BookRequest struct {
	RequestID   string      `json:"request_id"`
	RequestedAt time.Time   `json:"requested_at"`
	Book        BookDetails `json:"book"`
	RequestedBy string      `json:"requested_by,omitempty"`
	Priority    *int        `json:"priority,omitempty"`
	Source      string      `json:"source,omitempty"`

	// Raw is the original payload with the normalized book, requested_by,
	// priority and source overlaid. Unknown fields pass through untouched.
	Raw map[string]any `json:"raw"`
}

// EnrichmentOutcome is the terminal state of the enrichment fallback chain.
type EnrichmentOutcome string

const (
	// OutcomeEnrichedByID means the identifier lookup returned a record.
	OutcomeEnrichedByID EnrichmentOutcome = "enriched_by_id"
	// OutcomeEnrichedBySearch means the free-text search returned a document.
	OutcomeEnrichedBySearch EnrichmentOutcome = "enriched_by_search"
	// OutcomeUnenriched means the request fields were carried through unchanged.
	OutcomeUnenriched EnrichmentOutcome = "unenriched"
)

// String returns the string representation of the outcome.
func (o EnrichmentOutcome) String() string {
	return string(o)
}

// QueuedBook is the consumer-side view of a queue message: the book fields
// the resolver works from plus the message body kept for traceability.
type QueuedBook struct {
	RequestID string
	Title     string
	Author    string
	ISBN      string

	// Payload is the decoded message body.
	Payload map[string]any
}

// EnrichedRecord is the canonical record produced for one processed message.
// It is derived fresh on every delivery attempt.
type EnrichedRecord struct {
	RequestID   string
	Title       string
	Authors     []string
	PublishYear *int
	ISBN        string
	Outcome     EnrichmentOutcome

	// CatalogPayload is the catalog record or search document that produced
	// the enrichment, nil when unenriched.
	CatalogPayload map[string]any

	// SourcePayload is the original queued request.
	SourcePayload map[string]any
}

// PersistedItem is the stored projection of an EnrichedRecord plus its key.
type PersistedItem struct {
	PK          string            `json:"pk"`
	Title       string            `json:"title"`
	Authors     []string          `json:"authors"`
	PublishYear *int              `json:"publish_year"`
	ISBN        *string           `json:"isbn"`
	Raw         map[string]any    `json:"raw"`
	Enrichment  EnrichmentOutcome `json:"enrichment,omitempty"`
	Catalog     map[string]any    `json:"catalog,omitempty"`
}

// NewPersistedItem projects an enriched record into its stored form.
func NewPersistedItem(rec *EnrichedRecord) *PersistedItem {
	authors := rec.Authors
	if authors == nil {
		authors = []string{}
	}

	item := &PersistedItem{
		PK:          DeriveKey(rec),
		Title:       rec.Title,
		Authors:     authors,
		PublishYear: rec.PublishYear,
		Raw:         rec.SourcePayload,
		Enrichment:  rec.Outcome,
		Catalog:     rec.CatalogPayload,
	}
	if rec.ISBN != "" {
		isbn := rec.ISBN
		item.ISBN = &isbn
	}
	if item.Raw == nil {
		item.Raw = map[string]any{}
	}
	return item
}

// PageKey identifies the position after which a book listing resumes.
type PageKey struct {
	PK string `json:"pk"`
}
