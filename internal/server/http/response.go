package httpserver

import (
	"github.com/helixir/book-request-service/internal/domain"
)

// Response types for JSON serialization.

type submitResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"message_id"`
	RequestID string `json:"request_id"`
}

type validationErrorResponse struct {
	Errors domain.FieldErrors `json:"errors"`
}

type bookResponse struct {
	PK          string         `json:"pk"`
	Title       string         `json:"title"`
	Authors     []string       `json:"authors"`
	PublishYear *int           `json:"publish_year"`
	ISBN        *string        `json:"isbn"`
	Raw         map[string]any `json:"raw"`
	Enrichment  string         `json:"enrichment,omitempty"`
}

type listBooksResponse struct {
	Items            []bookResponse  `json:"items"`
	LastEvaluatedKey *domain.PageKey `json:"last_evaluated_key,omitempty"`
}

// Converter functions

func domainItemToResponse(item *domain.PersistedItem) bookResponse {
	authors := item.Authors
	if authors == nil {
		authors = []string{}
	}
	return bookResponse{
		PK:          item.PK,
		Title:       item.Title,
		Authors:     authors,
		PublishYear: item.PublishYear,
		ISBN:        item.ISBN,
		Raw:         item.Raw,
		Enrichment:  item.Enrichment.String(),
	}
}
