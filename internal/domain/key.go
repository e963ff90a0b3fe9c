package domain

import (
	"strings"

	"github.com/helixir/book-request-service/internal/normalize"
)

// DeriveKey computes the persistence key of an enriched record.
//
// A record carrying an identifier is keyed by the normalized identifier so
// that requests for the same book converge on one item. Otherwise the key is
// "{title}#{request_id}", which is stable across redelivery of one message.
func DeriveKey(rec *EnrichedRecord) string {
	if isbn, ok := normalize.ISBN(rec.ISBN); ok {
		return isbn
	}

	title := strings.TrimSpace(rec.Title)
	if title == "" {
		title = UnknownTitle
	}
	return title + "#" + rec.RequestID
}
