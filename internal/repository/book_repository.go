package repository

import (
	"context"

	"github.com/helixir/book-request-service/internal/domain"
)

// BookPage is one page of a book listing.
type BookPage struct {
	Items []*domain.PersistedItem
	// LastEvaluatedKey is set when more items may follow this page.
	LastEvaluatedKey *domain.PageKey
}

// BookRepository defines the interface for book persistence operations.
type BookRepository interface {
	// Upsert writes item under item.PK, replacing any existing item with that key.
	Upsert(ctx context.Context, item *domain.PersistedItem) error

	// Get retrieves an item by its key.
	// Returns domain.ErrNotFound if the item does not exist.
	Get(ctx context.Context, pk string) (*domain.PersistedItem, error)

	// List returns up to limit items with a key greater than startKey,
	// in ascending key order. An empty startKey starts from the beginning.
	List(ctx context.Context, limit int, startKey string) (*BookPage, error)

	// Backend names the storage engine, used to label metrics.
	Backend() string
}
