// Package repository provides the book store: the persistence interface the
// enrichment worker writes through and the listing used by the HTTP API.
//
// # Backends
//
// Two implementations of BookRepository are available:
//
//   - PgBookRepository stores items in the PostgreSQL books table.
//   - BoltBookRepository stores items as JSON documents in an embedded BoltDB file.
//
// Both treat Upsert as a full replacement keyed by the item's pk, so the last
// writer for a key wins and redelivered messages converge on the same item.
//
// # Pagination
//
// List walks items in ascending pk order. A non-nil page key means more items
// may follow; passing its PK back as the start key resumes after it.
//
// # Error Handling
//
// Write failures are returned as *domain.PersistenceError so callers can
// match domain.ErrPersistence. Get reports missing items as *domain.NotFoundError.
package repository

import (
	"github.com/helixir/book-request-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// Backend names reported by BookRepository.Backend.
const (
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
)

// Listing limits applied by List.
const (
	DefaultListLimit = 25
	MaxListLimit     = 100
)

// clampLimit bounds a requested page size to [1, MaxListLimit].
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
