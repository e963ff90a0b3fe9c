package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/book-request-service/internal/domain"
)

// Compile-time interface verification.
var _ BookRepository = (*PgBookRepository)(nil)

// PgBookRepository is a PostgreSQL implementation of BookRepository.
type PgBookRepository struct {
	db DBTX
}

// NewPgBookRepository creates a new PostgreSQL book repository.
func NewPgBookRepository(db DBTX) *PgBookRepository {
	return &PgBookRepository{db: db}
}

// Backend returns BackendPostgres.
func (r *PgBookRepository) Backend() string {
	return BackendPostgres
}

// Upsert inserts the item or overwrites every column of the existing row with the same pk.
func (r *PgBookRepository) Upsert(ctx context.Context, item *domain.PersistedItem) error {
	if err := validateItem(item); err != nil {
		return err
	}

	cols, err := encodeItem(item)
	if err != nil {
		return domain.NewPersistenceError(BackendPostgres, item.PK, err)
	}

	query := `
		INSERT INTO books (
			pk, title, authors, publish_year, isbn, raw, enrichment, catalog
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (pk) DO UPDATE SET
			title = EXCLUDED.title,
			authors = EXCLUDED.authors,
			publish_year = EXCLUDED.publish_year,
			isbn = EXCLUDED.isbn,
			raw = EXCLUDED.raw,
			enrichment = EXCLUDED.enrichment,
			catalog = EXCLUDED.catalog,
			updated_at = NOW()`

	_, err = r.db.Exec(ctx, query,
		item.PK,
		item.Title,
		cols.authors,
		item.PublishYear,
		item.ISBN,
		cols.raw,
		string(item.Enrichment),
		cols.catalog,
	)
	if err != nil {
		return domain.NewPersistenceError(BackendPostgres, item.PK, err)
	}

	return nil
}

// Get retrieves an item by its key.
func (r *PgBookRepository) Get(ctx context.Context, pk string) (*domain.PersistedItem, error) {
	if pk == "" {
		return nil, domain.NewValidationError("pk", "pk is required")
	}

	query := `
		SELECT pk, title, authors, publish_year, isbn, raw, enrichment, catalog
		FROM books
		WHERE pk = $1`

	item, err := scanBook(r.db.QueryRow(ctx, query, pk))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("book", pk)
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}

	return item, nil
}

// List returns a page of items ordered by pk.
func (r *PgBookRepository) List(ctx context.Context, limit int, startKey string) (*BookPage, error) {
	limit = clampLimit(limit)

	// One extra row tells us whether another page exists.
	query := `
		SELECT pk, title, authors, publish_year, isbn, raw, enrichment, catalog
		FROM books
		WHERE pk > $1
		ORDER BY pk
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, startKey, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.PersistedItem, 0, limit)
	for rows.Next() {
		item, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate books: %w", err)
	}

	return paginate(items, limit), nil
}

// paginate trims items to limit and sets the resume key when rows were left over.
func paginate(items []*domain.PersistedItem, limit int) *BookPage {
	page := &BookPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.LastEvaluatedKey = &domain.PageKey{PK: page.Items[limit-1].PK}
	}
	return page
}

// encodedColumns holds the JSONB column values of an item.
type encodedColumns struct {
	authors []byte
	raw     []byte
	catalog []byte
}

func encodeItem(item *domain.PersistedItem) (encodedColumns, error) {
	var cols encodedColumns
	var err error

	authors := item.Authors
	if authors == nil {
		authors = []string{}
	}
	if cols.authors, err = json.Marshal(authors); err != nil {
		return cols, fmt.Errorf("failed to marshal authors: %w", err)
	}

	raw := item.Raw
	if raw == nil {
		raw = map[string]any{}
	}
	if cols.raw, err = json.Marshal(raw); err != nil {
		return cols, fmt.Errorf("failed to marshal raw payload: %w", err)
	}

	if item.Catalog != nil {
		if cols.catalog, err = json.Marshal(item.Catalog); err != nil {
			return cols, fmt.Errorf("failed to marshal catalog payload: %w", err)
		}
	}

	return cols, nil
}

func validateItem(item *domain.PersistedItem) error {
	if item == nil {
		return domain.NewValidationError("item", "item cannot be nil")
	}
	if item.PK == "" {
		return domain.NewValidationError("pk", "pk is required")
	}
	return nil
}

// scanBook scans a single book row from a pgx.Row or pgx.Rows.
func scanBook(row pgx.Row) (*domain.PersistedItem, error) {
	var (
		item        domain.PersistedItem
		authorsJSON []byte
		rawJSON     []byte
		catalogJSON []byte
		enrichment  string
	)

	err := row.Scan(
		&item.PK,
		&item.Title,
		&authorsJSON,
		&item.PublishYear,
		&item.ISBN,
		&rawJSON,
		&enrichment,
		&catalogJSON,
	)
	if err != nil {
		return nil, err
	}

	item.Enrichment = domain.EnrichmentOutcome(enrichment)

	item.Authors = []string{}
	if len(authorsJSON) > 0 {
		if err := json.Unmarshal(authorsJSON, &item.Authors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal authors: %w", err)
		}
	}

	item.Raw = map[string]any{}
	if len(rawJSON) > 0 {
		if err := json.Unmarshal(rawJSON, &item.Raw); err != nil {
			return nil, fmt.Errorf("failed to unmarshal raw payload: %w", err)
		}
	}

	if len(catalogJSON) > 0 {
		if err := json.Unmarshal(catalogJSON, &item.Catalog); err != nil {
			return nil, fmt.Errorf("failed to unmarshal catalog payload: %w", err)
		}
	}

	return &item, nil
}
