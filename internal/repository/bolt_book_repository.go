package repository

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/helixir/book-request-service/internal/domain"
)

const booksBucket = "books"

// Compile-time interface verification.
var _ BookRepository = (*BoltBookRepository)(nil)

// BoltBookRepository stores items as JSON documents in a BoltDB file, keyed by pk.
type BoltBookRepository struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// OpenBoltBookRepository opens or creates the BoltDB file at path and ensures
// the books bucket exists. timeout bounds the wait for the file lock.
func OpenBoltBookRepository(path string, timeout time.Duration, logger zerolog.Logger) (*BoltBookRepository, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(booksBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create books bucket: %w", err)
	}

	logger = logger.With().Str("component", "bolt_store").Logger()
	logger.Info().Str("path", path).Msg("bolt book store opened")

	return &BoltBookRepository{db: db, logger: logger}, nil
}

// Close releases the database file lock.
func (r *BoltBookRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return err
	}
	r.logger.Info().Msg("bolt book store closed")
	return nil
}

// Backend returns BackendBolt.
func (r *BoltBookRepository) Backend() string {
	return BackendBolt
}

// Upsert writes the item, replacing any stored document under the same pk.
func (r *BoltBookRepository) Upsert(ctx context.Context, item *domain.PersistedItem) error {
	if err := validateItem(item); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.NewPersistenceError(BackendBolt, item.PK, err)
	}

	data, err := json.Marshal(normalizedCopy(item))
	if err != nil {
		return domain.NewPersistenceError(BackendBolt, item.PK, fmt.Errorf("failed to marshal item: %w", err))
	}

	err = r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(booksBucket)).Put([]byte(item.PK), data)
	})
	if err != nil {
		return domain.NewPersistenceError(BackendBolt, item.PK, err)
	}
	return nil
}

// Get retrieves an item by its key.
func (r *BoltBookRepository) Get(ctx context.Context, pk string) (*domain.PersistedItem, error) {
	if pk == "" {
		return nil, domain.NewValidationError("pk", "pk is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var item *domain.PersistedItem
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(booksBucket)).Get([]byte(pk))
		if v == nil {
			return domain.NewNotFoundError("book", pk)
		}
		decoded, err := decodeItem(v)
		if err != nil {
			return err
		}
		item = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// List returns a page of items in ascending key order.
func (r *BoltBookRepository) List(ctx context.Context, limit int, startKey string) (*BookPage, error) {
	limit = clampLimit(limit)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := make([]*domain.PersistedItem, 0, limit)
	err := r.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(booksBucket)).Cursor()

		var k, v []byte
		if startKey == "" {
			k, v = c.First()
		} else {
			k, v = c.Seek([]byte(startKey))
			if k != nil && bytes.Equal(k, []byte(startKey)) {
				k, v = c.Next()
			}
		}

		for ; k != nil && len(items) <= limit; k, v = c.Next() {
			item, err := decodeItem(v)
			if err != nil {
				return fmt.Errorf("failed to decode %q: %w", k, err)
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}

	return paginate(items, limit), nil
}

// normalizedCopy fills the empty collections the stored form always carries.
func normalizedCopy(item *domain.PersistedItem) domain.PersistedItem {
	out := *item
	if out.Authors == nil {
		out.Authors = []string{}
	}
	if out.Raw == nil {
		out.Raw = map[string]any{}
	}
	return out
}

func decodeItem(data []byte) (*domain.PersistedItem, error) {
	var item domain.PersistedItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	if item.Authors == nil {
		item.Authors = []string{}
	}
	if item.Raw == nil {
		item.Raw = map[string]any{}
	}
	return &item, nil
}
