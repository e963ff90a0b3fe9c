package repository

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/book-request-service/internal/config"
	"github.com/helixir/book-request-service/internal/database"
)

// Store is the book repository selected by configuration together with the
// resources it owns.
type Store struct {
	Books BookRepository

	// DB is the PostgreSQL pool, nil for the embedded backend.
	DB *database.DB

	closers []func()
}

// OpenStore opens the backend named by cfg.Store.Driver. For PostgreSQL the
// schema is migrated first when cfg.Database.MigrationAutoRun is set.
func OpenStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		store := &Store{Books: NewPgBookRepository(db), DB: db, closers: []func(){db.Close}}

		if cfg.Database.MigrationAutoRun {
			if err := migrate(db, cfg.Database.MigrationPath, logger); err != nil {
				store.Close()
				return nil, err
			}
		}
		return store, nil

	case config.StoreDriverBolt:
		books, err := OpenBoltBookRepository(cfg.Store.BoltPath, cfg.Store.BoltTimeout, logger)
		if err != nil {
			return nil, err
		}
		return &Store{
			Books: books,
			closers: []func(){func() {
				if err := books.Close(); err != nil {
					logger.Error().Err(err).Msg("failed to close bolt store")
				}
			}},
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Close releases the backend in reverse order of acquisition.
func (s *Store) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func migrate(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
