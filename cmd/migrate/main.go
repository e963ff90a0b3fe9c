// Package main provides a CLI tool for the books table migrations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/book-request-service/internal/config"
	"github.com/helixir/book-request-service/internal/database"
	"github.com/helixir/book-request-service/internal/observability"
)

var errNoAction = errors.New("no action specified")

// action is the single migration operation requested on the command line.
type action struct {
	kind  string // up, down, steps, version or force
	steps int
	force int
	path  string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// parseAction reads the flags and checks that exactly one action is named.
func parseAction(args []string, usage io.Writer) (action, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(usage)

	up := fs.Bool("up", false, "Run all pending migrations")
	down := fs.Bool("down", false, "Roll back all migrations")
	steps := fs.Int("steps", 0, "Run N migration steps (positive=up, negative=down)")
	version := fs.Bool("version", false, "Print the current migration version")
	force := fs.Int("force", -1, "Force set migration version (use to recover from failed migrations)")
	path := fs.String("path", "", "Override the migrations directory path")
	if err := fs.Parse(args); err != nil {
		return action{}, err
	}

	var kinds []string
	if *up {
		kinds = append(kinds, "up")
	}
	if *down {
		kinds = append(kinds, "down")
	}
	if *steps != 0 {
		kinds = append(kinds, "steps")
	}
	if *version {
		kinds = append(kinds, "version")
	}
	if *force >= 0 {
		kinds = append(kinds, "force")
	}

	switch len(kinds) {
	case 0:
		fs.Usage()
		fmt.Fprintln(usage, "\nPlease specify one of: -up, -down, -steps N, -version, -force V")
		return action{}, errNoAction
	case 1:
		return action{kind: kinds[0], steps: *steps, force: *force, path: *path}, nil
	default:
		return action{}, fmt.Errorf("specify only one action at a time, got %v", kinds)
	}
}

func run(args []string) error {
	act, err := parseAction(args, os.Stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Driver != config.StoreDriverPostgres {
		return fmt.Errorf("migrations apply to the postgres store, configured driver is %q", cfg.Store.Driver)
	}

	// Console output for the CLI tool.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	})
	logger = logger.With().Str("component", "migrate").Logger()

	migrationDir := cfg.Database.MigrationPath
	if act.path != "" {
		migrationDir = act.path
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := apply(migrator, act); err != nil {
		return err
	}
	printVersion(migrator, logger)
	return nil
}

// apply runs the requested operation. version is a no-op here.
func apply(migrator *database.Migrator, act action) error {
	switch act.kind {
	case "up":
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		if err := migrator.Down(); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	case "steps":
		if err := migrator.Steps(act.steps); err != nil {
			return fmt.Errorf("migrate steps: %w", err)
		}
	case "force":
		if err := migrator.Force(act.force); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
	case "version":
	default:
		return errNoAction
	}
	return nil
}

// printVersion logs the current schema version.
func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
	status, err := migrator.Status()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	if status.Pristine {
		logger.Info().Msg("no migrations applied")
		return
	}
	logger.Info().
		Uint("version", status.Version).
		Bool("dirty", status.Dirty).
		Msg("current migration version")
}
