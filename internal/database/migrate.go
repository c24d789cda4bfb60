package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/cloo-solutions/kbcore/internal/logger"
)

// DefaultMigrationsSource is relative to the working directory of kbcored.
const DefaultMigrationsSource = "file://migrations"

// NewMigrator opens a golang-migrate instance over databaseURL. The returned
// func closes both the source and the database handle.
func NewMigrator(databaseURL, source string) (*migrate.Migrate, func(), error) {
	if source == "" {
		source = DefaultMigrationsSource
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database for migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return m, func() { _, _ = m.Close() }, nil
}

// Migrate applies every pending migration from source.
func Migrate(databaseURL, source string, log *zap.Logger) error {
	m, closeFn, err := NewMigrator(databaseURL, source)
	if err != nil {
		return err
	}
	defer closeFn()

	return MigrateUp(m, logger.OrNop(log))
}

// MigrateUp runs m.Up and refuses to continue from a dirty version.
func MigrateUp(m *migrate.Migrate, log *zap.Logger) error {
	err := m.Up()
	noChange := errors.Is(err, migrate.ErrNoChange)
	if err != nil && !noChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Info("no migrations applied")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("migration version %d is dirty, fix it by hand before retrying", version)
	}

	if noChange {
		log.Info("database schema is up to date", zap.Uint("version", version))
	} else {
		log.Info("migrations applied", zap.Uint("version", version))
	}
	return nil
}
