package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"marketstats.shikanime.studio/internal/config"
	dbpgx "marketstats.shikanime.studio/internal/database/pgx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Migrator struct {
	pg *pgxpool.Pool
}

func NewMigrator(pg *pgxpool.Pool) (*Migrator, error) {
	if pg == nil {
		return nil, fmt.Errorf("nil pgx pool")
	}
	return &Migrator{pg: pg}, nil
}

func NewMigratorForConfig(ctx context.Context, cfg *config.Config) (*Migrator, error) {
	pg, err := dbpgx.NewClientForConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewMigrator(pg)
}

func (mg *Migrator) migrate() (*migrate.Migrate, error) {
	if mg.pg == nil {
		return nil, fmt.Errorf("migrator not initialized")
	}
	driver, err := pgx.WithInstance(sql.OpenDB(stdlib.GetPoolConnector(mg.pg)), &pgx.Config{})
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	return migrate.NewWithInstance("iofs", src, "pgx", driver)
}

// Up applies every pending migration.
func (mg *Migrator) Up() error {
	m, err := mg.migrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up failed: %w", err)
	}
	mg.logVersion(m)
	return nil
}

// Down reverts every applied migration.
func (mg *Migrator) Down() error {
	m, err := mg.migrate()
	if err != nil {
		return err
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down failed: %w", err)
	}
	mg.logVersion(m)
	return nil
}

func (mg *Migrator) logVersion(m *migrate.Migrate) {
	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		slog.Info("Database schema is empty")
	case err != nil:
		slog.Warn("Failed to read schema version", "error", err)
	default:
		slog.Info("Database schema migrated", "version", version, "dirty", dirty)
	}
}

func (mg *Migrator) Close() {
	mg.pg.Close()
}
