// Package cache is the local-storage analogue: a small sqlite key-value
// store holding the last-known document snapshot, read only as a fallback
// when the remote store is unreachable.
package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // Required by the library implementation.
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Cache struct {
	db  *sql.DB
	log *slog.Logger
}

func New(ctx context.Context, dbPath string, log *slog.Logger) (*Cache, error) {
	dbFile, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open DB file: %w", err)
	}

	dbInstance, err := sqlite3.WithInstance(dbFile, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("create DB instance: %w", err)
	}

	srcInstance, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("create source instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcInstance, "sqlite3", dbInstance)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}

		log.InfoContext(ctx, "No migrations to apply",
			"dbPath", dbPath)
	} else {
		log.InfoContext(ctx, "DB is migrated",
			"dbPath", dbPath)
	}

	return &Cache{db: dbFile, log: log}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) Put(ctx context.Context, key string, value []byte) error {
	query := "insert or replace into snapshots (key, value, updated_at) values (?, ?, ?)"

	if _, err := c.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("put snapshot %q: %w", key, err)
	}

	return nil
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	query := "select value from snapshots where key = ?"

	var value []byte
	if err := c.db.QueryRowContext(ctx, query, key).Scan(&value); err != nil {
		return nil, fmt.Errorf("get snapshot %q: %w", key, err)
	}

	return value, nil
}
