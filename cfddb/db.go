package cfddb

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

const dbFileName = "cfd.db"

//go:embed migrations/*.sql
var migrationFS embed.FS

// DB is the primary datastore for a maker or taker daemon: offers,
// contracts, and their append-only state log (spec §4.5, §6). Grounded
// on channeldb/db.go's Open/Wipe shape; the underlying store is a
// schema-migrated SQL database rather than a bolt key/value file.
type DB struct {
	*sql.DB
	dbPath string
}

// Open opens (creating if necessary) the database at dbPath, applying
// any pending migrations before returning.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	path := filepath.Join(dbPath, dbFileName)

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfdDB := &DB{DB: sqlDB, dbPath: dbPath}
	if err := cfdDB.migrateToLatest(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return cfdDB, nil
}

// migrateToLatest applies every migration newer than the database's
// current schema version, matching channeldb.Open's
// syncVersions(dbVersions) call.
func (d *DB) migrateToLatest() error {
	driver, err := sqlite.WithInstance(d.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}

	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Wipe deletes the database file, for tests that need a clean slate
// between runs (mirrors channeldb.DB.Wipe).
func (d *DB) Wipe() error {
	if err := d.Close(); err != nil {
		return err
	}
	return os.Remove(filepath.Join(d.dbPath, dbFileName))
}
