// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

// Package fedb implements the federation database on sqlite.
package fedb

import (
	"context"
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"sampledb.io/sampledb/pkg/component"
	"sampledb.io/sampledb/pkg/componentauth"
	"sampledb.io/sampledb/pkg/federation"
	"sampledb.io/sampledb/pkg/share"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	mon = monkit.Package()

	// Error is the default fedb error class.
	Error = errs.Class("fedb error")
)

// Config configures the federation database.
type Config struct {
	Path string `help:"path of the sqlite database file" default:"sampledb.db"`
}

// DB provides access to all federation database tables.
type DB struct {
	log *zap.Logger
	db  *sql.DB
}

// Open opens the federation database and applies pending migrations.
func Open(ctx context.Context, log *zap.Logger, config Config) (_ *DB, err error) {
	defer mon.Task()(&ctx)(&err)

	db, err := sql.Open("sqlite3", "file:"+config.Path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, Error.Wrap(err)
	}
	// sqlite serializes writers anyway and a single connection keeps
	// :memory: databases working
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, Error.Wrap(errs.Combine(err, db.Close()))
	}

	wrapped := &DB{log: log, db: db}
	if err := wrapped.MigrateToLatest(ctx); err != nil {
		return nil, Error.Wrap(errs.Combine(err, db.Close()))
	}
	return wrapped, nil
}

// MigrateToLatest applies all pending schema migrations.
func (db *DB) MigrateToLatest(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return Error.Wrap(err)
	}
	driver, err := migratesqlite.WithInstance(db.db, &migratesqlite.Config{})
	if err != nil {
		return Error.Wrap(err)
	}
	migration, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := migration.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return Error.Wrap(err)
	}
	db.log.Debug("database schema up to date")
	return nil
}

// Close closes the database.
func (db *DB) Close() error {
	return Error.Wrap(db.db.Close())
}

// Components returns the component database.
func (db *DB) Components() component.DB { return &componentsDB{db: db.db} }

// Auth returns the component authentication database.
func (db *DB) Auth() componentauth.DB { return &authDB{db: db.db} }

// Shares returns the share database.
func (db *DB) Shares() share.DB { return &sharesDB{db: db.db} }

// Entities returns the federated entity database.
func (db *DB) Entities() federation.EntityDB { return &entitiesDB{db: db.db} }

// Users returns the user database.
func (db *DB) Users() federation.UserDB { return &usersDB{db: db.db} }

// Languages returns the language database.
func (db *DB) Languages() federation.LanguageDB { return &languagesDB{db: db.db} }

// Outbox returns the update-hook outbox database.
func (db *DB) Outbox() federation.OutboxDB { return &outboxDB{db: db.db} }

// Images returns the markdown image database.
func (db *DB) Images() federation.MarkdownImageDB { return &imagesDB{db: db.db} }

// Files returns the object file store.
func (db *DB) Files() federation.FileStore { return &filesDB{db: db.db} }

// Objects returns the object existence probe used by the share registry.
func (db *DB) Objects() share.Objects { return &objectsDB{db: db.db} }
