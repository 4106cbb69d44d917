// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/MKhiriev/go-sync-keeper/internal/config"
	"github.com/MKhiriev/go-sync-keeper/internal/logger"
)

// pragmas applied to every fresh connection. WAL keeps readers unblocked
// during sync writes; the busy timeout covers the window between one writer
// committing and the other re-acquiring the file lock.
var connectionPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// NewWriterPair opens the two writer handles the engine runs on: main for
// interactive local mutations and sync for reconciliation. Both point at the
// same database file and share one cooperative lock. Migrations run once,
// through the main handle.
func NewWriterPair(ctx context.Context, cfg config.DB, log *logger.Logger) (mainDB *DB, syncDB *DB, err error) {
	coopLock := &sync.Mutex{}

	mainDB, err = NewConnectSQLite(ctx, cfg, coopLock, log)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening main writer: %w", err)
	}

	if err = mainDB.Migrate(); err != nil {
		mainDB.Close()
		return nil, nil, fmt.Errorf("migration failed: %w", err)
	}

	syncDB, err = NewConnectSQLite(ctx, cfg, coopLock, log)
	if err != nil {
		mainDB.Close()
		return nil, nil, fmt.Errorf("error opening sync writer: %w", err)
	}

	return mainDB, syncDB, nil
}

func NewConnectSQLite(ctx context.Context, cfg config.DB, coopLock *sync.Mutex, log *logger.Logger) (*DB, error) {
	// db will be in file, unless an in-memory DSN is used in tests
	if err := createLocalDBFileIfNotExists(cfg.DSN); err != nil {
		log.Err(err).Str("func", "NewConnectSQLite").Msg("error creating database file")
		return nil, fmt.Errorf("error creating database file")
	}

	conn, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		log.Err(err).Str("func", "NewConnectSQLite").Msg("error connecting database")
		return nil, fmt.Errorf("error opening connection to DB")
	}

	// one underlying connection per writer, so TEMP tables and BEGIN
	// EXCLUSIVE always hit the same SQLite handle
	conn.SetMaxOpenConns(1)

	// ping database
	err = conn.PingContext(ctx)
	if err != nil {
		log.Err(err).Str("func", "NewConnectSQLite").Msg("error connecting database (ping)")
		return nil, err
	}

	for _, pragma := range connectionPragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			log.Err(err).Str("func", "NewConnectSQLite").Str("pragma", pragma).Msg("error applying pragma")
			return nil, fmt.Errorf("error applying pragma: %w", err)
		}
	}
	log.Debug().Str("func", "NewConnectSQLite").Msg("connected to database successfully")

	// construct a DB struct
	db := &DB{
		DB:       conn,
		coopLock: coopLock,
		logger:   log,
	}

	return db, nil
}

func createLocalDBFileIfNotExists(dbFile string) error {
	if dbFile == ":memory:" || strings.Contains(dbFile, "mode=memory") {
		return nil
	}

	path := dbFile
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// if not found - create
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("error creating DB file: %w", err)
		}
		f.Close()
	}

	// file already exists
	return nil
}
