package store

import (
	"context"
	"database/sql"
	"sync"

	"github.com/MKhiriev/go-sync-keeper/internal/logger"
	"github.com/MKhiriev/go-sync-keeper/migrations"
)

// Querier is the subset of database handle methods shared by *sql.DB,
// *sql.Conn and *CoopTransaction. Repository methods run against a Querier
// so the same code works inside and outside a cooperative transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is one writer handle onto the shared database file. The pool is capped
// at a single connection so TEMP tables and exclusive transactions always
// land on the same underlying SQLite connection.
//
// Two DB values share one coopLock: the interactive writer and the sync
// writer. The lock gates transaction acquisition only, never the whole
// transaction, so a long chunked sync write yields the file between chunks.
type DB struct {
	*sql.DB
	coopLock *sync.Mutex
	logger   *logger.Logger
}

func (db *DB) Migrate() error {
	return migrations.Migrate(db.DB)
}
