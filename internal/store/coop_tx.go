// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MKhiriev/go-sync-keeper/internal/logger"
)

// CoopTransaction is an exclusive write transaction that cooperates with the
// other writer on the same database file. Acquisition goes through the shared
// lock: lock, BEGIN EXCLUSIVE, unlock. Holding the lock only across the BEGIN
// means a writer blocked on the file lock is always blocked behind a
// transaction that is actively committing, never behind one that is parked.
//
// A time-chunked transaction additionally carries a wall-clock budget:
// MaybeCommit commits the work so far once the budget is spent and opens a
// fresh transaction, letting the interactive writer interleave. Callers must
// only invoke MaybeCommit at record boundaries so a chunk never splits one
// record's multi-statement write.
type CoopTransaction struct {
	db       *DB
	conn     *sql.Conn
	started  time.Time
	budget   time.Duration
	chunked  bool
	finished bool
}

// UncheckedTransaction opens a single exclusive transaction with no commit
// budget. Intended for integrity-sensitive writes that must be atomic end to
// end; MaybeCommit on it is a no-op.
func (db *DB) UncheckedTransaction(ctx context.Context) (*CoopTransaction, error) {
	return db.beginCoop(ctx, 0, false)
}

// TimeChunkedTransaction opens an exclusive transaction that commits in
// budget-sized chunks through MaybeCommit.
func (db *DB) TimeChunkedTransaction(ctx context.Context, budget time.Duration) (*CoopTransaction, error) {
	return db.beginCoop(ctx, budget, true)
}

func (db *DB) beginCoop(ctx context.Context, budget time.Duration, chunked bool) (*CoopTransaction, error) {
	log := logger.FromContext(ctx)

	conn, err := db.Conn(ctx)
	if err != nil {
		log.Err(err).Str("func", "DB.beginCoop").Msg("failed to obtain connection")
		return nil, fmt.Errorf("failed to obtain connection: %w", err)
	}

	tx := &CoopTransaction{
		db:      db,
		conn:    conn,
		budget:  budget,
		chunked: chunked,
	}

	if err := tx.begin(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return tx, nil
}

func (tx *CoopTransaction) begin(ctx context.Context) error {
	tx.db.coopLock.Lock()
	defer tx.db.coopLock.Unlock()

	if _, err := tx.conn.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("failed to begin exclusive transaction: %w", err)
	}

	tx.started = time.Now()
	return nil
}

// MaybeCommit commits the current chunk and opens a fresh transaction when
// the budget is spent. On an unchecked transaction or within budget it does
// nothing. A cancelled context surfaces before any commit is attempted.
func (tx *CoopTransaction) MaybeCommit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction interrupted: %w", err)
	}

	if !tx.chunked || time.Since(tx.started) < tx.budget {
		return nil
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("func", "CoopTransaction.MaybeCommit").
		Dur("elapsed", time.Since(tx.started)).
		Msg("commit budget spent, committing chunk")

	if _, err := tx.conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit chunk: %w", err)
	}

	return tx.begin(ctx)
}

// Commit commits the transaction and releases the underlying connection back
// to the pool.
func (tx *CoopTransaction) Commit(ctx context.Context) error {
	if tx.finished {
		return nil
	}
	tx.finished = true

	_, err := tx.conn.ExecContext(ctx, "COMMIT")
	closeErr := tx.conn.Close()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return closeErr
}

// Rollback aborts the transaction unless it already finished. Safe to defer
// alongside Commit.
func (tx *CoopTransaction) Rollback(ctx context.Context) error {
	if tx.finished {
		return nil
	}
	tx.finished = true

	_, err := tx.conn.ExecContext(ctx, "ROLLBACK")
	closeErr := tx.conn.Close()
	if err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return closeErr
}

func (tx *CoopTransaction) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.conn.ExecContext(ctx, query, args...)
}

func (tx *CoopTransaction) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tx.conn.QueryContext(ctx, query, args...)
}

func (tx *CoopTransaction) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.conn.QueryRowContext(ctx, query, args...)
}
