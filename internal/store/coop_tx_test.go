package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-sync-keeper/models"
)

func TestUncheckedTransaction_CommitPersists(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)

	tx, err := storages.Sync.UncheckedTransaction(ctx)
	require.NoError(t, err)

	_, err = tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('k', 'v')`)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	// visible from the other writer
	var value string
	err = storages.Main.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'k'`).Scan(&value)
	require.NoError(t, err)
	assert.Equal(t, "v", value)
}

func TestUncheckedTransaction_RollbackDiscards(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)

	tx, err := storages.Sync.UncheckedTransaction(ctx)
	require.NoError(t, err)

	_, err = tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('k', 'v')`)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	var count int
	err = storages.Main.QueryRowContext(ctx, `SELECT COUNT(*) FROM meta WHERE key = 'k'`).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUncheckedTransaction_MaybeCommitIsNoOp(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)

	tx, err := storages.Sync.UncheckedTransaction(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	_, err = tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('k', 'v')`)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, tx.MaybeCommit(ctx))

	// still uncommitted: the other writer must not see the row
	var count int
	err = storages.Main.QueryRowContext(ctx, `SELECT COUNT(*) FROM meta WHERE key = 'k'`).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTimeChunkedTransaction_CommitsWhenOverBudget(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)

	tx, err := storages.Sync.TimeChunkedTransaction(ctx, time.Millisecond)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	_, err = tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('chunk1', 'v')`)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, tx.MaybeCommit(ctx))

	// the first chunk committed and is visible from the other writer
	var count int
	err = storages.Main.QueryRowContext(ctx, `SELECT COUNT(*) FROM meta WHERE key = 'chunk1'`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// the transaction is still usable for the next chunk
	_, err = tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('chunk2', 'v')`)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	err = storages.Main.QueryRowContext(ctx, `SELECT COUNT(*) FROM meta WHERE key = 'chunk2'`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTimeChunkedTransaction_WithinBudgetKeepsTransaction(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)

	tx, err := storages.Sync.TimeChunkedTransaction(ctx, time.Minute)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	_, err = tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('k', 'v')`)
	require.NoError(t, err)
	require.NoError(t, tx.MaybeCommit(ctx))

	var count int
	err = storages.Main.QueryRowContext(ctx, `SELECT COUNT(*) FROM meta WHERE key = 'k'`).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count, "within budget nothing must commit")
}

func TestMaybeCommit_CancelledContext(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)

	tx, err := storages.Sync.TimeChunkedTransaction(ctx, time.Minute)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	err = tx.MaybeCommit(cancelled)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriterPair_InterleavesBetweenChunks(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)

	tx, err := storages.Sync.TimeChunkedTransaction(ctx, time.Millisecond)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	_, err = tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('sync', '1')`)
	require.NoError(t, err)

	// interactive write queued on the other writer, through the shared lock
	var wg sync.WaitGroup
	wg.Add(1)
	var mainErr error
	go func() {
		defer wg.Done()
		mainTx, err := storages.Main.UncheckedTransaction(ctx)
		if err != nil {
			mainErr = err
			return
		}
		if _, err := mainTx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('main', '1')`); err != nil {
			_ = mainTx.Rollback(ctx)
			mainErr = err
			return
		}
		mainErr = mainTx.Commit(ctx)
	}()

	// commit boundary lets the interactive writer through
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, tx.MaybeCommit(ctx))
	wg.Wait()
	require.NoError(t, mainErr)

	require.NoError(t, tx.Commit(ctx))

	var count int
	err = storages.Main.QueryRowContext(ctx, `SELECT COUNT(*) FROM meta`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestWriterPair_RepositoryWriteQueuesBehindChunkedSync(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)

	tx, err := storages.Sync.TimeChunkedTransaction(ctx, time.Millisecond)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	_, err = tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('sync', '1')`)
	require.NoError(t, err)

	// a user-facing mutation on the main writer blocks until the next chunk
	// boundary instead of spinning against the file lock
	var wg sync.WaitGroup
	wg.Add(1)
	var addErr error
	go func() {
		defer wg.Done()
		addErr = storages.Contacts.AddContact(ctx, models.ContactRecord{
			Guid: "AAAAAAAAAAAA", Name: "Alice",
		})
	}()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, tx.MaybeCommit(ctx))
	wg.Wait()
	require.NoError(t, addErr)

	require.NoError(t, tx.Commit(ctx))

	rec, err := storages.Contacts.GetContact(ctx, "AAAAAAAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Metadata.SyncChangeCounter)
}
