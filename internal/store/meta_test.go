package store

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-sync-keeper/internal/logger"
)

func TestMetaRepository_RoundTrip(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)

	require.NoError(t, storages.Meta.PutMeta(ctx, "contacts.last_sync_time", int64(12345)))

	value, found, err := storages.Meta.GetMetaInt64(ctx, "contacts.last_sync_time")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(12345), value)

	// overwrite
	require.NoError(t, storages.Meta.PutMeta(ctx, "contacts.last_sync_time", int64(99999)))
	value, found, err = storages.Meta.GetMetaInt64(ctx, "contacts.last_sync_time")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(99999), value)

	require.NoError(t, storages.Meta.DeleteMeta(ctx, "contacts.last_sync_time"))
	_, found, err = storages.Meta.GetMetaInt64(ctx, "contacts.last_sync_time")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMetaRepository_MissingKey(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)

	_, found, err := storages.Meta.GetMetaString(ctx, "no-such-key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMetaRepository_StringValues(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)

	require.NoError(t, storages.Meta.PutMeta(ctx, "bookmarks.sync_id", "abcDEF123-_z"))

	value, found, err := storages.Meta.GetMetaString(ctx, "bookmarks.sync_id")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "abcDEF123-_z", value)
}

func TestMetaRepository_PutError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec("INSERT OR REPLACE INTO meta").
		WillReturnError(assert.AnError)

	repo := NewMetaRepository(&DB{DB: mockDB, logger: logger.Nop()})
	err = repo.PutMeta(testCtx(t), "k", "v")
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetaRepository_GetError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectQuery("SELECT value FROM meta").
		WillReturnError(assert.AnError)

	repo := NewMetaRepository(&DB{DB: mockDB, logger: logger.Nop()})
	_, _, err = repo.GetMetaInt64(testCtx(t), "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
