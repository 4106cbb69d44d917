package store

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-sync-keeper/models"
)

func TestBookmarks_SeededRootsAreValid(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)

	valid, err := storages.Bookmarks.ValidLocalRoots(ctx)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestBookmarks_ValidLocalRoots_DetectsMissingRoot(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)

	_, err := storages.Main.ExecContext(ctx, `DELETE FROM bookmarks WHERE guid = 'mobile______'`)
	require.NoError(t, err)

	valid, err := storages.Bookmarks.ValidLocalRoots(ctx)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestBookmarks_HasChanges(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)
	repo := storages.Bookmarks

	changed, err := repo.HasChanges(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "fresh database has nothing to merge")

	require.NoError(t, repo.AddBookmark(ctx, models.BookmarkRecord{
		Guid:       "AAAAAAAAAAAA",
		Kind:       models.KindBookmark,
		ParentGuid: models.UnfiledGuid,
		Title:      "a",
		URL:        "https://a.example/",
	}))

	changed, err = repo.HasChanges(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestBookmarks_ReplaceSyncedStructure_WideFolderKeepsOrder(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)
	repo := storages.SyncBookmarks

	// more children than one statement's parameter budget can hold
	children := make([]models.Guid, 600)
	for i := range children {
		children[i] = models.Guid(fmt.Sprintf("child%07d", i))
	}
	require.NoError(t, repo.ReplaceSyncedStructure(ctx, models.MenuGuid, children))

	rows, err := storages.Sync.QueryContext(ctx,
		`SELECT guid, position FROM bookmarks_synced_structure
		 WHERE parent_guid = ? ORDER BY position`, string(models.MenuGuid))
	require.NoError(t, err)
	defer rows.Close()

	i := 0
	for rows.Next() {
		var guid string
		var position int64
		require.NoError(t, rows.Scan(&guid, &position))
		assert.Equal(t, string(children[i]), guid)
		assert.Equal(t, int64(i), position)
		i++
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, len(children), i)
}

func TestBookmarks_StoreSyncedTombstone_DropsStructureRow(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)
	repo := storages.SyncBookmarks

	require.NoError(t, repo.ReplaceSyncedStructure(ctx, models.MenuGuid, []models.Guid{"AAAAAAAAAAAA"}))
	require.NoError(t, repo.StoreSyncedTombstone(ctx, "AAAAAAAAAAAA", 100))

	var count int
	err := storages.Sync.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookmarks_synced_structure WHERE guid = 'AAAAAAAAAAAA'`).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)

	rows, err := repo.FetchSyncedRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsDeleted)
	assert.True(t, rows[0].NeedsMerge)
}

func TestBookmarks_FetchLocalTreeRows_LevelsAndOrder(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)
	repo := storages.Bookmarks

	require.NoError(t, repo.AddBookmark(ctx, models.BookmarkRecord{
		Guid:       "folderAAAAAA",
		Kind:       models.KindFolder,
		ParentGuid: models.MenuGuid,
		Title:      "folder",
	}))
	require.NoError(t, repo.AddBookmark(ctx, models.BookmarkRecord{
		Guid:       "bookmarkAAAA",
		Kind:       models.KindBookmark,
		ParentGuid: "folderAAAAAA",
		Title:      "deep",
		URL:        "https://deep.example/",
	}))

	rows, err := repo.FetchLocalTreeRows(ctx)
	require.NoError(t, err)

	byGuid := map[models.Guid]LocalBookmarkRow{}
	for _, row := range rows {
		byGuid[row.Guid] = row
	}

	assert.Equal(t, int64(0), byGuid[models.RootGuid].Level)
	assert.Equal(t, int64(1), byGuid[models.MenuGuid].Level)
	assert.Equal(t, int64(2), byGuid["folderAAAAAA"].Level)
	assert.Equal(t, int64(3), byGuid["bookmarkAAAA"].Level)

	// every non-root row names its parent, and levels grow by exactly one
	for _, row := range rows {
		if row.Guid == models.RootGuid {
			assert.False(t, row.ParentGuid.Valid)
			continue
		}
		require.True(t, row.ParentGuid.Valid, "non-root %s must have a parent", row.Guid)
		parent := byGuid[models.Guid(row.ParentGuid.String)]
		assert.Equal(t, parent.Level+1, row.Level)
	}
}

func TestBookmarks_DeleteBookmark_SubtreeAndTombstones(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)
	repo := storages.Bookmarks

	require.NoError(t, repo.AddBookmark(ctx, models.BookmarkRecord{
		Guid:       "folderAAAAAA",
		Kind:       models.KindFolder,
		ParentGuid: models.MenuGuid,
		Title:      "folder",
	}))
	require.NoError(t, repo.AddBookmark(ctx, models.BookmarkRecord{
		Guid:       "bookmarkAAAA",
		Kind:       models.KindBookmark,
		ParentGuid: "folderAAAAAA",
		URL:        "https://a.example/",
	}))

	// only the child is known to the server
	require.NoError(t, storages.SyncBookmarks.UpsertSynced(ctx, SyncedBookmarkRow{
		Guid: "bookmarkAAAA",
		Kind: sql.NullInt64{Int64: int64(models.KindBookmark), Valid: true},
	}))

	require.NoError(t, repo.DeleteBookmark(ctx, "folderAAAAAA"))

	var count int
	err := storages.Main.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookmarks WHERE guid IN ('folderAAAAAA', 'bookmarkAAAA')`).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)

	tombstones, err := repo.FetchLocalTombstones(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Guid{"bookmarkAAAA"}, tombstones,
		"only server-known items leave tombstones")
}

func TestBookmarks_FinishSynced_SubtractsStagedSnapshot(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)
	repo := storages.Bookmarks

	require.NoError(t, repo.AddBookmark(ctx, models.BookmarkRecord{
		Guid:       "AAAAAAAAAAAA",
		Kind:       models.KindBookmark,
		ParentGuid: models.UnfiledGuid,
		URL:        "https://a.example/",
	}))
	require.NoError(t, repo.InsertLocalTombstone(ctx, "BBBBBBBBBBBB", models.Now()))

	require.NoError(t, repo.StageOutgoing(ctx, []OutgoingSnapshotRow{
		{Guid: "AAAAAAAAAAAA", ChangeCounter: 1},
	}))

	// an edit lands between staging and the server ack
	require.NoError(t, repo.FlagForUpload(ctx, "AAAAAAAAAAAA"))

	require.NoError(t, repo.FinishSynced(ctx,
		[]models.Guid{"AAAAAAAAAAAA"},
		[]models.Guid{"BBBBBBBBBBBB"},
	))

	var counter int64
	err := storages.Main.QueryRowContext(ctx,
		`SELECT sync_change_counter FROM bookmarks WHERE guid = 'AAAAAAAAAAAA'`).Scan(&counter)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter, "only the staged count is settled")

	tombstones, err := repo.FetchLocalTombstones(ctx)
	require.NoError(t, err)
	assert.Empty(t, tombstones)
}

func TestBookmarks_Reset(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)
	repo := storages.Bookmarks

	require.NoError(t, storages.SyncBookmarks.UpsertSynced(ctx, SyncedBookmarkRow{Guid: "AAAAAAAAAAAA"}))
	require.NoError(t, repo.AddBookmark(ctx, models.BookmarkRecord{
		Guid:       "BBBBBBBBBBBB",
		Kind:       models.KindBookmark,
		ParentGuid: models.UnfiledGuid,
		URL:        "https://b.example/",
	}))
	require.NoError(t, repo.StageOutgoing(ctx, []OutgoingSnapshotRow{
		{Guid: "BBBBBBBBBBBB", ChangeCounter: 1},
	}))
	require.NoError(t, repo.FinishSynced(ctx, []models.Guid{"BBBBBBBBBBBB"}, nil))

	require.NoError(t, repo.Reset(ctx))

	rows, err := storages.SyncBookmarks.FetchSyncedRows(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	var counter int64
	err = storages.Main.QueryRowContext(ctx,
		`SELECT sync_change_counter FROM bookmarks WHERE guid = 'BBBBBBBBBBBB'`).Scan(&counter)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter)
}
