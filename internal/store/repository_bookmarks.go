// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-sync-keeper/internal/logger"
	"github.com/MKhiriev/go-sync-keeper/models"
)

// SyncedBookmarkRow is one remote item as stored by the incoming applicator.
// Parent and position come from the structure table and are absent for items
// the server never mentioned in any folder.
type SyncedBookmarkRow struct {
	Guid           models.Guid
	ServerModified models.ServerTimestamp
	NeedsMerge     bool
	Kind           sql.NullInt64
	IsDeleted      bool
	DateAdded      models.Timestamp
	Title          sql.NullString
	Keyword        sql.NullString
	Validity       models.BookmarkValidity
	URL            sql.NullString
	FeedURL        sql.NullString
	SiteURL        sql.NullString
	ParentGuid     sql.NullString
	Position       sql.NullInt64
}

// LocalBookmarkRow is one local item together with its depth in the tree,
// produced by a single recursive scan from the root.
type LocalBookmarkRow struct {
	ID            int64
	Guid          models.Guid
	ParentGuid    sql.NullString
	Position      int64
	Kind          models.BookmarkKind
	Title         string
	URL           sql.NullString
	Keyword       sql.NullString
	DateAdded     models.Timestamp
	LastModified  models.Timestamp
	ChangeCounter int64
	Level         int64
}

type bookmarksRepository struct {
	db     *DB
	q      Querier
	logger *logger.Logger
}

func NewBookmarksRepository(db *DB, logger *logger.Logger) BookmarksRepository {
	return &bookmarksRepository{
		db:     db,
		q:      db.DB,
		logger: logger,
	}
}

func (r *bookmarksRepository) WithTx(tx *CoopTransaction) BookmarksRepository {
	return &bookmarksRepository{db: r.db, q: tx, logger: r.logger}
}

// UpsertSynced stores one incoming item in the synced-items table with
// needs_merge set.
func (r *bookmarksRepository) UpsertSynced(ctx context.Context, row SyncedBookmarkRow) error {
	log := logger.FromContext(ctx)

	_, err := r.q.ExecContext(ctx, upsertSyncedBookmark,
		string(row.Guid),
		int64(row.ServerModified),
		row.NeedsMerge,
		row.Kind,
		row.IsDeleted,
		int64(row.DateAdded),
		row.Title,
		row.Keyword,
		int64(row.Validity),
		row.URL,
		row.FeedURL,
		row.SiteURL,
	)
	if err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.UpsertSynced").
			Str("guid", row.Guid.String()).
			Msg("failed to upsert synced bookmark")
		return fmt.Errorf("failed to upsert synced bookmark (guid=%s): %w", row.Guid, err)
	}

	return nil
}

// ReplaceSyncedStructure rewrites a folder's child list. Position is the
// index in the server-provided order; the chunking keeps order intact for
// folders wider than one statement's parameter budget.
func (r *bookmarksRepository) ReplaceSyncedStructure(ctx context.Context, parentGuid models.Guid, children []models.Guid) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, deleteSyncedStructureForParent, string(parentGuid)); err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.ReplaceSyncedStructure").
			Str("parent_guid", parentGuid.String()).
			Msg("failed to clear synced structure")
		return fmt.Errorf("failed to clear synced structure (parent=%s): %w", parentGuid, err)
	}

	const varsPerItem = 3
	return eachChunk(children, varsPerItem, func(chunk []models.Guid, offset int) error {
		args := make([]any, 0, len(chunk)*varsPerItem)
		for i, child := range chunk {
			args = append(args, string(child), string(parentGuid), int64(offset+i))
		}

		query := insertSyncedStructurePrefix + repeatPlaceholders(len(chunk), varsPerItem) + ";"
		if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
			log.Err(err).
				Str("func", "bookmarksRepository.ReplaceSyncedStructure").
				Str("parent_guid", parentGuid.String()).
				Int("chunk_len", len(chunk)).
				Msg("failed to insert synced structure chunk")
			return fmt.Errorf("failed to insert synced structure (parent=%s): %w", parentGuid, err)
		}
		return nil
	})
}

// StoreSyncedTombstone records a remote deletion.
func (r *bookmarksRepository) StoreSyncedTombstone(ctx context.Context, guid models.Guid, serverModified models.ServerTimestamp) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, insertSyncedTombstone, string(guid), int64(serverModified)); err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.StoreSyncedTombstone").
			Str("guid", guid.String()).
			Msg("failed to store synced tombstone")
		return fmt.Errorf("failed to store synced tombstone (guid=%s): %w", guid, err)
	}

	if _, err := r.q.ExecContext(ctx, deleteSyncedStructureForChild, string(guid)); err != nil {
		return fmt.Errorf("failed to drop structure of tombstoned item (guid=%s): %w", guid, err)
	}

	return nil
}

// HasChanges reports whether either side has anything to merge. A clean
// no-change sync skips tree construction entirely.
func (r *bookmarksRepository) HasChanges(ctx context.Context) (bool, error) {
	log := logger.FromContext(ctx)

	var changed bool
	if err := r.q.QueryRowContext(ctx, bookmarksHaveChanges).Scan(&changed); err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.HasChanges").
			Msg("failed to check for bookmark changes")
		return false, fmt.Errorf("failed to check for bookmark changes: %w", err)
	}

	return changed, nil
}

// ValidLocalRoots verifies the well-known root structure: exactly one places
// root with no parent and all four user content roots directly under it.
func (r *bookmarksRepository) ValidLocalRoots(ctx context.Context) (bool, error) {
	log := logger.FromContext(ctx)

	var rootCount int
	if err := r.q.QueryRowContext(ctx, countLocalRoot).Scan(&rootCount); err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.ValidLocalRoots").
			Msg("failed to count local root")
		return false, fmt.Errorf("failed to count local root: %w", err)
	}

	var userRootCount int
	if err := r.q.QueryRowContext(ctx, countLocalUserRoots).Scan(&userRootCount); err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.ValidLocalRoots").
			Msg("failed to count user content roots")
		return false, fmt.Errorf("failed to count user content roots: %w", err)
	}

	return rootCount == 1 && userRootCount == len(models.UserContentRoots), nil
}

// FetchSyncedRows returns every remote item joined with its structure row.
func (r *bookmarksRepository) FetchSyncedRows(ctx context.Context) ([]SyncedBookmarkRow, error) {
	log := logger.FromContext(ctx)

	rows, err := r.q.QueryContext(ctx, fetchSyncedRows)
	if err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.FetchSyncedRows").
			Msg("failed to query synced bookmarks")
		return nil, fmt.Errorf("failed to query synced bookmarks: %w", err)
	}
	defer rows.Close()

	var items []SyncedBookmarkRow
	for rows.Next() {
		var row SyncedBookmarkRow
		scanErr := rows.Scan(
			&row.Guid,
			&row.ServerModified,
			&row.NeedsMerge,
			&row.Kind,
			&row.IsDeleted,
			&row.DateAdded,
			&row.Title,
			&row.Keyword,
			&row.Validity,
			&row.URL,
			&row.FeedURL,
			&row.SiteURL,
			&row.ParentGuid,
			&row.Position,
		)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan synced bookmark row: %w", scanErr)
		}
		items = append(items, row)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failure during synced bookmark iteration: %w", rowsErr)
	}

	return items, nil
}

// FetchLocalTreeRows walks the local tree from the root in one recursive
// query, returning rows ordered by depth then position.
func (r *bookmarksRepository) FetchLocalTreeRows(ctx context.Context) ([]LocalBookmarkRow, error) {
	log := logger.FromContext(ctx)

	rows, err := r.q.QueryContext(ctx, fetchLocalTreeRows)
	if err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.FetchLocalTreeRows").
			Msg("failed to query local bookmark tree")
		return nil, fmt.Errorf("failed to query local bookmark tree: %w", err)
	}
	defer rows.Close()

	var items []LocalBookmarkRow
	for rows.Next() {
		var row LocalBookmarkRow
		scanErr := rows.Scan(
			&row.ID,
			&row.Guid,
			&row.ParentGuid,
			&row.Position,
			&row.Kind,
			&row.Title,
			&row.URL,
			&row.Keyword,
			&row.DateAdded,
			&row.LastModified,
			&row.ChangeCounter,
			&row.Level,
		)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan local bookmark row: %w", scanErr)
		}
		items = append(items, row)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failure during local bookmark iteration: %w", rowsErr)
	}

	return items, nil
}

func (r *bookmarksRepository) FetchLocalTombstones(ctx context.Context) ([]models.Guid, error) {
	log := logger.FromContext(ctx)

	rows, err := r.q.QueryContext(ctx, fetchLocalBookmarkTombstones)
	if err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.FetchLocalTombstones").
			Msg("failed to query local bookmark tombstones")
		return nil, fmt.Errorf("failed to query local bookmark tombstones: %w", err)
	}
	defer rows.Close()

	var guids []models.Guid
	for rows.Next() {
		var guid models.Guid
		if scanErr := rows.Scan(&guid); scanErr != nil {
			return nil, fmt.Errorf("failed to scan local bookmark tombstone: %w", scanErr)
		}
		guids = append(guids, guid)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failure during local bookmark tombstone iteration: %w", rowsErr)
	}

	return guids, nil
}

// ApplyRemoteItem writes the winning remote version of an item into the
// local tree at the given parent and position. Counter zero: this state is
// what the server has.
func (r *bookmarksRepository) ApplyRemoteItem(ctx context.Context, item models.BookmarkRecord, parentGuid models.Guid, position int64, counter int64) error {
	log := logger.FromContext(ctx)

	var url, keyword any
	if item.URL != "" {
		url = item.URL
	}
	if item.Keyword != "" {
		keyword = item.Keyword
	}

	_, err := r.q.ExecContext(ctx, upsertLocalBookmarkFromRemote,
		string(item.Guid),
		string(parentGuid),
		position,
		int64(item.Kind),
		item.Title,
		url,
		keyword,
		int64(item.DateAdded),
		int64(models.Now()),
		counter,
	)
	if err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.ApplyRemoteItem").
			Str("guid", item.Guid.String()).
			Str("parent_guid", parentGuid.String()).
			Msg("failed to apply remote bookmark")
		return fmt.Errorf("failed to apply remote bookmark (guid=%s): %w", item.Guid, err)
	}

	return nil
}

// SubtreeGuids returns guid and every descendant guid of the item.
func (r *bookmarksRepository) SubtreeGuids(ctx context.Context, guid models.Guid) ([]models.Guid, error) {
	log := logger.FromContext(ctx)

	rows, err := r.q.QueryContext(ctx, localBookmarkSubtree, string(guid))
	if err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.SubtreeGuids").
			Str("guid", guid.String()).
			Msg("failed to query bookmark subtree")
		return nil, fmt.Errorf("failed to query bookmark subtree (guid=%s): %w", guid, err)
	}
	defer rows.Close()

	var guids []models.Guid
	for rows.Next() {
		var g models.Guid
		if scanErr := rows.Scan(&g); scanErr != nil {
			return nil, fmt.Errorf("failed to scan subtree row: %w", scanErr)
		}
		guids = append(guids, g)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failure during subtree iteration: %w", rowsErr)
	}

	return guids, nil
}

func (r *bookmarksRepository) DeleteLocalBookmark(ctx context.Context, guid models.Guid) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, deleteLocalBookmark, string(guid)); err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.DeleteLocalBookmark").
			Str("guid", guid.String()).
			Msg("failed to delete local bookmark")
		return fmt.Errorf("failed to delete local bookmark (guid=%s): %w", guid, err)
	}

	return nil
}

func (r *bookmarksRepository) InsertLocalTombstone(ctx context.Context, guid models.Guid, when models.Timestamp) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, insertLocalBookmarkTombstone, string(guid), int64(when)); err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.InsertLocalTombstone").
			Str("guid", guid.String()).
			Msg("failed to insert local bookmark tombstone")
		return fmt.Errorf("failed to insert local bookmark tombstone (guid=%s): %w", guid, err)
	}

	return nil
}

func (r *bookmarksRepository) RemoveLocalTombstone(ctx context.Context, guid models.Guid) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, deleteLocalBookmarkTombstone, string(guid)); err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.RemoveLocalTombstone").
			Str("guid", guid.String()).
			Msg("failed to delete local bookmark tombstone")
		return fmt.Errorf("failed to delete local bookmark tombstone (guid=%s): %w", guid, err)
	}

	return nil
}

// FlagForUpload counts a merge-induced change so the item uploads on the
// next outgoing pass (repaired items, reparented children).
func (r *bookmarksRepository) FlagForUpload(ctx context.Context, guid models.Guid) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, bumpBookmarkChangeCounter, string(guid)); err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.FlagForUpload").
			Str("guid", guid.String()).
			Msg("failed to flag bookmark for upload")
		return fmt.Errorf("failed to flag bookmark for upload (guid=%s): %w", guid, err)
	}

	return nil
}

// DeleteSynced forgets a remote item (after its deletion was applied or its
// local replacement was decided).
func (r *bookmarksRepository) DeleteSynced(ctx context.Context, guid models.Guid) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, deleteSyncedBookmark, string(guid)); err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.DeleteSynced").
			Str("guid", guid.String()).
			Msg("failed to delete synced bookmark")
		return fmt.Errorf("failed to delete synced bookmark (guid=%s): %w", guid, err)
	}

	if _, err := r.q.ExecContext(ctx, deleteSyncedStructureForChild, string(guid)); err != nil {
		return fmt.Errorf("failed to delete synced structure row (guid=%s): %w", guid, err)
	}

	return nil
}

// ClearNeedsMerge marks the whole synced table as merged.
func (r *bookmarksRepository) ClearNeedsMerge(ctx context.Context) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, clearSyncedNeedsMerge); err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.ClearNeedsMerge").
			Msg("failed to clear needs-merge flags")
		return fmt.Errorf("failed to clear needs-merge flags: %w", err)
	}

	return nil
}

// StageOutgoing snapshots the change counters of an upload batch. The TEMP
// table lands on the writer's single pinned connection, so the later
// FinishSynced on the same writer sees it.
func (r *bookmarksRepository) StageOutgoing(ctx context.Context, rows []OutgoingSnapshotRow) error {
	log := logger.FromContext(ctx)

	for _, stmt := range []string{createBookmarksOutgoingTable, clearBookmarksOutgoingTable} {
		if _, err := r.q.ExecContext(ctx, stmt); err != nil {
			log.Err(err).
				Str("func", "bookmarksRepository.StageOutgoing").
				Msg("failed to prepare outgoing bookmark staging")
			return fmt.Errorf("failed to prepare outgoing bookmark staging: %w", err)
		}
	}

	const varsPerItem = 2
	return eachChunk(rows, varsPerItem, func(chunk []OutgoingSnapshotRow, _ int) error {
		args := make([]any, 0, len(chunk)*varsPerItem)
		for _, row := range chunk {
			args = append(args, string(row.Guid), row.ChangeCounter)
		}

		query := stageOutgoingBookmarksPrefix + repeatPlaceholders(len(chunk), varsPerItem) + ";"
		if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
			log.Err(err).
				Str("func", "bookmarksRepository.StageOutgoing").
				Int("chunk_len", len(chunk)).
				Msg("failed to stage outgoing bookmarks")
			return fmt.Errorf("failed to stage outgoing bookmarks: %w", err)
		}
		return nil
	})
}

// FinishSynced acknowledges uploaded items and tombstones. Counters drop by
// the staged snapshot, never below zero, so edits racing the upload survive.
func (r *bookmarksRepository) FinishSynced(ctx context.Context, itemGuids, tombstoneGuids []models.Guid) error {
	log := logger.FromContext(ctx)

	// the snapshot table may not exist when nothing was staged this session
	if _, err := r.q.ExecContext(ctx, createBookmarksOutgoingTable); err != nil {
		return fmt.Errorf("failed to prepare outgoing bookmark staging: %w", err)
	}

	err := eachChunk(itemGuids, 1, func(chunk []models.Guid, _ int) error {
		guidStrs := make([]string, len(chunk))
		for i, g := range chunk {
			guidStrs[i] = string(g)
		}

		query, args, err := sq.Update("bookmarks").
			Set("sync_change_counter", sq.Expr(
				`MAX(0, sync_change_counter - COALESCE((
					SELECT change_counter FROM temp_bookmarks_outgoing o
					WHERE o.guid = bookmarks.guid
				), 0))`)).
			Where(sq.Eq{"guid": guidStrs}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build bookmark finalize query: %w", err)
		}
		if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
			log.Err(err).
				Str("func", "bookmarksRepository.FinishSynced").
				Msg("failed to settle uploaded bookmarks")
			return fmt.Errorf("failed to settle uploaded bookmarks: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return eachChunk(tombstoneGuids, 1, func(chunk []models.Guid, _ int) error {
		guidStrs := make([]string, len(chunk))
		for i, g := range chunk {
			guidStrs[i] = string(g)
		}

		// only guids that actually name tombstones; the rest were items
		query, args, err := sq.Select("guid").
			From("bookmarks_deleted").
			Where(sq.Eq{"guid": guidStrs}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build bookmark tombstone lookup query: %w", err)
		}
		rows, err := r.q.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to look up uploaded bookmark tombstones: %w", err)
		}
		var acked []string
		for rows.Next() {
			var g string
			if err := rows.Scan(&g); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan uploaded bookmark tombstone: %w", err)
			}
			acked = append(acked, g)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("failed to read uploaded bookmark tombstones: %w", err)
		}
		rows.Close()
		if len(acked) == 0 {
			return nil
		}

		// the server deleted these, so the mirror forgets them too
		for _, table := range []string{"bookmarks_synced_structure", "bookmarks_synced", "bookmarks_deleted"} {
			query, args, err := sq.Delete(table).
				Where(sq.Eq{"guid": acked}).
				ToSql()
			if err != nil {
				return fmt.Errorf("failed to build bookmark tombstone finalize query: %w", err)
			}
			if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
				log.Err(err).
					Str("func", "bookmarksRepository.FinishSynced").
					Str("table", table).
					Msg("failed to clear uploaded bookmark tombstones")
				return fmt.Errorf("failed to clear uploaded bookmark tombstones: %w", err)
			}
		}
		return nil
	})
}

// Reset drops all remote knowledge; every non-root item reuploads.
func (r *bookmarksRepository) Reset(ctx context.Context) error {
	log := logger.FromContext(ctx)

	statements := []string{
		resetSyncedBookmarks,
		resetSyncedBookmarkStructure,
		resetBookmarkCounters,
	}
	for _, stmt := range statements {
		if _, err := r.q.ExecContext(ctx, stmt); err != nil {
			log.Err(err).
				Str("func", "bookmarksRepository.Reset").
				Msg("failed to reset bookmark sync state")
			return fmt.Errorf("failed to reset bookmark sync state: %w", err)
		}
	}

	return nil
}

// AddBookmark appends a user-created item to the end of its parent folder.
// Runs through the cooperative lock so it queues fairly behind a chunked sync.
func (r *bookmarksRepository) AddBookmark(ctx context.Context, item models.BookmarkRecord) error {
	log := logger.FromContext(ctx)

	var url, keyword any
	if item.URL != "" {
		url = item.URL
	}
	if item.Keyword != "" {
		keyword = item.Keyword
	}

	now := models.Now()
	dateAdded := item.DateAdded
	if dateAdded == 0 {
		dateAdded = now
	}

	tx, err := r.db.UncheckedTransaction(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.ExecContext(ctx, insertLocalBookmark,
		string(item.Guid),
		string(item.ParentGuid),
		string(item.ParentGuid),
		int64(item.Kind),
		item.Title,
		url,
		keyword,
		int64(dateAdded),
		int64(now),
	)
	if err != nil {
		log.Err(err).
			Str("func", "bookmarksRepository.AddBookmark").
			Str("guid", item.Guid.String()).
			Str("parent_guid", item.ParentGuid.String()).
			Msg("failed to insert bookmark")
		return fmt.Errorf("failed to insert bookmark (guid=%s): %w", item.Guid, err)
	}

	// the parent's child list changed, so it reuploads too
	if _, err := tx.ExecContext(ctx, bumpBookmarkChangeCounter, string(item.ParentGuid)); err != nil {
		return fmt.Errorf("failed to flag parent of new bookmark (guid=%s): %w", item.Guid, err)
	}

	return tx.Commit(ctx)
}

// DeleteBookmark removes an item and its whole subtree. Every removed node
// the server knows about gets a tombstone; the parent is flagged so its
// repositioned child list uploads.
func (r *bookmarksRepository) DeleteBookmark(ctx context.Context, guid models.Guid) error {
	tx, err := r.db.UncheckedTransaction(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	txRepo := r.WithTx(tx).(*bookmarksRepository)

	guids, err := txRepo.SubtreeGuids(ctx, guid)
	if err != nil {
		return err
	}

	var parentGuid models.Guid
	err = tx.QueryRowContext(ctx, selectBookmarkParentGuid, string(guid)).Scan(&parentGuid)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to look up parent of bookmark (guid=%s): %w", guid, err)
	}

	now := models.Now()
	for i := len(guids) - 1; i >= 0; i-- {
		g := guids[i]

		var known bool
		if err := tx.QueryRowContext(ctx, syncedBookmarkExists, string(g)).Scan(&known); err != nil {
			return fmt.Errorf("failed to check synced existence (guid=%s): %w", g, err)
		}

		if err := txRepo.DeleteLocalBookmark(ctx, g); err != nil {
			return err
		}
		if known {
			if err := txRepo.InsertLocalTombstone(ctx, g, now); err != nil {
				return err
			}
		}
	}

	if parentGuid != "" {
		if err := txRepo.FlagForUpload(ctx, parentGuid); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
