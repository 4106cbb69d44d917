package store

const (
	upsertSyncedBookmark = `
		INSERT OR REPLACE INTO bookmarks_synced (
			guid,
			server_modified,
			needs_merge,
			kind,
			is_deleted,
			date_added,
			title,
			keyword,
			validity,
			url,
			feed_url,
			site_url
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	insertSyncedTombstone = `
		INSERT OR REPLACE INTO bookmarks_synced (
			guid,
			server_modified,
			needs_merge,
			is_deleted
		) VALUES (?, ?, 1, 1);`

	deleteSyncedStructureForParent = `
		DELETE FROM bookmarks_synced_structure WHERE parent_guid = ?;`

	insertSyncedStructurePrefix = `
		INSERT OR REPLACE INTO bookmarks_synced_structure (
			guid,
			parent_guid,
			position
		) VALUES `

	deleteSyncedBookmark          = `DELETE FROM bookmarks_synced WHERE guid = ?;`
	deleteSyncedStructureForChild = `DELETE FROM bookmarks_synced_structure WHERE guid = ?;`

	bookmarksHaveChanges = `
		SELECT
			EXISTS (SELECT 1 FROM bookmarks_synced WHERE needs_merge = 1)
			OR EXISTS (SELECT 1 FROM bookmarks WHERE sync_change_counter > 0)
			OR EXISTS (SELECT 1 FROM bookmarks_deleted);`

	countLocalRoot = `
		SELECT COUNT(*) FROM bookmarks
		WHERE guid = 'root________' AND parent_id IS NULL;`

	countLocalUserRoots = `
		SELECT COUNT(*) FROM bookmarks b
		JOIN bookmarks p ON p.id = b.parent_id
		WHERE p.guid = 'root________'
		  AND b.guid IN ('menu________', 'toolbar_____', 'unfiled_____', 'mobile______');`

	fetchSyncedRows = `
		SELECT
			v.guid,
			v.server_modified,
			v.needs_merge,
			v.kind,
			v.is_deleted,
			v.date_added,
			v.title,
			v.keyword,
			v.validity,
			v.url,
			v.feed_url,
			v.site_url,
			s.parent_guid,
			s.position
		FROM bookmarks_synced v
		LEFT JOIN bookmarks_synced_structure s ON s.guid = v.guid
		ORDER BY s.parent_guid, s.position;`

	fetchLocalTreeRows = `
		WITH RECURSIVE tree (
			id, guid, parent_guid, position, kind, title, url, keyword,
			date_added, last_modified, sync_change_counter, level
		) AS (
			SELECT
				b.id, b.guid, NULL, b.position, b.kind, b.title, b.url, b.keyword,
				b.date_added, b.last_modified, b.sync_change_counter, 0
			FROM bookmarks b
			WHERE b.guid = 'root________'
			UNION ALL
			SELECT
				b.id, b.guid, t.guid, b.position, b.kind, b.title, b.url, b.keyword,
				b.date_added, b.last_modified, b.sync_change_counter, t.level + 1
			FROM bookmarks b
			JOIN tree t ON b.parent_id = t.id
		)
		SELECT
			id, guid, parent_guid, position, kind, title, url, keyword,
			date_added, last_modified, sync_change_counter, level
		FROM tree
		ORDER BY level, parent_guid, position;`

	fetchLocalBookmarkTombstones = `SELECT guid FROM bookmarks_deleted;`

	upsertLocalBookmarkFromRemote = `
		INSERT INTO bookmarks (
			guid,
			parent_id,
			position,
			kind,
			title,
			url,
			keyword,
			date_added,
			last_modified,
			sync_change_counter
		) VALUES (?, (SELECT id FROM bookmarks WHERE guid = ?), ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (guid) DO UPDATE SET
			parent_id           = excluded.parent_id,
			position            = excluded.position,
			kind                = excluded.kind,
			title               = excluded.title,
			url                 = excluded.url,
			keyword             = excluded.keyword,
			date_added          = excluded.date_added,
			last_modified       = excluded.last_modified,
			sync_change_counter = excluded.sync_change_counter;`

	insertLocalBookmark = `
		INSERT INTO bookmarks (
			guid,
			parent_id,
			position,
			kind,
			title,
			url,
			keyword,
			date_added,
			last_modified,
			sync_change_counter
		) VALUES (
			?,
			(SELECT id FROM bookmarks WHERE guid = ?),
			(SELECT COUNT(*) FROM bookmarks c JOIN bookmarks p ON p.id = c.parent_id WHERE p.guid = ?),
			?, ?, ?, ?, ?, ?, 1
		);`

	localBookmarkSubtree = `
		WITH RECURSIVE subtree (id, guid) AS (
			SELECT id, guid FROM bookmarks WHERE guid = ?
			UNION ALL
			SELECT b.id, b.guid FROM bookmarks b JOIN subtree s ON b.parent_id = s.id
		)
		SELECT guid FROM subtree;`

	deleteLocalBookmark = `DELETE FROM bookmarks WHERE guid = ?;`

	selectBookmarkParentGuid = `
		SELECT p.guid FROM bookmarks b
		JOIN bookmarks p ON p.id = b.parent_id
		WHERE b.guid = ?;`

	syncedBookmarkExists = `
		SELECT EXISTS (
			SELECT 1 FROM bookmarks_synced WHERE guid = ? AND is_deleted = 0
		);`

	insertLocalBookmarkTombstone = `
		INSERT OR REPLACE INTO bookmarks_deleted (guid, date_removed)
		VALUES (?, ?);`

	deleteLocalBookmarkTombstone = `DELETE FROM bookmarks_deleted WHERE guid = ?;`

	bumpBookmarkChangeCounter = `
		UPDATE bookmarks SET sync_change_counter = sync_change_counter + 1
		WHERE guid = ?;`

	clearSyncedNeedsMerge = `UPDATE bookmarks_synced SET needs_merge = 0;`

	createBookmarksOutgoingTable = `
		CREATE TEMP TABLE IF NOT EXISTS temp_bookmarks_outgoing (
			guid           TEXT PRIMARY KEY,
			change_counter INTEGER NOT NULL
		);`

	clearBookmarksOutgoingTable = `DELETE FROM temp_bookmarks_outgoing;`

	stageOutgoingBookmarksPrefix = `
		INSERT OR REPLACE INTO temp_bookmarks_outgoing (guid, change_counter)
		VALUES `

	resetSyncedBookmarks         = `DELETE FROM bookmarks_synced;`
	resetSyncedBookmarkStructure = `DELETE FROM bookmarks_synced_structure;`
	resetBookmarkCounters        = `
		UPDATE bookmarks SET sync_change_counter = MAX(sync_change_counter, 1)
		WHERE guid <> 'root________';`
)
