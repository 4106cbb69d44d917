package store

const (
	getPageByURL = `
		SELECT
			id,
			guid,
			url,
			title,
			sync_change_counter,
			sync_status
		FROM places
		WHERE url = ?;`

	getPageByGuid = `
		SELECT
			id,
			guid,
			url,
			title,
			sync_change_counter,
			sync_status
		FROM places
		WHERE guid = ?;`

	insertPage = `
		INSERT INTO places (
			guid,
			url,
			title,
			sync_change_counter,
			sync_status
		) VALUES (?, ?, ?, ?, ?);`

	getVisitsNewestFirst = `
		SELECT visit_type, visit_date
		FROM visits
		WHERE place_id = ?
		ORDER BY visit_date DESC
		LIMIT ?;`

	insertVisit = `
		INSERT OR IGNORE INTO visits (place_id, visit_type, visit_date, is_local)
		VALUES (?, ?, ?, ?);`

	updatePageTitle = `UPDATE places SET title = ? WHERE id = ?;`

	markPageSynced = `
		UPDATE places SET
			guid        = ?,
			sync_status = ?
		WHERE id = ?;`

	bumpPageChangeCounter = `
		UPDATE places SET sync_change_counter = sync_change_counter + 1
		WHERE id = ?;`

	deletePageVisits = `DELETE FROM visits WHERE place_id = ?;`
	deletePage       = `DELETE FROM places WHERE id = ?;`

	insertPlaceTombstone = `
		INSERT OR REPLACE INTO places_tombstones (guid, time_deleted)
		VALUES (?, ?);`

	deletePlaceTombstone = `DELETE FROM places_tombstones WHERE guid = ?;`

	fetchPlaceTombstones = `SELECT guid FROM places_tombstones;`

	createHistoryOutgoingTable = `
		CREATE TEMP TABLE IF NOT EXISTS temp_places_outgoing (
			guid           TEXT PRIMARY KEY,
			change_counter INTEGER NOT NULL
		);`

	clearHistoryOutgoingTable = `DELETE FROM temp_places_outgoing;`

	stageOutgoingPagesPrefix = `
		INSERT OR REPLACE INTO temp_places_outgoing (guid, change_counter)
		VALUES `

	fetchOutgoingPages = `
		SELECT
			id,
			guid,
			url,
			title,
			sync_change_counter,
			sync_status
		FROM places
		WHERE sync_change_counter > 0 OR sync_status <> ?
		LIMIT ?;`

	resetPagesStatus = `
		UPDATE places SET
			sync_status         = ?,
			sync_change_counter = MAX(sync_change_counter, 1);`
)
