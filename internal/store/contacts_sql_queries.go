package store

const (
	createContactsStagingTable = `
		CREATE TEMP TABLE IF NOT EXISTS temp_contacts_staging (
			guid            TEXT PRIMARY KEY NOT NULL,
			payload         TEXT,
			server_modified INTEGER NOT NULL DEFAULT 0,
			deleted         INTEGER NOT NULL DEFAULT 0
		);`

	createContactsOutgoingTable = `
		CREATE TEMP TABLE IF NOT EXISTS temp_contacts_outgoing (
			guid           TEXT PRIMARY KEY NOT NULL,
			payload        TEXT NOT NULL,
			change_counter INTEGER NOT NULL
		);`

	clearContactsStagingTable  = `DELETE FROM temp_contacts_staging;`
	clearContactsOutgoingTable = `DELETE FROM temp_contacts_outgoing;`

	stageIncomingContactsPrefix = `
		INSERT OR REPLACE INTO temp_contacts_staging (
			guid,
			payload,
			server_modified,
			deleted
		) VALUES `

	fetchContactStates = `
		SELECT
			s.guid,
			s.payload,
			s.deleted,
			s.server_modified,
			m.payload,
			t.guid IS NOT NULL,
			l.guid IS NOT NULL,
			l.name,
			l.email,
			l.phone,
			l.time_created,
			l.time_last_used,
			l.time_last_modified,
			l.times_used,
			l.sync_change_counter
		FROM temp_contacts_staging s
		LEFT JOIN contacts_mirror m ON m.guid = s.guid
		LEFT JOIN contacts_tombstones t ON t.guid = s.guid
		LEFT JOIN contacts l ON l.guid = s.guid;`

	insertLocalContact = `
		INSERT INTO contacts (
			guid,
			name,
			email,
			phone,
			time_created,
			time_last_used,
			time_last_modified,
			times_used,
			sync_change_counter
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`

	updateLocalContact = `
		UPDATE contacts SET
			name                = ?,
			email               = ?,
			phone               = ?,
			time_created        = ?,
			time_last_used      = ?,
			time_last_modified  = ?,
			times_used          = ?,
			sync_change_counter = ?
		WHERE guid = ?;`

	touchLocalContact = `
		UPDATE contacts SET
			name                = ?,
			email               = ?,
			phone               = ?,
			time_last_modified  = ?,
			sync_change_counter = sync_change_counter + 1
		WHERE guid = ?;`

	changeLocalContactGuid = `
		UPDATE contacts SET
			guid                = ?,
			sync_change_counter = sync_change_counter + 1
		WHERE guid = ?;`

	deleteLocalContact = `DELETE FROM contacts WHERE guid = ?;`

	getLocalContact = `
		SELECT
			guid,
			name,
			email,
			phone,
			time_created,
			time_last_used,
			time_last_modified,
			times_used,
			sync_change_counter
		FROM contacts
		WHERE guid = ?;`

	getAllLocalContacts = `
		SELECT
			guid,
			name,
			email,
			phone,
			time_created,
			time_last_used,
			time_last_modified,
			times_used,
			sync_change_counter
		FROM contacts
		ORDER BY guid;`

	insertContactTombstone = `
		INSERT OR REPLACE INTO contacts_tombstones (guid, time_deleted)
		VALUES (?, ?);`

	deleteContactTombstone = `DELETE FROM contacts_tombstones WHERE guid = ?;`

	contactMirrorExists = `SELECT EXISTS (SELECT 1 FROM contacts_mirror WHERE guid = ?);`

	mirrorStagedContacts = `
		INSERT OR REPLACE INTO contacts_mirror (guid, payload, server_modified)
		SELECT guid, payload, server_modified
		FROM temp_contacts_staging
		WHERE deleted = 0;`

	deleteMirrorOfStagedTombstones = `
		DELETE FROM contacts_mirror
		WHERE guid IN (SELECT guid FROM temp_contacts_staging WHERE deleted = 1);`

	fetchOutgoingContacts = `
		SELECT
			l.guid,
			l.name,
			l.email,
			l.phone,
			l.time_created,
			l.time_last_used,
			l.time_last_modified,
			l.times_used,
			l.sync_change_counter
		FROM contacts l
		LEFT JOIN contacts_mirror m ON m.guid = l.guid
		WHERE l.sync_change_counter > 0 OR m.guid IS NULL;`

	fetchContactTombstones = `SELECT guid FROM contacts_tombstones;`

	stageOutgoingContactsPrefix = `
		INSERT OR REPLACE INTO temp_contacts_outgoing (
			guid,
			payload,
			change_counter
		) VALUES `

	resetContactsMirror   = `DELETE FROM contacts_mirror;`
	resetContactsCounters = `UPDATE contacts SET sync_change_counter = MAX(sync_change_counter, 1);`
)
