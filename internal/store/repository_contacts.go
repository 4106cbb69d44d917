// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-sync-keeper/internal/logger"
	"github.com/MKhiriev/go-sync-keeper/models"
)

// ContactStateRow is one joined row of incoming staging against mirror,
// tombstones and the local table. The service layer turns it into a merge
// state; the repository only reports what exists where.
type ContactStateRow struct {
	Guid            models.Guid
	Payload         sql.NullString
	Deleted         bool
	ServerModified  models.ServerTimestamp
	MirrorPayload   sql.NullString
	TombstoneExists bool
	Local           *models.ContactRecord
}

// OutgoingContactRow is one staged upload: the serialized payload plus the
// change-counter snapshot taken at staging time. Finalize subtracts exactly
// this snapshot so mutations racing the upload survive.
type OutgoingContactRow struct {
	Guid          models.Guid
	Payload       string
	ChangeCounter int64
}

type contactsRepository struct {
	db     *DB
	q      Querier
	logger *logger.Logger
}

func NewContactsRepository(db *DB, logger *logger.Logger) ContactsRepository {
	return &contactsRepository{
		db:     db,
		q:      db.DB,
		logger: logger,
	}
}

func (r *contactsRepository) WithTx(tx *CoopTransaction) ContactsRepository {
	return &contactsRepository{db: r.db, q: tx, logger: r.logger}
}

// CreateSyncTempTables creates (or clears) the per-session staging tables.
// TEMP tables are per-connection; the sync writer is capped at one
// connection so every later statement sees them.
func (r *contactsRepository) CreateSyncTempTables(ctx context.Context) error {
	log := logger.FromContext(ctx)

	statements := []string{
		createContactsStagingTable,
		createContactsOutgoingTable,
		clearContactsStagingTable,
		clearContactsOutgoingTable,
	}
	for _, stmt := range statements {
		if _, err := r.q.ExecContext(ctx, stmt); err != nil {
			log.Err(err).
				Str("func", "contactsRepository.CreateSyncTempTables").
				Msg("failed to prepare staging tables")
			return fmt.Errorf("failed to prepare staging tables: %w", err)
		}
	}

	return nil
}

// StageIncoming upserts a pull's envelopes into incoming staging, chunked
// under the statement parameter limit.
func (r *contactsRepository) StageIncoming(ctx context.Context, envelopes []models.Envelope) error {
	log := logger.FromContext(ctx)

	const varsPerItem = 4
	return eachChunk(envelopes, varsPerItem, func(chunk []models.Envelope, _ int) error {
		args := make([]any, 0, len(chunk)*varsPerItem)
		for _, env := range chunk {
			var payload any
			if !env.IsTombstone() {
				payload = string(env.Payload)
			}
			args = append(args, string(env.Guid), payload, int64(env.ServerModified), env.Deleted)
		}

		query := stageIncomingContactsPrefix + repeatPlaceholders(len(chunk), varsPerItem) + ";"
		if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
			log.Err(err).
				Str("func", "contactsRepository.StageIncoming").
				Int("chunk_len", len(chunk)).
				Msg("failed to stage incoming contacts")
			return fmt.Errorf("failed to stage incoming contacts: %w", err)
		}
		return nil
	})
}

// FetchIncomingStates reads every staged guid joined against mirror, local
// and tombstone tables.
func (r *contactsRepository) FetchIncomingStates(ctx context.Context) ([]ContactStateRow, error) {
	log := logger.FromContext(ctx)

	rows, err := r.q.QueryContext(ctx, fetchContactStates)
	if err != nil {
		log.Err(err).
			Str("func", "contactsRepository.FetchIncomingStates").
			Msg("failed to query incoming contact states")
		return nil, fmt.Errorf("failed to query incoming contact states: %w", err)
	}
	defer rows.Close()

	var states []ContactStateRow
	for rows.Next() {
		var (
			state       ContactStateRow
			localExists bool
			name        sql.NullString
			email       sql.NullString
			phone       sql.NullString
			created     sql.NullInt64
			lastUsed    sql.NullInt64
			modified    sql.NullInt64
			timesUsed   sql.NullInt64
			counter     sql.NullInt64
		)

		scanErr := rows.Scan(
			&state.Guid,
			&state.Payload,
			&state.Deleted,
			&state.ServerModified,
			&state.MirrorPayload,
			&state.TombstoneExists,
			&localExists,
			&name,
			&email,
			&phone,
			&created,
			&lastUsed,
			&modified,
			&timesUsed,
			&counter,
		)
		if scanErr != nil {
			log.Err(scanErr).
				Str("func", "contactsRepository.FetchIncomingStates").
				Msg("failed to scan incoming contact state row")
			return nil, fmt.Errorf("failed to scan incoming contact state row: %w", scanErr)
		}

		if localExists {
			state.Local = &models.ContactRecord{
				Guid:  state.Guid,
				Name:  name.String,
				Email: email.String,
				Phone: phone.String,
				Metadata: models.RecordMetadata{
					TimeCreated:       models.Timestamp(created.Int64),
					TimeLastUsed:      models.Timestamp(lastUsed.Int64),
					TimeLastModified:  models.Timestamp(modified.Int64),
					TimesUsed:         timesUsed.Int64,
					SyncChangeCounter: counter.Int64,
				},
			}
		}

		states = append(states, state)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		log.Err(rowsErr).
			Str("func", "contactsRepository.FetchIncomingStates").
			Msg("failure during incoming contact state iteration")
		return nil, fmt.Errorf("failure during incoming contact state iteration: %w", rowsErr)
	}

	return states, nil
}

// InsertLocal writes a record with the exact metadata and counter it carries.
func (r *contactsRepository) InsertLocal(ctx context.Context, rec models.ContactRecord) error {
	log := logger.FromContext(ctx)

	_, err := r.q.ExecContext(ctx, insertLocalContact,
		string(rec.Guid),
		rec.Name,
		rec.Email,
		rec.Phone,
		int64(rec.Metadata.TimeCreated),
		int64(rec.Metadata.TimeLastUsed),
		int64(rec.Metadata.TimeLastModified),
		rec.Metadata.TimesUsed,
		rec.Metadata.SyncChangeCounter,
	)
	if err != nil {
		log.Err(err).
			Str("func", "contactsRepository.InsertLocal").
			Str("guid", rec.Guid.String()).
			Msg("failed to insert local contact")
		return fmt.Errorf("failed to insert local contact (guid=%s): %w", rec.Guid, err)
	}

	return nil
}

// UpdateLocal overwrites a record including its counter. Used by the apply
// phase, which decides counters itself; user edits go through UpdateContact.
func (r *contactsRepository) UpdateLocal(ctx context.Context, rec models.ContactRecord) error {
	log := logger.FromContext(ctx)

	_, err := r.q.ExecContext(ctx, updateLocalContact,
		rec.Name,
		rec.Email,
		rec.Phone,
		int64(rec.Metadata.TimeCreated),
		int64(rec.Metadata.TimeLastUsed),
		int64(rec.Metadata.TimeLastModified),
		rec.Metadata.TimesUsed,
		rec.Metadata.SyncChangeCounter,
		string(rec.Guid),
	)
	if err != nil {
		log.Err(err).
			Str("func", "contactsRepository.UpdateLocal").
			Str("guid", rec.Guid.String()).
			Msg("failed to update local contact")
		return fmt.Errorf("failed to update local contact (guid=%s): %w", rec.Guid, err)
	}

	return nil
}

// ChangeGuid renames a local record to the incoming guid after a dupe match.
// The rename counts as a local change so the record uploads under its new
// identity.
func (r *contactsRepository) ChangeGuid(ctx context.Context, oldGuid, newGuid models.Guid) error {
	log := logger.FromContext(ctx)

	_, err := r.q.ExecContext(ctx, changeLocalContactGuid, string(newGuid), string(oldGuid))
	if err != nil {
		log.Err(err).
			Str("func", "contactsRepository.ChangeGuid").
			Str("old_guid", oldGuid.String()).
			Str("new_guid", newGuid.String()).
			Msg("failed to change contact guid")
		return fmt.Errorf("failed to change contact guid (%s -> %s): %w", oldGuid, newGuid, err)
	}

	return nil
}

func (r *contactsRepository) RemoveLocal(ctx context.Context, guid models.Guid) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, deleteLocalContact, string(guid)); err != nil {
		log.Err(err).
			Str("func", "contactsRepository.RemoveLocal").
			Str("guid", guid.String()).
			Msg("failed to delete local contact")
		return fmt.Errorf("failed to delete local contact (guid=%s): %w", guid, err)
	}

	return nil
}

func (r *contactsRepository) InsertTombstone(ctx context.Context, guid models.Guid, when models.Timestamp) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, insertContactTombstone, string(guid), int64(when)); err != nil {
		log.Err(err).
			Str("func", "contactsRepository.InsertTombstone").
			Str("guid", guid.String()).
			Msg("failed to insert contact tombstone")
		return fmt.Errorf("failed to insert contact tombstone (guid=%s): %w", guid, err)
	}

	return nil
}

func (r *contactsRepository) RemoveTombstone(ctx context.Context, guid models.Guid) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, deleteContactTombstone, string(guid)); err != nil {
		log.Err(err).
			Str("func", "contactsRepository.RemoveTombstone").
			Str("guid", guid.String()).
			Msg("failed to delete contact tombstone")
		return fmt.Errorf("failed to delete contact tombstone (guid=%s): %w", guid, err)
	}

	return nil
}

// MirrorStaged promotes the incoming staging area into the mirror: staged
// records overwrite their mirror rows, staged tombstones delete theirs.
func (r *contactsRepository) MirrorStaged(ctx context.Context) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, mirrorStagedContacts); err != nil {
		log.Err(err).
			Str("func", "contactsRepository.MirrorStaged").
			Msg("failed to copy staged contacts into mirror")
		return fmt.Errorf("failed to copy staged contacts into mirror: %w", err)
	}

	if _, err := r.q.ExecContext(ctx, deleteMirrorOfStagedTombstones); err != nil {
		log.Err(err).
			Str("func", "contactsRepository.MirrorStaged").
			Msg("failed to drop mirror rows of staged tombstones")
		return fmt.Errorf("failed to drop mirror rows of staged tombstones: %w", err)
	}

	return nil
}

// FetchOutgoing returns local records that need uploading (changed, or never
// mirrored) and all pending tombstone guids.
func (r *contactsRepository) FetchOutgoing(ctx context.Context) ([]models.ContactRecord, []models.Guid, error) {
	log := logger.FromContext(ctx)

	rows, err := r.q.QueryContext(ctx, fetchOutgoingContacts)
	if err != nil {
		log.Err(err).
			Str("func", "contactsRepository.FetchOutgoing").
			Msg("failed to query outgoing contacts")
		return nil, nil, fmt.Errorf("failed to query outgoing contacts: %w", err)
	}
	defer rows.Close()

	var records []models.ContactRecord
	for rows.Next() {
		var rec models.ContactRecord
		scanErr := rows.Scan(
			&rec.Guid,
			&rec.Name,
			&rec.Email,
			&rec.Phone,
			&rec.Metadata.TimeCreated,
			&rec.Metadata.TimeLastUsed,
			&rec.Metadata.TimeLastModified,
			&rec.Metadata.TimesUsed,
			&rec.Metadata.SyncChangeCounter,
		)
		if scanErr != nil {
			log.Err(scanErr).
				Str("func", "contactsRepository.FetchOutgoing").
				Msg("failed to scan outgoing contact row")
			return nil, nil, fmt.Errorf("failed to scan outgoing contact row: %w", scanErr)
		}
		records = append(records, rec)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, nil, fmt.Errorf("failure during outgoing contact iteration: %w", rowsErr)
	}

	tombstones, err := r.fetchTombstoneGuids(ctx)
	if err != nil {
		return nil, nil, err
	}

	return records, tombstones, nil
}

func (r *contactsRepository) fetchTombstoneGuids(ctx context.Context) ([]models.Guid, error) {
	log := logger.FromContext(ctx)

	rows, err := r.q.QueryContext(ctx, fetchContactTombstones)
	if err != nil {
		log.Err(err).
			Str("func", "contactsRepository.fetchTombstoneGuids").
			Msg("failed to query contact tombstones")
		return nil, fmt.Errorf("failed to query contact tombstones: %w", err)
	}
	defer rows.Close()

	var guids []models.Guid
	for rows.Next() {
		var guid models.Guid
		if scanErr := rows.Scan(&guid); scanErr != nil {
			return nil, fmt.Errorf("failed to scan contact tombstone row: %w", scanErr)
		}
		guids = append(guids, guid)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failure during contact tombstone iteration: %w", rowsErr)
	}

	return guids, nil
}

// StageOutgoing records the upload batch together with per-record counter
// snapshots.
func (r *contactsRepository) StageOutgoing(ctx context.Context, items []OutgoingContactRow) error {
	log := logger.FromContext(ctx)

	const varsPerItem = 3
	return eachChunk(items, varsPerItem, func(chunk []OutgoingContactRow, _ int) error {
		args := make([]any, 0, len(chunk)*varsPerItem)
		for _, item := range chunk {
			args = append(args, string(item.Guid), item.Payload, item.ChangeCounter)
		}

		query := stageOutgoingContactsPrefix + repeatPlaceholders(len(chunk), varsPerItem) + ";"
		if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
			log.Err(err).
				Str("func", "contactsRepository.StageOutgoing").
				Int("chunk_len", len(chunk)).
				Msg("failed to stage outgoing contacts")
			return fmt.Errorf("failed to stage outgoing contacts: %w", err)
		}
		return nil
	})
}

// FinishSyncedItems acknowledges uploaded guids: live counters drop by the
// staged snapshot (never below zero), uploaded payloads become the new
// mirror, pushed tombstones disappear.
func (r *contactsRepository) FinishSyncedItems(ctx context.Context, guids []models.Guid, serverModified models.ServerTimestamp) error {
	log := logger.FromContext(ctx)

	return eachChunk(guids, 1, func(chunk []models.Guid, _ int) error {
		guidStrs := make([]string, len(chunk))
		for i, g := range chunk {
			guidStrs[i] = string(g)
		}

		// COALESCE: an acked guid with no staging row leaves its counter alone
		counterQuery, counterArgs, err := sq.Update("contacts").
			Set("sync_change_counter", sq.Expr(
				`MAX(0, sync_change_counter - COALESCE((
					SELECT change_counter FROM temp_contacts_outgoing o
					WHERE o.guid = contacts.guid
				), 0))`)).
			Where(sq.Eq{"guid": guidStrs}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build counter finalize query: %w", err)
		}
		if _, err := r.q.ExecContext(ctx, counterQuery, counterArgs...); err != nil {
			log.Err(err).
				Str("func", "contactsRepository.FinishSyncedItems").
				Msg("failed to settle contact change counters")
			return fmt.Errorf("failed to settle contact change counters: %w", err)
		}

		mirrorQuery, mirrorArgs, err := sq.Insert("contacts_mirror").
			Options("OR REPLACE").
			Columns("guid", "payload", "server_modified").
			Select(sq.Select("guid", "payload").
				Column(sq.Expr("?", int64(serverModified))).
				From("temp_contacts_outgoing").
				Where(sq.Eq{"guid": guidStrs})).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build mirror finalize query: %w", err)
		}
		if _, err := r.q.ExecContext(ctx, mirrorQuery, mirrorArgs...); err != nil {
			log.Err(err).
				Str("func", "contactsRepository.FinishSyncedItems").
				Msg("failed to mirror uploaded contacts")
			return fmt.Errorf("failed to mirror uploaded contacts: %w", err)
		}

		tombQuery, tombArgs, err := sq.Delete("contacts_tombstones").
			Where(sq.Eq{"guid": guidStrs}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build tombstone finalize query: %w", err)
		}
		if _, err := r.q.ExecContext(ctx, tombQuery, tombArgs...); err != nil {
			log.Err(err).
				Str("func", "contactsRepository.FinishSyncedItems").
				Msg("failed to clear uploaded contact tombstones")
			return fmt.Errorf("failed to clear uploaded contact tombstones: %w", err)
		}

		return nil
	})
}

// Reset drops all server knowledge so the next sync is a full exchange.
// Every local record becomes eligible for upload again.
func (r *contactsRepository) Reset(ctx context.Context) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, resetContactsMirror); err != nil {
		log.Err(err).
			Str("func", "contactsRepository.Reset").
			Msg("failed to clear contacts mirror")
		return fmt.Errorf("failed to clear contacts mirror: %w", err)
	}

	if _, err := r.q.ExecContext(ctx, resetContactsCounters); err != nil {
		log.Err(err).
			Str("func", "contactsRepository.Reset").
			Msg("failed to reset contact change counters")
		return fmt.Errorf("failed to reset contact change counters: %w", err)
	}

	return nil
}

// AddContact inserts a brand new user-created record: fresh timestamps and a
// change counter of one. The write goes through the cooperative lock so it
// queues fairly behind a chunked sync instead of racing the file lock.
func (r *contactsRepository) AddContact(ctx context.Context, rec models.ContactRecord) error {
	now := models.Now()
	rec.Metadata.TimeCreated = now
	rec.Metadata.TimeLastModified = now
	rec.Metadata.SyncChangeCounter = 1

	tx, err := r.db.UncheckedTransaction(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := r.WithTx(tx).InsertLocal(ctx, rec); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// UpdateContact applies a user edit: bumps the modification time and the
// change counter, leaves usage metadata alone.
func (r *contactsRepository) UpdateContact(ctx context.Context, rec models.ContactRecord) error {
	log := logger.FromContext(ctx)

	tx, err := r.db.UncheckedTransaction(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	result, err := tx.ExecContext(ctx, touchLocalContact,
		rec.Name,
		rec.Email,
		rec.Phone,
		int64(models.Now()),
		string(rec.Guid),
	)
	if err != nil {
		log.Err(err).
			Str("func", "contactsRepository.UpdateContact").
			Str("guid", rec.Guid.String()).
			Msg("failed to update contact")
		return fmt.Errorf("failed to update contact (guid=%s): %w", rec.Guid, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result (guid=%s): %w", rec.Guid, err)
	}
	if affected == 0 {
		return fmt.Errorf("no contact with guid=%s: %w", rec.Guid, sql.ErrNoRows)
	}

	return tx.Commit(ctx)
}

// DeleteContact removes a record. A tombstone is written only when the
// server has seen the record; something never uploaded just vanishes. Runs
// inside an unchecked transaction so the record and its tombstone can never
// both exist.
func (r *contactsRepository) DeleteContact(ctx context.Context, guid models.Guid) error {
	log := logger.FromContext(ctx)

	tx, err := r.db.UncheckedTransaction(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	txRepo := r.WithTx(tx)

	var mirrored bool
	if err := tx.QueryRowContext(ctx, contactMirrorExists, string(guid)).Scan(&mirrored); err != nil {
		log.Err(err).
			Str("func", "contactsRepository.DeleteContact").
			Str("guid", guid.String()).
			Msg("failed to check mirror existence")
		return fmt.Errorf("failed to check mirror existence (guid=%s): %w", guid, err)
	}

	if err := txRepo.RemoveLocal(ctx, guid); err != nil {
		return err
	}
	if mirrored {
		if err := txRepo.InsertTombstone(ctx, guid, models.Now()); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *contactsRepository) GetContact(ctx context.Context, guid models.Guid) (models.ContactRecord, error) {
	log := logger.FromContext(ctx)

	var rec models.ContactRecord
	err := r.q.QueryRowContext(ctx, getLocalContact, string(guid)).Scan(
		&rec.Guid,
		&rec.Name,
		&rec.Email,
		&rec.Phone,
		&rec.Metadata.TimeCreated,
		&rec.Metadata.TimeLastUsed,
		&rec.Metadata.TimeLastModified,
		&rec.Metadata.TimesUsed,
		&rec.Metadata.SyncChangeCounter,
	)
	if err != nil {
		log.Err(err).
			Str("func", "contactsRepository.GetContact").
			Str("guid", guid.String()).
			Msg("failed to fetch contact")
		return models.ContactRecord{}, fmt.Errorf("failed to fetch contact (guid=%s): %w", guid, err)
	}

	return rec, nil
}

func (r *contactsRepository) GetAllContacts(ctx context.Context) ([]models.ContactRecord, error) {
	log := logger.FromContext(ctx)

	rows, err := r.q.QueryContext(ctx, getAllLocalContacts)
	if err != nil {
		log.Err(err).
			Str("func", "contactsRepository.GetAllContacts").
			Msg("failed to query contacts")
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	var records []models.ContactRecord
	for rows.Next() {
		var rec models.ContactRecord
		scanErr := rows.Scan(
			&rec.Guid,
			&rec.Name,
			&rec.Email,
			&rec.Phone,
			&rec.Metadata.TimeCreated,
			&rec.Metadata.TimeLastUsed,
			&rec.Metadata.TimeLastModified,
			&rec.Metadata.TimesUsed,
			&rec.Metadata.SyncChangeCounter,
		)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan contact row: %w", scanErr)
		}
		records = append(records, rec)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failure during contact iteration: %w", rowsErr)
	}

	return records, nil
}
