// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/MKhiriev/go-sync-keeper/internal/config"
	"github.com/MKhiriev/go-sync-keeper/internal/logger"
	"github.com/MKhiriev/go-sync-keeper/internal/store"
	"github.com/MKhiriev/go-sync-keeper/models"
)

const (
	contactsCollection  = "contacts"
	contactsLastSyncKey = "contacts.last_sync_time"
)

// ContactsEngine reconciles the flat contact records: stages a pull, merges
// it three ways against the mirror, and assembles the outgoing change set.
type ContactsEngine struct {
	db       *store.DB
	syncRepo store.ContactsRepository
	mainRepo store.ContactsRepository
	meta     store.MetaRepository
	budget   time.Duration
	logger   *logger.Logger
}

func NewContactsEngine(storages *store.Storages, cfg config.Sync, log *logger.Logger) *ContactsEngine {
	return &ContactsEngine{
		db:       storages.Sync,
		syncRepo: storages.SyncContacts,
		mainRepo: storages.Contacts,
		meta:     storages.SyncMeta,
		budget:   cfg.CommitBudget,
		logger:   log,
	}
}

// PrepareForSync creates the per-session staging tables. Must run before the
// first StageIncoming of a sync.
func (e *ContactsEngine) PrepareForSync(ctx context.Context) error {
	return classify(e.syncRepo.CreateSyncTempTables(ctx))
}

// StageIncoming stores one pulled batch into incoming staging. May be called
// repeatedly as pages of a pull arrive; nothing is merged yet.
func (e *ContactsEngine) StageIncoming(ctx context.Context, envelopes []models.Envelope) error {
	return classify(e.syncRepo.StageIncoming(ctx, envelopes))
}

// Apply merges everything staged against the local store and returns the
// records that need uploading. Runs inside a time-chunked transaction so a
// large batch never starves the interactive writer.
func (e *ContactsEngine) Apply(ctx context.Context, serverTimestamp models.ServerTimestamp) (models.OutgoingChangeset, models.SyncTelemetry, error) {
	log := logger.FromContext(ctx).With().
		Str("sync_session", ulid.Make().String()).
		Str("collection", contactsCollection).
		Logger()
	ctx = log.WithContext(ctx)

	var telemetry models.SyncTelemetry
	changeset := models.OutgoingChangeset{Collection: contactsCollection, Timestamp: serverTimestamp}

	tx, err := e.db.TimeChunkedTransaction(ctx, e.budget)
	if err != nil {
		return changeset, telemetry, classify(err)
	}
	defer tx.Rollback(ctx)

	repo := e.syncRepo.WithTx(tx)

	states, err := repo.FetchIncomingStates(ctx)
	if err != nil {
		return changeset, telemetry, classify(err)
	}

	// never-uploaded local records are the dupe candidates for incoming
	// records we have no guid match for
	dupeCandidates, _, err := repo.FetchOutgoing(ctx)
	if err != nil {
		return changeset, telemetry, classify(err)
	}

	for _, state := range states {
		if err := tx.MaybeCommit(ctx); err != nil {
			return changeset, telemetry, classify(err)
		}

		item, planErr := planIncomingContact(state, dupeCandidates)
		if planErr != nil {
			telemetry.Failed++
			log.Warn().
				Str("func", "ContactsEngine.Apply").
				Str("guid", state.Guid.String()).
				Err(planErr).
				Msg("skipping malformed incoming contact")
			continue
		}

		if err := e.applyPlanItem(ctx, repo, item, &telemetry); err != nil {
			return changeset, telemetry, classify(err)
		}
	}

	if err := repo.MirrorStaged(ctx); err != nil {
		return changeset, telemetry, classify(err)
	}

	changes, staged, tombstones, err := e.collectOutgoing(ctx, repo)
	if err != nil {
		return changeset, telemetry, classify(err)
	}
	if err := repo.StageOutgoing(ctx, staged); err != nil {
		return changeset, telemetry, classify(err)
	}
	for _, guid := range tombstones {
		changes = append(changes, models.NewTombstone(guid))
	}
	changeset.Changes = changes
	telemetry.Outgoing = len(changes)

	if err := e.meta.WithTx(tx).PutMeta(ctx, contactsLastSyncKey, int64(serverTimestamp)); err != nil {
		return changeset, telemetry, classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return changeset, telemetry, classify(err)
	}

	log.Info().
		Str("func", "ContactsEngine.Apply").
		Int("applied", telemetry.Applied).
		Int("reconciled", telemetry.Reconciled).
		Int("failed", telemetry.Failed).
		Int("outgoing", telemetry.Outgoing).
		Msg("contacts reconciliation finished")

	return changeset, telemetry, nil
}

func (e *ContactsEngine) collectOutgoing(ctx context.Context, repo store.ContactsRepository) ([]models.Envelope, []store.OutgoingContactRow, []models.Guid, error) {
	records, tombstones, err := repo.FetchOutgoing(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	envelopes := make([]models.Envelope, 0, len(records))
	staged := make([]store.OutgoingContactRow, 0, len(records))
	for _, rec := range records {
		env, err := models.NewEnvelope(rec.Guid, rec)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to serialize outgoing contact (guid=%s): %w", rec.Guid, err)
		}
		envelopes = append(envelopes, env)
		staged = append(staged, store.OutgoingContactRow{
			Guid:          rec.Guid,
			Payload:       string(env.Payload),
			ChangeCounter: rec.Metadata.SyncChangeCounter,
		})
	}

	return envelopes, staged, tombstones, nil
}

// SetUploaded acknowledges a successful upload: staged counters are settled,
// pushed payloads become the mirror, and the last-sync mark advances.
func (e *ContactsEngine) SetUploaded(ctx context.Context, newTimestamp models.ServerTimestamp, guids []models.Guid) error {
	tx, err := e.db.UncheckedTransaction(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	if err := e.syncRepo.WithTx(tx).FinishSyncedItems(ctx, guids, newTimestamp); err != nil {
		return classify(err)
	}
	if err := e.meta.WithTx(tx).PutMeta(ctx, contactsLastSyncKey, int64(newTimestamp)); err != nil {
		return classify(err)
	}

	return classify(tx.Commit(ctx))
}

// LastSync returns the server timestamp of the last completed sync, or false
// when the collection has never synced.
func (e *ContactsEngine) LastSync(ctx context.Context) (models.ServerTimestamp, bool, error) {
	value, found, err := e.meta.GetMetaInt64(ctx, contactsLastSyncKey)
	if err != nil {
		return 0, false, classify(err)
	}
	return models.ServerTimestamp(value), found, nil
}

// Reset forgets all server state so the next sync is a full exchange.
func (e *ContactsEngine) Reset(ctx context.Context) error {
	tx, err := e.db.UncheckedTransaction(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	if err := e.syncRepo.WithTx(tx).Reset(ctx); err != nil {
		return classify(err)
	}
	if err := e.meta.WithTx(tx).DeleteMeta(ctx, contactsLastSyncKey); err != nil {
		return classify(err)
	}

	return classify(tx.Commit(ctx))
}

// AddContact stores a new user-created contact.
func (e *ContactsEngine) AddContact(ctx context.Context, rec models.ContactRecord) error {
	return e.mainRepo.AddContact(ctx, rec)
}

// UpdateContact applies a user edit.
func (e *ContactsEngine) UpdateContact(ctx context.Context, rec models.ContactRecord) error {
	return e.mainRepo.UpdateContact(ctx, rec)
}

// DeleteContact removes a contact, leaving a tombstone only when the server
// has seen it.
func (e *ContactsEngine) DeleteContact(ctx context.Context, guid models.Guid) error {
	return e.mainRepo.DeleteContact(ctx, guid)
}

// GetContact fetches one contact by guid.
func (e *ContactsEngine) GetContact(ctx context.Context, guid models.Guid) (models.ContactRecord, error) {
	return e.mainRepo.GetContact(ctx, guid)
}

// GetAllContacts lists every local contact.
func (e *ContactsEngine) GetAllContacts(ctx context.Context) ([]models.ContactRecord, error) {
	return e.mainRepo.GetAllContacts(ctx)
}

type contactAction int

const (
	contactDoNothing contactAction = iota
	contactDeleteLocalTombstone
	contactDeleteLocalRecord
	contactTakeRemote
	contactTakeMerged
	contactFork
	contactChangeLocalGuid
	contactKeepLocal
)

// contactPlanItem is one fully decided incoming record, ready to apply.
type contactPlanItem struct {
	action       contactAction
	guid         models.Guid
	remote       models.ContactRecord
	merged       models.ContactRecord
	forkedGuid   models.Guid
	dupeGuid     models.Guid
	localExists  bool
	hadTombstone bool
}

// planIncomingContact decides what one staged row means for the local store.
// Tombstones and records each branch on the local state: missing, unmodified,
// modified, or itself deleted.
func planIncomingContact(state store.ContactStateRow, dupeCandidates []models.ContactRecord) (contactPlanItem, error) {
	item := contactPlanItem{guid: state.Guid, localExists: state.Local != nil, hadTombstone: state.TombstoneExists}

	if !state.Guid.IsValid() {
		return item, fmt.Errorf("%w: malformed guid %q", ErrValidation, state.Guid)
	}

	if state.Deleted {
		switch {
		case state.TombstoneExists:
			// both sides deleted it; drop our tombstone, nothing to upload
			item.action = contactDeleteLocalTombstone
		case state.Local == nil:
			item.action = contactDoNothing
		case state.Local.Metadata.SyncChangeCounter == 0:
			item.action = contactDeleteLocalRecord
		default:
			// local edit outlives the remote deletion and reuploads
			item.action = contactKeepLocal
		}
		return item, nil
	}

	if !state.Payload.Valid {
		return item, fmt.Errorf("%w: incoming record %q has no payload", ErrValidation, state.Guid)
	}
	var remote models.ContactRecord
	if err := json.Unmarshal([]byte(state.Payload.String), &remote); err != nil {
		return item, fmt.Errorf("%w: undecodable payload for %q: %v", ErrValidation, state.Guid, err)
	}
	remote.Guid = state.Guid
	item.remote = remote

	if state.TombstoneExists {
		// the server resurrected a record we deleted; the record wins
		item.action = contactTakeRemote
		return item, nil
	}

	if state.Local == nil {
		for _, candidate := range dupeCandidates {
			if candidate.Guid != remote.Guid && candidate.IsDupeOf(remote) {
				item.action = contactChangeLocalGuid
				item.dupeGuid = candidate.Guid
				return item, nil
			}
		}
		item.action = contactTakeRemote
		return item, nil
	}

	if state.Local.Metadata.SyncChangeCounter == 0 {
		item.action = contactTakeRemote
		return item, nil
	}

	merged, conflict := mergeContact(state, *state.Local, remote)
	if conflict {
		item.action = contactFork
		item.forkedGuid = models.NewGuid()
		return item, nil
	}
	item.action = contactTakeMerged
	item.merged = merged
	return item, nil
}

// mergeContact merges field by field against the mirror. Any field both sides
// changed differently flags a conflict and the caller forks the record.
func mergeContact(state store.ContactStateRow, local, remote models.ContactRecord) (models.ContactRecord, bool) {
	var mirror *models.ContactRecord
	if state.MirrorPayload.Valid {
		var m models.ContactRecord
		if err := json.Unmarshal([]byte(state.MirrorPayload.String), &m); err == nil {
			mirror = &m
		}
	}

	mirrorField := func(pick func(models.ContactRecord) string) *string {
		if mirror == nil {
			return nil
		}
		v := pick(*mirror)
		return &v
	}

	merged := models.ContactRecord{Guid: local.Guid, Metadata: local.Metadata}
	conflict := false

	var ok bool
	merged.Name, ok = resolveField(mirrorField(func(c models.ContactRecord) string { return c.Name }), local.Name, remote.Name)
	conflict = conflict || !ok
	merged.Email, ok = resolveField(mirrorField(func(c models.ContactRecord) string { return c.Email }), local.Email, remote.Email)
	conflict = conflict || !ok
	merged.Phone, ok = resolveField(mirrorField(func(c models.ContactRecord) string { return c.Phone }), local.Phone, remote.Phone)
	conflict = conflict || !ok

	merged.Metadata.MergeMetadata(remote.Metadata)
	return merged, conflict
}

func (e *ContactsEngine) applyPlanItem(ctx context.Context, repo store.ContactsRepository, item contactPlanItem, telemetry *models.SyncTelemetry) error {
	switch item.action {
	case contactDoNothing, contactKeepLocal:
		telemetry.Reconciled++

	case contactDeleteLocalTombstone:
		if err := repo.RemoveTombstone(ctx, item.guid); err != nil {
			return err
		}
		telemetry.Reconciled++

	case contactDeleteLocalRecord:
		if err := repo.RemoveLocal(ctx, item.guid); err != nil {
			return err
		}
		telemetry.Deleted++

	case contactTakeRemote:
		if item.hadTombstone {
			if err := repo.RemoveTombstone(ctx, item.guid); err != nil {
				return err
			}
		}
		rec := item.remote
		rec.Metadata.SyncChangeCounter = 0
		if item.localExists {
			if err := repo.UpdateLocal(ctx, rec); err != nil {
				return err
			}
		} else {
			if rec.Metadata.TimeCreated == 0 {
				rec.Metadata.TimeCreated = models.Now()
			}
			if err := repo.InsertLocal(ctx, rec); err != nil {
				return err
			}
		}
		telemetry.Applied++

	case contactTakeMerged:
		// the merged result keeps the local counter so it reuploads
		if err := repo.UpdateLocal(ctx, item.merged); err != nil {
			return err
		}
		telemetry.Reconciled++

	case contactFork:
		// the local copy moves to a fresh guid and reuploads; the remote
		// version takes over the original identity
		if err := repo.ChangeGuid(ctx, item.guid, item.forkedGuid); err != nil {
			return err
		}
		rec := item.remote
		rec.Metadata.SyncChangeCounter = 0
		if rec.Metadata.TimeCreated == 0 {
			rec.Metadata.TimeCreated = models.Now()
		}
		if err := repo.InsertLocal(ctx, rec); err != nil {
			return err
		}
		telemetry.Applied++

	case contactChangeLocalGuid:
		if err := repo.ChangeGuid(ctx, item.dupeGuid, item.guid); err != nil {
			return err
		}
		telemetry.Reconciled++
	}

	return nil
}
