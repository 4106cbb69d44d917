package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-sync-keeper/models"
)

func contactEnvelope(t *testing.T, rec models.ContactRecord, modified models.ServerTimestamp) models.Envelope {
	t.Helper()
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	return models.Envelope{Guid: rec.Guid, Payload: payload, ServerModified: modified}
}

func TestContacts_StageIncomingAndFetchStates(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)
	repo := storages.SyncContacts

	require.NoError(t, repo.CreateSyncTempTables(ctx))

	// a local record the incoming batch also mentions
	local := models.ContactRecord{Guid: "AAAAAAAAAAAA", Name: "Alice"}
	require.NoError(t, repo.AddContact(ctx, local))

	incoming := []models.Envelope{
		contactEnvelope(t, models.ContactRecord{Guid: "AAAAAAAAAAAA", Name: "Alice B"}, 100),
		contactEnvelope(t, models.ContactRecord{Guid: "BBBBBBBBBBBB", Name: "Bob"}, 100),
		models.NewTombstone("CCCCCCCCCCCC"),
	}
	require.NoError(t, repo.StageIncoming(ctx, incoming))

	states, err := repo.FetchIncomingStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 3)

	byGuid := map[models.Guid]ContactStateRow{}
	for _, s := range states {
		byGuid[s.Guid] = s
	}

	withLocal := byGuid["AAAAAAAAAAAA"]
	require.NotNil(t, withLocal.Local)
	assert.Equal(t, "Alice", withLocal.Local.Name)
	assert.False(t, withLocal.Deleted)
	assert.True(t, withLocal.Payload.Valid)

	fresh := byGuid["BBBBBBBBBBBB"]
	assert.Nil(t, fresh.Local)
	assert.False(t, fresh.TombstoneExists)

	tomb := byGuid["CCCCCCCCCCCC"]
	assert.True(t, tomb.Deleted)
	assert.False(t, tomb.Payload.Valid)
}

func TestContacts_DeleteContact_TombstoneOnlyWhenMirrored(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)
	repo := storages.Contacts

	// never-synced record: no mirror, no tombstone after delete
	require.NoError(t, repo.AddContact(ctx, models.ContactRecord{Guid: "AAAAAAAAAAAA", Name: "a"}))
	require.NoError(t, repo.DeleteContact(ctx, "AAAAAAAAAAAA"))

	var count int
	err := storages.Main.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts_tombstones`).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)

	// mirrored record: tombstone appears, record goes
	require.NoError(t, repo.AddContact(ctx, models.ContactRecord{Guid: "BBBBBBBBBBBB", Name: "b"}))
	_, err = storages.Main.ExecContext(ctx,
		`INSERT INTO contacts_mirror (guid, payload, server_modified) VALUES ('BBBBBBBBBBBB', '{}', 1)`)
	require.NoError(t, err)

	require.NoError(t, repo.DeleteContact(ctx, "BBBBBBBBBBBB"))

	err = storages.Main.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contacts_tombstones WHERE guid = 'BBBBBBBBBBBB'`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	err = storages.Main.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contacts WHERE guid = 'BBBBBBBBBBBB'`).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count, "record and tombstone are mutually exclusive")
}

func TestContacts_OutgoingAndFinish_CounterSnapshot(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)
	repo := storages.SyncContacts

	require.NoError(t, repo.CreateSyncTempTables(ctx))
	require.NoError(t, repo.AddContact(ctx, models.ContactRecord{Guid: "AAAAAAAAAAAA", Name: "a"}))

	records, tombstones, err := repo.FetchOutgoing(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, tombstones)
	assert.Equal(t, int64(1), records[0].Metadata.SyncChangeCounter)

	// stage the snapshot, then race a local edit before the ack arrives
	require.NoError(t, repo.StageOutgoing(ctx, []OutgoingContactRow{{
		Guid:          "AAAAAAAAAAAA",
		Payload:       `{"id":"AAAAAAAAAAAA"}`,
		ChangeCounter: records[0].Metadata.SyncChangeCounter,
	}}))
	require.NoError(t, storages.Contacts.UpdateContact(ctx, models.ContactRecord{
		Guid: "AAAAAAAAAAAA", Name: "edited",
	}))

	require.NoError(t, repo.FinishSyncedItems(ctx, []models.Guid{"AAAAAAAAAAAA"}, 200))

	// only the snapshotted count was subtracted: the racing edit survives
	var counter int64
	err = storages.Main.QueryRowContext(ctx,
		`SELECT sync_change_counter FROM contacts WHERE guid = 'AAAAAAAAAAAA'`).Scan(&counter)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter)

	var serverModified int64
	err = storages.Main.QueryRowContext(ctx,
		`SELECT server_modified FROM contacts_mirror WHERE guid = 'AAAAAAAAAAAA'`).Scan(&serverModified)
	require.NoError(t, err)
	assert.Equal(t, int64(200), serverModified)
}

func TestContacts_FinishSyncedItems_CounterClampsAtZero(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)
	repo := storages.SyncContacts

	require.NoError(t, repo.CreateSyncTempTables(ctx))
	require.NoError(t, repo.AddContact(ctx, models.ContactRecord{Guid: "AAAAAAAAAAAA", Name: "a"}))

	// snapshot claims more changes than the live counter holds
	require.NoError(t, repo.StageOutgoing(ctx, []OutgoingContactRow{{
		Guid:          "AAAAAAAAAAAA",
		Payload:       `{}`,
		ChangeCounter: 10,
	}}))
	require.NoError(t, repo.FinishSyncedItems(ctx, []models.Guid{"AAAAAAAAAAAA"}, 1))

	var counter int64
	err := storages.Main.QueryRowContext(ctx,
		`SELECT sync_change_counter FROM contacts WHERE guid = 'AAAAAAAAAAAA'`).Scan(&counter)
	require.NoError(t, err)
	assert.Zero(t, counter)
}

func TestContacts_FinishSyncedItems_ClearsTombstones(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)
	repo := storages.SyncContacts

	require.NoError(t, repo.CreateSyncTempTables(ctx))
	require.NoError(t, repo.InsertTombstone(ctx, "AAAAAAAAAAAA", models.Now()))

	_, tombstones, err := repo.FetchOutgoing(ctx)
	require.NoError(t, err)
	require.Equal(t, []models.Guid{"AAAAAAAAAAAA"}, tombstones)

	require.NoError(t, repo.FinishSyncedItems(ctx, tombstones, 1))

	_, tombstones, err = repo.FetchOutgoing(ctx)
	require.NoError(t, err)
	assert.Empty(t, tombstones)
}

func TestContacts_MirrorStaged(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)
	repo := storages.SyncContacts

	require.NoError(t, repo.CreateSyncTempTables(ctx))

	// one record, one tombstone for an already-mirrored guid
	_, err := storages.Main.ExecContext(ctx,
		`INSERT INTO contacts_mirror (guid, payload, server_modified) VALUES ('BBBBBBBBBBBB', '{}', 1)`)
	require.NoError(t, err)

	incoming := []models.Envelope{
		contactEnvelope(t, models.ContactRecord{Guid: "AAAAAAAAAAAA", Name: "a"}, 100),
		models.NewTombstone("BBBBBBBBBBBB"),
	}
	require.NoError(t, repo.StageIncoming(ctx, incoming))
	require.NoError(t, repo.MirrorStaged(ctx))

	var count int
	err = storages.Main.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contacts_mirror WHERE guid = 'AAAAAAAAAAAA'`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "staged record lands in mirror")

	err = storages.Main.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contacts_mirror WHERE guid = 'BBBBBBBBBBBB'`).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count, "staged tombstone clears its mirror row")
}

func TestContacts_ChangeGuid_BumpsCounter(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)
	repo := storages.Contacts

	require.NoError(t, repo.AddContact(ctx, models.ContactRecord{Guid: "AAAAAAAAAAAA", Name: "a"}))
	require.NoError(t, repo.ChangeGuid(ctx, "AAAAAAAAAAAA", "BBBBBBBBBBBB"))

	rec, err := repo.GetContact(ctx, "BBBBBBBBBBBB")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Metadata.SyncChangeCounter)
}

func TestContacts_Reset(t *testing.T) {
	storages := newTestStorages(t)
	ctx := testCtx(t)
	repo := storages.SyncContacts

	require.NoError(t, repo.CreateSyncTempTables(ctx))
	require.NoError(t, repo.AddContact(ctx, models.ContactRecord{Guid: "AAAAAAAAAAAA", Name: "a"}))
	require.NoError(t, repo.StageOutgoing(ctx, []OutgoingContactRow{{Guid: "AAAAAAAAAAAA", Payload: `{}`, ChangeCounter: 1}}))
	require.NoError(t, repo.FinishSyncedItems(ctx, []models.Guid{"AAAAAAAAAAAA"}, 1))

	require.NoError(t, repo.Reset(ctx))

	var mirrorCount int
	err := storages.Main.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts_mirror`).Scan(&mirrorCount)
	require.NoError(t, err)
	assert.Zero(t, mirrorCount)

	records, _, err := repo.FetchOutgoing(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1, "everything reuploads after a reset")
}
