package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-sync-keeper/models"
)

func historyEnvelope(t *testing.T, rec models.HistoryRecord, modified models.ServerTimestamp) models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(rec.Guid, rec)
	require.NoError(t, err)
	env.ServerModified = modified
	return env
}

func TestHistoryEngine_ApplyNewRecord_Idempotent(t *testing.T) {
	svc, storages := newTestService(t)
	ctx := testCtx(t)
	engine := svc.History

	incoming := []models.Envelope{
		historyEnvelope(t, models.HistoryRecord{
			Guid:    "AAAAAAAAAAAA",
			Title:   "Example",
			HistURI: "https://example.com/",
			Visits: []models.HistoryVisit{
				{Date: models.EarliestVisitTimestamp + 1000, Transition: models.TransitionLink},
				{Date: models.EarliestVisitTimestamp + 2000, Transition: models.TransitionTyped},
			},
		}, 100),
	}

	_, telemetry, err := engine.Apply(ctx, incoming, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, telemetry.Applied)

	page, err := storages.History.FetchPageByGuid(ctx, "AAAAAAAAAAAA")
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, "Example", page.Title)
	assert.Equal(t, models.SyncStatusNormal, page.Status)

	visits, err := storages.History.FetchVisits(ctx, page.ID, 20)
	require.NoError(t, err)
	assert.Len(t, visits, 2)

	// re-applying the same batch changes nothing
	_, telemetry, err = engine.Apply(ctx, incoming, 110)
	require.NoError(t, err)
	assert.Equal(t, 1, telemetry.Reconciled)

	visits, err = storages.History.FetchVisits(ctx, page.ID, 20)
	require.NoError(t, err)
	assert.Len(t, visits, 2)
}

func TestHistoryEngine_VisitClamping(t *testing.T) {
	svc, storages := newTestService(t)
	ctx := testCtx(t)
	engine := svc.History

	now := models.Now()
	incoming := []models.Envelope{
		historyEnvelope(t, models.HistoryRecord{
			Guid:    "AAAAAAAAAAAA",
			HistURI: "https://example.com/",
			Visits: []models.HistoryVisit{
				{Date: 1000, Transition: models.TransitionLink},           // before the web existed
				{Date: now + 86_400_000, Transition: models.TransitionLink}, // tomorrow
				{Date: models.EarliestVisitTimestamp + 5000, Transition: models.TransitionLink},
			},
		}, 100),
	}

	_, _, err := engine.Apply(ctx, incoming, 100)
	require.NoError(t, err)

	page, err := storages.History.FetchPageByGuid(ctx, "AAAAAAAAAAAA")
	require.NoError(t, err)
	require.NotNil(t, page)

	visits, err := storages.History.FetchVisits(ctx, page.ID, 20)
	require.NoError(t, err)
	require.Len(t, visits, 2, "the pre-epoch visit is dropped")

	for _, v := range visits {
		assert.GreaterOrEqual(t, v.Date, models.EarliestVisitTimestamp)
		assert.LessOrEqual(t, v.Date, models.Now())
	}
}

func TestHistoryEngine_VisitCap(t *testing.T) {
	svc, storages := newTestService(t)
	ctx := testCtx(t)
	engine := svc.History

	var visits []models.HistoryVisit
	for i := 0; i < 50; i++ {
		visits = append(visits, models.HistoryVisit{
			Date:       models.EarliestVisitTimestamp + models.Timestamp(i*1000),
			Transition: models.TransitionLink,
		})
	}

	_, _, err := engine.Apply(ctx, []models.Envelope{
		historyEnvelope(t, models.HistoryRecord{
			Guid:    "AAAAAAAAAAAA",
			HistURI: "https://example.com/",
			Visits:  visits,
		}, 100),
	}, 100)
	require.NoError(t, err)

	page, err := storages.History.FetchPageByGuid(ctx, "AAAAAAAAAAAA")
	require.NoError(t, err)
	require.NotNil(t, page)

	var count int
	err = storages.Main.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM visits WHERE place_id = ?`, page.ID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 20, count, "only the newest visits within the cap are stored")

	stored, err := storages.History.FetchVisits(ctx, page.ID, 20)
	require.NoError(t, err)
	assert.Equal(t, visits[49].Date, stored[0].Date, "the newest incoming visit survives")
}

func TestHistoryEngine_GuidCollision_FirstIncomingGuidWins(t *testing.T) {
	svc, storages := newTestService(t)
	ctx := testCtx(t)
	engine := svc.History

	// two devices invented different guids for the same url; the first one
	// seen becomes the identity and later duplicates fold into it
	changeset, _, err := engine.Apply(ctx, []models.Envelope{
		historyEnvelope(t, models.HistoryRecord{
			Guid:    "FIRSTFIRST11",
			HistURI: "https://example.com/",
			Visits: []models.HistoryVisit{
				{Date: models.EarliestVisitTimestamp + 1000, Transition: models.TransitionLink},
			},
		}, 100),
		historyEnvelope(t, models.HistoryRecord{
			Guid:    "SECONDSECOND",
			HistURI: "https://example.com/",
			Visits: []models.HistoryVisit{
				{Date: models.EarliestVisitTimestamp + 2000, Transition: models.TransitionLink},
			},
		}, 100),
	}, 100)
	require.NoError(t, err)

	page, err := storages.History.FetchPageByURL(ctx, "https://example.com/")
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, models.Guid("FIRSTFIRST11"), page.Guid, "the first incoming guid wins")

	visits, err := storages.History.FetchVisits(ctx, page.ID, 20)
	require.NoError(t, err)
	assert.Len(t, visits, 2, "the duplicate's visits fold into the surviving page")

	// no server-known guid is tombstoned; the survivor just reuploads merged
	for _, env := range changeset.Changes {
		assert.False(t, env.IsTombstone(), "unexpected tombstone for %s", env.Guid)
	}
	require.Len(t, changeset.Changes, 1)
	assert.Equal(t, models.Guid("FIRSTFIRST11"), changeset.Changes[0].Guid)
}

func TestHistoryEngine_GuidCollision_SyncedPageKeepsGuid(t *testing.T) {
	svc, storages := newTestService(t)
	ctx := testCtx(t)
	engine := svc.History

	// a synced local page; its guid is server-known and must not change
	_, err := storages.History.CreatePage(ctx, "LLLLLLLLLLLL", "https://example.com/", "", 0, models.SyncStatusNormal)
	require.NoError(t, err)

	changeset, _, err := engine.Apply(ctx, []models.Envelope{
		historyEnvelope(t, models.HistoryRecord{
			Guid:    "RRRRRRRRRRRR",
			HistURI: "https://example.com/",
			Visits: []models.HistoryVisit{
				{Date: models.EarliestVisitTimestamp + 1000, Transition: models.TransitionLink},
			},
		}, 100),
	}, 100)
	require.NoError(t, err)

	page, err := storages.History.FetchPageByURL(ctx, "https://example.com/")
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, models.Guid("LLLLLLLLLLLL"), page.Guid)
	assert.Positive(t, page.ChangeCounter, "the merged page reuploads under its kept guid")

	// the incoming visit still lands on the local page
	visits, err := storages.History.FetchVisits(ctx, page.ID, 20)
	require.NoError(t, err)
	assert.Len(t, visits, 1)

	for _, env := range changeset.Changes {
		assert.False(t, env.IsTombstone(), "unexpected tombstone for %s", env.Guid)
	}
	require.Len(t, changeset.Changes, 1)
	assert.Equal(t, models.Guid("LLLLLLLLLLLL"), changeset.Changes[0].Guid)
}

func TestHistoryEngine_GuidCollision_NewLocalPageAdoptsIncomingGuid(t *testing.T) {
	svc, storages := newTestService(t)
	ctx := testCtx(t)
	engine := svc.History

	// a never-uploaded local page; its guid is disposable
	require.NoError(t, engine.AddVisit(ctx, "https://example.com/", "Local", models.HistoryVisit{
		Date:       models.EarliestVisitTimestamp + 500,
		Transition: models.TransitionTyped,
	}))

	changeset, _, err := engine.Apply(ctx, []models.Envelope{
		historyEnvelope(t, models.HistoryRecord{
			Guid:    "RRRRRRRRRRRR",
			HistURI: "https://example.com/",
			Visits: []models.HistoryVisit{
				{Date: models.EarliestVisitTimestamp + 1000, Transition: models.TransitionLink},
			},
		}, 100),
	}, 100)
	require.NoError(t, err)

	page, err := storages.History.FetchPageByURL(ctx, "https://example.com/")
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, models.Guid("RRRRRRRRRRRR"), page.Guid, "a new page adopts the incoming guid")
	assert.Equal(t, models.SyncStatusNormal, page.Status)

	visits, err := storages.History.FetchVisits(ctx, page.ID, 20)
	require.NoError(t, err)
	assert.Len(t, visits, 2)

	// the local visit reuploads under the adopted identity, no tombstones
	for _, env := range changeset.Changes {
		assert.False(t, env.IsTombstone(), "unexpected tombstone for %s", env.Guid)
	}
	require.Len(t, changeset.Changes, 1)
	assert.Equal(t, models.Guid("RRRRRRRRRRRR"), changeset.Changes[0].Guid)
}

func TestHistoryEngine_TombstoneForUnknownGuid_IsNoOp(t *testing.T) {
	svc, storages := newTestService(t)
	ctx := testCtx(t)
	engine := svc.History

	changeset, telemetry, err := engine.Apply(ctx, []models.Envelope{
		models.NewTombstone("AAAAAAAAAAAA"),
	}, 100)
	require.NoError(t, err)
	assert.Empty(t, changeset.Changes)
	assert.Zero(t, telemetry.Deleted)

	var count int
	err = storages.Main.QueryRowContext(ctx, `SELECT COUNT(*) FROM places_tombstones`).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestHistoryEngine_OutgoingAndSetUploaded(t *testing.T) {
	svc, storages := newTestService(t)
	ctx := testCtx(t)
	engine := svc.History

	require.NoError(t, engine.AddVisit(ctx, "https://example.com/", "Example", models.HistoryVisit{
		Date:       models.EarliestVisitTimestamp + 1000,
		Transition: models.TransitionLink,
	}))

	changeset, telemetry, err := engine.Apply(ctx, nil, 100)
	require.NoError(t, err)
	require.Len(t, changeset.Changes, 1)
	assert.Equal(t, 1, telemetry.Outgoing)

	guid := changeset.Changes[0].Guid
	require.NoError(t, engine.SetUploaded(ctx, 150, []models.Guid{guid}))

	page, err := storages.History.FetchPageByGuid(ctx, guid)
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Zero(t, page.ChangeCounter)
	assert.Equal(t, models.SyncStatusNormal, page.Status)

	last, found, err := engine.LastSync(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.ServerTimestamp(150), last)

	// nothing left to upload
	changeset, _, err = engine.Apply(ctx, nil, 160)
	require.NoError(t, err)
	assert.Empty(t, changeset.Changes)
}

func TestHistoryEngine_SetUploaded_MidSyncEditKeepsPageDirty(t *testing.T) {
	svc, storages := newTestService(t)
	ctx := testCtx(t)
	engine := svc.History

	require.NoError(t, engine.AddVisit(ctx, "https://example.com/", "Example", models.HistoryVisit{
		Date:       models.EarliestVisitTimestamp + 1000,
		Transition: models.TransitionLink,
	}))

	changeset, _, err := engine.Apply(ctx, nil, 100)
	require.NoError(t, err)
	require.Len(t, changeset.Changes, 1)
	guid := changeset.Changes[0].Guid

	// a visit lands between upload and acknowledgment
	require.NoError(t, engine.AddVisit(ctx, "https://example.com/", "", models.HistoryVisit{
		Date:       models.EarliestVisitTimestamp + 2000,
		Transition: models.TransitionLink,
	}))

	require.NoError(t, engine.SetUploaded(ctx, 150, []models.Guid{guid}))

	page, err := storages.History.FetchPageByGuid(ctx, guid)
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, int64(1), page.ChangeCounter,
		"the unacknowledged edit must keep the page dirty")

	// and it goes out again on the next pass
	changeset, _, err = engine.Apply(ctx, nil, 160)
	require.NoError(t, err)
	require.Len(t, changeset.Changes, 1)
	assert.Equal(t, guid, changeset.Changes[0].Guid)
}

func TestHistoryEngine_InvalidTransitionRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := testCtx(t)

	err := svc.History.AddVisit(ctx, "https://example.com/", "", models.HistoryVisit{
		Date:       models.Now(),
		Transition: 200,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}
