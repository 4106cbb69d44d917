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
	historyCollection  = "history"
	historyLastSyncKey = "history.last_sync_time"
)

// HistoryEngine reconciles page records and their visit lists. Visits never
// conflict; the merge is a set union keyed by (transition, clamped timestamp)
// with a per-page cap.
type HistoryEngine struct {
	db        *store.DB
	syncRepo  store.HistoryRepository
	mainRepo  store.HistoryRepository
	meta      store.MetaRepository
	budget    time.Duration
	maxVisits int
	maxPlaces int
	logger    *logger.Logger
}

func NewHistoryEngine(storages *store.Storages, cfg config.Sync, log *logger.Logger) *HistoryEngine {
	return &HistoryEngine{
		db:        storages.Sync,
		syncRepo:  storages.SyncHistory,
		mainRepo:  storages.History,
		meta:      storages.SyncMeta,
		budget:    cfg.CommitBudget,
		maxVisits: cfg.MaxVisits,
		maxPlaces: cfg.MaxOutgoingPlaces,
		logger:    log,
	}
}

// Apply merges a pulled batch of history records into the local store and
// returns the pages that need uploading.
func (e *HistoryEngine) Apply(ctx context.Context, incoming []models.Envelope, serverTimestamp models.ServerTimestamp) (models.OutgoingChangeset, models.SyncTelemetry, error) {
	log := logger.FromContext(ctx).With().
		Str("sync_session", ulid.Make().String()).
		Str("collection", historyCollection).
		Logger()
	ctx = log.WithContext(ctx)

	var telemetry models.SyncTelemetry
	changeset := models.OutgoingChangeset{Collection: historyCollection, Timestamp: serverTimestamp}

	tx, err := e.db.TimeChunkedTransaction(ctx, e.budget)
	if err != nil {
		return changeset, telemetry, classify(err)
	}
	defer tx.Rollback(ctx)

	repo := e.syncRepo.WithTx(tx)

	for _, env := range incoming {
		if err := tx.MaybeCommit(ctx); err != nil {
			return changeset, telemetry, classify(err)
		}

		if err := e.applyIncoming(ctx, repo, env, &telemetry); err != nil {
			if isValidationErr(err) {
				telemetry.Failed++
				log.Warn().
					Str("func", "HistoryEngine.Apply").
					Str("guid", env.Guid.String()).
					Err(err).
					Msg("skipping malformed incoming history record")
				continue
			}
			return changeset, telemetry, classify(err)
		}
	}

	changes, err := e.collectOutgoing(ctx, repo)
	if err != nil {
		return changeset, telemetry, classify(err)
	}
	changeset.Changes = changes
	telemetry.Outgoing = len(changes)

	if err := e.meta.WithTx(tx).PutMeta(ctx, historyLastSyncKey, int64(serverTimestamp)); err != nil {
		return changeset, telemetry, classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return changeset, telemetry, classify(err)
	}

	log.Info().
		Str("func", "HistoryEngine.Apply").
		Int("applied", telemetry.Applied).
		Int("reconciled", telemetry.Reconciled).
		Int("failed", telemetry.Failed).
		Int("outgoing", telemetry.Outgoing).
		Msg("history reconciliation finished")

	return changeset, telemetry, nil
}

func (e *HistoryEngine) applyIncoming(ctx context.Context, repo store.HistoryRepository, env models.Envelope, telemetry *models.SyncTelemetry) error {
	log := logger.FromContext(ctx)

	if !env.Guid.IsValid() {
		return fmt.Errorf("%w: malformed guid %q", ErrValidation, env.Guid)
	}

	if env.IsTombstone() {
		page, err := repo.FetchPageByGuid(ctx, env.Guid)
		if err != nil {
			return err
		}
		if page == nil {
			// deletion of something we never had
			telemetry.Reconciled++
			return nil
		}
		if page.ChangeCounter > 0 {
			// local visits outlive the remote deletion; the page reuploads
			telemetry.Reconciled++
			return nil
		}
		if err := repo.DeletePageLocally(ctx, page.ID); err != nil {
			return err
		}
		if err := repo.RemoveTombstone(ctx, env.Guid); err != nil {
			return err
		}
		telemetry.Deleted++
		return nil
	}

	var rec models.HistoryRecord
	if err := json.Unmarshal(env.Payload, &rec); err != nil {
		return fmt.Errorf("%w: undecodable payload for %q: %v", ErrValidation, env.Guid, err)
	}
	if rec.HistURI == "" {
		return fmt.Errorf("%w: incoming page %q has no url", ErrValidation, env.Guid)
	}
	rec.Guid = env.Guid

	now := models.Now()
	visits := e.normalizeVisits(ctx, rec.Visits, now)

	page, err := repo.FetchPageByGuid(ctx, rec.Guid)
	if err != nil {
		return err
	}

	if page == nil {
		page, err = repo.FetchPageByURL(ctx, rec.HistURI)
		if err != nil {
			return err
		}
		if page != nil {
			// two devices invented different guids for the same url
			if page.Status == models.SyncStatusNew {
				// our guid was never uploaded, so it is disposable: adopt the
				// incoming identity and merge the visits under it
				if err := repo.MarkPageSynced(ctx, page.ID, rec.Guid); err != nil {
					return err
				}
				page.Guid = rec.Guid
				page.Status = models.SyncStatusNormal
			} else {
				// the server already knows our guid; keep it, absorb the
				// incoming visits and reupload so the first-seen identity wins
				log.Debug().
					Str("func", "HistoryEngine.applyIncoming").
					Str("url", rec.HistURI).
					Str("local_guid", page.Guid.String()).
					Str("incoming_guid", rec.Guid.String()).
					Msg("same-url guid collision resolved toward the known guid")
				if err := repo.BumpChangeCounter(ctx, page.ID); err != nil {
					return err
				}
				page.ChangeCounter++
			}
		}
	}

	if page == nil {
		page, err = repo.CreatePage(ctx, rec.Guid, rec.HistURI, rec.Title, 0, models.SyncStatusNormal)
		if err != nil {
			return err
		}
		if err := repo.AddVisits(ctx, page.ID, visits, false); err != nil {
			return err
		}
		telemetry.Applied++
		return nil
	}

	existing, err := repo.FetchVisits(ctx, page.ID, e.maxVisits)
	if err != nil {
		return err
	}

	// once the cap is full, anything older than the oldest retained visit is
	// noise and gets discarded
	var earliestAllowed models.Timestamp
	if len(existing) >= e.maxVisits {
		earliestAllowed = existing[len(existing)-1].Date
	}

	seen := make(map[models.HistoryVisit]struct{}, len(existing))
	for _, v := range existing {
		seen[v] = struct{}{}
	}

	var novel []models.HistoryVisit
	for _, v := range visits {
		if v.Date < earliestAllowed {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		novel = append(novel, v)
	}

	titleChanged := rec.Title != "" && rec.Title != page.Title
	if len(novel) == 0 && !titleChanged && page.Guid == rec.Guid && page.Status == models.SyncStatusNormal {
		telemetry.Reconciled++
		return nil
	}

	if titleChanged {
		if err := repo.UpdatePageTitle(ctx, page.ID, rec.Title); err != nil {
			return err
		}
	}
	if len(novel) > 0 {
		if err := repo.AddVisits(ctx, page.ID, novel, false); err != nil {
			return err
		}
	}
	if page.Guid == rec.Guid {
		if err := repo.MarkPageSynced(ctx, page.ID, rec.Guid); err != nil {
			return err
		}
	}
	telemetry.Applied++
	return nil
}

// normalizeVisits clamps timestamps into the plausible range, drops invalid
// transitions, dedupes, and keeps only the newest maxVisits entries.
func (e *HistoryEngine) normalizeVisits(ctx context.Context, visits []models.HistoryVisit, now models.Timestamp) []models.HistoryVisit {
	log := logger.FromContext(ctx)

	seen := make(map[models.HistoryVisit]struct{}, len(visits))
	var kept []models.HistoryVisit
	for _, v := range visits {
		if !v.Transition.IsValid() {
			continue
		}
		if v.Date < models.EarliestVisitTimestamp {
			log.Warn().
				Str("func", "HistoryEngine.normalizeVisits").
				Int64("date", int64(v.Date)).
				Msg("dropping visit that predates the web")
			continue
		}
		if v.Date > now {
			v.Date = now
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		kept = append(kept, v)
	}

	if len(kept) > e.maxVisits {
		// keep the newest; incoming lists are newest-first but clamping can
		// reorder, so pick by date
		for i := 1; i < len(kept); i++ {
			for j := i; j > 0 && kept[j].Date > kept[j-1].Date; j-- {
				kept[j], kept[j-1] = kept[j-1], kept[j]
			}
		}
		kept = kept[:e.maxVisits]
	}

	return kept
}

func (e *HistoryEngine) collectOutgoing(ctx context.Context, repo store.HistoryRepository) ([]models.Envelope, error) {
	pages, tombstones, err := repo.FetchOutgoing(ctx, e.maxPlaces)
	if err != nil {
		return nil, err
	}

	snapshots := make([]store.OutgoingSnapshotRow, 0, len(pages))
	for _, page := range pages {
		snapshots = append(snapshots, store.OutgoingSnapshotRow{
			Guid:          page.Guid,
			ChangeCounter: page.ChangeCounter,
		})
	}
	if err := repo.StageOutgoing(ctx, snapshots); err != nil {
		return nil, err
	}

	var changes []models.Envelope
	for _, page := range pages {
		visits, err := repo.FetchVisits(ctx, page.ID, e.maxVisits)
		if err != nil {
			return nil, err
		}
		rec := models.HistoryRecord{
			Guid:    page.Guid,
			Title:   page.Title,
			HistURI: page.URL,
			Visits:  visits,
		}
		env, err := models.NewEnvelope(page.Guid, rec)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize outgoing page (guid=%s): %w", page.Guid, err)
		}
		changes = append(changes, env)
	}
	for _, guid := range tombstones {
		changes = append(changes, models.NewTombstone(guid))
	}

	return changes, nil
}

// SetUploaded acknowledges a successful upload of pages and tombstones.
func (e *HistoryEngine) SetUploaded(ctx context.Context, newTimestamp models.ServerTimestamp, guids []models.Guid) error {
	tx, err := e.db.UncheckedTransaction(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	// a guid names either a page or a tombstone, never both, so passing the
	// full list to both finalize steps is safe
	if err := e.syncRepo.WithTx(tx).FinishSynced(ctx, guids, guids); err != nil {
		return classify(err)
	}
	if err := e.meta.WithTx(tx).PutMeta(ctx, historyLastSyncKey, int64(newTimestamp)); err != nil {
		return classify(err)
	}

	return classify(tx.Commit(ctx))
}

// LastSync returns the server timestamp of the last completed sync, or false
// when the collection has never synced.
func (e *HistoryEngine) LastSync(ctx context.Context) (models.ServerTimestamp, bool, error) {
	value, found, err := e.meta.GetMetaInt64(ctx, historyLastSyncKey)
	if err != nil {
		return 0, false, classify(err)
	}
	return models.ServerTimestamp(value), found, nil
}

// Reset forgets the server relationship of every page.
func (e *HistoryEngine) Reset(ctx context.Context) error {
	tx, err := e.db.UncheckedTransaction(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	if err := e.syncRepo.WithTx(tx).Reset(ctx); err != nil {
		return classify(err)
	}
	if err := e.meta.WithTx(tx).DeleteMeta(ctx, historyLastSyncKey); err != nil {
		return classify(err)
	}

	return classify(tx.Commit(ctx))
}

// AddVisit records a user visit to a page.
func (e *HistoryEngine) AddVisit(ctx context.Context, url, title string, visit models.HistoryVisit) error {
	if !visit.Transition.IsValid() {
		return fmt.Errorf("%w: unknown visit transition %d", ErrValidation, visit.Transition)
	}
	return e.mainRepo.AddLocalVisit(ctx, url, title, visit)
}

// DeletePage removes a page and its visits, leaving a tombstone only when
// the server knows the page.
func (e *HistoryEngine) DeletePage(ctx context.Context, guid models.Guid) error {
	return e.mainRepo.DeletePlace(ctx, guid)
}
