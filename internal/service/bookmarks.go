// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/MKhiriev/go-sync-keeper/internal/config"
	"github.com/MKhiriev/go-sync-keeper/internal/logger"
	"github.com/MKhiriev/go-sync-keeper/internal/store"
	"github.com/MKhiriev/go-sync-keeper/models"
)

const (
	bookmarksCollection  = "bookmarks"
	bookmarksLastSyncKey = "bookmarks.last_sync_time"
)

// bookmarkPayload is the wire form of a bookmark record: the content fields
// plus the kind discriminator the server uses.
type bookmarkPayload struct {
	models.BookmarkRecord
	Type string `json:"type"`
}

func kindFromType(t string) (models.BookmarkKind, bool) {
	switch t {
	case "bookmark":
		return models.KindBookmark, true
	case "query":
		return models.KindQuery, true
	case "folder":
		return models.KindFolder, true
	case "livemark":
		return models.KindLivemark, true
	case "separator":
		return models.KindSeparator, true
	}
	return 0, false
}

// BookmarksEngine reconciles the hierarchical bookmark tree: validates and
// stores incoming items, merges the remote tree against the local one, and
// assembles the outgoing change set.
type BookmarksEngine struct {
	db       *store.DB
	syncRepo store.BookmarksRepository
	mainRepo store.BookmarksRepository
	meta     store.MetaRepository
	budget   time.Duration
	logger   *logger.Logger
}

func NewBookmarksEngine(storages *store.Storages, cfg config.Sync, log *logger.Logger) *BookmarksEngine {
	return &BookmarksEngine{
		db:       storages.Sync,
		syncRepo: storages.SyncBookmarks,
		mainRepo: storages.Bookmarks,
		meta:     storages.SyncMeta,
		budget:   cfg.CommitBudget,
		logger:   log,
	}
}

// StageIncoming validates a pulled batch and stores it in the synced-items
// tables. Malformed envelopes are counted and skipped; the returned count is
// how many were rejected.
func (e *BookmarksEngine) StageIncoming(ctx context.Context, envelopes []models.Envelope) (int, error) {
	log := logger.FromContext(ctx)

	rejected := 0
	for _, env := range envelopes {
		if err := e.stageOne(ctx, env); err != nil {
			if isValidationErr(err) {
				rejected++
				log.Warn().
					Str("func", "BookmarksEngine.StageIncoming").
					Str("guid", env.Guid.String()).
					Err(err).
					Msg("skipping malformed incoming bookmark")
				continue
			}
			return rejected, classify(err)
		}
	}

	return rejected, nil
}

func (e *BookmarksEngine) stageOne(ctx context.Context, env models.Envelope) error {
	if !env.Guid.IsValid() {
		return fmt.Errorf("%w: malformed guid %q", ErrValidation, env.Guid)
	}

	if env.IsTombstone() {
		return e.syncRepo.StoreSyncedTombstone(ctx, env.Guid, env.ServerModified)
	}

	var payload bookmarkPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("%w: undecodable payload for %q: %v", ErrValidation, env.Guid, err)
	}
	kind, ok := kindFromType(payload.Type)
	if !ok {
		return fmt.Errorf("%w: unknown bookmark type %q for %q", ErrValidation, payload.Type, env.Guid)
	}
	rec := payload.BookmarkRecord
	rec.Guid = env.Guid
	rec.Kind = kind

	validity := validateIncomingBookmark(&rec)

	row := store.SyncedBookmarkRow{
		Guid:           rec.Guid,
		ServerModified: env.ServerModified,
		NeedsMerge:     true,
		Kind:           sql.NullInt64{Int64: int64(rec.Kind), Valid: true},
		DateAdded:      rec.DateAdded,
		Title:          sql.NullString{String: rec.Title, Valid: true},
		Validity:       validity,
	}
	if rec.Keyword != "" {
		row.Keyword = sql.NullString{String: rec.Keyword, Valid: true}
	}
	if rec.URL != "" {
		row.URL = sql.NullString{String: rec.URL, Valid: true}
	}
	if rec.FeedURL != "" {
		row.FeedURL = sql.NullString{String: rec.FeedURL, Valid: true}
	}
	if rec.SiteURL != "" {
		row.SiteURL = sql.NullString{String: rec.SiteURL, Valid: true}
	}

	if err := e.syncRepo.UpsertSynced(ctx, row); err != nil {
		return err
	}
	if rec.Kind == models.KindFolder {
		return e.syncRepo.ReplaceSyncedStructure(ctx, rec.Guid, rec.Children)
	}
	return nil
}

// validateIncomingBookmark repairs what it can and scores how intact the
// item arrived. Severity only ever goes up.
func validateIncomingBookmark(rec *models.BookmarkRecord) models.BookmarkValidity {
	validity := models.ValidityValid

	switch rec.Kind {
	case models.KindBookmark:
		if rec.URL == "" {
			return models.ValidityReplace
		}
		u, err := url.Parse(rec.URL)
		if err != nil || u.Scheme == "" {
			rec.URL = ""
			return models.ValidityReplace
		}
		if normalized := u.String(); normalized != rec.URL {
			rec.URL = normalized
			validity = validity.AtLeast(models.ValidityReupload)
		}
		// keyword normalization alone never demands a reupload
		rec.Keyword = strings.ToLower(strings.TrimSpace(rec.Keyword))

	case models.KindQuery:
		if rec.URL == "" {
			return models.ValidityReplace
		}
		if !strings.HasPrefix(rec.URL, "place:") {
			rec.URL = ""
			return models.ValidityReplace
		}
		if strings.Contains(rec.URL, "folder=") {
			rec.URL = rewriteLegacyQuery(rec.URL)
			validity = validity.AtLeast(models.ValidityReupload)
		}
		rec.Keyword = strings.ToLower(strings.TrimSpace(rec.Keyword))

	case models.KindFolder:
		kept := rec.Children[:0]
		for _, child := range rec.Children {
			if child.IsValid() {
				kept = append(kept, child)
				continue
			}
			validity = validity.AtLeast(models.ValidityReupload)
		}
		rec.Children = kept

	case models.KindLivemark:
		if rec.FeedURL == "" {
			return models.ValidityReplace
		}

	case models.KindSeparator:
	}

	return validity
}

// rewriteLegacyQuery strips the folder-id parameters old desktop clients
// embedded in place: queries. Those ids are meaningless on other devices.
func rewriteLegacyQuery(raw string) string {
	params := strings.Split(strings.TrimPrefix(raw, "place:"), "&")
	kept := params[:0]
	for _, p := range params {
		if strings.HasPrefix(p, "folder=") {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return "place:excludeItems=1"
	}
	return "place:" + strings.Join(kept, "&")
}

// Apply merges the staged remote tree against the local one and returns the
// items that need uploading. A pull with nothing to merge and no local
// changes short-circuits before any tree is built.
func (e *BookmarksEngine) Apply(ctx context.Context, serverTimestamp models.ServerTimestamp) (models.OutgoingChangeset, models.SyncTelemetry, error) {
	log := logger.FromContext(ctx).With().
		Str("sync_session", ulid.Make().String()).
		Str("collection", bookmarksCollection).
		Logger()
	ctx = log.WithContext(ctx)

	var telemetry models.SyncTelemetry
	changeset := models.OutgoingChangeset{Collection: bookmarksCollection, Timestamp: serverTimestamp}

	tx, err := e.db.TimeChunkedTransaction(ctx, e.budget)
	if err != nil {
		return changeset, telemetry, classify(err)
	}
	defer tx.Rollback(ctx)

	repo := e.syncRepo.WithTx(tx)

	changed, err := repo.HasChanges(ctx)
	if err != nil {
		return changeset, telemetry, classify(err)
	}
	if !changed {
		if err := e.meta.WithTx(tx).PutMeta(ctx, bookmarksLastSyncKey, int64(serverTimestamp)); err != nil {
			return changeset, telemetry, classify(err)
		}
		if err := tx.Commit(ctx); err != nil {
			return changeset, telemetry, classify(err)
		}
		log.Debug().
			Str("func", "BookmarksEngine.Apply").
			Msg("no bookmark changes on either side")
		return changeset, telemetry, nil
	}

	rootsOK, err := repo.ValidLocalRoots(ctx)
	if err != nil {
		return changeset, telemetry, classify(err)
	}
	if !rootsOK {
		return changeset, telemetry, fmt.Errorf("%w: bookmark roots missing or duplicated", ErrCorruption)
	}

	remoteRows, err := repo.FetchSyncedRows(ctx)
	if err != nil {
		return changeset, telemetry, classify(err)
	}
	localRows, err := repo.FetchLocalTreeRows(ctx)
	if err != nil {
		return changeset, telemetry, classify(err)
	}

	remote, err := buildRemoteTree(remoteRows)
	if err != nil {
		return changeset, telemetry, err
	}
	local, err := buildLocalTree(localRows)
	if err != nil {
		return changeset, telemetry, err
	}

	if err := e.merge(ctx, tx, repo, remote, local, &telemetry); err != nil {
		return changeset, telemetry, classify(err)
	}

	if err := repo.ClearNeedsMerge(ctx); err != nil {
		return changeset, telemetry, classify(err)
	}

	changes, err := e.collectOutgoing(ctx, repo)
	if err != nil {
		return changeset, telemetry, classify(err)
	}
	changeset.Changes = changes
	telemetry.Outgoing = len(changes)

	if err := e.meta.WithTx(tx).PutMeta(ctx, bookmarksLastSyncKey, int64(serverTimestamp)); err != nil {
		return changeset, telemetry, classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return changeset, telemetry, classify(err)
	}

	log.Info().
		Str("func", "BookmarksEngine.Apply").
		Int("applied", telemetry.Applied).
		Int("reconciled", telemetry.Reconciled).
		Int("deleted", telemetry.Deleted).
		Int("outgoing", telemetry.Outgoing).
		Msg("bookmarks reconciliation finished")

	return changeset, telemetry, nil
}

func (e *BookmarksEngine) merge(ctx context.Context, tx *store.CoopTransaction, repo store.BookmarksRepository, remote, local *bookmarkTree, telemetry *models.SyncTelemetry) error {
	now := models.Now()

	// remote deletions first: an untouched local subtree follows the server,
	// a changed one survives and reuploads
	for guid := range remote.deleted {
		if err := tx.MaybeCommit(ctx); err != nil {
			return err
		}

		if err := repo.RemoveLocalTombstone(ctx, guid); err != nil {
			return err
		}

		localNode := local.node(guid)
		if localNode == nil {
			telemetry.Reconciled++
			continue
		}
		if subtreeHasChanges(localNode) {
			if err := repo.FlagForUpload(ctx, guid); err != nil {
				return err
			}
			telemetry.Reconciled++
			continue
		}
		if err := deleteLocalSubtree(ctx, repo, localNode); err != nil {
			return err
		}
		telemetry.Deleted++
	}

	// then the remote items, parents before children
	stack := []*bookmarkNode{remote.root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for i := len(node.children) - 1; i >= 0; i-- {
			stack = append(stack, node.children[i])
		}

		if node == remote.root || !node.needsMerge {
			continue
		}
		if err := tx.MaybeCommit(ctx); err != nil {
			return err
		}
		if err := e.mergeItem(ctx, repo, local, node, now, telemetry); err != nil {
			return err
		}
	}

	// items the server never placed in any folder land under unfiled and
	// reupload with their adopted parent
	for _, orphan := range remote.orphans {
		if !orphan.needsMerge {
			continue
		}
		if err := tx.MaybeCommit(ctx); err != nil {
			return err
		}
		if local.node(orphan.guid) != nil {
			telemetry.Reconciled++
			continue
		}
		rec := recordFromNode(orphan)
		if err := repo.ApplyRemoteItem(ctx, rec, models.UnfiledGuid, orphan.position, 1); err != nil {
			return err
		}
		if err := repo.FlagForUpload(ctx, models.UnfiledGuid); err != nil {
			return err
		}
		telemetry.Applied++
	}

	return nil
}

func (e *BookmarksEngine) mergeItem(ctx context.Context, repo store.BookmarksRepository, local *bookmarkTree, node *bookmarkNode, now models.Timestamp, telemetry *models.SyncTelemetry) error {
	if node.guid.IsBuiltin() {
		// root folders are fixed; only their child lists matter, and those
		// apply through their children's positions
		telemetry.Reconciled++
		return nil
	}

	if !node.syncable {
		// legacy live feeds do not sync anymore: drop any local copy, push a
		// tombstone, and reupload the parent with its shortened child list
		if localNode := local.node(node.guid); localNode != nil {
			if err := deleteLocalSubtree(ctx, repo, localNode); err != nil {
				return err
			}
		}
		if err := repo.InsertLocalTombstone(ctx, node.guid, now); err != nil {
			return err
		}
		if err := repo.DeleteSynced(ctx, node.guid); err != nil {
			return err
		}
		if node.parent != nil && local.node(node.parent.guid) != nil {
			if err := repo.FlagForUpload(ctx, node.parent.guid); err != nil {
				return err
			}
		}
		telemetry.Applied++
		return nil
	}

	parentGuid := models.UnfiledGuid
	adoptedParent := true
	if node.parent != nil && local.node(node.parent.guid) != nil {
		parentGuid = node.parent.guid
		adoptedParent = false
	}

	localNode := local.node(node.guid)
	rec := recordFromNode(node)

	if localNode == nil {
		counter := counterForValidity(node.validity)
		if adoptedParent {
			counter = 1
		}
		if err := repo.ApplyRemoteItem(ctx, rec, parentGuid, node.position, counter); err != nil {
			return err
		}
		if adoptedParent {
			if err := repo.FlagForUpload(ctx, parentGuid); err != nil {
				return err
			}
		}
		// register the new item so its children, applied later in the same
		// walk, resolve their parent
		inserted := &bookmarkNode{
			guid:      node.guid,
			kind:      node.kind,
			title:     node.title,
			url:       node.url,
			keyword:   node.keyword,
			dateAdded: node.dateAdded,
			position:  node.position,
			counter:   counter,
		}
		local.byGuid[node.guid] = inserted
		if parent := local.node(parentGuid); parent != nil {
			local.attach(parent, inserted)
		}
		telemetry.Applied++
		return nil
	}

	if localNode.counter > 0 {
		// the local edit wins; its counter already schedules the upload
		telemetry.Reconciled++
		return nil
	}

	if node.validity == models.ValidityReplace {
		// the remote copy is unusable; ours replaces it on the server
		if err := repo.FlagForUpload(ctx, node.guid); err != nil {
			return err
		}
		telemetry.Reconciled++
		return nil
	}

	if err := repo.ApplyRemoteItem(ctx, rec, parentGuid, node.position, counterForValidity(node.validity)); err != nil {
		return err
	}
	if contentEqual(localNode, node) {
		telemetry.Reconciled++
	} else {
		telemetry.Applied++
	}
	return nil
}

// counterForValidity is zero for intact items; a repaired item starts at one
// so our fixed copy pushes back.
func counterForValidity(v models.BookmarkValidity) int64 {
	if v == models.ValidityValid {
		return 0
	}
	return 1
}

// deleteLocalSubtree removes a node and all descendants, children first.
func deleteLocalSubtree(ctx context.Context, repo store.BookmarksRepository, n *bookmarkNode) error {
	for i := len(n.children) - 1; i >= 0; i-- {
		if err := deleteLocalSubtree(ctx, repo, n.children[i]); err != nil {
			return err
		}
	}
	return repo.DeleteLocalBookmark(ctx, n.guid)
}

func recordFromNode(n *bookmarkNode) models.BookmarkRecord {
	return models.BookmarkRecord{
		Guid:      n.guid,
		Kind:      n.kind,
		DateAdded: n.dateAdded,
		Title:     n.title,
		URL:       n.url,
		Keyword:   n.keyword,
	}
}

func (e *BookmarksEngine) collectOutgoing(ctx context.Context, repo store.BookmarksRepository) ([]models.Envelope, error) {
	rows, err := repo.FetchLocalTreeRows(ctx)
	if err != nil {
		return nil, err
	}
	tree, err := buildLocalTree(rows)
	if err != nil {
		return nil, err
	}

	var changes []models.Envelope
	var snapshots []store.OutgoingSnapshotRow
	stack := []*bookmarkNode{tree.root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for i := len(node.children) - 1; i >= 0; i-- {
			stack = append(stack, node.children[i])
		}

		if node == tree.root || node.counter == 0 {
			continue
		}
		snapshots = append(snapshots, store.OutgoingSnapshotRow{
			Guid:          node.guid,
			ChangeCounter: node.counter,
		})

		rec := recordFromNode(node)
		rec.ParentGuid = node.parent.guid
		rec.Position = node.position
		if node.kind == models.KindFolder {
			rec.Children = make([]models.Guid, 0, len(node.children))
			for _, child := range node.children {
				rec.Children = append(rec.Children, child.guid)
			}
		}

		env, err := models.NewEnvelope(node.guid, bookmarkPayload{BookmarkRecord: rec, Type: rec.Kind.String()})
		if err != nil {
			return nil, fmt.Errorf("failed to serialize outgoing bookmark (guid=%s): %w", node.guid, err)
		}
		changes = append(changes, env)
	}

	if err := repo.StageOutgoing(ctx, snapshots); err != nil {
		return nil, err
	}

	tombstones, err := repo.FetchLocalTombstones(ctx)
	if err != nil {
		return nil, err
	}
	for _, guid := range tombstones {
		changes = append(changes, models.NewTombstone(guid))
	}

	return changes, nil
}

// SetUploaded acknowledges a successful upload of items and tombstones.
func (e *BookmarksEngine) SetUploaded(ctx context.Context, newTimestamp models.ServerTimestamp, guids []models.Guid) error {
	tx, err := e.db.UncheckedTransaction(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	// a guid names either an item or a tombstone, never both
	if err := e.syncRepo.WithTx(tx).FinishSynced(ctx, guids, guids); err != nil {
		return classify(err)
	}
	if err := e.meta.WithTx(tx).PutMeta(ctx, bookmarksLastSyncKey, int64(newTimestamp)); err != nil {
		return classify(err)
	}

	return classify(tx.Commit(ctx))
}

// LastSync returns the server timestamp of the last completed sync, or false
// when the collection has never synced.
func (e *BookmarksEngine) LastSync(ctx context.Context) (models.ServerTimestamp, bool, error) {
	value, found, err := e.meta.GetMetaInt64(ctx, bookmarksLastSyncKey)
	if err != nil {
		return 0, false, classify(err)
	}
	return models.ServerTimestamp(value), found, nil
}

// Reset drops all remote knowledge; every non-root item reuploads.
func (e *BookmarksEngine) Reset(ctx context.Context) error {
	tx, err := e.db.UncheckedTransaction(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	if err := e.syncRepo.WithTx(tx).Reset(ctx); err != nil {
		return classify(err)
	}
	if err := e.meta.WithTx(tx).DeleteMeta(ctx, bookmarksLastSyncKey); err != nil {
		return classify(err)
	}

	return classify(tx.Commit(ctx))
}

// AddBookmark stores a new user-created item at the end of its parent folder
// and returns its guid. An empty guid gets a fresh one; an empty parent means
// the unfiled root.
func (e *BookmarksEngine) AddBookmark(ctx context.Context, item models.BookmarkRecord) (models.Guid, error) {
	if item.Guid == "" {
		item.Guid = models.NewGuid()
	}
	if !item.Guid.IsValid() {
		return "", fmt.Errorf("%w: malformed guid %q", ErrValidation, item.Guid)
	}
	if item.ParentGuid == "" {
		item.ParentGuid = models.UnfiledGuid
	}
	if err := e.mainRepo.AddBookmark(ctx, item); err != nil {
		return "", err
	}
	return item.Guid, nil
}

// DeleteBookmark removes an item and its whole subtree.
func (e *BookmarksEngine) DeleteBookmark(ctx context.Context, guid models.Guid) error {
	if guid.IsBuiltin() {
		return fmt.Errorf("%w: cannot delete built-in root %q", ErrValidation, guid)
	}
	return e.mainRepo.DeleteBookmark(ctx, guid)
}
