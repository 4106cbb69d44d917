// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"

	"github.com/MKhiriev/go-sync-keeper/models"
)

// MetaRepository is the generic key/value metadata store.
type MetaRepository interface {
	WithTx(tx *CoopTransaction) MetaRepository
	PutMeta(ctx context.Context, key string, value any) error
	GetMetaInt64(ctx context.Context, key string) (value int64, found bool, err error)
	GetMetaString(ctx context.Context, key string) (value string, found bool, err error)
	DeleteMeta(ctx context.Context, key string) error
}

// ContactsRepository is the storage surface of the flat-record pipeline plus
// the user-facing contact CRUD.
type ContactsRepository interface {
	WithTx(tx *CoopTransaction) ContactsRepository

	CreateSyncTempTables(ctx context.Context) error
	StageIncoming(ctx context.Context, envelopes []models.Envelope) error
	FetchIncomingStates(ctx context.Context) ([]ContactStateRow, error)
	InsertLocal(ctx context.Context, rec models.ContactRecord) error
	UpdateLocal(ctx context.Context, rec models.ContactRecord) error
	ChangeGuid(ctx context.Context, oldGuid, newGuid models.Guid) error
	RemoveLocal(ctx context.Context, guid models.Guid) error
	InsertTombstone(ctx context.Context, guid models.Guid, when models.Timestamp) error
	RemoveTombstone(ctx context.Context, guid models.Guid) error
	MirrorStaged(ctx context.Context) error
	FetchOutgoing(ctx context.Context) ([]models.ContactRecord, []models.Guid, error)
	StageOutgoing(ctx context.Context, items []OutgoingContactRow) error
	FinishSyncedItems(ctx context.Context, guids []models.Guid, serverModified models.ServerTimestamp) error
	Reset(ctx context.Context) error

	AddContact(ctx context.Context, rec models.ContactRecord) error
	UpdateContact(ctx context.Context, rec models.ContactRecord) error
	DeleteContact(ctx context.Context, guid models.Guid) error
	GetContact(ctx context.Context, guid models.Guid) (models.ContactRecord, error)
	GetAllContacts(ctx context.Context) ([]models.ContactRecord, error)
}

// HistoryRepository is the storage surface of the visit-list merger plus the
// user-facing history operations.
type HistoryRepository interface {
	WithTx(tx *CoopTransaction) HistoryRepository

	FetchPageByURL(ctx context.Context, url string) (*PageRow, error)
	FetchPageByGuid(ctx context.Context, guid models.Guid) (*PageRow, error)
	CreatePage(ctx context.Context, guid models.Guid, url, title string, counter int64, status models.SyncStatus) (*PageRow, error)
	FetchVisits(ctx context.Context, placeID int64, limit int) ([]models.HistoryVisit, error)
	AddVisits(ctx context.Context, placeID int64, visits []models.HistoryVisit, isLocal bool) error
	UpdatePageTitle(ctx context.Context, placeID int64, title string) error
	MarkPageSynced(ctx context.Context, placeID int64, guid models.Guid) error
	BumpChangeCounter(ctx context.Context, placeID int64) error
	DeletePageLocally(ctx context.Context, placeID int64) error
	InsertTombstone(ctx context.Context, guid models.Guid, when models.Timestamp) error
	RemoveTombstone(ctx context.Context, guid models.Guid) error
	FetchOutgoing(ctx context.Context, maxPlaces int) ([]PageRow, []models.Guid, error)
	StageOutgoing(ctx context.Context, rows []OutgoingSnapshotRow) error
	FinishSynced(ctx context.Context, pageGuids, tombstoneGuids []models.Guid) error
	Reset(ctx context.Context) error

	AddLocalVisit(ctx context.Context, url, title string, visit models.HistoryVisit) error
	DeletePlace(ctx context.Context, guid models.Guid) error
}

// BookmarksRepository is the storage surface of the tree merger plus the
// user-facing bookmark operations.
type BookmarksRepository interface {
	WithTx(tx *CoopTransaction) BookmarksRepository

	UpsertSynced(ctx context.Context, row SyncedBookmarkRow) error
	ReplaceSyncedStructure(ctx context.Context, parentGuid models.Guid, children []models.Guid) error
	StoreSyncedTombstone(ctx context.Context, guid models.Guid, serverModified models.ServerTimestamp) error
	HasChanges(ctx context.Context) (bool, error)
	ValidLocalRoots(ctx context.Context) (bool, error)
	FetchSyncedRows(ctx context.Context) ([]SyncedBookmarkRow, error)
	FetchLocalTreeRows(ctx context.Context) ([]LocalBookmarkRow, error)
	FetchLocalTombstones(ctx context.Context) ([]models.Guid, error)
	ApplyRemoteItem(ctx context.Context, item models.BookmarkRecord, parentGuid models.Guid, position int64, counter int64) error
	SubtreeGuids(ctx context.Context, guid models.Guid) ([]models.Guid, error)
	DeleteLocalBookmark(ctx context.Context, guid models.Guid) error
	InsertLocalTombstone(ctx context.Context, guid models.Guid, when models.Timestamp) error
	RemoveLocalTombstone(ctx context.Context, guid models.Guid) error
	FlagForUpload(ctx context.Context, guid models.Guid) error
	DeleteSynced(ctx context.Context, guid models.Guid) error
	ClearNeedsMerge(ctx context.Context) error
	StageOutgoing(ctx context.Context, rows []OutgoingSnapshotRow) error
	FinishSynced(ctx context.Context, itemGuids, tombstoneGuids []models.Guid) error
	Reset(ctx context.Context) error

	AddBookmark(ctx context.Context, item models.BookmarkRecord) error
	DeleteBookmark(ctx context.Context, guid models.Guid) error
}
