package store

import (
	"context"
	"fmt"

	"github.com/MKhiriev/go-sync-keeper/internal/config"
	"github.com/MKhiriev/go-sync-keeper/internal/logger"
)

// Storages groups all repositories into a single value that can be passed
// around the service layer. The sync-side repositories run on the sync
// writer; user-facing CRUD runs on the main writer. Both writers share one
// cooperative lock, so neither can starve the other.
type Storages struct {
	// Main is the interactive writer handle.
	Main *DB
	// Sync is the reconciliation writer handle.
	Sync *DB

	Meta      MetaRepository
	Contacts  ContactsRepository
	History   HistoryRepository
	Bookmarks BookmarksRepository

	// SyncContacts, SyncHistory and SyncBookmarks are the same repositories
	// bound to the sync writer, for use inside cooperative transactions.
	SyncMeta      MetaRepository
	SyncContacts  ContactsRepository
	SyncHistory   HistoryRepository
	SyncBookmarks BookmarksRepository
}

// NewStorages initialises the storage layer using the supplied configuration
// and logger. It performs the following steps:
//  1. Opens the writer pair onto the SQLite file specified in cfg.DB.DSN,
//     creating the database file if it does not yet exist.
//  2. Runs pending schema migrations through the main writer.
//  3. Constructs repositories bound to each writer.
//
// Returns an error if the database connection cannot be established or if
// migration fails.
func NewStorages(cfg config.Storage, logger *logger.Logger) (*Storages, error) {
	logger.Info().Msg("creating new storages...")

	mainDB, syncDB, err := NewWriterPair(context.Background(), cfg.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("sqlite connection error: %w", err)
	}

	return &Storages{
		Main: mainDB,
		Sync: syncDB,

		Meta:      NewMetaRepository(mainDB),
		Contacts:  NewContactsRepository(mainDB, logger),
		History:   NewHistoryRepository(mainDB, logger),
		Bookmarks: NewBookmarksRepository(mainDB, logger),

		SyncMeta:      NewMetaRepository(syncDB),
		SyncContacts:  NewContactsRepository(syncDB, logger),
		SyncHistory:   NewHistoryRepository(syncDB, logger),
		SyncBookmarks: NewBookmarksRepository(syncDB, logger),
	}, nil
}

// Close releases both writer handles.
func (s *Storages) Close() error {
	mainErr := s.Main.Close()
	syncErr := s.Sync.Close()
	if mainErr != nil {
		return mainErr
	}
	return syncErr
}
