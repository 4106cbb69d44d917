// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package service implements the reconciliation engines that keep the local
// store consistent with the remote copy: the generic three-way merge for
// flat contact records, the visit-list merge for history, and the tree merge
// for bookmarks. The network layer drives the engines; they never talk to
// the server themselves.
package service

import (
	"github.com/MKhiriev/go-sync-keeper/internal/config"
	"github.com/MKhiriev/go-sync-keeper/internal/logger"
	"github.com/MKhiriev/go-sync-keeper/internal/store"
)

// Service bundles the per-collection engines over one storage layer.
type Service struct {
	Contacts  *ContactsEngine
	History   *HistoryEngine
	Bookmarks *BookmarksEngine
}

func NewService(storages *store.Storages, cfg config.Sync, log *logger.Logger) *Service {
	return &Service{
		Contacts:  NewContactsEngine(storages, cfg, log),
		History:   NewHistoryEngine(storages, cfg, log),
		Bookmarks: NewBookmarksEngine(storages, cfg, log),
	}
}
