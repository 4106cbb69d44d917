package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-sync-keeper/internal/config"
	"github.com/MKhiriev/go-sync-keeper/internal/logger"
	"github.com/MKhiriev/go-sync-keeper/internal/store"
)

// newTestService wires the full engine stack onto a throwaway database.
func newTestService(t *testing.T) (*Service, *store.Storages) {
	t.Helper()

	storageCfg := config.Storage{DB: config.DB{
		DSN: filepath.Join(t.TempDir(), "test.db"),
	}}
	storages, err := store.NewStorages(storageCfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = storages.Close() })

	syncCfg := config.Sync{
		CommitBudget:      time.Second,
		MaxVisits:         config.DefaultMaxVisits,
		MaxOutgoingPlaces: config.DefaultMaxOutgoingPlaces,
	}

	return NewService(storages, syncCfg, logger.Nop()), storages
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	return logger.Nop().WithContext(context.Background())
}
