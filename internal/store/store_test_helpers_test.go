package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-sync-keeper/internal/config"
	"github.com/MKhiriev/go-sync-keeper/internal/logger"
)

// newTestStorages opens a writer pair onto a throwaway database file with
// the schema migrated.
func newTestStorages(t *testing.T) *Storages {
	t.Helper()

	cfg := config.Storage{DB: config.DB{
		DSN: filepath.Join(t.TempDir(), "test.db"),
	}}

	storages, err := NewStorages(cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = storages.Close() })

	return storages
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	return logger.Nop().WithContext(context.Background())
}
