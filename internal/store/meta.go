package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MKhiriev/go-sync-keeper/internal/logger"
)

const (
	putMetaQuery    = `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?);`
	getMetaQuery    = `SELECT value FROM meta WHERE key = ?;`
	deleteMetaQuery = `DELETE FROM meta WHERE key = ?;`
)

// metaRepository is the generic key/value metadata store shared by all sync
// engines (last sync timestamps, collection sync ids).
type metaRepository struct {
	db *DB
	q  Querier
}

func NewMetaRepository(db *DB) MetaRepository {
	return &metaRepository{db: db, q: db.DB}
}

func (m *metaRepository) WithTx(tx *CoopTransaction) MetaRepository {
	return &metaRepository{db: m.db, q: tx}
}

func (m *metaRepository) PutMeta(ctx context.Context, key string, value any) error {
	log := logger.FromContext(ctx)

	if _, err := m.q.ExecContext(ctx, putMetaQuery, key, value); err != nil {
		log.Err(err).
			Str("func", "metaRepository.PutMeta").
			Str("key", key).
			Msg("failed to store metadata value")
		return fmt.Errorf("failed to store metadata value (key=%s): %w", key, err)
	}

	return nil
}

// GetMetaInt64 reads an integer metadata value. A missing key reports found
// as false with no error.
func (m *metaRepository) GetMetaInt64(ctx context.Context, key string) (value int64, found bool, err error) {
	log := logger.FromContext(ctx)

	err = m.q.QueryRowContext(ctx, getMetaQuery, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		log.Err(err).
			Str("func", "metaRepository.GetMetaInt64").
			Str("key", key).
			Msg("failed to read metadata value")
		return 0, false, fmt.Errorf("failed to read metadata value (key=%s): %w", key, err)
	}

	return value, true, nil
}

// GetMetaString reads a string metadata value. A missing key reports found
// as false with no error.
func (m *metaRepository) GetMetaString(ctx context.Context, key string) (value string, found bool, err error) {
	log := logger.FromContext(ctx)

	err = m.q.QueryRowContext(ctx, getMetaQuery, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		log.Err(err).
			Str("func", "metaRepository.GetMetaString").
			Str("key", key).
			Msg("failed to read metadata value")
		return "", false, fmt.Errorf("failed to read metadata value (key=%s): %w", key, err)
	}

	return value, true, nil
}

func (m *metaRepository) DeleteMeta(ctx context.Context, key string) error {
	log := logger.FromContext(ctx)

	if _, err := m.q.ExecContext(ctx, deleteMetaQuery, key); err != nil {
		log.Err(err).
			Str("func", "metaRepository.DeleteMeta").
			Str("key", key).
			Msg("failed to delete metadata value")
		return fmt.Errorf("failed to delete metadata value (key=%s): %w", key, err)
	}

	return nil
}
