// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-sync-keeper/internal/logger"
	"github.com/MKhiriev/go-sync-keeper/models"
)

// PageRow is one local history page.
type PageRow struct {
	ID            int64
	Guid          models.Guid
	URL           string
	Title         string
	ChangeCounter int64
	Status        models.SyncStatus
}

// OutgoingSnapshotRow records the change counter of one staged upload.
// FinishSynced subtracts exactly this snapshot, so an edit racing the upload
// keeps the record dirty.
type OutgoingSnapshotRow struct {
	Guid          models.Guid
	ChangeCounter int64
}

type historyRepository struct {
	db     *DB
	q      Querier
	logger *logger.Logger
}

func NewHistoryRepository(db *DB, logger *logger.Logger) HistoryRepository {
	return &historyRepository{
		db:     db,
		q:      db.DB,
		logger: logger,
	}
}

func (r *historyRepository) WithTx(tx *CoopTransaction) HistoryRepository {
	return &historyRepository{db: r.db, q: tx, logger: r.logger}
}

// FetchPageByURL returns the page for url, or nil when none exists.
func (r *historyRepository) FetchPageByURL(ctx context.Context, url string) (*PageRow, error) {
	return r.fetchPage(ctx, getPageByURL, url)
}

// FetchPageByGuid returns the page with guid, or nil when none exists.
func (r *historyRepository) FetchPageByGuid(ctx context.Context, guid models.Guid) (*PageRow, error) {
	return r.fetchPage(ctx, getPageByGuid, string(guid))
}

func (r *historyRepository) fetchPage(ctx context.Context, query string, arg any) (*PageRow, error) {
	log := logger.FromContext(ctx)

	var page PageRow
	err := r.q.QueryRowContext(ctx, query, arg).Scan(
		&page.ID,
		&page.Guid,
		&page.URL,
		&page.Title,
		&page.ChangeCounter,
		&page.Status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		log.Err(err).
			Str("func", "historyRepository.fetchPage").
			Msg("failed to fetch page")
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}

	return &page, nil
}

// CreatePage inserts a fresh page row and returns it.
func (r *historyRepository) CreatePage(ctx context.Context, guid models.Guid, url, title string, counter int64, status models.SyncStatus) (*PageRow, error) {
	log := logger.FromContext(ctx)

	result, err := r.q.ExecContext(ctx, insertPage, string(guid), url, title, counter, int64(status))
	if err != nil {
		log.Err(err).
			Str("func", "historyRepository.CreatePage").
			Str("guid", guid.String()).
			Msg("failed to insert page")
		return nil, fmt.Errorf("failed to insert page (guid=%s): %w", guid, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read inserted page id (guid=%s): %w", guid, err)
	}

	return &PageRow{
		ID:            id,
		Guid:          guid,
		URL:           url,
		Title:         title,
		ChangeCounter: counter,
		Status:        status,
	}, nil
}

// FetchVisits returns up to limit visits of a page, newest first.
func (r *historyRepository) FetchVisits(ctx context.Context, placeID int64, limit int) ([]models.HistoryVisit, error) {
	log := logger.FromContext(ctx)

	rows, err := r.q.QueryContext(ctx, getVisitsNewestFirst, placeID, limit)
	if err != nil {
		log.Err(err).
			Str("func", "historyRepository.FetchVisits").
			Int64("place_id", placeID).
			Msg("failed to query visits")
		return nil, fmt.Errorf("failed to query visits (place_id=%d): %w", placeID, err)
	}
	defer rows.Close()

	var visits []models.HistoryVisit
	for rows.Next() {
		var visit models.HistoryVisit
		if scanErr := rows.Scan(&visit.Transition, &visit.Date); scanErr != nil {
			return nil, fmt.Errorf("failed to scan visit row: %w", scanErr)
		}
		visits = append(visits, visit)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failure during visit iteration: %w", rowsErr)
	}

	return visits, nil
}

// AddVisits inserts visits for a page. Duplicate (type, date) pairs are
// silently ignored, which is what makes re-applying a batch idempotent.
func (r *historyRepository) AddVisits(ctx context.Context, placeID int64, visits []models.HistoryVisit, isLocal bool) error {
	log := logger.FromContext(ctx)

	for _, visit := range visits {
		_, err := r.q.ExecContext(ctx, insertVisit, placeID, int64(visit.Transition), int64(visit.Date), isLocal)
		if err != nil {
			log.Err(err).
				Str("func", "historyRepository.AddVisits").
				Int64("place_id", placeID).
				Msg("failed to insert visit")
			return fmt.Errorf("failed to insert visit (place_id=%d): %w", placeID, err)
		}
	}

	return nil
}

func (r *historyRepository) UpdatePageTitle(ctx context.Context, placeID int64, title string) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, updatePageTitle, title, placeID); err != nil {
		log.Err(err).
			Str("func", "historyRepository.UpdatePageTitle").
			Int64("place_id", placeID).
			Msg("failed to update page title")
		return fmt.Errorf("failed to update page title (place_id=%d): %w", placeID, err)
	}

	return nil
}

// MarkPageSynced stamps the page with its server identity after an apply or
// reconciliation: the winning guid and Normal status. The change counter is
// left alone so edits racing the sync still upload.
func (r *historyRepository) MarkPageSynced(ctx context.Context, placeID int64, guid models.Guid) error {
	log := logger.FromContext(ctx)

	_, err := r.q.ExecContext(ctx, markPageSynced, string(guid), int64(models.SyncStatusNormal), placeID)
	if err != nil {
		log.Err(err).
			Str("func", "historyRepository.MarkPageSynced").
			Int64("place_id", placeID).
			Str("guid", guid.String()).
			Msg("failed to mark page synced")
		return fmt.Errorf("failed to mark page synced (place_id=%d): %w", placeID, err)
	}

	return nil
}

// BumpChangeCounter counts one local mutation of the page.
func (r *historyRepository) BumpChangeCounter(ctx context.Context, placeID int64) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, bumpPageChangeCounter, placeID); err != nil {
		log.Err(err).
			Str("func", "historyRepository.BumpChangeCounter").
			Int64("place_id", placeID).
			Msg("failed to bump page change counter")
		return fmt.Errorf("failed to bump page change counter (place_id=%d): %w", placeID, err)
	}

	return nil
}

// DeletePageLocally removes a page and its visits without leaving a
// tombstone. Used when applying a remote deletion.
func (r *historyRepository) DeletePageLocally(ctx context.Context, placeID int64) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, deletePageVisits, placeID); err != nil {
		log.Err(err).
			Str("func", "historyRepository.DeletePageLocally").
			Int64("place_id", placeID).
			Msg("failed to delete page visits")
		return fmt.Errorf("failed to delete page visits (place_id=%d): %w", placeID, err)
	}

	if _, err := r.q.ExecContext(ctx, deletePage, placeID); err != nil {
		log.Err(err).
			Str("func", "historyRepository.DeletePageLocally").
			Int64("place_id", placeID).
			Msg("failed to delete page")
		return fmt.Errorf("failed to delete page (place_id=%d): %w", placeID, err)
	}

	return nil
}

func (r *historyRepository) InsertTombstone(ctx context.Context, guid models.Guid, when models.Timestamp) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, insertPlaceTombstone, string(guid), int64(when)); err != nil {
		log.Err(err).
			Str("func", "historyRepository.InsertTombstone").
			Str("guid", guid.String()).
			Msg("failed to insert place tombstone")
		return fmt.Errorf("failed to insert place tombstone (guid=%s): %w", guid, err)
	}

	return nil
}

func (r *historyRepository) RemoveTombstone(ctx context.Context, guid models.Guid) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, deletePlaceTombstone, string(guid)); err != nil {
		log.Err(err).
			Str("func", "historyRepository.RemoveTombstone").
			Str("guid", guid.String()).
			Msg("failed to delete place tombstone")
		return fmt.Errorf("failed to delete place tombstone (guid=%s): %w", guid, err)
	}

	return nil
}

// FetchOutgoing returns up to maxPlaces changed pages plus all pending
// tombstone guids.
func (r *historyRepository) FetchOutgoing(ctx context.Context, maxPlaces int) ([]PageRow, []models.Guid, error) {
	log := logger.FromContext(ctx)

	rows, err := r.q.QueryContext(ctx, fetchOutgoingPages, int64(models.SyncStatusNormal), maxPlaces)
	if err != nil {
		log.Err(err).
			Str("func", "historyRepository.FetchOutgoing").
			Msg("failed to query outgoing pages")
		return nil, nil, fmt.Errorf("failed to query outgoing pages: %w", err)
	}
	defer rows.Close()

	var pages []PageRow
	for rows.Next() {
		var page PageRow
		scanErr := rows.Scan(
			&page.ID,
			&page.Guid,
			&page.URL,
			&page.Title,
			&page.ChangeCounter,
			&page.Status,
		)
		if scanErr != nil {
			return nil, nil, fmt.Errorf("failed to scan outgoing page row: %w", scanErr)
		}
		pages = append(pages, page)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, nil, fmt.Errorf("failure during outgoing page iteration: %w", rowsErr)
	}

	tombRows, err := r.q.QueryContext(ctx, fetchPlaceTombstones)
	if err != nil {
		log.Err(err).
			Str("func", "historyRepository.FetchOutgoing").
			Msg("failed to query place tombstones")
		return nil, nil, fmt.Errorf("failed to query place tombstones: %w", err)
	}
	defer tombRows.Close()

	var tombstones []models.Guid
	for tombRows.Next() {
		var guid models.Guid
		if scanErr := tombRows.Scan(&guid); scanErr != nil {
			return nil, nil, fmt.Errorf("failed to scan place tombstone row: %w", scanErr)
		}
		tombstones = append(tombstones, guid)
	}
	if rowsErr := tombRows.Err(); rowsErr != nil {
		return nil, nil, fmt.Errorf("failure during place tombstone iteration: %w", rowsErr)
	}

	return pages, tombstones, nil
}

// StageOutgoing snapshots the change counters of an upload batch. The TEMP
// table lands on the writer's single pinned connection, so the later
// FinishSynced on the same writer sees it.
func (r *historyRepository) StageOutgoing(ctx context.Context, rows []OutgoingSnapshotRow) error {
	log := logger.FromContext(ctx)

	for _, stmt := range []string{createHistoryOutgoingTable, clearHistoryOutgoingTable} {
		if _, err := r.q.ExecContext(ctx, stmt); err != nil {
			log.Err(err).
				Str("func", "historyRepository.StageOutgoing").
				Msg("failed to prepare outgoing page staging")
			return fmt.Errorf("failed to prepare outgoing page staging: %w", err)
		}
	}

	const varsPerItem = 2
	return eachChunk(rows, varsPerItem, func(chunk []OutgoingSnapshotRow, _ int) error {
		args := make([]any, 0, len(chunk)*varsPerItem)
		for _, row := range chunk {
			args = append(args, string(row.Guid), row.ChangeCounter)
		}

		query := stageOutgoingPagesPrefix + repeatPlaceholders(len(chunk), varsPerItem) + ";"
		if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
			log.Err(err).
				Str("func", "historyRepository.StageOutgoing").
				Int("chunk_len", len(chunk)).
				Msg("failed to stage outgoing pages")
			return fmt.Errorf("failed to stage outgoing pages: %w", err)
		}
		return nil
	})
}

// FinishSynced acknowledges uploaded pages and tombstones. Counters drop by
// the staged snapshot, never below zero, so edits racing the upload survive.
func (r *historyRepository) FinishSynced(ctx context.Context, pageGuids, tombstoneGuids []models.Guid) error {
	log := logger.FromContext(ctx)

	// the snapshot table may not exist when nothing was staged this session
	if _, err := r.q.ExecContext(ctx, createHistoryOutgoingTable); err != nil {
		return fmt.Errorf("failed to prepare outgoing page staging: %w", err)
	}

	err := eachChunk(pageGuids, 1, func(chunk []models.Guid, _ int) error {
		guidStrs := make([]string, len(chunk))
		for i, g := range chunk {
			guidStrs[i] = string(g)
		}

		query, args, err := sq.Update("places").
			Set("sync_change_counter", sq.Expr(
				`MAX(0, sync_change_counter - COALESCE((
					SELECT change_counter FROM temp_places_outgoing o
					WHERE o.guid = places.guid
				), 0))`)).
			Set("sync_status", int64(models.SyncStatusNormal)).
			Where(sq.Eq{"guid": guidStrs}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build page finalize query: %w", err)
		}
		if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
			log.Err(err).
				Str("func", "historyRepository.FinishSynced").
				Msg("failed to settle uploaded pages")
			return fmt.Errorf("failed to settle uploaded pages: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return eachChunk(tombstoneGuids, 1, func(chunk []models.Guid, _ int) error {
		guidStrs := make([]string, len(chunk))
		for i, g := range chunk {
			guidStrs[i] = string(g)
		}

		query, args, err := sq.Delete("places_tombstones").
			Where(sq.Eq{"guid": guidStrs}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build tombstone finalize query: %w", err)
		}
		if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
			log.Err(err).
				Str("func", "historyRepository.FinishSynced").
				Msg("failed to clear uploaded place tombstones")
			return fmt.Errorf("failed to clear uploaded place tombstones: %w", err)
		}
		return nil
	})
}

// Reset forgets the server relationship of every page so the next sync
// exchanges everything.
func (r *historyRepository) Reset(ctx context.Context) error {
	log := logger.FromContext(ctx)

	if _, err := r.q.ExecContext(ctx, resetPagesStatus, int64(models.SyncStatusUnknown)); err != nil {
		log.Err(err).
			Str("func", "historyRepository.Reset").
			Msg("failed to reset page sync status")
		return fmt.Errorf("failed to reset page sync status: %w", err)
	}

	return nil
}

// AddLocalVisit records a user visit: finds or creates the page, stores the
// visit, counts the change. Runs through the cooperative lock so it queues
// fairly behind a chunked sync.
func (r *historyRepository) AddLocalVisit(ctx context.Context, url, title string, visit models.HistoryVisit) error {
	tx, err := r.db.UncheckedTransaction(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	txRepo := r.WithTx(tx).(*historyRepository)

	page, err := txRepo.FetchPageByURL(ctx, url)
	if err != nil {
		return err
	}

	if page == nil {
		page, err = txRepo.CreatePage(ctx, models.NewGuid(), url, title, 0, models.SyncStatusNew)
		if err != nil {
			return err
		}
	} else if title != "" && title != page.Title {
		if err := txRepo.UpdatePageTitle(ctx, page.ID, title); err != nil {
			return err
		}
	}

	if err := txRepo.AddVisits(ctx, page.ID, []models.HistoryVisit{visit}, true); err != nil {
		return err
	}
	if err := txRepo.BumpChangeCounter(ctx, page.ID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// DeletePlace removes a page entirely. A tombstone is written only when the
// server already knows the page.
func (r *historyRepository) DeletePlace(ctx context.Context, guid models.Guid) error {
	tx, err := r.db.UncheckedTransaction(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	txRepo := r.WithTx(tx).(*historyRepository)

	page, err := txRepo.FetchPageByGuid(ctx, guid)
	if err != nil {
		return err
	}
	if page == nil {
		return nil
	}

	if err := txRepo.DeletePageLocally(ctx, page.ID); err != nil {
		return err
	}
	if page.Status == models.SyncStatusNormal {
		if err := txRepo.InsertTombstone(ctx, guid, models.Now()); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
