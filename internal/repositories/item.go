package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/shared"
)

const itemColumns = `
	id, sequence, source, stable_key, source_locator, title, metadata,
	size_hint, state, retry_count, failure_reason, claimed_by, claimed_at,
	asset_path, checksum, bytes, created_at, updated_at`

// ItemRepository implements models.Repository[*models.MigrationItem] over sqlite.
//
// Besides CRUD it exposes the compare-and-swap transitions the scheduler,
// workers, the transcode handoff and operator actions are built on.
type ItemRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ models.Repository[*models.MigrationItem] = (*ItemRepository)(nil)

// NewItemRepository creates a new ItemRepository with the given database connection
func NewItemRepository(db *sql.DB) *ItemRepository {
	return &ItemRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock replaces the clock used for timestamps and claim ages.
func (r *ItemRepository) SetClock(now func() time.Time) {
	r.now = func() time.Time { return now().UTC() }
}

// DB returns the underlying connection.
func (r *ItemRepository) DB() *sql.DB {
	return r.db
}

// Create inserts a new item with a generated ID and the next sequence number.
//
// Returns [shared.ErrDuplicateKey] if the (source, stable key) pair already exists.
func (r *ItemRepository) Create(ctx context.Context, item *models.MigrationItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	metadata, err := json.Marshal(item.Metadata())
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sequence, err := NextSequence(ctx, tx, "items")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	now := r.now()

	query := `
		INSERT INTO items (
			id, sequence, source, stable_key, source_locator, title, metadata,
			size_hint, state, retry_count, failure_reason, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		id,
		sequence,
		item.Source(),
		item.StableKey(),
		item.SourceLocator(),
		item.Title(),
		string(metadata),
		item.SizeHint(),
		item.State(),
		item.RetryCount(),
		nullString(item.FailureReason()),
		now,
		now,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s/%s", shared.ErrDuplicateKey, item.Source(), item.StableKey())
	}
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit item: %w", err)
	}

	item.SetID(id)
	item.SetSequence(sequence)
	return nil
}

// Get retrieves an item by ID
func (r *ItemRepository) Get(ctx context.Context, id string) (*models.MigrationItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = ?`
	item, err := scanItem(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: item %s", shared.ErrNotFound, id)
	}
	return item, err
}

// GetByKey retrieves an item by its source and stable key.
func (r *ItemRepository) GetByKey(ctx context.Context, source, stableKey string) (*models.MigrationItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE source = ? AND stable_key = ?`
	item, err := scanItem(r.db.QueryRowContext(ctx, query, source, stableKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: item %s/%s", shared.ErrNotFound, source, stableKey)
	}
	return item, err
}

// Update writes an item's descriptive fields and state.
//
// Items held by a claim (downloading, processing) are never overwritten; use
// the transition methods for those.
func (r *ItemRepository) Update(ctx context.Context, item *models.MigrationItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	metadata, err := json.Marshal(item.Metadata())
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		UPDATE items
		SET title = ?, source_locator = ?, metadata = ?, size_hint = ?,
			state = ?, failure_reason = ?, updated_at = ?
		WHERE id = ? AND state NOT IN (?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		item.Title(),
		item.SourceLocator(),
		string(metadata),
		item.SizeHint(),
		item.State(),
		nullString(item.FailureReason()),
		r.now(),
		item.ID(),
		models.StateDownloading,
		models.StateProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}

	return r.expectOne(ctx, r.db, result, item.ID())
}

// Delete removes an item by ID. Asset files are the caller's concern.
func (r *ItemRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: item %s", shared.ErrNotFound, id)
	}
	return nil
}

// List retrieves items matching the given criteria in claim order.
//
// Supported criteria: "state" (string or [models.State]), "source" (string),
// "limit" and "offset" (int).
func (r *ItemRepository) List(ctx context.Context, criteria map[string]any) ([]*models.MigrationItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE 1 = 1`
	args := []any{}

	switch state := criteria["state"].(type) {
	case models.State:
		if state != "" {
			query += " AND state = ?"
			args = append(args, state)
		}
	case string:
		if state != "" {
			query += " AND state = ?"
			args = append(args, state)
		}
	}

	if source, ok := criteria["source"].(string); ok && source != "" {
		query += " AND source = ?"
		args = append(args, source)
	}

	query += " ORDER BY sequence ASC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset, ok := criteria["offset"].(int); ok && offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []*models.MigrationItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return items, nil
}

// ClaimNext claims the lowest-sequence pending_download item for worker.
//
// The selection and the state change are one conditional UPDATE, so two
// callers can never receive the same item. Returns [shared.ErrNoEligibleItems]
// when nothing is pending.
func (r *ItemRepository) ClaimNext(ctx context.Context, worker string) (*models.MigrationItem, error) {
	return r.claimNext(ctx, models.StatePendingDownload, models.StateDownloading, worker)
}

// Claim claims a specific item if and only if it is pending_download.
//
// Returns [shared.ErrNotClaimable] when the item is in any other state.
func (r *ItemRepository) Claim(ctx context.Context, id, worker string) (*models.MigrationItem, error) {
	query := `
		UPDATE items
		SET state = ?, claimed_by = ?, claimed_at = ?, updated_at = ?
		WHERE id = ? AND state = ?
		RETURNING ` + itemColumns

	now := r.now()
	item, err := scanItem(r.db.QueryRowContext(ctx, query,
		models.StateDownloading, worker, now, now, id, models.StatePendingDownload,
	))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: %s", shared.ErrNotClaimable, id)
	}
	return item, err
}

// ClaimForTranscode claims the lowest-sequence pending_transcode item for an
// external transcode worker, moving it to processing.
func (r *ItemRepository) ClaimForTranscode(ctx context.Context, worker string) (*models.MigrationItem, error) {
	return r.claimNext(ctx, models.StatePendingTranscode, models.StateProcessing, worker)
}

func (r *ItemRepository) claimNext(ctx context.Context, from, to models.State, worker string) (*models.MigrationItem, error) {
	if worker == "" {
		return nil, fmt.Errorf("%w: worker id is required", shared.ErrMissingArgument)
	}

	query := `
		UPDATE items
		SET state = ?, claimed_by = ?, claimed_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM items WHERE state = ? ORDER BY sequence ASC LIMIT 1
		) AND state = ?
		RETURNING ` + itemColumns

	now := r.now()
	item, err := scanItem(r.db.QueryRowContext(ctx, query, to, worker, now, now, from, from))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrNoEligibleItems
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim item: %w", err)
	}
	return item, nil
}

// Transition moves an item from one state to another with reason, only if it
// is currently in from. Claim fields are cleared.
func (r *ItemRepository) Transition(ctx context.Context, id string, from, to models.State, reason string) error {
	query := `
		UPDATE items
		SET state = ?, failure_reason = ?, claimed_by = NULL, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND state = ?
	`
	result, err := r.db.ExecContext(ctx, query, to, nullString(reason), r.now(), id, from)
	if err != nil {
		return fmt.Errorf("failed to transition item: %w", err)
	}
	return r.expectOne(ctx, r.db, result, id)
}

// CompleteDownload records a verified asset for an item held by worker and
// hands it to transcoding: downloading -> downloaded -> pending_transcode,
// in one transaction. The failure reason is cleared.
func (r *ItemRepository) CompleteDownload(ctx context.Context, id, worker string, asset models.Asset) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := r.now()
	result, err := tx.ExecContext(ctx, `
		UPDATE items
		SET state = ?, failure_reason = NULL, asset_path = ?, checksum = ?, bytes = ?, updated_at = ?
		WHERE id = ? AND state = ? AND claimed_by = ?
	`, models.StateDownloaded, asset.Path, asset.Checksum, asset.Bytes, now, id, models.StateDownloading, worker)
	if err != nil {
		return fmt.Errorf("failed to mark item downloaded: %w", err)
	}
	if err := r.expectOne(ctx, tx, result, id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE items
		SET state = ?, claimed_by = NULL, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND state = ?
	`, models.StatePendingTranscode, now, id, models.StateDownloaded); err != nil {
		return fmt.Errorf("failed to hand off item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit download: %w", err)
	}
	return nil
}

// FailDownload releases worker's claim as download_failed, incrementing the
// retry count and recording reason.
func (r *ItemRepository) FailDownload(ctx context.Context, id, worker, reason string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE items
		SET state = ?, retry_count = retry_count + 1, failure_reason = ?,
			claimed_by = NULL, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND state = ? AND claimed_by = ?
	`, models.StateDownloadFailed, reason, r.now(), id, models.StateDownloading, worker)
	if err != nil {
		return fmt.Errorf("failed to mark item failed: %w", err)
	}
	return r.expectOne(ctx, r.db, result, id)
}

// CompleteTranscode records the external transcode result for an item in processing.
//
// On success the item becomes processed and is published to the catalog in the
// same transaction. On failure it becomes failed with reason and its retry
// count grows. When worker is non-empty it must match the claim holder.
func (r *ItemRepository) CompleteTranscode(ctx context.Context, id, worker string, ok bool, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	to, increment := models.StateProcessed, 0
	if !ok {
		to, increment = models.StateFailed, 1
		if reason == "" {
			reason = "transcode failed"
		}
	} else {
		reason = ""
	}

	query := `
		UPDATE items
		SET state = ?, retry_count = retry_count + ?, failure_reason = ?,
			claimed_by = NULL, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND state = ?
	`
	args := []any{to, increment, nullString(reason), r.now(), id, models.StateProcessing}
	if worker != "" {
		query += " AND claimed_by = ?"
		args = append(args, worker)
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to complete transcode: %w", err)
	}
	if err := r.expectOne(ctx, tx, result, id); err != nil {
		return err
	}

	if ok {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO catalog_records (source, stable_key, item_id, title, asset_path, published_at)
			SELECT source, stable_key, id, title, asset_path, ? FROM items WHERE id = ?
			ON CONFLICT (source, stable_key) DO NOTHING
		`, r.now(), id); err != nil {
			return fmt.Errorf("failed to publish item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transcode result: %w", err)
	}
	return nil
}

// ReclaimOrphans releases claims older than olderThan. Items in downloading
// return to pending_download and items in processing return to
// pending_transcode. Returns the number of items released.
func (r *ItemRepository) ReclaimOrphans(ctx context.Context, state models.State, olderThan time.Duration) (int64, error) {
	var to models.State
	switch state {
	case models.StateDownloading:
		to = models.StatePendingDownload
	case models.StateProcessing:
		to = models.StatePendingTranscode
	default:
		return 0, fmt.Errorf("%w: cannot reclaim %s items", shared.ErrInvalidArgument, state)
	}

	now := r.now()
	result, err := r.db.ExecContext(ctx, `
		UPDATE items
		SET state = ?, claimed_by = NULL, claimed_at = NULL, updated_at = ?
		WHERE state = ? AND (claimed_at IS NULL OR claimed_at < ?)
	`, to, now, state, now.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim orphans: %w", err)
	}
	return result.RowsAffected()
}

// RecoverDownloaded reconciles items stranded in downloaded by an interrupted
// handoff. Items whose asset still exists continue to pending_transcode; the
// rest forget their asset and return to pending_download.
func (r *ItemRepository) RecoverDownloaded(ctx context.Context, assetExists func(path string) bool) (int64, error) {
	items, err := r.List(ctx, map[string]any{"state": models.StateDownloaded})
	if err != nil {
		return 0, err
	}

	var moved int64
	for _, item := range items {
		var result sql.Result
		if item.AssetPath() != "" && assetExists(item.AssetPath()) {
			result, err = r.db.ExecContext(ctx, `
				UPDATE items
				SET state = ?, claimed_by = NULL, claimed_at = NULL, updated_at = ?
				WHERE id = ? AND state = ?
			`, models.StatePendingTranscode, r.now(), item.ID(), models.StateDownloaded)
		} else {
			result, err = r.db.ExecContext(ctx, `
				UPDATE items
				SET state = ?, asset_path = NULL, checksum = NULL, bytes = 0,
					claimed_by = NULL, claimed_at = NULL, updated_at = ?
				WHERE id = ? AND state = ?
			`, models.StatePendingDownload, r.now(), item.ID(), models.StateDownloaded)
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover item %s: %w", item.ID(), err)
		}
		if n, _ := result.RowsAffected(); n == 1 {
			moved++
		}
	}
	return moved, nil
}

const retryTarget = `CASE WHEN state = 'failed' AND asset_path IS NOT NULL THEN 'pending_transcode' ELSE 'pending_download' END`

// Retry makes a single retry-eligible item schedulable again. A
// download_failed item returns to pending_download. A failed item returns to
// pending_transcode while its asset is recorded, otherwise to
// pending_download. The retry count is left untouched.
func (r *ItemRepository) Retry(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE items
		SET state = `+retryTarget+`, claimed_by = NULL, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND state IN (?, ?)
	`, r.now(), id, models.StateDownloadFailed, models.StateFailed)
	if err != nil {
		return fmt.Errorf("failed to retry item: %w", err)
	}
	return r.expectOne(ctx, r.db, result, id)
}

// RetryAllFailed applies [ItemRepository.Retry] to every retry-eligible item
// and returns how many moved.
func (r *ItemRepository) RetryAllFailed(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE items
		SET state = `+retryTarget+`, claimed_by = NULL, claimed_at = NULL, updated_at = ?
		WHERE state IN (?, ?)
	`, r.now(), models.StateDownloadFailed, models.StateFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to retry items: %w", err)
	}
	return result.RowsAffected()
}

// ClearAsset forgets the stored asset of an item that is not held by a claim.
func (r *ItemRepository) ClearAsset(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE items
		SET asset_path = NULL, checksum = NULL, bytes = 0, updated_at = ?
		WHERE id = ? AND state NOT IN (?, ?)
	`, r.now(), id, models.StateDownloading, models.StateProcessing)
	if err != nil {
		return fmt.Errorf("failed to clear asset: %w", err)
	}
	return r.expectOne(ctx, r.db, result, id)
}

// PurgeResult reports what [ItemRepository.Purge] removed.
type PurgeResult struct {
	Removed []*models.MigrationItem // Deleted items, for asset cleanup
	Skipped []string                // IDs held by an active claim
	Missing []string                // IDs that did not exist
}

// Purge deletes the given items. Items currently held by a claim are skipped
// so no worker loses its row mid-transfer.
func (r *ItemRepository) Purge(ctx context.Context, ids []string) (*PurgeResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res := &PurgeResult{}
	for _, id := range ids {
		item, err := scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			res.Missing = append(res.Missing, id)
			continue
		}
		if err != nil {
			return nil, err
		}

		if item.State() == models.StateDownloading || item.State() == models.StateProcessing {
			res.Skipped = append(res.Skipped, id)
			continue
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ? AND state = ?`, id, item.State()); err != nil {
			return nil, fmt.Errorf("failed to purge item %s: %w", id, err)
		}
		res.Removed = append(res.Removed, item)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit purge: %w", err)
	}
	return res, nil
}

// CountByState groups all items by state.
func (r *ItemRepository) CountByState(ctx context.Context) (map[models.State]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM items GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.State]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[models.State(state)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return counts, nil
}

// expectOne turns a zero-row conditional update into [shared.ErrNotFound] or
// [shared.ErrStateConflict].
func (r *ItemRepository) expectOne(ctx context.Context, q querier, result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var state string
	err = q.QueryRowContext(ctx, `SELECT state FROM items WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: item %s", shared.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read item state: %w", err)
	}
	return fmt.Errorf("%w: item %s is %s", shared.ErrStateConflict, id, state)
}

// scanItem scans a single row into a [models.MigrationItem]
func scanItem(row scanner) (*models.MigrationItem, error) {
	var (
		v             models.ItemView
		metadata      string
		state         string
		failureReason sql.NullString
		claimedBy     sql.NullString
		claimedAt     sql.NullTime
		assetPath     sql.NullString
		checksum      sql.NullString
	)

	err := row.Scan(
		&v.ID, &v.Sequence, &v.Source, &v.StableKey, &v.SourceLocator, &v.Title, &metadata,
		&v.SizeHint, &state, &v.RetryCount, &failureReason, &claimedBy, &claimedAt,
		&assetPath, &checksum, &v.Bytes, &v.CreatedAt, &v.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}

	if strings.TrimSpace(metadata) != "" {
		if err := json.Unmarshal([]byte(metadata), &v.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", v.ID, err)
		}
	}

	v.State = models.State(state)
	v.FailureReason = failureReason.String
	v.ClaimedBy = claimedBy.String
	if claimedAt.Valid {
		t := claimedAt.Time
		v.ClaimedAt = &t
	}
	v.AssetPath = assetPath.String
	v.Checksum = checksum.String

	return models.RestoreItem(v), nil
}
