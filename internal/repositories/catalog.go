package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/shared"
)

// CatalogRepository stores the permanent catalog of published videos.
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository creates a new CatalogRepository with the given database connection
func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// Exists reports whether a record with the stable key is already published for source.
func (r *CatalogRepository) Exists(ctx context.Context, source, stableKey string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM catalog_records WHERE source = ? AND stable_key = ?)`,
		source, stableKey,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check catalog: %w", err)
	}
	return exists, nil
}

// Create inserts a catalog record. Returns [shared.ErrDuplicateKey] if it is already present.
func (r *CatalogRepository) Create(ctx context.Context, rec *models.CatalogRecord) error {
	if rec.Source == "" || rec.StableKey == "" {
		return fmt.Errorf("%w: catalog record needs source and stable key", shared.ErrInvalidInput)
	}
	if rec.PublishedAt.IsZero() {
		rec.PublishedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO catalog_records (source, stable_key, item_id, title, asset_path, published_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.Source, rec.StableKey, nullString(rec.ItemID), rec.Title, nullString(rec.AssetPath), rec.PublishedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: catalog %s/%s", shared.ErrDuplicateKey, rec.Source, rec.StableKey)
	}
	if err != nil {
		return fmt.Errorf("failed to insert catalog record: %w", err)
	}
	return nil
}

// List returns catalog records for source, or all records when source is empty.
func (r *CatalogRepository) List(ctx context.Context, source string) ([]models.CatalogRecord, error) {
	query := `SELECT source, stable_key, item_id, title, asset_path, published_at FROM catalog_records`
	args := []any{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY published_at ASC, stable_key ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	var records []models.CatalogRecord
	for rows.Next() {
		var (
			rec       models.CatalogRecord
			itemID    sql.NullString
			assetPath sql.NullString
		)
		if err := rows.Scan(&rec.Source, &rec.StableKey, &itemID, &rec.Title, &assetPath, &rec.PublishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan catalog record: %w", err)
		}
		rec.ItemID = itemID.String
		rec.AssetPath = assetPath.String
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}

// Delete removes a catalog record.
func (r *CatalogRepository) Delete(ctx context.Context, source, stableKey string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM catalog_records WHERE source = ? AND stable_key = ?`, source, stableKey)
	if err != nil {
		return fmt.Errorf("failed to delete catalog record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: catalog %s/%s", shared.ErrNotFound, source, stableKey)
	}
	return nil
}
