package tasks

import (
	"context"
	"time"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/repositories"
)

// Store is the item store the pipeline runs on.
//
// Implemented by [repositories.ItemRepository].
type Store interface {
	Create(ctx context.Context, item *models.MigrationItem) error
	Get(ctx context.Context, id string) (*models.MigrationItem, error)
	GetByKey(ctx context.Context, source, stableKey string) (*models.MigrationItem, error)
	List(ctx context.Context, criteria map[string]any) ([]*models.MigrationItem, error)
	Transition(ctx context.Context, id string, from, to models.State, reason string) error

	ClaimNext(ctx context.Context, worker string) (*models.MigrationItem, error)
	CompleteDownload(ctx context.Context, id, worker string, asset models.Asset) error
	FailDownload(ctx context.Context, id, worker, reason string) error

	ClaimForTranscode(ctx context.Context, worker string) (*models.MigrationItem, error)
	CompleteTranscode(ctx context.Context, id, worker string, ok bool, reason string) error

	ReclaimOrphans(ctx context.Context, state models.State, olderThan time.Duration) (int64, error)
	RecoverDownloaded(ctx context.Context, assetExists func(path string) bool) (int64, error)

	Retry(ctx context.Context, id string) error
	RetryAllFailed(ctx context.Context) (int64, error)
	Purge(ctx context.Context, ids []string) (*repositories.PurgeResult, error)
	CountByState(ctx context.Context) (map[models.State]int, error)
}

// Catalog answers whether a stable key was already published.
//
// Implemented by [repositories.CatalogRepository].
type Catalog interface {
	Exists(ctx context.Context, source, stableKey string) (bool, error)
}

var (
	_ Store   = (*repositories.ItemRepository)(nil)
	_ Catalog = (*repositories.CatalogRepository)(nil)
)

// ReclaimReport counts what a recovery pass released.
type ReclaimReport struct {
	Downloads  int64 `json:"downloads"`  // downloading -> pending_download
	Transcodes int64 `json:"transcodes"` // processing -> pending_transcode
	Recovered  int64 `json:"recovered"`  // downloaded reconciled
}
