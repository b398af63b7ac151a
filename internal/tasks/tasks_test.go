package tasks

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/repositories"
	"github.com/desertthunder/vidport/internal/shared"
	"github.com/desertthunder/vidport/internal/sources"
	tu "github.com/desertthunder/vidport/internal/testing"
)

func testLogger() *log.Logger {
	return shared.NewLogger(io.Discard)
}

// setupStore returns an item repository on a migrated database. Scheduler
// tests use a file database so workers and ticks get their own connections.
func setupStore(t *testing.T, onDisk bool) *repositories.ItemRepository {
	t.Helper()
	return repositories.NewItemRepository(tu.SetupDB(t, onDisk))
}

func candidate(n int) models.CandidateItem {
	key := fmt.Sprintf("vid-%02d", n)
	return models.CandidateItem{
		StableKey:     key,
		Title:         fmt.Sprintf("Video %d", n),
		SourceLocator: key + ".mp4",
	}
}

func payload(n int) []byte {
	return []byte(fmt.Sprintf("payload for video %02d", n))
}

// seedPending creates n pending_download items for src, storing their payloads.
func seedPending(t *testing.T, store *repositories.ItemRepository, src *tu.FakeSource, n int) []*models.MigrationItem {
	t.Helper()
	ctx := context.Background()

	items := make([]*models.MigrationItem, 0, n)
	for i := 1; i <= n; i++ {
		c := candidate(i)
		src.Put(c.SourceLocator, payload(i))
		item := models.NewMigrationItem(src.Name(), c)
		item.SetState(models.StatePendingDownload, "")
		require.NoError(t, store.Create(ctx, item))
		items = append(items, item)
	}
	return items
}

func stateOf(t *testing.T, store *repositories.ItemRepository, id string) *models.MigrationItem {
	t.Helper()
	item, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return item
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop in time")
	}
}

func newRegistry(srcs ...sources.Source) *sources.Registry {
	return sources.NewRegistry(srcs...)
}
