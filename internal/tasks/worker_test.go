package tasks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/repositories"
	"github.com/desertthunder/vidport/internal/shared"
	"github.com/desertthunder/vidport/internal/sources"
	tu "github.com/desertthunder/vidport/internal/testing"
)

// failingCompleteStore records everything except completed downloads.
type failingCompleteStore struct {
	*repositories.ItemRepository
	err error
}

func (s failingCompleteStore) CompleteDownload(context.Context, string, string, models.Asset) error {
	return s.err
}

func assetName(key string) string {
	return key + "-" + assetDigest(sources.ArchiveName, key) + ".mp4"
}

type workerFixture struct {
	worker *Worker
	store  *repositories.ItemRepository
	src    *tu.FakeSource
	dir    string
}

func newWorkerFixture(t *testing.T, opts WorkerOpts) workerFixture {
	t.Helper()
	store := setupStore(t, false)
	src := tu.NewFakeSource(sources.ArchiveName)
	opts.StorageDir = t.TempDir()
	return workerFixture{
		worker: NewWorker(store, newRegistry(src), opts, testLogger()),
		store:  store,
		src:    src,
		dir:    opts.StorageDir,
	}
}

func (f workerFixture) claim(t *testing.T, worker string) *models.MigrationItem {
	t.Helper()
	item, err := f.store.ClaimNext(context.Background(), worker)
	require.NoError(t, err)
	return item
}

func (f workerFixture) tempFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(f.dir, tempDirName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestWorkerDownload(t *testing.T) {
	ctx := context.Background()

	t.Run("success moves item to pending_transcode", func(t *testing.T) {
		f := newWorkerFixture(t, WorkerOpts{})
		seedPending(t, f.store, f.src, 1)
		item := f.claim(t, "slot-1")

		ev := f.worker.Download(ctx, item, "slot-1")

		assert.Equal(t, models.OutcomeCompleted, ev.Outcome)
		assert.Equal(t, int64(len(payload(1))), ev.Bytes)
		assert.Equal(t, item.ID(), ev.ItemID)

		got := stateOf(t, f.store, item.ID())
		assert.Equal(t, models.StatePendingTranscode, got.State())
		assert.Equal(t, filepath.Join(f.dir, sources.ArchiveName, assetName("vid-01")), got.AssetPath())
		assert.Empty(t, got.ClaimedBy())
		assert.Empty(t, got.FailureReason())

		sum := sha256.Sum256(payload(1))
		assert.Equal(t, hex.EncodeToString(sum[:]), got.Checksum())
		assert.Equal(t, string(payload(1)), tu.MustReadFile(t, got.AssetPath()))
		assert.Empty(t, f.tempFiles(t))
	})

	t.Run("size mismatch fails without leaving files", func(t *testing.T) {
		f := newWorkerFixture(t, WorkerOpts{})
		seedPending(t, f.store, f.src, 1)
		f.src.ReportSize("vid-01.mp4", 9999)
		item := f.claim(t, "slot-1")

		ev := f.worker.Download(ctx, item, "slot-1")

		assert.Equal(t, models.OutcomeFailed, ev.Outcome)
		got := stateOf(t, f.store, item.ID())
		assert.Equal(t, models.StateDownloadFailed, got.State())
		assert.Equal(t, 1, got.RetryCount())
		assert.True(t, strings.HasPrefix(got.FailureReason(), sources.Retryable+":"), got.FailureReason())
		assert.Contains(t, got.FailureReason(), shared.ErrIntegrity.Error())
		assert.Empty(t, got.AssetPath())
		assert.Empty(t, f.tempFiles(t))
		tu.AssertNoFile(t, filepath.Join(f.dir, sources.ArchiveName, assetName("vid-01")))
	})

	t.Run("size hint mismatch fails", func(t *testing.T) {
		f := newWorkerFixture(t, WorkerOpts{})
		c := candidate(1)
		c.SizeHint = 5
		f.src.Put(c.SourceLocator, payload(1))
		item := models.NewMigrationItem(f.src.Name(), c)
		item.SetState(models.StatePendingDownload, "")
		require.NoError(t, f.store.Create(ctx, item))

		ev := f.worker.Download(ctx, f.claim(t, "slot-1"), "slot-1")

		assert.Equal(t, models.OutcomeFailed, ev.Outcome)
		assert.Contains(t, ev.Reason, "expected 5")
	})

	t.Run("empty payload fails", func(t *testing.T) {
		f := newWorkerFixture(t, WorkerOpts{})
		seedPending(t, f.store, f.src, 1)
		f.src.Put("vid-01.mp4", []byte{})

		ev := f.worker.Download(ctx, f.claim(t, "slot-1"), "slot-1")

		assert.Equal(t, models.OutcomeFailed, ev.Outcome)
		assert.Contains(t, ev.Reason, "empty payload")
	})

	t.Run("missing object is permanent", func(t *testing.T) {
		f := newWorkerFixture(t, WorkerOpts{})
		seedPending(t, f.store, f.src, 1)
		f.src.Remove("vid-01.mp4")
		item := f.claim(t, "slot-1")

		ev := f.worker.Download(ctx, item, "slot-1")

		assert.Equal(t, models.OutcomeFailed, ev.Outcome)
		got := stateOf(t, f.store, item.ID())
		assert.Equal(t, models.StateDownloadFailed, got.State())
		assert.True(t, strings.HasPrefix(got.FailureReason(), sources.Permanent+":"), got.FailureReason())
	})

	t.Run("timeout is retryable", func(t *testing.T) {
		f := newWorkerFixture(t, WorkerOpts{FetchTimeout: 50 * time.Millisecond})
		seedPending(t, f.store, f.src, 1)
		f.src.Hang("vid-01.mp4")
		item := f.claim(t, "slot-1")

		ev := f.worker.Download(ctx, item, "slot-1")

		assert.Equal(t, models.OutcomeFailed, ev.Outcome)
		got := stateOf(t, f.store, item.ID())
		assert.Equal(t, models.StateDownloadFailed, got.State())
		assert.Equal(t, 1, got.RetryCount())
		assert.True(t, strings.HasPrefix(got.FailureReason(), sources.Retryable+":"), got.FailureReason())
		assert.Contains(t, got.FailureReason(), shared.ErrTimeout.Error())
	})

	t.Run("unknown source is permanent", func(t *testing.T) {
		f := newWorkerFixture(t, WorkerOpts{})
		item := models.NewMigrationItem("elsewhere", candidate(1))
		item.SetState(models.StatePendingDownload, "")
		require.NoError(t, f.store.Create(ctx, item))

		ev := f.worker.Download(ctx, f.claim(t, "slot-1"), "slot-1")

		assert.Equal(t, models.OutcomeFailed, ev.Outcome)
		assert.True(t, strings.HasPrefix(ev.Reason, sources.Permanent+":"), ev.Reason)
	})

	t.Run("retry counts accumulate", func(t *testing.T) {
		f := newWorkerFixture(t, WorkerOpts{})
		seedPending(t, f.store, f.src, 1)
		f.src.FailFetch("vid-01.mp4", errors.New("connection reset"))

		var id string
		for attempt := 1; attempt <= 3; attempt++ {
			item := f.claim(t, fmt.Sprintf("slot-%d", attempt))
			id = item.ID()
			f.worker.Download(ctx, item, item.ClaimedBy())
			assert.Equal(t, attempt, stateOf(t, f.store, id).RetryCount())
			require.NoError(t, f.store.Retry(ctx, id))
		}
		assert.Equal(t, models.StatePendingDownload, stateOf(t, f.store, id).State())
	})

	t.Run("keys that sanitize alike keep separate assets", func(t *testing.T) {
		f := newWorkerFixture(t, WorkerOpts{})
		keys := []string{"season 1/ep.mp4", "season_1/ep.mp4"}
		require.Equal(t, shared.SanitizeName(keys[0]), shared.SanitizeName(keys[1]))

		ids := make([]string, 0, len(keys))
		for _, key := range keys {
			f.src.Put(key, []byte("payload of "+key))
			item := models.NewMigrationItem(f.src.Name(), models.CandidateItem{StableKey: key, SourceLocator: key})
			item.SetState(models.StatePendingDownload, "")
			require.NoError(t, f.store.Create(ctx, item))
			ids = append(ids, item.ID())
		}
		for range keys {
			ev := f.worker.Download(ctx, f.claim(t, "slot-1"), "slot-1")
			require.Equal(t, models.OutcomeCompleted, ev.Outcome, ev.Reason)
		}

		a, b := stateOf(t, f.store, ids[0]), stateOf(t, f.store, ids[1])
		require.NotEqual(t, a.AssetPath(), b.AssetPath())
		assert.Equal(t, "payload of "+keys[0], tu.MustReadFile(t, a.AssetPath()))
		assert.Equal(t, "payload of "+keys[1], tu.MustReadFile(t, b.AssetPath()))
	})

	t.Run("unrecorded completion releases the claim", func(t *testing.T) {
		f := newWorkerFixture(t, WorkerOpts{})
		seedPending(t, f.store, f.src, 1)
		item := f.claim(t, "slot-1")

		store := failingCompleteStore{ItemRepository: f.store, err: errors.New("database is locked")}
		w := NewWorker(store, newRegistry(f.src), WorkerOpts{StorageDir: f.dir}, testLogger())

		ev := w.Download(ctx, item, "slot-1")

		assert.Equal(t, models.OutcomeFailed, ev.Outcome)
		assert.Contains(t, ev.Reason, "database is locked")

		got := stateOf(t, f.store, item.ID())
		assert.Equal(t, models.StateDownloadFailed, got.State())
		assert.Equal(t, 1, got.RetryCount())
		assert.Empty(t, got.ClaimedBy())
		assert.True(t, strings.HasPrefix(got.FailureReason(), sources.Retryable+":"), got.FailureReason())
		tu.AssertNoFile(t, filepath.Join(f.dir, sources.ArchiveName, assetName("vid-01")))
		assert.Empty(t, f.tempFiles(t))
	})

	t.Run("lost claim is left to its new owner", func(t *testing.T) {
		f := newWorkerFixture(t, WorkerOpts{})
		seedPending(t, f.store, f.src, 1)
		item := f.claim(t, "slot-1")

		store := failingCompleteStore{ItemRepository: f.store, err: fmt.Errorf("%w: item %s is pending_download", shared.ErrStateConflict, item.ID())}
		w := NewWorker(store, newRegistry(f.src), WorkerOpts{StorageDir: f.dir}, testLogger())

		ev := w.Download(ctx, item, "slot-1")

		assert.Equal(t, models.OutcomeFailed, ev.Outcome)
		got := stateOf(t, f.store, item.ID())
		assert.Equal(t, models.StateDownloading, got.State())
		assert.Zero(t, got.RetryCount())
	})

	t.Run("throttled download completes", func(t *testing.T) {
		f := newWorkerFixture(t, WorkerOpts{MaxBytesPerSecond: 1 << 20})
		seedPending(t, f.store, f.src, 1)

		ev := f.worker.Download(ctx, f.claim(t, "slot-1"), "slot-1")
		assert.Equal(t, models.OutcomeCompleted, ev.Outcome)
	})
}

func TestWorkerAssetPath(t *testing.T) {
	w := NewWorker(nil, nil, WorkerOpts{StorageDir: "/store"}, testLogger())

	tests := []struct {
		name    string
		key     string
		locator string
		want    string
	}{
		{"locator extension", "abc", "videos/abc.mov", "/store/archive/abc-" + assetDigest("archive", "abc") + ".mov"},
		{"default extension", "42", "42", "/store/archive/42-" + assetDigest("archive", "42") + ".mp4"},
		{"no doubled extension", "clip.mp4", "clip.mp4", "/store/archive/clip-" + assetDigest("archive", "clip.mp4") + ".mp4"},
		{"unsafe key", "a/b:c", "a/b:c.mkv", "/store/archive/a_b_c-" + assetDigest("archive", "a/b:c") + ".mkv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := models.NewMigrationItem(sources.ArchiveName, models.CandidateItem{StableKey: tt.key, SourceLocator: tt.locator})
			assert.Equal(t, tt.want, w.assetPath(item))
		})
	}
}

func TestAssetDigest(t *testing.T) {
	assert.Len(t, assetDigest("archive", "a"), 12)
	assert.Equal(t, assetDigest("archive", "a"), assetDigest("archive", "a"))
	assert.NotEqual(t, assetDigest("archive", "season 1/ep"), assetDigest("archive", "season_1/ep"))
	assert.NotEqual(t, assetDigest("archive", "a"), assetDigest("remote", "a"))
}

func TestVerify(t *testing.T) {
	assert.NoError(t, verify(10, 10, 10))
	assert.NoError(t, verify(10, -1, 0))
	assert.ErrorIs(t, verify(0, -1, 0), shared.ErrIntegrity)
	assert.ErrorIs(t, verify(10, 11, 0), shared.ErrIntegrity)
	assert.ErrorIs(t, verify(10, -1, 12), shared.ErrIntegrity)
}
