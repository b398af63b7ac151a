package tasks

import (
	"context"
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

type orchestratorFixture struct {
	orch  *Orchestrator
	store *repositories.ItemRepository
	src   *tu.FakeSource
	dir   string
}

func newOrchestratorFixture(t *testing.T, dupKeys ...string) orchestratorFixture {
	t.Helper()
	store := setupStore(t, true)
	src := tu.NewFakeSource(sources.ArchiveName)
	dir := t.TempDir()

	opts := Options{
		Pipeline: shared.PipelineConfig{
			Concurrency:      2,
			MaxConcurrency:   4,
			TickInterval:     shared.Duration{Duration: 10 * time.Millisecond},
			FetchTimeout:     shared.Duration{Duration: 200 * time.Millisecond},
			ClaimTimeout:     shared.Duration{Duration: 10 * time.Minute},
			TranscodeTimeout: shared.Duration{Duration: time.Hour},
			LogSize:          DefaultLogSize,
			ProbeWorkers:     2,
		},
		Storage:      shared.StorageConfig{Dir: dir},
		ExitWhenIdle: true,
		Logger:       testLogger(),
	}
	catalog := tu.NewFakeCatalog(sources.ArchiveName, dupKeys...)
	return orchestratorFixture{
		orch:  NewOrchestrator(store, catalog, newRegistry(src), opts),
		store: store,
		src:   src,
		dir:   dir,
	}
}

func (f orchestratorFixture) scan(t *testing.T, n int) {
	t.Helper()
	cands := make([]models.CandidateItem, 0, n)
	for i := 1; i <= n; i++ {
		c := candidate(i)
		f.src.Put(c.SourceLocator, payload(i))
		cands = append(cands, c)
	}
	_, err := f.orch.Scan(context.Background(), sources.ArchiveName, cands)
	require.NoError(t, err)
}

func (f orchestratorFixture) byKey(t *testing.T, key string) *models.MigrationItem {
	t.Helper()
	item, err := f.store.GetByKey(context.Background(), sources.ArchiveName, key)
	require.NoError(t, err)
	return item
}

func (f orchestratorFixture) run(t *testing.T, concurrency int) {
	t.Helper()
	require.NoError(t, f.orch.Start(context.Background(), concurrency))
	waitDone(t, f.orch.Done())
}

func TestOrchestratorRun(t *testing.T) {
	ctx := context.Background()

	t.Run("ten items with a duplicate and a timeout", func(t *testing.T) {
		f := newOrchestratorFixture(t, "vid-03")
		f.src.Hang("vid-07.mp4")
		f.scan(t, 10)

		f.run(t, 2)

		assert.LessOrEqual(t, f.src.MaxInFlight(), 2)
		assert.Equal(t, models.StateSkippedDuplicate, f.byKey(t, "vid-03").State())
		assert.Zero(t, f.src.Fetches("vid-03.mp4"))

		timedOut := f.byKey(t, "vid-07")
		assert.Equal(t, models.StateDownloadFailed, timedOut.State())
		assert.Equal(t, 1, timedOut.RetryCount())
		assert.Contains(t, timedOut.FailureReason(), sources.Retryable)

		stats, err := f.orch.StatsSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10, stats.Total)
		assert.Equal(t, 8, stats.Counts[models.StatePendingTranscode])
		assert.Equal(t, 9, stats.Importable)
		assert.Zero(t, stats.Percent)

		sum := 0
		for _, n := range stats.Counts {
			sum += n
		}
		assert.Equal(t, stats.Total, sum)

		status := f.orch.Status()
		assert.False(t, status.Running)
		assert.Equal(t, int64(8), status.Session.Completed)
		assert.Equal(t, int64(1), status.Session.Failed)
		assert.Len(t, status.Session.Events, 9)
	})

	t.Run("progress counts processed items only", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.scan(t, 4)
		f.run(t, 2)

		h := f.orch.Handoff()
		item, err := h.Claim(ctx, "transcoder-1")
		require.NoError(t, err)
		assert.Equal(t, models.StateProcessing, stateOf(t, f.store, item.ID()).State())

		stats, err := f.orch.StatsSnapshot(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Percent)
		assert.Equal(t, 1, stats.Active)

		require.NoError(t, h.Complete(ctx, item.ID(), "transcoder-1", true, ""))

		stats, err = f.orch.StatsSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Processed)
		assert.InDelta(t, 25.0, stats.Percent, 0.001)
	})

	t.Run("start validates concurrency", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		err := f.orch.Start(ctx, 5)
		assert.ErrorIs(t, err, shared.ErrInvalidArgument)
		assert.ErrorContains(t, err, "outside 1..")
		err = f.orch.Start(ctx, -1)
		assert.ErrorIs(t, err, shared.ErrInvalidArgument)
		assert.ErrorContains(t, err, "must be at least 1")

		f.orch.opts.Pipeline.MaxConcurrency = 0
		err = f.orch.Start(ctx, -1)
		assert.ErrorIs(t, err, shared.ErrInvalidArgument)
		assert.NotContains(t, err.Error(), "1..0")

		require.NoError(t, f.orch.Start(ctx, 0))
		waitDone(t, f.orch.Done())
		assert.Equal(t, 2, f.orch.Status().Concurrency)
	})

	t.Run("scan of an unknown source", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		_, err := f.orch.Scan(ctx, "nowhere", nil)
		assert.ErrorIs(t, err, shared.ErrUnknownSource)
	})
}

func TestOrchestratorControls(t *testing.T) {
	ctx := context.Background()

	t.Run("retry single keeps the retry count", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.src.Hang("vid-02.mp4")
		f.scan(t, 2)
		f.run(t, 1)

		failed := f.byKey(t, "vid-02")
		require.Equal(t, models.StateDownloadFailed, failed.State())

		assert.ErrorIs(t, f.orch.RetrySingle(ctx, " "), shared.ErrMissingArgument)
		require.NoError(t, f.orch.RetrySingle(ctx, failed.ID()))

		got := stateOf(t, f.store, failed.ID())
		assert.Equal(t, models.StatePendingDownload, got.State())
		assert.Equal(t, 1, got.RetryCount())

		assert.ErrorIs(t, f.orch.RetrySingle(ctx, failed.ID()), shared.ErrStateConflict)
		assert.ErrorIs(t, f.orch.RetrySingle(ctx, "missing"), shared.ErrNotFound)
	})

	t.Run("retry all failed", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.src.Hang("vid-01.mp4")
		f.src.Hang("vid-03.mp4")
		f.scan(t, 3)
		f.run(t, 2)

		n, err := f.orch.RetryAllFailed(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		stats, err := f.orch.StatsSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Counts[models.StatePendingDownload])
		assert.Zero(t, stats.Failed)
	})

	t.Run("failed transcode retries without downloading again", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.scan(t, 1)
		f.run(t, 1)

		h := f.orch.Handoff()
		item, err := h.Claim(ctx, "transcoder-1")
		require.NoError(t, err)

		assert.ErrorIs(t, h.Complete(ctx, "", "transcoder-1", false, ""), shared.ErrMissingArgument)
		require.NoError(t, h.Complete(ctx, item.ID(), "transcoder-1", false, "codec not supported"))

		got := stateOf(t, f.store, item.ID())
		assert.Equal(t, models.StateFailed, got.State())
		assert.Equal(t, "codec not supported", got.FailureReason())
		assert.NotEmpty(t, got.AssetPath())

		require.NoError(t, f.orch.RetrySingle(ctx, item.ID()))
		assert.Equal(t, models.StatePendingTranscode, stateOf(t, f.store, item.ID()).State())
		assert.Equal(t, 1, f.src.Fetches("vid-01.mp4"))
	})

	t.Run("purge removes items and assets", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.scan(t, 2)
		f.run(t, 1)

		done := f.byKey(t, "vid-01")
		tu.AssertFileExists(t, done.AssetPath())

		_, err := f.orch.Purge(ctx, nil)
		assert.ErrorIs(t, err, shared.ErrMissingArgument)

		res, err := f.orch.Purge(ctx, []string{done.ID(), "missing"})
		require.NoError(t, err)
		assert.Len(t, res.Removed, 1)
		assert.Equal(t, []string{"missing"}, res.Missing)

		tu.AssertNoFile(t, done.AssetPath())
		_, err = f.store.Get(ctx, done.ID())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("purge skips claimed items", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.scan(t, 1)
		f.run(t, 1)

		item, err := f.orch.Handoff().Claim(ctx, "transcoder-1")
		require.NoError(t, err)

		res, err := f.orch.Purge(ctx, []string{item.ID()})
		require.NoError(t, err)
		assert.Empty(t, res.Removed)
		assert.Equal(t, []string{item.ID()}, res.Skipped)
		tu.AssertFileExists(t, item.AssetPath())
	})

	t.Run("reclaim releases stale transcode claims", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.scan(t, 1)
		f.run(t, 1)

		f.store.SetClock(func() time.Time { return time.Now().UTC().Add(-2 * time.Hour) })
		item, err := f.orch.Handoff().Claim(ctx, "transcoder-1")
		require.NoError(t, err)
		f.store.SetClock(func() time.Time { return time.Now().UTC() })

		report, err := f.orch.Reclaim(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), report.Transcodes)
		assert.Equal(t, models.StatePendingTranscode, stateOf(t, f.store, item.ID()).State())
	})

	t.Run("reclaim refuses during a run", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.scan(t, 1)
		release := f.src.Gate()
		f.src.Started = make(chan string, 4)

		require.NoError(t, f.orch.Start(ctx, 1))
		<-f.src.Started

		_, err := f.orch.Reclaim(ctx)
		assert.ErrorIs(t, err, shared.ErrAlreadyRunning)
		assert.ErrorIs(t, f.orch.Start(ctx, 1), shared.ErrAlreadyRunning)

		release()
		waitDone(t, f.orch.Done())
	})

	t.Run("items listing", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.scan(t, 3)

		items, err := f.orch.Items(ctx, map[string]any{"state": models.StatePendingDownload})
		require.NoError(t, err)
		require.Len(t, items, 3)

		item, err := f.orch.Item(ctx, items[0].ID())
		require.NoError(t, err)
		assert.Equal(t, "vid-01", item.StableKey())
	})
}
