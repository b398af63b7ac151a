package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/repositories"
	"github.com/desertthunder/vidport/internal/shared"
	"github.com/desertthunder/vidport/internal/sources"
)

// Options configures an [Orchestrator].
type Options struct {
	Pipeline     shared.PipelineConfig
	Storage      shared.StorageConfig
	ExitWhenIdle bool
	Logger       *log.Logger
	Progress     chan<- ProgressUpdate
}

// Orchestrator is the operator control surface over the pipeline. Every
// method is safe to call repeatedly and concurrently with the tick loop.
type Orchestrator struct {
	store     Store
	registry  *sources.Registry
	opts      Options
	logger    *log.Logger
	session   *Session
	matcher   *Matcher
	tracker   *Tracker
	handoff   *Handoff
	scheduler *Scheduler
}

// NewOrchestrator wires the matcher, scheduler, worker, tracker and handoff
// over store and catalog.
func NewOrchestrator(store Store, catalog Catalog, registry *sources.Registry, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}

	session := NewSession(opts.Pipeline.LogSize)
	worker := NewWorker(store, registry, WorkerOpts{
		StorageDir:        opts.Storage.Dir,
		FetchTimeout:      opts.Pipeline.FetchTimeout.Duration,
		MaxBytesPerSecond: opts.Storage.MaxBytesPerSecond,
	}, shared.WithLogger(logger, "component", "worker"))

	scheduler := NewScheduler(store, worker, session, SchedulerOpts{
		TickInterval: opts.Pipeline.TickInterval.Duration,
		ClaimTimeout: opts.Pipeline.ClaimTimeout.Duration,
		ExitWhenIdle: opts.ExitWhenIdle,
	}, shared.WithLogger(logger, "component", "scheduler"))
	scheduler.SetProgress(opts.Progress)

	return &Orchestrator{
		store:    store,
		registry: registry,
		opts:     opts,
		logger:   logger,
		session:  session,
		matcher: NewMatcher(store, catalog, MatcherOpts{
			Workers:   opts.Pipeline.ProbeWorkers,
			RateLimit: opts.Pipeline.ProbeRate,
		}, shared.WithLogger(logger, "component", "matcher")),
		tracker:   NewTracker(store),
		handoff:   NewHandoff(store, opts.Pipeline.TranscodeTimeout.Duration, shared.WithLogger(logger, "component", "handoff")),
		scheduler: scheduler,
	}
}

// Start begins a run. A concurrency of 0 uses the configured default; values
// above max_concurrency are rejected.
func (o *Orchestrator) Start(ctx context.Context, concurrency int) error {
	if concurrency == 0 {
		concurrency = o.opts.Pipeline.Concurrency
	}
	limit := o.opts.Pipeline.MaxConcurrency
	switch {
	case concurrency < 1:
		return fmt.Errorf("%w: concurrency %d must be at least 1", shared.ErrInvalidArgument, concurrency)
	case limit > 0 && concurrency > limit:
		return fmt.Errorf("%w: concurrency %d outside 1..%d", shared.ErrInvalidArgument, concurrency, limit)
	}
	return o.scheduler.Start(ctx, concurrency)
}

// Stop halts claim issuance. It returns immediately; use [Orchestrator.Done]
// to wait for in-flight downloads.
func (o *Orchestrator) Stop() {
	o.scheduler.Stop()
}

// Done is closed once the current run has fully stopped.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.scheduler.Done()
}

// RetrySingle makes one download_failed or failed item schedulable again.
func (o *Orchestrator) RetrySingle(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: item id is required", shared.ErrMissingArgument)
	}
	if err := o.store.Retry(ctx, id); err != nil {
		return err
	}
	o.logger.Info("item queued for retry", "item", id)
	return nil
}

// RetryAllFailed requeues every retry-eligible item and returns how many moved.
func (o *Orchestrator) RetryAllFailed(ctx context.Context) (int64, error) {
	n, err := o.store.RetryAllFailed(ctx)
	if err != nil {
		return 0, err
	}
	o.logger.Info("failed items queued for retry", "count", n)
	return n, nil
}

// Purge deletes items and their asset files. Claimed items are skipped.
// Asset removal failures are logged and do not undo the purge.
func (o *Orchestrator) Purge(ctx context.Context, ids []string) (*repositories.PurgeResult, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no item ids given", shared.ErrMissingArgument)
	}

	res, err := o.store.Purge(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, item := range res.Removed {
		if item.AssetPath() == "" {
			continue
		}
		if err := os.Remove(item.AssetPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.logger.Error("failed to remove asset", "item", item.ID(), "path", item.AssetPath(), "error", err)
		}
	}

	o.logger.Info("items purged", "removed", len(res.Removed), "skipped", len(res.Skipped), "missing", len(res.Missing))
	return res, nil
}

// StatsSnapshot returns counts by state and the derived progress.
func (o *Orchestrator) StatsSnapshot(ctx context.Context) (models.Stats, error) {
	return o.tracker.Stats(ctx)
}

// Status is the operator view of the current run.
type Status struct {
	Running     bool            `json:"running"`
	Stopping    bool            `json:"stopping"`
	Concurrency int             `json:"concurrency"`
	Session     SessionSnapshot `json:"session"`
}

// Status returns the run flags and a copy of the session.
func (o *Orchestrator) Status() Status {
	running, stopping, concurrency := o.scheduler.State()
	return Status{
		Running:     running,
		Stopping:    stopping,
		Concurrency: concurrency,
		Session:     o.session.Snapshot(),
	}
}

// Scan matches candidates against the named source.
func (o *Orchestrator) Scan(ctx context.Context, source string, candidates []models.CandidateItem) (*MatchReport, error) {
	src, err := o.registry.Get(source)
	if err != nil {
		return nil, err
	}
	return o.matcher.Match(ctx, src, candidates, o.opts.Progress)
}

// Reclaim runs every recovery pass: stale download claims, stale transcode
// claims, and items stranded in downloaded. It refuses to run while a run is
// active, since the run's own claims are not orphans.
func (o *Orchestrator) Reclaim(ctx context.Context) (ReclaimReport, error) {
	report, err := o.scheduler.Recover(ctx)
	if err != nil {
		return report, err
	}

	report.Transcodes, err = o.handoff.Reclaim(ctx)
	if err != nil {
		return report, err
	}

	sendProgress(o.opts.Progress, reclaimUpdate(report))
	return report, nil
}

// Items lists items matching criteria in claim order.
func (o *Orchestrator) Items(ctx context.Context, criteria map[string]any) ([]*models.MigrationItem, error) {
	return o.store.List(ctx, criteria)
}

// Item returns one item.
func (o *Orchestrator) Item(ctx context.Context, id string) (*models.MigrationItem, error) {
	return o.store.Get(ctx, id)
}

// Handoff returns the transcode boundary.
func (o *Orchestrator) Handoff() *Handoff {
	return o.handoff
}
