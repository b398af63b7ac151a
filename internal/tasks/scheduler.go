package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/shared"
	"github.com/desertthunder/vidport/internal/telemetry"
)

const (
	defaultTickInterval = 2 * time.Second
	defaultClaimTimeout = 10 * time.Minute
)

// SchedulerOpts configures the tick loop.
type SchedulerOpts struct {
	TickInterval time.Duration // Time between ticks (default: 2s)
	ClaimTimeout time.Duration // Age after which a downloading claim is an orphan (default: 10m)
	ExitWhenIdle bool          // Stop once nothing is eligible and every slot is free
}

// Scheduler keeps up to K workers busy with claimed items.
//
// All of its decisions come from the item store: each tick claims the next
// pending_download item for every free slot and starts a goroutine for it.
// Ticks never wait on a worker.
type Scheduler struct {
	store   Store
	worker  *Worker
	session *Session
	opts    SchedulerOpts
	logger  *log.Logger

	progress chan<- ProgressUpdate

	mu          sync.Mutex
	running     bool
	stopping    bool
	concurrency int
	stopTick    chan struct{}
	done        chan struct{}
	wg          sync.WaitGroup
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(store Store, worker *Worker, session *Session, opts SchedulerOpts, logger *log.Logger) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = defaultClaimTimeout
	}

	done := make(chan struct{})
	close(done)

	return &Scheduler{
		store:   store,
		worker:  worker,
		session: session,
		opts:    opts,
		logger:  logger,
		done:    done,
	}
}

// SetProgress sets the channel ticks and workers report on.
func (s *Scheduler) SetProgress(progress chan<- ProgressUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = progress
}

// Start begins a run with concurrency slots.
//
// It resets the session, releases orphaned claims, reconciles items stranded
// in downloaded, and starts the tick loop with an immediate first tick.
// Cancelling ctx stops the run gracefully; it does not cancel fetches.
func (s *Scheduler) Start(ctx context.Context, concurrency int) error {
	if concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1", shared.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return shared.ErrAlreadyRunning
	}

	s.session.Reset()
	if _, err := s.recover(ctx); err != nil {
		return err
	}

	s.running = true
	s.stopping = false
	s.concurrency = concurrency
	s.stopTick = make(chan struct{})
	s.done = make(chan struct{})

	s.logger.Info("run started", "session", s.session.ID(), "concurrency", concurrency, "tick", s.opts.TickInterval)

	go s.loop(ctx, s.stopTick)
	return nil
}

// Recover runs the start-of-run recovery outside a run.
func (s *Scheduler) Recover(ctx context.Context) (ReclaimReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ReclaimReport{}, shared.ErrAlreadyRunning
	}
	return s.recover(ctx)
}

// recover releases stale download claims and reconciles downloaded items.
func (s *Scheduler) recover(ctx context.Context) (ReclaimReport, error) {
	var report ReclaimReport

	n, err := s.store.ReclaimOrphans(ctx, models.StateDownloading, s.opts.ClaimTimeout)
	if err != nil {
		return report, fmt.Errorf("failed to reclaim orphans: %w", err)
	}
	report.Downloads = n

	n, err = s.store.RecoverDownloaded(ctx, fileExists)
	if err != nil {
		return report, fmt.Errorf("failed to recover downloaded items: %w", err)
	}
	report.Recovered = n

	if report.Downloads > 0 || report.Recovered > 0 {
		s.logger.Warn("recovered interrupted work", "released", report.Downloads, "recovered", report.Recovered)
		sendProgress(s.progress, reclaimUpdate(report))
	}
	return report, nil
}

func (s *Scheduler) loop(ctx context.Context, stop chan struct{}) {
	workCtx := context.WithoutCancel(ctx)
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	s.tick(workCtx)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			if s.stopTick == stop {
				s.stopLocked()
			}
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.tick(workCtx)
		}
	}
}

// tick fills every free slot. It holds the scheduler lock for the whole pass
// so Stop cannot interleave with a claim.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.stopping {
		return
	}

	exhausted := false
	for slot := 0; slot < s.concurrency; slot++ {
		if s.session.Occupied(slot) {
			continue
		}

		workerID := fmt.Sprintf("%s/slot-%d", s.session.ID(), slot+1)
		item, err := s.store.ClaimNext(ctx, workerID)
		if errors.Is(err, shared.ErrNoEligibleItems) {
			exhausted = true
			break
		}
		if err != nil {
			s.logger.Error("claim failed", "slot", slot+1, "error", err)
			break
		}

		telemetry.ItemsClaimed.Inc()
		s.session.Occupy(slot, item.ID())
		sendProgress(s.progress, claimUpdate(slot, item))
		s.logger.Debug("claimed item", "slot", slot+1, "item", item.ID(), "key", item.StableKey())

		s.wg.Add(1)
		go s.run(ctx, slot, workerID, item)
	}

	if s.opts.ExitWhenIdle && exhausted && s.session.Active() == 0 {
		s.logger.Info("no eligible items left")
		s.stopLocked()
	}
}

// run executes one worker and frees its slot.
func (s *Scheduler) run(ctx context.Context, slot int, workerID string, item *models.MigrationItem) {
	defer s.wg.Done()

	event := s.worker.Download(ctx, item, workerID)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.session.Release(slot, event)
	sendProgress(s.progress, downloadUpdate(slot, event))

	if s.stopping && s.session.Active() == 0 {
		s.finishLocked()
	}
}

// Stop prevents new claims. In-flight workers run to completion; [Scheduler.Done]
// is closed once the last one reports. Calling Stop on a stopped or stopping
// scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if !s.running || s.stopping {
		return
	}
	s.stopping = true
	close(s.stopTick)

	active := s.session.Active()
	sendProgress(s.progress, stopUpdate(active))
	s.logger.Info("run stopping", "in_flight", active)

	if active == 0 {
		s.finishLocked()
	}
}

func (s *Scheduler) finishLocked() {
	s.running = false
	s.stopping = false
	close(s.done)

	snap := s.session.Snapshot()
	sendProgress(s.progress, stopUpdate(0))
	s.logger.Info("run stopped", "session", snap.ID, "completed", snap.Completed, "failed", snap.Failed)
}

// Done returns a channel closed when the current run has fully stopped.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Wait blocks until every worker goroutine has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// State reports whether a run is active and whether it is draining.
func (s *Scheduler) State() (running, stopping bool, concurrency int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.stopping, s.concurrency
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
