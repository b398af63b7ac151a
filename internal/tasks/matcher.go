package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/shared"
	"github.com/desertthunder/vidport/internal/sources"
	"github.com/desertthunder/vidport/internal/telemetry"
)

// Reasons recorded on unmatched items.
const (
	ReasonNoFile         = "no file at expected path"
	ReasonRemoteNotFound = "remote id not found"
)

// MatchOutcome is what the matcher did with one candidate.
type MatchOutcome string

const (
	MatchPending   MatchOutcome = "pending_download"  // new item, probe resolved
	MatchUnmatched MatchOutcome = "unmatched"         // new or existing item, probe did not resolve
	MatchDuplicate MatchOutcome = "skipped_duplicate" // new or existing item, already in the catalog
	MatchPromoted  MatchOutcome = "promoted"          // unmatched item whose probe now resolves
	MatchUnchanged MatchOutcome = "unchanged"         // existing item past matching, left alone
)

// MatchReport summarises one matcher pass.
type MatchReport struct {
	Source string               `json:"source"`
	Total  int                  `json:"total"`
	Counts map[MatchOutcome]int `json:"counts"`
}

// MatcherOpts configures the probe pool.
type MatcherOpts struct {
	Workers   int     // Concurrent probes (default: 4)
	RateLimit float64 // Probes per second, 0 for unlimited
}

// Matcher classifies catalog candidates into items.
type Matcher struct {
	store   Store
	catalog Catalog
	opts    MatcherOpts
	logger  *log.Logger
}

// NewMatcher creates a matcher over store and catalog.
func NewMatcher(store Store, catalog Catalog, opts MatcherOpts, logger *log.Logger) *Matcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Matcher{store: store, catalog: catalog, opts: opts, logger: logger}
}

// matchJob is one candidate the matcher has to decide on.
type matchJob struct {
	index     int
	candidate models.CandidateItem
	existing  *models.MigrationItem
	duplicate bool
	probe     bool
}

type probeOutcome struct {
	result sources.ProbeResult
	err    error
}

// Match classifies candidates against src, in catalog order.
//
// Existing items are never moved backwards: only unmatched items are probed
// again, and everything past matching is left untouched. Probes run on a
// bounded, rate limited pool; results are applied in catalog order so item
// sequence follows the catalog.
func (m *Matcher) Match(ctx context.Context, src sources.Source, candidates []models.CandidateItem, progress chan<- ProgressUpdate) (*MatchReport, error) {
	report := &MatchReport{
		Source: src.Name(),
		Total:  len(candidates),
		Counts: make(map[MatchOutcome]int),
	}
	sendProgress(progress, scanStartedUpdate(src.Name(), len(candidates)))

	jobs := make([]matchJob, len(candidates))
	for i, c := range candidates {
		job, err := m.plan(ctx, src.Name(), i, c)
		if err != nil {
			return report, err
		}
		jobs[i] = job
	}

	probes, err := m.probeAll(ctx, src, jobs, progress)
	if err != nil {
		return report, err
	}

	for i, job := range jobs {
		outcome, err := m.apply(ctx, src, job, probes[i])
		if err != nil {
			return report, err
		}
		report.Counts[outcome]++
		telemetry.Matches.WithLabelValues(string(outcome)).Inc()
		sendProgress(progress, matchedUpdate(i+1, len(jobs), job.candidate.StableKey, outcome))
	}

	m.logger.Info("catalog matched", "source", src.Name(), "total", report.Total,
		"pending", report.Counts[MatchPending]+report.Counts[MatchPromoted],
		"unmatched", report.Counts[MatchUnmatched],
		"duplicates", report.Counts[MatchDuplicate],
		"unchanged", report.Counts[MatchUnchanged])
	return report, nil
}

// plan decides, without probing, what a candidate needs.
func (m *Matcher) plan(ctx context.Context, source string, index int, c models.CandidateItem) (matchJob, error) {
	job := matchJob{index: index, candidate: c}

	existing, err := m.store.GetByKey(ctx, source, c.StableKey)
	switch {
	case err == nil:
		job.existing = existing
		job.probe = existing.State() == models.StateUnmatched
		return job, nil
	case !errors.Is(err, shared.ErrNotFound):
		return job, err
	}

	dup, err := m.catalog.Exists(ctx, source, c.StableKey)
	if err != nil {
		return job, err
	}
	job.duplicate = dup
	job.probe = !dup
	return job, nil
}

// probeAll probes every job that needs it on a worker pool and returns the
// results indexed like jobs.
func (m *Matcher) probeAll(ctx context.Context, src sources.Source, jobs []matchJob, progress chan<- ProgressUpdate) ([]probeOutcome, error) {
	results := make([]probeOutcome, len(jobs))

	limit := rate.Inf
	if m.opts.RateLimit > 0 {
		limit = rate.Limit(m.opts.RateLimit)
	}
	limiter := rate.NewLimiter(limit, 1)

	queue := make(chan int)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		probed int
	)
	for range m.opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				if err := limiter.Wait(ctx); err != nil {
					results[i] = probeOutcome{err: err}
					continue
				}
				res, err := src.Probe(ctx, jobs[i].candidate.SourceLocator)
				results[i] = probeOutcome{result: res, err: err}

				mu.Lock()
				probed++
				step := probed
				mu.Unlock()
				sendProgress(progress, probedUpdate(step, len(jobs), jobs[i].candidate))
			}
		}()
	}

feed:
	for i, job := range jobs {
		if !job.probe {
			continue
		}
		select {
		case <-ctx.Done():
			break feed
		case queue <- i:
		}
	}
	close(queue)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan cancelled: %w", err)
	}
	return results, nil
}

// apply writes the decision for one job to the store.
func (m *Matcher) apply(ctx context.Context, src sources.Source, job matchJob, probe probeOutcome) (MatchOutcome, error) {
	if job.existing != nil {
		return m.rematch(ctx, src, job.existing, probe)
	}

	item := models.NewMigrationItem(src.Name(), job.candidate)
	outcome := MatchDuplicate
	switch {
	case job.duplicate:
		item.SetState(models.StateSkippedDuplicate, "")
	case probe.err != nil:
		item.SetState(models.StateUnmatched, probeFailure(probe.err))
		outcome = MatchUnmatched
	case !probe.result.Exists:
		item.SetState(models.StateUnmatched, missingReason(src))
		outcome = MatchUnmatched
	default:
		if probe.result.Size > 0 {
			item.SetSizeHint(probe.result.Size)
		}
		item.SetState(models.StatePendingDownload, "")
		outcome = MatchPending
	}

	err := m.store.Create(ctx, item)
	if errors.Is(err, shared.ErrDuplicateKey) {
		return MatchUnchanged, nil
	}
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// rematch revisits an existing item. Only unmatched items can change.
func (m *Matcher) rematch(ctx context.Context, src sources.Source, item *models.MigrationItem, probe probeOutcome) (MatchOutcome, error) {
	switch item.State() {
	case models.StateSkippedDuplicate:
		return MatchDuplicate, nil
	case models.StateUnmatched:
	default:
		return MatchUnchanged, nil
	}

	to, reason, outcome := models.StateUnmatched, "", MatchUnmatched
	switch {
	case probe.err != nil:
		reason = probeFailure(probe.err)
	case !probe.result.Exists:
		reason = missingReason(src)
	default:
		to, outcome = models.StatePendingDownload, MatchPromoted
	}

	err := m.store.Transition(ctx, item.ID(), models.StateUnmatched, to, reason)
	if errors.Is(err, shared.ErrStateConflict) {
		return MatchUnchanged, nil
	}
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func missingReason(src sources.Source) string {
	if src.Name() == sources.RemoteName {
		return ReasonRemoteNotFound
	}
	return ReasonNoFile
}

func probeFailure(err error) string {
	return fmt.Sprintf("probe failed: %v", err)
}
