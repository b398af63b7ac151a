package tasks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/shared"
	"github.com/desertthunder/vidport/internal/sources"
	"github.com/desertthunder/vidport/internal/telemetry"
)

const (
	defaultFetchTimeout = 10 * time.Minute
	defaultExtension    = ".mp4"
	tempDirName         = ".tmp"
)

// WorkerOpts configures downloads.
type WorkerOpts struct {
	StorageDir        string        // Root of permanent storage
	FetchTimeout      time.Duration // Deadline for one fetch (default: 10m)
	MaxBytesPerSecond int           // Shared bandwidth cap, 0 for unlimited
}

// Worker downloads one claimed item at a time. A single Worker value is
// shared by every slot; it holds no per-item state.
type Worker struct {
	store     Store
	registry  *sources.Registry
	opts      WorkerOpts
	bandwidth *rate.Limiter
	logger    *log.Logger
	now       func() time.Time
}

// NewWorker creates a worker writing assets below opts.StorageDir.
func NewWorker(store Store, registry *sources.Registry, opts WorkerOpts, logger *log.Logger) *Worker {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}

	w := &Worker{
		store:    store,
		registry: registry,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if opts.MaxBytesPerSecond > 0 {
		w.bandwidth = rate.NewLimiter(rate.Limit(opts.MaxBytesPerSecond), opts.MaxBytesPerSecond)
	}
	return w
}

// Download fetches item, verifies it, moves it into storage and records the
// outcome in the store. It never returns an error: failures are written to
// the item and to the returned event.
func (w *Worker) Download(ctx context.Context, item *models.MigrationItem, worker string) models.SessionEvent {
	start := w.now()
	logger := shared.WithLogger(w.logger, "item", item.ID(), "key", item.StableKey(), "worker", worker)

	event := models.SessionEvent{
		ItemID:    item.ID(),
		StableKey: item.StableKey(),
		Title:     item.Title(),
	}

	telemetry.DownloadsInFlight.Inc()
	defer telemetry.DownloadsInFlight.Dec()

	asset, err := w.fetch(ctx, item)
	if err == nil {
		err = w.store.CompleteDownload(ctx, item.ID(), worker, asset)
		switch {
		case errors.Is(err, shared.ErrStateConflict):
			logger.Error("claim lost before download was recorded", "error", err)
		case err != nil:
			logger.Error("failed to record download", "error", err)
			if rmErr := os.Remove(asset.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				logger.Warn("failed to remove unrecorded asset", "path", asset.Path, "error", rmErr)
			}
			err = fmt.Errorf("failed to record download: %w", err)
		}
	}
	if err != nil && !errors.Is(err, shared.ErrStateConflict) {
		if failErr := w.store.FailDownload(ctx, item.ID(), worker, sources.Reason(err)); failErr != nil {
			logger.Error("failed to record download failure", "error", failErr)
		}
	}

	event.Time = w.now()
	event.Duration = event.Time.Sub(start)
	telemetry.DownloadDuration.Observe(event.Duration.Seconds())

	if err != nil {
		event.Outcome = models.OutcomeFailed
		event.Reason = sources.Reason(err)
		telemetry.Downloads.WithLabelValues(string(models.OutcomeFailed)).Inc()
		logger.Warn("download failed", "reason", event.Reason, "duration", event.Duration)
		return event
	}

	event.Outcome = models.OutcomeCompleted
	event.Bytes = asset.Bytes
	telemetry.Downloads.WithLabelValues(string(models.OutcomeCompleted)).Inc()
	telemetry.DownloadBytes.Add(float64(asset.Bytes))
	logger.Info("download completed", "bytes", asset.Bytes, "path", asset.Path, "duration", event.Duration)
	return event
}

// fetch streams the payload to a temp file, verifies it and renames it into
// place. The temp file is removed on every failure path.
func (w *Worker) fetch(ctx context.Context, item *models.MigrationItem) (models.Asset, error) {
	src, err := w.registry.Get(item.Source())
	if err != nil {
		return models.Asset{}, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.opts.FetchTimeout)
	defer cancel()

	body, size, err := src.Fetch(fetchCtx, item.SourceLocator())
	if err != nil {
		return models.Asset{}, timeoutOr(fetchCtx, err)
	}
	defer body.Close()

	tmpDir := filepath.Join(w.opts.StorageDir, tempDirName)
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return models.Asset{}, fmt.Errorf("failed to create temp directory: %w", err)
	}

	tmp, err := os.CreateTemp(tmpDir, item.ID()+"-*.part")
	if err != nil {
		return models.Asset{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			os.Remove(tmpPath)
		}
	}()

	var reader io.Reader = body
	if w.bandwidth != nil {
		reader = &throttledReader{ctx: fetchCtx, r: body, limiter: w.bandwidth}
	}

	hash := sha256.New()
	written, copyErr := io.Copy(io.MultiWriter(tmp, hash), reader)
	if copyErr == nil {
		copyErr = tmp.Sync()
	}
	if closeErr := tmp.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return models.Asset{}, timeoutOr(fetchCtx, fmt.Errorf("failed to write payload: %w", copyErr))
	}

	if err := verify(written, size, item.SizeHint()); err != nil {
		return models.Asset{}, err
	}

	final := w.assetPath(item)
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return models.Asset{}, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		return models.Asset{}, fmt.Errorf("failed to move payload into storage: %w", err)
	}
	keep = true

	return models.Asset{
		Path:     final,
		Checksum: hex.EncodeToString(hash.Sum(nil)),
		Bytes:    written,
	}, nil
}

// assetPath is <storage>/<source>/<sanitized stable key>-<digest><ext>.
// The digest of the raw source and key keeps items whose keys sanitize to
// the same name apart.
func (w *Worker) assetPath(item *models.MigrationItem) string {
	stem := shared.SanitizeName(item.StableKey())
	ext := strings.ToLower(path.Ext(item.SourceLocator()))
	if ext == "" || len(ext) > 6 {
		ext = defaultExtension
	}
	if len(stem) > len(ext) && strings.HasSuffix(strings.ToLower(stem), ext) {
		stem = stem[:len(stem)-len(ext)]
	}
	name := stem + "-" + assetDigest(item.Source(), item.StableKey()) + ext
	return filepath.Join(w.opts.StorageDir, shared.SanitizeName(item.Source()), name)
}

func assetDigest(source, stableKey string) string {
	sum := sha256.Sum256([]byte(source + "\x00" + stableKey))
	return hex.EncodeToString(sum[:6])
}

// verify checks the byte count against the size the source reported and the
// size hint recorded at matching. Negative or zero expectations are unknown.
func verify(written, reported, hint int64) error {
	switch {
	case written == 0:
		return fmt.Errorf("%w: empty payload", shared.ErrIntegrity)
	case reported > 0 && written != reported:
		return fmt.Errorf("%w: got %d bytes, source reported %d", shared.ErrIntegrity, written, reported)
	case hint > 0 && written != hint:
		return fmt.Errorf("%w: got %d bytes, expected %d", shared.ErrIntegrity, written, hint)
	}
	return nil
}

func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: fetch deadline exceeded: %v", shared.ErrTimeout, err)
	}
	return err
}

// throttledReader waits on a shared byte-rate limiter for every chunk read.
type throttledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if burst := t.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := t.r.Read(p)
	if n > 0 {
		if waitErr := t.limiter.WaitN(t.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
