package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/shared"
)

const defaultTranscodeTimeout = 2 * time.Hour

// Handoff is the boundary to the external transcode workers. They claim
// pending_transcode items and report back with the same conditional-update
// discipline the scheduler uses.
type Handoff struct {
	store   Store
	timeout time.Duration
	logger  *log.Logger
}

// NewHandoff creates a handoff whose processing claims expire after timeout.
func NewHandoff(store Store, timeout time.Duration, logger *log.Logger) *Handoff {
	if timeout <= 0 {
		timeout = defaultTranscodeTimeout
	}
	return &Handoff{store: store, timeout: timeout, logger: logger}
}

// Claim moves the next pending_transcode item to processing for worker.
func (h *Handoff) Claim(ctx context.Context, worker string) (*models.MigrationItem, error) {
	item, err := h.store.ClaimForTranscode(ctx, worker)
	if err != nil {
		return nil, err
	}
	h.logger.Info("transcode claimed", "item", item.ID(), "key", item.StableKey(), "worker", worker)
	return item, nil
}

// Complete records a transcode result. A successful item is published to the
// catalog; a failed one keeps its asset so a retry can skip the download.
func (h *Handoff) Complete(ctx context.Context, id, worker string, ok bool, reason string) error {
	if id == "" {
		return fmt.Errorf("%w: item id is required", shared.ErrMissingArgument)
	}
	if err := h.store.CompleteTranscode(ctx, id, worker, ok, reason); err != nil {
		return err
	}

	if ok {
		h.logger.Info("transcode completed", "item", id, "worker", worker)
	} else {
		h.logger.Warn("transcode failed", "item", id, "worker", worker, "reason", reason)
	}
	return nil
}

// Reclaim releases processing claims older than the transcode timeout.
func (h *Handoff) Reclaim(ctx context.Context) (int64, error) {
	n, err := h.store.ReclaimOrphans(ctx, models.StateProcessing, h.timeout)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		h.logger.Warn("released stale transcode claims", "count", n)
	}
	return n, nil
}
