package tasks

import (
	"context"
	"fmt"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/telemetry"
)

// Counter groups items by state.
type Counter interface {
	CountByState(ctx context.Context) (map[models.State]int, error)
}

// Tracker derives progress from the item store on every call. It keeps no
// counters of its own.
type Tracker struct {
	store Counter
}

// NewTracker creates a tracker reading from store.
func NewTracker(store Counter) *Tracker {
	return &Tracker{store: store}
}

// Stats returns the current aggregate view and refreshes the items_by_state gauges.
func (t *Tracker) Stats(ctx context.Context) (models.Stats, error) {
	counts, err := t.store.CountByState(ctx)
	if err != nil {
		return models.Stats{}, fmt.Errorf("failed to compute stats: %w", err)
	}

	stats := models.NewStats(counts)
	for state, n := range stats.Counts {
		telemetry.ItemsByState.WithLabelValues(state.String()).Set(float64(n))
	}
	return stats, nil
}
