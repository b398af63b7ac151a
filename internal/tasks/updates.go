package tasks

import (
	"fmt"

	"github.com/desertthunder/vidport/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	Scan Phase = iota
	Probe
	Reclaim
	Claim
	Download
	Stop
)

func (p Phase) String() string {
	switch p {
	case Scan:
		return "scan"
	case Probe:
		return "probe"
	case Reclaim:
		return "reclaim"
	case Claim:
		return "claim"
	case Download:
		return "download"
	case Stop:
		return "stop"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func scanStartedUpdate(source string, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Scan,
		Step:    0,
		Total:   total,
		Message: fmt.Sprintf("Matching %d catalog entries against %s...", total, source),
	}
}

func probedUpdate(step, total int, c models.CandidateItem) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Probe,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] probed %s", step, total, c.StableKey),
	}
}

func matchedUpdate(step, total int, key string, outcome MatchOutcome) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Scan,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s: %s", step, total, key, outcome),
		Data:    outcome,
	}
}

func reclaimUpdate(report ReclaimReport) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Reclaim,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Released %d download and %d transcode claims, recovered %d items", report.Downloads, report.Transcodes, report.Recovered),
		Data:    report,
	}
}

func claimUpdate(slot int, item *models.MigrationItem) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Claim,
		Step:    slot + 1,
		Message: fmt.Sprintf("slot %d: claimed %s", slot+1, item.StableKey()),
		Data:    item.ID(),
	}
}

func downloadUpdate(slot int, event models.SessionEvent) ProgressUpdate {
	msg := fmt.Sprintf("slot %d: ✓ %s (%d bytes)", slot+1, event.StableKey, event.Bytes)
	if event.Outcome == models.OutcomeFailed {
		msg = fmt.Sprintf("slot %d: ✗ %s: %s", slot+1, event.StableKey, event.Reason)
	}
	return ProgressUpdate{
		Phase:   Download,
		Step:    slot + 1,
		Message: msg,
		Data:    event,
	}
}

func stopUpdate(inFlight int) ProgressUpdate {
	msg := "Run stopped"
	if inFlight > 0 {
		msg = fmt.Sprintf("Stopping, waiting for %d in-flight downloads...", inFlight)
	}
	return ProgressUpdate{
		Phase:   Stop,
		Step:    inFlight,
		Message: msg,
	}
}
