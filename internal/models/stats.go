package models

import (
	"time"

	"github.com/goccy/go-json"
)

func marshalView(v ItemView) ([]byte, error) {
	return json.Marshal(v)
}

// Stats is an aggregate view of the item store, derived entirely from counts by state.
type Stats struct {
	Counts     map[State]int `json:"counts"`
	Total      int           `json:"total"`
	Importable int           `json:"importable"`
	Processed  int           `json:"processed"`
	Percent    float64       `json:"percent"`
	Active     int           `json:"active"`
	Pending    int           `json:"pending"`
	Failed     int           `json:"failed"`
	Done       int           `json:"done"`
}

// NewStats derives the operator groupings from raw counts. Every known state
// is present in the result, zero when absent from counts.
func NewStats(counts map[State]int) Stats {
	s := Stats{Counts: make(map[State]int, len(AllStates))}
	for _, st := range AllStates {
		n := counts[st]
		s.Counts[st] = n
		s.Total += n
		if st.IsImportable() {
			s.Importable += n
		}
	}

	s.Processed = s.Counts[StateProcessed]
	s.Done = s.Processed
	s.Active = s.Counts[StateDownloading] + s.Counts[StateProcessing]
	s.Pending = s.Counts[StateDiscovered] + s.Counts[StatePendingDownload] + s.Counts[StateDownloaded] + s.Counts[StatePendingTranscode]
	s.Failed = s.Counts[StateDownloadFailed] + s.Counts[StateFailed]

	if s.Importable > 0 {
		s.Percent = float64(s.Processed) / float64(s.Importable) * 100
	}
	return s
}

// Outcome is the result of one download attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// SessionEvent is one entry in the session log.
type SessionEvent struct {
	Time      time.Time     `json:"time"`
	ItemID    string        `json:"item_id"`
	StableKey string        `json:"stable_key"`
	Title     string        `json:"title,omitempty"`
	Outcome   Outcome       `json:"outcome"`
	Reason    string        `json:"reason,omitempty"`
	Bytes     int64         `json:"bytes,omitempty"`
	Duration  time.Duration `json:"duration"`
}
