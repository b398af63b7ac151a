package models

import (
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state of a [MigrationItem].
type State string

const (
	StateDiscovered       State = "discovered"
	StateUnmatched        State = "unmatched"
	StatePendingDownload  State = "pending_download"
	StateDownloading      State = "downloading"
	StateDownloaded       State = "downloaded"
	StateDownloadFailed   State = "download_failed"
	StatePendingTranscode State = "pending_transcode"
	StateProcessing       State = "processing"
	StateProcessed        State = "processed"
	StateFailed           State = "failed"
	StateSkippedDuplicate State = "skipped_duplicate"
)

// AllStates lists every state in pipeline order.
var AllStates = []State{
	StateDiscovered,
	StateUnmatched,
	StateSkippedDuplicate,
	StatePendingDownload,
	StateDownloading,
	StateDownloaded,
	StateDownloadFailed,
	StatePendingTranscode,
	StateProcessing,
	StateProcessed,
	StateFailed,
}

func (s State) String() string { return string(s) }

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the scheduler will never pick the item up again on its own.
func (s State) IsTerminal() bool {
	switch s {
	case StateProcessed, StateFailed, StateSkippedDuplicate, StateUnmatched:
		return true
	}
	return false
}

// IsRetryable reports whether an operator retry can move the item forward.
func (s State) IsRetryable() bool {
	return s == StateDownloadFailed || s == StateFailed
}

// IsImportable reports whether the item counts toward progress.
func (s State) IsImportable() bool {
	return s != StateUnmatched && s != StateSkippedDuplicate
}

// ParseState converts s into a [State].
func ParseState(s string) (State, error) {
	st := State(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown state %q", s)
	}
	return st, nil
}

// Metadata is copied through the pipeline unchanged.
type Metadata struct {
	Duration    int               `json:"duration,omitempty"` // seconds
	Views       int64             `json:"views,omitempty"`
	Category    string            `json:"category,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// CandidateItem is one catalog entry as produced by a catalog parser.
type CandidateItem struct {
	StableKey     string   `json:"stable_key"`
	Title         string   `json:"title"`
	SourceLocator string   `json:"source_locator"`
	Metadata      Metadata `json:"metadata"`
	SizeHint      int64    `json:"size_hint,omitempty"`
}

// Validate checks the fields every candidate needs.
func (c CandidateItem) Validate() error {
	if strings.TrimSpace(c.StableKey) == "" {
		return fmt.Errorf("stable_key is required")
	}
	if strings.TrimSpace(c.SourceLocator) == "" {
		return fmt.Errorf("source_locator is required for %s", c.StableKey)
	}
	if c.SizeHint < 0 {
		return fmt.Errorf("size_hint must not be negative for %s", c.StableKey)
	}
	return nil
}

// MigrationItem is the unit of work tracked by the item store.
type MigrationItem struct {
	id            string
	sequence      int
	source        string
	stableKey     string
	locator       string
	title         string
	metadata      Metadata
	sizeHint      int64
	state         State
	retryCount    int
	failureReason string
	claimedBy     string
	claimedAt     *time.Time
	assetPath     string
	checksum      string
	bytes         int64
	createdAt     time.Time
	updatedAt     time.Time
}

var _ Model = (*MigrationItem)(nil)

// NewMigrationItem creates an item for candidate c from source in the discovered state.
func NewMigrationItem(source string, c CandidateItem) *MigrationItem {
	now := time.Now().UTC()
	return &MigrationItem{
		source:    source,
		stableKey: c.StableKey,
		locator:   c.SourceLocator,
		title:     c.Title,
		metadata:  c.Metadata,
		sizeHint:  c.SizeHint,
		state:     StateDiscovered,
		createdAt: now,
		updatedAt: now,
	}
}

func (i *MigrationItem) ID() string             { return i.id }
func (i *MigrationItem) Sequence() int          { return i.sequence }
func (i *MigrationItem) Source() string         { return i.source }
func (i *MigrationItem) StableKey() string      { return i.stableKey }
func (i *MigrationItem) SourceLocator() string  { return i.locator }
func (i *MigrationItem) Title() string          { return i.title }
func (i *MigrationItem) Metadata() Metadata     { return i.metadata }
func (i *MigrationItem) SizeHint() int64        { return i.sizeHint }
func (i *MigrationItem) State() State           { return i.state }
func (i *MigrationItem) RetryCount() int        { return i.retryCount }
func (i *MigrationItem) FailureReason() string  { return i.failureReason }
func (i *MigrationItem) ClaimedBy() string      { return i.claimedBy }
func (i *MigrationItem) ClaimedAt() *time.Time  { return i.claimedAt }
func (i *MigrationItem) AssetPath() string      { return i.assetPath }
func (i *MigrationItem) Checksum() string       { return i.checksum }
func (i *MigrationItem) Bytes() int64           { return i.bytes }
func (i *MigrationItem) CreatedAt() time.Time   { return i.createdAt }
func (i *MigrationItem) UpdatedAt() time.Time   { return i.updatedAt }
func (i *MigrationItem) SetID(id string)        { i.id = id }
func (i *MigrationItem) SetSequence(seq int)    { i.sequence = seq }
func (i *MigrationItem) SetSizeHint(size int64) { i.sizeHint = size }

// SetState moves the in-memory item to state with reason. Persisting the
// change is the repository's job.
func (i *MigrationItem) SetState(state State, reason string) {
	i.state = state
	i.failureReason = reason
	i.updatedAt = time.Now().UTC()
}

// Validate checks if the item's data is valid.
func (i *MigrationItem) Validate() error {
	if i.source == "" {
		return fmt.Errorf("source is required")
	}
	if i.stableKey == "" {
		return fmt.Errorf("stable key is required")
	}
	if i.locator == "" {
		return fmt.Errorf("source locator is required")
	}
	if !i.state.Valid() {
		return fmt.Errorf("invalid state %q", i.state)
	}
	if i.retryCount < 0 {
		return fmt.Errorf("retry count must not be negative")
	}
	return nil
}

// ItemView is the JSON form of a [MigrationItem].
type ItemView struct {
	ID            string     `json:"id"`
	Sequence      int        `json:"sequence"`
	Source        string     `json:"source"`
	StableKey     string     `json:"stable_key"`
	SourceLocator string     `json:"source_locator"`
	Title         string     `json:"title"`
	Metadata      Metadata   `json:"metadata"`
	SizeHint      int64      `json:"size_hint,omitempty"`
	State         State      `json:"state"`
	RetryCount    int        `json:"retry_count"`
	FailureReason string     `json:"failure_reason,omitempty"`
	ClaimedBy     string     `json:"claimed_by,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	AssetPath     string     `json:"asset_path,omitempty"`
	Checksum      string     `json:"checksum,omitempty"`
	Bytes         int64      `json:"bytes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// View returns the exported representation of the item.
func (i *MigrationItem) View() ItemView {
	return ItemView{
		ID:            i.id,
		Sequence:      i.sequence,
		Source:        i.source,
		StableKey:     i.stableKey,
		SourceLocator: i.locator,
		Title:         i.title,
		Metadata:      i.metadata,
		SizeHint:      i.sizeHint,
		State:         i.state,
		RetryCount:    i.retryCount,
		FailureReason: i.failureReason,
		ClaimedBy:     i.claimedBy,
		ClaimedAt:     i.claimedAt,
		AssetPath:     i.assetPath,
		Checksum:      i.checksum,
		Bytes:         i.bytes,
		CreatedAt:     i.createdAt,
		UpdatedAt:     i.updatedAt,
	}
}

// MarshalJSON encodes the item as its [ItemView].
func (i *MigrationItem) MarshalJSON() ([]byte, error) {
	return marshalView(i.View())
}

// RestoreItem rebuilds an item from a stored view. Used by repositories when scanning rows.
func RestoreItem(v ItemView) *MigrationItem {
	return &MigrationItem{
		id:            v.ID,
		sequence:      v.Sequence,
		source:        v.Source,
		stableKey:     v.StableKey,
		locator:       v.SourceLocator,
		title:         v.Title,
		metadata:      v.Metadata,
		sizeHint:      v.SizeHint,
		state:         v.State,
		retryCount:    v.RetryCount,
		failureReason: v.FailureReason,
		claimedBy:     v.ClaimedBy,
		claimedAt:     v.ClaimedAt,
		assetPath:     v.AssetPath,
		checksum:      v.Checksum,
		bytes:         v.Bytes,
		createdAt:     v.CreatedAt,
		updatedAt:     v.UpdatedAt,
	}
}

// Asset describes a payload stored after a verified download.
type Asset struct {
	Path     string
	Checksum string
	Bytes    int64
}

// CatalogRecord is an entry in the permanent catalog of published videos.
type CatalogRecord struct {
	Source      string    `json:"source"`
	StableKey   string    `json:"stable_key"`
	ItemID      string    `json:"item_id,omitempty"`
	Title       string    `json:"title"`
	AssetPath   string    `json:"asset_path,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}
