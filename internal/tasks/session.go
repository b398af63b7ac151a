package tasks

import (
	"sort"
	"sync"
	"time"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/shared"
)

// DefaultLogSize is the session log capacity used when none is configured.
const DefaultLogSize = 200

// Session is the in-memory record of one run: which slot holds which item,
// how many downloads completed or failed, and a bounded log of recent events.
//
// It is a convenience index only. Losing it loses nothing the item store
// cannot rebuild.
type Session struct {
	mu        sync.Mutex
	id        string
	startedAt time.Time
	slots     map[int]string
	completed int64
	failed    int64

	events []models.SessionEvent
	next   int
	full   bool
}

// NewSession creates a session whose log keeps the last size events.
func NewSession(size int) *Session {
	if size <= 0 {
		size = DefaultLogSize
	}
	return &Session{
		id:        shared.GenerateID(),
		startedAt: time.Now().UTC(),
		slots:     make(map[int]string),
		events:    make([]models.SessionEvent, size),
	}
}

// Reset starts a fresh session with a new id, empty slots, zero counters and
// an empty log.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.id = shared.GenerateID()
	s.startedAt = time.Now().UTC()
	s.slots = make(map[int]string)
	s.completed, s.failed = 0, 0
	s.events = make([]models.SessionEvent, len(s.events))
	s.next, s.full = 0, false
}

// ID returns the current session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Occupy records that slot now holds itemID.
func (s *Session) Occupy(slot int, itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot] = itemID
}

// Occupied reports whether slot holds an item.
func (s *Session) Occupied(slot int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.slots[slot]
	return ok
}

// Active returns the number of occupied slots.
func (s *Session) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Release frees slot and records the worker's event.
func (s *Session) Release(slot int, event models.SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.slots, slot)
	switch event.Outcome {
	case models.OutcomeCompleted:
		s.completed++
	case models.OutcomeFailed:
		s.failed++
	}
	s.appendLocked(event)
}

// Record appends event to the log without touching slots or counters.
func (s *Session) Record(event models.SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(event)
}

func (s *Session) appendLocked(event models.SessionEvent) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	s.events[s.next] = event
	s.next = (s.next + 1) % len(s.events)
	if s.next == 0 {
		s.full = true
	}
}

// Events returns the log from oldest to newest.
func (s *Session) Events() []models.SessionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventsLocked()
}

func (s *Session) eventsLocked() []models.SessionEvent {
	if !s.full {
		out := make([]models.SessionEvent, s.next)
		copy(out, s.events[:s.next])
		return out
	}
	out := make([]models.SessionEvent, 0, len(s.events))
	out = append(out, s.events[s.next:]...)
	out = append(out, s.events[:s.next]...)
	return out
}

// Slot is one occupied slot in a [SessionSnapshot].
type Slot struct {
	Slot   int    `json:"slot"`
	ItemID string `json:"item_id"`
}

// SessionSnapshot is a consistent copy of a [Session].
type SessionSnapshot struct {
	ID        string                `json:"id"`
	StartedAt time.Time             `json:"started_at"`
	Slots     []Slot                `json:"slots"`
	Completed int64                 `json:"completed"`
	Failed    int64                 `json:"failed"`
	Events    []models.SessionEvent `json:"events"`
}

// Snapshot copies the session under its lock. Slots are ordered by slot number.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	slots := make([]Slot, 0, len(s.slots))
	for slot, id := range s.slots {
		slots = append(slots, Slot{Slot: slot, ItemID: id})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Slot < slots[j].Slot })

	return SessionSnapshot{
		ID:        s.id,
		StartedAt: s.startedAt,
		Slots:     slots,
		Completed: s.completed,
		Failed:    s.failed,
		Events:    s.eventsLocked(),
	}
}
