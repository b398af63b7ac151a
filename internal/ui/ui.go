package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/tasks"
)

// Dashboard is what the model polls and controls. [tasks.Orchestrator] implements it.
type Dashboard interface {
	Start(ctx context.Context, concurrency int) error
	Stop()
	RetryAllFailed(ctx context.Context) (int64, error)
	StatsSnapshot(ctx context.Context) (models.Stats, error)
	Status() tasks.Status
}

var _ Dashboard = (*tasks.Orchestrator)(nil)

// Model represents the dashboard state.
type Model struct {
	ctx         context.Context
	dash        Dashboard
	interval    time.Duration
	concurrency int
	updates     <-chan tasks.ProgressUpdate

	width  int
	height int

	stats   models.Stats
	status  tasks.Status
	last    tasks.ProgressUpdate
	notice  string
	err     error
	events  list.Model
	bar     progress.Model
	help    help.Model
	keys    keyMap
	polling bool
}

// NewModel creates a dashboard over dash, refreshed every interval.
// concurrency is used when the start key is pressed; updates may be nil.
func NewModel(ctx context.Context, dash Dashboard, interval time.Duration, concurrency int, updates <-chan tasks.ProgressUpdate) *Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	events := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	events.Title = "Recent events"
	events.SetShowHelp(false)
	events.SetFilteringEnabled(false)
	events.SetShowStatusBar(false)

	return &Model{
		ctx:         ctx,
		dash:        dash,
		interval:    interval,
		concurrency: concurrency,
		updates:     updates,
		events:      events,
		bar:         progress.New(progress.WithDefaultGradient()),
		help:        help.New(),
		keys:        newKeyMap(),
	}
}

// Init fetches the first snapshot and starts polling.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetchSnapshot(), m.tick(), m.waitForProgress())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(msg.Width-8, 10)
		m.events.SetSize(msg.Width-4, max(msg.Height-22, 4))
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case Msg:
		return m.handleMsg(msg)
	}

	var cmd tea.Cmd
	m.events, cmd = m.events.Update(msg)
	return m, cmd
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.start):
		return m, m.action("start", func() (string, error) {
			return fmt.Sprintf("started with %d slots", m.concurrency), m.dash.Start(m.ctx, m.concurrency)
		})
	case key.Matches(msg, m.keys.stop):
		return m, m.action("stop", func() (string, error) {
			m.dash.Stop()
			return "stop requested, draining in-flight downloads", nil
		})
	case key.Matches(msg, m.keys.retry):
		return m, m.action("retry", func() (string, error) {
			n, err := m.dash.RetryAllFailed(m.ctx)
			return fmt.Sprintf("%d items queued for retry", n), err
		})
	case key.Matches(msg, m.keys.help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	}

	var cmd tea.Cmd
	m.events, cmd = m.events.Update(msg)
	return m, cmd
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgTick:
		if m.polling {
			return m, m.tick()
		}
		return m, tea.Batch(m.fetchSnapshot(), m.tick())

	case MsgSnapshot:
		m.polling = false
		snap := msg.data.(snapshot)
		m.err = snap.err
		if snap.err == nil {
			m.stats = snap.stats
			m.status = snap.status
			m.events.SetItems(eventItems(snap.status.Session.Events))
		}
		return m, nil

	case MsgProgressUpdate:
		m.last = msg.data.(tasks.ProgressUpdate)
		return m, m.waitForProgress()

	case MsgActionDone:
		res := msg.data.(actionResult)
		if res.err != nil {
			m.notice = styles.err.Render(fmt.Sprintf("%s failed: %v", res.label, res.err))
		} else {
			m.notice = res.note
		}
		return m, m.fetchSnapshot()
	}
	return m, nil
}

// View renders the dashboard.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(styles.title.Render("vidport"))
	b.WriteString("\n")
	b.WriteString(m.renderRun())
	b.WriteString("\n\n")
	b.WriteString(m.bar.ViewAs(m.stats.Percent / 100))
	fmt.Fprintf(&b, "\n%d of %d importable items processed (%.1f%%)\n\n", m.stats.Processed, m.stats.Importable, m.stats.Percent)

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, m.renderCounts(), "  ", m.renderSlots()))
	b.WriteString("\n\n")
	b.WriteString(m.events.View())
	b.WriteString("\n")

	if m.last.Message != "" {
		b.WriteString(styles.help.Render(m.last.Message))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(styles.err.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString(m.notice)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) renderRun() string {
	s := m.status
	switch {
	case s.Running && s.Stopping:
		return styles.warn.Render(fmt.Sprintf("Stopping, waiting for %d in-flight downloads", len(s.Session.Slots)))
	case s.Running:
		return styles.ok.Render(fmt.Sprintf("Running with %d slots", s.Concurrency)) +
			fmt.Sprintf("  completed %d  failed %d", s.Session.Completed, s.Session.Failed)
	default:
		return styles.help.Render("Idle")
	}
}

func (m *Model) renderCounts() string {
	width := 0
	for _, st := range models.AllStates {
		width = max(width, len(st))
	}

	var b strings.Builder
	b.WriteString("Items by state\n")
	for _, st := range models.AllStates {
		line := fmt.Sprintf("%-*s %6d", width, st, m.stats.Counts[st])
		b.WriteString(styles.state(st).Render(line))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "%-*s %6d", width, "total", m.stats.Total)
	return styles.box.Render(b.String())
}

func (m *Model) renderSlots() string {
	var b strings.Builder
	b.WriteString("Slots\n")
	if len(m.status.Session.Slots) == 0 {
		b.WriteString(styles.help.Render("none busy"))
	}
	for i, slot := range m.status.Session.Slots {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d: %s", slot.Slot+1, slot.ItemID)
	}
	return styles.box.Render(b.String())
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) fetchSnapshot() tea.Cmd {
	m.polling = true
	return func() tea.Msg {
		stats, err := m.dash.StatsSnapshot(m.ctx)
		return snapshotMsg(stats, m.dash.Status(), err)
	}
}

func (m *Model) action(label string, fn func() (string, error)) tea.Cmd {
	return func() tea.Msg {
		note, err := fn()
		return actionDoneMsg(label, note, err)
	}
}

// Run starts the dashboard as a full-screen program and blocks until it exits.
func Run(ctx context.Context, dash Dashboard, interval time.Duration, concurrency int, updates <-chan tasks.ProgressUpdate) error {
	p := tea.NewProgram(NewModel(ctx, dash, interval, concurrency, updates), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return nil
}

func (m *Model) waitForProgress() tea.Cmd {
	if m.updates == nil {
		return nil
	}
	return func() tea.Msg {
		update, ok := <-m.updates
		if !ok {
			return nil
		}
		return progressUpdateMsg(update)
	}
}
