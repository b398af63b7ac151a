package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/vidport/internal/formatter"
	"github.com/desertthunder/vidport/internal/models"
)

var (
	_ list.Item = eventItem{}
)

// eventItem wraps [models.SessionEvent] to implement [list.Item].
type eventItem struct {
	event models.SessionEvent
}

func (i eventItem) FilterValue() string { return i.event.StableKey }
func (i eventItem) Title() string {
	mark := styles.ok.Render("✓")
	if i.event.Outcome == models.OutcomeFailed {
		mark = styles.err.Render("✗")
	}
	return fmt.Sprintf("%s %s", mark, i.event.StableKey)
}
func (i eventItem) Description() string {
	desc := fmt.Sprintf("%s • %s", i.event.Time.Local().Format("15:04:05"), i.event.Duration.Round(time.Millisecond))
	if i.event.Outcome == models.OutcomeFailed {
		return fmt.Sprintf("%s • %s", desc, i.event.Reason)
	}
	return fmt.Sprintf("%s • %s", desc, formatter.FormatBytes(i.event.Bytes))
}

// eventItems converts a session log, oldest first, into list items newest first.
func eventItems(events []models.SessionEvent) []list.Item {
	items := make([]list.Item, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		items = append(items, eventItem{event: events[i]})
	}
	return items
}
