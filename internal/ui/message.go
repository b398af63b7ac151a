package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgTick MsgKind = iota
	MsgSnapshot
	MsgProgressUpdate
	MsgActionDone
)

type snapshot struct {
	stats  models.Stats
	status tasks.Status
	err    error
}

type actionResult struct {
	label string
	note  string
	err   error
}

// tickMsg is the constructor for [MsgTick]
func tickMsg(t time.Time) Msg {
	return Msg{kind: MsgTick, data: t}
}

// snapshotMsg is the constructor for [MsgSnapshot]
func snapshotMsg(stats models.Stats, status tasks.Status, err error) Msg {
	return Msg{kind: MsgSnapshot, data: snapshot{stats: stats, status: status, err: err}}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// actionDoneMsg is the constructor for [MsgActionDone]
func actionDoneMsg(label, note string, err error) Msg {
	return Msg{kind: MsgActionDone, data: actionResult{label: label, note: note, err: err}}
}
