// Package ui implements the terminal dashboard using bubbletea's Elm architecture.
//
// The dashboard shows a progress bar, item counts by state, the occupied
// worker slots and the recent session log. It polls a [Dashboard] (normally
// the orchestrator) every interval and also listens on the orchestrator's
// progress channel for live claim and download messages.
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
//
// Keys: s starts a run, x stops it, r retries every failed item, q quits. Help is displayed via charmbracelet/bubbles/help.
package ui
