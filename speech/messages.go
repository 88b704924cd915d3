package speech

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Messages for Bubble Tea communication between the session and UI.

// EventMsg wraps one session event for the UI program.
type EventMsg Event

// SessionClosedMsg indicates the event stream has ended.
type SessionClosedMsg struct{}

// WaitForEvent returns a command that delivers the next session event
// as a tea.Msg. Re-issue it from Update after each EventMsg to keep the
// stream flowing.
func WaitForEvent(events <-chan Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return SessionClosedMsg{}
		}
		return EventMsg(e)
	}
}
