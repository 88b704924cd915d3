package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"github.com/vocalis-ai/vocalis/speech"
)

var (
	statusIdleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#847A85", Dark: "#979797"})
	statusActiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"}).
				Bold(true)
	statusErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#D70000", Dark: "#ED567A"}).
				Bold(true)
)

// StatusDisplay tracks the session's most recent activity for the
// status bar.
type StatusDisplay struct {
	state        speech.StateType
	errorMessage string
}

// NewStatusDisplay returns a display in the idle state.
func NewStatusDisplay() *StatusDisplay {
	return &StatusDisplay{state: speech.StateIdle}
}

// Update folds one session event into the display.
func (s *StatusDisplay) Update(e speech.Event) {
	switch e.Kind {
	case speech.EventUserSpeaking:
		s.state = speech.StateListening
		s.errorMessage = ""
	case speech.EventProcessing:
		s.state = speech.StateProcessing
		s.errorMessage = ""
	case speech.EventAiSpeaking:
		s.state = speech.StateSpeaking
	case speech.EventReset, speech.EventComplete:
		s.state = speech.StateIdle
	case speech.EventError:
		s.state = speech.StateIdle
		s.errorMessage = e.Message
	}
}

// State returns the display's view of the session state.
func (s *StatusDisplay) State() speech.StateType {
	return s.state
}

// Error returns the last error message, or "" when the most recent
// cycle ended cleanly.
func (s *StatusDisplay) Error() string {
	return s.errorMessage
}

// Render produces the status bar segment for the current state.
func (s *StatusDisplay) Render() string {
	if s.errorMessage != "" {
		return statusErrorStyle.Render("✗ " + s.errorMessage)
	}
	switch s.state {
	case speech.StateListening:
		return statusActiveStyle.Render("● listening")
	case speech.StateProcessing:
		return statusActiveStyle.Render("◌ thinking")
	case speech.StateSpeaking:
		return statusActiveStyle.Render("▶ speaking")
	default:
		return statusIdleStyle.Render("idle")
	}
}

// truncateLine caps a single status line at width cells, appending an
// ellipsis when it was cut.
func truncateLine(s string, width int) string {
	if width <= 0 {
		return ""
	}
	s = strings.ReplaceAll(s, "\n", " ")
	return truncate.StringWithTail(s, uint(width), "…")
}
