// Package ui provides the terminal UI for the vocalis voice client.
package ui

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/vocalis-ai/vocalis/speech"
)

const (
	defaultGlamourWidth = 80
	chromeHeight        = 5 // title, input, status plus padding
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#5A56E0")).
			Padding(0, 1)
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"})
	userLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Bold(true)
	aiLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#5A56E0")).
			Bold(true)
)

// NewProgram returns a new Tea program driving the given session.
func NewProgram(session *speech.Session, cfg Config) *tea.Program {
	log.Debug("starting vocalis ui", "glamour", cfg.GlamourEnabled, "clip_path", cfg.ClipPath)
	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(session, cfg), opts...)
}

// exchange is one completed user/assistant turn pair.
type exchange struct {
	transcript string
	response   string
}

type model struct {
	cfg     Config
	session *speech.Session

	viewport viewport.Model
	spinner  spinner.Model
	input    textinput.Model
	status   *StatusDisplay
	renderer *glamour.TermRenderer

	exchanges []exchange
	partial   string // streamed response text for the in-flight cycle
	capturing bool

	width, height int
	ready         bool
	quitting      bool
}

func newModel(session *speech.Session, cfg Config) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	in := textinput.New()
	in.Placeholder = "Type something to speak aloud…"
	in.CharLimit = 500
	in.Focus()

	return model{
		cfg:     cfg,
		session: session,
		spinner: sp,
		input:   in,
		status:  NewStatusDisplay(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		textinput.Blink,
		speech.WaitForEvent(m.session.Events()),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+q":
			m.quitting = true
			_ = m.session.Close()
			return m, tea.Quit

		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				break
			}
			m.input.Reset()
			if err := m.session.Speak(context.Background(), text); err != nil {
				log.Warn("speak rejected", "error", err)
			}

		case "ctrl+t":
			cmds = append(cmds, m.toggleCapture())

		case "esc":
			m.session.StopAudio()

		case "ctrl+r":
			m.session.Reset()
			m.partial = ""
			m.capturing = false

		case "ctrl+y":
			if n := len(m.exchanges); n > 0 {
				if err := clipboard.WriteAll(m.exchanges[n-1].response); err != nil {
					log.Warn("copy to clipboard failed", "error", err)
				}
			}

		case "ctrl+l":
			m.session.ClearHistory()
			m.exchanges = nil
			m.partial = ""
			m.syncViewport()
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = msg.Width - 4
		vh := msg.Height - chromeHeight
		if vh < 1 {
			vh = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vh)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vh
		}
		m.renderer = newRenderer(m.cfg, msg.Width)
		m.syncViewport()

	case speech.EventMsg:
		m.applyEvent(speech.Event(msg))
		cmds = append(cmds, speech.WaitForEvent(m.session.Events()))

	case speech.SessionClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	// Keystrokes belong to the input; the viewport gets everything
	// else, so mouse scrolling still works.
	if _, isKey := msg.(tea.KeyMsg); !isKey {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// toggleCapture starts capture on the first press and submits the
// configured clip on the second.
func (m *model) toggleCapture() tea.Cmd {
	if m.cfg.ClipPath == "" {
		log.Warn("no capture clip configured")
		return nil
	}
	if !m.capturing {
		if err := m.session.BeginCapture(); err != nil {
			log.Warn("capture rejected", "error", err)
			return nil
		}
		m.capturing = true
		return nil
	}
	m.capturing = false
	clip, err := os.ReadFile(m.cfg.ClipPath)
	if err != nil {
		log.Error("reading capture clip", "path", m.cfg.ClipPath, "error", err)
		return nil
	}
	if err := m.session.Submit(context.Background(), clip); err != nil {
		log.Warn("submit rejected", "error", err)
	}
	return nil
}

func (m *model) applyEvent(e speech.Event) {
	m.status.Update(e)

	switch e.Kind {
	case speech.EventResponseChunk:
		m.partial += e.Text
		m.syncViewport()
	case speech.EventComplete:
		m.exchanges = append(m.exchanges, exchange{
			transcript: e.Transcript,
			response:   e.Response,
		})
		m.partial = ""
		m.capturing = false
		m.syncViewport()
	case speech.EventError, speech.EventReset:
		m.partial = ""
		m.capturing = false
		m.syncViewport()
	}
}

// syncViewport re-renders the conversation and keeps the tail visible.
func (m *model) syncViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderConversation())
	m.viewport.GotoBottom()
}

func (m *model) renderConversation() string {
	var b strings.Builder
	for _, x := range m.exchanges {
		if x.transcript != "" {
			b.WriteString("**You:** " + x.transcript + "\n\n")
		}
		b.WriteString("**Vocalis:** " + x.response + "\n\n")
	}
	if m.partial != "" {
		b.WriteString("**Vocalis:** " + m.partial + "\n")
	}
	raw := b.String()
	if raw == "" {
		return helpStyle.Render("\n  Say something, or type below.")
	}
	if m.renderer != nil {
		if out, err := m.renderer.Render(raw); err == nil {
			return out
		}
	}
	// Fall back to plain text with styled speaker labels.
	raw = strings.ReplaceAll(raw, "**You:**", userLabelStyle.Render("You:"))
	raw = strings.ReplaceAll(raw, "**Vocalis:**", aiLabelStyle.Render("Vocalis:"))
	return raw
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "\n  Initializing…"
	}

	title := titleStyle.Render("Vocalis")
	status := m.status.Render()
	if m.status.State() == speech.StateProcessing {
		status = m.spinner.View() + " " + status
	}
	help := helpStyle.Render("ctrl+t talk · enter speak · esc stop · ctrl+y copy · ctrl+r reset · ctrl+c quit")
	statusBar := truncateLine(status+"  "+help, m.width)

	return fmt.Sprintf(
		"%s\n%s\n%s\n%s",
		title,
		m.viewport.View(),
		m.input.View(),
		statusBar,
	)
}

func newRenderer(cfg Config, width int) *glamour.TermRenderer {
	if !cfg.GlamourEnabled {
		return nil
	}
	w := width
	if cfg.GlamourMaxWidth > 0 && w > int(cfg.GlamourMaxWidth) {
		w = int(cfg.GlamourMaxWidth)
	}
	if w <= 0 {
		w = defaultGlamourWidth
	}
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(w)}
	if cfg.GlamourStyle != "" {
		opts = append(opts, glamour.WithStylePath(cfg.GlamourStyle))
	} else {
		opts = append(opts, glamour.WithAutoStyle())
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		log.Warn("glamour renderer unavailable", "error", err)
		return nil
	}
	return r
}
