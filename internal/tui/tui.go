// Package tui provides the interactive BubbleTea chat interface for vellum.
//
// Layout:
//
//	┌─────────────────────────────────────┐
//	│  vellum  chat                       │  ← header
//	│  ─────────────────────────────────  │  ← divider
//	│  you: hello                         │  ← scrollback (viewport)
//	│  vellum: hi there...                │
//	│  ...                                │
//	│  ─────────────────────────────────  │  ← divider
//	│  ❯ <input>                          │  ← prompt bar
//	│  ⠋ generating…  enter send  ^q quit │  ← status bar
//	└─────────────────────────────────────┘
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tejas242/vellum/internal/engine"
)

// ── Palette ──────────────────────────────────────────────────────────────────

var (
	colorAccent  = lipgloss.Color("#7C6AF7")
	colorDim     = lipgloss.Color("#555555")
	colorMuted   = lipgloss.Color("#888888")
	colorText    = lipgloss.Color("#DDDDDD")
	colorSubdued = lipgloss.Color("#444444")
	colorErr     = lipgloss.Color("#FF6B6B")

	sTitle = lipgloss.NewStyle().Bold(true).Foreground(colorText)
	sUser  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	sBot   = lipgloss.NewStyle().Bold(true).Foreground(colorText)
	sDim   = lipgloss.NewStyle().Foreground(colorDim)
	sMuted = lipgloss.NewStyle().Foreground(colorMuted)
	sErr   = lipgloss.NewStyle().Foreground(colorErr)
	sHint  = lipgloss.NewStyle().
		Foreground(colorDim).
		Background(lipgloss.Color("#111111"))
	sDivider = lipgloss.NewStyle().Foreground(colorSubdued)
)

// ── Spinner frames ───────────────────────────────────────────────────────────

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type spinTickMsg struct{}

func spinTick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(time.Time) tea.Msg { return spinTickMsg{} })
}

// ── Streaming bridge ─────────────────────────────────────────────────────────
//
// Generation runs on its own goroutine, driving handle.StepNext in a tight
// loop; each piece the session's callback receives is pushed onto a channel
// that waitForEvent turns back into tea.Msg values one at a time.

type tokenMsg []byte
type turnDoneMsg struct{}
type genErrMsg struct{ err error }

func waitForEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg { return <-ch }
}

func streamTurn(h *engine.Handle, systemPrompt, prompt string, seed uint64, ch chan<- tea.Msg) {
	_, err := h.NewSession(engine.SessionOptions{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		Temperature:  0.8,
		TopP:         0.9,
		RNGSeed:      seed,
		Limit:        512,
		Callback: func(piece []byte, _ any) {
			if len(piece) == 1 && piece[0] == 0 {
				ch <- turnDoneMsg{}
				return
			}
			ch <- tokenMsg(append([]byte{}, piece...))
		},
	})
	if err != nil {
		ch <- genErrMsg{err}
		return
	}
	for h.StepNext() {
	}
}

// ── Model ─────────────────────────────────────────────────────────────────────

// Model is the BubbleTea chat application model.
type Model struct {
	handle       *engine.Handle
	systemPrompt string

	viewport viewport.Model
	input    textinput.Model

	transcript strings.Builder
	pending    strings.Builder

	events    chan tea.Msg
	streaming bool
	spinFrame int
	turn      uint64

	err    error
	width  int
	height int
	ready  bool
}

// New creates a chat Model driving sessions against handle.
func New(handle *engine.Handle, systemPrompt string) Model {
	ti := textinput.New()
	ti.Placeholder = "say something…"
	ti.Focus()
	ti.CharLimit = 2000
	ti.Prompt = "❯ "
	ti.PromptStyle = sUser
	ti.TextStyle = lipgloss.NewStyle().Foreground(colorText)

	return Model{
		handle:       handle,
		systemPrompt: systemPrompt,
		input:        ti,
		events:       make(chan tea.Msg, 1),
	}
}

// Init is the BubbleTea init hook.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, spinTick())
}

// Update processes messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		headerH, footerH := 2, 3
		if !m.ready {
			m.viewport = viewport.New(m.width, m.height-headerH-footerH)
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = m.height - headerH - footerH
		}
		m.input.Width = m.width - 4
		m.viewport.SetContent(m.transcript.String())
		return m, nil

	case spinTickMsg:
		m.spinFrame = (m.spinFrame + 1) % len(spinnerFrames)
		if m.streaming {
			return m, spinTick()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+q":
			return m, tea.Quit
		case "enter":
			if m.streaming {
				return m, nil
			}
			prompt := strings.TrimSpace(m.input.Value())
			if prompt == "" {
				return m, nil
			}
			m.input.SetValue("")
			m.turn++
			fmt.Fprintf(&m.transcript, "%s %s\n", sUser.Render("you:"), prompt)
			m.pending.Reset()
			m.streaming = true
			m.err = nil
			m.viewport.SetContent(m.transcript.String())
			m.viewport.GotoBottom()
			go streamTurn(m.handle, m.systemPrompt, prompt, m.turn, m.events)
			return m, tea.Batch(waitForEvent(m.events), spinTick())
		}

	case tokenMsg:
		m.pending.Write(msg)
		m.viewport.SetContent(m.transcript.String() + sBot.Render("vellum:") + " " + m.pending.String())
		m.viewport.GotoBottom()
		return m, waitForEvent(m.events)

	case turnDoneMsg:
		fmt.Fprintf(&m.transcript, "%s %s\n", sBot.Render("vellum:"), m.pending.String())
		m.pending.Reset()
		m.streaming = false
		m.viewport.SetContent(m.transcript.String())
		m.viewport.GotoBottom()
		return m, nil

	case genErrMsg:
		m.streaming = false
		m.err = msg.err
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// ── View ──────────────────────────────────────────────────────────────────────

func (m Model) View() string {
	if !m.ready {
		return ""
	}
	var b strings.Builder

	fmt.Fprintln(&b, "  "+sTitle.Render("vellum")+"  "+sMuted.Render("chat"))
	fmt.Fprintln(&b, sDivider.Render(strings.Repeat("─", clamp(m.width-2, 10, 200))))
	fmt.Fprintln(&b, m.viewport.View())
	fmt.Fprintln(&b, sDivider.Render(strings.Repeat("─", clamp(m.width-2, 10, 200))))
	fmt.Fprintln(&b, "  "+m.input.View())

	var status string
	switch {
	case m.err != nil:
		status = sErr.Render("  error: " + m.err.Error())
	case m.streaming:
		status = "  " + sMuted.Render(spinnerFrames[m.spinFrame]+" generating…")
	default:
		status = sDim.Render("  ready")
	}
	fmt.Fprint(&b, padBetween(status, sHint.Render("enter send  ^q quit  "), m.width))
	return b.String()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func padBetween(left, right string, width int) string {
	gap := width - visibleLen(left) - visibleLen(right) - 2
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func visibleLen(s string) int {
	n := 0
	inEsc := false
	for _, c := range s {
		if c == '\x1b' {
			inEsc = true
		}
		if inEsc {
			if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
				inEsc = false
			}
			continue
		}
		n++
	}
	return n
}
