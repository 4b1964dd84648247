// Package tui is the terminal client: the active call's conversation, live
// transcript and speaker state rendered with bubbletea.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/babelcall/internal/call"
	"github.com/MrWong99/babelcall/internal/chat"
	"github.com/MrWong99/babelcall/internal/orchestrator"
)

// endTimeout bounds waiting for turns to drain when the call is ended.
const endTimeout = 5 * time.Second

// Controller is the part of the call manager the terminal drives.
type Controller interface {
	Submit(text string) error
	ToggleMic(ctx context.Context) (bool, error)
	ToggleSpeaker() (bool, error)
	End(ctx context.Context) (call.Info, error)
}

// Compile-time interface assertion.
var _ Controller = (*call.Manager)(nil)

// ── Messages ──────────────────────────────────────────────────────────────────

// StoreMsg carries a message store change.
type StoreMsg chat.Event

// IndicatorMsg carries a speaker indicator change.
type IndicatorMsg orchestrator.IndicatorState

// InterimMsg carries the live transcript line.
type InterimMsg string

type (
	micMsg     bool
	speakerMsg bool
	endedMsg   struct{}
	errMsg     struct{ err error }
)

// ── Styles ────────────────────────────────────────────────────────────────────

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	localStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	peerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	speakStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	transStyle   = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("244"))
	interimStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("110"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// ── Model ─────────────────────────────────────────────────────────────────────

// Model is the bubbletea model of the terminal client.
type Model struct {
	ctrl  Controller
	local chat.User
	group chat.Group
	info  call.Info

	active  bool
	mic     bool
	speaker bool

	speakerID string
	busy      bool
	interim   string
	input     []rune
	err       string

	width    int
	height   int
	quitting bool
}

// NewModel returns a model showing group during the call described by info.
func NewModel(ctrl Controller, local chat.User, group chat.Group, info call.Info) Model {
	return Model{
		ctrl:    ctrl,
		local:   local,
		group:   group,
		info:    info,
		active:  info.SessionID != "",
		mic:     info.Mic,
		speaker: info.Speaker,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StoreMsg:
		m.applyStore(chat.Event(msg))
	case IndicatorMsg:
		m.speakerID = msg.Speaker
		m.busy = msg.Busy
	case InterimMsg:
		m.interim = string(msg)
	case micMsg:
		m.mic = bool(msg)
	case speakerMsg:
		m.speaker = bool(msg)
	case endedMsg:
		m.active = false
		m.mic = false
		m.interim = ""
		m.speakerID = ""
		m.busy = false
	case errMsg:
		m.err = msg.err.Error()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.quitting = true
		return m, tea.Quit
	case tea.KeyEnter:
		text := strings.TrimSpace(string(m.input))
		m.input = m.input[:0]
		if text == "" {
			return m, nil
		}
		m.err = ""
		ctrl := m.ctrl
		return m, func() tea.Msg {
			if err := ctrl.Submit(text); err != nil {
				return errMsg{err}
			}
			return nil
		}
	case tea.KeyBackspace:
		if n := len(m.input); n > 0 {
			m.input = m.input[:n-1]
		}
	case tea.KeySpace:
		m.input = append(m.input, ' ')
	case tea.KeyRunes:
		m.input = append(m.input, msg.Runes...)
	case tea.KeyCtrlS:
		ctrl := m.ctrl
		return m, func() tea.Msg {
			on, err := ctrl.ToggleSpeaker()
			if err != nil {
				return errMsg{err}
			}
			return speakerMsg(on)
		}
	case tea.KeyCtrlT:
		ctrl := m.ctrl
		return m, func() tea.Msg {
			on, err := ctrl.ToggleMic(context.Background())
			if err != nil {
				return errMsg{err}
			}
			return micMsg(on)
		}
	case tea.KeyCtrlE:
		if !m.active {
			return m, nil
		}
		ctrl := m.ctrl
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
			defer cancel()
			if _, err := ctrl.End(ctx); err != nil {
				return errMsg{err}
			}
			return endedMsg{}
		}
	}
	return m, nil
}

func (m *Model) applyStore(ev chat.Event) {
	if ev.GroupID != m.group.ID {
		return
	}
	switch ev.Kind {
	case chat.MessageAdded:
		m.group.Messages = append(m.group.Messages, ev.Message)
	case chat.MessageUpdated:
		for i := range m.group.Messages {
			if m.group.Messages[i].ID == ev.Message.ID {
				m.group.Messages[i] = ev.Message
				return
			}
		}
	case chat.GroupDeleted:
		m.group.Messages = nil
		m.active = false
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return "Hanging up...\n"
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderMessages())
	b.WriteString("\n")
	if m.interim != "" {
		b.WriteString(interimStyle.Render("🎙 " + m.interim + "…"))
		b.WriteString("\n")
	}
	b.WriteString(localStyle.Render("> "))
	b.WriteString(string(m.input))
	b.WriteString("█\n")
	if m.err != "" {
		b.WriteString(errorStyle.Render("error: " + m.err))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("enter: send  ctrl+t: mic  ctrl+s: speaker  ctrl+e: hang up  esc: quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderHeader() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("babelcall · " + m.group.Name))
	b.WriteString("\n")

	state := "idle"
	if m.active {
		state = fmt.Sprintf("in call with %s (%s)", m.info.Peer.Name, m.info.Peer.Language)
	}
	b.WriteString(headerStyle.Render("Call: "))
	b.WriteString(valueStyle.Render(state))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("You: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%s (%s)  mic %s  speaker %s",
		m.local.Name, m.local.Language, onOff(m.mic), onOff(m.speaker))))
	b.WriteString("\n")

	if m.speakerID != "" {
		name := m.speakerID
		if u, ok := m.group.Member(m.speakerID); ok {
			name = u.Name
		}
		line := name + " is speaking"
		if m.busy {
			line += " · replying…"
		}
		b.WriteString(speakStyle.Render("● " + line))
		b.WriteString("\n")
	} else if m.busy {
		b.WriteString(speakStyle.Render("● replying…"))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderMessages() string {
	msgs := m.group.Messages
	if len(msgs) == 0 {
		return valueStyle.Render("  No messages yet. Say something.") + "\n"
	}
	// Keep the latest messages on screen; each takes up to two lines.
	if limit := m.height/2 - 4; limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	var b strings.Builder
	for _, msg := range msgs {
		style := peerStyle
		if msg.SenderID == m.local.ID {
			style = localStyle
		}
		fmt.Fprintf(&b, "%s %s %s %s\n",
			valueStyle.Render(msg.Timestamp.Local().Format("15:04")),
			style.Render(msg.SenderName+":"),
			msg.Text,
			helpStyle.Render(statusGlyph(msg.Status)),
		)
		if msg.TranslatedText != "" {
			b.WriteString("      ")
			b.WriteString(transStyle.Render("↳ " + msg.TranslatedText))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func statusGlyph(s chat.Status) string {
	switch s {
	case chat.StatusSending:
		return "…"
	case chat.StatusSent:
		return "✓"
	case chat.StatusDelivered:
		return "✓✓"
	default:
		return "✓✓ read"
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
