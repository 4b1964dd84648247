package tui

import (
	"context"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/babelcall/internal/call"
	"github.com/MrWong99/babelcall/internal/chat"
	"github.com/MrWong99/babelcall/internal/orchestrator"
)

// Bridge forwards call hooks to the running program. Messages sent before
// [Run] attaches a program are dropped.
type Bridge struct {
	mu sync.Mutex
	p  *tea.Program
}

// Hooks returns call hooks that feed the program.
func (b *Bridge) Hooks() call.Hooks {
	return call.Hooks{
		OnInterim:   func(text string) { b.send(InterimMsg(text)) },
		OnIndicator: func(s orchestrator.IndicatorState) { b.send(IndicatorMsg(s)) },
	}
}

func (b *Bridge) attach(p *tea.Program) {
	b.mu.Lock()
	b.p = p
	b.mu.Unlock()
}

func (b *Bridge) send(msg tea.Msg) {
	b.mu.Lock()
	p := b.p
	b.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Config holds what the terminal client shows and drives.
type Config struct {
	Directory *chat.Directory
	Calls     *call.Manager
	Bridge    *Bridge

	// Info is the call to show. Its group is loaded from the directory.
	Info call.Info

	// Options are passed to tea.NewProgram, e.g. input and output for tests.
	Options []tea.ProgramOption
}

// Run shows the call until the user quits or ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	store := cfg.Directory.Store()
	group, err := store.Group(cfg.Info.GroupID)
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}

	model := NewModel(cfg.Calls, cfg.Directory.Local(), group, cfg.Info)
	opts := append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, cfg.Options...)
	p := tea.NewProgram(model, opts...)
	if cfg.Bridge != nil {
		cfg.Bridge.attach(p)
		defer cfg.Bridge.attach(nil)
	}

	events, cancel := store.Subscribe(64)
	defer cancel()
	go func() {
		for ev := range events {
			p.Send(StoreMsg(ev))
		}
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
