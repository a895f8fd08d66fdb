package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"copilot/internal/tui"
)

// Run executes the ask command.
func (c *AskCmd) Run(deps *Dependencies) error {
	if err := deps.Engine.Ensure(deps.Ctx); err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	m := tui.New(deps.Ctx, deps.Engine, deps.Engine.Stats(deps.Ctx))
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithOutput(deps.Stdout))

	if deps.Watcher != nil {
		ctx, cancel := context.WithCancel(deps.Ctx)
		defer cancel()
		go func() {
			_ = deps.Watcher.Run(ctx, func(ctx context.Context) {
				rep, err := deps.Engine.Refresh(ctx)
				p.Send(tui.RefreshedMsg{Report: rep, Stats: deps.Engine.Stats(ctx), Err: err})
			})
		}()
	}

	_, err := p.Run()
	return err
}
