package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/abx/internal/shared"
	"github.com/desertthunder/abx/internal/state"
	"github.com/desertthunder/abx/internal/tasks"
	"github.com/desertthunder/abx/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive terminal UI for tracked audiobooks. With
// --offline it browses local state only; otherwise it wires both clients so
// a sync pass can be triggered from the UI.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd)

	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger("./tmp/abx-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	var store *state.Store
	var syncer *tasks.Syncer

	if cmd.Bool("offline") {
		store = state.NewStore(config.State.Path, config.State.Persist, config.Sync.WatchlistMaxSize, r.logger)
		store.Load()
	} else {
		st, err := r.buildStack(ctx, config, config.Sync.DryRun)
		if err != nil {
			return err
		}
		defer st.close()
		store = st.store
		syncer = st.syncer
	}

	model := ui.NewModel(ctx, store, syncer)
	p := tea.NewProgram(model)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
