package tui

import (
	"context"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"hearth/internal/domain"
	"hearth/internal/usecase/bridge"
)

// commandsMsg carries a drained batch of view commands into the update loop.
type commandsMsg struct {
	commands []domain.ViewCommand
}

// quitMsg asks the program to exit.
type quitMsg struct{}

// waitForCommands blocks on the bridge wake signal, then drains the whole
// command queue into one message. The model re-issues it after each batch.
func waitForCommands(br *bridge.Bridge) tea.Cmd {
	return func() tea.Msg {
		<-br.CommandWake()
		return commandsMsg{commands: drainCommands(br)}
	}
}

func drainCommands(br *bridge.Bridge) []domain.ViewCommand {
	var out []domain.ViewCommand
	for {
		cmd, ok := br.TryRecvCommand()
		if !ok {
			return out
		}
		out = append(out, cmd)
	}
}

// Run starts the Bubble Tea program and blocks until it exits. Context
// cancellation quits the program cleanly.
func Run(ctx context.Context, br *bridge.Bridge, logger *slog.Logger) error {
	program := tea.NewProgram(
		NewModel(br, logger),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	go func() {
		<-ctx.Done()
		program.Send(quitMsg{})
	}()

	_, err := program.Run()
	if err == tea.ErrProgramKilled {
		// Context cancellation during shutdown is not a failure.
		return nil
	}
	return err
}
