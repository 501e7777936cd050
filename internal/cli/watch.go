package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/JamesPaynter/mycelium/internal/cli/tui"
	"github.com/JamesPaynter/mycelium/internal/paths"
)

// NewWatchCmd creates the watch command: a read-only TUI tailing a run's
// orchestrator log. The run may be driven by another process.
func NewWatchCmd(app *App) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "watch [run-id]",
		Short: "Tail a run's event stream in a TUI",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(args) > 0 {
				runID = args[0]
			} else {
				runID, err = latestRunID(cfg)
				if err != nil {
					return err
				}
			}

			pc, err := paths.New(cfg.Home, cfg.Project)
			if err != nil {
				return err
			}

			model := tui.NewModel(runID, pc.OrchestratorLog(runID))
			program := tea.NewProgram(model, tea.WithAltScreen())
			if _, err := program.Run(); err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			return nil
		},
	}
	return cmd
}
