package cli

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/JamesPaynter/mycelium/internal/cli/tui"
	"github.com/JamesPaynter/mycelium/internal/state"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	MaxParallel int    // Max concurrent tasks (0 = config value)
	TasksDir    string // Path to the task manifest directory
	NoTUI       bool   // Disable TUI even when stdout is a TTY
}

// NewRunCmd creates the run command.
func NewRunCmd(app *App) *cobra.Command {
	opts := RunOptions{}

	cmd := &cobra.Command{
		Use:   "run [tasks-dir]",
		Short: "Execute a fresh run over the task catalog",
		Long: `Run loads every task manifest, schedules non-conflicting batches, and
drives them through worker attempts, validation, and the integration
merge gate.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.TasksDir = args[0]
			}
			return app.executeRun(cmd, opts, false, "")
		},
	}

	cmd.Flags().IntVarP(&opts.MaxParallel, "parallel", "p", 0, "Max concurrent tasks (overrides config)")
	cmd.Flags().BoolVar(&opts.NoTUI, "no-tui", false, "Disable interactive TUI (use log output)")

	return cmd
}

// NewResumeCmd creates the resume command.
func NewResumeCmd(app *App) *cobra.Command {
	opts := RunOptions{}
	var runID string

	cmd := &cobra.Command{
		Use:   "resume [run-id]",
		Short: "Resume a paused or interrupted run",
		Long: `Resume reloads a persisted run snapshot, reverts any tasks stranded in
running back to pending, and continues scheduling from where the run
left off. With no argument, the most recent run is resumed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				runID = args[0]
			}
			return app.executeRun(cmd, opts, true, runID)
		},
	}

	cmd.Flags().IntVarP(&opts.MaxParallel, "parallel", "p", 0, "Max concurrent tasks (overrides config)")
	cmd.Flags().BoolVar(&opts.NoTUI, "no-tui", false, "Disable interactive TUI (use log output)")

	return cmd
}

// executeRun wires the runtime and drives the engine, optionally behind
// the watch TUI.
func (a *App) executeRun(cmd *cobra.Command, opts RunOptions, resume bool, runID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.TasksDir != "" {
		cfg.TasksDir = opts.TasksDir
	}
	if opts.MaxParallel > 0 {
		cfg.MaxParallel = opts.MaxParallel
	}

	if resume && runID == "" {
		runID, err = latestRunID(cfg)
		if err != nil {
			return err
		}
	}

	rt, err := buildRuntime(cfg, runID)
	if err != nil {
		return err
	}
	defer rt.close()

	handler := NewSignalHandler(rt.stop)
	handler.OnSignal(func(count int) {
		if count == 1 {
			fmt.Fprintln(os.Stderr, "\nStopping after in-flight tasks finish (^C again to kill workers)...")
		} else {
			fmt.Fprintln(os.Stderr, "\nKilling workers...")
		}
	})
	handler.Start()
	defer handler.Stop()

	ctx := context.Background()

	useTUI := !opts.NoTUI && term.IsTerminal(int(os.Stdout.Fd()))
	if useTUI {
		return a.runWithTUI(ctx, rt, resume)
	}

	status, err := rt.engine.Run(ctx, resume)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s finished: %s\n", rt.runID, status)
	if status == state.RunFailed {
		os.Exit(1)
	}
	return nil
}

// runWithTUI drives the engine in the background while the watch TUI
// tails the orchestrator log.
func (a *App) runWithTUI(ctx context.Context, rt *runtime, resume bool) error {
	model := tui.NewModel(rt.runID, rt.log.Path())
	program := tea.NewProgram(model, tea.WithAltScreen())

	var status state.RunStatus
	var runErr error
	go func() {
		status, runErr = rt.engine.Run(ctx, resume)
		program.Send(tui.DoneMsg{Status: string(status)})
	}()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	if runErr != nil {
		return runErr
	}
	fmt.Printf("run %s finished: %s\n", rt.runID, status)
	if status == state.RunFailed {
		os.Exit(1)
	}
	return nil
}
