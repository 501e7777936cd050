// Package cli wires the engine into the mycelium command surface.
package cli

import (
	"github.com/spf13/cobra"
)

// versionInfo holds build-time version metadata.
type versionInfo struct {
	Version string
	Commit  string
	Date    string
}

// App represents the CLI application with all wired dependencies.
type App struct {
	rootCmd *cobra.Command

	verbose     bool
	versionInfo versionInfo
}

// New creates a new CLI application.
func New() *App {
	app := &App{}
	app.setupRootCmd()
	return app
}

// Execute runs the CLI application.
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

// SetVersion sets the build metadata for the version command.
func (a *App) SetVersion(version, commit, date string) {
	a.versionInfo = versionInfo{Version: version, Commit: commit, Date: date}
}

// setupRootCmd configures the root Cobra command.
func (a *App) setupRootCmd() {
	a.rootCmd = &cobra.Command{
		Use:   "mycelium",
		Short: "Autonomous task orchestrator over git worktrees",
		Long: `Mycelium executes precomputed task manifests in parallel batches,
each task in its own git worktree, gating every merge through a
temporary integration doctor before fast-forwarding main.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	a.rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false,
		"Verbose output")

	a.rootCmd.AddCommand(
		NewRunCmd(a),
		NewResumeCmd(a),
		NewStatusCmd(a),
		NewWatchCmd(a),
		NewLogsCmd(a),
		NewVersionCmd(a),
	)
}
