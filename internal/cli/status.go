package cli

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/JamesPaynter/mycelium/internal/paths"
	"github.com/JamesPaynter/mycelium/internal/state"
)

var (
	statusHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	statusGoodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusBadStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// NewStatusCmd creates the status command.
func NewStatusCmd(app *App) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show the current state of a run",
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
			st, err := state.NewStore(pc, runID).Load()
			if err != nil {
				return err
			}
			printStatus(cmd, st)
			return nil
		},
	}
	return cmd
}

func printStatus(cmd *cobra.Command, st *state.RunState) {
	out := cmd.OutOrStdout()

	statusStyle := statusGoodStyle
	if st.Status == state.RunFailed {
		statusStyle = statusBadStyle
	}
	fmt.Fprintf(out, "%s %s\n", statusHeaderStyle.Render("run "+st.RunID), statusStyle.Render(string(st.Status)))
	fmt.Fprintf(out, "%s\n", statusDimStyle.Render(fmt.Sprintf("base %s on %s, started %s",
		short(st.BaseSHA), st.MainBranch, st.StartedAt.Format("2006-01-02 15:04:05"))))
	if st.StopReason != "" {
		fmt.Fprintf(out, "stop reason: %s\n", statusBadStyle.Render(st.StopReason))
	}

	counts := st.CountByStatus()
	var statuses []string
	for status := range counts {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(out, "  %-20s %d\n", status, counts[state.TaskStatus(status)])
	}

	if len(st.Batches) > 0 {
		fmt.Fprintln(out, statusHeaderStyle.Render("batches"))
		for _, b := range st.Batches {
			line := fmt.Sprintf("  #%d %-8s tasks=%d", b.ID, b.Status, len(b.Tasks))
			if b.MergeCommit != "" {
				line += " merge=" + short(b.MergeCommit)
			}
			fmt.Fprintln(out, line)
		}
	}

	fmt.Fprintf(out, "%s\n", statusDimStyle.Render(
		fmt.Sprintf("tokens %d, est cost $%.4f", st.TokensUsed, st.EstimatedCost)))

	var attention []string
	for id, t := range st.Tasks {
		if t.Status.Blocks() {
			attention = append(attention, fmt.Sprintf("  %s: %s (%s)", id, t.Status, t.LastError))
		}
	}
	if len(attention) > 0 {
		sort.Strings(attention)
		fmt.Fprintln(out, statusBadStyle.Render("needs attention"))
		for _, line := range attention {
			fmt.Fprintln(out, line)
		}
	}
}

func short(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
