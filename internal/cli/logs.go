package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JamesPaynter/mycelium/internal/events"
	"github.com/JamesPaynter/mycelium/internal/paths"
)

// NewLogsCmd creates the logs command: print a run's orchestrator events,
// optionally following the stream via the byte-offset cursor.
func NewLogsCmd(app *App) *cobra.Command {
	var (
		runID  string
		follow bool
		cursor int64
	)

	cmd := &cobra.Command{
		Use:   "logs [run-id]",
		Short: "Print a run's orchestrator event log",
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
			logPath := pc.OrchestratorLog(runID)

			for {
				page, err := events.ReadPage(logPath, cursor, 0)
				if err != nil {
					return err
				}
				for _, line := range page.Lines {
					if app.verbose {
						fmt.Fprintln(cmd.OutOrStdout(), line)
						continue
					}
					ev, err := events.ParseLine([]byte(line))
					if err != nil {
						fmt.Fprintln(cmd.OutOrStdout(), line)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n",
						ev.Time.Format("15:04:05"), ev.String())
				}
				cursor = page.NextCursor
				if !follow {
					return nil
				}
				time.Sleep(500 * time.Millisecond)
			}
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Poll for new events")
	cmd.Flags().Int64Var(&cursor, "cursor", 0, "Byte offset to start reading from")

	return cmd
}
