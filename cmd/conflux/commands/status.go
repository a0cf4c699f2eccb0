package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tidemark/conflux/ledger"
	"github.com/tidemark/conflux/logger"
)

var statusRunLimit int

// StatusCmd prints per-source checkpoints and recent runs.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoints and recent ingestion runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		led := ledger.NewLedger(database, logger.Logger)

		checkpoints, err := led.ListCheckpoints()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tSTATUS\tPROCESSED\tLAST SUCCESS\tERROR")
		for _, cp := range checkpoints {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				cp.SourceType, cp.Status, cp.RecordsProcessed,
				formatTime(cp.LastSuccessAt), truncate(cp.ErrorMessage, 60))
		}
		w.Flush()

		runs, err := led.ListRuns("", statusRunLimit)
		if err != nil {
			return err
		}
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSOURCE\tSTATUS\tPROCESSED\tFAILED\tDURATION")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				run.RunID, run.SourceType, run.Status,
				run.RecordsProcessed, run.RecordsFailed, formatDuration(run.DurationSeconds))
		}
		w.Flush()
		return nil
	},
}

func init() {
	StatusCmd.Flags().IntVar(&statusRunLimit, "runs", 10, "Number of recent runs to show")
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDuration(seconds *float64) string {
	if seconds == nil {
		return "-"
	}
	return (time.Duration(*seconds * float64(time.Second))).Round(time.Millisecond).String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
