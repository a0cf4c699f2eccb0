package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tidemark/conflux/cmd/conflux/commands"
	"github.com/tidemark/conflux/logger"
)

var rootCmd = &cobra.Command{
	Use:   "conflux",
	Short: "Conflux - resilient multi-source data ingestion",
	Long: `Conflux ingests records from heterogeneous sources (batch files,
paginated APIs, syndication feeds) into a unified record store.

Ingestion is resumable and idempotent: every run is bracketed by the
checkpoint ledger, schema drift is detected and quantified, and records
describing the same entity across sources share one canonical identity.

Examples:
  conflux migrate            # Apply database migrations
  conflux ingest             # Ingest all configured sources
  conflux ingest csv         # Ingest one source
  conflux ingest --watch     # Watch a directory for batch files
  conflux status             # Show checkpoints and recent runs
  conflux serve              # Start the read-only query API`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json", false, "Log as JSON instead of console output")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: discover conflux.toml)")

	rootCmd.AddCommand(commands.MigrateCmd)
	rootCmd.AddCommand(commands.IngestCmd)
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.StatusCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
