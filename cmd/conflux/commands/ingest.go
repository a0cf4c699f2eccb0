package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tidemark/conflux/db"
	"github.com/tidemark/conflux/errors"
	"github.com/tidemark/conflux/ixgest"
	"github.com/tidemark/conflux/logger"
)

var watchMode bool

// IngestCmd runs ingestion for all configured sources, or one source
// by name.
var IngestCmd = &cobra.Command{
	Use:   "ingest [source]",
	Short: "Ingest configured sources into the record store",
	Long: `Ingest runs each configured source through the pipeline: failure
injection check, schema drift detection, identity resolution, and
idempotent upsert, bracketed by the checkpoint ledger.

With no argument every configured source runs in parallel. Pass a
source name (csv, api_<name>, rss) to run one. --watch ingests batch
files as they arrive in the configured watch directory.

Failure injection is armed through CONFLUX_INJECT_* environment
variables; see the inject package documentation.`,
	Args: cobra.MaximumNArgs(1),
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
		if err := db.Migrate(database, logger.Logger); err != nil {
			return err
		}

		sources := buildSources(cfg)
		if len(sources) == 0 && !watchMode {
			return errors.New("no sources configured")
		}

		schemas, err := buildSchemas(cfg, sources)
		if err != nil {
			return err
		}
		pipeline := buildPipeline(cfg, database, schemas)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if watchMode {
			if cfg.Sources.CSV.WatchDir == "" {
				return errors.New("watch mode requires sources.csv.watch_dir")
			}
			watcher := ixgest.NewWatcher(pipeline, cfg.Sources.CSV.WatchDir, logger.Logger)
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}

		orchestrator := ixgest.NewOrchestrator(pipeline, sources, logger.Logger)
		if len(args) == 1 {
			result, err := orchestrator.RunOne(ctx, args[0])
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		}

		results, err := orchestrator.RunAll(ctx)
		for _, result := range results {
			printResult(result)
		}
		return err
	},
}

func init() {
	IngestCmd.Flags().BoolVar(&watchMode, "watch", false,
		"Watch the configured directory for arriving batch files")
}

func printResult(r *ixgest.Result) {
	logger.Infow("Source result",
		"source", r.Source,
		"run_id", r.RunID,
		"processed", r.Processed,
		"inserted", r.Inserted,
		"updated", r.Updated,
		"failed", r.Failed,
		"skipped", r.Skipped,
	)
}
