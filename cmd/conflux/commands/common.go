// Package commands implements the conflux CLI subcommands.
package commands

import (
	"database/sql"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tidemark/conflux/config"
	"github.com/tidemark/conflux/db"
	"github.com/tidemark/conflux/drift"
	"github.com/tidemark/conflux/internal/httpclient"
	"github.com/tidemark/conflux/ixgest"
	"github.com/tidemark/conflux/ledger"
	"github.com/tidemark/conflux/logger"
	"github.com/tidemark/conflux/resilience"
	"github.com/tidemark/conflux/store"
)

const outboundTimeout = 30 * time.Second

// loadConfig reads .env, then the config file (explicit --config path
// or discovered conflux.toml), then CONFLUX_ environment overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	_ = godotenv.Load()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	return db.Open(cfg.Database.Path, logger.Logger)
}

// buildSources constructs the adapter for every configured source.
func buildSources(cfg *config.Config) []ixgest.Source {
	client := httpclient.New(outboundTimeout)
	limiters := resilience.NewRegistryFromConfig(cfg.RateLimit, logger.Logger)
	retry := resilience.PolicyFromConfig(cfg.Retry, logger.Logger)

	var sources []ixgest.Source
	if cfg.Sources.CSV.Path != "" {
		sources = append(sources, ixgest.NewCSVSource(cfg.Sources.CSV.Path))
	}
	for _, apiCfg := range cfg.Sources.API {
		sources = append(sources, ixgest.NewAPISource(apiCfg, client, limiters, retry))
	}
	if cfg.Sources.RSS.FeedURL != "" {
		sources = append(sources, ixgest.NewRSSSource(cfg.Sources.RSS.FeedURL, client, limiters, retry))
	}
	return sources
}

// buildSchemas merges adapter-declared schemas with the optional
// schema file; file entries win.
func buildSchemas(cfg *config.Config, sources []ixgest.Source) (map[string]map[string]string, error) {
	schemas := make(map[string]map[string]string)
	for _, source := range sources {
		if declarer, ok := source.(ixgest.ExpectedSchema); ok {
			schemas[source.Name()] = declarer.ExpectedSchema()
		}
	}

	if cfg.Ingest.SchemaFile != "" {
		fromFile, err := drift.LoadSchemas(cfg.Ingest.SchemaFile)
		if err != nil {
			return nil, err
		}
		for name, schema := range fromFile {
			schemas[name] = schema
		}
	}
	return schemas, nil
}

func buildPipeline(cfg *config.Config, database *sql.DB,
	schemas map[string]map[string]string) *ixgest.Pipeline {
	return ixgest.NewPipeline(
		store.NewStore(database),
		ledger.NewLedger(database, logger.Logger),
		drift.NewLogStore(database),
		logger.Logger,
		ixgest.PipelineOptions{
			Schemas:   schemas,
			BatchSize: cfg.Ingest.BatchSize,
		},
	)
}
