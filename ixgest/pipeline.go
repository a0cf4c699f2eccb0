package ixgest

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/tidemark/conflux/drift"
	"github.com/tidemark/conflux/errors"
	"github.com/tidemark/conflux/identity"
	"github.com/tidemark/conflux/inject"
	"github.com/tidemark/conflux/ledger"
	"github.com/tidemark/conflux/store"
)

const defaultBatchSize = 1000

// Pipeline runs one source's records through injection check, drift
// detection, identity resolution, and storage, bracketed by the run
// ledger. One pipeline serves any number of sources; per-source state
// lives in the adapters and the ledger, and injector state lives in
// the individual run.
type Pipeline struct {
	store       *store.Store
	ledger      *ledger.Ledger
	driftLog    *drift.LogStore
	newInjector func() *inject.Injector
	schemas     map[string]map[string]string
	batchSize   int
	logger      *zap.SugaredLogger
}

// PipelineOptions configures optional pipeline behavior.
type PipelineOptions struct {
	// NewInjector builds the failure injector for each run. Every run
	// gets a fresh one so the seen-counter and trigger state never leak
	// across sources or invocations. Defaults to the
	// environment-configured harness.
	NewInjector func() *inject.Injector
	// Schemas maps source name to expected field schema for drift
	// detection. Sources without an entry skip drift checks.
	Schemas map[string]map[string]string
	// BatchSize is the checkpoint advance interval, default 1000.
	BatchSize int
}

// NewPipeline wires a pipeline over an open store and ledger.
func NewPipeline(st *store.Store, led *ledger.Ledger, driftLog *drift.LogStore,
	logger *zap.SugaredLogger, opts PipelineOptions) *Pipeline {
	newInjector := opts.NewInjector
	if newInjector == nil {
		newInjector = inject.FromEnv
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Pipeline{
		store:       st,
		ledger:      led,
		driftLog:    driftLog,
		newInjector: newInjector,
		schemas:     opts.Schemas,
		batchSize:   batchSize,
		logger:      logger,
	}
}

// Run ingests one source end to end. Per-record validation failures
// are counted and skipped; injected and persistence failures abort the
// run after the batch-so-far has been committed, leaving the
// checkpoint at a consistent "processed up to here" state. A ledger
// write that itself fails aborts immediately: the checkpoint can no
// longer vouch for what has been processed.
func (p *Pipeline) Run(ctx context.Context, source Source) (*Result, error) {
	name := source.Name()

	// Checked before StartRun moves the checkpoint to running, which
	// would make every run look interrupted
	if resume, err := p.ledger.ShouldResume(name); err == nil && resume {
		p.infow("Resuming from interrupted run", "source", name)
	}

	runID, err := p.ledger.StartRun(name, map[string]interface{}{
		"batch_size": p.batchSize,
	})
	if err != nil {
		return nil, err
	}
	result := &Result{RunID: runID, Source: name}
	injector := p.newInjector()

	watermark, err := p.ledger.LastSuccessfulTimestamp(name)
	if err != nil {
		p.fail(result, err)
		return result, err
	}

	items, err := source.Fetch(ctx)
	if err != nil {
		p.fail(result, err)
		return result, err
	}
	p.infow("Fetched records", "source", name, "count", len(items))

	detector := p.detectorFor(name)

	var lastKey string
	var lastTimestamp *time.Time
	sinceCheckpoint := 0

	commitBatch := func() error {
		if sinceCheckpoint == 0 {
			return nil
		}
		if err := p.ledger.UpdateCheckpoint(name, ledger.CheckpointUpdate{
			Status:                 ledger.StatusRunning,
			LastProcessedID:        lastKey,
			LastProcessedTimestamp: lastTimestamp,
		}); err != nil {
			return err
		}
		sinceCheckpoint = 0
		return nil
	}

	for _, item := range items {
		select {
		case <-ctx.Done():
			if cerr := commitBatch(); cerr != nil {
				p.fail(result, cerr)
				return result, cerr
			}
			err := ctx.Err()
			p.fail(result, err)
			return result, err
		default:
		}

		// Records at or before the watermark were committed by a
		// previous run
		if watermark != nil && item.Timestamp != nil && !item.Timestamp.After(*watermark) {
			result.Skipped++
			continue
		}

		// Injection fires before any side-effecting work so persisted
		// state reads "N committed, N+1 never attempted"
		if injErr := injector.CheckAndFail("process record"); injErr != nil {
			if cerr := commitBatch(); cerr != nil {
				p.fail(result, cerr)
				return result, cerr
			}
			p.fail(result, injErr)
			return result, injErr
		}

		key := source.SourceKey(item)
		if detector != nil {
			detector.DetectDrift(item.Fields, key)
		}

		inserted, err := p.processRecord(source, key, item)
		if err != nil {
			if errors.IsValidation(err) {
				result.Failed++
				p.warnw("Skipping malformed record", "source", name, "source_id", key, "error", err)
				continue
			}
			if cerr := commitBatch(); cerr != nil {
				p.fail(result, cerr)
				return result, cerr
			}
			p.fail(result, err)
			return result, err
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}

		result.Processed++
		sinceCheckpoint++
		lastKey = key
		if item.Timestamp != nil {
			lastTimestamp = item.Timestamp
		}
		if sinceCheckpoint >= p.batchSize {
			if err := commitBatch(); err != nil {
				p.fail(result, err)
				return result, err
			}
		}
	}
	if err := commitBatch(); err != nil {
		p.fail(result, err)
		return result, err
	}

	counts := ledger.RunCounts{
		Processed: result.Processed,
		Inserted:  result.Inserted,
		Updated:   result.Updated,
		Failed:    result.Failed,
	}
	if err := p.ledger.CompleteRun(runID, name, ledger.StatusSuccess, counts, ""); err != nil {
		return result, err
	}
	p.infow("Ingestion completed",
		"source", name, "run_id", runID,
		"processed", result.Processed, "inserted", result.Inserted,
		"updated", result.Updated, "failed", result.Failed, "skipped", result.Skipped)
	return result, nil
}

// processRecord upserts one record's raw and normalized forms and
// reports whether the normalized row was newly inserted.
func (p *Pipeline) processRecord(source Source, key string, item RawItem) (bool, error) {
	rec, err := source.Normalize(item)
	if err != nil {
		return false, err
	}
	rec.SourceType = source.Name()
	rec.SourceID = key
	rec.CanonicalID = identity.Resolve(source.Name(), rec.Title, item.Fields)

	rawData, err := json.Marshal(item.Fields)
	if err != nil {
		return false, errors.NewValidationError("unserializable record %s: %v", key, err)
	}
	if _, err := p.store.UpsertRaw(source.Name(), key, rawData); err != nil {
		return false, err
	}

	return p.store.UpsertNormalized(rec)
}

func (p *Pipeline) detectorFor(name string) *drift.Detector {
	schema, ok := p.schemas[name]
	if !ok || len(schema) == 0 {
		return nil
	}
	detector := drift.NewDetector(name, p.driftLog, p.logger)
	detector.SetExpectedSchema(schema)
	return detector
}

// fail finalizes the run as a failure. CompleteRun failures are logged
// rather than masking the original error.
func (p *Pipeline) fail(result *Result, cause error) {
	counts := ledger.RunCounts{
		Processed: result.Processed,
		Inserted:  result.Inserted,
		Updated:   result.Updated,
		Failed:    result.Failed,
	}
	if err := p.ledger.CompleteRun(result.RunID, result.Source,
		ledger.StatusFailure, counts, cause.Error()); err != nil {
		p.errorw("Failed to finalize failed run",
			"run_id", result.RunID, "source", result.Source, "error", err)
	}
}

func (p *Pipeline) infow(msg string, kv ...interface{}) {
	if p.logger != nil {
		p.logger.Infow(msg, kv...)
	}
}

func (p *Pipeline) warnw(msg string, kv ...interface{}) {
	if p.logger != nil {
		p.logger.Warnw(msg, kv...)
	}
}

func (p *Pipeline) errorw(msg string, kv ...interface{}) {
	if p.logger != nil {
		p.logger.Errorw(msg, kv...)
	}
}
