package ixgest

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tidemark/conflux/drift"
	"github.com/tidemark/conflux/errors"
	"github.com/tidemark/conflux/inject"
	"github.com/tidemark/conflux/ledger"
	contesting "github.com/tidemark/conflux/internal/testing"
	"github.com/tidemark/conflux/store"
)

// memSource is an in-memory adapter for pipeline tests.
type memSource struct {
	name  string
	items []RawItem
}

func (s *memSource) Name() string { return s.name }

func (s *memSource) Fetch(ctx context.Context) ([]RawItem, error) {
	return s.items, nil
}

func (s *memSource) SourceKey(item RawItem) string {
	return DeriveSourceKey(s.name, item.Fields)
}

func (s *memSource) Normalize(item RawItem) (*store.NormalizedRecord, error) {
	title := fieldString(item.Fields, "title")
	if title == "" {
		return nil, errors.NewValidationError("record has no title")
	}
	return &store.NormalizedRecord{
		Title:           title,
		Value:           ParseFloat(item.Fields["value"]),
		SourceTimestamp: item.Timestamp,
	}, nil
}

// makeItems builds n records with distinct ascending timestamps.
func makeItems(n int) []RawItem {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	items := make([]RawItem, 0, n)
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		items = append(items, RawItem{
			Fields: map[string]interface{}{
				"id":    fmt.Sprintf("rec-%03d", i),
				"title": fmt.Sprintf("Record %d", i),
				"value": float64(i),
			},
			Timestamp: &ts,
		})
	}
	return items
}

type pipelineEnv struct {
	pipeline *Pipeline
	db       *sql.DB
	store    *store.Store
	ledger   *ledger.Ledger
	driftLog *drift.LogStore
}

func newPipelineEnv(t *testing.T, opts PipelineOptions) *pipelineEnv {
	t.Helper()
	database := contesting.CreateTestDB(t)
	st := store.NewStore(database)
	led := ledger.NewLedger(database, nil)
	driftLog := drift.NewLogStore(database)
	if opts.NewInjector == nil {
		opts.NewInjector = inject.New
	}
	return &pipelineEnv{
		pipeline: NewPipeline(st, led, driftLog, nil, opts),
		db:       database,
		store:    st,
		ledger:   led,
		driftLog: driftLog,
	}
}

// failAfterInjector arms a fresh exception injector for every run.
func failAfterInjector(n int) func() *inject.Injector {
	return func() *inject.Injector {
		return inject.NewWithOptions(true, 0, n, inject.FailureException)
	}
}

func TestPipelineIngestsAllRecords(t *testing.T) {
	env := newPipelineEnv(t, PipelineOptions{})
	source := &memSource{name: "csv", items: makeItems(10)}

	result, err := env.pipeline.Run(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Processed)
	assert.Equal(t, 10, result.Inserted)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, result.Failed)

	count, err := env.store.CountNormalized("csv")
	require.NoError(t, err)
	assert.Equal(t, 10, count)

	cp, err := env.ledger.GetCheckpoint("csv")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuccess, cp.Status)
	assert.Equal(t, int64(10), cp.RecordsProcessed)
}

// Ingesting the same input twice yields the same row count as once.
func TestPipelineIsIdempotent(t *testing.T) {
	env := newPipelineEnv(t, PipelineOptions{})
	source := &memSource{name: "csv", items: makeItems(10)}

	_, err := env.pipeline.Run(context.Background(), source)
	require.NoError(t, err)

	second, err := env.pipeline.Run(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 10, second.Skipped, "watermark skips already-committed records")
	assert.Equal(t, 0, second.Processed)

	count, err := env.store.CountNormalized("csv")
	require.NoError(t, err)
	assert.Equal(t, 10, count, "re-ingesting must not duplicate rows")
}

// Records without timestamps bypass the watermark; the upsert is the
// duplicate guard.
func TestPipelineUpsertGuardsDuplicatesWithoutTimestamps(t *testing.T) {
	env := newPipelineEnv(t, PipelineOptions{})
	items := makeItems(5)
	for i := range items {
		items[i].Timestamp = nil
	}
	source := &memSource{name: "csv", items: items}

	_, err := env.pipeline.Run(context.Background(), source)
	require.NoError(t, err)

	second, err := env.pipeline.Run(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 5, second.Processed)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 5, second.Updated)

	count, err := env.store.CountNormalized("csv")
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

// An injected failure after N of M records leaves a failure checkpoint;
// a rerun with injection disabled lands all M records exactly once.
func TestPipelineResumability(t *testing.T) {
	const total, failAfter = 10, 5

	env := newPipelineEnv(t, PipelineOptions{
		NewInjector: failAfterInjector(failAfter),
	})
	source := &memSource{name: "csv", items: makeItems(total)}

	result, err := env.pipeline.Run(context.Background(), source)
	require.Error(t, err)
	assert.True(t, errors.IsInjected(err))
	assert.GreaterOrEqual(t, result.Processed, failAfter-1)

	cp, err := env.ledger.GetCheckpoint("csv")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailure, cp.Status)
	assert.Contains(t, cp.ErrorMessage, "injected")

	resume, err := env.ledger.ShouldResume("csv")
	require.NoError(t, err)
	assert.True(t, resume)

	// Rerun without injection on the same database
	env.pipeline.newInjector = inject.New
	result, err = env.pipeline.Run(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, failAfter-1, result.Skipped, "committed records are skipped via the watermark")
	assert.Equal(t, total-failAfter+1, result.Processed, "remaining records are processed")

	count, err := env.store.CountNormalized("csv")
	require.NoError(t, err)
	assert.Equal(t, total, count, "all records present exactly once")

	cp, err = env.ledger.GetCheckpoint("csv")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuccess, cp.Status)
	assert.Empty(t, cp.ErrorMessage)
}

func TestPipelineCountsValidationFailures(t *testing.T) {
	env := newPipelineEnv(t, PipelineOptions{})
	items := makeItems(4)
	delete(items[1].Fields, "title")
	delete(items[3].Fields, "title")
	source := &memSource{name: "csv", items: items}

	result, err := env.pipeline.Run(context.Background(), source)
	require.NoError(t, err, "validation failures are never fatal")
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Failed)

	run, err := env.ledger.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuccess, run.Status)
	assert.Equal(t, 2, run.RecordsFailed)
}

func TestPipelineDetectsDrift(t *testing.T) {
	env := newPipelineEnv(t, PipelineOptions{
		Schemas: map[string]map[string]string{
			"csv": {"id": "string", "title": "string", "value": "float", "price": "float"},
		},
	})
	source := &memSource{name: "csv", items: makeItems(3)}

	_, err := env.pipeline.Run(context.Background(), source)
	require.NoError(t, err)

	entries, err := env.driftLog.List("csv", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "every record misses the price field")
	assert.Equal(t, []string{"price"}, entries[0].MissingFields)
}

func TestPipelineBatchCheckpointing(t *testing.T) {
	env := newPipelineEnv(t, PipelineOptions{
		BatchSize:   2,
		NewInjector: failAfterInjector(5),
	})
	source := &memSource{name: "csv", items: makeItems(10)}

	_, err := env.pipeline.Run(context.Background(), source)
	require.Error(t, err)

	// Records 1-4 committed in two batches; the watermark sits at
	// record index 3
	cp, err := env.ledger.GetCheckpoint("csv")
	require.NoError(t, err)
	require.NotNil(t, cp.LastProcessedTimestamp)
	expected := time.Date(2026, 2, 1, 0, 3, 0, 0, time.UTC)
	assert.True(t, cp.LastProcessedTimestamp.Equal(expected),
		"watermark %v, want %v", cp.LastProcessedTimestamp, expected)
	assert.Equal(t, "csv_rec-003", cp.LastProcessedID)
}

// tableDroppingSource breaks the checkpoint table once fetch begins,
// simulating a ledger that fails partway through a run.
type tableDroppingSource struct {
	memSource
	db *sql.DB
}

func (s *tableDroppingSource) Fetch(ctx context.Context) ([]RawItem, error) {
	if _, err := s.db.Exec(`DROP TABLE etl_checkpoints`); err != nil {
		return nil, err
	}
	return s.items, nil
}

// A failed checkpoint commit must abort ingestion: once the ledger
// stops recording progress, "processed up to here" can no longer be
// trusted and every further upsert widens the gap.
func TestPipelineAbortsWhenCheckpointCommitFails(t *testing.T) {
	env := newPipelineEnv(t, PipelineOptions{BatchSize: 2})
	source := &tableDroppingSource{
		memSource: memSource{name: "csv", items: makeItems(6)},
		db:        env.db,
	}

	result, err := env.pipeline.Run(context.Background(), source)
	require.Error(t, err)
	assert.True(t, errors.IsPersistence(err), "ledger write failures are persistence errors")
	assert.Equal(t, 2, result.Processed, "ingestion stops at the first failed commit")

	count, err := env.store.CountNormalized("csv")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "no upserts after the ledger broke")
}

// Parallel sources each get a fresh injector; a shared seen-counter
// would interleave nondeterministically and fire at most once per
// invocation instead of once per source.
func TestEachRunGetsItsOwnInjector(t *testing.T) {
	env := newPipelineEnv(t, PipelineOptions{NewInjector: failAfterInjector(2)})
	o := NewOrchestrator(env.pipeline, []Source{
		&memSource{name: "csv", items: makeItems(3)},
		&memSource{name: "rss", items: makeItems(3)},
	}, nil)

	_, err := o.RunAll(context.Background())
	require.Error(t, err)

	for _, name := range []string{"csv", "rss"} {
		cp, err := env.ledger.GetCheckpoint(name)
		require.NoError(t, err)
		require.NotNil(t, cp)
		assert.Equal(t, ledger.StatusFailure, cp.Status,
			"source %s trips its own injector", name)
	}
}

// Resumption is only announced when the previous run was interrupted,
// not on every run.
func TestPipelineResumeLoggedOnlyAfterInterruption(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	database := contesting.CreateTestDB(t)
	pipe := NewPipeline(store.NewStore(database), ledger.NewLedger(database, nil),
		drift.NewLogStore(database), zap.New(core).Sugar(),
		PipelineOptions{NewInjector: inject.New})

	items := makeItems(6)
	const resumeMsg = "Resuming from interrupted run"

	_, err := pipe.Run(context.Background(), &memSource{name: "csv", items: items[:3]})
	require.NoError(t, err)
	assert.Zero(t, logs.FilterMessage(resumeMsg).Len(), "a clean first run is not a resume")

	pipe.newInjector = failAfterInjector(1)
	_, err = pipe.Run(context.Background(), &memSource{name: "csv", items: items})
	require.Error(t, err)
	assert.Zero(t, logs.FilterMessage(resumeMsg).Len())

	pipe.newInjector = inject.New
	_, err = pipe.Run(context.Background(), &memSource{name: "csv", items: items})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage(resumeMsg).Len(),
		"resume announced once after the interrupted run")
}

func TestOrchestratorRunsSourcesIndependently(t *testing.T) {
	env := newPipelineEnv(t, PipelineOptions{})
	good := &memSource{name: "csv", items: makeItems(3)}
	alsoGood := &memSource{name: "rss", items: makeItems(2)}

	o := NewOrchestrator(env.pipeline, []Source{good, alsoGood}, nil)
	results, err := o.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 3, results["csv"].Processed)
	assert.Equal(t, 2, results["rss"].Processed)

	assert.ElementsMatch(t, []string{"csv", "rss"}, o.SourceNames())

	_, err = o.RunOne(context.Background(), "nope")
	assert.Error(t, err)
}
