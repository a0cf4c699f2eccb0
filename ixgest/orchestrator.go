package ixgest

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/tidemark/conflux/errors"
)

// Orchestrator runs every configured source through the pipeline.
// Sources are independent: each gets its own goroutine, its own
// ledger bracket, and shares no mutable state with the others beyond
// the process-wide rate-limiter registry.
type Orchestrator struct {
	pipeline *Pipeline
	sources  []Source
	logger   *zap.SugaredLogger
}

// NewOrchestrator creates an orchestrator over a fixed source set.
func NewOrchestrator(pipeline *Pipeline, sources []Source, logger *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{pipeline: pipeline, sources: sources, logger: logger}
}

// RunAll ingests every source in parallel and returns per-source
// results keyed by source name. A failing source does not stop the
// others; the joined error covers every failure.
func (o *Orchestrator) RunAll(ctx context.Context) (map[string]*Result, error) {
	results := make(map[string]*Result, len(o.sources))
	errs := make(map[string]error)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, source := range o.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			result, err := o.pipeline.Run(ctx, src)
			mu.Lock()
			defer mu.Unlock()
			if result != nil {
				results[src.Name()] = result
			}
			if err != nil {
				errs[src.Name()] = err
			}
		}(source)
	}
	wg.Wait()

	if len(errs) == 0 {
		return results, nil
	}
	err := errors.Newf("%d of %d sources failed", len(errs), len(o.sources))
	for name, sourceErr := range errs {
		if o.logger != nil {
			o.logger.Errorw("Source ingestion failed", "source", name, "error", sourceErr)
		}
		err = errors.WithDetailf(err, "%s: %v", name, sourceErr)
	}
	return results, err
}

// RunOne ingests a single source by name.
func (o *Orchestrator) RunOne(ctx context.Context, name string) (*Result, error) {
	for _, source := range o.sources {
		if source.Name() == name {
			return o.pipeline.Run(ctx, source)
		}
	}
	return nil, errors.Newf("unknown source %q", name)
}

// SourceNames lists the configured sources.
func (o *Orchestrator) SourceNames() []string {
	names := make([]string, 0, len(o.sources))
	for _, source := range o.sources {
		names = append(names, source.Name())
	}
	return names
}
