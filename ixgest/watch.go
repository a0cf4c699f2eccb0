package ixgest

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/tidemark/conflux/errors"
)

// Watcher ingests batch files as they arrive in a directory. Each
// completed file becomes one pipeline run; a failed file does not stop
// the watch loop.
type Watcher struct {
	pipeline *Pipeline
	dir      string
	logger   *zap.SugaredLogger
}

// NewWatcher creates a directory watcher feeding the pipeline.
func NewWatcher(pipeline *Pipeline, dir string, logger *zap.SugaredLogger) *Watcher {
	return &Watcher{pipeline: pipeline, dir: dir, logger: logger}
}

// Run blocks watching the directory until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create directory watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return errors.Wrapf(err, "watch directory %s", w.dir)
	}
	w.logger.Infow("Watching for batch files", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if strings.ToLower(filepath.Ext(event.Name)) != ".csv" {
				continue
			}
			w.logger.Infow("Batch file arrived", "path", event.Name)
			if _, err := w.pipeline.Run(ctx, NewCSVSource(event.Name)); err != nil {
				w.logger.Errorw("Batch file ingestion failed", "path", event.Name, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Errorw("Directory watcher error", "error", err)
		}
	}
}
