package ledger

import (
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/tidemark/conflux/errors"
)

// Ledger persists checkpoints and run history. Every persistence error
// propagates to the caller: swallowing one would corrupt the
// resumability guarantees the ledger exists to provide.
type Ledger struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewLedger creates a ledger over an already-migrated database
func NewLedger(db *sql.DB, logger *zap.SugaredLogger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// StartRun creates a run record with status running and moves the
// source's checkpoint to running. Returns the new run id.
func (l *Ledger) StartRun(sourceType string, metadata map[string]interface{}) (string, error) {
	runID := GenerateRunID()

	var metadataJSON sql.NullString
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return "", errors.Wrap(err, "marshal run metadata")
		}
		metadataJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := l.db.Exec(`
		INSERT INTO etl_run_history (run_id, source_type, started_at, status, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		runID, sourceType, time.Now().UTC(), StatusRunning, metadataJSON,
	)
	if err != nil {
		return "", errors.WrapPersistence(err, "create run record")
	}

	if err := l.UpdateCheckpoint(sourceType, CheckpointUpdate{Status: StatusRunning}); err != nil {
		return "", err
	}

	if l.logger != nil {
		l.logger.Infow("Started ingestion run",
			"run_id", runID,
			"source_type", sourceType,
		)
	}
	return runID, nil
}

// UpdateCheckpoint creates the source's checkpoint row if absent, else
// mutates it. RecordsProcessed accumulates. On success the error
// message is cleared and last_success_at set; on failure the message is
// stored and last_failure_at set.
func (l *Ledger) UpdateCheckpoint(sourceType string, upd CheckpointUpdate) error {
	cp, err := l.GetCheckpoint(sourceType)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if cp == nil {
		_, err = l.db.Exec(`
			INSERT INTO etl_checkpoints (
				source_type, status, records_processed,
				last_processed_id, last_processed_timestamp
			) VALUES (?, ?, ?, ?, ?)`,
			sourceType, upd.Status, upd.RecordsProcessed,
			nullString(upd.LastProcessedID), nullTime(upd.LastProcessedTimestamp),
		)
		if err != nil {
			return errors.WrapPersistence(err, "create checkpoint")
		}
	} else {
		_, err = l.db.Exec(`
			UPDATE etl_checkpoints
			SET status = ?,
			    records_processed = records_processed + ?,
			    last_processed_id = COALESCE(?, last_processed_id),
			    last_processed_timestamp = COALESCE(?, last_processed_timestamp)
			WHERE source_type = ?`,
			upd.Status, upd.RecordsProcessed,
			nullString(upd.LastProcessedID), nullTime(upd.LastProcessedTimestamp),
			sourceType,
		)
		if err != nil {
			return errors.WrapPersistence(err, "update checkpoint")
		}
	}

	switch upd.Status {
	case StatusSuccess:
		_, err = l.db.Exec(`
			UPDATE etl_checkpoints SET last_success_at = ?, error_message = NULL
			WHERE source_type = ?`,
			now, sourceType,
		)
	case StatusFailure:
		_, err = l.db.Exec(`
			UPDATE etl_checkpoints SET last_failure_at = ?, error_message = ?
			WHERE source_type = ?`,
			now, nullString(upd.ErrorMessage), sourceType,
		)
	}
	if err != nil {
		return errors.WrapPersistence(err, "record checkpoint outcome")
	}

	if l.logger != nil {
		l.logger.Infow("Checkpoint updated",
			"source_type", sourceType,
			"status", upd.Status,
			"records_processed", upd.RecordsProcessed,
		)
	}
	return nil
}

// CompleteRun finalizes a run record exactly once and rolls the final
// status and counts into the checkpoint. A run record that cannot be
// found is logged and tolerated so callers in failure paths are never
// crashed by ledger bookkeeping.
func (l *Ledger) CompleteRun(runID, sourceType string, status Status, counts RunCounts, errorMessage string) error {
	var startedAt time.Time
	err := l.db.QueryRow(
		`SELECT started_at FROM etl_run_history WHERE run_id = ?`, runID,
	).Scan(&startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if l.logger != nil {
			l.logger.Warnw("Run record not found, skipping run finalization",
				"run_id", runID,
				"source_type", sourceType,
			)
		}
	} else if err != nil {
		return errors.WrapPersistence(err, "load run record")
	} else {
		completedAt := time.Now().UTC()
		// started_at loses its offset in SQLite; reinterpret as UTC
		duration := completedAt.Sub(startedAt.UTC()).Seconds()

		_, err = l.db.Exec(`
			UPDATE etl_run_history
			SET completed_at = ?,
			    duration_seconds = ?,
			    status = ?,
			    records_processed = ?,
			    records_inserted = ?,
			    records_updated = ?,
			    records_failed = ?,
			    error_message = ?
			WHERE run_id = ?`,
			completedAt, duration, status,
			counts.Processed, counts.Inserted, counts.Updated, counts.Failed,
			nullString(errorMessage), runID,
		)
		if err != nil {
			return errors.WrapPersistence(err, "finalize run record")
		}
	}

	if err := l.UpdateCheckpoint(sourceType, CheckpointUpdate{
		Status:           status,
		RecordsProcessed: counts.Processed,
		ErrorMessage:     errorMessage,
	}); err != nil {
		return err
	}

	if l.logger != nil {
		l.logger.Infow("Completed ingestion run",
			"run_id", runID,
			"source_type", sourceType,
			"status", status,
			"processed", counts.Processed,
			"inserted", counts.Inserted,
			"updated", counts.Updated,
			"failed", counts.Failed,
		)
	}
	return nil
}

// GetCheckpoint returns the checkpoint for a source type, or nil when
// no run has ever recorded one.
func (l *Ledger) GetCheckpoint(sourceType string) (*Checkpoint, error) {
	row := l.db.QueryRow(`
		SELECT id, source_type, last_processed_id, last_processed_timestamp,
		       last_success_at, last_failure_at, records_processed, status, error_message
		FROM etl_checkpoints WHERE source_type = ?`, sourceType)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapPersistence(err, "get checkpoint")
	}
	return cp, nil
}

// LastSuccessfulTimestamp returns the stored watermark for incremental
// loading, reinterpreted as UTC, or nil when none exists. Callers skip
// records at or before this value; records exactly at the watermark
// are treated as already processed, which is safe because the
// upsert-by-source-key path, not the watermark, is the duplicate guard.
func (l *Ledger) LastSuccessfulTimestamp(sourceType string) (*time.Time, error) {
	cp, err := l.GetCheckpoint(sourceType)
	if err != nil {
		return nil, err
	}
	if cp == nil || cp.LastProcessedTimestamp == nil {
		return nil, nil
	}
	t := cp.LastProcessedTimestamp.UTC()
	return &t, nil
}

// ShouldResume reports whether the previous run for this source was
// interrupted (checkpoint status failure or still running).
func (l *Ledger) ShouldResume(sourceType string) (bool, error) {
	cp, err := l.GetCheckpoint(sourceType)
	if err != nil {
		return false, err
	}
	if cp == nil {
		return false, nil
	}
	resume := cp.Status == StatusFailure || cp.Status == StatusRunning
	if resume && l.logger != nil {
		l.logger.Infow("Resuming ingestion from last checkpoint",
			"source_type", sourceType,
			"previous_status", cp.Status,
		)
	}
	return resume, nil
}

// ListCheckpoints returns every source's checkpoint.
func (l *Ledger) ListCheckpoints() ([]*Checkpoint, error) {
	rows, err := l.db.Query(`
		SELECT id, source_type, last_processed_id, last_processed_timestamp,
		       last_success_at, last_failure_at, records_processed, status, error_message
		FROM etl_checkpoints ORDER BY source_type ASC`)
	if err != nil {
		return nil, errors.WrapPersistence(err, "list checkpoints")
	}
	defer rows.Close()

	var checkpoints []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan checkpoint")
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate checkpoints")
	}
	return checkpoints, nil
}

// ListRuns returns recent runs, newest first, optionally filtered by
// source type.
func (l *Ledger) ListRuns(sourceType string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, run_id, source_type, started_at, completed_at, duration_seconds,
		       records_processed, records_inserted, records_updated, records_failed,
		       status, error_message, metadata
		FROM etl_run_history`
	var args []interface{}
	if sourceType != "" {
		query += ` WHERE source_type = ?`
		args = append(args, sourceType)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, errors.WrapPersistence(err, "list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate runs")
	}
	return runs, nil
}

// GetRun returns one run by its run id, or nil when absent.
func (l *Ledger) GetRun(runID string) (*Run, error) {
	row := l.db.QueryRow(`
		SELECT id, run_id, source_type, started_at, completed_at, duration_seconds,
		       records_processed, records_inserted, records_updated, records_failed,
		       status, error_message, metadata
		FROM etl_run_history WHERE run_id = ?`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapPersistence(err, "get run")
	}
	return run, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var cp Checkpoint
	var lastProcessedID, errorMessage sql.NullString
	var lastProcessedTimestamp, lastSuccessAt, lastFailureAt sql.NullTime
	var status string

	err := row.Scan(
		&cp.ID, &cp.SourceType, &lastProcessedID, &lastProcessedTimestamp,
		&lastSuccessAt, &lastFailureAt, &cp.RecordsProcessed, &status, &errorMessage,
	)
	if err != nil {
		return nil, err
	}

	cp.Status = Status(status)
	cp.LastProcessedID = lastProcessedID.String
	cp.ErrorMessage = errorMessage.String
	cp.LastProcessedTimestamp = timePtrUTC(lastProcessedTimestamp)
	cp.LastSuccessAt = timePtrUTC(lastSuccessAt)
	cp.LastFailureAt = timePtrUTC(lastFailureAt)
	return &cp, nil
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var completedAt sql.NullTime
	var duration sql.NullFloat64
	var errorMessage, metadata sql.NullString
	var status string

	err := row.Scan(
		&run.ID, &run.RunID, &run.SourceType, &run.StartedAt, &completedAt, &duration,
		&run.RecordsProcessed, &run.RecordsInserted, &run.RecordsUpdated, &run.RecordsFailed,
		&status, &errorMessage, &metadata,
	)
	if err != nil {
		return nil, err
	}

	run.Status = Status(status)
	run.StartedAt = run.StartedAt.UTC()
	run.CompletedAt = timePtrUTC(completedAt)
	if duration.Valid {
		d := duration.Float64
		run.DurationSeconds = &d
	}
	run.ErrorMessage = errorMessage.String
	run.Metadata = metadata.String
	return &run, nil
}

func timePtrUTC(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
