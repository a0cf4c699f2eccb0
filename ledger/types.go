// Package ledger is the single source of truth for ingestion progress.
// It persists one checkpoint per source type and one run record per
// ingestion invocation, making interrupted ingestion resumable.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the outcome state of a run or checkpoint
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusRunning, StatusSuccess, StatusFailure:
		return true
	default:
		return false
	}
}

// Checkpoint marks how far ingestion has progressed for one source
// type. At most one row exists per source type; it is created on the
// first run and mutated, never deleted. RecordsProcessed accumulates
// across runs and never decreases.
type Checkpoint struct {
	ID                     int64      `json:"id"`
	SourceType             string     `json:"source_type"`
	LastProcessedID        string     `json:"last_processed_id,omitempty"`
	LastProcessedTimestamp *time.Time `json:"last_processed_timestamp,omitempty"`
	LastSuccessAt          *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt          *time.Time `json:"last_failure_at,omitempty"`
	RecordsProcessed       int64      `json:"records_processed"`
	Status                 Status     `json:"status"`
	ErrorMessage           string     `json:"error_message,omitempty"`
}

// Run is one ingestion invocation. Finalized exactly once; immutable
// afterwards except by the invocation that owns it.
type Run struct {
	ID               int64      `json:"id"`
	RunID            string     `json:"run_id"`
	SourceType       string     `json:"source_type"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	DurationSeconds  *float64   `json:"duration_seconds,omitempty"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsInserted  int        `json:"records_inserted"`
	RecordsUpdated   int        `json:"records_updated"`
	RecordsFailed    int        `json:"records_failed"`
	Status           Status     `json:"status"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	Metadata         string     `json:"metadata,omitempty"`
}

// RunCounts carries the final counters of an invocation.
type RunCounts struct {
	Processed int
	Inserted  int
	Updated   int
	Failed    int
}

// CheckpointUpdate describes one checkpoint mutation.
// RecordsProcessed is added to the stored total, not assigned.
type CheckpointUpdate struct {
	Status                 Status
	RecordsProcessed       int
	LastProcessedID        string
	LastProcessedTimestamp *time.Time
	ErrorMessage           string
}

// GenerateRunID produces a globally unique, time-ordered run id.
// The timestamp prefix gives operators readable history; the random
// suffix carries uniqueness (duplicate ids would corrupt run history).
func GenerateRunID() string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("run_%s_%s", time.Now().UTC().Format("20060102_150405"), suffix)
}
