package drift

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/tidemark/conflux/errors"
)

// LogEntry is one persisted drift detection.
type LogEntry struct {
	ID               int64             `json:"id"`
	SourceName       string            `json:"source_name"`
	RecordID         string            `json:"record_id"`
	ConfidenceScore  float64           `json:"confidence_score"`
	MissingFields    []string          `json:"missing_fields,omitempty"`
	ExtraFields      []string          `json:"extra_fields,omitempty"`
	TypeMismatches   map[string]string `json:"type_mismatches,omitempty"`
	FuzzySuggestions map[string]string `json:"fuzzy_suggestions,omitempty"`
	DetectedAt       time.Time         `json:"detected_at"`
}

// LogStore appends drift detections to the schema_drift_logs table.
// The log is append-only; rows are never updated or deleted.
type LogStore struct {
	db *sql.DB
}

// NewLogStore creates a drift log store on an open database.
func NewLogStore(db *sql.DB) *LogStore {
	return &LogStore{db: db}
}

// Append records one drift detection.
func (s *LogStore) Append(sourceName, recordID string, result Result) error {
	missing, err := marshalJSON(result.MissingFields)
	if err != nil {
		return err
	}
	extra, err := marshalJSON(result.ExtraFields)
	if err != nil {
		return err
	}
	mismatches, err := marshalJSON(result.TypeMismatches)
	if err != nil {
		return err
	}
	suggestions, err := marshalJSON(result.FuzzySuggestions)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO schema_drift_logs
			(source_name, record_id, confidence_score,
			 missing_fields, extra_fields, type_mismatches, fuzzy_suggestions, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sourceName, recordID, result.Confidence,
		missing, extra, mismatches, suggestions, time.Now().UTC(),
	)
	if err != nil {
		return errors.WrapPersistence(err, "append drift log entry")
	}
	return nil
}

// List returns recent drift entries, newest first, optionally filtered
// by source.
func (s *LogStore) List(sourceName string, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, source_name, record_id, confidence_score,
		       missing_fields, extra_fields, type_mismatches, fuzzy_suggestions, detected_at
		FROM schema_drift_logs`
	args := []interface{}{}
	if sourceName != "" {
		query += ` WHERE source_name = ?`
		args = append(args, sourceName)
	}
	query += ` ORDER BY detected_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.WrapPersistence(err, "list drift log entries")
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		entry, err := scanLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapPersistence(err, "iterate drift log entries")
	}
	return entries, nil
}

// CountBySource returns drift detection counts per source.
func (s *LogStore) CountBySource() (map[string]int64, error) {
	rows, err := s.db.Query(`
		SELECT source_name, COUNT(*) FROM schema_drift_logs GROUP BY source_name`)
	if err != nil {
		return nil, errors.WrapPersistence(err, "count drift log entries")
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var source string
		var count int64
		if err := rows.Scan(&source, &count); err != nil {
			return nil, errors.WrapPersistence(err, "scan drift count")
		}
		counts[source] = count
	}
	return counts, rows.Err()
}

func scanLogEntry(rows *sql.Rows) (*LogEntry, error) {
	var entry LogEntry
	var missing, extra, mismatches, suggestions sql.NullString
	if err := rows.Scan(
		&entry.ID, &entry.SourceName, &entry.RecordID, &entry.ConfidenceScore,
		&missing, &extra, &mismatches, &suggestions, &entry.DetectedAt,
	); err != nil {
		return nil, errors.WrapPersistence(err, "scan drift log entry")
	}
	entry.DetectedAt = entry.DetectedAt.UTC()

	if missing.Valid && missing.String != "" {
		_ = json.Unmarshal([]byte(missing.String), &entry.MissingFields)
	}
	if extra.Valid && extra.String != "" {
		_ = json.Unmarshal([]byte(extra.String), &entry.ExtraFields)
	}
	if mismatches.Valid && mismatches.String != "" {
		_ = json.Unmarshal([]byte(mismatches.String), &entry.TypeMismatches)
	}
	if suggestions.Valid && suggestions.String != "" {
		_ = json.Unmarshal([]byte(suggestions.String), &entry.FuzzySuggestions)
	}
	return &entry, nil
}

func marshalJSON(v interface{}) (interface{}, error) {
	switch value := v.(type) {
	case []string:
		if len(value) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(value) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal drift log field")
	}
	return string(data), nil
}
