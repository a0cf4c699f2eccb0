package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/tidemark/conflux/errors"
)

// Store handles persistence of raw and normalized records
type Store struct {
	db *sql.DB
}

// NewStore creates a new record store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertRaw inserts or replaces the raw payload for a source key.
// Returns true when the row was newly inserted.
func (s *Store) UpsertRaw(sourceType, sourceID string, rawData json.RawMessage) (bool, error) {
	exists, err := s.rawExists(sourceID)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	if exists {
		_, err = s.db.Exec(
			`UPDATE raw_records SET raw_data = ?, ingested_at = ? WHERE source_id = ?`,
			string(rawData), now, sourceID,
		)
		if err != nil {
			return false, errors.WrapPersistence(err, "update raw record")
		}
		return false, nil
	}

	_, err = s.db.Exec(
		`INSERT INTO raw_records (source_type, source_id, raw_data, ingested_at) VALUES (?, ?, ?, ?)`,
		sourceType, sourceID, string(rawData), now,
	)
	if err != nil {
		return false, errors.WrapPersistence(err, "insert raw record")
	}
	return true, nil
}

func (s *Store) rawExists(sourceID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM raw_records WHERE source_id = ?)`, sourceID,
	).Scan(&exists)
	if err != nil {
		return false, errors.WrapPersistence(err, "check raw record existence")
	}
	return exists, nil
}

// UpsertNormalized inserts or updates a normalized record keyed by its
// source_id. Returns true when the row was newly inserted. This upsert
// is the duplicate guard for resumed and repeated ingestion.
func (s *Store) UpsertNormalized(rec *NormalizedRecord) (bool, error) {
	var existingID int64
	err := s.db.QueryRow(
		`SELECT id FROM normalized_records WHERE source_id = ?`, rec.SourceID,
	).Scan(&existingID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, errors.WrapPersistence(err, "check normalized record existence")
	}

	tagsJSON, err := marshalTags(rec.Tags)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	if existingID != 0 {
		_, err = s.db.Exec(`
			UPDATE normalized_records
			SET canonical_id = ?,
			    title = ?,
			    description = ?,
			    value = ?,
			    category = ?,
			    tags = ?,
			    source_timestamp = ?,
			    updated_at = ?
			WHERE id = ?`,
			nullString(rec.CanonicalID),
			rec.Title,
			nullString(rec.Description),
			nullFloat(rec.Value),
			nullString(rec.Category),
			tagsJSON,
			nullTime(rec.SourceTimestamp),
			now,
			existingID,
		)
		if err != nil {
			return false, errors.WrapPersistence(err, "update normalized record")
		}
		return false, nil
	}

	_, err = s.db.Exec(`
		INSERT INTO normalized_records (
			source_type, source_id, canonical_id,
			title, description, value, category, tags,
			source_timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SourceType,
		rec.SourceID,
		nullString(rec.CanonicalID),
		rec.Title,
		nullString(rec.Description),
		nullFloat(rec.Value),
		nullString(rec.Category),
		tagsJSON,
		nullTime(rec.SourceTimestamp),
		now,
	)
	if err != nil {
		return false, errors.WrapPersistence(err, "insert normalized record")
	}
	return true, nil
}

// GetNormalizedBySourceID retrieves one normalized record by its dedup key.
// Returns nil when no record exists.
func (s *Store) GetNormalizedBySourceID(sourceID string) (*NormalizedRecord, error) {
	row := s.db.QueryRow(selectNormalizedColumns+` FROM normalized_records WHERE source_id = ?`, sourceID)
	rec, err := scanNormalized(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapPersistence(err, "get normalized record")
	}
	return rec, nil
}

// ListByCanonicalID returns every source's record for a canonical
// entity, ordered by creation time. When excludeSourceType is set,
// records from that source are omitted.
func (s *Store) ListByCanonicalID(canonicalID, excludeSourceType string) ([]*NormalizedRecord, error) {
	query := selectNormalizedColumns + ` FROM normalized_records WHERE canonical_id = ?`
	args := []interface{}{canonicalID}
	if excludeSourceType != "" {
		query += ` AND source_type != ?`
		args = append(args, excludeSourceType)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.WrapPersistence(err, "list records by canonical id")
	}
	defer rows.Close()

	return scanNormalizedRows(rows)
}

// CountNormalized returns the total number of normalized rows,
// optionally restricted to one source type.
func (s *Store) CountNormalized(sourceType string) (int, error) {
	query := `SELECT COUNT(*) FROM normalized_records`
	var args []interface{}
	if sourceType != "" {
		query += ` WHERE source_type = ?`
		args = append(args, sourceType)
	}

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, errors.WrapPersistence(err, "count normalized records")
	}
	return count, nil
}

const selectNormalizedColumns = `SELECT id, source_type, source_id, canonical_id,
	title, description, value, category, tags, source_timestamp, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNormalized(row rowScanner) (*NormalizedRecord, error) {
	var rec NormalizedRecord
	var canonicalID, description, category, tags sql.NullString
	var value sql.NullFloat64
	var sourceTimestamp, updatedAt sql.NullTime

	err := row.Scan(
		&rec.ID, &rec.SourceType, &rec.SourceID, &canonicalID,
		&rec.Title, &description, &value, &category, &tags,
		&sourceTimestamp, &rec.CreatedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.CanonicalID = canonicalID.String
	rec.Description = description.String
	rec.Category = category.String
	if value.Valid {
		v := value.Float64
		rec.Value = &v
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &rec.Tags); err != nil {
			return nil, errors.Wrap(err, "unmarshal tags")
		}
	}
	// SQLite loses offsets; stored values are UTC by construction
	if sourceTimestamp.Valid {
		t := sourceTimestamp.Time.UTC()
		rec.SourceTimestamp = &t
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if updatedAt.Valid {
		t := updatedAt.Time.UTC()
		rec.UpdatedAt = &t
	}

	return &rec, nil
}

func scanNormalizedRows(rows *sql.Rows) ([]*NormalizedRecord, error) {
	var records []*NormalizedRecord
	for rows.Next() {
		rec, err := scanNormalized(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan normalized record")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate normalized records")
	}
	return records, nil
}

func marshalTags(tags []string) (sql.NullString, error) {
	if len(tags) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "marshal tags")
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
