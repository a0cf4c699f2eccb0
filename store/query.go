package store

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/tidemark/conflux/errors"
)

// ListNormalized returns normalized records matching the filter,
// newest first. Used by the read API; dynamic predicates are built
// with squirrel.
func (s *Store) ListNormalized(filter ListFilter) ([]*NormalizedRecord, error) {
	builder := sq.Select(
		"id", "source_type", "source_id", "canonical_id",
		"title", "description", "value", "category", "tags",
		"source_timestamp", "created_at", "updated_at",
	).From("normalized_records")

	if filter.SourceType != "" {
		builder = builder.Where(sq.Eq{"source_type": filter.SourceType})
	}
	if filter.CanonicalID != "" {
		builder = builder.Where(sq.Eq{"canonical_id": filter.CanonicalID})
	}
	if filter.Category != "" {
		builder = builder.Where(sq.Eq{"category": filter.Category})
	}
	if filter.Since != nil {
		builder = builder.Where(sq.GtOrEq{"source_timestamp": filter.Since.UTC()})
	}
	if filter.Until != nil {
		builder = builder.Where(sq.LtOrEq{"source_timestamp": filter.Until.UTC()})
	}

	builder = builder.OrderBy("created_at DESC")

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	builder = builder.Limit(uint64(limit))
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build list query")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.WrapPersistence(err, "list normalized records")
	}
	defer rows.Close()

	return scanNormalizedRows(rows)
}
