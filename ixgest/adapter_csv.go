package ixgest

import (
	"context"
	"encoding/csv"
	"io"
	"os"

	"github.com/tidemark/conflux/errors"
	"github.com/tidemark/conflux/store"
)

// CSVSource ingests delimited batch files with a header row. Values
// arrive as strings and are parsed leniently during normalization.
type CSVSource struct {
	path string
}

// NewCSVSource creates an adapter for one batch file.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// WithPath returns a copy reading a different file, for watch mode
// where files arrive over time.
func (s *CSVSource) WithPath(path string) *CSVSource {
	return &CSVSource{path: path}
}

func (s *CSVSource) Name() string { return "csv" }

// ExpectedSchema declares the batch-file shape for drift detection.
// Everything is a string on the wire; drift shows up as missing,
// extra, or renamed columns.
func (s *CSVSource) ExpectedSchema() map[string]string {
	return map[string]string{
		"id":          "string",
		"title":       "string",
		"description": "string",
		"value":       "string",
		"category":    "string",
		"timestamp":   "string",
	}
}

func (s *CSVSource) Fetch(ctx context.Context) ([]RawItem, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "open batch file %s", s.path)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "read header of %s", s.path)
	}

	var items []RawItem
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read row of %s", s.path)
		}

		fields := make(map[string]interface{}, len(header))
		for i, column := range header {
			if i < len(row) {
				fields[column] = row[i]
			}
		}
		items = append(items, RawItem{
			Fields:    fields,
			Timestamp: ParseTimestamp(fields["timestamp"]),
		})
	}
	return items, nil
}

func (s *CSVSource) SourceKey(item RawItem) string {
	return DeriveSourceKey(s.Name(), item.Fields)
}

func (s *CSVSource) Normalize(item RawItem) (*store.NormalizedRecord, error) {
	title := fieldString(item.Fields, "title")
	if title == "" {
		return nil, errors.NewValidationError("record has no title")
	}
	return &store.NormalizedRecord{
		Title:           title,
		Description:     fieldString(item.Fields, "description"),
		Value:           ParseFloat(item.Fields["value"]),
		Category:        fieldString(item.Fields, "category"),
		SourceTimestamp: item.Timestamp,
	}, nil
}
