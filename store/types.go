// Package store persists raw and normalized records with idempotent
// upsert-by-source-key semantics.
package store

import (
	"encoding/json"
	"time"
)

// RawRecord is a source record preserved exactly as the adapter
// produced it.
type RawRecord struct {
	ID         int64           `json:"id"`
	SourceType string          `json:"source_type"`
	SourceID   string          `json:"source_id"`
	RawData    json.RawMessage `json:"raw_data"`
	IngestedAt time.Time       `json:"ingested_at"`
}

// NormalizedRecord is the unified shape shared by all sources. The
// source_id is the deterministic dedup key; canonical_id groups records
// from different sources that describe the same entity.
type NormalizedRecord struct {
	ID              int64      `json:"id"`
	SourceType      string     `json:"source_type"`
	SourceID        string     `json:"source_id"`
	CanonicalID     string     `json:"canonical_id,omitempty"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Value           *float64   `json:"value,omitempty"`
	Category        string     `json:"category,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	SourceTimestamp *time.Time `json:"source_timestamp,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// ListFilter narrows ListNormalized results. Zero values mean "no
// constraint" for that dimension.
type ListFilter struct {
	SourceType  string
	CanonicalID string
	Category    string
	Since       *time.Time
	Until       *time.Time
	Limit       int
	Offset      int
}
