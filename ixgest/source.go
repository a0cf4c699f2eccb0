// Package ixgest runs the ingestion pipeline: adapters fetch raw
// records from heterogeneous sources, each record is checked for
// injected failures and schema drift, resolved to a canonical
// identity, and upserted into raw and normalized storage, with the
// run bracketed by the checkpoint ledger.
package ixgest

import (
	"context"
	"time"

	"github.com/tidemark/conflux/store"
)

// RawItem is one record emitted by a source adapter: a loosely typed
// field map plus an optional per-record timestamp used for incremental
// skip logic.
type RawItem struct {
	Fields    map[string]interface{}
	Timestamp *time.Time
}

// Source is one ingestion adapter. Fetch returns records in
// source-emission order; SourceKey and Normalize are pure functions of
// the item.
type Source interface {
	// Name is the source type key ("csv", "api_<name>", "rss").
	Name() string

	// Fetch retrieves all raw items. Network-backed adapters wrap
	// their outbound calls with the resilience layer internally.
	Fetch(ctx context.Context) ([]RawItem, error)

	// SourceKey derives the deterministic unique key for an item.
	SourceKey(item RawItem) string

	// Normalize maps an item onto the unified record shape. The
	// canonical id is assigned later by the pipeline. Returns a
	// validation error for malformed records.
	Normalize(item RawItem) (*store.NormalizedRecord, error)
}

// ExpectedSchema optionally declares the field shape a source is
// expected to emit, for drift detection.
type ExpectedSchema interface {
	ExpectedSchema() map[string]string
}

// Result is the outcome of one source's ingestion run.
type Result struct {
	RunID     string `json:"run_id"`
	Source    string `json:"source"`
	Processed int    `json:"processed"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}
