// Package drift quantifies structural deviation between the field
// shape a source is expected to emit and the records it actually
// emits. Detection never halts ingestion; findings are logged and
// appended to the drift log for offline review.
package drift

import (
	"math"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"go.uber.org/zap"
)

// fuzzyThreshold is the minimum similarity ratio for a renamed-field
// suggestion.
const fuzzyThreshold = 0.6

// Canonical type names used in expected schemas and reported
// mismatches.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeFloat   = "float"
	TypeBoolean = "boolean"
	TypeList    = "list"
	TypeMap     = "map"
	TypeNull    = "null"
	TypeUnknown = "unknown"
)

// Result is the outcome of checking one record against the expected
// schema.
type Result struct {
	HasDrift         bool              `json:"has_drift"`
	Confidence       float64           `json:"confidence"`
	MissingFields    []string          `json:"missing_fields,omitempty"`
	ExtraFields      []string          `json:"extra_fields,omitempty"`
	TypeMismatches   map[string]string `json:"type_mismatches,omitempty"`
	FuzzySuggestions map[string]string `json:"fuzzy_suggestions,omitempty"`
}

// Detector checks records from one source against a fixed expected
// schema. The log store and logger are optional; without them
// detection is a pure computation.
type Detector struct {
	sourceName string
	expected   map[string]string
	store      *LogStore
	logger     *zap.SugaredLogger
}

// NewDetector creates a detector for one source.
func NewDetector(sourceName string, store *LogStore, logger *zap.SugaredLogger) *Detector {
	return &Detector{sourceName: sourceName, store: store, logger: logger}
}

// SetExpectedSchema fixes the expected field → type mapping. Replaces
// any previously set schema.
func (d *Detector) SetExpectedSchema(schema map[string]string) {
	d.expected = make(map[string]string, len(schema))
	for field, typ := range schema {
		d.expected[field] = strings.ToLower(typ)
	}
}

// DetectDrift compares a record's actual fields against the expected
// schema. With no schema set, every record is reported drift-free.
// Drift-log write failures are reported but never fail the record.
func (d *Detector) DetectDrift(actual map[string]interface{}, recordID string) Result {
	if len(d.expected) == 0 {
		return Result{}
	}

	var missing, extra []string
	mismatches := make(map[string]string)

	for field, expectedType := range d.expected {
		value, present := actual[field]
		if !present {
			missing = append(missing, field)
			continue
		}
		// Null values carry no type information
		if value == nil {
			continue
		}
		actualType := TypeOf(value)
		if !typesCompatible(expectedType, actualType) {
			mismatches[field] = "expected " + expectedType + ", got " + actualType
		}
	}
	for field := range actual {
		if _, ok := d.expected[field]; !ok {
			extra = append(extra, field)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)

	result := Result{
		HasDrift:         len(missing) > 0 || len(extra) > 0 || len(mismatches) > 0,
		Confidence:       confidence(len(missing), len(extra), len(mismatches), len(d.expected)),
		MissingFields:    missing,
		ExtraFields:      extra,
		FuzzySuggestions: suggestRenames(missing, extra),
	}
	if len(mismatches) > 0 {
		result.TypeMismatches = mismatches
	}

	if result.HasDrift {
		d.report(result, recordID)
	}
	return result
}

func (d *Detector) report(result Result, recordID string) {
	if d.logger != nil {
		fields := []interface{}{
			"source", d.sourceName,
			"record_id", recordID,
			"confidence", result.Confidence,
			"missing_fields", result.MissingFields,
			"extra_fields", result.ExtraFields,
			"type_mismatches", result.TypeMismatches,
			"fuzzy_suggestions", result.FuzzySuggestions,
		}
		if result.Confidence > 0.5 {
			d.logger.Warnw("Schema drift detected", fields...)
		} else {
			d.logger.Infow("Schema drift detected", fields...)
		}
	}

	if d.store != nil {
		if err := d.store.Append(d.sourceName, recordID, result); err != nil {
			if d.logger != nil {
				d.logger.Errorw("Failed to append drift log entry",
					"source", d.sourceName, "record_id", recordID, "error", err)
			}
		}
	}
}

// confidence weighs missing fields heaviest, then extras and type
// mismatches equally. Each component saturates at twice its share of
// the expected field count.
func confidence(missing, extra, mismatched, totalExpected int) float64 {
	if totalExpected == 0 {
		return 0
	}
	total := float64(totalExpected)
	score := 0.4*math.Min(1, 2*float64(missing)/total) +
		0.3*math.Min(1, 2*float64(extra)/total) +
		0.3*math.Min(1, 2*float64(mismatched)/total)
	return math.Round(score*1000) / 1000
}

// suggestRenames pairs each missing field with the most similar extra
// field above the threshold. Greedy best match; ties keep the first
// candidate encountered.
func suggestRenames(missing, extra []string) map[string]string {
	if len(missing) == 0 || len(extra) == 0 {
		return nil
	}
	suggestions := make(map[string]string)
	for _, want := range missing {
		best := ""
		bestRatio := fuzzyThreshold
		for _, have := range extra {
			if ratio := similarity(want, have); ratio > bestRatio {
				best = have
				bestRatio = ratio
			}
		}
		if best != "" {
			suggestions[want] = best
		}
	}
	if len(suggestions) == 0 {
		return nil
	}
	return suggestions
}

// similarity maps Levenshtein distance onto a 0-1 scale.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	distance := fuzzy.LevenshteinDistance(a, b)
	return 1 - float64(distance)/float64(longest)
}

// TypeOf maps a decoded value onto the canonical type names. Adapters
// hand records through encoding/json-style decoding, so numbers arrive
// as float64; a float64 with no fractional part is reported as integer
// to keep numeric cross-compatibility honest.
func TypeOf(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return TypeNull
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInteger
	case float32:
		return TypeFloat
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return TypeInteger
		}
		return TypeFloat
	case []interface{}, []string:
		return TypeList
	case map[string]interface{}, map[string]string:
		return TypeMap
	default:
		return TypeUnknown
	}
}

func isNumeric(typ string) bool {
	return typ == TypeInteger || typ == TypeFloat
}

// typesCompatible applies the mismatch exemptions: exact match,
// integer/float cross-compatibility, and string-typed fields accepting
// any representation.
func typesCompatible(expected, actual string) bool {
	if expected == actual {
		return true
	}
	if expected == TypeString {
		return true
	}
	if isNumeric(expected) && isNumeric(actual) {
		return true
	}
	return false
}
