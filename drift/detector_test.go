package drift

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contesting "github.com/tidemark/conflux/internal/testing"
)

func newDetector(schema map[string]string) *Detector {
	d := NewDetector("csv", nil, nil)
	d.SetExpectedSchema(schema)
	return d
}

func TestNoDriftOnMatchingRecord(t *testing.T) {
	d := newDetector(map[string]string{"id": "string", "price": "float"})

	result := d.DetectDrift(map[string]interface{}{"id": "btc", "price": 42.5}, "r1")
	assert.False(t, result.HasDrift)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Empty(t, result.MissingFields)
	assert.Empty(t, result.ExtraFields)
	assert.Empty(t, result.TypeMismatches)
}

func TestMissingAndExtraFields(t *testing.T) {
	d := newDetector(map[string]string{"id": "string", "price": "float", "name": "string"})

	result := d.DetectDrift(map[string]interface{}{"id": "btc", "volume": 1.0}, "r1")
	assert.True(t, result.HasDrift)
	assert.Equal(t, []string{"name", "price"}, result.MissingFields)
	assert.Equal(t, []string{"volume"}, result.ExtraFields)
	assert.Greater(t, result.Confidence, 0.0)
}

func TestTypeMismatchExemptions(t *testing.T) {
	d := newDetector(map[string]string{
		"title": "string",
		"count": "integer",
		"price": "float",
		"live":  "boolean",
	})

	// Strings accept any representation; integer/float cross-compatible;
	// nulls are exempt
	result := d.DetectDrift(map[string]interface{}{
		"title": 123,
		"count": 7.0,
		"price": 10,
		"live":  nil,
	}, "r1")
	assert.False(t, result.HasDrift, "exempt cases must not count as mismatches")

	result = d.DetectDrift(map[string]interface{}{
		"title": "ok",
		"count": "seven",
		"price": 1.5,
		"live":  true,
	}, "r2")
	assert.True(t, result.HasDrift)
	assert.Contains(t, result.TypeMismatches, "count")
	assert.Contains(t, result.TypeMismatches["count"], "expected integer")
}

func TestFuzzySuggestionForRenamedField(t *testing.T) {
	d := newDetector(map[string]string{"user_id": "string", "user_name": "string"})

	result := d.DetectDrift(map[string]interface{}{
		"usr_id":    "123",
		"user_name": "t",
	}, "r1")
	assert.True(t, result.HasDrift)
	assert.Equal(t, []string{"user_id"}, result.MissingFields)
	assert.Equal(t, []string{"usr_id"}, result.ExtraFields)
	require.Contains(t, result.FuzzySuggestions, "user_id")
	assert.Equal(t, "usr_id", result.FuzzySuggestions["user_id"])
}

func TestFuzzySuggestionBelowThresholdOmitted(t *testing.T) {
	d := newDetector(map[string]string{"price_usd": "float"})

	result := d.DetectDrift(map[string]interface{}{"zzz": 1.0}, "r1")
	assert.True(t, result.HasDrift)
	assert.Empty(t, result.FuzzySuggestions)
}

func TestConfidenceBounds(t *testing.T) {
	schema := map[string]string{"a": "string", "b": "string", "c": "string", "d": "string"}
	d := newDetector(schema)

	// Everything missing plus extras: confidence saturates at 1.0 cap
	result := d.DetectDrift(map[string]interface{}{
		"x1": 1, "x2": 2, "x3": 3, "x4": 4, "x5": 5, "x6": 6, "x7": 7, "x8": 8,
	}, "r1")
	assert.True(t, result.HasDrift)
	assert.LessOrEqual(t, result.Confidence, 1.0)
	assert.InDelta(t, 0.7, result.Confidence, 0.0001, "0.4*1 + 0.3*1 + 0.3*0")

	// Confidence is zero iff no drift at all
	clean := d.DetectDrift(map[string]interface{}{"a": "1", "b": "2", "c": "3", "d": "4"}, "r2")
	assert.False(t, clean.HasDrift)
	assert.Equal(t, 0.0, clean.Confidence)

	oneMissing := d.DetectDrift(map[string]interface{}{"a": "1", "b": "2", "c": "3"}, "r3")
	assert.True(t, oneMissing.HasDrift)
	assert.Greater(t, oneMissing.Confidence, 0.0)
	assert.InDelta(t, 0.2, oneMissing.Confidence, 0.0001, "0.4 * (2*1/4)")
}

func TestConfidenceRoundedToThreeDecimals(t *testing.T) {
	schema := make(map[string]string)
	for i := 0; i < 3; i++ {
		schema[fmt.Sprintf("f%d", i)] = "string"
	}
	d := newDetector(schema)

	result := d.DetectDrift(map[string]interface{}{"f0": "x", "f1": "y"}, "r1")
	// 0.4 * (2/3) = 0.26666... -> 0.267
	assert.Equal(t, 0.267, result.Confidence)
}

func TestNoSchemaMeansNoDrift(t *testing.T) {
	d := NewDetector("csv", nil, nil)
	result := d.DetectDrift(map[string]interface{}{"anything": 1}, "r1")
	assert.False(t, result.HasDrift)
}

func TestDetectDriftAppendsToLog(t *testing.T) {
	database := contesting.CreateTestDB(t)
	store := NewLogStore(database)
	d := NewDetector("rss", store, nil)
	d.SetExpectedSchema(map[string]string{"guid": "string", "title": "string"})

	d.DetectDrift(map[string]interface{}{"guid": "g1"}, "r1")
	d.DetectDrift(map[string]interface{}{"guid": "g2", "title": "ok"}, "r2") // no drift
	d.DetectDrift(map[string]interface{}{"titl": "typo"}, "r3")

	entries, err := store.List("rss", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2, "only records with drift are logged")

	counts, err := store.CountBySource()
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["rss"])

	// Newest first; r3 has the fuzzy suggestion
	assert.Equal(t, "r3", entries[0].RecordID)
	assert.Equal(t, "titl", entries[0].FuzzySuggestions["title"])
	assert.Equal(t, []string{"guid", "title"}, entries[0].MissingFields)
}

func TestLoadSchemas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schemas.yaml")
	content := `sources:
  csv:
    id: string
    price_usd: float
  rss:
    guid: string
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	schemas, err := LoadSchemas(path)
	require.NoError(t, err)
	assert.Equal(t, "float", schemas["csv"]["price_usd"])
	assert.Equal(t, "string", schemas["rss"]["guid"])

	_, err = LoadSchemas(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, TypeString, TypeOf("x"))
	assert.Equal(t, TypeInteger, TypeOf(7))
	assert.Equal(t, TypeInteger, TypeOf(7.0), "whole-valued float64 counts as integer")
	assert.Equal(t, TypeFloat, TypeOf(7.5))
	assert.Equal(t, TypeBoolean, TypeOf(true))
	assert.Equal(t, TypeNull, TypeOf(nil))
	assert.Equal(t, TypeList, TypeOf([]interface{}{1}))
	assert.Equal(t, TypeMap, TypeOf(map[string]interface{}{}))
}
