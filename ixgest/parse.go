package ixgest

import (
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are tried in order by ParseTimestamp. Offsets are
// honored when present; layouts without an offset are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
}

// ParseTimestamp parses a loosely typed timestamp value. Unparseable
// values yield nil rather than an error; a missing timestamp only
// disables incremental skipping for that record.
func ParseTimestamp(value interface{}) *time.Time {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		utc := v.UTC()
		return &utc
	case *time.Time:
		if v == nil {
			return nil
		}
		utc := v.UTC()
		return &utc
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				utc := t.UTC()
				return &utc
			}
		}
		return nil
	default:
		return nil
	}
}

// ParseFloat converts a loosely typed numeric value. Unparseable
// values yield nil.
func ParseFloat(value interface{}) *float64 {
	switch v := value.(type) {
	case nil:
		return nil
	case float64:
		return &v
	case float32:
		f := float64(v)
		return &f
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}
