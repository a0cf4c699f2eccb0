package ixgest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// DeriveSourceKey produces the deterministic unique key for a raw
// record. Preference order: a natural "id" field, then "guid", then a
// hash of "link", then a content hash over the sorted fields. The key
// is prefixed with the source type so keys never collide across
// sources.
func DeriveSourceKey(sourceType string, fields map[string]interface{}) string {
	if id := fieldString(fields, "id"); id != "" {
		return sourceType + "_" + id
	}
	if guid := fieldString(fields, "guid"); guid != "" {
		return sourceType + "_" + guid
	}
	if link := fieldString(fields, "link"); link != "" {
		return sourceType + "_" + shortHash(link)
	}
	return sourceType + "_" + shortHash(contentString(fields))
}

// contentString renders fields in sorted-key order so the content hash
// is stable across map iteration orders.
func contentString(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&b, "%s=%v;", key, fields[key])
	}
	return b.String()
}

func shortHash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

func fieldString(fields map[string]interface{}, key string) string {
	value, ok := fields[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}
