// Package identity maps source-specific record descriptions onto
// stable canonical keys, so records from different sources describing
// the same entity share one canonical_id. Resolution is a pure
// function of its inputs; no mapping state is persisted.
package identity

import (
	"fmt"
	"regexp"
	"strings"
)

// Unknown is the canonical key for records whose title normalizes to
// nothing.
const Unknown = "unknown"

const maxCanonicalLength = 100

// identityFields are checked, in order, for a symbol or name match.
var identityFields = []string{"symbol", "ticker", "coin_symbol", "currency"}

var (
	parentheticalSymbol = regexp.MustCompile(`\(([A-Z]{2,6})\)`)
	urlCoinSegment      = regexp.MustCompile(`/coins?/([a-z0-9-]+)`)
	nonWordChars        = regexp.MustCompile(`[^a-z0-9\s-]`)
	whitespaceRuns      = regexp.MustCompile(`\s+`)
	hyphenRuns          = regexp.MustCompile(`-+`)
)

// Resolve derives the canonical key for a record. Strategies are tried
// in priority order; the first match wins:
//
//  1. A composite "<symbol>-<name>" identifier whose symbol is a known
//     alias resolves to the alias's canonical name; unrecognized
//     composites are used verbatim.
//  2. Identity-bearing fields (symbol, ticker, coin_symbol, currency)
//     matched case-insensitively against the alias table.
//  3. The title: direct variant match, then a trailing "(XYZ)" symbol,
//     then substring containment against all known variants.
//  4. A link URL's /coin/ or /coins/ path segment, resolved against
//     the alias table or used verbatim.
//  5. The title itself, normalized into a slug; empty slugs become
//     "unknown".
func Resolve(sourceType, title string, data map[string]interface{}) string {
	if id := stringField(data, "id"); id != "" && strings.Contains(id, "-") {
		symbol := strings.ToLower(strings.SplitN(id, "-", 2)[0])
		if canonical, ok := symbolAliases[symbol]; ok {
			return canonical
		}
		return id
	}

	if canonical := matchKnownEntity(title, data); canonical != "" {
		return canonical
	}

	if link := stringField(data, "link"); link != "" {
		if canonical := extractFromURL(link); canonical != "" {
			return canonical
		}
	}

	return NormalizeTitle(title)
}

// matchKnownEntity checks identity-bearing fields and the title against
// the alias table.
func matchKnownEntity(title string, data map[string]interface{}) string {
	for _, field := range identityFields {
		if value := stringField(data, field); value != "" {
			if canonical, ok := LookupAlias(value); ok {
				return canonical
			}
		}
	}

	titleLower := strings.ToLower(strings.TrimSpace(title))
	if titleLower == "" {
		// An empty title is contained in every variant; resolve it to
		// nothing rather than the shortest alias
		return ""
	}
	if canonical, ok := variantToCanonical[titleLower]; ok {
		return canonical
	}

	if m := parentheticalSymbol.FindStringSubmatch(title); m != nil {
		if canonical, ok := variantToCanonical[strings.ToLower(m[1])]; ok {
			return canonical
		}
	}

	// Partial titles resolve when contained in a known variant
	// ("ethereum class" hits "ethereum classic"). The reverse direction
	// is deliberately not checked: a headline mentioning an entity is
	// not the entity itself and falls through to slug normalization.
	for _, variant := range variantsByLength {
		if strings.Contains(variant, titleLower) {
			return variantToCanonical[variant]
		}
	}

	return ""
}

// extractFromURL pulls the path segment after /coin/ or /coins/ and
// resolves it, falling back to the raw segment.
func extractFromURL(url string) string {
	m := urlCoinSegment.FindStringSubmatch(strings.ToLower(url))
	if m == nil {
		return ""
	}
	if canonical, ok := variantToCanonical[m[1]]; ok {
		return canonical
	}
	return m[1]
}

// NormalizeTitle turns an arbitrary title into a canonical slug:
// lowercase, alphanumerics and hyphens only, whitespace collapsed to
// single hyphens, truncated to 100 characters.
func NormalizeTitle(title string) string {
	normalized := strings.ToLower(strings.TrimSpace(title))
	normalized = nonWordChars.ReplaceAllString(normalized, "")
	normalized = whitespaceRuns.ReplaceAllString(normalized, "-")
	normalized = hyphenRuns.ReplaceAllString(normalized, "-")
	normalized = strings.Trim(normalized, "-")
	if len(normalized) > maxCanonicalLength {
		normalized = normalized[:maxCanonicalLength]
	}
	if normalized == "" {
		return Unknown
	}
	return normalized
}

func stringField(data map[string]interface{}, field string) string {
	value, ok := data[field]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}
