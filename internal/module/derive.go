package module

import (
	"strings"
	"unicode"
)

const (
	maxTitleLen   = 100
	maxSummaryLen = 200
	maxKeywords   = 10
	minKeywordLen = 4

	// DefaultImportance is assigned when the caller supplies none.
	DefaultImportance = 0.5
)

// stopwords excluded from derived keywords. Keep lowercase.
var stopwords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "also": {}, "been": {},
	"before": {}, "being": {}, "between": {}, "both": {}, "could": {},
	"does": {}, "doing": {}, "down": {}, "during": {}, "each": {},
	"from": {}, "further": {}, "have": {}, "having": {}, "here": {},
	"into": {}, "just": {}, "more": {}, "most": {}, "only": {},
	"other": {}, "over": {}, "same": {}, "should": {}, "some": {},
	"somewhat": {}, "such": {}, "than": {}, "that": {}, "their": {},
	"them": {}, "then": {}, "there": {}, "these": {}, "they": {},
	"this": {}, "those": {}, "through": {}, "under": {}, "until": {},
	"very": {}, "were": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "while": {}, "will": {}, "with": {}, "would": {},
	"your": {},
}

// IndexFields are the derived attributes written through to the central
// memory index alongside the compressed embedding.
type IndexFields struct {
	Title           string
	Summary         string
	Keywords        []string
	Categories      []string
	ImportanceScore float64
}

// DeriveIndexFields computes index metadata from content and caller-supplied
// metadata. Pure: equal inputs yield equal outputs.
func DeriveIndexFields(moduleID, content string, metadata map[string]any) IndexFields {
	return IndexFields{
		Title:           deriveTitle(content),
		Summary:         truncateRunes(content, maxSummaryLen),
		Keywords:        deriveKeywords(content),
		Categories:      deriveCategories(moduleID, metadata),
		ImportanceScore: deriveImportance(metadata),
	}
}

// deriveTitle is the first line of content, capped at 100 characters.
func deriveTitle(content string) string {
	line := content
	if i := strings.IndexAny(content, "\r\n"); i >= 0 {
		line = content[:i]
	}
	return truncateRunes(strings.TrimSpace(line), maxTitleLen)
}

// deriveKeywords extracts up to 10 lowercased non-stopword tokens longer than
// 3 characters, deduplicated while preserving first-occurrence order.
func deriveKeywords(content string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var keywords []string
	seen := map[string]struct{}{}
	for _, tok := range tokens {
		if len([]rune(tok)) < minKeywordLen {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

// deriveCategories reads "categories" (list) or "category" (scalar) from the
// caller metadata, falling back to the owning module id.
func deriveCategories(moduleID string, metadata map[string]any) []string {
	if cats := stringList(metadata["categories"]); len(cats) > 0 {
		return cats
	}
	if cat, ok := metadata["category"].(string); ok && cat != "" {
		return []string{cat}
	}
	return []string{moduleID}
}

// deriveImportance reads "importance" or "importanceScore", clamped to [0, 1].
func deriveImportance(metadata map[string]any) float64 {
	for _, key := range []string{"importance", "importanceScore"} {
		if v, ok := numeric(metadata[key]); ok {
			if v < 0 {
				return 0
			}
			if v > 1 {
				return 1
			}
			return v
		}
	}
	return DefaultImportance
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		var out []string
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
