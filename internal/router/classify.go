package router

import (
	"sort"
	"strings"

	"github.com/fedmem/federated-memory/internal/module"
)

// Classify picks the target module for a new memory. Pure and deterministic:
// rules are evaluated in three stages (exact metadata fields, tag tokens,
// content patterns) over the definitions in module-id order; the first rule
// that fires wins. defaultModule is returned when nothing fires.
func Classify(defs []module.Definition, content string, metadata map[string]any, defaultModule string) string {
	sorted := make([]module.Definition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	metaType, _ := metadata["type"].(string)
	metaCategory, _ := metadata["category"].(string)

	for _, def := range sorted {
		if containsFold(def.Hints.Types, metaType) || containsFold(def.Hints.Categories, metaCategory) {
			return def.ID
		}
	}

	tags := tagTokens(metadata["tags"])
	if len(tags) > 0 {
		for _, def := range sorted {
			for _, hint := range def.Hints.Tags {
				if tags[strings.ToLower(hint)] {
					return def.ID
				}
			}
		}
	}

	for _, def := range sorted {
		for _, pattern := range def.Hints.ContentPatterns {
			if pattern.MatchString(content) {
				return def.ID
			}
		}
	}

	return defaultModule
}

func containsFold(list []string, value string) bool {
	if value == "" {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

func tagTokens(v any) map[string]bool {
	out := map[string]bool{}
	switch tags := v.(type) {
	case []string:
		for _, t := range tags {
			out[strings.ToLower(t)] = true
		}
	case []any:
		for _, t := range tags {
			if s, ok := t.(string); ok {
				out[strings.ToLower(s)] = true
			}
		}
	}
	return out
}
