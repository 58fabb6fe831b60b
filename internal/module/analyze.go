package module

import (
	"context"
	"sort"
	"time"

	"github.com/fedmem/federated-memory/internal/apperr"
	"github.com/fedmem/federated-memory/internal/vectorstore"
)

// AnalyzeOptions bounds an analysis pass.
type AnalyzeOptions struct {
	// Since restricts the pass to rows updated at or after this instant.
	Since time.Time
	// TopKeywords caps the keyword frequency list. Defaults to 15.
	TopKeywords int
}

// KeywordCount is one entry of the keyword frequency list.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// Analysis aggregates one user's slice of a module. TotalMemories always
// equals the raw row count over the analyzed window.
type Analysis struct {
	ModuleID         string         `json:"moduleId"`
	TotalMemories    int            `json:"totalMemories"`
	Categories       map[string]int `json:"categories"`
	TopKeywords      []KeywordCount `json:"topKeywords"`
	AvgContentLength float64        `json:"avgContentLength"`
	TotalAccesses    int            `json:"totalAccesses"`
	OldestAt         *time.Time     `json:"oldestAt,omitempty"`
	NewestAt         *time.Time     `json:"newestAt,omitempty"`
}

// Analyze aggregates the caller's rows. Only the caller's own data is read.
func (m *Module) Analyze(ctx context.Context, userID string, opts AnalyzeOptions) (*Analysis, error) {
	if opts.TopKeywords <= 0 {
		opts.TopKeywords = 15
	}
	rows, err := m.store.FilterScan(ctx, userID, nil, vectorstore.OrderCreatedAsc, 0, 0)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "memory scan failed", err)
	}

	out := &Analysis{ModuleID: m.def.ID, Categories: map[string]int{}}
	keywordCounts := map[string]int{}
	var totalLen int
	for i := range rows {
		row := &rows[i]
		if !opts.Since.IsZero() && row.UpdatedAt.Before(opts.Since) {
			continue
		}
		out.TotalMemories++
		totalLen += len(row.Content)
		out.TotalAccesses += row.AccessCount
		for _, cat := range deriveCategories(m.def.ID, row.Metadata) {
			out.Categories[cat]++
		}
		for _, kw := range deriveKeywords(row.Content) {
			keywordCounts[kw]++
		}
		if out.OldestAt == nil || row.CreatedAt.Before(*out.OldestAt) {
			t := row.CreatedAt
			out.OldestAt = &t
		}
		if out.NewestAt == nil || row.CreatedAt.After(*out.NewestAt) {
			t := row.CreatedAt
			out.NewestAt = &t
		}
	}
	if out.TotalMemories > 0 {
		out.AvgContentLength = float64(totalLen) / float64(out.TotalMemories)
	}

	out.TopKeywords = topKeywords(keywordCounts, opts.TopKeywords)
	return out, nil
}

func topKeywords(counts map[string]int, limit int) []KeywordCount {
	list := make([]KeywordCount, 0, len(counts))
	for kw, n := range counts {
		list = append(list, KeywordCount{Keyword: kw, Count: n})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Count != list[j].Count {
			return list[i].Count > list[j].Count
		}
		return list[i].Keyword < list[j].Keyword
	})
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}
