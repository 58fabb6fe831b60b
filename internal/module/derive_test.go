package module

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveTitleFirstLineCapped(t *testing.T) {
	fields := DeriveIndexFields("personal", "First line here\nsecond line", nil)
	assert.Equal(t, "First line here", fields.Title)

	long := strings.Repeat("a", 150)
	fields = DeriveIndexFields("personal", long, nil)
	assert.Len(t, fields.Title, 100)
}

func TestDeriveSummaryCapped(t *testing.T) {
	long := strings.Repeat("b", 300)
	fields := DeriveIndexFields("personal", long, nil)
	assert.Len(t, fields.Summary, 200)

	fields = DeriveIndexFields("personal", "short", nil)
	assert.Equal(t, "short", fields.Summary)
}

func TestDeriveKeywords(t *testing.T) {
	fields := DeriveIndexFields("technical",
		"Debugging the payment service: the payment endpoint times out under load", nil)
	// Lowercased, len > 3, stopwords out, deduped, order preserved.
	assert.Equal(t, []string{"debugging", "payment", "service", "endpoint", "times", "load"}, fields.Keywords)

	// At most ten.
	many := "alpha bravo charlie delta echoes foxtrot golfs hotel india juliet kilos limas"
	fields = DeriveIndexFields("technical", many, nil)
	assert.Len(t, fields.Keywords, 10)
	assert.Equal(t, "alpha", fields.Keywords[0])
}

func TestDeriveKeywordsDeterministic(t *testing.T) {
	content := "Meeting about CORS policy and deployment pipelines"
	a := DeriveIndexFields("work", content, nil)
	b := DeriveIndexFields("work", content, nil)
	assert.Equal(t, a, b)
}

func TestDeriveCategories(t *testing.T) {
	fields := DeriveIndexFields("work", "x", nil)
	assert.Equal(t, []string{"work"}, fields.Categories)

	fields = DeriveIndexFields("work", "x", map[string]any{"category": "projects"})
	assert.Equal(t, []string{"projects"}, fields.Categories)

	fields = DeriveIndexFields("work", "x", map[string]any{"categories": []any{"a", "b"}})
	assert.Equal(t, []string{"a", "b"}, fields.Categories)
}

func TestDeriveImportance(t *testing.T) {
	assert.Equal(t, 0.5, DeriveIndexFields("work", "x", nil).ImportanceScore)
	assert.Equal(t, 0.9, DeriveIndexFields("work", "x", map[string]any{"importance": 0.9}).ImportanceScore)
	assert.Equal(t, 1.0, DeriveIndexFields("work", "x", map[string]any{"importance": 3.0}).ImportanceScore)
	assert.Equal(t, 0.0, DeriveIndexFields("work", "x", map[string]any{"importanceScore": -1.0}).ImportanceScore)
}
