package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fedmem/federated-memory/internal/module"
)

func classifyStd(content string, metadata map[string]any) string {
	return Classify(module.StandardDefinitions(), content, metadata, module.DefaultModuleID)
}

func TestClassifyByMetadataType(t *testing.T) {
	got := classifyStd("kickoff notes", map[string]any{"type": "project", "projectName": "Atlas"})
	assert.Equal(t, "work", got)
}

func TestClassifyByMetadataCategory(t *testing.T) {
	got := classifyStd("anything at all", map[string]any{"category": "engineering"})
	assert.Equal(t, "technical", got)
}

func TestClassifyMetadataBeatsContent(t *testing.T) {
	// Content matches personal patterns, but the exact-match field wins.
	got := classifyStd("hiking with my sister", map[string]any{"type": "course"})
	assert.Equal(t, "learning", got)
}

func TestClassifyByTags(t *testing.T) {
	got := classifyStd("notes", map[string]any{"tags": []any{"debugging"}})
	assert.Equal(t, "technical", got)

	got = classifyStd("notes", map[string]any{"tags": []string{"Email"}})
	assert.Equal(t, "communication", got)
}

func TestClassifyByContent(t *testing.T) {
	got := classifyStd("Today I went hiking with my sister", map[string]any{})
	assert.Equal(t, "personal", got)

	got = classifyStd("Sprint planning ahead of the quarterly roadmap review", nil)
	assert.Equal(t, "work", got)

	got = classifyStd("Finished chapter three of the distributed systems course", nil)
	assert.Equal(t, "learning", got)
}

func TestClassifyDefaultsWhenNothingFires(t *testing.T) {
	got := classifyStd("zzz qqq", nil)
	assert.Equal(t, module.DefaultModuleID, got)
}

func TestClassifyIsDeterministic(t *testing.T) {
	content := "Sketched a storyboard draft for the short film"
	meta := map[string]any{"tags": []string{"design"}}
	first := classifyStd(content, meta)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, classifyStd(content, meta))
	}
}
