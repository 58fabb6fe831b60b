package module

import "regexp"

// DefaultModuleID receives memories no classification rule claims.
const DefaultModuleID = "personal"

// StandardDefinitions returns the six built-in modules. Order is not
// significant; the registry sorts by id.
func StandardDefinitions() []Definition {
	return []Definition{
		{
			ID:          "technical",
			Name:        "Technical",
			Description: "Code snippets, debugging sessions, architecture decisions, and infrastructure notes.",
			TableName:   "technical_memories",
			MetadataSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"language":  map[string]any{"type": "string", "description": "Programming language"},
					"framework": map[string]any{"type": "string"},
					"errorType": map[string]any{"type": "string"},
					"tags":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
			Hints: ClassifyHints{
				Types:      []string{"code", "bug", "architecture", "snippet", "incident"},
				Categories: []string{"technical", "engineering"},
				Tags:       []string{"code", "debugging", "api", "database", "infrastructure", "devops"},
				ContentPatterns: []*regexp.Regexp{
					regexp.MustCompile(`(?i)\b(stack trace|exception|compil\w*|debug\w*|refactor\w*)\b`),
					regexp.MustCompile(`(?i)\b(docker|kubernetes|postgres|endpoint|middleware|deploy\w*)\b`),
				},
			},
		},
		{
			ID:          "personal",
			Name:        "Personal",
			Description: "Life events, preferences, relationships, health, and journal entries.",
			TableName:   "personal_memories",
			MetadataSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"people":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"location":  map[string]any{"type": "string"},
					"sentiment": map[string]any{"type": "string", "enum": []string{"positive", "neutral", "negative"}},
					"tags":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
			Hints: ClassifyHints{
				Types:      []string{"preference", "relationship", "health", "journal"},
				Categories: []string{"personal", "life"},
				Tags:       []string{"family", "health", "travel", "hobby"},
				ContentPatterns: []*regexp.Regexp{
					regexp.MustCompile(`(?i)\b(famil(y|ies)|sister|brother|friend\w*|birthday)\b`),
					regexp.MustCompile(`(?i)\b(hiking|vacation|weekend|dinner|holiday)\b`),
				},
			},
		},
		{
			ID:          "work",
			Name:        "Work",
			Description: "Projects, meetings, tasks, decisions, and client context.",
			TableName:   "work_memories",
			MetadataSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"projectName": map[string]any{"type": "string"},
					"status":      map[string]any{"type": "string", "enum": []string{"planned", "active", "blocked", "done"}},
					"attendees":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"tags":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
			Hints: ClassifyHints{
				Types:      []string{"project", "meeting", "task", "decision", "client"},
				Categories: []string{"work", "business"},
				Tags:       []string{"project", "meeting", "deadline", "client", "okr"},
				ContentPatterns: []*regexp.Regexp{
					regexp.MustCompile(`(?i)\b(standup|sprint|roadmap|deadline|stakeholder\w*)\b`),
					regexp.MustCompile(`(?i)\b(quarterly|kickoff|retro(spective)?|one.on.one)\b`),
				},
			},
		},
		{
			ID:          "learning",
			Name:        "Learning",
			Description: "Courses, study notes, insights, and mastery progress.",
			TableName:   "learning_memories",
			MetadataSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"subject": map[string]any{"type": "string"},
					"source":  map[string]any{"type": "string", "description": "Book, course, or article"},
					"stage":   map[string]any{"type": "string", "enum": []string{"new", "reviewing", "mastered"}},
					"tags":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
			Hints: ClassifyHints{
				Types:      []string{"course", "lesson", "insight", "study"},
				Categories: []string{"learning", "education"},
				Tags:       []string{"course", "tutorial", "lesson", "study", "book"},
				ContentPatterns: []*regexp.Regexp{
					regexp.MustCompile(`(?i)\b(learn(ed|ing)?|course|tutorial|chapter|lecture|studying)\b`),
				},
			},
		},
		{
			ID:          "communication",
			Name:        "Communication",
			Description: "Emails, messages, calls, and conversation context.",
			TableName:   "communication_memories",
			MetadataSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"channel":      map[string]any{"type": "string", "description": "email, chat, call"},
					"participants": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"direction":    map[string]any{"type": "string", "enum": []string{"inbound", "outbound"}},
					"tags":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
			Hints: ClassifyHints{
				Types:      []string{"email", "message", "conversation", "call"},
				Categories: []string{"communication"},
				Tags:       []string{"email", "slack", "call", "thread"},
				ContentPatterns: []*regexp.Regexp{
					regexp.MustCompile(`(?i)\b(emailed|replied|voicemail|inbox|call with)\b`),
				},
			},
		},
		{
			ID:          "creative",
			Name:        "Creative",
			Description: "Ideas, drafts, designs, and other creative work in progress.",
			TableName:   "creative_memories",
			MetadataSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"medium": map[string]any{"type": "string", "description": "writing, music, visual, product"},
					"stage":  map[string]any{"type": "string", "enum": []string{"spark", "draft", "refining", "finished"}},
					"tags":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
			Hints: ClassifyHints{
				Types:      []string{"idea", "story", "design", "brainstorm"},
				Categories: []string{"creative", "art"},
				Tags:       []string{"idea", "design", "writing", "music"},
				ContentPatterns: []*regexp.Regexp{
					regexp.MustCompile(`(?i)\b(brainstorm\w*|sketch\w*|draft\w*|poem|melody|storyboard)\b`),
				},
			},
		},
	}
}
