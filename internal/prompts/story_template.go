package prompts

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Template names registered by InitializeDefaultTemplates.
const (
	ChapterOutline       = "chapter_outline"
	Narrative            = "narrative"
	StorywriterNarrative = "storywriter_narrative"
	DecisionEvaluation   = "decision_evaluation"
	MemorySummarization  = "memory_summarization"
)

// TemplateEngine manages prompt templates
type TemplateEngine struct {
	templates map[string]*Template
	mu        sync.RWMutex
}

// Template is a user-role prompt paired with the system role it is sent with.
type Template struct {
	Name        string   `json:"name"`
	System      string   `json:"system"`
	Content     string   `json:"content"`
	Variables   []string `json:"variables"`
	Description string   `json:"description"`
}

// NewTemplateEngine creates a new template engine
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		templates: make(map[string]*Template),
	}
}

// NewDefaultEngine returns an engine with the built-in story templates registered.
func NewDefaultEngine() *TemplateEngine {
	e := NewTemplateEngine()
	e.InitializeDefaultTemplates()
	return e
}

// RegisterTemplate registers a new template, replacing any with the same name.
func (e *TemplateEngine) RegisterTemplate(tmpl *Template) error {
	if tmpl == nil || tmpl.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if len(tmpl.Variables) == 0 {
		tmpl.Variables = ParseTemplateVariables(tmpl.Content)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[tmpl.Name] = tmpl
	return nil
}

// GetTemplate retrieves a template by name
func (e *TemplateEngine) GetTemplate(name string) (*Template, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tmpl, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	return tmpl, nil
}

// Names lists the registered templates in sorted order.
func (e *TemplateEngine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.templates))
	for name := range e.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render fills the named template. Only an unknown name is an error.
func (e *TemplateEngine) Render(name string, values map[string]string) (string, error) {
	tmpl, err := e.GetTemplate(name)
	if err != nil {
		return "", err
	}
	return Fill(tmpl.Content, values), nil
}

// RenderMessages returns the system text and filled user text of the named template.
func (e *TemplateEngine) RenderMessages(name string, values map[string]string) (system, user string, err error) {
	tmpl, err := e.GetTemplate(name)
	if err != nil {
		return "", "", err
	}
	return tmpl.System, Fill(tmpl.Content, values), nil
}

// ExportTemplate exports a template as JSON
func (e *TemplateEngine) ExportTemplate(name string) (string, error) {
	tmpl, err := e.GetTemplate(name)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(tmpl, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal template: %w", err)
	}
	return string(data), nil
}

// ImportTemplate registers a template from JSON, recomputing its variables.
func (e *TemplateEngine) ImportTemplate(jsonData string) error {
	var tmpl Template
	if err := json.Unmarshal([]byte(jsonData), &tmpl); err != nil {
		return fmt.Errorf("failed to unmarshal template: %w", err)
	}
	tmpl.Variables = nil
	return e.RegisterTemplate(&tmpl)
}

// InitializeDefaultTemplates registers the built-in story templates.
func (e *TemplateEngine) InitializeDefaultTemplates() {
	defaults := []*Template{
		{
			Name:        ChapterOutline,
			Description: "Plans the goals, beats and synopsis of one player-mode chapter as JSON",
			System:      OutlineSystem,
			Content:     chapterOutlineTemplate,
		},
		{
			Name:        Narrative,
			Description: "Writes a player-mode chapter from its outline",
			System:      NarrativeSystem,
			Content:     narrativeTemplate,
		},
		{
			Name:        StorywriterNarrative,
			Description: "Writes a storywriter-mode chapter from the author's direction",
			System:      StorywriterSystem,
			Content:     storywriterNarrativeTemplate,
		},
		{
			Name:        DecisionEvaluation,
			Description: "Judges a reader decision as CONTINUE, UNSAFE, CONCLUDE or CLARIFY",
			System:      EvaluatorSystem,
			Content:     decisionEvaluationTemplate,
		},
		{
			Name:        MemorySummarization,
			Description: "Compresses earlier chapter summaries into one paragraph",
			System:      MemorySystem,
			Content:     memorySummarizationTemplate,
		},
	}

	for _, tmpl := range defaults {
		// names are non-empty, registration cannot fail
		_ = e.RegisterTemplate(tmpl)
	}
}
