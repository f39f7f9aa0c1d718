package prompts

import (
	"strings"
	"testing"
)

func TestFillConditionalBlocks(t *testing.T) {
	tmpl := "A{{#x}}[{{x}}]{{/x}}B"

	if got := Fill(tmpl, map[string]string{"x": ""}); got != "AB" {
		t.Errorf("empty value: got %q, want %q", got, "AB")
	}
	if got := Fill(tmpl, map[string]string{}); got != "AB" {
		t.Errorf("absent value: got %q, want %q", got, "AB")
	}
	if got := Fill(tmpl, map[string]string{"x": "v"}); got != "A[v]B" {
		t.Errorf("set value: got %q, want %q", got, "A[v]B")
	}
}

func TestFillBlockSpansLines(t *testing.T) {
	tmpl := "start\n{{#memo}}line one\nline {{memo}}\n{{/memo}}end"
	if got := Fill(tmpl, nil); got != "start\nend" {
		t.Fatalf("got %q", got)
	}
	if got := Fill(tmpl, map[string]string{"memo": "two"}); got != "start\nline one\nline two\nend" {
		t.Fatalf("got %q", got)
	}
}

func TestFillRemovesUnknownPlaceholdersAndTrims(t *testing.T) {
	got := Fill("  Hello {{name}}{{missing}}!  \n", map[string]string{"name": "Ari"})
	if got != "Hello Ari!" {
		t.Fatalf("got %q", got)
	}
}

func TestFillDoesNotExpandSubstitutedValues(t *testing.T) {
	got := Fill("{{a}}", map[string]string{"a": "{{b}}", "b": "nope"})
	if got != "{{b}}" {
		t.Fatalf("got %q", got)
	}
}

func TestFillMultipleBlocksIndependently(t *testing.T) {
	tmpl := "{{#a}}A{{/a}}-{{#b}}B{{/b}}-{{#a}}again{{/a}}"
	if got := Fill(tmpl, map[string]string{"a": "1"}); got != "A--again" {
		t.Fatalf("got %q", got)
	}
}

func TestParseTemplateVariables(t *testing.T) {
	vars := ParseTemplateVariables("{{#a}}{{a}}{{/a}} {{b}} {{a}}")
	if strings.Join(vars, ",") != "a,b" {
		t.Fatalf("vars = %v", vars)
	}
}

func TestDefaultTemplatesRender(t *testing.T) {
	e := NewDefaultEngine()

	for _, name := range []string{ChapterOutline, Narrative, StorywriterNarrative, DecisionEvaluation, MemorySummarization} {
		system, user, err := e.RenderMessages(name, map[string]string{"title": "The Hollow Crown"})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if system == "" || user == "" {
			t.Fatalf("%s: empty render", name)
		}
		if strings.Contains(user, "{{") {
			t.Fatalf("%s: unfilled markers remain: %q", name, user)
		}
	}

	if _, err := e.Render("nope", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestOutlineTemplateDropsEmptyOptionalSections(t *testing.T) {
	e := NewDefaultEngine()
	out, err := e.Render(ChapterOutline, map[string]string{
		"title":         "Ashfall",
		"chapterNumber": "1",
		"totalChapters": "10",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, absent := range []string{"Previous Excerpt", "User Decision:", "Long-term Memory", "User Feedback", "Advanced Options"} {
		if strings.Contains(out, absent) {
			t.Errorf("expected %q to be removed", absent)
		}
	}
	if !strings.Contains(out, "Current Chapter: 1") {
		t.Errorf("expected chapter number in outline prompt")
	}
}

func TestImportTemplateRecomputesVariables(t *testing.T) {
	e := NewTemplateEngine()
	if err := e.ImportTemplate(`{"name":"custom","content":"{{x}} and {{y}}","variables":["z"]}`); err != nil {
		t.Fatalf("ImportTemplate: %v", err)
	}
	tmpl, err := e.GetTemplate("custom")
	if err != nil {
		t.Fatalf("GetTemplate: %v", err)
	}
	if strings.Join(tmpl.Variables, ",") != "x,y" {
		t.Fatalf("variables = %v", tmpl.Variables)
	}
	if _, err := e.ExportTemplate("custom"); err != nil {
		t.Fatalf("ExportTemplate: %v", err)
	}
}
