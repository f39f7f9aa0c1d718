package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/llm/llmtest"
	"github.com/Varun-Patkar/RebirthRealm/internal/logging"
	"github.com/Varun-Patkar/RebirthRealm/internal/models"
	"github.com/Varun-Patkar/RebirthRealm/internal/prompts"
)

func TestParseEvaluation(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		unmatched   Judgment
		judgment    Judgment
		explanation string
		matched     bool
	}{
		{
			name:        "continue",
			response:    "JUDGMENT: CONTINUE\nEXPLANATION: A bold but reasonable move.",
			unmatched:   JudgmentClarify,
			judgment:    JudgmentContinue,
			explanation: "A bold but reasonable move.",
			matched:     true,
		},
		{
			name:        "lower case and surrounding text",
			response:    "Sure.\njudgment: unsafe\nexplanation:   Harmful content.  \nThanks",
			unmatched:   JudgmentClarify,
			judgment:    JudgmentUnsafe,
			explanation: "Harmful content.",
			matched:     true,
		},
		{
			name:        "missing explanation",
			response:    "JUDGMENT: CONCLUDE",
			unmatched:   JudgmentClarify,
			judgment:    JudgmentConclude,
			explanation: defaultExplanation,
			matched:     true,
		},
		{
			name:        "unmatched falls back to clarify",
			response:    "I think this is fine.",
			unmatched:   JudgmentClarify,
			judgment:    JudgmentClarify,
			explanation: defaultExplanation,
		},
		{
			name:        "unmatched falls back to continue",
			response:    "JUDGMENT: MAYBE\nEXPLANATION: unsure",
			unmatched:   JudgmentContinue,
			judgment:    JudgmentContinue,
			explanation: "unsure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseEvaluation(tt.response, tt.unmatched)
			if got.Judgment != tt.judgment || got.Explanation != tt.explanation || got.Matched != tt.matched {
				t.Fatalf("ParseEvaluation = %+v, want %s %q matched=%v", got, tt.judgment, tt.explanation, tt.matched)
			}
		})
	}
}

func TestParseJudgmentPolicy(t *testing.T) {
	if j, err := ParseJudgmentPolicy(""); err != nil || j != JudgmentClarify {
		t.Fatalf("default policy = %v, %v", j, err)
	}
	if j, err := ParseJudgmentPolicy("Continue"); err != nil || j != JudgmentContinue {
		t.Fatalf("continue policy = %v, %v", j, err)
	}
	if _, err := ParseJudgmentPolicy("unsafe"); err == nil {
		t.Fatal("expected an error for an unknown policy")
	}
}

func TestParseOutline(t *testing.T) {
	valid := `Here is the outline:
{
  "goals": ["Find the map", "Meet the smuggler", "Escape the guards"],
  "beats": [
    {"beat": 1, "description": "You search the archive."},
    {"beat": 2, "description": "A stranger offers help."},
    {"beat": 3, "description": "Alarms ring out."}
  ],
  "synopsis": "The hunt for the map begins."
}
Hope this helps!`

	outline, ok := ParseOutline(valid)
	if !ok {
		t.Fatal("expected the outline to parse")
	}
	if len(outline.Goals) != 3 || len(outline.Beats) != 3 || outline.Beats[2].Beat != 3 || outline.Synopsis != "The hunt for the map begins." {
		t.Fatalf("outline = %+v", outline)
	}
}

func TestParseOutlineFindsObjectAmongOtherBraces(t *testing.T) {
	response := `Notes {draft} then {"goals": ["a"], "beats": [{"beat": 1, "description": "b"}], "synopsis": "c"} and {more}`
	outline, ok := ParseOutline(response)
	if !ok || outline.Synopsis != "c" {
		t.Fatalf("ParseOutline = %+v, %v", outline, ok)
	}
}

func TestParseOutlineFallback(t *testing.T) {
	cases := map[string]string{
		"no json":          "I could not produce an outline, sorry.",
		"broken json":      `{"goals": ["a", "beats": }`,
		"missing synopsis": `{"goals": ["a"], "beats": []}`,
		"goals not array":  `{"goals": "a", "beats": [], "synopsis": "s"}`,
		"beats not array":  `{"goals": ["a"], "beats": {"beat": 1}, "synopsis": "s"}`,
		"synopsis number":  `{"goals": ["a"], "beats": [], "synopsis": 3}`,
	}
	for name, response := range cases {
		t.Run(name, func(t *testing.T) {
			outline, ok := ParseOutlineOrFallback(response)
			if ok {
				t.Fatalf("expected fallback, got %+v", outline)
			}
			if !reflect.DeepEqual(outline, FallbackOutline()) {
				t.Fatalf("outline = %+v", outline)
			}
		})
	}

	fb := FallbackOutline()
	if len(fb.Goals) != 2 || len(fb.Beats) != 3 || fb.Synopsis == "" {
		t.Fatalf("fallback outline shape = %+v", fb)
	}
}

func TestFormatBeats(t *testing.T) {
	got := FormatBeats([]models.Beat{{Beat: 1, Description: "x"}, {Beat: 2, Description: "y"}})
	if got != "Beat 1: x\nBeat 2: y" {
		t.Fatalf("FormatBeats = %q", got)
	}
}

func TestStripMetaText(t *testing.T) {
	tests := map[string]string{
		"Chapter 3: The rain falls.":          "The rain falls.",
		"here's the narrative:\nYou stand.":    "You stand.",
		"Story content: You run.":             "You run.",
		"Chapter 12\nYou wake.":               "You wake.",
		"You open the chapter 2 door.":        "You open the chapter 2 door.",
		"Generating: Narrative: You breathe.": "Narrative: You breathe.",
		"Content:Story: Go.":                  "Go.",
		"   plain text   ":                    "plain text",
	}
	for in, want := range tests {
		if got := StripMetaText(in); got != want {
			t.Errorf("StripMetaText(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTrailingExcerpt(t *testing.T) {
	if got := trailingExcerpt("short", 500); got != "short" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("a", 600) + strings.Repeat("é", 10)
	got := trailingExcerpt(long, 500)
	if n := len([]rune(got)); n != 500 || !strings.HasSuffix(got, "éééé") {
		t.Fatalf("excerpt has %d runes", n)
	}
}

func TestDirectionSummary(t *testing.T) {
	if got := DirectionSummary(2, "Go north"); got != "Chapter 2: Go north..." {
		t.Fatalf("got %q", got)
	}
	got := DirectionSummary(1, strings.Repeat("x", 150))
	if got != "Chapter 1: "+strings.Repeat("x", 100)+"..." {
		t.Fatalf("long direction summary = %q", got)
	}
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "saga")
	if err != nil || !ok {
		t.Fatalf("first TryLock = %v, %v", ok, err)
	}
	if _, ok, _ := l.TryLock(ctx, "saga"); ok {
		t.Fatal("second TryLock should fail while held")
	}
	if _, ok, _ := l.TryLock(ctx, "other"); !ok {
		t.Fatal("other keys are independent")
	}
	release()
	release()
	if _, ok, _ := l.TryLock(ctx, "saga"); !ok {
		t.Fatal("TryLock after release should succeed")
	}
}

func newCompressor(t *testing.T, s *llmtest.Scripted, limit int) *MemoryCompressor {
	t.Helper()
	return NewMemoryCompressor(llmtest.NewGateway(s, true), prompts.NewDefaultEngine(), limit, logging.Discard())
}

func TestMemoryBuild(t *testing.T) {
	ctx := context.Background()

	s := llmtest.NewScripted("The hero left home and met a wizard.")
	c := newCompressor(t, s, 150)

	if m, err := c.Build(ctx, nil, nil); err != nil || !m.Empty() {
		t.Fatalf("no summaries: %+v, %v", m, err)
	}
	m, err := c.Build(ctx, []string{"one"}, nil)
	if err != nil || m.RecentMemory != "one" || m.LongTermMemory != "" {
		t.Fatalf("one summary: %+v, %v", m, err)
	}
	if len(s.Calls()) != 0 {
		t.Fatal("model should not be called for fewer than two summaries")
	}

	m, err = c.Build(ctx, []string{"left home", "met a wizard", "crossed the river"}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.RecentMemory != "crossed the river" || m.LongTermMemory != "The hero left home and met a wizard." {
		t.Fatalf("memory = %+v", m)
	}
	calls := s.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	prompt := llmtest.PromptText(calls[0])
	if !strings.Contains(prompt, "left home\n\nmet a wizard") || strings.Contains(prompt, "crossed the river") {
		t.Fatalf("compression prompt should hold only the earlier summaries:\n%s", prompt)
	}
	if calls[0][0].Content != prompts.MemorySystem {
		t.Fatalf("system = %q", calls[0][0].Content)
	}
}

func TestMemoryCompressionIsTruncatedToWordLimit(t *testing.T) {
	s := llmtest.NewScripted(strings.TrimSpace(strings.Repeat("word ", 200)))
	c := newCompressor(t, s, 150)

	m, err := c.Build(context.Background(), []string{"a", "b", "c"}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if n := len(strings.Fields(m.LongTermMemory)); n != 150 {
		t.Fatalf("long-term memory has %d words", n)
	}
}

func TestMemoryCompressionErrorsPropagate(t *testing.T) {
	boom := errors.New("gpu on fire")
	failing := &llmtest.Scripted{
		Respond: func([]interfaces.ChatMessage) (string, error) { return "", boom },
	}
	c := newCompressor(t, failing, 150)

	if _, err := c.Build(context.Background(), []string{"a", "b"}, nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	empty := llmtest.NewScripted("   ")
	if _, err := newCompressor(t, empty, 150).Build(context.Background(), []string{"a", "b"}, nil); err == nil {
		t.Fatal("an empty compression must be an error")
	}
}
