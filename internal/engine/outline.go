package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Varun-Patkar/RebirthRealm/internal/models"
)

// FallbackOutline is used whenever the outline response cannot be parsed.
func FallbackOutline() models.ChapterOutline {
	return models.ChapterOutline{
		Goals: []string{"Advance the story", "Develop the character"},
		Beats: []models.Beat{
			{Beat: 1, Description: "Continue from the previous events"},
			{Beat: 2, Description: "Introduce a new development"},
			{Beat: 3, Description: "Present a challenge or decision point"},
		},
		Synopsis: "The story continues based on the user's previous decision.",
	}
}

type rawOutline struct {
	Goals    json.RawMessage `json:"goals"`
	Beats    json.RawMessage `json:"beats"`
	Synopsis json.RawMessage `json:"synopsis"`
}

// ParseOutline extracts a chapter outline from a model response. It returns
// false when no usable JSON object is present.
func ParseOutline(response string) (models.ChapterOutline, bool) {
	for _, candidate := range jsonCandidates(response) {
		if outline, ok := decodeOutline(candidate); ok {
			return outline, true
		}
	}
	return models.ChapterOutline{}, false
}

// ParseOutlineOrFallback never fails.
func ParseOutlineOrFallback(response string) (models.ChapterOutline, bool) {
	if outline, ok := ParseOutline(response); ok {
		return outline, true
	}
	return FallbackOutline(), false
}

// jsonCandidates yields the span from the first '{' to the last '}', then
// every object that starts at a '{' and decodes on its own.
func jsonCandidates(s string) [][]byte {
	first := strings.IndexByte(s, '{')
	last := strings.LastIndexByte(s, '}')
	if first < 0 || last < first {
		return nil
	}

	candidates := [][]byte{[]byte(s[first : last+1])}
	for i := first; i <= last; i++ {
		if s[i] != '{' {
			continue
		}
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(s[i:])).Decode(&raw); err == nil {
			candidates = append(candidates, raw)
		}
	}
	return candidates
}

func decodeOutline(data []byte) (models.ChapterOutline, bool) {
	var raw rawOutline
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.ChapterOutline{}, false
	}
	if !isJSONArray(raw.Goals) || !isJSONArray(raw.Beats) {
		return models.ChapterOutline{}, false
	}

	var outline models.ChapterOutline
	if err := json.Unmarshal(raw.Goals, &outline.Goals); err != nil {
		return models.ChapterOutline{}, false
	}
	if err := json.Unmarshal(raw.Beats, &outline.Beats); err != nil {
		return models.ChapterOutline{}, false
	}
	if err := json.Unmarshal(raw.Synopsis, &outline.Synopsis); err != nil || strings.TrimSpace(outline.Synopsis) == "" {
		return models.ChapterOutline{}, false
	}
	return outline, true
}

func isJSONArray(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// FormatBeats renders beats as "Beat N: description" lines.
func FormatBeats(beats []models.Beat) string {
	lines := make([]string, len(beats))
	for i, b := range beats {
		lines[i] = fmt.Sprintf("Beat %d: %s", b.Beat, b.Description)
	}
	return strings.Join(lines, "\n")
}

var metaTextPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(Generating narrative:|Generating:|Here's the narrative:|Chapter \d+:|Story:|Content:)`),
	regexp.MustCompile(`(?i)^(Here is the story content:|Story content:|Narrative:|Story:|Here's the story:)`),
	regexp.MustCompile(`(?i)^(Chapter \d+)`),
}

// StripMetaText removes leading labels models like to put before a narrative.
// Patterns apply in sequence to the untrimmed text; only the result is trimmed.
func StripMetaText(text string) string {
	for _, re := range metaTextPatterns {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// trailingExcerpt returns at most the last n runes of s.
func trailingExcerpt(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

// leadingRunes returns at most the first n runes of s.
func leadingRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
