package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/models"
	"github.com/Varun-Patkar/RebirthRealm/internal/prompts"
)

// Memory is the compressed history handed to every chapter prompt.
type Memory struct {
	LongTermMemory string `json:"longTermMemory,omitempty"`
	RecentMemory   string `json:"recentMemory,omitempty"`
}

// Empty reports whether neither memory field is set.
func (m Memory) Empty() bool {
	return m.LongTermMemory == "" && m.RecentMemory == ""
}

func (m Memory) apply(values map[string]string) {
	values["longTermMemory"] = m.LongTermMemory
	values["recentMemory"] = m.RecentMemory
}

// MemoryCompressor bounds prompt size by folding older chapter summaries into one paragraph.
type MemoryCompressor struct {
	gateway   interfaces.ModelGateway
	prompts   *prompts.TemplateEngine
	wordLimit int
	logger    *slog.Logger
}

func NewMemoryCompressor(gateway interfaces.ModelGateway, engine *prompts.TemplateEngine, wordLimit int, logger *slog.Logger) *MemoryCompressor {
	if wordLimit <= 0 {
		wordLimit = 150
	}
	return &MemoryCompressor{
		gateway:   gateway,
		prompts:   engine,
		wordLimit: wordLimit,
		logger:    logger.With("component", "memory"),
	}
}

// Build turns the summaries of the chapters before a target chapter, oldest
// first, into a Memory. The last summary is kept verbatim; anything earlier is
// compressed by the model on every call.
func (c *MemoryCompressor) Build(ctx context.Context, summaries []string, onUpdate func(string)) (Memory, error) {
	switch len(summaries) {
	case 0:
		return Memory{}, nil
	case 1:
		return Memory{RecentMemory: summaries[0]}, nil
	}

	recent := summaries[len(summaries)-1]
	longTerm, err := c.Compress(ctx, summaries[:len(summaries)-1], onUpdate)
	if err != nil {
		return Memory{}, err
	}
	return Memory{LongTermMemory: longTerm, RecentMemory: recent}, nil
}

// BuildFromPath builds the memory for the chapter that follows the last node of
// path, where path runs from a root down to the parent of the target chapter.
func (c *MemoryCompressor) BuildFromPath(ctx context.Context, path []*models.StoryNode, onUpdate func(string)) (Memory, error) {
	summaries := make([]string, 0, len(path))
	for _, n := range path {
		summaries = append(summaries, n.Summary)
	}
	return c.Build(ctx, summaries, onUpdate)
}

// Compress summarizes the given summaries into a single paragraph of at most
// the configured word count.
func (c *MemoryCompressor) Compress(ctx context.Context, summaries []string, onUpdate func(string)) (string, error) {
	system, user, err := c.prompts.RenderMessages(prompts.MemorySummarization, map[string]string{
		"summaries": strings.Join(summaries, "\n\n"),
	})
	if err != nil {
		return "", err
	}

	response, err := c.gateway.Generate(ctx, []interfaces.ChatMessage{
		{Role: interfaces.RoleSystem, Content: system},
		{Role: interfaces.RoleUser, Content: user},
	}, onUpdate)
	if err != nil {
		return "", fmt.Errorf("failed to compress memory: %w", err)
	}

	summary := strings.TrimSpace(response)
	if summary == "" {
		return "", fmt.Errorf("failed to compress memory: model returned an empty summary")
	}
	if words := strings.Fields(summary); len(words) > c.wordLimit {
		c.logger.Debug("truncating long-term memory", "words", len(words), "limit", c.wordLimit)
		summary = strings.Join(words[:c.wordLimit], " ")
	}
	return summary, nil
}
