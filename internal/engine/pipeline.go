package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/models"
	"github.com/Varun-Patkar/RebirthRealm/internal/prompts"
)

// ChapterRequest is everything a strategy needs to write one chapter.
type ChapterRequest struct {
	Saga          *models.Saga
	ChapterNumber int
	// PreviousText is the full content of the parent chapter, if any.
	PreviousText string
	Decision     string
	Direction    string
	// Feedback is set when rewriting an existing chapter.
	Feedback string
	Memory   Memory
}

// ChapterDraft is a generated chapter that has not been persisted yet.
type ChapterDraft struct {
	Content string
	Summary string
	Outline *models.ChapterOutline
}

// StageFunc reports the stage a strategy entered and the cumulative model output of that stage.
type StageFunc func(state interfaces.StoryState, text string)

// Strategy produces chapter content for one story mode.
type Strategy interface {
	Mode() models.StoryMode
	Produce(ctx context.Context, req ChapterRequest, progress StageFunc) (*ChapterDraft, error)
}

// Pipeline renders chapter prompts and runs them through the gateway.
type Pipeline struct {
	gateway      interfaces.ModelGateway
	prompts      *prompts.TemplateEngine
	excerptChars int
	logger       *slog.Logger

	player      *PlayerStrategy
	storywriter *StorywriterStrategy
}

func NewPipeline(gateway interfaces.ModelGateway, engine *prompts.TemplateEngine, excerptChars int, logger *slog.Logger) *Pipeline {
	if excerptChars <= 0 {
		excerptChars = 500
	}
	p := &Pipeline{
		gateway:      gateway,
		prompts:      engine,
		excerptChars: excerptChars,
		logger:       logger.With("component", "pipeline"),
	}
	p.player = &PlayerStrategy{p: p}
	p.storywriter = &StorywriterStrategy{p: p}
	return p
}

// Strategy returns the strategy for mode.
func (p *Pipeline) Strategy(mode models.StoryMode) (Strategy, error) {
	switch mode {
	case models.ModePlayer:
		return p.player, nil
	case models.ModeStorywriter:
		return p.storywriter, nil
	}
	return nil, models.Invalid("storyMode", "unknown mode %q", mode)
}

func (p *Pipeline) baseValues(req ChapterRequest) map[string]string {
	saga := req.Saga
	total := saga.TotalChapters
	if total == 0 {
		total = models.DefaultTotalChapters
	}
	values := map[string]string{
		"title":            saga.Title,
		"worldName":        saga.WorldName,
		"worldDescription": saga.WorldDescription,
		"moodAndTropes":    saga.MoodAndTropes,
		"premise":          saga.Premise,
		"advancedOptions":  saga.AdvancedOptions,
		"totalChapters":    strconv.Itoa(total),
		"chapterNumber":    strconv.Itoa(req.ChapterNumber),
		"previousText":     trailingExcerpt(req.PreviousText, p.excerptChars),
		"userDecision":     req.Decision,
		"userFeedback":     req.Feedback,
	}
	req.Memory.apply(values)
	return values
}

func (p *Pipeline) run(ctx context.Context, name string, values map[string]string, onUpdate func(string)) (string, error) {
	system, user, err := p.prompts.RenderMessages(name, values)
	if err != nil {
		return "", err
	}
	return p.gateway.Generate(ctx, []interfaces.ChatMessage{
		{Role: interfaces.RoleSystem, Content: system},
		{Role: interfaces.RoleUser, Content: user},
	}, onUpdate)
}

// Outline plans a chapter. Unparseable responses yield FallbackOutline; only
// gateway failures are returned as errors.
func (p *Pipeline) Outline(ctx context.Context, req ChapterRequest, onUpdate func(string)) (models.ChapterOutline, error) {
	response, err := p.run(ctx, prompts.ChapterOutline, p.baseValues(req), onUpdate)
	if err != nil {
		return models.ChapterOutline{}, fmt.Errorf("failed to generate chapter outline: %w", err)
	}
	outline, ok := ParseOutlineOrFallback(response)
	if !ok {
		p.logger.Warn("outline response was not usable, using fallback outline",
			"chapter", req.ChapterNumber, "response_len", len(response))
	}
	return outline, nil
}

// Narrate writes a player-mode chapter from an outline.
func (p *Pipeline) Narrate(ctx context.Context, req ChapterRequest, outline models.ChapterOutline, onUpdate func(string)) (string, error) {
	values := p.baseValues(req)
	values["goals"] = strings.Join(outline.Goals, ", ")
	values["beats"] = FormatBeats(outline.Beats)
	values["synopsis"] = outline.Synopsis

	response, err := p.run(ctx, prompts.Narrative, values, onUpdate)
	if err != nil {
		return "", fmt.Errorf("failed to generate narrative: %w", err)
	}
	return StripMetaText(response), nil
}

// NarrateDirection writes a storywriter-mode chapter that follows req.Direction.
func (p *Pipeline) NarrateDirection(ctx context.Context, req ChapterRequest, onUpdate func(string)) (string, error) {
	values := p.baseValues(req)
	values["storyDirection"] = req.Direction
	// the direction replaces the reader decision in this mode
	values["userDecision"] = ""

	response, err := p.run(ctx, prompts.StorywriterNarrative, values, onUpdate)
	if err != nil {
		return "", fmt.Errorf("failed to generate narrative: %w", err)
	}
	return StripMetaText(response), nil
}

// PlayerStrategy outlines and then narrates each chapter.
type PlayerStrategy struct {
	p *Pipeline
}

func (s *PlayerStrategy) Mode() models.StoryMode { return models.ModePlayer }

func (s *PlayerStrategy) Produce(ctx context.Context, req ChapterRequest, progress StageFunc) (*ChapterDraft, error) {
	progress = orNop(progress)

	progress(interfaces.StateOutlining, "")
	outline, err := s.p.Outline(ctx, req, func(text string) { progress(interfaces.StateOutlining, text) })
	if err != nil {
		return nil, err
	}

	progress(interfaces.StateNarrating, "")
	content, err := s.p.Narrate(ctx, req, outline, func(text string) { progress(interfaces.StateNarrating, text) })
	if err != nil {
		return nil, err
	}

	return &ChapterDraft{
		Content: content,
		Summary: outline.Synopsis,
		Outline: &outline,
	}, nil
}

// StorywriterStrategy narrates straight from the author's direction.
type StorywriterStrategy struct {
	p *Pipeline
}

func (s *StorywriterStrategy) Mode() models.StoryMode { return models.ModeStorywriter }

func (s *StorywriterStrategy) Produce(ctx context.Context, req ChapterRequest, progress StageFunc) (*ChapterDraft, error) {
	if strings.TrimSpace(req.Direction) == "" {
		return nil, models.Invalid("storyDirection", "is required")
	}
	progress = orNop(progress)

	progress(interfaces.StateNarrating, "")
	content, err := s.p.NarrateDirection(ctx, req, func(text string) { progress(interfaces.StateNarrating, text) })
	if err != nil {
		return nil, err
	}

	return &ChapterDraft{
		Content: content,
		Summary: DirectionSummary(req.ChapterNumber, req.Direction),
	}, nil
}

// DirectionSummary is the stored summary of a storywriter chapter.
func DirectionSummary(chapter int, direction string) string {
	return fmt.Sprintf("Chapter %d: %s...", chapter, leadingRunes(direction, 100))
}

func orNop(progress StageFunc) StageFunc {
	if progress == nil {
		return func(interfaces.StoryState, string) {}
	}
	return progress
}
