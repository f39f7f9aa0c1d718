package engine

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/models"
	"github.com/Varun-Patkar/RebirthRealm/internal/prompts"
)

// Judgment is the evaluator's verdict on a reader decision.
type Judgment string

const (
	JudgmentContinue Judgment = "CONTINUE"
	JudgmentUnsafe   Judgment = "UNSAFE"
	JudgmentConclude Judgment = "CONCLUDE"
	JudgmentClarify  Judgment = "CLARIFY"
)

// EndsTimeline reports whether the judgment closes the current branch.
func (j Judgment) EndsTimeline() bool {
	return j == JudgmentUnsafe || j == JudgmentConclude
}

// ParseJudgmentPolicy maps the engine.unmatched_judgment setting to a Judgment.
func ParseJudgmentPolicy(s string) (Judgment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "clarify":
		return JudgmentClarify, nil
	case "continue":
		return JudgmentContinue, nil
	}
	return "", fmt.Errorf("unknown unmatched judgment policy %q", s)
}

const defaultExplanation = "Decision evaluated successfully."

var (
	judgmentRegex    = regexp.MustCompile(`(?i)JUDGMENT:\s*(CONTINUE|UNSAFE|CONCLUDE|CLARIFY)`)
	explanationRegex = regexp.MustCompile(`(?i)EXPLANATION:\s*(.+)`)
)

// Evaluation is the parsed evaluator response.
type Evaluation struct {
	Judgment    Judgment `json:"judgment"`
	Explanation string   `json:"explanation"`
	// Matched is false when the response carried no judgment line and the
	// configured default was used.
	Matched bool `json:"-"`
}

// ParseEvaluation extracts the judgment and explanation lines from a model response.
func ParseEvaluation(response string, unmatched Judgment) Evaluation {
	eval := Evaluation{Judgment: unmatched, Explanation: defaultExplanation}
	if m := judgmentRegex.FindStringSubmatch(response); m != nil {
		eval.Judgment = Judgment(strings.ToUpper(m[1]))
		eval.Matched = true
	}
	if m := explanationRegex.FindStringSubmatch(response); m != nil {
		if text := strings.TrimSpace(m[1]); text != "" {
			eval.Explanation = text
		}
	}
	return eval
}

// DecisionEvaluator classifies reader decisions before any chapter is generated.
type DecisionEvaluator struct {
	gateway   interfaces.ModelGateway
	prompts   *prompts.TemplateEngine
	unmatched Judgment
	logger    *slog.Logger
}

func NewDecisionEvaluator(gateway interfaces.ModelGateway, engine *prompts.TemplateEngine, unmatched Judgment, logger *slog.Logger) *DecisionEvaluator {
	if unmatched == "" {
		unmatched = JudgmentClarify
	}
	return &DecisionEvaluator{
		gateway:   gateway,
		prompts:   engine,
		unmatched: unmatched,
		logger:    logger.With("component", "evaluator"),
	}
}

// Evaluate asks the model for a judgment on decision.
func (e *DecisionEvaluator) Evaluate(ctx context.Context, saga *models.Saga, decision string, onUpdate func(string)) (*Evaluation, error) {
	system, user, err := e.prompts.RenderMessages(prompts.DecisionEvaluation, map[string]string{
		"title":        saga.Title,
		"worldName":    saga.WorldName,
		"premise":      saga.Premise,
		"userDecision": decision,
	})
	if err != nil {
		return nil, err
	}

	response, err := e.gateway.Generate(ctx, []interfaces.ChatMessage{
		{Role: interfaces.RoleSystem, Content: system},
		{Role: interfaces.RoleUser, Content: user},
	}, onUpdate)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate decision: %w", err)
	}

	eval := ParseEvaluation(response, e.unmatched)
	if !eval.Matched {
		e.logger.Warn("evaluator response had no judgment line", "fallback", eval.Judgment)
	}
	e.logger.Info("decision evaluated", "saga", saga.ID, "judgment", eval.Judgment)
	return &eval, nil
}
