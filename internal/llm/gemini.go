package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/Varun-Patkar/RebirthRealm/internal/config"
	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
)

// GeminiBackend streams completions from the Gemini API.
type GeminiBackend struct {
	apiKey      string
	modelName   string
	temperature float32
	maxTokens   int32

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiBackend(cfg config.ModelConfig) *GeminiBackend {
	return &GeminiBackend{
		apiKey:      cfg.APIKey,
		modelName:   cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
	}
}

func (g *GeminiBackend) Name() string { return "gemini:" + g.modelName }

func (g *GeminiBackend) Load(ctx context.Context, report func(float64, string)) error {
	report(0.1, "Creating Gemini client")
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return fmt.Errorf("failed to create gemini client: %w", err)
	}

	report(0.5, fmt.Sprintf("Fetching model info for %s", g.modelName))
	if _, err := client.GenerativeModel(g.modelName).Info(ctx); err != nil {
		client.Close()
		return fmt.Errorf("failed to fetch model info: %w", err)
	}

	g.mu.Lock()
	old := g.client
	g.client = client
	g.mu.Unlock()
	if old != nil {
		old.Close()
	}
	report(0.9, fmt.Sprintf("Model %s is available", g.modelName))
	return nil
}

func (g *GeminiBackend) Stream(ctx context.Context, messages []interfaces.ChatMessage, emit func(string)) (string, error) {
	g.mu.Lock()
	client := g.client
	g.mu.Unlock()
	if client == nil {
		return "", ErrNotInitialized
	}

	system, history, last, err := splitGeminiMessages(messages)
	if err != nil {
		return "", err
	}

	model := client.GenerativeModel(g.modelName)
	model.SetTemperature(g.temperature)
	if g.maxTokens > 0 {
		model.SetMaxOutputTokens(g.maxTokens)
	}
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	cs := model.StartChat()
	cs.History = history

	var sb strings.Builder
	iter := cs.SendMessageStream(ctx, genai.Text(last))
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("gemini stream failed: %w", err)
		}
		before := sb.Len()
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if text, ok := part.(genai.Text); ok {
					sb.WriteString(string(text))
				}
			}
		}
		if sb.Len() > before {
			emit(sb.String())
		}
	}
	return sb.String(), nil
}

func (g *GeminiBackend) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}

// splitGeminiMessages folds system messages into one instruction and turns the
// rest into chat history plus the final user prompt.
func splitGeminiMessages(messages []interfaces.ChatMessage) (string, []*genai.Content, string, error) {
	var system []string
	var turns []interfaces.ChatMessage
	for _, m := range messages {
		if m.Role == interfaces.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != interfaces.RoleUser {
		return "", nil, "", fmt.Errorf("last message must come from the user")
	}

	history := make([]*genai.Content, 0, len(turns)-1)
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == interfaces.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return strings.Join(system, "\n\n"), history, turns[len(turns)-1].Content, nil
}
