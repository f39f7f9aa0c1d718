package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/Varun-Patkar/RebirthRealm/internal/config"
	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
)

const retryDelay = 1 * time.Second

// OpenAIBackend streams chat completions from any OpenAI-compatible server
// (OpenAI, llama.cpp, Ollama, vLLM).
type OpenAIBackend struct {
	client      *openai.Client
	baseURL     string
	model       string
	temperature float32
	maxTokens   int
	maxRetries  int
}

func NewOpenAIBackend(cfg config.ModelConfig) *OpenAIBackend {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{}

	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	return &OpenAIBackend{
		client:      openai.NewClientWithConfig(clientCfg),
		baseURL:     clientCfg.BaseURL,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
		maxRetries:  maxRetries,
	}
}

func (o *OpenAIBackend) Name() string { return "openai:" + o.model }

// Load checks that the server is reachable and serves the configured model.
func (o *OpenAIBackend) Load(ctx context.Context, report func(float64, string)) error {
	report(0.1, fmt.Sprintf("Connecting to %s", o.baseURL))

	list, err := o.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}
	report(0.6, fmt.Sprintf("Server reports %d models", len(list.Models)))

	if len(list.Models) > 0 {
		found := false
		for _, m := range list.Models {
			if m.ID == o.model {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("model %q is not served by %s", o.model, o.baseURL)
		}
	}
	report(0.9, fmt.Sprintf("Model %s is available", o.model))
	return nil
}

// Stream sends the chat and retries transient failures that happen before any output.
func (o *OpenAIBackend) Stream(ctx context.Context, messages []interfaces.ChatMessage, emit func(string)) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    toOpenAIMessages(messages),
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
		Stream:      true,
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < o.maxRetries; attempt++ {
		attempts++
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		text, emitted, err := o.streamOnce(ctx, req, emit)
		if err == nil {
			return text, nil
		}

		lastErr = err
		if emitted || !isRetryableError(err) {
			break
		}
	}

	return "", fmt.Errorf("stream failed on attempt %d of %d: %w", attempts, o.maxRetries, lastErr)
}

func (o *OpenAIBackend) streamOnce(ctx context.Context, req openai.ChatCompletionRequest, emit func(string)) (string, bool, error) {
	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", false, err
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", sb.Len() > 0, err
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		sb.WriteString(resp.Choices[0].Delta.Content)
		emit(sb.String())
	}
	return sb.String(), sb.Len() > 0, nil
}

// Close is a no-op; the HTTP client holds no resources worth releasing.
func (o *OpenAIBackend) Close() error { return nil }

func toOpenAIMessages(messages []interfaces.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// isRetryableError checks if an error is retryable
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "rate limit")
}
