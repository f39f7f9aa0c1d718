package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai"

	"github.com/Varun-Patkar/RebirthRealm/internal/config"
	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
)

func TestSplitGeminiMessages(t *testing.T) {
	system, history, last, err := splitGeminiMessages([]interfaces.ChatMessage{
		{Role: interfaces.RoleSystem, Content: "be brief"},
		{Role: interfaces.RoleUser, Content: "hi"},
		{Role: interfaces.RoleAssistant, Content: "hello"},
		{Role: interfaces.RoleUser, Content: "continue"},
	})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if system != "be brief" || last != "continue" {
		t.Fatalf("system=%q last=%q", system, last)
	}
	if len(history) != 2 || history[0].Role != "user" || history[1].Role != "model" {
		t.Fatalf("unexpected history %+v", history)
	}
	if text, ok := history[1].Parts[0].(genai.Text); !ok || string(text) != "hello" {
		t.Fatalf("unexpected model turn %+v", history[1].Parts)
	}
}

func TestSplitGeminiMessagesRequiresUserLast(t *testing.T) {
	_, _, _, err := splitGeminiMessages([]interfaces.ChatMessage{{Role: interfaces.RoleSystem, Content: "x"}})
	if err == nil {
		t.Fatal("expected error without a user turn")
	}
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), false},
		{&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, true},
		{&openai.APIError{HTTPStatusCode: http.StatusBadGateway}, true},
		{&openai.APIError{HTTPStatusCode: http.StatusBadRequest}, false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("invalid prompt"), false},
	}
	for _, c := range cases {
		if got := isRetryableError(c.err); got != c.want {
			t.Errorf("isRetryableError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestOpenAIStreamReportsActualAttempts(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad prompt","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	backend := NewOpenAIBackend(config.ModelConfig{BaseURL: srv.URL, APIKey: "test", Model: "m", MaxRetries: 3})
	messages := []interfaces.ChatMessage{{Role: interfaces.RoleUser, Content: "hi"}}
	_, err := backend.Stream(context.Background(), messages, func(string) {})
	if err == nil {
		t.Fatal("expected an error for a 400 response")
	}
	if !strings.Contains(err.Error(), "attempt 1 of 3") {
		t.Fatalf("err = %v, want attempt 1 of 3", err)
	}
	if got := atomic.LoadInt32(&requests); got != 1 {
		t.Fatalf("requests = %d, want 1 for a non-retryable error", got)
	}
}
