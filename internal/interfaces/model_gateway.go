package interfaces

import "context"

// Chat roles understood by every gateway.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a chat-style prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InitProgress reports model loading progress in the range [0, 1].
type InitProgress struct {
	Progress float64 `json:"progress"`
	Text     string  `json:"text"`
}

// ModelGateway is the single shared text-generation resource.
type ModelGateway interface {
	// Initialize loads the model. It returns true once ready, false with a nil
	// error when another initialization is already running.
	Initialize(ctx context.Context, onProgress func(InitProgress)) (bool, error)

	// Reload discards the loaded model and initializes it again.
	Reload(ctx context.Context, onProgress func(InitProgress)) (bool, error)

	IsInitialized() bool
	IsLoading() bool

	// Generate streams a completion. onUpdate receives the cumulative text so far;
	// its final invocation carries the returned string.
	Generate(ctx context.Context, messages []ChatMessage, onUpdate func(string)) (string, error)
}
