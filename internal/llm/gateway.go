package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"

	"github.com/Varun-Patkar/RebirthRealm/internal/config"
	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
)

// ErrNotInitialized is returned by Generate before a successful Initialize.
var ErrNotInitialized = errors.New("model is not initialized")

// ErrGenerationFailed wraps backend failures other than cancellation.
var ErrGenerationFailed = errors.New("generation failed")

const initFinishedText = "Model initialization finished"

// Backend is a concrete model runtime driven by a Gateway.
type Backend interface {
	Name() string
	// Load prepares the runtime, reporting progress in [0, 1).
	Load(ctx context.Context, report func(progress float64, text string)) error
	// Stream produces a completion, calling emit with the cumulative text.
	Stream(ctx context.Context, messages []interfaces.ChatMessage, emit func(string)) (string, error)
	Close() error
}

// Gateway owns the initialization lifecycle of a Backend and serializes every
// call into it. It implements interfaces.ModelGateway.
type Gateway struct {
	backend     Backend
	logger      *slog.Logger
	initTimeout time.Duration

	initialized *atomic.Bool
	loading     *atomic.Bool
	sem         *semaphore.Weighted
}

var _ interfaces.ModelGateway = (*Gateway)(nil)

// NewGateway wraps backend. A zero initTimeout means no deadline beyond ctx.
func NewGateway(backend Backend, logger *slog.Logger, initTimeout time.Duration) *Gateway {
	return &Gateway{
		backend:     backend,
		logger:      logger.With("component", "gateway", "backend", backend.Name()),
		initTimeout: initTimeout,
		initialized: atomic.NewBool(false),
		loading:     atomic.NewBool(false),
		sem:         semaphore.NewWeighted(1),
	}
}

// New builds the gateway for the configured provider.
func New(cfg config.ModelConfig, logger *slog.Logger) (*Gateway, error) {
	var backend Backend
	switch cfg.Provider {
	case "openai", "":
		backend = NewOpenAIBackend(cfg)
	case "gemini":
		backend = NewGeminiBackend(cfg)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
	return NewGateway(backend, logger, cfg.InitTimeout), nil
}

func (g *Gateway) IsInitialized() bool { return g.initialized.Load() }

func (g *Gateway) IsLoading() bool { return g.loading.Load() }

// Initialize loads the backend once. Concurrent callers get false while a load is running.
func (g *Gateway) Initialize(ctx context.Context, onProgress func(interfaces.InitProgress)) (bool, error) {
	if g.initialized.Load() {
		return true, nil
	}
	if !g.loading.CompareAndSwap(false, true) {
		g.logger.Debug("initialization already in progress")
		return false, nil
	}
	defer g.loading.Store(false)

	report := func(progress float64, text string) {
		if onProgress != nil {
			onProgress(interfaces.InitProgress{Progress: progress, Text: text})
		}
	}

	if g.initTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.initTimeout)
		defer cancel()
	}

	start := time.Now()
	report(0, fmt.Sprintf("Loading %s", g.backend.Name()))
	if err := g.backend.Load(ctx, report); err != nil {
		g.logger.Error("model initialization failed", "error", err)
		return false, fmt.Errorf("failed to initialize model: %w", err)
	}

	g.initialized.Store(true)
	report(1, initFinishedText)
	g.logger.Info("model initialized", "elapsed", time.Since(start).Round(time.Millisecond))
	return true, nil
}

// Reload drops the loaded backend once in-flight generation finishes and loads it again.
func (g *Gateway) Reload(ctx context.Context, onProgress func(interfaces.InitProgress)) (bool, error) {
	if g.loading.Load() {
		return false, nil
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	g.initialized.Store(false)
	if err := g.backend.Close(); err != nil {
		g.logger.Warn("failed to close backend before reload", "error", err)
	}
	g.sem.Release(1)

	return g.Initialize(ctx, onProgress)
}

// Generate runs one completion. Calls are serialized; cancelling ctx aborts the stream.
func (g *Gateway) Generate(ctx context.Context, messages []interfaces.ChatMessage, onUpdate func(string)) (string, error) {
	if !g.initialized.Load() {
		return "", ErrNotInitialized
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages to send")
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer g.sem.Release(1)

	// a reload may have run while waiting
	if !g.initialized.Load() {
		return "", ErrNotInitialized
	}

	var last string
	emit := func(text string) {
		if len(text) < len(last) {
			return
		}
		last = text
		if onUpdate != nil {
			onUpdate(text)
		}
	}

	text, err := g.backend.Stream(ctx, messages, emit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%s: %w: %w", g.backend.Name(), ErrGenerationFailed, err)
	}
	if text != last && onUpdate != nil {
		onUpdate(text)
	}
	return text, nil
}

// Close releases the backend.
func (g *Gateway) Close() error {
	g.initialized.Store(false)
	return g.backend.Close()
}
