// Package llmtest provides a scripted model backend for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/llm"
	"github.com/Varun-Patkar/RebirthRealm/internal/logging"
)

// Responder computes a reply for a prompt. Returning an error fails the call.
type Responder func(messages []interfaces.ChatMessage) (string, error)

// Scripted is an llm.Backend that replays canned replies in order, or asks Respond when set.
type Scripted struct {
	// Respond takes precedence over the queued replies.
	Respond Responder
	// LoadErr makes Load fail.
	LoadErr error
	// LoadGate, when set, blocks Load until it is closed or ctx ends.
	LoadGate chan struct{}
	// Gate, when set, blocks every Stream call until it is closed or ctx ends.
	Gate chan struct{}
	// Started receives one value per Stream call once it begins, if set.
	Started chan struct{}

	mu      sync.Mutex
	replies []string
	calls   [][]interfaces.ChatMessage
	loads   int
}

func NewScripted(replies ...string) *Scripted {
	return &Scripted{replies: replies}
}

// Push appends replies to the queue.
func (s *Scripted) Push(replies ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

// Calls returns every prompt received so far.
func (s *Scripted) Calls() [][]interfaces.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]interfaces.ChatMessage(nil), s.calls...)
}

// Loads reports how many times Load ran.
func (s *Scripted) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) Load(ctx context.Context, report func(float64, string)) error {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
	if s.LoadGate != nil {
		select {
		case <-s.LoadGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.LoadErr != nil {
		return s.LoadErr
	}
	report(0.5, "Loading scripted model")
	return nil
}

func (s *Scripted) Stream(ctx context.Context, messages []interfaces.ChatMessage, emit func(string)) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, messages)
	s.mu.Unlock()

	if s.Started != nil {
		s.Started <- struct{}{}
	}
	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	reply, err := s.next(messages)
	if err != nil {
		return "", err
	}

	// stream word by word so callers observe growing text
	var sb strings.Builder
	for i, word := range strings.SplitAfter(reply, " ") {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		sb.WriteString(word)
		if i < 3 {
			emit(sb.String())
		}
	}
	emit(sb.String())
	return reply, nil
}

func (s *Scripted) next(messages []interfaces.ChatMessage) (string, error) {
	if s.Respond != nil {
		return s.Respond(messages)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return "", fmt.Errorf("no scripted reply left")
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func (s *Scripted) Close() error { return nil }

// NewGateway wraps s in a gateway, initialized when ready is true.
func NewGateway(s *Scripted, ready bool) *llm.Gateway {
	g := llm.NewGateway(s, logging.Discard(), 0)
	if ready {
		if _, err := g.Initialize(context.Background(), nil); err != nil {
			panic(err)
		}
	}
	return g
}

// PromptText joins every message of a call for substring assertions.
func PromptText(messages []interfaces.ChatMessage) string {
	parts := make([]string, len(messages))
	for i, m := range messages {
		parts[i] = m.Role + ": " + m.Content
	}
	return strings.Join(parts, "\n")
}
