package llm_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/llm"
	"github.com/Varun-Patkar/RebirthRealm/internal/llm/llmtest"
)

var userPrompt = []interfaces.ChatMessage{{Role: interfaces.RoleUser, Content: "hello"}}

func TestGenerateBeforeInitialize(t *testing.T) {
	g := llmtest.NewGateway(llmtest.NewScripted("unused"), false)
	if _, err := g.Generate(context.Background(), userPrompt, nil); !errors.Is(err, llm.ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
}

func TestInitializeIsIdempotentAndReportsProgress(t *testing.T) {
	backend := llmtest.NewScripted()
	g := llmtest.NewGateway(backend, false)

	var reports []interfaces.InitProgress
	ok, err := g.Initialize(context.Background(), func(p interfaces.InitProgress) {
		reports = append(reports, p)
	})
	if err != nil || !ok {
		t.Fatalf("Initialize = %v, %v", ok, err)
	}
	if len(reports) < 2 {
		t.Fatalf("expected progress reports, got %v", reports)
	}
	last := reports[len(reports)-1]
	if last.Progress != 1 || last.Text != "Model initialization finished" {
		t.Fatalf("last report = %+v", last)
	}
	for i := 1; i < len(reports); i++ {
		if reports[i].Progress < reports[i-1].Progress {
			t.Fatalf("progress went backwards: %v", reports)
		}
	}

	ok, err = g.Initialize(context.Background(), nil)
	if err != nil || !ok {
		t.Fatalf("second Initialize = %v, %v", ok, err)
	}
	if backend.Loads() != 1 {
		t.Fatalf("loads = %d, want 1", backend.Loads())
	}
}

func TestInitializeWhileLoadingReturnsFalse(t *testing.T) {
	backend := llmtest.NewScripted()
	backend.LoadGate = make(chan struct{})
	g := llmtest.NewGateway(backend, false)

	done := make(chan bool)
	go func() {
		ok, _ := g.Initialize(context.Background(), nil)
		done <- ok
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !g.IsLoading() {
		if time.Now().After(deadline) {
			t.Fatal("first initialization never started")
		}
		time.Sleep(time.Millisecond)
	}

	ok, err := g.Initialize(context.Background(), nil)
	if ok || err != nil {
		t.Fatalf("concurrent Initialize = %v, %v; want false, nil", ok, err)
	}

	close(backend.LoadGate)
	if !<-done {
		t.Fatal("first initialization failed")
	}
	if !g.IsInitialized() || g.IsLoading() {
		t.Fatal("gateway should be initialized and idle")
	}
}

func TestInitializeFailure(t *testing.T) {
	backend := llmtest.NewScripted()
	backend.LoadErr = errors.New("no gpu")
	g := llmtest.NewGateway(backend, false)

	ok, err := g.Initialize(context.Background(), nil)
	if ok || err == nil {
		t.Fatalf("Initialize = %v, %v; want failure", ok, err)
	}
	if g.IsInitialized() || g.IsLoading() {
		t.Fatal("failed initialization must leave gateway unloaded")
	}
}

func TestGenerateStreamsCumulativeText(t *testing.T) {
	reply := "The rain falls on the old city walls tonight"
	g := llmtest.NewGateway(llmtest.NewScripted(reply), true)

	var updates []string
	got, err := g.Generate(context.Background(), userPrompt, func(s string) {
		updates = append(updates, s)
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != reply {
		t.Fatalf("got %q", got)
	}
	if len(updates) < 2 {
		t.Fatalf("expected several updates, got %v", updates)
	}
	for i := 1; i < len(updates); i++ {
		if !strings.HasPrefix(updates[i], updates[i-1]) {
			t.Fatalf("update %d does not extend previous: %q -> %q", i, updates[i-1], updates[i])
		}
	}
	if updates[len(updates)-1] != reply {
		t.Fatalf("final update %q != result", updates[len(updates)-1])
	}
}

func TestGenerateFailureIsWrapped(t *testing.T) {
	backend := llmtest.NewScripted()
	backend.Respond = func([]interfaces.ChatMessage) (string, error) {
		return "", errors.New("connection reset")
	}
	g := llmtest.NewGateway(backend, true)

	_, err := g.Generate(context.Background(), userPrompt, nil)
	if !errors.Is(err, llm.ErrGenerationFailed) {
		t.Fatalf("err = %v, want ErrGenerationFailed", err)
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("cause lost: %v", err)
	}
}

func TestGenerateCancellation(t *testing.T) {
	backend := llmtest.NewScripted("never")
	backend.Gate = make(chan struct{})
	g := llmtest.NewGateway(backend, true)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := g.Generate(ctx, userPrompt, nil)
		errc <- err
	}()
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Generate did not return after cancellation")
	}
}

func TestGenerateIsSerialized(t *testing.T) {
	backend := llmtest.NewScripted("one", "two")
	backend.Gate = make(chan struct{})
	backend.Started = make(chan struct{}, 2)
	g := llmtest.NewGateway(backend, true)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Generate(context.Background(), userPrompt, nil); err != nil {
				t.Errorf("Generate: %v", err)
			}
		}()
	}

	<-backend.Started
	select {
	case <-backend.Started:
		t.Fatal("second call entered the backend while the first was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(backend.Gate)
	wg.Wait()
	if n := len(backend.Calls()); n != 2 {
		t.Fatalf("calls = %d, want 2", n)
	}
}

func TestReloadLoadsAgain(t *testing.T) {
	backend := llmtest.NewScripted()
	g := llmtest.NewGateway(backend, true)

	ok, err := g.Reload(context.Background(), nil)
	if err != nil || !ok {
		t.Fatalf("Reload = %v, %v", ok, err)
	}
	if backend.Loads() != 2 {
		t.Fatalf("loads = %d, want 2", backend.Loads())
	}
}
