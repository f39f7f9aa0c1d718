package rag

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Varun-Patkar/RebirthRealm/internal/config"
	"github.com/Varun-Patkar/RebirthRealm/internal/models"
	"github.com/Varun-Patkar/RebirthRealm/internal/storage"
)

func seed(t *testing.T, store *storage.MemoryStore, nodes ...*models.StoryNode) {
	t.Helper()
	for i, n := range nodes {
		n.SagaID = "s"
		n.Status = models.StatusActive
		n.Content = "text"
		n.CreatedAt = time.Unix(int64(i), 0)
		if err := store.CreateNode(context.Background(), n); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestFuzzyIndexSearch(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store,
		&models.StoryNode{ID: "a", ChapterNumber: 1, Summary: "You wake in a ruined temple"},
		&models.StoryNode{ID: "b", ChapterNumber: 2, Summary: "A storm drives you into a cave", UserDecision: "explore the cave"},
		&models.StoryNode{ID: "c", ChapterNumber: 3, Summary: "The market bustles with merchants"},
	)
	_ = store.CreateNode(context.Background(), &models.StoryNode{ID: "x", SagaID: "other", Summary: "another cave"})

	idx := NewFuzzyIndex(store)
	hits, err := idx.Search(context.Background(), "s", "cave", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 || hits[0].NodeID != "b" || hits[0].ChapterNumber != 2 {
		t.Fatalf("hits = %+v", hits)
	}
	for _, h := range hits {
		if h.NodeID == "x" {
			t.Fatalf("search leaked a chapter of another saga")
		}
	}

	if hits, _ := idx.Search(context.Background(), "s", "zzzz", 5); len(hits) != 0 {
		t.Fatalf("unexpected hits %+v", hits)
	}
}

func TestFuzzyIndexLimit(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store,
		&models.StoryNode{ID: "a", ChapterNumber: 1, Summary: "sword"},
		&models.StoryNode{ID: "b", ChapterNumber: 2, Summary: "sword again"},
		&models.StoryNode{ID: "c", ChapterNumber: 3, Summary: "a sword once more"},
	)
	hits, err := NewFuzzyIndex(store).Search(context.Background(), "s", "sword", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("len(hits) = %d, want 2", len(hits))
	}
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Fatalf("NormalizeVector = %v", v)
	}
	zero := NormalizeVector([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Fatalf("zero vector changed: %v", zero)
	}
}

func TestEmbeddingServiceCachesAndNormalizes(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": []float32{3, 4}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	defer srv.Close()

	svc := NewEmbeddingService(config.EmbeddingConfig{BaseURL: srv.URL, APIKey: "test", Model: "test-embed"})
	ctx := context.Background()

	vec, err := svc.Embed(ctx, "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || math.Abs(float64(vec[1])-0.8) > 1e-6 {
		t.Fatalf("vector = %v", vec)
	}

	vectors, err := svc.EmbedBatch(ctx, []string{"hello", "world"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != 2 || vectors[1] == nil {
		t.Fatalf("vectors = %v", vectors)
	}
	if got := atomic.LoadInt32(&requests); got != 2 {
		t.Fatalf("requests = %d, want 2 (one cached input)", got)
	}
}

func TestEmbeddingCacheIsBounded(t *testing.T) {
	c := newEmbeddingCache(2)
	c.Put("a", []float32{1})
	c.Put("b", []float32{2})
	c.Put("c", []float32{3})

	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	if _, ok := c.get("a"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if v, ok := c.get("c"); !ok || v[0] != 3 {
		t.Fatalf("get(c) = %v, %v", v, ok)
	}
}

func TestPointIDIsStable(t *testing.T) {
	a := pointID("node-1").GetUuid()
	b := pointID("node-1").GetUuid()
	c := pointID("node-2").GetUuid()
	if a == "" || a != b || a == c {
		t.Fatalf("point ids: %q %q %q", a, b, c)
	}
}
