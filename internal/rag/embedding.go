package rag

import (
	"context"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru"
	openai "github.com/sashabaranov/go-openai"

	"github.com/Varun-Patkar/RebirthRealm/internal/config"
)

const (
	defaultEmbeddingModel = "text-embedding-3-small"
	cacheTTL              = 24 * time.Hour
	cacheSize             = 4096
	maxRetries            = 3
	retryDelay            = 1 * time.Second
	batchSize             = 64
)

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingCache is a bounded LRU of embeddings. Entries older than cacheTTL count as misses.
type EmbeddingCache struct {
	entries *lru.Cache
}

// CachedEmbedding holds a cached embedding with expiration
type CachedEmbedding struct {
	Vector    []float32
	CreatedAt time.Time
}

func newEmbeddingCache(size int) *EmbeddingCache {
	if size <= 0 {
		size = cacheSize
	}
	// lru.New only fails on a non-positive size
	entries, _ := lru.New(size)
	return &EmbeddingCache{entries: entries}
}

func (c *EmbeddingCache) get(text string) ([]float32, bool) {
	v, ok := c.entries.Get(text)
	if !ok {
		return nil, false
	}
	cached := v.(*CachedEmbedding)
	if time.Since(cached.CreatedAt) > cacheTTL {
		c.entries.Remove(text)
		return nil, false
	}
	return cached.Vector, true
}

// Put caches an embedding, evicting the least recently used entry when full.
func (c *EmbeddingCache) Put(text string, vector []float32) {
	c.entries.Add(text, &CachedEmbedding{Vector: vector, CreatedAt: time.Now()})
}

// Len returns the number of cached embeddings.
func (c *EmbeddingCache) Len() int {
	return c.entries.Len()
}

// EmbeddingService calls an OpenAI-compatible embeddings endpoint and caches the results.
type EmbeddingService struct {
	client *openai.Client
	model  string
	cache  *EmbeddingCache
}

// NewEmbeddingService creates a new embedding service
func NewEmbeddingService(cfg config.EmbeddingConfig) *EmbeddingService {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &EmbeddingService{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		cache:  newEmbeddingCache(cacheSize),
	}
}

// Embed generates embedding for a single text
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding generated")
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts, serving repeats from the cache.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	var missing []int
	for i, text := range texts {
		if vec, ok := s.cache.get(text); ok {
			vectors[i] = vec
		} else {
			missing = append(missing, i)
		}
	}

	for start := 0; start < len(missing); start += batchSize {
		end := start + batchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := make([]string, 0, end-start)
		for _, idx := range missing[start:end] {
			batch = append(batch, texts[idx])
		}

		resp, err := s.createEmbeddings(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("embedding API returned %d vectors for %d inputs", len(resp.Data), len(batch))
		}
		for _, data := range resp.Data {
			if data.Index < 0 || data.Index >= len(batch) {
				return nil, fmt.Errorf("embedding API returned index %d out of range", data.Index)
			}
			idx := missing[start+data.Index]
			vec := NormalizeVector(data.Embedding)
			vectors[idx] = vec
			s.cache.Put(texts[idx], vec)
		}
	}
	return vectors, nil
}

func (s *EmbeddingService) createEmbeddings(ctx context.Context, texts []string) (openai.EmbeddingResponse, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return openai.EmbeddingResponse{}, ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(s.model),
		})
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return openai.EmbeddingResponse{}, ctx.Err()
		}
		lastErr = err
	}
	return openai.EmbeddingResponse{}, fmt.Errorf("failed to create embeddings after %d attempts: %w", maxRetries, lastErr)
}

// NormalizeVector normalizes a vector to unit length
func NormalizeVector(vector []float32) []float32 {
	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vector
	}
	norm = math.Sqrt(norm)

	normalized := make([]float32, len(vector))
	for i, v := range vector {
		normalized[i] = float32(float64(v) / norm)
	}
	return normalized
}
