package gemini

import (
	"context"
	"errors"
	"math"
	"sync"

	"go.uber.org/zap"
)

// embedder is the slice of Client the similarity implementation depends on.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Similarity implements the engine's text-similarity capability with Gemini
// embeddings and cosine similarity, mapped into [0,1]. Embeddings are cached
// per input text so repeated comparisons against the same profile text cost
// one API call.
type Similarity struct {
	embedder embedder
	logger   *zap.Logger

	cacheMu sync.RWMutex
	cache   map[string][]float32
}

func NewSimilarity(embedder embedder, logger *zap.Logger) *Similarity {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Similarity{
		embedder: embedder,
		logger:   logger,
		cache:    make(map[string][]float32),
	}
}

// Similarity embeds both texts and returns their cosine similarity rescaled
// from [-1,1] to [0,1].
func (s *Similarity) Similarity(ctx context.Context, a, b string) (float64, error) {
	va, err := s.embed(ctx, a)
	if err != nil {
		return 0, err
	}

	vb, err := s.embed(ctx, b)
	if err != nil {
		return 0, err
	}

	cos, err := cosine(va, vb)
	if err != nil {
		return 0, err
	}

	return (cos + 1) / 2, nil
}

func (s *Similarity) embed(ctx context.Context, text string) ([]float32, error) {
	s.cacheMu.RLock()
	cached, ok := s.cache[text]
	s.cacheMu.RUnlock()
	if ok {
		return cached, nil
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.cache[text] = vec
	s.cacheMu.Unlock()

	s.logger.Debug("embedded text", zap.Int("dimensions", len(vec)))

	return vec, nil
}

func cosine(a, b []float32) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, errors.New("embedding vectors must be non-empty and of equal length")
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, errors.New("embedding vector has zero magnitude")
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
