// Package embedding generates vector embeddings for semantic memory search.
package embedding

import (
	"context"
	"fmt"
	"math"
	"os"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of produced vectors.
	Dimensions() int

	// Name identifies the engine and model.
	Name() string
}

// Config holds embedding engine configuration.
type Config struct {
	// Provider selects the backend: "openai", "genai", "mock".
	Provider string

	OpenAI OpenAIConfig
	GenAI  GenAIConfig
}

// OpenAIConfig configures the OpenAI embeddings backend.
type OpenAIConfig struct {
	APIKey  string
	Model   string // Default: "text-embedding-3-small"
	BaseURL string // Optional override for compatible APIs.
}

// GenAIConfig configures the Google GenAI embeddings backend.
type GenAIConfig struct {
	APIKey string
	Model  string // Default: "gemini-embedding-001"
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider: "openai",
		OpenAI:   OpenAIConfig{Model: "text-embedding-3-small"},
		GenAI:    GenAIConfig{Model: "gemini-embedding-001"},
	}
}

// ConfigFromEnv builds a Config from environment variables, falling back
// to defaults for unset values.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if p := os.Getenv("TUTORCORE_EMBEDDING_PROVIDER"); p != "" {
		cfg.Provider = p
	}
	if k := os.Getenv("TUTORCORE_OPENAI_API_KEY"); k != "" {
		cfg.OpenAI.APIKey = k
	} else if k := os.Getenv("OPENAI_API_KEY"); k != "" {
		cfg.OpenAI.APIKey = k
	}
	if m := os.Getenv("TUTORCORE_EMBEDDING_MODEL"); m != "" {
		cfg.OpenAI.Model = m
		cfg.GenAI.Model = m
	}
	if k := os.Getenv("TUTORCORE_GEMINI_API_KEY"); k != "" {
		cfg.GenAI.APIKey = k
	} else if k := os.Getenv("GEMINI_API_KEY"); k != "" {
		cfg.GenAI.APIKey = k
	}

	return cfg
}

// NewEngine creates an Engine from configuration.
func NewEngine(ctx context.Context, cfg Config) (Engine, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEngine(cfg.OpenAI)
	case "genai":
		return NewGenAIEngine(ctx, cfg.GenAI)
	case "mock":
		return NewMockEngine(), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
	}
}

// CosineSimilarity returns the cosine similarity of two vectors, in
// [-1, 1]. Zero-magnitude vectors compare as 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}

	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
