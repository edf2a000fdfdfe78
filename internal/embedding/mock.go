package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

const mockDimensions = 64

// MockEngine is a deterministic in-process Engine for tests. Vectors are
// built from hashed character trigrams, so identical texts embed
// identically and texts sharing most of their content embed close
// together. Explicit vectors can be pinned per text.
type MockEngine struct {
	mu     sync.Mutex
	pinned map[string][]float32
	Calls  int
}

// NewMockEngine creates a MockEngine.
func NewMockEngine() *MockEngine {
	return &MockEngine{pinned: make(map[string][]float32)}
}

// Pin fixes the vector returned for an exact text.
func (m *MockEngine) Pin(text string, vec []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned[text] = vec
}

func (m *MockEngine) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.Calls++
	if vec, ok := m.pinned[text]; ok {
		m.mu.Unlock()
		return vec, nil
	}
	m.mu.Unlock()
	return trigramVector(text), nil
}

func (m *MockEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (m *MockEngine) Dimensions() int {
	return mockDimensions
}

func (m *MockEngine) Name() string {
	return "mock"
}

// trigramVector hashes character trigrams into a fixed-size normalized
// vector.
func trigramVector(text string) []float32 {
	vec := make([]float32, mockDimensions)
	s := strings.ToLower(strings.TrimSpace(text))
	if len(s) < 3 {
		s = s + strings.Repeat("_", 3-len(s))
	}

	for i := 0; i+3 <= len(s); i++ {
		h := fnv.New32a()
		h.Write([]byte(s[i : i+3]))
		vec[h.Sum32()%mockDimensions]++
	}

	var mag float64
	for _, v := range vec {
		mag += float64(v) * float64(v)
	}
	if mag > 0 {
		norm := float32(math.Sqrt(mag))
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}
