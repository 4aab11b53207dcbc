package ai

import (
	"crypto/sha1"
	"encoding/binary"

	"github.com/fairyhunter13/curriculum-catalog/internal/domain"
)

// MockClient implements domain.EmbeddingClient deterministically for
// dev/offline mode: the same text always maps to the same vector.
type MockClient struct{ Dims int }

// NewMockClient constructs a deterministic mock embedding client.
func NewMockClient() domain.EmbeddingClient { return &MockClient{Dims: 256} }

// Embed returns a deterministic vector per input text.
func (m *MockClient) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	dims := m.Dims
	if dims <= 0 {
		dims = 256
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedDeterministic(t, dims)
	}
	return out, nil
}

// embedDeterministic maps text to a pseudo-random vector via an LCG seeded by
// sha1(text), with components roughly in [-1, 1].
func embedDeterministic(s string, dims int) []float32 {
	h := sha1.Sum([]byte(s))
	x := binary.BigEndian.Uint32(h[:4])
	const a = 1664525
	const c = 1013904223
	vec := make([]float32, dims)
	for i := 0; i < dims; i++ {
		x = uint32(uint64(a)*uint64(x) + uint64(c))
		v := float32(x) / float32(^uint32(0))
		vec[i] = 2*v - 1
	}
	return vec
}
