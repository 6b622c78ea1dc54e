package model

import (
	"testing"

	"github.com/samcharles93/hybridlm/internal/tensor"
)

func testConfig(t *testing.T, pattern string) Config {
	t.Helper()
	cfg, err := Preset("tiny")
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	cfg.HybridOverridePattern = pattern
	cfg.NumHiddenLayers = len(pattern)
	return cfg
}

func newTestModel(t *testing.T, pattern string) *Model {
	t.Helper()
	m, err := New(testConfig(t, pattern), WithSeed(7))
	if err != nil {
		t.Fatalf("New(%q): %v", pattern, err)
	}
	return m
}

// promptTokens returns n deterministic token ids below vocab.
func promptTokens(n, vocab, salt int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = (i*37 + salt*11 + 5) % vocab
	}
	return out
}

func lastPosition(logits *tensor.Tensor, b int) []float32 {
	return logits.At(b, logits.Dim(1)-1)
}

func mustForward(t *testing.T, m *Model, tokens [][]int, cache Cache) *tensor.Tensor {
	t.Helper()
	out, err := m.Forward(tokens, cache)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	return out
}
