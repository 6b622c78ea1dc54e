package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/samcharles93/hybridlm/internal/tensor"
)

func sigmoid(v float32) float32 { return tensor.Sigmoid(v) }

func TestRouterSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		groups      int
		topKGroups  int
		normalize   bool
		scale       float32
		bias        []float32
		logits      []float32
		wantIdx     []int
		wantWeights []float32
	}{
		{
			name:        "highest scores first",
			groups:      1,
			topKGroups:  1,
			normalize:   true,
			scale:       1,
			bias:        []float32{0, 0, 0, 0},
			logits:      []float32{0, 1, 2, 3},
			wantIdx:     []int{3, 2},
			wantWeights: []float32{sigmoid(3) / (sigmoid(3) + sigmoid(2)), sigmoid(2) / (sigmoid(3) + sigmoid(2))},
		},
		{
			name:        "ties keep lowest index",
			groups:      1,
			topKGroups:  1,
			normalize:   false,
			scale:       1,
			bias:        []float32{0, 0, 0, 0},
			logits:      []float32{0.5, 0.5, 0.5, 0.5},
			wantIdx:     []int{0, 1},
			wantWeights: []float32{sigmoid(0.5), sigmoid(0.5)},
		},
		{
			name:        "bias steers selection only",
			groups:      1,
			topKGroups:  1,
			normalize:   false,
			scale:       2,
			bias:        []float32{10, 0, 0, 0},
			logits:      []float32{0, 1, 2, 3},
			wantIdx:     []int{0, 3},
			wantWeights: []float32{2 * sigmoid(0), 2 * sigmoid(3)},
		},
		{
			name:        "group limit masks strongest expert",
			groups:      2,
			topKGroups:  1,
			normalize:   false,
			scale:       1,
			bias:        []float32{0, 0, 0, 0},
			logits:      []float32{3, -3, 1, 1},
			wantIdx:     []int{2, 3},
			wantWeights: []float32{sigmoid(1), sigmoid(1)},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := &MoEBlock{
				experts:    4,
				topK:       2,
				groups:     tc.groups,
				topKGroups: tc.topKGroups,
				normalize:  tc.normalize,
				routeScale: tc.scale,
				bias:       tc.bias,
			}
			idx, w := newRouter(m).route(tc.logits)
			if diff := cmp.Diff(tc.wantIdx, idx); diff != "" {
				t.Fatalf("experts (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.wantWeights, w, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
				t.Fatalf("weights (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMoEMatchesPerTokenRouting(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, "E")
	m := newMoEBlock(cfg, newInitializer(21, 0.3))
	x := randomHidden(2, 3, cfg.HiddenSize, 6)

	got, err := m.Forward(x, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Recompute each token on its own: shared expert plus weighted routed experts.
	r := newRouter(m)
	for row := range x.Rows() {
		tok := tensor.FromData(append([]float32(nil), x.Row(row)...), 1, cfg.HiddenSize)
		want := m.shared.forward(tok)
		idx, w := r.route(m.router.forward(tok).Data)
		for i, e := range idx {
			tensor.AddScaled(want.Data, w[i], m.routed[e].forward(tok).Data)
		}
		if d := tensor.MaxAbsDiff(want.Data, got.Row(row)); d > 1e-5 {
			t.Fatalf("row %d differs by %g", row, d)
		}
	}
}

func TestMoERejectsCacheEntry(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, "E")
	m := newMoEBlock(cfg, newInitializer(1, 0.02))
	if _, err := m.Forward(randomHidden(1, 1, cfg.HiddenSize, 1), newKVState(2, 8, tensor.F32, 0)); err == nil {
		t.Fatal("expected error for cache entry on moe block")
	}
	if m.NewEntry(cacheOptions{}) != nil {
		t.Fatal("moe block created a cache entry")
	}
}
