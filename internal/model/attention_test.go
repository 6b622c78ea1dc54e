package model

import (
	"math"
	"testing"

	"github.com/samcharles93/hybridlm/internal/tensor"
)

func newTestAttention(t *testing.T) (*AttentionBlock, Config) {
	t.Helper()
	cfg := testConfig(t, "*")
	return newAttentionBlock(cfg, newInitializer(5, 0.2)), cfg
}

// naiveAttention recomputes attention for batch row 0 with explicit key/value
// head repetition.
func naiveAttention(a *AttentionBlock, x *tensor.Tensor) *tensor.Tensor {
	q, k, v := a.q.forward(x), a.k.forward(x), a.v.forward(x)
	seq, hd := x.Dim(1), a.headDim
	group := a.heads / a.kvHeads
	ctx := tensor.New(1, seq, a.heads*hd)
	for h := range a.heads {
		kv := h / group
		for t := range seq {
			qh := q.At(0, t)[h*hd : (h+1)*hd]
			w := make([]float64, t+1)
			var maxv, sum float64 = math.Inf(-1), 0
			for j := range w {
				w[j] = float64(tensor.Dot(qh, k.At(0, j)[kv*hd:(kv+1)*hd])) / math.Sqrt(float64(hd))
				maxv = math.Max(maxv, w[j])
			}
			for j := range w {
				w[j] = math.Exp(w[j] - maxv)
				sum += w[j]
			}
			out := ctx.At(0, t)[h*hd : (h+1)*hd]
			for j := range w {
				tensor.AddScaled(out, float32(w[j]/sum), v.At(0, j)[kv*hd:(kv+1)*hd])
			}
		}
	}
	return a.o.forward(ctx)
}

func TestAttentionMatchesNaive(t *testing.T) {
	t.Parallel()
	a, cfg := newTestAttention(t)
	x := randomHidden(1, 6, cfg.HiddenSize, 9)
	got, err := a.Forward(x, nil)
	if err != nil {
		t.Fatal(err)
	}
	if d := tensor.MaxAbsDiff(naiveAttention(a, x).Data, got.Data); d > 1e-5 {
		t.Fatalf("attention differs from reference by %g", d)
	}
}

func TestAttentionIsCausal(t *testing.T) {
	t.Parallel()
	a, cfg := newTestAttention(t)
	x := randomHidden(1, 5, cfg.HiddenSize, 4)
	base, err := a.Forward(x, nil)
	if err != nil {
		t.Fatal(err)
	}
	changed := x.Clone()
	for i := range changed.At(0, 4) {
		changed.At(0, 4)[i] += 1
	}
	out, err := a.Forward(changed, nil)
	if err != nil {
		t.Fatal(err)
	}
	if d := tensor.MaxAbsDiff(base.SliceSeq(0, 4).Data, out.SliceSeq(0, 4).Data); d != 0 {
		t.Fatalf("earlier positions changed by %g when the last token changed", d)
	}
}

func TestAttentionCacheGrowsAndOffsetsMask(t *testing.T) {
	t.Parallel()
	a, cfg := newTestAttention(t)
	x := randomHidden(2, 5, cfg.HiddenSize, 8)
	whole, err := a.Forward(x, nil)
	if err != nil {
		t.Fatal(err)
	}

	st := a.NewEntry(cacheOptions{kvCapacity: 8}).(*KVState)
	for _, span := range [][2]int{{0, 3}, {3, 4}, {4, 5}} {
		part, err := a.Forward(x.SliceSeq(span[0], span[1]), st)
		if err != nil {
			t.Fatal(err)
		}
		if st.Len() != span[1] {
			t.Fatalf("kv length %d after span %v", st.Len(), span)
		}
		if d := tensor.MaxAbsDiff(whole.SliceSeq(span[0], span[1]).Data, part.Data); d > 1e-5 {
			t.Fatalf("span %v differs by %g", span, d)
		}
	}
	if want := 4 * 2 * 2 * 5 * cfg.NumKeyValueHeads * cfg.HeadDim; st.Bytes() != want {
		t.Fatalf("Bytes = %d, want %d", st.Bytes(), want)
	}
}

func TestAttentionRejectsForeignState(t *testing.T) {
	t.Parallel()
	a, cfg := newTestAttention(t)
	x := randomHidden(1, 1, cfg.HiddenSize, 1)
	if _, err := a.Forward(x, newKVState(1, cfg.HeadDim, tensor.F32, 0)); err == nil {
		t.Fatal("expected shape error for wrong kv head count")
	}
	if _, err := a.Forward(x, newSSMState(3, 4, 1, 1, 1, 0)); err == nil {
		t.Fatal("expected shape error for ssm state")
	}
}
