package model

import (
	"math"

	"github.com/samcharles93/hybridlm/internal/tensor"
)

// AttentionBlock is causal grouped-query self-attention without positional
// rotation.
type AttentionBlock struct {
	heads   int
	kvHeads int
	headDim int
	scale   float32

	q, k, v, o linear
}

func newAttentionBlock(cfg Config, in *initializer) *AttentionBlock {
	hd := cfg.AttnHeadDim()
	a := &AttentionBlock{
		heads:   cfg.NumAttentionHeads,
		kvHeads: cfg.NumKeyValueHeads,
		headDim: hd,
		scale:   float32(1 / math.Sqrt(float64(hd))),
	}
	a.q = in.linear(a.heads*hd, cfg.HiddenSize, cfg.AttentionBias)
	a.k = in.linear(a.kvHeads*hd, cfg.HiddenSize, cfg.AttentionBias)
	a.v = in.linear(a.kvHeads*hd, cfg.HiddenSize, cfg.AttentionBias)
	a.o = in.linear(cfg.HiddenSize, a.heads*hd, cfg.AttentionBias)
	return a
}

func (a *AttentionBlock) NewEntry(o cacheOptions) CacheEntry {
	return newKVState(a.kvHeads, a.headDim, o.kvDType, o.kvCapacity)
}

func (a *AttentionBlock) Params() int {
	return a.q.params() + a.k.params() + a.v.params() + a.o.params()
}

func (a *AttentionBlock) Check(entry CacheEntry, batch int) error {
	if entry == nil {
		return nil
	}
	st, ok := entry.(*KVState)
	if !ok {
		return shapeErrorf(-1, "attention block needs kv state, got %s state", entry.Kind())
	}
	if st.kvHeads != a.kvHeads || st.headDim != a.headDim {
		return shapeErrorf(-1, "kv state has %d heads of %d, want %d heads of %d", st.kvHeads, st.headDim, a.kvHeads, a.headDim)
	}
	if st.batch != 0 && st.batch != batch {
		return shapeErrorf(-1, "kv state bound to batch %d, got batch %d", st.batch, batch)
	}
	return nil
}

// attnContext carries everything one (batch row, head) task reads.
type attnContext struct {
	q      *tensor.Tensor // [batch, seq, heads*headDim]
	keys   [][]float32    // per batch row, [total, kvHeads*headDim]
	values [][]float32
	out    *tensor.Tensor // [batch, seq, heads*headDim]
	offset int            // positions stored before this call
	total  int
}

func (a *AttentionBlock) Forward(x *tensor.Tensor, entry CacheEntry) (*tensor.Tensor, error) {
	batch, seq := x.Dim(0), x.Dim(1)
	if err := a.Check(entry, batch); err != nil {
		return nil, err
	}
	q := a.q.forward(x)
	k := a.k.forward(x)
	v := a.v.forward(x)

	ctx := attnContext{
		q:      q,
		keys:   make([][]float32, batch),
		values: make([][]float32, batch),
		out:    tensor.New(batch, seq, a.heads*a.headDim),
	}
	if entry != nil {
		st := entry.(*KVState)
		ctx.offset = st.Len()
		st.append(k, v)
		for b := range batch {
			ctx.keys[b], ctx.values[b] = st.history(b)
		}
	} else {
		n := seq * a.kvHeads * a.headDim
		for b := range batch {
			ctx.keys[b] = k.Data[b*n : (b+1)*n]
			ctx.values[b] = v.Data[b*n : (b+1)*n]
		}
	}
	ctx.total = ctx.offset + seq

	err := tensor.ParallelFor(batch*a.heads, func(i int) error {
		a.runHead(&ctx, i/a.heads, i%a.heads)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a.o.forward(ctx.out), nil
}

// runHead computes one head for one batch row. Query position t sits at
// global position offset+t and sees keys 0..offset+t.
func (a *AttentionBlock) runHead(ctx *attnContext, b, h int) {
	seq := ctx.q.Dim(1)
	hd := a.headDim
	kvWidth := a.kvHeads * hd
	kvHead := h * a.kvHeads / a.heads
	scores := make([]float32, ctx.total)
	keys, values := ctx.keys[b], ctx.values[b]

	for t := range seq {
		q := ctx.q.At(b, t)[h*hd : (h+1)*hd]
		visible := ctx.offset + t + 1
		s := scores[:visible]
		for j := range visible {
			kRow := keys[j*kvWidth+kvHead*hd : j*kvWidth+(kvHead+1)*hd]
			s[j] = tensor.Dot(q, kRow) * a.scale
		}
		tensor.Softmax(s)
		out := ctx.out.At(b, t)[h*hd : (h+1)*hd]
		for j, w := range s {
			vRow := values[j*kvWidth+kvHead*hd : j*kvWidth+(kvHead+1)*hd]
			tensor.AddScaled(out, w, vRow)
		}
	}
}
