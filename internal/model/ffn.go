package model

import "github.com/samcharles93/hybridlm/internal/tensor"

// ffn is a position-wise feed-forward network. With a gate it computes
// down(silu(gate(x)) * up(x)), otherwise down(relu(up(x))²).
type ffn struct {
	up   linear
	gate *linear
	down linear
}

func newFFN(cfg Config, in *initializer, inter int) ffn {
	f := ffn{up: in.linear(inter, cfg.HiddenSize, cfg.MLPBias)}
	if cfg.MLPHiddenAct == ActSiLU {
		g := in.linear(inter, cfg.HiddenSize, cfg.MLPBias)
		f.gate = &g
	}
	f.down = in.linear(cfg.HiddenSize, inter, cfg.MLPBias)
	return f
}

func (f *ffn) forward(x *tensor.Tensor) *tensor.Tensor {
	h := f.up.forward(x)
	if f.gate != nil {
		g := f.gate.forward(x)
		tensor.SiluMul(h.Data, g.Data, h.Data)
	} else {
		for i, v := range h.Data {
			h.Data[i] = tensor.ReLUSquared(v)
		}
	}
	return f.down.forward(h)
}

func (f *ffn) params() int {
	n := f.up.params() + f.down.params()
	if f.gate != nil {
		n += f.gate.params()
	}
	return n
}

// DenseBlock is a stateless feed-forward layer body.
type DenseBlock struct {
	mlp ffn
}

func newDenseBlock(cfg Config, in *initializer) *DenseBlock {
	return &DenseBlock{mlp: newFFN(cfg, in, cfg.IntermediateSize)}
}

func (d *DenseBlock) NewEntry(cacheOptions) CacheEntry { return nil }

func (d *DenseBlock) Params() int { return d.mlp.params() }

func (d *DenseBlock) Check(entry CacheEntry, _ int) error {
	return checkStateless(BlockDense, entry)
}

func (d *DenseBlock) Forward(x *tensor.Tensor, entry CacheEntry) (*tensor.Tensor, error) {
	if err := d.Check(entry, x.Dim(0)); err != nil {
		return nil, err
	}
	return d.mlp.forward(x), nil
}
