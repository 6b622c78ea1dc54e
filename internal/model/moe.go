package model

import (
	"math"

	"github.com/samcharles93/hybridlm/internal/tensor"
)

// MoEBlock routes each token to a few of many expert FFNs and always adds a
// shared expert.
type MoEBlock struct {
	experts    int
	topK       int
	groups     int
	topKGroups int
	normalize  bool
	routeScale float32

	router linear    // hidden -> experts, no bias
	bias   []float32 // selection-only correction bias [experts]
	routed []ffn
	shared ffn
}

func newMoEBlock(cfg Config, in *initializer) *MoEBlock {
	m := &MoEBlock{
		experts:    cfg.NRoutedExperts,
		topK:       cfg.NumExpertsPerTok,
		groups:     cfg.NGroup,
		topKGroups: cfg.TopKGroup,
		normalize:  cfg.NormTopKProb,
		routeScale: float32(cfg.RoutedScalingFactor),
	}
	m.router = in.linear(cfg.NRoutedExperts, cfg.HiddenSize, false)
	m.bias = make([]float32, cfg.NRoutedExperts)
	m.routed = make([]ffn, cfg.NRoutedExperts)
	for e := range m.routed {
		m.routed[e] = newFFN(cfg, in, cfg.MoEIntermediateSize)
	}
	m.shared = newFFN(cfg, in, cfg.MoESharedExpertIntermediateSize)
	return m
}

func (m *MoEBlock) NewEntry(cacheOptions) CacheEntry { return nil }

func (m *MoEBlock) Params() int {
	n := m.router.params() + len(m.bias) + m.shared.params()
	for e := range m.routed {
		n += m.routed[e].params()
	}
	return n
}

func (m *MoEBlock) Check(entry CacheEntry, _ int) error {
	return checkStateless(BlockMoE, entry)
}

func (m *MoEBlock) Forward(x *tensor.Tensor, entry CacheEntry) (*tensor.Tensor, error) {
	if err := m.Check(entry, x.Dim(0)); err != nil {
		return nil, err
	}
	rows := x.Rows()
	hidden := x.Cols()
	logits := m.router.forward(x)

	// Per expert: the rows routed to it and their weights.
	assigned := make([][]int, m.experts)
	weights := make([][]float32, m.experts)
	r := newRouter(m)
	for row := range rows {
		idx, w := r.route(logits.Row(row))
		for i, e := range idx {
			assigned[e] = append(assigned[e], row)
			weights[e] = append(weights[e], w[i])
		}
	}

	out := m.shared.forward(x)
	routed := tensor.New(rows, hidden)
	for e, list := range assigned {
		if len(list) == 0 {
			continue
		}
		in := tensor.New(len(list), hidden)
		for i, row := range list {
			copy(in.Row(i), x.Row(row))
		}
		res := m.routed[e].forward(in)
		for i, row := range list {
			tensor.AddScaled(routed.Row(row), weights[e][i], res.Row(i))
		}
	}
	tensor.Add(out.Data, routed.Data)
	return out, nil
}

// router holds scratch space for per-token expert selection.
type router struct {
	m         *MoEBlock
	probs     []float32
	selection []float32
	groupBest []float32
	groupIdx  []int
	idx       []int
	weights   []float32
	best      []float32
}

func newRouter(m *MoEBlock) *router {
	return &router{
		m:         m,
		probs:     make([]float32, m.experts),
		selection: make([]float32, m.experts),
		groupBest: make([]float32, m.groups),
		groupIdx:  make([]int, m.groups),
		idx:       make([]int, m.topK),
		weights:   make([]float32, m.topK),
		best:      make([]float32, max(m.topK, m.groups, 2)),
	}
}

// route picks the experts for one token from its router logits. The
// returned slices are reused by the next call.
func (r *router) route(logits []float32) ([]int, []float32) {
	m := r.m
	for e, v := range logits {
		r.probs[e] = tensor.Sigmoid(v)
		r.selection[e] = r.probs[e] + m.bias[e]
	}
	if m.groups > 1 && m.topKGroups < m.groups {
		r.maskGroups()
	}
	tensor.TopK(r.selection, m.topK, r.idx, r.best)

	var sum float32
	for i, e := range r.idx {
		r.weights[i] = r.probs[e]
		sum += r.weights[i]
	}
	for i := range r.weights {
		if m.normalize {
			r.weights[i] /= sum + 1e-20
		}
		r.weights[i] *= m.routeScale
	}
	return r.idx, r.weights
}

// maskGroups keeps the topKGroups expert groups whose two best selection
// scores sum highest and sets every other expert to -Inf.
func (r *router) maskGroups() {
	m := r.m
	size := m.experts / m.groups
	pick := min(2, size)
	top := make([]int, pick)
	for g := range m.groups {
		seg := r.selection[g*size : (g+1)*size]
		tensor.TopK(seg, pick, top, r.best)
		var s float32
		for _, i := range top {
			s += seg[i]
		}
		r.groupBest[g] = s
	}
	tensor.TopK(r.groupBest, m.topKGroups, r.groupIdx, r.best)
	keep := make([]bool, m.groups)
	for _, g := range r.groupIdx[:m.topKGroups] {
		keep[g] = true
	}
	negInf := float32(math.Inf(-1))
	for g, ok := range keep {
		if ok {
			continue
		}
		for e := g * size; e < (g+1)*size; e++ {
			r.selection[e] = negInf
		}
	}
}
