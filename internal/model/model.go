package model

import (
	"fmt"
	"log/slog"

	"github.com/samcharles93/hybridlm/internal/logger"
	"github.com/samcharles93/hybridlm/internal/tensor"
)

// Model is a hybrid stack of Mamba, attention, dense and MoE layers over a
// token embedding. It is read-only after New; all mutable state lives in
// the Cache passed to Forward.
type Model struct {
	cfg     Config
	pattern Pattern
	layers  []Layer
	kvHeads []int

	embed  tensor.Mat // [vocab, hidden]
	normF  []float32
	lmHead *tensor.Mat // aliases embed when tied

	log logger.Logger
}

type options struct {
	seed int64
	log  logger.Logger
}

// Option configures New.
type Option func(*options)

// WithSeed sets the seed weights are drawn from.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// WithLogger sets the logger used for construction and cache events.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// New validates cfg and builds a model with seeded weights. Any
// configuration problem is returned as a *ConfigError and no model is built.
func New(cfg Config, opts ...Option) (*Model, error) {
	o := options{seed: 1, log: logger.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pattern, err := ParsePattern(cfg.HybridOverridePattern, cfg.NumHiddenLayers)
	if err != nil {
		return nil, err
	}

	in := newInitializer(o.seed, cfg.InitializerRange)
	m := &Model{
		cfg:     cfg,
		pattern: pattern,
		layers:  make([]Layer, len(pattern)),
		kvHeads: make([]int, len(pattern)),
		log:     o.log,
	}
	m.embed = tensor.NewMat(cfg.VocabSize, cfg.HiddenSize)
	tensor.FillNormal(m.embed.Data, in.rng, in.std)

	for i, bt := range pattern {
		var block Block
		switch bt {
		case BlockMamba:
			block = newMambaBlock(cfg, in)
		case BlockAttention:
			block = newAttentionBlock(cfg, in)
		case BlockDense:
			block = newDenseBlock(cfg, in)
		case BlockMoE:
			block = newMoEBlock(cfg, in)
		}
		m.layers[i] = Layer{
			Index: i,
			Type:  bt,
			Block: block,
			norm:  ones(cfg.HiddenSize),
			eps:   float32(cfg.LayerNormEpsilon),
		}
		if bt != BlockMamba {
			m.kvHeads[i] = cfg.NumKeyValueHeads
		}
	}

	m.normF = ones(cfg.HiddenSize)
	if cfg.TieWordEmbeddings {
		m.lmHead = &m.embed
	} else {
		head := tensor.NewMat(cfg.VocabSize, cfg.HiddenSize)
		tensor.FillNormal(head.Data, in.rng, in.std)
		m.lmHead = &head
	}

	if !m.log.Enabled(slog.LevelDebug) {
		return m, nil
	}
	m.log.Debug("model built",
		"pattern", pattern.String(),
		"layers", len(pattern),
		"mamba", pattern.Count(BlockMamba),
		"attention", pattern.Count(BlockAttention),
		"dense", pattern.Count(BlockDense),
		"moe", pattern.Count(BlockMoE),
		"params", m.Params(),
	)
	return m, nil
}

// Config returns the configuration the model was built from.
func (m *Model) Config() Config { return m.cfg }

// Pattern returns the per-layer block types.
func (m *Model) Pattern() Pattern { return append(Pattern(nil), m.pattern...) }

// Layers exposes the layer stack for inspection.
func (m *Model) Layers() []Layer { return m.layers }

// VocabularySize is the number of logits per position.
func (m *Model) VocabularySize() int { return m.cfg.VocabSize }

// KVHeads reports, per layer, 0 for Mamba layers and the configured
// key/value head count for every other layer, attention or not.
func (m *Model) KVHeads() []int { return append([]int(nil), m.kvHeads...) }

// Params counts learned parameters, counting a tied head once.
func (m *Model) Params() int {
	n := len(m.embed.Data) + len(m.normF)
	if !m.cfg.TieWordEmbeddings {
		n += len(m.lmHead.Data)
	}
	for i := range m.layers {
		n += len(m.layers[i].norm) + m.layers[i].Block.Params()
	}
	return n
}

// NewCache returns one fresh slot per layer: zeroed SSM state for Mamba
// layers, empty KV state for attention layers and nil for the rest.
func (m *Model) NewCache(opts ...CacheOption) Cache {
	var o cacheOptions
	for _, opt := range opts {
		opt(&o)
	}
	c := make(Cache, len(m.layers))
	for i := range m.layers {
		c[i] = m.layers[i].Block.NewEntry(o)
	}
	m.log.Debug("cache created", "slots", c.Stateful(), "kv_dtype", o.kvDType.String(), "kv_capacity", o.kvCapacity)
	return c
}

// Forward computes logits [batch, seq, vocab] for a rectangular batch of
// token ids. A non-nil cache is advanced in place and must hold an entry
// for every Mamba and attention layer; with a nil cache nothing persists
// past the call. Every cache slot is checked before any is
// modified, so a failed call leaves the cache as it was.
func (m *Model) Forward(tokens [][]int, cache Cache) (*tensor.Tensor, error) {
	batch, seq, err := m.checkTokens(tokens)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		if len(cache) != len(m.layers) {
			return nil, shapeErrorf(-1, "cache has %d slots, model has %d layers", len(cache), len(m.layers))
		}
		for i := range m.layers {
			if cache[i] == nil && m.layers[i].Type.Stateful() {
				return nil, shapeErrorf(i, "%s layer needs a cache entry, got none", m.layers[i].Type)
			}
			if err := m.layers[i].Check(cache[i], batch); err != nil {
				return nil, err
			}
		}
	}

	x := m.embedTokens(tokens, batch, seq)
	for i := range m.layers {
		var entry CacheEntry
		if cache != nil {
			entry = cache[i]
		}
		x, err = m.layers[i].Forward(x, entry)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, m.layers[i].Type, err)
		}
	}

	tensor.RMSNormRows(x, x, m.normF, float32(m.cfg.LayerNormEpsilon))
	logits := tensor.New(batch, seq, m.cfg.VocabSize)
	tensor.Linear(logits, x, m.lmHead, nil)
	return logits, nil
}

func (m *Model) checkTokens(tokens [][]int) (int, int, error) {
	if len(tokens) == 0 {
		return 0, 0, inputErrorf("empty batch")
	}
	seq := len(tokens[0])
	if seq == 0 {
		return 0, 0, inputErrorf("empty sequence")
	}
	for b, row := range tokens {
		if len(row) != seq {
			return 0, 0, inputErrorf("row %d has %d tokens, row 0 has %d", b, len(row), seq)
		}
		for s, id := range row {
			if id < 0 || id >= m.cfg.VocabSize {
				return 0, 0, inputErrorf("token %d at [%d, %d] outside vocabulary [0, %d)", id, b, s, m.cfg.VocabSize)
			}
		}
	}
	return len(tokens), seq, nil
}

func (m *Model) embedTokens(tokens [][]int, batch, seq int) *tensor.Tensor {
	x := tensor.New(batch, seq, m.cfg.HiddenSize)
	for b, row := range tokens {
		for s, id := range row {
			m.embed.RowTo(x.At(b, s), id)
		}
	}
	return x
}
