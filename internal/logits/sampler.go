package logits

import (
	"math"
	"math/rand"

	"github.com/samcharles93/hybridlm/internal/tensor"
)

// SamplerConfig configures a Sampler. Temperature <= 0 selects greedy
// decoding.
type SamplerConfig struct {
	Seed          int64   `yaml:"seed" json:"seed"`
	Temperature   float32 `yaml:"temperature" json:"temperature"`
	TopK          int     `yaml:"top_k" json:"top_k"`
	TopP          float32 `yaml:"top_p" json:"top_p"`
	MinP          float32 `yaml:"min_p" json:"min_p"`
	RepeatPenalty float32 `yaml:"repeat_penalty" json:"repeat_penalty"`
	RepeatLastN   int     `yaml:"repeat_last_n" json:"repeat_last_n"`
}

// Sampler picks the next token from a logits row. It is not safe for
// concurrent use.
type Sampler struct {
	rng    *rand.Rand
	cfg    SamplerConfig
	greedy bool

	scaled []float32
	idx    []int
	best   []float32
	prob   []float64
	seen   map[int]struct{}
}

// NewSampler fills unset fields with defaults and returns a Sampler.
func NewSampler(cfg SamplerConfig) *Sampler {
	greedy := cfg.Temperature <= 0
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 40
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	if cfg.RepeatPenalty <= 0 {
		cfg.RepeatPenalty = 1
	}
	if cfg.RepeatLastN <= 0 {
		cfg.RepeatLastN = 64
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: greedy,
		seen:   make(map[int]struct{}),
	}
}

// Greedy reports whether the sampler always returns the argmax.
func (s *Sampler) Greedy() bool {
	return s.greedy || (s.cfg.TopK == 1 && s.cfg.RepeatPenalty <= 1)
}

// Sample returns a token id drawn from logits. recent holds previously
// emitted ids for the repetition penalty. logits is not modified.
//
// Order of operations: repetition penalty, temperature, top-k, softmax,
// min-p, top-p, then a draw from what is left.
func (s *Sampler) Sample(logits []float32, recent []int) int {
	if cap(s.scaled) < len(logits) {
		s.scaled = make([]float32, len(logits))
	}
	scaled := s.scaled[:len(logits)]
	copy(scaled, logits)
	s.penalize(scaled, recent)

	if s.greedy || s.cfg.TopK == 1 {
		return tensor.Argmax(scaled)
	}

	inv := 1 / s.cfg.Temperature
	for i := range scaled {
		scaled[i] *= inv
	}

	k := min(s.cfg.TopK, len(scaled))
	if cap(s.idx) < k {
		s.idx = make([]int, k)
		s.best = make([]float32, k)
		s.prob = make([]float64, k)
	}
	idx := s.idx[:k]
	tensor.TopK(scaled, k, idx, s.best[:k])

	prob := s.prob[:k]
	maxv := float64(scaled[idx[0]])
	var sum float64
	for i, id := range idx {
		prob[i] = math.Exp(float64(scaled[id]) - maxv)
		sum += prob[i]
	}
	for i := range prob {
		prob[i] /= sum
	}

	n := k
	if s.cfg.MinP > 0 {
		floor := prob[0] * float64(s.cfg.MinP)
		for n > 1 && prob[n-1] < floor {
			n--
		}
	}
	if s.cfg.TopP < 1 {
		var c float64
		for i := range n {
			c += prob[i]
			if c >= float64(s.cfg.TopP) {
				n = i + 1
				break
			}
		}
	}

	var total float64
	for _, p := range prob[:n] {
		total += p
	}
	r := s.rng.Float64() * total
	var c float64
	for i := range n {
		c += prob[i]
		if r < c {
			return idx[i]
		}
	}
	return idx[n-1]
}

func (s *Sampler) penalize(logits []float32, recent []int) {
	if s.cfg.RepeatPenalty <= 1 || len(recent) == 0 {
		return
	}
	clear(s.seen)
	window := recent[max(len(recent)-s.cfg.RepeatLastN, 0):]
	for _, id := range window {
		if id < 0 || id >= len(logits) {
			continue
		}
		if _, dup := s.seen[id]; dup {
			continue
		}
		s.seen[id] = struct{}{}
		if logits[id] > 0 {
			logits[id] /= s.cfg.RepeatPenalty
		} else {
			logits[id] *= s.cfg.RepeatPenalty
		}
	}
}
