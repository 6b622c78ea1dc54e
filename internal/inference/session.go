package inference

import (
	"fmt"

	"github.com/samcharles93/hybridlm/internal/model"
	"github.com/samcharles93/hybridlm/internal/tensor"
)

// Forwarder is the model surface a Session drives. *model.Model
// implements it.
type Forwarder interface {
	Forward(tokens [][]int, cache model.Cache) (*tensor.Tensor, error)
	NewCache(opts ...model.CacheOption) model.Cache
	VocabularySize() int
}

// Session owns one cache and the tokens it has consumed. A Session is not
// safe for concurrent use.
type Session struct {
	model  Forwarder
	opts   []model.CacheOption
	cache  model.Cache
	tokens [][]int
	last   *tensor.Tensor // logits of the final position, [batch, 1, vocab]
}

// NewSession creates a session with a fresh cache built from opts.
func NewSession(m Forwarder, opts ...model.CacheOption) *Session {
	return &Session{
		model: m,
		opts:  opts,
		cache: m.NewCache(opts...),
	}
}

// Forward feeds a rectangular batch of tokens through the model, advancing
// the cache. The batch size is fixed by the first call. A panic inside the
// model may leave some layers advanced and others not, so the session is
// reset before the error is returned.
func (s *Session) Forward(tokens [][]int) (*tensor.Tensor, error) {
	if s.tokens != nil && len(tokens) != len(s.tokens) {
		return nil, fmt.Errorf("session holds %d rows, got %d: %w", len(s.tokens), len(tokens), model.ErrInput)
	}
	out, panicked, err := safeForward(s.model, tokens, s.cache)
	if panicked {
		s.Reset()
		return nil, fmt.Errorf("%w; session reset", err)
	}
	if err != nil {
		return nil, err
	}
	if s.tokens == nil {
		s.tokens = make([][]int, len(tokens))
	}
	for b, row := range tokens {
		s.tokens[b] = append(s.tokens[b], row...)
	}
	s.last = out.SliceSeq(out.Dim(1)-1, out.Dim(1))
	return out, nil
}

// Step feeds one token per batch row.
func (s *Session) Step(next []int) (*tensor.Tensor, error) {
	rows := make([][]int, len(next))
	for b, id := range next {
		rows[b] = []int{id}
	}
	return s.Forward(rows)
}

// Last returns the final-position logits of batch row b from the most
// recent Forward, or nil before the first call.
func (s *Session) Last(b int) []float32 {
	if s.last == nil || b >= s.last.Dim(0) {
		return nil
	}
	return s.last.At(b, 0)
}

// Reset discards all state and starts over with an empty cache.
func (s *Session) Reset() {
	s.cache.Reset()
	s.tokens = nil
	s.last = nil
}

// Len is the number of positions consumed per batch row.
func (s *Session) Len() int {
	if len(s.tokens) == 0 {
		return 0
	}
	return len(s.tokens[0])
}

// Batch is the number of rows, 0 before the first Forward.
func (s *Session) Batch() int { return len(s.tokens) }

// Tokens returns a copy of the consumed tokens of row b.
func (s *Session) Tokens(b int) []int {
	if b >= len(s.tokens) {
		return nil
	}
	return append([]int(nil), s.tokens[b]...)
}

// Cache exposes the session cache for inspection.
func (s *Session) Cache() model.Cache { return s.cache }

func safeForward(m Forwarder, tokens [][]int, cache model.Cache) (out *tensor.Tensor, panicked bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, panicked, err = nil, true, fmt.Errorf("panic in Forward: %v", rec)
		}
	}()
	out, err = m.Forward(tokens, cache)
	return out, false, err
}
