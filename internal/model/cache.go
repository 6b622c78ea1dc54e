package model

import (
	"github.com/x448/float16"

	"github.com/samcharles93/hybridlm/internal/tensor"
)

// CacheEntry is the per-layer state threaded through Forward. The only
// implementations are *SSMState and *KVState; stateless layers use nil.
type CacheEntry interface {
	// Kind is the block type the entry belongs to.
	Kind() BlockType
	// Reset returns the entry to its freshly created state.
	Reset()
	// Bytes is the memory currently held by the entry.
	Bytes() int
	cacheEntry()
}

// Cache holds one slot per layer. It is owned by a single session and is
// mutated in place by every Forward call it is passed to.
type Cache []CacheEntry

// Stateful counts the non-nil slots.
func (c Cache) Stateful() int {
	n := 0
	for _, e := range c {
		if e != nil {
			n++
		}
	}
	return n
}

// Bytes sums the memory of every slot.
func (c Cache) Bytes() int {
	n := 0
	for _, e := range c {
		if e != nil {
			n += e.Bytes()
		}
	}
	return n
}

// Reset resets every slot.
func (c Cache) Reset() {
	for _, e := range c {
		if e != nil {
			e.Reset()
		}
	}
}

// Len is the number of positions held by the first attention slot, or 0
// when the cache has none.
func (c Cache) Len() int {
	for _, e := range c {
		if kv, ok := e.(*KVState); ok {
			return kv.Len()
		}
	}
	return 0
}

type cacheOptions struct {
	kvCapacity int
	kvDType    tensor.DType
	batch      int
}

// CacheOption tunes NewCache.
type CacheOption func(*cacheOptions)

// WithKVCapacity reserves room for n positions per batch row in every
// attention slot.
func WithKVCapacity(n int) CacheOption {
	return func(o *cacheOptions) {
		if n > 0 {
			o.kvCapacity = n
		}
	}
}

// WithKVDType selects the storage type of attention history.
func WithKVDType(d tensor.DType) CacheOption {
	return func(o *cacheOptions) { o.kvDType = d }
}

// WithBatch allocates SSM state for n batch rows up front instead of on the
// first Forward.
func WithBatch(n int) CacheOption {
	return func(o *cacheOptions) {
		if n > 0 {
			o.batch = n
		}
	}
}

// SSMState is the fixed-size state of a Mamba layer: the last convKernel-1
// rows of convolution input and the recurrent state of every head.
//
// The batch size is bound on first use. Later calls must use the same batch.
type SSMState struct {
	batch     int
	convLen   int
	convDim   int
	heads     int
	headDim   int
	stateSize int

	conv []float32 // [batch, convLen, convDim]
	ssm  []float32 // [batch, heads, headDim, stateSize]
}

func newSSMState(convLen, convDim, heads, headDim, stateSize, batch int) *SSMState {
	s := &SSMState{
		convLen:   convLen,
		convDim:   convDim,
		heads:     heads,
		headDim:   headDim,
		stateSize: stateSize,
	}
	if batch > 0 {
		s.bind(batch)
	}
	return s
}

func (*SSMState) Kind() BlockType { return BlockMamba }
func (*SSMState) cacheEntry()     {}

// Batch is the bound batch size, 0 before the first Forward.
func (s *SSMState) Batch() int { return s.batch }

func (s *SSMState) bind(batch int) {
	s.batch = batch
	s.conv = make([]float32, batch*s.convLen*s.convDim)
	s.ssm = make([]float32, batch*s.heads*s.headDim*s.stateSize)
}

func (s *SSMState) Reset() {
	s.batch = 0
	s.conv = nil
	s.ssm = nil
}

func (s *SSMState) Bytes() int {
	return 4 * (len(s.conv) + len(s.ssm))
}

// Conv returns the convolution history as [batch, convKernel-1, convDim],
// or nil before the state is bound.
func (s *SSMState) Conv() *tensor.Tensor {
	if s.batch == 0 {
		return nil
	}
	return tensor.FromData(s.conv, s.batch, s.convLen, s.convDim)
}

// SSM returns the recurrent state as [batch, heads, headDim, stateSize], or
// nil before the state is bound.
func (s *SSMState) SSM() *tensor.Tensor {
	if s.batch == 0 {
		return nil
	}
	return tensor.FromData(s.ssm, s.batch, s.heads, s.headDim, s.stateSize)
}

func (s *SSMState) convRow(b int) []float32 {
	n := s.convLen * s.convDim
	return s.conv[b*n : (b+1)*n]
}

func (s *SSMState) stateRow(b int) []float32 {
	n := s.heads * s.headDim * s.stateSize
	return s.ssm[b*n : (b+1)*n]
}

// KVState is the growing key/value history of an attention layer. Rows are
// kvHeads*headDim wide and stored per batch row in position order.
type KVState struct {
	kvHeads  int
	headDim  int
	dtype    tensor.DType
	capacity int

	batch  int
	length int
	k, v   [][]float32
	k16    [][]float16.Float16
	v16    [][]float16.Float16
}

func newKVState(kvHeads, headDim int, dtype tensor.DType, capacity int) *KVState {
	return &KVState{kvHeads: kvHeads, headDim: headDim, dtype: dtype, capacity: capacity}
}

func (*KVState) Kind() BlockType { return BlockAttention }
func (*KVState) cacheEntry()     {}

// Len is the number of stored positions.
func (s *KVState) Len() int { return s.length }

// Batch is the bound batch size, 0 while empty.
func (s *KVState) Batch() int { return s.batch }

// DType is the storage type of the history.
func (s *KVState) DType() tensor.DType { return s.dtype }

func (s *KVState) width() int { return s.kvHeads * s.headDim }

func (s *KVState) Reset() {
	s.batch = 0
	s.length = 0
	s.k, s.v, s.k16, s.v16 = nil, nil, nil, nil
}

func (s *KVState) Bytes() int {
	n := 0
	for b := range s.k {
		n += 4 * (len(s.k[b]) + len(s.v[b]))
	}
	for b := range s.k16 {
		n += 2 * (len(s.k16[b]) + len(s.v16[b]))
	}
	return n
}

func (s *KVState) bind(batch int) {
	s.batch = batch
	reserve := s.capacity * s.width()
	if s.dtype == tensor.F16 {
		s.k16 = make([][]float16.Float16, batch)
		s.v16 = make([][]float16.Float16, batch)
		for b := range batch {
			s.k16[b] = make([]float16.Float16, 0, reserve)
			s.v16[b] = make([]float16.Float16, 0, reserve)
		}
		return
	}
	s.k = make([][]float32, batch)
	s.v = make([][]float32, batch)
	for b := range batch {
		s.k[b] = make([]float32, 0, reserve)
		s.v[b] = make([]float32, 0, reserve)
	}
}

// append stores new positions. k and v are [batch, seq, kvHeads*headDim].
func (s *KVState) append(k, v *tensor.Tensor) {
	batch, seq := k.Dim(0), k.Dim(1)
	if s.batch == 0 {
		s.bind(batch)
	}
	n := seq * s.width()
	for b := range batch {
		kb := k.Data[b*n : (b+1)*n]
		vb := v.Data[b*n : (b+1)*n]
		if s.dtype == tensor.F16 {
			s.k16[b] = tensor.EncodeF16(s.k16[b], kb)
			s.v16[b] = tensor.EncodeF16(s.v16[b], vb)
			continue
		}
		s.k[b] = append(s.k[b], kb...)
		s.v[b] = append(s.v[b], vb...)
	}
	s.length += seq
}

// history returns all stored keys and values of batch row b as
// [Len, kvHeads*headDim] row-major slices. f16 history is decoded into
// fresh buffers; f32 history is returned without copying.
func (s *KVState) history(b int) ([]float32, []float32) {
	if s.dtype != tensor.F16 {
		return s.k[b], s.v[b]
	}
	k := make([]float32, len(s.k16[b]))
	v := make([]float32, len(s.v16[b]))
	tensor.DecodeF16(k, s.k16[b])
	tensor.DecodeF16(v, s.v16[b])
	return k, v
}
