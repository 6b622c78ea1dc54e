package model

import (
	"errors"

	"github.com/samcharles93/hybridlm/internal/tensor"
)

// Layer is one pre-norm residual block: x + block(rmsnorm(x)).
type Layer struct {
	Index int
	Type  BlockType
	Block Block

	norm []float32
	eps  float32
}

// Forward runs the layer. entry is handed to the block unchanged.
func (l *Layer) Forward(x *tensor.Tensor, entry CacheEntry) (*tensor.Tensor, error) {
	h := tensor.New(x.Shape...)
	tensor.RMSNormRows(h, x, l.norm, l.eps)
	out, err := l.Block.Forward(h, entry)
	if err != nil {
		return nil, l.annotate(err)
	}
	tensor.Add(out.Data, x.Data)
	return out, nil
}

// Check validates entry for this layer without touching it.
func (l *Layer) Check(entry CacheEntry, batch int) error {
	return l.annotate(l.Block.Check(entry, batch))
}

// annotate stamps shape errors raised by the block with the layer index.
func (l *Layer) annotate(err error) error {
	var se *ShapeError
	if errors.As(err, &se) && se.Layer < 0 {
		return &ShapeError{Layer: l.Index, Reason: se.Reason}
	}
	return err
}
