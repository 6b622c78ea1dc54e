package tensor

import "fmt"

// Tensor is a dense row-major float32 array with an explicit shape.
//
// The last dimension is the contiguous one. Most kernels in this package treat
// a Tensor as a stack of rows over that last dimension, so a [batch, seq, dim]
// activation is seen as batch*seq rows of length dim.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zeroed tensor with the given shape.
func New(shape ...int) *Tensor {
	n := numel(shape)
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, n),
	}
}

// FromData wraps data in a tensor. It panics if the element count does not
// match the shape.
func FromData(data []float32, shape ...int) *Tensor {
	if numel(shape) != len(data) {
		panic(fmt.Sprintf("tensor: data length %d does not match shape %v", len(data), shape))
	}
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  data,
	}
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic("tensor: negative dimension")
		}
		n *= d
	}
	return n
}

// Dim returns the size of dimension i. Negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

// Len returns the total number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Cols is the size of the last dimension.
func (t *Tensor) Cols() int {
	if len(t.Shape) == 0 {
		return 1
	}
	return t.Shape[len(t.Shape)-1]
}

// Rows is the number of rows over the last dimension.
func (t *Tensor) Rows() int {
	c := t.Cols()
	if c == 0 {
		return 0
	}
	return len(t.Data) / c
}

// Row returns a view of row i over the last dimension.
func (t *Tensor) Row(i int) []float32 {
	c := t.Cols()
	return t.Data[i*c : (i+1)*c]
}

// At returns the row at (b, s) of a rank-3 tensor.
func (t *Tensor) At(b, s int) []float32 {
	if len(t.Shape) != 3 {
		panic("tensor: At requires a rank-3 tensor")
	}
	return t.Row(b*t.Shape[1] + s)
}

// Reshape returns a view with a new shape sharing the same data.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	return FromData(t.Data, shape...)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := New(t.Shape...)
	copy(out.Data, t.Data)
	return out
}

// SliceSeq copies positions [start, end) of the middle axis of a rank-3
// tensor into a new tensor.
func (t *Tensor) SliceSeq(start, end int) *Tensor {
	if len(t.Shape) != 3 {
		panic("tensor: SliceSeq requires a rank-3 tensor")
	}
	batch, seq, cols := t.Shape[0], t.Shape[1], t.Shape[2]
	if start < 0 || end > seq || start > end {
		panic(fmt.Sprintf("tensor: SliceSeq [%d:%d] out of range for length %d", start, end, seq))
	}
	out := New(batch, end-start, cols)
	for b := range batch {
		src := t.Data[(b*seq+start)*cols : (b*seq+end)*cols]
		copy(out.Data[b*(end-start)*cols:], src)
	}
	return out
}

// AsMat views the tensor as a Rows x Cols matrix sharing data.
func (t *Tensor) AsMat() Mat {
	return Mat{R: t.Rows(), C: t.Cols(), Stride: t.Cols(), Data: t.Data}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.Shape)
}
