package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Linear computes dst = x·Wᵀ + bias for every row of x.
//
// w is stored as [out, in] (the Hugging Face layout), x has Cols() == w.C and
// dst has Cols() == w.R with the same number of rows as x. bias may be nil.
func Linear(dst, x *Tensor, w *Mat, bias []float32) {
	rows := x.Rows()
	if x.Cols() != w.C {
		panic(fmt.Sprintf("linear: input width %d does not match weight columns %d", x.Cols(), w.C))
	}
	if dst.Cols() != w.R || dst.Rows() != rows {
		panic(fmt.Sprintf("linear: output %v does not match [%d, %d]", dst.Shape, rows, w.R))
	}
	if rows == 0 || w.R == 0 {
		return
	}
	a := blas32.General{Rows: rows, Cols: w.C, Stride: w.C, Data: x.Data}
	b := blas32.General{Rows: w.R, Cols: w.C, Stride: w.Stride, Data: w.Data}
	c := blas32.General{Rows: rows, Cols: w.R, Stride: w.R, Data: dst.Data}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1, a, b, 0, c)
	if len(bias) == w.R {
		for r := range rows {
			Add(dst.Row(r), bias)
		}
	}
}
