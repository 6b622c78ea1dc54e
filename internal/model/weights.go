package model

import (
	"math"
	"math/rand"

	"github.com/samcharles93/hybridlm/internal/tensor"
)

// linear is a projection with weights stored as [out, in].
type linear struct {
	W    tensor.Mat
	Bias []float32
}

// forward projects every row of x. The result keeps x's leading
// dimensions and replaces the last one with the output width.
func (l *linear) forward(x *tensor.Tensor) *tensor.Tensor {
	shape := append([]int(nil), x.Shape...)
	shape[len(shape)-1] = l.W.R
	out := tensor.New(shape...)
	tensor.Linear(out, x, &l.W, l.Bias)
	return out
}

func (l *linear) params() int {
	return len(l.W.Data) + len(l.Bias)
}

// initializer hands out seeded parameters. Draw order is fixed by
// construction order, so a seed fully determines the model.
type initializer struct {
	rng *rand.Rand
	std float64
}

func newInitializer(seed int64, std float64) *initializer {
	return &initializer{rng: rand.New(rand.NewSource(seed)), std: std}
}

func (in *initializer) linear(out, inDim int, bias bool) linear {
	l := linear{W: tensor.NewMat(out, inDim)}
	tensor.FillNormal(l.W.Data, in.rng, in.std)
	if bias {
		l.Bias = make([]float32, out)
	}
	return l
}

func (in *initializer) normal(n int) []float32 {
	v := make([]float32, n)
	tensor.FillNormal(v, in.rng, in.std)
	return v
}

func ones(n int) []float32 {
	v := make([]float32, n)
	tensor.Fill(v, 1)
	return v
}

// aLog draws A_log so that A = -exp(A_log) lies in [-16, -1].
func (in *initializer) aLog(n int) []float32 {
	v := make([]float32, n)
	tensor.FillUniform(v, in.rng, 1, 16)
	for i := range v {
		v[i] = float32(math.Log(float64(v[i])))
	}
	return v
}

// dtBias draws the dt bias as softplus⁻¹ of a log-uniform step in
// [0.001, 0.1].
func (in *initializer) dtBias(n int) []float32 {
	const lo, hi = 0.001, 0.1
	v := make([]float32, n)
	for i := range v {
		dt := math.Exp(in.rng.Float64()*(math.Log(hi)-math.Log(lo)) + math.Log(lo))
		v[i] = float32(dt + math.Log(-math.Expm1(-dt)))
	}
	return v
}
