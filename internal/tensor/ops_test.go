package tensor

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestRMSNorm(t *testing.T) {
	src := []float32{3, 4}
	dst := make([]float32, 2)
	RMSNorm(dst, src, []float32{1, 2}, 0)
	// rms = sqrt((9+16)/2)
	rms := float32(math.Sqrt(12.5))
	want := []float32{3 / rms, 2 * 4 / rms}
	if diff := cmp.Diff(want, dst, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Fatalf("rmsnorm mismatch (-want +got):\n%s", diff)
	}
}

func TestSoftmax(t *testing.T) {
	x := []float32{1, 2, 3}
	Softmax(x)
	var sum float32
	for _, v := range x {
		sum += v
	}
	if math.Abs(float64(sum-1)) > 1e-6 {
		t.Fatalf("softmax does not sum to one: %v", x)
	}
	if !(x[0] < x[1] && x[1] < x[2]) {
		t.Fatalf("softmax not monotonic: %v", x)
	}
}

func TestSoftmaxMaskedEntries(t *testing.T) {
	x := []float32{0, float32(math.Inf(-1)), 0}
	Softmax(x)
	want := []float32{0.5, 0, 0.5}
	if diff := cmp.Diff(want, x, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Fatalf("masked softmax (-want +got):\n%s", diff)
	}
}

func TestActivations(t *testing.T) {
	tests := []struct {
		name string
		fn   func(float32) float32
		in   float32
		want float32
	}{
		{"sigmoid-zero", Sigmoid, 0, 0.5},
		{"silu-zero", Silu, 0, 0},
		{"softplus-zero", Softplus, 0, float32(math.Ln2)},
		{"softplus-large", Softplus, 30, 30},
		{"relu2-negative", ReLUSquared, -2, 0},
		{"relu2-positive", ReLUSquared, 3, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn(tt.in)
			if math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Fatalf("got %f want %f", got, tt.want)
			}
		})
	}
}

func TestArgmaxTiesKeepLowestIndex(t *testing.T) {
	if got := Argmax([]float32{1, 5, 5, 2}); got != 1 {
		t.Fatalf("argmax = %d, want 1", got)
	}
}
