package tensor

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTensorRowsAndAt(t *testing.T) {
	x := New(2, 3, 4)
	for i := range x.Data {
		x.Data[i] = float32(i)
	}
	if x.Rows() != 6 || x.Cols() != 4 {
		t.Fatalf("rows/cols = %d/%d", x.Rows(), x.Cols())
	}
	if got := x.At(1, 2)[0]; got != 20 {
		t.Fatalf("At(1,2)[0] = %v, want 20", got)
	}
	if x.Dim(-1) != 4 {
		t.Fatalf("Dim(-1) = %d", x.Dim(-1))
	}
}

func TestSliceSeq(t *testing.T) {
	x := New(2, 3, 1)
	for i := range x.Data {
		x.Data[i] = float32(i)
	}
	got := x.SliceSeq(1, 3)
	if diff := cmp.Diff([]int{2, 2, 1}, got.Shape); diff != "" {
		t.Fatalf("shape (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{1, 2, 4, 5}, got.Data); diff != "" {
		t.Fatalf("data (-want +got):\n%s", diff)
	}
}

func TestFromDataPanicsOnMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	FromData(make([]float32, 5), 2, 3)
}

func TestReshapeSharesData(t *testing.T) {
	x := New(2, 3)
	y := x.Reshape(3, 2)
	y.Data[0] = 7
	if x.Data[0] != 7 {
		t.Fatal("reshape must share storage")
	}
}

func TestParallelForVisitsAll(t *testing.T) {
	var n atomic.Int64
	seen := make([]bool, 37)
	err := ParallelFor(len(seen), func(i int) error {
		seen[i] = true
		n.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("ParallelFor: %v", err)
	}
	if n.Load() != 37 {
		t.Fatalf("ran %d tasks", n.Load())
	}
	for i, ok := range seen {
		if !ok {
			t.Fatalf("task %d not run", i)
		}
	}
}

func TestParallelForReturnsError(t *testing.T) {
	boom := errors.New("boom")
	err := ParallelFor(8, func(i int) error {
		if i == 3 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestF16RoundTrip(t *testing.T) {
	src := []float32{0, 1, -2.5, 0.333333}
	enc := EncodeF16(nil, src)
	dst := make([]float32, len(src))
	DecodeF16(dst, enc)
	if d := MaxAbsDiff(src, dst); d > 1e-3 {
		t.Fatalf("f16 round trip diff %g", d)
	}
}

func TestParseDType(t *testing.T) {
	for in, want := range map[string]DType{"": F32, "f32": F32, "F16": F16, "float16": F16} {
		got, err := ParseDType(in)
		if err != nil || got != want {
			t.Fatalf("ParseDType(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseDType("bf16"); err == nil {
		t.Fatal("expected error for bf16")
	}
}
