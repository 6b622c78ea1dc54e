package tensor

import (
	"fmt"
	"strings"

	"github.com/x448/float16"
)

// DType is the element encoding used for stored activations.
type DType uint8

const (
	F32 DType = iota
	F16
)

func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case F16:
		return "f16"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// Size is the number of bytes per element.
func (d DType) Size() int {
	if d == F16 {
		return 2
	}
	return 4
}

// ParseDType accepts "f32"/"float32" and "f16"/"float16".
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "f32", "float32":
		return F32, nil
	case "f16", "float16", "half":
		return F16, nil
	default:
		return F32, fmt.Errorf("unsupported dtype %q (want f32 or f16)", s)
	}
}

// EncodeF16 converts src to IEEE half precision, appending to dst.
func EncodeF16(dst []float16.Float16, src []float32) []float16.Float16 {
	for _, v := range src {
		dst = append(dst, float16.Fromfloat32(v))
	}
	return dst
}

// DecodeF16 converts src to float32 into dst, which must be at least as long.
func DecodeF16(dst []float32, src []float16.Float16) {
	if len(dst) < len(src) {
		panic("decode f16: destination too small")
	}
	for i, h := range src {
		dst[i] = h.Float32()
	}
}
