// Package tensor holds the host-resident numeric buffers that operands are synthesized into
// and that backends read results back into.
package tensor

import (
	"fmt"
	"math"
	"strings"

	"github.com/x448/float16"
)

// Kind is the element kind of a buffer.
type Kind int

const (
	Invalid Kind = iota
	Float16
	Float32
	Float64
	Int8
	Uint8
	Int32
	Int64
)

var kindNames = map[Kind]string{
	Float16: "float16",
	Float32: "float32",
	Float64: "float64",
	Int8:    "int8",
	Uint8:   "uint8",
	Int32:   "int32",
	Int64:   "int64",
}

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "invalid"
}

// ParseKind accepts the canonical names plus the usual short aliases (f32, half, int, ...).
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float16", "f16", "half", "fp16":
		return Float16, nil
	case "float32", "f32", "float", "fp32":
		return Float32, nil
	case "float64", "f64", "double":
		return Float64, nil
	case "int8", "i8":
		return Int8, nil
	case "uint8", "u8":
		return Uint8, nil
	case "int32", "i32", "int":
		return Int32, nil
	case "int64", "i64", "long":
		return Int64, nil
	}
	return Invalid, fmt.Errorf("unknown element kind %q", s)
}

// IsFloat reports whether k is a floating-point kind.
func (k Kind) IsFloat() bool {
	return k == Float16 || k == Float32 || k == Float64
}

// Size returns the byte width of one element.
func (k Kind) Size() int {
	switch k {
	case Int8, Uint8:
		return 1
	case Float16:
		return 2
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	default:
		return 0
	}
}

// Round converts v to the nearest value representable in k, the way a cast to k would.
// Integer kinds truncate toward zero and wrap on overflow.
func (k Kind) Round(v float64) float64 {
	switch k {
	case Float16:
		return float64(float16.Fromfloat32(float32(v)).Float32())
	case Float32:
		return float64(float32(v))
	case Float64:
		return v
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	t := math.Trunc(v)
	switch k {
	case Int8:
		return float64(int8(int64(t)))
	case Uint8:
		return float64(uint8(int64(t)))
	case Int32:
		return float64(int32(int64(t)))
	case Int64:
		return float64(int64(t))
	}
	return v
}

// Promote returns the kind that mixes of a and b compute in.
func Promote(a, b Kind) Kind {
	if a == b {
		return a
	}
	if a.IsFloat() != b.IsFloat() {
		if a.IsFloat() {
			return a
		}
		return b
	}
	if a.Size() >= b.Size() {
		return a
	}
	return b
}
