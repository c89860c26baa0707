package parity

import (
	"maps"
	"math"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Tolerance accepts |a-b| <= Atol + Rtol*|reference|.
type Tolerance struct {
	Atol float64 `mapstructure:"atol" json:"atol" cbor:"atol"`
	Rtol float64 `mapstructure:"rtol" json:"rtol" cbor:"rtol"`
}

// Allows reports whether candidate is close enough to reference. A NaN or infinity on either
// side is only matched by the identical value; NaN never equals NaN here.
func (t Tolerance) Allows(reference, candidate float64) bool {
	if nonFinite(reference) || nonFinite(candidate) {
		return reference == candidate
	}
	return math.Abs(reference-candidate) <= t.Atol+t.Rtol*math.Abs(reference)
}

func nonFinite(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }

// ToleranceSpec holds one Tolerance per element kind. Integer kinds default to exact equality.
type ToleranceSpec map[tensor.Kind]Tolerance

// DefaultTolerance is used for forward outputs.
func DefaultTolerance() ToleranceSpec {
	return ToleranceSpec{
		tensor.Float16: {Atol: 1e-3, Rtol: 1e-3},
		tensor.Float32: {Atol: 1e-4, Rtol: 1e-4},
		tensor.Float64: {Atol: 1e-6, Rtol: 1e-6},
	}
}

// DefaultGradTolerance is used for gradients. It starts equal to DefaultTolerance and is kept
// separate so suites can loosen gradients without touching forward outputs.
func DefaultGradTolerance() ToleranceSpec {
	return DefaultTolerance()
}

// UniformTolerance applies the same bound to every float kind.
func UniformTolerance(atol, rtol float64) ToleranceSpec {
	t := Tolerance{Atol: atol, Rtol: rtol}
	return ToleranceSpec{tensor.Float16: t, tensor.Float32: t, tensor.Float64: t}
}

// For returns the bound for kind. Float kinds missing from s fall back to the float32
// entry; integer kinds fall back to exact equality.
func (s ToleranceSpec) For(kind tensor.Kind) Tolerance {
	if t, ok := s[kind]; ok {
		return t
	}
	if kind.IsFloat() {
		if t, ok := s[tensor.Float32]; ok {
			return t
		}
		return DefaultTolerance()[kind]
	}
	return Tolerance{}
}

// With returns a copy of s with kind bound to t.
func (s ToleranceSpec) With(kind tensor.Kind, t Tolerance) ToleranceSpec {
	out := maps.Clone(s)
	if out == nil {
		out = ToleranceSpec{}
	}
	out[kind] = t
	return out
}

// Merge returns a copy of s overridden by every entry of other.
func (s ToleranceSpec) Merge(other ToleranceSpec) ToleranceSpec {
	out := maps.Clone(s)
	if out == nil {
		out = ToleranceSpec{}
	}
	maps.Copy(out, other)
	return out
}
