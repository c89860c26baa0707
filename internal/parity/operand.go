package parity

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Rule selects how an operand's values are generated.
type Rule int

const (
	RuleUniform Rule = iota
	RuleNormal
	RuleIntRange
	RuleLiteral
	RuleConstant
)

func (r Rule) String() string {
	switch r {
	case RuleUniform:
		return "uniform"
	case RuleNormal:
		return "normal"
	case RuleIntRange:
		return "int_range"
	case RuleLiteral:
		return "literal"
	case RuleConstant:
		return "constant"
	}
	return fmt.Sprintf("Rule(%d)", int(r))
}

// NoIndex marks an operand that does not index another operand.
const NoIndex = -1

// OperandSpec describes one input tensor of a case.
type OperandSpec struct {
	Name  string
	Shape tensor.Shape
	Kind  tensor.Kind
	Rule  Rule

	// Low and High bound RuleUniform ([Low, High)) and RuleIntRange ([Low, High)).
	// Low is the value of RuleConstant.
	Low, High float64

	// Literal holds the values of RuleLiteral in row-major order.
	Literal []float64

	// Clip, when set, clamps generated values to [ClipLow, ClipHigh].
	Clip              bool
	ClipLow, ClipHigh float64

	// IndexOf is the position of the operand this one indexes, or NoIndex. Values are checked
	// against dimension IndexDim of that operand; with IndexND the trailing dimension holds
	// coordinates into its leading dimensions.
	IndexOf  int
	IndexDim int
	IndexND  bool
}

func Uniform(name string, shape tensor.Shape, kind tensor.Kind, low, high float64) OperandSpec {
	return OperandSpec{Name: name, Shape: shape, Kind: kind, Rule: RuleUniform, Low: low, High: high, IndexOf: NoIndex}
}

func Normal(name string, shape tensor.Shape, kind tensor.Kind) OperandSpec {
	return OperandSpec{Name: name, Shape: shape, Kind: kind, Rule: RuleNormal, IndexOf: NoIndex}
}

func IntRange(name string, shape tensor.Shape, kind tensor.Kind, low, high int) OperandSpec {
	return OperandSpec{Name: name, Shape: shape, Kind: kind, Rule: RuleIntRange, Low: float64(low), High: float64(high), IndexOf: NoIndex}
}

func Literal(name string, shape tensor.Shape, kind tensor.Kind, values ...float64) OperandSpec {
	return OperandSpec{Name: name, Shape: shape, Kind: kind, Rule: RuleLiteral, Literal: values, IndexOf: NoIndex}
}

func Constant(name string, shape tensor.Shape, kind tensor.Kind, value float64) OperandSpec {
	return OperandSpec{Name: name, Shape: shape, Kind: kind, Rule: RuleConstant, Low: value, IndexOf: NoIndex}
}

// Clipped returns s with generated values clamped to [low, high].
func (s OperandSpec) Clipped(low, high float64) OperandSpec {
	s.Clip, s.ClipLow, s.ClipHigh = true, low, high
	return s
}

// Indexes returns s marked as an index along dim of operand pos.
func (s OperandSpec) Indexes(pos, dim int) OperandSpec {
	s.IndexOf, s.IndexDim, s.IndexND = pos, dim, false
	return s
}

// IndexesND returns s marked as a gather_nd style coordinate tensor into operand pos.
func (s OperandSpec) IndexesND(pos int) OperandSpec {
	s.IndexOf, s.IndexND = pos, true
	return s
}

// Synthesize generates the host buffer for spec. The buffer is generated once per case and
// bound unchanged on every backend.
func Synthesize(spec OperandSpec, rng *rand.Rand) (*tensor.Buffer, error) {
	if err := spec.Shape.Validate(); err != nil {
		return nil, &SynthesisError{Operand: spec.Name, Err: err}
	}
	n := spec.Shape.NumElements()
	data := make([]float64, n)
	switch spec.Rule {
	case RuleUniform:
		if spec.High < spec.Low {
			return nil, &SynthesisError{Operand: spec.Name, Err: fmt.Errorf("uniform bounds [%g, %g) are inverted", spec.Low, spec.High)}
		}
		for i := range data {
			data[i] = spec.Low + rng.Float64()*(spec.High-spec.Low)
		}
	case RuleNormal:
		for i := range data {
			data[i] = rng.NormFloat64()
		}
	case RuleIntRange:
		lo, hi := int64(spec.Low), int64(spec.High)
		if hi <= lo {
			if n > 0 {
				return nil, &SynthesisError{Operand: spec.Name, Err: fmt.Errorf("empty integer range [%d, %d)", lo, hi)}
			}
			break
		}
		for i := range data {
			data[i] = float64(lo + rng.Int64N(hi-lo))
		}
	case RuleLiteral:
		if len(spec.Literal) != n {
			return nil, &SynthesisError{Operand: spec.Name, Err: fmt.Errorf("literal has %d values, shape %v needs %d", len(spec.Literal), spec.Shape, n)}
		}
		copy(data, spec.Literal)
	case RuleConstant:
		for i := range data {
			data[i] = spec.Low
		}
	default:
		return nil, &SynthesisError{Operand: spec.Name, Err: fmt.Errorf("unknown rule %v", spec.Rule)}
	}
	if spec.Clip {
		for i, v := range data {
			data[i] = math.Min(math.Max(v, spec.ClipLow), spec.ClipHigh)
		}
	}
	buf, err := tensor.NewBuffer(spec.Shape, spec.Kind, data)
	if err != nil {
		return nil, &SynthesisError{Operand: spec.Name, Err: err}
	}
	return buf, nil
}

// SynthesizeAll generates every operand of a case in order and checks index operands against the
// operands they address.
func SynthesizeAll(specs []OperandSpec, rng *rand.Rand) ([]*tensor.Buffer, error) {
	bufs := make([]*tensor.Buffer, len(specs))
	for i, s := range specs {
		b, err := Synthesize(s, rng)
		if err != nil {
			return nil, err
		}
		bufs[i] = b
	}
	for i, s := range specs {
		if s.IndexOf == NoIndex {
			continue
		}
		if err := checkIndexOperand(s, bufs[i], specs, bufs); err != nil {
			return nil, &SynthesisError{Operand: s.Name, Err: err}
		}
	}
	return bufs, nil
}

func checkIndexOperand(s OperandSpec, idx *tensor.Buffer, specs []OperandSpec, bufs []*tensor.Buffer) error {
	if s.IndexOf < 0 || s.IndexOf >= len(bufs) {
		return fmt.Errorf("indexes operand %d, only %d operands", s.IndexOf, len(bufs))
	}
	if s.Kind.IsFloat() {
		return fmt.Errorf("index operand must have an integer kind, got %s", s.Kind)
	}
	target := bufs[s.IndexOf].Shape()
	name := specs[s.IndexOf].Name
	if s.IndexND {
		if idx.Shape().Rank() == 0 {
			return fmt.Errorf("coordinate tensor must have rank >= 1")
		}
		depth := idx.Shape()[idx.Shape().Rank()-1]
		if depth > target.Rank() {
			return fmt.Errorf("coordinate depth %d exceeds rank of %s %v", depth, name, target)
		}
		for i, v := range idx.Data() {
			d := i % max(depth, 1)
			if c := int(v); c < 0 || c >= target[d] {
				return fmt.Errorf("coordinate %d at %d out of range [0, %d) for %s dim %d", c, i, target[d], name, d)
			}
		}
		return nil
	}
	dim := s.IndexDim
	if dim < 0 {
		dim += target.Rank()
	}
	if dim < 0 || dim >= target.Rank() {
		return fmt.Errorf("index dim %d out of range for %s %v", s.IndexDim, name, target)
	}
	for i, v := range idx.Data() {
		if c := int(v); c < 0 || c >= target[dim] {
			return fmt.Errorf("index %d at %d out of range [0, %d) for %s dim %d", c, i, target[dim], name, dim)
		}
	}
	return nil
}
