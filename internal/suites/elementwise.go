package suites

import (
	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/parity"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Add checks elementwise addition, including 0-d operands.
func Add() *parity.Suite {
	return &parity.Suite{
		Name:        "add",
		Description: "elementwise add over ranks 0 to 4",
		Matrix: parity.NewMatrix().
			Add("shape", tensor.Shape{}, tensor.Shape{2}, tensor.Shape{2, 3}, tensor.Shape{2, 3, 4}, tensor.Shape{2, 3, 4, 5}).
			Add("kind", tensor.Float32, tensor.Float16),
		Op: op("add"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			return []parity.OperandSpec{
				parity.Normal("x", c.Shape("shape"), c.Kind("kind")),
				parity.Normal("y", c.Shape("shape"), c.Kind("kind")),
			}, nil
		},
	}
}

func ScalarAdd() *parity.Suite {
	return &parity.Suite{
		Name:        "scalar_add",
		Description: "tensor plus a scalar attribute",
		Matrix: parity.NewMatrix().
			Add("shape", tensor.Shape{2, 3}).
			Add("scalar", 1.0, -2.5),
		Op: op("scalar_add"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			return []parity.OperandSpec{parity.Normal("x", c.Shape("shape"), tensor.Float32)}, nil
		},
		Params: func(c parity.Case) device.Attrs {
			return device.Attrs{"scalar": c.Float("scalar")}
		},
	}
}

// MathOp checks unary transcendental functions. sqrt inputs are clipped to its domain.
func MathOp() *parity.Suite {
	return &parity.Suite{
		Name:        "math_op",
		Description: "cos, exp, sin and sqrt",
		Matrix: parity.NewMatrix().
			Add("op", "cos", "exp", "sin", "sqrt").
			Add("shape", tensor.Shape{4}, tensor.Shape{3, 4}, tensor.Shape{2, 3, 4}).
			Add("kind", tensor.Float32),
		SelectOp: selectByParam("op"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			x := parity.Normal("x", c.Shape("shape"), c.Kind("kind"))
			if c.Str("op") == "sqrt" {
				x = x.Clipped(0, 1e4)
			}
			return []parity.OperandSpec{x}, nil
		},
	}
}

// ActivationBackward compares activation outputs and input gradients under a ones upstream.
func ActivationBackward() *parity.Suite {
	return &parity.Suite{
		Name:        "activation_backward",
		Description: "relu and gelu gradients",
		Matrix: parity.NewMatrix().
			Add("op", "relu", "gelu").
			Add("shape", tensor.Shape{2}, tensor.Shape{2, 3}, tensor.Shape{2, 3, 4}, tensor.Shape{2, 4, 5, 6}).
			Add("kind", tensor.Float32, tensor.Float16),
		SelectOp: selectByParam("op"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			return []parity.OperandSpec{parity.Normal("x", c.Shape("shape"), c.Kind("kind"))}, nil
		},
		Tolerance:     parity.ToleranceSpec{tensor.Float16: {Atol: 1e-3, Rtol: 1e-3}},
		GradTolerance: parity.ToleranceSpec{tensor.Float16: {Atol: 1e-3, Rtol: 1e-3}},
		Backward:      true,
	}
}
