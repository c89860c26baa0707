package suites

import (
	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/parity"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// L1L2RegularizeGradient runs the reference on float32 operands and the target on the same
// operands cast to float16.
func L1L2RegularizeGradient() *parity.Suite {
	return &parity.Suite{
		Name:        "l1_l2_regularize_gradient",
		Description: "regularized gradient, float32 reference against a float16 target",
		Matrix: parity.NewMatrix().
			Add("shape", tensor.Shape{20, 30}, tensor.Shape{200, 200}).
			Add("l1", 0.1, 0.7).
			Add("l2", 0.3),
		Op: op("l1_l2_regularize_gradient"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			return []parity.OperandSpec{
				parity.Normal("model", c.Shape("shape"), tensor.Float32),
				parity.Normal("model_diff", c.Shape("shape"), tensor.Float32),
			}, nil
		},
		Params: func(c parity.Case) device.Attrs {
			return device.Attrs{"l1": c.Float("l1"), "l2": c.Float("l2")}
		},
		TargetKind: func(parity.Case) tensor.Kind { return tensor.Float16 },
		// operands and result are each rounded to float16 on the target
		Tolerance: parity.ToleranceSpec{tensor.Float16: {Atol: 5e-3, Rtol: 5e-3}},
	}
}

// SGDStep applies one plain SGD update with optional weight decay.
func SGDStep() *parity.Suite {
	return &parity.Suite{
		Name:        "sgd_step",
		Description: "sgd parameter update with weight decay",
		Matrix: parity.NewMatrix().
			Add("shape", tensor.Shape{20, 30}, tensor.Shape{200, 200}).
			Add("lr", 0.1, 0.73).
			Add("weight_decay", 0.0, 0.01),
		Op: op("sgd_update"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			return []parity.OperandSpec{
				parity.Normal("param", c.Shape("shape"), tensor.Float32),
				parity.Normal("grad", c.Shape("shape"), tensor.Float32),
			}, nil
		},
		Params: func(c parity.Case) device.Attrs {
			return device.Attrs{"lr": c.Float("lr"), "weight_decay": c.Float("weight_decay")}
		},
	}
}
