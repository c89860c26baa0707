package suites

import (
	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/parity"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

func LogSoftmax() *parity.Suite {
	return &parity.Suite{
		Name:        "log_softmax",
		Description: "log_softmax along the last and an inner dimension",
		Matrix: parity.NewMatrix().
			Add("shape", tensor.Shape{13, 17}, tensor.Shape{2, 3, 4}).
			Add("dim", -1, 1).
			Add("kind", tensor.Float32, tensor.Float16),
		Op: op("log_softmax"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			return []parity.OperandSpec{parity.Normal("x", c.Shape("shape"), c.Kind("kind"))}, nil
		},
		Params: func(c parity.Case) device.Attrs {
			return device.Attrs{"dim": c.Int("dim")}
		},
	}
}

// NLLLoss checks the loss and its gradient with respect to the log-probabilities. An
// ignore_index of 0 drops every sample of class 0; a batch where all samples are dropped has a
// NaN mean on both devices.
func NLLLoss() *parity.Suite {
	return &parity.Suite{
		Name:        "nll_loss",
		Description: "negative log-likelihood with reductions, class weights and ignore_index",
		Matrix: parity.NewMatrix().
			Add("shape", tensor.Shape{2, 3}, tensor.Shape{8, 5}).
			Add("reduction", "mean", "sum", "none").
			Add("weighted", false, true).
			Add("ignore_index", -100, 0).
			Add("kind", tensor.Float32, tensor.Float16),
		Op: op("nll_loss"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			shape := c.Shape("shape")
			n, classes := shape[0], shape[1]
			specs := []parity.OperandSpec{
				parity.Normal("log_probs", shape, c.Kind("kind")),
				parity.IntRange("target", tensor.Shape{n}, tensor.Int64, 0, classes),
			}
			if c.Bool("weighted") {
				specs = append(specs, parity.Uniform("weight", tensor.Shape{classes}, c.Kind("kind"), 0.5, 1.5))
			}
			return specs, nil
		},
		Params: func(c parity.Case) device.Attrs {
			return device.Attrs{"reduction": c.Str("reduction"), "ignore_index": c.Int("ignore_index")}
		},
		Backward: true,
	}
}

func UpsampleNearest2D() *parity.Suite {
	return &parity.Suite{
		Name:        "upsample_nearest_2d",
		Description: "nearest-neighbour 2-D upsampling with fractional scales",
		Matrix: parity.NewMatrix().
			Add("shape", tensor.Shape{2, 3, 4, 5}).
			Add("scale_h", 2.0, 1.0).
			Add("scale_w", 1.5, 2.0),
		Op: op("upsample_nearest_2d"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			return []parity.OperandSpec{parity.Normal("x", c.Shape("shape"), tensor.Float32)}, nil
		},
		Params: func(c parity.Case) device.Attrs {
			return device.Attrs{"scale_h": c.Float("scale_h"), "scale_w": c.Float("scale_w")}
		},
	}
}

// batchNormOperands returns x, weight and bias, plus running statistics when requested.
func batchNormOperands(shape tensor.Shape, running bool) []parity.OperandSpec {
	channels := tensor.Shape{shape[1]}
	specs := []parity.OperandSpec{
		parity.Normal("x", shape, tensor.Float32),
		parity.Uniform("weight", channels, tensor.Float32, 0.5, 1.5),
		parity.Normal("bias", channels, tensor.Float32),
	}
	if running {
		specs = append(specs,
			parity.Uniform("running_mean", channels, tensor.Float32, -0.5, 0.5),
			parity.Uniform("running_var", channels, tensor.Float32, 0.5, 2))
	}
	return specs
}

// BatchNormGrad compares training-mode batch normalization and the gradients of input, weight
// and bias.
func BatchNormGrad() *parity.Suite {
	return &parity.Suite{
		Name:        "batchnorm_grad",
		Description: "batch_norm forward and backward in training mode",
		Matrix: parity.NewMatrix().
			Add("shape", tensor.Shape{2, 3, 4, 5}, tensor.Shape{1, 2, 3, 4}, tensor.Shape{5, 6, 7, 8}).
			Add("track_running_stats", true, false),
		Op: op("batch_norm"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			return batchNormOperands(c.Shape("shape"), c.Bool("track_running_stats")), nil
		},
		Params: func(parity.Case) device.Attrs {
			return device.Attrs{"training": true, "eps": 1e-5}
		},
		Backward: true,
	}
}

// FusedBNRelu runs batch_norm_relu with fusion enabled on the target. The reference has no fused
// kernel and runs batch_norm followed by relu.
func FusedBNRelu() *parity.Suite {
	return &parity.Suite{
		Name:        "fused_bn_relu",
		Description: "fused batch_norm_relu against the decomposed pair",
		Matrix: parity.NewMatrix().
			Add("shape", tensor.Shape{4, 2, 8, 3}).
			Add("training", true, false),
		Op: op("batch_norm_relu"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			return batchNormOperands(c.Shape("shape"), !c.Bool("training")), nil
		},
		Params: func(c parity.Case) device.Attrs {
			return device.Attrs{"training": c.Bool("training"), "eps": 1e-5}
		},
		ConfigureTarget: func(cfg device.Config) device.Config {
			cfg.FuseNormalization = true
			return cfg
		},
	}
}
