package ops

import (
	"context"

	"github.com/pkg/errors"

	"github.com/23skdu/longbow-parity/internal/device"
)

func builtins() []Operation {
	plain := []string{
		"scalar_add", "scalar_mul", "div", "transpose", "sum", "sum_to_shape",
		"gather", "gather_nd", "index_select", "broadcast_like", "upsample_nearest_2d",
		"cast", "l1_l2_regularize_gradient", "sgd_update", "count_not_finite", "reduce_sum_pow_abs",
	}
	list := make([]Operation, 0, len(plain)+16)
	for _, name := range plain {
		list = append(list, Kernel(name))
	}
	return append(list,
		WithBackward(Kernel("add"), addBackward),
		WithBackward(Kernel("sub"), subBackward),
		WithBackward(Kernel("mul"), mulBackward),
		WithBackward(Kernel("matmul"), matmulBackward),
		WithBackward(Kernel("expand"), expandBackward),
		WithBackward(Kernel("relu"), reluBackward),
		WithBackward(Kernel("gelu"), geluBackward),
		WithBackward(Kernel("exp"), expBackward),
		WithBackward(Kernel("sin"), sinBackward),
		WithBackward(Kernel("cos"), cosBackward),
		WithBackward(Kernel("sqrt"), sqrtBackward),
		WithBackward(Kernel("log_softmax"), logSoftmaxBackward),
		WithBackward(Kernel("nll_loss"), nllLossBackward),
		WithBackward(Kernel("batch_norm"), batchNormBackward),
		BatchNormRelu(),
	)
}

// launch1 runs a single-output kernel.
func launch1(ctx context.Context, b device.Backend, op string, attrs device.Attrs, in ...device.Tensor) (device.Tensor, error) {
	out, err := b.Launch(ctx, op, in, attrs)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, errors.Errorf("%s returned %d outputs, want 1", op, len(out))
	}
	return out[0], nil
}

// reduceTo sums a gradient down to the shape of the operand it belongs to.
func reduceTo(ctx context.Context, b device.Backend, grad, operand device.Tensor) (device.Tensor, error) {
	if grad.Shape().Equal(operand.Shape()) {
		return grad, nil
	}
	return launch1(ctx, b, "sum_to_shape", device.Attrs{"shape": []int(operand.Shape())}, grad)
}

func addBackward(ctx context.Context, b device.Backend, in, _, up []device.Tensor, _ device.Attrs) ([]device.Tensor, error) {
	da, err := reduceTo(ctx, b, up[0], in[0])
	if err != nil {
		return nil, err
	}
	db, err := reduceTo(ctx, b, up[0], in[1])
	if err != nil {
		return nil, err
	}
	return []device.Tensor{da, db}, nil
}

func subBackward(ctx context.Context, b device.Backend, in, _, up []device.Tensor, _ device.Attrs) ([]device.Tensor, error) {
	da, err := reduceTo(ctx, b, up[0], in[0])
	if err != nil {
		return nil, err
	}
	neg, err := launch1(ctx, b, "scalar_mul", device.Attrs{"scalar": -1.0}, up[0])
	if err != nil {
		return nil, err
	}
	db, err := reduceTo(ctx, b, neg, in[1])
	if err != nil {
		return nil, err
	}
	return []device.Tensor{da, db}, nil
}

func mulBackward(ctx context.Context, b device.Backend, in, _, up []device.Tensor, _ device.Attrs) ([]device.Tensor, error) {
	ga, err := launch1(ctx, b, "mul", nil, up[0], in[1])
	if err != nil {
		return nil, err
	}
	gb, err := launch1(ctx, b, "mul", nil, up[0], in[0])
	if err != nil {
		return nil, err
	}
	if ga, err = reduceTo(ctx, b, ga, in[0]); err != nil {
		return nil, err
	}
	if gb, err = reduceTo(ctx, b, gb, in[1]); err != nil {
		return nil, err
	}
	return []device.Tensor{ga, gb}, nil
}

// matmulBackward: with a' = op(A) and b' = op(B), dA' = dy * b'^T and dB' = a'^T * dy. Both are
// expressed as matmuls on the original operands, then transposed back and reduced over broadcast
// batch dimensions.
func matmulBackward(ctx context.Context, b device.Backend, in, _, up []device.Tensor, params device.Attrs) ([]device.Tensor, error) {
	ta, tb := params.Bool("transpose_a", false), params.Bool("transpose_b", false)
	dy := up[0]
	var da, db device.Tensor
	var err error
	if ta {
		da, err = launch1(ctx, b, "matmul", device.Attrs{"transpose_a": tb, "transpose_b": true}, in[1], dy)
	} else {
		da, err = launch1(ctx, b, "matmul", device.Attrs{"transpose_b": !tb}, dy, in[1])
	}
	if err != nil {
		return nil, err
	}
	if tb {
		db, err = launch1(ctx, b, "matmul", device.Attrs{"transpose_a": true, "transpose_b": ta}, dy, in[0])
	} else {
		db, err = launch1(ctx, b, "matmul", device.Attrs{"transpose_a": !ta}, in[0], dy)
	}
	if err != nil {
		return nil, err
	}
	if da, err = reduceTo(ctx, b, da, in[0]); err != nil {
		return nil, err
	}
	if db, err = reduceTo(ctx, b, db, in[1]); err != nil {
		return nil, err
	}
	return []device.Tensor{da, db}, nil
}

func expandBackward(ctx context.Context, b device.Backend, in, _, up []device.Tensor, _ device.Attrs) ([]device.Tensor, error) {
	dx, err := reduceTo(ctx, b, up[0], in[0])
	if err != nil {
		return nil, err
	}
	return []device.Tensor{dx}, nil
}

func reluBackward(ctx context.Context, b device.Backend, _, out, up []device.Tensor, _ device.Attrs) ([]device.Tensor, error) {
	dx, err := launch1(ctx, b, "relu_grad", nil, up[0], out[0])
	if err != nil {
		return nil, err
	}
	return []device.Tensor{dx}, nil
}

func geluBackward(ctx context.Context, b device.Backend, in, _, up []device.Tensor, _ device.Attrs) ([]device.Tensor, error) {
	dx, err := launch1(ctx, b, "gelu_grad", nil, up[0], in[0])
	if err != nil {
		return nil, err
	}
	return []device.Tensor{dx}, nil
}

func expBackward(ctx context.Context, b device.Backend, _, out, up []device.Tensor, _ device.Attrs) ([]device.Tensor, error) {
	dx, err := launch1(ctx, b, "mul", nil, up[0], out[0])
	if err != nil {
		return nil, err
	}
	return []device.Tensor{dx}, nil
}

func sinBackward(ctx context.Context, b device.Backend, in, _, up []device.Tensor, _ device.Attrs) ([]device.Tensor, error) {
	c, err := launch1(ctx, b, "cos", nil, in[0])
	if err != nil {
		return nil, err
	}
	dx, err := launch1(ctx, b, "mul", nil, up[0], c)
	if err != nil {
		return nil, err
	}
	return []device.Tensor{dx}, nil
}

func cosBackward(ctx context.Context, b device.Backend, in, _, up []device.Tensor, _ device.Attrs) ([]device.Tensor, error) {
	s, err := launch1(ctx, b, "sin", nil, in[0])
	if err != nil {
		return nil, err
	}
	ns, err := launch1(ctx, b, "scalar_mul", device.Attrs{"scalar": -1.0}, s)
	if err != nil {
		return nil, err
	}
	dx, err := launch1(ctx, b, "mul", nil, up[0], ns)
	if err != nil {
		return nil, err
	}
	return []device.Tensor{dx}, nil
}

// sqrtBackward: d/dx sqrt(x) = 0.5 / sqrt(x).
func sqrtBackward(ctx context.Context, b device.Backend, _, out, up []device.Tensor, _ device.Attrs) ([]device.Tensor, error) {
	half, err := launch1(ctx, b, "scalar_mul", device.Attrs{"scalar": 0.5}, up[0])
	if err != nil {
		return nil, err
	}
	dx, err := launch1(ctx, b, "div", nil, half, out[0])
	if err != nil {
		return nil, err
	}
	return []device.Tensor{dx}, nil
}

func logSoftmaxBackward(ctx context.Context, b device.Backend, _, out, up []device.Tensor, params device.Attrs) ([]device.Tensor, error) {
	dx, err := launch1(ctx, b, "log_softmax_grad", device.Attrs{"dim": params.Int("dim", -1)}, up[0], out[0])
	if err != nil {
		return nil, err
	}
	return []device.Tensor{dx}, nil
}

// nllLossBackward differentiates the log-probabilities only; targets and class weights get nil.
func nllLossBackward(ctx context.Context, b device.Backend, in, _, up []device.Tensor, params device.Attrs) ([]device.Tensor, error) {
	args := append([]device.Tensor{up[0]}, in...)
	dx, err := launch1(ctx, b, "nll_loss_grad", params, args...)
	if err != nil {
		return nil, err
	}
	grads := make([]device.Tensor, len(in))
	grads[0] = dx
	return grads, nil
}

// batchNormBackward returns gradients for x, weight and bias. Only the upstream gradient of y
// contributes; the saved statistics are not differentiated.
func batchNormBackward(ctx context.Context, b device.Backend, in, out, up []device.Tensor, params device.Attrs) ([]device.Tensor, error) {
	if len(out) < 3 {
		return nil, errors.Errorf("batch_norm backward needs saved statistics, got %d outputs", len(out))
	}
	grads, err := b.Launch(ctx, "batch_norm_grad",
		[]device.Tensor{up[0], in[0], in[1], out[1], out[2]},
		device.Attrs{"training": params.Bool("training", true)})
	if err != nil {
		return nil, err
	}
	res := make([]device.Tensor, len(in))
	copy(res, grads)
	return res, nil
}
