package ops

import (
	"context"

	"github.com/23skdu/longbow-parity/internal/device"
)

type batchNormRelu struct{}

// BatchNormRelu is batch_norm followed by relu. Backends that offer the fused batch_norm_relu
// kernel run it in one launch; all others run the two kernels in sequence, so a fused target
// is checked against the decomposed reference.
func BatchNormRelu() Operation { return batchNormRelu{} }

func (batchNormRelu) Name() string { return "batch_norm_relu" }

func (batchNormRelu) Forward(ctx context.Context, b device.Backend, inputs []device.Tensor, params device.Attrs) ([]device.Tensor, error) {
	if len(inputs) > 0 && b.Supports("batch_norm_relu", inputs[0].Kind()) {
		return b.Launch(ctx, "batch_norm_relu", inputs, params)
	}
	out, err := b.Launch(ctx, "batch_norm", inputs, params)
	if err != nil {
		return nil, err
	}
	y, err := launch1(ctx, b, "relu", nil, out[0])
	if err != nil {
		return nil, err
	}
	out[0] = y
	return out, nil
}
