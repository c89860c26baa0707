package ops

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

func randBuffer(rng *rand.Rand, shape tensor.Shape) *tensor.Buffer {
	data := make([]float64, shape.NumElements())
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return tensor.MustBuffer(shape, tensor.Float64, data)
}

func uploadAll(t *testing.T, b device.Backend, bufs []*tensor.Buffer) []device.Tensor {
	t.Helper()
	out := make([]device.Tensor, len(bufs))
	for i, buf := range bufs {
		dt, err := b.Upload(buf)
		require.NoError(t, err)
		out[i] = dt
	}
	return out
}

// weightedLoss returns sum(forward(inputs)[0] * g).
func weightedLoss(t *testing.T, b device.Backend, op Operation, bufs []*tensor.Buffer, g *tensor.Buffer, params device.Attrs) float64 {
	t.Helper()
	out, err := op.Forward(context.Background(), b, uploadAll(t, b, bufs), params)
	require.NoError(t, err)
	var s float64
	for i, v := range out[0].ToHost().Data() {
		s += v * g.Data()[i]
	}
	return s
}

// checkGradients compares Backward against central differences of the weighted loss.
func checkGradients(t *testing.T, op Differentiable, bufs []*tensor.Buffer, params device.Attrs, wrt ...int) {
	t.Helper()
	ctx := context.Background()
	b := device.NewCPUBackend(device.Config{})
	rng := rand.New(rand.NewPCG(7, 7))

	in := uploadAll(t, b, bufs)
	out, err := op.Forward(ctx, b, in, params)
	require.NoError(t, err)
	up := make([]device.Tensor, len(out))
	gs := make([]*tensor.Buffer, len(out))
	for i, o := range out {
		gs[i] = randBuffer(rng, o.Shape())
		up[i] = uploadAll(t, b, gs[i:i+1])[0]
	}
	grads, err := op.Backward(ctx, b, in, out, up, params)
	require.NoError(t, err)
	require.Len(t, grads, len(in))

	const h = 1e-6
	for _, k := range wrt {
		require.NotNil(t, grads[k], "input %d", k)
		got := grads[k].ToHost()
		require.True(t, got.Shape().Equal(bufs[k].Shape()), "gradient shape %v for input %v", got.Shape(), bufs[k].Shape())
		for i := range bufs[k].Data() {
			plus, minus := cloneAll(bufs), cloneAll(bufs)
			plus[k].Data()[i] += h
			minus[k].Data()[i] -= h
			want := (weightedLoss(t, b, op, plus, gs[0], params) - weightedLoss(t, b, op, minus, gs[0], params)) / (2 * h)
			assert.InDelta(t, want, got.Data()[i], 1e-5, "input %d element %d", k, i)
		}
	}
}

func cloneAll(bufs []*tensor.Buffer) []*tensor.Buffer {
	out := make([]*tensor.Buffer, len(bufs))
	for i, b := range bufs {
		out[i] = b.Clone()
	}
	return out
}

func differentiable(t *testing.T, name string) Differentiable {
	t.Helper()
	op, err := Default().Lookup(name)
	require.NoError(t, err)
	d, ok := op.(Differentiable)
	require.True(t, ok, "%s has no backward", name)
	return d
}

func TestBackward_FiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	r := func(dims ...int) *tensor.Buffer { return randBuffer(rng, dims) }

	tests := []struct {
		name   string
		op     string
		inputs []*tensor.Buffer
		params device.Attrs
		wrt    []int
	}{
		{"AddBroadcast", "add", []*tensor.Buffer{r(2, 3), r(3)}, nil, []int{0, 1}},
		{"SubBroadcast", "sub", []*tensor.Buffer{r(2, 1), r(2, 3)}, nil, []int{0, 1}},
		{"Mul", "mul", []*tensor.Buffer{r(2, 3), r(2, 3)}, nil, []int{0, 1}},
		{"Matmul", "matmul", []*tensor.Buffer{r(3, 4), r(4, 2)}, nil, []int{0, 1}},
		{"BatchMatmulBroadcast", "matmul", []*tensor.Buffer{r(2, 3, 4), r(4, 5)}, nil, []int{0, 1}},
		{"MatmulTransposeA", "matmul", []*tensor.Buffer{r(4, 3), r(4, 2)}, device.Attrs{"transpose_a": true}, []int{0, 1}},
		{"MatmulTransposeB", "matmul", []*tensor.Buffer{r(3, 4), r(2, 4)}, device.Attrs{"transpose_b": true}, []int{0, 1}},
		{"MatmulTransposeBoth", "matmul", []*tensor.Buffer{r(4, 3), r(2, 4)}, device.Attrs{"transpose_a": true, "transpose_b": true}, []int{0, 1}},
		{"Expand", "expand", []*tensor.Buffer{r(1, 3)}, device.Attrs{"shape": []int{2, 2, -1}}, []int{0}},
		{"Gelu", "gelu", []*tensor.Buffer{r(2, 4)}, nil, []int{0}},
		{"Exp", "exp", []*tensor.Buffer{r(5)}, nil, []int{0}},
		{"Sin", "sin", []*tensor.Buffer{r(5)}, nil, []int{0}},
		{"Cos", "cos", []*tensor.Buffer{r(5)}, nil, []int{0}},
		{"Sqrt", "sqrt", []*tensor.Buffer{tensor.MustBuffer(tensor.Shape{3}, tensor.Float64, []float64{0.5, 2, 9})}, nil, []int{0}},
		{"LogSoftmax", "log_softmax", []*tensor.Buffer{r(3, 4)}, nil, []int{0}},
		{"BatchNorm", "batch_norm", []*tensor.Buffer{r(2, 3, 2, 2), r(3), r(3)}, device.Attrs{"eps": 1e-5}, []int{0, 1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkGradients(t, differentiable(t, tt.op), tt.inputs, tt.params, tt.wrt...)
		})
	}
}

func TestBackward_NLLLoss(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	logp := randBuffer(rng, tensor.Shape{3, 4})
	target := tensor.MustBuffer(tensor.Shape{3}, tensor.Int64, []float64{1, 3, 0})
	op := differentiable(t, "nll_loss")

	for _, reduction := range []string{"mean", "sum"} {
		t.Run(reduction, func(t *testing.T) {
			checkGradients(t, op, []*tensor.Buffer{logp, target}, device.Attrs{"reduction": reduction}, 0)
		})
	}

	b := device.NewCPUBackend(device.Config{})
	ctx := context.Background()
	in := uploadAll(t, b, []*tensor.Buffer{logp, target})
	out, err := op.Forward(ctx, b, in, nil)
	require.NoError(t, err)
	grads, err := op.Backward(ctx, b, in, out, out, nil)
	require.NoError(t, err)
	assert.Nil(t, grads[1], "targets are not differentiable")
}

func TestBatchNormRelu_FusedMatchesDecomposed(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	bufs := []*tensor.Buffer{
		randBuffer(rng, tensor.Shape{2, 3, 4}).Cast(tensor.Float32),
		randBuffer(rng, tensor.Shape{3}).Cast(tensor.Float32),
		randBuffer(rng, tensor.Shape{3}).Cast(tensor.Float32),
	}
	op := Default().MustLookup("batch_norm_relu")
	ctx := context.Background()

	ref := device.NewCPUBackend(device.Config{})
	fused := device.NewAccelBackend(device.Config{FuseNormalization: true})
	require.False(t, ref.Supports("batch_norm_relu", tensor.Float32))
	require.True(t, fused.Supports("batch_norm_relu", tensor.Float32))

	want, err := op.Forward(ctx, ref, uploadAll(t, ref, bufs), nil)
	require.NoError(t, err)
	got, err := op.Forward(ctx, fused, uploadAll(t, fused, bufs), nil)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDeltaSlice(t, want[i].ToHost().Data(), got[i].ToHost().Data(), 1e-4)
	}
	for _, v := range got[0].ToHost().Data() {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(Kernel("exp"))
	op, err := r.Lookup("exp")
	require.NoError(t, err)
	assert.Equal(t, "exp", op.Name())
	_, isDiff := op.(Differentiable)
	assert.False(t, isDiff)

	_, err = r.Lookup("conv2d")
	assert.ErrorIs(t, err, ErrUnknownOperation)

	names := Default().Names()
	for _, want := range []string{"add", "matmul", "gather", "gather_nd", "index_select", "expand",
		"broadcast_like", "batch_norm", "nll_loss", "upsample_nearest_2d", "sgd_update"} {
		assert.Contains(t, names, want)
	}
}
