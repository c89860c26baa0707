package device

import (
	"context"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

func upload(t *testing.T, b Backend, shape tensor.Shape, kind tensor.Kind, data ...float64) Tensor {
	t.Helper()
	buf, err := tensor.NewBuffer(shape, kind, data)
	require.NoError(t, err)
	dt, err := b.Upload(buf)
	require.NoError(t, err)
	return dt
}

func launch(t *testing.T, b Backend, op string, attrs Attrs, in ...Tensor) []*tensor.Buffer {
	t.Helper()
	out, err := b.Launch(context.Background(), op, in, attrs)
	require.NoError(t, err)
	host := make([]*tensor.Buffer, len(out))
	for i, o := range out {
		host[i] = o.ToHost()
	}
	return host
}

func backends() []Backend {
	return []Backend{NewCPUBackend(Config{}), NewAccelBackend(Config{Workers: 3})}
}

func TestBackend_TensorOps(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.Name(), func(t *testing.T) {
			t.Run("Add", func(t *testing.T) {
				a := upload(t, b, tensor.Shape{2, 2}, tensor.Float32, 1, 2, 3, 4)
				c := upload(t, b, tensor.Shape{2, 2}, tensor.Float32, 10, 20, 30, 40)
				out := launch(t, b, "add", nil, a, c)
				assert.Equal(t, []float64{11, 22, 33, 44}, out[0].Data())
			})

			t.Run("AddBroadcast", func(t *testing.T) {
				a := upload(t, b, tensor.Shape{2, 3}, tensor.Float32, 1, 2, 3, 4, 5, 6)
				c := upload(t, b, tensor.Shape{3}, tensor.Float32, 10, 20, 30)
				out := launch(t, b, "add", nil, a, c)
				assert.Equal(t, tensor.Shape{2, 3}, out[0].Shape())
				assert.Equal(t, []float64{11, 22, 33, 14, 25, 36}, out[0].Data())
			})

			t.Run("AddScalarShaped", func(t *testing.T) {
				a := upload(t, b, tensor.Shape{}, tensor.Float32, 2)
				c := upload(t, b, tensor.Shape{}, tensor.Float32, 3)
				out := launch(t, b, "add", nil, a, c)
				assert.Equal(t, 0, out[0].Shape().Rank())
				assert.Equal(t, []float64{5}, out[0].Data())
			})

			t.Run("Mul", func(t *testing.T) {
				// A: 2x3, B: 3x2 -> C: 2x2
				a := upload(t, b, tensor.Shape{2, 3}, tensor.Float32,
					1, 2, 3,
					4, 5, 6,
				)
				c := upload(t, b, tensor.Shape{3, 2}, tensor.Float32,
					7, 8,
					9, 10,
					11, 12,
				)
				out := launch(t, b, "matmul", nil, a, c)
				assert.Equal(t, []float64{58, 64, 139, 154}, out[0].Data())
			})

			t.Run("BatchMatmulBroadcast", func(t *testing.T) {
				a := upload(t, b, tensor.Shape{2, 1, 2}, tensor.Float32, 1, 2, 3, 4)
				c := upload(t, b, tensor.Shape{2, 1}, tensor.Float32, 1, 1)
				out := launch(t, b, "matmul", nil, a, c)
				assert.Equal(t, tensor.Shape{2, 1, 1}, out[0].Shape())
				assert.Equal(t, []float64{3, 7}, out[0].Data())
			})

			t.Run("MatmulTransposeB", func(t *testing.T) {
				a := upload(t, b, tensor.Shape{1, 2}, tensor.Float32, 1, 2)
				c := upload(t, b, tensor.Shape{1, 2}, tensor.Float32, 3, 4)
				out := launch(t, b, "matmul", Attrs{"transpose_b": true}, a, c)
				assert.Equal(t, []float64{11}, out[0].Data())
			})

			t.Run("Gather", func(t *testing.T) {
				x := upload(t, b, tensor.Shape{2, 2}, tensor.Float32, 1, 2, 3, 4)
				idx := upload(t, b, tensor.Shape{2, 2}, tensor.Int64, 0, 0, 1, 0)
				out := launch(t, b, "gather", Attrs{"dim": 1}, x, idx)
				assert.Equal(t, []float64{1, 1, 4, 3}, out[0].Data())
			})

			t.Run("GatherND", func(t *testing.T) {
				x := upload(t, b, tensor.Shape{3, 2}, tensor.Float32, 1, 2, 3, 4, 5, 6)
				idx := upload(t, b, tensor.Shape{2, 1}, tensor.Int64, 2, 0)
				out := launch(t, b, "gather_nd", nil, x, idx)
				assert.Equal(t, tensor.Shape{2, 2}, out[0].Shape())
				assert.Equal(t, []float64{5, 6, 1, 2}, out[0].Data())
			})

			t.Run("IndexSelect", func(t *testing.T) {
				x := upload(t, b, tensor.Shape{2, 3}, tensor.Float32, 1, 2, 3, 4, 5, 6)
				idx := upload(t, b, tensor.Shape{2}, tensor.Int32, 2, 0)
				out := launch(t, b, "index_select", Attrs{"dim": 1}, x, idx)
				assert.Equal(t, []float64{3, 1, 6, 4}, out[0].Data())
			})

			t.Run("ExpandInfer", func(t *testing.T) {
				x := upload(t, b, tensor.Shape{1, 3}, tensor.Float32, 1, 2, 3)
				out := launch(t, b, "expand", Attrs{"shape": []int{2, -1}}, x)
				assert.Equal(t, tensor.Shape{2, 3}, out[0].Shape())
				assert.Equal(t, []float64{1, 2, 3, 1, 2, 3}, out[0].Data())
			})

			t.Run("BroadcastLikeAxes", func(t *testing.T) {
				x := upload(t, b, tensor.Shape{2}, tensor.Float32, 1, 2)
				like := upload(t, b, tensor.Shape{2, 3}, tensor.Float32, 0, 0, 0, 0, 0, 0)
				out := launch(t, b, "broadcast_like", Attrs{"axes": []int{1}}, x, like)
				assert.Equal(t, []float64{1, 1, 1, 2, 2, 2}, out[0].Data())
			})

			t.Run("LogSoftmax", func(t *testing.T) {
				x := upload(t, b, tensor.Shape{1, 2}, tensor.Float32, 0, 0)
				out := launch(t, b, "log_softmax", nil, x)
				assert.InDeltaSlice(t, []float64{-math.Ln2, -math.Ln2}, out[0].Data(), 1e-6)
			})

			t.Run("NLLLossIgnoreIndex", func(t *testing.T) {
				x := upload(t, b, tensor.Shape{2, 2}, tensor.Float32, -1, -2, -3, -4)
				target := upload(t, b, tensor.Shape{2}, tensor.Int64, 1, -100)
				out := launch(t, b, "nll_loss", nil, x, target)
				assert.Equal(t, []float64{2}, out[0].Data())
			})

			t.Run("UpsampleNearest", func(t *testing.T) {
				x := upload(t, b, tensor.Shape{1, 1, 1, 2}, tensor.Float32, 1, 2)
				out := launch(t, b, "upsample_nearest_2d", Attrs{"scale_h": 2.0, "scale_w": 1.5}, x)
				assert.Equal(t, tensor.Shape{1, 1, 2, 3}, out[0].Shape())
				assert.Equal(t, []float64{1, 1, 2, 1, 1, 2}, out[0].Data())
			})

			t.Run("BatchNormTraining", func(t *testing.T) {
				x := upload(t, b, tensor.Shape{2, 1, 1, 1}, tensor.Float32, 1, 3)
				w := upload(t, b, tensor.Shape{1}, tensor.Float32, 1)
				bias := upload(t, b, tensor.Shape{1}, tensor.Float32, 0)
				out := launch(t, b, "batch_norm", Attrs{"eps": 0.0}, x, w, bias)
				require.Len(t, out, 3)
				assert.InDeltaSlice(t, []float64{-1, 1}, out[0].Data(), 1e-6)
				assert.Equal(t, []float64{2}, out[1].Data())
			})

			t.Run("CountNotFinite", func(t *testing.T) {
				a := upload(t, b, tensor.Shape{3}, tensor.Float32, math.NaN(), 1, math.Inf(1))
				c := upload(t, b, tensor.Shape{1}, tensor.Float32, math.Inf(-1))
				out := launch(t, b, "count_not_finite", nil, a, c)
				assert.Equal(t, tensor.Int64, out[0].Kind())
				assert.Equal(t, []float64{3}, out[0].Data())
			})

			t.Run("ZeroSized", func(t *testing.T) {
				a := upload(t, b, tensor.Shape{0, 3}, tensor.Float32)
				out := launch(t, b, "exp", nil, a)
				assert.Equal(t, tensor.Shape{0, 3}, out[0].Shape())
				assert.Empty(t, out[0].Data())
			})
		})
	}
}

func TestLaunch_Errors(t *testing.T) {
	b := NewCPUBackend(Config{})
	ctx := context.Background()

	t.Run("UnknownKernel", func(t *testing.T) {
		_, err := b.Launch(ctx, "conv3d", nil, nil)
		var ue *UnsupportedError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, "conv3d", ue.Op)
		assert.ErrorIs(t, err, ErrUnsupported)
	})

	t.Run("IndexOutOfRange", func(t *testing.T) {
		x := upload(t, b, tensor.Shape{2, 2}, tensor.Float32, 1, 2, 3, 4)
		idx := upload(t, b, tensor.Shape{2, 2}, tensor.Int64, 0, 2, 1, 0)
		_, err := b.Launch(ctx, "gather", []Tensor{x, idx}, Attrs{"dim": 1})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnsupported)
	})

	t.Run("ForeignTensor", func(t *testing.T) {
		other := NewAccelBackend(Config{})
		x := upload(t, other, tensor.Shape{1}, tensor.Float32, 1)
		_, err := b.Launch(ctx, "exp", []Tensor{x}, nil)
		assert.Error(t, err)
	})

	t.Run("Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := b.Launch(cctx, "exp", nil, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestAccelBackend_Capabilities(t *testing.T) {
	t.Run("NoFloat64", func(t *testing.T) {
		b := NewAccelBackend(Config{})
		assert.False(t, b.Supports("add", tensor.Float64))
		_, err := b.Upload(tensor.Scalar(tensor.Float64, 1))
		assert.ErrorIs(t, err, ErrUnsupported)
	})

	t.Run("WithheldKernel", func(t *testing.T) {
		b := NewAccelBackend(Config{Unsupported: []string{"gather_nd", "exp:float16"}})
		assert.False(t, b.Supports("gather_nd", tensor.Float32))
		assert.True(t, b.Supports("exp", tensor.Float32))
		assert.False(t, b.Supports("exp", tensor.Float16))

		x := upload(t, b, tensor.Shape{1}, tensor.Float16, 1)
		_, err := b.Launch(context.Background(), "exp", []Tensor{x}, nil)
		var ue *UnsupportedError
		require.True(t, errors.As(err, &ue))
		assert.Equal(t, tensor.Float16, ue.Kind)
	})

	t.Run("Float16Rounding", func(t *testing.T) {
		b := NewAccelBackend(Config{})
		x := upload(t, b, tensor.Shape{1}, tensor.Float16, 0.1)
		out := launch(t, b, "scalar_mul", Attrs{"scalar": 3.0}, x)
		assert.Equal(t, tensor.Float16.Round(0.0999755859375*3), out[0].Data()[0])
	})

	t.Run("IntegerStorageIsFloat32", func(t *testing.T) {
		const big = 1<<24 + 1
		for _, kind := range []tensor.Kind{tensor.Int32, tensor.Int64} {
			x := upload(t, NewAccelBackend(Config{}), tensor.Shape{2}, kind, big, 1<<24-1)
			assert.Equal(t, []float64{1 << 24, 1<<24 - 1}, x.ToHost().Data(), kind.String())

			ref := upload(t, NewCPUBackend(Config{}), tensor.Shape{2}, kind, big, 1<<24-1)
			assert.Equal(t, []float64{big, 1<<24 - 1}, ref.ToHost().Data(), kind.String())
		}
	})

	t.Run("FusedBatchNormRelu", func(t *testing.T) {
		assert.False(t, NewAccelBackend(Config{}).Supports("batch_norm_relu", tensor.Float32))

		b := NewAccelBackend(Config{FuseNormalization: true})
		require.True(t, b.Supports("batch_norm_relu", tensor.Float32))
		x := upload(t, b, tensor.Shape{2, 1}, tensor.Float32, 1, 3)
		w := upload(t, b, tensor.Shape{1}, tensor.Float32, 1)
		bias := upload(t, b, tensor.Shape{1}, tensor.Float32, 0)
		out := launch(t, b, "batch_norm_relu", Attrs{"eps": 0.0}, x, w, bias)
		assert.InDeltaSlice(t, []float64{0, 1}, out[0].Data(), 1e-6)
	})
}

func TestOpen(t *testing.T) {
	b, err := Open("MLU", Config{})
	require.NoError(t, err)
	assert.Equal(t, AccelName, b.Name())

	_, err = Open("metal", Config{})
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	_, err = Open("tpu", Config{})
	assert.ErrorIs(t, err, ErrUnknownDevice)

	assert.Contains(t, IDs(), CPUName)
}

func TestParallelGemm_MatchesGonum(t *testing.T) {
	const m, n, k = 7, 5, 9
	a32, b32 := make([]float32, m*k), make([]float32, k*n)
	a64, b64 := make([]float64, m*k), make([]float64, k*n)
	for i := range a32 {
		a32[i] = float32(i%5) - 2
		a64[i] = float64(a32[i])
	}
	for i := range b32 {
		b32[i] = float32(i%3) + 0.5
		b64[i] = float64(b32[i])
	}
	c32, c64 := make([]float32, m*n), make([]float64, m*n)
	parallelGemm(4, m, n, k, a32, b32, c32)
	gonumGemm(m, n, k, a64, b64, c64)
	for i := range c64 {
		assert.InDelta(t, c64[i], float64(c32[i]), 1e-4, "index %d", i)
	}
}
