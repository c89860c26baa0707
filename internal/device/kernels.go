package device

import (
	"fmt"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

// commonKernels returns the kernel table both in-process backends start from.
func commonKernels[E element]() map[string]kernel[E] {
	return map[string]kernel[E]{
		// elementwise
		"add":        binaryKernel[E](func(x, y E) E { return x + y }),
		"sub":        binaryKernel[E](func(x, y E) E { return x - y }),
		"mul":        binaryKernel[E](func(x, y E) E { return x * y }),
		"div":        divKernel[E],
		"scalar_add": scalarKernel[E](func(x, s E) E { return x + s }),
		"scalar_mul": scalarKernel[E](func(x, s E) E { return x * s }),
		"cos":        unaryKernel[E](cosFn[E]),
		"exp":        unaryKernel[E](expFn[E]),
		"sin":        unaryKernel[E](sinFn[E]),
		"sqrt":       unaryKernel[E](sqrtFn[E]),
		"relu":       unaryKernel[E](reluFn[E]),
		"gelu":       unaryKernel[E](geluFn[E]),
		"relu_grad":  reluGradKernel[E],
		"gelu_grad":  geluGradKernel[E],
		"cast":       castKernel[E],

		// linear algebra and reductions
		"matmul":             matmulKernel[E],
		"transpose":          transposeKernel[E],
		"sum":                sumKernel[E],
		"sum_to_shape":       sumToShapeKernel[E],
		"reduce_sum_pow_abs": reduceSumPowAbsKernel[E],
		"count_not_finite":   countNotFiniteKernel[E],

		// indexing and shape
		"gather":         gatherKernel[E],
		"gather_nd":      gatherNDKernel[E],
		"index_select":   indexSelectKernel[E],
		"expand":         expandKernel[E],
		"broadcast_like": broadcastLikeKernel[E],

		// nn
		"log_softmax":               logSoftmaxKernel[E],
		"log_softmax_grad":          logSoftmaxGradKernel[E],
		"batch_norm":                batchNormKernel[E],
		"batch_norm_grad":           batchNormGradKernel[E],
		"nll_loss":                  nllLossKernel[E],
		"nll_loss_grad":             nllLossGradKernel[E],
		"upsample_nearest_2d":       upsampleNearest2DKernel[E],
		"l1_l2_regularize_gradient": l1l2RegularizeGradientKernel[E],
		"sgd_update":                sgdUpdateKernel[E],
	}
}

func wantInputs[E element](in []*dense[E], n int) error {
	if len(in) != n {
		return fmt.Errorf("expected %d inputs, got %d", n, len(in))
	}
	return nil
}

// broadcastMap maps every flat index of dst to the flat index of src that broadcasts onto it.
// src must be broadcast-compatible with dst (aligned from the right).
func broadcastMap(src, dst tensor.Shape) []int {
	n := dst.NumElements()
	out := make([]int, n)
	if src.Equal(dst) {
		for i := range out {
			out[i] = i
		}
		return out
	}
	srcStrides := src.Strides()
	offset := len(dst) - len(src)
	eff := make([]int, len(dst))
	for i := range dst {
		j := i - offset
		if j >= 0 && src[j] != 1 {
			eff[i] = srcStrides[j]
		}
	}
	coords := make([]int, len(dst))
	for flat := 0; flat < n; flat++ {
		idx := 0
		for i, c := range coords {
			idx += c * eff[i]
		}
		out[flat] = idx
		for i := len(dst) - 1; i >= 0; i-- {
			coords[i]++
			if coords[i] < dst[i] {
				break
			}
			coords[i] = 0
		}
	}
	return out
}

// broadcastTo materializes t expanded to shape.
func broadcastTo[E element](e *engine[E], t *dense[E], shape tensor.Shape) *dense[E] {
	out := e.alloc(shape, t.kind)
	for i, src := range broadcastMap(t.shape, shape) {
		out.data[i] = t.data[src]
	}
	return out
}

// normalizeDim maps a possibly negative dim into [0, rank).
func normalizeDim(dim, rank int) (int, error) {
	if dim < 0 {
		dim += rank
	}
	if dim < 0 || dim >= rank {
		return 0, fmt.Errorf("dim %d out of range for rank %d", dim, rank)
	}
	return dim, nil
}

// checkIndex validates that every index lies in [0, size).
func checkIndex[E element](idx *dense[E], size int, what string) error {
	if idx.kind.IsFloat() {
		return fmt.Errorf("%s must be an integer tensor, got %s", what, idx.kind)
	}
	for i, v := range idx.data {
		if iv := int(v); iv < 0 || iv >= size {
			return fmt.Errorf("%s[%d] = %d out of range [0, %d)", what, i, iv, size)
		}
	}
	return nil
}
