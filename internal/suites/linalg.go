package suites

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/parity"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

type matmulShapes struct{ A, B tensor.Shape }

func (m matmulShapes) String() string { return fmt.Sprintf("%v@%v", m.A, m.B) }

func BatchMatmul() *parity.Suite {
	return &parity.Suite{
		Name:        "batch_matmul",
		Description: "batched matmul with broadcast batch dimensions",
		Matrix: parity.NewMatrix().
			Add("shapes",
				matmulShapes{A: tensor.Shape{2, 3, 4}, B: tensor.Shape{2, 4, 5}},
				matmulShapes{A: tensor.Shape{1, 3, 4}, B: tensor.Shape{3, 4, 5}},
				matmulShapes{A: tensor.Shape{3, 4}, B: tensor.Shape{2, 2, 4, 6}}).
			Add("transpose_b", false, true).
			Add("kind", tensor.Float32),
		Op: op("matmul"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			s, _ := c.Get("shapes").(matmulShapes)
			b := s.B.Clone()
			if c.Bool("transpose_b") {
				r := b.Rank()
				b[r-2], b[r-1] = b[r-1], b[r-2]
			}
			return []parity.OperandSpec{
				parity.Normal("a", s.A, c.Kind("kind")),
				parity.Normal("b", b, c.Kind("kind")),
			}, nil
		},
		Params: func(c parity.Case) device.Attrs {
			return device.Attrs{"transpose_b": c.Bool("transpose_b")}
		},
	}
}

// ReduceSumPowAbs reduces a list of tensors of growing size, starting with an empty one, to
// sum(|x|^p).
func ReduceSumPowAbs() *parity.Suite {
	return &parity.Suite{
		Name:        "reduce_sum_pow_abs",
		Description: "sum of |x|^p across many tensors",
		Matrix: parity.NewMatrix().
			Add("tensors", 1, 10, 100).
			Add("p", 2.0, 3.0),
		Op: op("reduce_sum_pow_abs"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			n := c.Int("tensors")
			specs := make([]parity.OperandSpec, n)
			for i := range specs {
				specs[i] = parity.Normal(fmt.Sprintf("x%d", i), tensor.Shape{i}, tensor.Float32)
			}
			return specs, nil
		},
		Params: func(c parity.Case) device.Attrs {
			return device.Attrs{"p": c.Float("p")}
		},
	}
}

// CountNotFinite counts NaN and infinite elements across a list of tensors.
func CountNotFinite() *parity.Suite {
	return &parity.Suite{
		Name:        "count_not_finite",
		Description: "NaN and Inf count across many tensors",
		Matrix:      parity.NewMatrix().Add("tensors", 1, 10, 100),
		Op:          op("count_not_finite"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			n := c.Int("tensors")
			specs := make([]parity.OperandSpec, n)
			for i := range specs {
				name, shape := fmt.Sprintf("x%d", i), tensor.Shape{10 * i}
				switch {
				case i%3 == 1:
					specs[i] = parity.Constant(name, shape, tensor.Float32, math.Inf(1))
				case i%5 == 2:
					specs[i] = parity.Constant(name, shape, tensor.Float32, math.NaN())
				case i%7 == 3:
					specs[i] = parity.Constant(name, shape, tensor.Float32, math.Inf(-1))
				default:
					specs[i] = parity.Normal(name, shape, tensor.Float32)
				}
			}
			return specs, nil
		},
	}
}
