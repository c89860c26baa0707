package device

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// CPUName is the id of the reference backend.
const CPUName = "cpu"

// CPUBackend is the reference backend. It stores every kind in float64 and leans on gonum for
// matrix products, sums and channel statistics.
type CPUBackend struct {
	*engine[float64]
}

var _ Backend = (*CPUBackend)(nil)

func NewCPUBackend(cfg Config) *CPUBackend {
	e := newEngine[float64](CPUName, cfg)
	e.gemm = gonumGemm
	e.sum = floats.Sum
	e.meanVar = func(x []float64) (float64, float64) {
		if len(x) == 0 {
			return 0, 0
		}
		return stat.PopMeanVariance(x, nil)
	}
	return &CPUBackend{engine: e}
}

// gonumGemm computes c = a * b for row-major a [m, k] and b [k, n].
func gonumGemm(m, n, k int, a, b, c []float64) {
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		clear(c)
		return
	}
	out := mat.NewDense(m, n, c)
	out.Mul(mat.NewDense(m, k, a), mat.NewDense(k, n, b))
}
