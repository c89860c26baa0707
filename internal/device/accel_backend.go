package device

import (
	"sync"

	"github.com/23skdu/longbow-parity/internal/simd"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

const (
	// AccelName is the id of the in-process accelerator backend.
	AccelName = "accel"

	// MLUName is accepted as an alias of AccelName.
	MLUName = "mlu"
)

// AccelBackend models an accelerator: float32 storage, float32 accumulation, a row-parallel
// matrix product and no float64 kernels. With Config.FuseNormalization it also offers
// batch_norm_relu.
//
// Integer kinds share the float32 storage, so int32 and int64 values are exact only up to
// 2^24 in magnitude. Suites keep integer operands and indices well inside that range.
type AccelBackend struct {
	*engine[float32]
}

var _ Backend = (*AccelBackend)(nil)

func NewAccelBackend(cfg Config) *AccelBackend {
	e := newEngine[float32](AccelName, cfg)
	e.withheld["upload:"+tensor.Float64.String()] = true
	e.gemm = func(m, n, k int, a, b, c []float32) { parallelGemm(e.workers, m, n, k, a, b, c) }
	e.sum = simd.Sum
	e.meanVar = accelMeanVar
	if cfg.FuseNormalization {
		e.kernels["batch_norm_relu"] = batchNormReluKernel
	}
	return &AccelBackend{engine: e}
}

// parallelGemm splits the rows of c across workers. B is transposed once so every output element
// is a contiguous dot product.
func parallelGemm(workers, m, n, k int, a, b, c []float32) {
	if m == 0 || n == 0 {
		return
	}
	bt := make([]float32, k*n)
	for i := 0; i < k; i++ {
		for j := 0; j < n; j++ {
			bt[j*k+i] = b[i*n+j]
		}
	}

	rowsPerWorker := (m + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * rowsPerWorker
		if start >= m {
			break
		}
		end := min(start+rowsPerWorker, m)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				row := a[i*k : (i+1)*k]
				for j := 0; j < n; j++ {
					c[i*n+j] = simd.DotProduct(row, bt[j*k:(j+1)*k])
				}
			}
		}(start, end)
	}
	wg.Wait()
}

func accelMeanVar(x []float32) (float32, float32) {
	if len(x) == 0 {
		return 0, 0
	}
	n := float32(len(x))
	mean := simd.Sum(x) / n
	sq := make([]float32, len(x))
	for i, v := range x {
		d := v - mean
		sq[i] = d * d
	}
	return mean, simd.Sum(sq) / n
}

// batchNormReluKernel is batch_norm followed by relu on y in a single launch.
func batchNormReluKernel(e *engine[float32], in []*dense[float32], attrs Attrs) ([]*dense[float32], error) {
	out, err := batchNormKernel(e, in, attrs)
	if err != nil {
		return nil, err
	}
	y := out[0].data
	for i, v := range y {
		if v < 0 {
			y[i] = 0
		}
	}
	return out, nil
}
