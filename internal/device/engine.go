package device

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

// element is the storage type of a backend: float64 on the reference, float32 on the accelerator.
type element interface {
	~float32 | ~float64
}

// dense is the tensor type shared by the in-process backends.
type dense[E element] struct {
	device string
	shape  tensor.Shape
	kind   tensor.Kind
	data   []E
}

var _ Tensor = (*dense[float32])(nil)
var _ Tensor = (*dense[float64])(nil)

func (t *dense[E]) Shape() tensor.Shape { return t.shape.Clone() }
func (t *dense[E]) Kind() tensor.Kind   { return t.kind }
func (t *dense[E]) Device() string      { return t.device }

func (t *dense[E]) ToHost() *tensor.Buffer {
	out := make([]float64, len(t.data))
	for i, v := range t.data {
		out[i] = float64(v)
	}
	buf, err := tensor.NewBuffer(t.shape, t.kind, out)
	if err != nil {
		// shape and kind were validated at creation
		panic(err)
	}
	return buf
}

// kernel is one device implementation of a named operation.
type kernel[E element] func(e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error)

// engine implements Backend over a kernel table. The CPU and accelerator backends differ in
// storage precision and in the gemm, sum and statistics primitives they plug in.
type engine[E element] struct {
	name     string
	kernels  map[string]kernel[E]
	withheld map[string]bool
	workers  int

	gemm    func(m, n, k int, a, b, c []E)
	sum     func(x []E) E
	meanVar func(x []E) (mean, variance E)
}

func newEngine[E element](name string, cfg Config) *engine[E] {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	e := &engine[E]{
		name:     name,
		kernels:  commonKernels[E](),
		withheld: make(map[string]bool),
		workers:  workers,
		sum:      naiveSum[E],
		meanVar:  twoPassMeanVar[E],
	}
	for _, entry := range cfg.Unsupported {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry != "" {
			e.withheld[entry] = true
		}
	}
	return e
}

func (e *engine[E]) Name() string { return e.name }

func (e *engine[E]) Synchronize() {}

func (e *engine[E]) Close() error { return nil }

func (e *engine[E]) isWithheld(op string, kind tensor.Kind) bool {
	return e.withheld[op] || e.withheld[op+":"+kind.String()]
}

func (e *engine[E]) Supports(op string, kind tensor.Kind) bool {
	if e.isWithheld("upload", kind) {
		return false
	}
	if _, ok := e.kernels[op]; !ok {
		return false
	}
	return !e.isWithheld(op, kind)
}

func (e *engine[E]) Upload(buf *tensor.Buffer) (Tensor, error) {
	if buf == nil {
		return nil, errors.New("upload: nil buffer")
	}
	if e.isWithheld("upload", buf.Kind()) {
		unsupportedTotal.WithLabelValues(e.name, "upload").Inc()
		return nil, &UnsupportedError{Device: e.name, Op: "upload", Kind: buf.Kind()}
	}
	t := e.alloc(buf.Shape(), buf.Kind())
	for i, v := range buf.Data() {
		t.data[i] = E(v)
	}
	e.round(t)
	return t, nil
}

func (e *engine[E]) Launch(ctx context.Context, op string, inputs []Tensor, attrs Attrs) (out []Tensor, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, ok := e.kernels[op]
	if !ok {
		unsupportedTotal.WithLabelValues(e.name, op).Inc()
		return nil, &UnsupportedError{Device: e.name, Op: op, Reason: "no kernel"}
	}
	in := make([]*dense[E], len(inputs))
	if e.withheld[op] {
		unsupportedTotal.WithLabelValues(e.name, op).Inc()
		return nil, &UnsupportedError{Device: e.name, Op: op}
	}
	for i, t := range inputs {
		if t == nil {
			return nil, errors.Errorf("%s: input %d of %s is nil", e.name, i, op)
		}
		d, ok := t.(*dense[E])
		if !ok || d.device != e.name {
			return nil, errors.Errorf("%s: input %d of %s is bound to device %q", e.name, i, op, t.Device())
		}
		if e.isWithheld(op, d.kind) {
			unsupportedTotal.WithLabelValues(e.name, op).Inc()
			return nil, &UnsupportedError{Device: e.name, Op: op, Kind: d.kind}
		}
		in[i] = d
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("device", e.name).Str("op", op).Interface("panic", r).Msg("Kernel panicked")
			out, err = nil, fmt.Errorf("%s: kernel %s panicked: %v", e.name, op, r)
		}
	}()

	kernelLaunches.WithLabelValues(e.name, op).Inc()
	res, err := k(e, in, attrs)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: %s", e.name, op)
	}
	out = make([]Tensor, len(res))
	for i, r := range res {
		e.round(r)
		out[i] = r
	}
	return out, nil
}

func (e *engine[E]) alloc(shape tensor.Shape, kind tensor.Kind) *dense[E] {
	return &dense[E]{
		device: e.name,
		shape:  shape.Clone(),
		kind:   kind,
		data:   make([]E, shape.NumElements()),
	}
}

// round snaps every element to the tensor's kind, the way the device would store it.
func (e *engine[E]) round(t *dense[E]) {
	var zero E
	_, native32 := any(zero).(float32)
	switch {
	case t.kind == tensor.Float64:
		return
	case t.kind == tensor.Float32 && native32:
		return
	}
	for i, v := range t.data {
		t.data[i] = E(t.kind.Round(float64(v)))
	}
}

func naiveSum[E element](x []E) E {
	var s E
	for _, v := range x {
		s += v
	}
	return s
}

func twoPassMeanVar[E element](x []E) (E, E) {
	if len(x) == 0 {
		return 0, 0
	}
	n := E(len(x))
	var s E
	for _, v := range x {
		s += v
	}
	mean := s / n
	var ss E
	for _, v := range x {
		d := v - mean
		ss += d * d
	}
	return mean, ss / n
}
