package device

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

func binaryKernel[E element](f func(x, y E) E) kernel[E] {
	return func(e *engine[E], in []*dense[E], _ Attrs) ([]*dense[E], error) {
		if err := wantInputs(in, 2); err != nil {
			return nil, err
		}
		a, b := in[0], in[1]
		shape, err := tensor.Broadcast(a.shape, b.shape)
		if err != nil {
			return nil, err
		}
		out := e.alloc(shape, tensor.Promote(a.kind, b.kind))
		if a.shape.Equal(b.shape) {
			for i := range out.data {
				out.data[i] = f(a.data[i], b.data[i])
			}
			return []*dense[E]{out}, nil
		}
		am := broadcastMap(a.shape, shape)
		bm := broadcastMap(b.shape, shape)
		for i := range out.data {
			out.data[i] = f(a.data[am[i]], b.data[bm[i]])
		}
		return []*dense[E]{out}, nil
	}
}

func divKernel[E element](e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 2); err != nil {
		return nil, err
	}
	if !in[0].kind.IsFloat() || !in[1].kind.IsFloat() {
		for _, v := range in[1].data {
			if v == 0 {
				return nil, fmt.Errorf("integer division by zero")
			}
		}
	}
	return binaryKernel[E](func(x, y E) E { return x / y })(e, in, attrs)
}

func scalarKernel[E element](f func(x, s E) E) kernel[E] {
	return func(e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
		if err := wantInputs(in, 1); err != nil {
			return nil, err
		}
		x := in[0]
		s := E(attrs.Float("scalar", 0))
		out := e.alloc(x.shape, x.kind)
		for i, v := range x.data {
			out.data[i] = f(v, s)
		}
		return []*dense[E]{out}, nil
	}
}

func unaryKernel[E element](f func(E) E) kernel[E] {
	return func(e *engine[E], in []*dense[E], _ Attrs) ([]*dense[E], error) {
		if err := wantInputs(in, 1); err != nil {
			return nil, err
		}
		x := in[0]
		out := e.alloc(x.shape, x.kind)
		for i, v := range x.data {
			out.data[i] = f(v)
		}
		return []*dense[E]{out}, nil
	}
}

func cosFn[E element](x E) E  { return E(math.Cos(float64(x))) }
func expFn[E element](x E) E  { return E(math.Exp(float64(x))) }
func sinFn[E element](x E) E  { return E(math.Sin(float64(x))) }
func sqrtFn[E element](x E) E { return E(math.Sqrt(float64(x))) }

func reluFn[E element](x E) E {
	if x > 0 {
		return x
	}
	return 0
}

// geluFn is the exact erf form, x * Phi(x).
func geluFn[E element](x E) E {
	v := float64(x)
	return E(0.5 * v * (1 + math.Erf(v/math.Sqrt2)))
}

func geluDeriv(v float64) float64 {
	cdf := 0.5 * (1 + math.Erf(v/math.Sqrt2))
	pdf := math.Exp(-0.5*v*v) / math.Sqrt(2*math.Pi)
	return cdf + v*pdf
}

// reluGradKernel takes (dy, y) and passes dy where the forward output was positive.
func reluGradKernel[E element](e *engine[E], in []*dense[E], _ Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 2); err != nil {
		return nil, err
	}
	dy, y := in[0], in[1]
	if !dy.shape.Equal(y.shape) {
		return nil, fmt.Errorf("relu_grad: dy %v and y %v differ", dy.shape, y.shape)
	}
	out := e.alloc(dy.shape, dy.kind)
	for i, v := range y.data {
		if v > 0 {
			out.data[i] = dy.data[i]
		}
	}
	return []*dense[E]{out}, nil
}

// geluGradKernel takes (dy, x).
func geluGradKernel[E element](e *engine[E], in []*dense[E], _ Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 2); err != nil {
		return nil, err
	}
	dy, x := in[0], in[1]
	if !dy.shape.Equal(x.shape) {
		return nil, fmt.Errorf("gelu_grad: dy %v and x %v differ", dy.shape, x.shape)
	}
	out := e.alloc(dy.shape, dy.kind)
	for i, v := range x.data {
		out.data[i] = dy.data[i] * E(geluDeriv(float64(v)))
	}
	return []*dense[E]{out}, nil
}

func castKernel[E element](e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 1); err != nil {
		return nil, err
	}
	kind := attrs.Kind("kind", tensor.Invalid)
	if kind == tensor.Invalid {
		return nil, fmt.Errorf("cast: missing target kind")
	}
	out := e.alloc(in[0].shape, kind)
	copy(out.data, in[0].data)
	return []*dense[E]{out}, nil
}
