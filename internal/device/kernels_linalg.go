package device

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

// matmulKernel multiplies [..., M, K] by [..., K, N]; leading batch dimensions broadcast.
// Attributes transpose_a / transpose_b swap the last two dimensions of the operand first.
func matmulKernel[E element](e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 2); err != nil {
		return nil, err
	}
	a, b := in[0], in[1]
	if a.shape.Rank() < 2 || b.shape.Rank() < 2 {
		return nil, fmt.Errorf("matmul needs rank >= 2 operands, got %v and %v", a.shape, b.shape)
	}
	if attrs.Bool("transpose_a", false) {
		a = transposeLast(e, a)
	}
	if attrs.Bool("transpose_b", false) {
		b = transposeLast(e, b)
	}
	ra, rb := a.shape.Rank(), b.shape.Rank()
	m, k := a.shape[ra-2], a.shape[ra-1]
	kb, n := b.shape[rb-2], b.shape[rb-1]
	if k != kb {
		return nil, fmt.Errorf("matmul: contracting dimensions differ: %v x %v", a.shape, b.shape)
	}
	batchA, batchB := a.shape[:ra-2], b.shape[:rb-2]
	batch, err := tensor.Broadcast(batchA, batchB)
	if err != nil {
		return nil, fmt.Errorf("matmul: %w", err)
	}
	outShape := append(batch.Clone(), m, n)
	out := e.alloc(outShape, tensor.Promote(a.kind, b.kind))

	am := broadcastMap(batchA, batch)
	bm := broadcastMap(batchB, batch)
	for i := range am {
		aOff, bOff, cOff := am[i]*m*k, bm[i]*k*n, i*m*n
		e.gemm(m, n, k, a.data[aOff:aOff+m*k], b.data[bOff:bOff+k*n], out.data[cOff:cOff+m*n])
	}
	return []*dense[E]{out}, nil
}

func transposeLast[E element](e *engine[E], t *dense[E]) *dense[E] {
	r := t.shape.Rank()
	rows, cols := t.shape[r-2], t.shape[r-1]
	shape := t.shape.Clone()
	shape[r-2], shape[r-1] = cols, rows
	out := e.alloc(shape, t.kind)
	plane := rows * cols
	if plane == 0 {
		return out
	}
	for p := 0; p < len(t.data)/plane; p++ {
		src := t.data[p*plane : (p+1)*plane]
		dst := out.data[p*plane : (p+1)*plane]
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				dst[j*rows+i] = src[i*cols+j]
			}
		}
	}
	return out
}

func transposeKernel[E element](e *engine[E], in []*dense[E], _ Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 1); err != nil {
		return nil, err
	}
	if in[0].shape.Rank() < 2 {
		return nil, fmt.Errorf("transpose needs rank >= 2, got %v", in[0].shape)
	}
	return []*dense[E]{transposeLast(e, in[0])}, nil
}

// sumKernel reduces every element to a 0-d tensor.
func sumKernel[E element](e *engine[E], in []*dense[E], _ Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 1); err != nil {
		return nil, err
	}
	out := e.alloc(tensor.Shape{}, in[0].kind)
	out.data[0] = e.sum(in[0].data)
	return []*dense[E]{out}, nil
}

// sumToShapeKernel sums a broadcast result back down to the shape attribute; the inverse of
// broadcasting, used to reduce gradients of broadcast operands.
func sumToShapeKernel[E element](e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 1); err != nil {
		return nil, err
	}
	x := in[0]
	target := tensor.Shape(attrs.Ints("shape"))
	if target == nil {
		target = tensor.Shape{}
	}
	if b, err := tensor.Broadcast(target, x.shape); err != nil || !b.Equal(x.shape) {
		return nil, fmt.Errorf("sum_to_shape: %v does not broadcast to %v", target, x.shape)
	}
	out := e.alloc(target, x.kind)
	for i, dst := range broadcastMap(target, x.shape) {
		out.data[dst] += x.data[i]
	}
	return []*dense[E]{out}, nil
}

// reduceSumPowAbsKernel returns sum(|x|^p) over every element of every input.
func reduceSumPowAbsKernel[E element](e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
	p := attrs.Float("p", 2)
	kind := tensor.Float32
	if len(in) > 0 {
		kind = in[0].kind
	}
	out := e.alloc(tensor.Shape{}, kind)
	var acc E
	for _, t := range in {
		part := make([]E, len(t.data))
		for i, v := range t.data {
			part[i] = E(math.Pow(math.Abs(float64(v)), p))
		}
		acc += e.sum(part)
	}
	out.data[0] = acc
	return []*dense[E]{out}, nil
}

// countNotFiniteKernel counts NaN and infinite elements across every input.
func countNotFiniteKernel[E element](e *engine[E], in []*dense[E], _ Attrs) ([]*dense[E], error) {
	out := e.alloc(tensor.Shape{}, tensor.Int64)
	var n int
	for _, t := range in {
		for _, v := range t.data {
			f := float64(v)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				n++
			}
		}
	}
	out.data[0] = E(n)
	return []*dense[E]{out}, nil
}
