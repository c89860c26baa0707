package device

import (
	"fmt"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

// gatherKernel takes (x, index) and picks along attribute dim:
// out[i][j][k] = x[i][index[i][j][k]][k] for dim 1. The output has the index's shape.
func gatherKernel[E element](e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 2); err != nil {
		return nil, err
	}
	x, idx := in[0], in[1]
	if x.shape.Rank() != idx.shape.Rank() {
		return nil, fmt.Errorf("gather: index rank %d differs from input rank %d", idx.shape.Rank(), x.shape.Rank())
	}
	dim, err := normalizeDim(attrs.Int("dim", 0), x.shape.Rank())
	if err != nil {
		return nil, err
	}
	for d := range idx.shape {
		if d != dim && idx.shape[d] > x.shape[d] {
			return nil, fmt.Errorf("gather: index %v exceeds input %v at dim %d", idx.shape, x.shape, d)
		}
	}
	if err := checkIndex(idx, x.shape[dim], "index"); err != nil {
		return nil, err
	}
	out := e.alloc(idx.shape, x.kind)
	strides := x.shape.Strides()
	coords := make([]int, idx.shape.Rank())
	for flat := range out.data {
		unravelInto(flat, idx.shape, coords)
		src := 0
		for d, c := range coords {
			if d == dim {
				c = int(idx.data[flat])
			}
			src += c * strides[d]
		}
		out.data[flat] = x.data[src]
	}
	return []*dense[E]{out}, nil
}

// gatherNDKernel takes (x, index). The last index dimension k addresses the leading k dims of x;
// the output shape is index.shape[:-1] + x.shape[k:].
func gatherNDKernel[E element](e *engine[E], in []*dense[E], _ Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 2); err != nil {
		return nil, err
	}
	x, idx := in[0], in[1]
	if idx.shape.Rank() < 1 {
		return nil, fmt.Errorf("gather_nd: index must have rank >= 1")
	}
	if idx.kind.IsFloat() {
		return nil, fmt.Errorf("gather_nd: index must be an integer tensor, got %s", idx.kind)
	}
	k := idx.shape[idx.shape.Rank()-1]
	if k > x.shape.Rank() {
		return nil, fmt.Errorf("gather_nd: index depth %d exceeds input rank %d", k, x.shape.Rank())
	}
	slice := x.shape[k:]
	sliceLen := slice.NumElements()
	lead := idx.shape[:idx.shape.Rank()-1]
	outShape := append(lead.Clone(), slice...)
	out := e.alloc(outShape, x.kind)
	strides := x.shape.Strides()
	for p := 0; p < lead.NumElements(); p++ {
		src := 0
		for d := 0; d < k; d++ {
			c := int(idx.data[p*k+d])
			if c < 0 || c >= x.shape[d] {
				return nil, fmt.Errorf("gather_nd: index %d out of range [0, %d) at dim %d", c, x.shape[d], d)
			}
			src += c * strides[d]
		}
		copy(out.data[p*sliceLen:(p+1)*sliceLen], x.data[src:src+sliceLen])
	}
	return []*dense[E]{out}, nil
}

// indexSelectKernel takes (x, index) with a 1-D index and selects whole slices along dim.
func indexSelectKernel[E element](e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 2); err != nil {
		return nil, err
	}
	x, idx := in[0], in[1]
	if idx.shape.Rank() != 1 {
		return nil, fmt.Errorf("index_select: index must be 1-D, got %v", idx.shape)
	}
	dim, err := normalizeDim(attrs.Int("dim", 0), x.shape.Rank())
	if err != nil {
		return nil, err
	}
	if err := checkIndex(idx, x.shape[dim], "index"); err != nil {
		return nil, err
	}
	outer := x.shape[:dim].NumElements()
	inner := x.shape[dim+1:].NumElements()
	outShape := x.shape.Clone()
	outShape[dim] = idx.shape[0]
	out := e.alloc(outShape, x.kind)
	n := idx.shape[0]
	for o := 0; o < outer; o++ {
		for j := 0; j < n; j++ {
			src := (o*x.shape[dim] + int(idx.data[j])) * inner
			dst := (o*n + j) * inner
			copy(out.data[dst:dst+inner], x.data[src:src+inner])
		}
	}
	return []*dense[E]{out}, nil
}

// expandKernel broadcasts x to attribute shape; -1 keeps the source extent.
func expandKernel[E element](e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 1); err != nil {
		return nil, err
	}
	target, err := tensor.ResolveExpand(in[0].shape, attrs.Ints("shape"))
	if err != nil {
		return nil, err
	}
	return []*dense[E]{broadcastTo(e, in[0], target)}, nil
}

// broadcastLikeKernel takes (x, like). When x has fewer dimensions than like, attribute axes
// names the positions in like that x is missing; without axes the shapes align from the right.
func broadcastLikeKernel[E element](e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 2); err != nil {
		return nil, err
	}
	x, like := in[0], in[1]
	src := x.shape
	if axes := attrs.Ints("axes"); len(axes) > 0 {
		if x.shape.Rank()+len(axes) != like.shape.Rank() {
			return nil, fmt.Errorf("broadcast_like: %v plus %d axes does not reach rank of %v", x.shape, len(axes), like.shape)
		}
		missing := make(map[int]bool, len(axes))
		for _, a := range axes {
			a, err := normalizeDim(a, like.shape.Rank())
			if err != nil {
				return nil, fmt.Errorf("broadcast_like: %w", err)
			}
			missing[a] = true
		}
		if len(missing) != len(axes) {
			return nil, fmt.Errorf("broadcast_like: duplicate axes %v", axes)
		}
		src = make(tensor.Shape, 0, like.shape.Rank())
		j := 0
		for d := range like.shape {
			if missing[d] {
				src = append(src, 1)
				continue
			}
			src = append(src, x.shape[j])
			j++
		}
	}
	target, err := tensor.ResolveExpand(src, like.shape)
	if err != nil {
		return nil, fmt.Errorf("broadcast_like: %w", err)
	}
	view := &dense[E]{device: x.device, shape: src, kind: x.kind, data: x.data}
	return []*dense[E]{broadcastTo(e, view, target)}, nil
}

func unravelInto(flat int, shape tensor.Shape, coords []int) {
	for i := len(shape) - 1; i >= 0; i-- {
		if shape[i] == 0 {
			coords[i] = 0
			continue
		}
		coords[i] = flat % shape[i]
		flat /= shape[i]
	}
}
