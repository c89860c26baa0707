package tensor

import (
	"fmt"
	"strings"
)

// Shape represents the dimensions of a tensor. A nil or empty Shape is a 0-d scalar.
type Shape []int

// InferDim marks the one dimension of an expand target that is taken from the source.
const InferDim = -1

// NumElements returns the total number of elements; a scalar has one, any zero dimension gives zero.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int { return len(s) }

// Validate checks that every dimension is non-negative.
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim < 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be >= 0)", i, dim)
		}
	}
	return nil
}

// Equal checks if two shapes are equal. A nil shape equals an empty one.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// Strides returns row-major strides.
func (s Shape) Strides() []int {
	strides := make([]int, len(s))
	stride := 1
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= s[i]
	}
	return strides
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Broadcast applies NumPy broadcasting: shapes are aligned from the right and each pair of
// dimensions must be equal or contain a 1.
func Broadcast(a, b Shape) (Shape, error) {
	rank := max(len(a), len(b))
	out := make(Shape, rank)
	for i := 0; i < rank; i++ {
		da, db := 1, 1
		if j := len(a) - rank + i; j >= 0 {
			da = a[j]
		}
		if j := len(b) - rank + i; j >= 0 {
			db = b[j]
		}
		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable (dim %d: %d vs %d)", a, b, i, da, db)
		}
	}
	return out, nil
}

// ResolveExpand resolves an expand target against the source shape. The target may have more
// leading dimensions than src; InferDim entries take the aligned source dimension and are only
// allowed where a source dimension exists.
func ResolveExpand(src, target Shape) (Shape, error) {
	if len(target) < len(src) {
		return nil, fmt.Errorf("expand target %v has fewer dimensions than source %v", target, src)
	}
	offset := len(target) - len(src)
	out := make(Shape, len(target))
	for i, d := range target {
		j := i - offset
		if d == InferDim {
			if j < 0 {
				return nil, fmt.Errorf("expand target %v: -1 at new leading dimension %d", target, i)
			}
			out[i] = src[j]
			continue
		}
		if d < 0 {
			return nil, fmt.Errorf("expand target %v: invalid dimension %d", target, d)
		}
		if j >= 0 && src[j] != d && src[j] != 1 {
			return nil, fmt.Errorf("expand %v to %v: dimension %d is %d, must be 1 or %d", src, target, j, src[j], d)
		}
		out[i] = d
	}
	return out, nil
}

// unravel converts a flat row-major index into coordinates.
func unravel(flat int, shape Shape, coords []int) {
	for i := len(shape) - 1; i >= 0; i-- {
		if shape[i] == 0 {
			coords[i] = 0
			continue
		}
		coords[i] = flat % shape[i]
		flat /= shape[i]
	}
}

// Unravel returns the coordinates of a flat row-major index.
func (s Shape) Unravel(flat int) []int {
	coords := make([]int, len(s))
	unravel(flat, s, coords)
	return coords
}
