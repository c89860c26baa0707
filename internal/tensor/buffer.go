package tensor

import (
	"fmt"
	"math"
)

// Buffer is a host-resident, row-major numeric buffer. Values are held as float64 regardless of
// Kind; every value is already rounded to Kind, so integer and float16 data round-trip exactly.
type Buffer struct {
	shape Shape
	kind  Kind
	data  []float64
}

// NewBuffer copies data into a new buffer of the given shape and kind, rounding each value to kind.
// A nil data slice yields zeros.
func NewBuffer(shape Shape, kind Kind, data []float64) (*Buffer, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if _, ok := kindNames[kind]; !ok {
		return nil, fmt.Errorf("invalid element kind %d", kind)
	}
	n := shape.NumElements()
	if data != nil && len(data) != n {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}
	b := &Buffer{shape: shape.Clone(), kind: kind, data: make([]float64, n)}
	for i, v := range data {
		b.data[i] = kind.Round(v)
	}
	return b, nil
}

// MustBuffer is NewBuffer for literals known to be well formed.
func MustBuffer(shape Shape, kind Kind, data []float64) *Buffer {
	b, err := NewBuffer(shape, kind, data)
	if err != nil {
		panic(err)
	}
	return b
}

// Zeros returns a zero-filled buffer.
func Zeros(shape Shape, kind Kind) (*Buffer, error) {
	return NewBuffer(shape, kind, nil)
}

// Full returns a buffer with every element set to value.
func Full(shape Shape, kind Kind, value float64) (*Buffer, error) {
	b, err := NewBuffer(shape, kind, nil)
	if err != nil {
		return nil, err
	}
	v := kind.Round(value)
	for i := range b.data {
		b.data[i] = v
	}
	return b, nil
}

// Scalar returns a 0-d buffer.
func Scalar(kind Kind, value float64) *Buffer {
	return &Buffer{shape: Shape{}, kind: kind, data: []float64{kind.Round(value)}}
}

// Shape returns a copy of the buffer shape.
func (b *Buffer) Shape() Shape { return b.shape.Clone() }

// Kind returns the element kind.
func (b *Buffer) Kind() Kind { return b.kind }

// Len returns the number of elements.
func (b *Buffer) Len() int { return len(b.data) }

// Data returns the underlying values. Callers must not modify them.
func (b *Buffer) Data() []float64 { return b.data }

// At returns the element at the given coordinates.
func (b *Buffer) At(coords ...int) float64 {
	if len(coords) != len(b.shape) {
		panic(fmt.Sprintf("At: got %d coordinates for shape %v", len(coords), b.shape))
	}
	idx := 0
	for i, c := range coords {
		idx = idx*b.shape[i] + c
	}
	return b.data[idx]
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	out := &Buffer{shape: b.shape.Clone(), kind: b.kind, data: make([]float64, len(b.data))}
	copy(out.data, b.data)
	return out
}

// Cast returns a copy of the buffer converted to kind.
func (b *Buffer) Cast(kind Kind) *Buffer {
	out := &Buffer{shape: b.shape.Clone(), kind: kind, data: make([]float64, len(b.data))}
	for i, v := range b.data {
		out.data[i] = kind.Round(v)
	}
	return out
}

// Reshape returns a buffer sharing no memory with b, with a new shape of equal size.
func (b *Buffer) Reshape(shape Shape) (*Buffer, error) {
	if shape.NumElements() != len(b.data) {
		return nil, fmt.Errorf("cannot reshape %v into %v", b.shape, shape)
	}
	out := b.Clone()
	out.shape = shape.Clone()
	return out, nil
}

// Float32s returns the values narrowed to float32.
func (b *Buffer) Float32s() []float32 {
	out := make([]float32, len(b.data))
	for i, v := range b.data {
		out[i] = float32(v)
	}
	return out
}

// Ints returns the values truncated to int. Used for index operands.
func (b *Buffer) Ints() []int {
	out := make([]int, len(b.data))
	for i, v := range b.data {
		out[i] = int(v)
	}
	return out
}

// Equal reports exact equality of shape, kind and values (NaN equals NaN).
func (b *Buffer) Equal(other *Buffer) bool {
	if other == nil || b.kind != other.kind || !b.shape.Equal(other.shape) {
		return false
	}
	for i, v := range b.data {
		w := other.data[i]
		if v != w && !(math.IsNaN(v) && math.IsNaN(w)) {
			return false
		}
	}
	return true
}

func (b *Buffer) String() string {
	const maxShown = 8
	if len(b.data) <= maxShown {
		return fmt.Sprintf("%s%v%v", b.kind, b.shape, b.data)
	}
	return fmt.Sprintf("%s%v%v...", b.kind, b.shape, b.data[:maxShown])
}
