package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_Round(t *testing.T) {
	tests := []struct {
		kind Kind
		in   float64
		want float64
	}{
		{Float64, 0.1, 0.1},
		{Float32, 0.1, float64(float32(0.1))},
		{Float16, 1.0, 1.0},
		{Float16, 65504, 65504},
		{Float16, 0.1, 0.0999755859375},
		{Int32, 2.9, 2},
		{Int32, -2.9, -2},
		{Int8, 130, -126},
		{Uint8, -1, 255},
		{Int64, 1 << 40, 1 << 40},
		{Int32, math.NaN(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.Round(tt.in))
		})
	}
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"float16", "half", "f32", "int", "uint8", "int64"} {
		k, err := ParseKind(s)
		require.NoError(t, err, s)
		assert.NotEqual(t, Invalid, k)
	}
	_, err := ParseKind("complex64")
	assert.Error(t, err)
}

func TestPromote(t *testing.T) {
	assert.Equal(t, Float32, Promote(Int64, Float32))
	assert.Equal(t, Int64, Promote(Int32, Int64))
	assert.Equal(t, Float16, Promote(Float16, Float16))
}

func TestShape_NumElements(t *testing.T) {
	assert.Equal(t, 1, Shape{}.NumElements())
	assert.Equal(t, 1, Shape(nil).NumElements())
	assert.Equal(t, 0, Shape{3, 0, 2}.NumElements())
	assert.Equal(t, 24, Shape{2, 3, 4}.NumElements())
}

func TestShape_Strides(t *testing.T) {
	assert.Equal(t, []int{12, 4, 1}, Shape{2, 3, 4}.Strides())
	assert.Equal(t, []int{}, Shape{}.Strides())
}

func TestBroadcast(t *testing.T) {
	tests := []struct {
		a, b, want Shape
		wantErr    bool
	}{
		{Shape{3, 1}, Shape{3, 5}, Shape{3, 5}, false},
		{Shape{1, 5}, Shape{3, 1}, Shape{3, 5}, false},
		{Shape{5}, Shape{2, 3, 5}, Shape{2, 3, 5}, false},
		{Shape{}, Shape{2, 3}, Shape{2, 3}, false},
		{Shape{0, 3}, Shape{1, 3}, Shape{0, 3}, false},
		{Shape{2, 3}, Shape{3, 2}, nil, true},
	}
	for _, tt := range tests {
		got, err := Broadcast(tt.a, tt.b)
		if tt.wantErr {
			assert.Error(t, err, "%v %v", tt.a, tt.b)
			continue
		}
		require.NoError(t, err)
		assert.True(t, tt.want.Equal(got), "Broadcast(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
	}
}

func TestResolveExpand(t *testing.T) {
	got, err := ResolveExpand(Shape{1, 6, 5, 3}, Shape{4, -1, 5, 3})
	require.NoError(t, err)
	assert.Equal(t, Shape{4, 6, 5, 3}, got)

	got, err = ResolveExpand(Shape{1, 4, 1, 32}, Shape{2, 1, 2, 4, 2, 32})
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 1, 2, 4, 2, 32}, got)

	_, err = ResolveExpand(Shape{2, 4}, Shape{3, 4})
	assert.Error(t, err)

	_, err = ResolveExpand(Shape{4}, Shape{-1, 4})
	assert.Error(t, err, "-1 in a new leading dimension has nothing to infer from")
}

func TestBuffer(t *testing.T) {
	t.Run("RoundsOnConstruction", func(t *testing.T) {
		b, err := NewBuffer(Shape{3}, Int32, []float64{1.5, -2.5, 3})
		require.NoError(t, err)
		assert.Equal(t, []float64{1, -2, 3}, b.Data())
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		_, err := NewBuffer(Shape{2, 2}, Float32, []float64{1, 2, 3})
		assert.Error(t, err)
	})

	t.Run("ZeroSize", func(t *testing.T) {
		b, err := Zeros(Shape{0, 4}, Float32)
		require.NoError(t, err)
		assert.Equal(t, 0, b.Len())
	})

	t.Run("Scalar", func(t *testing.T) {
		b := Scalar(Float32, 2)
		assert.Equal(t, 0, b.Shape().Rank())
		assert.Equal(t, 1, b.Len())
		assert.Equal(t, 2.0, b.At())
	})

	t.Run("At", func(t *testing.T) {
		b := MustBuffer(Shape{2, 3}, Float64, []float64{0, 1, 2, 3, 4, 5})
		assert.Equal(t, 5.0, b.At(1, 2))
		assert.Equal(t, []int{1, 2}, b.Shape().Unravel(5))
	})

	t.Run("CastAndClone", func(t *testing.T) {
		b := MustBuffer(Shape{2}, Float64, []float64{0.1, 1e6})
		h := b.Cast(Float16)
		assert.Equal(t, Float16, h.Kind())
		assert.InDelta(t, 0.1, h.Data()[0], 1e-3)
		c := b.Clone()
		assert.True(t, c.Equal(b))
		assert.False(t, h.Equal(b))
	})

	t.Run("Reshape", func(t *testing.T) {
		b := MustBuffer(Shape{2, 3}, Float32, nil)
		r, err := b.Reshape(Shape{3, 2})
		require.NoError(t, err)
		assert.Equal(t, Shape{3, 2}, r.Shape())
		_, err = b.Reshape(Shape{4})
		assert.Error(t, err)
	})
}
