package parity

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

func TestEnumerate_OrderAndIdempotence(t *testing.T) {
	m := NewMatrix().
		Add("shape", []int{2, 3}, []int{4}).
		Add("kind", tensor.Float32, tensor.Float16, tensor.Int32)

	first := Cases(m)
	require.Len(t, first, 6)
	assert.Equal(t, m.Len(), len(first))

	// last parameter varies fastest
	assert.Equal(t, tensor.Shape{2, 3}, first[0].Shape("shape"))
	assert.Equal(t, tensor.Float32, first[0].Kind("kind"))
	assert.Equal(t, tensor.Float16, first[1].Kind("kind"))
	assert.Equal(t, tensor.Shape{4}, first[3].Shape("shape"))
	for i, c := range first {
		assert.Equal(t, i, c.Index)
	}

	second := Cases(m)
	assert.Equal(t, first, second)
}

func TestEnumerate_EdgeCases(t *testing.T) {
	assert.Len(t, Cases(NewMatrix()), 1, "empty matrix has one empty case")
	assert.Empty(t, Cases(NewMatrix().Add("a", 1, 2).Add("b")), "an empty value list yields no cases")

	m := NewMatrix().Add("a", 1).Add("b", "x").Add("a", 5, 6)
	assert.Equal(t, []string{"a", "b"}, m.Names())
	cases := Cases(m)
	require.Len(t, cases, 2)
	assert.Equal(t, 6, cases[1].Int("a"))

	n := 0
	for range Enumerate(NewMatrix().Add("a", 1, 2, 3, 4)) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestCase_Accessors(t *testing.T) {
	c := Cases(NewMatrix().
		Add("dim", 1).
		Add("scale", 1.5).
		Add("reduction", "mean").
		Add("train", true).
		Add("kind", "f16"))[0]

	assert.Equal(t, 1, c.Int("dim"))
	assert.Equal(t, 1.5, c.Float("scale"))
	assert.Equal(t, "mean", c.Str("reduction"))
	assert.True(t, c.Bool("train"))
	assert.Equal(t, tensor.Float16, c.Kind("kind"))
	assert.False(t, c.Has("missing"))
	assert.Nil(t, c.Get("missing"))
	assert.Equal(t, "#0{dim=1, scale=1.5, reduction=mean, train=true, kind=f16}", c.String())
}

func TestSynthesize(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))

	t.Run("UniformWithinBounds", func(t *testing.T) {
		b, err := Synthesize(Uniform("x", tensor.Shape{100}, tensor.Float32, -2, 3), rng)
		require.NoError(t, err)
		for _, v := range b.Data() {
			assert.GreaterOrEqual(t, v, -2.0)
			assert.Less(t, v, 3.0)
		}
	})

	t.Run("IntRange", func(t *testing.T) {
		b, err := Synthesize(IntRange("i", tensor.Shape{50}, tensor.Int64, 0, 3), rng)
		require.NoError(t, err)
		for _, v := range b.Data() {
			assert.Contains(t, []float64{0, 1, 2}, v)
		}
	})

	t.Run("Clipped", func(t *testing.T) {
		b, err := Synthesize(Normal("x", tensor.Shape{200}, tensor.Float32).Clipped(0, 1e4), rng)
		require.NoError(t, err)
		for _, v := range b.Data() {
			assert.GreaterOrEqual(t, v, 0.0)
		}
	})

	t.Run("LiteralLengthMismatch", func(t *testing.T) {
		_, err := Synthesize(Literal("x", tensor.Shape{2, 2}, tensor.Float32, 1, 2, 3), rng)
		var se *SynthesisError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "x", se.Operand)
	})

	t.Run("UnresolvedPlaceholder", func(t *testing.T) {
		_, err := Synthesize(Normal("x", tensor.Shape{2, -1}, tensor.Float32), rng)
		var se *SynthesisError
		assert.ErrorAs(t, err, &se)
	})

	t.Run("ZeroSizedAndScalar", func(t *testing.T) {
		b, err := Synthesize(Normal("x", tensor.Shape{0, 4}, tensor.Float32), rng)
		require.NoError(t, err)
		assert.Equal(t, 0, b.Len())
		s, err := Synthesize(Normal("s", tensor.Shape{}, tensor.Float32), rng)
		require.NoError(t, err)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("Deterministic", func(t *testing.T) {
		spec := Normal("x", tensor.Shape{8}, tensor.Float32)
		a, err := Synthesize(spec, rand.New(rand.NewPCG(9, 9)))
		require.NoError(t, err)
		b, err := Synthesize(spec, rand.New(rand.NewPCG(9, 9)))
		require.NoError(t, err)
		assert.True(t, a.Equal(b))
	})
}

func TestSynthesizeAll_IndexValidation(t *testing.T) {
	rng := rand.New(rand.NewPCG(2, 2))
	x := Normal("x", tensor.Shape{2, 2}, tensor.Float32)

	_, err := SynthesizeAll([]OperandSpec{x, Literal("index", tensor.Shape{2, 2}, tensor.Int64, 0, 0, 1, 0).Indexes(0, 1)}, rng)
	assert.NoError(t, err)

	_, err = SynthesizeAll([]OperandSpec{x, Literal("index", tensor.Shape{2, 2}, tensor.Int64, 0, 2, 1, 0).Indexes(0, 1)}, rng)
	var se *SynthesisError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "index", se.Operand)

	_, err = SynthesizeAll([]OperandSpec{x, Literal("coords", tensor.Shape{1, 2}, tensor.Int64, 1, 5).IndexesND(0)}, rng)
	assert.ErrorAs(t, err, &se)

	_, err = SynthesizeAll([]OperandSpec{x, Literal("coords", tensor.Shape{2, 1}, tensor.Int64, 1, 0).IndexesND(0)}, rng)
	assert.NoError(t, err)
}
