package suites

import (
	"fmt"

	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/parity"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// gatherProblem is one dim_gather layout. Inputs without literal values are drawn from a normal
// distribution and indices without literal values uniformly from [0, IndexHigh).
type gatherProblem struct {
	Name       string
	Shape      tensor.Shape
	Values     []float64
	IndexShape tensor.Shape
	Index      []float64
	IndexHigh  int
	Dim        int
}

func (g gatherProblem) String() string { return fmt.Sprintf("%s/dim%d", g.Name, g.Dim) }

func (g gatherProblem) operands(indexKind tensor.Kind) []parity.OperandSpec {
	x := parity.Normal("x", g.Shape, tensor.Float32)
	if g.Values != nil {
		x = parity.Literal("x", g.Shape, tensor.Float32, g.Values...)
	}
	idx := parity.IntRange("index", g.IndexShape, indexKind, 0, g.IndexHigh)
	if g.Index != nil {
		idx = parity.Literal("index", g.IndexShape, indexKind, g.Index...)
	}
	return []parity.OperandSpec{x, idx.Indexes(0, g.Dim)}
}

func gatherProblems() []any {
	var out []any
	for _, dim := range []int{0, 1} {
		out = append(out, gatherProblem{
			Name: "2x2", Shape: tensor.Shape{2, 2}, Values: []float64{1, 2, 3, 4},
			IndexShape: tensor.Shape{2, 2}, Index: []float64{0, 0, 1, 0}, Dim: dim,
		})
	}
	for _, dim := range []int{1, 2, 3} {
		out = append(out, gatherProblem{
			Name: "4d", Shape: tensor.Shape{3, 4, 3, 5},
			IndexShape: tensor.Shape{3, 4, 3, 5}, IndexHigh: 3, Dim: dim,
		})
	}
	return append(out, gatherProblem{
		Name: "1d", Shape: tensor.Shape{1}, Values: []float64{1},
		IndexShape: tensor.Shape{1}, Index: []float64{0},
	})
}

func DimGather() *parity.Suite {
	return &parity.Suite{
		Name:        "dim_gather",
		Description: "gather along a dimension with int32 and int64 indices",
		Matrix: parity.NewMatrix().
			Add("problem", gatherProblems()...).
			Add("index_kind", tensor.Int32, tensor.Int64),
		Op: op("gather"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			p, ok := c.Get("problem").(gatherProblem)
			if !ok {
				return nil, fmt.Errorf("case %v has no gather problem", c)
			}
			return p.operands(c.Kind("index_kind")), nil
		},
		Params: func(c parity.Case) device.Attrs {
			p, _ := c.Get("problem").(gatherProblem)
			return device.Attrs{"dim": p.Dim}
		},
	}
}

func GatherND() *parity.Suite {
	return &parity.Suite{
		Name:        "gather_nd",
		Description: "gather_nd with a coordinate tensor into the leading dimensions",
		Matrix: parity.NewMatrix().
			Add("shape", tensor.Shape{3, 4, 5, 6}).
			Add("kind", tensor.Float32, tensor.Int32, tensor.Float16).
			Add("index_kind", tensor.Int64, tensor.Int32),
		Op: op("gather_nd"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			return []parity.OperandSpec{
				parity.Normal("x", c.Shape("shape"), c.Kind("kind")),
				parity.Literal("index", tensor.Shape{2, 2}, c.Kind("index_kind"), 0, 1, 1, 2).IndexesND(0),
			}, nil
		},
	}
}

func IndexSelect() *parity.Suite {
	shape := tensor.Shape{3, 5, 2, 4}
	return &parity.Suite{
		Name:        "index_select",
		Description: "index_select along every dimension of a 4-d input",
		Matrix: parity.NewMatrix().
			Add("dim", 0, 1, 2, 3).
			Add("length", 1, 7),
		Op: op("index_select"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			dim := c.Int("dim")
			return []parity.OperandSpec{
				parity.Normal("x", shape, tensor.Float32),
				parity.IntRange("index", tensor.Shape{c.Int("length")}, tensor.Int32, 0, shape[dim]).Indexes(0, dim),
			}, nil
		},
		Params: func(c parity.Case) device.Attrs {
			return device.Attrs{"dim": c.Int("dim")}
		},
	}
}

// Expand checks expansion to a target shape that may contain -1 placeholders. The placeholder is
// resolved by each backend against the input shape.
func Expand() *parity.Suite {
	return &parity.Suite{
		Name:        "expand",
		Description: "expand with new leading dimensions and -1 placeholders",
		Matrix: parity.NewMatrix().
			Add("shapes",
				shapes{In: tensor.Shape{1, 4, 1, 32}, Out: tensor.Shape{2, 1, 2, 4, 2, 32}},
				shapes{In: tensor.Shape{2, 4, 1, 32}, Out: tensor.Shape{2, 4, 2, 32}},
				shapes{In: tensor.Shape{1, 6, 5, 3}, Out: tensor.Shape{4, tensor.InferDim, 5, 3}}).
			Add("kind", tensor.Float32, tensor.Int32),
		Op: op("expand"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			return []parity.OperandSpec{parity.Normal("x", shapesOf(c, "shapes").In, c.Kind("kind"))}, nil
		},
		Params: func(c parity.Case) device.Attrs {
			return device.Attrs{"shape": []int(shapesOf(c, "shapes").Out)}
		},
	}
}

// BroadcastLike broadcasts x to the shape of a like tensor, optionally inserting the listed axes.
func BroadcastLike() *parity.Suite {
	return &parity.Suite{
		Name:        "broadcast_like",
		Description: "broadcast_like with aligned shapes and explicit axes",
		Matrix: parity.NewMatrix().
			Add("shapes",
				shapes{In: tensor.Shape{3, 1, 1}, Out: tensor.Shape{3, 3, 3}},
				shapes{In: tensor.Shape{1, 1}, Out: tensor.Shape{1, 2, 3}},
				shapes{In: tensor.Shape{3, 1}, Out: tensor.Shape{2, 3, 4}},
				shapes{In: tensor.Shape{1, 5, 6}, Out: tensor.Shape{1, 5, 6, 1, 6}, Axes: []int{3, 4}},
				shapes{In: tensor.Shape{1, 3, 2}, Out: tensor.Shape{3, 3, 2}}),
		Op: op("broadcast_like"),
		Operands: func(c parity.Case) ([]parity.OperandSpec, error) {
			s := shapesOf(c, "shapes")
			return []parity.OperandSpec{
				parity.Normal("x", s.In, tensor.Float32),
				parity.Normal("like", s.Out, tensor.Float32),
			}, nil
		},
		Params: func(c parity.Case) device.Attrs {
			if axes := shapesOf(c, "shapes").Axes; len(axes) > 0 {
				return device.Attrs{"axes": axes}
			}
			return device.Attrs{}
		},
	}
}
