package parity

import (
	"fmt"
	"iter"
	"strings"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

type param struct {
	name   string
	values []any
}

// Matrix maps parameter names to candidate values. Declaration order is enumeration order.
type Matrix struct {
	params []param
}

func NewMatrix() *Matrix {
	return &Matrix{}
}

// Add declares a parameter. Re-declaring a name replaces its values but keeps its position.
func (m *Matrix) Add(name string, values ...any) *Matrix {
	for i := range m.params {
		if m.params[i].name == name {
			m.params[i].values = values
			return m
		}
	}
	m.params = append(m.params, param{name: name, values: values})
	return m
}

// Names returns the parameter names in declaration order.
func (m *Matrix) Names() []string {
	names := make([]string, len(m.params))
	for i, p := range m.params {
		names[i] = p.name
	}
	return names
}

// Len returns the number of cases Enumerate yields.
func (m *Matrix) Len() int {
	n := 1
	for _, p := range m.params {
		n *= len(p.values)
	}
	return n
}

// Case is one combination of parameter values.
type Case struct {
	Index  int
	names  []string
	values []any
}

// Enumerate yields the cross product of the matrix, the last parameter varying fastest.
// It holds no state between calls: every iteration yields the same sequence.
func Enumerate(m *Matrix) iter.Seq[Case] {
	names := m.Names()
	lists := make([][]any, len(m.params))
	for i, p := range m.params {
		lists[i] = p.values
	}
	return func(yield func(Case) bool) {
		for _, l := range lists {
			if len(l) == 0 {
				return
			}
		}
		pos := make([]int, len(lists))
		for index := 0; ; index++ {
			values := make([]any, len(lists))
			for i, l := range lists {
				values[i] = l[pos[i]]
			}
			if !yield(Case{Index: index, names: names, values: values}) {
				return
			}
			i := len(pos) - 1
			for ; i >= 0; i-- {
				pos[i]++
				if pos[i] < len(lists[i]) {
					break
				}
				pos[i] = 0
			}
			if i < 0 {
				return
			}
		}
	}
}

// Cases collects Enumerate into a slice.
func Cases(m *Matrix) []Case {
	out := make([]Case, 0, m.Len())
	for c := range Enumerate(m) {
		out = append(out, c)
	}
	return out
}

// Get returns the value of a parameter, or nil if the matrix does not declare it.
func (c Case) Get(name string) any {
	for i, n := range c.names {
		if n == name {
			return c.values[i]
		}
	}
	return nil
}

func (c Case) Has(name string) bool {
	for _, n := range c.names {
		if n == name {
			return true
		}
	}
	return false
}

func (c Case) Int(name string) int {
	switch v := c.Get(name).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (c Case) Float(name string) float64 {
	switch v := c.Get(name).(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func (c Case) Str(name string) string {
	switch v := c.Get(name).(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return ""
}

func (c Case) Bool(name string) bool {
	v, _ := c.Get(name).(bool)
	return v
}

// Shape accepts tensor.Shape or []int values.
func (c Case) Shape(name string) tensor.Shape {
	switch v := c.Get(name).(type) {
	case tensor.Shape:
		return v.Clone()
	case []int:
		return tensor.Shape(v).Clone()
	}
	return nil
}

// Kind accepts tensor.Kind values or kind names.
func (c Case) Kind(name string) tensor.Kind {
	switch v := c.Get(name).(type) {
	case tensor.Kind:
		return v
	case string:
		k, _ := tensor.ParseKind(v)
		return k
	}
	return tensor.Invalid
}

// Params returns every parameter value formatted as a string.
func (c Case) Params() map[string]string {
	out := make(map[string]string, len(c.names))
	for i, n := range c.names {
		out[n] = formatValue(c.values[i])
	}
	return out
}

func (c Case) String() string {
	parts := make([]string, len(c.names))
	for i, n := range c.names {
		parts[i] = n + "=" + formatValue(c.values[i])
	}
	return fmt.Sprintf("#%d{%s}", c.Index, strings.Join(parts, ", "))
}

func formatValue(v any) string {
	switch x := v.(type) {
	case []int:
		return tensor.Shape(x).String()
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
