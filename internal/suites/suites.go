// Package suites is the catalog of parity suites, one per operator family checked against the
// reference device.
package suites

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/23skdu/longbow-parity/internal/ops"
	"github.com/23skdu/longbow-parity/internal/parity"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// ErrUnknownSuite is returned by Select for a name that is not in the catalog.
var ErrUnknownSuite = errors.New("unknown suite")

// All returns a fresh copy of every suite in catalog order.
func All() []*parity.Suite {
	return []*parity.Suite{
		Add(),
		ScalarAdd(),
		BatchMatmul(),
		DimGather(),
		GatherND(),
		IndexSelect(),
		Expand(),
		BroadcastLike(),
		MathOp(),
		ActivationBackward(),
		LogSoftmax(),
		NLLLoss(),
		UpsampleNearest2D(),
		BatchNormGrad(),
		L1L2RegularizeGradient(),
		SGDStep(),
		CountNotFinite(),
		ReduceSumPowAbs(),
		FusedBNRelu(),
	}
}

// Names lists the catalog in sorted order.
func Names() []string {
	all := All()
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = s.Name
	}
	sort.Strings(names)
	return names
}

// Select returns the named suites in the order given. No names selects the whole catalog.
func Select(names ...string) ([]*parity.Suite, error) {
	all := All()
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]*parity.Suite, len(all))
	for _, s := range all {
		byName[s.Name] = s
	}
	out := make([]*parity.Suite, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		s, ok := byName[n]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownSuite, "%q", n)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, s)
	}
	return out, nil
}

func op(name string) ops.Operation { return ops.Default().MustLookup(name) }

// selectByParam picks the operation named by parameter p of the case.
func selectByParam(p string) func(parity.Case) (ops.Operation, error) {
	return func(c parity.Case) (ops.Operation, error) {
		return ops.Default().Lookup(c.Str(p))
	}
}

// shapes is a parameter value carrying an input shape and the shape it is checked against.
type shapes struct {
	In, Out tensor.Shape
	Axes    []int
}

func (s shapes) String() string {
	if len(s.Axes) > 0 {
		return fmt.Sprintf("%v->%v%v", s.In, s.Out, s.Axes)
	}
	return fmt.Sprintf("%v->%v", s.In, s.Out)
}

func shapesOf(c parity.Case, name string) shapes {
	s, _ := c.Get(name).(shapes)
	return s
}
