// Package ops names the operations the harness can exercise. An Operation is written once against
// device.Backend and runs unchanged on any backend; differentiable operations additionally
// implement Differentiable.
package ops

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/23skdu/longbow-parity/internal/device"
)

// Operation is a pure function from device tensors and scalar parameters to device tensors.
type Operation interface {
	Name() string
	Forward(ctx context.Context, b device.Backend, inputs []device.Tensor, params device.Attrs) ([]device.Tensor, error)
}

// Differentiable is implemented by operations with a backward pass.
type Differentiable interface {
	Operation

	// Backward returns one gradient per input, given the forward inputs and outputs and one
	// upstream gradient per output. Inputs that are not differentiable (indices, running
	// statistics) get a nil gradient.
	Backward(ctx context.Context, b device.Backend, inputs, outputs, upstream []device.Tensor, params device.Attrs) ([]device.Tensor, error)
}

// BackwardFunc is the signature of Differentiable.Backward.
type BackwardFunc func(ctx context.Context, b device.Backend, inputs, outputs, upstream []device.Tensor, params device.Attrs) ([]device.Tensor, error)

// kernelOp launches a single device kernel.
type kernelOp struct {
	name   string
	kernel string
}

// Kernel returns an operation that launches the device kernel of the same name.
func Kernel(name string) Operation {
	return &kernelOp{name: name, kernel: name}
}

func (o *kernelOp) Name() string { return o.name }

func (o *kernelOp) Forward(ctx context.Context, b device.Backend, inputs []device.Tensor, params device.Attrs) ([]device.Tensor, error) {
	return b.Launch(ctx, o.kernel, inputs, params)
}

type differentiableOp struct {
	Operation
	backward BackwardFunc
}

// WithBackward attaches a backward pass to op.
func WithBackward(op Operation, backward BackwardFunc) Differentiable {
	return &differentiableOp{Operation: op, backward: backward}
}

func (o *differentiableOp) Backward(ctx context.Context, b device.Backend, inputs, outputs, upstream []device.Tensor, params device.Attrs) ([]device.Tensor, error) {
	return o.backward(ctx, b, inputs, outputs, upstream, params)
}

// ErrUnknownOperation is returned by Lookup for unregistered names.
var ErrUnknownOperation = errors.New("unknown operation")

// Registry maps names to operations. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Operation)}
}

// Register adds op, replacing any operation of the same name.
func (r *Registry) Register(op Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op.Name()] = op
}

func (r *Registry) Lookup(name string) (Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownOperation, "%q", name)
	}
	return op, nil
}

// MustLookup is Lookup for names known to be registered.
func (r *Registry) MustLookup(name string) Operation {
	op, err := r.Lookup(name)
	if err != nil {
		panic(err)
	}
	return op
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for n := range r.ops {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry of built-in operations.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		for _, op := range builtins() {
			defaultRegistry.Register(op)
		}
	})
	return defaultRegistry
}
